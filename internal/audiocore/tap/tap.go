// Package tap records the routed stream to a WAV file for debugging.
package tap

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
)

const (
	// DefaultQueueDepth is the number of capture buffers the tap can hold
	DefaultQueueDepth = 64

	wavPCMFormat = 1
	filePerm     = 0o644
	dirPerm      = 0o755
)

// GetLogger returns the tap module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("tap")
}

// Tap is an audiocore.FrameSink writing 16-bit PCM to a WAV file. Submit
// copies the buffer into a bounded queue and never blocks; a single writer
// goroutine drains the queue into the encoder.
type Tap struct {
	path   string
	format audiocore.StreamFormat
	log    logger.Logger

	// mu guards queue closure. Submit only ever TryRLocks it.
	mu     sync.RWMutex
	closed bool
	queue  chan []byte
	pool   sync.Pool
	done   chan struct{}

	file *os.File
	enc  *wav.Encoder
	err  error

	dropped atomic.Uint64
	frames  atomic.Uint64
}

// New creates the WAV file at path and starts the writer
func New(path string, format audiocore.StreamFormat, queueDepth int) (*Tap, error) {
	if format.Format != audiocore.FormatS16 {
		return nil, tapError(fmt.Errorf("unsupported sample format %s", format.Format), path, "validate")
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, tapError(err, path, "create_dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, filePerm) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, tapError(err, path, "create_file")
	}

	t := &Tap{
		path:   path,
		format: format,
		log:    GetLogger().With(logger.String("path", path)),
		queue:  make(chan []byte, queueDepth),
		done:   make(chan struct{}),
		file:   f,
		enc:    wav.NewEncoder(f, int(format.SampleRate), format.BitDepth(), int(format.Channels), wavPCMFormat),
	}
	go t.run()

	t.log.Info("recording routed audio", logger.String("format", format.String()))
	return t, nil
}

func tapError(err error, path, op string) error {
	return errors.New(err).
		Component("tap").
		Category(errors.CategoryAudioTap).
		Context("path", path).
		Context("operation", op).
		Build()
}

// Submit queues a copy of data. It drops the buffer when the queue is full
// or the tap is closing.
func (t *Tap) Submit(data []byte) {
	if !t.mu.TryRLock() {
		t.dropped.Add(1)
		return
	}
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	buf := t.getBuffer(len(data))
	copy(buf, data)
	select {
	case t.queue <- buf:
	default:
		t.pool.Put(&buf)
		t.dropped.Add(1)
	}
}

func (t *Tap) getBuffer(size int) []byte {
	if p, ok := t.pool.Get().(*[]byte); ok && cap(*p) >= size {
		return (*p)[:size]
	}
	return make([]byte, size)
}

func (t *Tap) run() {
	defer close(t.done)

	channels := int(t.format.Channels)
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: int(t.format.SampleRate)},
		SourceBitDepth: t.format.BitDepth(),
	}
	for buf := range t.queue {
		if t.err == nil {
			ib.Data = decodeS16(ib.Data[:0], buf)
			if err := t.enc.Write(ib); err != nil {
				t.err = tapError(err, t.path, "write")
				t.log.Error("wav write failed, discarding further audio", logger.Error(t.err))
			} else if channels > 0 {
				t.frames.Add(uint64(len(ib.Data) / channels))
			}
		}
		t.pool.Put(&buf)
	}
}

// decodeS16 appends little-endian 16-bit samples from b to dst
func decodeS16(dst []int, b []byte) []int {
	for i := 0; i+1 < len(b); i += 2 {
		dst = append(dst, int(int16(binary.LittleEndian.Uint16(b[i:]))))
	}
	return dst
}

// Close drains the queue, finalizes the WAV header and closes the file
func (t *Tap) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	<-t.done

	errs := []error{t.err}
	if err := t.enc.Close(); err != nil {
		errs = append(errs, tapError(err, t.path, "finalize"))
	}
	if err := t.file.Close(); err != nil {
		errs = append(errs, tapError(err, t.path, "close"))
	}

	t.log.Info("recording finished",
		logger.Uint64("frames", t.frames.Load()),
		logger.Uint64("dropped_buffers", t.dropped.Load()))
	return errors.Join(errs...)
}

// Dropped returns the number of buffers that did not fit in the queue
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}

// Frames returns the number of frames written to the file
func (t *Tap) Frames() uint64 {
	return t.frames.Load()
}

// Path returns the WAV file path
func (t *Tap) Path() string {
	return t.path
}

// Factory returns a SinkFactory creating one tap per routing session. A
// path ending in .wav is reused for every session; anything else is a
// directory that receives timestamped files.
func Factory(path string, queueDepth int) audiocore.SinkFactory {
	return func(cfg audiocore.RouteConfiguration) (audiocore.FrameSink, error) {
		return New(sessionPath(path, time.Now()), cfg.Format, queueDepth)
	}
}

func sessionPath(path string, now time.Time) string {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return path
	}
	return filepath.Join(path, "twinplay-"+now.Format("20060102-150405")+".wav")
}
