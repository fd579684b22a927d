package malgo

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
)

var (
	ErrRenderInactive    = errors.NewStd("render stream is not active")
	ErrRenderQueueFull   = errors.NewStd("render queue full, buffer dropped")
	ErrWrongDirection    = errors.NewStd("endpoint does not support the requested direction")
	ErrUnsupportedFormat = errors.NewStd("unsupported sample format")
)

func sampleFormat(f audiocore.SampleFormat) (malgo.FormatType, error) {
	if f == audiocore.FormatS16 {
		return malgo.FormatS16, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
}

// deviceConfig builds the miniaudio configuration for one stream. ref must
// outlive the InitDevice call since the config points into it.
func deviceConfig(ref *deviceRef, dir audiocore.Direction, format audiocore.StreamFormat, frames uint32) (malgo.DeviceConfig, error) {
	sf, err := sampleFormat(format.Format)
	if err != nil {
		return malgo.DeviceConfig{}, err
	}

	var cfg malgo.DeviceConfig
	switch {
	case dir == audiocore.DirectionRender && ref.typ == malgo.Playback:
		cfg = malgo.DefaultDeviceConfig(malgo.Playback)
		cfg.Playback.Format = sf
		cfg.Playback.Channels = format.Channels
		cfg.Playback.DeviceID = ref.id.Pointer()
	case dir == audiocore.DirectionCapture && (ref.typ == malgo.Capture || ref.typ == malgo.Loopback):
		cfg = malgo.DefaultDeviceConfig(ref.typ)
		cfg.Capture.Format = sf
		cfg.Capture.Channels = format.Channels
		// For loopback the capture ID names the render device to mirror.
		cfg.Capture.DeviceID = ref.id.Pointer()
	default:
		return malgo.DeviceConfig{}, fmt.Errorf("%w: %s", ErrWrongDirection, dir)
	}
	cfg.SampleRate = format.SampleRate
	cfg.PeriodSizeInFrames = frames
	cfg.Alsa.NoMMap = 1
	return cfg, nil
}

func (p *Platform) streamError(err error, ep audiocore.AudioEndpoint, op string, format audiocore.StreamFormat) error {
	return errors.New(err).
		Component(componentMalgo).
		Category(errors.CategoryAudioStream).
		DeviceContext(ep.ID, ep.Name).
		Context("operation", op).
		Context("format", format.String()).
		Build()
}

// Probe initializes and immediately releases a device without starting it
func (p *Platform) Probe(ep audiocore.AudioEndpoint, dir audiocore.Direction, format audiocore.StreamFormat, frames uint32) error {
	mctx, ref, err := p.lookup(ep)
	if err != nil {
		return err
	}
	cfg, err := deviceConfig(&ref, dir, format, frames)
	if err != nil {
		return p.streamError(err, ep, "probe", format)
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return p.streamError(err, ep, "probe", format)
	}
	device.Uninit()
	return nil
}

// OpenRender opens a playback stream fed through a bounded ring buffer
func (p *Platform) OpenRender(ep audiocore.AudioEndpoint, format audiocore.StreamFormat, frames uint32) (audiocore.RenderStream, error) {
	mctx, ref, err := p.lookup(ep)
	if err != nil {
		return nil, err
	}
	cfg, err := deviceConfig(&ref, audiocore.DirectionRender, format, frames)
	if err != nil {
		return nil, p.streamError(err, ep, "open_render", format)
	}

	r := &renderStream{
		deviceStream: deviceStream{name: ep.Name},
		rb:           ringbuffer.New(int(frames) * format.BytesPerFrame() * p.ring),
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: r.onData,
		Stop: r.onStop,
	})
	if err != nil {
		return nil, p.streamError(err, ep, "open_render", format)
	}
	r.device = device

	p.log.Debug("render stream opened",
		logger.String("device", ep.Name),
		logger.String("format", format.String()),
		logger.Int("queue_bytes", r.rb.Capacity()))
	return r, nil
}

// OpenCapture opens a capture or loopback stream delivering buffers to cb
func (p *Platform) OpenCapture(ep audiocore.AudioEndpoint, format audiocore.StreamFormat, frames uint32, cb audiocore.CaptureCallback) (audiocore.Stream, error) {
	mctx, ref, err := p.lookup(ep)
	if err != nil {
		return nil, err
	}
	cfg, err := deviceConfig(&ref, audiocore.DirectionCapture, format, frames)
	if err != nil {
		return nil, p.streamError(err, ep, "open_capture", format)
	}

	c := &captureStream{deviceStream: deviceStream{name: ep.Name}, cb: cb}
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		return nil, p.streamError(err, ep, "open_capture", format)
	}
	c.device = device

	p.log.Debug("capture stream opened",
		logger.String("device", ep.Name),
		logger.Bool("loopback", ref.loopback),
		logger.String("format", format.String()))
	return c, nil
}

// deviceStream holds the lifecycle shared by capture and render streams
type deviceStream struct {
	name      string
	device    *malgo.Device
	active    atomic.Bool
	closeOnce sync.Once
}

func (s *deviceStream) Start() error {
	if err := s.device.Start(); err != nil {
		return errors.New(err).
			Component(componentMalgo).
			Category(errors.CategoryAudioStream).
			Context("device", s.name).
			Context("operation", "start_device").
			Build()
	}
	s.active.Store(true)
	return nil
}

func (s *deviceStream) IsActive() bool {
	return s.active.Load()
}

// onStop fires on the audio thread whenever the device stops, including
// when a device disappears.
func (s *deviceStream) onStop() {
	s.active.Store(false)
}

func (s *deviceStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.active.Store(false)
		if stopErr := s.device.Stop(); stopErr != nil {
			err = errors.New(stopErr).
				Component(componentMalgo).
				Category(errors.CategoryAudioStream).
				Context("device", s.name).
				Context("operation", "stop_device").
				Build()
		}
		s.device.Uninit()
	})
	return err
}

type captureStream struct {
	deviceStream
	cb audiocore.CaptureCallback
}

func (c *captureStream) onData(_, input []byte, frames uint32) {
	if len(input) == 0 {
		return
	}
	c.cb(input, frames)
}

// renderStream is pulled by miniaudio. Write is the producer side and never
// blocks; onData is the consumer and pads shortfalls with silence.
type renderStream struct {
	deviceStream
	rb        *ringbuffer.RingBuffer
	primed    atomic.Bool
	underruns atomic.Uint64
}

func (r *renderStream) Write(p []byte) error {
	if !r.active.Load() {
		return ErrRenderInactive
	}
	if r.rb.Free() < len(p) {
		return ErrRenderQueueFull
	}
	if _, err := r.rb.Write(p); err != nil {
		return err
	}
	r.primed.Store(true)
	return nil
}

func (r *renderStream) onData(output, _ []byte, _ uint32) {
	n, _ := r.rb.Read(output)
	if n < len(output) {
		clear(output[n:])
		if r.primed.Load() {
			r.underruns.Add(1)
		}
	}
}

func (r *renderStream) Underruns() uint64 {
	return r.underruns.Load()
}
