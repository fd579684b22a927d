package audiocore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
)

// State is the routing pipeline lifecycle state
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionStats are the counters of a routing session
type SessionStats struct {
	Frames        uint64 `json:"frames"`
	Bytes         uint64 `json:"bytes"`
	WriteFailures uint64 `json:"write_failures"`
	Underruns     uint64 `json:"underruns"`
	SinkDrops     uint64 `json:"sink_drops"`
}

// Add returns the element-wise sum of two stats
func (s SessionStats) Add(o SessionStats) SessionStats {
	return SessionStats{
		Frames:        s.Frames + o.Frames,
		Bytes:         s.Bytes + o.Bytes,
		WriteFailures: s.WriteFailures + o.WriteFailures,
		Underruns:     s.Underruns + o.Underruns,
		SinkDrops:     s.SinkDrops + o.SinkDrops,
	}
}

// SessionInfo is a point-in-time snapshot of a routing session
type SessionInfo struct {
	ID        string             `json:"id"`
	Config    RouteConfiguration `json:"config"`
	StartedAt time.Time          `json:"started_at"`
	Stats     SessionStats       `json:"stats"`
}

type pipelineSettings struct {
	frames       uint32
	pollInterval time.Duration
	stopTimeout  time.Duration
}

// session is one live capture-to-render bridge. The worker goroutine owns
// stream opening and the poll loop; the platform's capture thread runs
// onCapture concurrently.
type session struct {
	id        string
	config    RouteConfiguration
	platform  Platform
	settings  pipelineSettings
	sinks     []FrameSink
	startedAt time.Time
	log       logger.Logger

	running atomic.Bool
	done    chan struct{}
	onExit  func(*session)

	// handles are guarded by mu; teardown may run from the caller while the
	// worker is still inside an open call.
	mu        sync.Mutex
	loopback  Stream
	primary   RenderStream // never opened, the primary already plays on its own
	secondary RenderStream
	closed    bool
	underruns uint64

	frames        atomic.Uint64
	bytes         atomic.Uint64
	writeFailures atomic.Uint64
	lastWriteErr  atomic.Value // writeFailure
	loggedFails   uint64
	failLog       *rate.Limiter
}

// writeFailureLogInterval is the minimum spacing of write failure warnings
const writeFailureLogInterval = time.Second

type writeFailure struct{ err error }

func newSession(platform Platform, cfg RouteConfiguration, settings pipelineSettings, sinks []FrameSink, onExit func(*session)) *session {
	id := uuid.NewString()
	return &session{
		id:        id,
		config:    cfg,
		platform:  platform,
		settings:  settings,
		sinks:     sinks,
		done:      make(chan struct{}),
		onExit:    onExit,
		failLog:   rate.NewLimiter(rate.Every(writeFailureLogInterval), 1),
		startedAt: time.Now(),
		log:       GetLogger().Module("pipeline").With(logger.String("session_id", id)),
	}
}

// start launches the worker and blocks until the streams are open or have
// failed to open. A device that hangs in open blocks start as well.
func (s *session) start() error {
	s.running.Store(true)
	opened := make(chan error, 1)
	go s.run(opened)
	return <-opened
}

func (s *session) run(opened chan<- error) {
	defer func() {
		s.teardown()
		close(s.done)
		if s.onExit != nil {
			s.onExit(s)
		}
	}()

	if err := s.open(); err != nil {
		s.running.Store(false)
		opened <- err
		return
	}
	opened <- nil

	s.log.Info("routing started",
		logger.String("loopback", s.config.Loopback.Name),
		logger.String("secondary", s.config.Secondary.Name),
		logger.String("format", s.config.Format.String()))

	ticker := time.NewTicker(s.settings.pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.reportWriteFailures()
		if !s.running.Load() {
			return
		}
		if !s.loopbackActive() {
			s.log.Warn("loopback capture stream is no longer active")
			s.running.Store(false)
			return
		}
	}
}

// open opens the secondary render stream, then the loopback capture stream,
// so the render side exists before buffers arrive.
func (s *session) open() error {
	cfg := s.config

	secondary, err := s.platform.OpenRender(cfg.Secondary, cfg.Format, s.settings.frames)
	if err != nil {
		return s.openError(cfg.Secondary, "render", err)
	}
	if !s.adopt(func() { s.secondary = secondary }) {
		_ = secondary.Close()
		return s.openError(cfg.Secondary, "render", errors.NewStd("session closed during open"))
	}
	if err := secondary.Start(); err != nil {
		return s.openError(cfg.Secondary, "render", err)
	}

	loopback, err := s.platform.OpenCapture(cfg.Loopback, cfg.Format, s.settings.frames, s.captureCallback(secondary))
	if err != nil {
		return s.openError(cfg.Loopback, "capture", err)
	}
	if !s.adopt(func() { s.loopback = loopback }) {
		_ = loopback.Close()
		return s.openError(cfg.Loopback, "capture", errors.NewStd("session closed during open"))
	}
	if err := loopback.Start(); err != nil {
		return s.openError(cfg.Loopback, "capture", err)
	}
	return nil
}

func (s *session) adopt(assign func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	assign()
	return true
}

func (s *session) openError(ep AudioEndpoint, side string, cause error) error {
	return errors.New(fmt.Errorf("%w: %s stream on %q: %w", ErrStreamOpenFailed, side, ep.Name, cause)).
		Component(componentAudioCore).
		Category(errors.CategoryAudioStream).
		DeviceContext(ep.ID, ep.Name).
		Context("stream", side).
		Context("format", s.config.Format.String()).
		Build()
}

// captureCallback runs on the platform's real-time thread. It must not
// block: the render write only enqueues, and failures are counted here and
// logged from the worker.
func (s *session) captureCallback(secondary RenderStream) CaptureCallback {
	return func(data []byte, frames uint32) {
		s.frames.Add(uint64(frames))
		s.bytes.Add(uint64(len(data)))

		for _, sink := range s.sinks {
			sink.Submit(data)
		}

		if !secondary.IsActive() {
			return
		}
		if err := secondary.Write(data); err != nil {
			s.writeFailures.Add(1)
			s.lastWriteErr.Store(writeFailure{err: err})
		}
	}
}

func (s *session) reportWriteFailures() {
	total := s.writeFailures.Load()
	if total == s.loggedFails || !s.failLog.Allow() {
		return
	}
	delta := total - s.loggedFails
	s.loggedFails = total

	var cause error = ErrStreamWriteFailed
	if wf, ok := s.lastWriteErr.Load().(writeFailure); ok && wf.err != nil {
		cause = errors.Join(ErrStreamWriteFailed, wf.err)
	}
	err := errors.New(cause).
		Component(componentAudioCore).
		Category(errors.CategoryAudioWrite).
		DeviceContext(s.config.Secondary.ID, s.config.Secondary.Name).
		Context("failed_buffers", delta).
		Build()
	s.log.Warn("render writes failed, capture continues",
		logger.Uint64("failed_buffers", delta),
		logger.Uint64("total", total),
		logger.Error(err))
}

func (s *session) loopbackActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopback != nil && s.loopback.IsActive()
}

// stop clears the run flag and waits up to the stop timeout for the worker.
// A timeout is logged, never returned.
func (s *session) stop() {
	s.running.Store(false)
	timer := time.NewTimer(s.settings.stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		err := errors.New(ErrStopTimeout).
			Component(componentAudioCore).
			Category(errors.CategoryTimeout).
			Timing("stop", s.settings.stopTimeout).
			Build()
		s.log.Warn("routing worker did not stop in time, forcing teardown", logger.Error(err))
		s.teardown()
	}
}

// teardown closes loopback, primary and secondary in that order. Each close
// is independent of the others.
func (s *session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if s.loopback != nil {
		if err := s.loopback.Close(); err != nil {
			s.log.Warn("closing loopback stream failed", logger.Error(err))
		}
		s.loopback = nil
	}
	if s.primary != nil {
		if err := s.primary.Close(); err != nil {
			s.log.Warn("closing primary stream failed", logger.Error(err))
		}
		s.primary = nil
	}
	if s.secondary != nil {
		s.underruns = s.secondary.Underruns()
		if err := s.secondary.Close(); err != nil {
			s.log.Warn("closing secondary stream failed", logger.Error(err))
		}
		s.secondary = nil
	}
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.log.Warn("closing frame sink failed", logger.Error(err))
		}
	}
}

func (s *session) stats() SessionStats {
	st := SessionStats{
		Frames:        s.frames.Load(),
		Bytes:         s.bytes.Load(),
		WriteFailures: s.writeFailures.Load(),
	}
	s.mu.Lock()
	st.Underruns = s.underruns
	if s.secondary != nil {
		st.Underruns = s.secondary.Underruns()
	}
	s.mu.Unlock()
	for _, sink := range s.sinks {
		if d, ok := sink.(interface{ Dropped() uint64 }); ok {
			st.SinkDrops += d.Dropped()
		}
	}
	return st
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Config:    s.config,
		StartedAt: s.startedAt,
		Stats:     s.stats(),
	}
}
