package audiocore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
)

// Status strings reported to UI and CLI consumers
const (
	StatusStarting = "Starting…"
	StatusRunning  = "Routing audio…"
	StatusStopped  = "Stopped"
	StatusError    = "Error"
)

// Default pipeline timings
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
)

// StatusEvent is delivered to subscribers on every lifecycle transition
type StatusEvent struct {
	Status  string
	State   State
	Session *SessionInfo
	Err     error
	Time    time.Time
}

// Observer receives routing measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	NegotiationCompleted(d time.Duration, err error)
	SessionEnded(info SessionInfo, err error)
}

// SinkFactory creates per-session frame sinks once the format is known
type SinkFactory func(cfg RouteConfiguration) (FrameSink, error)

// RouterOption configures a Router
type RouterOption func(*Router)

// WithFramesPerBuffer sets the stream period in frames
func WithFramesPerBuffer(frames uint32) RouterOption {
	return func(r *Router) {
		if frames > 0 {
			r.settings.frames = frames
		}
	}
}

// WithPollInterval sets how often the worker checks the run flag
func WithPollInterval(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.settings.pollInterval = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the worker
func WithStopTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.settings.stopTimeout = d
		}
	}
}

// WithRateCache shares a supported-rate cache with the router
func WithRateCache(rc *RateCache) RouterOption {
	return func(r *Router) { r.rates = rc }
}

// WithSinkFactory adds a frame sink to every session
func WithSinkFactory(f SinkFactory) RouterOption {
	return func(r *Router) { r.sinkFactories = append(r.sinkFactories, f) }
}

// WithObserver registers a measurement observer
func WithObserver(o Observer) RouterOption {
	return func(r *Router) { r.observers = append(r.observers, o) }
}

// Router is the start/stop surface over the routing pipeline. At most one
// session is active at a time.
type Router struct {
	platform      Platform
	settings      pipelineSettings
	rates         *RateCache
	sinkFactories []SinkFactory
	observers     []Observer
	log           logger.Logger

	// opMu serializes Start, Stop and Shutdown.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	current  *session
	lastErr  error
	totals   SessionStats
	catalog  *Catalog
	released bool

	listenersMu sync.Mutex
	listeners   map[int]func(StatusEvent)
	nextID      int
}

// NewRouter creates a router that owns one reference to platform. The
// reference is dropped by Shutdown.
func NewRouter(platform Platform, opts ...RouterOption) (*Router, error) {
	if err := platform.Acquire(); err != nil {
		return nil, err
	}
	r := &Router{
		platform: platform,
		settings: pipelineSettings{
			frames:       DefaultFramesPerBuffer,
			pollInterval: DefaultPollInterval,
			stopTimeout:  DefaultStopTimeout,
		},
		log:       GetLogger().Module("router"),
		listeners: make(map[int]func(StatusEvent)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Catalog returns the endpoint catalog, enumerating the platform on first use
func (r *Router) Catalog(ctx context.Context) (*Catalog, error) {
	r.mu.Lock()
	c, released := r.catalog, r.released
	r.mu.Unlock()
	if released {
		return nil, stateError(ErrContextReleased, "catalog")
	}
	if c != nil {
		return c, nil
	}
	return r.RefreshCatalog(ctx)
}

// RefreshCatalog re-enumerates platform endpoints
func (r *Router) RefreshCatalog(ctx context.Context) (*Catalog, error) {
	endpoints, err := r.platform.Endpoints(ctx)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrDeviceInfoUnavailable, err)).
			Component(componentAudioCore).
			Category(errors.CategoryAudioDevice).
			Context("operation", "enumerate").
			Build()
	}
	c := NewCatalog(endpoints)
	r.mu.Lock()
	r.catalog = c
	r.mu.Unlock()
	r.rates.Flush()
	return c, nil
}

// Start begins routing the primary's loopback to the secondary. It returns
// once both streams are open. Calling Start while a session is active is a
// no-op.
func (r *Router) Start(ctx context.Context, primaryID, secondaryID string) error {
	if primaryID == secondaryID {
		return errors.New(fmt.Errorf("%w: %q", ErrSameDevice, primaryID)).
			Component(componentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return stateError(ErrContextReleased, "start")
	}
	if r.current != nil {
		state := r.state
		r.mu.Unlock()
		r.log.Debug("start ignored, session already active", logger.String("state", state.String()))
		return nil
	}
	r.mu.Unlock()

	cfg, err := r.prepare(ctx, primaryID, secondaryID)
	if err != nil {
		r.fail(nil, err)
		return err
	}

	sinks := r.createSinks(cfg)
	s := newSession(r.platform, cfg, r.settings, sinks, r.onSessionExit)

	r.mu.Lock()
	r.state = StateStarting
	r.current = s
	r.lastErr = nil
	r.mu.Unlock()
	r.emit(StateStarting, StatusStarting, s, nil)

	if err := s.start(); err != nil {
		r.fail(s, err)
		return err
	}

	r.mu.Lock()
	select {
	case <-s.done:
		// The capture stream died between open and now.
		r.retireLocked(s)
		r.state = StateIdle
		r.mu.Unlock()
		r.emit(StateIdle, StatusStopped, s, nil)
		return nil
	default:
	}
	r.state = StateRunning
	r.mu.Unlock()
	r.emit(StateRunning, StatusRunning, s, nil)
	return nil
}

// prepare performs every pre-flight step that does not touch a stream
func (r *Router) prepare(ctx context.Context, primaryID, secondaryID string) (RouteConfiguration, error) {
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return RouteConfiguration{}, err
	}
	primary, err := catalog.Lookup(primaryID)
	if err != nil {
		return RouteConfiguration{}, err
	}
	secondary, err := catalog.Lookup(secondaryID)
	if err != nil {
		return RouteConfiguration{}, err
	}
	loopback, err := ResolveLoopback(catalog, primary)
	if err != nil {
		return RouteConfiguration{}, err
	}

	begin := time.Now()
	cfg, err := NewNegotiator(r.platform, r.rates).Negotiate(ctx, primary, loopback, secondary)
	elapsed := time.Since(begin)
	for _, o := range r.observers {
		o.NegotiationCompleted(elapsed, err)
	}
	if err != nil {
		return RouteConfiguration{}, err
	}

	r.log.Info("route negotiated",
		logger.String("primary", primary.Name),
		logger.String("loopback", loopback.Name),
		logger.String("secondary", secondary.Name),
		logger.String("format", cfg.Format.String()),
		logger.Duration("negotiation", elapsed))
	return cfg, nil
}

func (r *Router) createSinks(cfg RouteConfiguration) []FrameSink {
	sinks := make([]FrameSink, 0, len(r.sinkFactories))
	for _, factory := range r.sinkFactories {
		sink, err := factory(cfg)
		if err != nil {
			r.log.Warn("frame sink unavailable, routing without it", logger.Error(err))
			continue
		}
		sinks = append(sinks, sink)
	}
	return sinks
}

// fail records a failed start: Failed is reported, then the router returns
// to Idle with lastErr set.
func (r *Router) fail(s *session, err error) {
	r.log.Error("failed to start routing", logger.Error(err))

	r.mu.Lock()
	r.state = StateFailed
	r.lastErr = err
	if s != nil {
		r.retireLocked(s)
	}
	r.mu.Unlock()
	r.emit(StateFailed, StatusError, s, err)

	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()

	var info SessionInfo
	if s != nil {
		info = s.info()
	}
	for _, o := range r.observers {
		o.SessionEnded(info, err)
	}
}

// retireLocked detaches s and folds its counters into the totals. r.mu must
// be held.
func (r *Router) retireLocked(s *session) {
	if r.current != s {
		return
	}
	r.totals = r.totals.Add(s.stats())
	r.current = nil
}

// onSessionExit runs on the worker after it finishes. Only an unexpected
// exit from Running is handled here; Stop and Start handle their own.
func (r *Router) onSessionExit(s *session) {
	r.mu.Lock()
	if r.current != s || r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.retireLocked(s)
	r.state = StateIdle
	r.mu.Unlock()

	r.log.Warn("routing ended without a stop request", logger.String("session_id", s.id))
	r.emit(StateIdle, StatusStopped, s, nil)
	info := s.info()
	for _, o := range r.observers {
		o.SessionEnded(info, nil)
	}
}

// Stop ends the active session. It is a no-op when idle.
func (r *Router) Stop() {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.stopLocked()
}

func (r *Router) stopLocked() {
	r.mu.Lock()
	s := r.current
	if s == nil || r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateStopping
	r.mu.Unlock()

	r.log.Info("stopping routing", logger.String("session_id", s.id))
	s.stop()

	r.mu.Lock()
	r.retireLocked(s)
	r.state = StateIdle
	r.mu.Unlock()

	info := s.info()
	r.log.Info("routing stopped",
		logger.String("session_id", s.id),
		logger.Uint64("frames", info.Stats.Frames),
		logger.Uint64("write_failures", info.Stats.WriteFailures),
		logger.Duration("uptime", time.Since(info.StartedAt)))
	r.emit(StateIdle, StatusStopped, s, nil)
	for _, o := range r.observers {
		o.SessionEnded(info, nil)
	}
}

// Shutdown stops routing and releases the platform context. Calling it again
// is a no-op.
func (r *Router) Shutdown() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stopLocked()

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.catalog = nil
	r.mu.Unlock()

	if err := r.platform.Release(); err != nil {
		return errors.New(err).
			Component(componentAudioCore).
			Category(errors.CategoryAudioContext).
			Context("operation", "shutdown").
			Build()
	}
	return nil
}

// State returns the current lifecycle state
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns the user-facing status text
func (r *Router) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return statusText(r.state, r.lastErr)
}

func statusText(state State, lastErr error) string {
	switch state {
	case StateStarting:
		return StatusStarting
	case StateRunning:
		return StatusRunning
	case StateFailed:
		return StatusError
	default:
		if lastErr != nil {
			return StatusError
		}
		return StatusStopped
	}
}

// LastError returns the error of the most recent failed start, if any
func (r *Router) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Session returns a snapshot of the active session
func (r *Router) Session() (SessionInfo, bool) {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()
	if s == nil {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Totals returns counters summed over every session, including the active one
func (r *Router) Totals() SessionStats {
	r.mu.Lock()
	totals, s := r.totals, r.current
	r.mu.Unlock()
	if s != nil {
		totals = totals.Add(s.stats())
	}
	return totals
}

// Subscribe registers fn for status events and returns a function that
// removes it. fn runs synchronously on the goroutine causing the transition
// and must not call Start, Stop or Shutdown.
func (r *Router) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Router) emit(state State, status string, s *session, err error) {
	ev := StatusEvent{Status: status, State: state, Err: err, Time: time.Now()}
	if s != nil {
		info := s.info()
		ev.Session = &info
	}

	r.listenersMu.Lock()
	fns := make([]func(StatusEvent), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
