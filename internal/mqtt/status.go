package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/logger"
)

// DefaultStatusQueueDepth bounds the pending status messages
const DefaultStatusQueueDepth = 16

// StatusSource is the subscription side of *audiocore.Router
type StatusSource interface {
	Subscribe(fn func(audiocore.StatusEvent)) (unsubscribe func())
}

// StatusPublisher forwards router status events to <topic>/status. Events
// are queued without blocking the router and published from a single
// goroutine, so a slow or absent broker never delays routing.
type StatusPublisher struct {
	client Client
	topic  string
	log    logger.Logger

	mu          sync.RWMutex
	closed      bool
	queue       chan StatusMessage
	unsubscribe func()

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewStatusPublisher starts the publish loop and a background connect loop
// that retries with exponential backoff until the broker is reached.
func NewStatusPublisher(client Client, cfg Config, depth int) *StatusPublisher {
	if depth <= 0 {
		depth = DefaultStatusQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &StatusPublisher{
		client: client,
		topic:  cfg.Topic + "/status",
		log:    GetLogger().With(logger.String("topic", cfg.Topic+"/status")),
		queue:  make(chan StatusMessage, depth),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Go(func() { p.connectLoop(cfg.ReconnectCooldown, cfg.MaxReconnectDelay) })
	p.wg.Go(func() { p.run(cfg.PublishTimeout) })
	return p
}

// Attach subscribes the publisher to source. Close unsubscribes.
func (p *StatusPublisher) Attach(source StatusSource) {
	unsubscribe := source.Subscribe(p.Handle)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		unsubscribe()
		return
	}
	p.unsubscribe = unsubscribe
}

// Handle enqueues ev. It never blocks; a full queue drops the event.
func (p *StatusPublisher) Handle(ev audiocore.StatusEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- NewStatusMessage(ev):
	default:
		p.dropped.Add(1)
	}
}

func (p *StatusPublisher) connectLoop(initial, maxDelay time.Duration) {
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}

	backoff := initial
	for {
		err := p.client.Connect(p.ctx)
		if err == nil {
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		p.log.Warn("failed to connect to MQTT broker, status publishing paused",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxDelay)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *StatusPublisher) run(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	for msg := range p.queue {
		p.publish(msg, timeout)
	}
}

func (p *StatusPublisher) publish(msg StatusMessage, timeout time.Duration) {
	if !p.client.IsConnected() {
		p.dropped.Add(1)
		p.log.Debug("broker not connected, status dropped", logger.String("status", msg.Status))
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("failed to encode status message", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.topic, string(payload)); err != nil {
		p.dropped.Add(1)
		p.log.Warn("failed to publish status", logger.Error(err))
		return
	}
	p.sent.Add(1)
}

// Close unsubscribes, publishes what is already queued and disconnects.
// It is safe to call more than once.
func (p *StatusPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	unsubscribe := p.unsubscribe
	close(p.queue)
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	p.cancel()
	p.wg.Wait()
	p.client.Disconnect()
}

// Topic returns the status topic
func (p *StatusPublisher) Topic() string { return p.topic }

// Sent returns the number of published messages
func (p *StatusPublisher) Sent() uint64 { return p.sent.Load() }

// Dropped returns the number of events that were not published
func (p *StatusPublisher) Dropped() uint64 { return p.dropped.Load() }
