package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/twinplay/internal/conf"
	"github.com/tphakala/twinplay/internal/logger"
)

const (
	// ShutdownTimeout bounds the graceful shutdown of the HTTP server
	ShutdownTimeout = 5 * time.Second

	readHeaderTimeout = 5 * time.Second
)

// ErrTelemetryDisabled is returned by NewEndpoint when telemetry is off
var ErrTelemetryDisabled = errors.New("telemetry not enabled in settings")

// Endpoint serves the Prometheus registry on the configured address.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics

	mu   sync.Mutex
	addr net.Addr
}

// NewEndpoint creates a telemetry endpoint. It returns ErrTelemetryDisabled
// when telemetry is switched off in settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, ErrTelemetryDisabled
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       metrics,
	}, nil
}

// Start binds the listen address and serves until ctx is canceled. The bind
// happens synchronously so address conflicts surface as an error here.
func (e *Endpoint) Start(ctx context.Context, wg *sync.WaitGroup) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("telemetry listen on %s: %w", e.listenAddress, err)
	}
	e.mu.Lock()
	e.addr = ln.Addr()
	e.mu.Unlock()

	log := GetLogger()
	wg.Go(func() {
		log.Info("telemetry endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("telemetry HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		<-ctx.Done()
		e.shutdown()
	})

	return nil
}

func (e *Endpoint) shutdown() {
	log := GetLogger()
	log.Info("stopping telemetry server")
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("telemetry server shutdown error", logger.Error(err))
	}
}

// Addr returns the bound address, or nil before Start
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
