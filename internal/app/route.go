package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/audiocore/tap"
	"github.com/tphakala/twinplay/internal/conf"
	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
	"github.com/tphakala/twinplay/internal/mqtt"
	"github.com/tphakala/twinplay/internal/observability"
	"github.com/tphakala/twinplay/internal/observability/metrics"
	"github.com/tphakala/twinplay/internal/privacy"
)

// ErrRoutingEnded is returned by Route when the session ends without an
// interrupt, typically because the primary device went away.
var ErrRoutingEnded = errors.NewStd("routing ended unexpectedly")

// RouteOptions are the per-invocation device choices of the route command
type RouteOptions struct {
	Primary   string
	Secondary string
	// TapPath enables the WAV tap at this path, overriding route.tap.
	TapPath string
}

// Route starts routing and blocks until ctx is canceled or the session ends
// on its own. The optional telemetry endpoint and MQTT status publisher live
// for the duration of the call.
func Route(ctx context.Context, settings *conf.Settings, platform audiocore.Platform, opts RouteOptions) error {
	log := GetLogger()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	routerOpts := []audiocore.RouterOption{
		audiocore.WithFramesPerBuffer(settings.Audio.FramesPerBuffer),
		audiocore.WithPollInterval(settings.Route.PollInterval),
		audiocore.WithStopTimeout(settings.Route.StopTimeout),
		audiocore.WithRateCache(audiocore.NewRateCache(settings.Route.RateCacheTTL)),
	}

	tapPath := opts.TapPath
	if tapPath == "" && settings.Route.Tap.Enabled {
		tapPath = settings.Route.Tap.Path
	}
	if tapPath != "" {
		routerOpts = append(routerOpts, audiocore.WithSinkFactory(tap.Factory(tapPath, settings.Route.Tap.QueueDepth)))
		log.Info("WAV tap enabled", logger.String("path", tapPath))
	}

	var m *observability.Metrics
	if settings.Telemetry.Enabled {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return err
		}
		routerOpts = append(routerOpts, audiocore.WithObserver(m.Router))
	}

	router, err := audiocore.NewRouter(platform, routerOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := router.Shutdown(); err != nil {
			log.Warn("router shutdown failed", logger.Error(err))
		}
	}()

	if m != nil {
		m.Router.Bind(router)
		endpoint, err := observability.NewEndpoint(settings, m)
		if err != nil {
			return err
		}
		if err := endpoint.Start(ctx, &wg); err != nil {
			return err
		}
	}

	if settings.MQTT.Enabled {
		publisher, err := startStatusPublisher(settings, m, router)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	var stopping atomic.Bool
	ended := make(chan struct{}, 1)
	unsubscribe := router.Subscribe(func(ev audiocore.StatusEvent) {
		if ev.State == audiocore.StateIdle && ev.Err == nil && !stopping.Load() {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	catalog, err := router.Catalog(ctx)
	if err != nil {
		return err
	}
	sel, err := SelectDevices(catalog, opts.Primary, opts.Secondary)
	if err != nil {
		return err
	}

	log.Info("starting route",
		logger.String("primary", sel.Primary.Name),
		logger.String("secondary", sel.Secondary.Name),
		logger.String("platform", platform.Name()))
	logSystemDetails(ctx)

	if err := router.Start(ctx, sel.Primary.ID, sel.Secondary.ID); err != nil {
		return err
	}

	var result error
	select {
	case <-ctx.Done():
	case <-ended:
		result = errors.New(ErrRoutingEnded).
			Component("app").
			Category(errors.CategoryAudioStream).
			DeviceContext(sel.Primary.ID, sel.Primary.Name).
			Build()
	}

	stopping.Store(true)
	router.Stop()

	totals := router.Totals()
	log.Info("route finished",
		logger.Uint64("frames", totals.Frames),
		logger.Uint64("bytes", totals.Bytes),
		logger.Uint64("write_failures", totals.WriteFailures),
		logger.Uint64("underruns", totals.Underruns),
		logger.Uint64("tap_dropped", totals.SinkDrops))

	return result
}

func startStatusPublisher(settings *conf.Settings, m *observability.Metrics, router *audiocore.Router) (*mqtt.StatusPublisher, error) {
	cfg := mqtt.ConfigFromSettings(settings)

	var mqttMetrics *metrics.MQTTMetrics
	if m != nil {
		mqttMetrics = m.MQTT
	}
	client, err := mqtt.NewClient(cfg, mqttMetrics)
	if err != nil {
		return nil, err
	}

	publisher := mqtt.NewStatusPublisher(client, cfg, mqtt.DefaultStatusQueueDepth)
	publisher.Attach(router)
	GetLogger().Info("publishing router status over MQTT",
		logger.String("broker", privacy.SanitizeBrokerURL(cfg.Broker)),
		logger.String("topic", publisher.Topic()),
		logger.Duration("publish_timeout", cfg.PublishTimeout.Round(time.Millisecond)))
	return publisher, nil
}

// logSystemDetails records the host OS for support reports. Failures are
// only logged at debug level.
func logSystemDetails(ctx context.Context) {
	log := GetLogger()
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		log.Debug("failed to read host info", logger.Error(err))
		return
	}
	log.Info("system details",
		logger.String("os", info.OS),
		logger.String("platform", info.Platform),
		logger.String("platform_version", info.PlatformVersion),
		logger.String("kernel", info.KernelVersion),
		logger.String("arch", info.KernelArch))
}
