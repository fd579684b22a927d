package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/twinplay/internal/audiocore"
)

const (
	namespace = "twinplay"

	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultOK        = "ok"
	ResultError     = "error"
)

// StatsSource exposes live router counters. *audiocore.Router satisfies it.
type StatsSource interface {
	Totals() audiocore.SessionStats
	State() audiocore.State
}

// RouterMetrics collects routing counters. Frame, byte, failure, underrun
// and tap-drop totals are read from the bound StatsSource at scrape time so
// the capture callback never touches Prometheus.
type RouterMetrics struct {
	SessionsTotal       *prometheus.CounterVec
	NegotiationDuration *prometheus.HistogramVec

	framesDesc    *prometheus.Desc
	bytesDesc     *prometheus.Desc
	failuresDesc  *prometheus.Desc
	underrunsDesc *prometheus.Desc
	stateDesc     *prometheus.Desc
	tapDropsDesc  *prometheus.Desc

	mu     sync.RWMutex
	source StatsSource
}

var _ audiocore.Observer = (*RouterMetrics)(nil)

// NewRouterMetrics creates the router collector and registers it
func NewRouterMetrics(registry *prometheus.Registry) (*RouterMetrics, error) {
	m := &RouterMetrics{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "sessions_total",
			Help:      "Routing sessions ended, by result",
		}, []string{"result"}),
		NegotiationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Time spent probing devices and selecting a stream format",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"result"}),
		framesDesc: prometheus.NewDesc("twinplay_router_frames_total",
			"Frames delivered by the loopback capture callback", nil, nil),
		bytesDesc: prometheus.NewDesc("twinplay_router_bytes_total",
			"Bytes delivered by the loopback capture callback", nil, nil),
		failuresDesc: prometheus.NewDesc("twinplay_router_write_failures_total",
			"Capture buffers that could not be queued for the secondary device", nil, nil),
		underrunsDesc: prometheus.NewDesc("twinplay_router_underruns_total",
			"Render periods padded with silence on the secondary device", nil, nil),
		stateDesc: prometheus.NewDesc("twinplay_router_state",
			"Router lifecycle state (0 idle, 1 starting, 2 running, 3 stopping, 4 failed)", nil, nil),
		tapDropsDesc: prometheus.NewDesc("twinplay_tap_dropped_total",
			"Buffers dropped by the WAV tap", nil, nil),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register router metrics: %w", err)
	}
	return m, nil
}

// Bind attaches the live counter source
func (m *RouterMetrics) Bind(source StatsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

// NegotiationCompleted implements audiocore.Observer
func (m *RouterMetrics) NegotiationCompleted(d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.NegotiationDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SessionEnded implements audiocore.Observer
func (m *RouterMetrics) SessionEnded(_ audiocore.SessionInfo, err error) {
	result := ResultCompleted
	if err != nil {
		result = ResultFailed
	}
	m.SessionsTotal.WithLabelValues(result).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *RouterMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SessionsTotal.Describe(ch)
	m.NegotiationDuration.Describe(ch)
	ch <- m.framesDesc
	ch <- m.bytesDesc
	ch <- m.failuresDesc
	ch <- m.underrunsDesc
	ch <- m.stateDesc
	ch <- m.tapDropsDesc
}

// Collect implements the prometheus.Collector interface.
func (m *RouterMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SessionsTotal.Collect(ch)
	m.NegotiationDuration.Collect(ch)

	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()

	var totals audiocore.SessionStats
	state := audiocore.StateIdle
	if source != nil {
		totals = source.Totals()
		state = source.State()
	}

	ch <- prometheus.MustNewConstMetric(m.framesDesc, prometheus.CounterValue, float64(totals.Frames))
	ch <- prometheus.MustNewConstMetric(m.bytesDesc, prometheus.CounterValue, float64(totals.Bytes))
	ch <- prometheus.MustNewConstMetric(m.failuresDesc, prometheus.CounterValue, float64(totals.WriteFailures))
	ch <- prometheus.MustNewConstMetric(m.underrunsDesc, prometheus.CounterValue, float64(totals.Underruns))
	ch <- prometheus.MustNewConstMetric(m.stateDesc, prometheus.GaugeValue, float64(state))
	ch <- prometheus.MustNewConstMetric(m.tapDropsDesc, prometheus.CounterValue, float64(totals.SinkDrops))
}
