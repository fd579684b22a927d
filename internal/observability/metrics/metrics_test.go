package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twinplay/internal/audiocore"
)

type staticSource struct {
	totals audiocore.SessionStats
	state  audiocore.State
}

func (s staticSource) Totals() audiocore.SessionStats { return s.totals }
func (s staticSource) State() audiocore.State         { return s.state }

func TestRouterMetrics_ReadsSourceAtScrape(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewRouterMetrics(registry)
	require.NoError(t, err)

	m.Bind(staticSource{
		totals: audiocore.SessionStats{Frames: 2048, Bytes: 8192, WriteFailures: 3, Underruns: 1, SinkDrops: 5},
		state:  audiocore.StateRunning,
	})

	expected := `
# HELP twinplay_router_frames_total Frames delivered by the loopback capture callback
# TYPE twinplay_router_frames_total counter
twinplay_router_frames_total 2048
# HELP twinplay_router_state Router lifecycle state (0 idle, 1 starting, 2 running, 3 stopping, 4 failed)
# TYPE twinplay_router_state gauge
twinplay_router_state 2
# HELP twinplay_router_write_failures_total Capture buffers that could not be queued for the secondary device
# TYPE twinplay_router_write_failures_total counter
twinplay_router_write_failures_total 3
# HELP twinplay_tap_dropped_total Buffers dropped by the WAV tap
# TYPE twinplay_tap_dropped_total counter
twinplay_tap_dropped_total 5
`
	err = testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"twinplay_router_frames_total", "twinplay_router_state",
		"twinplay_router_write_failures_total", "twinplay_tap_dropped_total")
	require.NoError(t, err)
}

func TestRouterMetrics_Observer(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewRouterMetrics(registry)
	require.NoError(t, err)

	m.SessionEnded(audiocore.SessionInfo{}, nil)
	m.SessionEnded(audiocore.SessionInfo{}, nil)
	m.SessionEnded(audiocore.SessionInfo{}, errors.New("open failed"))
	m.NegotiationCompleted(20*time.Millisecond, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(m.SessionsTotal.WithLabelValues(ResultCompleted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsTotal.WithLabelValues(ResultFailed)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.NegotiationDuration))

	// Unbound collectors still scrape cleanly.
	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewRouterMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewRouterMetrics(registry)
	require.NoError(t, err)
	_, err = NewRouterMetrics(registry)
	assert.Error(t, err)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.ObservePublish(time.Now(), 120, nil)
	m.ObservePublish(time.Now(), 0, errors.New("timeout"))
	m.IncrementReconnectAttempts()

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReconnectAttempts), 0)

	var metric dto.Metric
	require.NoError(t, m.MessageSize.Write(&metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
}

func TestMQTTMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var m *MQTTMetrics
	assert.NotPanics(t, func() {
		m.UpdateConnectionStatus(true)
		m.ObservePublish(time.Now(), 1, nil)
		m.IncrementErrors()
		m.IncrementReconnectAttempts()
	})
}

func TestRouterMetrics_ConcurrentBindAndScrape(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewRouterMetrics(registry)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			if i%2 == 0 {
				m.Bind(staticSource{state: audiocore.StateRunning})
				return
			}
			_, _ = registry.Gather()
		})
	}
	wg.Wait()
}
