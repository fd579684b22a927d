package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("device %s vanished", "Speakers").
		Component("audiocore").
		Category(CategoryAudioDevice).
		Priority(PriorityHigh).
		DeviceContext("0a0b", "Speakers").
		Context("operation", "lookup").
		Build()

	assert.Equal(t, "audiocore", ee.GetComponent())
	assert.Equal(t, "audio-device", ee.GetCategory())
	assert.Equal(t, PriorityHigh, ee.GetPriority())

	ctx := ee.GetContext()
	assert.Equal(t, "0a0b", ctx["device_id"])
	assert.Equal(t, "Speakers", ctx["device_name"])

	// returned context is a copy
	ctx["device_id"] = "changed"
	assert.Equal(t, "0a0b", ee.GetContext()["device_id"])
}

func TestPriorityFallback(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee = New(NewStd("x")).Priority("").Build()
	assert.Empty(t, ee.GetPriority())
}

func TestIsMatchesWrappedSentinel(t *testing.T) {
	sentinel := New(NewStd("loopback endpoint not found")).
		Component("audiocore").
		Category(CategoryNotFound).
		Build()

	wrapped := New(fmt.Errorf("%w: %q", sentinel, "Speakers")).
		Component("audiocore").
		Category(CategoryNotFound).
		Build()

	require.ErrorIs(t, wrapped, sentinel)
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryNotFound))

	other := New(NewStd("no common format")).Category(CategoryAudioFormat).Build()
	assert.NotErrorIs(t, wrapped, other)
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("operation timed out")).Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.True(t, ee.IsReported())
	assert.Equal(t, CategoryTimeout, ee.Category)
}

func TestLookupComponentPrefersLongestPattern(t *testing.T) {
	tests := []struct {
		funcName string
		want     string
	}{
		{"github.com/tphakala/twinplay/internal/audiocore/sources/malgo.(*Context).Probe", "audio.malgo"},
		{"github.com/tphakala/twinplay/internal/audiocore.(*Router).Start", "audiocore"},
		{"github.com/tphakala/twinplay/internal/audiocore/tap.(*Tap).run", "tap"},
		{"main.main", ComponentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.funcName, func(t *testing.T) {
			assert.Equal(t, tt.want, lookupComponent(tt.funcName))
		})
	}
}

func TestBasicScrub(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		absent  string
		present string
	}{
		{"url query", "GET https://broker.example.com/x?token=abc failed", "abc", "?[REDACTED]"},
		{"credential", "mqtt auth failed: password=hunter2", "hunter2", "password=[REDACTED]"},
		{"wasapi id", `open {0.0.0.00000000}.{3f2a1c0e-1111-2222-3333-444455556666} failed`, "3f2a1c0e", "[ID_REDACTED]"},
		{"home path", "cannot write /home/alice/tap.wav", "alice", "/home/[USER]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := basicScrub(tt.in)
			assert.NotContains(t, out, tt.absent)
			assert.Contains(t, out, tt.present)
		})
	}
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := New(NewStd("boom")).
		Component("audio.malgo").
		Category(CategoryAudioStream).
		Context("operation", "open_render").
		Build()

	assert.Equal(t, "Audio.malgo Audio Stream Error Open Render", generateErrorTitle(ee))
}
