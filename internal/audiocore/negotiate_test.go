package audiocore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twinplay/internal/errors"
)

func capturesProbed(calls []probeCall) []probeCall {
	var out []probeCall
	for _, c := range calls {
		if c.dir == DirectionCapture {
			out = append(out, c)
		}
	}
	return out
}

func TestSupportedRates(t *testing.T) {
	t.Parallel()

	p := newFakePlatform()
	rates := SupportedRates(context.Background(), p, headphones, nil)

	assert.Equal(t, []uint32{44100, 48000}, rates)
	calls := p.probeCalls()
	require.Len(t, calls, len(candidateRates))
	for i, c := range calls {
		assert.Equal(t, candidateRates[i], c.rate, "probe order")
		assert.Equal(t, DirectionRender, c.dir)
		assert.Equal(t, uint32(2), c.ch)
	}
}

func TestSupportedRates_MonoDevice(t *testing.T) {
	t.Parallel()

	mono := AudioEndpoint{ID: "mono", Name: "Phone Speaker", MaxOutputChannels: 1}
	p := newFakePlatform()
	p.renderRates[mono.ID] = []uint32{}

	rates := SupportedRates(context.Background(), p, mono, nil)

	assert.Empty(t, rates, "probe failures are treated as unsupported")
	for _, c := range p.probeCalls() {
		assert.Equal(t, uint32(1), c.ch)
	}
}

func TestSupportedRates_Cached(t *testing.T) {
	t.Parallel()

	p := newFakePlatform()
	rc := NewRateCache(time.Minute)

	first := SupportedRates(context.Background(), p, usbDAC, rc)
	second := SupportedRates(context.Background(), p, usbDAC, rc)

	assert.Equal(t, first, second)
	assert.Len(t, p.probeCalls(), len(candidateRates), "second call served from cache")

	rc.Flush()
	SupportedRates(context.Background(), p, usbDAC, rc)
	assert.Len(t, p.probeCalls(), 2*len(candidateRates))
}

func TestSupportedRates_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newFakePlatform()
	rc := NewRateCache(time.Minute)
	assert.Empty(t, SupportedRates(ctx, p, headphones, rc))
	assert.Empty(t, p.probeCalls())

	_, cached := rc.get(headphones.ID)
	assert.False(t, cached, "partial results are not cached")
}

func TestNegotiate_NativeRateAccepted(t *testing.T) {
	t.Parallel()

	p := newFakePlatform()
	cfg, err := NewNegotiator(p, nil).Negotiate(context.Background(), speakers, speakersLoopback, headphones)
	require.NoError(t, err)

	assert.Equal(t, StreamFormat{SampleRate: 48000, Channels: 2, Format: FormatS16}, cfg.Format)
	assert.Equal(t, speakers, cfg.Primary)
	assert.Equal(t, speakersLoopback, cfg.Loopback)
	assert.Equal(t, headphones, cfg.Secondary)
	assert.Empty(t, capturesProbed(p.probeCalls()), "fallback list is not consulted")
}

func TestNegotiate_FallbackProbesLoopbackAtOriginalRate(t *testing.T) {
	t.Parallel()

	hiResLoopback := speakersLoopback
	hiResLoopback.DefaultSampleRate = 96000
	p := newFakePlatform()

	cfg, err := NewNegotiator(p, nil).Negotiate(context.Background(), speakers, hiResLoopback, headphones)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), cfg.Format.SampleRate)
	assert.Equal(t, uint32(2), cfg.Format.Channels)

	captures := capturesProbed(p.probeCalls())
	require.Len(t, captures, 1)
	assert.Equal(t, uint32(96000), captures[0].rate)
}

func TestNegotiate_FallbackOrder(t *testing.T) {
	t.Parallel()

	oddLoopback := speakersLoopback
	oddLoopback.DefaultSampleRate = 88200
	p := newFakePlatform()
	p.renderRates[headphones.ID] = []uint32{44100}

	cfg, err := NewNegotiator(p, nil).Negotiate(context.Background(), speakers, oddLoopback, headphones)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), cfg.Format.SampleRate)
}

func TestNegotiate_LoopbackProbeFailureRejectsFallback(t *testing.T) {
	t.Parallel()

	hiResLoopback := speakersLoopback
	hiResLoopback.DefaultSampleRate = 96000
	p := newFakePlatform()
	p.captureRates[hiResLoopback.ID] = []uint32{48000}

	_, err := NewNegotiator(p, nil).Negotiate(context.Background(), speakers, hiResLoopback, headphones)
	require.ErrorIs(t, err, ErrNoCommonFormat)
	assert.Len(t, capturesProbed(p.probeCalls()), 2, "one loopback probe per usable fallback")
}

func TestNegotiate_NoCommonFormat(t *testing.T) {
	t.Parallel()

	p := newFakePlatform()
	_, err := NewNegotiator(p, nil).Negotiate(context.Background(), speakers, speakersLoopback, usbDAC)

	require.ErrorIs(t, err, ErrNoCommonFormat)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioFormat))
	assert.Contains(t, err.Error(), "48000")
	assert.Empty(t, p.openedStreams())
}

func TestNegotiate_Deterministic(t *testing.T) {
	t.Parallel()

	hiResLoopback := speakersLoopback
	hiResLoopback.DefaultSampleRate = 192000
	n := NewNegotiator(newFakePlatform(), NewRateCache(time.Minute))

	first, err := n.Negotiate(context.Background(), speakers, hiResLoopback, headphones)
	require.NoError(t, err)
	for range 5 {
		again, err := n.Negotiate(context.Background(), speakers, hiResLoopback, headphones)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNegotiate_ChannelMismatchIsOnlyAWarning(t *testing.T) {
	t.Parallel()

	surroundLoopback := speakersLoopback
	surroundLoopback.MaxInputChannels = 6
	monoSpeaker := AudioEndpoint{ID: "mono", Name: "Mono Speaker", HostAPI: "wasapi", MaxOutputChannels: 1}

	cfg, err := NewNegotiator(newFakePlatform(), nil).Negotiate(context.Background(), speakers, surroundLoopback, monoSpeaker)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), cfg.Format.Channels, "no downmixing")
}
