package malgo

import (
	"context"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/twinplay/internal/audiocore"
	"github.com/tphakala/twinplay/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nativeID(s string) malgo.DeviceID {
	var id malgo.DeviceID
	copy(id[:], s)
	return id
}

func utf16ID(s string) malgo.DeviceID {
	var id malgo.DeviceID
	for i := range len(s) {
		id[2*i] = s[i]
	}
	return id
}

func TestBackendsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend string
		goos    string
		want    []malgo.Backend
		wantErr bool
	}{
		{"windows auto", "auto", "windows", []malgo.Backend{malgo.BackendWasapi}, false},
		{"linux auto", "", "linux", []malgo.Backend{malgo.BackendPulseaudio, malgo.BackendAlsa}, false},
		{"darwin auto", "AUTO", "darwin", []malgo.Backend{malgo.BackendCoreaudio}, false},
		{"override", "alsa", "linux", []malgo.Backend{malgo.BackendAlsa}, false},
		{"unknown backend", "jack", "linux", nil, true},
		{"unsupported os", "auto", "plan9", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := backendsFor(tt.backend, tt.goos)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceIDString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hw:0,0", deviceIDString(nativeID("hw:0,0")))
	assert.Equal(t, "{0.0.0.00000000}.{abc}", deviceIDString(utf16ID("{0.0.0.00000000}.{abc}")))
	assert.Equal(t, "01ff02", deviceIDString(nativeID("\x01\xff\x02")))
	assert.Equal(t, "default", deviceIDString(malgo.DeviceID{}))
}

func TestClassify_WASAPISynthesizesLoopbacks(t *testing.T) {
	t.Parallel()

	playback := []nativeDevice{
		{typ: malgo.Playback, id: utf16ID("spk"), name: "Speakers", isDefault: true, channels: 2, rate: 48000},
		{typ: malgo.Playback, id: utf16ID("hp"), name: "Headphones", channels: 2, rate: 44100},
	}
	capture := []nativeDevice{
		{typ: malgo.Capture, id: utf16ID("mic"), name: "Microphone", channels: 1, rate: 48000},
	}

	endpoints, refs := classify("wasapi", playback, capture)
	require.Len(t, endpoints, 5)

	catalog := audiocore.NewCatalog(endpoints)
	assert.Len(t, catalog.Outputs(), 2)
	assert.Len(t, catalog.Inputs(), 1)
	require.Len(t, catalog.Loopbacks(), 2)

	spk, err := catalog.Lookup("out:spk")
	require.NoError(t, err)
	loop, err := audiocore.ResolveLoopback(catalog, spk)
	require.NoError(t, err)
	assert.Equal(t, "Speakers [Loopback]", loop.Name)
	assert.Equal(t, "loop:spk", loop.ID)
	assert.Equal(t, "out:spk", loop.LoopbackOf)
	assert.Equal(t, uint32(48000), loop.DefaultSampleRate)
	assert.Equal(t, uint32(2), loop.MaxInputChannels)

	ref := refs["loop:spk"]
	assert.Equal(t, malgo.Loopback, ref.typ)
	assert.True(t, ref.loopback)
	assert.Equal(t, utf16ID("spk"), ref.id, "loopback opens the render device id")
}

func TestClassify_PulseMonitors(t *testing.T) {
	t.Parallel()

	playback := []nativeDevice{
		{typ: malgo.Playback, id: nativeID("alsa_output.pci.analog-stereo"), name: "Built-in Audio Analog Stereo", channels: 2, rate: 48000},
	}
	capture := []nativeDevice{
		{typ: malgo.Capture, id: nativeID("alsa_output.pci.analog-stereo.monitor"), name: "Monitor of Built-in Audio Analog Stereo", channels: 2, rate: 48000},
		{typ: malgo.Capture, id: nativeID("alsa_input.usb.mono"), name: "USB Microphone", channels: 1, rate: 16000},
	}

	endpoints, refs := classify("pulseaudio", playback, capture)
	require.Len(t, endpoints, 3)

	monitor := endpoints[1]
	assert.True(t, monitor.IsLoopbackCapture)
	assert.Equal(t, "out:alsa_output.pci.analog-stereo", monitor.LoopbackOf)
	assert.Equal(t, malgo.Capture, refs[monitor.ID].typ)
	assert.False(t, endpoints[2].IsLoopbackCapture)

	// Only WASAPI gets synthesized loopbacks.
	for _, ep := range endpoints {
		assert.NotContains(t, ep.Name, loopbackSuffix)
	}
}

func TestClassify_CoreAudioHasNoLoopback(t *testing.T) {
	t.Parallel()

	capture := []nativeDevice{{typ: malgo.Capture, id: nativeID("BuiltInMic"), name: "Monitor of nothing", channels: 1, rate: 48000}}
	endpoints, _ := classify("coreaudio", nil, capture)
	require.Len(t, endpoints, 1)
	assert.False(t, endpoints[0].IsLoopbackCapture)
}

func TestDeviceConfig(t *testing.T) {
	t.Parallel()

	format := audiocore.StreamFormat{SampleRate: 48000, Channels: 2, Format: audiocore.FormatS16}

	render := deviceRef{typ: malgo.Playback, id: nativeID("hp")}
	cfg, err := deviceConfig(&render, audiocore.DirectionRender, format, 1024)
	require.NoError(t, err)
	assert.Equal(t, malgo.Playback, cfg.DeviceType)
	assert.Equal(t, malgo.FormatS16, cfg.Playback.Format)
	assert.Equal(t, uint32(2), cfg.Playback.Channels)
	assert.Equal(t, uint32(48000), cfg.SampleRate)
	assert.Equal(t, uint32(1024), cfg.PeriodSizeInFrames)

	loop := deviceRef{typ: malgo.Loopback, id: nativeID("spk"), loopback: true}
	cfg, err = deviceConfig(&loop, audiocore.DirectionCapture, format, 1024)
	require.NoError(t, err)
	assert.Equal(t, malgo.Loopback, cfg.DeviceType)
	assert.Equal(t, malgo.FormatS16, cfg.Capture.Format)

	_, err = deviceConfig(&loop, audiocore.DirectionRender, format, 1024)
	require.ErrorIs(t, err, ErrWrongDirection)

	_, err = deviceConfig(&render, audiocore.DirectionRender, audiocore.StreamFormat{SampleRate: 48000, Channels: 2}, 1024)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func newTestRenderStream(capacity int) *renderStream {
	r := &renderStream{rb: ringbuffer.New(capacity)}
	r.active.Store(true)
	return r
}

func TestRenderStream_WriteThenPull(t *testing.T) {
	t.Parallel()

	r := newTestRenderStream(16)
	require.NoError(t, r.Write([]byte{1, 2, 3, 4}))

	out := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	r.onData(out, nil, 2)

	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, out, "shortfall is padded with silence")
	assert.Equal(t, uint64(1), r.Underruns())
}

func TestRenderStream_NoUnderrunBeforeFirstWrite(t *testing.T) {
	t.Parallel()

	r := newTestRenderStream(16)
	out := make([]byte, 8)
	r.onData(out, nil, 2)
	assert.Zero(t, r.Underruns())
}

func TestRenderStream_FullQueueDropsWholeBuffer(t *testing.T) {
	t.Parallel()

	r := newTestRenderStream(8)
	require.NoError(t, r.Write([]byte{1, 2, 3, 4, 5, 6}))
	require.ErrorIs(t, r.Write([]byte{7, 8, 9, 10}), ErrRenderQueueFull)

	out := make([]byte, 8)
	r.onData(out, nil, 2)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 0, 0}, out, "no partial buffer was queued")
}

func TestRenderStream_InactiveRejectsWrites(t *testing.T) {
	t.Parallel()

	r := newTestRenderStream(8)
	r.active.Store(false)
	assert.ErrorIs(t, r.Write([]byte{1, 2}), ErrRenderInactive)
}

func TestPlatform_ReferenceCounting(t *testing.T) {
	p, err := New(Options{Backend: "null"})
	require.NoError(t, err)

	_, err = p.Endpoints(context.Background())
	require.ErrorIs(t, err, audiocore.ErrContextReleased, "no context before Acquire")

	if err := p.Acquire(); err != nil {
		t.Skipf("null audio backend unavailable: %v", err)
	}
	require.NoError(t, p.Acquire())
	assert.Equal(t, "malgo/null", p.Name())

	endpoints, err := p.Endpoints(context.Background())
	require.NoError(t, err)
	for _, ep := range endpoints {
		assert.Equal(t, "null", ep.HostAPI)
	}

	require.NoError(t, p.Release())
	_, err = p.Endpoints(context.Background())
	require.NoError(t, err, "context stays alive while referenced")

	require.NoError(t, p.Release())
	require.NoError(t, p.Release(), "extra release is ignored")
	_, err = p.Endpoints(context.Background())
	assert.ErrorIs(t, err, audiocore.ErrContextReleased)
}

func TestPlatform_UnknownEndpoint(t *testing.T) {
	p, err := New(Options{Backend: "null"})
	require.NoError(t, err)
	if err := p.Acquire(); err != nil {
		t.Skipf("null audio backend unavailable: %v", err)
	}
	defer func() { _ = p.Release() }()

	ep := audiocore.AudioEndpoint{ID: "out:missing", Name: "Missing"}
	err = p.Probe(ep, audiocore.DirectionRender, audiocore.StreamFormat{SampleRate: 48000, Channels: 2, Format: audiocore.FormatS16}, 1024)
	assert.ErrorIs(t, err, audiocore.ErrDeviceInfoUnavailable)
}
