package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/tphakala/twinplay/internal/audiocore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

var errUnsupported = errors.New("format not supported")

var (
	speakers = audiocore.AudioEndpoint{
		ID: "spk", Name: "Speakers", HostAPI: "fake",
		MaxOutputChannels: 2, DefaultSampleRate: 48000, IsDefault: true,
	}
	speakersLoopback = audiocore.AudioEndpoint{
		ID: "spk-loop", Name: "Speakers [Loopback]", HostAPI: "fake",
		MaxInputChannels: 2, DefaultSampleRate: 48000, IsLoopbackCapture: true, LoopbackOf: "spk",
	}
	btHeadphones = audiocore.AudioEndpoint{
		ID: "bt", Name: "Bluetooth Headphones", HostAPI: "fake",
		MaxOutputChannels: 2, DefaultSampleRate: 44100,
	}
	hdmi = audiocore.AudioEndpoint{
		ID: "hdmi", Name: "HDMI Output", HostAPI: "fake",
		MaxOutputChannels: 8, DefaultSampleRate: 48000,
	}
)

// fakePlatform accepts rates listed per endpoint and opens in-memory streams
type fakePlatform struct {
	mu        sync.Mutex
	endpoints []audiocore.AudioEndpoint
	rates     map[string][]uint32
	refs      int
	captures  []*fakeStream
	// captureDies makes capture streams report inactive right after Start.
	captureDies bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		endpoints: []audiocore.AudioEndpoint{speakers, speakersLoopback, btHeadphones, hdmi},
		rates: map[string][]uint32{
			speakers.ID:         {44100, 48000},
			speakersLoopback.ID: {48000},
			btHeadphones.ID:     {44100, 48000},
			hdmi.ID:             {48000, 96000},
		},
	}
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) Endpoints(context.Context) ([]audiocore.AudioEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints), nil
}

func (p *fakePlatform) Probe(ep audiocore.AudioEndpoint, _ audiocore.Direction, format audiocore.StreamFormat, _ uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.rates[ep.ID], format.SampleRate) {
		return nil
	}
	return errUnsupported
}

func (p *fakePlatform) OpenRender(ep audiocore.AudioEndpoint, format audiocore.StreamFormat, _ uint32) (audiocore.RenderStream, error) {
	if err := p.Probe(ep, audiocore.DirectionRender, format, 0); err != nil {
		return nil, err
	}
	return &fakeStream{}, nil
}

func (p *fakePlatform) OpenCapture(ep audiocore.AudioEndpoint, format audiocore.StreamFormat, _ uint32, _ audiocore.CaptureCallback) (audiocore.Stream, error) {
	if err := p.Probe(ep, audiocore.DirectionCapture, format, 0); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeStream{dies: p.captureDies}
	p.captures = append(p.captures, s)
	return s, nil
}

func (p *fakePlatform) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
	return nil
}

func (p *fakePlatform) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs > 0 {
		p.refs--
	}
	return nil
}

func (p *fakePlatform) refCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

func (p *fakePlatform) captureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.captures)
}

type fakeStream struct {
	active atomic.Bool
	closed atomic.Bool
	dies   bool
}

func (s *fakeStream) Start() error {
	s.active.Store(!s.dies)
	return nil
}

func (s *fakeStream) Close() error {
	s.active.Store(false)
	s.closed.Store(true)
	return nil
}

func (s *fakeStream) IsActive() bool       { return s.active.Load() }
func (s *fakeStream) Write(p []byte) error { return nil }
func (s *fakeStream) Underruns() uint64    { return 0 }
