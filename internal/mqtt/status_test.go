package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/twinplay/internal/audiocore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type publishedMessage struct {
	topic   string
	payload string
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	failConnects int
	connects     atomic.Int32
	publishErr   error
	published    []publishedMessage
	disconnected bool
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.connects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnects > 0 {
		f.failConnects--
		return errors.New("connection refused")
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

type fakeSource struct {
	mu        sync.Mutex
	listeners map[int]func(audiocore.StatusEvent)
	next      int
}

func (s *fakeSource) Subscribe(fn func(audiocore.StatusEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]func(audiocore.StatusEvent))
	}
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSource) emit(ev audiocore.StatusEvent) {
	s.mu.Lock()
	fns := make([]func(audiocore.StatusEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Topic = "home/twinplay"
	cfg.ReconnectCooldown = 5 * time.Millisecond
	cfg.MaxReconnectDelay = 20 * time.Millisecond
	return cfg
}

func runningEvent() audiocore.StatusEvent {
	return audiocore.StatusEvent{
		Status: audiocore.StatusRunning,
		State:  audiocore.StateRunning,
		Time:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Session: &audiocore.SessionInfo{
			ID: "5d1c1f0e-0000-4000-8000-000000000001",
			Config: audiocore.RouteConfiguration{
				Primary:   audiocore.AudioEndpoint{ID: "spk", Name: "Speakers"},
				Secondary: audiocore.AudioEndpoint{ID: "hp", Name: "Headphones"},
				Format:    audiocore.StreamFormat{SampleRate: 48000, Channels: 2, Format: audiocore.FormatS16},
			},
		},
	}
}

func TestStatusPublisher_PublishesTransitions(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	source := &fakeSource{}
	p := NewStatusPublisher(client, testConfig(), 0)
	p.Attach(source)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	source.emit(runningEvent())
	source.emit(audiocore.StatusEvent{Status: audiocore.StatusStopped, State: audiocore.StateIdle, Time: time.Now()})

	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, time.Second, 5*time.Millisecond)
	p.Close()

	msgs := client.messages()
	assert.Equal(t, "home/twinplay/status", msgs[0].topic)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &got))
	assert.Equal(t, "Routing audio…", got["status"])
	assert.Equal(t, "running", got["state"])
	assert.Equal(t, "Speakers", got["primary"])
	assert.Equal(t, "Headphones", got["secondary"])
	assert.Equal(t, "48000 Hz, 2 ch, s16", got["format"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got["time"])

	var stopped StatusMessage
	require.NoError(t, json.Unmarshal([]byte(msgs[1].payload), &stopped))
	assert.Equal(t, "Stopped", stopped.Status)
	assert.Empty(t, stopped.SessionID)

	assert.Equal(t, uint64(2), p.Sent())
	assert.Zero(t, source.count(), "Close must unsubscribe")
	assert.True(t, client.disconnected)
}

func TestStatusPublisher_RetriesConnect(t *testing.T) {
	t.Parallel()

	client := &fakeClient{failConnects: 2}
	p := NewStatusPublisher(client, testConfig(), 4)
	defer p.Close()

	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), client.connects.Load())
}

func TestStatusPublisher_DropsWhileDisconnected(t *testing.T) {
	t.Parallel()

	client := &fakeClient{failConnects: 1 << 30}
	p := NewStatusPublisher(client, testConfig(), 4)

	p.Handle(runningEvent())
	require.Eventually(t, func() bool { return p.Dropped() == 1 }, time.Second, 5*time.Millisecond)
	p.Close()

	assert.Empty(t, client.messages())
	assert.Zero(t, p.Sent())
}

func TestStatusPublisher_PublishErrorCountsDrop(t *testing.T) {
	t.Parallel()

	client := &fakeClient{publishErr: errors.New("broker gone")}
	p := NewStatusPublisher(client, testConfig(), 4)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	p.Handle(runningEvent())
	require.Eventually(t, func() bool { return p.Dropped() == 1 }, time.Second, 5*time.Millisecond)
	p.Close()
}

func TestStatusPublisher_CloseIdempotentAndLateEvents(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	source := &fakeSource{}
	p := NewStatusPublisher(client, testConfig(), 1)
	p.Close()
	p.Close()

	assert.NotPanics(t, func() { p.Handle(runningEvent()) })

	p.Attach(source)
	assert.Zero(t, source.count(), "attach after close must not keep a subscription")
}

func TestNewStatusMessage_Error(t *testing.T) {
	t.Parallel()

	msg := NewStatusMessage(audiocore.StatusEvent{
		Status: audiocore.StatusError,
		State:  audiocore.StateFailed,
		Err:    errors.New("no common format"),
	})
	assert.Equal(t, "Error", msg.Status)
	assert.Equal(t, "no common format", msg.Error)
	assert.Empty(t, msg.Primary)
}
