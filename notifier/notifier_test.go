package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssefsiam38/sessionpg/driver"
)

// mockNotifier implements driver.Notifier for testing.
type mockNotifier struct {
	notifications []struct {
		channel string
		payload string
	}
	mu        sync.Mutex
	notifyErr error
}

func (m *mockNotifier) Notify(ctx context.Context, channel, payload string) error {
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, struct {
		channel string
		payload string
	}{channel, payload})
	return nil
}

// mockListener implements driver.Listener for testing.
type mockListener struct {
	notifications chan *driver.Notification
	closed        atomic.Bool
	listenErr     error
	closeErr      error
}

func newMockListener() *mockListener {
	return &mockListener{
		notifications: make(chan *driver.Notification, 10),
	}
}

func (m *mockListener) Listen(ctx context.Context, channel string) error {
	return m.listenErr
}

func (m *mockListener) Unlisten(ctx context.Context, channel string) error {
	return nil
}

func (m *mockListener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n := <-m.notifications:
		return n, nil
	}
}

func (m *mockListener) Ping(ctx context.Context) error {
	return nil
}

func (m *mockListener) Close(ctx context.Context) error {
	m.closed.Store(true)
	return m.closeErr
}

func (m *mockListener) IsClosed() bool {
	return m.closed.Load()
}

// recordingCache is a Cache that keeps every invalidated session ID.
type recordingCache struct {
	mu       sync.Mutex
	sessions []string
	seen     chan string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{seen: make(chan string, 10)}
}

func (c *recordingCache) Invalidate(sessionID string) {
	c.mu.Lock()
	c.sessions = append(c.sessions, sessionID)
	c.mu.Unlock()
	c.seen <- sessionID
}

func (c *recordingCache) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sessions...)
}

func (c *recordingCache) waitFor(t *testing.T, sessionID string) {
	t.Helper()
	select {
	case got := <-c.seen:
		if got != sessionID {
			t.Fatalf("invalidated %q, want %q", got, sessionID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session %q was not invalidated", sessionID)
	}
}

func payload(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return string(data)
}

func startListening(t *testing.T, n *Notifier) {
	t.Helper()
	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(ctx) })
}

func TestNotifier_StartStop(t *testing.T) {
	n := NewNotifier(nil, nil, nil)

	ctx := context.Background()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !n.IsRunning() {
		t.Error("Expected notifier to be running")
	}
	if err := n.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n.IsRunning() {
		t.Error("Expected notifier to not be running")
	}
	if err := n.Stop(ctx); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}

	// Restart after Stop
	if err := n.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSessionEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   SessionEvent
		wantErr error
	}{
		{name: "checkpoint", event: CheckpointCreated("s1", 42)},
		{name: "deletion", event: SessionDeleted("s1")},
		{name: "unknown kind", event: SessionEvent{Kind: "renamed", SessionID: "s1"}, wantErr: ErrUnknownEventType},
		{name: "empty session", event: CheckpointCreated("", 42), wantErr: ErrInvalidEvent},
		{name: "checkpoint without order", event: CheckpointCreated("s1", 0), wantErr: ErrInvalidEvent},
		{name: "deletion with order", event: SessionEvent{Kind: EventSessionDeleted, SessionID: "s1", CheckpointOrder: 3}, wantErr: ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNotifier_Publish(t *testing.T) {
	mock := &mockNotifier{}
	n := NewNotifier(nil, mock, nil)
	ctx := context.Background()

	if err := n.Publish(ctx, CheckpointCreated("session-123", 7)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := n.Publish(ctx, SessionDeleted("session-123")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.notifications) != 2 {
		t.Fatalf("Sent %d notifications, want 2", len(mock.notifications))
	}

	first := mock.notifications[0]
	if first.channel != driver.ChannelCheckpointCreated {
		t.Errorf("Channel = %v, want %v", first.channel, driver.ChannelCheckpointCreated)
	}
	var got SessionEvent
	if err := json.Unmarshal([]byte(first.payload), &got); err != nil {
		t.Fatalf("payload %q: %v", first.payload, err)
	}
	if got.SessionID != "session-123" || got.CheckpointOrder != 7 || got.Origin != n.Origin() {
		t.Errorf("payload = %s, want session-123 at order 7 from %s", first.payload, n.Origin())
	}
	if second := mock.notifications[1]; second.channel != driver.ChannelSessionDeleted {
		t.Errorf("Channel = %v, want %v", second.channel, driver.ChannelSessionDeleted)
	}
}

func TestNotifier_PublishRejects(t *testing.T) {
	mock := &mockNotifier{}
	n := NewNotifier(nil, mock, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		event   SessionEvent
		wantErr error
	}{
		{name: "unknown kind", event: SessionEvent{Kind: "unknown", SessionID: "s1"}, wantErr: ErrUnknownEventType},
		{name: "missing order", event: CheckpointCreated("s1", 0), wantErr: ErrInvalidEvent},
		{name: "too large", event: SessionDeleted(strings.Repeat("x", maxPayloadBytes)), wantErr: ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := n.Publish(ctx, tt.event); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.notifications) != 0 {
		t.Errorf("Sent %d notifications for invalid events, want 0", len(mock.notifications))
	}

	if err := NewNotifier(nil, nil, nil).Publish(ctx, SessionDeleted("s1")); err != ErrNotifyNotSupported {
		t.Errorf("Publish() without sender error = %v, want %v", err, ErrNotifyNotSupported)
	}
}

func TestNotifier_InvalidatesAttachedCaches(t *testing.T) {
	listener := newMockListener()
	var events []SessionEvent
	var mu sync.Mutex
	n := NewNotifier(func(ctx context.Context) (driver.Listener, error) {
		return listener, nil
	}, nil, &Config{OnEvent: func(e SessionEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}})

	first, second := newRecordingCache(), newRecordingCache()
	n.Attach(first)
	detach := n.Attach(second)
	startListening(t, n)

	listener.notifications <- &driver.Notification{
		Channel: driver.ChannelCheckpointCreated,
		Payload: payload(t, map[string]any{"session_id": "s1", "checkpoint_order": 9, "origin": "other-process"}),
	}
	first.waitFor(t, "s1")
	second.waitFor(t, "s1")

	detach()
	detach()

	listener.notifications <- &driver.Notification{
		Channel: driver.ChannelSessionDeleted,
		Payload: payload(t, map[string]any{"session_id": "s2", "origin": "other-process"}),
	}
	first.waitFor(t, "s2")

	if got := second.Sessions(); !reflect.DeepEqual(got, []string{"s1"}) {
		t.Errorf("detached cache saw %v, want [s1]", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("OnEvent called %d times, want 2", len(events))
	}
	if events[0].Kind != EventCheckpointCreated || events[0].CheckpointOrder != 9 || events[0].ReceivedAt.IsZero() {
		t.Errorf("first event = %+v, want checkpoint at order 9 with ReceivedAt", events[0])
	}
	if events[1].Kind != EventSessionDeleted || events[1].SessionID != "s2" {
		t.Errorf("second event = %+v, want deletion of s2", events[1])
	}
}

func TestNotifier_SkipsOwnAndMalformedEvents(t *testing.T) {
	listener := newMockListener()
	errCh := make(chan error, 10)
	n := NewNotifier(func(ctx context.Context) (driver.Listener, error) {
		return listener, nil
	}, nil, &Config{OnError: func(err error) { errCh <- err }})

	cache := newRecordingCache()
	n.Attach(cache)
	startListening(t, n)

	listener.notifications <- &driver.Notification{
		Channel: driver.ChannelCheckpointCreated,
		Payload: payload(t, map[string]any{"session_id": "own", "checkpoint_order": 1, "origin": n.Origin()}),
	}
	for _, bad := range []*driver.Notification{
		{Channel: driver.ChannelCheckpointCreated, Payload: "s1"},
		{Channel: driver.ChannelCheckpointCreated, Payload: `{"session_id":"s1"}`},
		{Channel: driver.ChannelSessionDeleted, Payload: `{"session_id":""}`},
		{Channel: "unrelated", Payload: `{"session_id":"s1"}`},
	} {
		listener.notifications <- bad
	}
	listener.notifications <- &driver.Notification{
		Channel: driver.ChannelSessionDeleted,
		Payload: payload(t, map[string]any{"session_id": "remote"}),
	}

	cache.waitFor(t, "remote")
	if got := cache.Sessions(); !reflect.DeepEqual(got, []string{"remote"}) {
		t.Errorf("invalidated %v, want only [remote]", got)
	}

	for i := 0; i < 4; i++ {
		select {
		case err := <-errCh:
			if !errors.Is(err, ErrInvalidEvent) && !errors.Is(err, ErrUnknownEventType) {
				t.Errorf("reported error = %v, want ErrInvalidEvent or ErrUnknownEventType", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("only %d malformed notifications reported, want 4", i)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	if got := DefaultConfig().ReconnectDelay; got != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", got)
	}

	c := &Config{}
	c.ApplyDefaults()
	if c.ReconnectDelay != 5*time.Second {
		t.Errorf("ApplyDefaults ReconnectDelay = %v, want 5s", c.ReconnectDelay)
	}
}

func TestNotifier_ListenerUnsupported(t *testing.T) {
	var calls atomic.Int32
	var errs atomic.Int32
	n := NewNotifier(func(ctx context.Context) (driver.Listener, error) {
		calls.Add(1)
		return nil, driver.ErrNotificationsUnsupported
	}, nil, &Config{
		ReconnectDelay: time.Millisecond,
		OnError:        func(err error) { errs.Add(1) },
	})

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("getListener called %d times, want 1", calls.Load())
	}
	if errs.Load() != 0 {
		t.Errorf("OnError called %d times, want 0", errs.Load())
	}
}

func TestNotifier_Reconnects(t *testing.T) {
	var calls atomic.Int32
	reconnected := make(chan struct{}, 10)
	listener := newMockListener()

	n := NewNotifier(func(ctx context.Context) (driver.Listener, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return listener, nil
	}, nil, &Config{
		ReconnectDelay: time.Millisecond,
		OnReconnect:    func() { reconnected <- struct{}{} },
	})

	cache := newRecordingCache()
	n.Attach(cache)
	startListening(t, n)

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("notifier did not reconnect")
	}

	listener.notifications <- &driver.Notification{
		Channel: driver.ChannelCheckpointCreated,
		Payload: payload(t, map[string]any{"session_id": "s9", "checkpoint_order": 3}),
	}
	cache.waitFor(t, "s9")
}

func TestNotifier_ClosesListenerOnStop(t *testing.T) {
	listener := newMockListener()
	n := NewNotifier(func(ctx context.Context) (driver.Listener, error) {
		return listener, nil
	}, nil, nil)

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !listener.IsClosed() {
		t.Error("listener was not closed on Stop")
	}
}
