package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssefsiam38/sessionpg/internal/testutil"
	"github.com/youssefsiam38/sessionpg/types"
)

// recordingDeleter implements SessionDeleter for testing.
type recordingDeleter struct {
	mu      sync.Mutex
	store   *testutil.MemoryStore
	deleted []string
	failFor map[string]bool
}

func (d *recordingDeleter) DeleteSession(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor[sessionID] {
		return errors.New("delete failed")
	}
	d.deleted = append(d.deleted, sessionID)
	return d.store.DeleteSession(ctx, sessionID)
}

func seedSessions(t *testing.T, store *testutil.MemoryStore, updatedAt time.Time, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := store.AppendMessage(context.Background(), id, types.RoleUser, "hi"); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		store.SetUpdatedAt(id, updatedAt)
	}
}

func TestRetention_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := testutil.NewMemoryStore()
	seedSessions(t, store, now.Add(-48*time.Hour), "old-1", "old-2", "old-3")
	seedSessions(t, store, now.Add(-time.Hour), "fresh")

	deleter := &recordingDeleter{store: store}
	r := NewRetention(store, deleter, &RetentionConfig{MaxIdle: 24 * time.Hour, BatchSize: 2})
	r.now = func() time.Time { return now }

	result := r.RunOnce(context.Background())

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.SessionsDeleted != 3 {
		t.Errorf("SessionsDeleted = %d, want 3", result.SessionsDeleted)
	}
	if _, err := store.GetSession(context.Background(), "fresh"); err != nil {
		t.Errorf("fresh session was deleted: %v", err)
	}
}

func TestRetention_ContinuesPastFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := testutil.NewMemoryStore()
	seedSessions(t, store, now.Add(-48*time.Hour), "a", "b", "c", "d")

	deleter := &recordingDeleter{store: store, failFor: map[string]bool{"a": true}}
	r := NewRetention(store, deleter, &RetentionConfig{MaxIdle: 24 * time.Hour, BatchSize: 1})
	r.now = func() time.Time { return now }

	result := r.RunOnce(context.Background())

	if result.SessionsDeleted != 3 {
		t.Errorf("SessionsDeleted = %d, want 3", result.SessionsDeleted)
	}
	if len(result.Errors) != 1 {
		t.Errorf("got %d errors, want 1", len(result.Errors))
	}
}

func TestRetention_ListError(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.ErrGet = errors.New("db down")

	r := NewRetention(store, nil, nil)
	result := r.RunOnce(context.Background())

	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], store.ErrGet) {
		t.Errorf("Errors = %v, want wrapped db error", result.Errors)
	}
}

func TestRetention_StartStop(t *testing.T) {
	store := testutil.NewMemoryStore()
	seedSessions(t, store, time.Now().Add(-48*time.Hour), "old")

	var deletedCount atomic.Int32
	r := NewRetention(store, nil, &RetentionConfig{
		Interval: 50 * time.Millisecond,
		MaxIdle:  24 * time.Hour,
		OnSessionsDeleted: func(count int) {
			deletedCount.Add(int32(count))
		},
	})

	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	time.Sleep(100 * time.Millisecond)

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if r.IsRunning() {
		t.Error("Expected retention to not be running")
	}
	if deletedCount.Load() != 1 {
		t.Errorf("OnSessionsDeleted reported %d, want 1", deletedCount.Load())
	}
}

func TestRetention_StopNotStarted(t *testing.T) {
	r := NewRetention(testutil.NewMemoryStore(), nil, nil)
	if err := r.Stop(context.Background()); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestDefaultRetentionConfig(t *testing.T) {
	config := &RetentionConfig{}
	config.ApplyDefaults()

	want := DefaultRetentionConfig()
	if config.Interval != want.Interval || config.MaxIdle != want.MaxIdle || config.BatchSize != want.BatchSize {
		t.Errorf("ApplyDefaults() = %+v, want %+v", config, want)
	}
}
