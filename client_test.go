package sessionpg

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssefsiam38/sessionpg/driver/sqlite"
	"github.com/youssefsiam38/sessionpg/hooks"
	"github.com/youssefsiam38/sessionpg/internal/testutil"
	"github.com/youssefsiam38/sessionpg/maintenance"
	"github.com/youssefsiam38/sessionpg/types"
)

func newSQLiteClient(t *testing.T, opts ...Option) (*Client[*sql.Tx], *sql.DB) {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	drv := sqlite.New(db)
	if err := drv.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	base := []Option{
		WithSummarizer(&stubSummarizer{summary: "summary"}),
		WithEstimator(costEstimator(map[string]int{"msg1": 30, "reply1": 30, "msg2": 50})),
	}
	client, err := NewWithDriver(drv, Config{CompactionThreshold: 100}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewWithDriver failed: %v", err)
	}
	return client, db
}

func TestClient_StartStop(t *testing.T) {
	ctx := context.Background()
	client, _ := newSQLiteClient(t)

	if err := client.Stop(ctx); !errors.Is(err, ErrClientNotStarted) {
		t.Fatalf("Stop before Start error = %v, want ErrClientNotStarted", err)
	}
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !client.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := client.Start(ctx); !errors.Is(err, ErrClientAlreadyStarted) {
		t.Fatalf("second Start error = %v, want ErrClientAlreadyStarted", err)
	}
	if err := client.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if client.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestClient_EndToEnd(t *testing.T) {
	ctx := context.Background()
	client, _ := newSQLiteClient(t)
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop(ctx)

	for _, step := range []struct {
		role    types.Role
		content string
	}{
		{types.RoleUser, "msg1"},
		{types.RoleAssistant, "reply1"},
		{types.RoleUser, "msg2"},
	} {
		if _, err := client.Append(ctx, "s1", step.role, step.content); err != nil {
			t.Fatalf("Append(%q) failed: %v", step.content, err)
		}
	}

	turns, err := client.Context(ctx, "s1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != types.RoleUser {
		t.Fatalf("Context = %+v, want only the checkpoint", turns)
	}

	stats, err := client.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.CompactionCount != 1 {
		t.Errorf("CompactionCount = %d, want 1", stats.CompactionCount)
	}
}

func TestClient_AppendTx(t *testing.T) {
	ctx := context.Background()
	registry := hooks.NewRegistry()

	var sawTx atomic.Bool
	registry.OnAfterAppend(func(ctx context.Context, msg *types.Message) error {
		if _, err := TxFromContextSafely[*sql.Tx](ctx); err == nil {
			sawTx.Store(true)
		}
		return nil
	})
	client, db := newSQLiteClient(t, WithHooks(registry))

	t.Run("rollback discards the message", func(t *testing.T) {
		sawTx.Store(false)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx failed: %v", err)
		}
		if _, err := client.AppendTx(ctx, tx, "s1", types.RoleUser, "msg1"); err != nil {
			tx.Rollback()
			t.Fatalf("AppendTx failed: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if !sawTx.Load() {
			t.Error("hook did not see the native transaction")
		}

		msgs, err := client.History(ctx, "s1")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("History = %d messages after rollback, want 0", len(msgs))
		}
	})

	t.Run("commit keeps message and checkpoint", func(t *testing.T) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx failed: %v", err)
		}
		for _, content := range []string{"msg1", "reply1", "msg2"} {
			if _, err := client.AppendTx(ctx, tx, "s2", types.RoleUser, content); err != nil {
				tx.Rollback()
				t.Fatalf("AppendTx(%q) failed: %v", content, err)
			}
		}
		turns, err := client.ContextTx(ctx, tx, "s2")
		if err != nil {
			tx.Rollback()
			t.Fatalf("ContextTx failed: %v", err)
		}
		if len(turns) != 1 {
			t.Errorf("ContextTx = %+v, want the checkpoint only", turns)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		msgs, err := client.History(ctx, "s2")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(msgs) != 4 {
			t.Errorf("History = %d messages, want 4", len(msgs))
		}
	})

	t.Run("delete in transaction", func(t *testing.T) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx failed: %v", err)
		}
		if err := client.DeleteSessionTx(ctx, tx, "s2"); err != nil {
			tx.Rollback()
			t.Fatalf("DeleteSessionTx failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		msgs, err := client.History(ctx, "s2")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("History = %d messages after delete, want 0", len(msgs))
		}
	})
}

func TestClient_Heartbeat(t *testing.T) {
	ctx := context.Background()
	errCh := make(chan error, 1)
	pinger := maintenance.PingerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	client, _ := newSQLiteClient(t,
		WithHeartbeat(pinger, 5*time.Millisecond),
		WithRetention(24*time.Hour, time.Hour),
		WithErrorHandler(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop(ctx)

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("error handler received nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler was not called for a failing ping")
	}
}

func TestClient_LeaderElection(t *testing.T) {
	ctx := context.Background()
	first, db := newSQLiteClient(t, WithRetention(24*time.Hour, time.Hour), WithLeaderElection("instance-1"))

	second, err := NewWithDriver(sqlite.New(db), Config{},
		WithSummarizer(&stubSummarizer{summary: "s"}),
		WithRetention(24*time.Hour, time.Hour),
		WithLeaderElection("instance-2"),
	)
	if err != nil {
		t.Fatalf("NewWithDriver failed: %v", err)
	}

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !first.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !first.IsLeader() {
		t.Fatal("first instance did not become leader")
	}

	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer second.Stop(ctx)

	time.Sleep(50 * time.Millisecond)
	if second.IsLeader() {
		t.Error("second instance became leader while the first holds the lease")
	}
}

func TestNewWithDriver_LeaderElectionNeedsLeaderService(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	_, err = NewWithDriver(sqlite.New(db), Config{},
		WithSummarizer(&stubSummarizer{}),
		WithLeaderElection("instance-1"),
	)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestClient_RescuerWithoutRetention(t *testing.T) {
	ctx := context.Background()
	client, _ := newSQLiteClient(t, WithCompactionRescue(time.Hour, 0), WithLeaderElection("instance-1"))

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !client.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !client.IsLeader() {
		t.Fatal("instance did not become leader")
	}

	if err := client.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if client.rescuer.IsRunning() {
		t.Error("rescuer still running after Stop")
	}
}

func TestWithCompactionRescue_Validation(t *testing.T) {
	for _, tc := range []struct{ lookback, interval time.Duration }{
		{-time.Minute, 0},
		{0, -time.Second},
	} {
		_, err := New(testutil.NewMemoryStore(), Config{},
			WithSummarizer(&stubSummarizer{}),
			WithCompactionRescue(tc.lookback, tc.interval),
		)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("WithCompactionRescue(%v, %v) error = %v, want ErrInvalidConfig", tc.lookback, tc.interval, err)
		}
	}
}

func TestNewWithDriver_NilDriver(t *testing.T) {
	_, err := NewWithDriver[*sql.Tx](nil, Config{}, WithSummarizer(&stubSummarizer{}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewWithDriver(nil) error = %v, want ErrInvalidConfig", err)
	}
}
