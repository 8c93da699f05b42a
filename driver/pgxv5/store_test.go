package pgxv5

import (
	"context"
	"testing"
	"time"

	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/internal/testutil"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	t.Cleanup(db.Close)

	ctx := context.Background()
	drv := New(db.Pool)
	if err := drv.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}
	return drv
}

func TestIntegration_Store_Contract(t *testing.T) {
	drv := newTestDriver(t)
	testutil.RunStoreSuite(t, func(t *testing.T) storage.Store {
		return drv.GetStore()
	})
}

func TestIntegration_Migrate_Idempotent(t *testing.T) {
	drv := newTestDriver(t)
	if err := drv.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestIntegration_Store_CallerTransaction(t *testing.T) {
	drv := newTestDriver(t)
	store := drv.GetStore()
	ctx := context.Background()
	sessionID := testutil.SessionID(t)

	tx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	txCtx := driver.WithExecutor(ctx, tx)

	if _, err := store.AppendMessage(txCtx, sessionID, types.RoleUser, "inside tx"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := store.GetMessages(txCtx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages in tx failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("GetMessages in tx returned %d messages, want 1", len(msgs))
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	msgs, err = store.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("GetMessages after rollback returned %d messages, want 0", len(msgs))
	}
}

func TestIntegration_ListenerNotifier(t *testing.T) {
	drv := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	listener, err := drv.GetListener(ctx)
	if err != nil {
		t.Fatalf("GetListener failed: %v", err)
	}
	defer listener.Close(ctx)

	if err := listener.Listen(ctx, driver.ChannelCheckpointCreated); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := listener.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	if err := drv.GetNotifier().Notify(ctx, driver.ChannelCheckpointCreated, "session-1"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	n, err := listener.WaitForNotification(ctx)
	if err != nil {
		t.Fatalf("WaitForNotification failed: %v", err)
	}
	if n.Channel != driver.ChannelCheckpointCreated {
		t.Errorf("channel = %q, want %q", n.Channel, driver.ChannelCheckpointCreated)
	}
	if n.Payload != "session-1" {
		t.Errorf("payload = %q, want %q", n.Payload, "session-1")
	}
}
