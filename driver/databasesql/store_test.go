package databasesql

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/internal/testutil"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	testutil.RequireIntegration(t)

	pg := testutil.NewTestDB(t)
	t.Cleanup(pg.Close)

	db, err := sql.Open("postgres", pg.URL)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	drv := New(db, pg.URL)
	if err := drv.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := pg.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}
	return drv
}

func TestIntegration_DatabaseSQL_Store_Contract(t *testing.T) {
	drv := newTestDriver(t)
	testutil.RunStoreSuite(t, func(t *testing.T) storage.Store {
		return drv.GetStore()
	})
}

func TestIntegration_DatabaseSQL_NestedTransaction(t *testing.T) {
	drv := newTestDriver(t)
	store := drv.GetStore()
	ctx := context.Background()
	sessionID := testutil.SessionID(t)

	outerTx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin outer failed: %v", err)
	}
	defer outerTx.Rollback(ctx)

	outerCtx := driver.WithExecutor(ctx, outerTx)
	outerMsg, err := store.AppendMessage(outerCtx, sessionID, types.RoleUser, "outer")
	if err != nil {
		t.Fatalf("AppendMessage in outer tx failed: %v", err)
	}

	// database/sql has no nested transactions; this opens a savepoint.
	innerTx, err := outerTx.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin inner failed: %v", err)
	}

	innerCtx := driver.WithExecutor(ctx, innerTx)
	innerMsg, err := store.AppendMessage(innerCtx, sessionID, types.RoleAssistant, "inner")
	if err != nil {
		t.Fatalf("AppendMessage in inner tx failed: %v", err)
	}

	if err := innerTx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback inner failed: %v", err)
	}
	if err := outerTx.Commit(ctx); err != nil {
		t.Fatalf("Commit outer failed: %v", err)
	}

	messages, err := store.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}

	outerFound, innerFound := false, false
	for _, m := range messages {
		outerFound = outerFound || m.ID == outerMsg.ID
		innerFound = innerFound || m.ID == innerMsg.ID
	}
	if !outerFound {
		t.Error("Outer message should exist after commit")
	}
	if innerFound {
		t.Error("Inner message should NOT exist after savepoint rollback")
	}
}

func TestIntegration_DatabaseSQL_InTxRollsBackOnError(t *testing.T) {
	drv := newTestDriver(t)
	store := drv.GetStore()
	ctx := context.Background()
	sessionID := testutil.SessionID(t)

	wantErr := sql.ErrConnDone
	err := driver.InTx(ctx, drv.GetExecutor(), func(ctx context.Context, _ driver.ExecutorTx) error {
		if _, err := store.AppendMessage(ctx, sessionID, types.RoleUser, "discarded"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("InTx error = %v, want %v", err, wantErr)
	}

	messages, err := store.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("GetMessages returned %d messages, want 0", len(messages))
	}
}
