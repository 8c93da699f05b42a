// Package driver provides database driver abstractions for sessionpg.
//
// This package defines the interfaces that database drivers must implement
// to back the session memory engine. Two PostgreSQL drivers are provided
// (pgx/v5 and database/sql with lib/pq) through a generic driver pattern.
package driver

import (
	"context"

	"github.com/youssefsiam38/sessionpg/storage"
)

// Driver provides database operations for sessionpg.
// TTx is the native transaction type (e.g., pgx.Tx for pgx/v5, *sql.Tx for database/sql).
//
// Implementations should be created using the driver-specific New() functions:
//   - github.com/youssefsiam38/sessionpg/driver/pgxv5.New(pool)
//   - github.com/youssefsiam38/sessionpg/driver/databasesql.New(db, connStr)
type Driver[TTx any] interface {
	// GetExecutor returns an executor for non-transactional operations.
	GetExecutor() Executor

	// UnwrapExecutor converts a native transaction to an ExecutorTx.
	// This lets callers append messages inside their own transaction.
	UnwrapExecutor(tx TTx) ExecutorTx

	// Begin starts a new transaction and returns an ExecutorTx.
	Begin(ctx context.Context) (ExecutorTx, error)

	// GetStore returns the message log backed by this driver.
	GetStore() storage.Store

	// Migrate creates or upgrades the sessionpg tables.
	Migrate(ctx context.Context) error

	// GetListener returns a Listener for receiving PostgreSQL notifications.
	// The returned Listener must be closed when no longer needed.
	GetListener(ctx context.Context) (Listener, error)

	// GetNotifier returns a Notifier for sending PostgreSQL notifications.
	GetNotifier() Notifier
}
