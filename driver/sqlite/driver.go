// Package sqlite provides an embedded SQLite driver for sessionpg, backed by
// the pure-Go modernc.org/sqlite engine.
//
// SQLite has no LISTEN/NOTIFY. GetListener returns driver.ErrNotificationsUnsupported
// and the notifier discards notifications, which is enough for a single process.
//
// Usage:
//
//	db, _ := sqlite.Open("sessions.db")
//	drv := sqlite.New(db)
//	_ = drv.Migrate(ctx)
//	svc, _ := sessionpg.NewWithDriver(drv, sessionpg.Config{...})
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/driver/databasesql"
	"github.com/youssefsiam38/sessionpg/storage"
	_ "modernc.org/sqlite" // SQLite driver
)

// Open opens a SQLite database at path (":memory:" for an in-memory one)
// configured for a single writer.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One shared connection serializes writers in database/sql and keeps an
	// in-memory database alive for the lifetime of db.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Driver implements driver.Driver on a SQLite database.
type Driver struct {
	db *sql.DB
}

// New creates a SQLite driver. db should come from Open.
func New(db *sql.DB) *Driver {
	return &Driver{db: db}
}

// GetExecutor returns an executor for non-transactional operations.
func (d *Driver) GetExecutor() driver.Executor {
	return databasesql.NewExecutor(d.db)
}

// UnwrapExecutor converts a *sql.Tx to an ExecutorTx.
func (d *Driver) UnwrapExecutor(tx *sql.Tx) driver.ExecutorTx {
	return databasesql.New(d.db, "").UnwrapExecutor(tx)
}

// Begin starts a new transaction and returns an ExecutorTx.
func (d *Driver) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return d.GetExecutor().Begin(ctx)
}

// GetStore returns a Store implementation using this driver.
func (d *Driver) GetStore() storage.Store {
	return NewStore(d)
}

// Migrate applies the embedded SQLite schema.
func (d *Driver) Migrate(ctx context.Context) error {
	migrations, err := storage.SQLiteMigrations()
	if err != nil {
		return err
	}
	return driver.Migrate(ctx, d.GetExecutor(), migrations)
}

// GetListener always fails: SQLite has no notification mechanism.
func (d *Driver) GetListener(context.Context) (driver.Listener, error) {
	return nil, driver.ErrNotificationsUnsupported
}

// GetNotifier returns a notifier that drops every notification.
func (d *Driver) GetNotifier() driver.Notifier {
	return discardNotifier{}
}

// DB returns the underlying database connection.
func (d *Driver) DB() *sql.DB {
	return d.db
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, string, string) error { return nil }

var _ driver.Driver[*sql.Tx] = (*Driver)(nil)
