// Package databasesql provides a database/sql driver implementation for sessionpg.
//
// Any database/sql PostgreSQL driver works for queries. LISTEN support uses
// lib/pq's listener, which needs the connection string.
//
// Usage:
//
//	db, _ := sql.Open("postgres", databaseURL)
//	drv := databasesql.New(db, databaseURL)
//	svc, _ := sessionpg.NewWithDriver(drv, sessionpg.Config{...})
package databasesql

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/storage"
)

// Driver implements driver.Driver using database/sql.
type Driver struct {
	db      *sql.DB
	connStr string
}

// New creates a new database/sql driver using the provided connection.
// The connStr is required for creating listener connections.
func New(db *sql.DB, connStr string) *Driver {
	return &Driver{db: db, connStr: connStr}
}

// GetExecutor returns an executor for non-transactional operations.
func (d *Driver) GetExecutor() driver.Executor {
	return NewExecutor(d.db)
}

// UnwrapExecutor converts a *sql.Tx to an ExecutorTx.
func (d *Driver) UnwrapExecutor(tx *sql.Tx) driver.ExecutorTx {
	return &ExecutorTx{tx: tx}
}

// Begin starts a new transaction and returns an ExecutorTx.
func (d *Driver) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return d.GetExecutor().Begin(ctx)
}

// GetStore returns a Store implementation using this driver.
func (d *Driver) GetStore() storage.Store {
	return NewStore(d)
}

// Migrate applies the embedded PostgreSQL schema.
func (d *Driver) Migrate(ctx context.Context) error {
	migrations, err := storage.PostgresMigrations()
	if err != nil {
		return err
	}
	return driver.Migrate(ctx, d.GetExecutor(), migrations)
}

// GetListener opens a lib/pq listener connection.
func (d *Driver) GetListener(ctx context.Context) (driver.Listener, error) {
	if d.connStr == "" {
		return nil, fmt.Errorf("databasesql: connection string required for LISTEN")
	}
	return NewListener(d.connStr), nil
}

// GetNotifier returns a Notifier for sending PostgreSQL notifications.
func (d *Driver) GetNotifier() driver.Notifier {
	return &Notifier{db: d.db}
}

// DB returns the underlying database connection.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Executor wraps *sql.DB for non-transactional operations.
type Executor struct {
	db *sql.DB
}

// NewExecutor wraps db as a driver.Executor.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Begin starts a new transaction.
func (e *Executor) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{tx: tx}, nil
}

// Exec executes a query that doesn't return rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return rowsAffected(e.db.ExecContext(ctx, query, args...))
}

// Query executes a query that returns rows.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row.
func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return e.db.QueryRowContext(ctx, query, args...)
}

// ExecutorTx wraps *sql.Tx. database/sql has no nested transactions, so a
// nested Begin opens a savepoint on the same transaction.
type ExecutorTx struct {
	tx        *sql.Tx
	savepoint string
	depth     *atomic.Int64
}

// Begin opens a savepoint inside the transaction.
func (e *ExecutorTx) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	depth := e.depth
	if depth == nil {
		depth = new(atomic.Int64)
		e.depth = depth
	}

	name := fmt.Sprintf("sessionpg_sp_%d", depth.Add(1))
	if _, err := e.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &ExecutorTx{tx: e.tx, savepoint: name, depth: depth}, nil
}

// Exec executes a query that doesn't return rows within the transaction.
func (e *ExecutorTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return rowsAffected(e.tx.ExecContext(ctx, query, args...))
}

// Query executes a query that returns rows within the transaction.
func (e *ExecutorTx) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row within the transaction.
func (e *ExecutorTx) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return e.tx.QueryRowContext(ctx, query, args...)
}

// Commit commits the transaction or releases the savepoint.
func (e *ExecutorTx) Commit(ctx context.Context) error {
	if e.savepoint != "" {
		_, err := e.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+e.savepoint)
		return err
	}
	return e.tx.Commit()
}

// Rollback rolls back the transaction or to the savepoint.
func (e *ExecutorTx) Rollback(ctx context.Context) error {
	if e.savepoint != "" {
		_, err := e.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+e.savepoint)
		return err
	}
	return e.tx.Rollback()
}

// Tx returns the underlying *sql.Tx.
func (e *ExecutorTx) Tx() *sql.Tx {
	return e.tx
}

func rowsAffected(result sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		// Some statements (DDL, SELECT pg_notify) do not report affected rows.
		return 0, nil
	}
	return n, nil
}

// rowsWrapper adapts *sql.Rows to driver.Rows.
type rowsWrapper struct {
	rows *sql.Rows
}

func (r *rowsWrapper) Close()                 { _ = r.rows.Close() }
func (r *rowsWrapper) Err() error             { return r.rows.Err() }
func (r *rowsWrapper) Next() bool             { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...any) error { return r.rows.Scan(dest...) }

var (
	_ driver.Driver[*sql.Tx] = (*Driver)(nil)
	_ driver.Executor        = (*Executor)(nil)
	_ driver.ExecutorTx      = (*ExecutorTx)(nil)
)
