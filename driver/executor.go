package driver

import "context"

// Row represents a single database row.
// This interface is compatible with pgx.Row and *sql.Row.
type Row interface {
	// Scan copies the columns from the matched row into the values pointed at by dest.
	Scan(dest ...any) error
}

// Rows represents a result set from a query.
// This interface is compatible with pgx.Rows and *sql.Rows (via a thin wrapper).
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// Executor runs statements against either a connection pool or a transaction.
type Executor interface {
	// Begin starts a new transaction, or a savepoint when called on a transaction.
	Begin(ctx context.Context) (ExecutorTx, error)

	// Exec executes a statement that doesn't return rows and reports the
	// number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a query that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// ExecutorTx is an Executor bound to an active transaction.
type ExecutorTx interface {
	Executor

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// InTx runs fn inside a transaction. When ctx already carries an executor
// transaction (see WithExecutor) fn joins it through a savepoint.
func InTx(ctx context.Context, exec Executor, fn func(ctx context.Context, tx ExecutorTx) error) (err error) {
	if outer := ExecutorFromContext(ctx); outer != nil {
		exec = outer
	}

	tx, err := exec.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(WithExecutor(ctx, tx), tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
