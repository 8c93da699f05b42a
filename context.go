package sessionpg

import (
	"context"
	"errors"
)

// nativeTxContextKey is the context key for storing the native transaction type.
type nativeTxContextKey struct{}

// ErrNoTransaction is returned when TxFromContextSafely is called
// but no transaction exists in context.
var ErrNoTransaction = errors.New("sessionpg: no transaction in context, only available within a Tx call")

// withNativeTx stores the native transaction in context.
// This is called internally by the Client Tx methods to make the transaction
// available to hooks.
func withNativeTx[TTx any](ctx context.Context, tx TTx) context.Context {
	return context.WithValue(ctx, nativeTxContextKey{}, tx)
}

// TxFromContext returns the native database transaction from the context.
// Hooks receive it when the operation was started with AppendTx, ContextTx
// or DeleteSessionTx.
//
// It panics if the context does not contain a transaction. Use TxFromContextSafely
// if you need to handle the case where no transaction is present.
//
// The type parameter TTx must match the transaction type of your driver:
//   - pgx.Tx for pgxv5.Driver
//   - *sql.Tx for databasesql.Driver and sqlite.Driver
//
// Example:
//
//	registry.OnAfterAppend(func(ctx context.Context, msg *types.Message) error {
//	    tx := sessionpg.TxFromContext[pgx.Tx](ctx)
//	    _, err := tx.Exec(ctx, "UPDATE chats SET last_message_at = now() WHERE id = $1", msg.SessionID)
//	    return err
//	})
func TxFromContext[TTx any](ctx context.Context) TTx {
	tx, err := TxFromContextSafely[TTx](ctx)
	if err != nil {
		panic(err)
	}
	return tx
}

// TxFromContextSafely returns the native database transaction from the context.
// Unlike TxFromContext, it returns an error instead of panicking if no transaction
// is present.
//
// This is useful for hooks that run both with and without a transaction:
//
//	tx, err := sessionpg.TxFromContextSafely[pgx.Tx](ctx)
//	if err != nil {
//	    // No transaction - use the pool directly
//	    return updateWithoutTx(ctx, msg)
//	}
//	_, err = tx.Exec(ctx, "UPDATE chats ...")
func TxFromContextSafely[TTx any](ctx context.Context) (TTx, error) {
	var zero TTx
	val := ctx.Value(nativeTxContextKey{})
	if val == nil {
		return zero, ErrNoTransaction
	}
	tx, ok := val.(TTx)
	if !ok {
		return zero, ErrNoTransaction
	}
	return tx, nil
}

// WithTestTx creates a context with a native transaction for testing hooks.
// This is intended for unit testing hooks that use TxFromContext.
//
// Example:
//
//	func TestMyHook(t *testing.T) {
//	    tx, _ := pool.Begin(ctx)
//	    defer tx.Rollback(ctx)
//
//	    ctx := sessionpg.WithTestTx(context.Background(), tx)
//	    err := myHook(ctx, msg)
//	    // assertions...
//	}
func WithTestTx[TTx any](ctx context.Context, tx TTx) context.Context {
	return withNativeTx(ctx, tx)
}

// stripNativeTx removes the native transaction from context.
// Used for background compaction, which outlives the caller's transaction.
func stripNativeTx(ctx context.Context) context.Context {
	return &nativeTxStrippedContext{ctx}
}

// nativeTxStrippedContext wraps a context to hide the native transaction
// while preserving deadline, cancellation, and other values.
type nativeTxStrippedContext struct {
	context.Context
}

// Value returns nil for the native tx key, delegating other keys to the parent.
func (c *nativeTxStrippedContext) Value(key any) any {
	if _, ok := key.(nativeTxContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
