package driver

import "context"

// executorTxContextKey is the context key for storing ExecutorTx.
type executorTxContextKey struct{}

// WithExecutor returns a new context with the given executor transaction.
// Store operations using the returned context participate in that transaction.
//
// Example:
//
//	tx, _ := drv.Begin(ctx)
//	txCtx := driver.WithExecutor(ctx, tx)
//	msg, err := store.AppendMessage(txCtx, sessionID, types.RoleUser, "hi")
func WithExecutor(ctx context.Context, exec ExecutorTx) context.Context {
	return context.WithValue(ctx, executorTxContextKey{}, exec)
}

// ExecutorFromContext retrieves the executor from context, or nil if not present.
func ExecutorFromContext(ctx context.Context) ExecutorTx {
	if exec, ok := ctx.Value(executorTxContextKey{}).(ExecutorTx); ok {
		return exec
	}
	return nil
}

// StripExecutor returns a context that hides any executor transaction while
// preserving deadline, cancellation and other values.
//
// Compaction strips the caller's transaction before calling the summarizer,
// so a summarizer that touches the database does not run inside it.
func StripExecutor(ctx context.Context) context.Context {
	return &executorStrippedContext{ctx}
}

type executorStrippedContext struct {
	context.Context
}

// Value returns nil for the executor key, delegating other keys to the parent.
func (c *executorStrippedContext) Value(key any) any {
	if _, ok := key.(executorTxContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
