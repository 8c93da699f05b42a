package databasesql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/youssefsiam38/sessionpg/driver"
)

// Notifier implements driver.Notifier using database/sql.
type Notifier struct {
	db *sql.DB
}

// Notify sends a notification on the specified channel.
func (n *Notifier) Notify(ctx context.Context, channel, payload string) error {
	if exec := driver.ExecutorFromContext(ctx); exec != nil {
		_, err := exec.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
		return err
	}
	_, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// Listener implements driver.Listener with lib/pq's reconnecting listener.
type Listener struct {
	l *pq.Listener
}

// Listener errors.
var (
	// ErrListenerClosed is returned after the listener has been closed.
	ErrListenerClosed = errors.New("listener closed")

	// ErrListenerConnectionLost is returned when lib/pq reports a dropped
	// connection. The listener reconnects and re-subscribes on its own, so
	// notifications sent while it was down may have been missed.
	ErrListenerConnectionLost = errors.New("listener connection lost")
)

// NewListener creates a listener on its own connection to connStr.
func NewListener(connStr string) *Listener {
	return &Listener{l: pq.NewListener(connStr, 10*time.Millisecond, time.Minute, nil)}
}

// Listen starts listening on the specified channel.
func (l *Listener) Listen(_ context.Context, channel string) error {
	return l.l.Listen(channel)
}

// Unlisten stops listening on the specified channel.
func (l *Listener) Unlisten(_ context.Context, channel string) error {
	return l.l.Unlisten(channel)
}

// WaitForNotification blocks until a notification arrives or ctx is done.
func (l *Listener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n, ok := <-l.l.Notify:
		if !ok {
			return nil, ErrListenerClosed
		}
		// lib/pq sends nil after re-establishing a lost connection.
		if n == nil {
			return nil, ErrListenerConnectionLost
		}
		return &driver.Notification{Channel: n.Channel, Payload: n.Extra}, nil
	}
}

// Ping checks the listener connection.
func (l *Listener) Ping(_ context.Context) error {
	return l.l.Ping()
}

// Close closes the listener connection.
func (l *Listener) Close(_ context.Context) error {
	return l.l.Close()
}

var (
	_ driver.Notifier = (*Notifier)(nil)
	_ driver.Listener = (*Listener)(nil)
)
