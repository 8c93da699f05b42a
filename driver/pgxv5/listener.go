package pgxv5

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/youssefsiam38/sessionpg/driver"
)

// ErrListenerClosed is returned by a Listener used after Close.
var ErrListenerClosed = errors.New("listener closed")

// Listener implements driver.Listener on a dedicated pooled connection.
type Listener struct {
	mu     sync.Mutex
	conn   *pgxpool.Conn
	closed bool
}

// Listen subscribes the connection to channel.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	conn, err := l.connection()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

// Unlisten removes the subscription to channel.
func (l *Listener) Unlisten(ctx context.Context, channel string) error {
	conn, err := l.connection()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

// WaitForNotification blocks until a notification arrives or ctx is done.
func (l *Listener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	conn, err := l.connection()
	if err != nil {
		return nil, err
	}

	n, err := conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &driver.Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

// Ping checks the listener connection.
func (l *Listener) Ping(ctx context.Context) error {
	conn, err := l.connection()
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

// Close unsubscribes from every channel and returns the connection to the pool.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	// A pooled connection keeps its LISTEN state, so clear it before release.
	_, err := l.conn.Exec(ctx, "UNLISTEN *")
	l.conn.Release()
	l.conn = nil
	return err
}

func (l *Listener) connection() (*pgxpool.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrListenerClosed
	}
	return l.conn, nil
}

var _ driver.Listener = (*Listener)(nil)
