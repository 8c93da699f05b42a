package driver

import (
	"context"
	"errors"
)

// Notification represents a PostgreSQL NOTIFY notification.
type Notification struct {
	// Channel is the notification channel name.
	Channel string

	// Payload is the notification payload (may be empty).
	Payload string
}

// Listener provides PostgreSQL LISTEN/NOTIFY functionality.
type Listener interface {
	// Listen starts listening on the specified channel.
	Listen(ctx context.Context, channel string) error

	// Unlisten stops listening on the specified channel.
	Unlisten(ctx context.Context, channel string) error

	// WaitForNotification blocks until a notification arrives on any
	// subscribed channel, the context is cancelled, or the connection fails.
	WaitForNotification(ctx context.Context) (*Notification, error)

	// Ping checks if the listener connection is healthy.
	Ping(ctx context.Context) error

	// Close closes the listener connection.
	Close(ctx context.Context) error
}

// Notifier sends NOTIFY notifications through any connection.
type Notifier interface {
	// Notify sends a notification on the specified channel with an optional payload.
	Notify(ctx context.Context, channel, payload string) error
}

// Notification channel names used by sessionpg. Every payload is a session ID.
const (
	// ChannelCheckpointCreated is notified after a checkpoint is appended.
	ChannelCheckpointCreated = "sessionpg_checkpoint_created"

	// ChannelSessionDeleted is notified after a session is deleted.
	ChannelSessionDeleted = "sessionpg_session_deleted"
)

// ErrNotificationsUnsupported is returned by drivers whose database has no
// LISTEN/NOTIFY support.
var ErrNotificationsUnsupported = errors.New("driver does not support notifications")
