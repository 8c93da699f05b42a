package notifier

import "errors"

// Errors returned by the notifier package.
var (
	// ErrAlreadyStarted is returned when Start() is called on an already started notifier.
	ErrAlreadyStarted = errors.New("notifier already started")

	// ErrNotStarted is returned when Stop() is called on a notifier that hasn't started.
	ErrNotStarted = errors.New("notifier not started")

	// ErrNotifyNotSupported is returned when Publish is called but no sender is available.
	ErrNotifyNotSupported = errors.New("notify not supported")

	// ErrUnknownEventType is returned for an unknown event kind or channel.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidEvent is returned for an event or payload that fails validation.
	ErrInvalidEvent = errors.New("invalid session event")

	// ErrPayloadTooLarge is returned when an encoded event exceeds the NOTIFY limit.
	ErrPayloadTooLarge = errors.New("event payload too large")
)
