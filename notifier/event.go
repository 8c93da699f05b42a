package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/youssefsiam38/sessionpg/driver"
)

// EventKind identifies what happened to a session.
type EventKind string

// Event kinds published by sessionpg.
const (
	EventCheckpointCreated EventKind = "checkpoint_created"
	EventSessionDeleted    EventKind = "session_deleted"
)

// maxPayloadBytes is the PostgreSQL NOTIFY payload limit.
const maxPayloadBytes = 7999

// SessionEvent is a change to one session that other processes must apply
// to their cached checkpoint positions.
type SessionEvent struct {
	// Kind is carried by the channel, not the payload.
	Kind EventKind `json:"-"`

	// SessionID is the affected session.
	SessionID string `json:"session_id"`

	// CheckpointOrder is the order key of the new checkpoint. Zero for
	// deletions.
	CheckpointOrder int64 `json:"checkpoint_order,omitempty"`

	// Origin identifies the publishing notifier. Events a notifier
	// published itself are not applied to its own caches.
	Origin string `json:"origin,omitempty"`

	// ReceivedAt is set on delivery.
	ReceivedAt time.Time `json:"-"`
}

// CheckpointCreated returns the event for a checkpoint appended at order.
func CheckpointCreated(sessionID string, order int64) SessionEvent {
	return SessionEvent{Kind: EventCheckpointCreated, SessionID: sessionID, CheckpointOrder: order}
}

// SessionDeleted returns the event for a deleted session.
func SessionDeleted(sessionID string) SessionEvent {
	return SessionEvent{Kind: EventSessionDeleted, SessionID: sessionID}
}

// Validate checks that the event is well formed for its kind.
func (e SessionEvent) Validate() error {
	if _, ok := kindToChannel[e.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Kind)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidEvent)
	}
	switch e.Kind {
	case EventCheckpointCreated:
		if e.CheckpointOrder <= 0 {
			return fmt.Errorf("%w: checkpoint order %d", ErrInvalidEvent, e.CheckpointOrder)
		}
	case EventSessionDeleted:
		if e.CheckpointOrder != 0 {
			return fmt.Errorf("%w: deletion carries checkpoint order %d", ErrInvalidEvent, e.CheckpointOrder)
		}
	}
	return nil
}

var kindToChannel = map[EventKind]string{
	EventCheckpointCreated: driver.ChannelCheckpointCreated,
	EventSessionDeleted:    driver.ChannelSessionDeleted,
}

var channelToKind = map[string]EventKind{
	driver.ChannelCheckpointCreated: EventCheckpointCreated,
	driver.ChannelSessionDeleted:    EventSessionDeleted,
}

// encodeEvent validates e and returns its channel and JSON payload.
func encodeEvent(e SessionEvent) (channel, payload string, err error) {
	if err := e.Validate(); err != nil {
		return "", "", err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(data) > maxPayloadBytes {
		return "", "", fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	return kindToChannel[e.Kind], string(data), nil
}

// decodeEvent parses a notification received on channel.
func decodeEvent(n *driver.Notification) (SessionEvent, error) {
	kind, ok := channelToKind[n.Channel]
	if !ok {
		return SessionEvent{}, fmt.Errorf("%w: channel %q", ErrUnknownEventType, n.Channel)
	}

	var e SessionEvent
	if err := json.Unmarshal([]byte(n.Payload), &e); err != nil {
		return SessionEvent{}, fmt.Errorf("%w: %s payload: %v", ErrInvalidEvent, kind, err)
	}
	e.Kind = kind
	if err := e.Validate(); err != nil {
		return SessionEvent{}, err
	}
	return e, nil
}
