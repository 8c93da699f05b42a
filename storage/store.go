// Package storage defines the persistence contract of the session memory
// engine: an append-only, per-session message log plus compaction audit
// records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/youssefsiam38/sessionpg/types"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrSessionNotFound is returned when a session has no row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptySessionID is returned when an operation is given an empty session ID.
	ErrEmptySessionID = errors.New("session id is required")
)

// Store is the message log consumed by the memory engine.
//
// Implementations must provide read-your-writes and a stable total order:
// repeated reads of a session return the same messages in the same order,
// ascending by Order. AppendMessage allocates a fresh Order that is strictly
// greater than every Order already stored for the session.
type Store interface {
	// AppendMessage stores a new message and returns it with ID, Order and
	// CreatedAt populated. The session row is created on first append.
	AppendMessage(ctx context.Context, sessionID string, role types.Role, content string) (*types.Message, error)

	// GetMessages returns every message of the session in order.
	GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// GetMessagesByRoles returns the session's messages whose role is in roles,
	// in order. An empty roles slice returns every message.
	GetMessagesByRoles(ctx context.Context, sessionID string, roles []types.Role) ([]*types.Message, error)

	// GetMessagesAfter returns messages with Order >= fromOrder whose role is
	// in roles (all roles when empty), in order.
	GetMessagesAfter(ctx context.Context, sessionID string, fromOrder int64, roles []types.Role) ([]*types.Message, error)

	// DeleteSession removes the session, its messages and its compaction history.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetSession returns the session row or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// GetIdleSessions returns up to limit session IDs not updated since horizon.
	GetIdleSessions(ctx context.Context, horizon time.Time, limit int) ([]string, error)

	// GetActiveSessions returns up to limit session IDs updated at or after
	// since, most recently updated first.
	GetActiveSessions(ctx context.Context, since time.Time, limit int) ([]string, error)

	// RecordCompaction saves a compaction event and increments the session's
	// compaction count.
	RecordCompaction(ctx context.Context, event *CompactionEvent) error

	// GetCompactionHistory returns the session's compaction events, oldest first.
	GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error)
}

// CompactionEvent represents one checkpoint written for a session.
type CompactionEvent struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	CheckpointID    string    `json:"checkpoint_id"`
	CheckpointOrder int64     `json:"checkpoint_order"`
	FoldedMessages  int       `json:"folded_messages"`
	OriginalTokens  int       `json:"original_tokens"`
	SummaryTokens   int       `json:"summary_tokens"`
	ModelUsed       string    `json:"model_used,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// RoleStrings converts roles to their stored string form.
func RoleStrings(roles []types.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
