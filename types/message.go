// Package types holds the data model shared by the session memory packages.
package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownRole is returned when a role string does not name one of the
// four known roles.
var ErrUnknownRole = errors.New("unknown message role")

// Role represents the message role.
//
// The set is closed: RoleSystem, RoleUser, RoleAssistant and RoleCheckpoint.
// Use ParseRole when reading a role from storage or user input.
type Role string

const (
	// RoleSystem represents a system message. System messages are never
	// hidden by compaction.
	RoleSystem Role = "system"

	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleCheckpoint represents a compaction summary that folds the turns
	// written before it.
	RoleCheckpoint Role = "checkpoint"
)

// Roles returns every known role in a stable order.
func Roles() []Role {
	return []Role{RoleSystem, RoleUser, RoleAssistant, RoleCheckpoint}
}

// ConversationRoles are the roles considered by the compaction window.
func ConversationRoles() []Role {
	return []Role{RoleUser, RoleAssistant, RoleCheckpoint}
}

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystem, RoleUser, RoleAssistant, RoleCheckpoint:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// String returns the stored form of the role.
func (r Role) String() string {
	return string(r)
}

// IsConversational reports whether the role takes part in compaction
// accounting (user, assistant and checkpoint messages).
func (r Role) IsConversational() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleCheckpoint:
		return true
	case RoleSystem:
		return false
	default:
		return false
	}
}

// Message is a single entry of a session's append-only log.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Order     int64     `json:"order"` // strictly increasing within a session
	CreatedAt time.Time `json:"created_at"`
}

// IsCheckpoint reports whether the message is a compaction checkpoint.
func (m *Message) IsCheckpoint() bool {
	return m.Role == RoleCheckpoint
}

// Turn is a role/content pair as exposed to a response generator.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session describes a conversation session.
type Session struct {
	ID              string    `json:"id"`
	CompactionCount int       `json:"compaction_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
