// Package history rebuilds the working context of a session from its
// message log.
//
// The working context is every system message plus everything from the
// latest checkpoint on. User and assistant turns written before that
// checkpoint are folded into it and are not returned, but they stay in the
// log.
package history

import (
	"context"
	"fmt"

	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// CheckpointMode controls how a checkpoint is surfaced to the caller.
type CheckpointMode int

const (
	// CheckpointAsUser surfaces the checkpoint as a user turn.
	CheckpointAsUser CheckpointMode = iota

	// CheckpointAsDedicatedRole surfaces the checkpoint with types.RoleCheckpoint.
	CheckpointAsDedicatedRole
)

// ParseCheckpointMode converts "user" or "dedicated" into a CheckpointMode.
// The empty string selects CheckpointAsUser.
func ParseCheckpointMode(s string) (CheckpointMode, error) {
	switch s {
	case "", "user":
		return CheckpointAsUser, nil
	case "dedicated":
		return CheckpointAsDedicatedRole, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint mode %q", s)
	}
}

// String returns the configuration name of the mode.
func (m CheckpointMode) String() string {
	switch m {
	case CheckpointAsDedicatedRole:
		return "dedicated"
	default:
		return "user"
	}
}

// Reconstructor reads a session's working context from a store.
type Reconstructor struct {
	store storage.Store
	mode  CheckpointMode
}

// NewReconstructor creates a Reconstructor.
func NewReconstructor(store storage.Store, mode CheckpointMode) *Reconstructor {
	return &Reconstructor{store: store, mode: mode}
}

// Reconstruct returns the session's working context in order. An unknown
// session yields an empty slice.
func (r *Reconstructor) Reconstruct(ctx context.Context, sessionID string) ([]types.Turn, error) {
	msgs, err := r.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return ReconstructMessages(msgs, r.mode), nil
}

// ReconstructMessages applies the working-context rule to an ordered log.
// Only the last checkpoint is consulted; earlier checkpoints are dropped
// along with the turns they folded.
func ReconstructMessages(msgs []*types.Message, mode CheckpointMode) []types.Turn {
	boundary := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsCheckpoint() {
			boundary = i
			break
		}
	}

	turns := make([]types.Turn, 0, len(msgs))
	for i, msg := range msgs {
		if i < boundary && msg.Role != types.RoleSystem {
			continue
		}

		role := msg.Role
		if role == types.RoleCheckpoint && mode == CheckpointAsUser {
			role = types.RoleUser
		}
		turns = append(turns, types.Turn{Role: role, Content: msg.Content})
	}
	return turns
}
