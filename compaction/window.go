package compaction

import "github.com/youssefsiam38/sessionpg/types"

// Window is the part of a session's log a compaction would fold: every
// user, assistant and checkpoint message from the latest checkpoint on.
type Window struct {
	// Messages are in log order. When Checkpoint is set it is Messages[0].
	Messages []*types.Message

	// Checkpoint is the latest checkpoint, or nil when the session has none.
	Checkpoint *types.Message

	// Tokens is the estimated token total of Messages.
	Tokens int
}

// LastCheckpointIndex returns the index of the last checkpoint in messages, or -1.
func LastCheckpointIndex(messages []*types.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsCheckpoint() {
			return i
		}
	}
	return -1
}

// SelectWindow returns the window of messages. System messages are ignored.
// Tokens is left at zero.
func SelectWindow(messages []*types.Message) *Window {
	conversation := make([]*types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role.IsConversational() {
			conversation = append(conversation, msg)
		}
	}

	w := &Window{Messages: conversation}
	if i := LastCheckpointIndex(conversation); i >= 0 {
		w.Messages = conversation[i:]
		w.Checkpoint = conversation[i]
	}
	return w
}

// FoldedMessages returns the fold count recorded on the window's checkpoint.
func (w *Window) FoldedMessages() int {
	if w.Checkpoint == nil {
		return 0
	}
	n, _, _ := ParseCheckpoint(w.Checkpoint.Content)
	return n
}
