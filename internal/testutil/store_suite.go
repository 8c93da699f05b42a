package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// RunStoreSuite exercises the storage.Store contract against the store
// returned by newStore. Each subtest gets a fresh store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("AppendAssignsIncreasingOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		var prev int64
		for i, role := range []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleCheckpoint} {
			msg, err := store.AppendMessage(ctx, sessionID, role, "m")
			if err != nil {
				t.Fatalf("AppendMessage #%d failed: %v", i, err)
			}
			if msg.ID == "" {
				t.Errorf("AppendMessage #%d returned empty ID", i)
			}
			if msg.Order <= prev {
				t.Errorf("AppendMessage #%d order = %d, want > %d", i, msg.Order, prev)
			}
			if msg.CreatedAt.IsZero() {
				t.Errorf("AppendMessage #%d returned zero CreatedAt", i)
			}
			prev = msg.Order
		}
	})

	t.Run("AppendRejectsEmptySession", func(t *testing.T) {
		store := newStore(t)
		_, err := store.AppendMessage(context.Background(), "", types.RoleUser, "hi")
		if !errors.Is(err, storage.ErrEmptySessionID) {
			t.Errorf("AppendMessage error = %v, want ErrEmptySessionID", err)
		}
	})

	t.Run("GetMessagesReadYourWrites", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		contents := []string{"first", "second", "third"}
		for _, c := range contents {
			if _, err := store.AppendMessage(ctx, sessionID, types.RoleUser, c); err != nil {
				t.Fatalf("AppendMessage failed: %v", err)
			}
		}

		for range 2 {
			msgs, err := store.GetMessages(ctx, sessionID)
			if err != nil {
				t.Fatalf("GetMessages failed: %v", err)
			}
			if len(msgs) != len(contents) {
				t.Fatalf("GetMessages returned %d messages, want %d", len(msgs), len(contents))
			}
			for i, msg := range msgs {
				if msg.Content != contents[i] {
					t.Errorf("message %d content = %q, want %q", i, msg.Content, contents[i])
				}
				if msg.SessionID != sessionID {
					t.Errorf("message %d session = %q, want %q", i, msg.SessionID, sessionID)
				}
			}
		}
	})

	t.Run("GetMessagesUnknownSessionIsEmpty", func(t *testing.T) {
		store := newStore(t)
		msgs, err := store.GetMessages(context.Background(), SessionID(t))
		if err != nil {
			t.Fatalf("GetMessages failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("GetMessages returned %d messages, want 0", len(msgs))
		}
	})

	t.Run("SessionsAreIsolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		a, b := SessionID(t)+"-a", SessionID(t)+"-b"

		mustAppend(t, store, a, types.RoleUser, "for a")
		mustAppend(t, store, b, types.RoleUser, "for b")

		msgs, err := store.GetMessages(ctx, a)
		if err != nil {
			t.Fatalf("GetMessages failed: %v", err)
		}
		if len(msgs) != 1 || msgs[0].Content != "for a" {
			t.Errorf("session a messages = %+v, want only 'for a'", msgs)
		}
	})

	t.Run("GetMessagesByRoles", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		mustAppend(t, store, sessionID, types.RoleSystem, "sys")
		mustAppend(t, store, sessionID, types.RoleUser, "u1")
		mustAppend(t, store, sessionID, types.RoleAssistant, "a1")
		mustAppend(t, store, sessionID, types.RoleCheckpoint, "cp")

		tests := []struct {
			name  string
			roles []types.Role
			want  []string
		}{
			{name: "empty filter returns all", roles: nil, want: []string{"sys", "u1", "a1", "cp"}},
			{name: "conversation roles", roles: types.ConversationRoles(), want: []string{"u1", "a1", "cp"}},
			{name: "system only", roles: []types.Role{types.RoleSystem}, want: []string{"sys"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				msgs, err := store.GetMessagesByRoles(ctx, sessionID, tt.roles)
				if err != nil {
					t.Fatalf("GetMessagesByRoles failed: %v", err)
				}
				assertContents(t, msgs, tt.want)
			})
		}
	})

	t.Run("GetMessagesAfterIsInclusive", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		mustAppend(t, store, sessionID, types.RoleUser, "u1")
		cp := mustAppend(t, store, sessionID, types.RoleCheckpoint, "cp")
		mustAppend(t, store, sessionID, types.RoleSystem, "sys")
		mustAppend(t, store, sessionID, types.RoleUser, "u2")

		msgs, err := store.GetMessagesAfter(ctx, sessionID, cp.Order, types.ConversationRoles())
		if err != nil {
			t.Fatalf("GetMessagesAfter failed: %v", err)
		}
		assertContents(t, msgs, []string{"cp", "u2"})

		all, err := store.GetMessagesAfter(ctx, sessionID, cp.Order, nil)
		if err != nil {
			t.Fatalf("GetMessagesAfter failed: %v", err)
		}
		assertContents(t, all, []string{"cp", "sys", "u2"})
	})

	t.Run("GetSession", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		if _, err := store.GetSession(ctx, sessionID); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Fatalf("GetSession before append error = %v, want ErrSessionNotFound", err)
		}

		mustAppend(t, store, sessionID, types.RoleUser, "hi")

		sess, err := store.GetSession(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if sess.ID != sessionID {
			t.Errorf("session ID = %q, want %q", sess.ID, sessionID)
		}
		if sess.CompactionCount != 0 {
			t.Errorf("compaction count = %d, want 0", sess.CompactionCount)
		}
	})

	t.Run("DeleteSession", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		cp := mustAppend(t, store, sessionID, types.RoleCheckpoint, "cp")
		if err := store.RecordCompaction(ctx, &storage.CompactionEvent{
			SessionID:       sessionID,
			CheckpointID:    cp.ID,
			CheckpointOrder: cp.Order,
			FoldedMessages:  2,
		}); err != nil {
			t.Fatalf("RecordCompaction failed: %v", err)
		}

		if err := store.DeleteSession(ctx, sessionID); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}

		msgs, err := store.GetMessages(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetMessages failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("GetMessages after delete returned %d messages, want 0", len(msgs))
		}
		events, err := store.GetCompactionHistory(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetCompactionHistory failed: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("GetCompactionHistory after delete returned %d events, want 0", len(events))
		}
		if _, err := store.GetSession(ctx, sessionID); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Errorf("GetSession after delete error = %v, want ErrSessionNotFound", err)
		}

		// Deleting again is not an error.
		if err := store.DeleteSession(ctx, sessionID); err != nil {
			t.Errorf("second DeleteSession failed: %v", err)
		}
	})

	t.Run("RecordCompaction", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		mustAppend(t, store, sessionID, types.RoleUser, "u1")
		for i := 1; i <= 2; i++ {
			cp := mustAppend(t, store, sessionID, types.RoleCheckpoint, "cp")
			event := &storage.CompactionEvent{
				SessionID:       sessionID,
				CheckpointID:    cp.ID,
				CheckpointOrder: cp.Order,
				FoldedMessages:  i + 1,
				OriginalTokens:  1500,
				SummaryTokens:   120,
				ModelUsed:       "test-model",
				DurationMs:      42,
			}
			if err := store.RecordCompaction(ctx, event); err != nil {
				t.Fatalf("RecordCompaction failed: %v", err)
			}
			if event.ID == "" {
				t.Error("RecordCompaction did not assign an ID")
			}
		}

		events, err := store.GetCompactionHistory(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetCompactionHistory failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("GetCompactionHistory returned %d events, want 2", len(events))
		}
		if events[0].FoldedMessages != 2 || events[1].FoldedMessages != 3 {
			t.Errorf("folded messages = %d, %d, want 2, 3", events[0].FoldedMessages, events[1].FoldedMessages)
		}
		if events[1].ModelUsed != "test-model" || events[1].OriginalTokens != 1500 {
			t.Errorf("event fields not round-tripped: %+v", events[1])
		}

		sess, err := store.GetSession(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if sess.CompactionCount != 2 {
			t.Errorf("compaction count = %d, want 2", sess.CompactionCount)
		}
	})

	t.Run("GetIdleSessions", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		mustAppend(t, store, sessionID, types.RoleUser, "hi")

		ids, err := store.GetIdleSessions(ctx, time.Now().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("GetIdleSessions failed: %v", err)
		}
		for _, id := range ids {
			if id == sessionID {
				t.Errorf("active session %q reported idle", sessionID)
			}
		}

		ids, err = store.GetIdleSessions(ctx, time.Now().Add(time.Hour), 1000)
		if err != nil {
			t.Fatalf("GetIdleSessions failed: %v", err)
		}
		found := false
		for _, id := range ids {
			found = found || id == sessionID
		}
		if !found {
			t.Errorf("GetIdleSessions with future horizon = %v, want it to include %q", ids, sessionID)
		}
	})

	t.Run("GetActiveSessions", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sessionID := SessionID(t)

		mustAppend(t, store, sessionID, types.RoleUser, "hi")

		ids, err := store.GetActiveSessions(ctx, time.Now().Add(-time.Hour), 1000)
		if err != nil {
			t.Fatalf("GetActiveSessions failed: %v", err)
		}
		found := false
		for _, id := range ids {
			found = found || id == sessionID
		}
		if !found {
			t.Errorf("GetActiveSessions = %v, want it to include %q", ids, sessionID)
		}

		ids, err = store.GetActiveSessions(ctx, time.Now().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("GetActiveSessions failed: %v", err)
		}
		for _, id := range ids {
			if id == sessionID {
				t.Errorf("session %q reported active after a future horizon", sessionID)
			}
		}
	})

	t.Run("LeaderLease", func(t *testing.T) {
		leaders, ok := newStore(t).(storage.LeaderStore)
		if !ok {
			t.Skip("store does not implement storage.LeaderStore")
		}
		ctx := context.Background()
		a := &storage.LeaderElectParams{LeaderID: SessionID(t) + "-a", TTL: time.Minute}
		b := &storage.LeaderElectParams{LeaderID: SessionID(t) + "-b", TTL: time.Minute}

		if elected, err := leaders.LeaderAttemptElect(ctx, a); err != nil || !elected {
			t.Fatalf("first election = %v, %v; want elected", elected, err)
		}
		if elected, err := leaders.LeaderAttemptElect(ctx, b); err != nil || elected {
			t.Fatalf("election against a live lease = %v, %v; want not elected", elected, err)
		}
		if ok, err := leaders.LeaderAttemptReelect(ctx, a); err != nil || !ok {
			t.Fatalf("reelection by the holder = %v, %v; want renewed", ok, err)
		}
		if ok, err := leaders.LeaderAttemptReelect(ctx, b); err != nil || ok {
			t.Fatalf("reelection by a non-holder = %v, %v; want refused", ok, err)
		}
		if err := leaders.LeaderResign(ctx, a.LeaderID); err != nil {
			t.Fatalf("LeaderResign failed: %v", err)
		}
		if elected, err := leaders.LeaderAttemptElect(ctx, b); err != nil || !elected {
			t.Fatalf("election after resignation = %v, %v; want elected", elected, err)
		}
		if err := leaders.LeaderResign(ctx, b.LeaderID); err != nil {
			t.Fatalf("LeaderResign failed: %v", err)
		}
	})
}

func mustAppend(t *testing.T, store storage.Store, sessionID string, role types.Role, content string) *types.Message {
	t.Helper()
	msg, err := store.AppendMessage(context.Background(), sessionID, role, content)
	if err != nil {
		t.Fatalf("AppendMessage(%s, %q) failed: %v", role, content, err)
	}
	return msg
}

func assertContents(t *testing.T, msgs []*types.Message, want []string) {
	t.Helper()
	if len(msgs) != len(want) {
		got := make([]string, len(msgs))
		for i, m := range msgs {
			got[i] = m.Content
		}
		t.Fatalf("got messages %q, want %q", got, want)
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d content = %q, want %q", i, m.Content, want[i])
		}
	}
}
