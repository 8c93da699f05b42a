package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// Store implements storage.Store on SQLite.
type Store struct {
	driver *Driver
	now    func() time.Time
}

// NewStore creates a new SQLite Store.
func NewStore(d *Driver) *Store {
	return &Store{driver: d, now: time.Now}
}

// getExecutor returns the executor from context if present, otherwise the default executor.
func (s *Store) getExecutor(ctx context.Context) driver.Executor {
	if exec := driver.ExecutorFromContext(ctx); exec != nil {
		return exec
	}
	return s.driver.GetExecutor()
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// AppendMessage upserts the session row and inserts the message in one transaction.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role types.Role, content string) (*types.Message, error) {
	if sessionID == "" {
		return nil, storage.ErrEmptySessionID
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownRole, role)
	}

	now := s.now()
	msg := &types.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: fromUnix(toUnix(now)),
	}

	err := driver.InTx(ctx, s.driver.GetExecutor(), func(ctx context.Context, tx driver.ExecutorTx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessionpg_sessions (id, created_at, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at
		`, sessionID, toUnix(now), toUnix(now))
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
			INSERT INTO sessionpg_messages (id, session_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING seq
		`, msg.ID, sessionID, string(role), content, toUnix(now)).Scan(&msg.Order)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

// GetMessages returns every message of the session ordered by seq.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	return s.GetMessagesAfter(ctx, sessionID, 0, nil)
}

// GetMessagesByRoles returns the session's messages with a role in roles.
func (s *Store) GetMessagesByRoles(ctx context.Context, sessionID string, roles []types.Role) ([]*types.Message, error) {
	return s.GetMessagesAfter(ctx, sessionID, 0, roles)
}

// GetMessagesAfter returns messages with seq >= fromOrder and a role in roles.
func (s *Store) GetMessagesAfter(ctx context.Context, sessionID string, fromOrder int64, roles []types.Role) ([]*types.Message, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT id, session_id, role, content, seq, created_at
		FROM sessionpg_messages
		WHERE session_id = ? AND seq >= ?`)

	args := []any{sessionID, fromOrder}
	if len(roles) > 0 {
		query.WriteString(" AND role IN (?" + strings.Repeat(", ?", len(roles)-1) + ")")
		for _, r := range roles {
			args = append(args, string(r))
		}
	}
	query.WriteString(" ORDER BY seq ASC")

	rows, err := s.getExecutor(ctx).Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var (
			msg       types.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Order, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Role, err = types.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		msg.CreatedAt = fromUnix(createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// DeleteSession removes the session with its messages and compaction events.
// Rows are deleted explicitly so the result does not depend on the
// foreign_keys pragma of the connection.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	err := driver.InTx(ctx, s.driver.GetExecutor(), func(ctx context.Context, tx driver.ExecutorTx) error {
		for _, stmt := range []string{
			`DELETE FROM sessionpg_compaction_events WHERE session_id = ?`,
			`DELETE FROM sessionpg_messages WHERE session_id = ?`,
			`DELETE FROM sessionpg_sessions WHERE id = ?`,
		} {
			if _, err := tx.Exec(ctx, stmt, sessionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var (
		session              types.Session
		createdAt, updatedAt int64
	)
	err := s.getExecutor(ctx).QueryRow(ctx, `
		SELECT id, compaction_count, created_at, updated_at
		FROM sessionpg_sessions
		WHERE id = ?
	`, sessionID).Scan(&session.ID, &session.CompactionCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.CreatedAt = fromUnix(createdAt)
	session.UpdatedAt = fromUnix(updatedAt)
	return &session, nil
}

// GetIdleSessions returns sessions whose last append is older than horizon.
func (s *Store) GetIdleSessions(ctx context.Context, horizon time.Time, limit int) ([]string, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT id FROM sessionpg_sessions
		WHERE updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, toUnix(horizon), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetActiveSessions returns sessions appended to at or after since, most recent first.
func (s *Store) GetActiveSessions(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT id FROM sessionpg_sessions
		WHERE updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, toUnix(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordCompaction saves a compaction event and bumps the session's compaction count.
func (s *Store) RecordCompaction(ctx context.Context, event *storage.CompactionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := s.now()

	err := driver.InTx(ctx, s.driver.GetExecutor(), func(ctx context.Context, tx driver.ExecutorTx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessionpg_compaction_events (
				id, session_id, checkpoint_id, checkpoint_order, folded_messages,
				original_tokens, summary_tokens, model_used, duration_ms, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.ID, event.SessionID, event.CheckpointID, event.CheckpointOrder,
			event.FoldedMessages, event.OriginalTokens, event.SummaryTokens,
			event.ModelUsed, event.DurationMs, toUnix(now),
		)
		if err != nil {
			return fmt.Errorf("failed to save compaction event: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE sessionpg_sessions
			SET compaction_count = compaction_count + 1
			WHERE id = ?
		`, event.SessionID)
		if err != nil {
			return fmt.Errorf("failed to update compaction count: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	event.CreatedAt = fromUnix(toUnix(now))
	return nil
}

// GetCompactionHistory returns the session's compaction events, oldest first.
func (s *Store) GetCompactionHistory(ctx context.Context, sessionID string) ([]*storage.CompactionEvent, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT id, session_id, checkpoint_id, checkpoint_order, folded_messages,
		       original_tokens, summary_tokens, model_used, duration_ms, created_at
		FROM sessionpg_compaction_events
		WHERE session_id = ?
		ORDER BY created_at ASC, checkpoint_order ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compaction events: %w", err)
	}
	defer rows.Close()

	var events []*storage.CompactionEvent
	for rows.Next() {
		var (
			e         storage.CompactionEvent
			createdAt int64
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.CheckpointID, &e.CheckpointOrder, &e.FoldedMessages,
			&e.OriginalTokens, &e.SummaryTokens, &e.ModelUsed, &e.DurationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		e.CreatedAt = fromUnix(createdAt)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction events: %w", err)
	}

	return events, nil
}

var _ storage.Store = (*Store)(nil)
