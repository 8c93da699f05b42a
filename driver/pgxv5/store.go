package pgxv5

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// Store implements storage.Store using the pgxv5 driver.
type Store struct {
	driver *Driver
}

// NewStore creates a new pgxv5 Store.
func NewStore(d *Driver) *Store {
	return &Store{driver: d}
}

// getExecutor returns the executor from context if present, otherwise the default pool executor.
func (s *Store) getExecutor(ctx context.Context) driver.Executor {
	if exec := driver.ExecutorFromContext(ctx); exec != nil {
		return exec
	}
	return s.driver.GetExecutor()
}

const messageColumns = `id::text, session_id, role, content, seq, created_at`

// AppendMessage upserts the session row and inserts the message in one statement.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role types.Role, content string) (*types.Message, error) {
	if sessionID == "" {
		return nil, storage.ErrEmptySessionID
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownRole, role)
	}

	msg := &types.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}

	query := `
		WITH s AS (
			INSERT INTO sessionpg_sessions (id, created_at, updated_at)
			VALUES ($1, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET updated_at = NOW()
			RETURNING id
		)
		INSERT INTO sessionpg_messages (id, session_id, role, content, created_at)
		SELECT $2, s.id, $3, $4, NOW() FROM s
		RETURNING seq, created_at
	`

	err := s.getExecutor(ctx).QueryRow(ctx, query, sessionID, msg.ID, string(role), content).
		Scan(&msg.Order, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

// GetMessages returns every message of the session ordered by seq.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	return s.GetMessagesByRoles(ctx, sessionID, nil)
}

// GetMessagesByRoles returns the session's messages with a role in roles.
func (s *Store) GetMessagesByRoles(ctx context.Context, sessionID string, roles []types.Role) ([]*types.Message, error) {
	return s.GetMessagesAfter(ctx, sessionID, 0, roles)
}

// GetMessagesAfter returns messages with seq >= fromOrder and a role in roles.
func (s *Store) GetMessagesAfter(ctx context.Context, sessionID string, fromOrder int64, roles []types.Role) ([]*types.Message, error) {
	var (
		rows driver.Rows
		err  error
	)
	if len(roles) == 0 {
		query := `SELECT ` + messageColumns + `
			FROM sessionpg_messages
			WHERE session_id = $1 AND seq >= $2
			ORDER BY seq ASC`
		rows, err = s.getExecutor(ctx).Query(ctx, query, sessionID, fromOrder)
	} else {
		query := `SELECT ` + messageColumns + `
			FROM sessionpg_messages
			WHERE session_id = $1 AND seq >= $2 AND role = ANY($3)
			ORDER BY seq ASC`
		rows, err = s.getExecutor(ctx).Query(ctx, query, sessionID, fromOrder, storage.RoleStrings(roles))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows driver.Rows) ([]*types.Message, error) {
	var messages []*types.Message
	for rows.Next() {
		var (
			msg  types.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Order, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		r, err := types.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		msg.Role = r
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// DeleteSession removes the session. Messages and compaction events cascade.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.getExecutor(ctx).Exec(ctx, `DELETE FROM sessionpg_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, compaction_count, created_at, updated_at
		FROM sessionpg_sessions
		WHERE id = $1
	`

	var session types.Session
	err := s.getExecutor(ctx).QueryRow(ctx, query, sessionID).
		Scan(&session.ID, &session.CompactionCount, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// GetIdleSessions returns sessions whose last append is older than horizon.
func (s *Store) GetIdleSessions(ctx context.Context, horizon time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM sessionpg_sessions
		WHERE updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query, horizon, limit)
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
	query := `
		SELECT id FROM sessionpg_sessions
		WHERE updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query, since, limit)
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

	return driver.InTx(ctx, s.driver.GetExecutor(), func(ctx context.Context, tx driver.ExecutorTx) error {
		query := `
			INSERT INTO sessionpg_compaction_events (
				id, session_id, checkpoint_id, checkpoint_order, folded_messages,
				original_tokens, summary_tokens, model_used, duration_ms, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			RETURNING created_at
		`
		err := tx.QueryRow(ctx, query,
			event.ID, event.SessionID, event.CheckpointID, event.CheckpointOrder,
			event.FoldedMessages, event.OriginalTokens, event.SummaryTokens,
			event.ModelUsed, event.DurationMs,
		).Scan(&event.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save compaction event: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE sessionpg_sessions
			SET compaction_count = compaction_count + 1
			WHERE id = $1
		`, event.SessionID)
		if err != nil {
			return fmt.Errorf("failed to update compaction count: %w", err)
		}
		return nil
	})
}

// GetCompactionHistory returns the session's compaction events, oldest first.
func (s *Store) GetCompactionHistory(ctx context.Context, sessionID string) ([]*storage.CompactionEvent, error) {
	query := `
		SELECT id::text, session_id, checkpoint_id::text, checkpoint_order, folded_messages,
		       original_tokens, summary_tokens, model_used, duration_ms, created_at
		FROM sessionpg_compaction_events
		WHERE session_id = $1
		ORDER BY created_at ASC, checkpoint_order ASC
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compaction events: %w", err)
	}
	defer rows.Close()

	var events []*storage.CompactionEvent
	for rows.Next() {
		var e storage.CompactionEvent
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.CheckpointID, &e.CheckpointOrder, &e.FoldedMessages,
			&e.OriginalTokens, &e.SummaryTokens, &e.ModelUsed, &e.DurationMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction events: %w", err)
	}

	return events, nil
}

var _ storage.Store = (*Store)(nil)
