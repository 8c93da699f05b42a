package pgxv5

import (
	"context"
	"fmt"
	"time"

	"github.com/youssefsiam38/sessionpg/storage"
)

// LeaderAttemptElect takes the leader lease when it is free or expired.
func (s *Store) LeaderAttemptElect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(params.TTL)

	query := `
		INSERT INTO sessionpg_leader (name, leader_id, elected_at, expires_at)
		VALUES ('default', $1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET leader_id = EXCLUDED.leader_id, elected_at = EXCLUDED.elected_at, expires_at = EXCLUDED.expires_at
		WHERE sessionpg_leader.expires_at < EXCLUDED.elected_at
	`

	result, err := s.getExecutor(ctx).Exec(ctx, query, params.LeaderID, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to attempt election: %w", err)
	}

	return result > 0, nil
}

// LeaderAttemptReelect renews the lease held by params.LeaderID.
func (s *Store) LeaderAttemptReelect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(params.TTL)

	query := `
		UPDATE sessionpg_leader
		SET elected_at = $2, expires_at = $3
		WHERE name = 'default' AND leader_id = $1 AND expires_at >= $2
	`

	result, err := s.getExecutor(ctx).Exec(ctx, query, params.LeaderID, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to attempt reelection: %w", err)
	}

	return result > 0, nil
}

// LeaderResign voluntarily gives up leadership.
func (s *Store) LeaderResign(ctx context.Context, leaderID string) error {
	query := `DELETE FROM sessionpg_leader WHERE name = 'default' AND leader_id = $1`

	if _, err := s.getExecutor(ctx).Exec(ctx, query, leaderID); err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}
	return nil
}

var _ storage.LeaderStore = (*Store)(nil)
