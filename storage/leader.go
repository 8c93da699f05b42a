package storage

import (
	"context"
	"time"
)

// LeaderStore is implemented by stores that can hold a leader lease. The
// built-in drivers implement it; the Client uses it to run the retention
// sweeper on one instance only.
type LeaderStore interface {
	// LeaderAttemptElect takes the lease when it is free or expired.
	LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error)

	// LeaderAttemptReelect extends the lease when params.LeaderID still holds it.
	LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error)

	// LeaderResign releases the lease if leaderID holds it.
	LeaderResign(ctx context.Context, leaderID string) error
}

// LeaderElectParams are the parameters of an election attempt.
type LeaderElectParams struct {
	LeaderID string
	TTL      time.Duration
}
