package maintenance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/sessionpg/storage"
)

// Default retention configuration values
const (
	DefaultRetentionInterval = 1 * time.Hour
	DefaultRetentionMaxIdle  = 30 * 24 * time.Hour
	DefaultRetentionBatch    = 100
)

// SessionDeleter deletes a session. sessionpg.Service implements it, which
// also invalidates caches and notifies other processes.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// RetentionConfig holds configuration for the retention sweeper.
type RetentionConfig struct {
	// Interval is how often to sweep.
	// Default: 1 hour
	Interval time.Duration

	// MaxIdle is how long a session may go without a new message before it
	// is deleted.
	// Default: 30 days
	MaxIdle time.Duration

	// BatchSize is how many idle sessions are fetched per query.
	// Default: 100
	BatchSize int

	// OnSessionsDeleted is called after a sweep that deleted sessions.
	OnSessionsDeleted func(count int)

	// OnError is called when a sweep operation fails.
	OnError func(err error)
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Interval:  DefaultRetentionInterval,
		MaxIdle:   DefaultRetentionMaxIdle,
		BatchSize: DefaultRetentionBatch,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *RetentionConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultRetentionInterval
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = DefaultRetentionMaxIdle
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultRetentionBatch
	}
}

// RetentionResult holds the results of a sweep.
type RetentionResult struct {
	// SessionsDeleted is the number of idle sessions removed.
	SessionsDeleted int

	// Errors contains any errors that occurred during the sweep.
	Errors []error
}

// Retention periodically deletes sessions that have been idle longer than
// MaxIdle. Run it on a single process per database.
type Retention struct {
	store   storage.Store
	deleter SessionDeleter
	config  *RetentionConfig
	now     func() time.Time

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRetention creates a new retention sweeper. Sessions are found through
// store and removed through deleter; a nil deleter deletes through store.
func NewRetention(store storage.Store, deleter SessionDeleter, config *RetentionConfig) *Retention {
	if config == nil {
		config = DefaultRetentionConfig()
	} else {
		config.ApplyDefaults()
	}
	if deleter == nil {
		deleter = store
	}

	return &Retention{
		store:   store,
		deleter: deleter,
		config:  config,
		now:     time.Now,
	}
}

// Start begins the sweep loop.
// It returns immediately and sweeps in a goroutine.
func (r *Retention) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx, r.done)

	return nil
}

// Stop stops the sweep loop and waits for an in-progress sweep.
func (r *Retention) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return ErrNotStarted
	}

	r.cancel()
	<-r.done

	r.started.Store(false)
	return nil
}

func (r *Retention) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Sweep immediately on start
	r.sweep(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Retention) sweep(ctx context.Context) {
	result := r.RunOnce(ctx)

	if r.config.OnSessionsDeleted != nil && result.SessionsDeleted > 0 {
		r.config.OnSessionsDeleted(result.SessionsDeleted)
	}

	if r.config.OnError != nil {
		for _, err := range result.Errors {
			r.config.OnError(err)
		}
	}
}

// RunOnce deletes every session idle since now-MaxIdle and returns the result.
func (r *Retention) RunOnce(ctx context.Context) *RetentionResult {
	result := &RetentionResult{}
	horizon := r.now().Add(-r.config.MaxIdle)
	failed := make(map[string]bool)

	for ctx.Err() == nil {
		// Sessions that failed to delete are still idle; fetch past them.
		limit := r.config.BatchSize + len(failed)
		ids, err := r.store.GetIdleSessions(ctx, horizon, limit)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to list idle sessions: %w", err))
			return result
		}

		attempted, deleted := 0, 0
		for _, id := range ids {
			if failed[id] {
				continue
			}
			attempted++
			if err := r.deleter.DeleteSession(ctx, id); err != nil {
				// Continue with other sessions even if one fails
				failed[id] = true
				result.Errors = append(result.Errors, fmt.Errorf("failed to delete session %s: %w", id, err))
				continue
			}
			deleted++
		}
		result.SessionsDeleted += deleted

		if len(ids) < limit || attempted == 0 {
			return result
		}
	}

	return result
}

// IsRunning returns true if the sweeper is running.
func (r *Retention) IsRunning() bool {
	return r.started.Load()
}
