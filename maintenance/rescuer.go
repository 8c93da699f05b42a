package maintenance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/storage"
)

// Default rescuer configuration values
const (
	DefaultRescueInterval = 1 * time.Minute
	DefaultRescueLookback = 15 * time.Minute
	DefaultRescueBatch    = 100
)

// SessionCompactor compacts a session when its window is over budget.
// sessionpg.Service implements it.
type SessionCompactor interface {
	CompactIfNeeded(ctx context.Context, sessionID string) (*compaction.Result, error)
}

// RescueConfig holds configuration for the compaction rescuer.
type RescueConfig struct {
	// Interval is how often to scan.
	// Default: 1 minute
	Interval time.Duration

	// Lookback bounds the scan to sessions appended to within this duration.
	// Default: 15 minutes
	Lookback time.Duration

	// BatchSize is the maximum number of sessions checked per scan.
	// Default: 100
	BatchSize int

	// OnRescued is called after a scan that wrote checkpoints.
	OnRescued func(count int)

	// OnError is called when a scan operation fails.
	OnError func(err error)
}

// DefaultRescueConfig returns the default rescuer configuration.
func DefaultRescueConfig() *RescueConfig {
	return &RescueConfig{
		Interval:  DefaultRescueInterval,
		Lookback:  DefaultRescueLookback,
		BatchSize: DefaultRescueBatch,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *RescueConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultRescueInterval
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultRescueLookback
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultRescueBatch
	}
}

// RescueResult holds the results of a scan.
type RescueResult struct {
	// SessionsChecked is the number of recently active sessions examined.
	SessionsChecked int

	// SessionsCompacted is the number of sessions that received a checkpoint.
	SessionsCompacted int

	// Errors contains any errors that occurred during the scan.
	Errors []error
}

// Rescuer periodically compacts recently active sessions whose window is
// still over budget. Background compactions live in process memory; a crash
// or a failed summarizer call leaves the session uncompacted until its next
// append, and the rescuer closes that gap. Run it on a single process per
// database.
type Rescuer struct {
	store     storage.Store
	compactor SessionCompactor
	config    *RescueConfig
	now       func() time.Time

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRescuer creates a new compaction rescuer.
func NewRescuer(store storage.Store, compactor SessionCompactor, config *RescueConfig) *Rescuer {
	if config == nil {
		config = DefaultRescueConfig()
	} else {
		config.ApplyDefaults()
	}

	return &Rescuer{
		store:     store,
		compactor: compactor,
		config:    config,
		now:       time.Now,
	}
}

// Start begins the scan loop.
func (r *Rescuer) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx, r.done)

	return nil
}

// Stop stops the scan loop and waits for an in-progress scan.
func (r *Rescuer) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return ErrNotStarted
	}

	r.cancel()
	<-r.done

	r.started.Store(false)
	return nil
}

func (r *Rescuer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

func (r *Rescuer) scan(ctx context.Context) {
	result := r.RunOnce(ctx)

	if r.config.OnRescued != nil && result.SessionsCompacted > 0 {
		r.config.OnRescued(result.SessionsCompacted)
	}

	if r.config.OnError != nil {
		for _, err := range result.Errors {
			r.config.OnError(err)
		}
	}
}

// RunOnce checks up to BatchSize sessions appended to since now-Lookback and
// compacts those over budget.
func (r *Rescuer) RunOnce(ctx context.Context) *RescueResult {
	result := &RescueResult{}

	ids, err := r.store.GetActiveSessions(ctx, r.now().Add(-r.config.Lookback), r.config.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("failed to list active sessions: %w", err))
		return result
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result.SessionsChecked++

		res, err := r.compactor.CompactIfNeeded(ctx, id)
		if err != nil {
			// Continue with other sessions even if one fails
			result.Errors = append(result.Errors, fmt.Errorf("failed to compact session %s: %w", id, err))
			continue
		}
		if res != nil {
			result.SessionsCompacted++
		}
	}

	return result
}

// IsRunning returns true if the rescuer is running.
func (r *Rescuer) IsRunning() bool {
	return r.started.Load()
}
