// Package maintenance provides background services for sessionpg processes.
//
// This package includes:
//   - Retention service: deletes sessions that have been idle too long
//   - Heartbeat service: pings the database and reports failures
package maintenance

import (
	"context"
	"sync/atomic"
	"time"
)

// Default heartbeat configuration values
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
)

// Pinger checks database connectivity. *pgxpool.Pool satisfies it directly;
// wrap *sql.DB with PingerFunc(db.PingContext).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HeartbeatConfig holds configuration for the heartbeat service.
type HeartbeatConfig struct {
	// Interval is how often to ping.
	// Default: 30 seconds
	Interval time.Duration

	// Timeout bounds a single ping.
	// Default: 5 seconds
	Timeout time.Duration

	// OnError is called when a ping fails.
	// If nil, errors are silently ignored.
	OnError func(err error)

	// OnRecover is called on the first successful ping after a failure.
	OnRecover func()
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() *HeartbeatConfig {
	return &HeartbeatConfig{
		Interval: DefaultHeartbeatInterval,
		Timeout:  DefaultHeartbeatTimeout,
	}
}

// Heartbeat periodically pings the database so that a lost connection is
// noticed before the next append.
type Heartbeat struct {
	pinger Pinger
	config *HeartbeatConfig

	healthy atomic.Bool
	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewHeartbeat creates a new heartbeat service.
func NewHeartbeat(pinger Pinger, config *HeartbeatConfig) *Heartbeat {
	if config == nil {
		config = DefaultHeartbeatConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHeartbeatTimeout
	}

	h := &Heartbeat{
		pinger: pinger,
		config: config,
	}
	h.healthy.Store(true)
	return h
}

// Start begins pinging.
// It returns immediately and runs the heartbeat loop in a goroutine.
func (h *Heartbeat) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	h.done = make(chan struct{})
	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx, h.done)

	return nil
}

// Stop stops pinging.
func (h *Heartbeat) Stop(ctx context.Context) error {
	if !h.started.Load() {
		return ErrNotStarted
	}

	h.cancel()
	<-h.done

	h.started.Store(false)
	return nil
}

// run is the main heartbeat loop.
func (h *Heartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Send initial heartbeat
	h.beat(ctx)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

// beat sends a single ping.
func (h *Heartbeat) beat(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	err := h.pinger.Ping(pingCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.healthy.Store(false)
		if h.config.OnError != nil {
			h.config.OnError(err)
		}
		return
	}

	if !h.healthy.Swap(true) && h.config.OnRecover != nil {
		h.config.OnRecover()
	}
}

// Healthy reports whether the last ping succeeded.
func (h *Heartbeat) Healthy() bool {
	return h.healthy.Load()
}

// IsRunning returns true if the heartbeat service is running.
func (h *Heartbeat) IsRunning() bool {
	return h.started.Load()
}
