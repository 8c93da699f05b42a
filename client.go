package sessionpg

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/leadership"
	"github.com/youssefsiam38/sessionpg/maintenance"
	"github.com/youssefsiam38/sessionpg/notifier"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// Version is the current sessionpg version
const Version = "0.3.0"

// Client is a Service bound to a database driver. Besides the Service
// methods it offers transactional variants and runs the background services:
// the event listener, the optional database heartbeat and the optional
// leader services (retention sweeper and compaction rescuer), which run on
// the elected leader when leader election is enabled.
//
// TTx is the native transaction type from the driver (e.g., pgx.Tx, *sql.Tx).
type Client[TTx any] struct {
	*Service

	driver    driver.Driver[TTx]
	retention *maintenance.Retention
	rescuer   *maintenance.Rescuer
	elector   *leadership.Elector
	heartbeat *maintenance.Heartbeat
	onError   func(err error)

	started atomic.Bool
}

// NewWithDriver creates a Client whose store and notifications come from drv.
// The transaction type TTx is inferred from the driver argument.
//
// Example:
//
//	drv := pgxv5.New(pool)
//	if err := drv.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	mem, err := sessionpg.NewWithDriver(drv, sessionpg.DefaultConfig(),
//	    sessionpg.WithAnthropicClient(&client),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mem.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mem.Stop(ctx)
func NewWithDriver[TTx any](drv driver.Driver[TTx], cfg Config, opts ...Option) (*Client[TTx], error) {
	if drv == nil {
		return nil, fmt.Errorf("%w: driver is required", ErrInvalidConfig)
	}
	store := drv.GetStore()
	if store == nil {
		return nil, fmt.Errorf("%w: driver has no store", ErrInvalidConfig)
	}

	ic := newInternalConfig()
	ic.notifier = notifier.NewNotifier(drv.GetListener, drv.GetNotifier(), nil)
	for _, opt := range opts {
		if err := opt(ic); err != nil {
			return nil, err
		}
	}

	svc, err := newService(store, cfg, ic)
	if err != nil {
		return nil, err
	}

	c := &Client[TTx]{
		Service: svc,
		driver:  drv,
		onError: ic.onError,
	}
	if ic.retention != nil {
		ic.retention.OnError = c.reportError
		ic.retention.OnSessionsDeleted = func(count int) {
			svc.logger.Info("retention deleted idle sessions", "count", count)
		}
		c.retention = maintenance.NewRetention(store, svc, ic.retention)
	}
	if ic.rescue != nil {
		ic.rescue.OnError = c.reportError
		ic.rescue.OnRescued = func(count int) {
			svc.logger.Info("rescuer compacted sessions", "count", count)
		}
		c.rescuer = maintenance.NewRescuer(store, svc, ic.rescue)
	}
	if ic.leaderID != "" {
		if c.retention == nil && c.rescuer == nil {
			return nil, NewMemoryError("NewWithDriver", ErrInvalidConfig).
				WithContext("reason", "leader election requires WithRetention or WithCompactionRescue")
		}
		leaders, ok := store.(storage.LeaderStore)
		if !ok {
			return nil, NewMemoryError("NewWithDriver", ErrInvalidConfig).
				WithContext("reason", "store does not support leader election")
		}
		c.elector = leadership.NewElector(leaders, ic.leaderID, &leadership.Config{
			OnError: c.reportError,
			OnChange: func(leader bool) {
				if leader {
					svc.logger.Info("became leader, maintenance started", "instance_id", ic.leaderID)
				} else {
					svc.logger.Info("stepped down, maintenance stopped", "instance_id", ic.leaderID)
				}
			},
		})
		for name, duty := range c.leaderDuties() {
			if err := c.elector.Assign(name, duty); err != nil {
				return nil, NewMemoryError("NewWithDriver", err)
			}
		}
	}
	if ic.heartbeat != nil {
		ic.heartbeat.OnError = c.reportError
		ic.heartbeat.OnRecover = func() {
			svc.logger.Info("database connection recovered")
		}
		c.heartbeat = maintenance.NewHeartbeat(ic.pinger, ic.heartbeat)
	}

	return c, nil
}

// Start begins background operations.
func (c *Client[TTx]) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrClientAlreadyStarted
	}

	if c.notif != nil {
		if err := c.notif.Start(ctx); err != nil && !errors.Is(err, notifier.ErrAlreadyStarted) {
			c.started.Store(false)
			return NewMemoryError("Start", err)
		}
	}
	if c.elector != nil {
		if err := c.elector.Start(ctx); err != nil {
			return NewMemoryError("Start", err).WithContext("service", "leadership")
		}
	} else {
		if c.retention != nil {
			if err := c.retention.Start(ctx); err != nil {
				return NewMemoryError("Start", err).WithContext("service", "retention")
			}
		}
		if c.rescuer != nil {
			if err := c.rescuer.Start(ctx); err != nil {
				return NewMemoryError("Start", err).WithContext("service", "rescuer")
			}
		}
	}
	if c.heartbeat != nil {
		if err := c.heartbeat.Start(ctx); err != nil {
			return NewMemoryError("Start", err).WithContext("service", "heartbeat")
		}
	}

	c.logger.Info("sessionpg client started", "version", Version)
	return nil
}

// Stop stops background operations and waits for in-flight compactions.
func (c *Client[TTx]) Stop(ctx context.Context) error {
	if !c.started.CompareAndSwap(true, false) {
		return ErrClientNotStarted
	}

	var errs []error
	if c.heartbeat != nil && c.heartbeat.IsRunning() {
		errs = append(errs, c.heartbeat.Stop(ctx))
	}
	if c.elector != nil && c.elector.IsRunning() {
		errs = append(errs, c.elector.Stop(ctx))
	}
	if c.retention != nil && c.retention.IsRunning() {
		errs = append(errs, c.retention.Stop(ctx))
	}
	if c.rescuer != nil && c.rescuer.IsRunning() {
		errs = append(errs, c.rescuer.Stop(ctx))
	}
	if c.notif != nil && c.notif.IsRunning() {
		errs = append(errs, c.notif.Stop(ctx))
	}
	errs = append(errs, c.Close(ctx))

	return errors.Join(errs...)
}

// IsLeader reports whether this instance currently runs the leader services
// on behalf of all instances. Without leader election it is true while any
// of them runs.
func (c *Client[TTx]) IsLeader() bool {
	if c.elector != nil {
		return c.elector.IsLeader()
	}
	return (c.retention != nil && c.retention.IsRunning()) ||
		(c.rescuer != nil && c.rescuer.IsRunning())
}

// leaderDuties returns the services that run on one instance at a time.
func (c *Client[TTx]) leaderDuties() map[string]leadership.Duty {
	duties := make(map[string]leadership.Duty, 2)
	if c.retention != nil {
		duties["retention"] = c.retention
	}
	if c.rescuer != nil {
		duties["rescuer"] = c.rescuer
	}
	return duties
}

// IsRunning returns true if the client has been started.
func (c *Client[TTx]) IsRunning() bool {
	return c.started.Load()
}

// Driver returns the database driver.
func (c *Client[TTx]) Driver() driver.Driver[TTx] {
	return c.driver
}

// withTxContext wraps a transaction in an executor and injects both into the context.
func (c *Client[TTx]) withTxContext(ctx context.Context, tx TTx) context.Context {
	ctx = withNativeTx(ctx, tx)
	return driver.WithExecutor(ctx, c.driver.UnwrapExecutor(tx))
}

// AppendTx appends within an existing transaction. A checkpoint written by
// the triggered compaction is part of the same transaction; the summarizer
// call itself runs outside it.
func (c *Client[TTx]) AppendTx(ctx context.Context, tx TTx, sessionID string, role types.Role, content string) (*AppendResult, error) {
	return c.Append(c.withTxContext(ctx, tx), sessionID, role, content)
}

// ContextTx returns the working context as seen by an existing transaction.
func (c *Client[TTx]) ContextTx(ctx context.Context, tx TTx, sessionID string) ([]types.Turn, error) {
	return c.Context(c.withTxContext(ctx, tx), sessionID)
}

// DeleteSessionTx deletes a session within an existing transaction.
func (c *Client[TTx]) DeleteSessionTx(ctx context.Context, tx TTx, sessionID string) error {
	return c.DeleteSession(c.withTxContext(ctx, tx), sessionID)
}

func (c *Client[TTx]) reportError(err error) {
	c.logger.Error("background operation failed", "error", err)
	if c.onError != nil {
		c.onError(err)
	}
}
