// Package leadership runs session maintenance on exactly one sessionpg
// instance among many sharing a database.
//
// An Elector competes for a TTL lease in the sessionpg_leader table. While it
// holds the lease it runs its duties, typically the retention sweeper and the
// compaction rescuer, so idle sessions are deleted once and stuck sessions
// are compacted once rather than by every process. Duties stop as soon as a
// renewal fails, before the lease can pass to another instance.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/sessionpg/storage"
)

// Default configuration values
const (
	DefaultLeaderTTL       = 30 * time.Second
	DefaultElectionPeriod  = 10 * time.Second
	DefaultReelectionDelay = 5 * time.Second

	resignTimeout = 5 * time.Second
)

// Config holds configuration for the leader election system.
type Config struct {
	// LeaderTTL is how long a leader's lease is valid.
	// Default: 30 seconds
	LeaderTTL time.Duration

	// ElectionPeriod is how often a follower tries to take the lease.
	// Default: 10 seconds
	ElectionPeriod time.Duration

	// ReelectionDelay is how often the leader renews its lease. Kept below
	// LeaderTTL.
	// Default: 5 seconds
	ReelectionDelay time.Duration

	// OnError receives lease errors and duty start/stop failures.
	OnError func(err error)

	// OnChange is called after duties were started (true) or stopped (false).
	OnChange func(leader bool)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LeaderTTL:       DefaultLeaderTTL,
		ElectionPeriod:  DefaultElectionPeriod,
		ReelectionDelay: DefaultReelectionDelay,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = DefaultLeaderTTL
	}
	if c.ElectionPeriod <= 0 {
		c.ElectionPeriod = DefaultElectionPeriod
	}
	if c.ReelectionDelay <= 0 {
		c.ReelectionDelay = DefaultReelectionDelay
	}
	if c.ReelectionDelay >= c.LeaderTTL {
		c.ReelectionDelay = c.LeaderTTL / 3
	}
}

// Duty is a background service that must run on one instance at a time.
type Duty interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DutyError reports a duty that failed to start or stop.
type DutyError struct {
	Duty string
	Op   string
	Err  error
}

func (e *DutyError) Error() string {
	return fmt.Sprintf("leadership: %s %s: %v", e.Op, e.Duty, e.Err)
}

func (e *DutyError) Unwrap() error { return e.Err }

type duty struct {
	name    string
	svc     Duty
	running bool
}

// Elector holds the session maintenance lease for one instance.
type Elector struct {
	store      storage.LeaderStore
	instanceID string
	config     *Config

	// mu guards isLeader and the running flags of duties.
	mu       sync.Mutex
	isLeader bool
	duties   []*duty

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewElector creates an elector for instanceID. Add duties with Assign
// before calling Start.
func NewElector(store storage.LeaderStore, instanceID string, config *Config) *Elector {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()

	return &Elector{
		store:      store,
		instanceID: instanceID,
		config:     config,
	}
}

// Assign adds a duty run while this instance leads. Duties start in name
// order and stop in reverse. Assigning after Start returns ErrAlreadyStarted.
func (e *Elector) Assign(name string, svc Duty) error {
	if e.started.Load() {
		return ErrAlreadyStarted
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range e.duties {
		if d.name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateDuty, name)
		}
	}
	e.duties = append(e.duties, &duty{name: name, svc: svc})
	sort.Slice(e.duties, func(i, j int) bool { return e.duties[i].name < e.duties[j].name })
	return nil
}

// Start begins competing for the lease. It returns immediately.
func (e *Elector) Start(ctx context.Context) error {
	e.mu.Lock()
	empty := len(e.duties) == 0
	e.mu.Unlock()
	if empty {
		return ErrNoDuties
	}
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	e.done = make(chan struct{})
	ctx, e.cancel = context.WithCancel(ctx)
	go e.run(ctx, e.done)

	return nil
}

// Stop ends the election loop, stops running duties and releases the lease
// if this instance holds it.
func (e *Elector) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.cancel()
	<-e.done

	wasLeader := e.demote(ctx)

	var err error
	if wasLeader {
		resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resignTimeout)
		defer cancel()
		if rerr := e.store.LeaderResign(resignCtx, e.instanceID); rerr != nil {
			err = fmt.Errorf("leadership: resign %s: %w", e.instanceID, rerr)
		}
	}

	e.started.Store(false)
	return err
}

// IsLeader reports whether this instance holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// IsRunning returns true if the elector is running.
func (e *Elector) IsRunning() bool {
	return e.started.Load()
}

// Running returns the names of the duties currently running here.
func (e *Elector) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var names []string
	for _, d := range e.duties {
		if d.running {
			names = append(names, d.name)
		}
	}
	return names
}

func (e *Elector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	e.elect(ctx)

	for {
		delay := e.config.ElectionPeriod
		if e.IsLeader() {
			delay = e.config.ReelectionDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			if e.IsLeader() {
				e.renew(ctx)
			} else {
				e.elect(ctx)
			}
		}
	}
}

func (e *Elector) elect(ctx context.Context) {
	elected, err := e.store.LeaderAttemptElect(ctx, e.params())
	if err != nil {
		if ctx.Err() == nil {
			e.report(fmt.Errorf("leadership: elect %s: %w", e.instanceID, err))
		}
		return
	}
	if elected {
		e.promote(ctx)
	}
}

func (e *Elector) renew(ctx context.Context) {
	renewed, err := e.store.LeaderAttemptReelect(ctx, e.params())
	if ctx.Err() != nil {
		// Stop demotes and resigns.
		return
	}
	if err == nil && renewed {
		return
	}

	if err == nil {
		err = ErrLeaseLost
	} else {
		err = fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	e.report(fmt.Errorf("leadership: renew %s: %w", e.instanceID, err))
	e.demote(ctx)
}

func (e *Elector) params() *storage.LeaderElectParams {
	return &storage.LeaderElectParams{
		LeaderID: e.instanceID,
		TTL:      e.config.LeaderTTL,
	}
}

// promote marks this instance leader and starts every duty not yet running.
func (e *Elector) promote(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isLeader {
		return
	}
	e.isLeader = true

	for _, d := range e.duties {
		if err := d.svc.Start(ctx); err != nil {
			e.report(&DutyError{Duty: d.name, Op: "start", Err: err})
			continue
		}
		d.running = true
	}
	e.changed(true)
}

// demote clears leadership and stops running duties in reverse order. It
// reports whether this instance was leading.
func (e *Elector) demote(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isLeader {
		return false
	}
	e.isLeader = false

	stopCtx := context.WithoutCancel(ctx)
	for i := len(e.duties) - 1; i >= 0; i-- {
		d := e.duties[i]
		if !d.running {
			continue
		}
		if err := d.svc.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.report(&DutyError{Duty: d.name, Op: "stop", Err: err})
		}
		d.running = false
	}
	e.changed(false)
	return true
}

func (e *Elector) changed(leader bool) {
	if e.config.OnChange != nil {
		e.config.OnChange(leader)
	}
}

func (e *Elector) report(err error) {
	if e.config.OnError != nil {
		e.config.OnError(err)
	}
}
