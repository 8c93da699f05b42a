// Package notifier keeps the checkpoint caches of several sessionpg processes
// consistent over PostgreSQL LISTEN/NOTIFY.
//
// Each process caches the position of every session's latest checkpoint.
// After a compaction or a deletion the process publishes a SessionEvent; every
// other process drops the cached position for that session from the caches
// attached to its Notifier, so its next read rescans from the log.
//
// Drivers without LISTEN support (SQLite) run in send-only mode: Start
// succeeds and the receive loop idles until Stop.
package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/sessionpg/driver"
)

// Cache holds per-session state that a SessionEvent makes stale.
type Cache interface {
	Invalidate(sessionID string)
}

// Config holds configuration for the notifier.
type Config struct {
	// ReconnectDelay is how long to wait before reconnecting after a disconnect.
	// Default: 5 seconds
	ReconnectDelay time.Duration

	// OnError is called with listener errors and with malformed payloads,
	// which are dropped.
	OnError func(err error)

	// OnReconnect is called when the listener reconnects.
	OnReconnect func()

	// OnEvent is called for every valid event from another process, after
	// the attached caches were invalidated.
	OnEvent func(event SessionEvent)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ReconnectDelay: 5 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
}

// Notifier publishes session events and applies the ones it receives.
type Notifier struct {
	getListener func(ctx context.Context) (driver.Listener, error)
	sender      driver.Notifier
	config      *Config
	origin      string

	mu     sync.RWMutex
	caches []Cache

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewNotifier creates a notifier. getListener opens a dedicated connection
// for receiving; a nil getListener, or one returning nil or
// driver.ErrNotificationsUnsupported, means send-only mode. A nil sender
// makes Publish return ErrNotifyNotSupported.
func NewNotifier(
	getListener func(ctx context.Context) (driver.Listener, error),
	sender driver.Notifier,
	config *Config,
) *Notifier {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()

	return &Notifier{
		getListener: getListener,
		sender:      sender,
		config:      config,
		origin:      uuid.NewString(),
	}
}

// Origin returns the ID stamped on events this notifier publishes.
func (n *Notifier) Origin() string {
	return n.origin
}

// Attach registers a cache to invalidate on events from other processes.
// The returned function detaches it.
func (n *Notifier) Attach(cache Cache) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.caches = append(n.caches, cache)

	var once sync.Once
	return func() {
		once.Do(func() { n.detach(cache) })
	}
}

func (n *Notifier) detach(cache Cache) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, c := range n.caches {
		if c == cache {
			n.caches = append(n.caches[:i:i], n.caches[i+1:]...)
			return
		}
	}
}

// Publish validates event, stamps it with this notifier's origin and sends it.
func (n *Notifier) Publish(ctx context.Context, event SessionEvent) error {
	if n.sender == nil {
		return ErrNotifyNotSupported
	}

	event.Origin = n.origin
	channel, payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return n.sender.Notify(ctx, channel, payload)
}

// Start begins listening for notifications.
// If the driver doesn't support listeners, this only waits for Stop.
func (n *Notifier) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	n.done = make(chan struct{})
	ctx, n.cancel = context.WithCancel(ctx)
	go n.run(ctx, n.done)

	return nil
}

// Stop stops the notifier.
func (n *Notifier) Stop(ctx context.Context) error {
	if !n.started.Load() {
		return ErrNotStarted
	}

	n.cancel()
	<-n.done

	n.started.Store(false)
	return nil
}

// IsRunning returns true if the notifier is running.
func (n *Notifier) IsRunning() bool {
	return n.started.Load()
}

func (n *Notifier) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := n.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		n.report(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.config.ReconnectDelay):
			if n.config.OnReconnect != nil {
				n.config.OnReconnect()
			}
		}
	}
}

// listen receives notifications on one listener until it fails.
func (n *Notifier) listen(ctx context.Context) error {
	if n.getListener == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	listener, err := n.getListener(ctx)
	if errors.Is(err, driver.ErrNotificationsUnsupported) || (err == nil && listener == nil) {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	defer func() { _ = listener.Close(context.WithoutCancel(ctx)) }()

	for channel := range channelToKind {
		if err := listener.Listen(ctx, channel); err != nil {
			return err
		}
	}

	for {
		notification, err := listener.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		n.deliver(notification)
	}
}

// deliver applies one notification. Handlers run on the receive loop, so
// events for a session are applied in the order they were published.
func (n *Notifier) deliver(notification *driver.Notification) {
	event, err := decodeEvent(notification)
	if err != nil {
		n.report(err)
		return
	}
	if event.Origin == n.origin {
		return
	}
	event.ReceivedAt = time.Now()

	n.mu.RLock()
	caches := append([]Cache(nil), n.caches...)
	n.mu.RUnlock()

	for _, cache := range caches {
		cache.Invalidate(event.SessionID)
	}
	if n.config.OnEvent != nil {
		n.config.OnEvent(event)
	}
}

func (n *Notifier) report(err error) {
	if err != nil && n.config.OnError != nil {
		n.config.OnError(err)
	}
}
