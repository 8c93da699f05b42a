package sessionpg

import (
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/hooks"
	"github.com/youssefsiam38/sessionpg/maintenance"
	"github.com/youssefsiam38/sessionpg/notifier"
)

// Logger is the structured logger used by sessionpg. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Option is a functional option for configuring a Service
type Option func(*internalConfig) error

// internalConfig holds the optional collaborators of a Service.
type internalConfig struct {
	logger     Logger
	hooks      *hooks.Registry
	client     *anthropic.Client
	summarizer compaction.Summarizer
	tokenizer  compaction.Tokenizer
	estimator  compaction.TokenEstimator
	notifier   *notifier.Notifier
	async      *bool

	// Background services, used by Client
	retention *maintenance.RetentionConfig
	rescue    *maintenance.RescueConfig
	leaderID  string
	heartbeat *maintenance.HeartbeatConfig
	pinger    maintenance.Pinger
	onError   func(err error)
}

func newInternalConfig() *internalConfig {
	return &internalConfig{
		logger: noopLogger{},
		hooks:  hooks.NewRegistry(),
	}
}

// WithLogger sets the structured logger
func WithLogger(logger Logger) Option {
	return func(c *internalConfig) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithHooks replaces the hook registry
func WithHooks(registry *hooks.Registry) Option {
	return func(c *internalConfig) error {
		if registry == nil {
			return NewMemoryError("WithHooks", ErrInvalidConfig).
				WithContext("reason", "registry is nil")
		}
		c.hooks = registry
		return nil
	}
}

// WithAnthropicClient summarizes with Claude and, unless the configuration
// disables it, counts tokens with the Claude token counting API.
// WithSummarizer and WithTokenizer take precedence.
func WithAnthropicClient(client *anthropic.Client) Option {
	return func(c *internalConfig) error {
		c.client = client
		return nil
	}
}

// WithSummarizer sets the summarizer used for compaction
func WithSummarizer(s compaction.Summarizer) Option {
	return func(c *internalConfig) error {
		c.summarizer = s
		return nil
	}
}

// WithTokenizer sets the exact token counter. Failures fall back to the heuristic.
func WithTokenizer(t compaction.Tokenizer) Option {
	return func(c *internalConfig) error {
		c.tokenizer = t
		return nil
	}
}

// WithEstimator replaces token estimation entirely. WithTokenizer is ignored when set.
func WithEstimator(e compaction.TokenEstimator) Option {
	return func(c *internalConfig) error {
		c.estimator = e
		return nil
	}
}

// WithNotifier publishes checkpoint_created and session_deleted events and
// drops cached checkpoint positions when other processes publish them.
func WithNotifier(n *notifier.Notifier) Option {
	return func(c *internalConfig) error {
		c.notifier = n
		return nil
	}
}

// WithAsyncCompaction overrides Config.AsyncCompaction
func WithAsyncCompaction(enabled bool) Option {
	return func(c *internalConfig) error {
		c.async = &enabled
		return nil
	}
}

// WithRetention makes Client.Start run a sweeper that deletes sessions idle
// for longer than maxIdle, checking every interval (0 for the default).
func WithRetention(maxIdle, interval time.Duration) Option {
	return func(c *internalConfig) error {
		if maxIdle <= 0 {
			return NewMemoryError("WithRetention", ErrInvalidConfig).
				WithContext("max_idle", maxIdle).
				WithContext("reason", "max idle must be positive")
		}
		c.retention = &maintenance.RetentionConfig{MaxIdle: maxIdle, Interval: interval}
		return nil
	}
}

// WithCompactionRescue makes Client.Start run a scanner that compacts
// sessions appended to within lookback whose window is still over the
// threshold, checking every interval (0 for the defaults). It picks up
// background compactions lost to a crash or a failed summarizer call.
func WithCompactionRescue(lookback, interval time.Duration) Option {
	return func(c *internalConfig) error {
		if lookback < 0 || interval < 0 {
			return NewMemoryError("WithCompactionRescue", ErrInvalidConfig).
				WithContext("reason", "lookback and interval must not be negative")
		}
		c.rescue = &maintenance.RescueConfig{Lookback: lookback, Interval: interval}
		return nil
	}
}

// WithLeaderElection runs the retention sweeper and the compaction rescuer
// only while this instance holds the leader lease. Use it when several processes share a database.
// instanceID must be unique per process.
func WithLeaderElection(instanceID string) Option {
	return func(c *internalConfig) error {
		if instanceID == "" {
			return NewMemoryError("WithLeaderElection", ErrInvalidConfig).
				WithContext("reason", "instance id is empty")
		}
		c.leaderID = instanceID
		return nil
	}
}

// WithHeartbeat makes Client.Start ping the database every interval (0 for
// the default) and report failures to the error handler.
func WithHeartbeat(pinger maintenance.Pinger, interval time.Duration) Option {
	return func(c *internalConfig) error {
		if pinger == nil {
			return NewMemoryError("WithHeartbeat", ErrInvalidConfig).
				WithContext("reason", "pinger is nil")
		}
		c.pinger = pinger
		c.heartbeat = &maintenance.HeartbeatConfig{Interval: interval}
		return nil
	}
}

// WithErrorHandler is called when background operations fail
func WithErrorHandler(fn func(err error)) Option {
	return func(c *internalConfig) error {
		c.onError = fn
		return nil
	}
}
