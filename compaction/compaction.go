package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// Logger interface for compaction logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Hooks receives compaction lifecycle callbacks. hooks.Registry implements it.
// An error from TriggerBeforeCompaction cancels the compaction.
type Hooks interface {
	TriggerBeforeCompaction(ctx context.Context, sessionID string) error
	TriggerAfterCompaction(ctx context.Context, result *Result) error
	TriggerCompactionFailed(ctx context.Context, sessionID string, err error)
}

// Result contains the outcome of a compaction operation.
type Result struct {
	// SessionID is the compacted session.
	SessionID string

	// EventID is the ID of the compaction event record. Empty when recording failed.
	EventID string

	// Checkpoint is the appended checkpoint message.
	Checkpoint *types.Message

	// FoldedMessages is the number of window messages the checkpoint replaces.
	FoldedMessages int

	// OriginalTokens is the estimated token count of the folded window.
	OriginalTokens int

	// SummaryTokens is the estimated token count of the checkpoint content.
	SummaryTokens int

	// Duration is how long the compaction took.
	Duration time.Duration
}

// Stats describes a session's compaction state.
type Stats struct {
	// SessionID is the session being analyzed.
	SessionID string

	// WindowMessages is the number of messages since (and including) the last checkpoint.
	WindowMessages int

	// WindowTokens is the estimated token count of the window.
	WindowTokens int

	// Threshold is the configured token budget.
	Threshold int

	// NeedsCompaction reports whether the next MaybeCompact would compact.
	NeedsCompaction bool

	// LastCheckpoint is the latest checkpoint, or nil.
	LastCheckpoint *types.Message

	// LastFoldedMessages is the fold count recorded on LastCheckpoint.
	LastFoldedMessages int

	// CompactionCount is the number of compactions recorded for the session.
	CompactionCount int
}

// Compactor folds a session's recent turns into checkpoint messages.
type Compactor struct {
	store      storage.Store
	estimator  TokenEstimator
	summarizer Summarizer
	config     *Config
	logger     Logger
	hooks      Hooks

	locks   *keyedMutex
	cursors *cursorCache
}

// New creates a new Compactor with the given configuration.
// If config is nil, default configuration is used.
func New(store storage.Store, estimator TokenEstimator, summarizer Summarizer, config *Config, logger Logger) *Compactor {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}

	if logger == nil {
		logger = noopLogger{}
	}

	if estimator == nil {
		estimator = NewEstimator(nil, nil, logger)
	}

	return &Compactor{
		store:      store,
		estimator:  estimator,
		summarizer: summarizer,
		config:     config,
		logger:     logger,
		locks:      newKeyedMutex(),
		cursors:    newCursorCache(),
	}
}

// SetHooks installs lifecycle hooks. It must be called before the compactor is used.
func (c *Compactor) SetHooks(h Hooks) {
	c.hooks = h
}

// Config returns the compactor's configuration.
func (c *Compactor) Config() *Config {
	return c.config
}

// MaybeCompact compacts the session when its window holds more than one
// message and more than Threshold estimated tokens. It returns a nil result
// when nothing was done.
//
// Summarizer failures return an error matching ErrCompactionFailed; store
// failures return an error matching ErrStorageError.
func (c *Compactor) MaybeCompact(ctx context.Context, sessionID string) (*Result, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	window, err := c.loadWindow(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(window.Messages) <= 1 || window.Tokens <= c.config.Threshold {
		c.logger.Debug("compaction not needed",
			"session_id", sessionID,
			"window_messages", len(window.Messages),
			"window_tokens", window.Tokens,
			"threshold", c.config.Threshold,
		)
		return nil, nil
	}

	return c.compact(ctx, sessionID, window)
}

// Compact folds the current window regardless of its size. It still needs
// at least two messages and returns ErrNoMessagesToCompact otherwise.
func (c *Compactor) Compact(ctx context.Context, sessionID string) (*Result, error) {
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	window, err := c.loadWindow(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(window.Messages) <= 1 {
		return nil, NewCompactionError("Compact", ErrNoMessagesToCompact).
			WithSession(sessionID).
			WithContext("window_messages", len(window.Messages))
	}

	return c.compact(ctx, sessionID, window)
}

// Stats returns the session's compaction state.
func (c *Compactor) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	window, err := c.loadWindow(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		SessionID:          sessionID,
		WindowMessages:     len(window.Messages),
		WindowTokens:       window.Tokens,
		Threshold:          c.config.Threshold,
		NeedsCompaction:    len(window.Messages) > 1 && window.Tokens > c.config.Threshold,
		LastCheckpoint:     window.Checkpoint,
		LastFoldedMessages: window.FoldedMessages(),
	}

	session, err := c.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		stats.CompactionCount = session.CompactionCount
	case errors.Is(err, storage.ErrSessionNotFound):
	default:
		return nil, storageFailed("GetSession", sessionID, err)
	}

	return stats, nil
}

// Invalidate drops the cached checkpoint position of a session. Call it when
// the session's log changed outside this compactor.
func (c *Compactor) Invalidate(sessionID string) {
	c.cursors.Delete(sessionID)
}

// loadWindow reads the window, starting at the cached checkpoint when known.
func (c *Compactor) loadWindow(ctx context.Context, sessionID string) (*Window, error) {
	var (
		messages []*types.Message
		err      error
	)

	if from, ok := c.cursors.Get(sessionID); ok {
		messages, err = c.store.GetMessagesAfter(ctx, sessionID, from, types.ConversationRoles())
		if err != nil {
			return nil, storageFailed("GetMessagesAfter", sessionID, err)
		}
		if len(messages) == 0 || !messages[0].IsCheckpoint() || messages[0].Order != from {
			c.logger.Debug("stale checkpoint cursor, rescanning", "session_id", sessionID, "cursor", from)
			c.cursors.Delete(sessionID)
			messages = nil
		}
	}

	if messages == nil {
		messages, err = c.store.GetMessagesByRoles(ctx, sessionID, types.ConversationRoles())
		if err != nil {
			return nil, storageFailed("GetMessages", sessionID, err)
		}
	}

	window := SelectWindow(messages)
	if window.Checkpoint != nil {
		c.cursors.Set(sessionID, window.Checkpoint.Order)
	}

	for _, msg := range window.Messages {
		window.Tokens += c.estimator.Estimate(ctx, msg.Content)
	}

	return window, nil
}

func (c *Compactor) compact(ctx context.Context, sessionID string, window *Window) (*Result, error) {
	start := time.Now()

	c.logger.Info("starting compaction",
		"session_id", sessionID,
		"window_messages", len(window.Messages),
		"window_tokens", window.Tokens,
	)

	if c.hooks != nil {
		if err := c.hooks.TriggerBeforeCompaction(ctx, sessionID); err != nil {
			return nil, c.fail(ctx, sessionID, failed("BeforeCompaction", sessionID, err))
		}
	}

	transcript, err := RenderTranscript(window.Messages, c.config.RoleLabels)
	if err != nil {
		return nil, c.fail(ctx, sessionID, failed("RenderTranscript", sessionID, err))
	}

	summary, err := c.summarize(ctx, transcript)
	if err != nil {
		return nil, c.fail(ctx, sessionID, failed("Summarize", sessionID, err).
			WithContext("window_messages", len(window.Messages)).
			WithContext("timeout", c.config.SummarizerTimeout))
	}

	content := FormatCheckpoint(len(window.Messages), summary)
	checkpoint, err := c.store.AppendMessage(ctx, sessionID, types.RoleCheckpoint, content)
	if err != nil {
		return nil, storageFailed("AppendCheckpoint", sessionID, err)
	}
	c.cursors.Set(sessionID, checkpoint.Order)

	result := &Result{
		SessionID:      sessionID,
		Checkpoint:     checkpoint,
		FoldedMessages: len(window.Messages),
		OriginalTokens: window.Tokens,
		SummaryTokens:  c.estimator.Estimate(ctx, content),
		Duration:       time.Since(start),
	}

	// The checkpoint is already durable; a missing audit row is only logged.
	event := &storage.CompactionEvent{
		SessionID:       sessionID,
		CheckpointID:    checkpoint.ID,
		CheckpointOrder: checkpoint.Order,
		FoldedMessages:  result.FoldedMessages,
		OriginalTokens:  result.OriginalTokens,
		SummaryTokens:   result.SummaryTokens,
		ModelUsed:       c.config.ModelUsed,
		DurationMs:      result.Duration.Milliseconds(),
	}
	if err := c.store.RecordCompaction(ctx, event); err != nil {
		c.logger.Warn("failed to record compaction event",
			"session_id", sessionID,
			"checkpoint_id", checkpoint.ID,
			"error", err,
		)
	} else {
		result.EventID = event.ID
	}

	c.logger.Info("compaction complete",
		"session_id", sessionID,
		"folded_messages", result.FoldedMessages,
		"original_tokens", result.OriginalTokens,
		"summary_tokens", result.SummaryTokens,
		"duration_ms", result.Duration.Milliseconds(),
	)

	if c.hooks != nil {
		if err := c.hooks.TriggerAfterCompaction(ctx, result); err != nil {
			c.logger.Warn("after compaction hook failed", "session_id", sessionID, "error", err)
		}
	}

	return result, nil
}

// summarize calls the summarizer under SummarizerTimeout, outside any caller
// transaction, and turns panics and blank output into errors. The deadline
// holds even when the summarizer ignores ctx: a late call is abandoned and
// its result discarded.
func (c *Compactor) summarize(ctx context.Context, transcript string) (string, error) {
	if c.summarizer == nil {
		return "", fmt.Errorf("%w: no summarizer configured", ErrSummarizationFailed)
	}

	ctx = driver.StripExecutor(ctx)
	if c.config.SummarizerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SummarizerTimeout)
		defer cancel()
	}

	type result struct {
		summary string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: summarizer panic: %v", ErrSummarizationFailed, r)}
			}
		}()
		summary, err := c.summarizer.Summarize(ctx, transcript)
		done <- result{summary: summary, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.err != nil {
		return "", res.err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	summary := strings.TrimSpace(res.summary)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrSummarizationFailed)
	}
	return summary, nil
}

func (c *Compactor) fail(ctx context.Context, sessionID string, err *CompactionError) error {
	c.logger.Warn("compaction failed", "session_id", sessionID, "op", err.Op, "error", err.Err)
	if c.hooks != nil {
		c.hooks.TriggerCompactionFailed(ctx, sessionID, err)
	}
	return err
}
