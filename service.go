package sessionpg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/history"
	"github.com/youssefsiam38/sessionpg/hooks"
	anthropicconv "github.com/youssefsiam38/sessionpg/internal/anthropic"
	"github.com/youssefsiam38/sessionpg/notifier"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// AppendResult describes a successful append.
type AppendResult struct {
	// Message is the stored message.
	Message *types.Message

	// Compaction is set when the append triggered a checkpoint.
	Compaction *compaction.Result

	// CompactionErr is set when compaction was attempted and failed. The
	// message is stored regardless; the next append retries compaction.
	CompactionErr error

	// CompactionScheduled reports that compaction was handed to the
	// background worker (async mode).
	CompactionScheduled bool
}

// Service is the session memory engine: an append-only log per session,
// automatic compaction into checkpoints, and working-context reconstruction.
//
// A Service is safe for concurrent use. Appends to one session are expected
// to come from one writer at a time; different sessions are independent.
type Service struct {
	store         storage.Store
	config        Config
	compactor     *compaction.Compactor
	reconstructor *history.Reconstructor
	hooks         *hooks.Registry
	logger        Logger
	notif         *notifier.Notifier
	async         bool

	mu       sync.Mutex
	inflight map[string]bool
	pending  map[string]bool
	wg       sync.WaitGroup
	closed   atomic.Bool

	unsubscribe []func()
}

// New creates a Service on top of store.
//
// Example:
//
//	svc, err := sessionpg.New(store, sessionpg.Config{CompactionThreshold: 2000},
//	    sessionpg.WithAnthropicClient(&client),
//	    sessionpg.WithLogger(slog.Default()),
//	)
func New(store storage.Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	ic := newInternalConfig()
	for _, opt := range opts {
		if err := opt(ic); err != nil {
			return nil, err
		}
	}
	return newService(store, cfg, ic)
}

func newService(store storage.Store, cfg Config, ic *internalConfig) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := history.ParseCheckpointMode(cfg.CheckpointMode)

	summarizer := ic.summarizer
	modelUsed := ""
	if summarizer == nil && ic.client != nil {
		summarizer = compaction.NewAnthropicSummarizer(ic.client, cfg.SummarizerModel, cfg.SummarizerMaxTokens)
	}
	if summarizer == nil {
		return nil, fmt.Errorf("%w: a summarizer or an Anthropic client is required", ErrInvalidConfig)
	}
	if m, ok := summarizer.(interface{ Model() string }); ok {
		modelUsed = m.Model()
	}

	estimator := ic.estimator
	if estimator == nil {
		tokenizer := ic.tokenizer
		if tokenizer == nil && ic.client != nil && *cfg.UseTokenCountingAPI {
			tokenizer = compaction.NewAnthropicTokenizer(ic.client, cfg.SummarizerModel)
		}
		estimator = compaction.NewEstimator(tokenizer, cfg.estimatorConfig(), ic.logger)
	}

	compactionCfg := cfg.compactionConfig()
	compactionCfg.ModelUsed = modelUsed
	compactor := compaction.New(store, estimator, summarizer, compactionCfg, ic.logger)
	compactor.SetHooks(ic.hooks)

	async := cfg.AsyncCompaction
	if ic.async != nil {
		async = *ic.async
	}

	s := &Service{
		store:         store,
		config:        cfg,
		compactor:     compactor,
		reconstructor: history.NewReconstructor(store, mode),
		hooks:         ic.hooks,
		logger:        ic.logger,
		notif:         ic.notifier,
		async:         async,
		inflight:      make(map[string]bool),
		pending:       make(map[string]bool),
	}

	if s.notif != nil {
		s.unsubscribe = append(s.unsubscribe, s.notif.Attach(s.compactor))
	}

	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Hooks returns the hook registry.
func (s *Service) Hooks() *hooks.Registry {
	return s.hooks
}

// Store returns the underlying message log.
func (s *Service) Store() storage.Store {
	return s.store
}

// Append stores a message and, for user and assistant messages, runs
// compaction. Checkpoints cannot be appended directly.
//
// Storage failures are returned as errors. Compaction failures are not: they
// are reported in AppendResult.CompactionErr. A storage failure during
// compaction is returned together with the AppendResult of the stored message.
func (s *Service) Append(ctx context.Context, sessionID string, role types.Role, content string) (*AppendResult, error) {
	if s.closed.Load() {
		return nil, NewMemoryErrorWithSession("Append", sessionID, ErrClosed)
	}
	if sessionID == "" {
		return nil, NewMemoryError("Append", ErrEmptySessionID)
	}
	if !role.Valid() || role == types.RoleCheckpoint {
		return nil, NewMemoryErrorWithSession("Append", sessionID, fmt.Errorf("%w: %q", ErrInvalidRole, role))
	}

	if err := s.hooks.TriggerBeforeAppend(ctx, sessionID, role, content); err != nil {
		return nil, NewMemoryErrorWithSession("Append", sessionID, err).WithContext("hook", "before_append")
	}

	msg, err := s.store.AppendMessage(ctx, sessionID, role, content)
	if err != nil {
		return nil, storageError("Append", sessionID, err)
	}

	if err := s.hooks.TriggerAfterAppend(ctx, msg); err != nil {
		s.logger.Warn("after append hook failed", "session_id", sessionID, "error", err)
	}

	result := &AppendResult{Message: msg}
	if role == types.RoleSystem {
		return result, nil
	}

	if s.async {
		// A Close that raced this append leaves the message stored but
		// uncompacted until the next append or rescue pass.
		result.CompactionScheduled = s.scheduleCompaction(ctx, sessionID)
		return result, nil
	}

	res, err := s.compactor.MaybeCompact(ctx, sessionID)
	switch {
	case err == nil:
		result.Compaction = res
		s.publishCheckpoint(ctx, res)
	case errors.Is(err, ErrStorageError):
		return result, NewMemoryErrorWithSession("Append", sessionID, err).WithContext("phase", "compaction")
	default:
		s.logger.Warn("compaction failed, message kept", "session_id", sessionID, "error", err)
		result.CompactionErr = err
	}

	return result, nil
}

// AppendSystem appends a system message.
func (s *Service) AppendSystem(ctx context.Context, sessionID, content string) (*AppendResult, error) {
	return s.Append(ctx, sessionID, types.RoleSystem, content)
}

// AppendUser appends a user message.
func (s *Service) AppendUser(ctx context.Context, sessionID, content string) (*AppendResult, error) {
	return s.Append(ctx, sessionID, types.RoleUser, content)
}

// AppendAssistant appends an assistant message.
func (s *Service) AppendAssistant(ctx context.Context, sessionID, content string) (*AppendResult, error) {
	return s.Append(ctx, sessionID, types.RoleAssistant, content)
}

// Context returns the session's working context: every system message plus
// everything from the latest checkpoint on.
func (s *Service) Context(ctx context.Context, sessionID string) ([]types.Turn, error) {
	turns, err := s.reconstructor.Reconstruct(ctx, sessionID)
	if err != nil {
		return nil, storageError("Context", sessionID, err)
	}
	return turns, nil
}

// Transcript returns the working context for display. It matches Context
// except that the checkpoint always carries types.RoleCheckpoint, whatever
// the configured CheckpointMode, so renderers can tell it from a user turn.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]types.Turn, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, storageError("Transcript", sessionID, err)
	}
	return history.ReconstructMessages(msgs, history.CheckpointAsDedicatedRole), nil
}

// AnthropicContext returns the working context as Claude Messages API
// system blocks and messages.
func (s *Service) AnthropicContext(ctx context.Context, sessionID string) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	turns, err := s.Context(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	system, messages := anthropicconv.ConvertTurns(turns)
	return system, messages, nil
}

// History returns the full raw log of the session, including folded turns
// and every checkpoint.
func (s *Service) History(ctx context.Context, sessionID string) ([]*types.Message, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, storageError("History", sessionID, err)
	}
	return msgs, nil
}

// CompactionHistory returns the session's compaction events, oldest first.
func (s *Service) CompactionHistory(ctx context.Context, sessionID string) ([]*storage.CompactionEvent, error) {
	events, err := s.store.GetCompactionHistory(ctx, sessionID)
	if err != nil {
		return nil, storageError("CompactionHistory", sessionID, err)
	}
	return events, nil
}

// Compact folds the current window now, regardless of its size.
func (s *Service) Compact(ctx context.Context, sessionID string) (*compaction.Result, error) {
	if s.closed.Load() {
		return nil, NewMemoryErrorWithSession("Compact", sessionID, ErrClosed)
	}

	res, err := s.compactor.Compact(ctx, sessionID)
	if err != nil {
		return nil, NewMemoryErrorWithSession("Compact", sessionID, err)
	}
	s.publishCheckpoint(ctx, res)
	return res, nil
}

// CompactIfNeeded compacts the session when its window is over the
// threshold, the same check an append performs. It returns a nil result when
// nothing was done.
func (s *Service) CompactIfNeeded(ctx context.Context, sessionID string) (*compaction.Result, error) {
	if s.closed.Load() {
		return nil, NewMemoryErrorWithSession("CompactIfNeeded", sessionID, ErrClosed)
	}

	res, err := s.compactor.MaybeCompact(ctx, sessionID)
	if err != nil {
		return nil, NewMemoryErrorWithSession("CompactIfNeeded", sessionID, err)
	}
	s.publishCheckpoint(ctx, res)
	return res, nil
}

// Stats returns the session's compaction state.
func (s *Service) Stats(ctx context.Context, sessionID string) (*compaction.Stats, error) {
	stats, err := s.compactor.Stats(ctx, sessionID)
	if err != nil {
		return nil, NewMemoryErrorWithSession("Stats", sessionID, err)
	}
	return stats, nil
}

// DeleteSession removes the session, its messages and its compaction history.
// Deleting an unknown session is not an error.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return storageError("DeleteSession", sessionID, err)
	}
	s.compactor.Invalidate(sessionID)
	s.publish(ctx, notifier.SessionDeleted(sessionID))

	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Close rejects new appends and waits for background compactions to finish
// or for ctx to expire.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return NewMemoryError("Close", ctx.Err())
	}
}

// scheduleCompaction runs MaybeCompact in the background and reports whether
// a run was scheduled. At most one run is in flight per session; appends that
// land meanwhile request one more run. Nothing is scheduled once Close has
// started, so wg.Add never races wg.Wait.
func (s *Service) scheduleCompaction(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return false
	}
	if s.inflight[sessionID] {
		s.pending[sessionID] = true
		s.mu.Unlock()
		return true
	}
	s.inflight[sessionID] = true
	s.wg.Add(1)
	s.mu.Unlock()

	// The caller's transaction and cancellation do not outlive the append.
	bg := stripNativeTx(driver.StripExecutor(context.WithoutCancel(ctx)))

	go func() {
		defer s.wg.Done()
		for {
			s.compactInBackground(bg, sessionID)

			s.mu.Lock()
			if s.pending[sessionID] {
				delete(s.pending, sessionID)
				s.mu.Unlock()
				continue
			}
			delete(s.inflight, sessionID)
			s.mu.Unlock()
			return
		}
	}()
	return true
}

func (s *Service) compactInBackground(ctx context.Context, sessionID string) {
	res, err := s.compactor.MaybeCompact(ctx, sessionID)
	if err != nil {
		s.logger.Warn("background compaction failed", "session_id", sessionID, "error", err)
		return
	}
	s.publishCheckpoint(ctx, res)
}

// publishCheckpoint announces res to other processes. A nil res is a no-op.
func (s *Service) publishCheckpoint(ctx context.Context, res *compaction.Result) {
	if res == nil || res.Checkpoint == nil {
		return
	}
	s.publish(ctx, notifier.CheckpointCreated(res.SessionID, res.Checkpoint.Order))
}

func (s *Service) publish(ctx context.Context, event notifier.SessionEvent) {
	if s.notif == nil {
		return
	}
	if err := s.notif.Publish(ctx, event); err != nil && !errors.Is(err, notifier.ErrNotifyNotSupported) {
		s.logger.Warn("failed to publish event", "event", event.Kind, "session_id", event.SessionID, "error", err)
	}
}
