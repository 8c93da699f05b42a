// Package hooks lets callers observe and veto session memory events.
package hooks

import (
	"context"
	"sync"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/types"
)

// BeforeAppendHook is called before a message is written. Returning an error
// rejects the append.
type BeforeAppendHook func(ctx context.Context, sessionID string, role types.Role, content string) error

// AfterAppendHook is called after a message is written
type AfterAppendHook func(ctx context.Context, msg *types.Message) error

// BeforeCompactionHook is called before context compaction. Returning an
// error cancels the compaction.
type BeforeCompactionHook func(ctx context.Context, sessionID string) error

// AfterCompactionHook is called after a checkpoint is written
type AfterCompactionHook func(ctx context.Context, result *compaction.Result) error

// CompactionFailedHook is called when the summarizer fails or times out
type CompactionFailedHook func(ctx context.Context, sessionID string, err error)

// Registry holds all registered hooks
type Registry struct {
	mu               sync.RWMutex
	beforeAppend     []BeforeAppendHook
	afterAppend      []AfterAppendHook
	beforeCompaction []BeforeCompactionHook
	afterCompaction  []AfterCompactionHook
	compactionFailed []CompactionFailedHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		beforeAppend:     []BeforeAppendHook{},
		afterAppend:      []AfterAppendHook{},
		beforeCompaction: []BeforeCompactionHook{},
		afterCompaction:  []AfterCompactionHook{},
		compactionFailed: []CompactionFailedHook{},
	}
}

// OnBeforeAppend registers a hook to be called before a message is written
func (r *Registry) OnBeforeAppend(hook BeforeAppendHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeAppend = append(r.beforeAppend, hook)
}

// OnAfterAppend registers a hook to be called after a message is written
func (r *Registry) OnAfterAppend(hook AfterAppendHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterAppend = append(r.afterAppend, hook)
}

// OnBeforeCompaction registers a hook to be called before compaction
func (r *Registry) OnBeforeCompaction(hook BeforeCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompaction = append(r.beforeCompaction, hook)
}

// OnAfterCompaction registers a hook to be called after compaction
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// OnCompactionFailed registers a hook to be called when compaction fails
func (r *Registry) OnCompactionFailed(hook CompactionFailedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compactionFailed = append(r.compactionFailed, hook)
}

// TriggerBeforeAppend calls all registered before-append hooks
func (r *Registry) TriggerBeforeAppend(ctx context.Context, sessionID string, role types.Role, content string) error {
	r.mu.RLock()
	hooks := make([]BeforeAppendHook, len(r.beforeAppend))
	copy(hooks, r.beforeAppend)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, role, content); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterAppend calls all registered after-append hooks
func (r *Registry) TriggerAfterAppend(ctx context.Context, msg *types.Message) error {
	r.mu.RLock()
	hooks := make([]AfterAppendHook, len(r.afterAppend))
	copy(hooks, r.afterAppend)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// TriggerBeforeCompaction calls all registered before-compaction hooks
func (r *Registry) TriggerBeforeCompaction(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	hooks := make([]BeforeCompactionHook, len(r.beforeCompaction))
	copy(hooks, r.beforeCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction calls all registered after-compaction hooks
func (r *Registry) TriggerAfterCompaction(ctx context.Context, result *compaction.Result) error {
	r.mu.RLock()
	hooks := make([]AfterCompactionHook, len(r.afterCompaction))
	copy(hooks, r.afterCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerCompactionFailed calls every registered compaction-failed hook
func (r *Registry) TriggerCompactionFailed(ctx context.Context, sessionID string, err error) {
	r.mu.RLock()
	hooks := make([]CompactionFailedHook, len(r.compactionFailed))
	copy(hooks, r.compactionFailed)
	r.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, sessionID, err)
	}
}

var _ compaction.Hooks = (*Registry)(nil)
