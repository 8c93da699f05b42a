package hooks

import (
	"context"
	"log"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/types"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *log.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *log.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: log.Default()}
}

// Register installs every logging hook on r.
func (h *LoggingHooks) Register(r *Registry) {
	r.OnAfterAppend(h.AfterAppend)
	r.OnBeforeCompaction(h.BeforeCompaction)
	r.OnAfterCompaction(h.AfterCompaction)
	r.OnCompactionFailed(h.CompactionFailed)
}

// AfterAppend logs a written message
func (h *LoggingHooks) AfterAppend(ctx context.Context, msg *types.Message) error {
	h.logger.Printf("[SessionPG] Appended %s message #%d to session %s", msg.Role, msg.Order, msg.SessionID)
	return nil
}

// BeforeCompaction logs before context compaction
func (h *LoggingHooks) BeforeCompaction(ctx context.Context, sessionID string) error {
	h.logger.Printf("[SessionPG] Starting context compaction for session %s", sessionID)
	return nil
}

// AfterCompaction logs after context compaction
func (h *LoggingHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	h.logger.Printf("[SessionPG] Compaction complete: %d → %d tokens (%.1f%% reduction, %d messages folded)",
		result.OriginalTokens, result.SummaryTokens, reduction(result), result.FoldedMessages)
	return nil
}

// CompactionFailed logs a failed compaction
func (h *LoggingHooks) CompactionFailed(ctx context.Context, sessionID string, err error) {
	h.logger.Printf("[SessionPG] Compaction failed for session %s: %v", sessionID, err)
}

// VerboseLoggingHooks provides detailed logging for debugging
type VerboseLoggingHooks struct {
	logger *log.Logger
}

// NewVerboseLoggingHooks creates verbose logging hooks
func NewVerboseLoggingHooks(logger *log.Logger) *VerboseLoggingHooks {
	return &VerboseLoggingHooks{logger: logger}
}

// Register installs every verbose hook on r.
func (h *VerboseLoggingHooks) Register(r *Registry) {
	r.OnBeforeAppend(h.BeforeAppend)
	r.OnBeforeCompaction(h.BeforeCompaction)
	r.OnAfterCompaction(h.AfterCompaction)
}

// BeforeAppend logs the message about to be written
func (h *VerboseLoggingHooks) BeforeAppend(ctx context.Context, sessionID string, role types.Role, content string) error {
	preview := content
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.logger.Printf("[SessionPG][VERBOSE] Append to %s: role=%s content=%q", sessionID, role, preview)
	return nil
}

// BeforeCompaction logs detailed compaction information
func (h *VerboseLoggingHooks) BeforeCompaction(ctx context.Context, sessionID string) error {
	h.logger.Printf("[SessionPG][VERBOSE] === Starting Compaction ===")
	h.logger.Printf("[SessionPG][VERBOSE] Session: %s", sessionID)
	return nil
}

// AfterCompaction logs detailed compaction results
func (h *VerboseLoggingHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	h.logger.Printf("[SessionPG][VERBOSE] === Compaction Complete ===")
	if result.Checkpoint != nil {
		h.logger.Printf("[SessionPG][VERBOSE] Checkpoint: %s (order %d)", result.Checkpoint.ID, result.Checkpoint.Order)
	}
	h.logger.Printf("[SessionPG][VERBOSE] Folded messages: %d", result.FoldedMessages)
	h.logger.Printf("[SessionPG][VERBOSE] Original tokens: %d", result.OriginalTokens)
	h.logger.Printf("[SessionPG][VERBOSE] Summary tokens: %d", result.SummaryTokens)
	h.logger.Printf("[SessionPG][VERBOSE] Duration: %v", result.Duration)

	if result.OriginalTokens > 0 {
		h.logger.Printf("[SessionPG][VERBOSE] Reduction: %.1f%%", reduction(result))
	}

	return nil
}

// MetricsHooks collects metrics for monitoring
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// Register installs every metrics hook on r.
func (h *MetricsHooks) Register(r *Registry) {
	r.OnAfterAppend(h.AfterAppend)
	r.OnAfterCompaction(h.AfterCompaction)
	r.OnCompactionFailed(h.CompactionFailed)
}

// AfterAppend counts written messages by role
func (h *MetricsHooks) AfterAppend(ctx context.Context, msg *types.Message) error {
	h.OnMetric("session.messages.appended", 1, map[string]string{"role": msg.Role.String()})
	return nil
}

// AfterCompaction records compaction metrics
func (h *MetricsHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	h.OnMetric("session.compaction.original_tokens", float64(result.OriginalTokens), nil)
	h.OnMetric("session.compaction.summary_tokens", float64(result.SummaryTokens), nil)
	h.OnMetric("session.compaction.folded_messages", float64(result.FoldedMessages), nil)
	h.OnMetric("session.compaction.duration_ms", float64(result.Duration.Milliseconds()), nil)

	if result.OriginalTokens > 0 {
		h.OnMetric("session.compaction.reduction_pct", reduction(result), nil)
	}

	return nil
}

// CompactionFailed counts failed compactions
func (h *MetricsHooks) CompactionFailed(ctx context.Context, sessionID string, err error) {
	h.OnMetric("session.compaction.failed", 1, nil)
}

func reduction(result *compaction.Result) float64 {
	if result.OriginalTokens <= 0 {
		return 0
	}
	return float64(result.OriginalTokens-result.SummaryTokens) / float64(result.OriginalTokens) * 100
}
