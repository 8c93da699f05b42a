package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/youssefsiam38/sessionpg"
	"github.com/youssefsiam38/sessionpg/types"
)

// Pagination bounds for the history endpoint.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Response wraps all API responses.
type Response struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
	Meta  *Meta     `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	TotalCount int  `json:"total_count,omitempty"`
	HasMore    bool `json:"has_more,omitempty"`
	Limit      int  `json:"limit,omitempty"`
	Offset     int  `json:"offset,omitempty"`
}

// AppendRequest is the body of POST /sessions/{id}/messages.
type AppendRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AppendResponse is the data of a successful append.
type AppendResponse struct {
	Message             *types.Message    `json:"message"`
	Compaction          *CompactionResult `json:"compaction,omitempty"`
	CompactionError     string            `json:"compaction_error,omitempty"`
	CompactionScheduled bool              `json:"compaction_scheduled,omitempty"`
}

// CompactionResult describes a written checkpoint.
type CompactionResult struct {
	EventID        string         `json:"event_id,omitempty"`
	Checkpoint     *types.Message `json:"checkpoint"`
	FoldedMessages int            `json:"folded_messages"`
	OriginalTokens int            `json:"original_tokens"`
	SummaryTokens  int            `json:"summary_tokens"`
	DurationMs     int64          `json:"duration_ms"`
}

// StatsResponse is the data of GET /sessions/{id}/stats.
type StatsResponse struct {
	SessionID          string         `json:"session_id"`
	WindowMessages     int            `json:"window_messages"`
	WindowTokens       int            `json:"window_tokens"`
	Threshold          int            `json:"threshold"`
	NeedsCompaction    bool           `json:"needs_compaction"`
	LastCheckpoint     *types.Message `json:"last_checkpoint,omitempty"`
	LastFoldedMessages int            `json:"last_folded_messages,omitempty"`
	CompactionCount    int            `json:"compaction_count"`
}

func (rt *router) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	body := http.MaxBytesReader(w, r.Body, rt.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}

	role, err := types.ParseRole(strings.ToLower(req.Role))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := rt.mem.Append(r.Context(), r.PathValue("id"), role, req.Content)
	if err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}

	resp := AppendResponse{
		Message:             res.Message,
		CompactionScheduled: res.CompactionScheduled,
	}
	if res.Compaction != nil {
		resp.Compaction = compactionResult(res.Compaction.EventID, res.Compaction.Checkpoint,
			res.Compaction.FoldedMessages, res.Compaction.OriginalTokens, res.Compaction.SummaryTokens,
			res.Compaction.Duration)
	}
	if res.CompactionErr != nil {
		resp.CompactionError = res.CompactionErr.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (rt *router) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := rt.mem.History(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}

	limit := parseInt(r, "limit", DefaultLimit)
	offset := parseOffset(r, "offset", 0)

	total := len(messages)
	start := min(offset, total)
	end := min(start+limit, total)

	writeJSONWithMeta(w, http.StatusOK, messages[start:end], &Meta{
		TotalCount: total,
		HasMore:    end < total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (rt *router) handleContext(w http.ResponseWriter, r *http.Request) {
	turns, err := rt.mem.Context(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}
	if turns == nil {
		turns = []types.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (rt *router) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := rt.mem.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.mem.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		SessionID:          stats.SessionID,
		WindowMessages:     stats.WindowMessages,
		WindowTokens:       stats.WindowTokens,
		Threshold:          stats.Threshold,
		NeedsCompaction:    stats.NeedsCompaction,
		LastCheckpoint:     stats.LastCheckpoint,
		LastFoldedMessages: stats.LastFoldedMessages,
		CompactionCount:    stats.CompactionCount,
	})
}

func (rt *router) handleCompactions(w http.ResponseWriter, r *http.Request) {
	events, err := rt.mem.CompactionHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}
	writeJSONWithMeta(w, http.StatusOK, events, &Meta{TotalCount: len(events)})
}

func (rt *router) handleCompact(w http.ResponseWriter, r *http.Request) {
	res, err := rt.mem.Compact(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeMemoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, compactionResult(res.EventID, res.Checkpoint,
		res.FoldedMessages, res.OriginalTokens, res.SummaryTokens, res.Duration))
}

func compactionResult(eventID string, checkpoint *types.Message, folded, original, summary int, d time.Duration) *CompactionResult {
	return &CompactionResult{
		EventID:        eventID,
		Checkpoint:     checkpoint,
		FoldedMessages: folded,
		OriginalTokens: original,
		SummaryTokens:  summary,
		DurationMs:     d.Milliseconds(),
	}
}

// writeMemoryError maps engine errors to HTTP statuses.
func (rt *router) writeMemoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sessionpg.ErrEmptySessionID), errors.Is(err, sessionpg.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, sessionpg.ErrNoMessagesToCompact):
		writeError(w, http.StatusConflict, "nothing_to_compact", err.Error())
	case errors.Is(err, sessionpg.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "closed", err.Error())
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		// Client went away; nothing useful to write.
	default:
		if rt.config.Logger != nil {
			rt.config.Logger.Error("request failed", "path", r.URL.Path, "error", err)
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

// writeJSONWithMeta writes a JSON response with metadata.
func writeJSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data, Meta: meta})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Error: &APIError{Code: code, Message: message},
	})
}

// parseInt parses a limit from a query parameter with a default, clamped to
// [1, MaxLimit].
func parseInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return min(i, MaxLimit)
}

// parseOffset parses an offset from a query parameter with a default.
func parseOffset(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}
