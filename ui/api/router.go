package api

import (
	"context"
	"net/http"

	"github.com/youssefsiam38/sessionpg"
	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// DefaultMaxBodyBytes bounds the size of an append request.
const DefaultMaxBodyBytes = 1 << 20

// Memory is the part of *sessionpg.Service the API serves.
type Memory interface {
	Append(ctx context.Context, sessionID string, role types.Role, content string) (*sessionpg.AppendResult, error)
	Context(ctx context.Context, sessionID string) ([]types.Turn, error)
	Transcript(ctx context.Context, sessionID string) ([]types.Turn, error)
	History(ctx context.Context, sessionID string) ([]*types.Message, error)
	Stats(ctx context.Context, sessionID string) (*compaction.Stats, error)
	CompactionHistory(ctx context.Context, sessionID string) ([]*storage.CompactionEvent, error)
	Compact(ctx context.Context, sessionID string) (*compaction.Result, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

var _ Memory = (*sessionpg.Service)(nil)

// Config holds API router configuration.
type Config struct {
	// ReadOnly rejects appends, compaction and deletion with 403.
	ReadOnly bool

	// MaxBodyBytes bounds append request bodies.
	// Default: 1 MiB
	MaxBodyBytes int64

	// Logger for structured logging.
	Logger Logger
}

// Logger interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// router holds the API router state.
type router struct {
	mem    Memory
	config *Config
}

// NewRouter creates a new API router.
func NewRouter(mem Memory, cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := &router{
		mem:    mem,
		config: cfg,
	}

	mux := http.NewServeMux()

	// Sessions
	mux.HandleFunc("POST /sessions/{id}/messages", r.writable(r.handleAppend))
	mux.HandleFunc("GET /sessions/{id}/messages", r.handleHistory)
	mux.HandleFunc("GET /sessions/{id}/context", r.handleContext)
	mux.HandleFunc("DELETE /sessions/{id}", r.writable(r.handleDelete))

	// Compaction
	mux.HandleFunc("GET /sessions/{id}/stats", r.handleStats)
	mux.HandleFunc("GET /sessions/{id}/compactions", r.handleCompactions)
	mux.HandleFunc("POST /sessions/{id}/compact", r.writable(r.handleCompact))

	return withMiddleware(mux, cfg)
}

// writable rejects the request in read-only mode.
func (rt *router) writable(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt.config.ReadOnly {
			writeError(w, http.StatusForbidden, "read_only", "the API is in read-only mode")
			return
		}
		next(w, r)
	}
}

// withMiddleware wraps the handler with common middleware.
func withMiddleware(handler http.Handler, cfg *Config) http.Handler {
	// Add JSON content type
	handler = jsonMiddleware(handler)
	// Add error recovery
	handler = recoveryMiddleware(handler, cfg.Logger)
	return handler
}

// jsonMiddleware sets JSON content type for all responses.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if logger != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				http.Error(w, `{"error":{"code":"internal_error","message":"internal server error"}}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
