package sessionpg

import (
	"errors"
	"fmt"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/storage"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRole is returned when a caller appends an unknown role or a checkpoint
	ErrInvalidRole = errors.New("invalid message role")

	// ErrClosed is returned when the service is used after Close
	ErrClosed = errors.New("session memory closed")

	// ErrClientAlreadyStarted is returned when Start() is called twice
	ErrClientAlreadyStarted = errors.New("client already started")

	// ErrClientNotStarted is returned when Stop() is called before Start()
	ErrClientNotStarted = errors.New("client not started")

	// ErrSessionNotFound is returned when a session does not exist
	ErrSessionNotFound = storage.ErrSessionNotFound

	// ErrEmptySessionID is returned when a session ID is empty
	ErrEmptySessionID = storage.ErrEmptySessionID

	// ErrCompactionFailed matches summarizer failures and timeouts
	ErrCompactionFailed = compaction.ErrCompactionFailed

	// ErrNoMessagesToCompact is returned by Compact when the window is too small
	ErrNoMessagesToCompact = compaction.ErrNoMessagesToCompact

	// ErrStorageError is returned when a storage operation failed
	ErrStorageError = compaction.ErrStorageError
)

// MemoryError represents an error with additional context
type MemoryError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID string         // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *MemoryError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *MemoryError) WithContext(key string, value any) *MemoryError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewMemoryError creates a new MemoryError
func NewMemoryError(op string, err error) *MemoryError {
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// NewMemoryErrorWithSession creates a new MemoryError with session ID
func NewMemoryErrorWithSession(op string, sessionID string, err error) *MemoryError {
	return &MemoryError{
		Op:        op,
		Err:       err,
		SessionID: sessionID,
	}
}

// storageError wraps a store error so that it matches ErrStorageError,
// unless it already does or is a known storage sentinel.
func storageError(op, sessionID string, err error) *MemoryError {
	if !errors.Is(err, ErrStorageError) && !errors.Is(err, storage.ErrEmptySessionID) && !errors.Is(err, storage.ErrSessionNotFound) {
		err = fmt.Errorf("%w: %w", ErrStorageError, err)
	}
	return NewMemoryErrorWithSession(op, sessionID, err)
}
