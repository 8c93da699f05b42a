package compaction

import (
	"errors"
	"fmt"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrNoMessagesToCompact indicates the window holds fewer than two messages.
	ErrNoMessagesToCompact = errors.New("no messages to compact")

	// ErrCompactionFailed indicates the summarizer failed, timed out or
	// returned nothing. The triggering append is not affected.
	ErrCompactionFailed = errors.New("compaction failed")

	// ErrSummarizationFailed indicates the summarization API call failed.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrTokenCountingFailed indicates token counting failed.
	ErrTokenCountingFailed = errors.New("token counting failed")

	// ErrStorageError indicates a database operation failed.
	ErrStorageError = errors.New("storage operation failed")
)

// CompactionError provides structured error context for compaction operations.
type CompactionError struct {
	// Op is the operation that failed (e.g., "Compact", "Summarize", "AppendCheckpoint")
	Op string

	// SessionID is the session ID if applicable
	SessionID string

	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any
}

// Error returns a formatted error message.
func (e *CompactionError) Error() string {
	msg := fmt.Sprintf("compaction %s failed", e.Op)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" for session %s", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *CompactionError) Unwrap() error {
	return e.Err
}

// NewCompactionError creates a new CompactionError with the given operation and underlying error.
func NewCompactionError(op string, err error) *CompactionError {
	return &CompactionError{
		Op:      op,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithSession sets the session ID on the error and returns the error for chaining.
func (e *CompactionError) WithSession(sessionID string) *CompactionError {
	e.SessionID = sessionID
	return e
}

// WithContext adds a key-value pair to the error context and returns the error for chaining.
func (e *CompactionError) WithContext(key string, value any) *CompactionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// failed wraps err so that it matches both ErrCompactionFailed and err.
func failed(op, sessionID string, err error) *CompactionError {
	return NewCompactionError(op, fmt.Errorf("%w: %w", ErrCompactionFailed, err)).WithSession(sessionID)
}

// storageFailed wraps a store error so that it matches both ErrStorageError and err.
func storageFailed(op, sessionID string, err error) *CompactionError {
	return NewCompactionError(op, fmt.Errorf("%w: %w", ErrStorageError, err)).WithSession(sessionID)
}
