package ui

import "errors"

// UI package errors.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("ui: invalid configuration")

	// ErrMemoryRequired indicates Handler was given a nil memory.
	ErrMemoryRequired = errors.New("ui: memory is required")
)
