package ui

import (
	"strings"

	"github.com/youssefsiam38/sessionpg/compaction"
)

// Config holds UI package configuration.
type Config struct {
	// BasePath is the URL prefix where the handler is mounted.
	// For example, if mounted at "/memory/", set BasePath to "/memory".
	// Links on the transcript page are prefixed with this path.
	// Defaults to empty string (root mount).
	BasePath string

	// ReadOnly rejects appends, compaction and deletion.
	// Useful for monitoring-only deployments.
	ReadOnly bool

	// RoleLabels names the speakers on the transcript page.
	// Missing labels fall back to compaction.DefaultRoleLabels.
	RoleLabels compaction.RoleLabels

	// MaxBodyBytes bounds append request bodies.
	// Defaults to 1 MiB.
	MaxBodyBytes int64

	// Logger for structured logging.
	// If nil, logging is disabled.
	Logger Logger
}

// Logger interface for structured logging.
// Compatible with sessionpg.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		RoleLabels: compaction.DefaultRoleLabels(),
	}
}

// applyDefaults fills in default values for zero-valued fields.
func (c *Config) applyDefaults() {
	c.RoleLabels.ApplyDefaults()
	c.BasePath = strings.TrimSuffix(c.BasePath, "/")
}

// validate checks the configuration for errors.
func (c *Config) validate() error {
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return ErrInvalidConfig
	}
	if c.MaxBodyBytes < 0 {
		return ErrInvalidConfig
	}
	return nil
}
