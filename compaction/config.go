package compaction

import (
	"fmt"
	"time"

	"github.com/youssefsiam38/sessionpg/types"
)

// Default configuration values.
const (
	DefaultThreshold           = 1200 // estimated tokens since the last checkpoint
	DefaultSummarizerTimeout   = 60 * time.Second
	DefaultTokenizerTimeout    = 2 * time.Second
	DefaultCJKCharsPerToken    = 1.5
	DefaultOtherCharsPerToken  = 4.0
	DefaultSummarizerModel     = "claude-3-5-haiku-20241022"
	DefaultSummarizerMaxTokens = 1024
	DefaultUseTokenCountingAPI = true
)

// RoleLabels are the speaker names used when rendering a transcript for the
// summarizer.
type RoleLabels struct {
	User       string `yaml:"user" json:"user"`
	Assistant  string `yaml:"assistant" json:"assistant"`
	Checkpoint string `yaml:"checkpoint" json:"checkpoint"`
	System     string `yaml:"system" json:"system"`
}

// DefaultRoleLabels returns the English role labels.
func DefaultRoleLabels() RoleLabels {
	return RoleLabels{
		User:       "User",
		Assistant:  "Assistant",
		Checkpoint: "Summary",
		System:     "System",
	}
}

// ApplyDefaults fills empty labels with the defaults.
func (l *RoleLabels) ApplyDefaults() {
	d := DefaultRoleLabels()
	if l.User == "" {
		l.User = d.User
	}
	if l.Assistant == "" {
		l.Assistant = d.Assistant
	}
	if l.Checkpoint == "" {
		l.Checkpoint = d.Checkpoint
	}
	if l.System == "" {
		l.System = d.System
	}
}

// Label returns the label for role.
func (l RoleLabels) Label(role types.Role) (string, error) {
	switch role {
	case types.RoleUser:
		return l.User, nil
	case types.RoleAssistant:
		return l.Assistant, nil
	case types.RoleCheckpoint:
		return l.Checkpoint, nil
	case types.RoleSystem:
		return l.System, nil
	default:
		return "", fmt.Errorf("%w: %q", types.ErrUnknownRole, role)
	}
}

// Config holds compaction configuration.
type Config struct {
	// Threshold is the token budget of the working window. Compaction runs
	// when the estimated tokens since the last checkpoint exceed it.
	// Default: 1200
	Threshold int

	// RoleLabels name the speakers in the transcript sent to the summarizer.
	// Default: User / Assistant / Summary / System
	RoleLabels RoleLabels

	// SummarizerTimeout bounds a single summarizer call. A timeout counts as
	// a failed compaction.
	// Default: 60s
	SummarizerTimeout time.Duration

	// ModelUsed is recorded on compaction events. Informational only.
	ModelUsed string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Threshold:         DefaultThreshold,
		RoleLabels:        DefaultRoleLabels(),
		SummarizerTimeout: DefaultSummarizerTimeout,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	c.RoleLabels.ApplyDefaults()
	if c.SummarizerTimeout == 0 {
		c.SummarizerTimeout = DefaultSummarizerTimeout
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %d", ErrInvalidConfig, c.Threshold)
	}
	if c.SummarizerTimeout < 0 {
		return fmt.Errorf("%w: summarizer_timeout must be non-negative, got %s", ErrInvalidConfig, c.SummarizerTimeout)
	}
	return nil
}

// EstimatorConfig holds token estimation settings.
type EstimatorConfig struct {
	// CJKCharsPerToken is the heuristic cost divisor for CJK ideographs.
	// Default: 1.5
	CJKCharsPerToken float64

	// OtherCharsPerToken is the heuristic cost divisor for every other rune.
	// Default: 4
	OtherCharsPerToken float64

	// TokenizerTimeout bounds a single tokenizer call before the heuristic is used.
	// Default: 2s
	TokenizerTimeout time.Duration
}

// DefaultEstimatorConfig returns an EstimatorConfig with default values.
func DefaultEstimatorConfig() *EstimatorConfig {
	return &EstimatorConfig{
		CJKCharsPerToken:   DefaultCJKCharsPerToken,
		OtherCharsPerToken: DefaultOtherCharsPerToken,
		TokenizerTimeout:   DefaultTokenizerTimeout,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *EstimatorConfig) ApplyDefaults() {
	if c.CJKCharsPerToken == 0 {
		c.CJKCharsPerToken = DefaultCJKCharsPerToken
	}
	if c.OtherCharsPerToken == 0 {
		c.OtherCharsPerToken = DefaultOtherCharsPerToken
	}
	if c.TokenizerTimeout == 0 {
		c.TokenizerTimeout = DefaultTokenizerTimeout
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *EstimatorConfig) Validate() error {
	if c.CJKCharsPerToken <= 0 {
		return fmt.Errorf("%w: cjk_chars_per_token must be positive, got %g", ErrInvalidConfig, c.CJKCharsPerToken)
	}
	if c.OtherCharsPerToken <= 0 {
		return fmt.Errorf("%w: other_chars_per_token must be positive, got %g", ErrInvalidConfig, c.OtherCharsPerToken)
	}
	if c.TokenizerTimeout < 0 {
		return fmt.Errorf("%w: tokenizer_timeout must be non-negative, got %s", ErrInvalidConfig, c.TokenizerTimeout)
	}
	return nil
}
