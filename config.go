package sessionpg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/history"
)

// Config holds the session memory configuration. Every field has a default;
// the zero Config is usable after ApplyDefaults.
//
// Example YAML:
//
//	compaction_threshold: 1200
//	role_labels:
//	  user: User
//	  assistant: Assistant
//	summarizer_timeout: 60s
//	checkpoint_mode: user
type Config struct {
	// CompactionThreshold is the token budget of the working window.
	// Default: 1200
	CompactionThreshold int `yaml:"compaction_threshold"`

	// RoleLabels name the speakers in the transcript sent to the summarizer.
	RoleLabels compaction.RoleLabels `yaml:"role_labels"`

	// CJKCharsPerToken and OtherCharsPerToken tune the heuristic estimate.
	// Defaults: 1.5 and 4
	CJKCharsPerToken   float64 `yaml:"cjk_chars_per_token"`
	OtherCharsPerToken float64 `yaml:"other_chars_per_token"`

	// SummarizerTimeout bounds one summarizer call.
	// Default: 60s
	SummarizerTimeout time.Duration `yaml:"summarizer_timeout"`

	// TokenizerTimeout bounds one tokenizer call before falling back to the heuristic.
	// Default: 2s
	TokenizerTimeout time.Duration `yaml:"tokenizer_timeout"`

	// SummarizerModel is the Claude model used when an Anthropic client is given.
	// Default: claude-3-5-haiku-20241022
	SummarizerModel string `yaml:"summarizer_model"`

	// SummarizerMaxTokens caps the summary length.
	// Default: 1024
	SummarizerMaxTokens int `yaml:"summarizer_max_tokens"`

	// UseTokenCountingAPI counts tokens with the Claude API when an Anthropic
	// client is given.
	// Default: true
	UseTokenCountingAPI *bool `yaml:"use_token_counting_api"`

	// CheckpointMode is "user" (checkpoints read back as user turns) or
	// "dedicated" (read back with the checkpoint role).
	// Default: user
	CheckpointMode string `yaml:"checkpoint_mode"`

	// AsyncCompaction runs compaction in the background after an append.
	// Default: false
	AsyncCompaction bool `yaml:"async_compaction"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.CompactionThreshold == 0 {
		c.CompactionThreshold = compaction.DefaultThreshold
	}
	c.RoleLabels.ApplyDefaults()
	if c.CJKCharsPerToken == 0 {
		c.CJKCharsPerToken = compaction.DefaultCJKCharsPerToken
	}
	if c.OtherCharsPerToken == 0 {
		c.OtherCharsPerToken = compaction.DefaultOtherCharsPerToken
	}
	if c.SummarizerTimeout == 0 {
		c.SummarizerTimeout = compaction.DefaultSummarizerTimeout
	}
	if c.TokenizerTimeout == 0 {
		c.TokenizerTimeout = compaction.DefaultTokenizerTimeout
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = compaction.DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = compaction.DefaultSummarizerMaxTokens
	}
	if c.UseTokenCountingAPI == nil {
		v := compaction.DefaultUseTokenCountingAPI
		c.UseTokenCountingAPI = &v
	}
	if c.CheckpointMode == "" {
		c.CheckpointMode = history.CheckpointAsUser.String()
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CompactionThreshold <= 0 {
		return fmt.Errorf("%w: compaction_threshold must be positive, got %d", ErrInvalidConfig, c.CompactionThreshold)
	}
	if c.CJKCharsPerToken <= 0 || c.OtherCharsPerToken <= 0 {
		return fmt.Errorf("%w: chars per token ratios must be positive", ErrInvalidConfig)
	}
	if c.SummarizerTimeout < 0 {
		return fmt.Errorf("%w: summarizer_timeout must be non-negative", ErrInvalidConfig)
	}
	if c.TokenizerTimeout < 0 {
		return fmt.Errorf("%w: tokenizer_timeout must be non-negative", ErrInvalidConfig)
	}
	if c.SummarizerMaxTokens < 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be non-negative", ErrInvalidConfig)
	}
	for _, label := range []string{c.RoleLabels.User, c.RoleLabels.Assistant, c.RoleLabels.Checkpoint, c.RoleLabels.System} {
		if label == "" {
			return fmt.Errorf("%w: role labels must not be empty", ErrInvalidConfig)
		}
	}
	if _, err := history.ParseCheckpointMode(c.CheckpointMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) compactionConfig() *compaction.Config {
	return &compaction.Config{
		Threshold:         c.CompactionThreshold,
		RoleLabels:        c.RoleLabels,
		SummarizerTimeout: c.SummarizerTimeout,
	}
}

func (c *Config) estimatorConfig() *compaction.EstimatorConfig {
	return &compaction.EstimatorConfig{
		CJKCharsPerToken:   c.CJKCharsPerToken,
		OtherCharsPerToken: c.OtherCharsPerToken,
		TokenizerTimeout:   c.TokenizerTimeout,
	}
}

// LoadConfig reads a YAML configuration file, applies defaults and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML configuration. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
