package compaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/zeebo/blake3"
)

// Tokenizer is an exact (or model-specific) token counter. It may fail.
type Tokenizer interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(ctx context.Context, text string) (int, error)

// CountTokens calls f.
func (f TokenizerFunc) CountTokens(ctx context.Context, text string) (int, error) {
	return f(ctx, text)
}

// DefaultTokenCacheSize is the number of counts an AnthropicTokenizer keeps.
const DefaultTokenCacheSize = 4096

// calibrationText is counted once to measure the framing tokens the API adds
// to every request. The API rejects empty text blocks.
const calibrationText = "."

// AnthropicTokenizer counts tokens with the Claude token counting API.
//
// The API counts whole requests, so a single message also pays the request
// and message framing. That overhead is measured once by counting a
// one-token message and subtracted from every count; without it a window of
// N messages would be inflated by roughly N times the framing.
//
// Message logs are append-only, so the same content is counted again on every
// compaction check. Results are cached by a blake3 digest of model and text.
type AnthropicTokenizer struct {
	client *anthropic.Client
	model  string

	mu         sync.Mutex
	cache      map[[32]byte]int
	cacheSize  int
	overhead   int
	calibrated bool
}

// NewAnthropicTokenizer creates a tokenizer for model.
func NewAnthropicTokenizer(client *anthropic.Client, model string) *AnthropicTokenizer {
	if model == "" {
		model = DefaultSummarizerModel
	}
	return &AnthropicTokenizer{
		client:    client,
		model:     model,
		cache:     make(map[[32]byte]int),
		cacheSize: DefaultTokenCacheSize,
	}
}

// CountTokens returns the token count of text as message content, without
// the request framing. Non-empty text counts at least 1.
func (t *AnthropicTokenizer) CountTokens(ctx context.Context, text string) (int, error) {
	if t.client == nil {
		return 0, fmt.Errorf("%w: no anthropic client", ErrTokenCountingFailed)
	}

	key := t.cacheKey(text)
	if n, ok := t.lookup(key); ok {
		return n, nil
	}

	overhead, err := t.framingOverhead(ctx)
	if err != nil {
		return 0, err
	}
	raw, err := t.count(ctx, text)
	if err != nil {
		return 0, err
	}

	n := max(raw-overhead, 1)
	t.store(key, n)
	return n, nil
}

// framingOverhead returns the tokens the API adds around one user message.
// A failed calibration is retried on the next call.
func (t *AnthropicTokenizer) framingOverhead(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.calibrated {
		defer t.mu.Unlock()
		return t.overhead, nil
	}
	t.mu.Unlock()

	raw, err := t.count(ctx, calibrationText)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.overhead = max(raw-1, 0)
	t.calibrated = true
	return t.overhead, nil
}

func (t *AnthropicTokenizer) count(ctx context.Context, text string) (int, error) {
	result, err := t.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(t.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenCountingFailed, err)
	}
	return int(result.InputTokens), nil
}

func (t *AnthropicTokenizer) cacheKey(text string) [32]byte {
	h := blake3.New()
	_, _ = h.Write([]byte(t.model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))

	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

func (t *AnthropicTokenizer) lookup(key [32]byte) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.cache[key]
	return n, ok
}

func (t *AnthropicTokenizer) store(key [32]byte, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cache) >= t.cacheSize {
		clear(t.cache)
	}
	t.cache[key] = n
}

var _ Tokenizer = (*AnthropicTokenizer)(nil)
