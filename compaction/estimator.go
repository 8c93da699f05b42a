package compaction

import (
	"context"
	"fmt"
	"math"
	"time"
)

// TokenEstimator returns an approximate token count for a piece of text.
// Implementations never fail and never return a negative count.
type TokenEstimator interface {
	Estimate(ctx context.Context, text string) int
}

// Estimator estimates token counts with a Tokenizer, falling back to a
// character heuristic whenever the tokenizer errors, times out, panics or
// returns a negative count.
type Estimator struct {
	tokenizer Tokenizer
	config    *EstimatorConfig
	logger    Logger
}

// NewEstimator creates an Estimator. A nil tokenizer means heuristic only.
// If config is nil, default configuration is used.
func NewEstimator(tokenizer Tokenizer, config *EstimatorConfig, logger Logger) *Estimator {
	if config == nil {
		config = DefaultEstimatorConfig()
	} else {
		config.ApplyDefaults()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Estimator{tokenizer: tokenizer, config: config, logger: logger}
}

// Estimate returns the token count of text. It never fails; the empty string costs 0.
func (e *Estimator) Estimate(ctx context.Context, text string) int {
	if text == "" {
		return 0
	}
	if e.tokenizer == nil {
		return e.Heuristic(text)
	}

	n, err := e.count(ctx, text)
	if err != nil {
		e.logger.Debug("tokenizer unavailable, using heuristic estimate", "error", err)
		return e.Heuristic(text)
	}
	return n
}

// count runs the tokenizer under TokenizerTimeout. A tokenizer that ignores
// ctx is abandoned at the deadline; its late answer is dropped.
func (e *Estimator) count(ctx context.Context, text string) (int, error) {
	if e.config.TokenizerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TokenizerTimeout)
		defer cancel()
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: tokenizer panic: %v", ErrTokenCountingFailed, r)}
			}
		}()
		n, err := e.tokenizer.CountTokens(ctx, text)
		done <- result{n: n, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w after %s", ErrTokenCountingFailed, ctx.Err(), time.Since(start))
	}
	if res.err != nil {
		return 0, res.err
	}
	if res.n < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrTokenCountingFailed, res.n)
	}
	if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: %w after %s", ErrTokenCountingFailed, ctx.Err(), time.Since(start))
	}
	return res.n, nil
}

// Heuristic applies the character heuristic with the estimator's ratios.
func (e *Estimator) Heuristic(text string) int {
	return heuristic(text, e.config.CJKCharsPerToken, e.config.OtherCharsPerToken)
}

// Heuristic estimates tokens with the default ratios: a CJK ideograph
// (U+4E00 to U+9FA5) costs 1/1.5 token and any other rune 1/4 token. The sum
// is rounded up.
func Heuristic(text string) int {
	return heuristic(text, DefaultCJKCharsPerToken, DefaultOtherCharsPerToken)
}

func heuristic(text string, cjkPerToken, otherPerToken float64) int {
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	if cjk == 0 && other == 0 {
		return 0
	}
	return int(math.Ceil(float64(cjk)/cjkPerToken + float64(other)/otherPerToken))
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FA5
}

// EstimatorFunc adapts a function to TokenEstimator.
type EstimatorFunc func(ctx context.Context, text string) int

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context, text string) int {
	return f(ctx, text)
}

var (
	_ TokenEstimator = (*Estimator)(nil)
	_ TokenEstimator = EstimatorFunc(nil)
)
