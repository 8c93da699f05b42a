// Package compaction keeps a session's working context bounded by folding old
// turns into summary checkpoints.
//
// Compaction is append-only. When the user, assistant and checkpoint messages
// written since the last checkpoint exceed the token threshold, they are
// rendered as a transcript, summarized, and a new checkpoint message is
// appended to the log. Nothing is deleted: readers hide the folded turns by
// starting at the latest checkpoint (see package history).
//
// # Usage
//
//	estimator := compaction.NewEstimator(compaction.NewAnthropicTokenizer(client, model), nil, logger)
//	summarizer := compaction.NewAnthropicSummarizer(client, model, 1024)
//	compactor := compaction.New(store, estimator, summarizer, &compaction.Config{
//	    Threshold: 1200,
//	}, logger)
//
//	// After each user or assistant append:
//	result, err := compactor.MaybeCompact(ctx, sessionID)
//	if err != nil {
//	    // errors.Is(err, compaction.ErrCompactionFailed): the append stands,
//	    // compaction will be retried after the next append.
//	}
//	if result != nil {
//	    log.Printf("folded %d messages (%d -> %d tokens)",
//	        result.FoldedMessages, result.OriginalTokens, result.SummaryTokens)
//	}
//
// # Token Estimation
//
// Estimator asks a Tokenizer (the Anthropic token counting API by default)
// and falls back to a character heuristic on any failure: CJK ideographs
// count 1/1.5 token, every other rune 1/4 token, rounded up.
//
// # Thread Safety
//
// A Compactor is safe for concurrent use. Compactions of the same session are
// serialized by an in-process lock; different sessions run in parallel.
package compaction
