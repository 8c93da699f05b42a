// Package sessionpg is a session memory engine for LLM conversations.
//
// Every session is an append-only log of system, user and assistant
// messages stored in PostgreSQL (pgx/v5 or database/sql) or SQLite. When the
// turns since the last checkpoint grow past a token budget, they are
// summarized into a checkpoint message; reading the session back returns the
// system messages plus everything from the latest checkpoint on. Nothing is
// ever deleted from the log by compaction.
//
// # Quick Start
//
//	pool, _ := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
//	drv := pgxv5.New(pool)
//	_ = drv.Migrate(ctx)
//
//	client := anthropic.NewClient()
//	mem, err := sessionpg.NewWithDriver(drv, sessionpg.DefaultConfig(),
//	    sessionpg.WithAnthropicClient(&client),
//	    sessionpg.WithLogger(slog.Default()),
//	)
//
//	mem.AppendSystem(ctx, "chat-42", "You are a concise assistant.")
//	mem.AppendUser(ctx, "chat-42", "What is a B-tree?")
//	mem.AppendAssistant(ctx, "chat-42", reply)
//
//	turns, _ := mem.Context(ctx, "chat-42")
//
// # Compaction
//
// After each user or assistant append, the window (the latest checkpoint and
// every user or assistant message after it) is estimated in tokens. When it
// holds more than one message and exceeds Config.CompactionThreshold, the
// window is rendered as a "Label: content" transcript and sent to the
// Summarizer. The summary is appended as a checkpoint whose first line is
//
//	[Conversation summary - folded N messages]
//
// A failed or timed-out summarizer does not fail the append; the error is
// reported in AppendResult.CompactionErr and compaction is retried on the
// next append.
//
// Token estimates use the Claude token counting API when available and fall
// back to ceil(cjk/1.5 + other/4), where cjk counts runes in U+4E00..U+9FA5.
//
// # Transactions
//
// Client.AppendTx appends inside a caller's transaction. The checkpoint of a
// compaction triggered by that append is written in the same transaction.
//
// # Background Services
//
// Client.Start runs the event listener and, when configured, the retention
// sweeper (WithRetention), the compaction rescuer (WithCompactionRescue) and
// the database heartbeat (WithHeartbeat). With WithLeaderElection, retention
// and the rescuer run only on the instance holding the leader lease.
//
// Package ui serves a Service over HTTP.
package sessionpg
