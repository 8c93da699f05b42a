// sessionpg is a command-line front end for the session memory engine.
//
// It appends messages, prints a session's working context or raw history,
// forces compaction and deletes sessions. "serve" runs the background
// services (event listener, retention sweeper, database heartbeat) and, with
// --http, the JSON API and transcript pages.
//
// The backend is chosen with --driver: "pgx" and "database_sql" connect to
// PostgreSQL with --dsn, "sqlite" opens the file named by --dsn. Each global
// flag can also be set with a SESSIONPG_* environment variable; flags win.
//
// Summaries are written by Claude when ANTHROPIC_API_KEY is set. Without it,
// messages are still stored but compaction reports a failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		var usage *usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
			printUsage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// usageError is returned for bad invocations; main prints the usage after it.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: sessionpg [global flags] <command> [flags] [args]

Commands:
  migrate                     create or upgrade the sessionpg tables
  append  --session ID        append a message (content from args or stdin)
  context --session ID        print the working context
  history --session ID        print every stored message
  stats   --session ID        print compaction statistics
  compact --session ID        fold the current window into a checkpoint now
  delete  --session ID        delete a session and its history
  serve                       run the background services and, with --http, the HTTP API
  version                     print the version

Global flags:
  --driver string      pgx, database_sql or sqlite (env SESSIONPG_DRIVER, default pgx)
  --dsn string         connection string or SQLite path (env SESSIONPG_DSN)
  --config string      YAML configuration file (env SESSIONPG_CONFIG)
  --log-level string   debug, info, warn or error (env SESSIONPG_LOG_LEVEL, default warn)

Run "sessionpg <command> --help" for command flags.
`)
}
