package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/youssefsiam38/sessionpg"
	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/maintenance"
	"github.com/youssefsiam38/sessionpg/render"
	"github.com/youssefsiam38/sessionpg/types"
	"github.com/youssefsiam38/sessionpg/ui"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"migrate": runMigrate,
	"append":  runAppend,
	"context": runContext,
	"history": runHistory,
	"stats":   runStats,
	"compact": runCompact,
	"delete":  runDelete,
	"serve":   runServe,
	"version": runVersion,
}

// Output formats.
const (
	formatText     = "text"
	formatMarkdown = "markdown"
	formatHTML     = "html"
	formatJSON     = "json"
)

// parseFlags parses a command's flags. It returns done=true when --help was
// printed.
func parseFlags(a *app, flags *pflag.FlagSet, args []string) (done bool, err error) {
	flags.SetOutput(io.Discard)
	help := flags.BoolP("help", "h", false, "show help")
	if err := flags.Parse(args); err != nil {
		return false, usagef("%s: %v", flags.Name(), err)
	}
	if *help {
		fmt.Fprintf(a.stdout, "Usage of %s:\n%s", flags.Name(), flags.FlagUsages())
		return true, nil
	}
	return false, nil
}

func sessionFlag(flags *pflag.FlagSet) *string {
	return flags.StringP("session", "s", "", "session ID")
}

func requireSession(name, sessionID string) error {
	if sessionID == "" {
		return usagef("%s: --session is required", name)
	}
	return nil
}

// withBackend opens the backend, runs fn, and closes everything afterwards.
func withBackend(ctx context.Context, a *app, fn func(b *backend) error) error {
	b, err := a.open(ctx, serviceOptions{})
	if err != nil {
		return err
	}
	defer b.close()
	defer b.svc.Close(context.WithoutCancel(ctx))
	return fn(b)
}

func runMigrate(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}

	return withBackend(ctx, a, func(b *backend) error {
		if err := b.migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "migrations applied")
		return nil
	})
}

func runAppend(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("append", pflag.ContinueOnError)
	sessionID := sessionFlag(flags)
	roleName := flags.StringP("role", "r", string(types.RoleUser), "message role: system, user or assistant")
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}
	if err := requireSession("append", *sessionID); err != nil {
		return err
	}
	role, err := types.ParseRole(*roleName)
	if err != nil {
		return usagef("append: %v", err)
	}

	content := strings.Join(flags.Args(), " ")
	if content == "" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		content = strings.TrimRight(string(data), "\n")
	}

	return withBackend(ctx, a, func(b *backend) error {
		res, err := b.svc.Append(ctx, *sessionID, role, content)
		if res != nil {
			fmt.Fprintf(a.stdout, "appended %s (order %d)\n", res.Message.ID, res.Message.Order)
			if res.Compaction != nil {
				printCompaction(a.stdout, res.Compaction)
			}
			if res.CompactionErr != nil {
				fmt.Fprintf(a.stderr, "warning: compaction failed: %v\n", res.CompactionErr)
			}
		}
		return err
	})
}

func runContext(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("context", pflag.ContinueOnError)
	sessionID := sessionFlag(flags)
	format := flags.StringP("format", "f", formatText, "output format: text, markdown, html or json")
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}
	if err := requireSession("context", *sessionID); err != nil {
		return err
	}

	return withBackend(ctx, a, func(b *backend) error {
		read := b.svc.Context
		if *format == formatMarkdown || *format == formatHTML {
			read = b.svc.Transcript
		}
		turns, err := read(ctx, *sessionID)
		if err != nil {
			return err
		}
		return a.printTurns(turns, *format)
	})
}

func (a *app) printTurns(turns []types.Turn, format string) error {
	labels := a.config.RoleLabels

	switch format {
	case formatText:
		for i, turn := range turns {
			label, err := labels.Label(turn.Role)
			if err != nil {
				return err
			}
			if i > 0 {
				fmt.Fprintln(a.stdout)
			}
			fmt.Fprintf(a.stdout, "%s: %s\n", label, turn.Content)
		}
		return nil
	case formatMarkdown:
		out, err := render.Markdown(turns, labels)
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.stdout, out)
		return err
	case formatHTML:
		out, err := render.HTML(turns, labels)
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.stdout, out)
		return err
	case formatJSON:
		return a.printJSON(turns)
	default:
		return usagef("unknown format %q", format)
	}
}

func runHistory(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
	sessionID := sessionFlag(flags)
	format := flags.StringP("format", "f", formatText, "output format: text or json")
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}
	if err := requireSession("history", *sessionID); err != nil {
		return err
	}

	return withBackend(ctx, a, func(b *backend) error {
		msgs, err := b.svc.History(ctx, *sessionID)
		if err != nil {
			return err
		}
		switch *format {
		case formatText:
			for _, msg := range msgs {
				fmt.Fprintf(a.stdout, "#%d %s %s\n%s\n\n", msg.Order, msg.CreatedAt.Format(time.RFC3339), msg.Role, msg.Content)
			}
			return nil
		case formatJSON:
			return a.printJSON(msgs)
		default:
			return usagef("unknown format %q", *format)
		}
	})
}

func runStats(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	sessionID := sessionFlag(flags)
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}
	if err := requireSession("stats", *sessionID); err != nil {
		return err
	}

	return withBackend(ctx, a, func(b *backend) error {
		stats, err := b.svc.Stats(ctx, *sessionID)
		if err != nil {
			return err
		}
		events, err := b.svc.CompactionHistory(ctx, *sessionID)
		if err != nil {
			return err
		}
		return a.printJSON(struct {
			*compaction.Stats
			Events any `json:"events"`
		}{stats, events})
	})
}

func runCompact(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("compact", pflag.ContinueOnError)
	sessionID := sessionFlag(flags)
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}
	if err := requireSession("compact", *sessionID); err != nil {
		return err
	}

	return withBackend(ctx, a, func(b *backend) error {
		res, err := b.svc.Compact(ctx, *sessionID)
		if errors.Is(err, sessionpg.ErrNoMessagesToCompact) {
			fmt.Fprintln(a.stdout, "nothing to compact")
			return nil
		}
		if err != nil {
			return err
		}
		printCompaction(a.stdout, res)
		return nil
	})
}

func runDelete(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("delete", pflag.ContinueOnError)
	sessionID := sessionFlag(flags)
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}
	if err := requireSession("delete", *sessionID); err != nil {
		return err
	}

	return withBackend(ctx, a, func(b *backend) error {
		if err := b.svc.DeleteSession(ctx, *sessionID); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "deleted %s\n", *sessionID)
		return nil
	})
}

func runServe(ctx context.Context, a *app, args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	var opts serviceOptions
	flags.DurationVar(&opts.retention, "retention", 0, "delete sessions idle for longer than this (0 disables)")
	flags.DurationVar(&opts.retentionInterval, "retention-interval", time.Hour, "how often the retention sweeper runs")
	flags.BoolVar(&opts.rescue, "rescue", false, "compact recently active sessions left over budget")
	flags.DurationVar(&opts.rescueLookback, "rescue-lookback", maintenance.DefaultRescueLookback, "how far back the rescuer looks for active sessions")
	flags.StringVar(&opts.instanceID, "instance-id", "", "run retention and the rescuer only while this instance holds the leader lease")
	flags.DurationVar(&opts.heartbeat, "heartbeat", 30*time.Second, "database ping interval (0 disables)")
	shutdown := flags.Duration("shutdown-timeout", 30*time.Second, "how long to wait for in-flight compactions")
	httpAddr := flags.String("http", "", "serve the HTTP API and transcript pages on this address (e.g. :8080)")
	readOnly := flags.Bool("read-only", false, "reject appends, compaction and deletion over HTTP")
	if done, err := parseFlags(a, flags, args); done || err != nil {
		return err
	}

	b, err := a.open(ctx, opts)
	if err != nil {
		return err
	}
	defer b.close()

	if err := b.start(ctx); err != nil {
		return err
	}
	a.logger.Info("serving", "driver", a.globals.driver, "version", sessionpg.Version)

	var (
		srv     *http.Server
		srvErrs = make(chan error, 1)
	)
	if *httpAddr != "" {
		ln, err := net.Listen("tcp", *httpAddr)
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), *shutdown)
			defer cancel()
			return errors.Join(fmt.Errorf("failed to listen on %s: %w", *httpAddr, err), b.stop(stopCtx))
		}
		srv = &http.Server{
			Handler: ui.Handler(b.svc, &ui.Config{
				ReadOnly:   *readOnly,
				RoleLabels: a.config.RoleLabels,
				Logger:     a.logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		}
		a.logger.Info("http listening", "addr", ln.Addr().String(), "read_only", *readOnly)
		go func() { srvErrs <- srv.Serve(ln) }()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-srvErrs:
		a.logger.Error("http server stopped", "error", serveErr)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), *shutdown)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(stopCtx); err != nil {
			serveErr = errors.Join(serveErr, err)
		}
	}
	return errors.Join(serveErr, b.stop(stopCtx))
}

func runVersion(_ context.Context, a *app, _ []string) error {
	fmt.Fprintf(a.stdout, "sessionpg %s\n", sessionpg.Version)
	return nil
}

func printCompaction(w io.Writer, res *compaction.Result) {
	fmt.Fprintf(w, "compacted %d messages (%d -> %d tokens) into checkpoint %s\n",
		res.FoldedMessages, res.OriginalTokens, res.SummaryTokens, res.Checkpoint.ID)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
