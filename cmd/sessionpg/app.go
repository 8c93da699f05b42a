package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/youssefsiam38/sessionpg"
	"github.com/youssefsiam38/sessionpg/driver"
	"github.com/youssefsiam38/sessionpg/driver/databasesql"
	"github.com/youssefsiam38/sessionpg/driver/pgxv5"
	"github.com/youssefsiam38/sessionpg/driver/sqlite"
	"github.com/youssefsiam38/sessionpg/maintenance"
)

// Supported --driver values.
const (
	driverPgx         = "pgx"
	driverDatabaseSQL = "database_sql"
	driverSQLite      = "sqlite"
)

// app carries the process environment so commands can run under test.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	// options are appended to every client; tests use them to inject a summarizer.
	options []sessionpg.Option

	globals globals
	config  sessionpg.Config
	logger  *slog.Logger
}

type globals struct {
	driver   string
	dsn      string
	config   string
	logLevel string
}

func (a *app) run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("sessionpg", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)
	flags.StringVar(&a.globals.driver, "driver", a.env("DRIVER", driverPgx), "database driver")
	flags.StringVar(&a.globals.dsn, "dsn", a.env("DSN", ""), "connection string or SQLite path")
	flags.StringVar(&a.globals.config, "config", a.env("CONFIG", ""), "YAML configuration file")
	flags.StringVar(&a.globals.logLevel, "log-level", a.env("LOG_LEVEL", "warn"), "log level")
	help := flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if *help {
		printUsage(a.stdout)
		return nil
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return usagef("missing command")
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		return usagef("unknown command %q", rest[0])
	}

	level, err := parseLevel(a.globals.logLevel)
	if err != nil {
		return usagef("%v", err)
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	a.config = sessionpg.DefaultConfig()
	if a.globals.config != "" {
		if a.config, err = sessionpg.LoadConfig(a.globals.config); err != nil {
			return err
		}
	}

	return cmd(ctx, a, rest[1:])
}

func (a *app) env(key, fallback string) string {
	if v := a.getenv("SESSIONPG_" + key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// backend is a Client with its transaction type erased.
type backend struct {
	svc     *sessionpg.Service
	migrate func(ctx context.Context) error
	start   func(ctx context.Context) error
	stop    func(ctx context.Context) error
	close   func()
}

func newBackend[TTx any](drv driver.Driver[TTx], cfg sessionpg.Config, opts []sessionpg.Option, closeFn func()) (*backend, error) {
	client, err := sessionpg.NewWithDriver(drv, cfg, opts...)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &backend{
		svc:     client.Service,
		migrate: drv.Migrate,
		start:   client.Start,
		stop:    client.Stop,
		close:   closeFn,
	}, nil
}

// serviceOptions are the background settings only "serve" uses.
type serviceOptions struct {
	retention         time.Duration
	retentionInterval time.Duration
	rescue            bool
	rescueLookback    time.Duration
	instanceID        string
	heartbeat         time.Duration
}

// open connects to the configured database and builds a client on it.
func (a *app) open(ctx context.Context, svcOpts serviceOptions) (*backend, error) {
	opts := []sessionpg.Option{
		sessionpg.WithLogger(a.logger),
		sessionpg.WithErrorHandler(func(err error) {
			a.logger.Error("background operation failed", "error", err)
		}),
	}
	if key := a.getenv("ANTHROPIC_API_KEY"); key != "" {
		client := anthropic.NewClient(option.WithAPIKey(key))
		opts = append(opts, sessionpg.WithAnthropicClient(&client))
	} else {
		opts = append(opts, sessionpg.WithSummarizer(offlineSummarizer{}))
	}
	if svcOpts.retention > 0 {
		opts = append(opts, sessionpg.WithRetention(svcOpts.retention, svcOpts.retentionInterval))
	}
	if svcOpts.rescue {
		opts = append(opts, sessionpg.WithCompactionRescue(svcOpts.rescueLookback, 0))
	}
	if svcOpts.instanceID != "" && (svcOpts.retention > 0 || svcOpts.rescue) {
		opts = append(opts, sessionpg.WithLeaderElection(svcOpts.instanceID))
	}
	opts = append(opts, a.options...)

	withPinger := func(p maintenance.Pinger) []sessionpg.Option {
		if svcOpts.heartbeat <= 0 {
			return opts
		}
		return append(opts, sessionpg.WithHeartbeat(p, svcOpts.heartbeat))
	}

	switch a.globals.driver {
	case driverPgx:
		if a.globals.dsn == "" {
			return nil, usagef("--dsn is required for the %s driver", driverPgx)
		}
		pool, err := pgxpool.New(ctx, a.globals.dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		return newBackend(pgxv5.New(pool), a.config, withPinger(pool), pool.Close)

	case driverDatabaseSQL:
		if a.globals.dsn == "" {
			return nil, usagef("--dsn is required for the %s driver", driverDatabaseSQL)
		}
		db, err := sql.Open("postgres", a.globals.dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return newBackend(databasesql.New(db, a.globals.dsn), a.config,
			withPinger(maintenance.PingerFunc(db.PingContext)), func() { db.Close() })

	case driverSQLite:
		path := a.globals.dsn
		if path == "" {
			path = "sessionpg.db"
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return newBackend(sqlite.New(db), a.config,
			withPinger(maintenance.PingerFunc(db.PingContext)), func() { db.Close() })

	default:
		return nil, usagef("unknown driver %q (want %s)", a.globals.driver,
			strings.Join([]string{driverPgx, driverDatabaseSQL, driverSQLite}, ", "))
	}
}

// offlineSummarizer stands in when no API key is configured.
type offlineSummarizer struct{}

func (offlineSummarizer) Summarize(context.Context, string) (string, error) {
	return "", fmt.Errorf("no summarizer configured: set ANTHROPIC_API_KEY")
}
