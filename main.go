// Package main implements seatwatch, a daemon that monitors university
// course sections for open seats and pushes ntfy alerts when capacity
// opens up.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"seatwatch/detect"
	"seatwatch/ntfy"
	"seatwatch/pkg/watch"
	"seatwatch/poll"
	"seatwatch/resolve"
	"seatwatch/storage"
	"seatwatch/studentapp"
	"seatwatch/throttle"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp()
	if err := app.RunContext(ctx, os.Args); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "seatwatch",
		Usage: "Watch course sections for open seats and push ntfy alerts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "courses",
				Usage:   "Space-separated specs like 'COS333:L01,P01' or 'COS333' (all sections)",
				EnvVars: []string{"COURSE_SPECS"},
			},
			&cli.StringFlag{
				Name:    "ids",
				Usage:   "Space-separated raw specs like '002054:21931,21927' (courseid:classids)",
				EnvVars: []string{"ID_SPECS"},
			},
			&cli.IntFlag{
				Name:    "interval",
				Usage:   "Polling interval in seconds",
				Value:   30,
				EnvVars: []string{"INTERVAL_SECS"},
			},
			&cli.IntFlag{
				Name:    "min-renotify-secs",
				Usage:   "Seconds before repeating a notification for an unchanged open count",
				Value:   20,
				EnvVars: []string{"MIN_RENOTIFY_SECS"},
			},
			&cli.StringFlag{
				Name:    "topic",
				Usage:   "ntfy topic to publish alerts to",
				EnvVars: []string{"NTFY_TOPIC"},
			},
			&cli.StringFlag{
				Name:    "ntfy-url",
				Usage:   "ntfy base URL",
				Value:   ntfy.DefaultBaseURL,
				EnvVars: []string{"NTFY_URL"},
			},
			&cli.StringFlag{
				Name:    "term",
				Usage:   "Term code; resolved from the catalog when empty",
				EnvVars: []string{"TERM_CODE"},
			},
			&cli.StringFlag{
				Name:    "state-dsn",
				Usage:   "Postgres DSN for durable throttle state",
				EnvVars: []string{"STATE_DSN"},
			},
			&cli.StringFlag{
				Name:    "state-bucket",
				Usage:   "Cloud Storage bucket for durable throttle state",
				EnvVars: []string{"STATE_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "Local directory for durable throttle state",
				EnvVars: []string{"STATE_DIR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	logger := newLogger(c.String("log-level"))
	slog.SetDefault(logger)

	consumerKey := os.Getenv("CONSUMER_KEY")
	consumerSecret := os.Getenv("CONSUMER_SECRET")
	if consumerKey == "" || consumerSecret == "" {
		return errors.New("CONSUMER_KEY and CONSUMER_SECRET environment variables are required")
	}

	topic := c.String("topic")
	if topic == "" {
		return errors.New("a notification topic is required (--topic or NTFY_TOPIC)")
	}

	specs, err := parseSpecs(c.String("courses"), c.String("ids"))
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.New("provide at least one course spec via --courses or --ids")
	}

	ctx := c.Context

	client := studentapp.New(studentapp.Config{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		Logger:         logger,
	})
	resolver := resolve.New(client, logger)

	term := c.String("term")
	if term == "" {
		term, err = resolver.Term(ctx)
		if err != nil {
			return fmt.Errorf("resolve term: %w", err)
		}
	}
	logger.Info("Using term", "term", term)

	set, err := resolver.WatchSet(ctx, term, specs)
	if err != nil {
		return err
	}

	store, cleanup, err := newStateStore(ctx, c, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	minRenotify := time.Duration(c.Int("min-renotify-secs")) * time.Second
	gate := throttle.New(store, minRenotify, logger)
	pruneStaleState(ctx, store, gate, set, logger)

	interval := time.Duration(c.Int("interval")) * time.Second
	if interval < time.Second {
		interval = time.Second
	}

	monitor := poll.New(poll.Config{
		Fetcher:    detect.NewFetcher(client, logger),
		Throttle:   gate,
		Dispatcher: ntfy.New(c.String("ntfy-url"), nil, logger),
		Logger:     logger,
		Term:       term,
		Topic:      topic,
		Interval:   interval,
	}, set)

	return monitor.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// parseSpecs parses the space-separated course and raw-id spec lists.
func parseSpecs(courses, ids string) ([]watch.CourseSpec, error) {
	var specs []watch.CourseSpec
	for _, arg := range strings.Fields(courses + " " + ids) {
		spec, err := watch.ParseSpec(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// newStateStore picks the throttle-state backend: Postgres, Cloud
// Storage, local files, or in-memory, in that priority order.
func newStateStore(ctx context.Context, c *cli.Context, logger *slog.Logger) (throttle.Store, func(), error) {
	noop := func() {}

	if dsn := c.String("state-dsn"); dsn != "" {
		pg, err := storage.NewPG(ctx, dsn, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres state store: %w", err)
		}
		return pg, pg.Close, nil
	}

	if bucket := c.String("state-bucket"); bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("storage client: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		logger.Info("Using Cloud Storage state store", "bucket", bucket)
		return storage.New(client, bucket, "", logger), cleanup, nil
	}

	if dir := c.String("state-dir"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create state directory: %w", err)
		}
		logger.Info("Using local state store", "dir", dir)
		return storage.New(nil, "", dir, logger), noop, nil
	}

	logger.Info("Using in-memory state store")
	return throttle.NewMemoryStore(), noop, nil
}

// stateLister is implemented by the durable stores; the in-memory store
// starts empty and has nothing to prune.
type stateLister interface {
	ClassIDs(ctx context.Context) ([]string, error)
}

// pruneStaleState drops persisted throttle state for classes that are no
// longer in the watch-set, so a target removed and later re-added is
// treated as a fresh event.
func pruneStaleState(ctx context.Context, store throttle.Store, gate *throttle.Throttle, set *watch.Set, logger *slog.Logger) {
	lister, ok := store.(stateLister)
	if !ok {
		return
	}

	ids, err := lister.ClassIDs(ctx)
	if err != nil {
		logger.Warn("Failed to list persisted state", "error", err)
		return
	}
	for _, id := range ids {
		if set.Contains(id) {
			continue
		}
		if err := gate.Forget(ctx, id); err != nil {
			logger.Warn("Failed to drop stale state", "class_id", id, "error", err)
			continue
		}
		logger.Info("Dropped state for unwatched class", "class_id", id)
	}
}
