// Command asyncloop-demo runs a small self-contained test suite through the
// harness, exercising ordered done items, jitter, checks, and the optional
// journal and observer integrations.
//
// Usage:
//
//	asyncloop-demo [--config path/to/config.yaml]
//
// The process exit code is the number of failed tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/asyncloop/asyncloop/internal/config"
	"github.com/asyncloop/asyncloop/internal/journal"
	"github.com/asyncloop/asyncloop/internal/observer"
	"github.com/asyncloop/asyncloop/internal/stats"
	"github.com/asyncloop/asyncloop/pkg/harness"
	"github.com/asyncloop/asyncloop/pkg/loop"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "asyncloop-demo: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)

	// ── 3. Counter registry ──────────────────────────────────────────────────
	reg := new(stats.Registry)

	opts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithStats(reg),
	}

	// ── 4. Run journal (optional) ────────────────────────────────────────────
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return 0, fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		opts = append(opts, harness.WithJournal(j))
	}

	// ── 5. Live observer stream (optional) ───────────────────────────────────
	if cfg.Observer.Enabled {
		obs := observer.New(logger, reg.Handler())
		if err := obs.Start(cfg.Observer.Addr); err != nil {
			return 0, fmt.Errorf("start observer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			obs.Shutdown(ctx)
		}()
		opts = append(opts, harness.WithObserver(obs))
	}

	// ── 6. Run the suite ─────────────────────────────────────────────────────
	h := harness.New(cfg, opts...)

	h.Group("group one", func(g *harness.Group) {
		g.BeforeEach = func(t *harness.T) {
			slog.Debug("before each", "test", t.Name)
		}

		g.Async("test one", []loop.DoneSpec{
			{Tag: "event 1", Order: 1},
			{Tag: "event 2", TimeoutMs: 4000, Order: 2},
		}, func(t *harness.T, l *loop.Loop) {
			l.JitterPct = 40
			l.Schedule(func() {
				t.Done("event 1")
				l.Schedule(func() {
					t.Done("event 2")
				})
			})
		})

		g.Sync("test three", func(t *harness.T) {
			a := 2
			t.Check(a == 2, "a == 2")
		})
	})

	h.PrintTotals()
	return h.Failed(), nil
}

// newLogHandler builds the slog handler selected by the log config.
func newLogHandler(lc config.LogConfig) slog.Handler {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	ho := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.NewJSONHandler(os.Stderr, ho)
	}
	return slog.NewTextHandler(os.Stderr, ho)
}
