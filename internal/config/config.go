// Package config holds all configuration types and loading logic for the
// test harness. Config structure never shrinks — fields are only added,
// never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a harness process.
type Config struct {
	Loop     LoopConfig     `yaml:"loop"`
	Report   ReportConfig   `yaml:"report"`
	Journal  JournalConfig  `yaml:"journal"`
	Observer ObserverConfig `yaml:"observer"`
	Log      LogConfig      `yaml:"log"`
}

// LoopConfig sets the defaults applied to every event loop the harness
// creates. Individual tests may still override them per loop.
type LoopConfig struct {
	// DefaultTimeoutMs is the per-done-item deadline applied when a done
	// spec does not carry its own timeout.
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`

	// JitterPct is the percentage of a nominal delay used as the jitter
	// window for scheduled calls. 0 disables jitter.
	JitterPct int `yaml:"jitter_pct"`

	// WakeToleranceMs is how far short of a fire time an early wakeup may
	// land before the loop goes back to sleep.
	WakeToleranceMs int64 `yaml:"wake_tolerance_ms"`
}

// ColorMode controls when the reporter emits ANSI color codes.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // color when stdout is a terminal — default
	ColorAlways ColorMode = "always" // color unconditionally
	ColorNever  ColorMode = "never"  // plain text
)

// ReportConfig controls console output.
type ReportConfig struct {
	Color   ColorMode `yaml:"color"`
	Verbose bool      `yaml:"verbose"`
}

// JournalConfig controls the on-disk run-history journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObserverConfig controls the live event-stream debug server.
type ObserverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			DefaultTimeoutMs: 2_000,
			JitterPct:        50,
			WakeToleranceMs:  2,
		},
		Report: ReportConfig{
			Color:   ColorAuto,
			Verbose: false,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./asyncloop-journal.db",
		},
		Observer: ObserverConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7071",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of
// Default(). If the file does not exist the default config is returned
// without error, making it easy to run with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	ASYNCLOOP_JOURNAL_PATH   — sets journal.path and enables the journal
//	ASYNCLOOP_OBSERVER_ADDR  — sets observer.addr and enables the observer
//	ASYNCLOOP_NO_COLOR       — any non-empty value forces report.color=never
//	ASYNCLOOP_LOG_LEVEL      — sets log.level
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ASYNCLOOP_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
		cfg.Journal.Enabled = true
	}
	if v := os.Getenv("ASYNCLOOP_OBSERVER_ADDR"); v != "" {
		cfg.Observer.Addr = v
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("ASYNCLOOP_NO_COLOR"); v != "" {
		cfg.Report.Color = ColorNever
	}
	if v := os.Getenv("ASYNCLOOP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks that the config values are consistent and within
// acceptable ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Loop.DefaultTimeoutMs < 1 {
		return errors.New("loop.default_timeout_ms must be at least 1")
	}
	if c.Loop.JitterPct < 0 || c.Loop.JitterPct > 100 {
		return errors.New("loop.jitter_pct must be between 0 and 100")
	}
	if c.Loop.WakeToleranceMs < 0 {
		return errors.New("loop.wake_tolerance_ms must be >= 0")
	}
	switch c.Report.Color {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return errors.New(`report.color must be one of "auto", "always", "never"`)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path must not be empty when journal.enabled")
	}
	if c.Observer.Enabled && c.Observer.Addr == "" {
		return errors.New("observer.addr must not be empty when observer.enabled")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("log.format %q must be one of text, json", c.Log.Format)
	}
	return nil
}
