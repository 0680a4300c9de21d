package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asyncloop/asyncloop/internal/config"
)

// TestDefault_IsValid verifies the canonical defaults pass validation.
func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	if cfg.Loop.DefaultTimeoutMs != 2000 {
		t.Errorf("default timeout: want 2000, got %d", cfg.Loop.DefaultTimeoutMs)
	}
	if cfg.Loop.JitterPct != 50 {
		t.Errorf("default jitter: want 50, got %d", cfg.Loop.JitterPct)
	}
}

// TestLoad_MissingFileReturnsDefaults verifies a nonexistent path is not an
// error.
func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.DefaultTimeoutMs != config.Default().Loop.DefaultTimeoutMs {
		t.Error("missing file should yield defaults")
	}
}

// TestLoad_OverlaysFileOnDefaults verifies file values override defaults
// while unspecified fields keep their defaults.
func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asyncloop.yaml")
	body := "loop:\n  jitter_pct: 10\nreport:\n  color: never\n"
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.JitterPct != 10 {
		t.Errorf("jitter_pct: want 10, got %d", cfg.Loop.JitterPct)
	}
	if cfg.Report.Color != config.ColorNever {
		t.Errorf("color: want never, got %q", cfg.Report.Color)
	}
	// Untouched field keeps its default.
	if cfg.Loop.DefaultTimeoutMs != 2000 {
		t.Errorf("default_timeout_ms: want 2000, got %d", cfg.Loop.DefaultTimeoutMs)
	}
}

// TestLoad_EnvOverrides verifies environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ASYNCLOOP_JOURNAL_PATH", "/tmp/j.db")
	t.Setenv("ASYNCLOOP_NO_COLOR", "1")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/j.db" {
		t.Errorf("journal env override not applied: %+v", cfg.Journal)
	}
	if cfg.Report.Color != config.ColorNever {
		t.Errorf("NO_COLOR override not applied: %q", cfg.Report.Color)
	}
}

// TestValidate_RejectsBadValues exercises each validation rule.
func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero timeout", func(c *config.Config) { c.Loop.DefaultTimeoutMs = 0 }},
		{"jitter over 100", func(c *config.Config) { c.Loop.JitterPct = 101 }},
		{"negative jitter", func(c *config.Config) { c.Loop.JitterPct = -1 }},
		{"negative tolerance", func(c *config.Config) { c.Loop.WakeToleranceMs = -1 }},
		{"bad color", func(c *config.Config) { c.Report.Color = "sometimes" }},
		{"journal without path", func(c *config.Config) { c.Journal.Enabled = true; c.Journal.Path = "" }},
		{"observer without addr", func(c *config.Config) { c.Observer.Enabled = true; c.Observer.Addr = "" }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error, got nil")
			}
		})
	}
}
