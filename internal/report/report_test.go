package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/asyncloop/asyncloop/internal/config"
)

func plainPrinter() (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	p := New(&buf, config.ReportConfig{Color: config.ColorNever})
	return p, &buf
}

func TestTestLines(t *testing.T) {
	p, buf := plainPrinter()
	p.TestStart("connects")
	p.TestPass("connects", 12)
	p.TestFail("reconnects", 7, "done('sock'): timeout")
	p.TestDisabled("flaky")

	out := buf.String()
	for _, want := range []string{
		"run  'connects'...",
		"pass 'connects' (12 ms)",
		"fail 'reconnects' (7 ms)",
		"* * * done('sock'): timeout",
		"dis  'flaky'",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGroupLines(t *testing.T) {
	p, buf := plainPrinter()
	p.GroupStart("sockets", 3, 1)
	p.GroupPass("sockets", 3, 40)
	p.GroupFail("timers", 2, 5, 90)

	out := buf.String()
	for _, want := range []string{
		"RUN   Group 'sockets' (3 tests, 1 disabled)...",
		"PASS  Group 'sockets': 0 errors / 3 tests (40 ms)",
		"FAIL  Group 'timers': 2 errors / 5 tests (90 ms)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGroupStartSingularNoDisabled(t *testing.T) {
	p, buf := plainPrinter()
	p.GroupStart("solo", 1, 0)
	if !strings.Contains(buf.String(), "(1 test)...") {
		t.Fatalf("singular form missing:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "disabled") {
		t.Fatalf("disabled mentioned with zero disabled:\n%s", buf.String())
	}
}

func TestTotals(t *testing.T) {
	p, buf := plainPrinter()
	p.Totals(10, 2, 0, 1, 345)
	out := buf.String()
	if !strings.Contains(out, "All 10 tests in 2 groups passed (345 ms)") {
		t.Errorf("pass totals missing:\n%s", out)
	}
	if !strings.Contains(out, "(1 tests DISABLED)") {
		t.Errorf("disabled count missing:\n%s", out)
	}

	p2, buf2 := plainPrinter()
	p2.Totals(10, 2, 3, 0, 345)
	if !strings.Contains(buf2.String(), "Some tests failed: 3 failed / 10 total in 2 groups (345 ms)") {
		t.Errorf("fail totals missing:\n%s", buf2.String())
	}
}

func TestColorModes(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, config.ReportConfig{Color: config.ColorAlways})
	p.TestPass("ok", 1)
	if !strings.Contains(buf.String(), "\033[1;32m") {
		t.Fatalf("always mode emitted no ANSI codes: %q", buf.String())
	}

	p2, buf2 := plainPrinter()
	p2.TestPass("ok", 1)
	if strings.Contains(buf2.String(), "\033[") {
		t.Fatalf("never mode emitted ANSI codes: %q", buf2.String())
	}

	// Auto with a plain buffer (not a terminal) stays uncolored.
	var buf3 bytes.Buffer
	p3 := New(&buf3, config.ReportConfig{Color: config.ColorAuto})
	p3.TestPass("ok", 1)
	if strings.Contains(buf3.String(), "\033[") {
		t.Fatalf("auto mode colored a non-terminal writer: %q", buf3.String())
	}
}

func TestVerbosef(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, config.ReportConfig{Color: config.ColorNever, Verbose: false})
	p.Verbosef("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("non-verbose printer wrote %q", buf.String())
	}

	var buf2 bytes.Buffer
	p2 := New(&buf2, config.ReportConfig{Color: config.ColorNever, Verbose: true})
	p2.Verbosef("shown %d", 2)
	if !strings.Contains(buf2.String(), "shown 2") {
		t.Fatalf("verbose printer wrote %q", buf2.String())
	}
}
