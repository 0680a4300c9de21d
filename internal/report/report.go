// Package report renders console output for a test run: per-test run /
// pass / fail lines, per-group banners and summaries, and the final totals
// block. Output format is stable; tooling greps these lines.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/asyncloop/asyncloop/internal/config"
)

const (
	// Line separates groups; ThinLine separates tests within a group.
	Line     = "===================================================="
	ThinLine = "----------------------------------------------------"
)

const (
	ansiSuccess = "\033[1;32m"
	ansiFail    = "\033[1;31m"
	ansiTag     = "\033[34m"
	ansiWarning = "\033[33m"
	ansiReset   = "\033[0m"
)

// Printer writes run output to a single destination. Methods are not safe
// for concurrent use; the harness runs tests sequentially and owns the
// printer.
type Printer struct {
	w       io.Writer
	color   bool
	verbose bool
}

// New builds a Printer for w. Color resolution for ColorAuto checks
// whether w is a terminal.
func New(w io.Writer, cfg config.ReportConfig) *Printer {
	return &Printer{
		w:       w,
		color:   colorEnabled(w, cfg.Color),
		verbose: cfg.Verbose,
	}
}

func colorEnabled(w io.Writer, mode config.ColorMode) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// paint wraps s in the given ANSI code when color is on.
func (p *Printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *Printer) tag(name string) string { return p.paint(ansiTag, name) }

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// GroupStart prints the banner opening a group's test run.
func (p *Printer) GroupStart(name string, numTests, numDisabled int) {
	p.printf("%s", Line)
	line := fmt.Sprintf("RUN   Group '%s' (%d test%s", p.tag(name), numTests, plural(numTests))
	if numDisabled > 0 {
		line += fmt.Sprintf(", %d disabled", numDisabled)
	}
	p.printf("%s)...", line)
	p.printf("%s", ThinLine)
}

// GroupPass prints the group summary line for a clean group.
func (p *Printer) GroupPass(name string, numTests int, elapsedMs int64) {
	p.printf("%s  Group '%s': 0 errors / %d test%s (%d ms)",
		p.paint(ansiSuccess, "PASS"), p.tag(name), numTests, plural(numTests), elapsedMs)
}

// GroupFail prints the group summary line for a group with failures.
func (p *Printer) GroupFail(name string, numErrors, numTests int, elapsedMs int64) {
	p.printf("%s  Group '%s': %d error%s / %d test%s (%d ms)",
		p.paint(ansiFail, "FAIL"), p.tag(name), numErrors, plural(numErrors),
		numTests, plural(numTests), elapsedMs)
}

// TestStart prints the line announcing a test is about to run.
func (p *Printer) TestStart(name string) {
	p.printf("run  '%s'...", p.tag(name))
}

// TestPass prints the pass line for a test.
func (p *Printer) TestPass(name string, elapsedMs int64) {
	p.printf("%s '%s' (%d ms)", p.paint(ansiSuccess, "pass"), p.tag(name), elapsedMs)
}

// TestFail prints the fail line for a test, with the error message on a
// marked continuation line.
func (p *Printer) TestFail(name string, elapsedMs int64, msg string) {
	p.printf("%s '%s' (%d ms)\n* * * %s",
		p.paint(ansiFail, "fail"), p.tag(name), elapsedMs, msg)
}

// TestDisabled prints the skip line for a disabled test.
func (p *Printer) TestDisabled(name string) {
	p.printf("%s  '%s'", p.paint(ansiWarning, "dis"), p.tag(name))
}

// TestEnd prints the separator after a test finished (or was skipped).
func (p *Printer) TestEnd() {
	p.printf("%s", ThinLine)
}

// Verbosef prints only when verbose output is enabled.
func (p *Printer) Verbosef(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.printf(format, args...)
}

// Totals prints the final summary block for the whole run.
func (p *Printer) Totals(numTests, numGroups, numFailed, numDisabled int, elapsedMs int64) {
	p.printf("%s", Line)
	if numFailed == 0 {
		p.printf("All %d tests in %d groups %s (%d ms)",
			numTests, numGroups, p.paint(ansiSuccess, "passed"), elapsedMs)
	} else {
		p.printf("Some tests failed: %d %s / %d total in %d group%s (%d ms)",
			numFailed, p.paint(ansiFail, "failed"), numTests, numGroups,
			plural(numGroups), elapsedMs)
	}
	if numDisabled > 0 {
		p.printf("(%d tests DISABLED)", numDisabled)
	}
	p.printf("%s", Line)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
