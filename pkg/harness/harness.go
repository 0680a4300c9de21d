// Package harness organizes async tests into named groups, drives each
// test's event loop, and reports results to the console, the run journal,
// and the live observer stream.
//
// Usage:
//
//	h := harness.New(cfg)
//	h.Group("sockets", func(g *harness.Group) {
//	    g.BeforeEach = func(t *harness.T) { /* per-test setup */ }
//	    g.Async("connects", []loop.DoneSpec{{Tag: "conn", Order: 1}},
//	        func(t *harness.T, l *loop.Loop) {
//	            l.Schedule(func() { l.Done("conn") })
//	        })
//	    g.Sync("parses", func(t *harness.T) {
//	        t.Check(parse("x") == 2, "parse result")
//	    })
//	})
//	h.PrintTotals()
//	os.Exit(h.Failed())
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/asyncloop/asyncloop/internal/clock"
	"github.com/asyncloop/asyncloop/internal/config"
	"github.com/asyncloop/asyncloop/internal/journal"
	"github.com/asyncloop/asyncloop/internal/observer"
	"github.com/asyncloop/asyncloop/internal/report"
	"github.com/asyncloop/asyncloop/internal/stats"
	"github.com/asyncloop/asyncloop/pkg/loop"
)

// Harness runs groups of tests sequentially and accumulates totals.
// Methods are not safe for concurrent use.
type Harness struct {
	cfg     *config.Config
	printer *report.Printer
	logger  *slog.Logger

	journal  *journal.Journal
	observer *observer.Server
	stats    *stats.Registry

	numGroups   int
	numTests    int
	numFailed   int
	numDisabled int
	totalMs     int64
}

// Option configures a Harness.
type Option func(*Harness)

// WithWriter redirects console output; os.Stdout otherwise.
func WithWriter(w io.Writer) Option {
	return func(h *Harness) { h.printer = report.New(w, h.cfg.Report) }
}

// WithLogger sets the structured logger passed to every loop.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithJournal persists one record per executed test.
func WithJournal(j *journal.Journal) Option {
	return func(h *Harness) { h.journal = j }
}

// WithObserver streams every loop event to the observer's subscribers.
func WithObserver(o *observer.Server) Option {
	return func(h *Harness) { h.observer = o }
}

// WithStats attaches a counter registry shared by all loops.
func WithStats(reg *stats.Registry) Option {
	return func(h *Harness) { h.stats = reg }
}

// New builds a Harness around cfg. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) *Harness {
	if cfg == nil {
		cfg = config.Default()
	}
	h := &Harness{
		cfg:    cfg,
		logger: slog.Default(),
	}
	h.printer = report.New(os.Stdout, cfg.Report)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Failed returns the number of failed tests, suitable as a process exit
// code.
func (h *Harness) Failed() int { return h.numFailed }

// PrintTotals prints the final summary block.
func (h *Harness) PrintTotals() {
	h.printer.Totals(h.numTests, h.numGroups, h.numFailed, h.numDisabled, h.totalMs)
}

// ─── groups ──────────────────────────────────────────────────────────────────

// Group declares and immediately runs a named group of tests. body is
// called once to register the group's tests; they execute when it returns.
func (h *Harness) Group(name string, body func(*Group)) {
	h.numGroups++
	g := &Group{h: h, name: name}

	if msg, panicked := protect(func() { body(g) }); panicked {
		g.numErrors++
		h.numFailed++
		h.printer.GroupStart(name, 0, 0)
		h.printer.GroupFail(name, 1, 0, 0)
		h.logger.Error("group setup failed", "group", name, "err", msg)
		return
	}

	numDisabled := 0
	for _, tc := range g.tests {
		if tc.disabled {
			numDisabled++
		}
	}
	numRun := len(g.tests) - numDisabled

	h.printer.GroupStart(name, numRun, numDisabled)
	for _, tc := range g.tests {
		if tc.disabled {
			h.numDisabled++
			if h.stats != nil {
				h.stats.IncTestDisabled(name)
			}
			h.printer.TestDisabled(tc.name)
			h.printer.TestEnd()
			continue
		}
		g.runTest(tc)
		h.printer.TestEnd()
	}

	if g.cleanup != nil {
		if msg, panicked := protect(g.cleanup); panicked {
			g.numErrors++
			h.numFailed++
			h.logger.Error("group cleanup failed", "group", name, "err", msg)
		}
	}

	if g.numErrors == 0 {
		h.printer.GroupPass(name, numRun, g.elapsedMs)
	} else {
		h.printer.GroupFail(name, g.numErrors, numRun, g.elapsedMs)
	}
}

// Group collects the tests declared by one Harness.Group body.
type Group struct {
	h    *Harness
	name string

	// BeforeEach and AfterEach run around every test in the group.
	// A Check failure in BeforeEach fails the test before its body runs;
	// AfterEach runs unconditionally and its panics are swallowed.
	BeforeEach func(*T)
	AfterEach  func(*T)

	tests     []*testCase
	cleanup   func()
	numErrors int
	elapsedMs int64
}

type testCase struct {
	name      string
	disabled  bool
	specs     []loop.DoneSpec
	asyncBody func(*T, *loop.Loop)
	syncBody  func(*T)
}

// TestDecl allows chaining modifiers onto a declared test.
type TestDecl struct{ tc *testCase }

// Disable skips the test; it is reported as disabled, not failed.
func (d *TestDecl) Disable() *TestDecl {
	d.tc.disabled = true
	return d
}

// Async declares a test driven by its own event loop. specs registers the
// loop's done items; nil gets the implicit default item.
func (g *Group) Async(name string, specs []loop.DoneSpec, body func(*T, *loop.Loop)) *TestDecl {
	tc := &testCase{name: name, specs: specs, asyncBody: body}
	g.tests = append(g.tests, tc)
	return &TestDecl{tc: tc}
}

// Sync declares a plain test with no event loop.
func (g *Group) Sync(name string, body func(*T)) *TestDecl {
	tc := &testCase{name: name, syncBody: body}
	g.tests = append(g.tests, tc)
	return &TestDecl{tc: tc}
}

// Cleanup registers fn to run once after every test in the group finished.
func (g *Group) Cleanup(fn func()) { g.cleanup = fn }

// runTest executes one test case end to end: before-each, body (with or
// without a loop), cleanup, after-each, reporting, journaling.
func (g *Group) runTest(tc *testCase) {
	h := g.h
	h.numTests++
	h.printer.TestStart(tc.name)

	t := &T{Name: tc.name, g: g}
	start := clock.NowMs()

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.recordPanic(r)
			}
		}()
		if g.BeforeEach != nil {
			g.BeforeEach(t)
		}
		if tc.asyncBody != nil {
			g.runAsync(tc, t)
		} else {
			tc.syncBody(t)
		}
	}()

	t.elapsedMs = clock.SinceMs(start)
	g.elapsedMs += t.elapsedMs
	h.totalMs += t.elapsedMs

	if t.cleanup != nil {
		if msg, panicked := protect(t.cleanup); panicked {
			t.errorOnce("error during cleanup: " + msg)
		}
	}
	if g.AfterEach != nil {
		// After-each is best effort; its failures never mask the test's
		// own outcome.
		_, _ = protect(func() { g.AfterEach(t) })
	}

	if t.errMsg == "" {
		if h.stats != nil {
			h.stats.IncTestPassed(g.name)
		}
		h.printer.TestPass(tc.name, t.elapsedMs)
	} else {
		g.numErrors++
		h.numFailed++
		if h.stats != nil {
			h.stats.IncTestFailed(g.name)
		}
		h.printer.TestFail(tc.name, t.elapsedMs, t.errMsg)
	}

	if h.journal != nil {
		state := "success"
		failedTag := ""
		if t.loop != nil {
			res := t.loop.Result()
			state = res.State.String()
			failedTag = res.FailedTag
		} else if t.errMsg != "" {
			state = "error"
		}
		rec := journal.Record{
			ID:          t.runID,
			Group:       g.name,
			Test:        tc.name,
			State:       state,
			ErrMsg:      t.errMsg,
			FailedTag:   failedTag,
			StartedAtMs: start,
			DurationMs:  t.elapsedMs,
		}
		if _, err := h.journal.Append(rec); err != nil {
			h.logger.Warn("journal append failed",
				"group", g.name, "test", tc.name, "err", err)
		}
	}
}

// runAsync builds the test's loop from the harness config and drives it to
// completion on the calling goroutine.
func (g *Group) runAsync(tc *testCase, t *T) {
	h := g.h
	opts := []loop.Option{
		loop.WithDefaultTimeout(h.cfg.Loop.DefaultTimeoutMs),
		loop.WithJitterPct(h.cfg.Loop.JitterPct),
		loop.WithWakeTolerance(h.cfg.Loop.WakeToleranceMs),
		loop.WithLogger(h.logger),
	}
	if len(tc.specs) > 0 {
		opts = append(opts, loop.WithDones(tc.specs...))
	}
	if h.stats != nil {
		opts = append(opts, loop.WithStats(h.stats, stats.TestKey(g.name, tc.name)))
	}
	if h.observer != nil {
		opts = append(opts, loop.WithEventSink(h.observer.Publish))
	}

	l := loop.New(opts...)
	t.loop = l
	t.runID = l.RunID()

	// The body runs as the loop's first scheduled action. A Check bailout
	// inside it unwinds to this recover, records the failure, and aborts
	// the loop so Run returns promptly.
	l.Schedule(func() {
		defer func() {
			if r := recover(); r != nil {
				t.recordPanic(r)
				l.Abort()
			}
		}()
		tc.asyncBody(t, l)
	})

	if err := l.Run(context.Background()); err != nil {
		t.errorOnce(err.Error())
	}
}

// ─── per-test handle ─────────────────────────────────────────────────────────

// T is the per-test handle passed to test bodies.
type T struct {
	Name string

	g         *Group
	loop      *loop.Loop // nil for sync tests
	runID     string
	errMsg    string
	cleanup   func()
	elapsedMs int64
}

// bailout is the sentinel panic thrown by Check to unwind the test body.
type bailout struct{ msg string }

// Error records msg as the test failure (first one wins) and aborts the
// test's loop, if any.
func (t *T) Error(msg string) {
	t.errorOnce(msg)
}

// Errorf is Error with formatting.
func (t *T) Errorf(format string, args ...any) {
	t.errorOnce(fmt.Sprintf(format, args...))
}

// Check fails the test and unwinds the body when cond is false. msg should
// describe the expectation that did not hold.
func (t *T) Check(cond bool, msg string) {
	if cond {
		return
	}
	full := "check failed: " + msg
	t.errorOnce(full)
	panic(bailout{msg: full})
}

// Done resolves a done item on the test's loop; "" resolves the default
// item. Calling it from a sync test fails the test.
func (t *T) Done(tag string) {
	if t.loop == nil {
		t.errorOnce("Done called from a test without an event loop")
		return
	}
	// Errors are recorded on the loop and surfaced by Run.
	_ = t.loop.Done(tag)
}

// Failed reports whether the test has recorded an error.
func (t *T) Failed() bool { return t.errMsg != "" }

// RunID returns the loop run ULID; empty for sync tests.
func (t *T) RunID() string { return t.runID }

// SetCleanup registers fn to run after the test body finished, before
// after-each.
func (t *T) SetCleanup(fn func()) { t.cleanup = fn }

func (t *T) errorOnce(msg string) {
	if t.errMsg != "" {
		return
	}
	t.errMsg = msg
	if t.loop != nil {
		t.loop.Abort()
	}
}

func (t *T) recordPanic(r any) {
	if b, ok := r.(bailout); ok {
		t.errorOnce(b.msg)
		return
	}
	t.errorOnce(fmt.Sprintf("panic: %v", r))
}

// protect runs fn, converting a panic into a returned message.
func protect(fn func()) (msg string, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			if b, ok := r.(bailout); ok {
				msg = b.msg
			} else {
				msg = fmt.Sprint(r)
			}
		}
	}()
	fn()
	return "", false
}
