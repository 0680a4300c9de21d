// Package stats provides a lightweight Prometheus-compatible counter
// registry for the test loop. It deliberately avoids the
// prometheus/client_golang package so test binaries stay small with no
// additional dependencies.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a
// single sync.Map can hold all label combinations without map nesting:
//
//	TestsPassed / TestsFailed / TestsDisabled  →  key = "group"
//	CallsScheduled / CallsFired                →  key = "group\ttest"
//	DonesResolved / DoneTimeouts / DoneErrors  →  key = "group\ttest\ttag"
//
// Calling Registry.Handler() returns an http.Handler that renders all
// counters in the Prometheus exposition format (text/plain; version=0.0.4);
// it is mounted on the observer's debug server.
package stats

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map
// and atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Value returns the current count for key.
func (lc *labelCounter) Value(key string) int64 { return lc.get(key).Load() }

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all loop and harness counters.
type Registry struct {
	// Test outcomes.  key = "group"
	TestsPassed   labelCounter
	TestsFailed   labelCounter
	TestsDisabled labelCounter

	// Scheduled-call activity.  key = "group\ttest"
	CallsScheduled labelCounter
	CallsFired     labelCounter

	// Done-item outcomes.  key = "group\ttest\ttag"
	DonesResolved labelCounter
	DoneTimeouts  labelCounter
	DoneErrors    labelCounter
}

// IncTestPassed records a passed test in group.
func (r *Registry) IncTestPassed(group string) { r.TestsPassed.Inc(group) }

// IncTestFailed records a failed test in group.
func (r *Registry) IncTestFailed(group string) { r.TestsFailed.Inc(group) }

// IncTestDisabled records a disabled test in group.
func (r *Registry) IncTestDisabled(group string) { r.TestsDisabled.Inc(group) }

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the
// Prometheus plain-text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, r.RenderText())
	})
}

// RenderText renders every non-empty counter family as Prometheus text.
func (r *Registry) RenderText() string {
	var b strings.Builder

	writeFamily(&b, "asyncloop_tests_passed_total",
		"Total tests that passed", groupLabels(&r.TestsPassed))
	writeFamily(&b, "asyncloop_tests_failed_total",
		"Total tests that failed", groupLabels(&r.TestsFailed))
	writeFamily(&b, "asyncloop_tests_disabled_total",
		"Total tests skipped as disabled", groupLabels(&r.TestsDisabled))

	writeFamily(&b, "asyncloop_calls_scheduled_total",
		"Total callbacks scheduled on the loop", testLabels(&r.CallsScheduled))
	writeFamily(&b, "asyncloop_calls_fired_total",
		"Total scheduled callbacks invoked", testLabels(&r.CallsFired))

	writeFamily(&b, "asyncloop_dones_resolved_total",
		"Total done items resolved successfully", tagLabels(&r.DonesResolved))
	writeFamily(&b, "asyncloop_done_timeouts_total",
		"Total done items that hit their deadline unresolved", tagLabels(&r.DoneTimeouts))
	writeFamily(&b, "asyncloop_done_errors_total",
		"Total done items resolved with an error", tagLabels(&r.DoneErrors))

	return b.String()
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends label+value lines.
func writeFamily(b *strings.Builder, name, help string, fill func(fn func(labels, val string))) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	for _, l := range lines {
		b.WriteString(l)
	}
}

func groupLabels(lc *labelCounter) func(fn func(labels, val string)) {
	return func(fn func(labels, val string)) {
		lc.Each(func(key string, val int64) {
			fn(fmt.Sprintf(`group=%q`, key), fmt.Sprintf("%d", val))
		})
	}
}

func testLabels(lc *labelCounter) func(fn func(labels, val string)) {
	return func(fn func(labels, val string)) {
		lc.Each(func(key string, val int64) {
			group, test := splitTwo(key)
			fn(fmt.Sprintf(`group=%q,test=%q`, group, test), fmt.Sprintf("%d", val))
		})
	}
}

func tagLabels(lc *labelCounter) func(fn func(labels, val string)) {
	return func(fn func(labels, val string)) {
		lc.Each(func(key string, val int64) {
			group, test, tag := splitThree(key)
			fn(fmt.Sprintf(`group=%q,test=%q,tag=%q`, group, test, tag), fmt.Sprintf("%d", val))
		})
	}
}

// splitTwo splits a tab-delimited key of the form "a\tb" into (a, b).
// If there is no tab, the whole string is returned as the first component.
func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// splitThree splits a tab-delimited key "a\tb\tc" into (a, b, c).
func splitThree(key string) (string, string, string) {
	a, rest := splitTwo(key)
	b, c := splitTwo(rest)
	return a, b, c
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// TestKey builds the label key used by CallsScheduled / CallsFired.
func TestKey(group, test string) string {
	return group + "\t" + test
}

// TagKey builds the label key used by the done-item counters.
func TagKey(testKey, tag string) string {
	return testKey + "\t" + tag
}
