package loop

// done.go — the done-item registry and resolution API.
//
// A done item is a named expectation the test must resolve before the loop
// can succeed. Each item gets a timeout guard scheduled at Run start; the
// guard is a silent no-op when the item resolved in time and a timeout
// error otherwise.

import (
	"fmt"

	"github.com/asyncloop/asyncloop/internal/clock"
	"github.com/asyncloop/asyncloop/internal/schedqueue"
	"github.com/asyncloop/asyncloop/internal/stats"
)

// DefaultTag is the tag used by Done("") and Fail. It is registered
// automatically when a loop is built without explicit done specs.
const DefaultTag = "_default"

// lateGuardWarnMs is how far off its deadline a timeout guard may fire
// before the loop logs a warning.
const lateGuardWarnMs = 10

// DoneSpec declares one done item. The zero value of each optional field
// means "default": TimeoutMs 0 uses the loop default, Order 0 means no
// ordering constraint.
type DoneSpec struct {
	// Tag uniquely names the expectation within the loop.
	Tag string
	// TimeoutMs overrides the loop's default per-item timeout.
	TimeoutMs int64
	// Order is the 1-based rank this item must resolve at, relative to the
	// other ordered items.
	Order int
}

// doneItem is the registry entry behind a DoneSpec.
type doneItem struct {
	tag       string
	state     State // NotComplete, Success, or Error
	timeoutMs int64 // relative; 0 = loop default, resolved when armed
	deadlineMs int64 // absolute, set at Run start
	order     int
	guard     schedqueue.Handle
}

// AddDone registers a done item. It must be called before Run; a duplicate
// tag is a usage error.
func (l *Loop) AddDone(spec DoneSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addDoneLocked(spec)
}

func (l *Loop) addDoneLocked(spec DoneSpec) error {
	if l.ran || l.running {
		return l.usageLocked("AddDone must be called before Run")
	}
	if spec.Tag == "" {
		return l.usageLocked("done spec requires a tag")
	}
	if spec.TimeoutMs < 0 {
		return l.usageLocked(fmt.Sprintf("done tag %q: timeout must be >= 0", spec.Tag))
	}
	if spec.Order < 0 {
		return l.usageLocked(fmt.Sprintf("done tag %q: order must be >= 0", spec.Tag))
	}
	if _, dup := l.dones[spec.Tag]; dup {
		return l.usageLocked(fmt.Sprintf("duplicate done tag %q", spec.Tag))
	}
	l.dones[spec.Tag] = &doneItem{
		tag:       spec.Tag,
		state:     StateNotComplete,
		timeoutMs: spec.TimeoutMs,
		order:     spec.Order,
	}
	return nil
}

// armDonesLocked converts every item's relative timeout into an absolute
// deadline and schedules its timeout guard. Runs once, at Run start.
func (l *Loop) armDonesLocked(nowMs int64) {
	for tag, it := range l.dones {
		tmo := it.timeoutMs
		if tmo <= 0 {
			tmo = l.defaultTimeoutMs
		}
		it.deadlineMs = nowMs + tmo
		// Guards take the plain (non-ordered) scheduling path with zero
		// jitter: a deadline is exact by definition.
		it.guard = l.insertLocked(it.deadlineMs, l.guardFor(tag))
		l.emitLocked(Event{Type: EventGuardArmed, Tag: tag, FireAtMs: it.deadlineMs})
	}
}

// guardFor builds the timeout-guard callback for tag.
func (l *Loop) guardFor(tag string) func() {
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		it, ok := l.dones[tag]
		if !ok {
			// A guard firing for a vanished tag is an engine invariant
			// violation: log it and convert to an error, never crash.
			l.logger.Error("internal error: timeout guard fired for unknown done tag",
				"run_id", l.runID, "tag", tag)
			l.failLocked("", fmt.Sprintf("internal: timeout guard fired for unknown done tag %q", tag), KindInternal)
			return
		}

		if off := clock.NowMs() - it.deadlineMs; (off > lateGuardWarnMs || off < -lateGuardWarnMs) && l.warnLimit.Allow() {
			// Large offsets are normal when paused in a debugger.
			l.logger.Warn("timeout guard fired off schedule",
				"run_id", l.runID, "tag", tag, "offset_ms", off)
		}

		if it.state != StateNotComplete {
			return // resolved in time — silent no-op
		}
		l.failLocked(tag, "timeout", KindTimeout)
	}
}

// Done resolves the done item named tag; "" resolves the default item.
//
// Unknown tags are a usage error and mutate nothing. Resolving an item
// twice, or resolving an ordered item out of rank order, is a resolution
// error that stops the loop. The returned error may be ignored inside a
// scheduled action — the loop records it and Run surfaces it.
func (l *Loop) Done(tag string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tag == "" {
		tag = DefaultTag
	}
	it, ok := l.dones[tag]
	if !ok {
		return l.usageLocked(fmt.Sprintf("unknown done tag %q", tag))
	}
	if it.state != StateNotComplete {
		return l.failLocked(tag, "already resolved, cannot resolve again", KindDuplicate)
	}

	// Best effort: the guard may already have fired or been removed.
	l.q.Remove(it.guard)

	if it.order != 0 {
		next := l.lastOrdered + 1
		if it.order != next {
			// The counter stays put on a mismatch.
			return l.failLocked(tag, fmt.Sprintf(
				"resolved out of order: expected rank %d next, item has rank %d",
				next, it.order), KindOrdering)
		}
		l.lastOrdered = next
	}

	it.state = StateSuccess
	if l.statsReg != nil {
		l.statsReg.DonesResolved.Inc(stats.TagKey(l.statsKey, tag))
	}
	l.logger.Debug("done resolved", "run_id", l.runID, "tag", tag)
	l.emitLocked(Event{Type: EventDone, Tag: tag})
	// The guard removal may have emptied the queue; wake the run loop so it
	// notices instead of sleeping out the old deadline.
	l.wake()
	return nil
}

// Fail records a test error against the default done item and stops the
// loop. The composed message is surfaced from Run.
func (l *Loop) Fail(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.dones[DefaultTag]; !ok {
		return l.usageLocked(fmt.Sprintf("Fail: no %q done item registered; use FailTag", DefaultTag))
	}
	return l.failLocked(DefaultTag, msg, KindFailed)
}

// FailTag records a test error against the named done item and stops the
// loop. An empty or unknown tag is a usage error.
func (l *Loop) FailTag(tag, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tag == "" {
		return l.usageLocked("FailTag requires a non-empty tag")
	}
	if _, ok := l.dones[tag]; !ok {
		return l.usageLocked(fmt.Sprintf("unknown done tag %q", tag))
	}
	return l.failLocked(tag, msg, KindFailed)
}

// failLocked is the single writer of StateError. Once the state is
// terminal it changes nothing and only surfaces the existing error.
func (l *Loop) failLocked(tag, msg string, kind Kind) error {
	if l.state.Terminal() {
		if l.resErr != nil {
			return l.resErr
		}
		return &ResolutionError{Tag: tag, Kind: kind, Msg: msg}
	}

	full := msg
	if tag != "" {
		if it, ok := l.dones[tag]; ok {
			it.state = StateError
		}
		full = fmt.Sprintf("done('%s'): %s", tag, msg)
		l.errTag = tag
	}
	l.state = StateError
	l.errMsg = full

	re := &ResolutionError{Tag: tag, Kind: kind, Msg: full}
	l.resErr = re

	if l.statsReg != nil && tag != "" {
		if kind == KindTimeout {
			l.statsReg.DoneTimeouts.Inc(stats.TagKey(l.statsKey, tag))
		} else {
			l.statsReg.DoneErrors.Inc(stats.TagKey(l.statsKey, tag))
		}
	}
	l.logger.Error("loop error",
		"run_id", l.runID, "tag", tag, "kind", kind.String(), "err", full)
	l.emitLocked(Event{Type: EventFail, Tag: tag, Msg: full})
	l.wake()
	return re
}

// usageLocked records a usage error (first one wins) so Run surfaces it
// even when the caller ignores the return value. The completion state is
// never touched.
func (l *Loop) usageLocked(msg string) error {
	ue := &UsageError{Msg: msg}
	if l.usageErr == nil {
		l.usageErr = ue
	}
	l.logger.Error("usage error", "run_id", l.runID, "err", msg)
	l.wake()
	return ue
}
