// Package loop implements a deterministic scheduling engine for testing
// asynchronous code without depending on real external I/O timing.
//
// A test declares a set of expected completion events (done items), each
// with an optional deadline and an optional required completion order, then
// drives a virtual timeline of scheduled callbacks until every expectation
// is resolved, a timeout fires, or an error is raised. Scheduled fire times
// are perturbed by bounded random jitter to emulate realistic async
// completion variance without making the outcome racy.
//
// Usage:
//
//	l := loop.New(loop.WithDones(
//	    loop.DoneSpec{Tag: "e1", Order: 1},
//	    loop.DoneSpec{Tag: "e2", TimeoutMs: 4000, Order: 2},
//	))
//	l.Schedule(func() {
//	    l.Done("e1")
//	    l.Schedule(func() { l.Done("e2") })
//	})
//	err := l.Run(context.Background())
//
// One goroutine drives the loop and invokes all scheduled actions
// sequentially; Done, Fail, Schedule, and Abort are safe to call from
// other goroutines (real background work under test may resolve items
// directly).
package loop

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asyncloop/asyncloop/internal/clock"
	"github.com/asyncloop/asyncloop/internal/ident"
	"github.com/asyncloop/asyncloop/internal/schedqueue"
	"github.com/asyncloop/asyncloop/internal/stats"
)

const (
	// DefaultDelayMs is the nominal delay used by Schedule.
	DefaultDelayMs = 100
	// DefaultJitterPct is the loop-wide jitter window percentage.
	DefaultJitterPct = 50
	// DefaultDoneTimeoutMs is the per-done-item deadline applied when a
	// spec carries none.
	DefaultDoneTimeoutMs = 2000
	// defaultWakeToleranceMs guards against early timer wakeups: if the
	// head entry is still further out than this after waking, sleep again.
	defaultWakeToleranceMs = 2
)

// Loop is one transient event-loop instance, scoped to a single test.
type Loop struct {
	// JitterPct is the percentage of a nominal delay used as the jitter
	// window for scheduled calls (offset uniform in [-w, +w)). Read/write;
	// set it before scheduling. 0 disables jitter.
	JitterPct int

	mu    sync.Mutex
	q     *schedqueue.Queue
	dones map[string]*doneItem

	defaultTimeoutMs int64
	wakeTolMs        int64

	state    State
	errMsg   string
	errTag   string
	resErr   *ResolutionError
	usageErr error

	lastOrderTs int64 // anchor for ordered scheduling
	lastOrdered int   // rank of the last successfully resolved ordered item
	nextEventTs int64 // earliest known fire time; diagnostics only

	notify chan struct{} // size 1; wakes the sleeping run loop

	rng       *rand.Rand
	logger    *slog.Logger
	warnLimit *rate.Limiter
	sink      func(Event)
	statsReg  *stats.Registry
	statsKey  string

	runID     string
	running   bool
	ran       bool
	startMs   int64
	elapsedMs int64
}

// Option configures a Loop.
type Option func(*Loop)

// WithDefaultTimeout sets the per-done-item deadline, in milliseconds,
// applied when a DoneSpec carries none.
func WithDefaultTimeout(ms int64) Option {
	return func(l *Loop) { l.defaultTimeoutMs = ms }
}

// WithJitterPct sets the initial JitterPct.
func WithJitterPct(pct int) Option {
	return func(l *Loop) { l.JitterPct = pct }
}

// WithWakeTolerance sets how many milliseconds short of a fire time an
// early wakeup may land before the loop sleeps again.
func WithWakeTolerance(ms int64) Option {
	return func(l *Loop) { l.wakeTolMs = ms }
}

// WithDones registers done items at construction. When at least one spec
// is given the implicit default item is not registered — tests that name
// their expectations do not want a phantom tag.
func WithDones(specs ...DoneSpec) Option {
	return func(l *Loop) {
		for _, spec := range specs {
			// Duplicate specs record a usage error surfaced by Run.
			_ = l.addDoneLocked(spec)
		}
	}
}

// WithLogger sets the structured logger; slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStats attaches a counter registry. key labels this loop's counters,
// normally "group\ttest" (see stats.TestKey); empty uses the run ID.
func WithStats(reg *stats.Registry, key string) Option {
	return func(l *Loop) {
		l.statsReg = reg
		l.statsKey = key
	}
}

// WithEventSink attaches a sink receiving one Event per observable loop
// step. The sink is called with the loop's internal lock held: it must not
// block and must not call back into the loop.
func WithEventSink(sink func(Event)) Option {
	return func(l *Loop) { l.sink = sink }
}

// WithJitterSeed makes jitter reproducible. Without it each loop draws
// from an unpredictable seed.
func WithJitterSeed(seed uint64) Option {
	return func(l *Loop) { l.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// New builds a Loop. Without WithDones the default done item is
// registered, so plain Done("") / Fail work out of the box.
func New(opts ...Option) *Loop {
	l := &Loop{
		JitterPct:        DefaultJitterPct,
		q:                schedqueue.New(),
		dones:            make(map[string]*doneItem),
		defaultTimeoutMs: DefaultDoneTimeoutMs,
		wakeTolMs:        defaultWakeToleranceMs,
		notify:           make(chan struct{}, 1),
		rng:              rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:           slog.Default(),
		warnLimit:        rate.NewLimiter(rate.Every(time.Second), 3),
		runID:            ident.MustNewID(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.dones) == 0 {
		l.dones[DefaultTag] = &doneItem{tag: DefaultTag, state: StateNotComplete}
	}
	if l.statsKey == "" {
		l.statsKey = l.runID
	}
	return l
}

// RunID returns the ULID identifying this loop instance.
func (l *Loop) RunID() string { return l.runID }

// ─── scheduling ──────────────────────────────────────────────────────────────

// Schedule queues fn to fire after the default delay (100 ms) with the
// loop's jitter, and returns its handle.
func (l *Loop) Schedule(fn func()) schedqueue.Handle {
	return l.ScheduleCall(fn, DefaultDelayMs, -1)
}

// ScheduleAfter queues fn to fire after delayMs with the loop's jitter.
// A negative delayMs selects ordered scheduling: the fire time is anchored
// to the previous ordered call's fire time rather than to now, expressing
// "roughly |delayMs| after the previous ordered step" without compounding
// real-time drift.
func (l *Loop) ScheduleAfter(fn func(), delayMs int64) schedqueue.Handle {
	return l.ScheduleCall(fn, delayMs, -1)
}

// ScheduleCall is ScheduleAfter with an explicit jitter percentage;
// jitterPct < 0 uses the loop's JitterPct, 0 disables jitter.
func (l *Loop) ScheduleCall(fn func(), delayMs int64, jitterPct int) schedqueue.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	if jitterPct < 0 {
		jitterPct = l.JitterPct
	}

	now := clock.NowMs()
	var fireAt int64
	if delayMs < 0 {
		// Ordered call: anchor to the previous ordered fire time.
		gap := -delayMs
		if l.lastOrderTs == 0 {
			l.lastOrderTs = now
		}
		fireAt = l.lastOrderTs + gap + l.jitterOffset(gap, jitterPct)
		l.lastOrderTs = fireAt
	} else {
		fireAt = now + delayMs + l.jitterOffset(delayMs, jitterPct)
	}

	h := l.insertLocked(fireAt, fn)
	if l.statsReg != nil {
		l.statsReg.CallsScheduled.Inc(l.statsKey)
	}
	l.emitLocked(Event{Type: EventScheduled, FireAtMs: fireAt})
	return h
}

// jitterOffset returns a uniform offset in [-w, +w) where w is
// delayMs*pct/100; zero when the window is empty.
func (l *Loop) jitterOffset(delayMs int64, pct int) int64 {
	w := delayMs * int64(pct) / 100
	if w <= 0 {
		return 0
	}
	return l.rng.Int64N(2*w) - w
}

// insertLocked adds an entry, tracks the diagnostic next-wakeup time, and
// pokes the run loop in case the new entry fires sooner than its sleep.
func (l *Loop) insertLocked(fireAtMs int64, fn func()) schedqueue.Handle {
	h := l.q.Insert(fireAtMs, fn)
	if l.nextEventTs == 0 || fireAtMs < l.nextEventTs {
		l.nextEventTs = fireAtMs
		l.logger.Debug("next wakeup moved",
			"run_id", l.runID, "in_ms", fireAtMs-clock.NowMs())
	}
	l.wake()
	return h
}

// wake signals the run loop to re-evaluate its sleep. Non-blocking: if a
// signal is already pending, no-op — the loop will wake soon anyway.
func (l *Loop) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// ─── run loop ────────────────────────────────────────────────────────────────

// Run drives the queue until it drains, the completion state becomes
// terminal, or a usage error is recorded. It returns nil on success, the
// ResolutionError that stopped the loop, ErrAborted after Abort or context
// cancellation, or the recorded UsageError.
//
// Run must be called once, from a single goroutine.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()

	if l.running || l.ran {
		l.mu.Unlock()
		return &UsageError{Msg: "Run may be called once per loop"}
	}
	if l.usageErr != nil {
		err := l.usageErr
		l.mu.Unlock()
		return err
	}
	if l.q.Len() == 0 {
		l.mu.Unlock()
		return &UsageError{Msg: "nothing to run: not a single call has been scheduled"}
	}

	l.running = true
	l.ran = true
	l.startMs = clock.NowMs()
	l.armDonesLocked(l.startMs)
	l.emitLocked(Event{Type: EventRunStart})

	// Drop any wake signal accumulated before the run started.
	select {
	case <-l.notify:
	default:
	}

	for l.q.Len() > 0 && l.state == StateNotComplete && l.usageErr == nil {
		if ctx.Err() != nil {
			l.state = StateAborted
			l.emitLocked(Event{Type: EventAborted})
			break
		}

		fireAt, _ := l.q.Peek()
		now := clock.NowMs()
		if wait := fireAt - now; wait > 0 {
			l.sleepLocked(ctx, wait)
			// Re-evaluate from the top: the head may have changed while we
			// slept, and an early wakeup must not consume the entry.
			if head, ok := l.q.Peek(); !ok || head-clock.NowMs() > l.wakeTolMs {
				continue
			}
		}

		fn, ok := l.q.Pop()
		if !ok {
			break
		}
		if l.statsReg != nil {
			l.statsReg.CallsFired.Inc(l.statsKey)
		}
		l.emitLocked(Event{Type: EventFired})

		// Actions run without the lock so they can call Schedule, Done,
		// and Fail; the single loop goroutine still invokes them strictly
		// sequentially.
		l.mu.Unlock()
		fn()
		l.mu.Lock()
	}

	if l.state == StateNotComplete && l.usageErr == nil {
		// Queue drained with nothing outstanding.
		l.state = StateSuccess
	}
	l.elapsedMs = clock.NowMs() - l.startMs
	l.running = false
	l.emitLocked(Event{Type: EventRunEnd, State: l.state.String()})

	var err error
	switch {
	case l.usageErr != nil:
		err = l.usageErr
	case l.state == StateError:
		err = l.resErr
	case l.state == StateAborted:
		err = ErrAborted
	}
	l.mu.Unlock()
	return err
}

// sleepLocked blocks until the head entry is due, a wake signal arrives,
// or the context is cancelled. The engine lock is released for the whole
// sleep — this is the window in which other goroutines resolve done items.
func (l *Loop) sleepLocked(ctx context.Context, waitMs int64) {
	timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	l.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-l.notify:
	case <-timer.C:
	}
	timer.Stop()

	l.mu.Lock()
}

// Abort moves the loop to StateAborted unless it is already terminal. It
// does not unwind an in-flight action; it only prevents further loop
// iterations.
func (l *Loop) Abort() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Terminal() {
		return
	}
	l.state = StateAborted
	l.emitLocked(Event{Type: EventAborted})
	l.wake()
}

// ─── results ─────────────────────────────────────────────────────────────────

// Result is the final outcome of a loop run.
type Result struct {
	RunID     string
	State     State
	ErrMsg    string // empty on success
	FailedTag string // done tag that failed, if any
	ElapsedMs int64
}

// Result returns a snapshot of the loop outcome.
func (l *Loop) Result() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Result{
		RunID:     l.runID,
		State:     l.state,
		ErrMsg:    l.errMsg,
		FailedTag: l.errTag,
		ElapsedMs: l.elapsedMs,
	}
}

// State returns the current completion state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ErrMsg returns the recorded error message; empty on success.
func (l *Loop) ErrMsg() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}

// FailedTag returns the tag of the done item that failed, if any.
func (l *Loop) FailedTag() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errTag
}
