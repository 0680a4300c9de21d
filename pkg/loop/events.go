package loop

import "github.com/asyncloop/asyncloop/internal/clock"

// Event types delivered to the sink configured with WithEventSink.
const (
	EventRunStart   = "run_start"
	EventRunEnd     = "run_end"
	EventScheduled  = "scheduled"   // a call was added to the queue
	EventFired      = "fired"       // a queued call is about to be invoked
	EventGuardArmed = "guard_armed" // a done item's timeout guard was queued
	EventDone       = "done"        // a done item resolved successfully
	EventFail       = "fail"        // a resolution error was recorded
	EventAborted    = "aborted"
)

// Event is one observable step in a loop run, consumed by the live
// observer stream.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	AtMs  int64  `json:"at_ms"`

	// Tag is set for done-item events.
	Tag string `json:"tag,omitempty"`
	// Msg carries the error message for fail events.
	Msg string `json:"msg,omitempty"`
	// State is the final state for run_end events.
	State string `json:"state,omitempty"`
	// FireAtMs is the target fire time for scheduled / guard_armed events.
	FireAtMs int64 `json:"fire_at_ms,omitempty"`
}

// emitLocked delivers ev to the sink, stamping run ID and time.
// Callers hold l.mu; the sink must not call back into the loop or block.
func (l *Loop) emitLocked(ev Event) {
	if l.sink == nil {
		return
	}
	ev.RunID = l.runID
	ev.AtMs = clock.NowMs()
	l.sink(ev)
}
