package loop

// state.go — completion lifecycle of one loop instance.
//
// State diagram:
//
//	NOT_COMPLETE ──► SUCCESS   (queue drained, every done item resolved)
//	       │
//	       ├───────► ERROR     (resolution error or timeout guard fired)
//	       │
//	       └───────► ABORTED   (external cancellation)
//
// Every state except NOT_COMPLETE is terminal.

// State is the completion state of one event loop instance.
type State uint8

const (
	// StateNotComplete means the loop has not finished; it is the only
	// state with outgoing transitions.
	StateNotComplete State = iota
	// StateSuccess means every done item resolved and the queue drained.
	StateSuccess
	// StateError means a resolution error or timeout stopped the loop.
	StateError
	// StateAborted means Abort (or context cancellation) stopped the loop
	// before it could complete.
	StateAborted
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotComplete:
		return "not_complete"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool { return s != StateNotComplete }

// ValidTransition reports whether from → to is a legal completion state
// change.
//
// Used defensively in tests; the loop drives transitions through Done,
// Fail, the timeout guards, and Abort, which already enforce the rules.
func ValidTransition(from, to State) bool {
	if from != StateNotComplete {
		return false
	}
	return to == StateSuccess || to == StateError || to == StateAborted
}
