package loop

import "errors"

// UsageError reports programmer misuse of the loop API: an unknown tag, a
// duplicate done registration, Run with nothing scheduled. It is surfaced
// immediately, never retried, and never touches the completion state.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return "usage: " + e.Msg }

// Kind classifies a ResolutionError so the harness can report "timeout"
// distinctly from "ordering" or "duplicate".
type Kind uint8

const (
	// KindFailed is an explicit Fail / FailTag call from test code.
	KindFailed Kind = iota
	// KindDuplicate means a done item was resolved a second time.
	KindDuplicate
	// KindOrdering means an ordered done item resolved out of rank order.
	KindOrdering
	// KindTimeout means a done item's deadline elapsed unresolved.
	KindTimeout
	// KindInternal is an engine invariant violation, logged and converted
	// to an error instead of crashing the process.
	KindInternal
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindFailed:
		return "failed"
	case KindDuplicate:
		return "duplicate"
	case KindOrdering:
		return "ordering"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ResolutionError is a domain error raised during normal loop operation.
// It sets the completion state to StateError and stops the loop; the
// harness recovers at the test level by recording a failed test.
type ResolutionError struct {
	// Tag is the done item involved; empty for errors not attributable to
	// a single item.
	Tag  string
	Kind Kind
	Msg  string
}

func (e *ResolutionError) Error() string { return e.Msg }

// ErrAborted is returned by Run when the loop finished in StateAborted, so
// callers cannot mistake an aborted run for success.
var ErrAborted = errors.New("loop aborted")

// IsTimeout reports whether err is (or wraps) a timeout ResolutionError.
func IsTimeout(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == KindTimeout
}
