// Package clock provides the millisecond time base for the event loop.
//
// All engine timestamps are "epoch-like" milliseconds: they start at the
// process wall-clock time but advance on the monotonic clock, so arithmetic
// on fire times is immune to wall-clock steps (NTP, suspend/resume).
// Accuracy within a few milliseconds is all the loop needs — it emulates
// realistic async jitter rather than a precision timer wheel.
package clock

import "time"

var (
	base   = time.Now()
	baseMs = base.UnixMilli()
)

// NowMs returns the current time in milliseconds. Successive calls are
// guaranteed non-decreasing.
func NowMs() int64 {
	return baseMs + time.Since(base).Milliseconds()
}

// SinceMs returns the number of milliseconds elapsed since startMs, which
// must be a value previously obtained from NowMs.
func SinceMs(startMs int64) int64 {
	return NowMs() - startMs
}
