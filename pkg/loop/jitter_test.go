package loop

import "testing"

func TestJitterOffsetBounds(t *testing.T) {
	l := New(WithJitterSeed(1))
	for _, pct := range []int{10, 50, 100} {
		w := int64(100) * int64(pct) / 100
		for i := 0; i < 1000; i++ {
			off := l.jitterOffset(100, pct)
			if off < -w || off >= w {
				t.Fatalf("pct %d: offset %d outside [-%d, %d)", pct, off, w, w)
			}
		}
	}
}

func TestJitterOffsetEmptyWindow(t *testing.T) {
	l := New(WithJitterSeed(1))
	if off := l.jitterOffset(0, 50); off != 0 {
		t.Fatalf("zero delay: offset = %d, want 0", off)
	}
	if off := l.jitterOffset(100, 0); off != 0 {
		t.Fatalf("zero pct: offset = %d, want 0", off)
	}
	// 1 ms at 10% truncates to a zero-width window.
	if off := l.jitterOffset(1, 10); off != 0 {
		t.Fatalf("truncated window: offset = %d, want 0", off)
	}
}

func TestJitterSeedReproducible(t *testing.T) {
	a := New(WithJitterSeed(42))
	b := New(WithJitterSeed(42))
	for i := 0; i < 100; i++ {
		if ao, bo := a.jitterOffset(200, 50), b.jitterOffset(200, 50); ao != bo {
			t.Fatalf("draw %d: %d != %d, same seed must replay", i, ao, bo)
		}
	}
}

func TestJitterOffsetVaries(t *testing.T) {
	l := New(WithJitterSeed(7))
	first := l.jitterOffset(1000, 50)
	for i := 0; i < 200; i++ {
		if l.jitterOffset(1000, 50) != first {
			return
		}
	}
	t.Fatal("200 draws all identical, jitter window is not being sampled")
}

func TestOrderedAnchorAdvances(t *testing.T) {
	l := New(WithJitterPct(0))
	l.ScheduleAfter(func() {}, -30)
	first := l.lastOrderTs
	if first == 0 {
		t.Fatal("anchor not set by first ordered call")
	}
	l.ScheduleAfter(func() {}, -30)
	if l.lastOrderTs != first+30 {
		t.Fatalf("anchor = %d, want %d", l.lastOrderTs, first+30)
	}
	// A plain (non-ordered) call leaves the anchor alone.
	l.ScheduleAfter(func() {}, 30)
	if l.lastOrderTs != first+30 {
		t.Fatalf("plain call moved the anchor to %d", l.lastOrderTs)
	}
}
