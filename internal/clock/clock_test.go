package clock

import (
	"testing"
	"time"
)

func TestNowMsNonDecreasing(t *testing.T) {
	prev := NowMs()
	for i := 0; i < 10000; i++ {
		now := NowMs()
		if now < prev {
			t.Fatalf("NowMs went backwards: %d after %d", now, prev)
		}
		prev = now
	}
}

func TestNowMsAdvances(t *testing.T) {
	start := NowMs()
	time.Sleep(15 * time.Millisecond)
	elapsed := NowMs() - start
	if elapsed < 10 {
		t.Fatalf("elapsed = %d ms after 15 ms sleep", elapsed)
	}
}

func TestSinceMs(t *testing.T) {
	start := NowMs()
	time.Sleep(15 * time.Millisecond)
	if got := SinceMs(start); got < 10 {
		t.Fatalf("SinceMs = %d, want >= 10", got)
	}
}
