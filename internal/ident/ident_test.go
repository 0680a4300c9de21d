package ident_test

import (
	"testing"

	"github.com/asyncloop/asyncloop/internal/ident"
)

// TestNewID_WellFormed verifies generated IDs parse as strict ULIDs.
func TestNewID_WellFormed(t *testing.T) {
	id, err := ident.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if err := ident.Validate(id); err != nil {
		t.Errorf("Validate(%q): %v", id, err)
	}
}

// TestNewID_MonotonicWithinProcess verifies IDs generated back-to-back sort
// in generation order, even within the same millisecond.
func TestNewID_MonotonicWithinProcess(t *testing.T) {
	prev := ident.MustNewID()
	for i := 0; i < 1000; i++ {
		next := ident.MustNewID()
		if next <= prev {
			t.Fatalf("id %d not monotone: %q <= %q", i, next, prev)
		}
		prev = next
	}
}

// TestValidate_RejectsGarbage verifies Validate fails on non-ULID input.
func TestValidate_RejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-ulid", "0123"} {
		if err := ident.Validate(s); err == nil {
			t.Errorf("Validate(%q): want error, got nil", s)
		}
	}
}
