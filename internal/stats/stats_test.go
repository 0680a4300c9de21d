package stats_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/asyncloop/asyncloop/internal/stats"
)

// TestRegistry_RenderText verifies counters show up with the right family
// names and label sets, and that empty families are omitted entirely.
func TestRegistry_RenderText(t *testing.T) {
	r := &stats.Registry{}
	r.IncTestPassed("group one")
	r.IncTestPassed("group one")
	r.IncTestFailed("group two")

	key := stats.TestKey("group one", "test one")
	r.CallsScheduled.Inc(key)
	r.DonesResolved.Inc(stats.TagKey(key, "event 1"))

	out := r.RenderText()

	for _, want := range []string{
		`asyncloop_tests_passed_total{group="group one"} 2`,
		`asyncloop_tests_failed_total{group="group two"} 1`,
		`asyncloop_calls_scheduled_total{group="group one",test="test one"} 1`,
		`asyncloop_dones_resolved_total{group="group one",test="test one",tag="event 1"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q\ngot:\n%s", want, out)
		}
	}

	// No timeouts were recorded — the family header must be absent.
	if strings.Contains(out, "asyncloop_done_timeouts_total") {
		t.Errorf("render output contains empty family header:\n%s", out)
	}
}

// TestRegistry_Handler verifies the HTTP endpoint serves the exposition
// format with the expected content type.
func TestRegistry_Handler(t *testing.T) {
	r := &stats.Registry{}
	r.IncTestDisabled("g")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type: want text/plain, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `asyncloop_tests_disabled_total{group="g"} 1`) {
		t.Errorf("body missing disabled counter:\n%s", body)
	}
}
