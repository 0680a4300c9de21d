// Package journal persists the outcome of every loop run to a local bbolt
// database so flaky async tests can be diagnosed across runs instead of
// from a single lucky reproduction.
//
// bbolt is chosen because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — the journal is always consistent even after a crash
//   - Single file (one .db per project)
//
// Records are keyed by a time-ordered ULID, so a reverse cursor scan walks
// run history newest-first with no secondary index.
package journal

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/asyncloop/asyncloop/internal/ident"
)

var bucketRuns = []byte("runs") // bucket name inside bbolt

// Record is one persisted run outcome. Only optional fields may be added;
// never rename or remove a field — existing journals must stay readable.
type Record struct {
	// ID is the run ULID. Assigned by Append when empty.
	ID string `json:"id"`

	Group string `json:"group"`
	Test  string `json:"test"`

	// State is the final completion state string ("success", "error",
	// "aborted", "not_complete").
	State string `json:"state"`

	// ErrMsg is empty on success.
	ErrMsg string `json:"err_msg,omitempty"`

	// FailedTag names the done item that failed, if any.
	FailedTag string `json:"failed_tag,omitempty"`

	StartedAtMs int64 `json:"started_at_ms"`
	DurationMs  int64 `json:"duration_ms"`
}

// Passed reports whether the run completed successfully.
func (r Record) Passed() bool { return r.State == "success" }

// Journal is a bbolt-backed store of run Records.
type Journal struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	opts := &bbolt.Options{Timeout: 0} // non-blocking open
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	// Ensure the runs bucket exists.
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Append writes a run record. When rec.ID is empty a fresh ULID is
// assigned; the (possibly assigned) ID is returned.
func (j *Journal) Append(rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = ident.MustNewID()
	} else if err := ident.Validate(rec.ID); err != nil {
		return "", fmt.Errorf("journal: record id %q: %w", rec.ID, err)
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("journal: marshal record %s: %w", rec.ID, err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(rec.ID), val)
	})
	if err != nil {
		return "", fmt.Errorf("journal: put record %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// History returns up to limit records for the given group/test, newest
// first. Empty group or test matches everything, so History("", "", n)
// returns the n most recent runs overall.
func (j *Journal) History(group, test string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		// ULID keys sort by time, so walking backwards is newest-first.
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("journal: corrupt record %q: %w", k, err)
			}
			if group != "" && rec.Group != group {
				continue
			}
			if test != "" && rec.Test != test {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FlakeRate returns the failure fraction of the last window runs of a test,
// and the number of runs actually inspected. A test that alternates between
// pass and fail shows up with a rate near 0.5; a hard failure near 1.0.
func (j *Journal) FlakeRate(group, test string, window int) (rate float64, runs int, err error) {
	recs, err := j.History(group, test, window)
	if err != nil {
		return 0, 0, err
	}
	if len(recs) == 0 {
		return 0, 0, nil
	}
	failed := 0
	for _, r := range recs {
		if !r.Passed() {
			failed++
		}
	}
	return float64(failed) / float64(len(recs)), len(recs), nil
}
