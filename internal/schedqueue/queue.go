// Package schedqueue implements the fire-time-ordered queue of scheduled
// calls that drives the event loop.
//
// Design:
//   - Min-Heap peek   → O(1) — the soonest-due call is always at the root.
//   - Insert / Remove → O(log N).
//
// Entries are keyed by (fireAtMs, seq) where seq is a monotonically
// increasing insertion counter, so ties on fire time resolve in insertion
// order and a callback that inserts new entries while the queue is being
// drained never invalidates handles held for unrelated entries.
package schedqueue

import "container/heap"

// Handle identifies a queued call. It stays valid (as a no-op for Remove)
// after the entry has fired or been removed.
type Handle uint64

// None is the zero Handle; Remove(None) is always a no-op.
const None Handle = 0

// entry is one scheduled call in the heap.
type entry struct {
	fireAtMs int64  // sort key, milliseconds
	seq      uint64 // insertion counter — tie-break and Handle value
	action   func()

	// heapIdx is the entry's current position in the heap slice.
	// Maintained by callHeap.Swap so Remove can use heap.Remove in O(log N).
	heapIdx int
}

// Queue is an ordered collection of (fire time, callback) entries.
//
// Queue is not self-synchronized: the owning loop guards every call with
// its own mutex, the same contract the scheduler heap in a message broker
// has with its delivery goroutine.
type Queue struct {
	h        callHeap
	byHandle map[Handle]*entry
	seq      uint64
}

// New returns an empty Queue.
func New() *Queue {
	h := make(callHeap, 0, 16)
	heap.Init(&h)
	return &Queue{
		h:        h,
		byHandle: make(map[Handle]*entry),
	}
}

// Insert adds a call to fire at fireAtMs and returns its Handle.
func (q *Queue) Insert(fireAtMs int64, action func()) Handle {
	q.seq++
	e := &entry{
		fireAtMs: fireAtMs,
		seq:      q.seq,
		action:   action,
	}
	heap.Push(&q.h, e)
	q.byHandle[Handle(e.seq)] = e
	return Handle(e.seq)
}

// Peek returns the fire time of the earliest entry without removing it.
func (q *Queue) Peek() (fireAtMs int64, ok bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].fireAtMs, true
}

// Pop removes the earliest entry and returns its action. Ownership of the
// action transfers to the caller; the entry is destroyed.
func (q *Queue) Pop() (action func(), ok bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byHandle, Handle(e.seq))
	return e.action, true
}

// Remove deletes the entry identified by h. It reports whether an entry was
// removed; a stale handle (already fired or removed) is a safe no-op.
func (q *Queue) Remove(h Handle) bool {
	e, ok := q.byHandle[h]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.heapIdx)
	delete(q.byHandle, h)
	return true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int { return len(q.h) }

// ─── heap implementation ─────────────────────────────────────────────────────

// callHeap is a slice of *entry satisfying heap.Interface.
// The earliest (fireAtMs, seq) pair sits at index 0.
type callHeap []*entry

func (h callHeap) Len() int { return len(h) }

func (h callHeap) Less(i, j int) bool {
	if h[i].fireAtMs != h[j].fireAtMs {
		return h[i].fireAtMs < h[j].fireAtMs
	}
	return h[i].seq < h[j].seq
}

func (h callHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *callHeap) Push(x any) {
	n := len(*h)
	e := x.(*entry)
	e.heapIdx = n
	*h = append(*h, e)
}

func (h *callHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil  // allow GC
	e.heapIdx = -1  // mark as not in heap
	*h = old[:n-1]
	return e
}
