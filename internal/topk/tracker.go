// Package topk keeps the best K scored candidates seen by concurrent workers.
package topk

import (
	"container/heap"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kamusis/cc-attack/internal/enum"
)

// Entry is a scored candidate.
type Entry struct {
	Candidate enum.Candidate `json:"candidate"`
	Score     float64        `json:"score"`
}

// Better reports whether e ranks before o: higher score first, then the lower
// canonical index, which is also the earlier position in enumeration order.
func (e Entry) Better(o Entry) bool {
	if e.Score != o.Score {
		return e.Score > o.Score
	}
	return e.Candidate.Index < o.Candidate.Index
}

// Compile time check to ensure worstFirst satisfies the heap interface.
var _ heap.Interface = (*worstFirst)(nil)

// worstFirst is a heap whose top is the worst kept entry.
type worstFirst []Entry

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return h[j].Better(h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Tracker is a bounded ranking safe for concurrent Offer calls. Its final
// content depends only on the multiset of offers, not on their interleaving.
type Tracker struct {
	k    int
	mu   sync.Mutex
	heap worstFirst
	held map[uint64]struct{}
	// gate holds the bits of the worst kept score once the tracker is full.
	// Scores strictly below it can be rejected without the lock.
	gate atomic.Uint64
}

// New returns a tracker that keeps at most k entries. k < 1 is treated as 1.
func New(k int) *Tracker {
	if k < 1 {
		k = 1
	}
	t := &Tracker{
		k:    k,
		heap: make(worstFirst, 0, k),
		held: make(map[uint64]struct{}, k),
	}
	t.gate.Store(math.Float64bits(math.Inf(-1)))
	return t
}

// K returns the capacity.
func (t *Tracker) K() int { return t.k }

// Offer submits a scored candidate and reports whether it was admitted.
// Candidates already held are ignored. A full tracker only admits entries
// that rank strictly before its current worst.
func (t *Tracker) Offer(c enum.Candidate, score float64) bool {
	if math.IsNaN(score) {
		return false
	}
	if score < math.Float64frombits(t.gate.Load()) {
		return false
	}

	e := Entry{Candidate: c, Score: score}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[c.Index]; ok {
		return false
	}
	if len(t.heap) < t.k {
		heap.Push(&t.heap, e)
		t.held[c.Index] = struct{}{}
		t.updateGate()
		return true
	}
	worst := t.heap[0]
	if !e.Better(worst) {
		return false
	}
	delete(t.held, worst.Candidate.Index)
	t.heap[0] = e
	heap.Fix(&t.heap, 0)
	t.held[c.Index] = struct{}{}
	t.updateGate()
	return true
}

func (t *Tracker) updateGate() {
	if len(t.heap) == t.k {
		t.gate.Store(math.Float64bits(t.heap[0].Score))
	}
}

// Snapshot returns the kept entries, best first.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	out := make([]Entry, len(t.heap))
	copy(out, t.heap)
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Better(out[j]) })
	return out
}

// Best returns the top entry, if any.
func (t *Tracker) Best() (Entry, bool) {
	s := t.Snapshot()
	if len(s) == 0 {
		return Entry{}, false
	}
	return s[0], true
}

// Min returns the worst kept score, or -Inf when empty.
func (t *Tracker) Min() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.heap) == 0 {
		return math.Inf(-1)
	}
	return t.heap[0].Score
}

// Len returns the number of kept entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Restore offers every entry, typically a snapshot read from a checkpoint.
func (t *Tracker) Restore(entries []Entry) {
	for _, e := range entries {
		t.Offer(e.Candidate, e.Score)
	}
}
