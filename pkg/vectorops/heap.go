package vectorops

import "container/heap"

// CandidateItem is a single scored candidate during beam search, keyed
// by the HNSW internal integer id.
type CandidateItem struct {
	ID   int
	Dist float64
}

// candidateHeap is a dual-mode binary heap: when min is true it pops the
// smallest distance first (the candidate frontier); when min is false it
// pops the largest distance first (the bounded result set, so the
// current worst result is always at the root and can be evicted cheaply).
type candidateHeap struct {
	items []CandidateItem
	min   bool
}

func (h candidateHeap) Len() int { return len(h.items) }

func (h candidateHeap) Less(i, j int) bool {
	if h.min {
		return h.items[i].Dist < h.items[j].Dist
	}
	return h.items[i].Dist > h.items[j].Dist
}

func (h candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) {
	h.items = append(h.items, x.(CandidateItem))
}

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// MinCandidateHeap is a min-heap of candidates ordered by ascending
// distance, used as the exploration frontier in HNSW's search-layer.
type MinCandidateHeap struct{ h candidateHeap }

// NewMinCandidateHeap returns an empty min-heap.
func NewMinCandidateHeap() *MinCandidateHeap {
	return &MinCandidateHeap{h: candidateHeap{min: true}}
}

// Len returns the number of items in the heap.
func (m *MinCandidateHeap) Len() int { return m.h.Len() }

// Push adds a candidate.
func (m *MinCandidateHeap) Push(item CandidateItem) { heap.Push(&m.h, item) }

// Pop removes and returns the closest candidate.
func (m *MinCandidateHeap) Pop() CandidateItem { return heap.Pop(&m.h).(CandidateItem) }

// MaxCandidateHeap is a max-heap of candidates ordered by descending
// distance, used to hold the current best `ef` results: the root is
// always the worst-scoring kept result, so it can be evicted in O(log ef)
// when a closer candidate is found.
type MaxCandidateHeap struct{ h candidateHeap }

// NewMaxCandidateHeap returns an empty max-heap.
func NewMaxCandidateHeap() *MaxCandidateHeap {
	return &MaxCandidateHeap{h: candidateHeap{min: false}}
}

// Len returns the number of items in the heap.
func (m *MaxCandidateHeap) Len() int { return m.h.Len() }

// Push adds a candidate.
func (m *MaxCandidateHeap) Push(item CandidateItem) { heap.Push(&m.h, item) }

// Pop removes and returns the worst-scoring kept candidate.
func (m *MaxCandidateHeap) Pop() CandidateItem { return heap.Pop(&m.h).(CandidateItem) }

// Peek returns the worst-scoring kept candidate without removing it.
// Callers must check Len() > 0 first.
func (m *MaxCandidateHeap) Peek() CandidateItem { return m.h.items[0] }

// Items returns the heap's contents in no particular order.
func (m *MaxCandidateHeap) Items() []CandidateItem { return m.h.items }
