package execution

import "sync"

// History retains a bounded ring of finished context summaries for
// later audit and querying. Oldest entries are dropped first.
type History struct {
	mu   sync.Mutex
	ring []Summary
	next int
	size int
	cap  int
}

// NewHistory creates a history retaining up to capacity summaries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{ring: make([]Summary, capacity), cap: capacity}
}

// Archive stores a finished context summary.
func (h *History) Archive(s Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = s
	h.next = (h.next + 1) % h.cap
	if h.size < h.cap {
		h.size++
	}
}

// Len returns the number of retained summaries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Recent returns up to n summaries, newest first.
func (h *History) Recent(n int) []Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]Summary, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + h.cap) % h.cap
		out = append(out, h.ring[idx])
	}
	return out
}

// Find returns the summary for a context id, if retained.
func (h *History) Find(id string) (Summary, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.size; i++ {
		idx := (h.next - 1 - i + h.cap) % h.cap
		if h.ring[idx].ID == id {
			return h.ring[idx], true
		}
	}
	return Summary{}, false
}
