package reasoning

import "sync"

// DefaultHistorySize is the per-session utterance window.
const DefaultHistorySize = 20

// History is a bounded FIFO of recent utterances.
type History struct {
	mu      sync.Mutex
	entries []string
	size    int
}

// NewHistory creates a history holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add appends command, evicting the oldest entries past the cap, and
// returns a copy of the resulting window.
func (h *History) Add(command string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, command)
	if len(h.entries) > h.size {
		h.entries = append([]string(nil), h.entries[len(h.entries)-h.size:]...)
	}
	return append([]string(nil), h.entries...)
}

// Snapshot returns a copy of the window, oldest first.
func (h *History) Snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...)
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Cap returns the configured window size.
func (h *History) Cap() int { return h.size }
