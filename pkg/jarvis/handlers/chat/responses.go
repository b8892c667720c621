package chat

import "sync"

// DefaultDedupeWindow is how many recent picks per (category, user) are
// avoided when choosing a canned response.
const DefaultDedupeWindow = 2

// Canned response categories.
const (
	CategoryGreeting = "greeting"
	CategoryFarewell = "farewell"
	CategoryThanks   = "thanks"
	CategoryUnknown  = "unknown"
	CategoryFallback = "fallback"
)

// DefaultResponses are the built-in canned replies.
func DefaultResponses() map[string][]string {
	return map[string][]string{
		CategoryGreeting: {
			"Hello! How can I help you today?",
			"Hi there! What can I do for you?",
			"Greetings! How may I assist you?",
		},
		CategoryFarewell: {
			"Goodbye! Have a great day!",
			"See you later!",
			"Until next time!",
		},
		CategoryThanks: {
			"You're welcome!",
			"Happy to help!",
			"My pleasure!",
		},
		CategoryUnknown: {
			"I'm not sure I understand. Could you rephrase that?",
			"I don't have an answer for that yet.",
			"I'm still learning about that.",
		},
		CategoryFallback: {
			"I'm sorry, I couldn't process that request.",
			"I encountered an issue with that request.",
			"I'm having trouble with that right now.",
		},
	}
}

type ringKey struct {
	category string
	user     string
}

// RecentResponses remembers the last few responses given per
// (category, user) so consecutive replies don't repeat.
type RecentResponses struct {
	mu     sync.Mutex
	window int
	recent map[ringKey][]string
}

// NewRecentResponses creates a tracker remembering window picks per key.
// A window of zero or less disables de-duplication.
func NewRecentResponses(window int) *RecentResponses {
	return &RecentResponses{
		window: window,
		recent: make(map[ringKey][]string),
	}
}

// Pick chooses the first candidate not among the recent picks for
// (category, user) and records it. When every candidate was used recently
// the least recently used one is returned.
func (r *RecentResponses) Pick(category, user string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	if r == nil || r.window <= 0 {
		return candidates[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ringKey{category: category, user: user}
	ring := r.recent[key]

	choice := ""
	for _, c := range candidates {
		if !contains(ring, c) {
			choice = c
			break
		}
	}
	if choice == "" {
		for _, used := range ring {
			if contains(candidates, used) {
				choice = used
				break
			}
		}
	}

	ring = remove(ring, choice)
	ring = append(ring, choice)
	if len(ring) > r.window {
		ring = ring[len(ring)-r.window:]
	}
	r.recent[key] = ring
	return choice
}

// Reset forgets all picks for user.
func (r *RecentResponses) Reset(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.recent {
		if k.user == user {
			delete(r.recent, k)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
