// Package memory persists conversation context for the assistant: the
// interaction log, keyed context values and user preferences.
package memory

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxInteractions caps the interaction log; older rows are trimmed.
const DefaultMaxInteractions = 1000

// ErrNotFound is returned when a context key or preference is missing.
var ErrNotFound = errors.New("not found")

// Speakers recorded in the interaction log.
const (
	SpeakerUser   = "user"
	SpeakerJarvis = "jarvis"
	SpeakerSystem = "system"
)

// Interaction is one line of the conversation log.
type Interaction struct {
	ID        int64     `json:"id"`
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextValue is a stored context entry with the time it was written.
type ContextValue struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the context/memory collaborator used by the reasoning engine,
// the scheduler notifier and the transports.
type Store interface {
	StoreContext(ctx context.Context, key, value string) error
	GetContext(ctx context.Context, key string) (ContextValue, error)

	AddInteraction(ctx context.Context, speaker, message string) error
	// RecentInteractions returns up to n entries, oldest first.
	RecentInteractions(ctx context.Context, n int) ([]Interaction, error)

	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, error)

	Close() error
}
