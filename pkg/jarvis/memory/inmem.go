package memory

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store. Used when persistence is disabled and
// in tests.
type MemStore struct {
	mu           sync.RWMutex
	interactions []Interaction
	nextID       int64
	contexts     map[string]ContextValue
	prefs        map[string]string
	max          int
	now          func() time.Time
}

// NewMemStore creates an in-memory store keeping at most max interactions
// (DefaultMaxInteractions when max <= 0).
func NewMemStore(max int) *MemStore {
	if max <= 0 {
		max = DefaultMaxInteractions
	}
	return &MemStore{
		contexts: make(map[string]ContextValue),
		prefs:    make(map[string]string),
		max:      max,
		now:      time.Now,
	}
}

func (m *MemStore) StoreContext(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.contexts[key] = ContextValue{Value: value, UpdatedAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *MemStore) GetContext(_ context.Context, key string) (ContextValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.contexts[key]
	if !ok {
		return ContextValue{}, ErrNotFound
	}
	return v, nil
}

func (m *MemStore) AddInteraction(_ context.Context, speaker, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.interactions = append(m.interactions, Interaction{
		ID:        m.nextID,
		Speaker:   speaker,
		Message:   message,
		Timestamp: m.now(),
	})
	if over := len(m.interactions) - m.max; over > 0 {
		m.interactions = append([]Interaction(nil), m.interactions[over:]...)
	}
	return nil
}

func (m *MemStore) RecentInteractions(_ context.Context, n int) ([]Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.interactions) {
		n = len(m.interactions)
	}
	out := make([]Interaction, n)
	copy(out, m.interactions[len(m.interactions)-n:])
	return out, nil
}

func (m *MemStore) SetPreference(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.prefs[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemStore) GetPreference(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.prefs[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemStore) Close() error { return nil }
