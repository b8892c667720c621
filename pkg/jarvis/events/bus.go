// Package events implements an in-memory pub/sub bus for task lifecycle
// events (scheduled task started/completed/failed, coordinator task
// updates). Subscribers are called synchronously during Publish; they
// should hand off slow work to their own goroutines. A panicking subscriber
// is logged and skipped so it cannot take down the publisher.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TaskScheduled = "task_scheduled"
	TaskStarted   = "task_started"
	TaskCompleted = "task_completed"
	TaskFailed    = "task_failed"
	TaskCancelled = "task_cancelled"
	TaskUpdate    = "task_update"
)

// Event is a single bus message.
type Event struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	TaskID    string    `json:"task_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events.
type Listener func(Event)

// Bus is a thread-safe fan-out hub.
type Bus struct {
	listeners sync.Map // uint64 → Listener
	nextID    atomic.Uint64
	seq       atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *Bus) Subscribe(fn Listener) func() {
	id := b.nextID.Add(1)
	b.listeners.Store(id, fn)
	return func() { b.listeners.Delete(id) }
}

// Publish stamps the event with a sequence number and timestamp and
// delivers it to every listener. A nil bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	ev.Seq = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.listeners.Range(func(_, v any) bool {
		deliver(v.(Listener), ev)
		return true
	})
}

func deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("event listener panicked", "component", "events", "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

// ListenerCount returns the number of active subscriptions.
func (b *Bus) ListenerCount() int {
	n := 0
	b.listeners.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
