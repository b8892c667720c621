package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/jarvis/pkg/jarvis/events"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

// Notifier reports finished tasks: a system note in memory, a best-effort
// spoken message and a bus event. Every collaborator is optional and a nil
// *Notifier is valid.
type Notifier struct {
	store   memory.Store
	speaker voice.Speaker
	bus     *events.Bus
	logger  *slog.Logger
}

// NewNotifier creates a notifier. Any argument may be nil.
func NewNotifier(store memory.Store, speaker voice.Speaker, bus *events.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		store:   store,
		speaker: speaker,
		bus:     bus,
		logger:  logger.With("component", "notifier"),
	}
}

// Started publishes a start event.
func (n *Notifier) Started(source, id, name string) {
	if n == nil {
		return
	}
	n.bus.Publish(events.Event{Type: events.TaskStarted, Source: source, TaskID: id, Name: name})
}

// Completed records a successful run.
func (n *Notifier) Completed(ctx context.Context, source, id, name, result string) {
	if n == nil {
		return
	}
	msg := "Completed scheduled task: " + name
	n.note(ctx, msg)
	voice.SpeakBestEffort(ctx, n.speaker, msg, n.logger)
	n.bus.Publish(events.Event{
		Type:    events.TaskCompleted,
		Source:  source,
		TaskID:  id,
		Name:    name,
		Message: result,
	})
}

// Failed records a failed run.
func (n *Notifier) Failed(ctx context.Context, source, id, name string, err error) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf("Scheduled task %s failed: %v", name, err)
	n.note(ctx, msg)
	voice.SpeakBestEffort(ctx, n.speaker, msg, n.logger)
	n.bus.Publish(events.Event{
		Type:   events.TaskFailed,
		Source: source,
		TaskID: id,
		Name:   name,
		Error:  err.Error(),
	})
}

// Publish forwards a lifecycle event that needs no memory note.
func (n *Notifier) Publish(ev events.Event) {
	if n == nil {
		return
	}
	n.bus.Publish(ev)
}

func (n *Notifier) note(ctx context.Context, msg string) {
	if n.store == nil {
		return
	}
	if err := n.store.AddInteraction(ctx, memory.SpeakerSystem, msg); err != nil {
		n.logger.Warn("failed to record task note", "error", err)
	}
}
