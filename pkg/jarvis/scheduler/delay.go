// Package scheduler – delay.go runs one-shot actions after a delay. Each
// action gets its own timer and is reported through the Notifier when it
// finishes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/jarvis/pkg/jarvis/events"
)

// Action is the body of a delayed task.
type Action func(ctx context.Context) (string, error)

// Delayer schedules one-shot actions.
type Delayer struct {
	notifier *Notifier
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewDelayer creates a delayer. timeout bounds each action (default 5 min).
func NewDelayer(notifier *Notifier, timeout time.Duration, logger *slog.Logger) *Delayer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Delayer{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger.With("component", "delayer"),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
	}
}

// After runs action once after delay and returns the task id right away.
// A non-positive delay fires on the next timer tick.
func (d *Delayer) After(delay time.Duration, name string, action Action) string {
	id := uuid.NewString()

	d.mu.Lock()
	d.wg.Add(1)
	d.timers[id] = time.AfterFunc(delay, func() { d.fire(id, name, action) })
	d.mu.Unlock()

	d.logger.Info("delayed task scheduled", "id", id, "name", name, "delay", delay)
	d.notifier.Publish(events.Event{
		Type:    events.TaskScheduled,
		Source:  "delayer",
		TaskID:  id,
		Name:    name,
		Message: fmt.Sprintf("in %s", delay),
	})
	return id
}

// Cancel stops a pending action. Reports whether it was still pending.
func (d *Delayer) Cancel(id string) bool {
	d.mu.Lock()
	t, ok := d.timers[id]
	delete(d.timers, id)
	d.mu.Unlock()

	if !ok {
		return false
	}
	if t.Stop() {
		d.wg.Done()
	}
	d.notifier.Publish(events.Event{Type: events.TaskCancelled, Source: "delayer", TaskID: id})
	return true
}

// Pending returns the number of actions waiting to fire.
func (d *Delayer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels pending timers and running actions, then waits up to
// timeout for running actions to return.
func (d *Delayer) Stop(timeout time.Duration) bool {
	d.cancel()

	d.mu.Lock()
	for id, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warn("delayer stop timed out", "timeout", timeout)
		return false
	}
}

func (d *Delayer) fire(id, name string, action Action) {
	defer d.wg.Done()

	d.mu.Lock()
	_, ok := d.timers[id]
	delete(d.timers, id)
	d.mu.Unlock()
	if !ok {
		return
	}

	d.notifier.Started("delayer", id, name)

	result, err := d.invoke(action)

	notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err != nil {
		d.logger.Error("delayed task failed", "id", id, "name", name, "error", err)
		d.notifier.Failed(notifyCtx, "delayer", id, name, err)
		return
	}
	d.logger.Info("delayed task completed", "id", id, "name", name)
	d.notifier.Completed(notifyCtx, "delayer", id, name, result)
}

func (d *Delayer) invoke(action Action) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	return action(ctx)
}
