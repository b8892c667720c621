package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/events"
)

// Runner executes a due task. Usually it feeds Task.Command back through
// the reasoning engine.
type Runner func(ctx context.Context, task *Task) (string, error)

// Config tunes the recurring scheduler.
type Config struct {
	// PollInterval is how often due tasks are checked. Default 1s.
	PollInterval time.Duration
	// JobTimeout bounds one execution. Default 5 minutes.
	JobTimeout time.Duration
}

// Scheduler runs persisted recurring tasks from a poll loop.
type Scheduler struct {
	cfg      Config
	storage  TaskStorage
	runner   Runner
	notifier *Notifier
	logger   *slog.Logger

	// now is swapped in tests.
	now func() time.Time

	mu      sync.RWMutex
	tasks   map[string]*Task
	running map[string]bool
	seq     uint64

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a stopped scheduler. storage and notifier may be nil.
func New(cfg Config, storage TaskStorage, runner Runner, notifier *Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		storage:  storage,
		runner:   runner,
		notifier: notifier,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		tasks:    make(map[string]*Task),
		running:  make(map[string]bool),
	}
}

// ScheduleTask validates the schedule, computes the first run and stores
// the task. Malformed schedules fail with ErrInvalidSchedule.
func (s *Scheduler) ScheduleTask(name, command string, typ ScheduleType, spec string, repeat bool) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("task name is required")
	}
	typ = ScheduleType(strings.ToLower(strings.TrimSpace(string(typ))))

	now := s.now()
	next, err := NextRun(typ, spec, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.newID(name, now)
	t := &Task{
		ID:        id,
		Name:      name,
		Command:   command,
		Type:      typ,
		Time:      strings.TrimSpace(spec),
		Repeat:    repeat && typ != Once,
		Status:    StatusScheduled,
		CreatedAt: now,
		NextRun:   next,
	}
	s.tasks[id] = t
	snapshot := t.clone()
	s.mu.Unlock()

	s.persist(snapshot)
	s.logger.Info("task scheduled",
		"id", id,
		"type", typ,
		"time", snapshot.Time,
		"repeat", snapshot.Repeat,
		"next_run", next.Format(time.RFC3339),
	)
	s.notifier.Publish(events.Event{
		Type:    events.TaskScheduled,
		Source:  "scheduler",
		TaskID:  id,
		Name:    name,
		Message: "next run " + next.Format("2006-01-02 15:04"),
	})
	return snapshot, nil
}

// newID builds name_<unix-ms>, suffixed when two tasks share the instant
// (caller must hold mu).
func (s *Scheduler) newID(name string, now time.Time) string {
	base := fmt.Sprintf("%s_%d", strings.ReplaceAll(name, " ", "_"), now.UnixMilli())
	id := base
	for {
		if _, exists := s.tasks[id]; !exists {
			return id
		}
		s.seq++
		id = fmt.Sprintf("%s-%d", base, s.seq)
	}
}

// Cancel removes a task. A run already in progress finishes but its
// result is not stored.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if s.storage != nil {
		if err := s.storage.Delete(id); err != nil {
			s.logger.Error("failed to remove task from storage", "id", id, "error", err)
		}
	}
	s.logger.Info("task cancelled", "id", id)
	s.notifier.Publish(events.Event{Type: events.TaskCancelled, Source: "scheduler", TaskID: id, Name: t.Name})
	return nil
}

// List returns copies of all tasks ordered by next run.
func (s *Scheduler) List() []*Task {
	s.mu.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of a task.
func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.clone(), nil
}

// Start loads persisted tasks and starts the poll loop. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	loopCtx, loopDone := s.ctx, s.loopDone
	s.mu.Unlock()

	if err := s.load(); err != nil {
		s.logger.Error("failed to load tasks", "error", err)
	}

	go s.loop(loopCtx, loopDone)

	s.mu.RLock()
	count := len(s.tasks)
	s.mu.RUnlock()
	s.logger.Info("scheduler started", "tasks", count, "poll_interval", s.cfg.PollInterval)
	return nil
}

// Load reads persisted tasks without starting the poll loop, for tools that
// only list or edit the schedule.
func (s *Scheduler) Load() error { return s.load() }

func (s *Scheduler) load() error {
	if s.storage == nil {
		return nil
	}
	tasks, err := s.storage.LoadAll()
	if err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		// A crash mid-run leaves running on disk.
		if t.Status == StatusRunning {
			t.Status = StatusScheduled
		}
		if t.NextRun.IsZero() {
			next, err := NextRun(t.Type, t.Time, now)
			if err != nil {
				s.logger.Warn("skipping task with invalid schedule", "id", t.ID, "error", err)
				continue
			}
			t.NextRun = next
		}
		s.tasks[t.ID] = t
	}
	s.logger.Info("tasks loaded from storage", "count", len(tasks))
	return nil
}

// Stop ends the poll loop, cancels running tasks and waits up to timeout
// for them. Reports whether everything returned in time.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	cancel, loopDone := s.cancel, s.loopDone
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return true
	}
	cancel()

	done := make(chan struct{})
	go func() {
		<-loopDone
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return true
	case <-time.After(timeout):
		s.logger.Warn("scheduler stop timed out", "timeout", timeout)
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick launches every due task that is not already running.
func (s *Scheduler) tick() {
	now := s.now()

	s.mu.Lock()
	var due []*Task
	for id, t := range s.tasks {
		if t.Status != StatusScheduled || s.running[id] || t.NextRun.After(now) {
			continue
		}
		s.running[id] = true
		t.Status = StatusRunning
		due = append(due, t.clone())
	}
	if len(due) > 0 {
		s.wg.Add(len(due))
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, t := range due {
		go s.execute(ctx, t)
	}
}

// execute runs one task with panic recovery and a timeout.
func (s *Scheduler) execute(parent context.Context, t *Task) {
	defer s.wg.Done()

	s.logger.Info("executing scheduled task", "id", t.ID, "command", t.Command)
	s.notifier.Started("scheduler", t.ID, t.Name)

	start := s.now()
	result, err := s.invoke(parent, t)
	s.finish(t.ID, start, result, err)
}

func (s *Scheduler) invoke(parent context.Context, t *Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "id", t.ID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if s.runner == nil {
		return "", errors.New("no runner configured")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	return s.runner(ctx, t)
}

// finish applies the outcome: failed tasks keep their error, completed
// one-time tasks are removed, recurring tasks get a later next run.
func (s *Scheduler) finish(id string, start time.Time, result string, runErr error) {
	end := s.now()

	s.mu.Lock()
	delete(s.running, id)
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Info("task cancelled while running", "id", id)
		return
	}

	t.LastRun = &start
	t.RunCount++
	t.LastRunDuration = end.Sub(start)

	removed := false
	switch {
	case runErr != nil:
		t.Status = StatusFailed
		t.LastError = runErr.Error()
	case t.recurring():
		ref := end
		if !ref.After(t.NextRun) {
			ref = t.NextRun
		}
		next, err := NextRun(t.Type, t.Time, ref)
		if err != nil {
			t.Status = StatusFailed
			t.LastError = err.Error()
			runErr = err
			break
		}
		t.Status = StatusScheduled
		t.LastError = ""
		t.NextRun = next
	default:
		t.Status = StatusCompleted
		t.LastError = ""
		delete(s.tasks, id)
		removed = true
	}
	snapshot := t.clone()
	s.mu.Unlock()

	if removed {
		if s.storage != nil {
			if err := s.storage.Delete(id); err != nil {
				s.logger.Error("failed to remove task from storage", "id", id, "error", err)
			}
		}
	} else {
		s.persist(snapshot)
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if runErr != nil {
		s.logger.Error("scheduled task failed", "id", id, "error", runErr, "duration", snapshot.LastRunDuration)
		s.notifier.Failed(notifyCtx, "scheduler", id, snapshot.Name, runErr)
		return
	}
	s.logger.Info("scheduled task completed",
		"id", id,
		"result_len", len(result),
		"duration", snapshot.LastRunDuration,
		"next_run", snapshot.NextRun.Format(time.RFC3339),
	)
	s.notifier.Completed(notifyCtx, "scheduler", id, snapshot.Name, result)
}

func (s *Scheduler) persist(t *Task) {
	if s.storage == nil {
		return
	}
	if err := s.storage.Save(t); err != nil {
		s.logger.Error("failed to persist task", "id", t.ID, "error", err)
	}
}
