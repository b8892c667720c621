// Package scheduler runs deferred work for the assistant: one-shot delayed
// actions (Delayer) and persisted recurring tasks (Scheduler) driven by a
// poll loop. Completion of either kind is reported through a Notifier.
package scheduler

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidSchedule is returned when a schedule type or time spec
	// cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
)

// ScheduleType selects how the next run time is computed.
type ScheduleType string

const (
	Once    ScheduleType = "once"
	Daily   ScheduleType = "daily"
	Weekly  ScheduleType = "weekly"
	Monthly ScheduleType = "monthly"
	Cron    ScheduleType = "cron"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is a recurring or one-time scheduled command.
type Task struct {
	// ID is the task name plus a creation tag.
	ID string `json:"id" yaml:"id"`

	Name    string `json:"name" yaml:"name"`
	Command string `json:"command" yaml:"command"`

	// Type and Time together form the schedule, e.g. weekly + "monday 08:30".
	Type ScheduleType `json:"type" yaml:"type"`
	Time string       `json:"time" yaml:"time"`

	// Repeat keeps the task after a successful run. Ignored for once.
	Repeat bool `json:"repeat" yaml:"repeat"`

	Status    Status     `json:"status" yaml:"status"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	LastRun   *time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	NextRun   time.Time  `json:"next_run" yaml:"next_run"`
	LastError string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	RunCount  int        `json:"run_count" yaml:"run_count"`

	// LastRunDuration is how long the last execution took.
	LastRunDuration time.Duration `json:"last_run_duration,omitempty" yaml:"last_run_duration,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	if t.LastRun != nil {
		lr := *t.LastRun
		c.LastRun = &lr
	}
	return &c
}

func (t *Task) recurring() bool {
	return t.Repeat && t.Type != Once
}

// ToJSON serializes a task for display.
func (t *Task) ToJSON() string {
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}
