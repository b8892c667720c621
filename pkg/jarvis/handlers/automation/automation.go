// Package automation implements the automation domain: scheduling tasks
// and reminders from natural language, listing and cancelling them,
// running scripts, and executing imperative commands routed here by the
// fast path.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
)

// ReminderPrefix marks task commands whose result is the reminder text
// itself rather than a command to process.
const ReminderPrefix = "Reminder: "

// ErrUnrecognized is returned when a command carries no automation intent.
var ErrUnrecognized = errors.New("unrecognized automation command")

var (
	listRe     = regexp.MustCompile(`(?i)\b(?:list|show|what are)\b.*\b(?:tasks|schedules|reminders|jobs)\b`)
	cancelRe   = regexp.MustCompile(`(?i)^(?:cancel|delete|remove|unschedule)\s+(?:the\s+)?(?:task|schedule|reminder|job)\s+(.+)$`)
	scriptRe   = regexp.MustCompile(`(?i)^(?:run|execute)\s+(?:the\s+)?script\s+(.+)$`)
	reminderRe = regexp.MustCompile(`(?i)^(?:please\s+)?remind\s+me\s+(?:to|about|that)?\s*`)
	verbRe     = regexp.MustCompile(`(?i)^(?:please\s+)?(?:schedule|set\s+up|create\s+a\s+task\s+to|add\s+a\s+task\s+to|automate)\s+`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// RunFunc routes a command through the assistant. It returns an error when
// no handler completed the command, so the task is recorded as failed.
type RunFunc func(ctx context.Context, command string) (string, error)

// SystemExecutor runs system commands and scripts.
type SystemExecutor interface {
	ExecuteCommand(ctx context.Context, command string) (string, error)
	RunScript(ctx context.Context, path string) (string, error)
}

// Handler answers the automation domain.
type Handler struct {
	sched   *scheduler.Scheduler
	delayer *scheduler.Delayer
	system  SystemExecutor
	run     RunFunc
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an automation handler. Any collaborator may be nil; the
// matching commands then reply that the feature is unavailable.
func New(sched *scheduler.Scheduler, delayer *scheduler.Delayer, system SystemExecutor, run RunFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sched:   sched,
		delayer: delayer,
		system:  system,
		run:     run,
		logger:  logger.With("component", "automation"),
		now:     time.Now,
	}
}

// TaskRunner returns the scheduler runner that executes task commands:
// reminders resolve to their text, everything else goes through run.
func TaskRunner(run RunFunc) scheduler.Runner {
	return func(ctx context.Context, t *scheduler.Task) (string, error) {
		if strings.HasPrefix(t.Command, ReminderPrefix) {
			return t.Command, nil
		}
		if run == nil {
			return "", errors.New("no command processor configured")
		}
		return run(ctx, t.Command)
	}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpHandleAutomation}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.HandleAutomation(ctx, command)
}

// HandleAutomation interprets command.
func (h *Handler) HandleAutomation(ctx context.Context, command string) (string, error) {
	text := strings.TrimSpace(command)

	if m := scriptRe.FindStringSubmatch(text); m != nil {
		if h.system == nil {
			return "Running scripts is not available.", nil
		}
		return h.system.RunScript(ctx, strings.TrimSpace(m[1]))
	}
	if m := cancelRe.FindStringSubmatch(text); m != nil {
		return h.cancel(strings.TrimSpace(m[1])), nil
	}
	if listRe.MatchString(text) {
		return h.list(), nil
	}
	if parsed, ok := scheduler.ParseUtterance(text, h.now()); ok {
		return h.schedule(text, parsed)
	}
	if intent.IsImperative(text) && h.system != nil {
		return h.system.ExecuteCommand(ctx, text)
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognized, command)
}

func (h *Handler) schedule(text string, parsed scheduler.ParsedSchedule) (string, error) {
	body, reminder := taskBody(text, parsed.Match)
	if body == "" {
		return "What should I schedule?", nil
	}

	command := body
	name := truncateName(body)
	if reminder {
		command = ReminderPrefix + body
		name = truncateName("reminder to " + body)
	}

	if parsed.Delay > 0 {
		if h.delayer == nil {
			return "Delayed tasks are not available.", nil
		}
		h.delayer.After(parsed.Delay, name, h.delayedAction(command))
		if reminder {
			return fmt.Sprintf("Okay, I'll remind you to %s in %s.", body, humanDuration(parsed.Delay)), nil
		}
		return fmt.Sprintf("Okay, I'll %s in %s.", body, humanDuration(parsed.Delay)), nil
	}

	if h.sched == nil {
		return "Scheduling is not available.", nil
	}
	task, err := h.sched.ScheduleTask(name, command, parsed.Type, parsed.Time, parsed.Type != scheduler.Once)
	if err != nil {
		h.logger.Warn("schedule rejected", "type", parsed.Type, "time", parsed.Time, "error", err)
		return fmt.Sprintf("I couldn't schedule that: %v", err), nil
	}
	return fmt.Sprintf("Scheduled '%s' (%s %s). Next run: %s.",
		task.Name, task.Type, task.Time, task.NextRun.Format("2006-01-02 15:04")), nil
}

func (h *Handler) delayedAction(command string) scheduler.Action {
	run := TaskRunner(h.run)
	return func(ctx context.Context) (string, error) {
		return run(ctx, &scheduler.Task{Command: command})
	}
}

func (h *Handler) list() string {
	var tasks []*scheduler.Task
	if h.sched != nil {
		tasks = h.sched.List()
	}
	pending := 0
	if h.delayer != nil {
		pending = h.delayer.Pending()
	}
	if len(tasks) == 0 && pending == 0 {
		return "You have no scheduled tasks."
	}

	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, fmt.Sprintf("%s [%s] (%s %s, next run %s)",
			t.Name, t.ID, t.Type, t.Time, t.NextRun.Format("2006-01-02 15:04")))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d scheduled task(s)", len(tasks))
	if len(parts) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if pending > 0 {
		fmt.Fprintf(&b, ". Plus %d pending reminder(s)", pending)
	}
	b.WriteString(".")
	return b.String()
}

// cancel removes a task by id or name, falling back to delayed task ids.
func (h *Handler) cancel(ref string) string {
	ref = strings.Trim(ref, `"'.`)
	if h.sched != nil {
		for _, t := range h.sched.List() {
			if t.ID == ref || strings.EqualFold(t.Name, ref) {
				if err := h.sched.Cancel(t.ID); err == nil {
					return fmt.Sprintf("Cancelled task %s.", t.Name)
				}
			}
		}
	}
	if h.delayer != nil && h.delayer.Cancel(ref) {
		return "Cancelled the pending reminder."
	}
	return fmt.Sprintf("I couldn't find a task named %s.", ref)
}

// taskBody removes the schedule phrase and the leading verb from text and
// reports whether it was a reminder.
func taskBody(text, match string) (string, bool) {
	lower := strings.ToLower(text)
	if match != "" && len(lower) == len(text) {
		if i := strings.Index(lower, match); i >= 0 {
			text = text[:i] + " " + text[i+len(match):]
		}
	} else if match != "" {
		text = strings.Replace(lower, match, " ", 1)
	}
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))

	reminder := false
	if loc := reminderRe.FindStringIndex(text); loc != nil {
		reminder = true
		text = text[loc[1]:]
	} else if loc := verbRe.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "to "))
	return strings.TrimRight(text, " .!?"), reminder
}

func truncateName(s string) string {
	const max = 40
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

func humanDuration(d time.Duration) string {
	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return unit(int64(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return unit(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return unit(int64(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return unit(int64(d/time.Second), "second")
	}
	return d.String()
}
