// Package tasks coordinates typed work items that arrive outside the
// conversational path (gateway, websocket, schedules): system commands,
// web requests, delayed fetches and outbound messages. Every execution is
// logged to memory and published on the event bus.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/jarvis/pkg/jarvis/bridge"
	"github.com/jholhewres/jarvis/pkg/jarvis/events"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
	"github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

// Task types.
const (
	TypeSystem        = "system"
	TypeWeb           = "web"
	TypeSchedule      = "schedule"
	TypeCommunication = "communication"
)

// Schedule actions.
const (
	ActionFetchData = "fetch_data"
	ActionCommand   = "command"
)

// DefaultScheduleDelay is used when a schedule task has no delay.
const DefaultScheduleDelay = 60 * time.Second

const (
	replyUnknownType = "Unknown or unsupported task type."
	replyNoTasks     = "No tasks logged yet."
)

// Task is a typed work item.
type Task struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`

	// system
	Command string `json:"command,omitempty"`

	// web, and schedule with fetch_data
	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
	Payload any    `json:"payload,omitempty"`

	// schedule
	Delay  float64 `json:"delay,omitempty"` // seconds
	Action string  `json:"action,omitempty"`

	// communication
	Message string `json:"message,omitempty"`
}

// SystemExecutor runs system commands.
type SystemExecutor interface {
	ExecuteCommand(ctx context.Context, command string) (string, error)
}

// RunFunc routes a command through the assistant. It returns an error when
// no handler completed the command.
type RunFunc func(ctx context.Context, command string) (string, error)

// Coordinator executes typed tasks.
type Coordinator struct {
	system  SystemExecutor
	web     *bridge.Web
	delayer *scheduler.Delayer
	run     RunFunc
	speaker voice.Speaker
	store   memory.Store
	bus     *events.Bus
	logger  *slog.Logger
}

// Deps are the coordinator's collaborators. All are optional.
type Deps struct {
	System  SystemExecutor
	Web     *bridge.Web
	Delayer *scheduler.Delayer
	Run     RunFunc
	Speaker voice.Speaker
	Store   memory.Store
	Bus     *events.Bus
}

// New creates a coordinator.
func New(deps Deps, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		system:  deps.System,
		web:     deps.Web,
		delayer: deps.Delayer,
		run:     deps.Run,
		speaker: deps.Speaker,
		store:   deps.Store,
		bus:     deps.Bus,
		logger:  logger.With("component", "tasks"),
	}
}

// ExecuteTask dispatches t by type and returns a displayable result.
func (c *Coordinator) ExecuteTask(ctx context.Context, t Task) string {
	id := uuid.NewString()
	typ := strings.ToLower(strings.TrimSpace(t.Type))
	c.logger.Info("executing task", "id", id, "type", typ)

	var result string
	switch typ {
	case TypeSystem:
		result = c.ExecuteSystem(ctx, t.Command)
	case TypeWeb:
		method := t.Method
		if method == "" {
			method = http.MethodGet
		}
		result = c.WebAction(ctx, method, t.URL, t.Payload)
	case TypeSchedule:
		result = c.schedule(t)
	case TypeCommunication:
		result = c.Communicate(ctx, t.Message)
	default:
		c.logger.Warn("unknown task type", "type", t.Type)
		result = replyUnknownType
	}

	name := t.Name
	if name == "" {
		name = typ
	}
	c.bus.Publish(events.Event{
		Type:    events.TaskUpdate,
		Source:  "tasks",
		TaskID:  id,
		Name:    name,
		Message: result,
	})
	return result
}

// ExecuteSystem runs command through the system handler.
func (c *Coordinator) ExecuteSystem(ctx context.Context, command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return "No command given."
	}
	if c.system == nil {
		return "System commands are not available."
	}
	out, err := c.system.ExecuteCommand(ctx, command)
	if err != nil {
		c.logger.Warn("system task failed", "command", command, "error", err)
		out = fmt.Sprintf("Error executing %s: %v", command, err)
	}
	c.note(ctx, "Executed system task: "+command)
	return out
}

// Fetch issues a GET through the bridge.
func (c *Coordinator) Fetch(ctx context.Context, rawURL string) string {
	return c.WebAction(ctx, http.MethodGet, rawURL, nil)
}

// WebAction issues a GET or POST through the bridge.
func (c *Coordinator) WebAction(ctx context.Context, method, rawURL string, payload any) string {
	if c.web == nil {
		return "Web access is not available."
	}
	if strings.TrimSpace(rawURL) == "" {
		return "No URL given."
	}
	result := c.web.PerformWebAction(ctx, method, rawURL, payload)
	c.note(ctx, "Fetched data from "+rawURL)
	return result
}

// Communicate speaks message and reports it as delivered.
func (c *Coordinator) Communicate(ctx context.Context, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "No message given."
	}
	voice.SpeakBestEffort(ctx, c.speaker, message, c.logger)
	c.note(ctx, "Sent message: "+message)
	return "Message delivered: " + message
}

// ScheduleAfter runs command through the assistant after delay and returns
// the delayed task id.
func (c *Coordinator) ScheduleAfter(delay time.Duration, name, command string) (string, error) {
	if c.delayer == nil {
		return "", fmt.Errorf("delayed tasks are not available")
	}
	if c.run == nil {
		return "", fmt.Errorf("no command processor configured")
	}
	run := c.run
	return c.delayer.After(delay, name, func(ctx context.Context) (string, error) {
		return run(ctx, command)
	}), nil
}

func (c *Coordinator) schedule(t Task) string {
	if c.delayer == nil {
		return "Delayed tasks are not available."
	}
	delay := DefaultScheduleDelay
	if t.Delay > 0 {
		delay = time.Duration(t.Delay * float64(time.Second))
	}
	name := t.Name
	if name == "" {
		name = "scheduled " + t.Action
	}

	switch t.Action {
	case ActionFetchData, "":
		if t.URL == "" {
			return "No URL given."
		}
		url := t.URL
		c.delayer.After(delay, name, func(ctx context.Context) (string, error) {
			return c.Fetch(ctx, url), nil
		})
		return fmt.Sprintf("Scheduled data fetch from %s in %s.", url, delay)
	case ActionCommand:
		if _, err := c.ScheduleAfter(delay, name, t.Command); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("Scheduled '%s' in %s.", t.Command, delay)
	}
	return fmt.Sprintf("Unknown schedule action: %s", t.Action)
}

// History returns the last n logged interactions, oldest first.
func (c *Coordinator) History(ctx context.Context, n int) ([]memory.Interaction, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.RecentInteractions(ctx, n)
}

// Summarize lists the last n logged interactions in one line.
func (c *Coordinator) Summarize(ctx context.Context, n int) string {
	items, err := c.History(ctx, n)
	if err != nil {
		c.logger.Warn("failed to read interactions", "error", err)
		return replyNoTasks
	}
	if len(items) == 0 {
		return replyNoTasks
	}
	msgs := make([]string, len(items))
	for i, it := range items {
		msgs[i] = it.Message
	}
	return "Recent tasks: " + strings.Join(msgs, ", ")
}

func (c *Coordinator) note(ctx context.Context, msg string) {
	if c.store == nil {
		return
	}
	if err := c.store.AddInteraction(ctx, memory.SpeakerSystem, msg); err != nil {
		c.logger.Warn("failed to record task note", "error", err)
	}
}
