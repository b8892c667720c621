// Package chat implements the conversational domain: canned small talk,
// reminders and notes kept in memory context, and an optional LLM backend
// for everything else.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
)

// Context keys holding saved items as JSON string lists.
const (
	KeyReminders = "reminders"
	KeyAlarms    = "alarms"
	KeyNotes     = "notes"
)

// Fixed replies.
const (
	replyReminder    = "I've set a reminder for you. I'll remind you about that."
	replyAlarm       = "I've set an alarm for you."
	replyNote        = "I've saved your note: '%s'"
	replyWhoAmI      = "I'm Jarvis, your personal AI assistant. I'm here to help you with various tasks."
	replyWhatCanIDo  = "I can help you with various tasks including answering questions, setting reminders and alarms, taking notes, controlling your system, searching the web, and more."
	replyNoAnswer    = "I don't have a specific answer for that question yet. Would you like me to search the web for you?"
	replyFollowUp    = "I understand you're asking about that. How can I help you further?"
	clockLayout      = "It's 03:04 PM on Monday, January 02, 2006"
	emptyNoteContent = "Empty note"
)

var (
	greetingRe = regexp.MustCompile(`(?i)\b(hello|hi|hey|greetings|good (morning|afternoon|evening))\b`)
	farewellRe = regexp.MustCompile(`(?i)\b(goodbye|bye|see you|farewell|good night|later)\b`)
	thanksRe   = regexp.MustCompile(`(?i)\b(thank you|thanks|appreciate it|grateful)\b`)

	reminderRe = regexp.MustCompile(`(?i)(remind me (to|about)|set a reminder|don't let me forget)`)
	alarmRe    = regexp.MustCompile(`(?i)(set (an|a) alarm|wake me up at|alarm for)`)
	noteRe     = regexp.MustCompile(`(?i)(take a note|write (this|that) down|make a note|save this)[:,]?`)

	timeRe     = regexp.MustCompile(`(?i)what (time|day|date) is it`)
	whoRe      = regexp.MustCompile(`(?i)who are you`)
	abilityRe  = regexp.MustCompile(`(?i)what can you do|\bhelp\b`)
	questionRe = regexp.MustCompile(`(?i)^(what|who|where|when|why|how|is|are|can|could|would|will|do|does|did)\b|\?\s*$`)
)

// Completer generates free-form replies, typically backed by an LLM.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []memory.Interaction) (string, error)
}

// Config tunes the chat handler.
type Config struct {
	// DedupeWindow is how many recent canned picks are avoided per user.
	DedupeWindow int
	// HistoryTurns is how many logged interactions are passed to the
	// completer as conversation history.
	HistoryTurns int
	Responses    map[string][]string
}

// Handler answers the chat domain.
type Handler struct {
	store     memory.Store
	completer Completer
	recent    *RecentResponses
	responses map[string][]string
	turns     int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a chat handler. store and completer may be nil.
func New(cfg Config, store memory.Store, completer Completer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	responses := cfg.Responses
	if len(responses) == 0 {
		responses = DefaultResponses()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	return &Handler{
		store:     store,
		completer: completer,
		recent:    NewRecentResponses(cfg.DedupeWindow),
		responses: responses,
		turns:     cfg.HistoryTurns,
		logger:    logger.With("component", "chat"),
		now:       time.Now,
	}
}

// Operations implements dispatch.Operator.
func (h *Handler) Operations() []string {
	return []string{dispatch.OpGenerateResponse}
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, command string) (string, error) {
	return h.GenerateResponse(ctx, command)
}

// GenerateResponse produces a reply for prompt. Small talk and the
// reminder/alarm/note intents are answered locally. Other prompts go to the
// completer when one is configured, with canned replies as the degradation
// path.
func (h *Handler) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	text := strings.TrimSpace(prompt)
	user := dispatch.SessionFrom(ctx)

	switch {
	case text == "":
		return h.pick(CategoryUnknown, user), nil
	case reminderRe.MatchString(text):
		h.save(ctx, KeyReminders, text)
		return replyReminder, nil
	case alarmRe.MatchString(text):
		h.save(ctx, KeyAlarms, text)
		return replyAlarm, nil
	case noteRe.MatchString(text):
		note := strings.TrimSpace(noteRe.ReplaceAllString(text, ""))
		if note == "" {
			note = emptyNoteContent
		}
		h.save(ctx, KeyNotes, note)
		return fmt.Sprintf(replyNote, note), nil
	case timeRe.MatchString(text):
		return h.now().Format(clockLayout), nil
	case whoRe.MatchString(text):
		return replyWhoAmI, nil
	case thanksRe.MatchString(text):
		return h.pick(CategoryThanks, user), nil
	case farewellRe.MatchString(text):
		return h.pick(CategoryFarewell, user), nil
	case greetingRe.MatchString(text) && len(strings.Fields(text)) <= 4:
		return h.pick(CategoryGreeting, user), nil
	case abilityRe.MatchString(text) && h.completer == nil:
		return replyWhatCanIDo, nil
	}

	if h.completer != nil {
		reply, err := h.complete(ctx, text)
		if err == nil {
			return reply, nil
		}
		h.logger.Warn("completion failed, using canned reply", "error", err)
	}
	return h.canned(ctx, text, user), nil
}

// Saved returns the items stored under key (one of the Key constants).
func (h *Handler) Saved(ctx context.Context, key string) ([]string, error) {
	if h.store == nil {
		return nil, nil
	}
	v, err := h.store.GetContext(ctx, key)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []string
	if err := json.Unmarshal([]byte(v.Value), &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

func (h *Handler) complete(ctx context.Context, text string) (string, error) {
	var history []memory.Interaction
	if h.store != nil {
		items, err := h.store.RecentInteractions(ctx, h.turns)
		if err != nil {
			h.logger.Debug("history unavailable", "error", err)
		} else {
			history = items
		}
	}
	reply, err := h.completer.Complete(ctx, text, history)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("empty completion")
	}
	return reply, nil
}

func (h *Handler) canned(ctx context.Context, text, user string) string {
	if abilityRe.MatchString(text) {
		return replyWhatCanIDo
	}
	if questionRe.MatchString(text) {
		return replyNoAnswer
	}
	if h.store != nil {
		items, err := h.store.RecentInteractions(ctx, 2)
		if err == nil && len(items) > 1 {
			return replyFollowUp
		}
	}
	return h.pick(CategoryUnknown, user)
}

func (h *Handler) pick(category, user string) string {
	candidates := h.responses[category]
	if len(candidates) == 0 {
		candidates = h.responses[CategoryFallback]
	}
	if len(candidates) == 0 {
		return DefaultResponses()[CategoryFallback][0]
	}
	return h.recent.Pick(category, user, candidates)
}

// save appends item to the JSON list under key. Failures are logged only;
// the reply is still given.
func (h *Handler) save(ctx context.Context, key, item string) {
	if h.store == nil {
		return
	}
	items, err := h.Saved(ctx, key)
	if err != nil {
		h.logger.Warn("discarding unreadable saved items", "key", key, "error", err)
		items = nil
	}
	items = append(items, item)
	data, err := json.Marshal(items)
	if err != nil {
		h.logger.Warn("failed to encode saved items", "key", key, "error", err)
		return
	}
	if err := h.store.StoreContext(ctx, key, string(data)); err != nil {
		h.logger.Warn("failed to save item", "key", key, "error", err)
	}
}
