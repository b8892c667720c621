// Package reasoning is the orchestrator of the assistant: it records each
// utterance, picks a capability domain, dispatches to the registered
// handler and guarantees a non-empty reply on every path.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

// Fixed replies.
const (
	ReplyBlank    = "I didn't catch that. Could you please repeat?"
	ReplyApology  = "I'm sorry, I don't understand that command. Can you please try again with different wording?"
	ReplyFatal    = "I encountered an error while processing your request. Please try again."
	ReplyNoTasks  = "No tasks logged yet."
	fallbackAsk   = "I'm not sure how to process '%s'. Can you please rephrase?"
	recentTasksAs = "Recent tasks: "
)

// Context keys written on every Process call.
const (
	KeyCurrentCommand = "current_command"
	KeyCommandHistory = "command_history"
)

// DefaultSessionID names the session used by Engine.Process.
const DefaultSessionID = "default"

// DefaultSessionTTL is the idle time after which Prune drops a session.
const DefaultSessionTTL = 24 * time.Hour

// Responder is implemented by the chat handler. The fallback path prefers
// it over Handle so the rephrase prompt is not re-classified.
type Responder interface {
	GenerateResponse(ctx context.Context, prompt string) (string, error)
}

// PrivacyChecker reports whether conversation logging is suspended.
type PrivacyChecker interface {
	PrivacyMode(ctx context.Context) bool
}

// Config tunes the engine.
type Config struct {
	HistorySize  int
	SpeakReplies bool
}

// Engine routes utterances to handlers.
type Engine struct {
	cfg        Config
	classifier *intent.Classifier
	dispatcher *dispatch.Dispatcher
	store      memory.Store
	speaker    voice.Speaker
	logger     *slog.Logger

	privacy  PrivacyChecker
	redactor Redactor

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an engine. store and speaker may be nil.
func New(cfg Config, classifier *intent.Classifier, dispatcher *dispatch.Dispatcher, store memory.Store, speaker voice.Speaker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		dispatcher: dispatcher,
		store:      store,
		speaker:    speaker,
		logger:     logger.With("component", "reasoning"),
		sessions:   make(map[string]*Session),
	}
}

// SetPrivacy installs the privacy check consulted before each interaction
// is logged. Call before the first Process.
func (e *Engine) SetPrivacy(p PrivacyChecker) { e.privacy = p }

// Classifier returns the classifier, for runtime pattern changes.
func (e *Engine) Classifier() *intent.Classifier { return e.classifier }

// Dispatcher returns the dispatcher, for handler registration.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Process handles command in the default session.
func (e *Engine) Process(ctx context.Context, command string) string {
	return e.Session(DefaultSessionID).Process(ctx, command)
}

// History returns the default session's window.
func (e *Engine) History() []string {
	return e.Session(DefaultSessionID).History()
}

// Session returns the session with id, creating it on first use.
func (e *Engine) Session(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		s = &Session{
			id:           id,
			engine:       e,
			history:      NewHistory(e.cfg.HistorySize),
			lastActiveAt: time.Now(),
		}
		e.sessions[id] = s
		e.logger.Debug("session created", "session", id)
	}
	return s
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Prune removes sessions idle for longer than ttl, except the default one.
func (e *Engine) Prune(ttl time.Duration) int {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cutoff := time.Now().Add(-ttl)

	e.mu.Lock()
	defer e.mu.Unlock()
	pruned := 0
	for id, s := range e.sessions {
		if id == DefaultSessionID {
			continue
		}
		if s.LastActiveAt().Before(cutoff) {
			delete(e.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		e.logger.Info("sessions pruned", "count", pruned)
	}
	return pruned
}

// Capabilities lists the human-readable patterns of every registered domain.
func (e *Engine) Capabilities() map[intent.Domain][]string {
	out := make(map[intent.Domain][]string)
	for _, d := range e.dispatcher.Registry().Domains() {
		out[d] = e.classifier.Capabilities(d)
	}
	return out
}

// SummarizeRecent lists the last n logged interactions.
func (e *Engine) SummarizeRecent(ctx context.Context, n int) string {
	if e.store == nil {
		return ReplyNoTasks
	}
	items, err := e.store.RecentInteractions(ctx, n)
	if err != nil {
		e.logger.Warn("failed to read interactions", "error", err)
		return ReplyNoTasks
	}
	if len(items) == 0 {
		return ReplyNoTasks
	}
	msgs := make([]string, len(items))
	for i, it := range items {
		msgs[i] = it.Message
	}
	return recentTasksAs + strings.Join(msgs, ", ")
}

// route picks the domain for command: the imperative fast path first,
// then the classifier over the registered domains.
func (e *Engine) route(command string) (intent.Domain, string) {
	registry := e.dispatcher.Registry()
	if intent.IsImperative(command) {
		if _, ok := registry.Lookup(intent.Automation); ok {
			return intent.Automation, "imperative"
		}
		return intent.System, "imperative"
	}
	m := e.classifier.Explain(command, registry.Domains())
	return m.Domain, string(m.Kind)
}

// fallback asks chat to rephrase, or returns the fixed apology.
func (e *Engine) fallback(ctx context.Context, command string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fallback panicked", "panic", r)
			reply = ReplyApology
		}
	}()

	h, ok := e.dispatcher.Registry().Lookup(intent.Chat)
	if !ok {
		return ReplyApology
	}
	prompt := fmt.Sprintf(fallbackAsk, command)

	var err error
	if r, ok := h.(Responder); ok {
		reply, err = r.GenerateResponse(ctx, prompt)
	} else {
		reply, err = h.Handle(ctx, prompt)
	}
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			e.logger.Warn("chat fallback failed", "error", err)
		}
		return ReplyApology
	}
	return reply
}

func (e *Engine) persist(ctx context.Context, sessionID, command string, window []string) {
	if e.store == nil {
		return
	}
	data, err := json.Marshal(window)
	if err != nil {
		e.logger.Warn("failed to encode history", "error", err)
		return
	}
	if err := e.store.StoreContext(ctx, contextKey(KeyCurrentCommand, sessionID), command); err != nil {
		e.logger.Warn("failed to store context", "key", KeyCurrentCommand, "error", err)
	}
	if err := e.store.StoreContext(ctx, contextKey(KeyCommandHistory, sessionID), string(data)); err != nil {
		e.logger.Warn("failed to store context", "key", KeyCommandHistory, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, speaker, message string) {
	if e.store == nil {
		return
	}
	if e.privacy != nil && e.privacy.PrivacyMode(ctx) {
		return
	}
	if err := e.store.AddInteraction(ctx, speaker, message); err != nil {
		e.logger.Warn("failed to record interaction", "speaker", speaker, "error", err)
	}
}

// contextKey scopes a key to a session. The default session uses the
// bare key.
func contextKey(key, sessionID string) string {
	if sessionID == DefaultSessionID {
		return key
	}
	return key + ":" + sessionID
}

// ContextKey is the store key holding key for sessionID.
func ContextKey(key, sessionID string) string { return contextKey(key, sessionID) }

// SessionIDs returns live session ids, sorted.
func (e *Engine) SessionIDs() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}
