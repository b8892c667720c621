package reasoning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

// Session is an independent conversation with its own history. Process
// calls on one session are serialized; sessions run in parallel.
type Session struct {
	id      string
	engine  *Engine
	history *History

	// mu serializes Process for this session.
	mu sync.Mutex

	activeMu     sync.RWMutex
	lastActiveAt time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// History returns a copy of the session's utterance window.
func (s *Session) History() []string { return s.history.Snapshot() }

// LastActiveAt returns the time of the last Process call.
func (s *Session) LastActiveAt() time.Time {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.lastActiveAt
}

// Process routes one utterance and returns the reply. It never returns an
// empty string and never panics.
func (s *Session) Process(ctx context.Context, command string) string {
	return s.Handle(ctx, command).Reply
}

// Handle is Process with the routing outcome attached.
func (s *Session) Handle(ctx context.Context, command string) (res Result) {
	e := s.engine
	logger := e.logger.With("session", s.id)
	safe := command

	defer func() {
		if r := recover(); r != nil {
			logger.Error("processing panicked", "panic", r, "command", safe)
			voice.SpeakBestEffort(ctx, e.speaker, ReplyFatal, logger)
			res = Result{Reply: ReplyFatal, Domain: res.Domain, Outcome: OutcomeFailed}
		}
	}()

	safe = e.redact(command)
	if strings.TrimSpace(command) == "" {
		return Result{Reply: ReplyBlank, Outcome: OutcomeBlank}
	}
	ctx = dispatch.WithSession(ctx, s.id)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeMu.Lock()
	s.lastActiveAt = time.Now()
	s.activeMu.Unlock()

	logger.Info("processing command", "command", safe)

	window := s.history.Add(safe)
	e.persist(ctx, s.id, safe, window)
	e.record(ctx, memory.SpeakerUser, safe)

	domain, via := e.route(command)
	res.Domain = domain
	reply, err := e.dispatcher.Dispatch(ctx, domain, command)
	switch {
	case err == nil:
		logger.Debug("command handled", "domain", domain, "via", via)
		res.Outcome = OutcomeHandled
	case errors.Is(err, dispatch.ErrUseFallback):
		logger.Info("falling back to chat", "domain", domain, "reason", err)
		reply = e.fallback(ctx, safe)
		res.Outcome = OutcomeFallback
		res.Cause = err
	default:
		logger.Error("dispatch failed", "domain", domain, "error", err)
		reply = ReplyFatal
		res.Outcome = OutcomeFailed
		res.Cause = err
	}

	if strings.TrimSpace(reply) == "" {
		reply = ReplyApology
		res.Outcome = OutcomeFailed
	}
	res.Reply = reply

	e.record(ctx, memory.SpeakerJarvis, reply)
	if e.cfg.SpeakReplies {
		voice.SpeakBestEffort(ctx, e.speaker, reply, logger)
	}
	return res
}
