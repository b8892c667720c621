package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
)

// Outcome reports how a reply was produced.
type Outcome string

const (
	OutcomeHandled  Outcome = "handled"
	OutcomeFallback Outcome = "fallback"
	OutcomeBlank    Outcome = "blank"
	OutcomeFailed   Outcome = "failed"
)

// ErrNotHandled is wrapped by Result.Err when no handler completed the
// command.
var ErrNotHandled = errors.New("command not handled")

// Result is a reply plus the route that produced it. Cause is the
// dispatch error behind a fallback or failure, if any.
type Result struct {
	Reply   string
	Domain  intent.Domain
	Outcome Outcome
	Cause   error
}

// Err returns nil when a handler completed the command. Fallback, blank
// and failed outcomes carry the reply as the error text so callers that
// track task status can record it.
func (r Result) Err() error {
	if r.Outcome == OutcomeHandled {
		return nil
	}
	if r.Cause != nil {
		return fmt.Errorf("%w (%s): %s: %v", ErrNotHandled, r.Outcome, r.Reply, r.Cause)
	}
	return fmt.Errorf("%w (%s): %s", ErrNotHandled, r.Outcome, r.Reply)
}

// Redactor masks secrets in an utterance before it is logged, kept in
// history or persisted. Handlers still receive the raw command.
type Redactor interface {
	Redact(command string) string
}

// SetRedactor installs r. Call before the first Process.
func (e *Engine) SetRedactor(r Redactor) { e.redactor = r }

func (e *Engine) redact(command string) string {
	if e.redactor == nil {
		return command
	}
	return e.redactor.Redact(command)
}

// Handle processes command in the default session and reports the route.
func (e *Engine) Handle(ctx context.Context, command string) Result {
	return e.Session(DefaultSessionID).Handle(ctx, command)
}

// Run processes command in the default session and returns an error when
// no handler completed it. Scheduled and delayed tasks run through here.
func (e *Engine) Run(ctx context.Context, command string) (string, error) {
	res := e.Handle(ctx, command)
	return res.Reply, res.Err()
}
