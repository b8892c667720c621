// Package dispatch routes a classified command to the handler registered for
// its domain. The domain → operation table is plain data, so adding a domain
// never touches the caller's control flow.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
)

// ErrUseFallback signals that the caller should hand the command to the
// fallback (chat) handler. The wrapped cause says why.
var ErrUseFallback = errors.New("use fallback")

// Handler executes a command for one capability domain.
type Handler interface {
	Handle(ctx context.Context, command string) (string, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, command string) (string, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

// Operator is implemented by handlers that declare which named operations
// they support. Handlers that don't implement it are assumed to support the
// operation bound to whatever domain they are registered under.
type Operator interface {
	Operations() []string
}

// Operation names bound to the default domains.
const (
	OpProcessCommand       = "process_command"
	OpGenerateResponse     = "generate_response"
	OpExecuteCommand       = "execute_command"
	OpFetchInformation     = "fetch_information"
	OpHandleAutomation     = "handle_automation"
	OpHandleSecurity       = "handle_security"
	OpProcessUpdateRequest = "process_update_request"
)

// Table maps a domain to the single operation it exposes.
type Table struct {
	mu  sync.RWMutex
	ops map[intent.Domain]string
}

// DefaultTable returns the built-in domain → operation bindings.
func DefaultTable() *Table {
	return NewTable(map[intent.Domain]string{
		intent.Voice:      OpProcessCommand,
		intent.Chat:       OpGenerateResponse,
		intent.System:     OpExecuteCommand,
		intent.Internet:   OpFetchInformation,
		intent.Automation: OpHandleAutomation,
		intent.Security:   OpHandleSecurity,
		intent.Updater:    OpProcessUpdateRequest,
	})
}

// NewTable builds a table from a bindings map (copied).
func NewTable(bindings map[intent.Domain]string) *Table {
	t := &Table{ops: make(map[intent.Domain]string, len(bindings))}
	for d, op := range bindings {
		t.ops[d] = op
	}
	return t
}

// Resolve returns the operation bound to a domain.
func (t *Table) Resolve(domain intent.Domain) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[domain]
	return op, ok && op != ""
}

// Bind adds or replaces a binding.
func (t *Table) Bind(domain intent.Domain, operation string) {
	t.mu.Lock()
	t.ops[domain] = operation
	t.mu.Unlock()
}

// Registry holds the handler registered for each domain. Written at startup,
// read on every dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[intent.Domain]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[intent.Domain]Handler)}
}

// Register binds a handler to a domain, replacing any previous one.
func (r *Registry) Register(domain intent.Domain, h Handler) {
	r.mu.Lock()
	r.handlers[domain] = h
	r.mu.Unlock()
}

// Unregister removes a domain's handler.
func (r *Registry) Unregister(domain intent.Domain) {
	r.mu.Lock()
	delete(r.handlers, domain)
	r.mu.Unlock()
}

// Lookup returns the handler for a domain.
func (r *Registry) Lookup(domain intent.Domain) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[domain]
	return h, ok && h != nil
}

// Domains lists registered domains in name order.
func (r *Registry) Domains() []intent.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]intent.Domain, 0, len(r.handlers))
	for d := range r.handlers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatcher resolves and invokes handlers.
type Dispatcher struct {
	table    *Table
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil table means DefaultTable.
func NewDispatcher(table *Table, registry *Registry, logger *slog.Logger) *Dispatcher {
	if table == nil {
		table = DefaultTable()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		table:    table,
		registry: registry,
		logger:   logger.With("component", "dispatch"),
	}
}

// Table returns the operation table.
func (d *Dispatcher) Table() *Table { return d.table }

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs the command on the domain's handler. Any reason the handler
// can't produce a usable reply (missing handler, unbound or unsupported
// operation, error, empty reply, panic) comes back wrapped in ErrUseFallback.
func (d *Dispatcher) Dispatch(ctx context.Context, domain intent.Domain, command string) (reply string, err error) {
	h, ok := d.registry.Lookup(domain)
	if !ok {
		return "", fmt.Errorf("%w: no handler for domain %q", ErrUseFallback, domain)
	}

	op, ok := d.table.Resolve(domain)
	if !ok {
		return "", fmt.Errorf("%w: no operation bound to domain %q", ErrUseFallback, domain)
	}

	if o, isOperator := h.(Operator); isOperator && !supports(o, op) {
		return "", fmt.Errorf("%w: handler for %q does not implement %s", ErrUseFallback, domain, op)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "domain", domain, "operation", op, "panic", r)
			reply = ""
			err = fmt.Errorf("%w: %s panicked: %v", ErrUseFallback, op, r)
		}
	}()

	reply, err = h.Handle(ctx, command)
	if err != nil {
		d.logger.Warn("handler failed", "domain", domain, "operation", op, "error", err)
		return "", fmt.Errorf("%w: %s: %w", ErrUseFallback, op, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: %s returned an empty reply", ErrUseFallback, op)
	}

	d.logger.Debug("dispatched", "domain", domain, "operation", op)
	return reply, nil
}

func supports(o Operator, op string) bool {
	for _, name := range o.Operations() {
		if name == op {
			return true
		}
	}
	return false
}
