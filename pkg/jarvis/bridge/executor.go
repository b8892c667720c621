// Package bridge lets synchronous callers run asynchronous work on one
// long-lived background worker and block until the result is ready.
//
// The Executor owns a bounded queue drained by a single worker goroutine.
// The worker launches each operation on its own goroutine (bounded by a
// weighted semaphore), so operations interleave and complete in any order.
// Failures inside an operation, panics included, are delivered to the
// caller through its Pending handle and never stop the worker.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrUnavailable is returned when the executor is not running or its
	// worker died.
	ErrUnavailable = errors.New("bridge unavailable")

	// ErrTimeout is returned by Await when the deadline elapses first.
	ErrTimeout = errors.New("bridge: timed out waiting for result")

	// ErrQueueFull is returned when the queue stays full past SubmitWait.
	ErrQueueFull = errors.New("bridge: queue full")
)

// Operation is a unit of asynchronous work. It must honour ctx.
type Operation func(ctx context.Context) (string, error)

// OperationError carries the failure of a submitted operation.
type OperationError struct {
	ID    uint64
	Cause error
	Panic any
}

func (e *OperationError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("operation %d panicked: %v", e.ID, e.Panic)
	}
	return fmt.Sprintf("operation %d failed: %v", e.ID, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// Pending is the handle for a submitted operation. It resolves exactly once.
type Pending struct {
	id     uint64
	op     Operation
	done   chan struct{}
	once   sync.Once
	result string
	err    error
}

// ID returns the operation id.
func (p *Pending) ID() uint64 { return p.id }

// Done is closed once the operation resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

func (p *Pending) resolve(result string, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)
	})
}

// Config sizes the executor.
type Config struct {
	// QueueSize bounds the number of operations waiting for the worker.
	QueueSize int `yaml:"queue_size"`
	// MaxConcurrent bounds operations running at once.
	MaxConcurrent int `yaml:"max_concurrent"`
	// SubmitWait is how long Submit waits for queue space.
	SubmitWait time.Duration `yaml:"submit_wait"`
}

// DefaultConfig returns sensible sizes.
func DefaultConfig() Config {
	return Config{QueueSize: 64, MaxConcurrent: 16, SubmitWait: time.Second}
}

// Executor is the async executor. The zero value is not usable; use New.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	running    bool
	queue      chan *Pending
	cancel     context.CancelFunc
	workerDone chan struct{}

	dead   atomic.Bool
	nextID atomic.Uint64
	sem    *semaphore.Weighted
	ops    sync.WaitGroup

	// beforeLaunch runs in the worker before each operation launches.
	beforeLaunch func(*Pending)
	// beforeEnqueue runs in Submit between the liveness check and the send.
	beforeEnqueue func()
}

// New creates a stopped executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.SubmitWait <= 0 {
		cfg.SubmitWait = def.SubmitWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
	}
}

// Start spawns the worker. Calling it while the worker is alive is a
// no-op; after a worker death it starts a fresh one.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running && !e.dead.Load() {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.queue = make(chan *Pending, e.cfg.QueueSize)
	e.cancel = cancel
	e.workerDone = make(chan struct{})
	e.sem = semaphore.NewWeighted(int64(e.cfg.MaxConcurrent))
	e.dead.Store(false)
	e.running = true

	go e.loop(loopCtx, e.queue, e.sem, e.workerDone)

	e.logger.Info("bridge started",
		"queue_size", e.cfg.QueueSize,
		"max_concurrent", e.cfg.MaxConcurrent,
	)
}

// Alive reports whether Submit would currently accept work.
func (e *Executor) Alive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running && !e.dead.Load()
}

// Submit schedules op on the worker and returns its handle.
func (e *Executor) Submit(op Operation) (*Pending, error) {
	if op == nil {
		return nil, errors.New("bridge: nil operation")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running || e.dead.Load() {
		return nil, ErrUnavailable
	}

	p := &Pending{
		id:   e.nextID.Add(1),
		op:   op,
		done: make(chan struct{}),
	}
	if e.beforeEnqueue != nil {
		e.beforeEnqueue()
	}

	select {
	case e.queue <- p:
		return e.enqueued(p), nil
	default:
	}

	timer := time.NewTimer(e.cfg.SubmitWait)
	defer timer.Stop()
	select {
	case e.queue <- p:
		return e.enqueued(p), nil
	case <-e.workerDone:
		return nil, ErrUnavailable
	case <-timer.C:
		return nil, ErrQueueFull
	}
}

// enqueued settles p when the worker exited after the liveness check. The
// worker marks itself dead before its final drain, so either that drain or
// this one resolves p.
func (e *Executor) enqueued(p *Pending) *Pending {
	if e.dead.Load() {
		drain(e.queue, ErrUnavailable)
	}
	return p
}

// Await blocks until p resolves or timeout elapses. A zero timeout waits
// indefinitely.
func (e *Executor) Await(p *Pending, timeout time.Duration) (string, error) {
	if p == nil {
		return "", ErrUnavailable
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-p.done:
		return p.result, p.err
	case <-expired:
		return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

// AwaitContext blocks until p resolves or ctx ends. A context deadline is
// reported as ErrTimeout.
func (e *Executor) AwaitContext(ctx context.Context, p *Pending) (string, error) {
	if p == nil {
		return "", ErrUnavailable
	}
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return "", ctx.Err()
	}
}

// Run submits op and waits for it with the given timeout.
func (e *Executor) Run(op Operation, timeout time.Duration) (string, error) {
	p, err := e.Submit(op)
	if err != nil {
		return "", err
	}
	return e.Await(p, timeout)
}

// Stop cancels the worker and in-flight operations and waits up to timeout
// for them to return. Reports whether everything finished in time.
func (e *Executor) Stop(timeout time.Duration) bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return true
	}
	e.running = false
	cancel, workerDone := e.cancel, e.workerDone
	e.mu.Unlock()

	cancel()

	finished := make(chan struct{})
	go func() {
		<-workerDone
		e.ops.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		e.logger.Info("bridge stopped")
		return true
	case <-time.After(timeout):
		e.logger.Warn("bridge stop timed out", "timeout", timeout)
		return false
	}
}

func (e *Executor) loop(ctx context.Context, queue chan *Pending, sem *semaphore.Weighted, done chan struct{}) {
	var current *Pending

	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.dead.Store(true)
			e.logger.Error("bridge worker died", "panic", r)
			if current != nil {
				current.resolve("", ErrUnavailable)
			}
			drain(queue, ErrUnavailable)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.dead.Store(true)
			drain(queue, ErrUnavailable)
			return
		case p := <-queue:
			current = p
			if e.beforeLaunch != nil {
				e.beforeLaunch(p)
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				p.resolve("", ErrUnavailable)
				continue
			}
			e.ops.Add(1)
			go e.run(ctx, sem, p)
			current = nil
		}
	}
}

func (e *Executor) run(ctx context.Context, sem *semaphore.Weighted, p *Pending) {
	defer e.ops.Done()
	defer sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("bridge operation panicked", "id", p.id, "panic", r)
			p.resolve("", &OperationError{ID: p.id, Panic: r})
		}
	}()

	result, err := p.op(ctx)
	if err != nil {
		p.resolve("", &OperationError{ID: p.id, Cause: err})
		return
	}
	p.resolve(result, nil)
}

func drain(queue chan *Pending, err error) {
	for {
		select {
		case p := <-queue:
			p.resolve("", err)
		default:
			return
		}
	}
}
