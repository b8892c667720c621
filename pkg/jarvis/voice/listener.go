package voice

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Transcriber yields recognized utterances. Next blocks until an utterance
// is available and returns io.EOF when the source is exhausted.
type Transcriber interface {
	Next(ctx context.Context) (string, error)
}

// LineTranscriber treats each line of a reader as one utterance. Useful for
// piping the output of an external speech recognizer, or for typing.
type LineTranscriber struct {
	lines chan string
	errc  chan error
	once  sync.Once
	r     io.Reader
}

// NewLineTranscriber reads utterances from r.
func NewLineTranscriber(r io.Reader) *LineTranscriber {
	return &LineTranscriber{
		lines: make(chan string),
		errc:  make(chan error, 1),
		r:     r,
	}
}

func (t *LineTranscriber) start() {
	go func() {
		sc := bufio.NewScanner(t.r)
		for sc.Scan() {
			t.lines <- sc.Text()
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		t.errc <- err
		close(t.lines)
	}()
}

// Next implements Transcriber.
func (t *LineTranscriber) Next(ctx context.Context) (string, error) {
	t.once.Do(t.start)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return "", <-t.errc
		}
		return line, nil
	}
}

// ProcessFunc turns an utterance into a reply.
type ProcessFunc func(ctx context.Context, command string) string

// Listener is the wake-word loop: it pulls utterances from a Transcriber,
// reacts to those addressed to the wake word and hands the rest of the
// utterance to the processor.
type Listener struct {
	transcriber Transcriber
	process     ProcessFunc
	speaker     Speaker
	settings    *Settings
	wakeWord    string
	onReply     func(command, reply string)
	logger      *slog.Logger

	stopping atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// WakeWord must appear in an utterance for it to be processed. Empty
	// means every utterance is a command.
	WakeWord string
	// OnReply is called with every processed command and its reply.
	OnReply func(command, reply string)
}

// NewListener creates a wake-word listener.
func NewListener(t Transcriber, process ProcessFunc, speaker Speaker, settings *Settings, cfg ListenerConfig, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = NewSettings(0, 0, "")
	}
	return &Listener{
		transcriber: t,
		process:     process,
		speaker:     speaker,
		settings:    settings,
		wakeWord:    strings.ToLower(strings.TrimSpace(cfg.WakeWord)),
		onReply:     cfg.OnReply,
		logger:      logger.With("component", "listener"),
	}
}

// Run blocks until the transcriber is exhausted, ctx is cancelled or Stop is
// called. It returns nil on a clean end of input or stop.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return errors.New("listener already running")
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()
	defer close(done)

	l.logger.Info("listener started", "wake_word", l.wakeWord)
	for !l.stopping.Load() {
		text, err := l.transcriber.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || l.stopping.Load() {
				l.logger.Info("listener stopped")
				return nil
			}
			return err
		}
		l.handle(ctx, text)
	}
	l.logger.Info("listener stopped")
	return nil
}

// Stop asks the loop to end and waits up to timeout for it to do so.
// Reports whether the loop finished in time.
func (l *Listener) Stop(timeout time.Duration) bool {
	l.stopping.Store(true)
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		l.logger.Warn("listener stop timed out")
		return false
	}
}

func (l *Listener) handle(ctx context.Context, text string) {
	command, addressed := l.extractCommand(text)
	if !addressed {
		return
	}

	lower := strings.ToLower(command)
	if !l.settings.Listening() && !strings.Contains(lower, "start listening") {
		l.logger.Debug("ignoring utterance while not listening")
		return
	}

	if command == "" {
		l.respond(ctx, "", "Yes? How can I help you?")
		return
	}

	reply := l.process(ctx, command)
	l.respond(ctx, command, reply)
}

func (l *Listener) respond(ctx context.Context, command, reply string) {
	if l.onReply != nil {
		l.onReply(command, reply)
	}
	SpeakBestEffort(ctx, l.speaker, reply, l.logger)
}

// extractCommand strips the wake word and reports whether the utterance
// was addressed to the assistant.
func (l *Listener) extractCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if l.wakeWord == "" {
		return text, true
	}
	idx := strings.Index(strings.ToLower(text), l.wakeWord)
	if idx < 0 {
		return "", false
	}
	rest := text[idx+len(l.wakeWord):]
	rest = strings.TrimLeft(rest, " ,.!?:")
	return strings.TrimSpace(rest), true
}
