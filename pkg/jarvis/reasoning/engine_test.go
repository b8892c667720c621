package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
)

type chatStub struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (c *chatStub) Handle(ctx context.Context, command string) (string, error) {
	return c.GenerateResponse(ctx, command)
}

func (c *chatStub) GenerateResponse(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	return "chat: " + prompt, nil
}

func (c *chatStub) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

func echo(domain string) dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, cmd string) (string, error) {
		return domain + ": " + cmd, nil
	})
}

type speakerStub struct {
	mu   sync.Mutex
	said []string
}

func (s *speakerStub) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return nil
}

func newEngine(t *testing.T, cfg Config, store memory.Store, handlers map[intent.Domain]dispatch.Handler) *Engine {
	t.Helper()
	registry := dispatch.NewRegistry()
	for d, h := range handlers {
		registry.Register(d, h)
	}
	d := dispatch.NewDispatcher(dispatch.DefaultTable(), registry, nil)
	return New(cfg, intent.MustDefault(nil), d, store, nil, nil)
}

func TestProcessBlankInput(t *testing.T) {
	store := memory.NewMemStore(0)
	e := newEngine(t, Config{}, store, map[intent.Domain]dispatch.Handler{intent.Chat: &chatStub{}})

	for _, in := range []string{"", "   ", "\t\n"} {
		assert.Equal(t, ReplyBlank, e.Process(context.Background(), in))
	}
	assert.Empty(t, e.History())

	items, err := store.RecentInteractions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = store.GetContext(context.Background(), KeyCurrentCommand)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestProcessRouting(t *testing.T) {
	all := map[intent.Domain]dispatch.Handler{
		intent.Voice:      echo("voice"),
		intent.Chat:       &chatStub{},
		intent.System:     echo("system"),
		intent.Internet:   echo("internet"),
		intent.Automation: echo("automation"),
		intent.Security:   echo("security"),
		intent.Updater:    echo("updater"),
	}

	tests := []struct {
		command string
		want    string
	}{
		{"search for cats", "internet: search for cats"},
		{"speak louder please", "voice: speak louder please"},
		{"open calculator", "automation: open calculator"},
		{"Shutdown the computer now", "automation: Shutdown the computer now"},
		{"enable privacy mode", "security: enable privacy mode"},
		{"upgrade yourself", "updater: upgrade yourself"},
		{"what is the capital of France", "chat: what is the capital of France"},
		{"banana", "chat: banana"},
	}

	e := newEngine(t, Config{}, nil, all)
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Process(context.Background(), tt.command))
		})
	}
}

func TestImperativeFallsBackToSystemWithoutAutomation(t *testing.T) {
	e := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{
		intent.Chat:   &chatStub{},
		intent.System: echo("system"),
	})
	assert.Equal(t, "system: open calculator", e.Process(context.Background(), "open calculator"))
}

func TestMissingHandlerFallsBackToChat(t *testing.T) {
	chat := &chatStub{}
	e := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{intent.Chat: chat})

	got := e.Process(context.Background(), "search for cats")
	// internet is not registered, so the classifier only sees chat.
	assert.Equal(t, "chat: search for cats", got)

	chat2 := &chatStub{}
	e2 := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{intent.Chat: chat2})
	got = e2.Process(context.Background(), "open calculator")
	want := "I'm not sure how to process 'open calculator'. Can you please rephrase?"
	assert.Equal(t, want, chat2.last())
	assert.Equal(t, "chat: "+want, got)
}

func TestHandlerFailureFallsBack(t *testing.T) {
	failing := dispatch.HandlerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("device busy")
	})
	panicking := dispatch.HandlerFunc(func(context.Context, string) (string, error) {
		panic("driver crashed")
	})
	empty := dispatch.HandlerFunc(func(context.Context, string) (string, error) { return "  ", nil })

	for name, h := range map[string]dispatch.Handler{"error": failing, "panic": panicking, "empty": empty} {
		t.Run(name, func(t *testing.T) {
			chat := &chatStub{}
			e := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{
				intent.Chat:     chat,
				intent.Internet: h,
			})
			got := e.Process(context.Background(), "search for cats")
			assert.Equal(t, "chat: I'm not sure how to process 'search for cats'. Can you please rephrase?", got)
		})
	}
}

func TestApologyWhenChatUnavailable(t *testing.T) {
	e := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{})
	assert.Equal(t, ReplyApology, e.Process(context.Background(), "hello there"))

	broken := &chatStub{err: errors.New("model offline")}
	e = newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{intent.Chat: broken})
	assert.Equal(t, ReplyApology, e.Process(context.Background(), "hello there"))
}

type panickingStore struct{ memory.Store }

func (panickingStore) StoreContext(context.Context, string, string) error { return nil }

func (panickingStore) AddInteraction(context.Context, string, string) error {
	panic("store corrupted")
}

func TestFatalErrorBecomesGenericReply(t *testing.T) {
	registry := dispatch.NewRegistry()
	registry.Register(intent.Chat, &chatStub{})
	speaker := &speakerStub{}
	e := New(Config{}, intent.MustDefault(nil), dispatch.NewDispatcher(dispatch.DefaultTable(), registry, nil),
		panickingStore{}, speaker, nil)

	assert.Equal(t, ReplyFatal, e.Process(context.Background(), "hello"))
	assert.Equal(t, []string{ReplyFatal}, speaker.said)

	// The session lock was released by the recover.
	assert.Equal(t, ReplyFatal, e.Process(context.Background(), "hello again"))
}

func TestHistoryIsCappedAndPersisted(t *testing.T) {
	store := memory.NewMemStore(0)
	e := newEngine(t, Config{HistorySize: 3}, store, map[intent.Domain]dispatch.Handler{intent.Chat: &chatStub{}})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e.Process(ctx, fmt.Sprintf("note %d", i))
		assert.LessOrEqual(t, len(e.History()), 3)
	}
	assert.Equal(t, []string{"note 3", "note 4", "note 5"}, e.History())

	cur, err := store.GetContext(ctx, KeyCurrentCommand)
	require.NoError(t, err)
	assert.Equal(t, "note 5", cur.Value)

	raw, err := store.GetContext(ctx, KeyCommandHistory)
	require.NoError(t, err)
	var window []string
	require.NoError(t, json.Unmarshal([]byte(raw.Value), &window))
	assert.Equal(t, []string{"note 3", "note 4", "note 5"}, window)

	items, err := store.RecentInteractions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, memory.SpeakerUser, items[0].Speaker)
	assert.Equal(t, "note 5", items[0].Message)
	assert.Equal(t, memory.SpeakerJarvis, items[1].Speaker)
}

func TestSessionsAreIndependent(t *testing.T) {
	store := memory.NewMemStore(0)
	e := newEngine(t, Config{}, store, map[intent.Domain]dispatch.Handler{intent.Chat: &chatStub{}})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := e.Session(fmt.Sprintf("s%d", i))
			for j := 0; j < 10; j++ {
				reply := s.Process(ctx, fmt.Sprintf("hello %d-%d", i, j))
				assert.NotEmpty(t, reply)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		h := e.Session(fmt.Sprintf("s%d", i)).History()
		require.Len(t, h, 10)
		assert.Equal(t, fmt.Sprintf("hello %d-0", i), h[0])
	}
	assert.Empty(t, e.History())

	cur, err := store.GetContext(ctx, ContextKey(KeyCurrentCommand, "s3"))
	require.NoError(t, err)
	assert.Equal(t, "hello 3-9", cur.Value)
	assert.Equal(t, 9, e.SessionCount())
}

func TestPruneKeepsDefaultSession(t *testing.T) {
	e := newEngine(t, Config{}, nil, nil)
	e.Session("")
	e.Session("idle")

	assert.Zero(t, e.Prune(DefaultSessionTTL))
	assert.Equal(t, 1, e.Prune(time.Nanosecond))
	assert.Equal(t, []string{DefaultSessionID}, e.SessionIDs())
}

func TestSpeakReplies(t *testing.T) {
	registry := dispatch.NewRegistry()
	registry.Register(intent.Chat, &chatStub{})
	speaker := &speakerStub{}
	e := New(Config{SpeakReplies: true}, intent.MustDefault(nil),
		dispatch.NewDispatcher(dispatch.DefaultTable(), registry, nil), nil, speaker, nil)

	reply := e.Process(context.Background(), "tell me a joke")
	assert.Equal(t, []string{reply}, speaker.said)
}

func TestSummarizeRecent(t *testing.T) {
	store := memory.NewMemStore(0)
	e := newEngine(t, Config{}, store, nil)
	ctx := context.Background()

	assert.Equal(t, ReplyNoTasks, e.SummarizeRecent(ctx, 5))

	require.NoError(t, store.AddInteraction(ctx, memory.SpeakerSystem, "Completed scheduled task: backup"))
	require.NoError(t, store.AddInteraction(ctx, memory.SpeakerJarvis, "Fetched data from example.com"))
	assert.Equal(t, "Recent tasks: Completed scheduled task: backup, Fetched data from example.com", e.SummarizeRecent(ctx, 5))
}

func TestCapabilitiesOnlyRegistered(t *testing.T) {
	e := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{
		intent.Voice: echo("voice"),
		intent.Chat:  &chatStub{},
	})
	caps := e.Capabilities()
	assert.Len(t, caps, 2)
	assert.Contains(t, caps[intent.Voice], "speak louder/softer/faster/slower")
	assert.NotContains(t, caps, intent.System)
}

type privacyOn struct{}

func (privacyOn) PrivacyMode(context.Context) bool { return true }

func TestPrivacyModeSkipsInteractionLog(t *testing.T) {
	store := memory.NewMemStore(0)
	e := newEngine(t, Config{}, store, map[intent.Domain]dispatch.Handler{intent.Chat: &chatStub{}})
	e.SetPrivacy(privacyOn{})

	assert.Equal(t, "chat: hello", e.Process(context.Background(), "hello"))
	items, err := store.RecentInteractions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

type panickingSpeaker struct{}

func (panickingSpeaker) Speak(context.Context, string) error { panic("audio driver crashed") }

func TestPanickingSpeakerDoesNotEscapeProcess(t *testing.T) {
	registry := dispatch.NewRegistry()
	registry.Register(intent.Chat, &chatStub{})
	d := dispatch.NewDispatcher(dispatch.DefaultTable(), registry, nil)

	e := New(Config{SpeakReplies: true}, intent.MustDefault(nil), d, nil, panickingSpeaker{}, nil)
	var reply string
	require.NotPanics(t, func() { reply = e.Process(context.Background(), "hello there") })
	assert.Equal(t, "chat: hello there", reply)

	// A fatal path speaks from inside the recover.
	e = New(Config{SpeakReplies: true}, intent.MustDefault(nil), d, panickingStore{}, panickingSpeaker{}, nil)
	require.NotPanics(t, func() { reply = e.Process(context.Background(), "hello there") })
	assert.Equal(t, ReplyFatal, reply)
}

type digitMask struct{}

func (digitMask) Redact(command string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '*'
		}
		return r
	}, command)
}

func TestRedactorMasksStoredCommands(t *testing.T) {
	store := memory.NewMemStore(0)
	var seen string
	e := newEngine(t, Config{}, store, map[intent.Domain]dispatch.Handler{
		intent.Chat: dispatch.HandlerFunc(func(_ context.Context, cmd string) (string, error) {
			seen = cmd
			return "ok", nil
		}),
	})
	e.SetRedactor(digitMask{})
	ctx := context.Background()

	assert.Equal(t, "ok", e.Process(ctx, "my code is 918273"))
	assert.Equal(t, "my code is 918273", seen, "handlers get the raw command")

	assert.Equal(t, []string{"my code is ******"}, e.History())
	cur, err := store.GetContext(ctx, KeyCurrentCommand)
	require.NoError(t, err)
	assert.Equal(t, "my code is ******", cur.Value)
	raw, err := store.GetContext(ctx, KeyCommandHistory)
	require.NoError(t, err)
	assert.NotContains(t, raw.Value, "918273")

	items, err := store.RecentInteractions(ctx, 0)
	require.NoError(t, err)
	for _, it := range items {
		assert.NotContains(t, it.Message, "918273")
	}
}

func TestHandleReportsOutcome(t *testing.T) {
	failing := dispatch.HandlerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("device busy")
	})
	e := newEngine(t, Config{}, nil, map[intent.Domain]dispatch.Handler{
		intent.Chat:     &chatStub{},
		intent.Internet: failing,
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		outcome Outcome
		domain  intent.Domain
		wantErr bool
	}{
		{"handled", "tell me a joke", OutcomeHandled, intent.Chat, false},
		{"fallback", "search for cats", OutcomeFallback, intent.Internet, true},
		{"blank", "   ", OutcomeBlank, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Handle(ctx, tt.command)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.domain, res.Domain)
			assert.NotEmpty(t, res.Reply)
			if tt.wantErr {
				assert.ErrorIs(t, res.Err(), ErrNotHandled)
			} else {
				assert.NoError(t, res.Err())
			}
		})
	}

	reply, err := e.Run(ctx, "search for cats")
	assert.ErrorIs(t, err, ErrNotHandled)
	assert.Contains(t, err.Error(), "device busy")
	assert.NotEmpty(t, reply)
}
