package assistant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/chat"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/reasoning"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
	"github.com/jholhewres/jarvis/pkg/jarvis/tasks"
)

type nopRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *nopRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return "", nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Memory.Driver = "memory"
	cfg.Scheduler.Storage = "none"
	cfg.Scheduler.PollInterval = 20 * time.Millisecond
	cfg.Reasoning.SessionTTL = 0
	return cfg
}

func newAssistant(t *testing.T, cfg *config.Config) *Assistant {
	t.Helper()
	a, err := New(cfg, Options{
		Version: "1.2.3",
		Secrets: secrets.NewPrefStore(memory.NewMemStore(0)),
		Runner:  &nopRunner{},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, a.Stop(2*time.Second)) })
	return a
}

func TestProcessRoutesAcrossDomains(t *testing.T) {
	a := newAssistant(t, testConfig())
	ctx := context.Background()

	assert.Contains(t, chat.DefaultResponses()[chat.CategoryGreeting], a.Process(ctx, "", "hello"))
	assert.True(t,
		strings.HasPrefix(a.Process(ctx, "", "open calculator"), "Command execution is disabled. I would have run: "))
	assert.Equal(t, "Speech rate set to 200 words per minute.", a.Process(ctx, "", "speak faster"))
	assert.Equal(t, "I'm running version 1.2.3.", a.Process(ctx, "", "update: what version are you running"))
}

func TestSessionsAreIsolated(t *testing.T) {
	a := newAssistant(t, testConfig())
	ctx := context.Background()

	a.Process(ctx, "alice", "hello")
	a.Process(ctx, "bob", "speak louder")
	a.Process(ctx, "bob", "speak softer")

	assert.Equal(t, []string{"hello"}, a.Engine().Session("alice").History())
	assert.Equal(t, []string{"speak louder", "speak softer"}, a.Engine().Session("bob").History())
}

func TestPrivacyModeSuspendsLogging(t *testing.T) {
	a := newAssistant(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, "Privacy mode enabled. I won't keep a log of our conversation.",
		a.Process(ctx, "", "enable privacy mode"))
	assert.True(t, a.Security().PrivacyMode(ctx))

	before, err := a.Store().RecentInteractions(ctx, 100)
	require.NoError(t, err)
	a.Process(ctx, "", "hello")
	after, err := a.Store().RecentInteractions(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestScheduledTaskRunsThroughEngine(t *testing.T) {
	a := newAssistant(t, testConfig())

	got := a.Tasks().ExecuteTask(context.Background(), tasks.Task{Type: tasks.TypeCommunication, Message: "lunch"})
	assert.Equal(t, "Message delivered: lunch", got)

	task, err := a.Scheduler().ScheduleTask("greet", "hello", "once", time.Now().Add(-time.Minute).Format("2006-01-02 15:04"), false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := a.Scheduler().Get(task.ID)
		return err != nil
	}, 3*time.Second, 20*time.Millisecond, "once task should be removed after running")
}

func TestFailedScheduledCommandIsMarkedFailed(t *testing.T) {
	a := newAssistant(t, testConfig())

	// "file" routes to the system handler, which has no action for it.
	task, err := a.Scheduler().ScheduleTask("taxes", "file my taxes", "once", time.Now().Add(-time.Minute).Format("2006-01-02 15:04"), false)
	require.NoError(t, err)

	var got *scheduler.Task
	require.Eventually(t, func() bool {
		got, err = a.Scheduler().Get(task.ID)
		return err == nil && got.Status == scheduler.StatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	assert.Contains(t, got.LastError, reasoning.ErrNotHandled.Error())
	assert.Equal(t, 1, got.RunCount)
}

func TestSecurityCommandsEndToEnd(t *testing.T) {
	a := newAssistant(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, "Your PIN has been set.", a.Process(ctx, "", "set my pin to 4821"))
	assert.Equal(t, "PIN verified.", a.Process(ctx, "", "verify my pin 4821"))
	assert.Equal(t, "Incorrect PIN.", a.Process(ctx, "", "verify my pin 1111"))

	for _, command := range []string{
		"unlock with pin 4821",
		"unlock the computer with 4821",
		"unlock pc 4821",
	} {
		t.Run(command, func(t *testing.T) {
			_, err := a.Security().HandleSecurity(ctx, "lock the system")
			require.NoError(t, err)
			require.True(t, a.Security().Locked())

			assert.Equal(t, "System unlocked.", a.Process(ctx, "", command))
			assert.False(t, a.Security().Locked())
		})
	}
}

func TestPINsAreNeverStored(t *testing.T) {
	a := newAssistant(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, "Your PIN has been set.", a.Process(ctx, "", "set my password to 918273"))
	assert.Equal(t, "PIN verified.", a.Process(ctx, "", "verify my pin 918273"))
	_, err := a.Security().HandleSecurity(ctx, "lock the system")
	require.NoError(t, err)
	assert.Equal(t, "System unlocked.", a.Process(ctx, "", "unlock the computer with 918273"))

	var stored []string
	for _, key := range []string{reasoning.KeyCurrentCommand, reasoning.KeyCommandHistory} {
		v, err := a.Store().GetContext(ctx, reasoning.ContextKey(key, reasoning.DefaultSessionID))
		require.NoError(t, err)
		stored = append(stored, v.Value)
	}
	interactions, err := a.Store().RecentInteractions(ctx, 100)
	require.NoError(t, err)
	for _, in := range interactions {
		stored = append(stored, in.Message)
	}
	stored = append(stored, a.Engine().Session("").History()...)

	require.NotEmpty(t, stored)
	for _, s := range stored {
		assert.NotContains(t, s, "918273")
	}
}

func TestApplyConfigUpdate(t *testing.T) {
	a := newAssistant(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, intent.Chat, a.Engine().Classifier().Classify("brew espresso", nil))

	next := testConfig()
	next.Intent.Keywords = map[string][]string{"voice": {"espresso"}}
	next.Voice.Voice = "male"
	a.ApplyConfigUpdate(next)

	assert.Equal(t, []string{"espresso"}, a.Config().Intent.Keywords["voice"])
	assert.Equal(t, intent.Voice, a.Engine().Classifier().Classify("brew espresso", nil))
	assert.Equal(t, "Voice: male, rate 175 words per minute, volume 80%, listening on.", a.Process(ctx, "", "voice status"))

	bad := testConfig()
	bad.Intent.Patterns = map[string][]string{"voice": {"("}}
	a.ApplyConfigUpdate(bad)
	assert.Equal(t, []string{"espresso"}, a.Config().Intent.Keywords["voice"], "rejected update keeps previous rules")
}

func TestConfigSnapshotsAreNotMutated(t *testing.T) {
	a := newAssistant(t, testConfig())

	before := a.Config()
	rate := before.Voice.Rate

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			next := testConfig()
			next.Voice.Rate = 150 + i
			next.Intent.Keywords = map[string][]string{"voice": {"espresso"}}
			a.ApplyConfigUpdate(next)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			cfg := a.Config()
			_ = cfg.Voice.Rate
			_ = len(cfg.Intent.Keywords["voice"])
		}
	}()
	wg.Wait()

	assert.Equal(t, rate, before.Voice.Rate)
	assert.Empty(t, before.Intent.Keywords["voice"])
	assert.Equal(t, 199, a.Config().Voice.Rate)
	assert.NotSame(t, before, a.Config())
}

func TestHealth(t *testing.T) {
	a := newAssistant(t, testConfig())
	h := a.Health(context.Background())

	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "Jarvis", h.Name)
	assert.Equal(t, "1.2.3", h.Version)
	assert.Len(t, h.Domains, 7)
}

func TestListener(t *testing.T) {
	a := newAssistant(t, testConfig())

	var (
		mu      sync.Mutex
		replies []string
	)
	l := a.NewListener(strings.NewReader("good morning\njarvis speak faster\n"), func(_, reply string) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, reply)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Speech rate set to 200 words per minute."}, replies)
}

func TestSQLiteAssembly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Memory.Path = t.TempDir() + "/jarvis.db"
	a := newAssistant(t, cfg)

	_, err := a.Scheduler().ScheduleTask("standup", "hello", "daily", "09:00", true)
	require.NoError(t, err)
	assert.Len(t, a.Scheduler().List(), 1)
}
