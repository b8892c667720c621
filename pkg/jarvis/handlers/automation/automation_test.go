package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/events"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
)

type fakeSystem struct {
	commands []string
	scripts  []string
}

func (f *fakeSystem) ExecuteCommand(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	return "system: " + command, nil
}

func (f *fakeSystem) RunScript(_ context.Context, path string) (string, error) {
	f.scripts = append(f.scripts, path)
	return "Script finished: ok", nil
}

type fixture struct {
	h       *Handler
	sched   *scheduler.Scheduler
	delayer *scheduler.Delayer
	system  *fakeSystem
	bus     *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewBus()
	notifier := scheduler.NewNotifier(nil, nil, bus, nil)
	run := func(_ context.Context, cmd string) (string, error) {
		if strings.HasPrefix(cmd, "fail") {
			return "I couldn't do that.", errors.New("command not handled")
		}
		return "processed: " + cmd, nil
	}

	sched := scheduler.New(scheduler.Config{}, nil, TaskRunner(run), notifier, nil)
	delayer := scheduler.NewDelayer(notifier, time.Second, nil)
	t.Cleanup(func() { delayer.Stop(time.Second) })

	system := &fakeSystem{}
	h := New(sched, delayer, system, run, nil)
	h.now = func() time.Time { return time.Date(2024, 5, 6, 10, 0, 0, 0, time.Local) }
	return &fixture{h: h, sched: sched, delayer: delayer, system: system, bus: bus}
}

func TestScheduleRecurringTask(t *testing.T) {
	f := newFixture(t)

	got, err := f.h.Handle(context.Background(), "schedule backup daily at 9am")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Scheduled 'backup' (daily 09:00). Next run: "), got)

	tasks := f.sched.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, "backup", tasks[0].Command)
	assert.Equal(t, scheduler.Daily, tasks[0].Type)
	assert.True(t, tasks[0].Repeat)
}

func TestScheduleReminderTomorrow(t *testing.T) {
	f := newFixture(t)

	got, err := f.h.Handle(context.Background(), "Remind me to call mom tomorrow at 6pm")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Scheduled 'reminder to call mom' (once 2024-05-07 18:00)."), got)

	tasks := f.sched.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, ReminderPrefix+"call mom", tasks[0].Command)
	assert.False(t, tasks[0].Repeat)
}

func TestRemindMeInMinutesUsesDelayer(t *testing.T) {
	f := newFixture(t)

	got, err := f.h.Handle(context.Background(), "remind me in 10 minutes to stretch")
	require.NoError(t, err)
	assert.Equal(t, "Okay, I'll remind you to stretch in 10 minutes.", got)
	assert.Equal(t, 1, f.delayer.Pending())
	assert.Empty(t, f.sched.List())

	list, err := f.h.Handle(context.Background(), "list my tasks")
	require.NoError(t, err)
	assert.Equal(t, "You have 0 scheduled task(s). Plus 1 pending reminder(s).", list)
}

func TestDelayedReminderFires(t *testing.T) {
	f := newFixture(t)
	completed := make(chan events.Event, 1)
	defer f.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.TaskCompleted {
			completed <- ev
		}
	})()

	_, err := f.h.Handle(context.Background(), "remind me to drink water in 1 second")
	require.NoError(t, err)

	select {
	case ev := <-completed:
		assert.Equal(t, ReminderPrefix+"drink water", ev.Message)
		assert.Equal(t, "reminder to drink water", ev.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("reminder did not fire")
	}
}

func TestDelayedCommandIsProcessed(t *testing.T) {
	f := newFixture(t)
	got, err := f.h.delayedAction("open calculator")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "processed: open calculator", got)

	got, err = f.h.delayedAction(ReminderPrefix + "stretch")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReminderPrefix+"stretch", got)
}

func TestListAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.h.Handle(ctx, "show scheduled tasks")
	require.NoError(t, err)
	assert.Equal(t, "You have no scheduled tasks.", got)

	_, err = f.h.Handle(ctx, "schedule water the plants every monday at 8:30")
	require.NoError(t, err)

	got, err = f.h.Handle(ctx, "list tasks")
	require.NoError(t, err)
	assert.Contains(t, got, "water the plants")
	assert.Contains(t, got, "(weekly monday 08:30, next run ")

	got, err = f.h.Handle(ctx, "cancel task water the plants")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled task water the plants.", got)
	assert.Empty(t, f.sched.List())

	got, err = f.h.Handle(ctx, "cancel task nothing")
	require.NoError(t, err)
	assert.Equal(t, "I couldn't find a task named nothing.", got)
}

func TestCancelDelayedByID(t *testing.T) {
	f := newFixture(t)
	id := f.delayer.After(time.Hour, "later", func(context.Context) (string, error) { return "", nil })

	got, err := f.h.Handle(context.Background(), "cancel reminder "+id)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled the pending reminder.", got)
	assert.Zero(t, f.delayer.Pending())
}

func TestImperativeAndScriptDelegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.h.Handle(ctx, "open calculator")
	require.NoError(t, err)
	assert.Equal(t, "system: open calculator", got)

	got, err = f.h.Handle(ctx, "run script backup.sh")
	require.NoError(t, err)
	assert.Equal(t, "Script finished: ok", got)
	assert.Equal(t, []string{"backup.sh"}, f.system.scripts)
}

func TestUnrecognized(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.Handle(context.Background(), "automate nothing in particular")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	got, err := f.h.Handle(context.Background(), `schedule cleanup cron "not a cron"`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "I couldn't schedule that:"), got)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "90 seconds", humanDuration(90*time.Second))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "3 days", humanDuration(72*time.Hour))
	assert.Equal(t, "1.5s", humanDuration(1500*time.Millisecond))
}

func TestTruncateNameKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"water the plants", "water the plants"},
		{strings.Repeat("a", 45), strings.Repeat("a", 40)},
		{strings.Repeat("é", 45), strings.Repeat("é", 40)},
		{strings.Repeat("日本", 30), strings.Repeat("日本", 20)},
	}

	for _, tt := range tests {
		got := truncateName(tt.in)
		assert.True(t, utf8.ValidString(got), got)
		assert.Equal(t, tt.want, got)
	}
}
