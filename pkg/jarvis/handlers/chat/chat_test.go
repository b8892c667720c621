package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/dispatch"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
	history [][]memory.Interaction
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, history []memory.Interaction) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.history = append(f.history, history)
	return f.reply, f.err
}

func TestCannedIntents(t *testing.T) {
	fixed := time.Date(2024, 3, 4, 15, 7, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"who", "who are you", replyWhoAmI},
		{"abilities", "what can you do", replyWhatCanIDo},
		{"time", "what time is it", "It's 03:07 PM on Monday, March 04, 2024"},
		{"reminder", "remind me to buy milk", replyReminder},
		{"alarm", "set an alarm for 7", replyAlarm},
		{"note", "take a note: call mom", "I've saved your note: 'call mom'"},
		{"empty note", "make a note", "I've saved your note: 'Empty note'"},
		{"question", "where is the moon?", replyNoAnswer},
		{"thanks", "thanks a lot", "You're welcome!"},
		{"farewell", "goodbye jarvis", "Goodbye! Have a great day!"},
		{"greeting", "hey jarvis", "Hello! How can I help you today?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{DedupeWindow: DefaultDedupeWindow}, nil, nil, nil)
			h.now = func() time.Time { return fixed }
			got, err := h.GenerateResponse(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGreetingUsesWordBoundaries(t *testing.T) {
	h := New(Config{}, nil, nil, nil)
	got, err := h.GenerateResponse(context.Background(), "this thing")
	require.NoError(t, err)
	assert.NotContains(t, DefaultResponses()[CategoryGreeting], got)
}

func TestCannedRepliesAreDeduplicatedPerSession(t *testing.T) {
	h := New(Config{DedupeWindow: 2}, nil, nil, nil)
	alice := dispatch.WithSession(context.Background(), "alice")
	bob := dispatch.WithSession(context.Background(), "bob")

	var got []string
	for i := 0; i < 4; i++ {
		r, err := h.GenerateResponse(alice, "hello")
		require.NoError(t, err)
		got = append(got, r)
	}
	greetings := DefaultResponses()[CategoryGreeting]
	assert.Equal(t, []string{greetings[0], greetings[1], greetings[2], greetings[0]}, got)

	r, err := h.GenerateResponse(bob, "hello")
	require.NoError(t, err)
	assert.Equal(t, greetings[0], r)
}

func TestRecentResponsesPick(t *testing.T) {
	r := NewRecentResponses(2)
	c := []string{"a", "b"}

	assert.Equal(t, "a", r.Pick("x", "u", c))
	assert.Equal(t, "b", r.Pick("x", "u", c))
	// Both used: least recently used comes back.
	assert.Equal(t, "a", r.Pick("x", "u", c))
	assert.Equal(t, "b", r.Pick("x", "u", c))

	r.Reset("u")
	assert.Equal(t, "a", r.Pick("x", "u", c))
	assert.Equal(t, "", r.Pick("x", "u", nil))

	off := NewRecentResponses(0)
	assert.Equal(t, "a", off.Pick("x", "u", c))
	assert.Equal(t, "a", off.Pick("x", "u", c))
}

func TestSavedItemsAccumulate(t *testing.T) {
	store := memory.NewMemStore(0)
	h := New(Config{}, store, nil, nil)
	ctx := context.Background()

	_, err := h.GenerateResponse(ctx, "remind me to call the bank")
	require.NoError(t, err)
	_, err = h.GenerateResponse(ctx, "remind me about the meeting")
	require.NoError(t, err)
	_, err = h.GenerateResponse(ctx, "write this down groceries")
	require.NoError(t, err)

	reminders, err := h.Saved(ctx, KeyReminders)
	require.NoError(t, err)
	assert.Equal(t, []string{"remind me to call the bank", "remind me about the meeting"}, reminders)

	notes, err := h.Saved(ctx, KeyNotes)
	require.NoError(t, err)
	assert.Equal(t, []string{"groceries"}, notes)

	alarms, err := h.Saved(ctx, KeyAlarms)
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestFollowUpWithHistory(t *testing.T) {
	store := memory.NewMemStore(0)
	ctx := context.Background()
	require.NoError(t, store.AddInteraction(ctx, memory.SpeakerUser, "the garden"))
	require.NoError(t, store.AddInteraction(ctx, memory.SpeakerJarvis, "ok"))

	h := New(Config{}, store, nil, nil)
	got, err := h.GenerateResponse(ctx, "roses and tulips")
	require.NoError(t, err)
	assert.Equal(t, replyFollowUp, got)
}

func TestCompleterIsUsedAndDegrades(t *testing.T) {
	store := memory.NewMemStore(0)
	ctx := context.Background()
	require.NoError(t, store.AddInteraction(ctx, memory.SpeakerUser, "tell me about go"))

	fc := &fakeCompleter{reply: "Go is a language."}
	h := New(Config{}, store, fc, nil)

	got, err := h.GenerateResponse(ctx, "tell me about go")
	require.NoError(t, err)
	assert.Equal(t, "Go is a language.", got)
	require.Len(t, fc.history, 1)
	assert.Len(t, fc.history[0], 1)

	// Local intents never reach the model.
	got, err = h.GenerateResponse(ctx, "who are you")
	require.NoError(t, err)
	assert.Equal(t, replyWhoAmI, got)
	assert.Len(t, fc.prompts, 1)

	fc.err = errors.New("rate limited")
	got, err = h.GenerateResponse(ctx, "why is the sky blue?")
	require.NoError(t, err)
	assert.Equal(t, replyNoAnswer, got)

	fc.err = nil
	fc.reply = "   "
	got, err = h.GenerateResponse(ctx, "what can you do")
	require.NoError(t, err)
	assert.Equal(t, replyWhatCanIDo, got)
}

func TestOperations(t *testing.T) {
	h := New(Config{}, nil, nil, nil)
	assert.Equal(t, []string{dispatch.OpGenerateResponse}, h.Operations())
}

func TestBuildMessagesSkipsDuplicatePrompt(t *testing.T) {
	history := []memory.Interaction{
		{Speaker: memory.SpeakerUser, Message: "hi"},
		{Speaker: memory.SpeakerJarvis, Message: "hello"},
		{Speaker: memory.SpeakerSystem, Message: "Completed scheduled task: backup"},
		{Speaker: memory.SpeakerUser, Message: "how are you"},
	}
	msgs := buildMessages("sys", "how are you", history)
	// system + user + assistant + prompt
	assert.Len(t, msgs, 4)
}

func TestOpenAICompleter(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Sunny today."}}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "test-model"})
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), "weather?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sunny today.", reply)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "weather?", got.Messages[1].Content)
}

func TestOpenAICompleterRequiresKey(t *testing.T) {
	_, err := NewOpenAICompleter(OpenAIConfig{})
	assert.Error(t, err)
}
