package voice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jvoice "github.com/jholhewres/jarvis/pkg/jarvis/voice"
)

type recorder struct{ said []string }

func (r *recorder) Speak(_ context.Context, text string) error {
	r.said = append(r.said, text)
	return nil
}

func TestProcessCommand(t *testing.T) {
	tests := []struct {
		command string
		want    string
		check   func(t *testing.T, s jvoice.Snapshot)
	}{
		{"speak louder please", "Volume set to 90%.", func(t *testing.T, s jvoice.Snapshot) { assert.Equal(t, 0.9, s.Volume) }},
		{"speak softer", "Volume set to 70%.", nil},
		{"speak faster", "Speech rate set to 200 words per minute.", func(t *testing.T, s jvoice.Snapshot) { assert.Equal(t, 200, s.Rate) }},
		{"slow down", "Speech rate set to 150 words per minute.", nil},
		{"change your voice to male", "Switched to a male voice.", func(t *testing.T, s jvoice.Snapshot) { assert.Equal(t, jvoice.Male, s.Gender) }},
		{"use a female voice", "Switched to a female voice.", func(t *testing.T, s jvoice.Snapshot) { assert.Equal(t, jvoice.Female, s.Gender) }},
		{"stop listening", "I've stopped listening. Say 'start listening' to resume.", func(t *testing.T, s jvoice.Snapshot) { assert.False(t, s.Listening) }},
		{"voice status", "Voice: female, rate 175 words per minute, volume 80%, listening on.", nil},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			settings := jvoice.NewSettings(0, 0, "")
			h := New(settings, nil, nil)
			got, err := h.Handle(context.Background(), tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.check != nil {
				tt.check(t, settings.Snapshot())
			}
		})
	}
}

func TestStartListening(t *testing.T) {
	settings := jvoice.NewSettings(0, 0, "")
	settings.SetListening(false)
	h := New(settings, nil, nil)

	got, err := h.Handle(context.Background(), "start listening")
	require.NoError(t, err)
	assert.Equal(t, "I'm listening again.", got)
	assert.True(t, settings.Listening())
}

func TestSay(t *testing.T) {
	r := &recorder{}
	h := New(nil, r, nil)

	got, err := h.Handle(context.Background(), "say: good morning everyone")
	require.NoError(t, err)
	assert.Equal(t, "good morning everyone", got)
	assert.Equal(t, []string{"good morning everyone"}, r.said)
}

func TestUnrecognized(t *testing.T) {
	h := New(nil, nil, nil)
	_, err := h.Handle(context.Background(), "voice")
	assert.ErrorIs(t, err, ErrUnrecognized)
}
