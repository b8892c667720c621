package updater

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/bridge"
	"github.com/jholhewres/jarvis/pkg/jarvis/intent"
)

func newWeb(t *testing.T, body string, status int) (*bridge.Web, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	exec := bridge.New(bridge.Config{}, nil)
	exec.Start(context.Background())
	t.Cleanup(func() { exec.Stop(2 * time.Second) })
	return bridge.NewWeb(exec, bridge.WebConfig{Client: srv.Client()}, nil), srv.URL + "/releases/latest"
}

const release = `{"tag_name":"v1.4.0","html_url":"https://example.com/r/v1.4.0","body":"notes","published_at":"2024-01-01T00:00:00Z"}`

func TestCheckForUpdates(t *testing.T) {
	tests := []struct {
		current string
		want    string
	}{
		{"1.3.2", "Version v1.4.0 is available. I'm running 1.3.2. Download it from https://example.com/r/v1.4.0."},
		{"v1.4.0", "You're up to date. I'm running version v1.4.0 and the latest release is v1.4.0."},
		{"1.10.0", "You're up to date. I'm running version 1.10.0 and the latest release is v1.4.0."},
		{"dev", "You're up to date. I'm running version dev and the latest release is v1.4.0."},
	}
	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			web, url := newWeb(t, release, http.StatusOK)
			h := New(Config{ReleaseURL: url, CurrentVersion: tt.current}, web, nil, nil, nil)
			got, err := h.Handle(context.Background(), "check for updates")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckFailure(t *testing.T) {
	web, url := newWeb(t, `{"message":"rate limited"}`, http.StatusForbidden)
	h := New(Config{ReleaseURL: url, CurrentVersion: "1.0.0"}, web, nil, nil, nil)
	got, err := h.Handle(context.Background(), "upgrade yourself")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "I couldn't check for updates: Request failed with status 403"), got)

	_, err = h.Check(context.Background())
	assert.Error(t, err)
}

func TestIsNewer(t *testing.T) {
	assert.True(t, isNewer("v2.0.0", "1.9.9"))
	assert.True(t, isNewer("1.0.1", "1.0.0"))
	assert.False(t, isNewer("1.0.0-rc1", "1.0.0"))
	assert.False(t, isNewer("garbage", "1.0.0"))
	assert.False(t, isNewer("9.9.9", "dev"))
}

func TestVersionAndCapabilities(t *testing.T) {
	caps := func() map[intent.Domain][]string {
		return map[intent.Domain][]string{
			intent.Voice: {"speak louder/softer", "stop/start speaking/listening"},
			intent.Chat:  nil,
		}
	}
	h := New(Config{CurrentVersion: "1.2.3"}, nil, nil, caps, nil)

	got, err := h.Handle(context.Background(), "what version are you running")
	require.NoError(t, err)
	assert.Equal(t, "I'm running version 1.2.3.", got)

	got, err = h.Handle(context.Background(), "list your capabilities")
	require.NoError(t, err)
	assert.Equal(t, "I can help with: chat; voice (speak louder/softer, stop/start speaking/listening).", got)
}

func TestLearnPattern(t *testing.T) {
	c := intent.MustDefault(nil)
	h := New(Config{}, nil, c, nil, nil)

	got, err := h.Handle(context.Background(), "learn pattern (brew|make) coffee for automation")
	require.NoError(t, err)
	assert.Equal(t, `Learned new pattern "(brew|make) coffee" for automation.`, got)
	assert.Equal(t, intent.Automation, c.Classify("please brew coffee", nil))

	got, err = h.Handle(context.Background(), "learn keyword espresso for the automation domain")
	require.NoError(t, err)
	assert.Equal(t, `Learned new keyword "espresso" for automation.`, got)

	got, err = h.Handle(context.Background(), "learn pattern ([ for voice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "I couldn't learn that pattern:"), got)

	got, err = h.Handle(context.Background(), "learn pattern x for nowhere")
	require.NoError(t, err)
	assert.Equal(t, `I couldn't learn that pattern: unknown domain "nowhere"`, got)
}

func TestUnrecognized(t *testing.T) {
	h := New(Config{}, nil, nil, nil, nil)
	_, err := h.Handle(context.Background(), "install a new feature")
	assert.ErrorIs(t, err, ErrUnrecognized)
}
