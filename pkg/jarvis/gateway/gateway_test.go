package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/secrets"
)

type nopRunner struct{}

func (nopRunner) Run(context.Context, string, ...string) (string, error) { return "", nil }

func newTestAssistant(t *testing.T) *assistant.Assistant {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Memory.Driver = "memory"
	cfg.Scheduler.Storage = "none"
	cfg.Scheduler.PollInterval = 20 * time.Millisecond
	cfg.Reasoning.SessionTTL = 0

	a, err := assistant.New(cfg, assistant.Options{
		Version: "0.9.0",
		Secrets: secrets.NewPrefStore(memory.NewMemStore(0)),
		Runner:  nopRunner{},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, a.Stop(2*time.Second)) })
	return a
}

func newTestServer(t *testing.T, cfg config.GatewayConfig) (*Gateway, *httptest.Server) {
	t.Helper()
	g := New(newTestAssistant(t), cfg, nil)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		if g.hub != nil {
			g.hub.Close()
		}
		srv.Close()
	})
	return g, srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestAuth(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{AuthToken: "s3cret"})

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health is public", "/health", nil, http.StatusOK},
		{"missing token", "/api/ping", nil, http.StatusUnauthorized},
		{"wrong token", "/api/ping", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"valid token", "/api/ping", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, http.MethodGet, tt.path, "", tt.header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRateLimit(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{RateLimit: 0.001, RateBurst: 2})

	for range 2 {
		resp, _ := do(t, srv, http.MethodGet, "/api/ping", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := do(t, srv, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["error"].(map[string]any)["message"])
}

func TestCommand(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{})

	resp, body := do(t, srv, http.MethodPost, "/api/command", `{"command":"speak faster","session_id":"web-1"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Speech rate set to 200 words per minute.", body["reply"])
	assert.Equal(t, "web-1", body["session_id"])

	resp, body = do(t, srv, http.MethodPost, "/api/command", `{"command":"speak louder"}`,
		map[string]string{"X-Session-ID": "hdr"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hdr", body["session_id"])

	resp, _ = do(t, srv, http.MethodPost, "/api/command", `{"command":"  "}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/command", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInteractionsAndContext(t *testing.T) {
	g, srv := newTestServer(t, config.GatewayConfig{})
	ctx := context.Background()
	g.assistant.Process(ctx, "", "hello")
	g.assistant.Process(ctx, "", "speak faster")

	resp, body := do(t, srv, http.MethodGet, "/memory/interactions?limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["interactions"], 2)

	resp, _ = do(t, srv, http.MethodGet, "/memory/interactions?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/api/context/current_command", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "speak faster", body["value"])

	resp, _ = do(t, srv, http.MethodGet, "/api/context/does_not_exist", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTasksCRUD(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{})

	resp, body := do(t, srv, http.MethodPost, "/api/tasks",
		`{"name":"standup","command":"hello","type":"daily","time":"09:00"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, body["repeat"])

	resp, body = do(t, srv, http.MethodGet, "/api/tasks", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tasks"], 1)

	resp, _ = do(t, srv, http.MethodPost, "/api/tasks",
		`{"command":"hello","type":"weekly","time":"someday 09:00"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/api/tasks/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/api/tasks/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteTask(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{})

	resp, body := do(t, srv, http.MethodPost, "/api/tasks/execute", `{"type":"communication","message":"lunch"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Message delivered: lunch", body["result"])

	resp, body = do(t, srv, http.MethodPost, "/api/tasks/execute", `{"type":"teleport"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Unknown or unsupported task type.", body["result"])

	resp, _ = do(t, srv, http.MethodPost, "/api/tasks/execute", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifyPIN(t *testing.T) {
	g, srv := newTestServer(t, config.GatewayConfig{})

	resp, _ := do(t, srv, http.MethodPost, "/api/security/verify-pin", `{"pin":"1234"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, g.assistant.Security().SetPIN("4321"))

	resp, body := do(t, srv, http.MethodPost, "/api/security/verify-pin", `{"pin":"1234"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])

	resp, body = do(t, srv, http.MethodPost, "/api/security/verify-pin", `{"pin":"4321"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
}

func TestCapabilities(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{})

	resp, body := do(t, srv, http.MethodGet, "/api/capabilities", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	caps := body["capabilities"].(map[string]any)
	assert.Len(t, caps, 7)
	assert.Contains(t, caps, "voice")
}

func TestCORS(t *testing.T) {
	_, srv := newTestServer(t, config.GatewayConfig{CORSOrigins: []string{"http://app.local"}})

	resp, _ := do(t, srv, http.MethodOptions, "/api/ping", "", map[string]string{"Origin": "http://app.local"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://app.local", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = do(t, srv, http.MethodGet, "/api/ping", "", map[string]string{"Origin": "http://evil.local"})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func readMessage(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg.Data
		}
	}
}

func TestWebSocket(t *testing.T) {
	g, srv := newTestServer(t, config.GatewayConfig{WebSocket: true, AuthToken: "tok"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok"

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readMessage(t, conn, MsgStatus)
	assert.Equal(t, "connected", status["status"])
	assert.Equal(t, "0.9.0", status["version"])
	session, _ := status["session_id"].(string)
	assert.True(t, strings.HasPrefix(session, "ws-"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgUserMessage, "data": map[string]string{"message": "speak faster"}}))
	reply := readMessage(t, conn, MsgJarvisResponse)
	assert.Equal(t, "Speech rate set to 200 words per minute.", reply["reply"])
	assert.Equal(t, session, reply["session_id"])
	assert.Equal(t, []string{"speak faster"}, g.assistant.Engine().Session(session).History())

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgExecuteTask, "data": map[string]string{"type": "communication", "message": "ping"}}))
	update := readMessage(t, conn, MsgTaskUpdate)
	assert.Equal(t, "Message delivered: ping", update["message"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MsgGetMemory, "data": map[string]int{"limit": 5}}))
	snap := readMessage(t, conn, MsgMemorySnapshot)
	assert.NotEmpty(t, snap["interactions"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	e := readMessage(t, conn, MsgError)
	assert.Equal(t, "unknown message type: dance", e["error"])

	assert.Equal(t, 1, g.hub.ClientCount())
}

func TestStartStop(t *testing.T) {
	g := New(newTestAssistant(t), config.GatewayConfig{Address: "127.0.0.1:0", WebSocket: true}, nil)
	require.NoError(t, g.Start(context.Background()))
	require.NotEmpty(t, g.Addr())

	resp, err := http.Get("http://" + g.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, g.Stop(ctx))
}
