package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jholhewres/jarvis/pkg/jarvis/handlers/security"
	"github.com/jholhewres/jarvis/pkg/jarvis/memory"
	"github.com/jholhewres/jarvis/pkg/jarvis/reasoning"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
	"github.com/jholhewres/jarvis/pkg/jarvis/tasks"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// errorResponse is the consistent error format.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	g.writeJSON(w, code, errorResponse{Error: errorBody{Message: msg, Code: code}})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		g.writeError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// handleHealth implements GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := g.assistant.Health(r.Context())
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	g.writeJSON(w, status, h)
}

// handlePing implements GET /api/ping.
func (g *Gateway) handlePing(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type commandRequest struct {
	Command   string `json:"command"`
	SessionID string `json:"session_id"`
}

type commandResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// handleCommand implements POST /api/command.
func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !g.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		g.writeError(w, "command is required", http.StatusBadRequest)
		return
	}
	session := sessionID(r, req.SessionID)
	reply := g.assistant.Process(r.Context(), session, req.Command)
	g.writeJSON(w, http.StatusOK, commandResponse{Reply: reply, SessionID: session})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// handleChat implements POST /ai/chat.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !g.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		g.writeError(w, "message is required", http.StatusBadRequest)
		return
	}
	session := sessionID(r, req.SessionID)
	reply := g.assistant.Process(r.Context(), session, req.Message)
	g.writeJSON(w, http.StatusOK, map[string]string{"response": reply, "session_id": session})
}

// handleInteractions implements GET /memory/interactions?limit=N.
func (g *Gateway) handleInteractions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			g.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}
	items, err := g.assistant.Store().RecentInteractions(r.Context(), limit)
	if err != nil {
		g.logger.Error("reading interactions failed", "error", err)
		g.writeError(w, "failed to read interactions", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []memory.Interaction{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"interactions": items})
}

// handleContext implements GET /api/context/{key}?session_id=.
func (g *Gateway) handleContext(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	session := r.URL.Query().Get("session_id")
	if session == "" {
		session = reasoning.DefaultSessionID
	}
	v, err := g.assistant.Store().GetContext(r.Context(), reasoning.ContextKey(key, session))
	if errors.Is(err, memory.ErrNotFound) {
		g.writeError(w, "context key not found: "+key, http.StatusNotFound)
		return
	}
	if err != nil {
		g.logger.Error("reading context failed", "key", key, "error", err)
		g.writeError(w, "failed to read context", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v.Value, "updated_at": v.UpdatedAt})
}

// handleCapabilities implements GET /api/capabilities.
func (g *Gateway) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string][]string)
	for d, caps := range g.assistant.Engine().Capabilities() {
		if caps == nil {
			caps = []string{}
		}
		out[d.String()] = caps
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"capabilities": out})
}

// handleListTasks implements GET /api/tasks.
func (g *Gateway) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	list := g.assistant.Scheduler().List()
	if list == nil {
		list = []*scheduler.Task{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

type createTaskRequest struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Type    string `json:"type"`
	Time    string `json:"time"`
	Repeat  *bool  `json:"repeat"`
}

// handleCreateTask implements POST /api/tasks.
func (g *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.Command == "" || req.Type == "" || req.Time == "" {
		g.writeError(w, "command, type and time are required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.Command
	}
	typ := scheduler.ScheduleType(strings.ToLower(req.Type))
	repeat := typ != scheduler.Once
	if req.Repeat != nil {
		repeat = *req.Repeat
	}

	t, err := g.assistant.Scheduler().ScheduleTask(req.Name, req.Command, typ, req.Time, repeat)
	if errors.Is(err, scheduler.ErrInvalidSchedule) {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		g.logger.Error("scheduling task failed", "error", err)
		g.writeError(w, "failed to schedule task", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusCreated, t)
}

// handleCancelTask implements DELETE /api/tasks/{id}.
func (g *Gateway) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.assistant.Scheduler().Cancel(id); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			g.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteTask implements POST /api/tasks/execute.
func (g *Gateway) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var t tasks.Task
	if !g.decode(w, r, &t) {
		return
	}
	if t.Type == "" {
		g.writeError(w, "type is required", http.StatusBadRequest)
		return
	}
	result := g.assistant.Tasks().ExecuteTask(r.Context(), t)
	g.writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

// handleVerifyPIN implements POST /api/security/verify-pin.
func (g *Gateway) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if !g.decode(w, r, &req) {
		return
	}
	ok, err := g.assistant.Security().VerifyPIN(req.PIN)
	if errors.Is(err, security.ErrNoPIN) {
		g.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		g.logger.Error("PIN verification failed", "error", err)
		g.writeError(w, "failed to verify PIN", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

// handleUpdateCheck implements GET /api/updates/check.
func (g *Gateway) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	res, err := g.assistant.Updater().Check(r.Context())
	if err != nil {
		g.writeError(w, "update check failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	g.writeJSON(w, http.StatusOK, res)
}

// sessionID prefers the body field, then the X-Session-ID header, then the
// default session.
func sessionID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if h := r.Header.Get("X-Session-ID"); h != "" {
		return h
	}
	return reasoning.DefaultSessionID
}
