// Package gateway – websocket.go implements the /ws socket: one reasoning
// session per connection, request/response messages, and task events from
// the bus pushed to every client.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
	"github.com/jholhewres/jarvis/pkg/jarvis/events"
	"github.com/jholhewres/jarvis/pkg/jarvis/tasks"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 << 10

	sendBuffer = 64
)

// Message types.
const (
	MsgUserMessage    = "user_message"
	MsgExecuteTask    = "execute_task"
	MsgGetMemory      = "get_memory"
	MsgStatus         = "status"
	MsgJarvisResponse = "jarvis_response"
	MsgTaskUpdate     = "task_update"
	MsgMemorySnapshot = "memory_snapshot"
	MsgError          = "error"
)

// Inbound is a client message.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server message.
type Outbound struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected clients and fans bus events out to them.
type Hub struct {
	assistant *assistant.Assistant
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	unsubscribe func()
}

// NewHub creates a hub subscribed to a's event bus. origins limits
// cross-origin upgrades; empty allows same-origin only, "*" allows any.
func NewHub(a *assistant.Assistant, origins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		assistant: a,
		logger:    logger.With("component", "websocket"),
		clients:   make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(origins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin(origins, origin)
		}
	}
	h.unsubscribe = a.Bus().Subscribe(h.forward)
	return h
}

// ServeHTTP upgrades the request and runs the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:     h,
		conn:    conn,
		id:      uuid.NewString(),
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		session: "ws-" + uuid.NewString()[:8],
	}
	if !h.register(c) {
		cancel()
		conn.Close()
		return
	}

	go c.writePump()
	c.enqueue(MsgStatus, map[string]string{
		"status":     "connected",
		"client_id":  c.id,
		"session_id": c.session,
		"name":       h.assistant.Config().Name,
		"version":    h.assistant.Version(),
	})
	c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.unsubscribe()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("client connected", "client", c.id, "session", c.session)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", "client", c.id)
	}
}

// forward pushes task events to every client. Runs inside Bus.Publish, so
// it only enqueues.
func (h *Hub) forward(ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(MsgTaskUpdate, ev)
	}
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	session string
	send    chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// readPump handles client messages in order until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		var msg Inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueue(MsgError, map[string]string{"error": "invalid message: " + err.Error()})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg Inbound) {
	a := c.hub.assistant
	switch msg.Type {
	case MsgUserMessage:
		var data struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Message == "" {
			c.enqueue(MsgError, map[string]string{"error": "user_message needs data.message"})
			return
		}
		reply := a.Process(c.ctx, c.session, data.Message)
		c.enqueue(MsgJarvisResponse, map[string]string{"reply": reply, "session_id": c.session})

	case MsgExecuteTask:
		var t tasks.Task
		if err := json.Unmarshal(msg.Data, &t); err != nil || t.Type == "" {
			c.enqueue(MsgError, map[string]string{"error": "execute_task needs data.type"})
			return
		}
		// The coordinator publishes the result as a task_update event,
		// which forward delivers to this client too.
		a.Tasks().ExecuteTask(c.ctx, t)

	case MsgGetMemory:
		var data struct {
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(msg.Data, &data)
		if data.Limit <= 0 || data.Limit > 1000 {
			data.Limit = 20
		}
		items, err := a.Store().RecentInteractions(c.ctx, data.Limit)
		if err != nil {
			c.enqueue(MsgError, map[string]string{"error": "failed to read memory"})
			return
		}
		c.enqueue(MsgMemorySnapshot, map[string]any{"interactions": items})

	default:
		c.enqueue(MsgError, map[string]string{"error": "unknown message type: " + msg.Type})
	}
}

// writePump serializes all writes to the connection and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// enqueue marshals and queues a message. A full buffer drops it; a slow
// client must not stall the bus.
func (c *client) enqueue(typ string, data any) {
	payload, err := json.Marshal(Outbound{Type: typ, Data: data, Timestamp: time.Now()})
	if err != nil {
		c.hub.logger.Error("marshal websocket message failed", "type", typ, "error", err)
		return
	}
	select {
	case <-c.ctx.Done():
	case c.send <- payload:
	default:
		c.hub.logger.Warn("websocket send buffer full, dropping message", "client", c.id, "type", typ)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
	})
}
