// Package gateway exposes the assistant over HTTP and WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

// Gateway is the HTTP API gateway.
type Gateway struct {
	assistant *assistant.Assistant
	config    config.GatewayConfig
	hub       *Hub
	limiter   *clientLimiter
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
}

// New creates a gateway. The websocket hub subscribes to the assistant's
// event bus immediately; Stop releases it.
func New(a *assistant.Assistant, cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8085"
	}
	g := &Gateway{
		assistant: a,
		config:    cfg,
		logger:    logger.With("component", "gateway"),
	}
	if cfg.RateLimit > 0 {
		g.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.WebSocket {
		g.hub = NewHub(a, cfg.CORSOrigins, logger)
	}
	return g
}

// Handler builds the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(g.securityHeadersMiddleware)
	r.Use(g.corsMiddleware)

	r.Get("/health", g.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(g.authMiddleware)
		if g.limiter != nil {
			r.Use(g.limiter.middleware(g.writeError))
		}

		r.Get("/api/ping", g.handlePing)
		r.Post("/api/command", g.handleCommand)
		r.Post("/ai/chat", g.handleChat)
		r.Get("/memory/interactions", g.handleInteractions)
		r.Get("/api/context/{key}", g.handleContext)
		r.Get("/api/capabilities", g.handleCapabilities)
		r.Post("/api/security/verify-pin", g.handleVerifyPIN)
		r.Get("/api/updates/check", g.handleUpdateCheck)

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", g.handleListTasks)
			r.Post("/", g.handleCreateTask)
			r.Post("/execute", g.handleExecuteTask)
			r.Delete("/{id}", g.handleCancelTask)
		})

		if g.hub != nil {
			r.Get("/ws", g.hub.ServeHTTP)
		}
	})
	return r
}

// Start binds the address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	g.listener = ln
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if g.config.AuthToken == "" && !isLoopback(ln.Addr()) {
		g.logger.Warn("gateway has no auth token and is bound to a non-loopback address",
			"address", ln.Addr().String())
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", ln.Addr().String(), "websocket", g.hub != nil)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop closes websocket clients and gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.hub != nil {
		g.hub.Close()
	}
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping")
	return g.server.Shutdown(ctx)
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}
