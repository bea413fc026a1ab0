// Package web serves the local control API and streams lifecycle events
// over a websocket.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"markestedt/voicekey/agent"
	"markestedt/voicekey/config"
	"markestedt/voicekey/events"
	"markestedt/voicekey/storage"
	"markestedt/voicekey/trigger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameHost,
}

// Controller is the part of the agent the API drives.
type Controller interface {
	Status(ctx context.Context) (agent.Status, error)
	UnregisterTrigger(ctx context.Context) error
	TestTrigger(ctx context.Context, d time.Duration) ([]trigger.Signal, error)
	Feed(ev trigger.Event)
}

// Options configure a Server.
type Options struct {
	Addr       string
	Controller Controller
	DB         *storage.DB
	Store      *config.FileStore
	Config     *config.Config
	// Apply activates a new configuration before it is saved. A returned
	// error rejects the change.
	Apply func(*config.Config) error
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

// Server is the local HTTP API.
type Server struct {
	ctrl    Controller
	db      *storage.DB
	store   *config.FileStore
	apply   func(*config.Config) error
	metrics http.Handler
	addr    string
	hub     *Hub

	mu     sync.RWMutex
	config *config.Config
}

// NewServer creates a server. Call Run to start the websocket hub.
func NewServer(opts Options) *Server {
	apply := opts.Apply
	if apply == nil {
		apply = func(*config.Config) error { return nil }
	}
	return &Server{
		ctrl:    opts.Controller,
		db:      opts.DB,
		store:   opts.Store,
		apply:   apply,
		metrics: opts.Metrics,
		addr:    opts.Addr,
		hub:     NewHub(),
		config:  opts.Config,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config/trigger", s.handlePutTrigger)
	mux.HandleFunc("DELETE /api/config/trigger", s.handleDeleteTrigger)
	mux.HandleFunc("PUT /api/config/injection", s.handlePutInjection)
	mux.HandleFunc("POST /api/trigger/test", s.handleTestTrigger)
	mux.HandleFunc("POST /api/voice/phrase", s.handlePhrase)
	mux.HandleFunc("POST /api/voice/stop", s.handleVoiceStop)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("GET /api/recovery", s.handleGetRecovery)
	mux.HandleFunc("POST /api/recovery/{id}/recovered", s.handleMarkRecovered)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run forwards events from ch to websocket clients until ctx is done.
func (s *Server) Run(ctx context.Context, ch <-chan events.Event) {
	go s.hub.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.hub.BroadcastMessage(Message{Type: MessageTypeEvent, Data: ev})
		}
	}
}

// ListenAndServe serves the API on the configured address until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting web server", "addr", s.addr, "url", fmt.Sprintf("http://%s", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve web API: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down web API: %w", err)
		}
		return nil
	}
}

// GetConfig returns the current configuration.
func (s *Server) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// UpdateConfig replaces the in-memory configuration, for example after the
// file changed on disk.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// sameHost accepts requests without an Origin header and those whose
// origin names the host being served.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
