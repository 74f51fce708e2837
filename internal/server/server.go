// Package server serves a bound document over HTTP, renders templates on
// request and pushes region updates to browsers over a websocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/tmplbind/internal/binder"
	"github.com/conneroisu/tmplbind/internal/config"
	"github.com/conneroisu/tmplbind/internal/logging"
	"github.com/conneroisu/tmplbind/internal/middleware"
	"github.com/conneroisu/tmplbind/internal/renderer"
)

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// Server serves one binding scope with live updates
type Server struct {
	config       *config.Config
	logger       logging.Logger
	httpServer   *http.Server
	serverMutex  sync.RWMutex
	binder       *binder.Binder
	events       <-chan renderer.RenderEvent
	binderMutex  sync.RWMutex
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn
	shutdownOnce sync.Once
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a server for b.
func New(cfg *config.Config, b *binder.Binder, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{
		config:     cfg,
		logger:     logger.WithComponent("server"),
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
	}
	s.SetBinder(b)
	return s
}

// Binder returns the binding scope currently served.
func (s *Server) Binder() *binder.Binder {
	s.binderMutex.RLock()
	defer s.binderMutex.RUnlock()
	return s.binder
}

// SetBinder swaps the served binding scope and tells connected browsers to
// reload. Render events of the new scope are forwarded to browsers.
func (s *Server) SetBinder(b *binder.Binder) {
	s.binderMutex.Lock()
	old, oldEvents := s.binder, s.events
	s.binder = b
	s.events = nil
	if b != nil {
		s.events = b.Dispatcher().Watch()
	}
	events := s.events
	s.binderMutex.Unlock()

	if old != nil && oldEvents != nil {
		old.Dispatcher().UnWatch(oldEvents)
		s.broadcastMessage(UpdateMessage{Type: "reload", Timestamp: time.Now()})
	}
	if events != nil {
		go s.forwardRenderEvents(events)
	}
}

func (s *Server) forwardRenderEvents(events <-chan renderer.RenderEvent) {
	for ev := range events {
		s.broadcastMessage(UpdateMessage{
			Type:      "render",
			Name:      ev.Name,
			Target:    ev.Region,
			Content:   ev.Markup,
			Timestamp: ev.Timestamp,
		})
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /bindings", s.handleBindings)
	mux.HandleFunc("POST /render/{name}", s.handleRender)
	mux.HandleFunc("POST /rescan", s.handleRescan)
	mux.HandleFunc("/ws", s.handleWebSocket)

	security := middleware.BaseSecurityConfig()
	if s.config.Server.CSP {
		security = middleware.DefaultSecurityConfig()
	}
	security.Logger = s.logger

	return middleware.NewChain(
		middleware.Logging(s.logger),
		middleware.Recover(s.logger),
		middleware.SecurityHeaders(security),
	).Then(mux)
}

// Start runs the websocket hub and serves HTTP until ctx is done or the
// server is shut down.
func (s *Server) Start(ctx context.Context) error {
	go s.runWebSocketHub(ctx)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Serving", "addr", "http://"+addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown closes every websocket and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.binderMutex.Lock()
		if s.binder != nil && s.events != nil {
			s.binder.Dispatcher().UnWatch(s.events)
			s.events = nil
		}
		s.binderMutex.Unlock()

		s.clientsMutex.Lock()
		for conn, client := range s.clients {
			close(client.send)
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*websocket.Conn]*Client)
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) broadcastMessage(msg UpdateMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "Failed to marshal message")
		jsonData = []byte(`{"type":"reload"}`)
	}

	select {
	case s.broadcast <- jsonData:
	default:
		s.logger.Warn(context.Background(), nil, "Broadcast queue full, dropping message", "type", msg.Type)
	}
}
