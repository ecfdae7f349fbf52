package gateway

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/praytools/pray-bot/internal/approval"
	"github.com/praytools/pray-bot/internal/bus"
	"github.com/praytools/pray-bot/internal/config"
	"github.com/praytools/pray-bot/pkg/protocol"
)

// hookStatusMaxWait bounds the long-poll in GET /api/hook/status/<id>
// (spec.md §6: "long poll up to 30 s").
const hookStatusMaxWait = 30 * time.Second

// Server is the gateway's HTTP + WebSocket surface: spec.md §6's health
// check, hook receiver, Hook Approval Bridge endpoints, and an
// event-bus-to-WebSocket push for connected control clients.
type Server struct {
	cfg        *config.Config
	eventBus   bus.EventPublisher
	hookProxy  http.Handler
	hookBridge *approval.HookBridge

	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex

	router     *Router
	httpServer *http.Server
}

// NewServer creates a gateway server. hookProxy handles POST /api/hook
// (typically *hook.HTTPHandler); hookBridge may be nil if the Hook
// Approval Bridge's browser-button flow isn't wired for this deployment.
func NewServer(cfg *config.Config, eventBus bus.EventPublisher, hookProxy http.Handler, hookBridge *approval.HookBridge) *Server {
	s := &Server{
		cfg:        cfg,
		eventBus:   eventBus,
		hookProxy:  hookProxy,
		hookBridge: hookBridge,
		clients:    make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// Router returns the pluggable route registrar (spec.md §6's
// addRoute({method, path, handler})) for registering additional routes
// before Start.
func (s *Server) Router() *Router {
	s.BuildMux()
	return s.router
}

// BuildMux creates and caches the HTTP handler tree with all routes
// registered. Call before Start() if an additional listener needs it.
func (s *Server) BuildMux() http.Handler {
	if s.router != nil {
		return s.router
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.hookProxy != nil {
		mux.Handle("/api/hook", s.hookProxy)
	}

	s.router = NewRouter(mux)
	if s.hookBridge != nil {
		s.router.AddRoute(http.MethodPost, "/api/hook/respond", s.handleHookRespond)
		s.router.AddRoute(http.MethodGet, "/api/hook/status/:id", s.handleHookStatus)
	}
	return s.router
}

// Start begins listening for WebSocket and HTTP connections until ctx is
// canceled, then gracefully shuts down.
func (s *Server) Start(ctx context.Context) error {
	handler := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

// handleHookRespond implements POST /api/hook/respond?id=<>&approved=<bool>
// — the Hook Approval Bridge's browser-button target. It returns a small
// HTML page rather than JSON since it's meant to be followed directly by
// a link click.
func (s *Server) handleHookRespond(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	approved, _ := strconv.ParseBool(r.URL.Query().Get("approved"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.hookBridge.Resolve(id, approved); err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "<html><body>request not found: %s</body></html>", html.EscapeString(id))
		return
	}

	decision := "denied"
	if approved {
		decision = "approved"
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body>request %s %s</body></html>", html.EscapeString(id), decision)
}

// handleHookStatus implements GET /api/hook/status/<id>: long-polls up to
// hookStatusMaxWait and returns {status, approved?}.
func (s *Server) handleHookStatus(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, "id")
	status, approved, found := s.hookBridge.WaitStatus(r.Context(), id, hookStatusMaxWait)
	if !found {
		writeJSONStatus(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	body := map[string]any{"status": string(status)}
	if status != approval.HookPending {
		body["approved"] = approved
	}
	writeJSONStatus(w, http.StatusOK, body)
}

func writeJSONStatus(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	parts := make([]string, 0, len(body))
	for k, v := range body {
		switch val := v.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%q:%q", k, val))
		case bool:
			parts = append(parts, fmt.Sprintf("%q:%t", k, val))
		default:
			parts = append(parts, fmt.Sprintf("%q:%v", k, val))
		}
	}
	fmt.Fprintf(w, "{%s}", strings.Join(parts, ","))
}

// BroadcastEvent sends an event to all connected WebSocket clients
// directly, bypassing the event bus (used for events generated within
// the gateway itself, such as a synthesized heartbeat).
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.eventBus != nil {
		s.eventBus.Subscribe(c.id, func(event bus.Event) {
			c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
		})
	}

	slog.Info("gateway client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	if s.eventBus != nil {
		s.eventBus.Unsubscribe(c.id)
	}
	slog.Info("gateway client disconnected", "id", c.id)
}
