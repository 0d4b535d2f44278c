// Package sink runs a local relay endpoint for development: it
// accepts the credential-then-JSON convention the client speaks,
// records every input as an event, and echoes event envelopes to all
// connected clients. It stands in for the real service when testing
// capture and relay end to end.
package sink

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sight-dev/sight/pkg/sensory"
)

const (
	defaultMessagesLimit = 200
	maxMessagesLimit     = 1000
	closeWriteTimeout    = time.Second
)

// Server is the development sink. Create one with New and mount
// Routes on an http.Server.
type Server struct {
	token   string
	logger  *slog.Logger
	metrics *metrics
	history *history

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	// Serializes frame writes: broadcasts run on every reader
	// goroutine and gorilla connections allow one writer at a time.
	writeMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistorySize caps how many events /messages can return.
func WithHistorySize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.history = newHistory(n)
		}
	}
}

// New creates a sink that accepts any user paired with token.
func New(token string, opts ...Option) *Server {
	s := &Server{
		token:   token,
		logger:  slog.Default(),
		metrics: newMetrics(),
		history: newHistory(defaultHistorySize),
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local dev tool, any origin may connect
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the sink's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleWebSocket)
	r.Get("/messages", s.handleMessages)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	return r
}

// handleWebSocket upgrades the connection, authenticates the first
// frame, then records every subsequent text frame as input.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	user, ok := s.authenticate(conn)
	if !ok {
		return
	}

	s.register(conn)
	defer s.unregister(conn)
	s.logger.Info("client connected", "user", user, "clients", s.ClientCount())

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("client disconnected", "user", user, "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleInput(user, data)
	}
}

// authenticate reads the first frame and checks it against the
// configured token. Failures send a close frame: 1002 when the frame
// is not text, 1008 when the credential does not match.
func (s *Server) authenticate(conn *websocket.Conn) (string, bool) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		s.logger.Debug("client left before authenticating", "error", err)
		return "", false
	}
	if msgType != websocket.TextMessage {
		s.metrics.authFailures.Inc()
		s.logger.Warn("auth rejected", "reason", "non-text first frame")
		s.closeWith(conn, websocket.CloseProtocolError)
		return "", false
	}

	cred, ok := sensory.ParseCredential(string(data))
	if !ok || cred.Token != s.token {
		s.metrics.authFailures.Inc()
		s.logger.Warn("auth rejected", "reason", "invalid credential", "user", cred.User)
		s.closeWith(conn, websocket.ClosePolicyViolation)
		return "", false
	}
	return cred.User, true
}

// closeWith sends a close frame; the caller's deferred Close tears
// down the socket.
func (s *Server) closeWith(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "auth failed")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
		s.logger.Debug("close frame write failed", "error", err)
	}
}

// handleInput parses one inbound text frame. Valid observations
// become user events; malformed input is recorded as a system event
// so misbehaving clients stay visible in the history.
func (s *Server) handleInput(user string, data []byte) {
	s.metrics.payloadBytes.Observe(float64(len(data)))

	msg, err := sensory.DecodeMessage(data)
	if err != nil {
		if errors.Is(err, sensory.ErrInvalidType) {
			s.metrics.messagesTotal.WithLabelValues("invalid_type").Inc()
			s.recordSystemEvent("invalid input type")
		} else {
			s.metrics.messagesTotal.WithLabelValues("invalid_payload").Inc()
			s.recordSystemEvent("invalid input payload")
		}
		return
	}
	s.metrics.messagesTotal.WithLabelValues(msg.Type).Inc()
	s.logger.Debug("input received", "user", user, "type", msg.Type, "chars", len(msg.Text))

	event, err := sensory.NewEvent("user", "text",
		map[string]string{"text": msg.Text},
		[]string{"input", "type:" + msg.Type},
	)
	if err != nil {
		s.logger.Warn("build event failed", "error", err)
		return
	}
	s.record(event)
}

func (s *Server) recordSystemEvent(text string) {
	event, err := sensory.NewEvent("system", "text",
		map[string]string{"text": text},
		[]string{"error"},
	)
	if err != nil {
		return
	}
	s.record(event)
}

// record appends the event to history and echoes it to every client.
func (s *Server) record(event sensory.Event) {
	s.metrics.eventsTotal.Inc()
	s.history.add(event)
	s.broadcast(event)
	s.logger.Info("event recorded", "source", event.Source, "tags", event.Meta.Tags)
}

// broadcast sends an event envelope to all connected clients,
// dropping any client whose write fails.
func (s *Server) broadcast(event sensory.Event) {
	data, err := sensory.EncodeEnvelope(sensory.WrapEvent(event))
	if err != nil {
		s.logger.Warn("encode event failed", "error", err)
		return
	}

	s.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("dropping unwritable client", "error", err)
			s.unregister(conn)
			conn.Close()
		}
	}
}

func (s *Server) register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[conn] = true
	s.metrics.connectedClients.Inc()
}

// unregister is idempotent: a client can be dropped by both its read
// loop and a failed broadcast write.
func (s *Server) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		s.metrics.connectedClients.Dec()
	}
}

// ClientCount returns the number of authenticated clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close drops every connected client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
		s.metrics.connectedClients.Dec()
	}
}

type messagesResponse struct {
	Events []sensory.Event `json:"events"`
}

// handleMessages returns recent events, oldest first. Query params:
// limit (default 200, max 1000) and tag (comma-separated, events
// must carry all of them).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessagesLimit)
	}

	var tags []string
	for _, tag := range strings.Split(r.URL.Query().Get("tag"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := messagesResponse{Events: s.history.latest(limit, tags)}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode messages response failed", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}
