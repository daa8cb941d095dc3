package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/jpalmerr/feedcast/internal/poller"
	"github.com/jpalmerr/feedcast/internal/store"
)

const (
	// DefaultHeartbeatInterval is the liveness ping period.
	DefaultHeartbeatInterval = 20 * time.Second

	// shutdownTimeout bounds graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second

	// storeTimeout bounds a single session store call.
	storeTimeout = 2 * time.Second

	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 16
	defaultBufferSize   = 1024

	// clients only answer pings, so inbound messages stay small
	maxMessageSize = 4096

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "feedcast"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// Poller attaches connections to sources and reports their status.
type Poller interface {
	OpenClientPoll(sourceType string, conn poller.Conn) error
	Snapshot() []poller.SourceStatus
}

// Tracker is notified of every connection open and close.
type Tracker interface {
	Opened()
	Closed()
}

// Stats receives transport events. Implementations must not block.
type Stats interface {
	HeartbeatTimeout()
}

// TransportOptions tune the websocket transport.
type TransportOptions struct {
	// ReadBufferSize and WriteBufferSize size the upgrader's I/O buffers.
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins restricts the Origin header. Empty allows any origin;
	// "*" in the list does the same.
	AllowedOrigins []string
	// EnableCompression negotiates per-message compression.
	EnableCompression bool
	// WriteTimeout bounds a single frame write. Zero means 5s.
	WriteTimeout time.Duration
	// SendBuffer is the number of frames queued per connection. Zero means 16.
	SendBuffer int
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = defaultBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = defaultBufferSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	return o
}

// Config holds everything the server needs besides its collaborators.
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int
	// Title is substituted into the dashboard page.
	Title string
	// Assets contains assets/index.html. nil disables the dashboard.
	Assets fs.FS
	// Heartbeat enables liveness pings.
	Heartbeat bool
	// HeartbeatInterval is the ping period. Zero means 20s.
	HeartbeatInterval time.Duration
	// Transport tunes the websocket transport.
	Transport TransportOptions
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Stats receives heartbeat timeouts. May be nil.
	Stats Stats
	// Clock drives the heartbeat. nil means the real clock.
	Clock clockwork.Clock
}

// Server exposes one websocket route per source plus the status API and
// dashboard.
//
// Server provides these endpoints:
//   - GET /<path>: websocket stream of one source's payloads
//   - GET /api/sources: JSON snapshot of every source
//   - GET /api/sessions: JSON list of live connections
//   - GET /metrics: Prometheus metrics, when configured
//   - GET /: the embedded dashboard
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	poller   Poller
	tracker  Tracker
	sessions store.Store
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu     sync.Mutex
	routes map[string]string
	conns  map[string]*wsConn

	httpServer    *http.Server
	addr          net.Addr
	heartbeatOnce sync.Once
}

// NewServer creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called; until then
// [Server.Handler] can be mounted elsewhere.
func NewServer(p Poller, tracker Tracker, sessions store.Store, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = store.NewMemoryStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	cfg.Transport = cfg.Transport.withDefaults()

	s := &Server{
		poller:   p,
		tracker:  tracker,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		routes:   make(map[string]string),
		conns:    make(map[string]*wsConn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.Transport.ReadBufferSize,
		WriteBufferSize:   cfg.Transport.WriteBufferSize,
		EnableCompression: cfg.Transport.EnableCompression,
		CheckOrigin:       s.checkOrigin,
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/sources", s.handleSources)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	if cfg.Metrics != nil {
		s.mux.Handle("/metrics", cfg.Metrics)
	}
	s.mux.HandleFunc("/", s.handleRoot)
	return s
}

// Route exposes the source registered as sourceType at /<path>. Routes can be
// added while the server is running.
func (s *Server) Route(path, sourceType string) {
	path = strings.Trim(path, "/")

	s.mu.Lock()
	s.routes[path] = sourceType
	s.mu.Unlock()

	s.logger.Debug("route mounted", "path", "/"+path, "source", sourceType)
}

// SetPort changes the port [Server.Start] binds. It has no effect once the
// server is listening.
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	s.cfg.Port = port
	s.mu.Unlock()
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the bound address once [Server.Start] has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point every websocket is closed and a graceful shutdown
// runs with a 5-second timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	port := s.cfg.Port
	s.mu.Unlock()

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", port, err)
	}

	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.StartHeartbeat(ctx)

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		// hijacked websocket connections are not tracked by Shutdown
		s.CloseConnections()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// StartHeartbeat starts liveness pings until ctx is cancelled. It is a no-op
// when the heartbeat is disabled or already running. [Server.Start] calls it;
// callers serving [Server.Handler] themselves call it directly.
func (s *Server) StartHeartbeat(ctx context.Context) {
	if !s.cfg.Heartbeat {
		return
	}
	s.heartbeatOnce.Do(func() {
		go s.runHeartbeat(ctx)
	})
}

// handleRoot dispatches websocket routes and serves the dashboard at "/".
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")

	if path == "" && !websocket.IsWebSocketUpgrade(r) {
		s.handleDashboard(w, r)
		return
	}

	s.mu.Lock()
	sourceType, ok := s.routes[path]
	s.mu.Unlock()

	if !ok {
		if !websocket.IsWebSocketUpgrade(r) {
			http.NotFound(w, r)
			return
		}
		// an unregistered route still upgrades; the poller reports it and the
		// connection simply never receives data
		sourceType = path
	}
	s.handleWebSocket(w, r, sourceType)
}

// handleWebSocket upgrades the request and serves the connection until it
// closes. The handler goroutine doubles as the connection's read loop, which
// is what processes pongs and notices disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, sourceType string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warn("websocket upgrade failed", "source", sourceType, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	conn := newWSConn(uuid.NewString(), sourceType, r.RemoteAddr, ws, s.cfg.Transport, s.cfg.Clock.Now())
	s.register(r.Context(), conn)

	conn.run(func(err error) {
		s.logger.Debug("websocket write failed", "connection_id", conn.ID(), "error", err)
		conn.close(0, "")
	})

	if err := s.poller.OpenClientPoll(sourceType, conn); err != nil {
		s.logger.Debug("connection left without data", "connection_id", conn.ID(), "error", err)
	}

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	conn.close(0, "")
	conn.wait()
}

// register records conn and arranges its cleanup. Cleanup is the first close
// observer, so the tracker learns about the close before the poller detaches.
func (s *Server) register(ctx context.Context, conn *wsConn) {
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Opened()
	}
	s.putSession(ctx, conn)

	s.logger.Info("client connected",
		"connection_id", conn.ID(),
		"source", conn.source,
		"remote_addr", conn.remoteAddr,
	)

	conn.OnClose(func() {
		s.mu.Lock()
		delete(s.conns, conn.ID())
		s.mu.Unlock()

		if s.tracker != nil {
			s.tracker.Closed()
		}
		s.deleteSession(conn)

		s.logger.Info("client disconnected",
			"connection_id", conn.ID(),
			"source", conn.source,
		)
	})
}

func (s *Server) putSession(ctx context.Context, conn *wsConn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	err := s.sessions.Put(ctx, store.Session{
		ID:          conn.ID(),
		Source:      conn.source,
		RemoteAddr:  conn.remoteAddr,
		ConnectedAt: conn.connectedAt,
	})
	if err != nil {
		s.logger.Warn("failed to store session", "connection_id", conn.ID(), "error", err)
	}
}

func (s *Server) deleteSession(conn *wsConn) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.sessions.Delete(ctx, conn.ID()); err != nil {
		s.logger.Warn("failed to delete session", "connection_id", conn.ID(), "error", err)
	}
}

// snapshotConns returns the open connections without holding the lock while
// they are used.
func (s *Server) snapshotConns() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// CloseConnections closes every open websocket with a going-away frame.
func (s *Server) CloseConnections() {
	for _, c := range s.snapshotConns() {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Transport.AllowedOrigins
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no Origin
		return true
	}
	return slices.Contains(allowed, origin)
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Assets == nil {
		http.NotFound(w, r)
		return
	}

	// read index.html from embedded assets
	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	title := s.cfg.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleSources returns the status of every source as JSON.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.poller.Snapshot())
}

// handleSessions returns the live connections as JSON.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, sessions)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
