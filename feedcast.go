package feedcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jpalmerr/feedcast/dashboard"
	"github.com/jpalmerr/feedcast/internal/activity"
	"github.com/jpalmerr/feedcast/internal/interval"
	"github.com/jpalmerr/feedcast/internal/metrics"
	"github.com/jpalmerr/feedcast/internal/poller"
	"github.com/jpalmerr/feedcast/internal/server"
	"github.com/jpalmerr/feedcast/internal/store"
)

const (
	defaultInterval = 2 * time.Second
	defaultPort     = 8080

	defaultMaxConcurrency = 10

	// redisConnectTimeout bounds the initial Redis PING in New.
	redisConnectTimeout = 5 * time.Second
)

// Server polls registered sources and broadcasts changed payloads to the
// websocket clients connected on each source's route.
//
// Polling only happens while at least one client is connected: the last
// disconnect stops every timer and the next connection starts them again.
// Sources that share an interval share a timer.
//
// The typical lifecycle is:
//
//	srv, err := feedcast.New(feedcast.WithHeartbeat(true))
//	if err != nil {
//	    slog.Error("failed to create server", "error", err)
//	    os.Exit(1)
//	}
//	if err := srv.Sources(news, weather); err != nil {
//	    slog.Error("failed to register sources", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	srv.Broadcast(ctx, 8080) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type Server struct {
	cfg       serverConfig
	logger    *slog.Logger
	tracker   *activity.Tracker
	intervals *interval.Manager
	client    *poller.Client
	polls     *poller.Manager
	sessions  store.Store
	http      *server.Server
	collector *metrics.Collector

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New creates a new [Server] with the given options.
//
// Options have sensible defaults:
//   - Default interval: 2 seconds
//   - Port: 8080
//   - Heartbeat: off
//   - Logging: on
//   - Stats: off
//   - Sessions: in memory
//
// Returns an error if any option is invalid or the configured Redis session
// store cannot be reached.
//
// Example:
//
//	srv, err := feedcast.New(
//	    feedcast.WithDefaultInterval(5 * time.Second),
//	    feedcast.WithHeartbeat(true),
//	    feedcast.WithStats(true),
//	)
func New(opts ...Option) (*Server, error) {
	cfg := serverConfig{
		defaultInterval: defaultInterval,
		port:            defaultPort,
		maxConcurrency:  defaultMaxConcurrency,
		logging:         true,
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.logging {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}

	sessions, err := openSessions(cfg.sessions)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		stopped:  make(chan struct{}),
	}

	// stats collaborators stay nil interfaces when stats are disabled
	var (
		activityStats activity.Stats
		pollStats     poller.Stats
		serverStats   server.Stats
		metricsRoute  http.Handler
	)
	if cfg.stats {
		s.collector = metrics.NewCollector()
		activityStats = s.collector
		pollStats = s.collector
		serverStats = s.collector
		metricsRoute = s.collector.Handler()
	}

	s.tracker = activity.NewTracker(logger, activityStats)
	s.intervals = interval.NewManager(cfg.clock, cfg.defaultInterval, logger)
	s.client = poller.NewClient(poller.RequestOptions{
		Timeout:   cfg.request.Timeout,
		Headers:   cfg.request.Headers,
		UserAgent: cfg.request.UserAgent,
	})

	managerOpts := []poller.ManagerOption{
		poller.WithUpdateHook(s.dispatchUpdate),
		poller.WithMaxConcurrency(cfg.maxConcurrency),
	}
	if pollStats != nil {
		managerOpts = append(managerOpts, poller.WithStats(pollStats))
	}
	s.polls = poller.NewManager(s.intervals, s.client, logger, managerOpts...)

	s.http = server.NewServer(s.polls, s.tracker, sessions, server.Config{
		Port:      cfg.port,
		Title:     cfg.title,
		Assets:    dashboard.Assets,
		Heartbeat: cfg.heartbeat,
		Transport: server.TransportOptions{
			ReadBufferSize:    cfg.transport.ReadBufferSize,
			WriteBufferSize:   cfg.transport.WriteBufferSize,
			AllowedOrigins:    cfg.transport.AllowedOrigins,
			EnableCompression: cfg.transport.EnableCompression,
			WriteTimeout:      cfg.transport.WriteTimeout,
			SendBuffer:        cfg.transport.SendBuffer,
		},
		Metrics: metricsRoute,
		Stats:   serverStats,
		Clock:   cfg.clock,
	}, logger)

	return s, nil
}

func openSessions(opts SessionStoreOptions) (store.Store, error) {
	if opts.RedisURL == "" {
		return store.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	rs, err := store.OpenRedis(ctx, opts.RedisURL, opts.RedisKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return rs, nil
}

// Sources registers sources and mounts one websocket route per source at
// /<path>. Types and paths must be unique across all calls. On a duplicate
// nothing from this call is registered and the error wraps
// [ErrDuplicateSource] or [ErrDuplicatePath].
//
// Sources may be called before or after the server starts. Sources added to
// a running server begin polling immediately.
func (s *Server) Sources(sources ...Source) error {
	converted := make([]poller.Source, len(sources))
	for i, src := range sources {
		if src.typ == "" {
			return fmt.Errorf("sources[%d]: source must be created with NewSource", i)
		}
		converted[i] = src.toPollerSource()
	}

	if err := s.polls.AddSources(converted...); err != nil {
		return err
	}
	for _, src := range sources {
		s.http.Route(src.path, src.typ)
	}
	return nil
}

// Start begins polling and, when enabled, the heartbeat. It does not bind a
// port; use it together with [Server.Handler] to serve feedcast from your own
// HTTP server. Start is non-blocking and idempotent. Cancelling ctx stops
// polling and closes every websocket.
func (s *Server) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.polls.Start(ctx)
		go s.intervals.Follow(ctx, s.tracker.Subscribe())
		s.http.StartHeartbeat(ctx)

		go func() {
			<-ctx.Done()
			s.http.CloseConnections()
			s.stop()
		}()
	})
}

// Handler returns the HTTP handler serving the source routes, the status API,
// the dashboard and, when stats are enabled, /metrics. Call [Server.Start]
// so that connected clients receive data.
func (s *Server) Handler() http.Handler {
	return s.http.Handler()
}

// Broadcast starts polling and serves HTTP on port until ctx is cancelled.
//
// Port zero uses the port configured via [WithPort] (8080 by default).
// Broadcast blocks; it returns nil on graceful shutdown and an error if the
// port cannot be bound. Bind failures are not retried.
func (s *Server) Broadcast(ctx context.Context, port int) error {
	if port == 0 {
		port = s.cfg.port
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	// check if context already cancelled
	if ctx.Err() != nil {
		s.stop()
		return nil
	}

	s.http.SetPort(port)
	if err := s.http.Start(ctx); err != nil {
		s.logger.Error("failed to start broadcast server", "port", port, "error", err)
		s.stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.Start(ctx)

	s.logger.Info("feedcast broadcasting",
		"url", fmt.Sprintf("http://localhost:%d", port),
		"default_interval", s.cfg.defaultInterval.String(),
		"heartbeat", s.cfg.heartbeat,
	)

	<-ctx.Done()
	<-s.stopped
	s.logger.Info("feedcast stopped")
	return nil
}

// stop releases the engine. It runs once, after the context passed to Start
// is cancelled or when Broadcast fails to bind.
func (s *Server) stop() {
	s.stopOnce.Do(func() {
		s.polls.Stop()
		s.intervals.Close()
		s.client.Close()
		if err := s.sessions.Close(); err != nil {
			s.logger.Warn("failed to close session store", "error", err)
		}
		close(s.stopped)
	})
}

// Port returns the port [Server.Broadcast] uses when called with port zero.
func (s *Server) Port() int {
	return s.cfg.port
}

// DefaultInterval returns the interval used by sources without their own.
func (s *Server) DefaultInterval() time.Duration {
	return s.cfg.defaultInterval
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	return s.tracker.Count()
}

// Idle reports whether polling is paused because no client is connected.
func (s *Server) Idle() bool {
	return s.intervals.Paused()
}

// dispatchUpdate fans a broadcast out to the registered update callbacks.
func (s *Server) dispatchUpdate(u poller.Update) {
	if len(s.cfg.updateCallbacks) == 0 {
		return
	}
	for _, cb := range s.cfg.updateCallbacks {
		invokeCallbackSafe(cb, Update{
			Source:      u.Source,
			Payload:     copyBytes(u.Frame),
			Subscribers: u.Subscribers,
			ChangedAt:   u.ChangedAt,
		}, s.logger)
	}
}

// copyBytes returns a copy of the byte slice, or nil if input is nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// invokeCallbackSafe calls an update callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Update), u Update, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update callback panicked",
				"panic", r,
				"source", u.Source,
			)
		}
	}()
	cb(u)
}
