package feedcast

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// serverConfig holds mutable state during Server construction.
type serverConfig struct {
	title           string
	defaultInterval time.Duration
	heartbeat       bool
	request         RequestOptions
	sessions        SessionStoreOptions
	transport       TransportOptions
	logging         bool
	stats           bool
	port            int
	maxConcurrency  int
	logger          *slog.Logger
	clock           clockwork.Clock
	updateCallbacks []func(Update)
}

// RequestOptions apply to every poll request.
type RequestOptions struct {
	// Timeout is used by sources that do not set their own. Zero means 10s.
	Timeout time.Duration
	// Headers are sent with every request. Source headers win on conflict.
	Headers map[string]string
	// UserAgent overrides Go's default User-Agent when non-empty.
	UserAgent string
}

// SessionStoreOptions select where live connections are recorded.
type SessionStoreOptions struct {
	// RedisURL, when set, keeps sessions in Redis instead of memory, for
	// example "redis://localhost:6379/0".
	RedisURL string
	// RedisKey names the Redis hash. Empty means "feedcast:sessions".
	RedisKey string
}

// TransportOptions tune the websocket transport.
type TransportOptions struct {
	// ReadBufferSize and WriteBufferSize size the websocket I/O buffers.
	// Zero means 1024 bytes.
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins restricts the browser Origin header. Empty allows any.
	AllowedOrigins []string
	// EnableCompression negotiates per-message compression.
	EnableCompression bool
	// WriteTimeout bounds a single frame write. Zero means 5s.
	WriteTimeout time.Duration
	// SendBuffer is the number of frames queued per connection before
	// pushes to it fail. Zero means 16.
	SendBuffer int
}

// Option is a function that configures a [Server] during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*serverConfig) error

// WithDefaultInterval sets the polling interval used by sources that do not
// set their own via [WithInterval]. Defaults to 2 seconds.
//
// Returns an error if the duration is zero or negative.
func WithDefaultInterval(d time.Duration) Option {
	return func(cfg *serverConfig) error {
		if d <= 0 {
			return errors.New("default interval must be positive")
		}
		cfg.defaultInterval = d
		return nil
	}
}

// WithHeartbeat enables liveness checking. Every 20 seconds each open
// connection is pinged, and one that did not answer the previous ping is
// closed. Disabled by default.
func WithHeartbeat(enabled bool) Option {
	return func(cfg *serverConfig) error {
		cfg.heartbeat = enabled
		return nil
	}
}

// WithRequestOptions sets request defaults applied to every poll.
//
// Returns an error if the timeout is negative.
func WithRequestOptions(opts RequestOptions) Option {
	return func(cfg *serverConfig) error {
		if opts.Timeout < 0 {
			return errors.New("request timeout cannot be negative")
		}
		opts.Headers = copyMap(opts.Headers)
		cfg.request = opts
		return nil
	}
}

// WithSessionStore selects where live connections are recorded. Sessions are
// kept in memory unless a Redis URL is given.
//
// Example:
//
//	srv, err := feedcast.New(
//	    feedcast.WithSessionStore(feedcast.SessionStoreOptions{
//	        RedisURL: "redis://localhost:6379/0",
//	    }),
//	)
func WithSessionStore(opts SessionStoreOptions) Option {
	return func(cfg *serverConfig) error {
		cfg.sessions = opts
		return nil
	}
}

// WithTransportOptions tunes the websocket transport.
//
// Returns an error if any size or timeout is negative.
func WithTransportOptions(opts TransportOptions) Option {
	return func(cfg *serverConfig) error {
		if opts.ReadBufferSize < 0 || opts.WriteBufferSize < 0 || opts.SendBuffer < 0 {
			return errors.New("transport buffer sizes cannot be negative")
		}
		if opts.WriteTimeout < 0 {
			return errors.New("transport write timeout cannot be negative")
		}
		opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
		cfg.transport = opts
		return nil
	}
}

// WithLogging turns logging on or off. Enabled by default; when disabled
// nothing is logged regardless of [WithLogger].
func WithLogging(enabled bool) Option {
	return func(cfg *serverConfig) error {
		cfg.logging = enabled
		return nil
	}
}

// WithStats enables Prometheus metrics, served at /metrics. Disabled by
// default.
func WithStats(enabled bool) Option {
	return func(cfg *serverConfig) error {
		cfg.stats = enabled
		return nil
	}
}

// WithPort sets the port [Server.Broadcast] listens on when called with port
// zero. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *serverConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency limits how many poll requests run at once across all
// sources. Defaults to 10.
//
// Returns an error if n is not positive.
func WithMaxConcurrency(n int) Option {
	return func(cfg *serverConfig) error {
		if n < 1 {
			return errors.New("max concurrency must be at least 1")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Server.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serverConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock sets the clock that drives polling intervals and the heartbeat.
// It exists for tests, which pass a [clockwork.FakeClock].
//
// Returns an error if the clock is nil.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *serverConfig) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clock
		return nil
	}
}

// WithUpdateCallback registers a function to be called after every broadcast.
//
// The callback receives an [Update] naming the source, the frame that was
// pushed and how many connections it went to. Unchanged polls and failed
// fetches do not invoke it.
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the source's polling
// goroutine, so a slow callback delays that source's next tick.
//
// Panics within callbacks are recovered and logged. Nil callbacks are
// silently ignored.
func WithUpdateCallback(cb func(Update)) Option {
	return func(cfg *serverConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "feedcast".
func WithTitle(title string) Option {
	return func(cfg *serverConfig) error {
		cfg.title = title
		return nil
	}
}
