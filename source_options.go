package feedcast

import (
	"errors"
	"net/http"
	"time"
)

// sourceConfig holds mutable state during source construction.
type sourceConfig struct {
	path     string
	interval time.Duration
	xml      bool
	compare  Comparator
	method   string
	headers  map[string]string
	timeout  time.Duration
}

// SourceOption is a function that configures a [Source] during construction.
//
// SourceOption implements the functional options pattern, allowing optional
// configuration to be passed to [NewSource] in a type-safe, extensible way.
// Options return an error if validation fails.
type SourceOption func(*sourceConfig) error

// WithPath sets the route clients connect through. Surrounding slashes are
// ignored, so "news", "/news" and "/news/" are the same route. Defaults to
// the source type.
//
// Example:
//
//	src, err := feedcast.NewSource("bbc-news", url,
//	    feedcast.WithPath("news/bbc"),
//	)
func WithPath(path string) SourceOption {
	return func(cfg *sourceConfig) error {
		if path == "" {
			return errors.New("path cannot be empty")
		}
		cfg.path = path
		return nil
	}
}

// WithInterval sets how often this source is polled while clients are
// connected. Sources with the same interval share one timer.
//
// If not specified, the source uses the server's default interval
// configured via [WithDefaultInterval].
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) SourceOption {
	return func(cfg *sourceConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithXML decodes the payload as XML. The document is converted to a generic
// map, attributes prefixed with "-" and character data stored under "#text",
// and broadcast as JSON.
func WithXML() SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.xml = true
		return nil
	}
}

// WithCompare sets the [Comparator] that decides whether a poll changed
// anything. A nil comparator means [EqualComparator].
//
// Example:
//
//	src, err := feedcast.NewSource("json-example", url,
//	    feedcast.WithCompare(func(prev, next any) bool {
//	        // caller owns the shape of the payload
//	        p, _ := prev.([]any)
//	        n, _ := next.([]any)
//	        return len(p) > 0 && len(n) > 0 && reflect.DeepEqual(p[0], n[0])
//	    }),
//	)
func WithCompare(c Comparator) SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.compare = c
		return nil
	}
}

// WithMethod sets the HTTP method used to poll.
//
// Supported methods are GET (default) and POST.
//
// Returns an error for any other method.
func WithMethod(method string) SourceOption {
	return func(cfg *sourceConfig) error {
		switch method {
		case http.MethodGet, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET or POST")
		}
	}
}

// WithHeaders adds custom HTTP headers to poll requests for this source.
// They take precedence over headers set via [WithRequestOptions].
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	src, err := feedcast.NewSource("news", url,
//	    feedcast.WithHeaders("Authorization", "Bearer token123"),
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) SourceOption {
	return func(cfg *sourceConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the HTTP request timeout for this source. A poll that does
// not complete in time is skipped and retried on the next tick.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) SourceOption {
	return func(cfg *sourceConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}
