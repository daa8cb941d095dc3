package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clbanning/mxj/v2"
)

const maxResponseBodySize = 1 << 20 // 1MB

var errBodyTooLarge = errors.New("response body exceeds 1MB")

// connection pooling limits to prevent resource exhaustion when polling many sources
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
	defaultRequestTimeout      = 10 * time.Second
)

// Response holds the result of an HTTP request made by [Client].
//
// A body larger than 1MB is reported as an error rather than truncated.
type Response struct {
	// Body contains the HTTP response body, at most 1MB.
	Body []byte

	// StatusCode is the HTTP status code (e.g., 200, 404, 500).
	// Zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any error that occurred during the request.
	// nil indicates the request completed (though status may indicate an error).
	Error error
}

// RequestOptions are applied to every request a [Client] makes.
type RequestOptions struct {
	// Timeout is used when a source does not set its own. Zero means 10s.
	Timeout time.Duration
	// Headers are sent with every request. Source headers win on conflict.
	Headers map[string]string
	// UserAgent overrides Go's default User-Agent when non-empty.
	UserAgent string
}

// Client is an HTTP client wrapper optimized for polling feed endpoints.
//
// Client uses per-request timeouts via context rather than a global timeout,
// allowing different sources to have different timeout configurations.
// Bodies over 1MB fail the request.
type Client struct {
	httpClient *http.Client
	opts       RequestOptions
}

// NewClient creates a new polling [Client].
//
// The client is configured with connection pooling limits to prevent resource
// exhaustion when polling many sources. Timeouts are applied per-request via
// the context parameter in [Client.Fetch], not as a global client timeout.
func NewClient(opts RequestOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		},
		opts: opts,
	}
}

// Fetch performs an HTTP request and returns a structured [Response].
//
// If method is empty, GET is used. A zero timeout falls back to the client's
// default. Fetch always returns a Response; errors are captured in the Error
// field rather than returned separately.
func (c *Client) Fetch(ctx context.Context, method, url string, headers map[string]string, timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	// one byte past the cap tells a full body from a cut one
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}
	if len(body) > maxResponseBodySize {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      errBodyTooLarge,
		}
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Load fetches src and decodes the body per its format. Every failure is
// wrapped with [ErrFetch]; a non-2xx status counts as a failure.
func (c *Client) Load(ctx context.Context, src Source) (Payload, error) {
	resp := c.Fetch(ctx, src.Method, src.URL, src.Headers, src.Timeout)
	if resp.Error != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrFetch, resp.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Payload{}, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	payload, err := Decode(resp.Body, src.Format)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return payload, nil
}

// Decode parses body per format and prepares the JSON frame pushed to
// clients. Markup is converted to a generic map, attributes prefixed with "-"
// and character data under "#text".
func Decode(body []byte, format Format) (Payload, error) {
	var value any
	switch format {
	case FormatXML:
		m, err := mxj.NewMapXml(body)
		if err != nil {
			return Payload{}, fmt.Errorf("invalid xml: %w", err)
		}
		value = map[string]any(m)
	default:
		if err := json.Unmarshal(body, &value); err != nil {
			return Payload{}, fmt.Errorf("invalid json: %w", err)
		}
	}

	frame, err := json.Marshal(value)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	return Payload{Value: value, Frame: frame}, nil
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
