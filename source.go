package feedcast

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jpalmerr/feedcast/internal/poller"
)

// reservedPaths are served by feedcast itself and cannot be used as source
// routes.
var reservedPaths = map[string]bool{
	"api/sources":  true,
	"api/sessions": true,
	"metrics":      true,
}

// Source describes one polled endpoint whose payloads are broadcast to the
// websocket clients connected on its route.
//
// Source is immutable after creation via [NewSource]. All fields are private
// with getter methods that return copies of mutable data (maps), ensuring the
// source cannot be modified after construction.
//
// Sources are configured using the functional options pattern with
// [SourceOption] functions such as [WithPath], [WithInterval], [WithXML],
// [WithCompare], [WithMethod], [WithHeaders] and [WithTimeout].
type Source struct {
	typ      string
	path     string
	url      string
	interval time.Duration
	xml      bool
	compare  Comparator
	method   string
	headers  map[string]string
	timeout  time.Duration
}

// Type returns the source's unique type key.
func (s Source) Type() string {
	return s.typ
}

// Path returns the route segment clients connect through, without slashes.
// It defaults to the type.
func (s Source) Path() string {
	return s.path
}

// URL returns the endpoint that is polled.
func (s Source) URL() string {
	return s.url
}

// Interval returns the source's polling interval. Zero means the server's
// default interval configured via [WithDefaultInterval].
func (s Source) Interval() time.Duration {
	return s.interval
}

// XML reports whether the payload is decoded as XML rather than JSON.
func (s Source) XML() bool {
	return s.xml
}

// Compare returns the source's [Comparator], or nil when [EqualComparator]
// applies.
func (s Source) Compare() Comparator {
	return s.compare
}

// Method returns the HTTP method used to poll. Empty means GET.
func (s Source) Method() string {
	return s.method
}

// Headers returns a copy of the custom HTTP headers sent with every poll.
// Returns nil if no custom headers are set.
func (s Source) Headers() map[string]string {
	return copyMap(s.headers)
}

// Timeout returns the request timeout. Zero means the server's request
// default.
func (s Source) Timeout() time.Duration {
	return s.timeout
}

// NewSource creates a [Source] with the given type, URL and options.
//
// The type is the source's unique key; connections on the source's route
// receive its payloads. rawURL must be a valid URL with a scheme (http:// or
// https://).
//
// Returns an error if the type is empty, the URL is invalid or the route
// path is unusable.
//
// Example:
//
//	src, err := feedcast.NewSource("json-example", "https://example.com/feed.json",
//	    feedcast.WithInterval(2 * time.Second),
//	    feedcast.WithCompare(feedcast.FieldComparator("0.pubDate")),
//	)
func NewSource(sourceType, rawURL string, opts ...SourceOption) (Source, error) {
	if strings.TrimSpace(sourceType) == "" {
		return Source{}, errors.New("source type cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return Source{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme == "" {
		return Source{}, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &sourceConfig{
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Source{}, err
		}
	}

	path := cfg.path
	if path == "" {
		path = sourceType
	}
	path, err = cleanPath(path)
	if err != nil {
		return Source{}, fmt.Errorf("source %q: %w", sourceType, err)
	}

	return Source{
		typ:      sourceType,
		path:     path,
		url:      rawURL,
		interval: cfg.interval,
		xml:      cfg.xml,
		compare:  cfg.compare,
		method:   cfg.method,
		headers:  cfg.headers,
		timeout:  cfg.timeout,
	}, nil
}

// cleanPath trims surrounding slashes and rejects paths that cannot be
// served as a route.
func cleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", errors.New("path cannot be empty")
	}
	if strings.ContainsAny(path, " \t\n?#") {
		return "", fmt.Errorf("path %q contains characters not allowed in a route", path)
	}
	if reservedPaths[path] {
		return "", fmt.Errorf("path %q is reserved", path)
	}
	return path, nil
}

// toPollerSource converts a Source to the poller's representation.
func (s Source) toPollerSource() poller.Source {
	format := poller.FormatJSON
	if s.xml {
		format = poller.FormatXML
	}

	compare := s.compare
	if compare == nil {
		compare = EqualComparator
	}

	return poller.Source{
		Type:    s.typ,
		Path:    s.path,
		URL:     s.url,
		Period:  s.interval,
		Format:  format,
		Compare: poller.Comparator(compare),
		Method:  s.method,
		Headers: copyMap(s.headers),
		Timeout: s.timeout,
	}
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
