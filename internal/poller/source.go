package poller

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateSource is returned when a source type is registered twice.
	ErrDuplicateSource = errors.New("duplicate source type")

	// ErrDuplicatePath is returned when two sources would share a route.
	ErrDuplicatePath = errors.New("duplicate source path")

	// ErrUnknownSource is returned when a connection asks for a source type
	// that was never registered. It is not fatal to the server.
	ErrUnknownSource = errors.New("unknown source type")

	// ErrFetch wraps every failure of a single fetch-and-decode cycle.
	ErrFetch = errors.New("fetch failed")
)

// Format selects how a fetched body is decoded.
type Format int

const (
	// FormatJSON decodes the body as JSON.
	FormatJSON Format = iota
	// FormatXML decodes markup into a generic map.
	FormatXML
)

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatXML {
		return "xml"
	}
	return "json"
}

// Comparator reports whether next is unchanged relative to prev.
//
// It is only called once a payload has been broadcast, so prev is never nil.
// The first successful poll is always a change. Only a true result suppresses
// a broadcast; anything else counts as a change.
type Comparator func(prev, next any) bool

// Source is the poller-internal description of one polled endpoint.
//
// Source is decoupled from the public feedcast.Source type to avoid a
// dependency cycle.
type Source struct {
	// Type is the unique registry key.
	Type string
	// Path is the route segment clients connect through.
	Path string
	// URL is the endpoint to fetch.
	URL string
	// Period is the polling period; zero means the interval default.
	Period time.Duration
	// Format selects the body decoder.
	Format Format
	// Compare detects unchanged payloads. nil falls back to deep equality.
	Compare Comparator
	// Method is the HTTP method; empty means GET.
	Method string
	// Headers are sent with every request for this source.
	Headers map[string]string
	// Timeout bounds one request; zero means the client default.
	Timeout time.Duration
}

// Payload is one successfully decoded poll result.
type Payload struct {
	// Value is the decoded body handed to the comparator.
	Value any
	// Frame is the JSON encoding of Value pushed to clients.
	Frame []byte
}

// Conn is a subscriber connection as seen by the [Manager].
//
// Implementations are owned by the transport. The Manager only keys on ID,
// pushes through Send and observes closure through OnClose.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Send enqueues a frame without blocking. It returns an error if the
	// connection is closed or cannot accept the frame.
	Send(data []byte) error
	// OnClose registers fn to run synchronously when the connection closes.
	// If the connection is already closed fn runs immediately.
	OnClose(fn func())
}

// Ticker hands out tick streams keyed by period.
type Ticker interface {
	Subscribe(period time.Duration) (<-chan time.Time, func())
}

// Fetcher performs one fetch-and-decode cycle for a source.
type Fetcher interface {
	Load(ctx context.Context, src Source) (Payload, error)
}
