package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Session records one live client connection.
//
// Session is the storage representation of a connection, optimized for JSON
// serialization (used by the status API and the Redis store). It is decoupled
// from the transport's connection type so stores never hold sockets.
type Session struct {
	// ID is the connection ID.
	ID string `json:"id"`

	// Source is the type of the source the connection subscribed to.
	Source string `json:"source"`

	// RemoteAddr is the client's address as seen by the server.
	RemoteAddr string `json:"remote_addr"`

	// ConnectedAt is when the connection was upgraded.
	ConnectedAt time.Time `json:"connected_at"`
}

// Store keeps the sessions of live connections.
//
// Store implementations must be safe for concurrent access. A session is put
// when its connection opens and deleted when it closes, so the store always
// mirrors the connections currently held by the server.
type Store interface {
	// Put stores a session keyed by its ID, replacing any previous value.
	Put(ctx context.Context, s Session) error

	// Get returns the session with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Session, error)

	// Delete removes a session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// List returns a snapshot of all sessions ordered by connection time.
	List(ctx context.Context) ([]Session, error)

	// Close releases any resources held by the store.
	Close() error
}
