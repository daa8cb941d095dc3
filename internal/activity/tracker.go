package activity

import (
	"log/slog"
	"sync"
)

// Stats receives connection statistics from a [Tracker].
//
// Implementations must be safe for concurrent use and must not block.
type Stats interface {
	// SetConnections reports the current number of open connections.
	SetConnections(n int)
	// ActivityChanged reports a transition of the idle signal.
	ActivityChanged(empty bool)
}

// Tracker observes connection open/close events and maintains the derived
// "no active connections" signal.
//
// The signal starts as empty (no connections). Every subscriber channel is a
// one-slot, latest-wins channel: a subscriber that falls behind only ever sees
// the most recent value, never a stale one.
type Tracker struct {
	mu    sync.Mutex
	count int
	empty bool
	subs  []chan bool

	logger *slog.Logger
	stats  Stats
}

// NewTracker creates a [Tracker] with zero open connections.
// stats may be nil.
func NewTracker(logger *slog.Logger, stats Stats) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		empty:  true,
		logger: logger,
		stats:  stats,
	}
}

// Opened records a newly opened connection.
func (t *Tracker) Opened() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.recompute()
}

// Closed records a closed connection. Extra calls never drive the count
// below zero.
func (t *Tracker) Closed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return
	}
	t.count--
	t.recompute()
}

// Count returns the number of open connections.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// IsEmpty reports whether no connection is open.
func (t *Tracker) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.empty
}

// Subscribe returns a channel that receives the idle signal whenever it
// changes. The channel is seeded with the current value.
func (t *Tracker) Subscribe() <-chan bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan bool, 1)
	ch <- t.empty
	t.subs = append(t.subs, ch)
	return ch
}

// recompute must be called with mu held.
func (t *Tracker) recompute() {
	if t.stats != nil {
		t.stats.SetConnections(t.count)
	}

	empty := t.count == 0
	if empty == t.empty {
		return
	}
	t.empty = empty

	if empty {
		t.logger.Info("no clients connected, polling paused")
	} else {
		t.logger.Info("client connected, polling resumed", "connections", t.count)
	}
	if t.stats != nil {
		t.stats.ActivityChanged(empty)
	}

	for _, ch := range t.subs {
		// drop a value the subscriber has not consumed yet, it is stale now
		select {
		case <-ch:
		default:
		}
		ch <- empty
	}
}
