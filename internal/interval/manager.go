// Package interval multiplexes polling cadences onto shared tickers.
//
// A [Manager] keeps exactly one ticker per distinct period, no matter how many
// sources poll at that period. All tickers are gated by a single activity
// signal: while no client is connected the tickers are stopped outright, and
// they are recreated when activity returns.
package interval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Manager owns one shared ticker per distinct period.
//
// All methods are safe for concurrent use. A Manager starts paused; call
// [Manager.SetActive] or [Manager.Follow] to let it tick.
type Manager struct {
	clock         clockwork.Clock
	defaultPeriod time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	regs    map[time.Duration]*registration
	active  bool
	changed chan struct{} // closed and replaced whenever active flips
	nextID  int
	closed  bool
	wg      sync.WaitGroup
}

// registration is the shared timer for one period. refs mirrors len(subs) and
// the registration is torn down when it reaches zero.
type registration struct {
	period time.Duration
	subs   map[int]chan time.Time
	refs   int
	done   chan struct{}
}

// NewManager creates a paused [Manager]. Periods passed to
// [Manager.Subscribe] that are zero or negative use defaultPeriod.
func NewManager(clock clockwork.Clock, defaultPeriod time.Duration, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clock:         clock,
		defaultPeriod: defaultPeriod,
		logger:        logger,
		regs:          make(map[time.Duration]*registration),
		changed:       make(chan struct{}),
	}
}

// Subscribe returns a tick stream for period and a release function.
//
// The first subscription for a period lazily creates its ticker; later
// subscriptions share it. Each stream has a one-slot buffer: a subscriber that
// is still busy when the next tick fires misses that tick rather than queueing
// it. Calling release stops delivery to this stream (the channel is not
// closed) and tears the ticker down with the last subscriber. release is
// idempotent.
func (m *Manager) Subscribe(period time.Duration) (<-chan time.Time, func()) {
	if period <= 0 {
		period = m.defaultPeriod
	}
	ch := make(chan time.Time, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ch, func() {}
	}

	reg, ok := m.regs[period]
	if !ok {
		reg = &registration{
			period: period,
			subs:   make(map[int]chan time.Time),
			done:   make(chan struct{}),
		}
		m.regs[period] = reg
		m.wg.Add(1)
		go m.run(reg)
		m.logger.Debug("interval timer created", "period", period.String())
	}

	id := m.nextID
	m.nextID++
	reg.subs[id] = ch
	reg.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(reg, id) })
	}
	return ch, release
}

func (m *Manager) release(reg *registration, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := reg.subs[id]; !ok {
		return
	}
	delete(reg.subs, id)
	reg.refs--
	// a registration missing from the map was already shut down by Close
	if reg.refs > 0 || m.regs[reg.period] != reg {
		return
	}
	delete(m.regs, reg.period)
	close(reg.done)
	m.logger.Debug("interval timer released", "period", reg.period.String())
}

// SetActive resumes (true) or suspends (false) every ticker. Repeating the
// current state is a no-op.
func (m *Manager) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == active {
		return
	}
	m.active = active
	close(m.changed)
	m.changed = make(chan struct{})
}

// Follow drives the Manager from an idle signal (true meaning no client is
// connected) until ctx is cancelled or the signal channel is closed.
func (m *Manager) Follow(ctx context.Context, idle <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case empty, ok := <-idle:
			if !ok {
				return
			}
			m.SetActive(!empty)
		}
	}
}

// Paused reports whether tickers are currently suspended.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.active
}

// TimerCount returns the number of distinct periods with a live registration.
func (m *Manager) TimerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// Close stops every ticker and waits for their goroutines to exit. Subscribe
// after Close returns a stream that never ticks.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for period, reg := range m.regs {
			delete(m.regs, period)
			close(reg.done)
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// run alternates between waiting for activity and ticking until the
// registration is released.
func (m *Manager) run(reg *registration) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		active, changed := m.active, m.changed
		m.mu.Unlock()

		if !active {
			select {
			case <-changed:
				continue
			case <-reg.done:
				return
			}
		}

		if stop := m.tick(reg, changed); stop {
			return
		}
	}
}

// tick owns one ticker for the lifetime of an active phase. It reports true
// when the registration has been released.
func (m *Manager) tick(reg *registration, changed <-chan struct{}) bool {
	ticker := m.clock.NewTicker(reg.period)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.Chan():
			m.fanOut(reg, t)
		case <-changed:
			return false
		case <-reg.done:
			return true
		}
	}
}

func (m *Manager) fanOut(reg *registration, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a tick racing with a pause is dropped
	if !m.active {
		return
	}
	for _, ch := range reg.subs {
		select {
		case ch <- t:
		default:
			// subscriber still busy with the previous tick
		}
	}
}
