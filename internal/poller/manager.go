package poller

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stats receives poll outcomes from a [Manager]. Implementations must not block.
type Stats interface {
	PollCompleted(source string, changed bool)
	FetchFailed(source string)
}

// Update describes one broadcast change.
type Update struct {
	// Source is the type of the source that changed.
	Source string
	// Frame is the JSON frame that was pushed.
	Frame []byte
	// Subscribers is the number of connections the frame was pushed to.
	Subscribers int
	// ChangedAt is when the change was detected.
	ChangedAt time.Time
}

// SourceStatus is a point-in-time view of one registered source.
type SourceStatus struct {
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	PeriodMs    int64     `json:"period_ms"`
	Subscribers int       `json:"subscribers"`
	HasPayload  bool      `json:"has_payload"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithUpdateHook registers fn to run after every broadcast. fn runs on the
// source's polling goroutine, outside the subscriber lock.
func WithUpdateHook(fn func(Update)) ManagerOption {
	return func(m *Manager) {
		m.onUpdate = fn
	}
}

// WithMaxConcurrency limits how many fetches run at once across all sources.
// Sources whose tick arrives while the limit is reached wait for a slot.
// n <= 0 means no limit.
func WithMaxConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		}
	}
}

// WithStats reports poll outcomes to stats.
func WithStats(stats Stats) ManagerOption {
	return func(m *Manager) {
		m.stats = stats
	}
}

// Manager owns the source registry and runs each source's
// fetch/compare/fan-out cycle.
//
// Every source gets its own goroutine consuming its tick stream, so one
// source's cycles never overlap while different sources proceed
// independently. Subscriber sets and last payloads are guarded per source;
// the fetch runs outside that lock, the compare and fan-out inside it.
type Manager struct {
	ticker  Ticker
	fetcher Fetcher
	logger  *slog.Logger

	onUpdate func(Update)
	stats    Stats
	slots    chan struct{}

	mu      sync.Mutex
	sources map[string]*sourceState
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type sourceState struct {
	src Source

	mu        sync.Mutex
	last      *Payload
	updatedAt time.Time
	subs      map[string]Conn
}

// NewManager creates a [Manager]. Sources are added with
// [Manager.AddSources] and start ticking once [Manager.Start] is called.
func NewManager(ticker Ticker, fetcher Fetcher, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		ticker:  ticker,
		fetcher: fetcher,
		logger:  logger,
		sources: make(map[string]*sourceState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSources registers sources. Types and route paths must be unique across
// the registry and within the call. On a duplicate nothing from this call is
// registered and the error wraps [ErrDuplicateSource] or [ErrDuplicatePath].
func (m *Manager) AddSources(sources ...Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mounted := make(map[string]string, len(m.sources))
	for _, st := range m.sources {
		mounted[st.src.Path] = st.src.Type
	}

	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if src.Type == "" {
			return fmt.Errorf("source type cannot be empty")
		}
		if _, ok := m.sources[src.Type]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, src.Type)
		}
		if _, ok := seen[src.Type]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, src.Type)
		}
		seen[src.Type] = struct{}{}

		path := routePath(src)
		if owner, ok := mounted[path]; ok {
			return fmt.Errorf("%w: %q (used by %q and %q)", ErrDuplicatePath, path, owner, src.Type)
		}
		mounted[path] = src.Type
	}

	for _, src := range sources {
		src.Path = routePath(src)
		st := &sourceState{
			src:  src,
			subs: make(map[string]Conn),
		}
		m.sources[src.Type] = st
		m.logger.Info("source registered",
			"source", src.Type,
			"url", src.URL,
			"format", src.Format.String(),
		)
		if m.started && !m.stopped {
			m.startSource(st)
		}
	}
	return nil
}

// routePath is the route segment src is served on.
func routePath(src Source) string {
	if path := strings.Trim(src.Path, "/"); path != "" {
		return path
	}
	return src.Type
}

// Start begins ticking every registered source. Start is idempotent; after
// [Manager.Stop] it is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	for _, st := range m.sources {
		m.startSource(st)
	}
}

// Stop cancels in-flight fetches and waits for every source goroutine to
// exit. Stop is idempotent and safe to call before Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		if m.cancel != nil {
			m.cancel()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// startSource must be called with m.mu held. The tick subscription is taken
// synchronously so the shared timer exists once Start returns.
func (m *Manager) startSource(st *sourceState) {
	ticks, release := m.ticker.Subscribe(st.src.Period)
	ctx := m.ctx

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer release()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				m.poll(ctx, st)
			}
		}
	}()
}

// OpenClientPoll subscribes conn to the source registered as sourceType.
//
// An unknown type is logged and reported as [ErrUnknownSource]; the server
// keeps running and the connection gets no data. A known type adds conn to
// the subscriber set, pushes the last payload right away if there is one,
// and removes conn again as soon as it closes.
func (m *Manager) OpenClientPoll(sourceType string, conn Conn) error {
	st := m.lookup(sourceType)
	if st == nil {
		m.logger.Warn("connection for unknown source ignored",
			"source", sourceType,
			"connection_id", conn.ID(),
		)
		return fmt.Errorf("%w: %q", ErrUnknownSource, sourceType)
	}

	st.mu.Lock()
	st.subs[conn.ID()] = conn
	if st.last != nil {
		if err := conn.Send(st.last.Frame); err != nil {
			m.logger.Warn("initial push failed",
				"source", sourceType,
				"connection_id", conn.ID(),
				"error", err,
			)
		}
	}
	count := len(st.subs)
	st.mu.Unlock()

	m.logger.Debug("client subscribed",
		"source", sourceType,
		"connection_id", conn.ID(),
		"subscribers", count,
	)

	conn.OnClose(func() {
		st.mu.Lock()
		delete(st.subs, conn.ID())
		remaining := len(st.subs)
		st.mu.Unlock()

		m.logger.Debug("client unsubscribed",
			"source", sourceType,
			"connection_id", conn.ID(),
			"subscribers", remaining,
		)
	})
	return nil
}

// Snapshot returns the status of every source sorted by type.
func (m *Manager) Snapshot() []SourceStatus {
	m.mu.Lock()
	states := make([]*sourceState, 0, len(m.sources))
	for _, st := range m.sources {
		states = append(states, st)
	}
	m.mu.Unlock()

	out := make([]SourceStatus, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, SourceStatus{
			Type:        st.src.Type,
			Path:        st.src.Path,
			URL:         st.src.URL,
			Format:      st.src.Format.String(),
			PeriodMs:    st.src.Period.Milliseconds(),
			Subscribers: len(st.subs),
			HasPayload:  st.last != nil,
			UpdatedAt:   st.updatedAt,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Sources returns the registered sources sorted by type.
func (m *Manager) Sources() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Source, 0, len(m.sources))
	for _, st := range m.sources {
		out = append(out, st.src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func (m *Manager) lookup(sourceType string) *sourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[sourceType]
}

// poll runs one fetch/compare/fan-out cycle. A failed fetch leaves the last
// payload and subscribers untouched; the next tick simply tries again.
func (m *Manager) poll(ctx context.Context, st *sourceState) {
	src := st.src

	if m.slots != nil {
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
	payload, err := m.fetcher.Load(ctx, src)
	if m.slots != nil {
		<-m.slots
	}
	if err != nil {
		// shutting down, not a source failure
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("poll failed", "source", src.Type, "url", src.URL, "error", err)
		if m.stats != nil {
			m.stats.FetchFailed(src.Type)
		}
		return
	}

	st.mu.Lock()
	// the first payload is always a change, so comparators never see a nil prev
	unchanged := false
	if st.last != nil {
		unchanged, err = m.safeCompare(src, st.last.Value, payload.Value)
		if err != nil {
			st.mu.Unlock()
			return
		}
	}
	if unchanged {
		st.mu.Unlock()
		m.logger.Debug("poll completed", "source", src.Type, "changed", false)
		if m.stats != nil {
			m.stats.PollCompleted(src.Type, false)
		}
		return
	}

	now := time.Now()
	st.last = &payload
	st.updatedAt = now

	for id, conn := range st.subs {
		if err := conn.Send(payload.Frame); err != nil {
			m.logger.Warn("push failed", "source", src.Type, "connection_id", id, "error", err)
		}
	}
	subscribers := len(st.subs)
	st.mu.Unlock()

	m.logger.Debug("poll completed",
		"source", src.Type,
		"changed", true,
		"subscribers", subscribers,
	)
	if m.stats != nil {
		m.stats.PollCompleted(src.Type, true)
	}

	if m.onUpdate != nil {
		m.invokeUpdateHook(Update{
			Source:      src.Type,
			Frame:       payload.Frame,
			Subscribers: subscribers,
			ChangedAt:   now,
		})
	}
}

// safeCompare calls the source comparator with panic recovery; prev is never
// nil. A panic is logged with a correlation ID and reported as an error so the
// cycle is skipped and the last payload kept.
func (m *Manager) safeCompare(src Source, prev, next any) (unchanged bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			m.logger.Error("comparator panic",
				"correlation_id", correlationID,
				"source", src.Type,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			unchanged = false
			err = fmt.Errorf("comparator panic (correlation_id: %s)", correlationID)
		}
	}()

	if src.Compare == nil {
		return reflect.DeepEqual(prev, next), nil
	}
	return src.Compare(prev, next), nil
}

// invokeUpdateHook calls the update hook with panic recovery.
func (m *Manager) invokeUpdateHook(u Update) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("update hook panicked", "panic", r, "source", u.Source)
		}
	}()
	m.onUpdate(u)
}
