package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errConnClosed = errors.New("connection closed")

// manualTicker hands out unbuffered tick channels driven by the test.
type manualTicker struct {
	mu    sync.Mutex
	chans map[time.Duration][]chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{chans: make(map[time.Duration][]chan time.Time)}
}

func (m *manualTicker) Subscribe(period time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time)
	m.chans[period] = append(m.chans[period], ch)
	return ch, func() {}
}

// tick delivers one tick to every stream of period; it blocks until each
// source goroutine has picked it up.
func (m *manualTicker) tick(t *testing.T, period time.Duration) {
	t.Helper()
	m.mu.Lock()
	chans := append([]chan time.Time(nil), m.chans[period]...)
	m.mu.Unlock()
	require.NotEmpty(t, chans, "no subscription for period %s", period)

	for _, ch := range chans {
		select {
		case ch <- time.Now():
		case <-time.After(time.Second):
			t.Fatal("source goroutine did not accept tick")
		}
	}
}

// scriptedFetcher returns one scripted body (or error) per call.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []any // string bodies or errors
	calls  int
	block  chan struct{}
}

func (f *scriptedFetcher) Load(ctx context.Context, src Source) (Payload, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Payload{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.script) {
		return Payload{}, fmt.Errorf("%w: script exhausted", ErrFetch)
	}
	step := f.script[f.calls]
	f.calls++
	if err, ok := step.(error); ok {
		return Payload{}, err
	}
	return Decode([]byte(step.(string)), src.Format)
}

// cycleStats signals every finished cycle so tests can wait on it.
type cycleStats struct {
	done chan bool // true when the cycle broadcast
}

func newCycleStats() *cycleStats {
	return &cycleStats{done: make(chan bool, 16)}
}

func (c *cycleStats) PollCompleted(_ string, changed bool) { c.done <- changed }
func (c *cycleStats) FetchFailed(string)                   { c.done <- false }

func (c *cycleStats) wait(t *testing.T) bool {
	t.Helper()
	select {
	case changed := <-c.done:
		return changed
	case <-time.After(time.Second):
		t.Fatal("poll cycle did not finish")
		return false
	}
}

type fakeConn struct {
	id string

	mu       sync.Mutex
	frames   []string
	closed   bool
	onClose  []func()
	sendFail bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.sendFail {
		return errors.New("send buffer full")
	}
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *fakeConn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fns := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

// firstPubDate compares the pubDate of the first item of two lists.
func firstPubDate(prev, next any) bool {
	p, ok := prev.([]any)
	if !ok || len(p) == 0 {
		return false
	}
	n, ok := next.([]any)
	if !ok || len(n) == 0 {
		return false
	}
	pm, _ := p[0].(map[string]any)
	nm, _ := n[0].(map[string]any)
	return pm["pubDate"] == nm["pubDate"]
}

const testPeriod = 2 * time.Second

func newTestManager(t *testing.T, fetcher Fetcher, opts ...ManagerOption) (*Manager, *manualTicker, *cycleStats) {
	t.Helper()
	ticker := newManualTicker()
	stats := newCycleStats()
	opts = append(opts, WithStats(stats))
	m := NewManager(ticker, fetcher, testLogger(), opts...)
	t.Cleanup(m.Stop)
	return m, ticker, stats
}

func TestManager_JSONExampleScenario(t *testing.T) {
	fetcher := &scriptedFetcher{script: []any{
		`[{"pubDate":"t1"}]`,
		`[{"pubDate":"t1"}]`,
		`[{"pubDate":"t2"}]`,
	}}
	m, ticker, stats := newTestManager(t, fetcher)
	require.NoError(t, m.AddSources(Source{
		Type:    "json-example",
		URL:     "http://feeds.test/json",
		Period:  testPeriod,
		Compare: firstPubDate,
	}))
	m.Start(context.Background())

	conn := newFakeConn("c1")
	require.NoError(t, m.OpenClientPoll("json-example", conn))

	ticker.tick(t, testPeriod)
	assert.True(t, stats.wait(t))
	assert.Equal(t, []string{`[{"pubDate":"t1"}]`}, conn.received())

	ticker.tick(t, testPeriod)
	assert.False(t, stats.wait(t))
	assert.Len(t, conn.received(), 1)

	ticker.tick(t, testPeriod)
	assert.True(t, stats.wait(t))
	assert.Equal(t, []string{`[{"pubDate":"t1"}]`, `[{"pubDate":"t2"}]`}, conn.received())
}

func TestManager_UnchangedTicksNeverPush(t *testing.T) {
	script := make([]any, 6)
	for i := range script {
		script[i] = `{"items":[]}`
	}
	m, ticker, stats := newTestManager(t, &scriptedFetcher{script: script})
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	conn := newFakeConn("c1")
	require.NoError(t, m.OpenClientPoll("feed", conn))

	ticker.tick(t, testPeriod)
	require.True(t, stats.wait(t))

	for i := 0; i < 5; i++ {
		ticker.tick(t, testPeriod)
		assert.False(t, stats.wait(t))
	}
	assert.Len(t, conn.received(), 1)
}

func TestManager_FetchFailureKeepsState(t *testing.T) {
	fetcher := &scriptedFetcher{script: []any{
		`{"v":1}`,
		fmt.Errorf("%w: connection refused", ErrFetch),
		`{"v":1}`,
	}}
	m, ticker, stats := newTestManager(t, fetcher)
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	conn := newFakeConn("c1")
	require.NoError(t, m.OpenClientPoll("feed", conn))

	ticker.tick(t, testPeriod)
	require.True(t, stats.wait(t))

	ticker.tick(t, testPeriod)
	assert.False(t, stats.wait(t))

	// last payload survived the failure, so the identical body is unchanged
	ticker.tick(t, testPeriod)
	assert.False(t, stats.wait(t))

	assert.Len(t, conn.received(), 1)
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].HasPayload)
	assert.Equal(t, 1, snap[0].Subscribers)
}

func TestManager_LateJoinerGetsLastPayload(t *testing.T) {
	m, ticker, stats := newTestManager(t, &scriptedFetcher{script: []any{`{"v":1}`}})
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	early := newFakeConn("early")
	require.NoError(t, m.OpenClientPoll("feed", early))
	assert.Empty(t, early.received(), "nothing to push before the first poll")

	ticker.tick(t, testPeriod)
	require.True(t, stats.wait(t))

	late := newFakeConn("late")
	require.NoError(t, m.OpenClientPoll("feed", late))
	assert.Equal(t, []string{`{"v":1}`}, late.received())
}

func TestManager_ClosedConnNeverReceives(t *testing.T) {
	fetcher := &scriptedFetcher{
		script: []any{`{"v":1}`, `{"v":2}`},
		block:  make(chan struct{}),
	}
	m, ticker, stats := newTestManager(t, fetcher)
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	gone := newFakeConn("gone")
	stay := newFakeConn("stay")
	require.NoError(t, m.OpenClientPoll("feed", gone))
	require.NoError(t, m.OpenClientPoll("feed", stay))

	// close while the fetch is in flight
	ticker.tick(t, testPeriod)
	gone.Close()
	fetcher.block <- struct{}{}
	require.True(t, stats.wait(t))

	assert.Empty(t, gone.received())
	assert.Equal(t, []string{`{"v":1}`}, stay.received())
	assert.Equal(t, 1, m.Snapshot()[0].Subscribers)
}

func TestManager_FailedPushDoesNotBlockOthers(t *testing.T) {
	m, ticker, stats := newTestManager(t, &scriptedFetcher{script: []any{`{"v":1}`}})
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	bad := newFakeConn("bad")
	bad.sendFail = true
	good := newFakeConn("good")
	require.NoError(t, m.OpenClientPoll("feed", bad))
	require.NoError(t, m.OpenClientPoll("feed", good))

	ticker.tick(t, testPeriod)
	require.True(t, stats.wait(t))
	assert.Equal(t, []string{`{"v":1}`}, good.received())
}

func TestManager_UnknownSourceIsNotFatal(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedFetcher{})
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test"}))

	err := m.OpenClientPoll("missing", newFakeConn("c1"))
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.Equal(t, 0, m.Snapshot()[0].Subscribers)
}

func TestManager_DuplicateSourceRejected(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedFetcher{})
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test"}))

	err := m.AddSources(Source{Type: "other", URL: "http://a.test"}, Source{Type: "feed", URL: "http://b.test"})
	assert.ErrorIs(t, err, ErrDuplicateSource)

	err = m.AddSources(Source{Type: "x", URL: "http://a.test"}, Source{Type: "x", URL: "http://b.test"})
	assert.ErrorIs(t, err, ErrDuplicateSource)

	// nothing from a rejected call is registered
	assert.Len(t, m.Sources(), 1)
}

func TestManager_PathDefaultsToType(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedFetcher{})
	require.NoError(t, m.AddSources(
		Source{Type: "news", URL: "http://feeds.test"},
		Source{Type: "weather", Path: "wx", URL: "http://feeds.test"},
	))

	sources := m.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "news", sources[0].Path)
	assert.Equal(t, "wx", sources[1].Path)
}

func TestManager_DuplicatePathRejected(t *testing.T) {
	m, _, _ := newTestManager(t, &scriptedFetcher{})
	require.NoError(t, m.AddSources(Source{Type: "news", URL: "http://feeds.test"}))

	// an explicit path equal to another source's default path
	err := m.AddSources(Source{Type: "bbc", Path: "/news/", URL: "http://a.test"})
	assert.ErrorIs(t, err, ErrDuplicatePath)

	err = m.AddSources(
		Source{Type: "a", Path: "feed", URL: "http://a.test"},
		Source{Type: "b", Path: "feed", URL: "http://b.test"},
	)
	assert.ErrorIs(t, err, ErrDuplicatePath)

	assert.Len(t, m.Sources(), 1)
}

func TestManager_ComparatorPanicSkipsCycle(t *testing.T) {
	m, ticker, stats := newTestManager(t, &scriptedFetcher{script: []any{`{"v":1}`, `{"v":2}`, `{"v":3}`}})
	calls := 0
	require.NoError(t, m.AddSources(Source{
		Type:   "feed",
		URL:    "http://feeds.test",
		Period: testPeriod,
		Compare: func(prev, next any) bool {
			calls++
			if calls == 1 {
				panic("boom")
			}
			return false
		},
	}))
	m.Start(context.Background())

	conn := newFakeConn("c1")
	require.NoError(t, m.OpenClientPoll("feed", conn))

	ticker.tick(t, testPeriod)
	require.True(t, stats.wait(t))

	ticker.tick(t, testPeriod)
	ticker.tick(t, testPeriod)
	// the panicking cycle reports nothing, the third one broadcasts
	require.True(t, stats.wait(t))

	assert.Equal(t, []string{`{"v":1}`, `{"v":3}`}, conn.received())
}

// unguardedPubDate indexes both payloads without checking them first.
func unguardedPubDate(prev, next any) bool {
	p := prev.([]any)[0].(map[string]any)
	n := next.([]any)[0].(map[string]any)
	return p["pubDate"] == n["pubDate"]
}

func TestManager_FirstPayloadSkipsComparator(t *testing.T) {
	fetcher := &scriptedFetcher{script: []any{
		`[{"pubDate":"t1"}]`,
		`[{"pubDate":"t1"}]`,
		`[{"pubDate":"t2"}]`,
	}}
	m, ticker, stats := newTestManager(t, fetcher)
	require.NoError(t, m.AddSources(Source{
		Type:    "json-example",
		URL:     "http://feeds.test/json",
		Period:  testPeriod,
		Compare: unguardedPubDate,
	}))
	m.Start(context.Background())

	conn := newFakeConn("c1")
	require.NoError(t, m.OpenClientPoll("json-example", conn))

	ticker.tick(t, testPeriod)
	assert.True(t, stats.wait(t))
	ticker.tick(t, testPeriod)
	assert.False(t, stats.wait(t))
	ticker.tick(t, testPeriod)
	assert.True(t, stats.wait(t))

	assert.Equal(t, []string{`[{"pubDate":"t1"}]`, `[{"pubDate":"t2"}]`}, conn.received())
}

func TestManager_NilComparatorFirstNullPayload(t *testing.T) {
	m, ticker, stats := newTestManager(t, &scriptedFetcher{script: []any{`null`}})
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	conn := newFakeConn("c1")
	require.NoError(t, m.OpenClientPoll("feed", conn))

	ticker.tick(t, testPeriod)
	assert.True(t, stats.wait(t))
	assert.Equal(t, []string{`null`}, conn.received())
}

func TestManager_UpdateHook(t *testing.T) {
	updates := make(chan Update, 1)
	m, ticker, stats := newTestManager(t,
		&scriptedFetcher{script: []any{`{"v":1}`}},
		WithUpdateHook(func(u Update) { updates <- u }),
	)
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())
	require.NoError(t, m.OpenClientPoll("feed", newFakeConn("c1")))

	ticker.tick(t, testPeriod)
	require.True(t, stats.wait(t))

	select {
	case u := <-updates:
		assert.Equal(t, "feed", u.Source)
		assert.Equal(t, 1, u.Subscribers)
		assert.JSONEq(t, `{"v":1}`, string(u.Frame))
	case <-time.After(time.Second):
		t.Fatal("update hook not called")
	}
}

func TestManager_SourcesAddedAfterStartTick(t *testing.T) {
	m, ticker, stats := newTestManager(t, &scriptedFetcher{script: []any{`{"v":1}`}})
	m.Start(context.Background())

	require.NoError(t, m.AddSources(Source{Type: "late", URL: "http://feeds.test", Period: time.Second}))
	ticker.tick(t, time.Second)
	assert.True(t, stats.wait(t))
}

func TestManager_StopBeforeStart(t *testing.T) {
	m := NewManager(newManualTicker(), &scriptedFetcher{}, testLogger())
	m.Stop()
	m.Stop()
	m.Start(context.Background()) // no-op after Stop
}

func TestManager_StopCancelsInFlightFetch(t *testing.T) {
	fetcher := &scriptedFetcher{script: []any{`{"v":1}`}, block: make(chan struct{})}
	m, ticker, _ := newTestManager(t, fetcher)
	require.NoError(t, m.AddSources(Source{Type: "feed", URL: "http://feeds.test", Period: testPeriod}))
	m.Start(context.Background())

	ticker.tick(t, testPeriod)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a fetch was blocked")
	}
}

// gateFetcher reports every Load on entered and holds it until release.
type gateFetcher struct {
	entered chan string
	release chan struct{}
}

func (f *gateFetcher) Load(ctx context.Context, src Source) (Payload, error) {
	f.entered <- src.Type
	select {
	case <-f.release:
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
	return Decode([]byte(`{}`), FormatJSON)
}

func TestManager_MaxConcurrencyLimitsFetches(t *testing.T) {
	fetcher := &gateFetcher{entered: make(chan string, 2), release: make(chan struct{})}
	m, ticker, stats := newTestManager(t, fetcher, WithMaxConcurrency(1))
	require.NoError(t, m.AddSources(
		Source{Type: "a", URL: "http://feeds.test/a", Period: testPeriod},
		Source{Type: "b", URL: "http://feeds.test/b", Period: testPeriod},
	))
	m.Start(context.Background())

	ticker.tick(t, testPeriod)

	select {
	case <-fetcher.entered:
	case <-time.After(time.Second):
		t.Fatal("no fetch started")
	}
	assert.Never(t, func() bool { return len(fetcher.entered) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"second fetch started while the only slot was taken")

	fetcher.release <- struct{}{}
	stats.wait(t)

	select {
	case <-fetcher.entered:
	case <-time.After(time.Second):
		t.Fatal("second fetch never got a slot")
	}
	fetcher.release <- struct{}{}
	stats.wait(t)
}
