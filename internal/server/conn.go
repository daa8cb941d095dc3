package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// errConnClosed is returned by Send after the connection closed.
	errConnClosed = errors.New("connection closed")

	// errSendBufferFull is returned by Send when the writer has fallen behind.
	errSendBufferFull = errors.New("send buffer full")
)

// wsConn is one client websocket. It implements poller.Conn.
//
// Frames are queued on a buffered channel drained by a single writer
// goroutine, so Send never touches the network and never blocks. Close
// observers run synchronously, exactly once, on the goroutine that closes the
// connection.
type wsConn struct {
	id          string
	source      string
	remoteAddr  string
	connectedAt time.Time

	ws           *websocket.Conn
	writeTimeout time.Duration
	send         chan []byte
	done         chan struct{}

	// alive is cleared by each heartbeat ping and set by the pong.
	alive atomic.Bool

	mu        sync.Mutex
	closed    bool
	observers []func()
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWSConn(id, source, remoteAddr string, ws *websocket.Conn, opts TransportOptions, now time.Time) *wsConn {
	c := &wsConn{
		id:           id,
		source:       source,
		remoteAddr:   remoteAddr,
		connectedAt:  now,
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
	}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

func (c *wsConn) ID() string {
	return c.id
}

// Send queues data for the writer goroutine.
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// OnClose registers fn to run when the connection closes, or runs it now if
// the connection is already closed.
func (c *wsConn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// run writes queued frames until the connection closes. A failed write closes
// the connection.
func (c *wsConn) run(onWriteError func(error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case msg := <-c.send:
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					onWriteError(err)
					return
				}
			case <-c.done:
				return
			}
		}
	}()
}

// ping sends a heartbeat ping. WriteControl is safe to call concurrently with
// the writer goroutine.
func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// close marks the connection closed, runs the close observers and releases
// the socket. It reports whether this call performed the close.
func (c *wsConn) close(code int, reason string) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true

		c.mu.Lock()
		c.closed = true
		observers := c.observers
		c.observers = nil
		c.mu.Unlock()

		close(c.done)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		}
		_ = c.ws.Close()

		for _, fn := range observers {
			fn()
		}
	})
	return first
}

// wait blocks until the writer goroutine has exited.
func (c *wsConn) wait() {
	c.wg.Wait()
}
