package hub

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type ConnID string

// WSConn is the part of *websocket.Conn the pumps use, to ease testing.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one hub connection with a bounded outgoing queue.
type Conn struct {
	id     ConnID
	client string
	ws     WSConn
	send   chan []byte

	mu     sync.RWMutex
	closed bool
	slow   bool
}

func newConn(id ConnID, client string, ws WSConn, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	return &Conn{id: id, client: client, ws: ws, send: make(chan []byte, buffer)}
}

func (c *Conn) ID() ConnID     { return c.id }
func (c *Conn) Client() string { return c.client }

// TrySend queues b without blocking.
func (c *Conn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// markSlow flags the connection and reports whether it was already slow.
func (c *Conn) markSlow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.slow
	c.slow = true
	return was
}

func (c *Conn) Slow() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slow
}
