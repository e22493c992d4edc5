// Package websocket is the gorilla/websocket transport of the coordinator.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proctor/pkg/interfaces"
)

var _ interfaces.Peer = (*Connection)(nil)

// Config tunes a single connection and the read side of the handler
type Config struct {
	WriteBuffer     int
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration // backstop deadline, extended by every frame and pong
	MaxMessageBytes int64
	AllowedOrigins  []string // empty allows every origin
}

func (c Config) withDefaults() Config {
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	return c
}

type frame struct {
	ping bool
	data []byte
}

// Connection implements interfaces.Peer over one websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// including pings goes through a single writer goroutine
type Connection struct {
	conn         *websocket.Conn
	frames       chan frame
	closing      chan struct{} // closed by Close; the writer flushes and exits
	done         chan struct{} // closed once the socket is closed
	closeOnce    sync.Once
	writeTimeout time.Duration
}

// NewConnection wraps conn and starts its writer
func NewConnection(conn *websocket.Conn, config Config) *Connection {
	config = config.withDefaults()
	c := &Connection{
		conn:         conn,
		frames:       make(chan frame, config.WriteBuffer),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: config.WriteTimeout,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the only goroutine writing to the socket
func (c *Connection) writeLoop() {
	defer func() {
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case f := <-c.frames:
			if err := c.write(f); err != nil {
				return
			}

		case <-c.closing:
			// FUNCTIONAL DISCOVERY: Frames queued before Close are flushed so a
			// rejection reason reaches the client ahead of the close frame
			if err := c.flush(); err != nil {
				return
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout))
			return
		}
	}
}

func (c *Connection) flush() error {
	for {
		select {
		case f := <-c.frames:
			if err := c.write(f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Connection) write(f frame) error {
	deadline := time.Now().Add(c.writeTimeout)
	if f.ping {
		return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, f.data)
}

func (c *Connection) enqueue(f frame) error {
	select {
	case <-c.closing:
		return ErrConnectionClosed
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.frames <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// WriteJSON queues v for the writer. It never blocks: a slow client loses
// messages instead of stalling the hub.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(frame{data: data})
}

// Ping queues a liveness probe
func (c *Connection) Ping() error {
	return c.enqueue(frame{ping: true})
}

// Close flushes queued frames, sends a close frame and closes the socket.
// Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
	return nil
}

// Done is closed once the underlying socket has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
