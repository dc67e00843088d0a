package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte // FUNCTIONAL DISCOVERY: 100 buffer absorbs a burst of force_info ticks
	id        string
	sessionID string
	role      string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex // protects role
}

// NewConnection wraps conn for the logical session sessionID and starts
// the writer goroutine.
func NewConnection(conn *websocket.Conn, sessionID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		writeCh:   make(chan []byte, 100),
		id:        uuid.NewString(),
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Write to %s failed: %v", c.id, err)
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close cancels the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) IsOpen() bool {
	return c.ctx.Err() == nil
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) GetID() string {
	return c.id
}

func (c *Connection) GetSessionID() string {
	return c.sessionID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) SetRole(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}
