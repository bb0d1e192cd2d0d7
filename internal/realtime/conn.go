package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeDeadline = 5 * time.Second

// wsConn wraps a gorilla websocket connection behind the relay.Conn
// interface. Writes are serialized with a mutex because fan-out can reach
// the same connection from several broadcast goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// Send writes one text frame with a write deadline.
func (c *wsConn) Send(payload []byte) error {
	if c.conn == nil {
		return errors.New("nil conn")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
