package web

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla WebSocket connection to the session.Conn
// contract. Writes are serialized; gorilla connections do not allow
// concurrent writers.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage(deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
