package client

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is the minimal transport surface the manager needs; tests substitute
// in-memory implementations.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer is the production dialer.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsClientConn{conn: c}, nil
}

type wsClientConn struct {
	conn *websocket.Conn
}

func (c *wsClientConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsClientConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClientConn) Close() error {
	return c.conn.Close()
}
