package transport

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/freedomlayer/offset/wire"
)

const writeTimeout = 10 * time.Second

// WebsocketChannel adapts an already-authenticated *websocket.Conn (the
// product of whatever encrypted handshake the relay layer performed) into
// a Channel: one binary frame per FriendMessage, using wire's own
// Marshal/Unmarshal so the encoding matches what Funder persists.
type WebsocketChannel struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebsocketChannel wraps conn. Closing the returned Channel closes conn.
func NewWebsocketChannel(conn *websocket.Conn) *WebsocketChannel {
	return &WebsocketChannel{conn: conn, closed: make(chan struct{})}
}

func (c *WebsocketChannel) Send(ctx context.Context, msg wire.FriendMessage) error {
	data, err := wire.MarshalFriendMessage(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageBinary, data); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

func (c *WebsocketChannel) Receive(ctx context.Context) (wire.FriendMessage, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.markClosed()
		return wire.FriendMessage{}, err
	}
	return wire.UnmarshalFriendMessage(data)
}

func (c *WebsocketChannel) Closed() <-chan struct{} { return c.closed }

func (c *WebsocketChannel) Close() error {
	c.markClosed()
	return c.conn.Close(websocket.StatusNormalClosure, "channel closed")
}

func (c *WebsocketChannel) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}
