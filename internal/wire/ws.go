package wire

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// WSChannel implements Channel over a github.com/gorilla/websocket
// connection, framing each Message as a single binary websocket
// message, following the
// ws.WriteMessage(websocket.BinaryMessage, data) /
// ws.ReadMessage() pattern in api/pkg/desktop/ws_stream.go, the
// closest analogue in the pack to a framed binary client channel.
type WSChannel struct {
	conn *websocket.Conn
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

var _ Channel = (*WSChannel)(nil)

func (c *WSChannel) WriteMessage(ctx context.Context, msg Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("wire: websocket write: %w", err)
	}
	return nil
}

func (c *WSChannel) ReadMessage(ctx context.Context) (Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("wire: websocket read: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return Message{}, fmt.Errorf("wire: unexpected websocket message kind %d", kind)
	}
	return Unmarshal(data)
}

func (c *WSChannel) Close() error {
	return c.conn.Close()
}
