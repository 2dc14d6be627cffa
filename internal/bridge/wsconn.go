package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsSubprotocol mirrors the teacher SDK's WebSocketClientTransport, which
// negotiates the "mcp" subprotocol on dial.
const wsSubprotocol = "mcp"

// wsConn wraps a gorilla/websocket connection with the deadline-setting
// idiom used by [mcp.websocketConn]: every write (data frame or ping) pushes
// out the write deadline before issuing the underlying I/O rather than
// relying on a connection-wide timeout. Reads set no deadline.
type wsConn struct {
	conn *websocket.Conn
}

// dialUpstream opens the persistent upstream WebSocket the bridge splices
// every downstream message onto. It is grounded on
// [mcp.WebSocketClientTransport.Connect]: a gorilla/websocket.Dialer dial
// with the "mcp" subprotocol header, wrapped so the rest of the package
// only deals in Messages.
func dialUpstream(ctx context.Context, endpoint string) (*wsConn, *http.Response, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{wsSubprotocol},
		HandshakeTimeout: 45 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, fmt.Errorf("bridge: dial upstream %q: %w", endpoint, err)
	}
	return &wsConn{conn: conn}, resp, nil
}

// ReadMessage blocks until a full text or binary frame arrives, or the
// connection fails.
func (c *wsConn) ReadMessage() (Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("bridge: read upstream: %w", err)
	}
	return Message(data), nil
}

// WriteMessage writes msg as a text frame, pushing the write deadline out
// by WSSendTimeout first so a stalled peer surfaces as a timeout rather
// than hanging forever.
func (c *wsConn) WriteMessage(msg Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(WSSendTimeout)); err != nil {
		return fmt.Errorf("bridge: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// Ping sends a WebSocket ping frame and arranges for handler to run when
// the matching pong arrives, mirroring the 20s/10s ping/pong heartbeat
// cadence streamable_http mode requires (§4.8).
func (c *wsConn) Ping(handler func(appData string) error) error {
	c.conn.SetPongHandler(func(appData string) error {
		if handler != nil {
			return handler(appData)
		}
		return nil
	})
	if err := c.conn.SetWriteDeadline(time.Now().Add(WSSendTimeout)); err != nil {
		return fmt.Errorf("bridge: set write deadline: %w", err)
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// SetReadDeadline sets the read deadline of the underlying connection.
// The heartbeat task does not use it; it enforces WSPongTimeout with its
// own timer.
func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close sends a close frame with code and reason, then closes the
// underlying network connection.
func (c *wsConn) Close(code int, reason string) error {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}
