package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ConnCtx is the Connection Context: every piece of state a single
// upstream-connection attempt needs, bundled into one value instead of
// living as module-level globals. It is constructed fresh for each
// reconnect attempt by the Supervisor and passed explicitly into every
// pipe task, per the REDESIGN FLAGS note that globals should become an
// explicit, passed-around value.
type ConnCtx struct {
	Mode   Mode
	Log    *slog.Logger
	Queue  *ResponseQueue
	WS     *wsConn
	Cancel context.CancelFunc

	// sessionID is learned from the Mcp-Session-Id response header or
	// result.sessionId in a session initializer response (§4.7), and
	// echoed back on every subsequent streamable_http request.
	sessionID atomic.Value // string

	// endpoint is the SSE mode Message-Endpoint (§3's glossary entry):
	// learned from the first "event: endpoint" SSE event, and blocks
	// egress until known. endpointKnown is closed exactly once, the
	// instant endpoint is first set.
	endpointMu    sync.Mutex
	endpointKnown chan struct{}
	endpoint      string

	// lastEventID is the streamable_http Last-Event-Id-Map value, the
	// id of the most recently consumed SSE event on the stream,
	// attached to subsequent resumable requests (§4.5).
	lastEventID atomic.Value // string

	closeOnce sync.Once
}

// NewConnCtx builds an empty Connection Context for one connection attempt.
func NewConnCtx(mode Mode, log *slog.Logger, ws *wsConn, cancel context.CancelFunc) *ConnCtx {
	c := &ConnCtx{
		Mode:   mode,
		Log:    log,
		Queue:  NewResponseQueue(log),
		WS:     ws,
		Cancel: cancel,
	}
	c.endpointKnown = make(chan struct{})
	c.sessionID.Store("")
	c.lastEventID.Store("")
	return c
}

// SessionID returns the currently known Mcp-Session-Id, or "" if none has
// been learned yet.
func (c *ConnCtx) SessionID() string {
	return c.sessionID.Load().(string)
}

// SetSessionID records a session id learned from a response header or
// body, per §3's Session-Id definition.
func (c *ConnCtx) SetSessionID(id string) {
	if id == "" {
		return
	}
	c.sessionID.Store(id)
}

// LastEventID returns the id of the most recently consumed SSE event.
func (c *ConnCtx) LastEventID() string {
	return c.lastEventID.Load().(string)
}

// SetLastEventID records the id of the most recently consumed SSE event,
// for use as the Last-Event-ID header on the next resumable request.
func (c *ConnCtx) SetLastEventID(id string) {
	if id == "" {
		return
	}
	c.lastEventID.Store(id)
}

// Endpoint returns the SSE mode Message-Endpoint once known. It blocks
// until SetEndpoint has been called at least once, or ctx is done.
func (c *ConnCtx) Endpoint(ctx context.Context) (string, bool) {
	select {
	case <-c.endpointKnown:
		c.endpointMu.Lock()
		defer c.endpointMu.Unlock()
		return c.endpoint, true
	case <-ctx.Done():
		return "", false
	}
}

// SetEndpoint records the Message-Endpoint learned from an "event:
// endpoint" SSE event and wakes any goroutine blocked in Endpoint. Only
// the first call has effect: the endpoint does not change mid-connection.
func (c *ConnCtx) SetEndpoint(path string) {
	c.endpointMu.Lock()
	defer c.endpointMu.Unlock()
	if c.endpoint != "" {
		return
	}
	c.endpoint = path
	close(c.endpointKnown)
}

// Close tears down the queue's cleanup loop and the upstream WebSocket.
// Safe to call more than once; only the first call has effect.
func (c *ConnCtx) Close() {
	c.closeOnce.Do(func() {
		c.Queue.Stop()
		if c.WS != nil {
			_ = c.WS.Close(1000, "bridge shutting down")
		}
		if c.Cancel != nil {
			c.Cancel()
		}
	})
}
