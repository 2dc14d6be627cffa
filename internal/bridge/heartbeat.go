package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// pingEnvelope is the fixed JSON-RPC ping request the HTTP heartbeat POSTs.
// The WebSocket heartbeat sends a control ping frame instead.
var pingEnvelope = []byte(`{"jsonrpc":"2.0","method":"ping","params":{}}`)

// runHTTPHeartbeat POSTs a ping to endpoint every HeartbeatInterval to keep
// the streamable_http session alive (§4.8), picking up session id changes
// as they're learned and closing the upstream WebSocket with code 4004 if
// the server reports a 4004 status, per the server-internal-error contract
// streamable_http mode defines.
func runHTTPHeartbeat(ctx context.Context, cc *ConnCtx, client *http.Client, endpoint string) error {
	return runHTTPHeartbeatEvery(ctx, cc, client, endpoint, HeartbeatInterval)
}

// runHTTPHeartbeatEvery is runHTTPHeartbeat with an injectable interval, so
// tests don't have to wait out the real 20s cadence.
func runHTTPHeartbeatEvery(ctx context.Context, cc *ConnCtx, client *http.Client, endpoint string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(pingEnvelope))
		if err != nil {
			cc.Log.Warn("error sending heartbeat", "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if sid := cc.SessionID(); sid != "" {
			req.Header.Set("Mcp-Session-Id", sid)
		}

		resp, err := client.Do(req)
		if err != nil {
			cc.Log.Warn("error sending heartbeat", "error", err)
			continue
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode == 200 || resp.StatusCode == 202 {
				cc.Log.Debug("heartbeat successful", "status", resp.StatusCode)
				if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
					cc.SetSessionID(sid)
				}
				return
			}
			cc.Log.Warn("heartbeat failed", "status", resp.StatusCode)
			if resp.StatusCode == 4004 {
				cc.Log.Error("server internal error (4004) during heartbeat")
				_ = cc.WS.Close(4004, "server internal error during heartbeat")
			}
		}()
	}
}

// runWSHeartbeat keeps the upstream WebSocket alive with a ping/pong
// exchange every HeartbeatInterval, closing the connection if a pong
// doesn't arrive within WSPongTimeout (§4.8).
func runWSHeartbeat(ctx context.Context, cc *ConnCtx) error {
	return runWSHeartbeatEvery(ctx, cc, HeartbeatInterval)
}

// runWSHeartbeatEvery is runWSHeartbeat with an injectable interval.
func runWSHeartbeatEvery(ctx context.Context, cc *ConnCtx, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pongCh := make(chan struct{}, 1)
		if err := cc.WS.Ping(func(string) error {
			select {
			case pongCh <- struct{}{}:
			default:
			}
			return nil
		}); err != nil {
			cc.Log.Warn("websocket ping failed", "error", err)
			return fmt.Errorf("%w: ping failed: %v", ErrConnectionClosed, err)
		}

		select {
		case <-pongCh:
			cc.Log.Debug("websocket ping/pong successful")
		case <-time.After(WSPongTimeout):
			cc.Log.Warn("websocket pong timeout")
			return fmt.Errorf("%w: pong timeout", ErrConnectionClosed)
		case <-ctx.Done():
			return nil
		}
	}
}
