package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mcpbridge/mcpbridge/internal/rpc"
)

// errSSEStreamClosed is returned by sseIngress when the upstream SSE GET
// stream reaches a clean EOF. It is a sentinel error rather than nil so
// the errgroup actually cancels its shared context: a closed SSE stream
// must tear the whole connection down and trigger a reconnect, the same
// way stdout EOF does for stdio mode, not just end one of three tasks
// while sseEgress sits parked in a blocking WebSocket read.
var errSSEStreamClosed = errors.New("bridge: sse stream closed")

// RunSSE implements §4.4: it opens a long-lived GET to target.URL, reads
// the blank-line-delimited SSE event stream, learns the Message-Endpoint
// from the first "event: endpoint" block, and pipes WebSocket traffic to
// that endpoint via HTTP POST while piping "event: message" data back onto
// the response queue. Grounded directly on the original's
// pipe_websocket_to_sse / pipe_sse_to_websocket pair.
func RunSSE(ctx context.Context, cc *ConnCtx, target Target) error {
	client := &http.Client{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fmt.Errorf("build sse request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sse connection error: %w", err)
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return fmt.Errorf("failed to connect to sse endpoint: status %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	cc.Log.Info("connected to sse endpoint successfully")

	baseURL := strings.SplitN(target.URL, "/sse", 2)[0]

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sseIngress(gctx, cc, resp.Body) })
	g.Go(func() error { return sseEgress(gctx, cc, client, baseURL) })
	g.Go(func() error { return pipeQueueToWS(gctx, cc) })
	g.Go(func() error {
		// sseEgress blocks in cc.WS.ReadMessage(), which takes no context;
		// cancelling gctx alone would never wake it up, so once any
		// sibling tears the connection down, force the socket closed to
		// unblock the read and let sseEgress observe the failure.
		<-gctx.Done()
		_ = cc.WS.Close(1000, "sse pipe tearing down")
		return nil
	})

	return g.Wait()
}

// normalizeMessageEndpoint builds the full POST endpoint from baseURL and
// the raw Message-Endpoint text learned from the "event: endpoint" SSE
// block. When the endpoint carries a query string, a path containing
// "/message" collapses to exactly "/message" and the query string is kept
// as is, per the REDESIGN FLAGS path-normalization note. An endpoint with
// no query string keeps its path unchanged.
func normalizeMessageEndpoint(baseURL, rawEndpoint string) string {
	pathPart := rawEndpoint
	var sessionPart string
	if idx := strings.Index(rawEndpoint, "?"); idx >= 0 {
		pathPart = rawEndpoint[:idx]
		sessionPart = rawEndpoint[idx+1:]
		if strings.Contains(pathPart, "/message") {
			pathPart = "/message"
		}
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(pathPart, "/") {
		pathPart = "/" + pathPart
	}

	if sessionPart != "" {
		return baseURL + pathPart + "?" + sessionPart
	}
	return baseURL + pathPart
}

// sseEgress waits for the Message-Endpoint to be known, initializes a
// session against it, starts the SSE-mode heartbeat, and then forwards
// every WebSocket message onward as an HTTP POST (§4.4).
func sseEgress(ctx context.Context, cc *ConnCtx, client *http.Client, baseURL string) error {
	rawEndpoint, ok := cc.Endpoint(ctx)
	if !ok {
		return ctx.Err()
	}
	endpoint := normalizeMessageEndpoint(baseURL, rawEndpoint)
	cc.Log.Info("using message endpoint", "endpoint", endpoint)

	sessionID, err := initializeSession(ctx, client, endpoint)
	if err != nil {
		cc.Log.Warn("sse mode: failed to initialize session", "error", err)
	} else if sessionID != "" {
		cc.SetSessionID(sessionID)
		cc.Log.Info("sse mode initialized with session id", "session_id", sessionID)
	} else {
		cc.Log.Warn("sse mode: no session id received from initialize_session")
	}

	go func() {
		_ = runHTTPHeartbeat(ctx, cc, client, endpoint)
	}()

	for {
		msg, err := cc.WS.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket to sse pipe: %w", err)
		}

		if env, ok := rpc.Parse(msg); ok {
			if name, isCall := env.ToolName(); isCall && env.HasID() {
				cc.Queue.Correlation().Register(string(env.ID), name)
				cc.Log.Info("routing tool call to sse handler", "tool", name)
			}
		}

		body := msg
		if len(body) == 0 || body[0] != '{' {
			wrapped, err := json.Marshal(map[string]string{"message": string(body)})
			if err == nil {
				body = Message(wrapped)
			}
		}

		cc.Log.Info("sending message to endpoint", "endpoint", endpoint)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if err != nil {
			cc.Log.Error("error sending message to sse server", "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			cc.Log.Error("error sending message to sse server", "error", err)
			continue
		}
		if resp.StatusCode != 200 && resp.StatusCode != 202 {
			cc.Log.Warn("failed to send message to sse server", "status", resp.StatusCode)
		} else {
			cc.Log.Info("successfully sent message to sse server", "status", resp.StatusCode)
		}
		resp.Body.Close()
	}
}

// sseIngress reads the blank-line-delimited SSE event stream and dispatches
// each complete block: "endpoint" events set the Connection Context's
// Message-Endpoint, "message" events get unwrapped and enqueued for the
// upstream WebSocket.
func sseIngress(ctx context.Context, cc *ConnCtx, body io.Reader) error {
	cc.Log.Info("starting to read sse events")
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var eventType string
	var dataBuf strings.Builder

	flush := func() {
		if dataBuf.Len() == 0 || eventType == "" {
			eventType, dataBuf = "", strings.Builder{}
			return
		}
		full := dataBuf.String()
		cc.Log.Info("sse event received", "type", eventType, "length", len(full))

		switch eventType {
		case "endpoint":
			cc.Log.Info("received endpoint", "endpoint", full)
			cc.SetEndpoint(full)
		case "message":
			dispatchSSEMessage(ctx, cc, full)
		}
		eventType, dataBuf = "", strings.Builder{}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataBuf.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sse to websocket pipe: %w", err)
	}
	cc.Log.Info("sse stream has ended")
	return errSSEStreamClosed
}

// dispatchSSEMessage unwraps a "message" event's JSON payload (extracting
// data.message if the server wrapped it, per the message-wrapping
// REDESIGN FLAGS decision to always unwrap) and enqueues the result.
func dispatchSSEMessage(ctx context.Context, cc *ConnCtx, raw string) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		cc.Log.Warn("received non-JSON message from sse", "preview", previewOf(Message(raw)))
		if err := cc.Queue.Add(ctx, Message(raw)); err != nil {
			cc.Log.Error("dropping sse message", "error", err)
		}
		return
	}

	actual := raw
	if wrapped, ok := obj["message"]; ok {
		actual = string(wrapped)
		var asString string
		if err := json.Unmarshal(wrapped, &asString); err == nil {
			actual = asString
		}
		cc.Log.Info("extracted message from wrapper")
	}

	if env, ok := rpc.Parse([]byte(actual)); ok {
		if n, isToolsList := env.ToolsListLen(); isToolsList {
			cc.Log.Info("received tools list", "count", n)
		}
		if env.HasID() {
			if name, found := cc.Queue.Correlation().Resolve(string(env.ID)); found {
				cc.Log.Info("received response for tool", "tool", name)
			}
		}
	}

	if err := cc.Queue.Add(ctx, Message(actual)); err != nil {
		cc.Log.Error("dropping sse message", "error", err)
	}
}
