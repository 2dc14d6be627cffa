package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mcpbridge/mcpbridge/internal/rpc"
)

// nonResumableMethods are the JSON-RPC methods that never carry a
// Last-Event-ID header, even when one is known, matching the original's
// resumability check.
var nonResumableMethods = map[string]bool{
	"tools/list":        true,
	"ping":              true,
	"initialize":        true,
	"session/terminate": true,
}

// RunStreamableHTTP implements §4.5: it initializes a session against
// target.URL, starts both heartbeat channels, then forwards WebSocket
// messages as HTTP POSTs whose responses are themselves SSE-framed
// streams, draining each stream's events onto the response queue and
// tracking the Last-Event-Id for resumable requests. Grounded on the
// original's pipe_streamable_http, restructured from its single
// request_queue + two-coroutine shape into errgroup tasks: the two
// heartbeats, a POST pump, a WS reader that feeds it, and the shared
// Queue→WS writer.
func RunStreamableHTTP(ctx context.Context, cc *ConnCtx, target Target) error {
	client := &http.Client{}
	endpoint := strings.TrimSuffix(target.URL, "/")
	cc.Log.Info("streamable_http mode starting", "endpoint", endpoint)

	sessionID, err := initializeSession(ctx, client, endpoint)
	if err != nil {
		cc.Log.Warn("streamable_http: failed to initialize session", "error", err)
	} else if sessionID != "" {
		cc.SetSessionID(sessionID)
		cc.Log.Info("streamable_http initialized with session id", "session_id", sessionID)
	} else {
		cc.Log.Warn("streamable_http: no session id received from initialize_session")
	}

	requests := make(chan Message, QueueCapacity)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runHTTPHeartbeat(gctx, cc, client, endpoint) })
	g.Go(func() error { return runWSHeartbeat(gctx, cc) })
	g.Go(func() error { return handleRequests(gctx, cc, requests) })
	g.Go(func() error { return processRequests(gctx, cc, client, endpoint, requests) })
	g.Go(func() error { return pipeQueueToWS(gctx, cc) })
	g.Go(func() error {
		// handleRequests blocks in cc.WS.ReadMessage(), which takes no
		// context; once any sibling tears the connection down, force the
		// socket closed to unblock the read.
		<-gctx.Done()
		_ = cc.WS.Close(1000, "streamable_http pipe tearing down")
		return nil
	})

	return g.Wait()
}

// handleRequests reads WebSocket frames and forwards them to the request
// channel for processRequests to POST.
func handleRequests(ctx context.Context, cc *ConnCtx, requests chan<- Message) error {
	for {
		msg, err := cc.WS.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket connection closed while handling requests: %w", err)
		}
		select {
		case requests <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processRequests drains the request channel, POSTs each message to
// endpoint, and streams the SSE-framed response onto the response queue
// (§4.5).
func processRequests(ctx context.Context, cc *ConnCtx, client *http.Client, endpoint string, requests <-chan Message) error {
	for {
		var msg Message
		select {
		case msg = <-requests:
		case <-ctx.Done():
			return ctx.Err()
		}

		if env, ok := rpc.Parse(msg); ok {
			if name, isCall := env.ToolName(); isCall && env.HasID() {
				cc.Queue.Correlation().Register(string(env.ID), name)
				cc.Log.Info("routing tool call to streamable_http handler", "tool", name)
			}
		}

		if err := postAndDrain(ctx, cc, client, endpoint, msg); err != nil {
			if err == errServerClosed4004 {
				return err
			}
			cc.Log.Error("error sending message or processing its response", "error", err)
		}
	}
}

var errServerClosed4004 = fmt.Errorf("bridge: server reported 4004")

// postAndDrain sends one POST and streams its SSE-framed response, per
// §4.5's wire format. A 4004 JSON-RPC error code mid-stream or a 4004 HTTP
// status both close the upstream WebSocket with code 4004 and return
// errServerClosed4004 so the caller stops the connection outright.
func postAndDrain(ctx context.Context, cc *ConnCtx, client *http.Client, endpoint string, msg Message) error {
	body := msg
	if len(body) == 0 || body[0] != '{' {
		wrapped, err := json.Marshal(map[string]string{"message": string(body)})
		if err == nil {
			body = Message(wrapped)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sid := cc.SessionID(); sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}
	if isResumable(msg) {
		if lastID := cc.LastEventID(); lastID != "" {
			req.Header.Set("Last-Event-ID", lastID)
			cc.Log.Info("sending message with last-event-id", "last_event_id", lastID)
		}
	}

	cc.Log.Info("sending post to endpoint", "endpoint", endpoint)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		cc.Log.Error("server error for post", "status", resp.StatusCode, "endpoint", endpoint)
		if resp.StatusCode == 4004 {
			cc.Log.Error("server internal error (4004), closing websocket connection")
			_ = cc.WS.Close(4004, "server internal error (4004) from streamable_http post")
			return errServerClosed4004
		}
		return nil
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" && sid != cc.SessionID() {
		cc.SetSessionID(sid)
		cc.Log.Info("updated mcp-session-id", "session_id", sid)
	}
	cc.Log.Info("successfully sent message and received response", "endpoint", endpoint)

	return drainSSEResponse(ctx, cc, resp.Body)
}

// isResumable reports whether msg's JSON-RPC method is one the original
// attaches a Last-Event-ID header to when resuming: everything except
// tools/list, ping, initialize, and session/terminate.
func isResumable(msg Message) bool {
	env, ok := rpc.Parse(msg)
	if !ok || env.Method == "" {
		return false
	}
	return !nonResumableMethods[env.Method]
}

// drainSSEResponse reads response as a blank-line-delimited SSE stream,
// updating the Connection Context's Last-Event-Id and enqueuing each
// event block's data for the upstream WebSocket.
func drainSSEResponse(ctx context.Context, cc *ConnCtx, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var eventID string
	var dataLines []string

	flush := func() error {
		if eventID != "" {
			cc.SetLastEventID(eventID)
			cc.Log.Info("extracted and updated last-event-id", "last_event_id", eventID)
		}
		if len(dataLines) == 0 {
			eventID, dataLines = "", nil
			return nil
		}
		full := strings.Join(dataLines, "\n")
		eventID, dataLines = "", nil

		var check struct {
			Error *rpc.ErrorObject `json:"error"`
		}
		if err := json.Unmarshal([]byte(full), &check); err == nil && check.Error != nil {
			cc.Log.Error("server returned error in stream", "error", check.Error.Message)
			if check.Error.Code == 4004 {
				_ = cc.WS.Close(4004, check.Error.Message)
				return errServerClosed4004
			}
		}

		if err := cc.Queue.Add(ctx, Message(full)); err != nil {
			cc.Log.Error("error adding to response queue", "error", err)
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "id:"):
			if id := strings.TrimSpace(trimmed[len("id:"):]); id != "" {
				eventID = id
			}
		case strings.HasPrefix(trimmed, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(trimmed[len("data:"):]))
		}
	}
	if len(dataLines) > 0 || eventID != "" {
		if err := flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}
