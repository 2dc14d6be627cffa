package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcpbridge/mcpbridge/internal/rpc"
)

// pipeQueueToWS is the Queue→WS consumer (§4.6), shared by every downstream
// mode: it dequeues Messages, unwraps raw SSE "data:" lines into their bare
// JSON payload, classifies the result for logging via [rpc.Envelope], and
// writes it upstream with a 20s send timeout. A send timeout or error is
// treated as a dead connection (ErrConnectionClosed) rather than retried
// in place, so the Supervisor reconnects instead of looping forever on a
// half-dead socket.
func pipeQueueToWS(ctx context.Context, cc *ConnCtx) error {
	cc.Log.Info("started response queue processor")
	for {
		msg, ok := cc.Queue.Get(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ok {
			continue
		}

		msg = unwrapSSEData(msg)

		env, parsed := rpc.Parse(msg)
		label := "non-JSON data"
		if parsed {
			label = env.Classify()
		}
		cc.Log.Info("sending to websocket", "type", label, "bytes", len(msg))
		cc.Log.Debug("response content", "preview", previewOf(msg))

		if err := cc.WS.WriteMessage(msg); err != nil {
			return fmt.Errorf("sending response to websocket: %w", err)
		}
	}
}

// unwrapSSEData mirrors process_response_queue's handling of a queued
// value that is itself a raw SSE line ("event: ..." or "data: ..."): pull
// the JSON payload out of the "data:" field and re-serialize it compactly.
// Anything that isn't SSE-framed passes through untouched.
func unwrapSSEData(msg Message) Message {
	s := string(msg)
	if !strings.HasPrefix(s, "event:") && !strings.HasPrefix(s, "data:") {
		return msg
	}
	idx := strings.Index(s, "data:")
	if idx < 0 {
		return msg
	}
	data := strings.TrimSpace(s[idx+len("data:"):])

	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return Message(data)
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return Message(data)
	}
	return Message(compact)
}

func previewOf(msg Message) string {
	const max = 200
	if len(msg) <= max {
		return string(msg)
	}
	return string(msg[:max]) + "..."
}
