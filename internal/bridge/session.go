package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// initRequestEnvelope is the tools/list bootstrap request sent to learn a
// session id before any real traffic flows, per §4.7.
var initRequestEnvelope = []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)

// initSessionResult is the subset of a tools/list response body the
// session initializer inspects for an embedded session id.
type initSessionResult struct {
	Result struct {
		SessionID string `json:"sessionId"`
	} `json:"result"`
}

// initializeSession posts the bootstrap tools/list request to endpoint and
// returns whatever session id it can learn, from the Mcp-Session-Id
// response header or result.sessionId in the body — the body's value takes
// precedence if both are present, matching the original's initialize
// handshake (§4.7). Returning "" is not itself an error: some servers
// simply don't allocate one.
func initializeSession(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(initRequestEnvelope))
	if err != nil {
		return "", fmt.Errorf("build session init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error initializing session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to initialize session: status %d: %s", resp.StatusCode, body)
	}

	sessionID := resp.Header.Get("Mcp-Session-Id")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sessionID, nil
	}
	var parsed initSessionResult
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Result.SessionID != "" {
		sessionID = parsed.Result.SessionID
	}

	return sessionID, nil
}
