// Package rpc provides tagged views over the subset of JSON-RPC 2.0 fields
// the bridge inspects. It never represents the full MCP protocol schema:
// the bridge forwards payloads verbatim and only pattern-matches a handful
// of fields for correlation and logging.
package rpc

import (
	"encoding/json"
	"strconv"
)

// Envelope is the raw shape every JSON-RPC message is decoded into before
// the bridge decides what, if anything, it cares about. Fields not listed
// here are not kept, so an Envelope cannot be re-serialized without loss;
// the bridge forwards the original message bytes instead.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error shape.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// toolCallParams is the subset of CallToolParams the bridge needs in order
// to register a correlation entry.
type toolCallParams struct {
	Name string `json:"name"`
}

// toolsListResult is the subset of a tools/list result the bridge logs the
// size of.
type toolsListResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// Parse decodes data as an Envelope. It returns ok=false if data is not a
// JSON object (e.g. plain text, or a JSON array/scalar); ok=false is not an
// error, it just means the bridge treats the message as opaque.
func Parse(data []byte) (env Envelope, ok bool) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

// ToolName returns the tool name and true if env is a tools/call request
// carrying params.name, per spec's definition of a tool call.
func (env Envelope) ToolName() (string, bool) {
	if env.Method != "tools/call" || len(env.Params) == 0 {
		return "", false
	}
	var p toolCallParams
	if err := json.Unmarshal(env.Params, &p); err != nil || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

// HasID reports whether env carries a non-null id field.
func (env Envelope) HasID() bool {
	return len(env.ID) > 0 && string(env.ID) != "null"
}

// ToolsListLen returns the length of result.tools and true, if present.
func (env Envelope) ToolsListLen() (int, bool) {
	if len(env.Result) == 0 {
		return 0, false
	}
	var r toolsListResult
	if err := json.Unmarshal(env.Result, &r); err != nil || r.Tools == nil {
		return 0, false
	}
	return len(r.Tools), true
}

// Classify returns a short human label for logging, matching the
// categories the bridge distinguishes: tools-list, tool-result, error,
// method call, or other JSON data.
func (env Envelope) Classify() string {
	switch {
	case env.Method != "":
		return "method: " + env.Method
	case env.Error != nil:
		return "error: " + env.Error.Message
	default:
		if n, ok := env.ToolsListLen(); ok {
			return formatToolsList(n)
		}
		if len(env.Result) > 0 {
			return "tool result"
		}
		return "json data"
	}
}

func formatToolsList(n int) string {
	return "tools list (" + strconv.Itoa(n) + " tools)"
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
