// Package bridge implements the concurrency fabric that splices an
// upstream MCP WebSocket onto a downstream transport: the reconnection
// loop, the per-connection task graph, the response queue, the JSON-RPC
// correlation table, and the pipe tasks for each downstream mode.
package bridge

import (
	"errors"
	"time"
)

// Message is an opaque byte string. The bridge never mutates payload
// semantics beyond the transformations §4.4 and §4.5 of the wire format
// call for; it may re-serialize after parsing for normalization.
type Message []byte

// Mode selects which downstream transport a Connection speaks.
type Mode string

const (
	ModeStdio          Mode = "stdio"
	ModeSSE            Mode = "sse"
	ModeStreamableHTTP Mode = "streamable_http"
)

var (
	// ErrQueueFull is returned by ResponseQueue.Add when the queue stays at
	// capacity for EnqueueTimeout. The message is then discarded and the
	// error surfaced to the producer.
	ErrQueueFull = errors.New("bridge: response queue is full")

	// ErrConnectionClosed signals that the upstream WebSocket connection
	// must be treated as dead and a reconnect attempted. It is raised
	// synthetically on send timeout or send error, not only on an actual
	// close frame.
	ErrConnectionClosed = errors.New("bridge: connection closed")
)

// Tunables fixed by the spec across every mode.
const (
	EnqueueTimeout      = 10 * time.Second
	DequeueTimeout      = 30 * time.Second
	WSSendTimeout       = 20 * time.Second
	WSPongTimeout       = 10 * time.Second
	HeartbeatInterval   = 20 * time.Second
	CorrelationTTL      = 300 * time.Second
	CorrelationSweep    = 60 * time.Second
	ChildTerminateGrace = 5 * time.Second
	QueueCapacity       = 1000

	InitialBackoff = time.Second
	MaxBackoff     = 600 * time.Second
)
