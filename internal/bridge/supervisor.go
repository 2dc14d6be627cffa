package bridge

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Target describes where the downstream side of a connection attempt
// should go: a child process to spawn (stdio mode) or a URL to dial
// (sse / streamable_http mode). Exactly one of Command or URL is set,
// matching the mutual exclusivity of the EXTERNAL INTERFACES CLI/config.
type Target struct {
	Mode    Mode
	Command []string // stdio
	URL     string   // sse, streamable_http
}

// Pipe runs one downstream mode's pipe tasks against an already-dialed
// upstream connection. It must return when ctx is cancelled, and should
// return a non-nil error when the connection should be torn down and
// retried (including ErrConnectionClosed).
type Pipe func(ctx context.Context, cc *ConnCtx, target Target) error

// Supervisor owns the reconnection loop (§4.1): it dials the upstream
// endpoint, builds a fresh Connection Context, runs the downstream pipe to
// completion, and on failure backs off exponentially with jitter before
// retrying. It never gives up on its own; only ctx cancellation (e.g. from
// SIGINT) stops it.
type Supervisor struct {
	Endpoint string
	Target   Target
	Log      *slog.Logger
	Pipe     Pipe

	// dial is overridable in tests so they don't need a live WebSocket
	// server.
	dial func(ctx context.Context, endpoint string) (*wsConn, error)
}

// NewSupervisor returns a Supervisor wired to the real upstream dialer.
func NewSupervisor(endpoint string, target Target, log *slog.Logger, pipe Pipe) *Supervisor {
	return &Supervisor{
		Endpoint: endpoint,
		Target:   target,
		Log:      log,
		Pipe:     pipe,
		dial: func(ctx context.Context, endpoint string) (*wsConn, error) {
			conn, _, err := dialUpstream(ctx, endpoint)
			return conn, err
		},
	}
}

// Run drives the reconnection loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := InitialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.Log.Info("connecting to mcp endpoint", "endpoint", s.Endpoint, "mode", s.Target.Mode)
		ws, err := s.dial(ctx, s.Endpoint)
		if err != nil {
			s.Log.Error("failed to connect", "error", err)
			if !sleepBackoff(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.Log.Info("connected successfully")
		backoff = InitialBackoff

		connCtx, cancel := context.WithCancel(ctx)
		cc := NewConnCtx(s.Target.Mode, s.Log, ws, cancel)

		err = s.Pipe(connCtx, cc, s.Target)
		cc.Close()
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.Log.Error("connection ended, reconnecting", "error", err)
		} else {
			s.Log.Warn("connection ended, reconnecting")
		}
		if !sleepBackoff(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles d, capped at MaxBackoff. The 1.0-1.1x jitter factor
// that keeps a fleet of reconnecting bridges from thundering against the
// endpoint in lockstep is applied separately, by jittered in sleepBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

func jittered(d time.Duration) time.Duration {
	factor := 1.0 + rand.Float64()*0.1
	return time.Duration(float64(d) * factor)
}

// sleepBackoff waits for d (jittered) or until ctx is done, whichever
// comes first. It returns false if ctx ended the wait early.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(jittered(d))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
