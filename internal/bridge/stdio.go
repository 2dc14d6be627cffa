package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// errChildStdoutClosed is returned by pipeStdoutToQueue when the child's
// stdout reaches a clean EOF. It is a sentinel error rather than nil so
// that it actually trips the errgroup's cancellation: per §4.3, stdout EOF
// signals the child has died and must tear the whole connection down, not
// just quietly end one of four tasks while its siblings sit parked in
// blocking I/O.
var errChildStdoutClosed = errors.New("bridge: child stdout closed")

// RunStdio implements §4.3: it spawns target.Command as a child process
// and splices its stdin/stdout/stderr onto the upstream WebSocket and
// response queue. The four tasks (WS→stdin, stdout→queue, stderr→terminal,
// queue→WS) run under one errgroup so that any one of them failing tears
// down the whole connection, matching the any-fails-all-fail discipline of
// the original's asyncio.gather call, grounded on
// [errgroup.Group] (golang.org/x/sync) and adapted from the fire-and-forget
// pipe semantics in the original project's pipe_websocket_to_process /
// pipe_process_to_queue / pipe_process_stderr_to_terminal, rather than the
// request/response Call() pattern a plain stdio RPC client would use.
func RunStdio(ctx context.Context, cc *ConnCtx, target Target) error {
	if len(target.Command) == 0 {
		return fmt.Errorf("bridge: stdio mode requires a non-empty command")
	}

	cmd := exec.CommandContext(ctx, target.Command[0], target.Command[1:]...)
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("bridge: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("bridge: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bridge: start %v: %w", target.Command, err)
	}
	cc.Log.Info("started child process", "command", target.Command)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeWSToStdin(gctx, cc, stdin) })
	g.Go(func() error { return pipeStdoutToQueue(gctx, cc, stdout) })
	g.Go(func() error { return pipeStderrToTerminal(gctx, cc, stderr) })
	g.Go(func() error { return pipeQueueToWS(gctx, cc) })
	g.Go(func() error {
		// pipeWSToStdin blocks in cc.WS.ReadMessage(), which takes no
		// context; cancelling gctx alone would never wake it up, so once
		// any sibling tears the connection down, force the socket closed
		// to unblock the read and let pipeWSToStdin observe the failure.
		<-gctx.Done()
		_ = cc.WS.Close(1000, "stdio pipe tearing down")
		return nil
	})

	runErr := g.Wait()

	cc.Log.Info("terminating child process", "command", target.Command[0])
	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()

	return runErr
}

// pipeWSToStdin reads messages off the upstream WebSocket and writes them,
// newline-terminated, to the child's stdin.
func pipeWSToStdin(ctx context.Context, cc *ConnCtx, stdin io.WriteCloser) error {
	defer stdin.Close()
	for {
		msg, err := cc.WS.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket to process pipe: %w", err)
		}
		if _, err := stdin.Write(append(msg, '\n')); err != nil {
			return fmt.Errorf("write to child stdin: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// pipeStdoutToQueue reads lines from the child's stdout and enqueues them
// for the Queue→WS consumer.
func pipeStdoutToQueue(ctx context.Context, cc *ConnCtx, stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if err := cc.Queue.Add(ctx, Message(line)); err != nil {
			cc.Log.Error("dropping child output", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("process to queue pipe: %w", err)
	}
	cc.Log.Info("process has ended output")
	return errChildStdoutClosed
}

// pipeStderrToTerminal forwards the child's stderr straight through to our
// own stderr, unbuffered, as the original does with sys.stderr.write.
func pipeStderrToTerminal(ctx context.Context, cc *ConnCtx, stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		fmt.Fprintln(os.Stderr, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("process stderr pipe: %w", err)
	}
	cc.Log.Info("process has ended stderr output")
	return nil
}
