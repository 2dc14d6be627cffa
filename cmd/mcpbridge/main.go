// Command mcpbridge splices a persistent upstream MCP WebSocket onto a
// downstream transport — a stdio child process, an SSE server, or a
// streamable HTTP server — reconnecting with backoff whenever the
// upstream connection drops.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mcpbridge/mcpbridge/internal/bridge"
	"github.com/mcpbridge/mcpbridge/internal/bridgecfg"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: mcpbridge [--debug] <target>")
		fmt.Fprintln(os.Stderr, "  target is a stdio script path or a .yaml/.yml config file")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("mcpbridge: exactly one target argument is required")
	}
	targetArg := flag.Arg(0)

	// Load .env if present; environment variables set directly still win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("could not load .env file", "error", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	resolved, err := bridgecfg.Resolve(targetArg)
	if err != nil {
		return err
	}
	log.Info("using mode", "mode", resolved.Target.Mode)
	log.Info("mcp endpoint", "endpoint", resolved.Endpoint)
	log.Info("target", "target", targetArg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipe := pipeForMode(resolved.Target.Mode)
	if pipe == nil {
		return fmt.Errorf("mcpbridge: unsupported mode %q", resolved.Target.Mode)
	}

	sup := bridge.NewSupervisor(resolved.Endpoint, resolved.Target, log, pipe)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcpbridge: %w", err)
	}
	log.Info("received interrupt signal, shutting down")
	return nil
}

func pipeForMode(mode bridge.Mode) bridge.Pipe {
	switch mode {
	case bridge.ModeStdio:
		return bridge.RunStdio
	case bridge.ModeSSE:
		return bridge.RunSSE
	case bridge.ModeStreamableHTTP:
		return bridge.RunStreamableHTTP
	default:
		return nil
	}
}
