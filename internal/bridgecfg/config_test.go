package bridgecfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcpbridge/mcpbridge/internal/bridge"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	return path
}

func TestResolveStdioFromConfig(t *testing.T) {
	path := writeTempConfig(t, `
mcp_endpoint: wss://example.com/mcp
mode: stdio
script_path: /opt/tools/calculator.py
`)
	got, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if got.Endpoint != "wss://example.com/mcp" {
		t.Fatalf("Endpoint = %q, want wss://example.com/mcp", got.Endpoint)
	}
	if got.Target.Mode != bridge.ModeStdio {
		t.Fatalf("Target.Mode = %q, want stdio", got.Target.Mode)
	}
	want := []string{"python3", "/opt/tools/calculator.py"}
	if len(got.Target.Command) != 2 || got.Target.Command[0] != want[0] || got.Target.Command[1] != want[1] {
		t.Fatalf("Target.Command = %v, want %v", got.Target.Command, want)
	}
}

func TestResolveSSEFromConfig(t *testing.T) {
	path := writeTempConfig(t, `
mcp_endpoint: wss://example.com/mcp
mode: sse
sse_url: http://localhost:8000/sse
`)
	got, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if got.Target.Mode != bridge.ModeSSE || got.Target.URL != "http://localhost:8000/sse" {
		t.Fatalf("Target = %+v, want sse mode with the configured URL", got.Target)
	}
}

func TestResolveMissingModeSpecificField(t *testing.T) {
	path := writeTempConfig(t, `
mcp_endpoint: wss://example.com/mcp
mode: sse
`)
	if _, err := Resolve(path); err == nil {
		t.Fatal("expected Resolve() to fail when sse_url is missing for sse mode")
	}
}

func TestResolveUnsupportedMode(t *testing.T) {
	path := writeTempConfig(t, `
mcp_endpoint: wss://example.com/mcp
mode: carrier-pigeon
`)
	if _, err := Resolve(path); err == nil {
		t.Fatal("expected Resolve() to fail on an unsupported mode")
	}
}

func TestResolveMissingEndpoint(t *testing.T) {
	path := writeTempConfig(t, `
mode: stdio
script_path: /opt/tools/calculator.py
`)
	if _, err := Resolve(path); err == nil {
		t.Fatal("expected Resolve() to fail when mcp_endpoint is missing")
	}
}

func TestResolveFromEnv(t *testing.T) {
	t.Setenv("MCP_ENDPOINT", "wss://example.com/mcp")
	got, err := Resolve("/opt/tools/my_script.py")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if got.Endpoint != "wss://example.com/mcp" {
		t.Fatalf("Endpoint = %q, want wss://example.com/mcp", got.Endpoint)
	}
	if got.Target.Mode != bridge.ModeStdio {
		t.Fatalf("Target.Mode = %q, want stdio", got.Target.Mode)
	}
}

func TestResolveFromEnvMissing(t *testing.T) {
	t.Setenv("MCP_ENDPOINT", "")
	if _, err := Resolve("/opt/tools/my_script.py"); err == nil {
		t.Fatal("expected Resolve() to fail when MCP_ENDPOINT is unset")
	}
}
