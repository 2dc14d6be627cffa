// Package bridgecfg resolves the mcpbridge CLI's positional target
// argument into a WebSocket endpoint and a downstream Target, either from
// a YAML config file or from the MCP_ENDPOINT environment variable, per
// the EXTERNAL INTERFACES contract. Loading follows the teacher SDK's
// plain-error-return convention rather than panicking on bad input.
package bridgecfg

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcpbridge/mcpbridge/internal/bridge"
)

// fileConfig is the YAML shape config.yaml files are parsed into.
type fileConfig struct {
	MCPEndpoint   string `yaml:"mcp_endpoint"`
	Mode          string `yaml:"mode"`
	ScriptPath    string `yaml:"script_path"`
	SSEURL        string `yaml:"sse_url"`
	StreamableURL string `yaml:"streamable_url"`
}

// Resolved is everything Run needs to start a Supervisor.
type Resolved struct {
	Endpoint string
	Target   bridge.Target
}

// Resolve turns the CLI's positional target argument into a Resolved
// configuration. A target ending in .yaml or .yml is loaded as a config
// file (§EXTERNAL INTERFACES); anything else is treated as a stdio script
// path, with the WebSocket endpoint taken from MCP_ENDPOINT.
func Resolve(targetArg string) (Resolved, error) {
	if strings.HasSuffix(targetArg, ".yaml") || strings.HasSuffix(targetArg, ".yml") {
		return resolveFromFile(targetArg)
	}
	return resolveFromEnv(targetArg)
}

func resolveFromFile(path string) (Resolved, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return Resolved{}, fmt.Errorf("bridgecfg: failed to load configuration file: %w", err)
	}

	if cfg.MCPEndpoint == "" {
		return Resolved{}, fmt.Errorf("bridgecfg: mcp_endpoint must be defined in the config file")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = string(bridge.ModeStdio)
	}

	var target bridge.Target
	switch bridge.Mode(mode) {
	case bridge.ModeSSE:
		if cfg.SSEURL == "" {
			return Resolved{}, fmt.Errorf("bridgecfg: sse_url is required in config file for sse mode")
		}
		target = bridge.Target{Mode: bridge.ModeSSE, URL: cfg.SSEURL}
	case bridge.ModeStdio:
		if cfg.ScriptPath == "" {
			return Resolved{}, fmt.Errorf("bridgecfg: script_path is required in config file for stdio mode")
		}
		target = bridge.Target{Mode: bridge.ModeStdio, Command: scriptCommand(cfg.ScriptPath)}
	case bridge.ModeStreamableHTTP:
		if cfg.StreamableURL == "" {
			return Resolved{}, fmt.Errorf("bridgecfg: streamable_url is required in config file for streamable_http mode")
		}
		target = bridge.Target{Mode: bridge.ModeStreamableHTTP, URL: cfg.StreamableURL}
	default:
		return Resolved{}, fmt.Errorf("bridgecfg: unsupported mode %q in config file, supported modes are stdio, sse, and streamable_http", mode)
	}

	return Resolved{Endpoint: cfg.MCPEndpoint, Target: target}, nil
}

func resolveFromEnv(scriptPath string) (Resolved, error) {
	endpoint := os.Getenv("MCP_ENDPOINT")
	if endpoint == "" {
		return Resolved{}, fmt.Errorf("bridgecfg: set the MCP_ENDPOINT environment variable or use a config file")
	}
	return Resolved{
		Endpoint: endpoint,
		Target:   bridge.Target{Mode: bridge.ModeStdio, Command: scriptCommand(scriptPath)},
	}, nil
}

// scriptCommand runs a stdio target the same way the original did: the
// interpreter that matches the script's extension invoking the script
// path. Scripts without a recognized extension are executed directly,
// supporting the compiled Go example tools as stdio targets too.
func scriptCommand(scriptPath string) []string {
	switch {
	case strings.HasSuffix(scriptPath, ".py"):
		return []string{"python3", scriptPath}
	default:
		return []string{scriptPath}
	}
}

func loadConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}
