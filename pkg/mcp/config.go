package mcp

import "time"

// ProtocolVersion is the MCP protocol revision negotiated during initialize.
const ProtocolVersion = "2024-11-05"

const (
	clientName    = "urlpreview"
	clientVersion = "1.0.0"

	defaultTimeout = 30 * time.Second
)

// Config describes how to launch and talk to an MCP server.
type Config struct {
	// Enabled gates browser integration. Consumers should not construct a
	// client when false; the field exists so configuration files can carry
	// the whole block with a single switch.
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env"`
	// Timeout bounds every individual call on the pipe.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the conventional playwright-mcp launch command.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Command: "npx",
		Args:    []string{"-y", "@playwright/mcp@latest"},
		Timeout: defaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
