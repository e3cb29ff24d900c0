// Package config loads and validates the client configuration.
//
// Precedence, lowest to highest: built-in defaults, the TOML config file,
// REFINE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds everything the client needs to supervise the engine.
type Config struct {
	// Workspace is the root directory the engine analyzes. It is also the
	// engine's working directory.
	Workspace string `toml:"workspace"`

	// ArtifactPath is the engine artifact launched by the runtime.
	ArtifactPath string `toml:"artifact_path"`

	// Runtime is the name of the runtime executable resolved on PATH.
	Runtime string `toml:"runtime"`

	// RuntimeArgs are passed to the runtime before the port argument.
	// When empty they default to ["-jar", ArtifactPath]. The allocated
	// port is always appended as the engine's sole positional argument.
	RuntimeArgs []string `toml:"runtime_args"`

	// DebugPort, when non-zero, is a fixed pre-agreed port: allocation and
	// spawn are bypassed and the client connects to an already-running
	// engine.
	DebugPort int `toml:"debug_port"`

	// DiagnosticSource is the source tag identifying the engine's own
	// diagnostics.
	DiagnosticSource string `toml:"diagnostic_source"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `toml:"log_level"`

	// ConnectTimeoutMS bounds a single connection attempt.
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// ConnectRetryIntervalMS is the delay between connection attempts
	// while waiting for the engine to start listening.
	ConnectRetryIntervalMS int `toml:"connect_retry_interval_ms"`

	// ConnectAttempts is the maximum number of connection attempts.
	ConnectAttempts int `toml:"connect_attempts"`

	// HandshakeTimeoutMS bounds the protocol handshake.
	HandshakeTimeoutMS int `toml:"handshake_timeout_ms"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Runtime:                "java",
		DiagnosticSource:       "refine",
		LogLevel:               "info",
		ConnectTimeoutMS:       500,
		ConnectRetryIntervalMS: 50,
		ConnectAttempts:        40,
		HandshakeTimeoutMS:     10000,
	}
}

// Load builds a Config from defaults, an optional TOML file, and the
// environment. A missing file is not an error. The caller is expected to
// apply any further overrides and then Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overlays REFINE_* environment variables.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("REFINE_WORKSPACE"); ok {
		c.Workspace = v
	}
	if v, ok := os.LookupEnv("REFINE_ARTIFACT"); ok {
		c.ArtifactPath = v
	}
	if v, ok := os.LookupEnv("REFINE_RUNTIME"); ok {
		c.Runtime = v
	}
	if v, ok := os.LookupEnv("REFINE_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("REFINE_DEBUG_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.DebugPort = port
		}
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("config: workspace is required")
	}
	if c.DebugPort == 0 && c.ArtifactPath == "" {
		return fmt.Errorf("config: artifact_path is required unless debug_port is set")
	}
	if c.DebugPort < 0 || c.DebugPort > 65535 {
		return fmt.Errorf("config: debug_port %d out of range", c.DebugPort)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("config: connect_attempts must be at least 1")
	}
	return nil
}

// EngineArgs returns the full argument list for the runtime, with the port
// appended as the engine's sole positional argument.
func (c *Config) EngineArgs(port int) []string {
	args := c.RuntimeArgs
	if len(args) == 0 {
		args = []string{"-jar", c.ArtifactPath}
	}

	out := make([]string, 0, len(args)+1)
	out = append(out, args...)
	return append(out, strconv.Itoa(port))
}

// ConnectTimeout returns the per-attempt connection timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ConnectRetryInterval returns the delay between connection attempts.
func (c *Config) ConnectRetryInterval() time.Duration {
	return time.Duration(c.ConnectRetryIntervalMS) * time.Millisecond
}

// HandshakeTimeout returns the handshake deadline.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}
