// ABOUTME: Configuration loading and parsing for dashblock-hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dashblock-hub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Relay     RelayConfig     `yaml:"relay"`
	Deploy    DeployConfig    `yaml:"deploy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AuthConfig holds authentication configuration for clients and internal callers.
// Agents always authenticate with their per-server agent key.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve HTTP on :443 with Tailscale certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig tunes per-connection delivery in the hub
type RelayConfig struct {
	// SendBuffer is the number of frames queued per connection before
	// further frames to that connection are dropped.
	SendBuffer int `yaml:"send_buffer"`

	// AuthFlushTimeout bounds how long a rejected agent's auth_error may take
	// to flush before the stream is torn down.
	AuthFlushTimeout    time.Duration `yaml:"-"`
	AuthFlushTimeoutRaw string        `yaml:"auth_flush_timeout"`
}

// DeployConfig holds settings for the SSH deployment orchestrator
type DeployConfig struct {
	// AgentBinary is the local path of the dashblock-agent build shipped to hosts.
	AgentBinary string `yaml:"agent_binary"`
	// RelayURL is the address agents dial, as reachable from managed hosts.
	RelayURL string `yaml:"relay_url"`
	// Runtime is the command whose presence is checked before installing.
	Runtime string `yaml:"runtime"`
	// KnownHosts is an OpenSSH known_hosts file; empty accepts any host key.
	KnownHosts string `yaml:"known_hosts"`

	DialTimeout     time.Duration `yaml:"-"`
	ConfirmDelay    time.Duration `yaml:"-"`
	DialTimeoutRaw  string        `yaml:"dial_timeout"`
	ConfirmDelayRaw string        `yaml:"confirm_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied by Load for fields left empty.
const (
	DefaultSendBuffer       = 64
	DefaultAuthFlushTimeout = 2 * time.Second
	DefaultRuntime          = "java"
	DefaultDialTimeout      = 15 * time.Second
	DefaultConfirmDelay     = 3 * time.Second
	DefaultMetricsPath      = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath resolves the config file location.
// Priority: DASHBLOCK_CONFIG env > ./config.yaml > $XDG_CONFIG_HOME/dashblock/hub.yaml.
func DefaultPath() string {
	if p := os.Getenv("DASHBLOCK_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "dashblock", "hub.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Relay.SendBuffer <= 0 {
		c.Relay.SendBuffer = DefaultSendBuffer
	}
	if c.Relay.AuthFlushTimeout == 0 {
		c.Relay.AuthFlushTimeout = DefaultAuthFlushTimeout
	}
	if c.Deploy.Runtime == "" {
		c.Deploy.Runtime = DefaultRuntime
	}
	if c.Deploy.DialTimeout == 0 {
		c.Deploy.DialTimeout = DefaultDialTimeout
	}
	if c.Deploy.ConfirmDelay == 0 {
		c.Deploy.ConfirmDelay = DefaultConfirmDelay
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return errors.New("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return errors.New("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// DeployEnabled reports whether the hub can run deployments.
func (c *Config) DeployEnabled() bool {
	return c.Deploy.AgentBinary != "" && c.Deploy.RelayURL != ""
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"relay.auth_flush_timeout", cfg.Relay.AuthFlushTimeoutRaw, &cfg.Relay.AuthFlushTimeout},
		{"deploy.dial_timeout", cfg.Deploy.DialTimeoutRaw, &cfg.Deploy.DialTimeout},
		{"deploy.confirm_delay", cfg.Deploy.ConfirmDelayRaw, &cfg.Deploy.ConfirmDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
