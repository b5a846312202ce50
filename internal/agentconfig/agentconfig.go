// ABOUTME: Configuration loading for dashblock-agent
// ABOUTME: Loads TOML config with environment variable expansion and fills supervisor defaults

package agentconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the name the deploy orchestrator gives the generated config.
const FileName = "agent.toml"

// Config is the agent's local configuration.
type Config struct {
	AgentKey   string        `toml:"agent_key"`
	RelayURL   string        `toml:"relay_url"`
	ServerPath string        `toml:"server_path"`
	Relay      RelayConfig   `toml:"relay,omitempty"`
	Server     ServerConfig  `toml:"server,omitempty"`
	Logging    LoggingConfig `toml:"logging,omitempty"`
}

// RelayConfig controls the connection to the hub.
type RelayConfig struct {
	ReconnectDelay Duration `toml:"reconnect_delay,omitzero"`
	TLS            bool     `toml:"tls,omitempty"`
}

// ServerConfig controls how the managed server is launched and observed.
type ServerConfig struct {
	Script         string   `toml:"script,omitempty"`
	Shell          string   `toml:"shell,omitempty"`
	Java           string   `toml:"java,omitempty"`
	HeapMax        string   `toml:"heap_max,omitempty"`
	HeapMin        string   `toml:"heap_min,omitempty"`
	StopCommand    string   `toml:"stop_command,omitempty"`
	GracePeriod    Duration `toml:"grace_period,omitzero"`
	RestartDelay   Duration `toml:"restart_delay,omitzero"`
	ProbeInterval  Duration `toml:"probe_interval,omitzero"`
	ProcessPattern string   `toml:"process_pattern,omitempty"`
	ReadyMarkers   []string `toml:"ready_markers,omitempty"`
	// Readiness replaces ReadyMarkers for the named variants.
	Readiness map[string][]string `toml:"readiness,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

// UnmarshalText parses strings like "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in time.Duration.String form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults for optional settings.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultScript         = "start.sh"
	DefaultShell          = "bash"
	DefaultJava           = "java"
	DefaultHeapMax        = "2G"
	DefaultHeapMin        = "1G"
	DefaultStopCommand    = "stop"
	DefaultGracePeriod    = 30 * time.Second
	DefaultRestartDelay   = 5 * time.Second
	DefaultProbeInterval  = 10 * time.Second
	DefaultProcessPattern = `java.*\.jar`
)

// Variants are the server variant names accepted as [server.readiness] keys.
var Variants = []string{"fabric", "forge", "paper", "spigot", "vanilla"}

// DefaultReadyMarkers are the console lines a vanilla-family server prints once it accepts players.
var DefaultReadyMarkers = []string{"Done", `For help, type "help"`}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// DefaultPath returns agent.toml next to the running executable,
// unless DASHBLOCK_AGENT_CONFIG is set.
func DefaultPath() string {
	if p := os.Getenv("DASHBLOCK_AGENT_CONFIG"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return FileName
	}
	return filepath.Join(filepath.Dir(exe), FileName)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.AgentKey == "" {
		return errors.New("agent_key is required")
	}
	if c.RelayURL == "" {
		return errors.New("relay_url is required")
	}
	if c.ServerPath == "" {
		return errors.New("server_path is required")
	}
	if c.Server.ProcessPattern != "" {
		if _, err := regexp.Compile(c.Server.ProcessPattern); err != nil {
			return fmt.Errorf("server.process_pattern is not a valid regexp: %w", err)
		}
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"relay.reconnect_delay", c.Relay.ReconnectDelay},
		{"server.grace_period", c.Server.GracePeriod},
		{"server.restart_delay", c.Server.RestartDelay},
		{"server.probe_interval", c.Server.ProbeInterval},
	}
	for _, f := range durations {
		if f.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", f.name, f.d.Std())
		}
	}

	for variant, markers := range c.Server.Readiness {
		if !slices.Contains(Variants, variant) {
			return fmt.Errorf("server.readiness: unknown variant %q (want one of %s)", variant, strings.Join(Variants, ", "))
		}
		if len(markers) == 0 {
			return fmt.Errorf("server.readiness.%s needs at least one marker", variant)
		}
	}
	return nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.Relay.ReconnectDelay == 0 {
		c.Relay.ReconnectDelay = Duration(DefaultReconnectDelay)
	}
	s := &c.Server
	setDefault(&s.Script, DefaultScript)
	setDefault(&s.Shell, DefaultShell)
	setDefault(&s.Java, DefaultJava)
	setDefault(&s.HeapMax, DefaultHeapMax)
	setDefault(&s.HeapMin, DefaultHeapMin)
	setDefault(&s.StopCommand, DefaultStopCommand)
	setDefault(&s.ProcessPattern, DefaultProcessPattern)
	if s.GracePeriod == 0 {
		s.GracePeriod = Duration(DefaultGracePeriod)
	}
	if s.RestartDelay == 0 {
		s.RestartDelay = Duration(DefaultRestartDelay)
	}
	if s.ProbeInterval == 0 {
		s.ProbeInterval = Duration(DefaultProbeInterval)
	}
	if len(s.ReadyMarkers) == 0 {
		s.ReadyMarkers = append([]string(nil), DefaultReadyMarkers...)
	}
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Encode writes cfg as TOML. Unset optional fields are omitted.
func Encode(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding agent config: %w", err)
	}
	return nil
}
