// ABOUTME: Configuration loading and parsing for ois-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default timing values applied when the config omits them.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCommandTimeout    = 30 * time.Second
	DefaultReminderInterval  = 60 * time.Second
	DefaultMaxHistory        = 500
)

// Config represents the complete ois-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agents    AgentsConfig    `yaml:"agents"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration. MaxHistory caps the
// number of chat messages a single history query may return.
type DatabaseConfig struct {
	Path       string `yaml:"path"`
	MaxHistory int    `yaml:"max_history"`
}

// AuthConfig holds authentication configuration.
// PasswordHash is a bcrypt hash of the operator login password.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	PasswordHash string `yaml:"password_hash"`
}

// AgentEntry declares one agent identity and the token it authenticates with.
type AgentEntry struct {
	Token       string `yaml:"token"`
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

// AgentsConfig holds agent identities and connection timing configuration
type AgentsConfig struct {
	Tokens []AgentEntry `yaml:"tokens"`

	HeartbeatInterval time.Duration `yaml:"-"`
	CommandTimeout    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	CommandTimeoutRaw    string `yaml:"command_timeout"`
}

// SchedulerConfig holds task reminder scheduler configuration
type SchedulerConfig struct {
	Interval time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
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

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Agents.Tokens) == 0 {
		return fmt.Errorf("agents.tokens must declare at least one agent")
	}
	seen := make(map[string]bool, len(c.Agents.Tokens))
	for i, entry := range c.Agents.Tokens {
		if entry.Token == "" || entry.ID == "" {
			return fmt.Errorf("agents.tokens[%d]: token and id are required", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("agents.tokens[%d]: duplicate agent id %q", i, entry.ID)
		}
		seen[entry.ID] = true
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.HeartbeatIntervalRaw != "" {
		cfg.Agents.HeartbeatInterval, err = time.ParseDuration(cfg.Agents.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Agents.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Agents.CommandTimeoutRaw != "" {
		cfg.Agents.CommandTimeout, err = time.ParseDuration(cfg.Agents.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing command_timeout %q: %w", cfg.Agents.CommandTimeoutRaw, err)
		}
	}

	if cfg.Scheduler.IntervalRaw != "" {
		cfg.Scheduler.Interval, err = time.ParseDuration(cfg.Scheduler.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing scheduler interval %q: %w", cfg.Scheduler.IntervalRaw, err)
		}
	}

	return nil
}

// applyDefaults fills in timing values left unset by the config file.
func applyDefaults(cfg *Config) {
	if cfg.Agents.HeartbeatInterval <= 0 {
		cfg.Agents.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Agents.CommandTimeout <= 0 {
		cfg.Agents.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = DefaultReminderInterval
	}
	if cfg.Database.MaxHistory <= 0 {
		cfg.Database.MaxHistory = DefaultMaxHistory
	}
}
