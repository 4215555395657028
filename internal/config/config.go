// ABOUTME: Configuration loading and parsing for toolshell
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "TOOLSHELL_CONFIG"

// Config represents the complete toolshell configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Host     HostConfig     `yaml:"host" toml:"host"`
	Modules  ModulesConfig  `yaml:"modules" toml:"modules"`
	Audit    AuditConfig    `yaml:"audit" toml:"audit"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the local API listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// RateLimit caps API requests per second across all clients; zero disables it.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret leaves the API open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// HostConfig configures the capability providers modules reach through the gate.
type HostConfig struct {
	SandboxDir        string   `yaml:"sandbox_dir" toml:"sandbox_dir"`
	AllowedHosts      []string `yaml:"allowed_hosts" toml:"allowed_hosts"`
	NotificationFeed  int      `yaml:"notification_feed" toml:"notification_feed"`
	RequestsPerSecond float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `yaml:"burst" toml:"burst"`

	// AllowPrivateNetworks lets modules reach loopback and LAN addresses, which
	// includes this shell's own API. Off by default.
	AllowPrivateNetworks bool `yaml:"allow_private_networks" toml:"allow_private_networks"`

	NetworkTimeout time.Duration `yaml:"-" toml:"-"`
	RepeatWindow   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	NetworkTimeoutRaw string `yaml:"network_timeout" toml:"network_timeout"`
	RepeatWindowRaw   string `yaml:"notification_repeat_window" toml:"notification_repeat_window"`
}

// ModulesConfig points at extra manifests validated at startup.
type ModulesConfig struct {
	ManifestDir string `yaml:"manifest_dir" toml:"manifest_dir"`
	Watch       bool   `yaml:"watch" toml:"watch"`
}

// AuditConfig controls persistence of gate decisions.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:7777"},
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "toolshell.db")},
		Host: HostConfig{
			SandboxDir:        filepath.Join(dataDir, "sandbox"),
			NetworkTimeout:    10 * time.Second,
			NetworkTimeoutRaw: "10s",
		},
		Audit:   AuditConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML. Fields absent
// from the file keep their Default values.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the file at DefaultPath, falling back to Default when it does not exist.
// The returned path is empty when no file was read.
func LoadDefault() (*Config, string, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// DefaultPath returns the config file path.
// Priority: TOOLSHELL_CONFIG env var > XDG_CONFIG_HOME/toolshell/config.yaml > ~/.config/toolshell/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "toolshell", "config.yaml")
}

// DataDir returns the directory for the database and sandbox.
// Priority: XDG_DATA_HOME/toolshell > ~/.local/share/toolshell
func DataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "toolshell")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(homeDir, fallback)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// MinJWTSecretLength mirrors the verifier's requirement so a bad secret fails at load time.
const MinJWTSecretLength = 32

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Host.NetworkTimeout < 0 {
		return fmt.Errorf("host.network_timeout must not be negative")
	}
	if c.Host.RepeatWindow < 0 {
		return fmt.Errorf("host.notification_repeat_window must not be negative")
	}
	if c.Host.RequestsPerSecond < 0 || c.Host.Burst < 0 {
		return fmt.Errorf("host.requests_per_second and host.burst must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Modules.Watch && c.Modules.ManifestDir == "" {
		return fmt.Errorf("modules.watch requires modules.manifest_dir")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Host.NetworkTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Host.NetworkTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing network_timeout %q: %w", cfg.Host.NetworkTimeoutRaw, err)
		}
		cfg.Host.NetworkTimeout = d
	}
	if cfg.Host.RepeatWindowRaw != "" {
		d, err := time.ParseDuration(cfg.Host.RepeatWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing notification_repeat_window %q: %w", cfg.Host.RepeatWindowRaw, err)
		}
		cfg.Host.RepeatWindow = d
	}
	return nil
}
