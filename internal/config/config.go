// Package config loads the runtime configuration: a YAML file with
// environment-variable expansion, layered over defaults rooted in the lace
// home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Home is the state directory. Defaults to $LACE_DIR, then ~/.lace.
	Home string `yaml:"home"`

	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	// Path to the database file. Empty means <home>/lace.db.
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API and event stream.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// MetricsEnabled exposes /metrics when true.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProvidersConfig holds model backend credentials. API keys support
// ${ENV_VAR} expansion.
type ProvidersConfig struct {
	Default   string         `yaml:"default"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig configures one model backend.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AgentConfig controls turn-loop behavior.
type AgentConfig struct {
	SystemPrompt       string `yaml:"system_prompt"`
	CompactionStrategy string `yaml:"compaction_strategy"`
	MaxIterations      int    `yaml:"max_iterations"`

	// ApprovalTimeoutSeconds bounds how long a tool call waits for a
	// decision before it is denied.
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds"`
}

// ToolsConfig scopes the built-in tools.
type ToolsConfig struct {
	Workspace      string `yaml:"workspace"`
	MaxReadBytes   int    `yaml:"max_read_bytes"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Home:     defaultHome(),
		Server:   ServerConfig{Addr: "127.0.0.1:8722", MetricsEnabled: true},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Agent:    AgentConfig{CompactionStrategy: "trim-tool-results"},
		Providers: ProvidersConfig{
			Default:   "anthropic",
			Anthropic: ProviderConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")},
			OpenAI:    ProviderConfig{APIKey: os.Getenv("OPENAI_API_KEY")},
		},
	}
}

// Load reads a YAML config file over the defaults. Environment variables in
// the file are expanded before parsing. An empty path loads
// <home>/config.yaml when present and plain defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidate := filepath.Join(cfg.Home, "config.yaml")
		if _, err := os.Stat(candidate); err != nil {
			return cfg.finalize()
		}
		path = candidate
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.finalize()
}

// finalize fills derived fields and validates what little must hold.
func (c *Config) finalize() (*Config, error) {
	if c.Home == "" {
		c.Home = defaultHome()
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Home, "lace.db")
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8722"
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	switch strings.ToLower(c.Providers.Default) {
	case "anthropic", "openai":
	default:
		return nil, fmt.Errorf("unknown default provider %q", c.Providers.Default)
	}
	return c, nil
}

// EnsureHome creates the state directory.
func (c *Config) EnsureHome() error {
	return os.MkdirAll(c.Home, 0o755)
}

func defaultHome() string {
	if dir := os.Getenv("LACE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lace"
	}
	return filepath.Join(home, ".lace")
}
