// Package config handles the fly-mcp configuration file and its mapping onto
// the server runtime settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/flycli/fly-mcp"
)

const appName = "fly-mcp"

// Config is the on-disk configuration. Every field has a working default, so
// a missing config file is not an error.
type Config struct {
	// Workspace is the directory projects are scaffolded into. Defaults to
	// the current working directory.
	Workspace string `yaml:"workspace"`

	// CachePath locates the bbolt database recording scaffold history.
	// Defaults to the XDG data directory. CacheDisabled turns the cache off
	// entirely.
	CachePath     string `yaml:"cache_path"`
	CacheDisabled bool   `yaml:"cache_disabled"`

	// LogLevel is one of debug, info, warn, error. LogFormat is text or json.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// TimeoutSeconds bounds each tool call. Zero means the server default;
	// negative disables the deadline. ToolTimeoutSeconds overrides the bound
	// for individual tools by name.
	TimeoutSeconds     int            `yaml:"timeout_seconds"`
	ToolTimeoutSeconds map[string]int `yaml:"tool_timeout_seconds"`

	// MaxConcurrentCalls caps tool calls running at once. Zero means the
	// server default; negative removes the cap.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// MaxMessageBytes caps the size of a single framed message.
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// Path returns the standard config file location for the current platform.
func Path() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Default returns a Config with every field at its default.
func Default() Config {
	workspace, err := os.Getwd()
	if err != nil {
		workspace = "."
	}
	return Config{
		Workspace: workspace,
		CachePath: filepath.Join(xdg.DataHome, appName, "cache.db"),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the config from path, or from the standard location when path is
// empty, falling back to defaults when no file exists. Environment variables
// override file values.
func Load(path string) (Config, error) {
	if path == "" {
		path = Path()
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFrom reads the config from path. A missing file yields the defaults.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config to the standard location, creating parent
// directories as needed.
func (c Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config to a specific path.
func (c Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FLY_MCP_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("FLY_MCP_CACHE_PATH"); v != "" {
		c.CachePath = v
	}
	if v := os.Getenv("FLY_MCP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FLY_MCP_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q: want debug, info, warn, or error", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: want text or json", c.LogFormat)
	}
	return nil
}

// ServerConfig converts the file values into the core server settings.
func (c Config) ServerConfig() mcp.ServerConfig {
	cfg := mcp.ServerConfig{
		DefaultTimeout:     time.Duration(c.TimeoutSeconds) * time.Second,
		MaxConcurrentCalls: c.MaxConcurrentCalls,
		MaxMessageBytes:    c.MaxMessageBytes,
	}
	if len(c.ToolTimeoutSeconds) > 0 {
		cfg.ToolTimeouts = make(map[string]time.Duration, len(c.ToolTimeoutSeconds))
		for name, seconds := range c.ToolTimeoutSeconds {
			cfg.ToolTimeouts[name] = time.Duration(seconds) * time.Second
		}
	}
	return cfg
}
