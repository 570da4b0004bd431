// Package config holds all kipgate configuration. Settings come from an
// optional YAML file with environment variable overrides; the environment
// always wins so container deployments can run without a config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCursorKey is used when CURSOR_KEY is not configured. Running with it
// must emit a startup warning: tokens minted with the default key are
// decodable by any other default-keyed deployment.
const DefaultCursorKey = "kipgate-insecure-default-cursor!"

// Config holds all gateway configuration.
type Config struct {
	// HTTP surface
	Server ServerConfig `yaml:"server"`

	// Backing graph store
	Store StoreConfig `yaml:"store"`

	// Cursor token encryption
	Cursor CursorConfig `yaml:"cursor"`

	// Query telemetry
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StoreConfig configures the backing graph store connection.
type StoreConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// CursorConfig configures cursor token encryption.
type CursorConfig struct {
	Key string `yaml:"key"`
	TTL string `yaml:"ttl"`
}

// TelemetryConfig configures query telemetry.
type TelemetryConfig struct {
	SlowQueryThreshold string `yaml:"slow_query_threshold"`
	BufferSize         int    `yaml:"buffer_size"`
	FlushInterval      string `yaml:"flush_interval"`
	ArchivePath        string `yaml:"archive_path"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Directory  string          `yaml:"directory"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8081,
			RequestTimeout: "60s",
		},
		Store: StoreConfig{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
		Cursor: CursorConfig{
			TTL: "1h",
		},
		Telemetry: TelemetryConfig{
			SlowQueryThreshold: "1s",
			BufferSize:         1000,
			FlushInterval:      "30s",
			ArchivePath:        "data/kipgate-telemetry.db",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "data/logs",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file is absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if token := os.Getenv("KIP_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if uri := os.Getenv("STORE_URI"); uri != "" {
		c.Store.URI = uri
	}
	if user := os.Getenv("STORE_USER"); user != "" {
		c.Store.User = user
	}
	if pw := os.Getenv("STORE_PASSWORD"); pw != "" {
		c.Store.Password = pw
	}
	if key := os.Getenv("CURSOR_KEY"); key != "" {
		c.Cursor.Key = key
	}
	if ms := os.Getenv("SLOW_QUERY_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			c.Telemetry.SlowQueryThreshold = fmt.Sprintf("%dms", n)
		}
	}
	if ms := os.Getenv("REQUEST_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			c.Server.RequestTimeout = fmt.Sprintf("%dms", n)
		}
	}
}

// GetRequestTimeout returns the per-request deadline as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetSlowQueryThreshold returns the slow-query threshold as a duration.
func (c *Config) GetSlowQueryThreshold() time.Duration {
	d, err := time.ParseDuration(c.Telemetry.SlowQueryThreshold)
	if err != nil {
		return time.Second
	}
	return d
}

// GetFlushInterval returns the telemetry flush interval as a duration.
func (c *Config) GetFlushInterval() time.Duration {
	d, err := time.ParseDuration(c.Telemetry.FlushInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCursorTTL returns the cursor token time-to-live as a duration.
func (c *Config) GetCursorTTL() time.Duration {
	d, err := time.ParseDuration(c.Cursor.TTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// CursorKeyWithDefault returns the configured cursor key, or the process-wide
// default. The second return value reports whether the default is in use so
// callers can emit the mandatory startup warning.
func (c *Config) CursorKeyWithDefault() (string, bool) {
	if c.Cursor.Key != "" {
		return c.Cursor.Key, false
	}
	return DefaultCursorKey, true
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Store.URI == "" {
		return fmt.Errorf("store URI not configured (set STORE_URI)")
	}
	if c.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry buffer size must be positive, got %d", c.Telemetry.BufferSize)
	}
	return nil
}
