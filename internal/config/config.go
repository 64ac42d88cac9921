// Package config loads sandbox server settings from an optional YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = ":8080"
	DefaultStoragePath = "./data/outscraper_sandbox.db"

	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	BodyLimitMB  int           `yaml:"body_limit_mb"`
	// APIKeys restricts accepted X-API-KEY values; empty accepts any non-empty key.
	APIKeys []string `yaml:"api_keys"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	BatchWrites bool   `yaml:"batch_writes"` // pebble only
}

type DispatcherConfig struct {
	MaxWorkers        int           `yaml:"max_workers"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// FixtureDelay is how long a fixture task stays Pending while resolving.
	FixtureDelay time.Duration `yaml:"fixture_delay"`
}

// UpstreamConfig makes the default resolver forward to a real API.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"` // console or json
	Outputs     []string       `yaml:"outputs"`
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads path (if non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.GetDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Upstream.BaseURL = getEnv("UPSTREAM_URL", c.Upstream.BaseURL)
	c.Upstream.APIKey = getEnv("UPSTREAM_API_KEY", c.Upstream.APIKey)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if keys := os.Getenv("SANDBOX_API_KEYS"); keys != "" {
		c.Server.APIKeys = splitList(keys)
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatcher.MaxWorkers = n
		}
	}
}

// GetDefaults fills unset fields in place.
func (c *Config) GetDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.Port[0] != ':' && !strings.Contains(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.BodyLimitMB == 0 {
		c.Server.BodyLimitMB = 10
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}

	if c.Dispatcher.MaxWorkers == 0 {
		c.Dispatcher.MaxWorkers = 10
	}
	if c.Dispatcher.RequestTimeout == 0 {
		c.Dispatcher.RequestTimeout = 300 * time.Second
	}
	if c.Dispatcher.RequestsPerSecond == 0 {
		c.Dispatcher.RequestsPerSecond = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendPebble:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendSQLite, BackendPebble, c.Storage.Backend)
	}
	if c.Storage.BatchWrites && c.Storage.Backend != BackendPebble {
		return fmt.Errorf("storage.batch_writes requires the %s backend", BackendPebble)
	}
	if c.Dispatcher.MaxWorkers < 1 {
		return fmt.Errorf("dispatcher.max_workers must be positive")
	}
	if c.Dispatcher.RequestsPerSecond < 0 {
		return fmt.Errorf("dispatcher.requests_per_second must not be negative")
	}
	if c.Dispatcher.FixtureDelay < 0 {
		return fmt.Errorf("dispatcher.fixture_delay must not be negative")
	}
	if c.Upstream.BaseURL != "" && c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required when upstream.base_url is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
