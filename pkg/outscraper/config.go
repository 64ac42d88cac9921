package outscraper

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	Version = "1.0.0"

	DefaultBaseURL      = "https://api.app.outscraper.com"
	DefaultMaxWait      = time.Hour
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 60 * time.Second
)

// Config is the immutable configuration shared by every call made through a
// Client. Zero-valued fields fall back to defaults.
type Config struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	ClientName        string        `yaml:"client_name"`
	MaxWait           time.Duration `yaml:"max_wait"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables client-side limiting
	Burst             int           `yaml:"burst"`
}

// GetDefaults returns a copy of c with unset fields filled in.
func (c Config) GetDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ClientName == "" {
		c.ClientName = "Go SDK " + Version
	}
	if c.MaxWait == 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RequestsPerSecond > 0 && c.Burst == 0 {
		c.Burst = 1
	}
	return c
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return invalidArgument("api_key", "must have a value")
	}
	if c.MaxWait < 0 {
		return invalidArgument("max_wait", "must not be negative")
	}
	if c.PollInterval <= 0 {
		return invalidArgument("poll_interval", "must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return invalidArgument("requests_per_second", "must not be negative")
	}
	return nil
}

// pollBudget is the number of archive checks one wait may perform.
func (c Config) pollBudget() int {
	return int(c.MaxWait / c.PollInterval)
}

// LoadConfig reads a YAML file, expands ${VAR} references from the
// environment and applies defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg = cfg.GetDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
