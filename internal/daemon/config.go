// Package daemon manages the IndiCompute daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g.
// INDICOMPUTE_BILLING_DEFAULT_PRICE or INDICOMPUTE_API_PORT.
const EnvPrefix = "indicompute"

// Config holds all daemon configuration.
type Config struct {
	API      APIConfig      `toml:"api"`
	Billing  BillingConfig  `toml:"billing"`
	Nodes    NodesConfig    `toml:"nodes"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// BillingConfig holds the flat-rate billing defaults. Amounts are in minor
// currency units.
type BillingConfig struct {
	DefaultPrice int64  `toml:"default_price" split_words:"true"`
	Currency     string `toml:"currency"`
}

// NodesConfig controls liveness and background checks.
type NodesConfig struct {
	LivenessTTL    string `toml:"liveness_ttl" split_words:"true"`
	HealthInterval string `toml:"health_interval" split_words:"true"`
}

// DatabaseConfig controls storage.
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8080,
			Metrics: true,
		},
		Billing: BillingConfig{
			DefaultPrice: 1000, // 10.00 INR per hour
			Currency:     "INR",
		},
		Nodes: NodesConfig{
			LivenessTTL:    "2m",
			HealthInterval: "60s",
		},
		Database: DatabaseConfig{
			Dir: filepath.Join(home(), "data"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads $INDICOMPUTE_HOME/config.toml over the defaults, then
// applies environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}
	cfg.Billing.Currency = strings.ToUpper(strings.TrimSpace(cfg.Billing.Currency))

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Billing.DefaultPrice <= 0 {
		errs = append(errs, fmt.Errorf("billing.default_price must be positive, got %d", c.Billing.DefaultPrice))
	}
	if c.Billing.Currency == "" {
		errs = append(errs, errors.New("billing.currency is required"))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if _, err := time.ParseDuration(c.Nodes.LivenessTTL); c.Nodes.LivenessTTL != "" && err != nil {
		errs = append(errs, fmt.Errorf("nodes.liveness_ttl: %w", err))
	}
	return errors.Join(errs...)
}

// LivenessTTL returns the parsed heartbeat window.
func (c Config) LivenessTTL() time.Duration {
	return parseDuration(c.Nodes.LivenessTTL, 2*time.Minute)
}

// HealthInterval returns the parsed health check period.
func (c Config) HealthInterval() time.Duration {
	return parseDuration(c.Nodes.HealthInterval, 60*time.Second)
}

// DataDir returns the database directory.
func (c Config) DataDir() string {
	if c.Database.Dir == "" {
		return filepath.Join(home(), "data")
	}
	return c.Database.Dir
}

// SaveConfig writes the config to $INDICOMPUTE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(home(), "config.toml")
}

// home returns the IndiCompute data directory.
func home() string {
	if env := os.Getenv("INDICOMPUTE_HOME"); env != "" {
		return env
	}
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".indicompute")
}

// Home is exported for use by other packages.
func Home() string {
	return home()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
