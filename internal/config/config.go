// Package config loads the runtime configuration from YAML. Every
// knob has a default; an absent file yields a fully usable config, so
// the zero-setup path (temp database, built-in allow-nothing policy)
// works out of the box.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for strings like
// "24h" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NonceConfig configures the replay ledger.
type NonceConfig struct {
	TTL           Duration `yaml:"ttl"`
	Mode          string   `yaml:"mode"` // "strict" or "degraded"
	PruneInterval Duration `yaml:"prune_interval"`
}

// Config is the full runtime configuration.
type Config struct {
	DBPath           string      `yaml:"db_path"`
	PolicyPath       string      `yaml:"policy_path"`
	LogLevel         string      `yaml:"log_level"` // debug, info, warn, error
	MaxEnvelopeBytes int         `yaml:"max_envelope_bytes"`
	FuelBudget       int64       `yaml:"fuel_budget"`
	Nonce            NonceConfig `yaml:"nonce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DBPath:           "chipline.db",
		LogLevel:         "info",
		MaxEnvelopeBytes: 1 << 20,
		FuelBudget:       50_000,
		Nonce: NonceConfig{
			TTL:           Duration(24 * time.Hour),
			Mode:          "strict",
			PruneInterval: Duration(time.Hour),
		},
	}
}

// Load reads a YAML config file over the defaults. Unknown fields are
// an error: a typoed knob silently doing nothing is worse than a
// failed boot.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.Nonce.Mode {
	case "strict", "degraded":
	default:
		return fmt.Errorf("invalid nonce.mode %q (want strict or degraded)", c.Nonce.Mode)
	}
	if c.Nonce.TTL <= 0 {
		return fmt.Errorf("nonce.ttl must be positive")
	}
	if c.Nonce.PruneInterval <= 0 {
		return fmt.Errorf("nonce.prune_interval must be positive")
	}
	if c.MaxEnvelopeBytes <= 0 {
		return fmt.Errorf("max_envelope_bytes must be positive")
	}
	if c.FuelBudget <= 0 {
		return fmt.Errorf("fuel_budget must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	return nil
}
