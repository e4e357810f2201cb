// config.go - Configuration for the zkmultisig wallet and its prover.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"zkmultisig/internal/identity"
)

// Config represents the wallet configuration.
type Config struct {
	// Wallet
	Threshold   int      `yaml:"threshold"`
	Commitments []string `yaml:"commitments,omitempty"`

	// File paths
	StatePath        string `yaml:"state_path"`
	ProvingKeyPath   string `yaml:"proving_key_path"`
	VerifyingKeyPath string `yaml:"verifying_key_path"`
	SolidityPath     string `yaml:"solidity_path,omitempty"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
	LogJSON  bool   `yaml:"log_json"`

	// Proving
	MaxConcurrency int           `yaml:"max_concurrency"`
	ProveTimeout   time.Duration `yaml:"prove_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Threshold:        2,
		StatePath:        "wallet.json",
		ProvingKeyPath:   filepath.Join("keys", "membership.pk"),
		VerifyingKeyPath: filepath.Join("keys", "membership.vk"),
		LogLevel:         "info",
		MaxConcurrency:   3,
		ProveTimeout:     5 * time.Minute,
	}
}

// LoadConfig reads path on top of the defaults. A missing file yields the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Threshold < 1 || c.Threshold > identity.NUM_OWNERS {
		return fmt.Errorf("threshold must be between 1 and %d", identity.NUM_OWNERS)
	}
	if len(c.Commitments) != 0 {
		if _, err := identity.ParseCommitmentSet(c.Commitments); err != nil {
			return fmt.Errorf("commitments: %w", err)
		}
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must be set")
	}
	if c.ProvingKeyPath == "" || c.VerifyingKeyPath == "" {
		return fmt.Errorf("proving_key_path and verifying_key_path must be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.ProveTimeout <= 0 {
		return fmt.Errorf("prove_timeout must be positive")
	}
	return nil
}
