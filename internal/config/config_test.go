package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"zkmultisig/internal/identity"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoad(t *testing.T) {
	var cms []string
	for i := 1; i <= identity.NUM_OWNERS; i++ {
		c := identity.Commit(common.BigToAddress(big.NewInt(int64(i))))
		cms = append(cms, c.String())
	}

	cfg := DefaultConfig()
	cfg.Threshold = 3
	cfg.Commitments = cms
	cfg.LogLevel = "debug"
	cfg.ProveTimeout = 90 * time.Second

	path := filepath.Join(t.TempDir(), "conf", "zkmultisig.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkmultisig.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 1\nprove_timeout: 30s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Threshold)
	require.Equal(t, 30*time.Second, cfg.ProveTimeout)
	require.Equal(t, DefaultConfig().StatePath, cfg.StatePath)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkmultisig.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 4\n"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("threshold: [\n"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Threshold = 0 }},
		{"two commitments", func(c *Config) { c.Commitments = []string{"1", "2"} }},
		{"bad commitment", func(c *Config) { c.Commitments = []string{"1", "2", "x"} }},
		{"no state path", func(c *Config) { c.StatePath = "" }},
		{"no proving key", func(c *Config) { c.ProvingKeyPath = "" }},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"concurrency", func(c *Config) { c.MaxConcurrency = 0 }},
		{"timeout", func(c *Config) { c.ProveTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
