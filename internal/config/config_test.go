package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_WritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Host, cfg.Host)
	assert.Equal(t, DefaultConfig().NodesDB, cfg.NodesDB)

	reloaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Port, reloaded.Port)
}

func TestLoadOrCreate_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.APIToken = ""
	require.NoError(t, cfg.SaveToFile(path))

	_, err := LoadOrCreate(path)
	assert.Error(t, err)
}

func TestValidate_RejectsReplicationFactorAboveNodeCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplicationFactor = cfg.NodesDB + 1

	assert.Error(t, cfg.Validate())
}

func TestLoadOrCreateClientConfig_WritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config_client.json")

	cfg, err := LoadOrCreateClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultClientConfig().Host, cfg.Host)
}
