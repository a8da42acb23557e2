package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/phoenixbridge/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, []string{"phoenix", "system", "streaming"}, cfg.BootstrapChannels)
	assert.False(t, cfg.BusEnabled)
	assert.False(t, cfg.ProducerConfigured())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9000")
	t.Setenv("BUS_ENABLED", "true")
	t.Setenv("BUS_DB", "2")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.BusEnabled)
	assert.Equal(t, 2, cfg.BusDB)
}

func TestLoadBootstrapChannelsEnvOverride(t *testing.T) {
	t.Setenv("BOOTSTRAP_CHANNELS", "room:lobby, alerts ,system")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"room:lobby", "alerts", "system"}, cfg.BootstrapChannels)
}

func TestLoadProducerConfigured(t *testing.T) {
	t.Setenv("PRODUCER_CHANNEL", "system")
	t.Setenv("PRODUCER_EVENT", "datetime")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "system", cfg.ProducerChannel)
	assert.Equal(t, "datetime", cfg.ProducerEvent)
	assert.True(t, cfg.ProducerConfigured())
}

func TestLoadFileOverlayBootstrapChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bootstrap_channels:\n  - room:lobby\n  - streaming\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"room:lobby", "streaming"}, cfg.BootstrapChannels)
}

func TestLoadFileOverlayMissingFileErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	_, err := config.Load()
	assert.Error(t, err)
}
