package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
device:
  name: test-node
network:
  bind_address: ":9999"
session:
  idle_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-node", cfg.Device.Name)
	assert.Equal(t, ":9999", cfg.Network.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Session.IdleTimeout)
	// untouched defaults survive
	assert.Equal(t, 2048, cfg.Network.MaxPacketBytes)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Control.MaxDelay = cfg.Control.InitialDelay / 2
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Network.MaxPacketBytes = 100
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tracing.Enabled = true
	cfg.Tracing.JaegerURL = ""
	assert.Error(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
