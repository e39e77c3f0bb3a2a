package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0, cfg.Salt.DelayMinutes)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
agent_id: host-1
salt:
  delay: 30
global:
  watch: /tmp/watch
rpc:
  listen_addr: "0.0.0.0:9000"
  manager_addr: "manager.example.internal:7000"
metrics:
  enabled: true
  port: 9091
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "host-1", cfg.AgentID)
	assert.Equal(t, 30, cfg.Salt.DelayMinutes)
	assert.Equal(t, "/tmp/watch", cfg.Global.Watch)
	assert.Equal(t, "0.0.0.0:9000", cfg.RPC.ListenAddr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9091, cfg.Metrics.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/agent.yaml")
	assert.Error(t, err)
}
