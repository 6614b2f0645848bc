package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1000, cfg.MaxConnections)
	assert.Equal(t, 30, cfg.PingInterval)
	assert.Equal(t, 10, cfg.WriteTimeout)
	assert.Equal(t, 1024, cfg.ReadBufferSize)
	assert.Equal(t, 1024, cfg.WriteBufferSize)
	assert.Equal(t, 300, cfg.PollClientTTL)
	assert.Equal(t, InboxMemory, cfg.InboxBackend)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.PingEvery())
	assert.Equal(t, 10*time.Second, cfg.WriteDeadline())
	assert.Equal(t, 5*time.Minute, cfg.PollTTL())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canvasbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9000\"\npoll_client_ttl_seconds: 60\ninbox_capacity: 5\n"), 0o600))

	t.Setenv("CANVASBUS_INBOX_CAPACITY", "7")
	t.Setenv("CANVASBUS_BRIDGE_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 60, cfg.PollClientTTL)
	assert.Equal(t, 7, cfg.InboxCapacity)
	assert.True(t, cfg.BridgeEnabled)
	assert.Equal(t, 30, cfg.PingInterval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboxBackend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PollClientTTL = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.InboxCapacity = -1
	assert.Error(t, cfg.Validate())
}
