package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "kumo.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaHost)
	assert.Equal(t, ".checkpoints", cfg.CheckpointDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KUMO_PORT", "9999")
	t.Setenv("KUMO_DB_PATH", "/tmp/other.db")
	t.Setenv("KUMO_READ_TIMEOUT", "5s")
	t.Setenv("KUMO_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestBadEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("KUMO_PORT", "not-a-number")
	t.Setenv("KUMO_READ_TIMEOUT", "eleven")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Config{DBPath: "x.db", Port: -1, CheckpointDir: "c"}
	assert.Error(t, cfg.Validate())
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
	cfg.Port = 8080
	assert.NoError(t, cfg.Validate())
}
