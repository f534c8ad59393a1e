package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkor/facility/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, 1, cfg.FacilityID)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "http://localhost:4000/api", cfg.CentralURL)
	assert.Equal(t, 3002, cfg.RoomServicePort)
	assert.Equal(t, 15*time.Second, cfg.ProbeInterval)
	assert.Equal(t, time.Minute, cfg.ProbeBackoffInterval)
	assert.Equal(t, 5*time.Minute, cfg.HealthyWindow)
	assert.Equal(t, 5*time.Second, cfg.QueueRetryDelay)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 30*time.Second, cfg.GraceWindow)
	assert.Equal(t, 6*time.Minute, cfg.BookingWindow)
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("CONFIG_ENV", "test")

	writeConfig(t, dir, "config/config.test.yaml", `
mode: debug
port: 8080
facility_id: 7
grace_window: 45s
`)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 7, cfg.FacilityID)
	assert.Equal(t, 45*time.Second, cfg.GraceWindow)
	assert.Equal(t, 3002, cfg.RoomServicePort, "unset keys keep their defaults")
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func writeConfig(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
