package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := GetEnvironment()
	require.NoError(t, err)
	assert.Equal(t, 50000, cfg.Port)
	assert.Equal(t, "memory", cfg.Storage)
	assert.Equal(t, 2, cfg.CoreWorkers)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.KeepAlive)
	assert.Equal(t, 0, cfg.RedispatchAttempts)
}

func TestFileOverridesEnvironment(t *testing.T) {
	t.Setenv("PE_PORT", "6000")
	t.Setenv("PE_STORAGE", "bolt")
	t.Setenv("PE_MAX_WORKERS", "4")

	path := filepath.Join(t.TempDir(), "pengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxWorkers: 16\nnotifierPoll: 250ms\nboltPath: /var/lib/pe.db\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "bolt", cfg.Storage)
	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "/var/lib/pe.db", cfg.BoltPath)
}

func TestInvalidSettings(t *testing.T) {
	t.Setenv("PE_STORAGE", "floppy")
	_, err := GetEnvironment()
	assert.ErrorContains(t, err, "floppy")

	t.Setenv("PE_STORAGE", "memory")
	t.Setenv("PE_CORE_WORKERS", "9")
	_, err = Load("")
	assert.ErrorContains(t, err, "less than core workers")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
