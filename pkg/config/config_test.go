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
	cfg := Default()
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 1000, cfg.Quota.HistoryCapacity)
	assert.Equal(t, 5*time.Minute, cfg.Ownership.LockTTL)
}

func TestLoadOverridesOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	yaml := `
store:
  backend: redis
  addr: localhost:6379
scheduler:
  policy: priority
  maxRetries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Addr)
	assert.Equal(t, "priority", cfg.Scheduler.Policy)
	assert.Equal(t, 5, cfg.Scheduler.MaxRetries)
	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Quota.HistoryCapacity)
	assert.Equal(t, 5*time.Minute, cfg.Ownership.LockTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestQuotaManagerConfigParsesQuantities(t *testing.T) {
	cfg := Default()
	cfg.Quota.SystemCPU = "2"
	cfg.Quota.SystemMemory = "512Mi"

	qcfg, err := cfg.QuotaManagerConfig()
	require.NoError(t, err)
	assert.Equal(t, 2.0, qcfg.SystemCPU)
	assert.Equal(t, int64(512*1024*1024), qcfg.SystemMemory)
}

func TestWatchFileDeliversReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: memory\n"), 0600))

	w, err := WatchFile(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: redis\n"), 0600))

	select {
	case cfg := <-w.Updates():
		assert.Equal(t, "redis", cfg.Store.Backend)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
