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
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, 2500, cfg.Fetch.PageSize)
	assert.Equal(t, 15*time.Second, cfg.APIs.Timeout)
}

func TestLoadMergesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dpe.yaml")
	yml := `
server:
  port: "9090"
retry:
  max_attempts: 5
  base_delay: 250ms
fetch:
  page_size: 100
sync:
  cron: "@daily"
  departments: ["69", "2A"]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("DPE_CONFIG", path)
	t.Setenv("FETCH_PAGE_SIZE", "500")
	t.Setenv("SYNC_DEPARTMENTS", "75, 13")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	// untouched by the file
	assert.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, 500, cfg.Fetch.PageSize)
	assert.Equal(t, []string{"75", "13"}, cfg.Sync.Departments)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Fetch.PageSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Sync.Cron = "@hourly"
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("DPE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
