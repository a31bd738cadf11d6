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

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Engine.DefaultSearchLimit)
	assert.Equal(t, 1000, cfg.Engine.MaxSearchLimit)
	assert.Equal(t, 30*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, "local", cfg.Migrations.Source)
	assert.True(t, cfg.Backup.Enabled)

	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.DataDir, "migrations"), cfg.Migrations.Dir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "catalog.db"), cfg.CatalogPath())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
data_dir: /var/lib/stratum
http:
  addr: ":9000"
engine:
  default_search_limit: 50
  max_search_limit: 500
migrations:
  source: s3
  s3:
    bucket: stratum-migrations
    region: eu-west-1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/stratum", cfg.DataDir)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 50, cfg.Engine.DefaultSearchLimit)
	assert.Equal(t, "s3", cfg.Migrations.Source)
	assert.Equal(t, "stratum-migrations", cfg.Migrations.S3.Bucket)
	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STRATUM_HTTP_ADDR", ":7777")
	t.Setenv("STRATUM_ENGINE_MAX_SEARCH_LIMIT", "200")
	t.Setenv("STRATUM_BACKUP_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.HTTP.Addr)
	assert.Equal(t, 200, cfg.Engine.MaxSearchLimit)
	assert.False(t, cfg.Backup.Enabled)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Migrations.Source = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Migrations.Source = "s3"
	assert.Error(t, cfg.Validate(), "s3 source without bucket must fail")

	cfg = DefaultConfig()
	cfg.Engine.MaxSearchLimit = 10
	assert.Error(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "stratum")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.Migrations.Dir, cfg.Backup.Dir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
