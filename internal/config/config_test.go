package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultWithoutSources(t *testing.T) {
	cfg, err := LoadDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jsondb.yaml")
	content := `
data:
  root: /var/lib/jsondb
  space: acme
cache:
  capacity: 16
  ttl: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("JSONDB_DATA_DB", "analytics")
	t.Setenv("JSONDB_QUERY_MAXLIMIT", "250")

	cfg, err := LoadDefault(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/jsondb", cfg.Data.Root)
	assert.Equal(t, "acme", cfg.Data.Space)
	assert.Equal(t, "analytics", cfg.Data.DB)
	assert.Equal(t, 16, cfg.Cache.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 250, cfg.Query.MaxLimit)
	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Query.DefaultLimit)
	assert.Equal(t, 8, cfg.Pool.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
