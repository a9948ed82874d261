package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"NOTEINDEX_DATA_DIR", "NOTEINDEX_EF_SEARCH", "NOTEINDEX_EF_CONSTRUCTION",
		"NOTEINDEX_ALPHA", "NOTEINDEX_CACHE_SIZE", "NOTEINDEX_SNAPSHOT_INTERVAL",
		"NOTEINDEX_DEBOUNCE", "NOTEINDEX_CHANGES_THRESHOLD", "NOTEINDEX_EMBEDDING_PROVIDER",
		"NOTEINDEX_EMBEDDING_URL", "NOTEINDEX_EMBEDDING_MODEL", "NOTEINDEX_EMBEDDING_DIM",
		"NOTEINDEX_BLOB_BACKEND",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTEINDEX_EF_SEARCH", "75")
	t.Setenv("NOTEINDEX_EMBEDDING_PROVIDER", "static")
	t.Setenv("NOTEINDEX_DEBOUNCE", "2s")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.EfSearch)
	assert.Equal(t, "static", cfg.EmbeddingProvider)
	assert.Equal(t, 2*time.Second, cfg.Debounce)
}

func TestLoadFromEnvFileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("efSearch: 30\nblobBackend: badger\n"), 0o644))

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.EfSearch)
	assert.Equal(t, "badger", cfg.BlobBackend)

	t.Setenv("NOTEINDEX_EF_SEARCH", "90")
	cfg, err = LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.EfSearch)
	assert.Equal(t, "badger", cfg.BlobBackend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbeddingDim = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Alpha = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.EmbeddingProvider = "openai"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BlobBackend = "s3"
	assert.Error(t, cfg.Validate())
}
