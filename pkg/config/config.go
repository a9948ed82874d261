// Package config loads noteindex's runtime configuration from
// NOTEINDEX_-prefixed environment variables, with an optional YAML file
// layered underneath them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all noteindex configuration.
type Config struct {
	DataDir string

	EfSearch         int
	EfConstruction   int
	Alpha            float64
	CacheSize        int
	SnapshotInterval time.Duration
	Debounce         time.Duration
	ChangesThreshold int

	EmbeddingProvider string // "ollama" or "static"
	EmbeddingURL      string
	EmbeddingModel    string
	EmbeddingDim      int

	BlobBackend string // "fs" or "badger"
}

// fileOverrides is the optional YAML shape layered under env vars. Field
// names mirror Config's env-var-derived values but stay a separate type
// so a partially specified file never zeroes out defaults.
type fileOverrides struct {
	DataDir           *string  `yaml:"dataDir"`
	EfSearch          *int     `yaml:"efSearch"`
	EfConstruction    *int     `yaml:"efConstruction"`
	Alpha             *float64 `yaml:"alpha"`
	CacheSize         *int     `yaml:"cacheSize"`
	SnapshotInterval  *string  `yaml:"snapshotInterval"`
	Debounce          *string  `yaml:"debounce"`
	ChangesThreshold  *int     `yaml:"changesThreshold"`
	EmbeddingProvider *string  `yaml:"embeddingProvider"`
	EmbeddingURL      *string  `yaml:"embeddingUrl"`
	EmbeddingModel    *string  `yaml:"embeddingModel"`
	EmbeddingDim      *int     `yaml:"embeddingDim"`
	BlobBackend       *string  `yaml:"blobBackend"`
}

// DefaultConfig returns noteindex's built-in defaults, matching
// searchengine.DefaultConfig and sync.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		DataDir:           "./data",
		EfSearch:          50,
		EfConstruction:    200,
		Alpha:             1.0,
		CacheSize:         128,
		SnapshotInterval:  5 * time.Minute,
		Debounce:          time.Second,
		ChangesThreshold:  50,
		EmbeddingProvider: "ollama",
		EmbeddingURL:      "http://localhost:11434",
		EmbeddingModel:    "mxbai-embed-large",
		EmbeddingDim:      1024,
		BlobBackend:       "fs",
	}
}

// LoadFromEnv loads Config from NOTEINDEX_-prefixed environment
// variables. If configPath is non-empty, it is read first as a YAML
// override layer; environment variables then take precedence over it
// (env-over-file, file-over-default): env vars are the source of truth,
// a file may seed them.
func LoadFromEnv(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := applyFile(cfg, configPath); err != nil {
			return nil, err
		}
	}

	cfg.DataDir = getEnv("NOTEINDEX_DATA_DIR", cfg.DataDir)
	cfg.EfSearch = getEnvInt("NOTEINDEX_EF_SEARCH", cfg.EfSearch)
	cfg.EfConstruction = getEnvInt("NOTEINDEX_EF_CONSTRUCTION", cfg.EfConstruction)
	cfg.Alpha = getEnvFloat("NOTEINDEX_ALPHA", cfg.Alpha)
	cfg.CacheSize = getEnvInt("NOTEINDEX_CACHE_SIZE", cfg.CacheSize)
	cfg.SnapshotInterval = getEnvDuration("NOTEINDEX_SNAPSHOT_INTERVAL", cfg.SnapshotInterval)
	cfg.Debounce = getEnvDuration("NOTEINDEX_DEBOUNCE", cfg.Debounce)
	cfg.ChangesThreshold = getEnvInt("NOTEINDEX_CHANGES_THRESHOLD", cfg.ChangesThreshold)
	cfg.EmbeddingProvider = getEnv("NOTEINDEX_EMBEDDING_PROVIDER", cfg.EmbeddingProvider)
	cfg.EmbeddingURL = getEnv("NOTEINDEX_EMBEDDING_URL", cfg.EmbeddingURL)
	cfg.EmbeddingModel = getEnv("NOTEINDEX_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingDim = getEnvInt("NOTEINDEX_EMBEDDING_DIM", cfg.EmbeddingDim)
	cfg.BlobBackend = getEnv("NOTEINDEX_BLOB_BACKEND", cfg.BlobBackend)

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overrides.DataDir != nil {
		cfg.DataDir = *overrides.DataDir
	}
	if overrides.EfSearch != nil {
		cfg.EfSearch = *overrides.EfSearch
	}
	if overrides.EfConstruction != nil {
		cfg.EfConstruction = *overrides.EfConstruction
	}
	if overrides.Alpha != nil {
		cfg.Alpha = *overrides.Alpha
	}
	if overrides.CacheSize != nil {
		cfg.CacheSize = *overrides.CacheSize
	}
	if overrides.SnapshotInterval != nil {
		d, err := time.ParseDuration(*overrides.SnapshotInterval)
		if err != nil {
			return fmt.Errorf("config: invalid snapshotInterval %q: %w", *overrides.SnapshotInterval, err)
		}
		cfg.SnapshotInterval = d
	}
	if overrides.Debounce != nil {
		d, err := time.ParseDuration(*overrides.Debounce)
		if err != nil {
			return fmt.Errorf("config: invalid debounce %q: %w", *overrides.Debounce, err)
		}
		cfg.Debounce = d
	}
	if overrides.ChangesThreshold != nil {
		cfg.ChangesThreshold = *overrides.ChangesThreshold
	}
	if overrides.EmbeddingProvider != nil {
		cfg.EmbeddingProvider = *overrides.EmbeddingProvider
	}
	if overrides.EmbeddingURL != nil {
		cfg.EmbeddingURL = *overrides.EmbeddingURL
	}
	if overrides.EmbeddingModel != nil {
		cfg.EmbeddingModel = *overrides.EmbeddingModel
	}
	if overrides.EmbeddingDim != nil {
		cfg.EmbeddingDim = *overrides.EmbeddingDim
	}
	if overrides.BlobBackend != nil {
		cfg.BlobBackend = *overrides.BlobBackend
	}
	return nil
}

// Validate checks Config for logical errors.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: invalid embedding dimension: %d", c.EmbeddingDim)
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("config: invalid efSearch: %d", c.EfSearch)
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("config: invalid efConstruction: %d", c.EfConstruction)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("config: alpha must be in [0,1], got %f", c.Alpha)
	}
	switch c.EmbeddingProvider {
	case "ollama", "static":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.EmbeddingProvider)
	}
	switch c.BlobBackend {
	case "fs", "badger":
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.BlobBackend)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{DataDir: %s, EfSearch: %d, Embedding: %s/%s, BlobBackend: %s}",
		c.DataDir, c.EfSearch, c.EmbeddingProvider, c.EmbeddingModel, c.BlobBackend)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
