// Package config loads engine configuration from a TOML file with
// environment overrides. Every field has a usable default so the engine
// runs with no file at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment variable overrides
const (
	EnvDBPath   = "RECALL_DB_PATH"
	EnvHTTPAddr = "RECALL_HTTP_ADDR"
	EnvLogLevel = "RECALL_LOG_LEVEL"
)

// Config is the full engine configuration
type Config struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`

	HTTP          HTTPConfig          `toml:"http"`
	Search        SearchConfig        `toml:"search"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
}

// HTTPConfig configures the HTTP API surface
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// SearchConfig tunes fused search and its caches
type SearchConfig struct {
	MaxK           int     `toml:"max_k"`
	DefaultAlpha   float64 `toml:"default_alpha"`
	CacheSize      int     `toml:"cache_size"`
	CacheTTLSec    int     `toml:"cache_ttl_seconds"`
	StitchWindow   int     `toml:"stitch_window"`
	VectorBudgetMS int     `toml:"vector_budget_ms"`
}

// ConsolidationConfig tunes the clustering batch job
type ConsolidationConfig struct {
	Epsilon          float64 `toml:"epsilon"`
	MinClusterSize   int     `toml:"min_cluster_size"`
	NearDupThreshold float64 `toml:"near_dup_threshold"`
}

// EmbeddingConfig selects and tunes the embedding provider. An empty
// provider falls back to environment detection.
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`
	Host      string `toml:"host"`
	CacheSize int    `toml:"cache_size"`
	RateLimit int    `toml:"rate_limit"`
}

// Default returns the configuration the engine runs with when no file
// or overrides are present
func Default() Config {
	return Config{
		DBPath:   "",
		LogLevel: "info",
		HTTP:     HTTPConfig{Addr: ":8080"},
		Search: SearchConfig{
			MaxK:           500,
			DefaultAlpha:   0.6,
			CacheSize:      1000,
			CacheTTLSec:    300,
			StitchWindow:   1,
			VectorBudgetMS: 2000,
		},
		Consolidation: ConsolidationConfig{
			Epsilon:          0.35,
			MinClusterSize:   2,
			NearDupThreshold: 0.92,
		},
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
			RateLimit: 5,
		},
	}
}

// Load reads path (when non-empty and present) over the defaults, then
// applies environment overrides. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Run on defaults
		case err != nil:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// CacheTTL returns the result cache TTL as a duration
func (s SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSec) * time.Second
}

// VectorBudget returns the vector lookup budget as a duration
func (s SearchConfig) VectorBudget() time.Duration {
	return time.Duration(s.VectorBudgetMS) * time.Millisecond
}
