// Package config loads quarry configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete quarry configuration.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Search      SearchConfig      `yaml:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Translation TranslationConfig `yaml:"translation"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PathsConfig locates the on-disk stores.
type PathsConfig struct {
	// DataDir holds the dense index, sparse index, and document database.
	DataDir string `yaml:"data_dir"`
}

// SearchConfig configures batch search behavior.
type SearchConfig struct {
	// DenseWeight is the fusion weight for the dense side (0.0-1.0). The
	// sparse side receives 1 - DenseWeight.
	DenseWeight float64 `yaml:"dense_weight"`

	// DefaultLimit is the per-query result limit when a caller supplies none.
	DefaultLimit int `yaml:"default_limit"`

	// CandidateMultiplier is the over-fetch factor for multi-token filter
	// statements without an explicit candidate count.
	CandidateMultiplier int `yaml:"candidate_multiplier"`

	// NormalizeSparse scales sparse scores to 0-1 per query, switching
	// fusion from reciprocal rank to convex combination.
	NormalizeSparse bool `yaml:"normalize_sparse"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "static" or "openai".
	Provider string `yaml:"provider"`

	// Model is the model identifier for API providers.
	Model string `yaml:"model"`

	// Dimensions is the embedding dimension for API providers.
	Dimensions int `yaml:"dimensions"`

	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// CacheSize is the LRU query-embedding cache size.
	CacheSize int `yaml:"cache_size"`
}

// TranslationConfig configures free-text to structured-query translation.
// Disabled by default; plain queries then stay plain similarity searches.
type TranslationConfig struct {
	// Enabled turns on translation of plain queries into statements.
	Enabled bool `yaml:"enabled"`

	// Model is the chat model used for translation.
	Model string `yaml:"model"`

	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Paths: PathsConfig{DataDir: ".quarry"},
		Search: SearchConfig{
			DenseWeight:         0.5,
			DefaultLimit:        3,
			CandidateMultiplier: 10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			APIKeyEnv: "QUARRY_API_KEY",
			CacheSize: 1000,
		},
		Translation: TranslationConfig{
			APIKeyEnv: "QUARRY_API_KEY",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, layered over defaults and under
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays QUARRY_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("QUARRY_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("QUARRY_DENSE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.DenseWeight = f
		}
	}
	if v := os.Getenv("QUARRY_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.Search.DenseWeight < 0 || c.Search.DenseWeight > 1 {
		return fmt.Errorf("search.dense_weight must be in [0, 1], got %v", c.Search.DenseWeight)
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.CandidateMultiplier <= 0 {
		return fmt.Errorf("search.candidate_multiplier must be positive, got %d", c.Search.CandidateMultiplier)
	}
	switch c.Embeddings.Provider {
	case "static", "openai":
	default:
		return fmt.Errorf("embeddings.provider must be static or openai, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "openai" {
		if c.Embeddings.Model == "" {
			return fmt.Errorf("embeddings.model is required for the openai provider")
		}
		if c.Embeddings.Dimensions <= 0 {
			return fmt.Errorf("embeddings.dimensions must be positive for the openai provider")
		}
	}
	if c.Translation.Enabled && c.Translation.Model == "" {
		return fmt.Errorf("translation.model is required when translation is enabled")
	}
	return nil
}
