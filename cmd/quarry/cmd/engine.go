package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/embed"
	"github.com/quarry-search/quarry/internal/search"
	"github.com/quarry-search/quarry/internal/store"
	"github.com/quarry-search/quarry/internal/translate"
)

// engine bundles the collaborators wired into one orchestrator instance.
type engine struct {
	cfg      config.Config
	embedder embed.Embedder
	dense    *store.HNSWIndex
	sparse   *store.BleveIndex
	database *store.SQLiteDatabase
}

func densePath(cfg config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "vectors.hnsw")
}

func sparsePath(cfg config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "sparse.bleve")
}

func databasePath(cfg config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "documents.db")
}

// newEmbedder builds the configured embedding provider wrapped in an LRU
// cache.
func newEmbedder(cfg config.Config) (embed.Embedder, error) {
	var (
		inner embed.Embedder
		err   error
	)
	switch cfg.Embeddings.Provider {
	case "openai":
		inner, err = embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			APIKey:     os.Getenv(cfg.Embeddings.APIKeyEnv),
			BaseURL:    cfg.Embeddings.BaseURL,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
		})
	default:
		inner = embed.NewStaticEmbedder()
	}
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

// openEngine opens the stores under the configured data directory. When
// load is true, the persisted dense index is restored; otherwise a fresh
// one is created.
func openEngine(cfg config.Config, load bool) (*engine, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	dense, err := store.NewHNSWIndex(store.DefaultHNSWConfig(embedder.Dimensions()))
	if err != nil {
		return nil, err
	}
	if load {
		if err := dense.Load(densePath(cfg)); err != nil {
			return nil, fmt.Errorf("load dense index: %w", err)
		}
	}

	sparse, err := store.NewBleveIndex(store.BleveConfig{
		Path:      sparsePath(cfg),
		Normalize: cfg.Search.NormalizeSparse,
	})
	if err != nil {
		return nil, err
	}

	database, err := store.OpenSQLite(databasePath(cfg))
	if err != nil {
		return nil, err
	}

	return &engine{
		cfg:      cfg,
		embedder: embedder,
		dense:    dense,
		sparse:   sparse,
		database: database,
	}, nil
}

// orchestrator wires the engine's collaborators into a search orchestrator.
func (e *engine) orchestrator(ctx context.Context, indexIDs bool) (*search.Orchestrator, error) {
	ids, err := e.database.IDs(ctx)
	if err != nil {
		return nil, err
	}

	opts := []search.Option{
		search.WithEmbedder(e.embedder),
		search.WithDenseIndex(e.dense),
		search.WithSparseIndex(e.sparse),
		search.WithDatabase(e.database),
		search.WithIDLookup(ids),
		search.WithIndexIDs(indexIDs),
		search.WithDefaultLimit(e.cfg.Search.DefaultLimit),
		search.WithCandidateMultiplier(e.cfg.Search.CandidateMultiplier),
	}

	if e.cfg.Translation.Enabled {
		translator, err := translate.New(translate.Config{
			APIKey:  os.Getenv(e.cfg.Translation.APIKeyEnv),
			BaseURL: e.cfg.Translation.BaseURL,
			Model:   e.cfg.Translation.Model,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, search.WithTranslator(translator))
	}

	return search.New(opts...), nil
}

// close releases all engine resources.
func (e *engine) close() {
	_ = e.embedder.Close()
	_ = e.dense.Close()
	_ = e.sparse.Close()
	_ = e.database.Close()
}
