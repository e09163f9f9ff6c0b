package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// BleveConfig configures the sparse index.
type BleveConfig struct {
	// Path is the on-disk index location. Empty means in-memory.
	Path string

	// Normalize scales each query's scores by that query's maximum score,
	// bringing them onto a 0-1 range comparable with dense similarity
	// scores. When false, raw BM25 scores are returned and the fusion layer
	// falls back to rank-based merging.
	Normalize bool
}

// BleveIndex implements SparseIndex on Bleve's BM25 scoring. Documents are
// keyed by their insertion position.
type BleveIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	normalize bool
	count     int
	closed    bool
}

// bleveDocument is the indexed document shape.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveIndex creates or opens a sparse index.
func NewBleveIndex(cfg BleveConfig) (*BleveIndex, error) {
	var (
		idx bleve.Index
		err error
	)
	if cfg.Path == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else if _, statErr := os.Stat(cfg.Path); statErr == nil {
		idx, err = bleve.Open(cfg.Path)
	} else {
		idx, err = bleve.New(cfg.Path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("bleve: open index: %w", err)
	}

	count := 0
	if docs, countErr := idx.DocCount(); countErr == nil {
		count = int(docs)
	}

	return &BleveIndex{index: idx, normalize: cfg.Normalize, count: count}, nil
}

// Index appends document texts, assigning sequential positions.
func (b *BleveIndex) Index(ctx context.Context, texts []string) error {
	if len(texts) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bleve: index is closed")
	}

	batch := b.index.NewBatch()
	for _, text := range texts {
		if err := batch.Index(strconv.Itoa(b.count), bleveDocument{Content: text}); err != nil {
			return fmt.Errorf("bleve: batch index: %w", err)
		}
		b.count++
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve: apply batch: %w", err)
	}

	return nil
}

// Search scores each query against the index, returning up to k positional
// candidates per query in descending score order.
func (b *BleveIndex) Search(ctx context.Context, queries []string, k int) ([][]Candidate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bleve: index is closed")
	}

	results := make([][]Candidate, len(queries))
	for i, query := range queries {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("bleve: search %q: %w", query, err)
		}

		hits := make([]Candidate, 0, len(res.Hits))
		for _, hit := range res.Hits {
			position, err := strconv.Atoi(hit.ID)
			if err != nil {
				return nil, fmt.Errorf("bleve: non-positional document id %q", hit.ID)
			}
			hits = append(hits, Candidate{Position: position, Score: hit.Score})
		}

		if b.normalize && len(hits) > 0 && hits[0].Score > 0 {
			max := hits[0].Score
			for j := range hits {
				hits[j].Score /= max
			}
		}

		results[i] = hits
	}

	return results, nil
}

// Normalized reports whether scores are scaled to a common 0-1 range.
func (b *BleveIndex) Normalized() bool {
	return b.normalize
}

// Close releases the underlying index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ SparseIndex = (*BleveIndex)(nil)
