package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWConfig configures the dense index.
type HNSWConfig struct {
	// Dimensions is the embedding vector dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultHNSWConfig returns sensible defaults for the given dimension.
func DefaultHNSWConfig(dimensions int) HNSWConfig {
	return HNSWConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// HNSWIndex implements DenseIndex using the coder/hnsw pure Go HNSW graph.
// Keys are insertion positions, so search hits come back as positional
// candidates directly.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int]
	config HNSWConfig
	count  int
	closed bool
}

// hnswMeta is the sidecar state persisted next to the graph file.
type hnswMeta struct {
	Count  int
	Config HNSWConfig
}

// NewHNSWIndex creates an empty dense index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[int]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{graph: graph, config: cfg}, nil
}

// Add appends vectors, assigning sequential positions starting at the
// current count.
func (s *HNSWIndex) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("hnsw: index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for _, v := range vectors {
		vec := make([]float32, len(v))
		copy(vec, v)
		if s.config.Metric == "cos" {
			normalizeInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(s.count, vec))
		s.count++
	}

	return nil
}

// Search finds the k nearest neighbors for each query vector. Candidates are
// ordered by descending similarity score.
func (s *HNSWIndex) Search(ctx context.Context, vectors [][]float32, k int) ([][]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("hnsw: index is closed")
	}

	results := make([][]Candidate, len(vectors))
	for i, v := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(v) != s.config.Dimensions {
			return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}

		query := make([]float32, len(v))
		copy(query, v)
		if s.config.Metric == "cos" {
			normalizeInPlace(query)
		}

		hits := make([]Candidate, 0, k)
		if s.graph.Len() > 0 {
			for _, node := range s.graph.Search(query, k) {
				distance := s.graph.Distance(query, node.Value)
				hits = append(hits, Candidate{
					Position: node.Key,
					Score:    distanceToScore(distance, s.config.Metric),
				})
			}
		}
		results[i] = hits
	}

	return results, nil
}

// Count returns the number of indexed vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Save persists the graph and sidecar metadata. Writes go to temp files
// renamed into place.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("hnsw: index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("hnsw: create directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("hnsw: create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("hnsw: export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("hnsw: close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("hnsw: rename index file: %w", err)
	}

	return s.saveMeta(path + ".meta")
}

func (s *HNSWIndex) saveMeta(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("hnsw: create meta file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(hnswMeta{Count: s.count, Config: s.config}); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("hnsw: encode meta: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("hnsw: close meta file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores a previously saved index.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("hnsw: index is closed")
	}

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("hnsw: open meta file: %w", err)
	}
	defer metaFile.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("hnsw: decode meta: %w", err)
	}
	s.count = meta.Count
	s.config = meta.Config

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hnsw: open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("hnsw: import graph: %w", err)
	}

	return nil
}

// Close releases resources.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ DenseIndex = (*HNSWIndex)(nil)

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a similarity score in (0, 1].
func distanceToScore(distance float32, metric string) float64 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + float64(distance))
	default:
		// Cosine distance ranges 0 (identical) to 2 (opposite)
		return 1.0 - float64(distance)/2.0
	}
}
