package search

import (
	"sort"

	"github.com/quarry-search/quarry/internal/store"
)

// Fusion merges a dense and a sparse ranking for one query into a single
// ordering. The formula is chosen once per call from the sparse capability
// flag, never per entry:
//
//   - normalized sparse scores → convex combination: score * weight
//   - unnormalized sparse scores → reciprocal rank fusion: (1/rank) * weight
//
// Ties are broken by first arrival: dense entries ahead of sparse entries,
// each side in its original rank order. Stable sorting makes the ordering
// fully deterministic.
func Fuse(dense, sparse []store.Match, weights Weights, limit int, normalized bool) []store.Match {
	type entry struct {
		id    string
		score float64
	}

	entries := make([]*entry, 0, len(dense)+len(sparse))
	index := make(map[string]*entry, len(dense)+len(sparse))

	accumulate := func(matches []store.Match, weight float64) {
		if weight <= 0 {
			return
		}
		for r, m := range matches {
			e, ok := index[m.ID]
			if !ok {
				e = &entry{id: m.ID}
				index[m.ID] = e
				entries = append(entries, e)
			}
			if normalized {
				e.score += m.Score * weight
			} else {
				e.score += (1.0 / float64(r+1)) * weight
			}
		}
	}

	accumulate(dense, weights.Dense)
	accumulate(sparse, weights.Sparse)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	fused := make([]store.Match, len(entries))
	for i, e := range entries {
		fused[i] = store.Match{ID: e.id, Score: e.score}
	}
	return fused
}

// FuseBatch fuses dense and sparse rankings pairwise across a batch. Both
// inputs must have one ranking per query.
func FuseBatch(dense, sparse [][]store.Match, weights Weights, limit int, normalized bool) [][]store.Match {
	fused := make([][]store.Match, len(dense))
	for i := range dense {
		fused[i] = Fuse(dense[i], sparse[i], weights, limit, normalized)
	}
	return fused
}
