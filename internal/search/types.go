// Package search orchestrates batch hybrid retrieval. One call fans a batch
// of queries out to a dense ANN index and/or a sparse keyword index, fuses
// the per-query rankings, and — when a document database is configured —
// plans structured statements, batches their embedded similarity sub-queries
// into a single index pass, and resolves final rows per query.
package search

import (
	"context"

	"github.com/quarry-search/quarry/internal/store"
)

// DefaultLimit is the result limit applied when the caller supplies none.
const DefaultLimit = 3

// DefaultCandidateMultiplier is the over-fetch factor applied to the
// candidate count when a statement filters on more than the similarity
// clause itself. Over-fetching keeps enough candidates alive through
// post-filter attrition to still fill the limit.
const DefaultCandidateMultiplier = 10

// Weights balances the dense and sparse contributions during fusion. A side
// with weight <= 0 is skipped entirely, which forces single-index behavior
// even when both indexes are configured.
type Weights struct {
	Dense  float64
	Sparse float64
}

// ScalarWeights expands a single dense weight w into (w, 1-w).
func ScalarWeights(w float64) Weights {
	return Weights{Dense: w, Sparse: 1 - w}
}

// DefaultWeights returns an even dense/sparse split.
func DefaultWeights() Weights {
	return ScalarWeights(0.5)
}

// Options configures one batch search call.
type Options struct {
	// Limit is the maximum results per query. Values <= 0 use DefaultLimit.
	Limit int

	// Weights overrides the fusion weights. Nil uses DefaultWeights.
	Weights *Weights
}

// Response is the per-query result. Matches is populated on the index path,
// Rows on the database path; exactly one of them is set.
type Response struct {
	Matches []store.Match
	Rows    []store.Row
}

// Translator rewrites plain free text into a structured query string. It is
// consulted only when a parse yields no relational projection; absence
// disables the rewrite step.
type Translator interface {
	Translate(ctx context.Context, query string) (string, error)
}
