package search

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/quarry-search/quarry/internal/embed"
	"github.com/quarry-search/quarry/internal/store"
)

// ErrNoEmbedder is returned when a dense index is configured without an
// embedder to vectorize queries.
var ErrNoEmbedder = errors.New("dense index requires an embedder")

// Orchestrator executes batch searches. Collaborators are injected at
// construction and only read afterwards, so concurrent batches on one
// instance are safe as long as the collaborators tolerate concurrent reads.
type Orchestrator struct {
	embedder   embed.Embedder
	dense      store.DenseIndex
	sparse     store.SparseIndex
	database   store.Database
	translator Translator

	ids        []string // position -> external ID lookup
	indexIDs   bool     // bypass: return raw index positions
	limit      int
	multiplier int
	logger     *slog.Logger
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithEmbedder sets the query vectorizer. Required whenever a dense index is
// configured.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *Orchestrator) { o.embedder = e }
}

// WithDenseIndex sets the dense ANN index.
func WithDenseIndex(d store.DenseIndex) Option {
	return func(o *Orchestrator) { o.dense = d }
}

// WithSparseIndex sets the sparse keyword index.
func WithSparseIndex(s store.SparseIndex) Option {
	return func(o *Orchestrator) { o.sparse = s }
}

// WithDatabase sets the document database. When present, non-bypass searches
// take the structured path.
func WithDatabase(d store.Database) Option {
	return func(o *Orchestrator) { o.database = d }
}

// WithTranslator sets the free-text to structured-query rewriter.
func WithTranslator(t Translator) Option {
	return func(o *Orchestrator) { o.translator = t }
}

// WithIDLookup sets the position-to-ID lookup table used by the resolver.
func WithIDLookup(ids []string) Option {
	return func(o *Orchestrator) { o.ids = ids }
}

// WithIndexIDs enables bypass mode: raw index positions are returned and the
// database path is skipped.
func WithIndexIDs(enabled bool) Option {
	return func(o *Orchestrator) { o.indexIDs = enabled }
}

// WithDefaultLimit overrides the limit applied when a caller supplies none.
func WithDefaultLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithCandidateMultiplier overrides the over-fetch factor used when deriving
// default candidate counts for multi-token filters.
func WithCandidateMultiplier(m int) Option {
	return func(o *Orchestrator) {
		if m > 0 {
			o.multiplier = m
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator. Collaborators left unset are treated as not
// configured; the dispatcher degrades accordingly.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		limit:      DefaultLimit,
		multiplier: DefaultCandidateMultiplier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Search executes a batch search. With a database configured (and bypass
// mode off) each response carries resolved Rows; otherwise each carries
// ranked Matches. Output order always matches input order, and any
// collaborator failure fails the whole batch.
func (o *Orchestrator) Search(ctx context.Context, queries []string, opts Options) ([]Response, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = o.limit
	}
	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	// No retrieval configured: empty results, not an error.
	if o.dense == nil && o.sparse == nil {
		responses := make([]Response, len(queries))
		for i := range responses {
			responses[i].Matches = []store.Match{}
		}
		return responses, nil
	}

	if o.dense != nil && o.embedder == nil {
		return nil, ErrNoEmbedder
	}

	if !o.indexIDs && o.database != nil {
		return o.databaseSearch(ctx, queries, limit, weights)
	}

	matches, err := o.indexSearch(ctx, queries, limit, weights)
	if err != nil {
		return nil, err
	}
	responses := make([]Response, len(queries))
	for i := range matches {
		responses[i].Matches = matches[i]
	}
	return responses, nil
}

// indexSearch runs dense and/or sparse retrieval over the raw queries and
// fuses the rankings. The two sides have no data dependency and run
// concurrently; output stays in input order.
func (o *Orchestrator) indexSearch(ctx context.Context, queries []string, limit int, weights Weights) ([][]store.Match, error) {
	var dense, sparse [][]store.Match

	g, gctx := errgroup.WithContext(ctx)
	if o.dense != nil {
		g.Go(func() error {
			var err error
			dense, err = o.denseSearch(gctx, queries, limit)
			return err
		})
	}
	if o.sparse != nil {
		g.Go(func() error {
			var err error
			sparse, err = o.sparseSearch(gctx, queries, limit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if dense != nil && sparse != nil {
		// Capability flag read once per fusion call, not per entry.
		return FuseBatch(dense, sparse, weights, limit, o.sparse.Normalized()), nil
	}
	if dense != nil {
		return dense, nil
	}
	return sparse, nil
}

// denseSearch vectorizes the whole batch in one embedder call, searches the
// ANN index, and discards non-positive scores as noise.
func (o *Orchestrator) denseSearch(ctx context.Context, queries []string, limit int) ([][]store.Match, error) {
	vectors, err := o.embedder.EmbedBatch(ctx, queries)
	if err != nil {
		return nil, err
	}

	hits, err := o.dense.Search(ctx, vectors, limit)
	if err != nil {
		return nil, err
	}

	for i, list := range hits {
		kept := list[:0]
		for _, hit := range list {
			if hit.Score > 0 {
				kept = append(kept, hit)
			}
		}
		hits[i] = kept
	}

	return o.resolve(hits), nil
}

// sparseSearch scores the batch against the keyword index.
func (o *Orchestrator) sparseSearch(ctx context.Context, queries []string, limit int) ([][]store.Match, error) {
	hits, err := o.sparse.Search(ctx, queries, limit)
	if err != nil {
		return nil, err
	}
	return o.resolve(hits), nil
}

// resolve maps positional candidates to external IDs, preserving order and
// score. Without a lookup table (or in bypass mode) positions are used as
// identifiers directly.
func (o *Orchestrator) resolve(results [][]store.Candidate) [][]store.Match {
	resolved := make([][]store.Match, len(results))
	for i, hits := range results {
		matches := make([]store.Match, 0, len(hits))
		for _, hit := range hits {
			id := strconv.Itoa(hit.Position)
			if !o.indexIDs && hit.Position >= 0 && hit.Position < len(o.ids) {
				id = o.ids[hit.Position]
			}
			matches = append(matches, store.Match{ID: id, Score: hit.Score})
		}
		resolved[i] = matches
	}
	return resolved
}

// databaseSearch plans the batch of structured statements, runs their
// embedded similarity sub-queries as one index pass, and multiplexes the
// fused rankings back to each statement's row resolution.
func (o *Orchestrator) databaseSearch(ctx context.Context, queries []string, limit int, weights Weights) ([]Response, error) {
	statements, err := o.parseStatements(ctx, queries)
	if err != nil {
		return nil, err
	}

	if l := batchLimit(statements); l > limit {
		limit = l
	}

	batch, candidates := extract(statements, limit, o.multiplier)

	var fused [][]store.Match
	if len(batch) > 0 {
		texts := make([]string, len(batch))
		for i, sq := range batch {
			texts[i] = sq.text
		}
		if fused, err = o.indexSearch(ctx, texts, candidates, weights); err != nil {
			return nil, err
		}
	}

	responses := make([]Response, len(queries))
	for x, stmt := range statements {
		var subset [][]store.Match
		for i, sq := range batch {
			if sq.query == x {
				subset = append(subset, fused[i])
			}
		}

		rows, err := o.database.Search(ctx, stmt, subset, limit)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []store.Row{}
		}
		responses[x] = Response{Rows: rows}
	}

	return responses, nil
}
