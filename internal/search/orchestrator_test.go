package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-search/quarry/internal/store"
)

// fakeEmbedder returns one-dimensional vectors and counts batch calls so
// tests can assert the one-EmbedBatch-per-search contract.
type fakeEmbedder struct {
	batchCalls int
	err        error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1}, f.err
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int   { return 1 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

// fakeDense returns canned candidate lists, one per query vector, and
// records the k it was asked for.
type fakeDense struct {
	hits [][]store.Candidate
	gotK []int
	err  error
}

func (f *fakeDense) Add(_ context.Context, _ [][]float32) error { return nil }

func (f *fakeDense) Search(_ context.Context, vectors [][]float32, k int) ([][]store.Candidate, error) {
	f.gotK = append(f.gotK, k)
	if f.err != nil {
		return nil, f.err
	}
	results := make([][]store.Candidate, len(vectors))
	for i := range vectors {
		if i < len(f.hits) {
			results[i] = append([]store.Candidate(nil), f.hits[i]...)
		}
	}
	return results, nil
}

func (f *fakeDense) Count() int          { return 0 }
func (f *fakeDense) Save(_ string) error { return nil }
func (f *fakeDense) Load(_ string) error { return nil }
func (f *fakeDense) Close() error        { return nil }

// fakeSparse mirrors fakeDense for the keyword side.
type fakeSparse struct {
	hits       [][]store.Candidate
	normalized bool
	gotK       []int
	err        error
}

func (f *fakeSparse) Index(_ context.Context, _ []string) error { return nil }

func (f *fakeSparse) Search(_ context.Context, queries []string, k int) ([][]store.Candidate, error) {
	f.gotK = append(f.gotK, k)
	if f.err != nil {
		return nil, f.err
	}
	results := make([][]store.Candidate, len(queries))
	for i := range queries {
		if i < len(f.hits) {
			results[i] = append([]store.Candidate(nil), f.hits[i]...)
		}
	}
	return results, nil
}

func (f *fakeSparse) Normalized() bool { return f.normalized }
func (f *fakeSparse) Close() error     { return nil }

// dbCall records one Search invocation against the fake database.
type dbCall struct {
	stmt       *store.Statement
	candidates [][]store.Match
	limit      int
}

// fakeDatabase parses via a canned query-to-statement map and records every
// row resolution.
type fakeDatabase struct {
	statements map[string]*store.Statement
	parseErr   map[string]error
	rows       []store.Row
	calls      []dbCall
}

func (f *fakeDatabase) Parse(query string) (*store.Statement, error) {
	if err, ok := f.parseErr[query]; ok {
		return nil, err
	}
	if stmt, ok := f.statements[query]; ok {
		return stmt, nil
	}
	// Plain text: a single similarity clause and no projection.
	return &store.Statement{Similar: [][]string{{query}}}, nil
}

func (f *fakeDatabase) Search(_ context.Context, stmt *store.Statement, candidates [][]store.Match, limit int) ([]store.Row, error) {
	f.calls = append(f.calls, dbCall{stmt: stmt, candidates: candidates, limit: limit})
	return f.rows, nil
}

func (f *fakeDatabase) Close() error { return nil }

// fakeTranslator rewrites free text through a canned map.
type fakeTranslator struct {
	rewrites map[string]string
	calls    []string
	err      error
}

func (f *fakeTranslator) Translate(_ context.Context, query string) (string, error) {
	f.calls = append(f.calls, query)
	if f.err != nil {
		return "", f.err
	}
	return f.rewrites[query], nil
}

var (
	_ store.DenseIndex  = (*fakeDense)(nil)
	_ store.SparseIndex = (*fakeSparse)(nil)
	_ store.Database    = (*fakeDatabase)(nil)
	_ Translator        = (*fakeTranslator)(nil)
)

func TestSearch_NoIndexesYieldsEmptyResponses(t *testing.T) {
	// Given: an orchestrator with no retrieval backends at all
	orch := New()

	// When: searching a batch
	responses, err := orch.Search(context.Background(), []string{"a", "b"}, Options{})

	// Then: empty matches per query, not an error
	require.NoError(t, err)
	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.NotNil(t, r.Matches)
		assert.Empty(t, r.Matches)
	}
}

func TestSearch_DenseIndexWithoutEmbedderFails(t *testing.T) {
	orch := New(WithDenseIndex(&fakeDense{}))

	_, err := orch.Search(context.Background(), []string{"a"}, Options{})

	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestSearch_DenseOnlyResolvesPositionsToIDs(t *testing.T) {
	dense := &fakeDense{hits: [][]store.Candidate{
		{{Position: 0, Score: 0.9}, {Position: 2, Score: 0.3}},
		{{Position: 1, Score: 0.8}},
	}}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithIDLookup([]string{"cats", "dogs", "fish"}),
	)

	responses, err := orch.Search(context.Background(), []string{"feline", "canine"}, Options{})

	require.NoError(t, err)
	require.Len(t, responses, 2)
	require.Len(t, responses[0].Matches, 2)
	assert.Equal(t, "cats", responses[0].Matches[0].ID)
	assert.InDelta(t, 0.9, responses[0].Matches[0].Score, 1e-9)
	assert.Equal(t, "fish", responses[0].Matches[1].ID)
	require.Len(t, responses[1].Matches, 1)
	assert.Equal(t, "dogs", responses[1].Matches[0].ID)
}

func TestSearch_NonPositiveDenseScoresAreDiscarded(t *testing.T) {
	dense := &fakeDense{hits: [][]store.Candidate{
		{{Position: 0, Score: 0.5}, {Position: 1, Score: 0}, {Position: 2, Score: -0.2}},
	}}
	orch := New(WithEmbedder(&fakeEmbedder{}), WithDenseIndex(dense))

	responses, err := orch.Search(context.Background(), []string{"q"}, Options{})

	require.NoError(t, err)
	require.Len(t, responses[0].Matches, 1)
	assert.Equal(t, "0", responses[0].Matches[0].ID)
}

func TestSearch_VectorizesBatchInOneEmbedderCall(t *testing.T) {
	embedder := &fakeEmbedder{}
	dense := &fakeDense{hits: [][]store.Candidate{nil, nil, nil}}
	orch := New(WithEmbedder(embedder), WithDenseIndex(dense))

	_, err := orch.Search(context.Background(), []string{"a", "b", "c"}, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, embedder.batchCalls)
}

func TestSearch_SparseOnlyPassesThrough(t *testing.T) {
	sparse := &fakeSparse{hits: [][]store.Candidate{
		{{Position: 1, Score: 2.4}, {Position: 0, Score: 1.1}},
	}}
	orch := New(WithSparseIndex(sparse), WithIDLookup([]string{"alpha", "beta"}))

	responses, err := orch.Search(context.Background(), []string{"q"}, Options{Limit: 5})

	require.NoError(t, err)
	require.Len(t, responses[0].Matches, 2)
	assert.Equal(t, "beta", responses[0].Matches[0].ID)
	assert.InDelta(t, 2.4, responses[0].Matches[0].Score, 1e-9)
	assert.Equal(t, []int{5}, sparse.gotK)
}

func TestSearch_HybridFusesWithSparseCapability(t *testing.T) {
	// Given: both sides rank position 0 first and the sparse index reports
	// normalized scores
	dense := &fakeDense{hits: [][]store.Candidate{{{Position: 0, Score: 0.8}}}}
	sparse := &fakeSparse{
		hits:       [][]store.Candidate{{{Position: 0, Score: 0.6}}},
		normalized: true,
	}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithSparseIndex(sparse),
		WithIDLookup([]string{"doc"}),
	)

	// When: fusing with even weights
	responses, err := orch.Search(context.Background(), []string{"q"}, Options{})

	// Then: the convex combination 0.8*0.5 + 0.6*0.5 comes back
	require.NoError(t, err)
	require.Len(t, responses[0].Matches, 1)
	assert.Equal(t, "doc", responses[0].Matches[0].ID)
	assert.InDelta(t, 0.7, responses[0].Matches[0].Score, 1e-9)
}

func TestSearch_IndexIDsBypassesDatabaseAndLookup(t *testing.T) {
	dense := &fakeDense{hits: [][]store.Candidate{
		{{Position: 1, Score: 0.9}, {Position: 0, Score: 0.4}},
	}}
	db := &fakeDatabase{}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithDatabase(db),
		WithIDLookup([]string{"cats", "dogs"}),
		WithIndexIDs(true),
	)

	responses, err := orch.Search(context.Background(), []string{"q"}, Options{})

	require.NoError(t, err)
	assert.Empty(t, db.calls, "bypass mode must not resolve rows")
	require.Len(t, responses[0].Matches, 2)
	assert.Equal(t, "1", responses[0].Matches[0].ID)
	assert.Equal(t, "0", responses[0].Matches[1].ID)
}

func TestSearch_DatabasePathResolvesRows(t *testing.T) {
	query := "select id, text, score from documents where similar('cats')"
	dense := &fakeDense{hits: [][]store.Candidate{{{Position: 0, Score: 0.9}}}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{
			query: {Select: "id, text, score", Where: "similar0", Similar: [][]string{{"cats"}}},
		},
		rows: []store.Row{{"id": "cats", "score": 0.9}},
	}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithDatabase(db),
		WithIDLookup([]string{"cats"}),
	)

	responses, err := orch.Search(context.Background(), []string{query}, Options{})

	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	require.Len(t, db.calls[0].candidates, 1)
	assert.Equal(t, "cats", db.calls[0].candidates[0][0].ID)
	require.Len(t, responses, 1)
	assert.Nil(t, responses[0].Matches)
	assert.Equal(t, db.rows, responses[0].Rows)
}

func TestSearch_LargestStatementLimitOverridesCaller(t *testing.T) {
	// Given: a batch where one statement carries LIMIT 20
	dense := &fakeDense{hits: [][]store.Candidate{nil, nil}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{
			"q1": {Select: "id", Where: "similar0", Limit: "20", Similar: [][]string{{"a"}}},
			"q2": {Select: "id", Where: "similar0", Similar: [][]string{{"b"}}},
		},
	}
	orch := New(WithEmbedder(&fakeEmbedder{}), WithDenseIndex(dense), WithDatabase(db))

	// When: the caller asks for the default limit
	_, err := orch.Search(context.Background(), []string{"q1", "q2"}, Options{})

	// Then: the override reaches both the index pass and every row resolution
	require.NoError(t, err)
	assert.Equal(t, []int{20}, dense.gotK)
	require.Len(t, db.calls, 2)
	assert.Equal(t, 20, db.calls[0].limit)
	assert.Equal(t, 20, db.calls[1].limit)
}

func TestSearch_MultiTokenFilterOverfetchesCandidates(t *testing.T) {
	dense := &fakeDense{hits: [][]store.Candidate{nil}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{
			"q": {Select: "id", Where: "tags = 'pet' and similar0", Similar: [][]string{{"cats"}}},
		},
	}
	orch := New(WithEmbedder(&fakeEmbedder{}), WithDenseIndex(dense), WithDatabase(db))

	_, err := orch.Search(context.Background(), []string{"q"}, Options{})

	require.NoError(t, err)
	assert.Equal(t, []int{30}, dense.gotK)
	require.Len(t, db.calls, 1)
	assert.Equal(t, 3, db.calls[0].limit, "over-fetch must not inflate the result limit")
}

func TestSearch_SubQueriesMultiplexBackPerStatement(t *testing.T) {
	// Given: three sub-queries across two statements in one flat batch
	dense := &fakeDense{hits: [][]store.Candidate{
		{{Position: 0, Score: 0.9}},
		{{Position: 1, Score: 0.8}},
		{{Position: 2, Score: 0.7}},
	}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{
			"q1": {Select: "id", Where: "similar0 and similar1", Similar: [][]string{{"a"}, {"b"}}},
			"q2": {Select: "id", Where: "similar0", Similar: [][]string{{"c"}}},
		},
	}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithDatabase(db),
		WithIDLookup([]string{"A", "B", "C"}),
	)

	// When: searching both statements
	_, err := orch.Search(context.Background(), []string{"q1", "q2"}, Options{})

	// Then: one index pass, and each statement receives exactly its own
	// clause rankings in clause order
	require.NoError(t, err)
	assert.Len(t, dense.gotK, 1)
	require.Len(t, db.calls, 2)
	require.Len(t, db.calls[0].candidates, 2)
	assert.Equal(t, "A", db.calls[0].candidates[0][0].ID)
	assert.Equal(t, "B", db.calls[0].candidates[1][0].ID)
	require.Len(t, db.calls[1].candidates, 1)
	assert.Equal(t, "C", db.calls[1].candidates[0][0].ID)
}

func TestSearch_TranslatesPlainTextOnceThenReparses(t *testing.T) {
	structured := "select id, text, score from documents where similar('house pets')"
	dense := &fakeDense{hits: [][]store.Candidate{nil}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{
			structured: {Select: "id, text, score", Where: "similar0", Similar: [][]string{{"house pets"}}},
		},
	}
	translator := &fakeTranslator{rewrites: map[string]string{"pets": structured}}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithDatabase(db),
		WithTranslator(translator),
	)

	_, err := orch.Search(context.Background(), []string{"pets"}, Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{"pets"}, translator.calls)
	require.Len(t, db.calls, 1)
	assert.Equal(t, "id, text, score", db.calls[0].stmt.Select)
}

func TestSearch_StructuredQueriesSkipTranslation(t *testing.T) {
	query := "select id from documents"
	dense := &fakeDense{hits: [][]store.Candidate{nil}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{query: {Select: "id"}},
	}
	translator := &fakeTranslator{}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithDatabase(db),
		WithTranslator(translator),
	)

	_, err := orch.Search(context.Background(), []string{query}, Options{})

	require.NoError(t, err)
	assert.Empty(t, translator.calls)
}

func TestSearch_ParseErrorFailsTheBatch(t *testing.T) {
	bad := "select from"
	db := &fakeDatabase{
		parseErr: map[string]error{bad: &store.ParseError{Query: bad, Msg: "missing projection"}},
	}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(&fakeDense{}),
		WithDatabase(db),
	)

	_, err := orch.Search(context.Background(), []string{"ok", bad}, Options{})

	var parseErr *store.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, bad, parseErr.Query)
	assert.Empty(t, db.calls, "no rows resolve when any parse fails")
}

func TestSearch_NilRowsBecomeEmptySlice(t *testing.T) {
	dense := &fakeDense{hits: [][]store.Candidate{nil}}
	db := &fakeDatabase{
		statements: map[string]*store.Statement{
			"q": {Select: "id", Where: "similar0", Similar: [][]string{{"a"}}},
		},
	}
	orch := New(WithEmbedder(&fakeEmbedder{}), WithDenseIndex(dense), WithDatabase(db))

	responses, err := orch.Search(context.Background(), []string{"q"}, Options{})

	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.NotNil(t, responses[0].Rows)
	assert.Empty(t, responses[0].Rows)
}

func TestSearch_IndexFailureFailsTheBatch(t *testing.T) {
	indexErr := errors.New("index unavailable")
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(&fakeDense{err: indexErr}),
	)

	_, err := orch.Search(context.Background(), []string{"a", "b"}, Options{})

	assert.ErrorIs(t, err, indexErr)
}

func TestSearch_UnresolvedPositionsFallBackToNumericIDs(t *testing.T) {
	// Lookup table shorter than the index: out-of-range positions keep their
	// numeric form instead of failing
	dense := &fakeDense{hits: [][]store.Candidate{
		{{Position: 0, Score: 0.9}, {Position: 7, Score: 0.5}},
	}}
	orch := New(
		WithEmbedder(&fakeEmbedder{}),
		WithDenseIndex(dense),
		WithIDLookup([]string{"cats"}),
	)

	responses, err := orch.Search(context.Background(), []string{"q"}, Options{})

	require.NoError(t, err)
	require.Len(t, responses[0].Matches, 2)
	assert.Equal(t, "cats", responses[0].Matches[0].ID)
	assert.Equal(t, "7", responses[0].Matches[1].ID)
}
