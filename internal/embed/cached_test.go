package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks which texts reach the inner embedder.
type countingEmbedder struct {
	embedCalls int
	batchCalls int
	batchTexts [][]string
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	c.batchTexts = append(c.batchTexts, append([]string(nil), texts...))
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = []float32{float32(len(text))}
	}
	return results, nil
}

func (c *countingEmbedder) Dimensions() int   { return 1 }
func (c *countingEmbedder) ModelName() string { return "counting" }
func (c *countingEmbedder) Close() error      { return nil }

var _ Embedder = (*countingEmbedder)(nil)

func TestCachedEmbedder_RepeatHitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)

	first, err := cached.Embed(context.Background(), "cats")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "cats")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)

	// Warm one entry
	_, err := cached.Embed(context.Background(), "cats")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(context.Background(), []string{"cats", "dogs", "fish"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// One inner batch call carrying only the two misses
	require.Equal(t, 1, inner.batchCalls)
	assert.Equal(t, []string{"dogs", "fish"}, inner.batchTexts[0])
	assert.Equal(t, []float32{4}, results[0])
	assert.Equal(t, []float32{4}, results[1])
}

func TestCachedEmbedder_FullyCachedBatchSkipsInner(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	_, err = cached.EmbedBatch(context.Background(), []string{"b", "a"})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.batchCalls)
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10)

	results, err := cached.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, inner.batchCalls)
}

func TestCachedEmbedder_EvictionRefetches(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 1)

	_, err := cached.Embed(context.Background(), "cats")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "dogs")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "cats")
	require.NoError(t, err)

	assert.Equal(t, 3, inner.embedCalls)
}

func TestCachedEmbedder_DelegatesMetadata(t *testing.T) {
	cached := NewCachedEmbedder(&countingEmbedder{}, 0)

	assert.Equal(t, 1, cached.Dimensions())
	assert.Equal(t, "counting", cached.ModelName())
}
