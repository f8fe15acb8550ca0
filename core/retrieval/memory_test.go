package retrieval

import (
	"context"
	"testing"

	"github.com/siherrmann/medrag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("Index embeds chunks without embedding", func(t *testing.T) {
		index := NewMemoryIndex(EmbedFunc(bagOfWordsEmbed))

		require.NoError(t, index.Index(ctx, testChunks()))

		assert.Equal(t, 5, index.Len())
		assert.Equal(t, testDimension, index.Dimension())
	})

	t.Run("Index does not modify input chunks", func(t *testing.T) {
		chunks := testChunks()
		index := NewMemoryIndex(EmbedFunc(bagOfWordsEmbed))

		require.NoError(t, index.Index(ctx, chunks))

		assert.Nil(t, chunks[0].Embedding)
	})

	t.Run("Index without embedder needs embeddings", func(t *testing.T) {
		index := NewMemoryIndex(nil)

		err := index.Index(ctx, testChunks())

		assert.Error(t, err)
	})

	t.Run("Index rejects mixed dimensions", func(t *testing.T) {
		index := NewMemoryIndex(nil)
		chunks := []*model.Chunk{
			{ID: "a", Embedding: []float32{1, 0}},
			{ID: "b", Embedding: []float32{1, 0, 0}},
		}

		err := index.Index(ctx, chunks)

		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("Search orders by similarity and limits to k", func(t *testing.T) {
		index := NewMemoryIndex(nil)
		require.NoError(t, index.Index(ctx, []*model.Chunk{
			{ID: "far", Embedding: []float32{0, 1}},
			{ID: "near", Embedding: []float32{1, 0.1}},
			{ID: "opposite", Embedding: []float32{-1, 0}},
		}))

		matches, err := index.Search(ctx, []float32{1, 0}, 2)

		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "near", matches[0].ID)
		assert.Equal(t, "far", matches[1].ID)
		assert.InDelta(t, 0.0, matches[1].Score, 1e-9)

		all, err := index.Search(ctx, []float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Equal(t, 0.0, all[2].Score, "Negative similarity is clamped")
	})

	t.Run("Search rejects other dimensions", func(t *testing.T) {
		index := NewMemoryIndex(nil)
		require.NoError(t, index.Index(ctx, []*model.Chunk{{ID: "a", Embedding: []float32{1, 0}}}))

		_, err := index.Search(ctx, []float32{1, 0, 0}, 1)

		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("Apply filters by patient", func(t *testing.T) {
		index := NewMemoryIndex(EmbedFunc(bagOfWordsEmbed))
		require.NoError(t, index.Index(ctx, testChunks()))

		chunks, err := index.ApplyFilters(ctx, model.FilterCriteria{PatientID: "p2"})

		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "c5", chunks[0].ID)
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
