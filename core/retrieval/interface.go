package retrieval

import (
	"context"
	"errors"

	"github.com/siherrmann/medrag/model"
)

var (
	// ErrNotInitialized is returned when retrieving before the corpus was loaded
	ErrNotInitialized = errors.New("retriever not initialized")
	// ErrDimensionMismatch is returned when the query embedding does not fit the index
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidQuery is returned for queries missing required fields
	ErrInvalidQuery = errors.New("invalid query")
)

// MetadataFilter narrows the corpus to the chunks matching the criteria
type MetadataFilter interface {
	ApplyFilters(ctx context.Context, criteria model.FilterCriteria) ([]*model.Chunk, error)
}

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedFunc adapts a function to the Embedder interface
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f
func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// VectorSearcher finds the chunks most similar to an embedding.
// Scores are semantic similarities in [0, 1]. Dimension returns zero while
// the dimension is not known yet.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]model.VectorMatch, error)
	Dimension() int
}

// ChunkIndexer is implemented by collaborators that need the corpus loaded up front
type ChunkIndexer interface {
	Index(ctx context.Context, chunks []*model.Chunk) error
}

// ChunkCounter is implemented by stores that know how many chunks they hold
type ChunkCounter interface {
	CountChunks(ctx context.Context) (int, error)
}
