package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// MemoryIndex is an in-process metadata filter and brute-force cosine searcher.
// Chunks without an embedding are embedded with the configured embedder on Index.
type MemoryIndex struct {
	embedder Embedder

	mu        sync.RWMutex
	chunks    []*model.Chunk
	dimension int
}

// NewMemoryIndex creates an empty index. embedder may be nil if all chunks carry embeddings.
func NewMemoryIndex(embedder Embedder) *MemoryIndex {
	return &MemoryIndex{embedder: embedder}
}

// Index replaces the indexed chunks
func (m *MemoryIndex) Index(ctx context.Context, chunks []*model.Chunk) error {
	indexed := make([]*model.Chunk, 0, len(chunks))
	dimension := 0
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		embedding := chunk.Embedding
		if len(embedding) == 0 {
			if m.embedder == nil {
				return helper.NewError("index", fmt.Errorf("chunk %s has no embedding and no embedder is set", chunk.ID))
			}
			var err error
			embedding, err = m.embedder.Embed(ctx, chunk.Content)
			if err != nil {
				return helper.NewError("embed chunk", err)
			}
			copied := *chunk
			copied.Embedding = embedding
			chunk = &copied
		}
		if dimension == 0 {
			dimension = len(embedding)
		} else if len(embedding) != dimension {
			return helper.NewError("index", fmt.Errorf("%w: chunk %s has %d dimensions, expected %d", ErrDimensionMismatch, chunk.ID, len(embedding), dimension))
		}
		indexed = append(indexed, chunk)
	}

	m.mu.Lock()
	m.chunks = indexed
	m.dimension = dimension
	m.mu.Unlock()
	return nil
}

// ApplyFilters returns the indexed chunks matching criteria
func (m *MemoryIndex) ApplyFilters(ctx context.Context, criteria model.FilterCriteria) ([]*model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Chunk
	for _, chunk := range m.chunks {
		if criteria.Matches(chunk) {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// Search returns the k chunks most similar to embedding.
// Negative cosine similarities are reported as zero.
func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, k int) ([]model.VectorMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension > 0 && len(embedding) != m.dimension {
		return nil, helper.NewError("search", fmt.Errorf("%w: query %d, index %d", ErrDimensionMismatch, len(embedding), m.dimension))
	}

	matches := make([]model.VectorMatch, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		matches = append(matches, model.VectorMatch{
			ID:    chunk.ID,
			Score: helper.Clamp(CosineSimilarity(embedding, chunk.Embedding), 0, 1),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if k >= 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Dimension returns the embedding dimension of the indexed chunks
func (m *MemoryIndex) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimension
}

// Len returns the number of indexed chunks
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// CosineSimilarity returns the cosine of the angle between a and b, or zero
// for vectors of different length or zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
