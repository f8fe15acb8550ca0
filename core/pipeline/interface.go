package pipeline

import (
	"context"

	"github.com/siherrmann/medrag/core/generation"
	"github.com/siherrmann/medrag/model"
)

// Retriever returns the ranked candidates for a query
type Retriever interface {
	Retrieve(ctx context.Context, query *model.StructuredQuery, topK int) (*model.RetrievalResult, error)
}

// AnswerGenerator runs both generation passes, retrying the whole call on failure
type AnswerGenerator interface {
	GenerateWithRetry(ctx context.Context, query *model.StructuredQuery, candidates []model.RetrievalCandidate, opts ...generation.GenerateOption) (*generation.GenerationResult, error)
	ModelInfo() generation.ModelInfo
}

// EmbeddingProvider is an embedding collaborator holding resources that must be released
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}
