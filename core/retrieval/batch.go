package retrieval

import (
	"context"
	"log/slog"

	"github.com/siherrmann/medrag/model"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one query of a batch
type BatchResult struct {
	Query  *model.StructuredQuery
	Result *model.RetrievalResult
	Err    error
}

// BatchRetrieve runs Retrieve for every query concurrently. A failing query
// only sets the Err of its own result. Results keep the order of queries.
func (a *Agent) BatchRetrieve(ctx context.Context, queries []*model.StructuredQuery, topK int) []BatchResult {
	results := make([]BatchResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	if a.config.BatchConcurrency > 0 {
		g.SetLimit(a.config.BatchConcurrency)
	}
	for i, query := range queries {
		g.Go(func() error {
			result, err := a.Retrieve(gctx, query, topK)
			results[i] = BatchResult{Query: query, Result: result, Err: err}
			if err != nil {
				a.logger.Warn("Batch query failed", slog.Int("index", i), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
