package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/medrag/core/scoring"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// Agent retrieves the best scoring chunks for a structured query.
// It filters by metadata, runs a hybrid semantic/keyword search, scores the
// survivors and enriches them with snippets and highlights. Results are cached.
type Agent struct {
	config   model.RetrievalConfig
	scorer   *scoring.Scorer
	filter   MetadataFilter
	embedder Embedder
	searcher VectorSearcher
	cache    *Cache
	logger   *slog.Logger

	mu          sync.RWMutex
	corpus      map[string]*model.Chunk
	initialized bool
}

// NewAgent creates a new retriever agent
func NewAgent(config model.RetrievalConfig, scorer *scoring.Scorer, filter MetadataFilter, embedder Embedder, searcher VectorSearcher, logger *slog.Logger) *Agent {
	return &Agent{
		config:   config,
		scorer:   scorer,
		filter:   filter,
		embedder: embedder,
		searcher: searcher,
		cache:    NewCache(config.CacheSize, config.CacheTTL),
		logger:   helper.LoggerOrDefault(logger),
		corpus:   map[string]*model.Chunk{},
	}
}

// Initialize loads the corpus, hands it to collaborators that index chunks
// and clears the result cache. Indexers decide whether earlier chunks are
// kept; the PostgreSQL store is additive.
func (a *Agent) Initialize(ctx context.Context, chunks []*model.Chunk) error {
	corpus := make(map[string]*model.Chunk, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" {
			return helper.NewError("initialize", fmt.Errorf("chunk without id"))
		}
		corpus[chunk.ID] = chunk
	}

	if indexer, ok := a.filter.(ChunkIndexer); ok {
		if err := indexer.Index(ctx, chunks); err != nil {
			return helper.NewError("index chunks", err)
		}
	}
	// The filter and the searcher are often the same index.
	if indexer, ok := a.searcher.(ChunkIndexer); ok && !sameCollaborator(a.searcher, a.filter) {
		if err := indexer.Index(ctx, chunks); err != nil {
			return helper.NewError("index chunks", err)
		}
	}

	a.mu.Lock()
	a.corpus = corpus
	a.initialized = true
	a.mu.Unlock()
	a.cache.Purge()

	a.logger.Info("Retriever initialized", slog.Int("chunks", len(corpus)))
	return nil
}

// sameCollaborator reports whether a and b are the same value without
// panicking on dynamic types that are not comparable.
func sameCollaborator(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Func, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

// CorpusSize returns the number of chunks loaded by Initialize
func (a *Agent) CorpusSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.corpus)
}

// ClearCache removes all cached results
func (a *Agent) ClearCache() {
	a.cache.Purge()
}

// CacheSize returns the number of cached results
func (a *Agent) CacheSize() int {
	return a.cache.Len()
}

// totalSearched prefers the size reported by the store over the loaded corpus,
// since a persistent store can hold chunks of earlier Initialize calls.
func (a *Agent) totalSearched(ctx context.Context, corpusSize int) int {
	counter, ok := a.filter.(ChunkCounter)
	if !ok {
		return corpusSize
	}
	count, err := counter.CountChunks(ctx)
	if err != nil {
		a.logger.Warn("Counting stored chunks failed", slog.String("error", err.Error()))
		return corpusSize
	}
	return count
}

// Retrieve returns the topK best candidates for the query.
// A topK of zero or less uses the configured default.
func (a *Agent) Retrieve(ctx context.Context, query *model.StructuredQuery, topK int) (*model.RetrievalResult, error) {
	if err := query.Validate(); err != nil {
		return nil, helper.NewError("retrieve", fmt.Errorf("%w: %v", ErrInvalidQuery, err))
	}
	if topK <= 0 {
		topK = a.config.TopK
	}

	a.mu.RLock()
	initialized := a.initialized
	corpusSize := len(a.corpus)
	a.mu.RUnlock()
	if !initialized {
		return nil, helper.NewError("retrieve", ErrNotInitialized)
	}

	key := CacheKey(query, topK)
	if cached, ok := a.cache.Get(key); ok {
		cached.Diagnostics.CacheHit = true
		a.logger.Debug("Retrieval cache hit", slog.String("query_id", query.QueryID))
		return cached, nil
	}

	start := time.Now()
	result := &model.RetrievalResult{
		Candidates:    []model.RetrievalCandidate{},
		TotalSearched: a.totalSearched(ctx, corpusSize),
		Diagnostics: model.RetrievalDiagnostics{
			RetrievalID: uuid.NewString(),
		},
	}

	// Metadata filter
	stageStart := time.Now()
	pool, err := a.filter.ApplyFilters(ctx, model.CriteriaFromQuery(query))
	if err != nil {
		return nil, helper.NewError("apply filters", err)
	}
	result.FilteredCount = len(pool)
	result.Diagnostics.FilterMs = time.Since(stageStart).Milliseconds()

	if len(pool) == 0 {
		result.RetrievalTimeMs = time.Since(start).Milliseconds()
		a.cache.Set(key, result)
		a.logger.Debug("No chunks left after filtering", slog.String("patient_id", query.PatientID))
		return result, nil
	}

	// Hybrid search
	stageStart = time.Now()
	inputs, err := a.hybridSearch(ctx, query, pool, topK, result.TotalSearched, &result.Diagnostics)
	if err != nil {
		return nil, err
	}
	result.Diagnostics.SearchMs = time.Since(stageStart).Milliseconds()

	// Final scoring
	stageStart = time.Now()
	candidates := a.scorer.ScoreBatch(inputs, query)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	model.AssignRanks(candidates)
	result.Diagnostics.ScoringMs = time.Since(stageStart).Milliseconds()

	// Snippets and highlights
	stageStart = time.Now()
	terms := helper.QueryTerms(query.OriginalQuery, a.config.MinHighlightLength)
	for i := range candidates {
		candidates[i].Snippet = BuildSnippet(candidates[i].Chunk.Content, terms, a.config.SnippetLength)
		candidates[i].Highlights = FindHighlights(candidates[i].Chunk.Content, terms)
	}
	result.Diagnostics.EnrichmentMs = time.Since(stageStart).Milliseconds()

	result.Candidates = candidates
	result.RetrievalTimeMs = time.Since(start).Milliseconds()
	a.cache.Set(key, result)

	a.logger.Debug(
		"Retrieval finished",
		slog.String("retrieval_id", result.Diagnostics.RetrievalID),
		slog.Int("filtered", result.FilteredCount),
		slog.Int("returned", len(candidates)),
		slog.Int64("ms", result.RetrievalTimeMs),
	)
	return result, nil
}

// hybridSearch attaches a semantic similarity to every pool chunk, ranks the
// pool by a provisional semantic/keyword blend and keeps the best candidates
// for final scoring.
func (a *Agent) hybridSearch(ctx context.Context, query *model.StructuredQuery, pool []*model.Chunk, topK int, corpusSize int, diagnostics *model.RetrievalDiagnostics) ([]scoring.ScoreInput, error) {
	embedding, err := a.embedder.Embed(ctx, query.OriginalQuery)
	if err != nil {
		return nil, helper.NewError("embed query", err)
	}
	diagnostics.EmbeddingDimension = len(embedding)

	if dimension := a.searcher.Dimension(); dimension > 0 && dimension != len(embedding) {
		a.logger.Error(
			"Query embedding does not match index dimension",
			slog.Int("query_dimension", len(embedding)),
			slog.Int("index_dimension", dimension),
		)
		return nil, helper.NewError("vector search", fmt.Errorf("%w: query %d, index %d", ErrDimensionMismatch, len(embedding), dimension))
	}

	k := corpusSize
	if k < len(pool) {
		k = len(pool)
	}
	matches, err := a.searcher.Search(ctx, embedding, k)
	if err != nil {
		return nil, helper.NewError("vector search", err)
	}
	diagnostics.SearchHits = len(matches)

	semantic := make(map[string]float64, len(matches))
	for _, match := range matches {
		semantic[match.ID] = helper.Clamp(match.Score, 0, 1)
	}

	type provisional struct {
		input scoring.ScoreInput
		score float64
	}
	ranked := make([]provisional, 0, len(pool))
	for _, chunk := range pool {
		sim := semantic[chunk.ID]
		keyword := a.scorer.KeywordScore(chunk.Content, query.OriginalQuery)
		ranked = append(ranked, provisional{
			input: scoring.ScoreInput{Chunk: chunk, Semantic: sim},
			score: a.config.HybridSemanticWeight*sim + a.config.HybridKeywordWeight*keyword,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	limit := topK * a.config.CandidateMultiplier
	if limit > len(ranked) {
		limit = len(ranked)
	}
	inputs := make([]scoring.ScoreInput, limit)
	for i := 0; i < limit; i++ {
		inputs[i] = ranked[i].input
	}
	diagnostics.ProvisionalCount = limit
	return inputs, nil
}
