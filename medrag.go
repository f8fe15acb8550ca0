package medrag

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/siherrmann/medrag/core/generation"
	"github.com/siherrmann/medrag/core/pipeline"
	"github.com/siherrmann/medrag/core/retrieval"
	"github.com/siherrmann/medrag/core/scoring"
	"github.com/siherrmann/medrag/database"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
	loadSql "github.com/siherrmann/medrag/sql"
)

// Option customizes the collaborators NewMedrag wires together
type Option func(*options)

type options struct {
	logger      *slog.Logger
	registerer  prometheus.Registerer
	llm         generation.LLMClient
	embedder    retrieval.Embedder
	dbConfig    *helper.DatabaseConfiguration
	preferences *model.TypePreferenceTable
}

// WithLogger sets the logger of all components
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the pipeline metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLLMClient replaces the Ollama client built from the LLM configuration
func WithLLMClient(client generation.LLMClient) Option {
	return func(o *options) { o.llm = client }
}

// WithEmbedder replaces the embedder built from the embedding configuration.
// The caller keeps ownership and Close does not release it.
func WithEmbedder(embedder retrieval.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

// WithDatabase sets the connection of the postgres backend. Without it the
// configuration is read from the DB_* environment.
func WithDatabase(config *helper.DatabaseConfiguration) Option {
	return func(o *options) { o.dbConfig = config }
}

// WithPreferences replaces the default artifact type preference table
func WithPreferences(preferences *model.TypePreferenceTable) Option {
	return func(o *options) { o.preferences = preferences }
}

// Medrag wires the retriever, generator and query pipeline over one chunk store
type Medrag struct {
	Config    model.Config
	DB        *helper.Database
	Chunks    *database.ChunksDBHandler
	Memory    *retrieval.MemoryIndex
	Agent     *retrieval.Agent
	Generator *generation.Generator
	Pipeline  *pipeline.Pipeline
	Metrics   *pipeline.Metrics

	// owned embedder, released by Close
	embedder pipeline.EmbeddingProvider
	log      *slog.Logger
}

// NewMedrag creates a new Medrag instance for config. The storage backend
// decides whether chunks are indexed in memory or in PostgreSQL.
func NewMedrag(config model.Config, opts ...Option) (*Medrag, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = helper.NewTracingLogger(os.Stdout, slog.LevelInfo)
	}
	if o.preferences == nil {
		o.preferences = model.DefaultTypePreferences()
	}

	m := &Medrag{Config: config, log: o.logger}

	embedder := o.embedder
	if embedder == nil {
		provider, err := pipeline.NewEmbedder(config.Embedding)
		if err != nil {
			return nil, helper.NewError("create embedder", err)
		}
		m.embedder = provider
		embedder = provider
	}

	llm := o.llm
	if llm == nil {
		client, err := generation.NewOllamaClient(config.LLM, o.logger)
		if err != nil {
			_ = m.Close()
			return nil, helper.NewError("create llm client", err)
		}
		llm = client
	}

	var filter retrieval.MetadataFilter
	var searcher retrieval.VectorSearcher
	switch config.Storage.Backend {
	case model.StoragePostgres:
		if err := m.openDatabase(o.dbConfig, embedder); err != nil {
			_ = m.Close()
			return nil, err
		}
		filter, searcher = m.Chunks, m.Chunks
	default:
		m.Memory = retrieval.NewMemoryIndex(embedder)
		filter, searcher = m.Memory, m.Memory
	}

	scorer := scoring.NewScorer(config.Scoring, o.preferences, o.logger)
	m.Agent = retrieval.NewAgent(config.Retrieval, scorer, filter, embedder, searcher, o.logger)

	generator, err := generation.NewGenerator(llm, config.Generation, o.logger)
	if err != nil {
		_ = m.Close()
		return nil, helper.NewError("create generator", err)
	}
	m.Generator = generator

	m.Metrics = pipeline.NewMetrics(o.registerer)
	m.Pipeline, err = pipeline.NewPipeline(config, m.Agent, generator, o.preferences, m.Metrics, o.logger)
	if err != nil {
		_ = m.Close()
		return nil, helper.NewError("create pipeline", err)
	}

	o.logger.Info("Medrag ready",
		slog.String("storage", config.Storage.Backend),
		slog.String("llm", generator.ModelInfo().Model),
	)
	return m, nil
}

func (m *Medrag) openDatabase(dbConfig *helper.DatabaseConfiguration, embedder retrieval.Embedder) error {
	if dbConfig == nil {
		var err error
		dbConfig, err = helper.NewDatabaseConfiguration()
		if err != nil {
			return helper.NewError("database configuration", err)
		}
	}

	db, err := helper.NewDatabase("medrag", dbConfig, m.log)
	if err != nil {
		return err
	}
	m.DB = db

	if err := loadSql.Init(db.Instance); err != nil {
		return helper.NewError("initialize database extensions", err)
	}

	chunks, err := database.NewChunksDBHandler(db, embedder, m.Config.Storage.EmbeddingDimension, m.Config.Storage.ReloadFunctions)
	if err != nil {
		return helper.NewError("create chunks handler", err)
	}
	m.Chunks = chunks

	if m.Config.Storage.VectorIndex.Type != "" {
		if err := chunks.ChangeIndexType(context.Background(), m.Config.Storage.VectorIndex); err != nil {
			return helper.NewError("change index type", err)
		}
	}
	return nil
}

// Initialize indexes chunks and makes them the retrievable corpus
func (m *Medrag) Initialize(ctx context.Context, chunks []*model.Chunk) error {
	if err := m.Agent.Initialize(ctx, chunks); err != nil {
		return helper.NewError("initialize corpus", err)
	}
	m.log.Info("Corpus initialized", slog.Int("chunks", m.Agent.CorpusSize()))
	return nil
}

// InitializeFromFile loads a JSON or JSON lines corpus file and initializes it
func (m *Medrag) InitializeFromFile(ctx context.Context, filePath string) error {
	chunks, err := model.LoadCorpus(filePath)
	if err != nil {
		return helper.NewError("load corpus", err)
	}
	return m.Initialize(ctx, chunks)
}

// Answer runs the query pipeline. Timeouts and upstream failures yield a
// partial response instead of an error.
func (m *Medrag) Answer(ctx context.Context, query *model.StructuredQuery) (*model.QueryResponse, error) {
	return m.Pipeline.Run(ctx, query)
}

// Retrieve returns the scored candidates for query without generating an answer.
// A topK of zero uses the configured default.
func (m *Medrag) Retrieve(ctx context.Context, query *model.StructuredQuery, topK int) (*model.RetrievalResult, error) {
	if topK <= 0 {
		topK = m.Config.Retrieval.TopK
	}
	return m.Agent.Retrieve(ctx, query, topK)
}

// BatchRetrieve runs Retrieve for several queries concurrently
func (m *Medrag) BatchRetrieve(ctx context.Context, queries []*model.StructuredQuery, topK int) []retrieval.BatchResult {
	if topK <= 0 {
		topK = m.Config.Retrieval.TopK
	}
	return m.Agent.BatchRetrieve(ctx, queries, topK)
}

// Close releases the owned embedder and the database connection
func (m *Medrag) Close() error {
	var errs []error
	if m.embedder != nil {
		if err := m.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
		m.embedder = nil
	}
	if m.DB != nil {
		if err := m.DB.Close(); err != nil {
			errs = append(errs, err)
		}
		m.DB = nil
	}
	return helper.NewError("close", errors.Join(errs...))
}
