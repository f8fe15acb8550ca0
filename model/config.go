package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/siherrmann/medrag/helper"
)

// ScoringWeights are the weights the retrieval scorer combines its sub-scores with
type ScoringWeights struct {
	Semantic       float64 `yaml:"semantic" json:"semantic"`
	Keyword        float64 `yaml:"keyword" json:"keyword"`
	Recency        float64 `yaml:"recency" json:"recency"`
	TypePreference float64 `yaml:"type_preference" json:"type_preference"`
}

// Sum returns the sum of all weights
func (w ScoringWeights) Sum() float64 {
	return w.Semantic + w.Keyword + w.Recency + w.TypePreference
}

// DefaultScoringWeights returns the default retrieval scoring weights
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Semantic:       0.4,
		Keyword:        0.3,
		Recency:        0.2,
		TypePreference: 0.1,
	}
}

// RerankWeights are the weights of the re-ranking blend
type RerankWeights struct {
	Original       float64 `yaml:"original" json:"original"`
	EntityCoverage float64 `yaml:"entity_coverage" json:"entity_coverage"`
	TermOverlap    float64 `yaml:"term_overlap" json:"term_overlap"`
	TypeMatch      float64 `yaml:"type_match" json:"type_match"`
}

// Sum returns the sum of all weights
func (w RerankWeights) Sum() float64 {
	return w.Original + w.EntityCoverage + w.TermOverlap + w.TypeMatch
}

// DefaultRerankWeights returns the default re-ranking weights
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{
		Original:       0.5,
		EntityCoverage: 0.2,
		TermOverlap:    0.2,
		TypeMatch:      0.1,
	}
}

// RetrievalConfig configures the retriever agent
type RetrievalConfig struct {
	TopK                 int           `yaml:"top_k"`
	CandidateMultiplier  int           `yaml:"candidate_multiplier"`
	HybridSemanticWeight float64       `yaml:"hybrid_semantic_weight"`
	HybridKeywordWeight  float64       `yaml:"hybrid_keyword_weight"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	CacheSize            int           `yaml:"cache_size"`
	SnippetLength        int           `yaml:"snippet_length"`
	MinHighlightLength   int           `yaml:"min_highlight_length"`
	BatchConcurrency     int           `yaml:"batch_concurrency"`
}

// ScoringConfig configures the retrieval scorer
type ScoringConfig struct {
	Weights           ScoringWeights `yaml:"weights"`
	RecencyDecayRate  float64        `yaml:"recency_decay_rate"`
	UnknownDateScore  float64        `yaml:"unknown_date_score"`
	BM25K1            float64        `yaml:"bm25_k1"`
	BM25B             float64        `yaml:"bm25_b"`
	AverageDocLength  float64        `yaml:"average_doc_length"`
	KeywordNormalizer float64        `yaml:"keyword_normalizer"`
}

// RerankConfig configures the re-ranker
type RerankConfig struct {
	Enabled bool          `yaml:"enabled"`
	TopK    int           `yaml:"top_k"`
	Weights RerankWeights `yaml:"weights"`
}

// TimeDecayConfig configures the time decay pass
type TimeDecayConfig struct {
	Enabled   bool    `yaml:"enabled"`
	DecayRate float64 `yaml:"decay_rate"`
}

// DiversityConfig configures the result diversifier
type DiversityConfig struct {
	Enabled     bool    `yaml:"enabled"`
	PenaltyBase float64 `yaml:"penalty_base"`
	TopK        int     `yaml:"top_k"`
	MinSources  int     `yaml:"min_sources"`
}

// GenerationConfig configures the two-pass generator
type GenerationConfig struct {
	ExtractionTemperature float64       `yaml:"extraction_temperature"`
	SummaryTemperature    float64       `yaml:"summary_temperature"`
	ValidateExtractions   bool          `yaml:"validate_extractions"`
	MaxCandidates         int           `yaml:"max_candidates"`
	MaxAttempts           int           `yaml:"max_attempts"`
	RetryBaseDelay        time.Duration `yaml:"retry_base_delay"`
}

// VerificationConfig configures the count verifier and citation handling
type VerificationConfig struct {
	CriticalThreshold        int  `yaml:"critical_threshold"`
	WarningThreshold         int  `yaml:"warning_threshold"`
	AutoCorrect              bool `yaml:"auto_correct"`
	SuppressInvalidCitations bool `yaml:"suppress_invalid_citations"`
}

// PipelineConfig configures the query pipeline
type PipelineConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig configures the LLM inference collaborator
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	ServerURL string `yaml:"server_url"`
	Model     string `yaml:"model"`

	// RequestsPerSecond throttles calls to the inference service, zero disables throttling
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// EmbeddingConfig configures the embedding collaborator
type EmbeddingConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	OnnxFilePath string `yaml:"onnx_file_path"`
	ServerURL    string `yaml:"server_url"`
}

// Storage backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// VectorIndexConfig selects the pgvector index of the chunks table
type VectorIndexConfig struct {
	Type           string `yaml:"type"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	Lists          int    `yaml:"lists"`
}

// StorageConfig selects where chunks are indexed. The postgres backend reads
// its connection settings from the DB_* environment.
type StorageConfig struct {
	Backend            string            `yaml:"backend"`
	EmbeddingDimension int               `yaml:"embedding_dimension"`
	ReloadFunctions    bool              `yaml:"reload_functions"`
	VectorIndex        VectorIndexConfig `yaml:"vector_index"`
}

// Config is the complete medrag configuration
type Config struct {
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Rerank       RerankConfig       `yaml:"rerank"`
	TimeDecay    TimeDecayConfig    `yaml:"time_decay"`
	Diversity    DiversityConfig    `yaml:"diversity"`
	Generation   GenerationConfig   `yaml:"generation"`
	Verification VerificationConfig `yaml:"verification"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Storage      StorageConfig      `yaml:"storage"`
}

// DefaultConfig returns the configuration with all default values
func DefaultConfig() Config {
	return Config{
		Retrieval: RetrievalConfig{
			TopK:                 10,
			CandidateMultiplier:  2,
			HybridSemanticWeight: 0.6,
			HybridKeywordWeight:  0.4,
			CacheTTL:             5 * time.Minute,
			CacheSize:            100,
			SnippetLength:        200,
			MinHighlightLength:   3,
			BatchConcurrency:     4,
		},
		Scoring: ScoringConfig{
			Weights:           DefaultScoringWeights(),
			RecencyDecayRate:  0.01,
			UnknownDateScore:  0.5,
			BM25K1:            1.5,
			BM25B:             0.75,
			AverageDocLength:  100,
			KeywordNormalizer: 2,
		},
		Rerank: RerankConfig{
			Enabled: true,
			TopK:    10,
			Weights: DefaultRerankWeights(),
		},
		TimeDecay: TimeDecayConfig{
			Enabled:   false,
			DecayRate: 0.01,
		},
		Diversity: DiversityConfig{
			Enabled:     true,
			PenaltyBase: 0.9,
			TopK:        5,
			MinSources:  2,
		},
		Generation: GenerationConfig{
			ExtractionTemperature: 0,
			SummaryTemperature:    0.3,
			ValidateExtractions:   true,
			MaxCandidates:         10,
			MaxAttempts:           3,
			RetryBaseDelay:        2 * time.Second,
		},
		Verification: VerificationConfig{
			CriticalThreshold:        2,
			WarningThreshold:         1,
			AutoCorrect:              true,
			SuppressInvalidCitations: true,
		},
		Pipeline: PipelineConfig{
			Timeout: 6 * time.Second,
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			ServerURL: "http://localhost:11434",
			Model:     "llama3.1",
		},
		Embedding: EmbeddingConfig{
			Provider:     "hugot",
			Model:        "sentence-transformers/all-MiniLM-L6-v2",
			OnnxFilePath: "onnx/model.onnx",
			ServerURL:    "http://localhost:11434",
		},
		Storage: StorageConfig{
			Backend:            StorageMemory,
			EmbeddingDimension: 384,
			VectorIndex: VectorIndexConfig{
				Type:           "hnsw",
				M:              16,
				EfConstruction: 64,
				Lists:          100,
			},
		},
	}
}

// Validate checks the configuration for values the pipeline cannot work with
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Retrieval.TopK > 0, "retrieval.top_k must be positive")
	check(c.Retrieval.CandidateMultiplier >= 1, "retrieval.candidate_multiplier must be at least 1")
	check(c.Retrieval.CacheSize > 0, "retrieval.cache_size must be positive")
	check(c.Retrieval.CacheTTL > 0, "retrieval.cache_ttl must be positive")
	check(c.Retrieval.SnippetLength > 0, "retrieval.snippet_length must be positive")
	check(c.Retrieval.BatchConcurrency > 0, "retrieval.batch_concurrency must be positive")
	check(c.Retrieval.HybridSemanticWeight >= 0 && c.Retrieval.HybridKeywordWeight >= 0, "retrieval hybrid weights must not be negative")
	check(c.Scoring.RecencyDecayRate >= 0, "scoring.recency_decay_rate must not be negative")
	check(c.Scoring.AverageDocLength > 0, "scoring.average_doc_length must be positive")
	check(c.Scoring.KeywordNormalizer > 0, "scoring.keyword_normalizer must be positive")
	check(c.Scoring.UnknownDateScore >= 0 && c.Scoring.UnknownDateScore <= 1, "scoring.unknown_date_score must be in [0, 1]")
	check(c.Rerank.TopK > 0, "rerank.top_k must be positive")
	check(math.Abs(c.Rerank.Weights.Sum()-1) <= 0.001, "rerank.weights must sum to 1.0, got %.3f", c.Rerank.Weights.Sum())
	check(c.TimeDecay.DecayRate >= 0, "time_decay.decay_rate must not be negative")
	check(c.Diversity.PenaltyBase > 0 && c.Diversity.PenaltyBase <= 1, "diversity.penalty_base must be in (0, 1]")
	check(c.Diversity.TopK > 0, "diversity.top_k must be positive")
	check(c.Diversity.MinSources >= 1, "diversity.min_sources must be at least 1")
	check(c.Generation.MaxAttempts >= 1, "generation.max_attempts must be at least 1")
	check(c.Generation.MaxCandidates > 0, "generation.max_candidates must be positive")
	check(c.Generation.RetryBaseDelay >= 0, "generation.retry_base_delay must not be negative")
	check(c.Verification.WarningThreshold >= 1, "verification.warning_threshold must be at least 1")
	check(c.Verification.CriticalThreshold >= c.Verification.WarningThreshold, "verification.critical_threshold must not be below warning_threshold")
	check(c.Pipeline.Timeout > 0, "pipeline.timeout must be positive")
	check(c.LLM.RequestsPerSecond >= 0, "llm.requests_per_second must not be negative")
	check(c.Storage.Backend == StorageMemory || c.Storage.Backend == StoragePostgres, "storage.backend must be %q or %q", StorageMemory, StoragePostgres)
	check(c.Storage.Backend != StoragePostgres || c.Storage.EmbeddingDimension > 0, "storage.embedding_dimension must be positive for the postgres backend")

	if len(errs) > 0 {
		return helper.NewError("validate config", errors.Join(errs...))
	}
	return nil
}

// LoadConfig reads the YAML file at path on top of DefaultConfig, applies
// MEDRAG_* environment overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if err := helper.LoadConfig(path, &config); err != nil {
		return Config{}, err
	}

	helper.EnvString("MEDRAG_LLM_PROVIDER", &config.LLM.Provider)
	helper.EnvString("MEDRAG_LLM_SERVER_URL", &config.LLM.ServerURL)
	helper.EnvString("MEDRAG_LLM_MODEL", &config.LLM.Model)
	helper.EnvString("MEDRAG_EMBEDDING_PROVIDER", &config.Embedding.Provider)
	helper.EnvString("MEDRAG_EMBEDDING_MODEL", &config.Embedding.Model)
	helper.EnvString("MEDRAG_EMBEDDING_SERVER_URL", &config.Embedding.ServerURL)
	helper.EnvString("MEDRAG_STORAGE_BACKEND", &config.Storage.Backend)
	err := errors.Join(
		helper.EnvInt("MEDRAG_TOP_K", &config.Retrieval.TopK),
		helper.EnvFloat("MEDRAG_LLM_REQUESTS_PER_SECOND", &config.LLM.RequestsPerSecond),
		helper.EnvDuration("MEDRAG_TIMEOUT", &config.Pipeline.Timeout),
		helper.EnvDuration("MEDRAG_CACHE_TTL", &config.Retrieval.CacheTTL),
		helper.EnvInt("MEDRAG_CACHE_SIZE", &config.Retrieval.CacheSize),
		helper.EnvFloat("MEDRAG_DIVERSITY_PENALTY_BASE", &config.Diversity.PenaltyBase),
		helper.EnvBool("MEDRAG_RERANK_ENABLED", &config.Rerank.Enabled),
		helper.EnvBool("MEDRAG_TIME_DECAY_ENABLED", &config.TimeDecay.Enabled),
		helper.EnvBool("MEDRAG_DIVERSITY_ENABLED", &config.Diversity.Enabled),
		helper.EnvInt("MEDRAG_EMBEDDING_DIMENSION", &config.Storage.EmbeddingDimension),
	)
	if err != nil {
		return Config{}, helper.NewError("environment overrides", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
