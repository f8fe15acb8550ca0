package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/siherrmann/medrag/core/verification"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// ExtractionPass is the outcome of pass 1
type ExtractionPass struct {
	Extractions       []model.Extraction
	RawCount          int
	InvalidCount      int
	MalformedCount    int
	DuplicatesRemoved int
	Tokens            int
}

// GenerationResult is the outcome of a complete two-pass generation
type GenerationResult struct {
	Answer           *model.GeneratedAnswer
	Extractions      []model.Extraction
	Extraction       ExtractionPass
	ExtractionTokens int
	SummaryTokens    int
	NoInformation    bool
	Elapsed          time.Duration
	Attempts         int
}

// GenerateOption customizes a single generation call
type GenerateOption func(*generateOptions)

type generateOptions struct {
	filter      func([]model.Extraction) []model.Extraction
	onExtracted func([]model.Extraction)
}

// FilterExtractions registers fn to narrow the pass 1 output before it is
// reported and summarized
func FilterExtractions(fn func([]model.Extraction) []model.Extraction) GenerateOption {
	return func(o *generateOptions) {
		o.filter = fn
	}
}

// OnExtracted registers fn to be called with the surviving extractions as
// soon as pass 1 has finished
func OnExtracted(fn func([]model.Extraction)) GenerateOption {
	return func(o *generateOptions) {
		o.onExtracted = fn
	}
}

// Generator runs the two generation passes. Pass 1 extracts cited facts from
// the candidates at a deterministic temperature, pass 2 phrases an answer
// from those facts without seeing any source text.
type Generator struct {
	client LLMClient
	config model.GenerationConfig
	dedup  *verification.MedicationDeduplicator
	logger *slog.Logger
}

// NewGenerator creates a new two-pass generator
func NewGenerator(client LLMClient, config model.GenerationConfig, logger *slog.Logger) (*Generator, error) {
	if client == nil {
		return nil, helper.NewError("new generator", ErrNoLLMClient)
	}
	logger = helper.LoggerOrDefault(logger)
	return &Generator{
		client: client,
		config: config,
		dedup:  verification.NewMedicationDeduplicator(logger),
		logger: logger,
	}, nil
}

// ModelInfo returns the model info of the inference collaborator
func (g *Generator) ModelInfo() ModelInfo {
	return g.client.ModelInfo()
}

// Extract runs pass 1. Malformed provenance arrays are reduced to their first
// element. With validation enabled, extractions missing a required field are
// dropped. Medications are deduplicated last.
func (g *Generator) Extract(ctx context.Context, query *model.StructuredQuery, candidates []model.RetrievalCandidate) (*ExtractionPass, error) {
	if g.config.MaxCandidates > 0 && len(candidates) > g.config.MaxCandidates {
		candidates = candidates[:g.config.MaxCandidates]
	}

	response, err := g.client.Extract(ctx, ExtractionSystemPrompt, BuildExtractionPrompt(query, candidates), g.config.ExtractionTemperature)
	if err != nil {
		return nil, helper.NewError("extraction pass", err)
	}

	pass := &ExtractionPass{
		RawCount: len(response.Extractions),
		Tokens:   response.TotalTokens,
	}
	extractions := make([]model.Extraction, 0, len(response.Extractions))
	for i, raw := range response.Extractions {
		extraction, wasArray, err := toExtraction(raw)
		if wasArray {
			pass.MalformedCount++
			g.logger.Warn(
				"Provenance was an array, using first element",
				slog.Int("index", i),
				slog.String("type", raw.Type),
			)
		}
		if err != nil {
			g.logger.Warn("Could not decode provenance", slog.Int("index", i), slog.String("error", err.Error()))
		}
		if g.config.ValidateExtractions {
			if err := ValidateExtraction(extraction); err != nil {
				pass.InvalidCount++
				g.logger.Debug("Dropping invalid extraction", slog.Int("index", i), slog.String("error", err.Error()))
				continue
			}
		}
		extractions = append(extractions, extraction)
	}
	if pass.InvalidCount > 0 {
		g.logger.Warn(
			"Invalid extractions dropped",
			slog.Int("dropped", pass.InvalidCount),
			slog.Int("kept", len(extractions)),
		)
	}

	report := g.dedup.DeduplicateWithReport(extractions)
	pass.Extractions = report.Extractions
	pass.DuplicatesRemoved = len(report.Removed)
	return pass, nil
}

// Summarize runs pass 2 on the extractions and returns the short answer,
// the detailed summary and the tokens used
func (g *Generator) Summarize(ctx context.Context, query *model.StructuredQuery, extractions []model.Extraction) (string, string, int, error) {
	response, err := g.client.Summarize(ctx, SummarySystemPrompt, BuildSummaryPrompt(query, extractions), g.config.SummaryTemperature)
	if err != nil {
		return "", "", 0, helper.NewError("summary pass", err)
	}

	shortAnswer, detailedSummary := ParseSummary(response.Summary)
	if shortAnswer == "" {
		if len(extractions) > 0 {
			return "", "", response.TotalTokens, helper.NewError("summary pass", ErrEmptyResponse)
		}
		shortAnswer = NoInformationSummary
	}
	if detailedSummary == "" {
		detailedSummary = shortAnswer
	}
	return shortAnswer, detailedSummary, response.TotalTokens, nil
}

// Generate runs both passes once
func (g *Generator) Generate(ctx context.Context, query *model.StructuredQuery, candidates []model.RetrievalCandidate, opts ...GenerateOption) (*GenerationResult, error) {
	options := &generateOptions{}
	for _, opt := range opts {
		opt(options)
	}
	start := time.Now()

	pass, err := g.Extract(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	if options.filter != nil {
		pass.Extractions = options.filter(pass.Extractions)
	}
	if options.onExtracted != nil {
		options.onExtracted(pass.Extractions)
	}

	shortAnswer, detailedSummary, summaryTokens, err := g.Summarize(ctx, query, pass.Extractions)
	if err != nil {
		return nil, err
	}

	info := g.client.ModelInfo()
	result := &GenerationResult{
		Answer: &model.GeneratedAnswer{
			ShortAnswer:      shortAnswer,
			DetailedSummary:  detailedSummary,
			Model:            info.Model,
			TokensUsed:       pass.Tokens + summaryTokens,
			ExtractionsCount: len(pass.Extractions),
		},
		Extractions:      pass.Extractions,
		Extraction:       *pass,
		ExtractionTokens: pass.Tokens,
		SummaryTokens:    summaryTokens,
		NoInformation:    len(pass.Extractions) == 0,
		Elapsed:          time.Since(start),
		Attempts:         1,
	}

	g.logger.Debug(
		"Generated answer",
		slog.Int("extractions", len(pass.Extractions)),
		slog.Int("tokens", result.Answer.TokensUsed),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}
