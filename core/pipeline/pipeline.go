package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/medrag/core/generation"
	"github.com/siherrmann/medrag/core/partial"
	"github.com/siherrmann/medrag/core/ranking"
	"github.com/siherrmann/medrag/core/retrieval"
	"github.com/siherrmann/medrag/core/verification"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer the pipeline creates its spans with
const TracerName = "github.com/siherrmann/medrag/core/pipeline"

// Pipeline answers structured queries within a wall-clock budget. It
// retrieves and ranks candidates, generates a two-pass answer and verifies
// its citations and counts. When the budget runs out or a collaborator
// fails, the stages completed so far are turned into a partial response.
type Pipeline struct {
	config      model.Config
	retriever   Retriever
	generator   AnswerGenerator
	reranker    *ranking.Reranker
	decay       *ranking.TimeDecay
	diversifier *ranking.Diversifier
	citations   *verification.CitationValidator
	counts      *verification.CountVerifier
	partial     *partial.Handler
	metrics     *Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewPipeline creates a new query pipeline. metrics may be nil.
func NewPipeline(config model.Config, retriever Retriever, generator AnswerGenerator, preferences *model.TypePreferenceTable, metrics *Metrics, logger *slog.Logger) (*Pipeline, error) {
	if retriever == nil {
		return nil, helper.NewError("new pipeline", fmt.Errorf("retriever is nil"))
	}
	if generator == nil {
		return nil, helper.NewError("new pipeline", generation.ErrNoLLMClient)
	}
	logger = helper.LoggerOrDefault(logger)

	reranker, err := ranking.NewReranker(config.Rerank.Weights, preferences, logger)
	if err != nil {
		return nil, helper.NewError("new pipeline", err)
	}

	return &Pipeline{
		config:      config,
		retriever:   retriever,
		generator:   generator,
		reranker:    reranker,
		decay:       ranking.NewTimeDecay(config.TimeDecay.DecayRate),
		diversifier: ranking.NewDiversifier(config.Diversity.PenaltyBase, logger),
		citations:   verification.NewCitationValidator(logger),
		counts:      verification.NewCountVerifier(config.Verification, logger),
		partial:     partial.NewHandler(logger),
		metrics:     metrics,
		tracer:      otel.Tracer(TracerName),
		logger:      logger,
	}, nil
}

// WithClock replaces the clock of the time decay pass
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.decay.WithClock(now)
	return p
}

type outcome struct {
	response *model.QueryResponse
	err      error
}

// Run answers query. Upstream failures and timeouts never surface as errors:
// they produce a response labeled as partial. An error is only returned for
// an invalid query.
func (p *Pipeline) Run(ctx context.Context, query *model.StructuredQuery) (*model.QueryResponse, error) {
	if err := query.Validate(); err != nil {
		return nil, helper.NewError("run", fmt.Errorf("%w: %v", retrieval.ErrInvalidQuery, err))
	}
	if query.QueryID == "" {
		copied := *query
		copied.QueryID = uuid.NewString()
		query = &copied
	}

	ctx, span := p.tracer.Start(ctx, "medrag.query", trace.WithAttributes(
		attribute.String("medrag.query_id", query.QueryID),
		attribute.String("medrag.intent", string(query.Intent)),
	))
	defer span.End()

	pctx := model.NewPipelineContext(p.config.Pipeline.Timeout)
	runCtx, cancel := context.WithTimeout(ctx, p.config.Pipeline.Timeout)
	defer cancel()

	// The query arrives already understood.
	pctx.RecordStructuredQuery(query)

	done := make(chan outcome, 1)
	go func() {
		response, err := p.execute(runCtx, pctx, query)
		done <- outcome{response: response, err: err}
	}()

	var result outcome
	select {
	case result = <-done:
	case <-runCtx.Done():
		result = outcome{err: runCtx.Err()}
	}

	if result.err != nil {
		pctx.Abandon()
		response := p.partial.Build(pctx, result.err)
		span.RecordError(result.err)
		span.SetStatus(codes.Error, response.Partial.Reason)
		span.SetAttributes(
			attribute.Bool("medrag.partial", true),
			attribute.String("medrag.failed_stage", string(response.Partial.FailedStage)),
		)
		p.metrics.recordPartial(response.Partial)
		return response, nil
	}

	span.SetAttributes(attribute.Bool("medrag.partial", false))
	return result.response, nil
}

// execute runs the stages in order. It stops before starting a stage once
// ctx is done.
func (p *Pipeline) execute(ctx context.Context, pctx *model.PipelineContext, query *model.StructuredQuery) (*model.QueryResponse, error) {
	run := &queryRun{query: query, pctx: pctx}

	// Retrieval and ranking
	pctx.Enter(model.StageRetrieval)
	ranked, err := p.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	run.retrieval = ranked
	pctx.RecordRetrieval(ranked)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Two-pass generation, citations are checked between the passes
	pctx.Enter(model.StageExtraction)
	result, err := p.generate(ctx, run)
	if err != nil {
		return nil, err
	}
	run.generation = result

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Count verification
	_, span := p.tracer.Start(ctx, "medrag.verification")
	start := time.Now()
	run.counts = p.counts.VerifyAnswer(result.Answer, result.Extractions)
	run.answer = run.counts.Apply(result.Answer)
	span.SetAttributes(
		attribute.Bool("medrag.counts_passed", run.counts.Passed),
		attribute.Bool("medrag.counts_corrected", run.corrected()),
	)
	span.End()
	p.metrics.observeStage("verification", start)

	if !pctx.RecordAnswer(run.answer) {
		// The budget ran out while verifying, the partial handler answers instead.
		return nil, context.DeadlineExceeded
	}

	p.metrics.recordComplete(result.Attempts, run.corrected(), run.suppressed)
	p.logger.Info(
		"Query answered",
		slog.String("query_id", query.QueryID),
		slog.Int("candidates", len(ranked.Candidates)),
		slog.Int("extractions", len(result.Extractions)),
		slog.Int("suppressed", run.suppressed),
		slog.Bool("corrected", run.corrected()),
		slog.Duration("elapsed", pctx.Elapsed()),
	)
	return run.response(), nil
}

// retrieve runs the retriever and the enabled ranking passes. The returned
// result is a copy holding the final candidate order.
func (p *Pipeline) retrieve(ctx context.Context, query *model.StructuredQuery) (*model.RetrievalResult, error) {
	ctx, span := p.tracer.Start(ctx, "medrag.retrieval")
	defer span.End()

	start := time.Now()
	result, err := p.retriever.Retrieve(ctx, query, p.config.Retrieval.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, helper.NewError("retrieve", err)
	}
	p.metrics.observeStage("retrieval", start)
	span.SetAttributes(
		attribute.Int("medrag.candidates", len(result.Candidates)),
		attribute.Bool("medrag.cache_hit", result.Diagnostics.CacheHit),
	)

	start = time.Now()
	ranked := *result
	ranked.Candidates = p.rank(ctx, query, result.Candidates)
	p.metrics.observeStage("ranking", start)
	return &ranked, nil
}

func (p *Pipeline) rank(ctx context.Context, query *model.StructuredQuery, candidates []model.RetrievalCandidate) []model.RetrievalCandidate {
	_, span := p.tracer.Start(ctx, "medrag.ranking")
	defer span.End()

	ranked := candidates
	if p.config.Rerank.Enabled {
		ranked = p.reranker.Rerank(ranked, query, p.config.Rerank.TopK)
	}
	if p.config.TimeDecay.Enabled {
		ranked = p.decay.Apply(ranked)
	}
	if p.config.Diversity.Enabled {
		ranked = p.diversifier.Diversify(ranked)
		ranked = p.diversifier.EnsureMinimumDiversity(ranked, p.config.Diversity.TopK, p.config.Diversity.MinSources)
	}
	span.SetAttributes(
		attribute.Bool("medrag.rerank", p.config.Rerank.Enabled),
		attribute.Bool("medrag.time_decay", p.config.TimeDecay.Enabled),
		attribute.Bool("medrag.diversity", p.config.Diversity.Enabled),
	)
	return ranked
}

// generate runs the generator with citation validation between the passes.
// The validated extractions are recorded as soon as pass 1 finished.
func (p *Pipeline) generate(ctx context.Context, run *queryRun) (*generation.GenerationResult, error) {
	ctx, span := p.tracer.Start(ctx, "medrag.generation")
	defer span.End()

	start := time.Now()
	candidates := run.retrieval.Candidates
	result, err := p.generator.GenerateWithRetry(ctx, run.query, candidates,
		generation.FilterExtractions(func(extractions []model.Extraction) []model.Extraction {
			return p.checkCitations(run, extractions, candidates)
		}),
		generation.OnExtracted(func(extractions []model.Extraction) {
			run.pctx.RecordExtractions(extractions)
			run.pctx.Enter(model.StageGeneration)
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, helper.NewError("generate", err)
	}
	p.metrics.observeStage("generation", start)

	span.SetAttributes(
		attribute.Int("medrag.attempts", result.Attempts),
		attribute.Int("medrag.extractions", len(result.Extractions)),
		attribute.Int("medrag.tokens", result.Answer.TokensUsed),
	)
	return result, nil
}

// checkCitations validates the citations of the pass 1 output and drops the
// invalid ones when suppression is configured
func (p *Pipeline) checkCitations(run *queryRun, extractions []model.Extraction, candidates []model.RetrievalCandidate) []model.Extraction {
	run.citations = p.citations.Validate(extractions, candidates)
	run.cited = len(extractions)
	run.suppressed = 0
	if run.citations.Valid || !p.config.Verification.SuppressInvalidCitations {
		return extractions
	}

	valid := run.citations.FilterValid(extractions)
	run.suppressed = len(extractions) - len(valid)
	p.logger.Warn(
		"Suppressed extractions with invalid citations",
		slog.String("query_id", run.query.QueryID),
		slog.Int("suppressed", run.suppressed),
	)
	return valid
}
