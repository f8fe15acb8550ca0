package pipeline

import (
	"fmt"

	"github.com/siherrmann/medrag/core/generation"
	"github.com/siherrmann/medrag/core/verification"
	"github.com/siherrmann/medrag/model"
)

const (
	// RetrievalConfidenceCandidates is the number of top candidates whose mean score is the retrieval confidence
	RetrievalConfidenceCandidates = 3

	// CorrectedReasoningFactor scales the reasoning confidence of answers whose counts were corrected
	CorrectedReasoningFactor = 0.7
)

// queryRun collects the outputs of one complete pipeline run
type queryRun struct {
	query      *model.StructuredQuery
	pctx       *model.PipelineContext
	retrieval  *model.RetrievalResult
	generation *generation.GenerationResult
	citations  verification.CitationValidation
	cited      int
	suppressed int
	counts     verification.AnswerVerification
	answer     *model.GeneratedAnswer
}

// corrected reports whether count verification rewrote part of the answer
func (r *queryRun) corrected() bool {
	return r.counts.Short.Corrected || r.counts.Detailed.Corrected
}

func (r *queryRun) response() *model.QueryResponse {
	extractions := r.generation.Extractions
	if extractions == nil {
		extractions = []model.Extraction{}
	}

	return &model.QueryResponse{
		QueryID:               r.query.QueryID,
		ShortAnswer:           r.answer.ShortAnswer,
		DetailedSummary:       r.answer.DetailedSummary,
		StructuredExtractions: extractions,
		Provenance:            ProvenanceFromExtractions(extractions, r.retrieval.Candidates),
		Confidence: model.NewConfidence(
			model.RetrievalConfidence(r.retrieval.Candidates, RetrievalConfidenceCandidates),
			ReasoningConfidence(r.citations.ValidatedCount, r.cited, r.corrected()),
			ExtractionConfidence(extractions),
		),
		Metadata: model.ResponseMetadata{
			ProcessingTimeMs:  r.pctx.Elapsed().Milliseconds(),
			ArtifactsSearched: r.retrieval.TotalSearched,
			ChunksRetrieved:   len(r.retrieval.Candidates),
			DetailLevel:       detailLevel(r.query),
			Model:             r.answer.Model,
			TokensUsed:        r.answer.TokensUsed,
		},
		Warnings: r.warnings(),
	}
}

func (r *queryRun) warnings() []string {
	var warnings []string
	warnings = append(warnings, r.answer.VerificationWarnings...)
	for _, issue := range r.citations.Warnings {
		warnings = append(warnings, fmt.Sprintf("citation %d: %s", issue.Index, issue.Message))
	}
	if r.suppressed > 0 {
		warnings = append(warnings, fmt.Sprintf("%d extracted facts were removed because their citations could not be verified", r.suppressed))
	} else {
		for _, issue := range r.citations.Errors {
			warnings = append(warnings, fmt.Sprintf("citation %d is invalid: %s", issue.Index, issue.Message))
		}
	}
	return warnings
}

// ExtractionConfidence is the mean provenance confidence of the extractions
func ExtractionConfidence(extractions []model.Extraction) float64 {
	if len(extractions) == 0 {
		return 0
	}
	sum := 0.0
	for _, extraction := range extractions {
		sum += extraction.Confidence()
	}
	return sum / float64(len(extractions))
}

// ReasoningConfidence is the share of validated citations, scaled down when
// the answer needed count corrections. Without citations it is zero.
func ReasoningConfidence(validated int, total int, corrected bool) float64 {
	if total <= 0 {
		return 0
	}
	confidence := float64(validated) / float64(total)
	if corrected {
		confidence *= CorrectedReasoningFactor
	}
	return confidence
}

// ProvenanceFromExtractions lists the sources cited by the extractions, once
// per cited span, in extraction order
func ProvenanceFromExtractions(extractions []model.Extraction, candidates []model.RetrievalCandidate) []model.ProvenanceItem {
	byChunk := make(map[string]model.RetrievalCandidate, len(candidates))
	for _, candidate := range candidates {
		byChunk[candidate.ChunkID()] = candidate
	}

	items := []model.ProvenanceItem{}
	seen := map[string]bool{}
	for _, extraction := range extractions {
		p := extraction.Provenance
		if p == nil {
			continue
		}
		key := fmt.Sprintf("%s:%v", p.ChunkID, p.CharOffsets)
		if seen[key] {
			continue
		}
		seen[key] = true

		item := model.ProvenanceItem{
			ArtifactID:  p.ArtifactID,
			ChunkID:     p.ChunkID,
			Snippet:     p.SupportingText,
			CharOffsets: append([]int(nil), p.CharOffsets...),
		}
		if candidate, ok := byChunk[p.ChunkID]; ok {
			item.RelevanceScore = candidate.Score
			if candidate.Chunk != nil {
				item.OccurredAt = candidate.Chunk.Metadata.Date
				item.SourceURL = candidate.Chunk.Metadata.SourceURL
			}
		}
		items = append(items, item)
	}
	return items
}

func detailLevel(query *model.StructuredQuery) model.DetailLevel {
	if query.DetailLevel == "" {
		return model.DetailLevelStandard
	}
	return query.DetailLevel
}
