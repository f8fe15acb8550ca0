package partial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// Reasons a response can be partial
const (
	ReasonTimeout = "timeout"
	ReasonError   = "error"
)

// DefaultMaxExcerpts is the number of candidate excerpts shown in a partial response
const DefaultMaxExcerpts = 5

// stageMessages holds the user-facing message per highest completed stage.
// The verb is filled with the reason phrase.
var stageMessages = map[model.PipelineStage]string{
	"":                            "I could not process your question %s. Please try again.",
	model.StageQueryUnderstanding: "I understood your question but could not search the records %s. Please try again.",
	model.StageRetrieval:          "I found relevant records but could not finish generating a full answer %s. Here are the most relevant excerpts.",
	model.StageExtraction:         "I extracted information from the records but could not finish writing a summary %s. Here are the extracted facts.",
	model.StageGeneration:         "I generated an answer but could not finish checking it %s. Please review the cited sources.",
}

// CompletionPercentage is 25 percent per completed stage
func CompletionPercentage(completed []model.PipelineStage) int {
	return 100 * len(completed) / len(model.PipelineStages)
}

// HasPartialResults reports whether any stage produced output
func HasPartialResults(pctx *model.PipelineContext) bool {
	return pctx != nil && len(pctx.CompletedStages()) > 0
}

// HighestCompletedStage returns the last completed stage, or false if none completed
func HighestCompletedStage(completed []model.PipelineStage) (model.PipelineStage, bool) {
	if len(completed) == 0 {
		return "", false
	}
	return completed[len(completed)-1], true
}

// FailedStage returns the stage after the highest completed one. When every
// stage completed the failure happened while finishing the last stage.
func FailedStage(completed []model.PipelineStage) model.PipelineStage {
	highest, ok := HighestCompletedStage(completed)
	if !ok {
		return model.PipelineStages[0]
	}
	if next, ok := model.NextStage(highest); ok {
		return next
	}
	return highest
}

// ReasonFor classifies the error that interrupted the pipeline
func ReasonFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonError
}

// Message returns the user-facing message for the highest completed stage
func Message(highest model.PipelineStage, reason string) string {
	phrase := "because of an error"
	if reason == ReasonTimeout {
		phrase = "in time"
	}
	template, ok := stageMessages[highest]
	if !ok {
		template = stageMessages[""]
	}
	return fmt.Sprintf(template, phrase)
}

// Handler assembles best-effort responses from whatever the pipeline
// completed before a timeout or failure
type Handler struct {
	maxExcerpts int
	logger      *slog.Logger
}

// NewHandler creates a new partial results handler
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		maxExcerpts: DefaultMaxExcerpts,
		logger:      helper.LoggerOrDefault(logger),
	}
}

// Build turns the recorded stage data into a clearly labeled partial response.
// Retrieved candidates become the provenance list, extracted facts are
// returned as structured extractions and a generated answer is passed through.
func (h *Handler) Build(pctx *model.PipelineContext, cause error) *model.QueryResponse {
	data := pctx.Snapshot()
	completed := data.CompletedStages()
	highest, _ := HighestCompletedStage(completed)
	reason := ReasonFor(cause)
	message := Message(highest, reason)

	response := &model.QueryResponse{
		StructuredExtractions: []model.Extraction{},
		Provenance:            []model.ProvenanceItem{},
		Metadata: model.ResponseMetadata{
			ProcessingTimeMs: pctx.Elapsed().Milliseconds(),
			DetailLevel:      model.DetailLevelStandard,
		},
		Partial: &model.PartialInfo{
			CompletedStages:      completed,
			FailedStage:          FailedStage(completed),
			Reason:               reason,
			Message:              message,
			CompletionPercentage: CompletionPercentage(completed),
		},
	}
	if response.Partial.CompletedStages == nil {
		response.Partial.CompletedStages = []model.PipelineStage{}
	}
	if q := data.StructuredQuery; q != nil {
		response.QueryID = q.QueryID
		if q.DetailLevel != "" {
			response.Metadata.DetailLevel = q.DetailLevel
		}
	}

	retrievalConfidence := 0.0
	if r := data.Retrieval; r != nil {
		excerpts := r.Candidates
		if len(excerpts) > h.maxExcerpts {
			excerpts = excerpts[:h.maxExcerpts]
		}
		for _, candidate := range excerpts {
			response.Provenance = append(response.Provenance, model.NewProvenanceItem(candidate))
		}
		response.Metadata.ArtifactsSearched = r.TotalSearched
		response.Metadata.ChunksRetrieved = len(r.Candidates)
		retrievalConfidence = model.RetrievalConfidence(r.Candidates, 3)
	}
	if data.ExtractionsDone {
		response.StructuredExtractions = append(response.StructuredExtractions, data.Extractions...)
	}

	switch {
	case data.Answer != nil:
		response.ShortAnswer = data.Answer.ShortAnswer
		response.DetailedSummary = data.Answer.DetailedSummary
		response.Metadata.Model = data.Answer.Model
		response.Metadata.TokensUsed = data.Answer.TokensUsed
	case data.ExtractionsDone && len(data.Extractions) > 0:
		response.ShortAnswer = message
		response.DetailedSummary = describeExtractions(data.Extractions)
	case len(response.Provenance) > 0:
		response.ShortAnswer = message
		response.DetailedSummary = describeExcerpts(response.Provenance)
	default:
		response.ShortAnswer = message
	}

	// Partial answers are never fully trusted
	response.Confidence = model.NewConfidence(retrievalConfidence, 0, 0)
	response.Warnings = []string{fmt.Sprintf("partial response: %s during %s", reason, response.Partial.FailedStage)}

	h.logger.Warn(
		"Returning partial response",
		slog.String("reason", reason),
		slog.String("failed_stage", string(response.Partial.FailedStage)),
		slog.Int("completion", response.Partial.CompletionPercentage),
		slog.Any("cause", cause),
	)
	return response
}

func describeExcerpts(items []model.ProvenanceItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		prefix := "- "
		if item.OccurredAt != "" {
			prefix += "(" + item.OccurredAt + ") "
		}
		lines = append(lines, prefix+strings.TrimSpace(item.Snippet))
	}
	return strings.Join(lines, "\n")
}

func describeExtractions(extractions []model.Extraction) string {
	lines := make([]string, 0, len(extractions))
	for _, extraction := range extractions {
		label := extraction.ContentString("name", "medication", "drug", "condition", "procedure", "test", "allergen", "vaccine", "value")
		if label == "" {
			label = "unnamed"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", extraction.Type, label))
	}
	return strings.Join(lines, "\n")
}
