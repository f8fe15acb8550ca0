package verification

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// IssueCode identifies a citation problem
type IssueCode string

const (
	IssueMissingProvenance  IssueCode = "missing_provenance"
	IssueChunkNotFound      IssueCode = "chunk_not_found"
	IssueArtifactMismatch   IssueCode = "artifact_mismatch"
	IssueInvalidOffsets     IssueCode = "invalid_offsets"
	IssueTextMismatch       IssueCode = "text_mismatch"
	IssueWhitespaceMismatch IssueCode = "whitespace_mismatch"
	IssueCaseMismatch       IssueCode = "case_mismatch"
)

// CitationIssue is a problem with the citation of one extraction
type CitationIssue struct {
	Index   int       `json:"index"`
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
	ChunkID string    `json:"chunk_id,omitempty"`
}

// CitationValidation is the result of validating all citations of a pass 1 output
type CitationValidation struct {
	Valid          bool            `json:"valid"`
	Errors         []CitationIssue `json:"errors"`
	Warnings       []CitationIssue `json:"warnings"`
	ValidatedCount int             `json:"validated_count"`
}

// InvalidIndexes returns the indexes of extractions with at least one error
func (v CitationValidation) InvalidIndexes() map[int]bool {
	invalid := make(map[int]bool, len(v.Errors))
	for _, issue := range v.Errors {
		invalid[issue.Index] = true
	}
	return invalid
}

// FilterValid returns the extractions without citation errors
func (v CitationValidation) FilterValid(extractions []model.Extraction) []model.Extraction {
	invalid := v.InvalidIndexes()
	valid := make([]model.Extraction, 0, len(extractions))
	for i, extraction := range extractions {
		if !invalid[i] {
			valid = append(valid, extraction)
		}
	}
	return valid
}

// TextMatch is the outcome of comparing cited text with its source
type TextMatch struct {
	Valid   bool
	Warning IssueCode
}

// ValidateTextMatch compares the source substring with the supporting text.
// Exact equality is valid. Equality after whitespace normalization or case
// folding is valid with a warning. Anything else is invalid.
func ValidateTextMatch(source string, supporting string) TextMatch {
	if source == supporting {
		return TextMatch{Valid: true}
	}
	collapsedSource := strings.Join(strings.Fields(source), " ")
	collapsedSupporting := strings.Join(strings.Fields(supporting), " ")
	if collapsedSource == collapsedSupporting {
		return TextMatch{Valid: true, Warning: IssueWhitespaceMismatch}
	}
	if strings.EqualFold(collapsedSource, collapsedSupporting) {
		return TextMatch{Valid: true, Warning: IssueCaseMismatch}
	}
	return TextMatch{}
}

// CitationValidator checks that every extraction cites text that really
// exists in the retrieved chunks.
type CitationValidator struct {
	logger *slog.Logger
}

// NewCitationValidator creates a new citation validator
func NewCitationValidator(logger *slog.Logger) *CitationValidator {
	return &CitationValidator{logger: helper.LoggerOrDefault(logger)}
}

// Validate checks the provenance of every extraction against the candidates
// that were retrieved for the query. Invalid extractions are reported, not removed.
func (v *CitationValidator) Validate(extractions []model.Extraction, candidates []model.RetrievalCandidate) CitationValidation {
	chunks := make(map[string]*model.Chunk, len(candidates))
	for _, candidate := range candidates {
		if candidate.Chunk != nil {
			chunks[candidate.Chunk.ID] = candidate.Chunk
		}
	}

	result := CitationValidation{
		Errors:   []CitationIssue{},
		Warnings: []CitationIssue{},
	}
	for i, extraction := range extractions {
		issue, warning := v.validateOne(i, extraction, chunks)
		if issue != nil {
			result.Errors = append(result.Errors, *issue)
			continue
		}
		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
		result.ValidatedCount++
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		v.logger.Warn(
			"Citation validation failed",
			slog.Int("errors", len(result.Errors)),
			slog.Int("validated", result.ValidatedCount),
		)
	}
	return result
}

func (v *CitationValidator) validateOne(index int, extraction model.Extraction, chunks map[string]*model.Chunk) (*CitationIssue, *CitationIssue) {
	p := extraction.Provenance
	if p == nil {
		return &CitationIssue{Index: index, Code: IssueMissingProvenance, Message: "extraction has no provenance"}, nil
	}

	chunk, ok := chunks[p.ChunkID]
	if !ok {
		return &CitationIssue{
			Index:   index,
			Code:    IssueChunkNotFound,
			Message: fmt.Sprintf("chunk %q is not among the retrieved candidates", p.ChunkID),
			ChunkID: p.ChunkID,
		}, nil
	}
	if chunk.ArtifactID != p.ArtifactID {
		return &CitationIssue{
			Index:   index,
			Code:    IssueArtifactMismatch,
			Message: fmt.Sprintf("chunk belongs to artifact %q, citation names %q", chunk.ArtifactID, p.ArtifactID),
			ChunkID: p.ChunkID,
		}, nil
	}

	content := []rune(chunk.Content)
	if len(p.CharOffsets) != 2 || p.CharOffsets[0] < 0 || p.CharOffsets[0] >= p.CharOffsets[1] || p.CharOffsets[1] > len(content) {
		return &CitationIssue{
			Index:   index,
			Code:    IssueInvalidOffsets,
			Message: fmt.Sprintf("offsets %v are not within content of %d characters", p.CharOffsets, len(content)),
			ChunkID: p.ChunkID,
		}, nil
	}

	source := string(content[p.CharOffsets[0]:p.CharOffsets[1]])
	match := ValidateTextMatch(source, p.SupportingText)
	if !match.Valid {
		return &CitationIssue{
			Index:   index,
			Code:    IssueTextMismatch,
			Message: fmt.Sprintf("supporting text %q does not match source %q", p.SupportingText, source),
			ChunkID: p.ChunkID,
		}, nil
	}
	if match.Warning != "" {
		return nil, &CitationIssue{
			Index:   index,
			Code:    match.Warning,
			Message: "supporting text matches source only after normalization",
			ChunkID: p.ChunkID,
		}
	}
	return nil, nil
}
