package model

// GeneratedAnswer is the terminal artifact of two-pass generation
type GeneratedAnswer struct {
	ShortAnswer          string   `json:"short_answer"`
	DetailedSummary      string   `json:"detailed_summary"`
	Model                string   `json:"model"`
	TokensUsed           int      `json:"tokens_used"`
	ExtractionsCount     int      `json:"extractions_count"`
	VerificationWarnings []string `json:"verification_warnings,omitempty"`
}

// ProvenanceItem is one source reference shown with an answer
type ProvenanceItem struct {
	ArtifactID     string  `json:"artifact_id"`
	ChunkID        string  `json:"chunk_id,omitempty"`
	Snippet        string  `json:"snippet"`
	OccurredAt     string  `json:"occurred_at,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	CharOffsets    []int   `json:"char_offsets,omitempty"`
	SourceURL      string  `json:"source_url,omitempty"`
}

// ConfidenceBreakdown splits the overall confidence by pipeline concern
type ConfidenceBreakdown struct {
	Retrieval  float64 `json:"retrieval"`
	Reasoning  float64 `json:"reasoning"`
	Extraction float64 `json:"extraction"`
}

// Confidence is the confidence reported with a response
type Confidence struct {
	Overall   float64             `json:"overall"`
	Breakdown ConfidenceBreakdown `json:"breakdown"`
}

// ResponseMetadata describes the work done for a response
type ResponseMetadata struct {
	ProcessingTimeMs  int64       `json:"processing_time_ms"`
	ArtifactsSearched int         `json:"artifacts_searched"`
	ChunksRetrieved   int         `json:"chunks_retrieved"`
	DetailLevel       DetailLevel `json:"detail_level"`
	Model             string      `json:"model,omitempty"`
	TokensUsed        int         `json:"tokens_used,omitempty"`
}

// PartialInfo labels a best-effort response produced after a timeout or failure
type PartialInfo struct {
	CompletedStages      []PipelineStage `json:"completed_stages"`
	FailedStage          PipelineStage   `json:"failed_stage"`
	Reason               string          `json:"reason"`
	Message              string          `json:"message"`
	CompletionPercentage int             `json:"completion_percentage"`
}

// QueryResponse is the object handed back to callers
type QueryResponse struct {
	QueryID               string           `json:"query_id"`
	ShortAnswer           string           `json:"short_answer"`
	DetailedSummary       string           `json:"detailed_summary"`
	StructuredExtractions []Extraction     `json:"structured_extractions"`
	Provenance            []ProvenanceItem `json:"provenance"`
	Confidence            Confidence       `json:"confidence"`
	Metadata              ResponseMetadata `json:"metadata"`
	Warnings              []string         `json:"warnings,omitempty"`
	Partial               *PartialInfo     `json:"partial,omitempty"`
}

// IsPartial reports whether the response is a best-effort fallback
func (r *QueryResponse) IsPartial() bool {
	return r != nil && r.Partial != nil
}

// Weights of the overall confidence blend
const (
	RetrievalConfidenceWeight  = 0.4
	ReasoningConfidenceWeight  = 0.3
	ExtractionConfidenceWeight = 0.3
)

// NewConfidence builds a confidence from its parts; the overall value is
// their weighted blend
func NewConfidence(retrieval float64, reasoning float64, extraction float64) Confidence {
	return Confidence{
		Overall: RetrievalConfidenceWeight*retrieval +
			ReasoningConfidenceWeight*reasoning +
			ExtractionConfidenceWeight*extraction,
		Breakdown: ConfidenceBreakdown{
			Retrieval:  retrieval,
			Reasoning:  reasoning,
			Extraction: extraction,
		},
	}
}

// RetrievalConfidence is the mean score of the first n candidates
func RetrievalConfidence(candidates []RetrievalCandidate, n int) float64 {
	if n > len(candidates) {
		n = len(candidates)
	}
	if n <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candidates[:n] {
		sum += c.Score
	}
	return sum / float64(n)
}

// NewProvenanceItem describes a retrieved candidate as a source reference
func NewProvenanceItem(c RetrievalCandidate) ProvenanceItem {
	item := ProvenanceItem{
		Snippet:        c.Snippet,
		RelevanceScore: c.Score,
	}
	if c.Chunk != nil {
		item.ArtifactID = c.Chunk.ArtifactID
		item.ChunkID = c.Chunk.ID
		item.OccurredAt = c.Chunk.Metadata.Date
		item.SourceURL = c.Chunk.Metadata.SourceURL
		if item.Snippet == "" {
			item.Snippet = c.Chunk.Content
		}
	}
	return item
}
