package model

import "sort"

// VectorMatch is a single hit returned by the vector-search collaborator
type VectorMatch struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Highlight marks an occurrence of a query term inside the chunk content (byte offsets)
type Highlight struct {
	Term  string `json:"term"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ScoreBreakdown holds the sub-scores the retrieval scorer combined
type ScoreBreakdown struct {
	Semantic       float64 `json:"semantic"`
	Keyword        float64 `json:"keyword"`
	Recency        float64 `json:"recency"`
	TypePreference float64 `json:"type_preference"`
	TieBreaker     float64 `json:"tie_breaker"`
	Combined       float64 `json:"combined"`
}

// RerankInfo records the re-ranker signals and the score before re-ranking
type RerankInfo struct {
	OriginalScore  float64 `json:"original_score"`
	EntityCoverage float64 `json:"entity_coverage"`
	TermOverlap    float64 `json:"term_overlap"`
	TypeMatch      float64 `json:"type_match"`
}

// TimeDecayInfo records how much recency decay changed a score
type TimeDecayInfo struct {
	OriginalScore   float64 `json:"original_score"`
	TimeDecayFactor float64 `json:"time_decay_factor"`
	DaysAgo         int     `json:"days_ago"`
	DateKnown       bool    `json:"date_known"`
}

// DiversityInfo records the same-artifact penalty applied to a score
type DiversityInfo struct {
	OriginalScore  float64 `json:"original_score"`
	SourcePosition int     `json:"source_position"`
	PenaltyFactor  float64 `json:"penalty_factor"`
}

// RetrievalCandidate is a chunk scored for one query.
// Rank is 1-based; zero means the candidate has not been ranked.
type RetrievalCandidate struct {
	Chunk      *Chunk          `json:"chunk"`
	Score      float64         `json:"score"`
	Snippet    string          `json:"snippet"`
	Highlights []Highlight     `json:"highlights,omitempty"`
	Metadata   ChunkMetadata   `json:"metadata"`
	Rank       int             `json:"rank,omitempty"`
	Breakdown  *ScoreBreakdown `json:"breakdown,omitempty"`
	Rerank     *RerankInfo     `json:"rerank,omitempty"`
	TimeDecay  *TimeDecayInfo  `json:"time_decay,omitempty"`
	Diversity  *DiversityInfo  `json:"diversity,omitempty"`
}

// ChunkID returns the id of the candidate chunk
func (c RetrievalCandidate) ChunkID() string {
	if c.Chunk == nil {
		return ""
	}
	return c.Chunk.ID
}

// ArtifactID returns the artifact id of the candidate chunk
func (c RetrievalCandidate) ArtifactID() string {
	if c.Chunk == nil {
		return ""
	}
	return c.Chunk.ArtifactID
}

// RetrievalDiagnostics describes how a retrieval was produced
type RetrievalDiagnostics struct {
	RetrievalID        string `json:"retrieval_id"`
	CacheHit           bool   `json:"cache_hit"`
	FilterMs           int64  `json:"filter_ms"`
	SearchMs           int64  `json:"search_ms"`
	ScoringMs          int64  `json:"scoring_ms"`
	EnrichmentMs       int64  `json:"enrichment_ms"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	SearchHits         int    `json:"search_hits"`
	ProvisionalCount   int    `json:"provisional_count"`
}

// RetrievalResult is the output of the retriever agent
type RetrievalResult struct {
	Candidates      []RetrievalCandidate `json:"candidates"`
	TotalSearched   int                  `json:"total_searched"`
	FilteredCount   int                  `json:"filtered_count"`
	RetrievalTimeMs int64                `json:"retrieval_time_ms"`
	Diagnostics     RetrievalDiagnostics `json:"diagnostics"`
}

// CloneCandidates returns a shallow copy of candidates so a stage can reorder
// and rescore without touching its input
func CloneCandidates(candidates []RetrievalCandidate) []RetrievalCandidate {
	out := make([]RetrievalCandidate, len(candidates))
	copy(out, candidates)
	return out
}

// AssignRanks sets 1-based ranks in slice order
func AssignRanks(candidates []RetrievalCandidate) {
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
}

// SortByScore sorts candidates by descending score, keeping the input order for equal scores
func SortByScore(candidates []RetrievalCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}
