package scoring

import (
	"log/slog"
	"math"
	"time"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// weightTolerance is how far a weight set may drift from 1.0 before a warning is logged
const weightTolerance = 0.01

// tieBreakerScale bounds the deterministic jitter added to combined scores
const tieBreakerScale = 0.001

// Scorer combines semantic, keyword, recency and type preference signals
// into a single retrieval score. It holds no per-query state.
type Scorer struct {
	config      model.ScoringConfig
	preferences *model.TypePreferenceTable
	now         func() time.Time
	logger      *slog.Logger
}

// NewScorer creates a new scorer. A nil preference table uses the defaults.
func NewScorer(config model.ScoringConfig, preferences *model.TypePreferenceTable, logger *slog.Logger) *Scorer {
	if preferences == nil {
		preferences = model.DefaultTypePreferences()
	}
	s := &Scorer{
		config:      config,
		preferences: preferences,
		now:         time.Now,
		logger:      helper.LoggerOrDefault(logger),
	}
	s.checkWeights(config.Weights)
	return s
}

// WithClock replaces the clock used for recency
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Weights returns the default weight set of the scorer
func (s *Scorer) Weights() model.ScoringWeights {
	return s.config.Weights
}

// SemanticScore clamps an externally computed similarity to [0, 1]
func (s *Scorer) SemanticScore(similarity float64) float64 {
	return helper.Clamp(similarity, 0, 1)
}

// KeywordScore is a simplified BM25 of the query terms against content,
// using an idf of 1 and a constant average document length.
func (s *Scorer) KeywordScore(content string, query string) float64 {
	docTokens := helper.Tokenize(content)
	if len(docTokens) == 0 {
		return 0
	}
	terms := helper.QueryTerms(query, 1)
	if len(terms) == 0 {
		return 0
	}

	frequencies := make(map[string]int, len(docTokens))
	for _, token := range docTokens {
		frequencies[token]++
	}

	k1 := s.config.BM25K1
	b := s.config.BM25B
	lengthRatio := float64(len(docTokens)) / s.config.AverageDocLength

	score := 0.0
	for _, term := range terms {
		tf := float64(frequencies[term])
		if tf == 0 {
			continue
		}
		score += (tf * (k1 + 1)) / (tf + k1*(1-b+b*lengthRatio))
	}

	return helper.Clamp(score/s.config.KeywordNormalizer, 0, 1)
}

// RecencyScore is exp(-rate * days) since the chunk date, or the neutral
// unknown date score when the date cannot be parsed.
func (s *Scorer) RecencyScore(chunk *model.Chunk) float64 {
	days, ok := chunk.DaysSince(s.now())
	if !ok {
		return s.config.UnknownDateScore
	}
	return helper.Clamp(math.Exp(-s.config.RecencyDecayRate*float64(days)), 0, 1)
}

// TypePreferenceScore looks up how well the artifact type suits the intent
func (s *Scorer) TypePreferenceScore(intent model.Intent, artifactType model.ArtifactType) float64 {
	return helper.Clamp(s.preferences.Preference(intent, artifactType), 0, 1)
}

// ScoreWithBreakdown scores a chunk with the default weights and returns every sub-score
func (s *Scorer) ScoreWithBreakdown(chunk *model.Chunk, query *model.StructuredQuery, similarity float64) model.ScoreBreakdown {
	breakdown := model.ScoreBreakdown{
		Semantic:       s.SemanticScore(similarity),
		Keyword:        s.KeywordScore(chunk.Content, query.OriginalQuery),
		Recency:        s.RecencyScore(chunk),
		TypePreference: s.TypePreferenceScore(query.Intent, chunk.Metadata.ArtifactType),
	}
	return combine(breakdown, s.config.Weights)
}

// Score returns the combined score of a chunk
func (s *Scorer) Score(chunk *model.Chunk, query *model.StructuredQuery, similarity float64) float64 {
	return s.ScoreWithBreakdown(chunk, query, similarity).Combined
}

// ScoreInput is a chunk together with its semantic similarity
type ScoreInput struct {
	Chunk    *model.Chunk
	Semantic float64
}

// ScoreBatch scores all inputs and returns candidates sorted by descending score.
// Ranks are not assigned.
func (s *Scorer) ScoreBatch(inputs []ScoreInput, query *model.StructuredQuery) []model.RetrievalCandidate {
	candidates := make([]model.RetrievalCandidate, 0, len(inputs))
	for _, input := range inputs {
		if input.Chunk == nil {
			continue
		}
		breakdown := s.ScoreWithBreakdown(input.Chunk, query, input.Semantic)
		candidates = append(candidates, model.RetrievalCandidate{
			Chunk:     input.Chunk,
			Score:     breakdown.Combined,
			Metadata:  input.Chunk.Metadata,
			Breakdown: &breakdown,
		})
	}
	model.SortByScore(candidates)
	return candidates
}

// Rescore recombines the candidates with a custom weight set and re-sorts them.
// Candidates without a breakdown are scored from scratch, treating their current
// score as the semantic similarity.
func (s *Scorer) Rescore(candidates []model.RetrievalCandidate, query *model.StructuredQuery, weights model.ScoringWeights) []model.RetrievalCandidate {
	s.checkWeights(weights)

	out := model.CloneCandidates(candidates)
	for i := range out {
		var breakdown model.ScoreBreakdown
		if out[i].Breakdown != nil {
			breakdown = *out[i].Breakdown
		} else if out[i].Chunk != nil {
			breakdown = s.ScoreWithBreakdown(out[i].Chunk, query, out[i].Score)
		} else {
			continue
		}
		breakdown = combine(breakdown, weights)
		out[i].Breakdown = &breakdown
		out[i].Score = breakdown.Combined
	}
	model.SortByScore(out)
	model.AssignRanks(out)
	return out
}

func (s *Scorer) checkWeights(weights model.ScoringWeights) {
	sum := weights.Sum()
	if math.Abs(sum-1) > weightTolerance {
		s.logger.Warn("Scoring weights do not sum to 1.0", slog.Float64("sum", sum))
	}
}

// combine applies weights and the tie-breaker to the sub-scores
func combine(b model.ScoreBreakdown, w model.ScoringWeights) model.ScoreBreakdown {
	weighted := w.Semantic*b.Semantic + w.Keyword*b.Keyword + w.Recency*b.Recency + w.TypePreference*b.TypePreference
	b.TieBreaker = TieBreaker(b)
	b.Combined = helper.Clamp(weighted+b.TieBreaker, 0, 1)
	return b
}

// TieBreaker derives a jitter in [-0.001, 0.001] from the sub-scores.
// Equal inputs always give the same value.
func TieBreaker(b model.ScoreBreakdown) float64 {
	x := b.Semantic*12.9898 + b.Keyword*78.233
	y := b.Recency*37.719 + b.TypePreference*4.581
	return tieBreakerScale * math.Sin(x) * math.Cos(y)
}
