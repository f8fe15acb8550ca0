package ranking

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// ErrInvalidWeights is returned for weight sets that are negative or do not sum to 1.0
var ErrInvalidWeights = errors.New("invalid weights")

// Reranker re-scores retrieved candidates with entity coverage, query term
// overlap and an intent based type match bonus.
type Reranker struct {
	weights     model.RerankWeights
	preferences *model.TypePreferenceTable
	logger      *slog.Logger
}

// NewReranker creates a new re-ranker. A nil preference table uses the defaults.
func NewReranker(weights model.RerankWeights, preferences *model.TypePreferenceTable, logger *slog.Logger) (*Reranker, error) {
	if err := ValidateRerankWeights(weights); err != nil {
		return nil, err
	}
	if preferences == nil {
		preferences = model.DefaultTypePreferences()
	}
	return &Reranker{
		weights:     weights,
		preferences: preferences,
		logger:      helper.LoggerOrDefault(logger),
	}, nil
}

// ValidateRerankWeights checks that no weight is negative and that they sum to 1.0
func ValidateRerankWeights(w model.RerankWeights) error {
	if w.Original < 0 || w.EntityCoverage < 0 || w.TermOverlap < 0 || w.TypeMatch < 0 {
		return helper.NewError("validate weights", fmt.Errorf("%w: negative weight", ErrInvalidWeights))
	}
	if sum := w.Sum(); math.Abs(sum-1) > 0.001 {
		return helper.NewError("validate weights", fmt.Errorf("%w: weights sum to %.3f", ErrInvalidWeights, sum))
	}
	return nil
}

// EntityCoverage is the fraction of query entities whose normalized text occurs in the chunk.
// Queries without entities get a neutral 0.5.
func (r *Reranker) EntityCoverage(chunk *model.Chunk, query *model.StructuredQuery) float64 {
	var entities []string
	for _, entity := range query.Entities {
		text := entity.Normalized
		if text == "" {
			text = entity.Text
		}
		if text = helper.NormalizeText(text); text != "" {
			entities = append(entities, text)
		}
	}
	if len(entities) == 0 {
		return 0.5
	}

	content := helper.NormalizeText(chunk.Content)
	found := 0
	for _, entity := range entities {
		if strings.Contains(content, entity) {
			found++
		}
	}
	return float64(found) / float64(len(entities))
}

// TermOverlap is the fraction of query terms that occur as tokens of the chunk
func (r *Reranker) TermOverlap(chunk *model.Chunk, query *model.StructuredQuery) float64 {
	terms := helper.QueryTerms(query.OriginalQuery, 3)
	if len(terms) == 0 {
		return 0
	}
	tokens := make(map[string]struct{})
	for _, token := range helper.Tokenize(chunk.Content) {
		tokens[token] = struct{}{}
	}
	found := 0
	for _, term := range terms {
		if _, ok := tokens[term]; ok {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

// TypeMatch returns the intent preference for the chunk's artifact type
func (r *Reranker) TypeMatch(chunk *model.Chunk, query *model.StructuredQuery) float64 {
	return r.preferences.Preference(query.Intent, chunk.Metadata.ArtifactType)
}

// Rerank re-scores the topK best candidates and re-orders them. The remaining
// candidates are appended unchanged and unranked. A topK of zero or less
// re-ranks every candidate.
func (r *Reranker) Rerank(candidates []model.RetrievalCandidate, query *model.StructuredQuery, topK int) []model.RetrievalCandidate {
	out := model.CloneCandidates(candidates)
	model.SortByScore(out)
	if topK <= 0 || topK > len(out) {
		topK = len(out)
	}

	head := out[:topK]
	for i := range head {
		if head[i].Chunk == nil {
			continue
		}
		info := model.RerankInfo{
			OriginalScore:  head[i].Score,
			EntityCoverage: r.EntityCoverage(head[i].Chunk, query),
			TermOverlap:    r.TermOverlap(head[i].Chunk, query),
			TypeMatch:      r.TypeMatch(head[i].Chunk, query),
		}
		head[i].Rerank = &info
		head[i].Score = helper.Clamp(
			r.weights.Original*info.OriginalScore+
				r.weights.EntityCoverage*info.EntityCoverage+
				r.weights.TermOverlap*info.TermOverlap+
				r.weights.TypeMatch*info.TypeMatch,
			0, 1,
		)
	}
	model.SortByScore(head)
	model.AssignRanks(head)
	for i := topK; i < len(out); i++ {
		out[i].Rank = 0
	}

	r.logger.Debug("Candidates re-ranked", slog.Int("reranked", topK), slog.Int("total", len(out)))
	return out
}
