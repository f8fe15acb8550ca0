package ranking

import (
	"log/slog"
	"math"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// Diversifier penalizes repeated chunks from the same artifact
type Diversifier struct {
	base   float64
	logger *slog.Logger
}

// NewDiversifier creates a diversifier; the n-th chunk of an artifact is
// multiplied by base^(n-1).
func NewDiversifier(base float64, logger *slog.Logger) *Diversifier {
	return &Diversifier{
		base:   base,
		logger: helper.LoggerOrDefault(logger),
	}
}

// Penalty returns the factor for the chunk at 1-based position within its artifact
func (d *Diversifier) Penalty(position int) float64 {
	if position <= 1 {
		return 1
	}
	return math.Pow(d.base, float64(position-1))
}

// Diversify applies the same-artifact penalty in score order, then re-sorts
// and re-ranks the candidates.
func (d *Diversifier) Diversify(candidates []model.RetrievalCandidate) []model.RetrievalCandidate {
	out := model.CloneCandidates(candidates)
	model.SortByScore(out)

	positions := make(map[string]int)
	for i := range out {
		artifactID := out[i].ArtifactID()
		positions[artifactID]++
		position := positions[artifactID]

		info := model.DiversityInfo{
			OriginalScore:  out[i].Score,
			SourcePosition: position,
			PenaltyFactor:  d.Penalty(position),
		}
		out[i].Diversity = &info
		out[i].Score = info.OriginalScore * info.PenaltyFactor
	}

	model.SortByScore(out)
	model.AssignRanks(out)
	return out
}

// EnsureMinimumDiversity makes sure the topK candidates come from at least
// minSources artifacts where possible. A candidate from an unrepresented
// artifact below topK is swapped with the lowest scoring topK candidate whose
// artifact is represented more than once. When no such candidate exists the
// list is returned as is.
func (d *Diversifier) EnsureMinimumDiversity(candidates []model.RetrievalCandidate, topK int, minSources int) []model.RetrievalCandidate {
	out := model.CloneCandidates(candidates)
	if topK > len(out) {
		topK = len(out)
	}
	if topK <= 0 {
		return out
	}

	for {
		counts := SourceDistribution(out, topK)
		if len(counts) >= minSources {
			break
		}

		incoming := -1
		for i := topK; i < len(out); i++ {
			if _, represented := counts[out[i].ArtifactID()]; !represented {
				incoming = i
				break
			}
		}
		if incoming < 0 {
			d.logger.Debug("No other source available for diversity", slog.Int("sources", len(counts)))
			break
		}

		outgoing := -1
		for i := 0; i < topK; i++ {
			if counts[out[i].ArtifactID()] < 2 {
				continue
			}
			if outgoing < 0 || out[i].Score < out[outgoing].Score {
				outgoing = i
			}
		}
		if outgoing < 0 {
			break
		}

		out[outgoing], out[incoming] = out[incoming], out[outgoing]
	}

	model.AssignRanks(out)
	return out
}

// SourceDistribution counts the candidates per artifact among the first topK.
// A topK of zero or less counts all candidates.
func SourceDistribution(candidates []model.RetrievalCandidate, topK int) map[string]int {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	counts := make(map[string]int)
	for _, candidate := range candidates[:topK] {
		counts[candidate.ArtifactID()]++
	}
	return counts
}
