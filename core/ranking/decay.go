package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// DecayMilestones are the ages in days reported by Curve
var DecayMilestones = []int{0, 7, 30, 90, 180, 365}

// DecayPoint is the decay factor at a given age
type DecayPoint struct {
	Days           int     `json:"days"`
	Factor         float64 `json:"factor"`
	PenaltyPercent float64 `json:"penalty_percent"`
}

// TimeDecay applies exponential recency decay to candidate scores
type TimeDecay struct {
	rate float64
	now  func() time.Time
}

// NewTimeDecay creates a time decay pass with the given daily decay rate
func NewTimeDecay(rate float64) *TimeDecay {
	return &TimeDecay{
		rate: rate,
		now:  time.Now,
	}
}

// WithClock replaces the clock used to compute document age
func (d *TimeDecay) WithClock(now func() time.Time) *TimeDecay {
	d.now = now
	return d
}

// Factor returns exp(-rate * days). Negative ages count as zero.
func (d *TimeDecay) Factor(days int) float64 {
	if days < 0 {
		days = 0
	}
	return math.Exp(-d.rate * float64(days))
}

// Apply multiplies every score with its decay factor, records the factor and
// re-sorts and re-ranks the candidates. Candidates without a parseable date
// keep their score.
func (d *TimeDecay) Apply(candidates []model.RetrievalCandidate) []model.RetrievalCandidate {
	now := d.now()
	out := model.CloneCandidates(candidates)
	for i := range out {
		info := model.TimeDecayInfo{
			OriginalScore:   out[i].Score,
			TimeDecayFactor: 1,
		}
		if days, ok := out[i].Chunk.DaysSince(now); ok {
			info.DaysAgo = days
			info.DateKnown = true
			info.TimeDecayFactor = d.Factor(days)
		}
		out[i].TimeDecay = &info
		out[i].Score = helper.Clamp(info.OriginalScore*info.TimeDecayFactor, 0, 1)
	}
	model.SortByScore(out)
	model.AssignRanks(out)
	return out
}

// Curve returns the decay at the standard milestones
func (d *TimeDecay) Curve() []DecayPoint {
	return d.CurveAt(DecayMilestones)
}

// CurveAt returns the decay at the given ages
func (d *TimeDecay) CurveAt(days []int) []DecayPoint {
	points := make([]DecayPoint, len(days))
	for i, day := range days {
		factor := d.Factor(day)
		points[i] = DecayPoint{
			Days:           day,
			Factor:         factor,
			PenaltyPercent: (1 - factor) * 100,
		}
	}
	return points
}

// MostAffected returns the decayed candidates that lost more than
// thresholdPercent of their score, largest loss first.
func MostAffected(candidates []model.RetrievalCandidate, thresholdPercent float64) []model.RetrievalCandidate {
	var affected []model.RetrievalCandidate
	for _, candidate := range candidates {
		if candidate.TimeDecay == nil {
			continue
		}
		if penaltyPercent(candidate) > thresholdPercent {
			affected = append(affected, candidate)
		}
	}
	sort.SliceStable(affected, func(i, j int) bool {
		return penaltyPercent(affected[i]) > penaltyPercent(affected[j])
	})
	return affected
}

func penaltyPercent(candidate model.RetrievalCandidate) float64 {
	return (1 - candidate.TimeDecay.TimeDecayFactor) * 100
}
