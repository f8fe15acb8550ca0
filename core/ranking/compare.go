package ranking

import "github.com/siherrmann/medrag/model"

// RankChange is the movement of one chunk between two rankings.
// Delta is positive when the chunk moved up.
type RankChange struct {
	ChunkID    string `json:"chunk_id"`
	BeforeRank int    `json:"before_rank"`
	AfterRank  int    `json:"after_rank"`
	Delta      int    `json:"delta"`
}

// RankingComparison summarizes how a ranking changed
type RankingComparison struct {
	Changes   []RankChange `json:"changes"`
	Improved  int          `json:"improved"`
	Degraded  int          `json:"degraded"`
	Unchanged int          `json:"unchanged"`
	Added     []string     `json:"added,omitempty"`
	Dropped   []string     `json:"dropped,omitempty"`
}

// CompareRankings compares two orderings of candidates by list position.
// Chunks present in only one list are reported as added or dropped.
func CompareRankings(before, after []model.RetrievalCandidate) RankingComparison {
	beforeRanks := make(map[string]int, len(before))
	for i, candidate := range before {
		if _, ok := beforeRanks[candidate.ChunkID()]; !ok {
			beforeRanks[candidate.ChunkID()] = i + 1
		}
	}

	comparison := RankingComparison{Changes: []RankChange{}}
	seen := make(map[string]bool, len(after))
	for i, candidate := range after {
		id := candidate.ChunkID()
		if seen[id] {
			continue
		}
		seen[id] = true

		beforeRank, ok := beforeRanks[id]
		if !ok {
			comparison.Added = append(comparison.Added, id)
			continue
		}
		change := RankChange{
			ChunkID:    id,
			BeforeRank: beforeRank,
			AfterRank:  i + 1,
			Delta:      beforeRank - (i + 1),
		}
		comparison.Changes = append(comparison.Changes, change)

		switch {
		case change.Delta > 0:
			comparison.Improved++
		case change.Delta < 0:
			comparison.Degraded++
		default:
			comparison.Unchanged++
		}
	}

	for _, candidate := range before {
		if !seen[candidate.ChunkID()] {
			seen[candidate.ChunkID()] = true
			comparison.Dropped = append(comparison.Dropped, candidate.ChunkID())
		}
	}
	return comparison
}
