package ranking

import (
	"time"

	"github.com/siherrmann/medrag/model"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func candidate(chunkID, artifactID string, score float64) model.RetrievalCandidate {
	return model.RetrievalCandidate{
		Chunk: &model.Chunk{
			ID:         chunkID,
			ArtifactID: artifactID,
			PatientID:  "p1",
			Content:    "content of " + chunkID,
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeProgressNote, Date: "2024-06-01"},
		},
		Score: score,
	}
}

func datedCandidate(chunkID, date string, score float64) model.RetrievalCandidate {
	c := candidate(chunkID, "artifact-"+chunkID, score)
	c.Chunk.Metadata.Date = date
	return c
}

func ids(candidates []model.RetrievalCandidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.ChunkID()
	}
	return out
}
