package verification

import "github.com/siherrmann/medrag/model"

func medication(name string, confidence float64) model.Extraction {
	return model.Extraction{
		Type:    model.ExtractionTypeMedication,
		Content: map[string]interface{}{"name": name},
		Provenance: &model.Provenance{
			ArtifactID:  "a1",
			ChunkID:     "c1",
			CharOffsets: []int{0, 4},
			Confidence:  confidence,
		},
	}
}

func extractionsOf(t model.ExtractionType, n int) []model.Extraction {
	out := make([]model.Extraction, n)
	for i := range out {
		out[i] = model.Extraction{Type: t, Content: map[string]interface{}{"name": string(rune('a' + i))}}
	}
	return out
}
