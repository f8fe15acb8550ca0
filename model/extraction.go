package model

import (
	"fmt"
	"strings"
)

// ExtractionType classifies a fact extracted in pass 1
type ExtractionType string

const (
	ExtractionTypeMedication   ExtractionType = "medication"
	ExtractionTypeCondition    ExtractionType = "condition"
	ExtractionTypeProcedure    ExtractionType = "procedure"
	ExtractionTypeLabResult    ExtractionType = "lab_result"
	ExtractionTypeAllergy      ExtractionType = "allergy"
	ExtractionTypeImmunization ExtractionType = "immunization"
	ExtractionTypeVitalSign    ExtractionType = "vital_sign"
	ExtractionTypeObservation  ExtractionType = "observation"
)

// Provenance is the citation attached to an extraction.
// CharOffsets are [start, end) character offsets into the cited chunk content.
type Provenance struct {
	ArtifactID     string  `json:"artifact_id"`
	ChunkID        string  `json:"chunk_id"`
	CharOffsets    []int   `json:"char_offsets"`
	SupportingText string  `json:"supporting_text"`
	Confidence     float64 `json:"confidence"`
}

// Extraction is a structured, cited fact
type Extraction struct {
	Type       ExtractionType         `json:"type"`
	Content    map[string]interface{} `json:"content"`
	Provenance *Provenance            `json:"provenance,omitempty"`
}

// ContentString returns the first non-empty string value found under keys
func (e Extraction) ContentString(keys ...string) string {
	for _, key := range keys {
		v, ok := e.Content[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

// Confidence returns the provenance confidence or zero without provenance
func (e Extraction) Confidence() float64 {
	if e.Provenance == nil {
		return 0
	}
	return e.Provenance.Confidence
}
