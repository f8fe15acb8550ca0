package model

import (
	"strings"
	"time"
)

// ArtifactType identifies the kind of clinical document a chunk was cut from
type ArtifactType string

const (
	ArtifactTypeMedicationOrder  ArtifactType = "medication_order"
	ArtifactTypeProgressNote     ArtifactType = "progress_note"
	ArtifactTypeDischargeSummary ArtifactType = "discharge_summary"
	ArtifactTypeLabResult        ArtifactType = "lab_result"
	ArtifactTypeProcedureNote    ArtifactType = "procedure_note"
	ArtifactTypeProblemList      ArtifactType = "problem_list"
	ArtifactTypeAllergyRecord    ArtifactType = "allergy_record"
	ArtifactTypeImmunization     ArtifactType = "immunization_record"
	ArtifactTypeImagingReport    ArtifactType = "imaging_report"
	ArtifactTypeCarePlan         ArtifactType = "care_plan"
	ArtifactTypeVitalSigns       ArtifactType = "vital_signs"
)

// Chunk is an immutable fragment of a source artifact
type Chunk struct {
	ID         string        `json:"chunk_id"`
	ArtifactID string        `json:"artifact_id"`
	PatientID  string        `json:"patient_id"`
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"embedding,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses the date formats found in artifact metadata.
// The second return value is false for empty or unparseable input.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Date returns the parsed artifact date of the chunk
func (c *Chunk) Date() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	return ParseDate(c.Metadata.Date)
}

// DaysSince returns the number of whole days between the chunk date and now.
// Dates in the future count as zero days.
func (c *Chunk) DaysSince(now time.Time) (int, bool) {
	date, ok := c.Date()
	if !ok {
		return 0, false
	}
	days := int(now.Sub(date).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}
