package model

import (
	"errors"
	"time"
)

// Intent is the classified purpose of a natural-language question
type Intent string

const (
	IntentRetrieveMedications  Intent = "RETRIEVE_MEDICATIONS"
	IntentRetrieveConditions   Intent = "RETRIEVE_CONDITIONS"
	IntentRetrieveProcedures   Intent = "RETRIEVE_PROCEDURES"
	IntentRetrieveLabResults   Intent = "RETRIEVE_LAB_RESULTS"
	IntentRetrieveAllergies    Intent = "RETRIEVE_ALLERGIES"
	IntentRetrieveImmunization Intent = "RETRIEVE_IMMUNIZATIONS"
	IntentRetrieveVitals       Intent = "RETRIEVE_VITALS"
	IntentSummarizeRecord      Intent = "SUMMARIZE_RECORD"
	IntentTimeline             Intent = "TIMELINE"
	IntentGeneralQuery         Intent = "GENERAL_QUERY"
)

// DetailLevel controls how elaborate the generated summary should be
type DetailLevel string

const (
	DetailLevelBrief         DetailLevel = "brief"
	DetailLevelStandard      DetailLevel = "standard"
	DetailLevelComprehensive DetailLevel = "comprehensive"
)

// QueryEntity is an entity recognised in the question (a drug, a condition, ...)
type QueryEntity struct {
	Text       string `json:"text"`
	Type       string `json:"type"`
	Normalized string `json:"normalized,omitempty"`
}

// DateRange is an inclusive date interval; nil bounds are open
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// QueryFilters narrows the candidate pool before search
type QueryFilters struct {
	ArtifactTypes []ArtifactType `json:"artifact_types,omitempty"`
	DateRange     *DateRange     `json:"date_range,omitempty"`
}

// StructuredQuery is the output of the query-understanding front-end
type StructuredQuery struct {
	QueryID        string        `json:"query_id"`
	OriginalQuery  string        `json:"original_query"`
	PatientID      string        `json:"patient_id"`
	Intent         Intent        `json:"intent"`
	Entities       []QueryEntity `json:"entities,omitempty"`
	TemporalFilter *DateRange    `json:"temporal_filter,omitempty"`
	Filters        QueryFilters  `json:"filters"`
	DetailLevel    DetailLevel   `json:"detail_level"`
}

// Validate checks the fields every pipeline stage relies on
func (q *StructuredQuery) Validate() error {
	if q == nil {
		return errors.New("query is nil")
	}
	if q.PatientID == "" {
		return errors.New("patient_id is required")
	}
	if q.OriginalQuery == "" {
		return errors.New("original_query is required")
	}
	return nil
}

// EffectiveDateRange returns the explicit filter date range, falling back to the temporal filter
func (q *StructuredQuery) EffectiveDateRange() *DateRange {
	if q.Filters.DateRange != nil {
		return q.Filters.DateRange
	}
	return q.TemporalFilter
}

// FilterCriteria is passed to the metadata filter collaborator
type FilterCriteria struct {
	PatientID     string
	ArtifactTypes []ArtifactType
	DateFrom      *time.Time
	DateTo        *time.Time
}

// CriteriaFromQuery derives the metadata filter criteria for a query
func CriteriaFromQuery(q *StructuredQuery) FilterCriteria {
	criteria := FilterCriteria{
		PatientID:     q.PatientID,
		ArtifactTypes: q.Filters.ArtifactTypes,
	}
	if r := q.EffectiveDateRange(); r != nil {
		criteria.DateFrom = r.From
		criteria.DateTo = r.To
	}
	return criteria
}

// Matches reports whether chunk satisfies the criteria.
// A chunk without a parseable date only passes when no date bound is set.
func (c FilterCriteria) Matches(chunk *Chunk) bool {
	if chunk == nil || chunk.PatientID != c.PatientID {
		return false
	}
	if len(c.ArtifactTypes) > 0 {
		found := false
		for _, t := range c.ArtifactTypes {
			if chunk.Metadata.ArtifactType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.DateFrom == nil && c.DateTo == nil {
		return true
	}
	date, ok := chunk.Date()
	if !ok {
		return false
	}
	if c.DateFrom != nil && date.Before(*c.DateFrom) {
		return false
	}
	if c.DateTo != nil && date.After(*c.DateTo) {
		return false
	}
	return true
}
