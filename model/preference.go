package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTypePreferences is returned for a preference table that fails validation
var ErrInvalidTypePreferences = errors.New("invalid type preferences")

// FallbackArtifactType is the required key used for artifact types without an explicit preference
const FallbackArtifactType ArtifactType = "default"

// UnknownIntentPreference is the preference returned for intents missing from a table
const UnknownIntentPreference = 0.5

// TypePreferences maps artifact types to a preference in [0, 1] for one intent.
// It must contain FallbackArtifactType.
type TypePreferences map[ArtifactType]float64

// TypePreferenceTable maps an intent to the artifact types that answer it best
type TypePreferenceTable struct {
	byIntent      map[Intent]TypePreferences
	unknownIntent float64
}

// NewTypePreferenceTable validates and copies the given preferences.
// Every intent entry needs a fallback value and all values must lie in [0, 1].
func NewTypePreferenceTable(byIntent map[Intent]TypePreferences, unknownIntent float64) (*TypePreferenceTable, error) {
	if unknownIntent < 0 || unknownIntent > 1 {
		return nil, fmt.Errorf("%w: unknown intent preference %v out of range", ErrInvalidTypePreferences, unknownIntent)
	}

	table := &TypePreferenceTable{
		byIntent:      make(map[Intent]TypePreferences, len(byIntent)),
		unknownIntent: unknownIntent,
	}
	for intent, prefs := range byIntent {
		if _, ok := prefs[FallbackArtifactType]; !ok {
			return nil, fmt.Errorf("%w: intent %s has no %q entry", ErrInvalidTypePreferences, intent, FallbackArtifactType)
		}
		copied := make(TypePreferences, len(prefs))
		for artifactType, value := range prefs {
			if value < 0 || value > 1 {
				return nil, fmt.Errorf("%w: intent %s type %s value %v out of range", ErrInvalidTypePreferences, intent, artifactType, value)
			}
			copied[artifactType] = value
		}
		table.byIntent[intent] = copied
	}
	return table, nil
}

// Preference returns how well artifactType suits intent
func (t *TypePreferenceTable) Preference(intent Intent, artifactType ArtifactType) float64 {
	if t == nil {
		return UnknownIntentPreference
	}
	prefs, ok := t.byIntent[intent]
	if !ok {
		return t.unknownIntent
	}
	if value, ok := prefs[artifactType]; ok {
		return value
	}
	return prefs[FallbackArtifactType]
}

// Has reports whether the table has an entry for intent
func (t *TypePreferenceTable) Has(intent Intent) bool {
	if t == nil {
		return false
	}
	_, ok := t.byIntent[intent]
	return ok
}

// DefaultTypePreferences returns the built-in preference table
func DefaultTypePreferences() *TypePreferenceTable {
	table, err := NewTypePreferenceTable(map[Intent]TypePreferences{
		IntentRetrieveMedications: {
			ArtifactTypeMedicationOrder:  1.0,
			ArtifactTypeDischargeSummary: 0.6,
			ArtifactTypeProgressNote:     0.5,
			FallbackArtifactType:         0.3,
		},
		IntentRetrieveConditions: {
			ArtifactTypeProblemList:      1.0,
			ArtifactTypeDischargeSummary: 0.7,
			ArtifactTypeProgressNote:     0.7,
			FallbackArtifactType:         0.3,
		},
		IntentRetrieveProcedures: {
			ArtifactTypeProcedureNote:    1.0,
			ArtifactTypeDischargeSummary: 0.6,
			ArtifactTypeProgressNote:     0.5,
			FallbackArtifactType:         0.3,
		},
		IntentRetrieveLabResults: {
			ArtifactTypeLabResult:    1.0,
			ArtifactTypeProgressNote: 0.4,
			FallbackArtifactType:     0.2,
		},
		IntentRetrieveAllergies: {
			ArtifactTypeAllergyRecord: 1.0,
			ArtifactTypeProgressNote:  0.4,
			FallbackArtifactType:      0.2,
		},
		IntentRetrieveImmunization: {
			ArtifactTypeImmunization: 1.0,
			ArtifactTypeProgressNote: 0.3,
			FallbackArtifactType:     0.2,
		},
		IntentRetrieveVitals: {
			ArtifactTypeVitalSigns:   1.0,
			ArtifactTypeProgressNote: 0.5,
			FallbackArtifactType:     0.2,
		},
		IntentSummarizeRecord: {
			ArtifactTypeDischargeSummary: 1.0,
			ArtifactTypeProblemList:      0.8,
			ArtifactTypeProgressNote:     0.8,
			ArtifactTypeCarePlan:         0.7,
			FallbackArtifactType:         0.5,
		},
		IntentTimeline: {
			ArtifactTypeProgressNote:     0.7,
			ArtifactTypeDischargeSummary: 0.7,
			FallbackArtifactType:         0.5,
		},
		IntentGeneralQuery: {
			FallbackArtifactType: 0.5,
		},
	}, UnknownIntentPreference)
	if err != nil {
		panic(err)
	}
	return table
}

// ExpectedExtractionTypes returns the extraction types an intent asks for.
// Intents that cover the whole record return nil.
func ExpectedExtractionTypes(intent Intent) []ExtractionType {
	switch intent {
	case IntentRetrieveMedications:
		return []ExtractionType{ExtractionTypeMedication}
	case IntentRetrieveConditions:
		return []ExtractionType{ExtractionTypeCondition}
	case IntentRetrieveProcedures:
		return []ExtractionType{ExtractionTypeProcedure}
	case IntentRetrieveLabResults:
		return []ExtractionType{ExtractionTypeLabResult}
	case IntentRetrieveAllergies:
		return []ExtractionType{ExtractionTypeAllergy}
	case IntentRetrieveImmunization:
		return []ExtractionType{ExtractionTypeImmunization}
	case IntentRetrieveVitals:
		return []ExtractionType{ExtractionTypeVitalSign}
	default:
		return nil
	}
}
