package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/siherrmann/medrag/model"
)

// DefaultConfidence is used when the model omits a provenance confidence
const DefaultConfidence = 0.5

type rawProvenance struct {
	ArtifactID     string    `json:"artifact_id"`
	ChunkID        string    `json:"chunk_id"`
	CharOffsets    []float64 `json:"char_offsets"`
	SupportingText string    `json:"supporting_text"`
	Confidence     *float64  `json:"confidence"`
}

// NormalizeProvenance decodes a raw provenance value. An array is accepted
// and reduced to its first element; wasArray reports that case so callers
// can log it. A missing or null value yields a nil provenance.
func NormalizeProvenance(raw json.RawMessage) (provenance *model.Provenance, wasArray bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	var decoded rawProvenance
	if raw[0] == '[' {
		wasArray = true
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, wasArray, fmt.Errorf("decode provenance array: %w", err)
		}
		if len(list) == 0 {
			return nil, wasArray, nil
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, wasArray, fmt.Errorf("decode provenance: %w", err)
	}

	offsets := make([]int, 0, len(decoded.CharOffsets))
	for _, offset := range decoded.CharOffsets {
		if offset != math.Trunc(offset) {
			return nil, wasArray, fmt.Errorf("char offset %v is not an integer", offset)
		}
		offsets = append(offsets, int(offset))
	}

	confidence := DefaultConfidence
	if decoded.Confidence != nil {
		confidence = *decoded.Confidence
	}

	return &model.Provenance{
		ArtifactID:     strings.TrimSpace(decoded.ArtifactID),
		ChunkID:        strings.TrimSpace(decoded.ChunkID),
		CharOffsets:    offsets,
		SupportingText: decoded.SupportingText,
		Confidence:     confidence,
	}, wasArray, nil
}

// ValidateExtraction reports every required field missing from an extraction
func ValidateExtraction(extraction model.Extraction) error {
	var errs []error
	if strings.TrimSpace(string(extraction.Type)) == "" {
		errs = append(errs, errors.New("type is missing"))
	}
	if len(extraction.Content) == 0 {
		errs = append(errs, errors.New("content is missing"))
	}
	p := extraction.Provenance
	if p == nil {
		errs = append(errs, errors.New("provenance is missing"))
		return errors.Join(errs...)
	}
	if p.ArtifactID == "" {
		errs = append(errs, errors.New("provenance.artifact_id is missing"))
	}
	if p.ChunkID == "" {
		errs = append(errs, errors.New("provenance.chunk_id is missing"))
	}
	if len(p.CharOffsets) != 2 {
		errs = append(errs, fmt.Errorf("provenance.char_offsets must have 2 elements, got %d", len(p.CharOffsets)))
	}
	if p.SupportingText == "" {
		errs = append(errs, errors.New("provenance.supporting_text is missing"))
	}
	return errors.Join(errs...)
}

// toExtraction converts a raw extraction. Provenance that cannot be decoded
// is dropped so validation can reject the extraction.
func toExtraction(raw RawExtraction) (model.Extraction, bool, error) {
	extraction := model.Extraction{
		Type:    model.ExtractionType(strings.ToLower(strings.TrimSpace(raw.Type))),
		Content: raw.Content,
	}
	provenance, wasArray, err := NormalizeProvenance(raw.Provenance)
	extraction.Provenance = provenance
	return extraction, wasArray, err
}
