package generation

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoLLMClient is returned when a generator is created without an inference collaborator
	ErrNoLLMClient = errors.New("no llm client configured")
	// ErrEmptyResponse is returned when the model produced no usable output
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// ModelInfo identifies the model behind an LLM client
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// RawExtraction is an extraction as emitted by the model, before provenance
// normalization and validation. Provenance is kept raw because models
// sometimes emit an array where a single object is expected.
type RawExtraction struct {
	Type       string                 `json:"type"`
	Content    map[string]interface{} `json:"content"`
	Provenance json.RawMessage        `json:"provenance,omitempty"`
}

// ExtractionResponse is the result of a pass 1 call
type ExtractionResponse struct {
	Extractions []RawExtraction
	TotalTokens int
}

// SummaryResponse is the result of a pass 2 call
type SummaryResponse struct {
	Summary     string
	TotalTokens int
}

// LLMClient is the inference collaborator used by both generation passes
type LLMClient interface {
	Extract(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*ExtractionResponse, error)
	Summarize(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*SummaryResponse, error)
	ModelInfo() ModelInfo
}
