package generation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/siherrmann/medrag/model"
)

var errUnavailable = errors.New("inference service unavailable")

type call struct {
	system      string
	user        string
	temperature float64
}

// scriptedClient replays queued responses and records every prompt it receives
type scriptedClient struct {
	mu             sync.Mutex
	extractions    []*ExtractionResponse
	extractErrors  []error
	summaries      []*SummaryResponse
	summaryErrors  []error
	extractCalls   []call
	summarizeCalls []call
}

func (c *scriptedClient) Extract(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*ExtractionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extractCalls = append(c.extractCalls, call{systemPrompt, userPrompt, temperature})
	if len(c.extractErrors) > 0 {
		err := c.extractErrors[0]
		c.extractErrors = c.extractErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(c.extractions) == 0 {
		return &ExtractionResponse{}, nil
	}
	response := c.extractions[0]
	if len(c.extractions) > 1 {
		c.extractions = c.extractions[1:]
	}
	return response, nil
}

func (c *scriptedClient) Summarize(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*SummaryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summarizeCalls = append(c.summarizeCalls, call{systemPrompt, userPrompt, temperature})
	if len(c.summaryErrors) > 0 {
		err := c.summaryErrors[0]
		c.summaryErrors = c.summaryErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(c.summaries) == 0 {
		return &SummaryResponse{}, nil
	}
	response := c.summaries[0]
	if len(c.summaries) > 1 {
		c.summaries = c.summaries[1:]
	}
	return response, nil
}

func (c *scriptedClient) ModelInfo() ModelInfo {
	return ModelInfo{Provider: "fake", Model: "scripted"}
}

func rawProvenanceJSON(artifactID, chunkID string, start, end int, text string, confidence float64) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"artifact_id":     artifactID,
		"chunk_id":        chunkID,
		"char_offsets":    []int{start, end},
		"supporting_text": text,
		"confidence":      confidence,
	})
	return raw
}

func rawMedication(name string, confidence float64) RawExtraction {
	return RawExtraction{
		Type:       "medication",
		Content:    map[string]interface{}{"name": name},
		Provenance: rawProvenanceJSON("a1", "c1", 0, len(name), name, confidence),
	}
}

func testQuery() *model.StructuredQuery {
	return &model.StructuredQuery{
		QueryID:       "q1",
		OriginalQuery: "What medications is the patient taking?",
		PatientID:     "p1",
		Intent:        model.IntentRetrieveMedications,
		DetailLevel:   model.DetailLevelStandard,
	}
}

func testCandidates() []model.RetrievalCandidate {
	return []model.RetrievalCandidate{
		{
			Chunk: &model.Chunk{
				ID:         "c1",
				ArtifactID: "a1",
				PatientID:  "p1",
				Content:    "Metformin 500mg twice daily. Lisinopril 10mg daily.",
				Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-05-01"},
			},
			Score: 0.9,
			Rank:  1,
		},
		{
			Chunk: &model.Chunk{
				ID:         "c2",
				ArtifactID: "a2",
				PatientID:  "p1",
				Content:    "Patient reports good adherence.",
				Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeProgressNote},
			},
			Score: 0.6,
			Rank:  2,
		},
	}
}

func testGenerationConfig() model.GenerationConfig {
	config := model.DefaultConfig().Generation
	config.RetryBaseDelay = 0
	return config
}
