package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/siherrmann/medrag/core/generation"
	"github.com/siherrmann/medrag/model"
)

var errUnavailable = errors.New("service unavailable")

const medicationContent = "Metformin 500mg twice daily. Lisinopril 10mg daily."

// fakeRetriever returns a fixed result, optionally after a delay that honors ctx
type fakeRetriever struct {
	result *model.RetrievalResult
	err    error
	delay  time.Duration
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query *model.StructuredQuery, topK int) (*model.RetrievalResult, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	copied := *r.result
	copied.Candidates = model.CloneCandidates(r.result.Candidates)
	return &copied, nil
}

// fakeLLM answers pass 1 and pass 2 with fixed responses. A blocking pass
// waits until ctx is done.
type fakeLLM struct {
	mu             sync.Mutex
	extractions    []generation.RawExtraction
	summary        string
	extractErr     error
	summaryErr     error
	blockExtract   bool
	blockSummary   bool
	extractCalls   int
	summaryPrompts []string
}

func (f *fakeLLM) Extract(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*generation.ExtractionResponse, error) {
	f.mu.Lock()
	f.extractCalls++
	block, err := f.blockExtract, f.extractErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &generation.ExtractionResponse{Extractions: f.extractions, TotalTokens: 100}, nil
}

func (f *fakeLLM) Summarize(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*generation.SummaryResponse, error) {
	f.mu.Lock()
	f.summaryPrompts = append(f.summaryPrompts, userPrompt)
	block, err := f.blockSummary, f.summaryErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &generation.SummaryResponse{Summary: f.summary, TotalTokens: 50}, nil
}

func (f *fakeLLM) ModelInfo() generation.ModelInfo {
	return generation.ModelInfo{Provider: "fake", Model: "fake-model"}
}

// recordingGenerator remembers the candidates handed to generation
type recordingGenerator struct {
	*generation.Generator
	mu         sync.Mutex
	candidates []model.RetrievalCandidate
}

func (g *recordingGenerator) GenerateWithRetry(ctx context.Context, query *model.StructuredQuery, candidates []model.RetrievalCandidate, opts ...generation.GenerateOption) (*generation.GenerationResult, error) {
	g.mu.Lock()
	g.candidates = model.CloneCandidates(candidates)
	g.mu.Unlock()
	return g.Generator.GenerateWithRetry(ctx, query, candidates, opts...)
}

func rawExtraction(name string, start, end int, text string, confidence float64) generation.RawExtraction {
	provenance, _ := json.Marshal(map[string]interface{}{
		"artifact_id":     "a1",
		"chunk_id":        "c1",
		"char_offsets":    []int{start, end},
		"supporting_text": text,
		"confidence":      confidence,
	})
	return generation.RawExtraction{
		Type:       "medication",
		Content:    map[string]interface{}{"name": name},
		Provenance: provenance,
	}
}

// validExtractions cite "Metformin" at 0-9 and "Lisinopril" at 29-39 of medicationContent
func validExtractions() []generation.RawExtraction {
	return []generation.RawExtraction{
		rawExtraction("Metformin", 0, 9, "Metformin", 0.9),
		rawExtraction("Lisinopril", 29, 39, "Lisinopril", 0.8),
	}
}

func testQuery() *model.StructuredQuery {
	return &model.StructuredQuery{
		QueryID:       "q1",
		OriginalQuery: "What medications is the patient taking?",
		PatientID:     "p1",
		Intent:        model.IntentRetrieveMedications,
		DetailLevel:   model.DetailLevelBrief,
	}
}

func testRetrieval() *model.RetrievalResult {
	return &model.RetrievalResult{
		Candidates: []model.RetrievalCandidate{
			{
				Chunk: &model.Chunk{
					ID:         "c1",
					ArtifactID: "a1",
					PatientID:  "p1",
					Content:    medicationContent,
					Metadata: model.ChunkMetadata{
						ArtifactType: model.ArtifactTypeMedicationOrder,
						Date:         "2024-05-01",
						SourceURL:    "https://records.example/a1",
					},
				},
				Score:   0.9,
				Snippet: "Metformin 500mg twice daily.",
				Rank:    1,
			},
			{
				Chunk: &model.Chunk{
					ID:         "c2",
					ArtifactID: "a2",
					PatientID:  "p1",
					Content:    "Patient reports good adherence to medications.",
					Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeProgressNote, Date: "2024-04-01"},
				},
				Score:   0.6,
				Snippet: "Patient reports good adherence to medications.",
				Rank:    2,
			},
		},
		TotalSearched: 20,
		FilteredCount: 8,
	}
}

// testConfig disables the ranking passes so candidate scores stay as retrieved
func testConfig() model.Config {
	config := model.DefaultConfig()
	config.Rerank.Enabled = false
	config.Diversity.Enabled = false
	config.Generation.RetryBaseDelay = 0
	config.Pipeline.Timeout = 2 * time.Second
	return config
}

func newTestPipeline(config model.Config, retriever Retriever, llm *fakeLLM, metrics *Metrics) (*Pipeline, *recordingGenerator, error) {
	generator, err := generation.NewGenerator(llm, config.Generation, nil)
	if err != nil {
		return nil, nil, err
	}
	recorder := &recordingGenerator{Generator: generator}
	p, err := NewPipeline(config, retriever, recorder, nil, metrics, nil)
	if err != nil {
		return nil, nil, err
	}
	return p, recorder, nil
}
