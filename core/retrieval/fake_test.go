package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/siherrmann/medrag/core/scoring"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

const testDimension = 32

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// bagOfWordsEmbed hashes every token into a fixed size vector
func bagOfWordsEmbed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, testDimension)
	for _, token := range helper.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[h.Sum32()%testDimension]++
	}
	return vector, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

type fixedDimensionSearcher struct {
	*MemoryIndex
	dimension int
}

func (s fixedDimensionSearcher) Dimension() int {
	return s.dimension
}

type failingSearcher struct {
	*MemoryIndex
}

func (failingSearcher) Search(context.Context, []float32, int) ([]model.VectorMatch, error) {
	return nil, errors.New("search backend down")
}

type countingFilter struct {
	*MemoryIndex
	calls int
}

func (f *countingFilter) ApplyFilters(ctx context.Context, criteria model.FilterCriteria) ([]*model.Chunk, error) {
	f.calls++
	return f.MemoryIndex.ApplyFilters(ctx, criteria)
}

// storedIndex simulates a persistent store holding chunks beyond the loaded corpus
type storedIndex struct {
	*MemoryIndex
	stored int
	err    error
}

func (s storedIndex) CountChunks(context.Context) (int, error) {
	return s.stored, s.err
}

// mapIndex is a map backed filter, searcher and indexer
type mapIndex map[string]*model.Chunk

func (m mapIndex) Index(_ context.Context, chunks []*model.Chunk) error {
	for _, chunk := range chunks {
		m[chunk.ID] = chunk
	}
	return nil
}

func (m mapIndex) ApplyFilters(_ context.Context, criteria model.FilterCriteria) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	for _, chunk := range m {
		if criteria.Matches(chunk) {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (m mapIndex) Search(context.Context, []float32, int) ([]model.VectorMatch, error) {
	matches := make([]model.VectorMatch, 0, len(m))
	for id := range m {
		matches = append(matches, model.VectorMatch{ID: id, Score: 0.5})
	}
	return matches, nil
}

func (m mapIndex) Dimension() int {
	return 0
}

func testChunks() []*model.Chunk {
	return []*model.Chunk{
		{ID: "c1", ArtifactID: "a1", PatientID: "p1", Content: "Patient continues metformin 500mg twice daily for type 2 diabetes.", Metadata: model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-05-30"}},
		{ID: "c2", ArtifactID: "a1", PatientID: "p1", Content: "Lisinopril 10mg daily for hypertension.", Metadata: model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-05-30"}},
		{ID: "c3", ArtifactID: "a2", PatientID: "p1", Content: "Progress note: diabetes well controlled on metformin, HbA1c 6.8.", Metadata: model.ChunkMetadata{ArtifactType: model.ArtifactTypeProgressNote, Date: "2024-04-15"}},
		{ID: "c4", ArtifactID: "a3", PatientID: "p1", Content: "Chest x-ray shows no acute findings.", Metadata: model.ChunkMetadata{ArtifactType: model.ArtifactTypeImagingReport, Date: "2022-01-10"}},
		{ID: "c5", ArtifactID: "a4", PatientID: "p2", Content: "Patient takes metformin 1000mg.", Metadata: model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-05-01"}},
	}
}

func testScorer() *scoring.Scorer {
	return scoring.NewScorer(model.DefaultConfig().Scoring, nil, nil).WithClock(func() time.Time { return testNow })
}

func newTestAgent(index *MemoryIndex) *Agent {
	return NewAgent(model.DefaultConfig().Retrieval, testScorer(), index, EmbedFunc(bagOfWordsEmbed), index, nil)
}

func medicationQuery(patientID string) *model.StructuredQuery {
	return &model.StructuredQuery{
		QueryID:       "q1",
		OriginalQuery: "Is the patient taking metformin?",
		PatientID:     patientID,
		Intent:        model.IntentRetrieveMedications,
		DetailLevel:   model.DetailLevelStandard,
	}
}
