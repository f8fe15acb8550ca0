package medrag

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siherrmann/medrag/core/generation"
	"github.com/siherrmann/medrag/core/retrieval"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 32

// testEmbedder hashes every token into a fixed size vector
var testEmbedder = retrieval.EmbedFunc(func(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, testDimension)
	for _, token := range helper.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[h.Sum32()%testDimension]++
	}
	return vector, nil
})

// medicationClient extracts one cited medication and summarizes it
type medicationClient struct{}

func (c *medicationClient) Extract(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*generation.ExtractionResponse, error) {
	provenance, _ := json.Marshal(map[string]interface{}{
		"artifact_id":     "a1",
		"chunk_id":        "c1",
		"char_offsets":    []int{0, 15},
		"supporting_text": "Metformin 500mg",
		"confidence":      0.9,
	})
	return &generation.ExtractionResponse{
		Extractions: []generation.RawExtraction{{
			Type:       "medication",
			Content:    map[string]interface{}{"name": "Metformin", "dosage": "500mg"},
			Provenance: provenance,
		}},
		TotalTokens: 50,
	}, nil
}

func (c *medicationClient) Summarize(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*generation.SummaryResponse, error) {
	return &generation.SummaryResponse{
		Summary:     "The patient takes 1 medication.\nMetformin 500mg twice daily.",
		TotalTokens: 20,
	}, nil
}

func (c *medicationClient) ModelInfo() generation.ModelInfo {
	return generation.ModelInfo{Provider: "fake", Model: "medication"}
}

func testCorpus() []*model.Chunk {
	return []*model.Chunk{
		{
			ID:         "c1",
			ArtifactID: "a1",
			PatientID:  "p1",
			Content:    "Metformin 500mg twice daily for type 2 diabetes.",
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-05-01"},
		},
		{
			ID:         "c2",
			ArtifactID: "a2",
			PatientID:  "p1",
			Content:    "Patient reports good adherence to metformin.",
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeProgressNote, Date: "2024-05-10"},
		},
		{
			ID:         "c3",
			ArtifactID: "a3",
			PatientID:  "p2",
			Content:    "Lisinopril 10mg daily.",
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-04-01"},
		},
	}
}

func testQuery(patientID string) *model.StructuredQuery {
	return &model.StructuredQuery{
		QueryID:       "q1",
		OriginalQuery: "What medications is the patient taking? metformin",
		PatientID:     patientID,
		Intent:        model.IntentRetrieveMedications,
		DetailLevel:   model.DetailLevelStandard,
	}
}

func testLogger() *slog.Logger {
	return helper.NewLogger(io.Discard, slog.LevelWarn)
}

func initMedrag(t *testing.T, config model.Config, opts ...Option) *Medrag {
	opts = append([]Option{
		WithLogger(testLogger()),
		WithEmbedder(testEmbedder),
		WithLLMClient(&medicationClient{}),
	}, opts...)

	m, err := NewMedrag(config, opts...)
	require.NoError(t, err, "failed to create medrag")
	require.NotNil(t, m)
	t.Cleanup(func() {
		assert.NoError(t, m.Close())
	})
	return m
}

func TestNewMedrag(t *testing.T) {
	t.Run("Memory backend", func(t *testing.T) {
		m := initMedrag(t, model.DefaultConfig())

		assert.NotNil(t, m.Memory, "Expected an in-memory index")
		assert.Nil(t, m.DB, "Expected no database for the memory backend")
		assert.Nil(t, m.Chunks)
		assert.NotNil(t, m.Agent)
		assert.NotNil(t, m.Generator)
		assert.NotNil(t, m.Pipeline)
		assert.NotNil(t, m.Metrics)
		assert.Equal(t, "medication", m.Generator.ModelInfo().Model)
	})

	t.Run("Invalid config", func(t *testing.T) {
		config := model.DefaultConfig()
		config.Storage.Backend = "redis"

		m, err := NewMedrag(config, WithLogger(testLogger()), WithEmbedder(testEmbedder))
		assert.Error(t, err)
		assert.Nil(t, m)
	})

	t.Run("Unknown embedding provider", func(t *testing.T) {
		config := model.DefaultConfig()
		config.Embedding.Provider = "unknown"

		m, err := NewMedrag(config, WithLogger(testLogger()), WithLLMClient(&medicationClient{}))
		assert.Error(t, err)
		assert.Nil(t, m)
	})

	t.Run("Metrics are registered", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := initMedrag(t, model.DefaultConfig(), WithRegisterer(reg))
		require.NoError(t, m.Initialize(context.Background(), testCorpus()))

		_, err := m.Answer(context.Background(), testQuery("p1"))
		require.NoError(t, err)

		count, err := testutil.GatherAndCount(reg, "medrag_queries_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestAnswer(t *testing.T) {
	m := initMedrag(t, model.DefaultConfig())
	require.NoError(t, m.Initialize(context.Background(), testCorpus()))

	t.Run("Complete answer with provenance", func(t *testing.T) {
		response, err := m.Answer(context.Background(), testQuery("p1"))

		require.NoError(t, err)
		require.NotNil(t, response)
		assert.False(t, response.IsPartial())
		assert.Equal(t, "q1", response.QueryID)
		assert.Equal(t, "The patient takes 1 medication.", response.ShortAnswer)
		assert.Equal(t, "Metformin 500mg twice daily.", response.DetailedSummary)
		require.Len(t, response.StructuredExtractions, 1)
		require.NotEmpty(t, response.Provenance)
		assert.Equal(t, "c1", response.Provenance[0].ChunkID)
		assert.Equal(t, "medication", response.Metadata.Model)
		assert.Equal(t, 70, response.Metadata.TokensUsed)
		assert.Greater(t, response.Confidence.Overall, 0.0)
		assert.LessOrEqual(t, response.Confidence.Overall, 1.0)
	})

	t.Run("Other patients are never retrieved", func(t *testing.T) {
		result, err := m.Retrieve(context.Background(), testQuery("p2"), 0)

		require.NoError(t, err)
		for _, candidate := range result.Candidates {
			assert.Equal(t, "p2", candidate.Chunk.PatientID)
		}
	})

	t.Run("Invalid query", func(t *testing.T) {
		query := testQuery("p1")
		query.PatientID = ""

		_, err := m.Answer(context.Background(), query)
		assert.Error(t, err)
	})
}

func TestRetrieve(t *testing.T) {
	m := initMedrag(t, model.DefaultConfig())

	t.Run("Retrieve before initialize", func(t *testing.T) {
		_, err := m.Retrieve(context.Background(), testQuery("p1"), 5)
		assert.ErrorIs(t, err, retrieval.ErrNotInitialized)
	})

	require.NoError(t, m.Initialize(context.Background(), testCorpus()))

	t.Run("Default top k", func(t *testing.T) {
		result, err := m.Retrieve(context.Background(), testQuery("p1"), 0)

		require.NoError(t, err)
		ids := []string{}
		for _, candidate := range result.Candidates {
			ids = append(ids, candidate.ChunkID())
		}
		assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
	})

	t.Run("Batch keeps query order", func(t *testing.T) {
		queries := []*model.StructuredQuery{testQuery("p1"), testQuery("p2"), testQuery("p3")}

		results := m.BatchRetrieve(context.Background(), queries, 3)

		require.Len(t, results, 3)
		for i, result := range results {
			require.NoError(t, result.Err)
			assert.Same(t, queries[i], result.Query)
		}
		assert.Len(t, results[0].Result.Candidates, 2)
		assert.Len(t, results[1].Result.Candidates, 1)
		assert.Empty(t, results[2].Result.Candidates)
	})
}

func TestInitializeFromFile(t *testing.T) {
	m := initMedrag(t, model.DefaultConfig())

	t.Run("JSON lines corpus", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corpus.jsonl")
		var content []byte
		for _, chunk := range testCorpus() {
			line, err := json.Marshal(chunk)
			require.NoError(t, err)
			content = append(append(content, line...), '\n')
		}
		require.NoError(t, os.WriteFile(path, content, 0o600))

		err := m.InitializeFromFile(context.Background(), path)

		require.NoError(t, err)
		assert.Equal(t, 3, m.Agent.CorpusSize())
	})

	t.Run("Missing file", func(t *testing.T) {
		err := m.InitializeFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}

func TestPostgresBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres backend in short mode")
	}
	helper.SetTestDatabaseConfigEnvs(t, dbPort)

	config := model.DefaultConfig()
	config.Storage.Backend = model.StoragePostgres
	config.Storage.EmbeddingDimension = testDimension
	config.Storage.ReloadFunctions = true
	m := initMedrag(t, config)

	require.NotNil(t, m.DB)
	require.NotNil(t, m.Chunks)
	assert.Nil(t, m.Memory)
	assert.Equal(t, testDimension, m.Chunks.Dimension())

	ctx := context.Background()
	_, err := m.Chunks.DeleteChunksByPatient(ctx, "p1")
	require.NoError(t, err)
	_, err = m.Chunks.DeleteChunksByPatient(ctx, "p2")
	require.NoError(t, err)

	require.NoError(t, m.Initialize(ctx, testCorpus()))

	count, err := m.Chunks.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	response, err := m.Answer(ctx, testQuery("p1"))
	require.NoError(t, err)
	assert.False(t, response.IsPartial())
	assert.Equal(t, "The patient takes 1 medication.", response.ShortAnswer)
	require.NotEmpty(t, response.Provenance)
	assert.Equal(t, "c1", response.Provenance[0].ChunkID)
}
