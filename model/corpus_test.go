package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCorpus(t *testing.T) {
	t.Run("JSON array", func(t *testing.T) {
		path := writeCorpus(t, "corpus.json", `[
			{"chunk_id": "c1", "artifact_id": "a1", "patient_id": "p1", "content": "Metformin 500mg twice daily.",
			 "metadata": {"artifact_type": "medication_order", "date": "2024-05-01", "source_url": "https://records.example/a1"}},
			{"chunk_id": "c2", "artifact_id": "a2", "patient_id": "p1", "content": "Patient doing well.",
			 "metadata": {"artifact_type": "progress_note"}, "embedding": [0.1, 0.2]}
		]`)

		chunks, err := LoadCorpus(path)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "c1", chunks[0].ID)
		assert.Equal(t, ArtifactTypeMedicationOrder, chunks[0].Metadata.ArtifactType)
		assert.Equal(t, "https://records.example/a1", chunks[0].Metadata.SourceURL)
		assert.Equal(t, []float32{0.1, 0.2}, chunks[1].Embedding)
	})

	t.Run("Wrapped object", func(t *testing.T) {
		path := writeCorpus(t, "corpus.json", `{"chunks": [{"chunk_id": "c1", "patient_id": "p1", "content": "Note"}]}`)

		chunks, err := LoadCorpus(path)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "Note", chunks[0].Content)
	})

	t.Run("JSON lines", func(t *testing.T) {
		path := writeCorpus(t, "corpus.jsonl", "{\"chunk_id\": \"c1\", \"patient_id\": \"p1\"}\n\n{\"patient_id\": \"p1\"}\n")

		chunks, err := LoadCorpus(path)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "c1", chunks[0].ID)
		assert.NotEmpty(t, chunks[1].ID, "missing ids are generated")
	})

	t.Run("Empty file", func(t *testing.T) {
		chunks, err := LoadCorpus(writeCorpus(t, "empty.json", "  "))
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Invalid corpora", func(t *testing.T) {
		tests := map[string]string{
			"missing patient": `[{"chunk_id": "c1"}]`,
			"duplicate id":    `[{"chunk_id": "c1", "patient_id": "p1"}, {"chunk_id": "c1", "patient_id": "p1"}]`,
			"null chunk":      `[null]`,
			"malformed":       `[{"chunk_id": }]`,
		}
		for name, content := range tests {
			_, err := LoadCorpus(writeCorpus(t, "corpus.json", content))
			assert.Error(t, err, name)
		}

		_, err := LoadCorpus(writeCorpus(t, "corpus.jsonl", "{\"chunk_id\": \"c1\", \"patient_id\": \"p1\"}\nnot json\n"))
		assert.ErrorContains(t, err, "line 2")
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadCorpus("/non/existent/corpus.json")
		assert.Error(t, err)
	})
}
