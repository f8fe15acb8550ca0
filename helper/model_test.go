package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useModelDir(t *testing.T) string {
	t.Helper()
	original := ModelDir
	ModelDir = t.TempDir()
	t.Cleanup(func() { ModelDir = original })
	return ModelDir
}

func TestPrepareModel(t *testing.T) {
	t.Run("Existing model is not downloaded again", func(t *testing.T) {
		dir := useModelDir(t)
		modelPath := filepath.Join(dir, "sentence-transformers_all-MiniLM-L6-v2")
		require.NoError(t, os.MkdirAll(modelPath, 0750))

		path, err := PrepareModel("sentence-transformers/all-MiniLM-L6-v2", "onnx/model.onnx")

		require.NoError(t, err)
		assert.Equal(t, modelPath, path)
	})

	t.Run("Model name without slash", func(t *testing.T) {
		dir := useModelDir(t)
		modelPath := filepath.Join(dir, "simple-model")
		require.NoError(t, os.MkdirAll(modelPath, 0750))

		path, err := PrepareModel("simple-model", "")

		require.NoError(t, err)
		assert.Equal(t, modelPath, path)
	})

	t.Run("Download of an unknown model fails", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping model download in short mode")
		}
		useModelDir(t)

		_, err := PrepareModel("medrag-test/does-not-exist", "")
		assert.Error(t, err)
	})
}
