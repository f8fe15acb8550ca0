package helper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string        `yaml:"name"`
	TopK    int           `yaml:"top_k"`
	Timeout time.Duration `yaml:"timeout"`
}

func TestLoadConfig(t *testing.T) {
	t.Run("Empty path keeps the defaults", func(t *testing.T) {
		config := testConfig{Name: "default", TopK: 10}

		err := LoadConfig("", &config)

		require.NoError(t, err)
		assert.Equal(t, testConfig{Name: "default", TopK: 10}, config)
	})

	t.Run("YAML overrides set fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("top_k: 5\ntimeout: 2s\n"), 0o600))
		config := testConfig{Name: "default", TopK: 10}

		err := LoadConfig(path, &config)

		require.NoError(t, err)
		assert.Equal(t, testConfig{Name: "default", TopK: 5, Timeout: 2 * time.Second}, config)
	})

	t.Run("Missing file", func(t *testing.T) {
		err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), &testConfig{})
		assert.Error(t, err)
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("top_k: [1, 2\n"), 0o600))

		err := LoadConfig(path, &testConfig{})
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEDRAG_TEST_STRING", " ollama ")
	t.Setenv("MEDRAG_TEST_INT", "7")
	t.Setenv("MEDRAG_TEST_FLOAT", "0.85")
	t.Setenv("MEDRAG_TEST_BOOL", "false")
	t.Setenv("MEDRAG_TEST_DURATION", "250ms")
	t.Setenv("MEDRAG_TEST_EMPTY", "  ")

	s := "hugot"
	EnvString("MEDRAG_TEST_STRING", &s)
	assert.Equal(t, "ollama", s)

	unchanged := "kept"
	EnvString("MEDRAG_TEST_EMPTY", &unchanged)
	assert.Equal(t, "kept", unchanged)

	i := 1
	require.NoError(t, EnvInt("MEDRAG_TEST_INT", &i))
	assert.Equal(t, 7, i)

	f := 0.0
	require.NoError(t, EnvFloat("MEDRAG_TEST_FLOAT", &f))
	assert.Equal(t, 0.85, f)

	b := true
	require.NoError(t, EnvBool("MEDRAG_TEST_BOOL", &b))
	assert.False(t, b)

	d := time.Second
	require.NoError(t, EnvDuration("MEDRAG_TEST_DURATION", &d))
	assert.Equal(t, 250*time.Millisecond, d)

	unset := 3
	require.NoError(t, EnvInt("MEDRAG_TEST_UNSET", &unset))
	assert.Equal(t, 3, unset)

	t.Setenv("MEDRAG_TEST_INT", "seven")
	assert.Error(t, EnvInt("MEDRAG_TEST_INT", &i))
	assert.Equal(t, 7, i)
}
