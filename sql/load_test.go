package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	db := initDB(t)
	defer db.Close()

	t.Run("Vector extension is created", func(t *testing.T) {
		var exists bool
		err := db.Instance.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector');").Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "pgvector extension should be created")
	})

	t.Run("Init is idempotent", func(t *testing.T) {
		assert.NoError(t, Init(db.Instance))
		assert.NoError(t, Init(db.Instance))
	})
}

func TestLoadChunksSql(t *testing.T) {
	db := initDB(t)
	defer db.Close()

	t.Run("Load chunks functions", func(t *testing.T) {
		err := LoadChunksSql(db.Instance, false, nil)
		require.NoError(t, err)

		missing, err := missingFunctions(db.Instance, ChunksFunctions)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("Load without force is a no-op", func(t *testing.T) {
		assert.NoError(t, LoadChunksSql(db.Instance, false, nil))
	})

	t.Run("Load with force replaces the functions", func(t *testing.T) {
		assert.NoError(t, LoadChunksSql(db.Instance, true, nil))
	})

	t.Run("Table is created with the requested dimension", func(t *testing.T) {
		_, err := db.Instance.Exec(`SELECT init_chunks($1);`, 3)
		require.NoError(t, err)

		var dimension int
		err = db.Instance.QueryRow(`SELECT select_embedding_dimension();`).Scan(&dimension)
		require.NoError(t, err)
		assert.Equal(t, 3, dimension)

		_, err = db.Instance.Exec(`DROP TABLE chunks;`)
		require.NoError(t, err)
	})
}

func TestMissingFunctions(t *testing.T) {
	db := initDB(t)
	defer db.Close()

	missing, err := missingFunctions(db.Instance, []string{"medrag_function_that_does_not_exist"})
	require.NoError(t, err)
	assert.Equal(t, []string{"medrag_function_that_does_not_exist"}, missing)
}
