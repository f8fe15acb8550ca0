package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/siherrmann/medrag/helper"
)

//go:embed init.sql
var initSQL string

//go:embed chunks.sql
var chunksSQL string

// ChunksFunctions are the functions chunks.sql creates
var ChunksFunctions = []string{
	"init_chunks",
	"select_embedding_dimension",
	"upsert_chunk",
	"select_chunk",
	"select_chunks_by_filter",
	"select_chunks_by_similarity",
	"select_chunks_without_embedding",
	"update_chunk_embedding",
	"delete_chunk",
	"delete_chunks_by_patient",
	"count_chunks",
}

// Init creates the database extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return helper.NewError("execute init sql", err)
	}
	return nil
}

// LoadChunksSql loads the chunk functions. Unless force is set, nothing is
// executed when all functions already exist.
func LoadChunksSql(db *sql.DB, force bool, logger *slog.Logger) error {
	logger = helper.LoggerOrDefault(logger)

	if !force {
		missing, err := missingFunctions(db, ChunksFunctions)
		if err != nil {
			return helper.NewError("check chunks functions", err)
		}
		if len(missing) == 0 {
			return nil
		}
		logger.Debug("Chunks functions missing", slog.Any("functions", missing))
	}

	_, err := db.Exec(chunksSQL)
	if err != nil {
		return helper.NewError("execute chunks sql", err)
	}

	missing, err := missingFunctions(db, ChunksFunctions)
	if err != nil {
		return helper.NewError("check chunks functions", err)
	}
	if len(missing) > 0 {
		return helper.NewError("load chunks sql", fmt.Errorf("functions not created: %v", missing))
	}

	logger.Info("Loaded chunks functions")
	return nil
}

// missingFunctions returns the functions of sqlFunctions that do not exist
func missingFunctions(db *sql.DB, sqlFunctions []string) ([]string, error) {
	var missing []string
	for _, f := range sqlFunctions {
		var exists bool
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check function %s: %w", f, err)
		}
		if !exists {
			missing = append(missing, f)
		}
	}
	return missing, nil
}
