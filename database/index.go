package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// Vector index types supported by pgvector
const (
	IndexTypeHNSW    = "hnsw"
	IndexTypeIVFFlat = "ivfflat"
)

// indexStatement returns the statement creating the embedding index for config.
// Zero parameters fall back to the pgvector defaults.
func indexStatement(config model.VectorIndexConfig) (string, error) {
	switch config.Type {
	case IndexTypeHNSW, "":
		m := config.M
		if m <= 0 {
			m = 16
		}
		efConstruction := config.EfConstruction
		if efConstruction <= 0 {
			efConstruction = 64
		}
		return fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			m, efConstruction,
		), nil
	case IndexTypeIVFFlat:
		lists := config.Lists
		if lists <= 0 {
			lists = 100
		}
		return fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			lists,
		), nil
	default:
		return "", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", config.Type)
	}
}

// ChangeIndexType replaces the vector index of the chunks table
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, config model.VectorIndexConfig) error {
	statement, err := indexStatement(config)
	if err != nil {
		return helper.NewError("change index type", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_chunks_embedding;`)
	if err != nil {
		return helper.NewError("drop index", err)
	}
	_, err = tx.ExecContext(ctx, statement)
	if err != nil {
		return helper.NewError("create index", err)
	}
	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	h.db.Logger.Info("Changed vector index", slog.String("type", config.Type))

	return nil
}
