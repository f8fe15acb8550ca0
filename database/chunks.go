package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/medrag/core/retrieval"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
	loadSql "github.com/siherrmann/medrag/sql"
)

// embeddingBatchSize is the number of chunks embedded per round trip in Index
const embeddingBatchSize = 64

var (
	_ retrieval.MetadataFilter = (*ChunksDBHandler)(nil)
	_ retrieval.VectorSearcher = (*ChunksDBHandler)(nil)
	_ retrieval.ChunkIndexer   = (*ChunksDBHandler)(nil)
	_ retrieval.ChunkCounter   = (*ChunksDBHandler)(nil)
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	ApplyFilters(ctx context.Context, criteria model.FilterCriteria) ([]*model.Chunk, error)
	Search(ctx context.Context, embedding []float32, k int) ([]model.VectorMatch, error)
	Dimension() int
	Index(ctx context.Context, chunks []*model.Chunk) error
	UpsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error)
	SelectChunk(ctx context.Context, id string) (*model.Chunk, error)
	DeleteChunk(ctx context.Context, id string) (bool, error)
	DeleteChunksByPatient(ctx context.Context, patientID string) (int, error)
	CountChunks(ctx context.Context) (int, error)
}

// ChunksDBHandler stores chunks in PostgreSQL. It serves as the metadata
// filter and the pgvector backed semantic searcher of the retriever.
type ChunksDBHandler struct {
	db        *helper.Database
	embedder  retrieval.Embedder
	dimension int
}

// NewChunksDBHandler creates a new chunks database handler.
// It loads the chunk SQL functions and creates the table. If force is true,
// the SQL functions are reloaded even if they already exist. embedder is used
// by Index for chunks without an embedding and may be nil.
func NewChunksDBHandler(db *helper.Database, embedder retrieval.Embedder, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive"))
	}

	h := &ChunksDBHandler{
		db:       db,
		embedder: embedder,
	}

	err := loadSql.LoadChunksSql(db.Instance, force, db.Logger)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = h.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler", slog.Int("dimension", h.dimension))

	return h, nil
}

// CreateTable creates the 'chunks' table with its indexes if it does not
// exist yet. An existing table with a different embedding dimension is an
// error.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		return helper.NewError("init chunks", err)
	}

	var dimension int
	err = h.db.Instance.QueryRowContext(ctx, `SELECT select_embedding_dimension();`).Scan(&dimension)
	if err != nil {
		return helper.NewError("select embedding dimension", err)
	}
	if dimension != embeddingDim {
		return helper.NewError("create table", fmt.Errorf("%w: table has %d dimensions, expected %d", retrieval.ErrDimensionMismatch, dimension, embeddingDim))
	}
	h.dimension = dimension

	h.db.Logger.Debug("Checked/created table chunks")

	return nil
}

// Dimension returns the embedding dimension of the chunks table
func (h *ChunksDBHandler) Dimension() int {
	return h.dimension
}

// UpsertChunk inserts or replaces a chunk. It reports whether the chunk was
// newly inserted. A chunk without an embedding keeps its stored embedding
// as long as its content did not change.
func (h *ChunksDBHandler) UpsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error) {
	return h.upsert(ctx, h.db.Instance, chunk)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (h *ChunksDBHandler) upsert(ctx context.Context, q rowQuerier, chunk *model.Chunk) (bool, error) {
	if chunk == nil || chunk.ID == "" {
		return false, helper.NewError("upsert chunk", fmt.Errorf("chunk without id"))
	}

	embedding, err := h.vector(chunk.ID, chunk.Embedding)
	if err != nil {
		return false, err
	}
	var occurredAt interface{}
	if date, ok := chunk.Date(); ok {
		occurredAt = date
	}

	var inserted bool
	err = q.QueryRowContext(
		ctx,
		`SELECT upsert_chunk($1, $2, $3, $4, $5, $6, $7, $8)`,
		chunk.ID,
		chunk.ArtifactID,
		chunk.PatientID,
		chunk.Content,
		string(chunk.Metadata.ArtifactType),
		occurredAt,
		chunk.Metadata,
		embedding,
	).Scan(&inserted)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return inserted, nil
}

// vector converts an embedding to a query parameter, nil for a missing embedding
func (h *ChunksDBHandler) vector(chunkID string, embedding []float32) (interface{}, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if len(embedding) != h.dimension {
		return nil, helper.NewError("embedding validation", fmt.Errorf("%w: chunk %s has %d dimensions, expected %d", retrieval.ErrDimensionMismatch, chunkID, len(embedding), h.dimension))
	}
	return pgvector.NewVector(embedding), nil
}

// Index upserts chunks in one transaction and embeds every stored chunk that
// has no embedding yet. Stored chunks missing from chunks are kept; use
// DeleteChunk or DeleteChunksByPatient to remove them.
func (h *ChunksDBHandler) Index(ctx context.Context, chunks []*model.Chunk) error {
	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		isNew, err := h.upsert(ctx, tx, chunk)
		if err != nil {
			return err
		}
		if isNew {
			inserted++
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	embedded, err := h.embedMissing(ctx)
	if err != nil {
		return err
	}

	h.db.Logger.Info(
		"Indexed chunks",
		slog.Int("chunks", len(chunks)),
		slog.Int("inserted", inserted),
		slog.Int("embedded", embedded),
	)
	return nil
}

// embedMissing embeds the stored chunks without an embedding batch by batch
func (h *ChunksDBHandler) embedMissing(ctx context.Context) (int, error) {
	embedded := 0
	for {
		pending, err := h.selectWithoutEmbedding(ctx, embeddingBatchSize)
		if err != nil {
			return embedded, err
		}
		if len(pending) == 0 {
			return embedded, nil
		}
		if h.embedder == nil {
			return embedded, helper.NewError("embed chunks", fmt.Errorf("%d chunks have no embedding and no embedder is set", len(pending)))
		}

		for _, chunk := range pending {
			embedding, err := h.embedder.Embed(ctx, chunk.Content)
			if err != nil {
				return embedded, helper.NewError("embed chunk", err)
			}
			if len(embedding) == 0 {
				return embedded, helper.NewError("embed chunk", fmt.Errorf("empty embedding for chunk %s", chunk.ID))
			}
			vector, err := h.vector(chunk.ID, embedding)
			if err != nil {
				return embedded, err
			}

			var updated bool
			err = h.db.Instance.QueryRowContext(
				ctx,
				`SELECT update_chunk_embedding($1, $2)`,
				chunk.ID,
				vector,
			).Scan(&updated)
			if err != nil {
				return embedded, helper.NewError("update chunk embedding", err)
			}
			if updated {
				embedded++
			}
		}
	}
}

func (h *ChunksDBHandler) selectWithoutEmbedding(ctx context.Context, limit int) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_without_embedding($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(&chunk.ID, &chunk.Content)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// SelectChunk retrieves a chunk with its embedding by ID
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, id string) (*model.Chunk, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_chunk($1)`,
		id,
	)

	chunk := &model.Chunk{}
	var embedding *pgvector.Vector
	err := row.Scan(
		&chunk.ID,
		&chunk.ArtifactID,
		&chunk.PatientID,
		&chunk.Content,
		&chunk.Metadata,
		&embedding,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}

	return chunk, nil
}

// ApplyFilters returns the chunks of the patient matching the criteria.
// Chunks without a parseable date only pass when no date bound is set.
func (h *ChunksDBHandler) ApplyFilters(ctx context.Context, criteria model.FilterCriteria) ([]*model.Chunk, error) {
	var artifactTypes interface{}
	if len(criteria.ArtifactTypes) > 0 {
		types := make([]string, len(criteria.ArtifactTypes))
		for i, t := range criteria.ArtifactTypes {
			types[i] = string(t)
		}
		artifactTypes = pq.Array(types)
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_filter($1, $2, $3, $4)`,
		criteria.PatientID,
		artifactTypes,
		timeParam(criteria.DateFrom),
		timeParam(criteria.DateTo),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(
			&chunk.ID,
			&chunk.ArtifactID,
			&chunk.PatientID,
			&chunk.Content,
			&chunk.Metadata,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

func timeParam(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Search returns the k stored chunks closest to embedding by cosine
// distance. Similarities are clamped to [0, 1].
func (h *ChunksDBHandler) Search(ctx context.Context, embedding []float32, k int) ([]model.VectorMatch, error) {
	if len(embedding) != h.dimension {
		return nil, helper.NewError("search", fmt.Errorf("%w: query %d, index %d", retrieval.ErrDimensionMismatch, len(embedding), h.dimension))
	}
	if k <= 0 {
		return []model.VectorMatch{}, nil
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2)`,
		pgvector.NewVector(embedding),
		k,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	matches := []model.VectorMatch{}
	for rows.Next() {
		var match model.VectorMatch
		var similarity float64
		err := rows.Scan(&match.ID, &similarity)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		// Zero vectors have no cosine distance.
		if !math.IsNaN(similarity) {
			match.Score = helper.Clamp(similarity, 0, 1)
		}
		matches = append(matches, match)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return matches, nil
}

// DeleteChunk deletes a chunk by ID and reports whether it existed
func (h *ChunksDBHandler) DeleteChunk(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := h.db.Instance.QueryRowContext(ctx, `SELECT delete_chunk($1)`, id).Scan(&deleted)
	if err != nil {
		return false, helper.NewError("delete chunk", err)
	}
	return deleted, nil
}

// DeleteChunksByPatient deletes all chunks of a patient and returns how many were removed
func (h *ChunksDBHandler) DeleteChunksByPatient(ctx context.Context, patientID string) (int, error) {
	var deleted int
	err := h.db.Instance.QueryRowContext(ctx, `SELECT delete_chunks_by_patient($1)`, patientID).Scan(&deleted)
	if err != nil {
		return 0, helper.NewError("delete chunks by patient", err)
	}
	return deleted, nil
}

// CountChunks returns the number of stored chunks
func (h *ChunksDBHandler) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := h.db.Instance.QueryRowContext(ctx, `SELECT count_chunks()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("count chunks", err)
	}
	return count, nil
}
