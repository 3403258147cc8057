package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mementolabs/memento/internal/storage"
)

// UpsertEmbedding replaces any prior vector for the memory. Vectors are
// serialized as little-endian float32 BLOBs: compact, and cheap to decode
// during the in-process cosine scan.
func (s *Store) UpsertEmbedding(ctx context.Context, memoryID string, vec []float32, model string) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embedding (memory_id, vector, dim, model, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(memory_id) DO UPDATE SET
			vector = excluded.vector,
			dim = excluded.dim,
			model = excluded.model,
			created_at = CURRENT_TIMESTAMP`,
		memoryID, encodeVector(vec), len(vec), model)
	if err != nil {
		return mapSQLiteError("upsert embedding", err)
	}
	return nil
}

// GetEmbedding returns the stored vector and its model identifier.
func (s *Store) GetEmbedding(ctx context.Context, memoryID string) ([]float32, string, error) {
	var blob []byte
	var dim int
	var model string

	err := s.db.QueryRowContext(ctx, `
		SELECT vector, dim, model FROM memory_embedding WHERE memory_id = ?`,
		memoryID).Scan(&blob, &dim, &model)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", mapSQLiteError("get embedding", err)
	}

	vec, err := decodeVector(blob, dim)
	if err != nil {
		return nil, "", fmt.Errorf("%w: embedding blob for %s: %v", storage.ErrCorruption, memoryID, err)
	}
	return vec, model, nil
}

// DeleteEmbedding removes the stored vector. Missing embeddings are not an
// error: the caller's goal state (no embedding) already holds.
func (s *Store) DeleteEmbedding(ctx context.Context, memoryID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_embedding WHERE memory_id = ?`, memoryID); err != nil {
		return mapSQLiteError("delete embedding", err)
	}
	return nil
}

// encodeVector serializes vec as little-endian IEEE-754 float32 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector parses a little-endian float32 BLOB, validating its size
// against the recorded dimension.
func decodeVector(buf []byte, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("blob size %d does not match dimension %d", len(buf), dim)
	}
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
