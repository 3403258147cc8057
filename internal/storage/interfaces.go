// Package storage defines the narrow persistence gateway the memory engine
// is written against. The interfaces are small and composable so that
// backends (SQLite with FTS5, Postgres with pgvector) can be implemented
// independently and swapped by configuration.
//
// All calls are single-shot: no handle outlives the call, and every write
// is transactional inside the backend.
package storage

import (
	"context"

	"github.com/mementolabs/memento/pkg/types"
)

// MemoryStore provides transactional CRUD over memory rows.
type MemoryStore interface {
	// InsertMemory commits a new memory row atomically with initialized
	// counters. Returns ErrContention when the store is busy (the caller
	// retries via WithRetry), ErrInvalidInput on validation failure.
	InsertMemory(ctx context.Context, m *types.Memory) error

	// GetMemory retrieves a memory by id. Returns ErrNotFound if absent.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// UpdateFlags applies the non-nil fields of upd to the row. Idempotent.
	// Returns ErrNotFound if the id is absent.
	UpdateFlags(ctx context.Context, id string, upd FlagUpdate) error

	// SoftDelete demotes a memory: pinned is cleared, usage counters are
	// reset, and last_accessed is refreshed. The row is kept. Returns the
	// number of matched rows (0 or 1).
	SoftDelete(ctx context.Context, id string) (int, error)

	// HardDelete removes the row and cascades to its embedding, links, and
	// feedback in the same transaction. Returns ErrNotFound if absent.
	HardDelete(ctx context.Context, id string) error

	// ScanCandidates returns rows matching the filter, ordered by the given
	// order clause. Used by maintenance passes and batched row fetches.
	ScanCandidates(ctx context.Context, filter types.Filter, order ScanOrder) ([]types.Memory, error)

	// Checkpoint asks the backend to flush and compact. Invoked by the
	// scheduler after persistent contention storms.
	Checkpoint(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}

// SearchProvider exposes the two retrieval primitives the hybrid layer
// fans out to.
type SearchProvider interface {
	// LexicalSearch runs a full-text match over content, tags, and source.
	// An empty query is valid and returns the filter-matching set ordered
	// by recency. Scores are provider-native; the ranker normalizes.
	LexicalSearch(ctx context.Context, query string, filter types.Filter, k int) ([]SearchHit, error)

	// VectorSearch returns the top-k candidates by cosine similarity among
	// stored embeddings of the same dimension as vec. Returns
	// ErrUnavailable when no vector index exists; the hybrid layer
	// downgrades to lexical-only.
	VectorSearch(ctx context.Context, vec []float32, filter types.Filter, k int) ([]SearchHit, error)
}

// EmbeddingStore persists derived vectors alongside memory rows.
// At most one embedding exists per memory.
type EmbeddingStore interface {
	// UpsertEmbedding replaces any prior vector for the memory.
	UpsertEmbedding(ctx context.Context, memoryID string, vec []float32, model string) error

	// GetEmbedding returns the stored vector and its model identifier.
	// Returns ErrNotFound when the memory has no embedding.
	GetEmbedding(ctx context.Context, memoryID string) ([]float32, string, error)

	// DeleteEmbedding removes the stored vector. Deleting a missing
	// embedding is not an error.
	DeleteEmbedding(ctx context.Context, memoryID string) error
}

// LinkStore manages directed edges between memories.
type LinkStore interface {
	// InsertLink records a directed edge. Inserting a duplicate edge is a
	// no-op.
	InsertLink(ctx context.Context, link *types.Link) error

	// LinksFor returns all edges where id is either endpoint.
	LinksFor(ctx context.Context, id string) ([]types.Link, error)
}

// FeedbackStore appends usage and quality signals.
type FeedbackStore interface {
	// AppendFeedback records one event. Feedback is append-only.
	AppendFeedback(ctx context.Context, fb *types.Feedback) error

	// FeedbackFor returns events for a memory, newest first, up to limit.
	FeedbackFor(ctx context.Context, memoryID string, limit int) ([]types.Feedback, error)
}

// Gateway bundles every persistence capability a backend must provide.
// Concrete backends (sqlite.Store, postgres.Store) implement all of it over
// a single shared database handle.
type Gateway interface {
	MemoryStore
	SearchProvider
	EmbeddingStore
	LinkStore
	FeedbackStore
}

// SearchHit is one candidate returned by a retrieval primitive, carrying
// the provider-native score (FTS rank or cosine similarity).
type SearchHit struct {
	MemoryID string
	Score    float64
}

// FlagUpdate names the mutable flags of a memory row. Nil fields are left
// untouched, so updates compose and stay idempotent.
type FlagUpdate struct {
	// Pinned sets the pinned flag.
	Pinned *bool

	// TouchLastAccessed refreshes last_accessed to the current time.
	TouchLastAccessed bool

	// AddViews/AddCites/AddEdits increment the usage counters.
	AddViews int
	AddCites int
	AddEdits int
}

// ScanOrder selects the ordering of ScanCandidates results.
type ScanOrder string

const (
	// OrderCreatedDesc returns newest rows first (the default).
	OrderCreatedDesc ScanOrder = "created_desc"

	// OrderCreatedAsc returns oldest rows first, used by maintenance
	// passes so long-lived rows are evaluated before fresh ones.
	OrderCreatedAsc ScanOrder = "created_asc"
)
