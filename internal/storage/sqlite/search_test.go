package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

func TestLexicalSearchMatchesContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, "mem-a", "Hybrid search engine architecture overview", func(m *types.Memory) {
		m.Tags = []string{"search", "hybrid"}
	})
	seedMemory(t, s, "mem-b", "Cooking recipe for pasta with tomato sauce", func(m *types.Memory) {
		m.Type = types.TypeEpisodic
		m.Tags = []string{"cooking"}
	})

	hits, err := s.LexicalSearch(ctx, "hybrid search", types.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-a", hits[0].MemoryID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestLexicalSearchEmptyQueryReturnsFilterSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, "mem-a", "first memory", nil)
	seedMemory(t, s, "mem-b", "second memory", nil)

	// P1: empty query plus id filter returns exactly that memory.
	hits, err := s.LexicalSearch(ctx, "", types.Filter{IDs: []string{"mem-b"}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-b", hits[0].MemoryID)
}

func TestLexicalSearchStopWordOnlyQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMemory(t, s, "mem-a", "something to find", nil)

	// A query that sanitises to nothing behaves like the empty query.
	hits, err := s.LexicalSearch(ctx, "what is the", types.Filter{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestLexicalSearchTagFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, "mem-a", "hybrid search notes one", func(m *types.Memory) {
		m.Tags = []string{"search"}
	})
	seedMemory(t, s, "mem-b", "hybrid search notes two", func(m *types.Memory) {
		m.Tags = []string{"vector"}
	})

	hits, err := s.LexicalSearch(ctx, "hybrid", types.Filter{Tags: []string{"vector"}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-b", hits[0].MemoryID)
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, "mem-a", "close vector", nil)
	seedMemory(t, s, "mem-b", "far vector", nil)
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-a", []float32{1, 0, 0}, "local"))
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-b", []float32{0, 1, 0}, "local"))

	hits, err := s.VectorSearch(ctx, []float32{0.9, 0.1, 0}, types.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mem-a", hits[0].MemoryID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestVectorSearchSkipsMismatchedDimensions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMemory(t, s, "mem-a", "three dims", nil)
	seedMemory(t, s, "mem-b", "four dims", nil)
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-a", []float32{1, 0, 0}, "local"))
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-b", []float32{1, 0, 0, 0}, "other"))

	hits, err := s.VectorSearch(ctx, []float32{1, 0, 0}, types.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-a", hits[0].MemoryID)
}

func TestVectorSearchTimeWindowFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Both memory_item and memory_embedding carry a created_at column, so
	// the time conditions must stay unambiguous across the join.
	seedMemory(t, s, "mem-old", "stale note", func(m *types.Memory) {
		m.CreatedAt = now.Add(-72 * time.Hour)
	})
	seedMemory(t, s, "mem-new", "fresh note", nil)
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-old", []float32{1, 0, 0}, "local"))
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-new", []float32{1, 0, 0}, "local"))

	filter := types.Filter{TimeFrom: now.Add(-24 * time.Hour)}
	hits, err := s.VectorSearch(ctx, []float32{1, 0, 0}, filter, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-new", hits[0].MemoryID)
}

func TestLexicalSearchTimeWindowFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedMemory(t, s, "mem-old", "release checklist draft", func(m *types.Memory) {
		m.CreatedAt = now.Add(-72 * time.Hour)
	})
	seedMemory(t, s, "mem-new", "release checklist final", nil)

	filter := types.Filter{
		TimeFrom: now.Add(-24 * time.Hour),
		TimeTo:   now.Add(time.Hour),
	}
	hits, err := s.LexicalSearch(ctx, "release checklist", filter, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem-new", hits[0].MemoryID)
}

func TestVectorSearchUnavailableWithoutEmbeddings(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "mem-a", "no embedding yet", nil)

	_, err := s.VectorSearch(context.Background(), []float32{1, 0, 0}, types.Filter{}, 10)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestEmbeddingUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMemory(t, s, "mem-a", "embedding target", nil)

	require.NoError(t, s.UpsertEmbedding(ctx, "mem-a", []float32{1, 2, 3}, "local"))
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-a", []float32{4, 5}, "openai"))

	vec, model, err := s.GetEmbedding(ctx, "mem-a")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5}, vec)
	assert.Equal(t, "openai", model)

	// At most one embedding per memory.
	var count int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM memory_embedding WHERE memory_id = 'mem-a'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDeleteEmbeddingIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMemory(t, s, "mem-a", "embedding target", nil)
	require.NoError(t, s.UpsertEmbedding(ctx, "mem-a", []float32{1}, "local"))

	require.NoError(t, s.DeleteEmbedding(ctx, "mem-a"))
	require.NoError(t, s.DeleteEmbedding(ctx, "mem-a"))
}

func TestSanitiseFTSQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"What is Memento?", "memento*"},
		{"hybrid search", "hybrid* OR search*"},
		{"the a is", ""},
		{`"quoted" (grouped)`, "quoted* OR grouped*"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitiseFTSQuery(tc.in), "query %q", tc.in)
	}
}
