package inject

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mementolabs/memento/internal/retrieval"
	"github.com/mementolabs/memento/internal/storage/sqlite"
	"github.com/mementolabs/memento/pkg/types"
)

func newInjector(t *testing.T) (*Injector, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewInjector(retrieval.NewSearcher(store, nil, nil)), store
}

func seed(t *testing.T, s *sqlite.Store, id, content string, mutate func(*types.Memory)) {
	t.Helper()
	m := &types.Memory{
		ID:           id,
		Type:         types.TypeSemantic,
		Content:      content,
		Importance:   0.5,
		PrivacyScope: types.ScopePrivate,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, s.InsertMemory(context.Background(), m))
}

func TestInjectEmptyStoreReturnsMarker(t *testing.T) {
	inj, _ := newInjector(t)

	block, stats, err := inj.Inject(context.Background(), "anything at all", Options{})
	require.NoError(t, err)
	assert.Equal(t, EmptyMarker, block)
	assert.Zero(t, stats.MemoriesUsed)
}

func TestInjectIncludesTypeTagAndStars(t *testing.T) {
	inj, store := newInjector(t)
	seed(t, store, "mem-1", "Deployment checklist for the payment service.", func(m *types.Memory) {
		m.Type = types.TypeProcedural
		m.Importance = 0.9
	})

	block, stats, err := inj.Inject(context.Background(), "payment deployment", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesUsed)
	assert.Contains(t, block, "[procedural]")
	assert.Contains(t, block, "★")
	assert.Contains(t, block, "Deployment checklist")
}

func TestInjectTightBudget(t *testing.T) {
	inj, store := newInjector(t)

	// Roughly 300 tokens of content per memory, three memories.
	long := strings.Repeat("hybrid retrieval pipeline tuning notes with many details. ", 21)
	for _, id := range []string{"mem-1", "mem-2", "mem-3"} {
		seed(t, store, id, long, nil)
	}

	block, stats, err := inj.Inject(context.Background(), "hybrid retrieval tuning", Options{
		TokenBudget: 300,
		MaxMemories: 5,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.MemoriesUsed, 1)
	assert.LessOrEqual(t, stats.TokenEstimate, 330) // budget with 10% slack
	assert.Contains(t, block, "[semantic]")
}

func TestInjectStopsAtFirstOverflow(t *testing.T) {
	inj, store := newInjector(t)

	long := strings.Repeat("Payment gateway retry policy details for checkout flows. ", 10)
	seed(t, store, "mem-big-1", long, func(m *types.Memory) { m.Importance = 0.9 })
	seed(t, store, "mem-big-2", long, func(m *types.Memory) { m.Importance = 0.7 })
	seed(t, store, "mem-small", "Payment team tiny note.", func(m *types.Memory) { m.Importance = 0.2 })

	// The second candidate overflows the budget, so packing stops there.
	// The small low-ranked memory must not leapfrog into the leftover space.
	block, stats, err := inj.Inject(context.Background(), "payment gateway retry", Options{
		TokenBudget: 70,
		MaxMemories: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesUsed)
	assert.NotContains(t, block, "tiny note")
}

func TestInjectRespectsMaxMemories(t *testing.T) {
	inj, store := newInjector(t)
	for _, id := range []string{"mem-1", "mem-2", "mem-3", "mem-4"} {
		seed(t, store, id, "shared searchable content "+id, nil)
	}

	_, stats, err := inj.Inject(context.Background(), "shared searchable content", Options{
		TokenBudget: 10000,
		MaxMemories: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoriesUsed)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestSummarizeShortContentUnchanged(t *testing.T) {
	content := "Short note that already fits."
	assert.Equal(t, content, Summarize(content, 100))
}

func TestSummarizeCompressesLongContent(t *testing.T) {
	content := "First sentence states the problem. " +
		strings.Repeat("Middle keyword cluster about database migration rollback procedures. ", 20) +
		"Last sentence states the resolution."

	out := Summarize(content, 40)
	assert.LessOrEqual(t, len(out), 40*4)
	assert.Contains(t, out, "First sentence states the problem.")
}

func TestSummarizeSingleSentenceTruncates(t *testing.T) {
	content := strings.Repeat("nostop ", 100)
	out := Summarize(content, 10)
	assert.LessOrEqual(t, len(out), 41)
}

func TestImportanceStars(t *testing.T) {
	assert.Equal(t, "★★★★★", importanceStars(1.0))
	assert.Equal(t, "☆☆☆☆☆", importanceStars(0.0))
	assert.Equal(t, "★★★☆☆", importanceStars(0.5))
}
