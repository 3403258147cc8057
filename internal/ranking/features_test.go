package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mementolabs/memento/pkg/types"
)

func mem(id string, mutate func(*types.Memory)) types.Memory {
	m := types.Memory{
		ID:           id,
		Type:         types.TypeSemantic,
		Content:      "placeholder content",
		Importance:   0.5,
		PrivacyScope: types.ScopePrivate,
		CreatedAt:    time.Now(),
	}
	if mutate != nil {
		mutate(&m)
	}
	return m
}

func TestRecencyHalfLife(t *testing.T) {
	now := time.Now()

	fresh := mem("mem-1", nil)
	assert.InDelta(t, 1.0, Recency(&fresh, now), 0.01)

	// One half-life old scores 0.5 for each type.
	for typ, halfLife := range RecencyHalfLifeDays {
		m := mem("mem-2", func(m *types.Memory) {
			m.Type = typ
			m.CreatedAt = now.Add(-time.Duration(halfLife*24) * time.Hour)
		})
		assert.InDelta(t, 0.5, Recency(&m, now), 0.01, "type %s", typ)
	}
}

func TestRecencyWorkingDecaysFasterThanSemantic(t *testing.T) {
	now := time.Now()
	weekOld := now.Add(-7 * 24 * time.Hour)

	working := mem("mem-w", func(m *types.Memory) {
		m.Type = types.TypeWorking
		m.CreatedAt = weekOld
	})
	semantic := mem("mem-s", func(m *types.Memory) {
		m.CreatedAt = weekOld
	})

	assert.Less(t, Recency(&working, now), Recency(&semantic, now))
}

func TestImportanceBoosts(t *testing.T) {
	base := mem("mem-1", func(m *types.Memory) { m.Type = types.TypeEpisodic })
	assert.InDelta(t, 0.5, Importance(&base), 1e-9)

	pinned := mem("mem-2", func(m *types.Memory) {
		m.Type = types.TypeEpisodic
		m.Pinned = true
	})
	assert.InDelta(t, 0.7, Importance(&pinned), 1e-9)

	semantic := mem("mem-3", nil)
	assert.InDelta(t, 0.6, Importance(&semantic), 1e-9)

	working := mem("mem-4", func(m *types.Memory) { m.Type = types.TypeWorking })
	assert.InDelta(t, 0.45, Importance(&working), 1e-9)

	// Clamped at 1.
	maxed := mem("mem-5", func(m *types.Memory) {
		m.Importance = 1.0
		m.Pinned = true
	})
	assert.Equal(t, 1.0, Importance(&maxed))
}

func TestUsageLogScaling(t *testing.T) {
	unused := mem("mem-1", nil)
	assert.Zero(t, Usage(&unused))

	viewed := mem("mem-2", func(m *types.Memory) { m.ViewCount = 10 })
	cited := mem("mem-3", func(m *types.Memory) { m.CiteCount = 10 })
	assert.Greater(t, Usage(&cited), Usage(&viewed))

	expected := (math.Log1p(5) + 2*math.Log1p(3) + 0.5*math.Log1p(2)) / 10
	mixed := mem("mem-4", func(m *types.Memory) {
		m.ViewCount = 5
		m.CiteCount = 3
		m.EditCount = 2
	})
	assert.InDelta(t, expected, Usage(&mixed), 1e-9)
}

func TestRelevanceComponents(t *testing.T) {
	queryTokens := QueryTokens("database tuning")

	full := &Candidate{
		Cosine:  1.0,
		Lexical: 1000, // saturates toward 1
		Memory: mem("mem-1", func(m *types.Memory) {
			m.Content = "Database tuning checklist\nand details below"
			m.Tags = []string{"database", "tuning"}
		}),
	}
	got := Relevance(full, queryTokens)
	assert.InDelta(t, 0.60+0.30*(1000.0/1002.0)+0.05+0.05, got, 1e-9)

	empty := &Candidate{Memory: mem("mem-2", func(m *types.Memory) {
		m.Content = "unrelated cooking notes"
	})}
	assert.Zero(t, Relevance(empty, queryTokens))
}

func TestRelevanceNegativeCosineClamped(t *testing.T) {
	c := &Candidate{Cosine: -0.8, Memory: mem("mem-1", nil)}
	assert.GreaterOrEqual(t, Relevance(c, QueryTokens("anything")), 0.0)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, 0.0, jaccard([]string{"a"}, []string{"b"}))
	assert.InDelta(t, 1.0/3.0, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Equal(t, 0.0, jaccard(nil, []string{"a"}))
}

func TestTitleHit(t *testing.T) {
	m := mem("mem-1", func(m *types.Memory) {
		m.Content = "Postgres upgrade runbook\nstep one..."
	})
	assert.True(t, titleHit(m.Title(), QueryTokens("upgrade postgres")))
	assert.False(t, titleHit(m.Title(), QueryTokens("kubernetes")))
}
