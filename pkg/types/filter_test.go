package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	now := time.Now()
	mem := &Memory{
		ID:           "mem-a",
		Type:         TypeSemantic,
		Content:      "content",
		Importance:   0.6,
		PrivacyScope: ScopeTeam,
		CreatedAt:    now.Add(-24 * time.Hour),
		Pinned:       true,
		Tags:         []string{"search", "Hybrid"},
	}

	pinned := true
	unpinned := false

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty_filter", Filter{}, true},
		{"type_match", Filter{Types: []MemoryType{TypeSemantic}}, true},
		{"type_miss", Filter{Types: []MemoryType{TypeWorking}}, false},
		{"tag_case_insensitive", Filter{Tags: []string{"hybrid"}}, true},
		{"tag_missing", Filter{Tags: []string{"cooking"}}, false},
		{"all_tags_required", Filter{Tags: []string{"search", "vector"}}, false},
		{"scope_match", Filter{Scopes: []PrivacyScope{ScopeTeam, ScopePublic}}, true},
		{"scope_miss", Filter{Scopes: []PrivacyScope{ScopePrivate}}, false},
		{"pinned_true", Filter{Pinned: &pinned}, true},
		{"pinned_false", Filter{Pinned: &unpinned}, false},
		{"id_match", Filter{IDs: []string{"mem-a", "mem-b"}}, true},
		{"id_miss", Filter{IDs: []string{"mem-z"}}, false},
		{"time_window_hit", Filter{TimeFrom: now.Add(-48 * time.Hour), TimeTo: now}, true},
		{"time_window_miss", Filter{TimeFrom: now.Add(-time.Hour)}, false},
		{"importance_min_hit", Filter{ImportanceMin: 0.5}, true},
		{"importance_min_miss", Filter{ImportanceMin: 0.9}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(mem))
		})
	}
}

func TestFilterValidate(t *testing.T) {
	require.NoError(t, (&Filter{Types: []MemoryType{TypeWorking}}).Validate())
	assert.Error(t, (&Filter{Types: []MemoryType{"bogus"}}).Validate())
	assert.Error(t, (&Filter{Scopes: []PrivacyScope{"bogus"}}).Validate())
	assert.Error(t, (&Filter{ImportanceMin: 2}).Validate())
}

func TestFilterFingerprintDeterminism(t *testing.T) {
	f1 := Filter{
		Types: []MemoryType{TypeSemantic, TypeWorking},
		Tags:  []string{"b", "a"},
	}
	f2 := Filter{
		Types: []MemoryType{TypeWorking, TypeSemantic},
		Tags:  []string{"A", "B"},
	}

	// Order and tag case must not affect the fingerprint.
	assert.Equal(t, f1.Fingerprint("hybrid search", 10), f2.Fingerprint("hybrid search", 10))

	// Query, limit, and constraints must.
	assert.NotEqual(t, f1.Fingerprint("hybrid search", 10), f1.Fingerprint("hybrid search", 20))
	assert.NotEqual(t, f1.Fingerprint("hybrid search", 10), f1.Fingerprint("vector search", 10))

	pinned := true
	f3 := f1
	f3.Pinned = &pinned
	assert.NotEqual(t, f1.Fingerprint("q", 10), f3.Fingerprint("q", 10))
}
