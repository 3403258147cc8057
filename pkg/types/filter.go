package types

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Filter is the shared candidate filter applied by lexical search, vector
// search, and maintenance scans. Zero-value fields impose no constraint.
type Filter struct {
	// Types restricts results to the listed memory types.
	Types []MemoryType `json:"types,omitempty"`

	// Tags requires every listed tag to be present on the memory.
	Tags []string `json:"tags,omitempty"`

	// Scopes restricts results to the listed privacy scopes.
	Scopes []PrivacyScope `json:"scopes,omitempty"`

	// TimeFrom/TimeTo bound created_at (inclusive from, exclusive to).
	TimeFrom time.Time `json:"time_from,omitempty"`
	TimeTo   time.Time `json:"time_to,omitempty"`

	// Pinned, when non-nil, restricts by the pinned flag.
	Pinned *bool `json:"pinned,omitempty"`

	// IDs restricts results to the listed memory ids.
	IDs []string `json:"ids,omitempty"`

	// ImportanceMin excludes memories below this importance.
	ImportanceMin float64 `json:"importance_min,omitempty"`
}

// Validate checks that every enumerated field carries recognised values.
func (f *Filter) Validate() error {
	for _, t := range f.Types {
		if !t.Valid() {
			return fmt.Errorf("invalid memory type in filter: %q", t)
		}
	}
	for _, s := range f.Scopes {
		if !s.Valid() {
			return fmt.Errorf("invalid privacy scope in filter: %q", s)
		}
	}
	if f.ImportanceMin < 0 || f.ImportanceMin > 1 {
		return fmt.Errorf("importance_min %.3f outside [0, 1]", f.ImportanceMin)
	}
	return nil
}

// Matches reports whether m satisfies every constraint of the filter.
// Used by in-process candidate filtering; the storage backends apply the
// same predicate in SQL.
func (f *Filter) Matches(m *Memory) bool {
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	if len(f.Scopes) > 0 && !containsScope(f.Scopes, m.PrivacyScope) {
		return false
	}
	for _, want := range f.Tags {
		if !containsFold(m.Tags, want) {
			return false
		}
	}
	if !f.TimeFrom.IsZero() && m.CreatedAt.Before(f.TimeFrom) {
		return false
	}
	if !f.TimeTo.IsZero() && !m.CreatedAt.Before(f.TimeTo) {
		return false
	}
	if f.Pinned != nil && m.Pinned != *f.Pinned {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == m.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ImportanceMin > 0 && m.Importance < f.ImportanceMin {
		return false
	}
	return true
}

// Fingerprint derives a stable cache key from the normalized query text,
// the filter constraints, and the result limit. Identical searches against
// the same store state share a fingerprint.
func (f *Filter) Fingerprint(normalizedQuery string, limit int) string {
	h := fnv.New64a()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.Write([]byte(p))
			_, _ = h.Write([]byte{0})
		}
	}

	write("q", normalizedQuery, fmt.Sprintf("limit=%d", limit))

	types := make([]string, len(f.Types))
	for i, t := range f.Types {
		types[i] = string(t)
	}
	sort.Strings(types)
	write(types...)

	tags := append([]string(nil), f.Tags...)
	for i := range tags {
		tags[i] = strings.ToLower(tags[i])
	}
	sort.Strings(tags)
	write(tags...)

	scopes := make([]string, len(f.Scopes))
	for i, s := range f.Scopes {
		scopes[i] = string(s)
	}
	sort.Strings(scopes)
	write(scopes...)

	if !f.TimeFrom.IsZero() {
		write("from", f.TimeFrom.UTC().Format(time.RFC3339Nano))
	}
	if !f.TimeTo.IsZero() {
		write("to", f.TimeTo.UTC().Format(time.RFC3339Nano))
	}
	if f.Pinned != nil {
		write(fmt.Sprintf("pinned=%t", *f.Pinned))
	}

	ids := append([]string(nil), f.IDs...)
	sort.Strings(ids)
	write(ids...)

	if f.ImportanceMin > 0 {
		write(fmt.Sprintf("imin=%.6f", f.ImportanceMin))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

func containsType(haystack []MemoryType, needle MemoryType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsScope(haystack []PrivacyScope, needle PrivacyScope) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
