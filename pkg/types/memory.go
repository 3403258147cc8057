// Package types defines the shared entities of the Memento memory system:
// memories, links, feedback events, and the filter set used by search and
// maintenance operations.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MemoryType classifies a memory and governs its recency half-life and the
// TTL gates applied by the forgetting controller.
type MemoryType string

const (
	// TypeWorking is short-lived scratch context (half-life 2 days).
	TypeWorking MemoryType = "working"

	// TypeEpisodic records events and interactions (half-life 30 days).
	TypeEpisodic MemoryType = "episodic"

	// TypeSemantic holds durable facts and knowledge (half-life 180 days).
	TypeSemantic MemoryType = "semantic"

	// TypeProcedural holds how-to knowledge (half-life 90 days).
	TypeProcedural MemoryType = "procedural"
)

// Valid reports whether t is one of the four recognised memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

// AllMemoryTypes lists every valid memory type. Useful for iteration in
// maintenance passes and for input validation messages.
var AllMemoryTypes = []MemoryType{TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural}

// PrivacyScope controls who may retrieve a memory.
type PrivacyScope string

const (
	// ScopePrivate memories are visible only to their owner.
	ScopePrivate PrivacyScope = "private"

	// ScopeTeam memories are shared with the owner's team.
	ScopeTeam PrivacyScope = "team"

	// ScopePublic memories are visible to everyone.
	ScopePublic PrivacyScope = "public"
)

// Valid reports whether s is a recognised privacy scope.
func (s PrivacyScope) Valid() bool {
	switch s {
	case ScopePrivate, ScopeTeam, ScopePublic:
		return true
	}
	return false
}

// DefaultImportance is assigned to memories stored without an explicit
// importance value.
const DefaultImportance = 0.5

// Memory is the atomic unit of storage and retrieval: a typed text record
// with scoring metadata and usage counters.
type Memory struct {
	// ID is the unique opaque identifier (format: mem-<uuid>).
	ID string `json:"id"`

	// Type classifies the memory (working, episodic, semantic, procedural).
	Type MemoryType `json:"type"`

	// Content is the raw memory text. Never empty for a stored memory.
	Content string `json:"content"`

	// Importance is the user-supplied priority in [0, 1] (default 0.5).
	Importance float64 `json:"importance"`

	// PrivacyScope controls retrieval visibility.
	PrivacyScope PrivacyScope `json:"privacy_scope"`

	// CreatedAt is when the memory was committed.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is the most recent explicit use or citation, nil if the
	// memory has never been used. Read access alone does not refresh it.
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	// Pinned memories are exempt from controller-driven deletion.
	Pinned bool `json:"pinned"`

	// Tags are short user-defined labels.
	Tags []string `json:"tags,omitempty"`

	// Source records where the memory came from (e.g. "manual", "chat").
	Source string `json:"source,omitempty"`

	// Usage counters. Feed the usage score and the forgetting controller.
	ViewCount int `json:"view_count"`
	CiteCount int `json:"cite_count"`
	EditCount int `json:"edit_count"`

	// Optional attribution.
	Project string `json:"project,omitempty"`
	User    string `json:"user,omitempty"`
	Agent   string `json:"agent,omitempty"`
}

// Title returns the first line of the content, truncated to 120 characters.
// Memories carry no dedicated title column; the first line stands in for it
// during title-hit scoring.
func (m *Memory) Title() string {
	line := m.Content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > 120 {
		return string(runes[:120])
	}
	return line
}

// AgeDays returns the age of the memory in fractional days at the given
// instant. Never negative.
func (m *Memory) AgeDays(now time.Time) float64 {
	d := now.Sub(m.CreatedAt).Hours() / 24.0
	if d < 0 {
		return 0
	}
	return d
}

// Validate checks the invariants every stored memory must satisfy:
// non-empty content, a valid type and scope, and importance within [0, 1].
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory content must not be empty")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid memory type %q", m.Type)
	}
	if !m.PrivacyScope.Valid() {
		return fmt.Errorf("invalid privacy scope %q", m.PrivacyScope)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("importance %.3f outside [0, 1]", m.Importance)
	}
	if m.ViewCount < 0 || m.CiteCount < 0 || m.EditCount < 0 {
		return fmt.Errorf("usage counters must be non-negative")
	}
	return nil
}
