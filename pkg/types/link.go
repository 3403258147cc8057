package types

import "time"

// LinkRelation is the kind of directed edge between two memories.
type LinkRelation string

const (
	// RelationDerivedFrom marks a memory distilled from another.
	RelationDerivedFrom LinkRelation = "derived_from"

	// RelationDuplicates marks near-duplicate content.
	RelationDuplicates LinkRelation = "duplicates"

	// RelationReferences marks a plain cross-reference.
	RelationReferences LinkRelation = "references"
)

// Valid reports whether r is a recognised link relation.
func (r LinkRelation) Valid() bool {
	switch r {
	case RelationDerivedFrom, RelationDuplicates, RelationReferences:
		return true
	}
	return false
}

// Link is a directed edge between two memories. Links are deleted
// transitively when either endpoint is hard-deleted.
type Link struct {
	SourceID  string       `json:"source_id"`
	TargetID  string       `json:"target_id"`
	Relation  LinkRelation `json:"relation"`
	CreatedAt time.Time    `json:"created_at"`
}
