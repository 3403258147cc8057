package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

// LexicalSearch runs an FTS5 match over content, tags, and source.
//
// FTS5 rank values are negative (more negative == better match); the hit
// score returned here is the negated rank so larger is better, which is
// what the ranker's normalization expects.
//
// An empty query (before or after sanitisation) is valid: the method falls
// back to a filtered scan ordered by recency so id- and filter-only
// lookups still work.
func (s *Store) LexicalSearch(ctx context.Context, query string, filter types.Filter, k int) ([]storage.SearchHit, error) {
	if k <= 0 {
		k = 10
	}

	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return s.filterOnlyHits(ctx, filter, k)
	}

	where, args := buildFilterClause(&filter)
	querySQL := `
		SELECT m.id, -fts.rank
		FROM memory_item_fts fts
		JOIN memory_item m ON m.rowid = fts.rowid
		WHERE memory_item_fts MATCH ?`
	if where != "" {
		// Re-qualify filter columns against the joined alias.
		querySQL += " AND " + strings.ReplaceAll(where, "memory_item.", "m.")
	}
	querySQL += " ORDER BY fts.rank LIMIT ?"

	allArgs := append([]interface{}{ftsQuery}, args...)
	allArgs = append(allArgs, k)

	rows, err := s.db.QueryContext(ctx, querySQL, allArgs...)
	if err != nil {
		return nil, mapSQLiteError(fmt.Sprintf("lexical search %q", query), err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		if err := rows.Scan(&h.MemoryID, &h.Score); err != nil {
			return nil, fmt.Errorf("sqlite: scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// filterOnlyHits serves the empty-query path: every filter match counts as
// a hit with zero lexical score, newest first.
func (s *Store) filterOnlyHits(ctx context.Context, filter types.Filter, k int) ([]storage.SearchHit, error) {
	where, args := buildFilterClause(&filter)
	query := `SELECT id FROM memory_item`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError("filter-only search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		if err := rows.Scan(&h.MemoryID); err != nil {
			return nil, fmt.Errorf("sqlite: scan filter hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// vectorSearchMaxCandidates caps the number of embeddings loaded into
// process memory during a vector search. Embeddings are selected newest
// first, so recently stored memories are always considered. For datasets
// beyond this size, use the Postgres backend with an indexed pgvector scan.
const vectorSearchMaxCandidates = 10_000

// VectorSearch ranks stored embeddings by cosine similarity against vec.
// Embeddings whose dimension differs from len(vec) are skipped; mixing
// dimensions happens after a provider change and cross-dimension cosine is
// meaningless. Returns ErrUnavailable when no embeddings exist at all.
func (s *Store) VectorSearch(ctx context.Context, vec []float32, filter types.Filter, k int) ([]storage.SearchHit, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidInput)
	}
	if k <= 0 {
		k = 10
	}

	where, args := buildFilterClause(&filter)
	query := `
		SELECT e.memory_id, e.vector, e.dim
		FROM memory_embedding e
		JOIN memory_item m ON m.id = e.memory_id`
	if where != "" {
		query += " WHERE " + strings.ReplaceAll(where, "memory_item.", "m.")
	}
	query += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, vectorSearchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError("vector search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	seen := 0
	for rows.Next() {
		var memID string
		var blob []byte
		var dim int
		if err := rows.Scan(&memID, &blob, &dim); err != nil {
			return nil, fmt.Errorf("sqlite: scan embedding: %w", err)
		}
		seen++
		if dim != len(vec) {
			continue
		}
		stored, err := decodeVector(blob, dim)
		if err != nil {
			continue
		}
		hits = append(hits, storage.SearchHit{
			MemoryID: memID,
			Score:    cosineSimilarity(vec, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: vector rows: %w", err)
	}

	if seen == 0 {
		// No vector index content at all; let the hybrid layer downgrade.
		var total int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_embedding`).Scan(&total); err == nil && total == 0 {
			return nil, storage.ErrUnavailable
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].MemoryID < hits[j].MemoryID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ftsStopWords carry no discriminative value and are stripped before the
// MATCH expression is built.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true,
}

// sanitiseFTSQuery converts free-form user input into a safe FTS5 MATCH
// expression. FTS5 syntax is fragile: an unbalanced quote or stray operator
// keyword produces "fts5: syntax error". Each surviving word becomes a
// prefix term and the terms are OR'd for recall.
//
// Example: "What is hybrid search?" -> "hybrid* OR search*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `, `'`, ` `, `(`, ` `, `)`, ` `,
		`*`, ` `, `-`, ` `, `^`, ` `, `?`, ` `, `:`, ` `,
		`.`, ` `, `,`, ` `, `;`, ` `, `!`, ` `,
	)
	cleaned := replacer.Replace(query)

	var terms []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	return strings.Join(terms, " OR ")
}
