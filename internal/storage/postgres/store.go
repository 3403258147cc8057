// Package postgres implements the storage gateway over PostgreSQL with the
// pgvector extension. Full-text search uses a generated tsvector column;
// vector search is an indexed cosine-distance scan, which scales past the
// in-process ranking of the SQLite backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

var _ storage.Gateway = (*Store)(nil)

// Store is the Postgres-backed persistence gateway.
type Store struct {
	db *sql.DB

	// dim is the vector column dimension fixed at schema creation.
	dim int
}

// Open connects to the database at connStr and applies the schema.
// vectorDim fixes the dimension of the memory_embedding vector column; it
// should match the active embedding provider.
func Open(connStr string, vectorDim int) (*Store, error) {
	if vectorDim <= 0 {
		vectorDim = 512
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{db: db, dim: vectorDim}
	if err := s.applySchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applySchema() error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memory_item (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			content       TEXT NOT NULL,
			importance    DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			privacy_scope TEXT NOT NULL DEFAULT 'private',
			created_at    TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ,
			pinned        BOOLEAN NOT NULL DEFAULT FALSE,
			tags          JSONB NOT NULL DEFAULT '[]',
			source        TEXT,
			view_count    INTEGER NOT NULL DEFAULT 0,
			cite_count    INTEGER NOT NULL DEFAULT 0,
			edit_count    INTEGER NOT NULL DEFAULT 0,
			project       TEXT,
			"user"        TEXT,
			agent         TEXT,
			fts           TSVECTOR GENERATED ALWAYS AS (
				to_tsvector('simple',
					coalesce(content, '') || ' ' ||
					coalesce(tags::text, '') || ' ' ||
					coalesce(source, ''))
			) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_fts ON memory_item USING GIN (fts)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_type ON memory_item(type)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_embedding (
			memory_id  TEXT NOT NULL UNIQUE REFERENCES memory_item(id) ON DELETE CASCADE,
			vector     VECTOR(%d) NOT NULL,
			dim        INTEGER NOT NULL,
			model      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
		`CREATE TABLE IF NOT EXISTS memory_link (
			source_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
			target_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
			relation   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(source_id, target_id, relation)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_feedback (
			memory_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("postgres: apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

const memoryColumns = `
	id, type, content, importance, privacy_scope, created_at,
	last_accessed, pinned, tags, source,
	view_count, cite_count, edit_count,
	project, "user", agent`

// InsertMemory commits a new memory row.
func (s *Store) InsertMemory(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("postgres: marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_item (`+memoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		m.ID, string(m.Type), m.Content, m.Importance, string(m.PrivacyScope),
		m.CreatedAt.UTC(), m.LastAccessed, m.Pinned, string(tagsJSON),
		nullable(m.Source), m.ViewCount, m.CiteCount, m.EditCount,
		nullable(m.Project), nullable(m.User), nullable(m.Agent))
	if err != nil {
		return mapPGError("insert memory", err)
	}
	return nil
}

// GetMemory retrieves a memory row by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_item WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, mapPGError("get memory", err)
	}
	return m, nil
}

// UpdateFlags applies the non-nil fields of upd.
func (s *Store) UpdateFlags(ctx context.Context, id string, upd storage.FlagUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }

	if upd.Pinned != nil {
		sets = append(sets, "pinned = "+next())
		args = append(args, *upd.Pinned)
	}
	if upd.TouchLastAccessed {
		sets = append(sets, "last_accessed = "+next())
		args = append(args, time.Now().UTC())
	}
	if upd.AddViews != 0 {
		sets = append(sets, "view_count = view_count + "+next())
		args = append(args, upd.AddViews)
	}
	if upd.AddCites != 0 {
		sets = append(sets, "cite_count = cite_count + "+next())
		args = append(args, upd.AddCites)
	}
	if upd.AddEdits != 0 {
		sets = append(sets, "edit_count = edit_count + "+next())
		args = append(args, upd.AddEdits)
	}

	if len(sets) == 0 {
		_, err := s.GetMemory(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_item SET `+strings.Join(sets, ", ")+` WHERE id = `+next(), args...)
	if err != nil {
		return mapPGError("update flags", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update flags rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SoftDelete demotes the memory in place.
func (s *Store) SoftDelete(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_item
		SET pinned = FALSE, view_count = 0, cite_count = 0, edit_count = 0,
		    last_accessed = now()
		WHERE id = $1`, id)
	if err != nil {
		return 0, mapPGError("soft delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: soft delete rows affected: %w", err)
	}
	return int(affected), nil
}

// HardDelete removes the row; embeddings, links, and feedback cascade.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_item WHERE id = $1`, id)
	if err != nil {
		return mapPGError("hard delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: hard delete rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ScanCandidates returns rows matching the filter.
func (s *Store) ScanCandidates(ctx context.Context, filter types.Filter, order storage.ScanOrder) ([]types.Memory, error) {
	where, args := buildFilterClause(&filter, 0)

	orderSQL := "created_at DESC, id ASC"
	if order == storage.OrderCreatedAsc {
		orderSQL = "created_at ASC, id ASC"
	}

	query := `SELECT ` + memoryColumns + ` FROM memory_item`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + orderSQL

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPGError("scan candidates", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMemories(rows)
}

// Checkpoint runs a vacuum analyze pass.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM (ANALYZE) memory_item`); err != nil {
		return mapPGError("checkpoint", err)
	}
	return nil
}

// LexicalSearch runs a tsquery match over the generated fts column.
func (s *Store) LexicalSearch(ctx context.Context, query string, filter types.Filter, k int) ([]storage.SearchHit, error) {
	if k <= 0 {
		k = 10
	}

	if strings.TrimSpace(query) == "" {
		return s.filterOnlyHits(ctx, filter, k)
	}

	where, args := buildFilterClause(&filter, 1)
	sqlQuery := `
		SELECT id, ts_rank(fts, plainto_tsquery('simple', $1))
		FROM memory_item
		WHERE fts @@ plainto_tsquery('simple', $1)`
	if where != "" {
		sqlQuery += " AND " + where
	}
	args = append([]interface{}{query}, args...)
	sqlQuery += fmt.Sprintf(" ORDER BY 2 DESC LIMIT %d", k)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, mapPGError("lexical search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		if err := rows.Scan(&h.MemoryID, &h.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) filterOnlyHits(ctx context.Context, filter types.Filter, k int) ([]storage.SearchHit, error) {
	where, args := buildFilterClause(&filter, 0)
	query := `SELECT id FROM memory_item`
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT %d", k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPGError("filter-only search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		if err := rows.Scan(&h.MemoryID); err != nil {
			return nil, fmt.Errorf("postgres: scan filter hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// VectorSearch ranks embeddings by cosine similarity using pgvector's <=>
// cosine-distance operator (similarity = 1 - distance). Vectors of a
// different dimension than the column cannot be stored, so no dimension
// filtering is needed here.
func (s *Store) VectorSearch(ctx context.Context, vec []float32, filter types.Filter, k int) ([]storage.SearchHit, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidInput)
	}
	if len(vec) != s.dim {
		// Active provider dimension changed since schema creation.
		return nil, storage.ErrUnavailable
	}
	if k <= 0 {
		k = 10
	}

	where, args := buildFilterClause(&filter, 1)
	query := `
		SELECT e.memory_id, 1 - (e.vector <=> $1)
		FROM memory_embedding e
		JOIN memory_item memory_item ON memory_item.id = e.memory_id`
	if where != "" {
		query += " WHERE " + where
	}
	args = append([]interface{}{pgvector.NewVector(vec)}, args...)
	query += fmt.Sprintf(" ORDER BY e.vector <=> $1 LIMIT %d", k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPGError("vector search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		if err := rows.Scan(&h.MemoryID, &h.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// UpsertEmbedding replaces any prior vector for the memory.
func (s *Store) UpsertEmbedding(ctx context.Context, memoryID string, vec []float32, model string) error {
	if memoryID == "" || len(vec) == 0 || model == "" {
		return fmt.Errorf("%w: memory id, vector, and model are required", storage.ErrInvalidInput)
	}
	if len(vec) != s.dim {
		return fmt.Errorf("%w: vector dimension %d does not match column dimension %d",
			storage.ErrInvalidInput, len(vec), s.dim)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embedding (memory_id, vector, dim, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (memory_id) DO UPDATE SET
			vector = EXCLUDED.vector,
			dim = EXCLUDED.dim,
			model = EXCLUDED.model,
			created_at = now()`,
		memoryID, pgvector.NewVector(vec), len(vec), model)
	if err != nil {
		return mapPGError("upsert embedding", err)
	}
	return nil
}

// GetEmbedding returns the stored vector and model.
func (s *Store) GetEmbedding(ctx context.Context, memoryID string) ([]float32, string, error) {
	var v pgvector.Vector
	var model string
	err := s.db.QueryRowContext(ctx, `
		SELECT vector, model FROM memory_embedding WHERE memory_id = $1`,
		memoryID).Scan(&v, &model)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", mapPGError("get embedding", err)
	}
	return v.Slice(), model, nil
}

// DeleteEmbedding removes the stored vector.
func (s *Store) DeleteEmbedding(ctx context.Context, memoryID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_embedding WHERE memory_id = $1`, memoryID); err != nil {
		return mapPGError("delete embedding", err)
	}
	return nil
}

// InsertLink records a directed edge.
func (s *Store) InsertLink(ctx context.Context, link *types.Link) error {
	if !link.Relation.Valid() {
		return fmt.Errorf("%w: invalid link relation %q", storage.ErrInvalidInput, link.Relation)
	}
	created := link.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_link (source_id, target_id, relation, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, target_id, relation) DO NOTHING`,
		link.SourceID, link.TargetID, string(link.Relation), created.UTC())
	if err != nil {
		return mapPGError("insert link", err)
	}
	return nil
}

// LinksFor returns every edge touching id.
func (s *Store) LinksFor(ctx context.Context, id string) ([]types.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation, created_at
		FROM memory_link
		WHERE source_id = $1 OR target_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return nil, mapPGError("links for", err)
	}
	defer func() { _ = rows.Close() }()

	var links []types.Link
	for rows.Next() {
		var l types.Link
		var relation string
		if err := rows.Scan(&l.SourceID, &l.TargetID, &relation, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		l.Relation = types.LinkRelation(relation)
		links = append(links, l)
	}
	return links, rows.Err()
}

// AppendFeedback records one event.
func (s *Store) AppendFeedback(ctx context.Context, fb *types.Feedback) error {
	if !fb.EventType.Valid() {
		return fmt.Errorf("%w: invalid feedback event %q", storage.ErrInvalidInput, fb.EventType)
	}
	created := fb.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_feedback (memory_id, event_type, score, created_at)
		VALUES ($1, $2, $3, $4)`,
		fb.MemoryID, string(fb.EventType), fb.Score, created.UTC())
	if err != nil {
		return mapPGError("append feedback", err)
	}
	return nil
}

// FeedbackFor returns events newest first.
func (s *Store) FeedbackFor(ctx context.Context, memoryID string, limit int) ([]types.Feedback, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, event_type, score, created_at
		FROM memory_feedback
		WHERE memory_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, memoryID, limit)
	if err != nil {
		return nil, mapPGError("feedback for", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.Feedback
	for rows.Next() {
		var fb types.Feedback
		var event string
		if err := rows.Scan(&fb.MemoryID, &event, &fb.Score, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan feedback: %w", err)
		}
		fb.EventType = types.FeedbackEvent(event)
		events = append(events, fb)
	}
	return events, rows.Err()
}

// buildFilterClause converts the shared filter into a WHERE fragment with
// $n placeholders starting after argOffset.
func buildFilterClause(f *types.Filter, argOffset int) (string, []interface{}) {
	var conds []string
	var args []interface{}
	n := argOffset
	next := func() string { n++; return fmt.Sprintf("$%d", n) }

	if len(f.Types) > 0 {
		vals := make([]string, len(f.Types))
		for i, t := range f.Types {
			vals[i] = string(t)
		}
		conds = append(conds, "memory_item.type = ANY("+next()+")")
		args = append(args, pq.Array(vals))
	}
	if len(f.Scopes) > 0 {
		vals := make([]string, len(f.Scopes))
		for i, sc := range f.Scopes {
			vals[i] = string(sc)
		}
		conds = append(conds, "memory_item.privacy_scope = ANY("+next()+")")
		args = append(args, pq.Array(vals))
	}
	for _, tag := range f.Tags {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(memory_item.tags) elem
			WHERE lower(elem) = lower(`+next()+`))`)
		args = append(args, tag)
	}
	if !f.TimeFrom.IsZero() {
		conds = append(conds, "memory_item.created_at >= "+next())
		args = append(args, f.TimeFrom.UTC())
	}
	if !f.TimeTo.IsZero() {
		conds = append(conds, "memory_item.created_at < "+next())
		args = append(args, f.TimeTo.UTC())
	}
	if f.Pinned != nil {
		conds = append(conds, "memory_item.pinned = "+next())
		args = append(args, *f.Pinned)
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "memory_item.id = ANY("+next()+")")
		args = append(args, pq.Array(f.IDs))
	}
	if f.ImportanceMin > 0 {
		conds = append(conds, "memory_item.importance >= "+next())
		args = append(args, f.ImportanceMin)
	}

	return strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var typ, scope, tagsJSON string
	var lastAccessed sql.NullTime
	var source, project, user, agent sql.NullString

	err := row.Scan(
		&m.ID, &typ, &m.Content, &m.Importance, &scope, &m.CreatedAt,
		&lastAccessed, &m.Pinned, &tagsJSON, &source,
		&m.ViewCount, &m.CiteCount, &m.EditCount,
		&project, &user, &agent,
	)
	if err != nil {
		return nil, err
	}

	m.Type = types.MemoryType(typ)
	m.PrivacyScope = types.PrivacyScope(scope)
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessed = &t
	}
	if source.Valid {
		m.Source = source.String
	}
	if project.Valid {
		m.Project = project.String
	}
	if user.Valid {
		m.User = user.String
	}
	if agent.Valid {
		m.Agent = agent.String
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return nil, fmt.Errorf("%w: tags column: %v", storage.ErrCorruption, err)
		}
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	var memories []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan memory row: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

// mapPGError classifies driver errors into the gateway sentinels.
func mapPGError(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization, deadlock
			return fmt.Errorf("postgres: %s: %w", op, storage.ErrContention)
		case "23505":
			return fmt.Errorf("postgres: %s: duplicate key: %w", op, storage.ErrInvalidInput)
		}
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
