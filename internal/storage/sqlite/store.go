// Package sqlite implements the storage gateway over a CGO-free SQLite
// database (modernc.org/sqlite). Full-text search is backed by an FTS5
// virtual table kept in sync with memory_item via triggers; vector search
// loads BLOB embeddings and ranks by cosine similarity in process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

// Ensure *Store satisfies the full gateway at compile time.
var _ storage.Gateway = (*Store)(nil)

// Store is the SQLite-backed persistence gateway. A single *sql.DB handle
// is shared by all components; SQLite serializes writes internally.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for an in-memory store, used throughout the tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		// A named in-memory database with a shared cache: every pooled
		// connection sees the same data, and distinct Open calls (e.g.
		// parallel tests) each get their own database.
		dsn = fmt.Sprintf("file:memento-%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// modernc.org/sqlite is not safe for concurrent writes over multiple
	// connections to the same file; a busy_timeout plus WAL keeps readers
	// unblocked while writes queue.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.applySchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// applySchema creates the tables, the FTS5 index, and the sync triggers.
// All statements are idempotent.
func (s *Store) applySchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_item (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			content       TEXT NOT NULL,
			importance    REAL NOT NULL DEFAULT 0.5,
			privacy_scope TEXT NOT NULL DEFAULT 'private',
			created_at    TIMESTAMP NOT NULL,
			last_accessed TIMESTAMP,
			pinned        INTEGER NOT NULL DEFAULT 0,
			tags          TEXT NOT NULL DEFAULT '[]',
			source        TEXT,
			view_count    INTEGER NOT NULL DEFAULT 0,
			cite_count    INTEGER NOT NULL DEFAULT 0,
			edit_count    INTEGER NOT NULL DEFAULT 0,
			project       TEXT,
			user          TEXT,
			agent         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_type ON memory_item(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_created ON memory_item(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_pinned ON memory_item(pinned)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_item_fts USING fts5(
			content, tags, source,
			content='memory_item', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memory_item_ai AFTER INSERT ON memory_item BEGIN
			INSERT INTO memory_item_fts(rowid, content, tags, source)
			VALUES (new.rowid, new.content, new.tags, coalesce(new.source, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_item_ad AFTER DELETE ON memory_item BEGIN
			INSERT INTO memory_item_fts(memory_item_fts, rowid, content, tags, source)
			VALUES ('delete', old.rowid, old.content, old.tags, coalesce(old.source, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_item_au AFTER UPDATE ON memory_item BEGIN
			INSERT INTO memory_item_fts(memory_item_fts, rowid, content, tags, source)
			VALUES ('delete', old.rowid, old.content, old.tags, coalesce(old.source, ''));
			INSERT INTO memory_item_fts(rowid, content, tags, source)
			VALUES (new.rowid, new.content, new.tags, coalesce(new.source, ''));
		END`,

		`CREATE TABLE IF NOT EXISTS memory_embedding (
			memory_id  TEXT NOT NULL UNIQUE REFERENCES memory_item(id) ON DELETE CASCADE,
			vector     BLOB NOT NULL,
			dim        INTEGER NOT NULL,
			model      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS memory_link (
			source_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
			target_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
			relation   TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_id, target_id, relation)
		)`,

		`CREATE TABLE IF NOT EXISTS memory_feedback (
			memory_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			score      REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_feedback_id ON memory_feedback(memory_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for test helpers.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// InsertMemory commits a new memory row atomically.
func (s *Store) InsertMemory(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}

	tagsJSON, err := json.Marshal(normalizedTags(m.Tags))
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_item (
			id, type, content, importance, privacy_scope, created_at,
			last_accessed, pinned, tags, source,
			view_count, cite_count, edit_count,
			project, user, agent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Type), m.Content, m.Importance, string(m.PrivacyScope),
		m.CreatedAt.UTC(), nullableTime(m.LastAccessed), boolToInt(m.Pinned),
		string(tagsJSON), nullableString(m.Source),
		m.ViewCount, m.CiteCount, m.EditCount,
		nullableString(m.Project), nullableString(m.User), nullableString(m.Agent),
	)
	if err != nil {
		return mapSQLiteError("insert memory", err)
	}
	return nil
}

const memoryColumns = `
	id, type, content, importance, privacy_scope, created_at,
	last_accessed, pinned, tags, source,
	view_count, cite_count, edit_count,
	project, user, agent`

// GetMemory retrieves a memory row by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_item WHERE id = ?`, id)

	m, err := scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, mapSQLiteError("get memory", err)
	}
	return m, nil
}

// UpdateFlags applies the non-nil fields of upd. Missing id yields
// ErrNotFound; applying an empty update is a no-op.
func (s *Store) UpdateFlags(ctx context.Context, id string, upd storage.FlagUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	if upd.Pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, boolToInt(*upd.Pinned))
	}
	if upd.TouchLastAccessed {
		sets = append(sets, "last_accessed = ?")
		args = append(args, time.Now().UTC())
	}
	if upd.AddViews != 0 {
		sets = append(sets, "view_count = view_count + ?")
		args = append(args, upd.AddViews)
	}
	if upd.AddCites != 0 {
		sets = append(sets, "cite_count = cite_count + ?")
		args = append(args, upd.AddCites)
	}
	if upd.AddEdits != 0 {
		sets = append(sets, "edit_count = edit_count + ?")
		args = append(args, upd.AddEdits)
	}

	if len(sets) == 0 {
		// Nothing to change; still surface a missing id.
		_, err := s.GetMemory(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_item SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return mapSQLiteError("update flags", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update flags rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SoftDelete demotes the memory: pinned cleared, counters reset,
// last_accessed refreshed. Returns 1 when a row matched, 0 otherwise.
func (s *Store) SoftDelete(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_item
		SET pinned = 0, view_count = 0, cite_count = 0, edit_count = 0,
		    last_accessed = ?
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return 0, mapSQLiteError("soft delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: soft delete rows affected: %w", err)
	}
	return int(n), nil
}

// HardDelete removes the row. The embedding, links, and feedback rows go
// with it in the same transaction via ON DELETE CASCADE.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError("hard delete begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM memory_item WHERE id = ?`, id)
	if err != nil {
		return mapSQLiteError("hard delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: hard delete rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return mapSQLiteError("hard delete commit", err)
	}
	return nil
}

// ScanCandidates returns rows matching the filter in the requested order.
func (s *Store) ScanCandidates(ctx context.Context, filter types.Filter, order storage.ScanOrder) ([]types.Memory, error) {
	where, args := buildFilterClause(&filter)

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
		return nil, mapSQLiteError("scan candidates", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// Checkpoint flushes the WAL and compacts the database. Safe to call at
// any time; SQLite serializes it against writers.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return mapSQLiteError("checkpoint", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return mapSQLiteError("optimize", err)
	}
	return nil
}

// InsertLink records a directed edge. Duplicate edges are ignored.
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
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO NOTHING`,
		link.SourceID, link.TargetID, string(link.Relation), created.UTC())
	if err != nil {
		return mapSQLiteError("insert link", err)
	}
	return nil
}

// LinksFor returns every edge where id is either endpoint.
func (s *Store) LinksFor(ctx context.Context, id string) ([]types.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation, created_at
		FROM memory_link
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at`, id, id)
	if err != nil {
		return nil, mapSQLiteError("links for", err)
	}
	defer func() { _ = rows.Close() }()

	var links []types.Link
	for rows.Next() {
		var l types.Link
		var relation string
		if err := rows.Scan(&l.SourceID, &l.TargetID, &relation, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan link: %w", err)
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
		VALUES (?, ?, ?, ?)`,
		fb.MemoryID, string(fb.EventType), fb.Score, created.UTC())
	if err != nil {
		return mapSQLiteError("append feedback", err)
	}
	return nil
}

// FeedbackFor returns events for a memory, newest first.
func (s *Store) FeedbackFor(ctx context.Context, memoryID string, limit int) ([]types.Feedback, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, event_type, score, created_at
		FROM memory_feedback
		WHERE memory_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, memoryID, limit)
	if err != nil {
		return nil, mapSQLiteError("feedback for", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.Feedback
	for rows.Next() {
		var fb types.Feedback
		var event string
		if err := rows.Scan(&fb.MemoryID, &event, &fb.Score, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan feedback: %w", err)
		}
		fb.EventType = types.FeedbackEvent(event)
		events = append(events, fb)
	}
	return events, rows.Err()
}

// --- helpers ---

// buildFilterClause converts the shared filter into a WHERE fragment.
// The same predicate semantics are applied by types.Filter.Matches.
func buildFilterClause(f *types.Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if len(f.Types) > 0 {
		ph := placeholders(len(f.Types))
		conds = append(conds, "type IN ("+ph+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Scopes) > 0 {
		ph := placeholders(len(f.Scopes))
		conds = append(conds, "privacy_scope IN ("+ph+")")
		for _, sc := range f.Scopes {
			args = append(args, string(sc))
		}
	}
	for _, tag := range f.Tags {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM json_each(memory_item.tags) WHERE lower(json_each.value) = lower(?))")
		args = append(args, tag)
	}
	if !f.TimeFrom.IsZero() {
		// Qualified so the clause stays unambiguous when the search
		// queries join memory_item against memory_embedding.
		conds = append(conds, "memory_item.created_at >= ?")
		args = append(args, f.TimeFrom.UTC())
	}
	if !f.TimeTo.IsZero() {
		conds = append(conds, "memory_item.created_at < ?")
		args = append(args, f.TimeTo.UTC())
	}
	if f.Pinned != nil {
		conds = append(conds, "pinned = ?")
		args = append(args, boolToInt(*f.Pinned))
	}
	if len(f.IDs) > 0 {
		ph := placeholders(len(f.IDs))
		conds = append(conds, "id IN ("+ph+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.ImportanceMin > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, f.ImportanceMin)
	}

	return strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var typ, scope, tagsJSON string
	var lastAccessed sql.NullTime
	var source, project, user, agent sql.NullString
	var pinned int

	err := row.Scan(
		&m.ID, &typ, &m.Content, &m.Importance, &scope, &m.CreatedAt,
		&lastAccessed, &pinned, &tagsJSON, &source,
		&m.ViewCount, &m.CiteCount, &m.EditCount,
		&project, &user, &agent,
	)
	if err != nil {
		return nil, err
	}

	m.Type = types.MemoryType(typ)
	m.PrivacyScope = types.PrivacyScope(scope)
	m.Pinned = pinned != 0
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
			return nil, fmt.Errorf("sqlite: scan memory row: %w", err)
		}
		memories = append(memories, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return memories, nil
}

// mapSQLiteError classifies driver errors into the gateway sentinels.
// modernc.org/sqlite surfaces SQLITE_BUSY/SQLITE_LOCKED as string-matched
// errors; those become ErrContention so WithRetry can back off.
func mapSQLiteError(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") {
		return fmt.Errorf("sqlite: %s: %w", op, storage.ErrContention)
	}
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt") {
		return fmt.Errorf("sqlite: %s: %w", op, storage.ErrCorruption)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

func normalizedTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
