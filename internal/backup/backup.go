// Package backup creates consistent point-in-time copies of the SQLite
// memory store, verifies them, and prunes old copies by a tiered retention
// policy.
package backup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const filePrefix = "memento-"

// Config holds one backup run's settings.
type Config struct {
	// DBPath is the SQLite database file to back up.
	DBPath string

	// Dir is where backup files land.
	Dir string

	// Retention controls pruning after the backup (zero value: defaults).
	Retention RetentionPolicy

	// SkipVerify disables the integrity check on the fresh copy.
	SkipVerify bool
}

// Info describes one backup file.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Run performs a single backup: copy, verify, prune. The copy uses VACUUM
// INTO, which yields a consistent snapshot even while the source is in WAL
// mode with active writers.
func Run(cfg Config) (Info, error) {
	if cfg.DBPath == "" {
		return Info{}, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return Info{}, fmt.Errorf("backup: backup directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return Info{}, fmt.Errorf("backup: create %s: %w", cfg.Dir, err)
	}

	now := time.Now().UTC()
	dest := filepath.Join(cfg.Dir, fmt.Sprintf("%s%s.db", filePrefix, now.Format("20060102-150405")))

	if err := snapshot(cfg.DBPath, dest); err != nil {
		return Info{}, err
	}
	if !cfg.SkipVerify {
		if err := Verify(dest); err != nil {
			_ = os.Remove(dest)
			return Info{}, err
		}
	}

	if err := Prune(cfg.Dir, cfg.Retention, now); err != nil {
		return Info{}, err
	}

	st, err := os.Stat(dest)
	if err != nil {
		return Info{}, fmt.Errorf("backup: stat %s: %w", dest, err)
	}
	return Info{Path: dest, Timestamp: now, Size: st.Size()}, nil
}

// snapshot copies src into dest with VACUUM INTO over a read-only handle.
func snapshot(src, dest string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", src))
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", src, err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("backup: source unreachable: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return fmt.Errorf("backup: vacuum into %s: %w", dest, err)
	}
	return nil
}

// Verify runs PRAGMA integrity_check against a backup file.
func Verify(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check %s: %s", path, result)
	}
	return nil
}

// Restore verifies a backup file and copies it over the target path. The
// service must be stopped first; Restore does not coordinate with writers.
func Restore(backupPath, dbPath string) error {
	if err := Verify(backupPath); err != nil {
		return err
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("backup: read %s: %w", backupPath, err)
	}
	if err := os.WriteFile(dbPath, data, 0o600); err != nil {
		return fmt.Errorf("backup: write %s: %w", dbPath, err)
	}
	// Stale WAL sidecars would shadow the restored file.
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}
