// cmd/memento-backup takes one verified snapshot of the SQLite memory store
// and prunes old snapshots by the tiered retention policy. Run it from cron
// or a systemd timer; it does not daemonize.
//
// Restore mode (-restore) verifies a snapshot and copies it over the target
// database. Stop the MCP server first.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/mementolabs/memento/internal/backup"
	"github.com/mementolabs/memento/internal/config"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memento-backup: ")

	var (
		configPath = flag.String("config", os.Getenv("MEMENTO_CONFIG"), "path to the YAML config file (optional)")
		dbPath     = flag.String("db", "", "SQLite database to back up (default: storage.path from config)")
		dir        = flag.String("dir", "./backups", "directory for backup files")
		restore    = flag.String("restore", "", "restore this backup file over the database instead of backing up")
		skipVerify = flag.Bool("skip-verify", false, "skip the integrity check on the fresh backup")
		hourly     = flag.Int("keep-hourly", 0, "hourly backups to keep (default 24)")
		daily      = flag.Int("keep-daily", 0, "daily backups to keep (default 7)")
		weekly     = flag.Int("keep-weekly", 0, "weekly backups to keep (default 4)")
		monthly    = flag.Int("keep-monthly", 0, "monthly backups to keep (default 12)")
	)
	flag.Parse()

	if *dbPath == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		if cfg.Storage.Engine != "" && cfg.Storage.Engine != "sqlite" {
			log.Fatalf("storage engine %q is not file-based; use your database's own backup tooling", cfg.Storage.Engine)
		}
		*dbPath = cfg.Storage.Path
	}

	if *restore != "" {
		if err := backup.Restore(*restore, *dbPath); err != nil {
			log.Fatalf("restore: %v", err)
		}
		log.Printf("restored %s to %s", *restore, *dbPath)
		return
	}

	info, err := backup.Run(backup.Config{
		DBPath:     *dbPath,
		Dir:        *dir,
		SkipVerify: *skipVerify,
		Retention: backup.RetentionPolicy{
			Hourly:  *hourly,
			Daily:   *daily,
			Weekly:  *weekly,
			Monthly: *monthly,
		},
	})
	if err != nil {
		log.Fatalf("backup: %v", err)
	}
	log.Printf("wrote %s (%d bytes)", info.Path, info.Size)
}
