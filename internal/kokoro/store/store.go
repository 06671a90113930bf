// Package store provides SQLite-backed persistence for Kokoro: user
// profiles with their affinity weights, the per-conversation message log,
// and the accumulated facts and patterns the grounding classifier reads.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and brings the
// schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite is single-writer. A single shared connection lets database/sql
	// serialise callers instead of them fighting for write locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for components that manage their
// own tables (the config store, the Matrix sync-token store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies pending migrations from the embedded directory.
// Filenames follow NNNN_description.sql and apply in version order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		version, description, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		if version <= current {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		slog.Info("store: applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}

	return nil
}

func parseMigrationName(name string) (version int, description string, ok bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, "", false
	}
	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
		return 0, "", false
	}
	return version, strings.TrimSuffix(parts[1], ".sql"), true
}
