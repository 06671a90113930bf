// Package config provides a key/value settings store backed by a SQLite
// table. It holds operator-tunable knobs and the per-conversation state
// that must survive restarts: the challenge flag and the enabled persona
// list. Credentials never go here; they come from the environment.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("config: key not found")

// Settings is the read/write interface for the settings table.
// Implementations must be safe for concurrent use.
type Settings interface {
	// Get returns the value for key, or ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, creating or overwriting the entry.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns a snapshot of every key/value pair.
	List(ctx context.Context) (map[string]string, error)
}

// sqliteSettings is the SQLite-backed implementation of Settings.
type sqliteSettings struct {
	db *store.Store
}

// New creates a Settings store on the application database. The settings
// table must already exist; store.Open guarantees that by running all
// migrations.
func New(db *store.Store) Settings {
	return &sqliteSettings{db: db}
}

func (s *sqliteSettings) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteSettings) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteSettings) Delete(ctx context.Context, key string) error {
	if _, err := s.db.DB().ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteSettings) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: list scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: list rows: %w", err)
	}
	return result, nil
}

// GetBool reads key as a boolean. Absent keys return fallback; malformed
// values are an error.
func GetBool(ctx context.Context, s Settings, key string, fallback bool) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: parse %q as bool: %w", key, err)
	}
	return v, nil
}

// SetBool stores a boolean under key.
func SetBool(ctx context.Context, s Settings, key string, v bool) error {
	return s.Set(ctx, key, strconv.FormatBool(v))
}
