package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fact is one stable piece of knowledge about a user, keyed so later
// observations replace earlier ones.
type Fact struct {
	ID         string
	UserID     string
	Category   string
	Key        string
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// Pattern is an observed tendency in how the user communicates or thinks,
// one row per kind.
type Pattern struct {
	ID          string
	UserID      string
	Kind        string
	Description string
	UpdatedAt   time.Time
}

// UpsertFact inserts or replaces the fact for (user, key).
func (s *Store) UpsertFact(ctx context.Context, f *Fact) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.UpdatedAt = time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, user_id, category, key, value, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET
			category = excluded.category,
			value = excluded.value,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`, f.ID, f.UserID, f.Category, f.Key, f.Value, f.Confidence, f.UpdatedAt); err != nil {
		return fmt.Errorf("store: upsert fact: %w", err)
	}
	return nil
}

// Facts returns the user's facts, most recently updated first.
func (s *Store) Facts(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, key, value, confidence, updated_at
		FROM facts
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Category, &f.Key, &f.Value, &f.Confidence, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan fact: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate facts: %w", err)
	}
	return out, nil
}

// UpsertPattern inserts or replaces the pattern for (user, kind).
func (s *Store) UpsertPattern(ctx context.Context, p *Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, user_id, kind, description, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, kind) DO UPDATE SET
			description = excluded.description,
			updated_at = excluded.updated_at
	`, p.ID, p.UserID, p.Kind, p.Description, p.UpdatedAt); err != nil {
		return fmt.Errorf("store: upsert pattern: %w", err)
	}
	return nil
}

// Patterns returns the user's observed patterns.
func (s *Store) Patterns(ctx context.Context, userID string) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, description, updated_at
		FROM patterns
		WHERE user_id = ?
		ORDER BY kind
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.UserID, &p.Kind, &p.Description, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan pattern: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate patterns: %w", err)
	}
	return out, nil
}
