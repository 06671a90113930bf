package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bdobrica/Kokoro/internal/kokoro/affinity"
)

// Profile returns the user's persistent affinity weights and lifetime
// message count, creating the row with default weights on first sight.
// Creation tolerates a concurrent first contact for the same user: the
// losing insert is a no-op and both callers read the surviving row.
func (s *Store) Profile(ctx context.Context, userID string) (affinity.Weights, int64, error) {
	var w affinity.Weights
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT instinct_weight, logic_weight, psyche_weight, total_messages
		FROM profiles
		WHERE user_id = ?
	`, userID).Scan(&w.Instinct, &w.Logic, &w.Psyche, &total)

	if err == sql.ErrNoRows {
		d := affinity.DefaultWeights()
		now := time.Now()
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, instinct_weight, logic_weight, psyche_weight, total_messages, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, d.Instinct, d.Logic, d.Psyche, now, now); err != nil {
			return affinity.Weights{}, 0, fmt.Errorf("store: create profile: %w", err)
		}
		err = s.db.QueryRowContext(ctx, `
			SELECT instinct_weight, logic_weight, psyche_weight, total_messages
			FROM profiles
			WHERE user_id = ?
		`, userID).Scan(&w.Instinct, &w.Logic, &w.Psyche, &total)
	}
	if err != nil {
		return affinity.Weights{}, 0, fmt.Errorf("store: load profile: %w", err)
	}
	return w, total, nil
}

// SaveWeights persists new affinity weights for the user. The weights are
// validated first; a row that breaks the invariants would poison every
// later routing decision.
func (s *Store) SaveWeights(ctx context.Context, userID string, w affinity.Weights) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("store: refusing to save weights: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET instinct_weight = ?, logic_weight = ?, psyche_weight = ?, updated_at = ?
		WHERE user_id = ?
	`, w.Instinct, w.Logic, w.Psyche, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("store: save weights: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: save weights for %s: %w", userID, ErrNotFound)
	}
	return nil
}

// IncrementMessages bumps the user's lifetime message count by one and
// returns the new total. The count drives the variability curve, so it
// counts user messages only.
func (s *Store) IncrementMessages(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET total_messages = total_messages + 1, updated_at = ?
		WHERE user_id = ?
	`, time.Now(), userID)
	if err != nil {
		return 0, fmt.Errorf("store: increment messages: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("store: increment messages for %s: %w", userID, ErrNotFound)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT total_messages FROM profiles WHERE user_id = ?", userID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("store: read message count: %w", err)
	}
	return total, nil
}
