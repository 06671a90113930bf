// Package trace provides turn ID generation and context propagation so
// every log line emitted while handling one user message can be correlated,
// including lines from background trait analysis that outlives the turn.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// turnKey is the unexported context key used to store the turn ID.
type turnKey struct{}

// NewTurnID generates a unique ID for one user turn.
func NewTurnID() string {
	return "turn_" + uuid.NewString()
}

// WithTurnID returns a child context carrying the given turn ID.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnKey{}, id)
}

// FromContext extracts the turn ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(turnKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns a logger annotated with the turn ID from ctx, or the
// plain default logger when ctx carries none.
func Logger(ctx context.Context) *slog.Logger {
	if id := FromContext(ctx); id != "" {
		return slog.Default().With("turn", id)
	}
	return slog.Default()
}
