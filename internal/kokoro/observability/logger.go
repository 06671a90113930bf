// Package observability configures structured logging for Kokoro.
// Per-turn correlation lives in common/trace; this package only sets up
// the process-wide logger.
package observability

import (
	"log/slog"
	"os"
)

// Setup configures the global slog logger from the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
