package logger

import (
	"log/slog"
	"os"

	"usher/internal/platform/environment"
)

// New returns a structured JSON logger using slog.
// Non-production environments log at debug level.
func New(env environment.Source) *slog.Logger {
	level := slog.LevelInfo
	if env != nil && env.NonProduction() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
