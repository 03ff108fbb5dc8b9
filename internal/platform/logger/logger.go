package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so log lines
// stay machine-parseable in aggregation.
func New(environment string) *slog.Logger {
	level := slog.LevelInfo
	if environment != "production" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
