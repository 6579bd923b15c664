package utils

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger for the resolution engine.
// Unknown level strings fall back to info so a bad config cannot silence
// the service. Every record carries the service name so engine lines are
// separable from backend noise in shared sinks.
func NewLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("service", "mirador-resolve"))
}
