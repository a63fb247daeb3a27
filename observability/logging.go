// Package observability provides structured logging and OpenTelemetry
// metrics for the orchestration engine.
//
// Log lines are JSON and always carry an "action" attribute naming the
// event, plus contextual fields such as batch_id, completed, total,
// new_concurrency, and wait_time.
package observability

import (
	"io"
	"log/slog"
)

// Action is the conventional attribute naming a log event.
func Action(name string) slog.Attr {
	return slog.String("action", name)
}

// NewLogger returns a JSON slog.Logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Nop returns a logger that discards everything. Components accept a nil
// logger and substitute this.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
