// Package logging wraps slog with attack-specific helpers so every component
// logs with the same field names.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with attack-specific context.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewWriter creates a text or JSON Logger writing to w at the named level
// ("debug", "info", "warn", "error"; unknown names mean info).
func NewWriter(w io.Writer, format, level string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return New(slog.NewJSONHandler(w, opts))
	}
	return New(slog.NewTextHandler(w, opts))
}

// Nop returns a Logger that discards all output.
func Nop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun tags every record with the experiment name.
func (l *Logger) WithRun(name string) *Logger {
	return &Logger{Logger: l.Logger.With("run", name)}
}

// WithWorker tags every record with a worker id.
func (l *Logger) WithWorker(id int) *Logger {
	return &Logger{Logger: l.Logger.With("worker", id)}
}

// LogTransition logs a coordinator state change.
func (l *Logger) LogTransition(ctx context.Context, from, to string) {
	l.DebugContext(ctx, "state transition", "from", from, "to", to)
}

// LogProgress logs enumeration progress.
func (l *Logger) LogProgress(ctx context.Context, processed, total uint64, best float64) {
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(processed) / float64(total)
	}
	l.InfoContext(ctx, "progress",
		"processed", processed,
		"total", total,
		"percent", pct,
		"best_score", best,
	)
}

// LogCheckpoint logs a checkpoint save.
func (l *Logger) LogCheckpoint(ctx context.Context, path string, cursor uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"path", path,
			"cursor", cursor,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"path", path,
			"cursor", cursor,
		)
	}
}

// LogRangeFailure logs a worker range aborted by an error.
func (l *Logger) LogRangeFailure(ctx context.Context, lo, hi uint64, err error) {
	l.ErrorContext(ctx, "range aborted",
		"lo", lo,
		"hi", hi,
		"error", err,
	)
}

// LogResume logs a checkpoint restore.
func (l *Logger) LogResume(ctx context.Context, cursor, processed uint64, kept int) {
	l.InfoContext(ctx, "resuming from checkpoint",
		"cursor", cursor,
		"processed", processed,
		"kept", kept,
	)
}

// LogBatchSkipped logs a sample batch dropped because it failed validation.
func (l *Logger) LogBatchSkipped(ctx context.Context, batch, rows int, err error) {
	l.WarnContext(ctx, "sample batch skipped",
		"batch", batch,
		"rows", rows,
		"error", err,
	)
}
