package patann

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with index-specific helpers and consistent
// field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// A nil handler logs text at info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// With returns a Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// LogInsert logs a vector insertion.
func (l *Logger) LogInsert(ctx context.Context, id int64, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "count", count, "error", err)
		return
	}
	l.DebugContext(ctx, "insert completed", "id", id, "count", count)
}

// LogQuery logs a completed query.
func (l *Logger) LogQuery(ctx context.Context, k, candidates, results int, took time.Duration, err error) {
	if err != nil {
		l.DebugContext(ctx, "query failed", "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "query completed",
		"k", k,
		"candidates", candidates,
		"results", results,
		"took", took,
	)
}

// LogBuild logs a build progress report. Ready and failed reports are
// logged at info and error level, per-batch progress at debug.
func (l *Logger) LogBuild(ctx context.Context, indexed, total int64, ready bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "index build failed", "indexed", indexed, "total", total, "error", err)
	case ready:
		l.InfoContext(ctx, "index ready", "indexed", indexed)
	default:
		l.DebugContext(ctx, "index build progress", "indexed", indexed, "total", total)
	}
}

// LogPersist logs a snapshot or manifest write.
func (l *Logger) LogPersist(ctx context.Context, dir string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "persist failed", "dir", dir, "error", err)
		return
	}
	l.InfoContext(ctx, "index persisted", "dir", dir, "bytes", bytes)
}
