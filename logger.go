package colgraph

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/parallel"
)

// Logger wraps slog.Logger with colgraph-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithColumn adds the column path and kind to the logger.
func (l *Logger) WithColumn(spec attr.Spec) *Logger {
	return &Logger{
		Logger: l.Logger.With("column", spec.Path(), "kind", spec.Kind.String()),
	}
}

// WithEntity adds an entity name to the logger.
func (l *Logger) WithEntity(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("entity", name),
	}
}

// LogBuild logs a finished column build.
func (l *Logger) LogBuild(ctx context.Context, spec attr.Spec, width attr.Width, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"column", spec.Path(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "build completed",
			"column", spec.Path(),
			"width", width.String(),
			"rows", spec.Rows(),
		)
	}
}

// LogDerive logs a link derivation.
func (l *Logger) LogDerive(ctx context.Context, op string, out attr.Spec, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "derive failed",
			"op", op,
			"column", out.Path(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "derive completed",
			"op", op,
			"column", out.Path(),
			"duration", duration,
		)
	}
}

// LogBatch logs the outcome of a parallel batch.
func (l *Logger) LogBatch(ctx context.Context, st parallel.Stats) {
	if st.Err != nil {
		l.WarnContext(ctx, "batch aborted",
			"batch", st.Name,
			"threads", st.Threads,
			"items", st.Items,
			"error", st.Err,
		)
	} else {
		l.DebugContext(ctx, "batch completed",
			"batch", st.Name,
			"threads", st.Threads,
			"items", st.Items,
			"duration", st.Duration,
		)
	}
}
