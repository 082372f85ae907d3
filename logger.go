package seqbatch

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with reader-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithReader tags every record with the reader id.
func (l *Logger) WithReader(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("reader_id", id),
	}
}

// WithSource adds a source (stream) name field.
func (l *Logger) WithSource(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("source", name),
	}
}

// WithChunk adds a chunk id field.
func (l *Logger) WithChunk(id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("chunk", id),
	}
}

// WithEpoch adds an epoch index field.
func (l *Logger) WithEpoch(epoch int) *Logger {
	return &Logger{
		Logger: l.Logger.With("epoch", epoch),
	}
}

// LogEpochStart logs the start of an epoch.
func (l *Logger) LogEpochStart(ctx context.Context, epoch, samples, rank, workers int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "epoch start failed",
			"epoch", epoch,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "epoch started",
			"epoch", epoch,
			"samples", samples,
			"worker", rank,
			"workers", workers,
		)
	}
}

// LogMinibatch logs one minibatch read.
func (l *Logger) LogMinibatch(ctx context.Context, samples int, bytes int64, endOfEpoch bool, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "minibatch read failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "minibatch read",
			"samples", samples,
			"bytes", bytes,
			"end_of_epoch", endOfEpoch,
			"duration", d,
		)
	}
}

// LogAlignment logs the result of aligning the sources.
func (l *Logger) LogAlignment(ctx context.Context, sequences, chunks, dropped int) {
	if dropped > 0 {
		l.WarnContext(ctx, "sources aligned with dropped sequences",
			"sequences", sequences,
			"chunks", chunks,
			"dropped", dropped,
		)
	} else {
		l.InfoContext(ctx, "sources aligned",
			"sequences", sequences,
			"chunks", chunks,
		)
	}
}
