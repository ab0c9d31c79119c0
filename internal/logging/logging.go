// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"

	// FilePath, when set, receives every record at debug level.
	FilePath string
	// Timestamped appends ".YYYYMMDD_HHMMSS" to FilePath.
	Timestamped bool

	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup initializes the global slog logger based on configuration. The
// returned closer releases the log file.
func Setup(cfg Config) (*slog.Logger, io.Closer, error) {
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	handler := newHandler(cfg.Format, stdout, parseLevel(cfg.Level))
	var closer io.Closer = nopCloser{}

	if cfg.FilePath != "" {
		path := LogFilePath(cfg.FilePath, cfg.Timestamped, time.Now())
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handler = teeHandler{handler, newHandler(cfg.Format, f, slog.LevelDebug)}
		closer = f
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// LogFilePath returns the file the logs of a run starting at now go to.
func LogFilePath(path string, timestamped bool, now time.Time) string {
	if !timestamped {
		return path
	}
	return path + "." + now.Format("20060102_150405")
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// teeHandler sends each record to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// correlationIDKey is the context key for correlation IDs.
type correlationIDKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func orDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

// RetrievalLogger creates a logger with the context of one retrieval unit.
func RetrievalLogger(log *slog.Logger, correlationID, issued, area string) *slog.Logger {
	return orDefault(log).With(
		"correlation_id", correlationID,
		"issued", issued,
		"area", area,
	)
}

// WorkerLogger creates a logger with worker context.
func WorkerLogger(log *slog.Logger, workerID int) *slog.Logger {
	return orDefault(log).With("worker_id", workerID)
}

// Component returns a logger with a component name.
func Component(log *slog.Logger, name string) *slog.Logger {
	return orDefault(log).With("component", name)
}
