// Package logging builds the process logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and an optional rotating log file.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	File       string // empty logs to the console only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	AddSource  bool
}

// DefaultConfig returns console text logging at info.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28}
}

// LogLevel converts the configured level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
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

// IsJSON reports whether JSON output was requested.
func (c Config) IsJSON() bool {
	return strings.EqualFold(c.Format, "json")
}

// New builds a logger writing to console, and to a rotating file when
// cfg.File is set. The returned closer releases the file.
func New(cfg Config, console io.Writer) (*slog.Logger, io.Closer) {
	if console == nil {
		console = os.Stderr
	}

	var out io.Writer = console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(console, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel(), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.IsJSON() {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type ctxKey struct{}

// NewRequestID returns a fresh request id.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request id in ctx, if any.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// FromContext returns logger with the request id attached when ctx carries one.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id, ok := RequestID(ctx); ok {
		return logger.With("request_id", id)
	}
	return logger
}
