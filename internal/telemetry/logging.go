// Package telemetry provides the logging, metrics and tracing used by the
// engine and the CLI.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig selects the logger level and output format.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// ParseLevel maps a level name to a slog level. Unknown names give Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w.
//
// CVGRAPH_LOG_LEVEL and CVGRAPH_LOG_FORMAT override the configuration.
// The default format is text; "json" selects the JSON handler.
func NewLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	if env := os.Getenv("CVGRAPH_LOG_LEVEL"); env != "" {
		cfg.Level = env
	}
	if env := os.Getenv("CVGRAPH_LOG_FORMAT"); env != "" {
		cfg.Format = env
	}
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey string

// CtxLogger is the context key for the logger.
const CtxLogger ctxKey = "logger"

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithPassID returns a logger annotated with pass_id.
func WithPassID(logger *slog.Logger, passID string) *slog.Logger {
	return logger.With("pass_id", passID)
}
