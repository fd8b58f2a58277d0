// Package observability builds the process logger and carries log attributes on contexts.
package observability

import (
	"context"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/logfields"
)

// NewLogger builds a logger honouring the configured level and format.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(cfg.Level)}
	if config.NormalizeLogFormat(string(cfg.Format)) == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs NewLogger's result as the slog default and returns it.
func Setup(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	logger := NewLogger(cfg, w)
	slog.SetDefault(logger)
	return logger
}

// Level maps a configured level onto slog.
func Level(l config.LogLevel) slog.Level {
	switch config.NormalizeLogLevel(string(l)) {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogContext holds structured logging context information.
type LogContext struct {
	Service  string
	Group    string
	Consumer string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithService adds the hosting service name to the context.
func WithService(ctx context.Context, service string) context.Context {
	lc := extractLogContext(ctx)
	lc.Service = service
	return context.WithValue(ctx, logContextKey, lc)
}

// WithGroup adds a consumer group to the context.
func WithGroup(ctx context.Context, group string) context.Context {
	lc := extractLogContext(ctx)
	lc.Group = group
	return context.WithValue(ctx, logContextKey, lc)
}

// WithConsumer adds a consumer identity to the context.
func WithConsumer(ctx context.Context, consumer string) context.Context {
	lc := extractLogContext(ctx)
	lc.Consumer = consumer
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Attrs returns the context's log attributes.
func Attrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := make([]slog.Attr, 0, 3)
	if lc.Service != "" {
		attrs = append(attrs, logfields.Service(lc.Service))
	}
	if lc.Group != "" {
		attrs = append(attrs, logfields.Group(lc.Group))
	}
	if lc.Consumer != "" {
		attrs = append(attrs, logfields.Consumer(lc.Consumer))
	}
	return attrs
}

// Log writes msg to logger (slog.Default when nil) with the context attributes first.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, level, msg, append(Attrs(ctx), attrs...)...)
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Log(ctx, nil, slog.LevelInfo, msg, attrs...)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Log(ctx, nil, slog.LevelWarn, msg, attrs...)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Log(ctx, nil, slog.LevelError, msg, attrs...)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	Log(ctx, nil, slog.LevelDebug, msg, attrs...)
}
