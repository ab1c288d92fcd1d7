// Package observability provides logging, tracing, and metrics utilities.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/relaycore/orchestrator/internal/infra/config"
	"github.com/relaycore/orchestrator/internal/transport/http/ctxutil"
)

// Logger is the structured logger used throughout the service.
type Logger = slog.Logger

// Structured logging key constants, kept stable across log entries so
// downstream log aggregation can index on them.
const (
	LogKeyService   = "service"
	LogKeyEnv       = "env"
	LogKeyRequestID = "request_id"
	LogKeyTraceID   = "trace_id"
	LogKeySpanID    = "span_id"
	LogKeyMethod    = "method"
	LogKeyRoute     = "route"
	LogKeyStatus    = "status"
	LogKeyDuration  = "duration_ms"
	LogKeyBytes     = "bytes"
)

// NewLogger creates a structured JSON logger with default attributes.
// The logger includes service and environment fields on every log entry.
// Log level is controlled via the LOG_LEVEL configuration.
func NewLogger(cfg *config.Config) *Logger {
	level := parseLogLevel(cfg.LogLevel)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With(
		LogKeyService, cfg.ServiceName,
		LogKeyEnv, cfg.Env,
	)
}

// parseLogLevel converts a log level string to slog.Level.
// Defaults to Info level for unknown values.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggerFromContext returns a logger enriched with request_id, trace_id, and
// span_id from context. Fields absent from context are omitted.
func LoggerFromContext(ctx context.Context, base *Logger) *Logger {
	l := base
	if reqID := ctxutil.GetRequestID(ctx); reqID != "" {
		l = l.With(LogKeyRequestID, reqID)
	}
	if traceID := ctxutil.GetTraceID(ctx); traceID != "" && traceID != ctxutil.EmptyTraceID {
		l = l.With(LogKeyTraceID, traceID)
	}
	if spanID := ctxutil.GetSpanID(ctx); spanID != "" && spanID != ctxutil.EmptySpanID {
		l = l.With(LogKeySpanID, spanID)
	}
	return l
}
