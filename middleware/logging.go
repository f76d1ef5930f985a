package middleware

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/gossip-lsp/langruby/jsonrpc"
)

// Logging logs each call with its duration. Failures log at error level,
// except wire errors carrying a code, which the caller asked for and log at
// warn.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			start := time.Now()
			result, err := next(ctx, method, params)

			attrs := []slog.Attr{
				slog.String("method", method),
				slog.Duration("duration", time.Since(start)),
			}
			if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
				attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
			}
			if err == nil {
				logger.LogAttrs(ctx, slog.LevelDebug, "request handled", attrs...)
				return result, nil
			}

			attrs = append(attrs, slog.String("error", err.Error()))
			level := slog.LevelError
			if _, ok := err.(*jsonrpc.Error); ok {
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "request failed", attrs...)
			return result, err
		}
	}
}
