package middleware

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gossip-lsp/langruby/jsonrpc"
)

var tracer = otel.Tracer("langruby.server")

// Tracing starts a server span per call named after the method. Spans
// created by the session and resolver nest under it.
func Tracing() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			ctx, span := tracer.Start(ctx, method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("rpc.system", "jsonrpc"),
					attribute.String("rpc.method", method),
				),
			)
			defer span.End()
			ctx = context.WithValue(ctx, traceMethodKey{}, method)

			result, err := next(ctx, method, params)
			if err != nil {
				var rpcErr *jsonrpc.Error
				if errors.As(err, &rpcErr) {
					span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}

type traceMethodKey struct{}

// TraceMethod returns the method being served in ctx, if Tracing wrapped
// the call.
func TraceMethod(ctx context.Context) string {
	if v, ok := ctx.Value(traceMethodKey{}).(string); ok {
		return v
	}
	return ""
}
