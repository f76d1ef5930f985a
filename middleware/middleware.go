// Package middleware wraps the host-facing dispatch of a langruby server.
// Each Middleware sees the method and raw params of every request and
// notification before the server decodes them.
package middleware

import (
	"context"
	"log/slog"

	"github.com/gossip-lsp/langruby/jsonrpc"
)

// Handler processes one JSON-RPC method call.
type Handler func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error)

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain composes middleware so that the first one given runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Default is the chain the server installs: recovery, logging, metrics,
// tracing.
func Default(logger *slog.Logger) Middleware {
	return Chain(Recovery(logger), Logging(logger), Metrics(), Tracing())
}
