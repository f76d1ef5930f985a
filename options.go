package langruby

import (
	"log/slog"

	"github.com/gossip-lsp/langruby/middleware"
	"github.com/gossip-lsp/langruby/transport"
)

// Option configures a Server.
type Option func(*Server)

// ServeOption configures how Serve connects to the frontend.
type ServeOption func(*serveConfig)

type serveConfig struct {
	transport        transport.Transport
	transportFactory transport.Func
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMiddleware appends middleware to the dispatch chain. The first
// middleware added runs outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mws...)
	}
}

// WithStdio serves over stdin and stdout. This is the default.
func WithStdio() ServeOption {
	return func(cfg *serveConfig) { cfg.transport = transport.Stdio() }
}

// WithTransport serves over an established transport.
func WithTransport(t transport.Transport) ServeOption {
	return func(cfg *serveConfig) { cfg.transport = t }
}

// WithTCP waits for one frontend to connect on addr.
func WithTCP(addr string) ServeOption {
	return func(cfg *serveConfig) {
		cfg.transportFactory = func() (transport.Transport, error) {
			return transport.ListenTCP(addr)
		}
	}
}

// WithWebSocket waits for one frontend to open a WebSocket on addr.
func WithWebSocket(addr string, logger *slog.Logger) ServeOption {
	return func(cfg *serveConfig) {
		cfg.transportFactory = func() (transport.Transport, error) {
			return transport.ListenWebSocket(addr, logger)
		}
	}
}
