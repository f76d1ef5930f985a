package langruby

import (
	"context"
	"fmt"

	"github.com/gossip-lsp/langruby/jsonrpc"
	mw "github.com/gossip-lsp/langruby/middleware"
	"github.com/gossip-lsp/langruby/transport"
)

// Serve connects the server to a frontend and blocks until the connection
// ends or ctx is cancelled. Without a ServeOption it uses stdio.
func Serve(ctx context.Context, s *Server, opts ...ServeOption) error {
	cfg := &serveConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.transport == nil && cfg.transportFactory != nil {
		var err error
		cfg.transport, err = cfg.transportFactory()
		if err != nil {
			return fmt.Errorf("creating transport: %w", err)
		}
	}
	if cfg.transport == nil {
		cfg.transport = transport.Stdio()
	}

	handler := jsonrpc.Handler(s.dispatch)
	notifHandler := jsonrpc.NotificationHandler(s.dispatchNotification)
	if len(s.middlewares) > 0 {
		chain := mw.Chain(s.middlewares...)
		handler = jsonrpc.Handler(chain(mw.Handler(s.dispatch)))

		wrappedNotif := chain(func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			s.dispatchNotification(ctx, method, params)
			return nil, nil
		})
		notifHandler = func(ctx context.Context, method string, params jsonrpc.RawMessage) {
			_, _ = wrappedNotif(ctx, method, params)
		}
	}

	r, w := jsonrpc.NewStream(cfg.transport, cfg.transport, s.logger)
	conn := jsonrpc.NewConn(r, w, handler, notifHandler, jsonrpc.WithLogger(s.logger))
	s.conn = conn
	s.client.Store(newClientProxy(conn))

	if s.configHolder != nil {
		if err := s.configHolder.start(s.logger); err != nil {
			s.logger.Warn("config watcher failed to start", "error", err)
		}
		defer s.configHolder.close()
	}

	s.logger.Info("langruby server starting", "name", s.name, "version", s.version)

	if err := conn.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
