package langruby

import (
	"context"
	"log/slog"

	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/protocol"
)

// Context is the context handed to raw handlers.
type Context struct {
	context.Context

	// Client is nil when the server is not serving a connection.
	Client *ClientProxy
	server *Server
}

func newContext(ctx context.Context, s *Server) *Context {
	return &Context{Context: ctx, Client: s.client.Load(), server: s}
}

// ServerInfo returns the server's name and version.
func (c *Context) ServerInfo() protocol.ServerInfo {
	return protocol.ServerInfo{Name: c.server.name, Version: c.server.version}
}

func (c *Context) Server() *Server { return c.server }

func (c *Context) Logger() *slog.Logger { return c.server.logger }

// Registry returns the provider registry requests are dispatched to.
func (c *Context) Registry() *host.Registry { return c.server.registry }
