package langruby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gossip-lsp/langruby/convert"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/jsonrpc"
	mw "github.com/gossip-lsp/langruby/middleware"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/resolver"
	"github.com/gossip-lsp/langruby/session"
)

// Server answers a code-browsing frontend's hover, definition and
// references requests from a host.Registry.
type Server struct {
	name     string
	version  string
	logger   *slog.Logger
	registry *host.Registry

	// set during Serve
	conn   *jsonrpc.Conn
	client atomic.Pointer[ClientProxy]

	configHolder configHolder
	middlewares  []mw.Middleware

	mu               sync.RWMutex
	rawHandlers      map[string]RawHandler
	rawNotifHandlers map[string]RawNotificationHandler

	initialized atomic.Bool
	shutdown    atomic.Bool
	exited      atomic.Bool
}

// NewServer creates a server over registry. A nil registry gets an empty
// one.
func NewServer(name, version string, registry *host.Registry, opts ...Option) *Server {
	if registry == nil {
		registry = host.NewRegistry()
	}
	s := &Server{
		name:             name,
		version:          version,
		logger:           slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		registry:         registry,
		rawHandlers:      make(map[string]RawHandler),
		rawNotifHandlers: make(map[string]RawNotificationHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the registry the server dispatches to.
func (s *Server) Registry() *host.Registry { return s.registry }

func (s *Server) Logger() *slog.Logger { return s.logger }

// Conn returns the frontend connection, or nil before Serve.
func (s *Server) Conn() *jsonrpc.Conn { return s.conn }

// Client returns the proxy to the frontend, or nil before Serve.
func (s *Server) Client() *ClientProxy { return s.client.Load() }

// ExitCode is 0 when the frontend sent shutdown before exit, 1 otherwise.
func (s *Server) ExitCode() int {
	if s.shutdown.Load() {
		return 0
	}
	return 1
}

// HandleRequest registers a handler for a custom request method.
func (s *Server) HandleRequest(method string, h RawHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawHandlers[method] = h
}

// HandleNotification registers a handler for a custom notification.
func (s *Server) HandleNotification(method string, h RawNotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawNotifHandlers[method] = h
}

// dispatch is the request handler installed on the connection.
func (s *Server) dispatch(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
	gctx := newContext(ctx, s)

	switch method {
	case protocol.MethodInitialize:
		return s.handleInitialize(gctx, params)
	case protocol.MethodShutdown:
		s.shutdown.Store(true)
		s.logger.Info("server shutting down")
		return nil, nil
	}

	if !s.initialized.Load() {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeServerNotInitialized, Message: "server not initialized"}
	}
	if s.shutdown.Load() {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "server is shutting down"}
	}

	result, err := s.dispatchToHandler(gctx, method, params)
	if err != nil {
		return nil, wireError(err)
	}
	return result, nil
}

func (s *Server) dispatchNotification(ctx context.Context, method string, params jsonrpc.RawMessage) {
	gctx := newContext(ctx, s)

	switch method {
	case protocol.MethodInitialized:
		s.logger.Info("client initialized")
		return
	case protocol.MethodExit:
		s.logger.Info("received exit notification")
		s.exited.Store(true)
		if s.conn != nil {
			s.conn.Close()
		}
		return
	case protocol.MethodSetTrace, protocol.MethodCancel:
		return
	case protocol.MethodDidChangeConfiguration:
		if s.configHolder != nil {
			if err := s.configHolder.reload(); err != nil {
				s.logger.Warn("failed to reload config", "error", err)
			}
		}
		return
	}

	if !s.initialized.Load() {
		return
	}

	s.mu.RLock()
	h, ok := s.rawNotifHandlers[method]
	s.mu.RUnlock()
	if ok {
		h(gctx, params)
	}
}

func (s *Server) handleInitialize(_ *Context, params jsonrpc.RawMessage) (interface{}, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}

	caps := s.buildCapabilities()
	s.initialized.Store(true)

	s.logger.Info("server initialized", "name", s.name, "version", s.version)

	return &protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo:   &protocol.ServerInfo{Name: s.name, Version: s.version},
	}, nil
}

func decodeParams(params jsonrpc.RawMessage, v interface{}) error {
	if err := json.Unmarshal(params, v); err != nil {
		return &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (s *Server) dispatchToHandler(ctx *Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
	switch method {
	case protocol.MethodHover:
		var p HoverParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.registry.Hover(ctx, p.TextDocument, p.Position)

	case protocol.MethodDefinition:
		var p DefinitionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.registry.Definition(ctx, p.TextDocument, p.Position)

	case protocol.MethodReferences:
		var p ReferenceParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.registry.References(ctx, p.TextDocument, p.Position, p.Context.IncludeDeclaration)
	}

	s.mu.RLock()
	rh, ok := s.rawHandlers[method]
	s.mu.RUnlock()
	if ok {
		return rh(ctx, params)
	}

	return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// wireError gives provider failures a JSON-RPC code the frontend can act
// on. The message keeps the full error chain.
func wireError(err error) error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := jsonrpc.CodeRequestFailed
	switch {
	case errors.Is(err, convert.ErrNotHostURI):
		code = jsonrpc.CodeInvalidParams
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrFaulted), errors.Is(err, session.ErrClosed):
		code = jsonrpc.CodeServerNotInitialized
	case errors.Is(err, session.ErrTimeout):
		code = jsonrpc.CodeRequestCancelled
	}
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		code = jsonrpc.CodeInvalidParams
	}
	return &jsonrpc.Error{Code: code, Message: err.Error()}
}
