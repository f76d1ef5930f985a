// Package outline is an in-process engine that answers hover, definition and
// references for Ruby from syntax alone. It parses every opened document
// with tree-sitter, indexes the methods, classes, modules and constants it
// defines, and publishes syntax errors as diagnostics.
//
// Like the embedded Sorbet build, it is driven through the engine
// call/callback surface and calls back synchronously from inside Invoke.
package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gossip-lsp/langruby/document"
	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/treesitter"
)

// Name is reported as the engine's server name.
const Name = "langruby-outline"

// Loader creates outline engines. With Framed set, the engine reads and
// writes Content-Length framed text instead of one message per call.
type Loader struct {
	Framed bool
	Logger *slog.Logger
}

// Instantiate implements engine.Loader. The payload is ignored.
func (l *Loader) Instantiate(ctx context.Context, _ engine.Payload) (engine.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return New(l.Framed, l.Logger), nil
}

// Module is an outline engine instance.
type Module struct {
	framed bool
	logger *slog.Logger

	store   *document.Store
	manager *treesitter.Manager
	checker *treesitter.Checker

	// invoke serializes calls into the engine.
	invoke sync.Mutex
	input  []byte

	mu        sync.Mutex
	callbacks map[engine.Handle]func(string)
	next      engine.Handle
	active    engine.Handle
	symbols   map[protocol.DocumentURI][]symbol
	shutdown  bool
	closed    bool
}

// New creates an outline engine.
func New(framed bool, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Module{
		framed:    framed,
		logger:    logger,
		store:     document.NewStore(),
		callbacks: make(map[engine.Handle]func(string)),
		symbols:   make(map[protocol.DocumentURI][]symbol),
	}
	m.manager = treesitter.NewManager(treesitter.DefaultRegistry(), m.store, logger)
	m.manager.OnTreeUpdate(m.reindex)
	m.checker = treesitter.NewChecker(m.manager, m.publishDiagnostics, logger)
	m.store.OnClose(m.forget)
	return m
}

// RegisterCallback implements engine.Module.
func (m *Module) RegisterCallback(fn func(string)) engine.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.callbacks[m.next] = fn
	return m.next
}

// Invoke implements engine.Module. Every answer and notification the
// message produces is delivered before Invoke returns.
func (m *Module) Invoke(export string, argTypes []engine.ArgType, args ...any) error {
	h, text, err := engine.CheckLSPArgs(export, argTypes, args)
	if err != nil {
		return err
	}

	m.invoke.Lock()
	defer m.invoke.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return engine.ErrClosed
	}
	if _, ok := m.callbacks[h]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: unknown handle %d", engine.ErrBadArguments, h)
	}
	m.active = h
	m.mu.Unlock()

	if !m.framed {
		return m.handle([]byte(text))
	}
	m.input = append(m.input, text...)
	for {
		body, n, err := jsonrpc.SplitFrame(m.input)
		if err != nil {
			m.input = nil
			return err
		}
		if n == 0 {
			return nil
		}
		m.input = m.input[n:]
		if err := m.handle(body); err != nil {
			return err
		}
	}
}

func (m *Module) handle(data []byte) error {
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return m.emit(jsonrpc.NewResponse(jsonrpc.ID{}, nil, err))
	}
	switch msg := msg.(type) {
	case *jsonrpc.Request:
		result, err := m.serve(msg.Method, msg.Params)
		return m.emit(jsonrpc.NewResponse(msg.ID, result, err))
	case *jsonrpc.Notification:
		m.notify(msg.Method, msg.Params)
	case *jsonrpc.Response:
		m.logger.Debug("ignoring response sent to engine", "id", msg.ID.String())
	}
	return nil
}

func (m *Module) serve(method string, params json.RawMessage) (interface{}, error) {
	m.mu.Lock()
	down := m.shutdown
	m.mu.Unlock()
	if down && method != protocol.MethodShutdown {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidRequest, Message: "engine is shutting down"}
	}

	switch method {
	case protocol.MethodInitialize:
		return &protocol.InitializeResult{
			Capabilities: protocol.ServerCapabilities{
				TextDocumentSync:   protocol.SyncFull,
				HoverProvider:      true,
				DefinitionProvider: true,
				ReferencesProvider: true,
			},
			ServerInfo: &protocol.ServerInfo{Name: Name},
		}, nil
	case protocol.MethodShutdown:
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		return nil, nil
	case protocol.MethodHover:
		var p protocol.HoverParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		h, err := m.hover(p.TextDocumentPositionParams)
		if h == nil || err != nil {
			return nil, err
		}
		return h, nil
	case protocol.MethodDefinition:
		var p protocol.DefinitionParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		locs, err := m.definition(p.TextDocumentPositionParams)
		if locs == nil || err != nil {
			return nil, err
		}
		return locs, nil
	case protocol.MethodReferences:
		var p protocol.ReferenceParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return m.references(p.TextDocumentPositionParams, p.Context.IncludeDeclaration)
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func (m *Module) notify(method string, params json.RawMessage) {
	switch method {
	case protocol.MethodDidOpen:
		var p protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			m.logger.Warn("bad didOpen params", "error", err)
			return
		}
		m.store.Open(&p)
	case protocol.MethodDidChange:
		var p protocol.DidChangeTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			m.logger.Warn("bad didChange params", "error", err)
			return
		}
		if !m.store.Change(&p) {
			m.logger.Warn("didChange for unopened document", "uri", p.TextDocument.URI)
		}
	case protocol.MethodDidClose:
		var p protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			m.logger.Warn("bad didClose params", "error", err)
			return
		}
		m.store.Close(&p)
	case protocol.MethodExit:
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
	case protocol.MethodInitialized, protocol.MethodSetTrace, protocol.MethodCancel:
	default:
		m.logger.Debug("ignoring notification", "method", method)
	}
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(params, v); err != nil {
		return &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (m *Module) publishDiagnostics(_ context.Context, params *protocol.PublishDiagnosticsParams) error {
	notif, err := jsonrpc.NewNotification(protocol.MethodPublishDiagnostics, params)
	if err != nil {
		return err
	}
	return m.emit(notif)
}

// emit hands a message to the callback of the handle that sent last.
func (m *Module) emit(msg jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	fn := m.callbacks[m.active]
	m.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("%w: no callback registered", engine.ErrBadArguments)
	}
	if m.framed {
		data = jsonrpc.Frame(data)
	}
	fn(string(data))
	return nil
}

// Close releases every parse tree.
func (m *Module) Close() error {
	m.invoke.Lock()
	defer m.invoke.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.manager.Close()
	return nil
}
