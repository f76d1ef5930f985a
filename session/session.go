// Package session drives one engine connection: the initialize handshake,
// the set of documents the engine has been given, and positional requests
// against them. A Session is created once per activation and shared by
// every provider.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/gossip-lsp/langruby/convert"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/protocol"
)

// ContentResolver fetches the text of a host-form document URI.
type ContentResolver interface {
	Resolve(ctx context.Context, hostURI string) (string, error)
}

// ContentResolverFunc adapts a function to ContentResolver.
type ContentResolverFunc func(ctx context.Context, hostURI string) (string, error)

func (f ContentResolverFunc) Resolve(ctx context.Context, hostURI string) (string, error) {
	return f(ctx, hostURI)
}

const (
	DefaultLanguageID       = "ruby"
	DefaultRequestTimeout   = 10 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	closeTimeout            = 2 * time.Second
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithLanguageID sets the languageId sent with didOpen.
func WithLanguageID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.languageID = id
		}
	}
}

// WithRequestTimeout bounds every request, document resolution included. A
// shorter deadline already on the caller's context wins. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.requestTimeout.Store(int64(d)) }
}

// WithHandshakeTimeout bounds the initialize request.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithMaxOpenDocuments closes the least recently used document once more
// than n are open. Zero keeps every document open.
func WithMaxOpenDocuments(n int) Option {
	return func(s *Session) { s.maxOpen = n }
}

// WithTrace logs every engine message at debug level.
func WithTrace(enabled bool) Option {
	return func(s *Session) { s.trace = enabled }
}

// WithMessageHandler passes the engine's window/logMessage and
// window/showMessage notifications to fn after they are logged.
func WithMessageHandler(fn func(method string, typ protocol.MessageType, message string)) Option {
	return func(s *Session) { s.onMessage = fn }
}

// WithFaultHandler registers fn to run once when the session faults.
func WithFaultHandler(fn func(error)) Option {
	return func(s *Session) { s.onFault = fn }
}

// Session is a connection to one engine.
type Session struct {
	id               string
	conn             *jsonrpc.Conn
	resolver         ContentResolver
	logger           *slog.Logger
	languageID       string
	handshakeTimeout time.Duration
	requestTimeout   atomic.Int64
	maxOpen          int
	trace            bool
	onFault          func(error)
	onMessage        func(method string, typ protocol.MessageType, message string)

	state atomic.Int32
	ready chan struct{}

	// docs is held for reading from a request's identity check until its
	// response arrives, and for writing while didOpen, didChange or
	// didClose is sent. It is taken before mu.
	docs sync.RWMutex

	mu     sync.Mutex
	caps   protocol.ServerCapabilities
	cause  error
	opened *openedTable
	flight singleflight.Group

	diagMu      sync.RWMutex
	diagnostics map[string][]protocol.Diagnostic

	closeOnce sync.Once
}

// New starts a session over the given message channel. The handshake runs
// in the background; operations wait for it.
func New(r jsonrpc.MessageReader, w jsonrpc.MessageWriter, resolver ContentResolver, opts ...Option) *Session {
	s := &Session{
		id:               uuid.NewString(),
		resolver:         resolver,
		languageID:       DefaultLanguageID,
		handshakeTimeout: DefaultHandshakeTimeout,
		ready:            make(chan struct{}),
		diagnostics:      make(map[string][]protocol.Diagnostic),
	}
	s.requestTimeout.Store(int64(DefaultRequestTimeout))
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s.logger = s.logger.With("session", s.id)
	s.opened = newOpenedTable(s.maxOpen)

	s.conn = jsonrpc.NewConn(r, w, s.handleRequest, s.handleNotification,
		jsonrpc.WithLogger(s.logger), jsonrpc.WithTrace(s.trace))

	s.setState(StateInitializing)
	if err := s.conn.Listen(context.Background()); err != nil {
		s.fault(fmt.Errorf("listening: %w", err))
		close(s.ready)
		return s
	}
	go s.watch()
	go s.handshake()
	return s
}

// ID identifies the session in logs and spans.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// SetRequestTimeout changes the per-request timeout for later requests.
func (s *Session) SetRequestTimeout(d time.Duration) {
	s.requestTimeout.Store(int64(d))
}

// Capabilities returns what the engine announced in its initialize result.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *Session) handshake() {
	defer close(s.ready)

	ctx := context.Background()
	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
		defer cancel()
	}

	root := protocol.DocumentURI("file://")
	params := protocol.InitializeParams{
		ProcessID:        nil,
		RootURI:          &root,
		RootPath:         "/",
		Capabilities:     protocol.ClientCapabilities{},
		WorkspaceFolders: []protocol.WorkspaceFolder{},
	}
	raw, err := s.conn.Request(ctx, protocol.MethodInitialize, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		s.fault(fmt.Errorf("initialize: %w", err))
		return
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("unreadable initialize result", "error", err)
	}
	s.mu.Lock()
	s.caps = result.Capabilities
	s.mu.Unlock()

	if err := s.conn.Notify(ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		s.fault(fmt.Errorf("initialized: %w", err))
		return
	}
	if s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		name := ""
		if result.ServerInfo != nil {
			name = result.ServerInfo.Name
		}
		s.logger.Info("engine ready", "server", name)
	}
}

// watch faults the session when the connection ends underneath it.
func (s *Session) watch() {
	<-s.conn.Done()
	if s.State() != StateClosed {
		s.fault(s.conn.Err())
	}
}

func (s *Session) fault(err error) {
	s.mu.Lock()
	if s.State() == StateFaulted || s.State() == StateClosed {
		s.mu.Unlock()
		return
	}
	s.cause = err
	s.setState(StateFaulted)
	s.mu.Unlock()

	s.logger.Error("engine session faulted", "error", err)
	recordFault(context.Background())
	s.conn.Close()
	if s.onFault != nil {
		s.onFault(err)
	}
}

// Err returns the session error for its current state, or nil when it is
// usable.
func (s *Session) Err() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateFaulted:
		s.mu.Lock()
		defer s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrFaulted, s.cause)
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// Ready waits for the handshake and reports whether the session is usable.
func (s *Session) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.Err()
	default:
	}
	select {
	case <-s.ready:
		return s.Err()
	case <-ctx.Done():
		return s.ctxErr(ctx, "waiting for handshake")
	}
}

func (s *Session) ctxErr(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, ErrTimeout)
	}
	return ctx.Err()
}

// mapErr turns connection and context errors into session errors. Engine
// error responses and resolver errors pass through.
func (s *Session) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	select {
	case <-s.conn.Done():
		if s.State() != StateClosed {
			s.fault(s.conn.Err())
		}
		if serr := s.Err(); serr != nil {
			return serr
		}
	default:
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return s.ctxErr(ctx, "engine request")
	}
	return err
}

func (s *Session) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := time.Duration(s.requestTimeout.Load()); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// EnsureOpened makes sure the engine holds the text of hostURI.
func (s *Session) EnsureOpened(ctx context.Context, hostURI string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	if err := s.Ready(ctx); err != nil {
		return err
	}
	_, err := s.ensureOpened(ctx, hostURI)
	return s.mapErr(ctx, err)
}

// ensureOpened opens hostURI in the engine unless the engine already holds
// that identity. Another identity of the same path is replaced through
// didChange. Concurrent calls for one identity share a single fetch.
func (s *Session) ensureOpened(ctx context.Context, hostURI string) (string, error) {
	d, err := convert.ParseHostURI(hostURI)
	if err != nil {
		return "", err
	}
	engineURI := d.EngineURI()

	s.mu.Lock()
	if doc, ok := s.opened.get(engineURI); ok && doc.hostURI == hostURI {
		s.mu.Unlock()
		return engineURI, nil
	}
	s.mu.Unlock()

	ch := s.flight.DoChan(hostURI, func() (interface{}, error) {
		s.mu.Lock()
		doc, ok := s.opened.get(engineURI)
		s.mu.Unlock()
		if ok && doc.hostURI == hostURI {
			return nil, nil
		}
		fetchCtx, cancel := s.withDeadline(context.WithoutCancel(ctx))
		defer cancel()
		text, err := s.resolver.Resolve(fetchCtx, hostURI)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", hostURI, err)
		}
		return nil, s.syncDocument(fetchCtx, engineURI, hostURI, text)
	})
	select {
	case res := <-ch:
		return engineURI, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// acquire opens hostURI and returns with s.docs held for reading while the
// engine holds that identity. The caller releases s.docs.
func (s *Session) acquire(ctx context.Context, hostURI string) (string, error) {
	for {
		engineURI, err := s.ensureOpened(ctx, hostURI)
		if err != nil {
			return "", err
		}
		s.docs.RLock()
		s.mu.Lock()
		doc, ok := s.opened.get(engineURI)
		s.mu.Unlock()
		if ok && doc.hostURI == hostURI {
			return engineURI, nil
		}
		s.docs.RUnlock()
		// Another revision of the path took over; open this one again.
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// syncDocument hands text to the engine as hostURI's content for engineURI.
func (s *Session) syncDocument(ctx context.Context, engineURI, hostURI, text string) error {
	s.docs.Lock()
	defer s.docs.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.opened.get(engineURI)
	switch {
	case ok && doc.hostURI == hostURI:
		return nil
	case ok:
		version := doc.version + 1
		err := s.conn.Notify(ctx, protocol.MethodDidChange, protocol.DidChangeTextDocumentParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(engineURI)},
				Version:                version,
			},
			ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
		})
		if err != nil {
			return err
		}
		s.logger.Debug("refreshed document", "uri", engineURI, "from", doc.hostURI, "to", hostURI, "version", version)
		doc.hostURI = hostURI
		doc.version = version
		recordDocument(ctx, "refresh")
		return nil
	}

	err := s.conn.Notify(ctx, protocol.MethodDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(engineURI),
			LanguageID: s.languageID,
			Version:    1,
			Text:       text,
		},
	})
	if err != nil {
		return err
	}
	s.logger.Debug("opened document", "uri", engineURI, "host_uri", hostURI)
	recordDocument(ctx, "open")

	for _, old := range s.opened.put(&openedDoc{engineURI: engineURI, hostURI: hostURI, version: 1}) {
		err := s.conn.Notify(ctx, protocol.MethodDidClose, protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(old.engineURI)},
		})
		if err != nil {
			s.logger.Warn("closing evicted document failed", "uri", old.engineURI, "error", err)
		}
		s.diagMu.Lock()
		delete(s.diagnostics, old.engineURI)
		s.diagMu.Unlock()
		recordDocument(ctx, "evict")
	}
	return nil
}

// Opened returns the host URIs the engine currently holds, most recently
// used first.
func (s *Session) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.opened.all()
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.hostURI
	}
	return out
}

func positionParams(engineURI string, pos protocol.Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(engineURI)},
		Position:     pos,
	}
}

// Hover returns the engine's raw hover result for a position in hostURI.
func (s *Session) Hover(ctx context.Context, hostURI string, pos protocol.Position) (json.RawMessage, error) {
	return s.request(ctx, protocol.MethodHover, hostURI, func(engineURI string) interface{} {
		return protocol.HoverParams{TextDocumentPositionParams: positionParams(engineURI, pos)}
	})
}

// Definition returns the engine's raw definition result.
func (s *Session) Definition(ctx context.Context, hostURI string, pos protocol.Position) (json.RawMessage, error) {
	return s.request(ctx, protocol.MethodDefinition, hostURI, func(engineURI string) interface{} {
		return protocol.DefinitionParams{TextDocumentPositionParams: positionParams(engineURI, pos)}
	})
}

// References returns the engine's raw references result.
func (s *Session) References(ctx context.Context, hostURI string, pos protocol.Position, includeDeclaration bool) (json.RawMessage, error) {
	return s.request(ctx, protocol.MethodReferences, hostURI, func(engineURI string) interface{} {
		return protocol.ReferenceParams{
			TextDocumentPositionParams: positionParams(engineURI, pos),
			Context:                    protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
		}
	})
}

func (s *Session) request(ctx context.Context, method, hostURI string, params func(engineURI string) interface{}) (result json.RawMessage, err error) {
	start := time.Now()
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	ctx, span := startRequestSpan(ctx, s.id, method, hostURI)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("result.bytes", len(result)))
		span.End()
		recordRequest(ctx, method, time.Since(start), err)
	}()

	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	engineURI, err := s.acquire(ctx, hostURI)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	defer s.docs.RUnlock()
	raw, err := s.conn.Request(ctx, method, params(engineURI))
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	return raw, nil
}

// Diagnostics returns the latest diagnostics the engine published for the
// path of hostURI.
func (s *Session) Diagnostics(hostURI string) ([]protocol.Diagnostic, error) {
	engineURI, err := convert.ToEngineURI(hostURI)
	if err != nil {
		return nil, err
	}
	s.diagMu.RLock()
	defer s.diagMu.RUnlock()
	return append([]protocol.Diagnostic(nil), s.diagnostics[engineURI]...), nil
}

// handleRequest answers requests the engine sends to the bridge.
func (s *Session) handleRequest(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
	switch method {
	case protocol.MethodRegisterCapability, protocol.MethodUnregisterCapability, protocol.MethodShowMessageRequest:
		return nil, nil
	case protocol.MethodWorkspaceConfiguration:
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(params, &p)
		return make([]interface{}, len(p.Items)), nil
	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func (s *Session) handleNotification(ctx context.Context, method string, params jsonrpc.RawMessage) {
	switch method {
	case protocol.MethodPublishDiagnostics:
		var p protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("bad publishDiagnostics params", "error", err)
			return
		}
		s.diagMu.Lock()
		s.diagnostics[string(p.URI)] = p.Diagnostics
		s.diagMu.Unlock()
	case protocol.MethodLogMessage, protocol.MethodShowMessage:
		var p protocol.LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.logger.Log(ctx, messageLevel(p.Type), p.Message, "source", "engine")
		if s.onMessage != nil {
			s.onMessage(method, p.Type, p.Message)
		}
	default:
		s.logger.Debug("ignoring engine notification", "method", method)
	}
}

func messageLevel(t protocol.MessageType) slog.Level {
	switch t {
	case protocol.Error:
		return slog.LevelError
	case protocol.Warning:
		return slog.LevelWarn
	case protocol.Info:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Close shuts the engine down, best effort, and fails pending requests.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.State() == StateReady {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			if _, err := s.conn.Request(ctx, protocol.MethodShutdown, nil); err != nil {
				s.logger.Debug("engine shutdown failed", "error", err)
			}
			if err := s.conn.Notify(ctx, protocol.MethodExit, nil); err != nil {
				s.logger.Debug("engine exit failed", "error", err)
			}
			cancel()
		}
		s.mu.Lock()
		s.setState(StateClosed)
		s.mu.Unlock()
		s.conn.Close()
	})
	return nil
}
