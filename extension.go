package langruby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gossip-lsp/langruby/channel"
	"github.com/gossip-lsp/langruby/config"
	"github.com/gossip-lsp/langruby/convert"
	"github.com/gossip-lsp/langruby/engine"
	"github.com/gossip-lsp/langruby/engine/outline"
	"github.com/gossip-lsp/langruby/engine/process"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/protocol"
	"github.com/gossip-lsp/langruby/resolver"
	"github.com/gossip-lsp/langruby/session"
)

// Extension is one activation: an engine, the session over it and the
// providers registered on the host.
type Extension struct {
	logger   *slog.Logger
	kind     string
	engine   *engine.Engine
	session  *session.Session
	resolver *resolver.Resolver

	// server receives forwarded engine messages once Register is called.
	server     atomic.Pointer[Server]
	unregister []func()
}

// ExtensionOption configures Activate.
type ExtensionOption func(*extensionOptions)

type extensionOptions struct {
	logger  *slog.Logger
	loader  engine.Loader
	payload engine.Payload
	querier resolver.Querier
	onFault func(error)
}

// WithExtensionLogger sets the logger for the extension and everything it
// creates.
func WithExtensionLogger(l *slog.Logger) ExtensionOption {
	return func(o *extensionOptions) { o.logger = l }
}

// WithEngineLoader replaces the loader chosen by engine.kind.
func WithEngineLoader(l engine.Loader, p engine.Payload) ExtensionOption {
	return func(o *extensionOptions) {
		o.loader = l
		o.payload = p
	}
}

// WithQuerier replaces the HTTP GraphQL client built from the remote
// settings.
func WithQuerier(q resolver.Querier) ExtensionOption {
	return func(o *extensionOptions) { o.querier = q }
}

// WithFaultHandler is called once if the engine session faults.
func WithFaultHandler(fn func(error)) ExtensionOption {
	return func(o *extensionOptions) { o.onFault = fn }
}

// Activate connects the configured engine and registers hover, definition
// and, when enabled, references providers on reg. An engine that fails to
// instantiate is logged and returned as an *engine.InstantiationError.
func Activate(ctx context.Context, reg *host.Registry, settings *config.Settings, opts ...ExtensionOption) (*Extension, error) {
	if settings == nil {
		d := config.Defaults()
		settings = &d
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	o := &extensionOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	logger := o.logger

	framing, err := channel.ParseFraming(settings.Engine.Framing)
	if err != nil {
		return nil, err
	}

	loader := o.loader
	if loader == nil {
		loader = newLoader(settings.Engine, framing, logger)
	}

	eng, err := engine.Connect(ctx, loader, o.payload)
	if err != nil {
		logger.Error("engine instantiation failed", "kind", settings.Engine.Kind, "error", err)
		return nil, err
	}

	r, w := channel.New(eng.SendReceive,
		channel.WithFraming(framing),
		channel.WithMailbox(settings.Engine.Mailbox),
		channel.WithFault(eng.Done(), eng.Err),
		channel.WithLogger(logger),
	)

	q := o.querier
	if q == nil {
		q = resolver.NewHTTPQuerier(settings.Remote.Endpoint,
			resolver.WithTimeout(settings.Remote.Timeout.Std()),
			resolver.WithRateLimit(settings.Remote.RateLimit, settings.Remote.Burst),
		)
	}
	res := resolver.New(q, resolver.WithLogger(logger), resolver.WithEndpoint(settings.Remote.Endpoint))

	e := &Extension{logger: logger, kind: settings.Engine.Kind, engine: eng, resolver: res}

	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithLanguageID(settings.Session.LanguageID),
		session.WithRequestTimeout(settings.Session.RequestTimeout.Std()),
		session.WithHandshakeTimeout(settings.Session.HandshakeTimeout.Std()),
		session.WithMaxOpenDocuments(settings.Session.MaxOpenDocuments),
		session.WithTrace(settings.Session.Trace),
		session.WithMessageHandler(e.forwardMessage),
	}
	if o.onFault != nil {
		sessOpts = append(sessOpts, session.WithFaultHandler(o.onFault))
	}
	sess := session.New(r, w, res, sessOpts...)
	e.session = sess

	p := settings.Providers
	e.unregister = append(e.unregister,
		reg.RegisterHoverProvider(host.Pattern(p.HoverPattern), host.HoverProviderFunc(e.provideHover)),
		reg.RegisterDefinitionProvider(host.Pattern(p.DefinitionPattern), host.DefinitionProviderFunc(e.provideDefinition)),
	)
	if p.References {
		e.unregister = append(e.unregister,
			reg.RegisterReferencesProvider(host.Pattern(p.DefinitionPattern), host.ReferencesProviderFunc(e.provideReferences)),
		)
	}

	logger.Info("extension activated",
		"engine", settings.Engine.Kind,
		"source", eng.Source(),
		"framing", framing.String(),
		"session", sess.ID(),
	)
	return e, nil
}

func newLoader(s config.EngineSettings, framing channel.Framing, logger *slog.Logger) engine.Loader {
	if s.Kind == config.EngineOutline {
		return &outline.Loader{Framed: framing == channel.FramingStream, Logger: logger}
	}
	return &process.Loader{Command: s.Command, Args: s.Args, Dir: s.Dir, Logger: logger}
}

func (e *Extension) provideHover(ctx context.Context, doc host.TextDocument, pos host.Position) (*host.Hover, error) {
	raw, err := e.session.Hover(ctx, doc.URI, convert.FromPosition(pos))
	if err != nil {
		return nil, err
	}
	return convert.ToHoverResult(raw)
}

func (e *Extension) provideDefinition(ctx context.Context, doc host.TextDocument, pos host.Position) ([]host.Location, error) {
	raw, err := e.session.Definition(ctx, doc.URI, convert.FromPosition(pos))
	if err != nil {
		return nil, err
	}
	return convert.ToDefinitionResult(doc.URI, raw)
}

func (e *Extension) provideReferences(ctx context.Context, doc host.TextDocument, pos host.Position, includeDeclaration bool) ([]host.Location, error) {
	raw, err := e.session.References(ctx, doc.URI, convert.FromPosition(pos), includeDeclaration)
	if err != nil {
		return nil, err
	}
	return convert.ToReferencesResult(doc.URI, raw)
}

// Session returns the engine session.
func (e *Extension) Session() *session.Session { return e.session }

// Resolver returns the remote content resolver.
func (e *Extension) Resolver() *resolver.Resolver { return e.resolver }

// Ready waits for the engine handshake.
func (e *Extension) Ready(ctx context.Context) error { return e.session.Ready(ctx) }

// Apply takes the live-reloadable parts of new settings. Engine and
// provider changes need a new activation.
func (e *Extension) Apply(s *config.Settings) {
	e.session.SetRequestTimeout(s.Session.RequestTimeout.Std())
	e.logger.Info("settings applied", "request_timeout", s.Session.RequestTimeout.Std())
}

// Diagnostics returns the engine's latest diagnostics for a host document.
func (e *Extension) Diagnostics(hostURI string) ([]protocol.Diagnostic, error) {
	return e.session.Diagnostics(hostURI)
}

// forwardMessage relays an engine log or show message to the frontend of
// the registered server.
func (e *Extension) forwardMessage(method string, typ protocol.MessageType, message string) {
	s := e.server.Load()
	if s == nil {
		return
	}
	c := s.Client()
	if c == nil {
		return
	}
	ctx := context.Background()
	var err error
	if method == protocol.MethodShowMessage {
		err = c.ShowMessage(ctx, typ, message)
	} else {
		err = c.LogMessage(ctx, typ, message)
	}
	if err != nil {
		e.logger.Debug("forwarding engine message failed", "method", method, "error", err)
	}
}

// Register adds the bridge's custom methods to s:
// langruby/diagnostics returns the diagnostics of a document and
// langruby/status reports the session state. Engine log and show messages
// are forwarded to s's frontend from then on.
func (e *Extension) Register(s *Server) {
	e.server.Store(s)
	s.HandleRequest("langruby/diagnostics", func(ctx *Context, params json.RawMessage) (interface{}, error) {
		var p DocumentParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		diags, err := e.Diagnostics(p.TextDocument.URI)
		if err != nil {
			return nil, wireError(err)
		}
		if diags == nil {
			diags = []protocol.Diagnostic{}
		}
		return diags, nil
	})
	s.HandleRequest("langruby/status", func(ctx *Context, _ json.RawMessage) (interface{}, error) {
		return e.Status(), nil
	})
}

// Status is a snapshot of the extension for health checks.
type Status struct {
	Session       string   `json:"session"`
	State         string   `json:"state"`
	Engine        string   `json:"engine"`
	OpenDocuments []string `json:"openDocuments"`
	Error         string   `json:"error,omitempty"`
}

func (e *Extension) Status() Status {
	st := Status{
		Session:       e.session.ID(),
		State:         e.session.State().String(),
		Engine:        e.kind,
		OpenDocuments: e.session.Opened(),
	}
	if err := e.session.Err(); err != nil && !errors.Is(err, session.ErrNotReady) {
		st.Error = err.Error()
	}
	return st
}

// Close unregisters the providers, closes the session and stops the
// engine.
func (e *Extension) Close() error {
	for _, fn := range e.unregister {
		fn()
	}
	e.unregister = nil
	serr := e.session.Close()
	eerr := e.engine.Close()
	return errors.Join(serr, eerr)
}
