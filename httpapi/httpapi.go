// Package httpapi serves the host registry over HTTP for frontends that do
// not speak JSON-RPC.
//
//	GET  /healthz        - session state, 503 until the engine is ready
//	POST /v1/hover       - {textDocument, position} -> hover or null
//	POST /v1/definition  - {textDocument, position} -> locations
//	POST /v1/references  - {textDocument, position, context} -> locations
//	GET  /metrics        - Prometheus exposition
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gossip-lsp/langruby"
	"github.com/gossip-lsp/langruby/convert"
	"github.com/gossip-lsp/langruby/host"
	"github.com/gossip-lsp/langruby/jsonrpc"
	"github.com/gossip-lsp/langruby/resolver"
	"github.com/gossip-lsp/langruby/session"
	"github.com/gossip-lsp/langruby/telemetry"
)

// StatusReporter reports the state of the bridge behind the registry.
// *langruby.Extension implements it.
type StatusReporter interface {
	Status() langruby.Status
}

// Handlers serves the API routes.
type Handlers struct {
	registry *host.Registry
	status   StatusReporter
	metrics  http.Handler
	logger   *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithStatus makes /healthz report the bridge state.
func WithStatus(s StatusReporter) Option {
	return func(h *Handlers) { h.status = s }
}

// WithMetricsHandler replaces the /metrics handler. By default the
// telemetry exporter's handler is used when one is active, and the
// Prometheus default registry otherwise.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handlers) { h.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// NewHandlers creates handlers over reg.
func NewHandlers(reg *host.Registry, opts ...Option) *Handlers {
	h := &Handlers{registry: reg, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = telemetry.MetricsHandler()
	}
	if h.metrics == nil {
		h.metrics = promhttp.Handler()
	}
	return h
}

// NewRouter returns a gin engine with recovery, tracing and the API routes.
func NewRouter(serviceName string, h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	RegisterRoutes(router, h)
	return router
}

// RegisterRoutes adds the API routes to r.
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	r.GET("/healthz", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(h.metrics))

	v1 := r.Group("/v1")
	v1.POST("/hover", h.HandleHover)
	v1.POST("/definition", h.HandleDefinition)
	v1.POST("/references", h.HandleReferences)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusOK, gin.H{"state": "ready"})
		return
	}
	st := h.status.Status()
	code := http.StatusOK
	if st.State != session.StateReady.String() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

// HandleHover handles POST /v1/hover.
func (h *Handlers) HandleHover(c *gin.Context) {
	var req langruby.HoverParams
	if !h.bind(c, &req.PositionParams) {
		return
	}
	hover, err := h.registry.Hover(c.Request.Context(), req.TextDocument, req.Position)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hover)
}

// HandleDefinition handles POST /v1/definition.
func (h *Handlers) HandleDefinition(c *gin.Context) {
	var req langruby.DefinitionParams
	if !h.bind(c, &req.PositionParams) {
		return
	}
	locs, err := h.registry.Definition(c.Request.Context(), req.TextDocument, req.Position)
	if err != nil {
		h.fail(c, err)
		return
	}
	if locs == nil {
		locs = []host.Location{}
	}
	c.JSON(http.StatusOK, locs)
}

// HandleReferences handles POST /v1/references.
func (h *Handlers) HandleReferences(c *gin.Context) {
	var req langruby.ReferenceParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.TextDocument.URI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "textDocument.uri is required"})
		return
	}
	locs, err := h.registry.References(c.Request.Context(), req.TextDocument, req.Position, req.Context.IncludeDeclaration)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, locs)
}

func (h *Handlers) bind(c *gin.Context, req *langruby.PositionParams) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	if req.TextDocument.URI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "textDocument.uri is required"})
		return false
	}
	return true
}

func (h *Handlers) fail(c *gin.Context, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", c.FullPath(), "status", code, "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// StatusCode maps a provider error to an HTTP status.
func StatusCode(err error) int {
	var nf *resolver.NotFoundError
	var rpcErr *jsonrpc.Error
	switch {
	case errors.Is(err, convert.ErrNotHostURI):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrFaulted), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &rpcErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
