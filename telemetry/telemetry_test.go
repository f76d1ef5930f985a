package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/gossip-lsp/langruby/config"
)

func TestInitNone(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Defaults().Telemetry, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitNilContext(t *testing.T) {
	_, err := Init(nil, config.Defaults().Telemetry, "test")
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInitUnknownExporter(t *testing.T) {
	cfg := config.Defaults().Telemetry
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg, "test")
	assert.True(t, errors.Is(err, ErrUnknownExporter))

	cfg = config.Defaults().Telemetry
	cfg.MetricExporter = "statsd"
	_, err = Init(context.Background(), cfg, "test")
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestPrometheusHandler(t *testing.T) {
	cfg := config.Defaults().Telemetry
	cfg.MetricExporter = ExporterPrometheus
	shutdown, err := Init(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("telemetry-test").Int64Counter("langruby_test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	h := MetricsHandler()
	require.NotNil(t, h)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "langruby_test_total"))
}
