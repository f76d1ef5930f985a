package middleware

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gossip-lsp/langruby/jsonrpc"
)

var meter = otel.Meter("langruby.server")

var (
	callLatency metric.Float64Histogram
	callTotal   metric.Int64Counter
	inFlight    metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callLatency, err = meter.Float64Histogram(
			"langruby_server_call_duration_seconds",
			metric.WithDescription("Duration of host-facing calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"langruby_server_calls_total",
			metric.WithDescription("Host-facing calls by method and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		inFlight, err = meter.Int64UpDownCounter(
			"langruby_server_calls_in_flight",
			metric.WithDescription("Host-facing calls currently being served"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// Metrics records call counts, latency and in-flight calls through the
// global meter provider.
func Metrics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (interface{}, error) {
			if initMetrics() != nil {
				return next(ctx, method, params)
			}
			methodAttr := metric.WithAttributes(attribute.String("method", method))
			inFlight.Add(ctx, 1, methodAttr)
			start := time.Now()

			result, err := next(ctx, method, params)

			inFlight.Add(ctx, -1, methodAttr)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("outcome", outcome),
			)
			callLatency.Record(ctx, time.Since(start).Seconds(), attrs)
			callTotal.Add(ctx, 1, attrs)
			return result, err
		}
	}
}
