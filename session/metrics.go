package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("langruby.session")
	meter  = otel.Meter("langruby.session")
)

var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	documentTotal  metric.Int64Counter
	faultTotal     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"langruby_session_request_duration_seconds",
			metric.WithDescription("Duration of engine requests including document resolution"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"langruby_session_requests_total",
			metric.WithDescription("Total engine requests by method and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		documentTotal, err = meter.Int64Counter(
			"langruby_session_documents_total",
			metric.WithDescription("Documents opened, refreshed and evicted in the engine"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		faultTotal, err = meter.Int64Counter(
			"langruby_session_faults_total",
			metric.WithDescription("Sessions that moved to the faulted state"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRequestSpan(ctx context.Context, sessionID, method, hostURI string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session.Request",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("rpc.method", method),
			attribute.String("document.uri", hostURI),
		),
	)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func recordRequest(ctx context.Context, method string, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome(err)),
	)
	requestLatency.Record(ctx, d.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

func recordDocument(ctx context.Context, action string) {
	if initMetrics() != nil {
		return
	}
	documentTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func recordFault(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	faultTotal.Add(ctx, 1)
}
