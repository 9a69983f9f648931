package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.22.0"

	"github.com/nexusflow/flowcore/pkg/logger"
)

// httpMetrics holds the server's request instruments: totals, latency, and
// in-flight count, labeled with method/route/status the way OpenTelemetry's
// HTTP semantic conventions name them.
type httpMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// newHTTPMetrics creates the server's instruments against meter, or returns
// nil (a no-op middleware) when no meter is configured. Instrument creation
// failures are logged and leave that instrument nil rather than failing
// server construction.
func newHTTPMetrics(ctx context.Context, meter metric.Meter) *httpMetrics {
	if meter == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	m := &httpMetrics{}
	var err error
	m.requests, err = meter.Int64Counter(
		"flowcore_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		log.Error("failed to create http requests counter", "error", err)
	}
	m.duration, err = meter.Float64Histogram(
		"flowcore_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithExplicitBucketBoundaries(.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10),
	)
	if err != nil {
		log.Error("failed to create http request duration histogram", "error", err)
	}
	m.inFlight, err = meter.Int64UpDownCounter(
		"flowcore_http_requests_in_flight",
		metric.WithDescription("Currently active HTTP requests"),
	)
	if err != nil {
		log.Error("failed to create http requests in flight counter", "error", err)
	}
	return m
}

// middleware returns the gin handler recording every request against the
// instruments. Routes are labeled by gin's route template, not the raw URL,
// so path parameters do not explode the label cardinality.
func (m *httpMetrics) middleware() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		if m.inFlight != nil {
			attrs := metric.WithAttributes(semconv.HTTPMethodKey.String(c.Request.Method))
			m.inFlight.Add(c.Request.Context(), 1, attrs)
			defer m.inFlight.Add(c.Request.Context(), -1, attrs)
		}
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			semconv.HTTPMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(path),
			semconv.HTTPStatusCodeKey.Int(c.Writer.Status()),
		)
		if m.requests != nil {
			m.requests.Add(c.Request.Context(), 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(c.Request.Context(), time.Since(start).Seconds(), attrs)
		}
	}
}
