package capture

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics records cycle outcomes on the global meter provider.
type metrics struct {
	cycles    metric.Int64Counter
	failures  metric.Int64Counter
	discarded metric.Int64Counter
	latency   metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/teslashibe/go-shopcam/pkg/capture")
	m := &metrics{}
	// Instrument creation only fails on invalid names; the returned
	// instruments are usable no-ops in that case.
	m.cycles, _ = meter.Int64Counter("shopcam.capture.cycles",
		metric.WithDescription("Detection cycles started"),
		metric.WithUnit("{cycle}"))
	m.failures, _ = meter.Int64Counter("shopcam.capture.failures",
		metric.WithDescription("Cycles that failed to sample or detect"),
		metric.WithUnit("{cycle}"))
	m.discarded, _ = meter.Int64Counter("shopcam.capture.discarded",
		metric.WithDescription("Detection results dropped as stale"),
		metric.WithUnit("{result}"))
	m.latency, _ = meter.Float64Histogram("shopcam.detect.duration",
		metric.WithDescription("Detector round trip"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10))
	return m
}

func (m *metrics) cycle(ctx context.Context) {
	m.cycles.Add(ctx, 1)
}

func (m *metrics) failure(ctx context.Context, stage string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *metrics) discard(ctx context.Context) {
	m.discarded.Add(ctx, 1)
}

func (m *metrics) detectDuration(ctx context.Context, d time.Duration, ok bool) {
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}
