package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records eventdeck metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCacheLookup records a lookup against a cache tier.
	RecordCacheLookup(ctx context.Context, tier string, hit bool)

	// RecordCacheError records a swallowed cache tier failure.
	RecordCacheError(ctx context.Context, tier, op string)

	// RecordAnalyticsWrite records an analytics append attempt.
	RecordAnalyticsWrite(ctx context.Context, action string, err error)

	// RecordGeoLookup records one IP to country resolution.
	RecordGeoLookup(ctx context.Context, duration time.Duration, ok bool)
}

type otelMetrics struct {
	cacheLookups   metric.Int64Counter
	cacheErrors    metric.Int64Counter
	analyticsRows  metric.Int64Counter
	analyticsFails metric.Int64Counter
	geoLatency     metric.Float64Histogram
	geoFailures    metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventdeck")

	cacheLookups, err := meter.Int64Counter("eventdeck.cache.lookups",
		metric.WithDescription("Cache lookups by tier and outcome"),
	)
	if err != nil {
		return nil, err
	}

	cacheErrors, err := meter.Int64Counter("eventdeck.cache.errors",
		metric.WithDescription("Cache tier failures treated as misses"),
	)
	if err != nil {
		return nil, err
	}

	analyticsRows, err := meter.Int64Counter("eventdeck.analytics.rows",
		metric.WithDescription("Analytics rows appended"),
	)
	if err != nil {
		return nil, err
	}

	analyticsFails, err := meter.Int64Counter("eventdeck.analytics.failures",
		metric.WithDescription("Analytics appends that failed and were swallowed"),
	)
	if err != nil {
		return nil, err
	}

	geoLatency, err := meter.Float64Histogram("eventdeck.geo.latency_ms",
		metric.WithDescription("Geo lookup latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	geoFailures, err := meter.Int64Counter("eventdeck.geo.failures",
		metric.WithDescription("Geo lookups collapsed to Unknown"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		cacheLookups:   cacheLookups,
		cacheErrors:    cacheErrors,
		analyticsRows:  analyticsRows,
		analyticsFails: analyticsFails,
		geoLatency:     geoLatency,
		geoFailures:    geoFailures,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global OTel
// meter provider. If initialization fails, returns a no-op recorder.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.Bool("hit", hit),
	))
}

func (m *otelMetrics) RecordCacheError(ctx context.Context, tier, op string) {
	m.cacheErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("op", op),
	))
}

func (m *otelMetrics) RecordAnalyticsWrite(ctx context.Context, action string, err error) {
	attrs := metric.WithAttributes(attribute.String("action", action))
	if err != nil {
		m.analyticsFails.Add(ctx, 1, attrs)
		return
	}
	m.analyticsRows.Add(ctx, 1, attrs)
}

func (m *otelMetrics) RecordGeoLookup(ctx context.Context, duration time.Duration, ok bool) {
	m.geoLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attribute.Bool("ok", ok)))
	if !ok {
		m.geoFailures.Add(ctx, 1)
	}
}

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordCacheLookup(_ context.Context, _ string, _ bool)          {}
func (NoopMetrics) RecordCacheError(_ context.Context, _, _ string)                {}
func (NoopMetrics) RecordAnalyticsWrite(_ context.Context, _ string, _ error)      {}
func (NoopMetrics) RecordGeoLookup(_ context.Context, _ time.Duration, _ bool)     {}
