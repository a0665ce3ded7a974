// Package observe provides application-wide observability primitives for
// avatarvox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all avatarvox metrics.
const meterName = "github.com/MrWong99/avatarvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks end-to-end orchestrator latency. Use with
	// attribute.String("outcome", ...).
	SynthesisDuration metric.Float64Histogram

	// ProviderDuration tracks a single remote provider call. Use with
	// attribute.String("provider", ...).
	ProviderDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts remote provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts classified provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CacheLookups counts speech cache lookups. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("result", ...)
	CacheLookups metric.Int64Counter

	// CacheEvictions counts released cache entries. Use with attribute:
	//   attribute.String("reason", ...)
	CacheEvictions metric.Int64Counter

	// FormatResolutions counts audio format resolutions. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("format", ...)
	FormatResolutions metric.Int64Counter

	// Fallbacks counts requests served by the local engine. Use with
	// attribute.String("reason", ...).
	Fallbacks metric.Int64Counter

	// --- Gauges ---

	// CacheEntries tracks live in-memory cache entries.
	CacheEntries metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for generative speech latencies.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("avatarvox.synthesis.duration",
		metric.WithDescription("End-to-end latency of a synthesis request by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("avatarvox.provider.duration",
		metric.WithDescription("Latency of a single remote provider call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("avatarvox.provider.requests",
		metric.WithDescription("Total remote provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("avatarvox.provider.errors",
		metric.WithDescription("Total remote provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("avatarvox.cache.lookups",
		metric.WithDescription("Speech cache lookups by tier and result."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("avatarvox.cache.evictions",
		metric.WithDescription("Speech cache entries released by reason."),
	); err != nil {
		return nil, err
	}
	if met.FormatResolutions, err = m.Int64Counter("avatarvox.format.resolutions",
		metric.WithDescription("Audio format resolutions by strategy and format."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("avatarvox.fallbacks",
		metric.WithDescription("Requests served by the local speech engine by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.CacheEntries, err = m.Int64UpDownCounter("avatarvox.cache.entries",
		metric.WithDescription("Number of live in-memory speech cache entries."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("avatarvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one remote provider call: its latency, the
// request counter, and (when kind is non-empty) the error counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider string, elapsed time.Duration, kind string) {
	status := "ok"
	if kind != "" {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.ProviderDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordSynthesis records an orchestrator request by outcome.
func (m *Metrics) RecordSynthesis(ctx context.Context, outcome string, elapsed time.Duration) {
	m.SynthesisDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordCacheLookup records a cache lookup against tier ("memory" or "redis").
func (m *Metrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

// RecordCacheEviction records one released cache entry.
func (m *Metrics) RecordCacheEviction(ctx context.Context, reason string) {
	m.CacheEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFormatResolution records one resolver outcome.
func (m *Metrics) RecordFormatResolution(ctx context.Context, strategy, format string) {
	m.FormatResolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("format", format),
	))
}

// RecordFallback records a request served by the local engine.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
