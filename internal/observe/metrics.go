// Package observe provides application-wide observability primitives for
// Verbatim: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Verbatim metrics.
const meterName = "github.com/verbatim-labs/verbatim"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Event pipeline counters ---

	// EventsClassified counts provider events admitted by the classifier.
	// Use with attributes:
	//   attribute.String("speaker", ...), attribute.String("stage", ...)
	EventsClassified metric.Int64Counter

	// EventsDiscarded counts provider events the classifier dropped. Use
	// with attribute:
	//   attribute.String("reason", ...)
	EventsDiscarded metric.Int64Counter

	// InterimFlushes counts debounced interim promotions.
	InterimFlushes metric.Int64Counter

	// TranscriptAppends counts transcript entries appended as new turns.
	TranscriptAppends metric.Int64Counter

	// TranscriptReplacements counts in-place interim replacements.
	TranscriptReplacements metric.Int64Counter

	// DuplicatesSuppressed counts finalized utterances dropped by dedup.
	DuplicatesSuppressed metric.Int64Counter

	// --- Persistence ---

	// BatchFlushDuration tracks message batch save latency.
	BatchFlushDuration metric.Float64Histogram

	// BatchRetries counts failed batch saves that were retried.
	BatchRetries metric.Int64Counter

	// BatchDrops counts batches dropped after exhausting retries.
	BatchDrops metric.Int64Counter

	// --- Call lifecycle ---

	// ActiveCalls tracks the number of live interview calls.
	ActiveCalls metric.Int64UpDownCounter

	// CallErrors counts call errors by classified kind. Use with attribute:
	//   attribute.String("kind", ...)
	CallErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for store round-trip latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Event pipeline counters.
	if met.EventsClassified, err = m.Int64Counter("verbatim.events.classified",
		metric.WithDescription("Provider events admitted by the classifier, by speaker and stage."),
	); err != nil {
		return nil, err
	}
	if met.EventsDiscarded, err = m.Int64Counter("verbatim.events.discarded",
		metric.WithDescription("Provider events dropped by the classifier, by reason."),
	); err != nil {
		return nil, err
	}
	if met.InterimFlushes, err = m.Int64Counter("verbatim.interim.flushes",
		metric.WithDescription("Debounced interim transcripts promoted to the accumulator."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptAppends, err = m.Int64Counter("verbatim.transcript.appends",
		metric.WithDescription("Transcript entries appended as new speaker turns."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptReplacements, err = m.Int64Counter("verbatim.transcript.replacements",
		metric.WithDescription("In-place replacements of a live interim entry."),
	); err != nil {
		return nil, err
	}
	if met.DuplicatesSuppressed, err = m.Int64Counter("verbatim.transcript.duplicates_suppressed",
		metric.WithDescription("Finalized utterances dropped by deduplication."),
	); err != nil {
		return nil, err
	}

	// Persistence.
	if met.BatchFlushDuration, err = m.Float64Histogram("verbatim.batch.flush.duration",
		metric.WithDescription("Latency of message batch saves."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchRetries, err = m.Int64Counter("verbatim.batch.retries",
		metric.WithDescription("Failed batch saves that were requeued for retry."),
	); err != nil {
		return nil, err
	}
	if met.BatchDrops, err = m.Int64Counter("verbatim.batch.drops",
		metric.WithDescription("Batches dropped after exhausting retries."),
	); err != nil {
		return nil, err
	}

	// Call lifecycle.
	if met.ActiveCalls, err = m.Int64UpDownCounter("verbatim.active_calls",
		metric.WithDescription("Number of live interview calls."),
	); err != nil {
		return nil, err
	}
	if met.CallErrors, err = m.Int64Counter("verbatim.call.errors",
		metric.WithDescription("Call errors by classified kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("verbatim.http.request.duration",
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

// RecordDiscard records a classifier discard with its reason.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.EventsDiscarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordClassified records an admitted event with its speaker and stage.
func (m *Metrics) RecordClassified(ctx context.Context, speaker, stage string) {
	m.EventsClassified.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("speaker", speaker),
			attribute.String("stage", stage),
		),
	)
}

// RecordCallError records a call error with its classified kind.
func (m *Metrics) RecordCallError(ctx context.Context, kind string) {
	m.CallErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
