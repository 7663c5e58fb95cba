// Package observe provides observability primitives for dissent:
// OpenTelemetry metrics, tracing helpers, and trace-aware structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from a /metrics endpoint by embedders that want one. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dissent metrics.
const meterName = "github.com/rspicer/dissent"

// Metrics holds all OpenTelemetry metric instruments for the debate engine.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// DebateDuration tracks end-to-end debate latency in seconds.
	DebateDuration metric.Float64Histogram

	// RoundDuration tracks per-round latency in seconds. Use with
	// attribute.String("round_type", ...).
	RoundDuration metric.Float64Histogram

	// ProviderRequests counts model dispatches. Use with attributes:
	//   attribute.String("vendor", ...), attribute.Bool("via_openrouter", ...),
	//   attribute.String("status", "ok"|"error")
	ProviderRequests metric.Int64Counter

	// TokensUsed counts reported tokens. Use with attributes:
	//   attribute.String("alias", ...), attribute.String("direction", "input"|"output")
	TokensUsed metric.Int64Counter

	// DebatesAborted counts debates cancelled before synthesis.
	DebatesAborted metric.Int64Counter
}

// NewMetrics creates all metric instruments against the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	debateDuration, err := meter.Float64Histogram("dissent.debate.duration",
		metric.WithDescription("End-to-end debate duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	roundDuration, err := meter.Float64Histogram("dissent.round.duration",
		metric.WithDescription("Per-round duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	providerRequests, err := meter.Int64Counter("dissent.provider.requests",
		metric.WithDescription("Model dispatches by vendor, path, and status"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter("dissent.tokens.used",
		metric.WithDescription("Reported token usage by alias and direction"),
	)
	if err != nil {
		return nil, err
	}

	debatesAborted, err := meter.Int64Counter("dissent.debates.aborted",
		metric.WithDescription("Debates cancelled before synthesis"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		DebateDuration:   debateDuration,
		RoundDuration:    roundDuration,
		ProviderRequests: providerRequests,
		TokensUsed:       tokensUsed,
		DebatesAborted:   debatesAborted,
	}, nil
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns the package-level Metrics instance bound to the
// global meter provider, creating it on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The OTel SDK only fails instrument creation on invalid names;
			// fall back to a no-op-provider instance.
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordDebateDuration records end-to-end debate latency. Nil-safe.
func (m *Metrics) RecordDebateDuration(ctx context.Context, seconds float64) {
	if m == nil || m.DebateDuration == nil {
		return
	}
	m.DebateDuration.Record(ctx, seconds)
}

// RecordRoundDuration records one round's latency tagged by round type.
// Nil-safe.
func (m *Metrics) RecordRoundDuration(ctx context.Context, roundType string, seconds float64) {
	if m == nil || m.RoundDuration == nil {
		return
	}
	m.RoundDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("round_type", roundType),
	))
}

// RecordAborted counts one cancelled debate. Nil-safe.
func (m *Metrics) RecordAborted(ctx context.Context) {
	if m == nil || m.DebatesAborted == nil {
		return
	}
	m.DebatesAborted.Add(ctx, 1)
}

// RecordRequest increments the provider request counter with the standard
// attribute set. Nil-instrument safe so callers need no guards.
func (m *Metrics) RecordRequest(ctx context.Context, vendor string, viaOpenRouter bool, ok bool) {
	if m == nil || m.ProviderRequests == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("vendor", vendor),
		attribute.Bool("via_openrouter", viaOpenRouter),
		attribute.String("status", status),
	))
}

// RecordTokens adds reported token counts for an alias. Nil-safe.
func (m *Metrics) RecordTokens(ctx context.Context, alias string, input, output int) {
	if m == nil || m.TokensUsed == nil {
		return
	}
	if input > 0 {
		m.TokensUsed.Add(ctx, int64(input), metric.WithAttributes(
			attribute.String("alias", alias),
			attribute.String("direction", "input"),
		))
	}
	if output > 0 {
		m.TokensUsed.Add(ctx, int64(output), metric.WithAttributes(
			attribute.String("alias", alias),
			attribute.String("direction", "output"),
		))
	}
}
