package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics are the domain counters exported next to the HTTP ones. They are
// created from the global meter provider, so they are no-ops until
// InitTelemetry has run.
type Metrics struct {
	syncRuns         metric.Int64Counter
	syncItems        metric.Int64Counter
	bookingConflicts metric.Int64Counter
	providerCalls    metric.Float64Histogram
}

func NewMetrics() *Metrics {
	meter := otel.Meter(tracerName)

	runs, _ := meter.Int64Counter(
		"calendar_sync_runs_total",
		metric.WithDescription("Scheduled and manual sync runs by job and outcome"),
	)
	items, _ := meter.Int64Counter(
		"calendar_sync_items_total",
		metric.WithDescription("Events and appointments processed by sync, by kind"),
	)
	conflicts, _ := meter.Int64Counter(
		"booking_conflicts_total",
		metric.WithDescription("Booking attempts rejected because of an overlapping interval"),
	)
	calls, _ := meter.Float64Histogram(
		"calendar_provider_call_duration_ms",
		metric.WithDescription("Latency of external calendar provider calls"),
		metric.WithUnit("ms"),
	)

	return &Metrics{
		syncRuns:         runs,
		syncItems:        items,
		bookingConflicts: conflicts,
		providerCalls:    calls,
	}
}

func (m *Metrics) SyncRun(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.syncRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) SyncItems(ctx context.Context, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.syncItems.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) BookingConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.bookingConflicts.Add(ctx, 1)
}

func (m *Metrics) ProviderCall(ctx context.Context, op string, ms float64, failed bool) {
	if m == nil {
		return
	}
	m.providerCalls.Record(ctx, ms, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("failed", failed),
	))
}

// Tracer returns the service tracer for spans outside HTTP handlers.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
