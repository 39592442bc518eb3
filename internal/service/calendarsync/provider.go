package calendarsync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
)

// instrumented bounds every provider call with a timeout and records a span
// and a latency sample for it.
type instrumented struct {
	api     gcal.API
	metrics *observability.Metrics
	timeout time.Duration
	tracer  trace.Tracer
}

func instrument(api gcal.API, m *observability.Metrics, timeout time.Duration) gcal.API {
	return &instrumented{api: api, metrics: m, timeout: timeout, tracer: observability.Tracer()}
}

func (p *instrumented) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ctx, span := p.tracer.Start(ctx, "gcal."+op, trace.WithAttributes(attribute.String("gcal.op", op)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.ProviderCall(ctx, op, float64(time.Since(start).Microseconds())/1000, err != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *instrumented) PrimaryCalendar(ctx context.Context) (out gcal.Calendar, err error) {
	err = p.call(ctx, "primary", func(ctx context.Context) (err error) {
		out, err = p.api.PrimaryCalendar(ctx)
		return err
	})
	return out, err
}

func (p *instrumented) InsertEvent(ctx context.Context, calendarID string, e gcal.Event) (out gcal.Event, err error) {
	err = p.call(ctx, "insert", func(ctx context.Context) (err error) {
		out, err = p.api.InsertEvent(ctx, calendarID, e)
		return err
	})
	return out, err
}

func (p *instrumented) UpdateEvent(ctx context.Context, calendarID string, e gcal.Event) (out gcal.Event, err error) {
	err = p.call(ctx, "update", func(ctx context.Context) (err error) {
		out, err = p.api.UpdateEvent(ctx, calendarID, e)
		return err
	})
	return out, err
}

func (p *instrumented) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return p.call(ctx, "delete", func(ctx context.Context) error {
		return p.api.DeleteEvent(ctx, calendarID, eventID)
	})
}

func (p *instrumented) ListEvents(ctx context.Context, calendarID string, from, to time.Time) (out []gcal.Event, err error) {
	err = p.call(ctx, "list", func(ctx context.Context) (err error) {
		out, err = p.api.ListEvents(ctx, calendarID, from, to)
		return err
	})
	return out, err
}

func (p *instrumented) Watch(ctx context.Context, calendarID string, req gcal.WatchRequest) (out gcal.Channel, err error) {
	err = p.call(ctx, "watch", func(ctx context.Context) (err error) {
		out, err = p.api.Watch(ctx, calendarID, req)
		return err
	})
	return out, err
}

func (p *instrumented) StopChannel(ctx context.Context, channelID, resourceID string) error {
	return p.call(ctx, "stop", func(ctx context.Context) error {
		return p.api.StopChannel(ctx, channelID, resourceID)
	})
}

func (p *instrumented) FreeBusy(ctx context.Context, calendarID string, from, to time.Time) (out []gcal.Period, err error) {
	err = p.call(ctx, "freebusy", func(ctx context.Context) (err error) {
		out, err = p.api.FreeBusy(ctx, calendarID, from, to)
		return err
	})
	return out, err
}
