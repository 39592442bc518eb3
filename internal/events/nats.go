package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
)

const handlerTimeout = time.Minute

type natsBus struct {
	nc *nats.Conn
}

func NewNATSBus(nc *nats.Conn) Bus {
	return &natsBus{nc: nc}
}

func (b *natsBus) Publish(_ context.Context, e AppointmentEvent) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := b.nc.Publish(e.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject(), err)
	}
	return nil
}

func (b *natsBus) Subscribe(queue string, h Handler) (func() error, error) {
	sub, err := b.nc.QueueSubscribe(constants.SubjectAppointmentAll, queue, func(msg *nats.Msg) {
		e, err := Unmarshal(msg.Data)
		if err != nil {
			slog.Warn("events: dropping malformed message", "subject", msg.Subject, "queue", queue, "err", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if err := h(ctx, e); err != nil {
			slog.Warn("events: handler failed",
				"queue", queue,
				"action", e.Action,
				"appointment_id", e.AppointmentID,
				"err", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", queue, err)
	}
	return sub.Unsubscribe, nil
}
