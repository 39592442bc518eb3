package app

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/internal/service/notification"
	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
)

// WorkerModule registers the appointment event consumers.
var WorkerModule = fx.Module("workers",
	fx.Invoke(RegisterWorkers),
)

type WorkerParams struct {
	fx.In

	Lc       fx.Lifecycle
	Bus      events.Bus
	Engine   calendarsync.Engine
	NotifSvc notification.Service
}

func RegisterWorkers(p WorkerParams) {
	var unsubscribe []func() error
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			push, err := p.Bus.Subscribe(constants.QueueCalendarPush, pushHandler(p.Engine))
			if err != nil {
				return err
			}
			notify, err := p.Bus.Subscribe(constants.QueueNotifications, notifyHandler(p.NotifSvc))
			if err != nil {
				_ = push()
				return err
			}
			unsubscribe = append(unsubscribe, push, notify)
			slog.Info("event workers started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, u := range unsubscribe {
				if err := u(); err != nil {
					slog.Warn("unsubscribe worker", "err", err)
				}
			}
			return nil
		},
	})
}

// pushHandler mirrors every lifecycle change to the external calendar. A
// failed push leaves the appointment unsynced for the retry job.
func pushHandler(engine calendarsync.Engine) events.Handler {
	return func(ctx context.Context, e events.AppointmentEvent) error {
		return engine.PushAppointment(ctx, e.AppointmentID)
	}
}

func notifyHandler(svc notification.Service) events.Handler {
	return func(ctx context.Context, e events.AppointmentEvent) error {
		return svc.Notify(ctx, e)
	}
}
