package app

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/jobs"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
)

// JobsModule provides the background job scheduler. The tickers only run
// when jobs.enabled is set; RunNow works either way.
var JobsModule = fx.Module("jobs",
	fx.Provide(ProvideScheduler),
	fx.Invoke(StartScheduler),
)

func ProvideScheduler(db *repo.Client, engine calendarsync.Engine, metrics *observability.Metrics, cfg *config.Config) *jobs.Scheduler {
	list := jobs.Build(jobs.Deps{DB: db, Engine: engine}, cfg.Jobs, cfg.CalendarSync, cfg.Google)
	return jobs.NewScheduler(metrics, list...)
}

func StartScheduler(lc fx.Lifecycle, s *jobs.Scheduler, cfg *config.Config) {
	if !cfg.Jobs.Enabled {
		slog.Info("background jobs disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}
