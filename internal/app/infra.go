package app

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/database"
	"github.com/Alijeyrad/simorq_calendar/pkg/email"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
	"github.com/Alijeyrad/simorq_calendar/pkg/sms"
)

// InfraModule provides all infrastructure dependencies.
var InfraModule = fx.Module("infra",
	fx.Provide(ProvideStore),
	fx.Provide(ProvideRedis),
	fx.Provide(ProvideLocker),
	fx.Provide(ProvideEmailClient),
	fx.Provide(ProvideSMSClient),
	fx.Provide(ProvideOTel),
	fx.Provide(ProvideMetrics),
	fx.Provide(ProvideNatsClient),
	fx.Provide(ProvideEventBus),
)

// ProvideStore opens the Postgres pool, or an in-memory store when
// database.driver is "memory".
func ProvideStore(lc fx.Lifecycle, cfg *config.Config) (*repo.Client, error) {
	if cfg.Database.Driver == "memory" {
		slog.Warn("using in-memory store; data is lost on exit")
		return repo.NewMemoryClient(), nil
	}

	pool, err := database.NewPool(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrations.AutoMigrate {
		if err := repo.Migrate(context.Background(), pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	client := repo.NewPostgresClient(pool)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing main database connection")
			return client.Close()
		},
	})
	return client, nil
}

// ProvideRedis returns nil when no address is configured; callers fall
// back to in-process implementations.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		slog.Warn("redis not configured; locks and caches are process-local")
		return nil, nil
	}
	rdb, err := redispkg.NewRedisFromCentral(cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing Redis connection")
			return rdb.Close()
		},
	})
	return rdb, nil
}

func ProvideLocker(rdb *redis.Client, cfg *config.Config) redispkg.Locker {
	if rdb == nil {
		return redispkg.NewLocalLocker()
	}
	return redispkg.NewLocker(rdb, cfg.Booking.LockTTL(), cfg.Booking.LockWait())
}

func ProvideEmailClient(cfg *config.Config) (*email.Client, error) {
	return email.NewFromCentral(cfg.Email)
}

func ProvideSMSClient(cfg *config.Config) (*sms.Client, error) {
	return sms.NewFromConfig(cfg.SMS)
}

func ProvideNatsClient(lc fx.Lifecycle, cfg *config.Config) (*nats.Conn, error) {
	if !cfg.Nats.Enabled {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.Nats.URL, nats.Name("simorq-calendar"))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("draining NATS connection")
			return nc.Drain()
		},
	})
	return nc, nil
}

// ProvideEventBus uses NATS when connected and an in-process bus otherwise.
func ProvideEventBus(nc *nats.Conn) events.Bus {
	if nc == nil {
		return events.NewLocalBus()
	}
	return events.NewNATSBus(nc)
}

func ProvideOTel(lc fx.Lifecycle, cfg *config.Config) (*observability.Provider, error) {
	if !cfg.Observability.Enabled {
		return nil, nil
	}
	provider, err := observability.InitTelemetry(context.Background(), observability.FromCentralConfig(cfg))
	if err != nil {
		return nil, err
	}
	slog.Info("observability initialized",
		"tracing", cfg.Observability.Tracing.Enabled,
		"metrics", cfg.Observability.Metrics.Enabled,
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("shutting down observability providers")
			return provider.Shutdown(ctx)
		},
	})
	return provider, nil
}

// ProvideMetrics depends on the OTel provider so the meter provider is
// installed before the instruments are created.
func ProvideMetrics(_ *observability.Provider) *observability.Metrics {
	return observability.NewMetrics()
}
