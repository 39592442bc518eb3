package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/availability"
	"github.com/Alijeyrad/simorq_calendar/internal/service/blockedtime"
	"github.com/Alijeyrad/simorq_calendar/internal/service/booking"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
	"github.com/Alijeyrad/simorq_calendar/internal/service/notification"
	"github.com/Alijeyrad/simorq_calendar/internal/service/vault"
	"github.com/Alijeyrad/simorq_calendar/pkg/crypto"
	"github.com/Alijeyrad/simorq_calendar/pkg/email"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
	pasetotoken "github.com/Alijeyrad/simorq_calendar/pkg/paseto"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
	"github.com/Alijeyrad/simorq_calendar/pkg/sms"
)

// ServiceModule provides all application service dependencies.
var ServiceModule = fx.Module("services",
	fx.Provide(
		ProvideConflictChecker,
		ProvideAvailabilityService,
		ProvideBlockedTimeService,
		ProvideBookingService,
		ProvideVault,
		ProvideBusyCache,
		ProvideSyncEngine,
		ProvideNotificationService,
		ProvidePasetoManager,
	),
)

func ProvideConflictChecker(db *repo.Client) conflict.Checker {
	return conflict.New(db)
}

// ProvideAvailabilityService uses the sync engine as the external busy source.
func ProvideAvailabilityService(db *repo.Client, engine calendarsync.Engine, cfg *config.Config) availability.Service {
	return availability.New(db, engine, cfg.Booking)
}

func ProvideBlockedTimeService(db *repo.Client, checker conflict.Checker, locker redispkg.Locker) blockedtime.Service {
	return blockedtime.New(db, checker, locker)
}

func ProvideBookingService(
	db *repo.Client,
	checker conflict.Checker,
	windows availability.Service,
	locker redispkg.Locker,
	bus events.Bus,
	metrics *observability.Metrics,
	cfg *config.Config,
) booking.Service {
	return booking.New(booking.Deps{
		DB:        db,
		Checker:   checker,
		Windows:   windows,
		Locker:    locker,
		Publisher: bus,
		Metrics:   metrics,
	}, cfg.Booking, cfg.Codes)
}

// ProvideVault leaves calendar connection disabled (ErrNotConfigured) when
// no encryption key is set.
func ProvideVault(db *repo.Client, rdb *redis.Client, cfg *config.Config) (vault.Vault, error) {
	var key []byte
	if cfg.Authentication.EncryptionKey != "" {
		var err error
		if key, err = crypto.KeyFromHex(cfg.Authentication.EncryptionKey); err != nil {
			return nil, fmt.Errorf("authentication.encryption_key: %w", err)
		}
	} else {
		slog.Warn("authentication.encryption_key not set; calendar connection is disabled")
	}
	var states vault.StateStore = vault.NewMemoryStateStore()
	if rdb != nil {
		states = vault.NewRedisStateStore(rdb)
	}
	return vault.New(vault.Deps{
		DB:       db,
		OAuth:    vault.OAuthConfig(cfg.Google),
		States:   states,
		Provider: vault.GoogleProvider,
		Key:      key,
	}, cfg.CalendarSync), nil
}

func ProvideBusyCache(rdb *redis.Client) calendarsync.BusyCache {
	if rdb == nil {
		return calendarsync.NewMemoryBusyCache()
	}
	return calendarsync.NewRedisBusyCache(rdb)
}

func ProvideSyncEngine(
	db *repo.Client,
	v vault.Vault,
	locker redispkg.Locker,
	cache calendarsync.BusyCache,
	metrics *observability.Metrics,
	cfg *config.Config,
) calendarsync.Engine {
	return calendarsync.New(calendarsync.Deps{
		DB:          db,
		Credentials: v,
		Locker:      locker,
		Cache:       cache,
		Metrics:     metrics,
	}, cfg.CalendarSync, cfg.Google)
}

func ProvideNotificationService(db *repo.Client, mail *email.Client, smsCli *sms.Client, cfg *config.Config) notification.Service {
	return notification.New(db, mail, smsCli, cfg.Email)
}

func ProvidePasetoManager(cfg *config.Config) (*pasetotoken.Manager, error) {
	return pasetotoken.NewPasetoManager(cfg)
}
