package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/api/http/handler"
	"github.com/Alijeyrad/simorq_calendar/internal/api/http/middleware"
	"github.com/Alijeyrad/simorq_calendar/internal/service/availability"
	"github.com/Alijeyrad/simorq_calendar/internal/service/blockedtime"
	"github.com/Alijeyrad/simorq_calendar/internal/service/booking"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/internal/service/vault"
	pasetotoken "github.com/Alijeyrad/simorq_calendar/pkg/paseto"
)

// Module provides the Router to the fx graph.
var Module = fx.Module("router", fx.Provide(NewRouter))

type Params struct {
	fx.In

	Cfg             *config.Config
	Redis           *redis.Client `optional:"true"`
	AvailabilitySvc availability.Service
	BlockedTimeSvc  blockedtime.Service
	BookingSvc      booking.Service
	Vault           vault.Vault
	SyncEngine      calendarsync.Engine
	PasetoMgr       *pasetotoken.Manager
}

type Router struct {
	p Params
}

func NewRouter(p Params) *Router {
	return &Router{p: p}
}

func (r *Router) Register(app *fiber.App) {
	// 1. Health & Metrics
	r.registerSystemRoutes(app)

	// 2. Initialize Middlewares
	var sessions *redis.Client
	if r.p.Cfg.Authentication.SessionCheck {
		sessions = r.p.Redis
	}
	authRequired := middleware.AuthRequired(r.p.PasetoMgr, sessions)
	publicLimit := middleware.NewLimiter(r.p.Redis, r.p.Cfg.Server.RateLimit.RequestsPerMinute)

	// 3. Initialize Handlers
	availabilityH := handler.NewAvailabilityHandler(r.p.AvailabilitySvc)
	blockedH := handler.NewBlockedTimeHandler(r.p.BlockedTimeSvc)
	bookingH := handler.NewBookingHandler(r.p.BookingSvc)
	appointmentH := handler.NewAppointmentHandler(r.p.BookingSvc)
	calendarH := handler.NewCalendarHandler(r.p.Vault, r.p.SyncEngine, r.p.Cfg)

	api := app.Group("/api/v1")

	// 4. Delegate to sub-files
	r.registerAvailabilityRoutes(api, availabilityH, blockedH, authRequired, publicLimit)
	r.registerBookingRoutes(api, bookingH, appointmentH, authRequired, publicLimit)
	r.registerCalendarRoutes(api, calendarH, authRequired, publicLimit)
}

func (r *Router) registerSystemRoutes(app *fiber.App) {
	app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	app.Get(healthcheck.ReadinessEndpoint, healthcheck.New(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			if r.p.Redis == nil {
				return true
			}
			ctx, cancel := context.WithTimeout(c.Context(), time.Second)
			defer cancel()
			return r.p.Redis.Ping(ctx).Err() == nil
		},
	}))
	app.Get(healthcheck.StartupEndpoint, healthcheck.New())

	if r.p.Cfg.Observability.Enabled && r.p.Cfg.Observability.Metrics.Enabled {
		path := r.p.Cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}
}
