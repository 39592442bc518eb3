package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/simorq_calendar/internal/api/http/handler"
)

func (r *Router) registerCalendarRoutes(
	api fiber.Router,
	ch *handler.CalendarHandler,
	authRequired fiber.Handler,
	publicLimit fiber.Handler,
) {
	// Public: provider push notifications and the OAuth redirect. Registered
	// before the authenticated group so they match first.
	api.Post("/calendar/webhook", publicLimit, ch.Webhook)
	api.Get("/calendar/callback", ch.Callback)

	calendar := api.Group("/calendar", authRequired)
	calendar.Get("/authorize", ch.Authorize)
	calendar.Get("/sync-status", ch.Status)
	calendar.Post("/sync", ch.Sync)
	calendar.Put("/settings", ch.UpdateSettings)
	calendar.Delete("/sync-errors", ch.ClearErrors)
	calendar.Delete("/", ch.Disconnect)
}
