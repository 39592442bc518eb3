package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/simorq_calendar/internal/api/http/handler"
)

func (r *Router) registerAvailabilityRoutes(
	api fiber.Router,
	ah *handler.AvailabilityHandler,
	bh *handler.BlockedTimeHandler,
	authRequired fiber.Handler,
	publicLimit fiber.Handler,
) {
	// Public: bookable slots. Registered before the authenticated group.
	api.Get("/availability/slots", publicLimit, ah.Slots)

	availability := api.Group("/availability", authRequired)
	availability.Get("/", ah.Get)
	availability.Put("/", ah.Update)

	blocked := api.Group("/blocked-times", authRequired)
	blocked.Get("/", bh.List)
	blocked.Post("/", bh.Create)
	blocked.Delete("/:id", bh.Delete)
}
