package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/simorq_calendar/internal/api/http/handler"
)

func (r *Router) registerBookingRoutes(
	api fiber.Router,
	bh *handler.BookingHandler,
	ah *handler.AppointmentHandler,
	authRequired fiber.Handler,
	publicLimit fiber.Handler,
) {
	// Public: clients identify a booking by code + email
	bookings := api.Group("/bookings", publicLimit)
	bookings.Post("/", bh.Create)
	bookings.Get("/:code", bh.Lookup)
	bookings.Post("/:code/cancel", bh.Cancel)
	bookings.Post("/:code/reschedule", bh.Reschedule)

	appointments := api.Group("/appointments", authRequired)
	appointments.Get("/", ah.List)
	appointments.Get("/:id", ah.Get)
	appointments.Patch("/:id/confirm", ah.Confirm)
	appointments.Patch("/:id/cancel", ah.Cancel)
	appointments.Patch("/:id/complete", ah.Complete)
	appointments.Patch("/:id/no-show", ah.NoShow)
}
