package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/availability"
)

type AvailabilityHandler struct {
	svc availability.Service
}

func NewAvailabilityHandler(svc availability.Service) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc}
}

func mapAvailabilityError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repo.ErrInvalidTemplate):
		return badRequest(c, err.Error())
	case errors.Is(err, availability.ErrInvalidDuration),
		errors.Is(err, availability.ErrInvalidDate),
		errors.Is(err, availability.ErrRangeTooLong):
		return badRequest(c, err.Error())
	case errors.Is(err, availability.ErrBusyUnavailable):
		return unavailable(c, availability.ErrBusyUnavailable.Error())
	default:
		return internalError(c)
	}
}

// GET /availability
func (h *AvailabilityHandler) Get(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	tpl, err := h.svc.Get(c.Context(), pid)
	if err != nil {
		return mapAvailabilityError(c, err)
	}
	return ok(c, tpl)
}

// PUT /availability
func (h *AvailabilityHandler) Update(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}

	var body repo.WeeklyAvailability
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	tpl, err := h.svc.Update(c.Context(), pid, &body)
	if err != nil {
		return mapAvailabilityError(c, err)
	}
	return ok(c, tpl)
}

// GET /availability/slots?practitioner_id=&date=&duration=
// With from/to instead of date the response is grouped by day.
func (h *AvailabilityHandler) Slots(c fiber.Ctx) error {
	var q struct {
		PractitionerID string `query:"practitioner_id"`
		Date           string `query:"date"`
		From           string `query:"from"`
		To             string `query:"to"`
		Duration       int    `query:"duration"`
	}
	if err := c.Bind().Query(&q); err != nil {
		return badRequest(c, "invalid query")
	}
	pid, err := uuid.Parse(q.PractitionerID)
	if err != nil {
		return badRequest(c, "invalid practitioner_id")
	}
	if q.Duration == 0 {
		q.Duration = 60
	}

	if q.Date == "" && q.From != "" {
		to := q.To
		if to == "" {
			to = q.From
		}
		days, err := h.svc.SlotsRange(c.Context(), pid, q.From, to, q.Duration)
		if err != nil {
			return mapAvailabilityError(c, err)
		}
		return ok(c, days)
	}

	if q.Date == "" {
		return badRequest(c, "date is required")
	}
	slots, err := h.svc.Slots(c.Context(), pid, q.Date, q.Duration)
	if err != nil {
		return mapAvailabilityError(c, err)
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	return ok(c, slots)
}
