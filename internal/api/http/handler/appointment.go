package handler

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/booking"
)

// AppointmentHandler serves the practitioner's view of their appointments.
type AppointmentHandler struct {
	svc booking.Service
}

func NewAppointmentHandler(svc booking.Service) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

// GET /appointments
func (h *AppointmentHandler) List(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}

	var q struct {
		Status  string `query:"status"`
		From    string `query:"from"`
		To      string `query:"to"`
		Page    int    `query:"page"`
		PerPage int    `query:"per_page"`
	}
	_ = c.Bind().Query(&q)

	req := booking.ListRequest{Page: q.Page, PerPage: q.PerPage}
	if q.Status != "" {
		st := repo.AppointmentStatus(q.Status)
		if !st.Valid() {
			return badRequest(c, "invalid status")
		}
		req.Status = &st
	}
	if q.From != "" {
		t, valid := parseTimeParam(q.From)
		if !valid {
			return badRequest(c, "invalid from")
		}
		req.From = &t
	}
	if q.To != "" {
		t, valid := parseTimeParam(q.To)
		if !valid {
			return badRequest(c, "invalid to")
		}
		req.To = &t
	}

	appts, err := h.svc.List(c.Context(), pid, req)
	if err != nil {
		return mapBookingError(c, err)
	}
	if appts == nil {
		appts = []*repo.Appointment{}
	}
	return ok(c, appts)
}

// GET /appointments/:id
func (h *AppointmentHandler) Get(c fiber.Ctx) error {
	return h.apply(c, h.svc.Get)
}

// PATCH /appointments/:id/confirm
func (h *AppointmentHandler) Confirm(c fiber.Ctx) error {
	return h.apply(c, h.svc.Confirm)
}

// PATCH /appointments/:id/complete
func (h *AppointmentHandler) Complete(c fiber.Ctx) error {
	return h.apply(c, h.svc.Complete)
}

// PATCH /appointments/:id/no-show
func (h *AppointmentHandler) NoShow(c fiber.Ctx) error {
	return h.apply(c, h.svc.NoShow)
}

// PATCH /appointments/:id/cancel
func (h *AppointmentHandler) Cancel(c fiber.Ctx) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	return h.apply(c, func(ctx context.Context, pid, id uuid.UUID) (*repo.Appointment, error) {
		return h.svc.Cancel(ctx, pid, id, body.Reason)
	})
}

func (h *AppointmentHandler) apply(c fiber.Ctx, fn func(ctx context.Context, pid, id uuid.UUID) (*repo.Appointment, error)) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	id, valid := parseID(c, "id")
	if !valid {
		return badRequest(c, "invalid appointment id")
	}
	a, err := fn(c.Context(), pid, id)
	if err != nil {
		return mapBookingError(c, err)
	}
	return ok(c, a)
}
