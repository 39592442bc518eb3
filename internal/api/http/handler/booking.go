package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/availability"
	"github.com/Alijeyrad/simorq_calendar/internal/service/booking"
)

type BookingHandler struct {
	svc booking.Service
}

func NewBookingHandler(svc booking.Service) *BookingHandler {
	return &BookingHandler{svc: svc}
}

func mapBookingError(c fiber.Ctx, err error) error {
	var conflicts *booking.ConflictError
	switch {
	case errors.As(err, &conflicts):
		return conflictWith(c, err.Error(), conflicts.Conflicts)
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return notFound(c, "booking not found")
	case errors.Is(err, booking.ErrMissingField),
		errors.Is(err, booking.ErrInvalidEmail),
		errors.Is(err, booking.ErrInvalidPhone),
		errors.Is(err, booking.ErrInvalidDuration),
		errors.Is(err, repo.ErrInvalidInterval):
		return badRequest(c, err.Error())
	case errors.Is(err, availability.ErrOutsideAvailability),
		errors.Is(err, availability.ErrTooSoon),
		errors.Is(err, availability.ErrTooFar),
		errors.Is(err, availability.ErrDailyLimitReached),
		errors.Is(err, booking.ErrPolicyWindow):
		return unprocessable(c, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrConflict):
		return conflictErr(c, err.Error())
	case errors.Is(err, booking.ErrBusy):
		return unavailable(c, err.Error())
	default:
		return internalError(c)
	}
}

type bookingResponse struct {
	AppointmentID    uuid.UUID              `json:"appointment_id"`
	ConfirmationCode string                 `json:"confirmation_code"`
	Status           repo.AppointmentStatus `json:"status"`
	ServiceType      string                 `json:"service_type"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	ClientName       string                 `json:"client_name"`
}

// toBookingResponse is the client-facing view; it leaves out sync and
// practitioner-only fields.
func toBookingResponse(a *repo.Appointment) bookingResponse {
	return bookingResponse{
		AppointmentID:    a.ID,
		ConfirmationCode: a.ConfirmationCode,
		Status:           a.Status,
		ServiceType:      a.ServiceType,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		ClientName:       a.ClientName,
	}
}

// POST /bookings
func (h *BookingHandler) Create(c fiber.Ctx) error {
	var body struct {
		PractitionerID string    `json:"practitioner_id"`
		ServiceType    string    `json:"service_type"`
		StartTime      time.Time `json:"start_time"`
		EndTime        time.Time `json:"end_time"`
		Duration       int       `json:"duration"`
		ClientName     string    `json:"client_name"`
		ClientEmail    string    `json:"client_email"`
		ClientPhone    string    `json:"client_phone"`
		Notes          string    `json:"notes"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	pid, err := uuid.Parse(body.PractitionerID)
	if err != nil {
		return badRequest(c, "invalid practitioner_id")
	}
	if body.StartTime.IsZero() {
		return badRequest(c, "start_time is required")
	}
	if body.EndTime.IsZero() && body.Duration > 0 {
		body.EndTime = body.StartTime.Add(time.Duration(body.Duration) * time.Minute)
	}

	a, err := h.svc.Create(c.Context(), booking.CreateRequest{
		PractitionerID: pid,
		ServiceType:    body.ServiceType,
		StartTime:      body.StartTime,
		EndTime:        body.EndTime,
		ClientName:     body.ClientName,
		ClientEmail:    body.ClientEmail,
		ClientPhone:    body.ClientPhone,
		Notes:          body.Notes,
	})
	if err != nil {
		return mapBookingError(c, err)
	}
	return created(c, toBookingResponse(a))
}

// GET /bookings/:code?email=
func (h *BookingHandler) Lookup(c fiber.Ctx) error {
	email := c.Query("email")
	if email == "" {
		return badRequest(c, "email is required")
	}
	a, err := h.svc.Lookup(c.Context(), c.Params("code"), email)
	if err != nil {
		return mapBookingError(c, err)
	}
	return ok(c, toBookingResponse(a))
}

// POST /bookings/:code/cancel
func (h *BookingHandler) Cancel(c fiber.Ctx) error {
	var body struct {
		Email  string `json:"email"`
		Reason string `json:"reason"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Email == "" {
		return badRequest(c, "email is required")
	}
	a, err := h.svc.CancelByClient(c.Context(), c.Params("code"), body.Email, body.Reason)
	if err != nil {
		return mapBookingError(c, err)
	}
	return ok(c, toBookingResponse(a))
}

// POST /bookings/:code/reschedule
func (h *BookingHandler) Reschedule(c fiber.Ctx) error {
	var body struct {
		Email     string    `json:"email"`
		StartTime time.Time `json:"start_time"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Email == "" || body.StartTime.IsZero() {
		return badRequest(c, "email and start_time are required")
	}
	a, err := h.svc.RescheduleByClient(c.Context(), c.Params("code"), body.Email, body.StartTime)
	if err != nil {
		return mapBookingError(c, err)
	}
	return ok(c, toBookingResponse(a))
}
