package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/blockedtime"
)

type BlockedTimeHandler struct {
	svc blockedtime.Service
}

func NewBlockedTimeHandler(svc blockedtime.Service) *BlockedTimeHandler {
	return &BlockedTimeHandler{svc: svc}
}

func mapBlockedTimeError(c fiber.Ctx, err error) error {
	var overlap *blockedtime.OverlapError
	switch {
	case errors.As(err, &overlap):
		return conflictWith(c, err.Error(), overlap.Conflicts)
	case errors.Is(err, blockedtime.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return notFound(c, "blocked time not found")
	case errors.Is(err, blockedtime.ErrImportedReadOnly):
		return forbidden(c, err.Error())
	case errors.Is(err, blockedtime.ErrInvalidReason),
		errors.Is(err, blockedtime.ErrInvalidRecurrence),
		errors.Is(err, repo.ErrInvalidInterval):
		return badRequest(c, err.Error())
	case errors.Is(err, blockedtime.ErrOverlap), errors.Is(err, repo.ErrOverlap):
		return conflictErr(c, err.Error())
	default:
		return internalError(c)
	}
}

// GET /blocked-times?from=&to=
func (h *BlockedTimeHandler) List(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}

	var q struct {
		From string `query:"from"`
		To   string `query:"to"`
	}
	_ = c.Bind().Query(&q)

	from := time.Now().UTC()
	to := from.AddDate(0, 1, 0)
	if q.From != "" {
		t, valid := parseTimeParam(q.From)
		if !valid {
			return badRequest(c, "invalid from")
		}
		from = t
	}
	if q.To != "" {
		t, valid := parseTimeParam(q.To)
		if !valid {
			return badRequest(c, "invalid to")
		}
		to = t
	}
	if !from.Before(to) {
		return badRequest(c, "from must be before to")
	}

	items, err := h.svc.List(c.Context(), pid, from, to)
	if err != nil {
		return mapBlockedTimeError(c, err)
	}
	if items == nil {
		items = []*repo.BlockedTime{}
	}
	return ok(c, items)
}

// POST /blocked-times
func (h *BlockedTimeHandler) Create(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}

	var body struct {
		StartTime time.Time                `json:"start_time"`
		EndTime   time.Time                `json:"end_time"`
		Reason    repo.BlockReason         `json:"reason"`
		Notes     string                   `json:"notes"`
		Frequency repo.RecurrenceFrequency `json:"frequency"`
		EndDate   *time.Time               `json:"end_date"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.StartTime.IsZero() || body.EndTime.IsZero() {
		return badRequest(c, "start_time and end_time are required")
	}

	b, err := h.svc.Create(c.Context(), pid, blockedtime.CreateRequest{
		StartTime: body.StartTime,
		EndTime:   body.EndTime,
		Reason:    body.Reason,
		Notes:     body.Notes,
		Frequency: body.Frequency,
		EndDate:   body.EndDate,
	})
	if err != nil {
		return mapBlockedTimeError(c, err)
	}
	return created(c, b)
}

// DELETE /blocked-times/:id
func (h *BlockedTimeHandler) Delete(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	id, valid := parseID(c, "id")
	if !valid {
		return badRequest(c, "invalid blocked time id")
	}
	if err := h.svc.Delete(c.Context(), pid, id); err != nil {
		return mapBlockedTimeError(c, err)
	}
	return noContent(c)
}
