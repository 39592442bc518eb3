package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/internal/service/vault"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
	"github.com/Alijeyrad/simorq_calendar/pkg/reqctx"
)

// Headers set by the provider on push notifications.
const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderChannelToken  = "X-Goog-Channel-Token"
	HeaderResourceID    = "X-Goog-Resource-ID"
	HeaderResourceState = "X-Goog-Resource-State"
)

const activateTimeout = 2 * time.Minute

type CalendarHandler struct {
	vault           vault.Vault
	engine          calendarsync.Engine
	syncTimeout     time.Duration
	successRedirect string
}

func NewCalendarHandler(v vault.Vault, engine calendarsync.Engine, cfg *config.Config) *CalendarHandler {
	timeout := cfg.CalendarSync.ManualSyncTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CalendarHandler{
		vault:           v,
		engine:          engine,
		syncTimeout:     timeout,
		successRedirect: cfg.Google.SuccessRedirect,
	}
}

func mapCalendarError(c fiber.Ctx, err error) error {
	var provider *calendarsync.ProviderError
	switch {
	case errors.Is(err, vault.ErrNotConnected), errors.Is(err, repo.ErrNotFound):
		return notFound(c, vault.ErrNotConnected.Error())
	case errors.Is(err, vault.ErrReconnectRequired),
		errors.Is(err, calendarsync.ErrSyncDisabled),
		errors.Is(err, repo.ErrCredentialsMissing):
		return conflictErr(c, err.Error())
	case errors.Is(err, vault.ErrInvalidState),
		errors.Is(err, calendarsync.ErrInvalidDirection),
		errors.Is(err, repo.ErrInvalidSetting):
		return badRequest(c, err.Error())
	case errors.Is(err, vault.ErrNotConfigured):
		return unavailable(c, err.Error())
	case errors.Is(err, vault.ErrNoRefreshToken), errors.Is(err, vault.ErrAuthorizationError):
		return unprocessable(c, err.Error())
	case errors.As(err, &provider):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	default:
		return internalError(c)
	}
}

// GET /calendar/authorize
func (h *CalendarHandler) Authorize(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	u, err := h.vault.AuthURL(c.Context(), pid)
	if err != nil {
		return mapCalendarError(c, err)
	}
	return ok(c, fiber.Map{"url": u})
}

// GET /calendar/callback?state=&code=
// The browser lands here from the consent screen, so outcomes are sent as a
// redirect when a success page is configured.
func (h *CalendarHandler) Callback(c fiber.Ctx) error {
	if denied := c.Query("error"); denied != "" {
		return h.finishCallback(c, "denied", vault.ErrAuthorizationError)
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		return h.finishCallback(c, "error", vault.ErrInvalidState)
	}

	s, err := h.vault.Exchange(c.Context(), state, code)
	if err != nil {
		slog.WarnContext(c.Context(), "calendar authorization failed", append(reqctx.LogAttrs(c.Context()), logs.Err(err))...)
		return h.finishCallback(c, "error", err)
	}

	go h.activate(context.WithoutCancel(c.Context()), s.PractitionerID)
	return h.finishCallback(c, "connected", nil)
}

// activate registers the webhook and runs the first sync after connecting.
func (h *CalendarHandler) activate(ctx context.Context, pid uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()
	if err := h.engine.Activate(ctx, pid); err != nil {
		slog.WarnContext(ctx, "calendar activation incomplete", logs.Practitioner(pid), logs.Err(err))
	}
}

func (h *CalendarHandler) finishCallback(c fiber.Ctx, status string, err error) error {
	if h.successRedirect != "" {
		u, perr := url.Parse(h.successRedirect)
		if perr == nil {
			q := u.Query()
			q.Set("calendar", status)
			u.RawQuery = q.Encode()
			return c.Redirect().To(u.String())
		}
	}
	if err != nil {
		return mapCalendarError(c, err)
	}
	return ok(c, fiber.Map{"status": status})
}

// POST /calendar/webhook
// Always 200: the provider retries anything else, and a notification only
// triggers a re-fetch.
func (h *CalendarHandler) Webhook(c fiber.Ctx) error {
	n := calendarsync.Notification{
		ChannelID:     c.Get(HeaderChannelID),
		ResourceID:    c.Get(HeaderResourceID),
		ResourceState: c.Get(HeaderResourceState),
		Token:         c.Get(HeaderChannelToken),
	}
	if n.ChannelID == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.syncTimeout)
	defer cancel()
	if err := h.engine.HandleWebhook(ctx, n); err != nil {
		attrs := append(reqctx.LogAttrs(ctx), "channel_id", n.ChannelID, "state", n.ResourceState, logs.Err(err))
		if errors.Is(err, calendarsync.ErrUnknownChannel) || errors.Is(err, calendarsync.ErrInvalidToken) {
			slog.InfoContext(ctx, "ignored webhook notification", attrs...)
		} else {
			slog.WarnContext(ctx, "webhook handling failed", attrs...)
		}
	}
	return c.SendStatus(fiber.StatusOK)
}

// GET /calendar/sync-status
func (h *CalendarHandler) Status(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	st, err := h.engine.Status(c.Context(), pid)
	if err != nil {
		return mapCalendarError(c, err)
	}
	return ok(c, st)
}

// POST /calendar/sync
// A sync that runs past the request timeout returns what it finished.
func (h *CalendarHandler) Sync(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}

	var body struct {
		Direction repo.SyncDirection `json:"direction"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	if body.Direction == "" {
		body.Direction = repo.SyncDirection(c.Query("direction"))
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.syncTimeout)
	defer cancel()

	res, err := h.engine.SyncPractitioner(ctx, pid, body.Direction)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ok(c, fiber.Map{"result": res, "partial": true})
		}
		var provider *calendarsync.ProviderError
		if errors.As(err, &provider) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "result": res})
		}
		return mapCalendarError(c, err)
	}
	return ok(c, fiber.Map{"result": res, "partial": false})
}

// PUT /calendar/settings
func (h *CalendarHandler) UpdateSettings(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}

	var body struct {
		SyncEnabled   *bool               `json:"sync_enabled"`
		SyncDirection *repo.SyncDirection `json:"sync_direction"`
		PrivacyLevel  *repo.PrivacyLevel  `json:"privacy_level"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	s, err := h.engine.UpdateSettings(c.Context(), pid, repo.SettingsPatch{
		SyncEnabled:   body.SyncEnabled,
		SyncDirection: body.SyncDirection,
		PrivacyLevel:  body.PrivacyLevel,
	})
	if err != nil {
		return mapCalendarError(c, err)
	}
	return ok(c, s)
}

// DELETE /calendar/sync-errors
func (h *CalendarHandler) ClearErrors(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	if err := h.engine.ClearErrors(c.Context(), pid); err != nil {
		return mapCalendarError(c, err)
	}
	return noContent(c)
}

// DELETE /calendar
func (h *CalendarHandler) Disconnect(c fiber.Ctx) error {
	pid, valid := practitionerFromLocals(c)
	if !valid {
		return unauthorized(c)
	}
	if err := h.engine.Disconnect(c.Context(), pid); err != nil {
		return mapCalendarError(c, err)
	}
	return noContent(c)
}
