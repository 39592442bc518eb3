// Package calendarsync reconciles appointments and blocked time with the
// practitioner's external calendar. Pushes are keyed on the stored external
// event id and pulls on the imported event id, so every operation can be
// repeated safely.
package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/vault"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
)

// Operation names recorded in the sync error log.
const (
	OpPush     = "push"
	OpPull     = "pull"
	OpWebhook  = "webhook"
	OpRenew    = "webhook_renewal"
	OpFreeBusy = "freebusy"
)

const (
	defaultErrorCap  = 50
	defaultBusyTTL   = 5 * time.Minute
	defaultWebhookTT = 7 * 24 * time.Hour
)

// Credentials hands out ready provider clients. vault.Vault implements it.
type Credentials interface {
	Client(ctx context.Context, practitionerID uuid.UUID) (gcal.API, *repo.CalendarSync, error)
}

type PullResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

type PushResult struct {
	Pushed int `json:"pushed"`
	Failed int `json:"failed"`
}

type Result struct {
	Direction repo.SyncDirection `json:"direction"`
	Push      PushResult         `json:"push"`
	Pull      PullResult         `json:"pull"`
}

// Notification is a provider push notification. It carries identifiers only.
type Notification struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	Token         string
}

type Status struct {
	Connected        bool               `json:"connected"`
	SyncEnabled      bool               `json:"sync_enabled"`
	NeedsReauth      bool               `json:"needs_reauth"`
	ConnectedEmail   string             `json:"connected_email,omitempty"`
	SyncDirection    repo.SyncDirection `json:"sync_direction,omitempty"`
	PrivacyLevel     repo.PrivacyLevel  `json:"privacy_level,omitempty"`
	LastSyncedAt     *time.Time         `json:"last_synced_at,omitempty"`
	WebhookActive    bool               `json:"webhook_active"`
	WebhookExpiresAt *time.Time         `json:"webhook_expires_at,omitempty"`
	UnresolvedErrors int                `json:"unresolved_errors"`
	Errors           []repo.SyncError   `json:"errors"`
}

type Engine interface {
	PushAppointment(ctx context.Context, appointmentID uuid.UUID) error
	Pull(ctx context.Context, practitionerID uuid.UUID) (PullResult, error)
	// SyncPractitioner runs the directions allowed by both the request and
	// the stored settings. The result is partial when err is non-nil.
	SyncPractitioner(ctx context.Context, practitionerID uuid.UUID, direction repo.SyncDirection) (Result, error)
	HandleWebhook(ctx context.Context, n Notification) error
	RenewWebhook(ctx context.Context, practitionerID uuid.UUID) error
	// Activate subscribes to changes and runs a first sync after a connect.
	Activate(ctx context.Context, practitionerID uuid.UUID) error
	BusyIntervals(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]repo.Interval, error)
	Status(ctx context.Context, practitionerID uuid.UUID) (*Status, error)
	UpdateSettings(ctx context.Context, practitionerID uuid.UUID, patch repo.SettingsPatch) (*repo.CalendarSync, error)
	ClearErrors(ctx context.Context, practitionerID uuid.UUID) error
	Disconnect(ctx context.Context, practitionerID uuid.UUID) error
}

type Deps struct {
	DB          *repo.Client
	Credentials Credentials
	Locker      redispkg.Locker
	Cache       BusyCache
	Metrics     *observability.Metrics
}

type engine struct {
	Deps
	cfg            config.CalendarSyncConfig
	webhookAddress string
	now            func() time.Time
	newToken       func() (string, error)
}

func New(d Deps, cfg config.CalendarSyncConfig, google config.GoogleConfig) Engine {
	if d.Cache == nil {
		d.Cache = NewMemoryBusyCache()
	}
	if d.Locker == nil {
		d.Locker = redispkg.NewLocalLocker()
	}
	if cfg.ErrorLogCap < 1 {
		cfg.ErrorLogCap = defaultErrorCap
	}
	if cfg.RetryMaxAttempts < 1 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.PullWindowForwardDays <= 0 {
		cfg.PullWindowBackDays, cfg.PullWindowForwardDays = 90, 365
	}
	return &engine{
		Deps:           d,
		cfg:            cfg,
		webhookAddress: google.WebhookAddress,
		now:            time.Now,
		newToken:       newChannelToken,
	}
}

// client returns an instrumented provider client, or a nil API when the
// practitioner has no usable connection.
func (e *engine) client(ctx context.Context, practitionerID uuid.UUID) (gcal.API, *repo.CalendarSync, error) {
	api, s, err := e.Credentials.Client(ctx, practitionerID)
	if err != nil {
		return nil, s, err
	}
	return instrument(api, e.Metrics, e.cfg.ProviderTimeout()), s, nil
}

func (e *engine) recordError(ctx context.Context, practitionerID uuid.UUID, op string, appointmentID *uuid.UUID, cause error) {
	entry := repo.SyncError{
		ID:            uuid.New(),
		OccurredAt:    e.now().UTC(),
		Operation:     op,
		Message:       cause.Error(),
		AppointmentID: appointmentID,
	}
	if err := e.DB.CalendarSync.AppendError(ctx, practitionerID, entry, e.cfg.ErrorLogCap); err != nil && !repo.IsNotFound(err) {
		slog.ErrorContext(ctx, "append sync error", logs.Practitioner(practitionerID), logs.Err(err))
	}
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

func (e *engine) PushAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	return e.Locker.WithLock(ctx, pushLockKey(appointmentID), func(ctx context.Context) error {
		a, err := e.DB.Appointment.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.ExternalSynced {
			return nil
		}

		api, s, err := e.client(ctx, a.PractitionerID)
		if err != nil {
			if skippable(err) {
				return nil
			}
			return err
		}
		if !s.SyncEnabled || !s.SyncDirection.AllowsPush() {
			return nil
		}
		return e.push(ctx, api, s, a)
	})
}

func (e *engine) push(ctx context.Context, api gcal.API, s *repo.CalendarSync, a *repo.Appointment) error {
	eventID, err := e.pushEvent(ctx, api, s, a)
	if err != nil {
		slog.WarnContext(ctx, "appointment push failed",
			logs.Practitioner(a.PractitionerID),
			logs.Appointment(a.ID),
			logs.Err(err),
		)
		if merr := e.DB.Appointment.MarkSyncFailed(ctx, a.ID, e.now().UTC()); merr != nil {
			slog.ErrorContext(ctx, "mark sync failed", logs.Appointment(a.ID), logs.Err(merr))
		}
		id := a.ID
		e.recordError(ctx, a.PractitionerID, OpPush, &id, err)
		return err
	}
	if err := e.DB.Appointment.MarkSynced(ctx, a.ID, eventID); err != nil {
		return fmt.Errorf("mark appointment synced: %w", err)
	}
	e.Metrics.SyncItems(ctx, "pushed", 1)
	return nil
}

// pushEvent makes the external calendar match a and returns the event id to
// store (nil when there is no event).
func (e *engine) pushEvent(ctx context.Context, api gcal.API, s *repo.CalendarSync, a *repo.Appointment) (*string, error) {
	calID := s.ExternalCalendarID

	switch {
	case a.Status == repo.StatusCancelled:
		if a.HasExternalEvent() {
			if err := api.DeleteEvent(ctx, calID, *a.ExternalEventID); err != nil && !gcal.IsGone(err) {
				return a.ExternalEventID, providerErr("delete", err)
			}
		}
		return nil, nil

	case a.HasExternalEvent():
		out, err := api.UpdateEvent(ctx, calID, Project(a, s.PrivacyLevel))
		if err == nil {
			return &out.ID, nil
		}
		if !gcal.IsGone(err) {
			return a.ExternalEventID, providerErr("update", err)
		}
		// Deleted remotely: recreate, unless the appointment is already over.
		if !a.Status.Active() {
			return nil, nil
		}
		fallthrough

	case a.Status.Active():
		ev := Project(a, s.PrivacyLevel)
		ev.ID = ""
		out, err := api.InsertEvent(ctx, calID, ev)
		if err != nil {
			return nil, providerErr("insert", err)
		}
		return &out.ID, nil
	}

	// Completed or no-show without an event: nothing to mirror.
	return nil, nil
}

func pushLockKey(id uuid.UUID) string {
	return fmt.Sprintf("%s%s", pushLockPrefix, id)
}

// skippable reports errors that mean "this practitioner does not sync".
func skippable(err error) bool {
	return errors.Is(err, vault.ErrNotConnected) ||
		errors.Is(err, vault.ErrReconnectRequired) ||
		errors.Is(err, vault.ErrNotConfigured)
}

// ---------------------------------------------------------------------------
// Pull
// ---------------------------------------------------------------------------

func (e *engine) Pull(ctx context.Context, practitionerID uuid.UUID) (PullResult, error) {
	api, s, err := e.client(ctx, practitionerID)
	if err != nil {
		return PullResult{}, err
	}
	if !s.SyncEnabled {
		return PullResult{}, ErrSyncDisabled
	}
	return e.pull(ctx, api, s)
}

func (e *engine) pull(ctx context.Context, api gcal.API, s *repo.CalendarSync) (PullResult, error) {
	var res PullResult
	err := e.Locker.WithLock(ctx, pullLockPrefix+s.PractitionerID.String(), func(ctx context.Context) error {
		var err error
		res, err = e.pullLocked(ctx, api, s)
		return err
	})
	if err != nil {
		e.recordError(ctx, s.PractitionerID, OpPull, nil, err)
		return res, err
	}
	if err := e.Cache.Invalidate(ctx, s.PractitionerID); err != nil {
		slog.WarnContext(ctx, "invalidate busy cache", logs.Practitioner(s.PractitionerID), logs.Err(err))
	}
	e.Metrics.SyncItems(ctx, "imported", res.Created)
	e.Metrics.SyncItems(ctx, "updated", res.Updated)
	e.Metrics.SyncItems(ctx, "removed", res.Deleted)
	return res, nil
}

func (e *engine) pullLocked(ctx context.Context, api gcal.API, s *repo.CalendarSync) (PullResult, error) {
	var res PullResult
	from, to := e.cfg.PullWindow(e.now().UTC())

	events, err := api.ListEvents(ctx, s.ExternalCalendarID, from, to)
	if err != nil {
		return res, providerErr("list", err)
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		seen[ev.ID] = struct{}{}
		var (
			outcome pullOutcome
			err     error
		)
		outcome, err = e.pullEvent(ctx, s, ev)
		if err != nil {
			res.Errors++
			slog.WarnContext(ctx, "pull event failed",
				logs.Practitioner(s.PractitionerID),
				"event_id", ev.ID,
				logs.Err(err),
			)
			e.recordError(ctx, s.PractitionerID, OpPull, nil, fmt.Errorf("event %s: %w", ev.ID, err))
			continue
		}
		res.add(outcome)
	}

	// Imported entries whose event disappeared from the window.
	imported, err := e.DB.BlockedTime.ListImported(ctx, s.PractitionerID, from, to)
	if err != nil {
		return res, fmt.Errorf("list imported blocked time: %w", err)
	}
	for _, b := range imported {
		if b.ExternalEventID == nil {
			continue
		}
		if _, ok := seen[*b.ExternalEventID]; ok {
			continue
		}
		if err := e.DB.BlockedTime.Delete(ctx, s.PractitionerID, b.ID); err != nil && !repo.IsNotFound(err) {
			res.Errors++
			continue
		}
		res.Deleted++
	}
	return res, nil
}

type pullOutcome int

const (
	outcomeNone pullOutcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeDeleted
)

func (r *PullResult) add(o pullOutcome) {
	switch o {
	case outcomeCreated:
		r.Created++
	case outcomeUpdated:
		r.Updated++
	case outcomeDeleted:
		r.Deleted++
	}
}

// pullEvent routes one external event. An event whose id is stored on an
// appointment belongs to that appointment whether or not it still carries the
// appointment property. Events tagged with the property but linked to no
// appointment are left alone; everything else is imported.
func (e *engine) pullEvent(ctx context.Context, s *repo.CalendarSync, ev gcal.Event) (pullOutcome, error) {
	a, err := e.DB.Appointment.GetByExternalEventID(ctx, s.PractitionerID, ev.ID)
	switch {
	case err == nil:
		return e.reconcileOwnEvent(ctx, s, a, ev)
	case !repo.IsNotFound(err):
		return outcomeNone, err
	case ev.AppointmentID != "":
		return outcomeNone, nil
	}
	return e.importEvent(ctx, s, ev)
}

// reconcileOwnEvent applies edits the practitioner made in the external
// calendar to the event of a. Local changes that have not been pushed yet win.
func (e *engine) reconcileOwnEvent(ctx context.Context, s *repo.CalendarSync, a *repo.Appointment, ev gcal.Event) (pullOutcome, error) {
	if !a.ExternalSynced || !a.Status.Active() || !ev.Busy() {
		return outcomeNone, nil
	}

	notes := a.Notes
	if s.PrivacyLevel == repo.PrivacyGeneric {
		notes = ev.Description
	}
	if a.StartTime.Equal(ev.Start) && a.EndTime.Equal(ev.End) && notes == a.Notes {
		return outcomeNone, nil
	}
	if err := e.DB.Appointment.ApplyExternalChange(ctx, a.ID, ev.Start, ev.End, notes); err != nil {
		return outcomeNone, err
	}
	slog.InfoContext(ctx, "appointment changed externally",
		logs.Practitioner(s.PractitionerID),
		logs.Appointment(a.ID),
	)
	return outcomeUpdated, nil
}

// importEvent mirrors a foreign event as external blocked time, keyed on the
// event id.
func (e *engine) importEvent(ctx context.Context, s *repo.CalendarSync, ev gcal.Event) (pullOutcome, error) {
	existing, err := e.DB.BlockedTime.GetByExternalEventID(ctx, s.PractitionerID, ev.ID)
	if err != nil && !repo.IsNotFound(err) {
		return outcomeNone, err
	}

	if !ev.Busy() {
		if existing == nil {
			return outcomeNone, nil
		}
		if err := e.DB.BlockedTime.Delete(ctx, s.PractitionerID, existing.ID); err != nil && !repo.IsNotFound(err) {
			return outcomeNone, err
		}
		return outcomeDeleted, nil
	}

	notes := ev.Summary
	if ev.Private {
		notes = ""
	}
	start, end := ev.Start.UTC(), ev.End.UTC()

	if existing != nil {
		if existing.StartTime.Equal(start) && existing.EndTime.Equal(end) && existing.Notes == notes {
			return outcomeNone, nil
		}
		if err := e.DB.BlockedTime.UpdateTimes(ctx, existing.ID, start, end, notes); err != nil {
			return outcomeNone, err
		}
		return outcomeUpdated, nil
	}

	id := ev.ID
	_, err = e.DB.BlockedTime.Create(ctx, &repo.BlockedTime{
		ID:              uuid.New(),
		PractitionerID:  s.PractitionerID,
		StartTime:       start,
		EndTime:         end,
		Reason:          repo.ReasonExternal,
		Notes:           notes,
		Source:          repo.SourceExternal,
		ExternalEventID: &id,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return outcomeNone, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	return outcomeCreated, nil
}

// ---------------------------------------------------------------------------
// Full sync
// ---------------------------------------------------------------------------

func (e *engine) SyncPractitioner(ctx context.Context, practitionerID uuid.UUID, direction repo.SyncDirection) (Result, error) {
	res := Result{Direction: direction}
	if direction != "" && !direction.Valid() {
		return res, ErrInvalidDirection
	}

	api, s, err := e.client(ctx, practitionerID)
	if err != nil {
		return res, err
	}
	if !s.SyncEnabled {
		return res, ErrSyncDisabled
	}
	if direction == "" {
		direction = s.SyncDirection
		res.Direction = direction
	}

	ctx, span := observability.Tracer().Start(ctx, "calendarsync.SyncPractitioner")
	defer span.End()

	var errs []error
	if direction.AllowsPush() && s.SyncDirection.AllowsPush() {
		res.Push, err = e.pushPending(ctx, api, s)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if direction.AllowsPull() && s.SyncDirection.AllowsPull() {
		res.Pull, err = e.pull(ctx, api, s)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 && res.Push.Failed == 0 && res.Pull.Errors == 0 {
		if err := e.DB.CalendarSync.MarkSynced(ctx, practitionerID, e.now().UTC()); err != nil {
			return res, fmt.Errorf("mark synced: %w", err)
		}
	}
	slog.InfoContext(ctx, "calendar sync finished",
		logs.Practitioner(practitionerID),
		"direction", direction,
		"pushed", res.Push.Pushed,
		"push_failed", res.Push.Failed,
		"created", res.Pull.Created,
		"updated", res.Pull.Updated,
		"deleted", res.Pull.Deleted,
		"pull_errors", res.Pull.Errors,
	)
	return res, errors.Join(errs...)
}

// pushPending pushes the practitioner's unsynced appointments. It stops
// early only when ctx is done.
func (e *engine) pushPending(ctx context.Context, api gcal.API, s *repo.CalendarSync) (PushResult, error) {
	var res PushResult
	since := e.now().Add(-e.cfg.RetryWindow())
	if e.cfg.RetryWindowHours <= 0 {
		since = time.Time{}
	}
	pending, err := e.DB.Appointment.ListUnsyncedForPractitioner(ctx, s.PractitionerID, since, e.cfg.RetryMaxAttempts)
	if err != nil {
		return res, fmt.Errorf("list unsynced: %w", err)
	}
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := e.Locker.WithLock(ctx, pushLockKey(a.ID), func(ctx context.Context) error {
			cur, err := e.DB.Appointment.Get(ctx, a.ID)
			if err != nil {
				return err
			}
			if cur.ExternalSynced {
				return nil
			}
			return e.push(ctx, api, s, cur)
		})
		if err != nil {
			res.Failed++
			continue
		}
		res.Pushed++
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func (e *engine) HandleWebhook(ctx context.Context, n Notification) error {
	s, err := e.DB.CalendarSync.GetByChannel(ctx, n.ChannelID)
	if err != nil {
		if repo.IsNotFound(err) {
			return ErrUnknownChannel
		}
		return fmt.Errorf("get channel: %w", err)
	}
	if n.ResourceID != "" && s.Webhook.ResourceID != "" && n.ResourceID != s.Webhook.ResourceID {
		return ErrUnknownChannel
	}
	if !tokenMatches(s.Webhook.Token, n.Token) {
		return ErrInvalidToken
	}
	if n.ResourceState == "sync" {
		return nil
	}
	if !s.SyncEnabled || !s.SyncDirection.AllowsPull() {
		return nil
	}

	if _, err := e.Pull(ctx, s.PractitionerID); err != nil {
		slog.WarnContext(ctx, "webhook pull failed", logs.Practitioner(s.PractitionerID), logs.Err(err))
		return err
	}
	return nil
}

func (e *engine) RenewWebhook(ctx context.Context, practitionerID uuid.UUID) error {
	if e.webhookAddress == "" {
		return ErrWebhookDisabled
	}
	api, s, err := e.client(ctx, practitionerID)
	if err != nil {
		return err
	}
	if !s.SyncEnabled {
		return ErrSyncDisabled
	}

	token, err := e.newToken()
	if err != nil {
		return err
	}
	ttl := e.cfg.WebhookTTL()
	if ttl <= 0 {
		ttl = defaultWebhookTT
	}
	ch, err := api.Watch(ctx, s.ExternalCalendarID, gcal.WatchRequest{
		ChannelID: uuid.NewString(),
		Address:   e.webhookAddress,
		Token:     token,
		TTL:       ttl,
	})
	if err != nil {
		err = providerErr("watch", err)
		e.recordError(ctx, practitionerID, OpRenew, nil, err)
		return err
	}

	exp := ch.Expiration.UTC()
	if err := e.DB.CalendarSync.SetWebhook(ctx, practitionerID, repo.WebhookChannel{
		ChannelID:  ch.ID,
		ResourceID: ch.ResourceID,
		Token:      hashToken(token),
		Expiration: &exp,
	}); err != nil {
		return fmt.Errorf("save webhook: %w", err)
	}

	if old := s.Webhook; old.Active() && old.ChannelID != ch.ID {
		if err := api.StopChannel(ctx, old.ChannelID, old.ResourceID); err != nil && !gcal.IsGone(err) {
			slog.WarnContext(ctx, "stop previous webhook channel", logs.Practitioner(practitionerID), logs.Err(err))
		}
	}
	slog.InfoContext(ctx, "webhook channel renewed", logs.Practitioner(practitionerID), "expires", exp)
	return nil
}

func (e *engine) Activate(ctx context.Context, practitionerID uuid.UUID) error {
	var errs []error
	if err := e.RenewWebhook(ctx, practitionerID); err != nil && !errors.Is(err, ErrWebhookDisabled) {
		errs = append(errs, err)
	}
	if _, err := e.SyncPractitioner(ctx, practitionerID, ""); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Busy intervals
// ---------------------------------------------------------------------------

// BusyIntervals returns the external calendar's busy time for the window.
// Practitioners without an enabled pull connection have none.
func (e *engine) BusyIntervals(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]repo.Interval, error) {
	s, err := e.DB.CalendarSync.Get(ctx, practitionerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !s.SyncEnabled || s.NeedsReauth || !s.SyncDirection.AllowsPull() {
		return nil, nil
	}

	window := windowKey(from, to)
	if cached, ok, err := e.Cache.Get(ctx, practitionerID, window); err == nil && ok {
		return cached, nil
	}

	api, s, err := e.client(ctx, practitionerID)
	if err != nil {
		if skippable(err) {
			return nil, nil
		}
		return nil, err
	}
	periods, err := api.FreeBusy(ctx, s.ExternalCalendarID, from, to)
	if err != nil {
		err = providerErr("freebusy", err)
		e.recordError(ctx, practitionerID, OpFreeBusy, nil, err)
		return nil, err
	}

	out := make([]repo.Interval, 0, len(periods))
	for _, p := range periods {
		if p.End.After(p.Start) {
			out = append(out, repo.Interval{Start: p.Start.UTC(), End: p.End.UTC()})
		}
	}
	ttl := e.cfg.BusyCacheTTL()
	if ttl <= 0 {
		ttl = defaultBusyTTL
	}
	if err := e.Cache.Put(ctx, practitionerID, window, out, ttl); err != nil {
		slog.WarnContext(ctx, "cache busy intervals", logs.Practitioner(practitionerID), logs.Err(err))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Settings and status
// ---------------------------------------------------------------------------

func (e *engine) Status(ctx context.Context, practitionerID uuid.UUID) (*Status, error) {
	s, err := e.DB.CalendarSync.Get(ctx, practitionerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return &Status{Errors: []repo.SyncError{}}, nil
		}
		return nil, err
	}
	errs := s.SyncErrors
	if errs == nil {
		errs = []repo.SyncError{}
	}
	return &Status{
		Connected:        s.HasCredentials(),
		SyncEnabled:      s.SyncEnabled,
		NeedsReauth:      s.NeedsReauth,
		ConnectedEmail:   s.ConnectedEmail,
		SyncDirection:    s.SyncDirection,
		PrivacyLevel:     s.PrivacyLevel,
		LastSyncedAt:     s.LastSyncedAt,
		WebhookActive:    s.Webhook.Active(),
		WebhookExpiresAt: s.Webhook.Expiration,
		UnresolvedErrors: s.UnresolvedErrors(),
		Errors:           errs,
	}, nil
}

func (e *engine) UpdateSettings(ctx context.Context, practitionerID uuid.UUID, patch repo.SettingsPatch) (*repo.CalendarSync, error) {
	cur, err := e.DB.CalendarSync.Get(ctx, practitionerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, vault.ErrNotConnected
		}
		return nil, err
	}
	if patch.SyncEnabled != nil && *patch.SyncEnabled && cur.NeedsReauth {
		return nil, vault.ErrReconnectRequired
	}
	out, err := e.DB.CalendarSync.UpdateSettings(ctx, practitionerID, patch)
	if err != nil {
		return nil, err
	}
	if err := e.Cache.Invalidate(ctx, practitionerID); err != nil {
		slog.WarnContext(ctx, "invalidate busy cache", logs.Practitioner(practitionerID), logs.Err(err))
	}
	return out, nil
}

func (e *engine) ClearErrors(ctx context.Context, practitionerID uuid.UUID) error {
	err := e.DB.CalendarSync.ClearErrors(ctx, practitionerID)
	if repo.IsNotFound(err) {
		return vault.ErrNotConnected
	}
	return err
}

// Disconnect stops the webhook channel (best effort), removes imported
// blocked time and forgets the connection.
func (e *engine) Disconnect(ctx context.Context, practitionerID uuid.UUID) error {
	s, err := e.DB.CalendarSync.Get(ctx, practitionerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return vault.ErrNotConnected
		}
		return err
	}

	if s.Webhook.Active() {
		if api, _, err := e.client(ctx, practitionerID); err == nil {
			if err := api.StopChannel(ctx, s.Webhook.ChannelID, s.Webhook.ResourceID); err != nil && !gcal.IsGone(err) {
				slog.WarnContext(ctx, "stop webhook channel on disconnect", logs.Practitioner(practitionerID), logs.Err(err))
			}
		}
	}

	if _, err := e.DB.BlockedTime.DeleteImported(ctx, practitionerID); err != nil {
		return fmt.Errorf("delete imported blocked time: %w", err)
	}

	if err := e.DB.CalendarSync.Delete(ctx, practitionerID); err != nil && !repo.IsNotFound(err) {
		return err
	}
	_ = e.Cache.Invalidate(ctx, practitionerID)
	slog.InfoContext(ctx, "calendar disconnected", logs.Practitioner(practitionerID))
	return nil
}
