// Package booking creates appointments and moves them through their
// lifecycle. Every write re-checks conflicts under a per-practitioner lock,
// and the store's exclusion constraint is the final guard.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
	"github.com/Alijeyrad/simorq_calendar/pkg/util/codes"
)

const codeAttempts = 5

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type CreateRequest struct {
	PractitionerID uuid.UUID
	ServiceType    string
	StartTime      time.Time
	EndTime        time.Time
	ClientID       *uuid.UUID
	ClientName     string
	ClientEmail    string
	ClientPhone    string
	Notes          string
}

type ListRequest struct {
	Status  *repo.AppointmentStatus
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

// WindowValidator checks a requested interval against the practitioner's
// template and booking policy.
type WindowValidator interface {
	ValidateWindow(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (*repo.WeeklyAvailability, error)
	CheckDailyLimit(ctx context.Context, tpl *repo.WeeklyAvailability, start time.Time, exclude uuid.UUID) error
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*repo.Appointment, error)

	// Client operations are keyed by confirmation code and gated on the
	// booking email.
	Lookup(ctx context.Context, code, email string) (*repo.Appointment, error)
	CancelByClient(ctx context.Context, code, email, reason string) (*repo.Appointment, error)
	RescheduleByClient(ctx context.Context, code, email string, start time.Time) (*repo.Appointment, error)

	List(ctx context.Context, practitionerID uuid.UUID, req ListRequest) ([]*repo.Appointment, error)
	Get(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error)
	Confirm(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error)
	Cancel(ctx context.Context, practitionerID, id uuid.UUID, reason string) (*repo.Appointment, error)
	Complete(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error)
	NoShow(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type Deps struct {
	DB        *repo.Client
	Checker   conflict.Checker
	Windows   WindowValidator
	Locker    redispkg.Locker
	Publisher events.Publisher
	Metrics   *observability.Metrics
}

type bookingService struct {
	Deps
	cancelWindow time.Duration
	region       string
	codes        codes.Config
	now          func() time.Time
}

func New(d Deps, cfg config.BookingConfig, codesCfg config.CodesConfig) Service {
	region := strings.ToUpper(strings.TrimSpace(cfg.DefaultRegion))
	if region == "" {
		region = "IR"
	}
	return &bookingService{
		Deps:         d,
		cancelWindow: time.Duration(cfg.CancellationWindowHours) * time.Hour,
		region:       region,
		codes:        codes.FromCentralConfig(codesCfg),
		now:          time.Now,
	}
}

func (s *bookingService) Create(ctx context.Context, req CreateRequest) (*repo.Appointment, error) {
	appt, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	tpl, err := s.Windows.ValidateWindow(ctx, req.PractitionerID, appt.StartTime, appt.EndTime)
	if err != nil {
		return nil, err
	}
	if tpl.AutoConfirm {
		now := s.now().UTC()
		appt.Status = repo.StatusConfirmed
		appt.ConfirmedAt = &now
	}

	var created *repo.Appointment
	err = s.withPractitionerLock(ctx, req.PractitionerID, func(ctx context.Context) error {
		if err := s.Windows.CheckDailyLimit(ctx, tpl, appt.StartTime, uuid.Nil); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, req.PractitionerID, appt.Interval(), uuid.Nil, tpl.Buffer()); err != nil {
			return err
		}
		created, err = s.insert(ctx, appt, tpl.Buffer())
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "appointment booked",
		logs.Practitioner(created.PractitionerID),
		logs.Appointment(created.ID),
		"status", created.Status,
	)
	s.publish(ctx, events.NewAppointmentEvent(events.ActionCreated, created))
	return created, nil
}

func (s *bookingService) validateCreate(req CreateRequest) (*repo.Appointment, error) {
	if req.PractitionerID == uuid.Nil {
		return nil, &FieldError{Field: "practitioner_id", Err: ErrMissingField}
	}
	serviceType := strings.TrimSpace(req.ServiceType)
	if serviceType == "" {
		return nil, &FieldError{Field: "service_type", Err: ErrMissingField}
	}
	name := strings.TrimSpace(req.ClientName)
	if name == "" {
		return nil, &FieldError{Field: "client_name", Err: ErrMissingField}
	}
	email, err := normalizeEmail(req.ClientEmail)
	if err != nil {
		return nil, &FieldError{Field: "client_email", Err: err}
	}
	phone, err := normalizePhone(req.ClientPhone, s.region)
	if err != nil {
		return nil, &FieldError{Field: "client_phone", Err: err}
	}

	length := req.EndTime.Sub(req.StartTime)
	if length%time.Minute != 0 {
		return nil, ErrInvalidDuration
	}
	appt, err := repo.NewAppointment(req.PractitionerID, serviceType, req.StartTime, int(length/time.Minute))
	if err != nil {
		return nil, err
	}
	appt.ClientID = req.ClientID
	appt.ClientName = name
	appt.ClientEmail = email
	appt.ClientPhone = phone
	appt.Notes = strings.TrimSpace(req.Notes)
	return appt, nil
}

// insert assigns a confirmation code, retrying on the rare collision.
func (s *bookingService) insert(ctx context.Context, appt *repo.Appointment, buffer time.Duration) (*repo.Appointment, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := codes.GenerateConfirmationCode(s.codes)
		if err != nil {
			return nil, err
		}
		appt.ConfirmationCode = code

		created, err := s.DB.Appointment.Create(ctx, appt)
		switch {
		case err == nil:
			return created, nil
		case errors.Is(err, repo.ErrOverlap):
			return nil, s.conflictFromStore(ctx, appt.PractitionerID, appt.Interval(), uuid.Nil, buffer)
		case errors.Is(err, repo.ErrDuplicate):
			continue
		default:
			return nil, fmt.Errorf("create appointment: %w", err)
		}
	}
	return nil, fmt.Errorf("create appointment: no unique confirmation code after %d attempts", codeAttempts)
}

// ensureFree rejects iv when it overlaps an active appointment or blocked
// time, including the buffer after each of them.
func (s *bookingService) ensureFree(ctx context.Context, practitionerID uuid.UUID, iv repo.Interval, exclude uuid.UUID, buffer time.Duration) error {
	conflicts, err := s.Checker.Check(ctx, conflict.Query{
		PractitionerID:       practitionerID,
		Candidates:           []repo.Interval{iv},
		ExcludeAppointmentID: exclude,
		Buffer:               buffer,
	})
	if err != nil {
		return fmt.Errorf("check conflicts: %w", err)
	}
	if len(conflicts) > 0 {
		s.Metrics.BookingConflict(ctx)
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// conflictFromStore builds the conflict list after the store rejected a
// write that passed the checker (a writer outside the lock won).
func (s *bookingService) conflictFromStore(ctx context.Context, practitionerID uuid.UUID, iv repo.Interval, exclude uuid.UUID, buffer time.Duration) error {
	s.Metrics.BookingConflict(ctx)
	conflicts, err := s.Checker.Check(ctx, conflict.Query{
		PractitionerID:       practitionerID,
		Candidates:           []repo.Interval{iv},
		ExcludeAppointmentID: exclude,
		Buffer:               buffer,
	})
	if err != nil {
		slog.WarnContext(ctx, "conflict details unavailable", logs.Err(err))
	}
	return &ConflictError{Conflicts: conflicts}
}

func (s *bookingService) withPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.Locker.WithLock(ctx, constants.RedisKeyBookingLock+practitionerID.String(), fn)
	if errors.Is(err, redispkg.ErrLockNotAcquired) {
		return ErrBusy
	}
	return err
}

// publish never fails the caller: an unpublished change stays unsynced and
// is picked up by the retry job.
func (s *bookingService) publish(ctx context.Context, e events.AppointmentEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "appointment event not published",
			logs.Appointment(e.AppointmentID),
			"action", e.Action,
			logs.Err(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Client operations
// ---------------------------------------------------------------------------

func (s *bookingService) Lookup(ctx context.Context, code, email string) (*repo.Appointment, error) {
	code = codes.ParseCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	appt, err := s.DB.Appointment.GetByConfirmationCode(ctx, code)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(email), appt.ClientEmail) {
		return nil, ErrNotFound
	}
	return appt, nil
}

func (s *bookingService) CancelByClient(ctx context.Context, code, email, reason string) (*repo.Appointment, error) {
	appt, err := s.Lookup(ctx, code, email)
	if err != nil {
		return nil, err
	}
	if !CanTransition(appt.Status, repo.StatusCancelled) {
		return nil, ErrInvalidTransition
	}
	if err := s.checkPolicyWindow(appt); err != nil {
		return nil, err
	}
	return s.transition(ctx, appt, repo.StatusCancelled, reason, "client")
}

func (s *bookingService) RescheduleByClient(ctx context.Context, code, email string, start time.Time) (*repo.Appointment, error) {
	appt, err := s.Lookup(ctx, code, email)
	if err != nil {
		return nil, err
	}
	if !appt.Status.Active() {
		return nil, ErrInvalidTransition
	}
	if err := s.checkPolicyWindow(appt); err != nil {
		return nil, err
	}

	end := start.Add(appt.EndTime.Sub(appt.StartTime))
	tpl, err := s.Windows.ValidateWindow(ctx, appt.PractitionerID, start, end)
	if err != nil {
		return nil, err
	}
	target := repo.Interval{Start: start.UTC(), End: end.UTC()}

	var moved *repo.Appointment
	err = s.withPractitionerLock(ctx, appt.PractitionerID, func(ctx context.Context) error {
		if err := s.Windows.CheckDailyLimit(ctx, tpl, target.Start, appt.ID); err != nil {
			return err
		}
		if err := s.ensureFree(ctx, appt.PractitionerID, target, appt.ID, tpl.Buffer()); err != nil {
			return err
		}
		var err error
		moved, err = s.DB.Appointment.Reschedule(ctx, appt.ID, target.Start, target.End)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repo.ErrOverlap):
			return s.conflictFromStore(ctx, appt.PractitionerID, target, appt.ID, tpl.Buffer())
		case errors.Is(err, repo.ErrStaleState):
			return ErrInvalidTransition
		case repo.IsNotFound(err):
			return ErrNotFound
		default:
			return fmt.Errorf("reschedule appointment: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	e := events.NewAppointmentEvent(events.ActionRescheduled, moved)
	e.PreviousStart, e.PreviousEnd = &appt.StartTime, &appt.EndTime
	s.publish(ctx, e)
	return moved, nil
}

// checkPolicyWindow rejects client changes closer to the start than the
// cancellation window. Exactly at the window is allowed.
func (s *bookingService) checkPolicyWindow(appt *repo.Appointment) error {
	if appt.StartTime.Sub(s.now()) < s.cancelWindow {
		return ErrPolicyWindow
	}
	return nil
}

// ---------------------------------------------------------------------------
// Practitioner operations
// ---------------------------------------------------------------------------

func (s *bookingService) List(ctx context.Context, practitionerID uuid.UUID, req ListRequest) ([]*repo.Appointment, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage < 1 || req.PerPage > 100 {
		req.PerPage = 20
	}
	out, err := s.DB.Appointment.List(ctx, repo.AppointmentFilter{
		PractitionerID: practitionerID,
		Status:         req.Status,
		From:           req.From,
		To:             req.To,
		Limit:          req.PerPage,
		Offset:         (req.Page - 1) * req.PerPage,
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

func (s *bookingService) Get(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error) {
	appt, err := s.DB.Appointment.Get(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if appt.PractitionerID != practitionerID {
		return nil, ErrNotFound
	}
	return appt, nil
}

func (s *bookingService) Confirm(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error) {
	return s.practitionerTransition(ctx, practitionerID, id, repo.StatusConfirmed, "")
}

func (s *bookingService) Cancel(ctx context.Context, practitionerID, id uuid.UUID, reason string) (*repo.Appointment, error) {
	return s.practitionerTransition(ctx, practitionerID, id, repo.StatusCancelled, reason)
}

func (s *bookingService) Complete(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error) {
	return s.practitionerTransition(ctx, practitionerID, id, repo.StatusCompleted, "")
}

func (s *bookingService) NoShow(ctx context.Context, practitionerID, id uuid.UUID) (*repo.Appointment, error) {
	return s.practitionerTransition(ctx, practitionerID, id, repo.StatusNoShow, "")
}

func (s *bookingService) practitionerTransition(ctx context.Context, practitionerID, id uuid.UUID, to repo.AppointmentStatus, reason string) (*repo.Appointment, error) {
	appt, err := s.Get(ctx, practitionerID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, appt, to, reason, "practitioner")
}

var actionFor = map[repo.AppointmentStatus]events.Action{
	repo.StatusConfirmed: events.ActionConfirmed,
	repo.StatusCompleted: events.ActionCompleted,
	repo.StatusNoShow:    events.ActionNoShow,
	repo.StatusCancelled: events.ActionCancelled,
}

func (s *bookingService) transition(ctx context.Context, appt *repo.Appointment, to repo.AppointmentStatus, reason, by string) (*repo.Appointment, error) {
	patch := repo.StatusPatch{
		Status:        to,
		At:            s.now().UTC(),
		ClearReminder: to == repo.StatusConfirmed,
	}
	if to == repo.StatusCancelled {
		patch.CancellationReason = strings.TrimSpace(reason)
		patch.CancelledBy = by
	}

	out, err := s.DB.Appointment.Transition(ctx, appt.ID, allowedFrom[to], patch)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrStaleState):
			return nil, ErrInvalidTransition
		case repo.IsNotFound(err):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	slog.InfoContext(ctx, "appointment status changed",
		logs.Appointment(out.ID),
		"from", appt.Status,
		"to", out.Status,
		"by", by,
	)
	s.publish(ctx, events.NewAppointmentEvent(actionFor[to], out))
	return out, nil
}

// ---------------------------------------------------------------------------
// Input normalisation
// ---------------------------------------------------------------------------

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingField
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// normalizePhone returns the E.164 form. An empty phone is allowed.
func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
