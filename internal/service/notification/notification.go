// Package notification tells clients about changes to their bookings by
// e-mail and SMS. Delivery failures are reported to the caller for logging
// and never affect the booking itself.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/email"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
	"github.com/Alijeyrad/simorq_calendar/pkg/util/codes"
)

const (
	whenLayout = "Mon, 02 Jan 2006 15:04 MST"
	// Codes are shown to clients in groups; lookups accept either form.
	codeGroupSize = 4
)

type EmailSender interface {
	Enabled() bool
	Send(ctx context.Context, m email.Message) error
}

type SMSSender interface {
	IsEnabled() bool
	SendTemplate(ctx context.Context, phone, templateKey string, params map[string]string) error
}

// Recipient is who a notification goes to.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	// Notify sends the notification matching an appointment event.
	Notify(ctx context.Context, e events.AppointmentEvent) error
	// Send delivers one template to a recipient over every enabled channel.
	Send(ctx context.Context, templateID string, to Recipient, data email.BookingEmailData) error
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type notificationService struct {
	db      *repo.Client
	mail    EmailSender
	sms     SMSSender
	appName string
	baseURL string
}

func New(db *repo.Client, mail EmailSender, sms SMSSender, cfg config.EmailConfig) Service {
	appName := cfg.AppName
	if appName == "" {
		appName = "Simorq"
	}
	return &notificationService{
		db:      db,
		mail:    mail,
		sms:     sms,
		appName: appName,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// TemplateFor maps an event to its template id. Completed and no-show
// appointments are not announced.
func TemplateFor(e events.AppointmentEvent, a *repo.Appointment) (string, bool) {
	switch e.Action {
	case events.ActionCreated:
		if a.Status == repo.StatusConfirmed {
			return email.TemplateBookingConfirmed, true
		}
		return email.TemplateBookingCreated, true
	case events.ActionConfirmed:
		return email.TemplateBookingConfirmed, true
	case events.ActionCancelled:
		return email.TemplateBookingCancelled, true
	case events.ActionRescheduled:
		return email.TemplateBookingRescheduled, true
	}
	return "", false
}

func (s *notificationService) Notify(ctx context.Context, e events.AppointmentEvent) error {
	a, err := s.db.Appointment.Get(ctx, e.AppointmentID)
	if err != nil {
		return fmt.Errorf("get appointment: %w", err)
	}
	templateID, ok := TemplateFor(e, a)
	if !ok {
		return nil
	}

	loc := s.location(ctx, a.PractitionerID)
	data := email.BookingEmailData{
		ClientName:       a.ClientName,
		Email:            a.ClientEmail,
		ServiceType:      strings.ReplaceAll(a.ServiceType, "_", " "),
		When:             a.StartTime.In(loc).Format(whenLayout),
		ConfirmationCode: codes.FormatCode(a.ConfirmationCode, codeGroupSize),
		Reason:           a.CancellationReason,
		AppName:          s.appName,
	}
	if e.PreviousStart != nil {
		data.PreviousWhen = e.PreviousStart.In(loc).Format(whenLayout)
	}
	if s.baseURL != "" && templateID != email.TemplateBookingCancelled {
		data.ManageURL = s.baseURL + "/bookings/" + a.ConfirmationCode
	}

	to := Recipient{Name: a.ClientName, Email: a.ClientEmail, Phone: a.ClientPhone}
	return s.Send(ctx, templateID, to, data)
}

func (s *notificationService) Send(ctx context.Context, templateID string, to Recipient, data email.BookingEmailData) error {
	if to.Email == "" && to.Phone == "" {
		return ErrNoRecipient
	}
	var errs []error

	if to.Email != "" && s.mail != nil && s.mail.Enabled() {
		data.Email = to.Email
		msg, err := email.BuildBookingEmail(templateID, data)
		if err == nil {
			err = s.mail.Send(ctx, msg)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("email %s: %w", templateID, err))
		}
	}

	if to.Phone != "" && s.sms != nil && s.sms.IsEnabled() {
		params := map[string]string{
			"name": to.Name,
			"when": data.When,
			"code": data.ConfirmationCode,
		}
		if err := s.sms.SendTemplate(ctx, to.Phone, templateID, params); err != nil {
			errs = append(errs, fmt.Errorf("sms %s: %w", templateID, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "notification delivery failed", "template", templateID, logs.Err(err))
		return err
	}
	return nil
}

// location is the practitioner's timezone, UTC when unknown.
func (s *notificationService) location(ctx context.Context, practitionerID uuid.UUID) *time.Location {
	tpl, err := s.db.Availability.Get(ctx, practitionerID)
	if err != nil {
		return time.UTC
	}
	loc, err := tpl.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}
