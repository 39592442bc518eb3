package repo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	schemaV1 = 1 // therapist-era rows: session_type + duration_minutes, no end_time
	schemaV2 = 2

	currentSchemaVersion = schemaV2
)

// appointmentRow is the raw column set of the appointments table. Rows of
// every schema version scan into it; upgradeAppointmentRow turns it into the
// current model.
type appointmentRow struct {
	ID                 uuid.UUID
	SchemaVersion      int16
	PractitionerID     uuid.UUID
	ClientID           *uuid.UUID
	ClientName         string
	ClientEmail        string
	ClientPhone        string
	ServiceType        *string
	SessionType        *string
	StartTime          time.Time
	EndTime            *time.Time
	Duration           *int32
	DurationMinutes    *int32
	Status             string
	Notes              string
	ConfirmationCode   string
	ExternalEventID    *string
	ExternalSynced     bool
	SyncAttempts       int32
	LastSyncAttemptAt  *time.Time
	RecurringPattern   []byte
	PaymentStatus      string
	ConfirmedAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string
	CancelledBy        string
	ReminderSentAt     *time.Time
	DeletedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r *appointmentRow) dest() []any {
	return []any{
		&r.ID, &r.SchemaVersion, &r.PractitionerID, &r.ClientID,
		&r.ClientName, &r.ClientEmail, &r.ClientPhone,
		&r.ServiceType, &r.SessionType,
		&r.StartTime, &r.EndTime, &r.Duration, &r.DurationMinutes,
		&r.Status, &r.Notes, &r.ConfirmationCode,
		&r.ExternalEventID, &r.ExternalSynced, &r.SyncAttempts, &r.LastSyncAttemptAt,
		&r.RecurringPattern, &r.PaymentStatus,
		&r.ConfirmedAt, &r.CompletedAt, &r.CancelledAt,
		&r.CancellationReason, &r.CancelledBy, &r.ReminderSentAt, &r.DeletedAt,
		&r.CreatedAt, &r.UpdatedAt,
	}
}

// upgradeAppointmentRow translates a stored row of any known schema version
// into the current Appointment shape.
func upgradeAppointmentRow(r appointmentRow) (*Appointment, error) {
	a := &Appointment{
		ID:                 r.ID,
		PractitionerID:     r.PractitionerID,
		ClientID:           r.ClientID,
		ClientName:         r.ClientName,
		ClientEmail:        r.ClientEmail,
		ClientPhone:        r.ClientPhone,
		StartTime:          r.StartTime.UTC(),
		Status:             AppointmentStatus(r.Status),
		Notes:              r.Notes,
		ConfirmationCode:   r.ConfirmationCode,
		ExternalEventID:    r.ExternalEventID,
		ExternalSynced:     r.ExternalSynced,
		SyncAttempts:       int(r.SyncAttempts),
		LastSyncAttemptAt:  r.LastSyncAttemptAt,
		PaymentStatus:      PaymentStatus(r.PaymentStatus),
		ConfirmedAt:        r.ConfirmedAt,
		CompletedAt:        r.CompletedAt,
		CancelledAt:        r.CancelledAt,
		CancellationReason: r.CancellationReason,
		CancelledBy:        r.CancelledBy,
		ReminderSentAt:     r.ReminderSentAt,
		DeletedAt:          r.DeletedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}

	switch r.SchemaVersion {
	case schemaV1:
		a.ServiceType = deref(r.SessionType)
		if a.ServiceType == "" {
			a.ServiceType = deref(r.ServiceType)
		}
		minutes := firstPositive(r.DurationMinutes, r.Duration)
		if minutes <= 0 {
			return nil, fmt.Errorf("appointment %s: legacy row without duration", r.ID)
		}
		a.Duration = minutes
		a.EndTime = a.StartTime.Add(time.Duration(minutes) * time.Minute)
		if a.Status == "no-show" {
			a.Status = StatusNoShow
		}
	case schemaV2:
		a.ServiceType = deref(r.ServiceType)
		if r.EndTime == nil {
			return nil, fmt.Errorf("appointment %s: missing end_time", r.ID)
		}
		a.EndTime = r.EndTime.UTC()
		a.Duration = int(a.EndTime.Sub(a.StartTime) / time.Minute)
	default:
		return nil, fmt.Errorf("appointment %s: unknown schema version %d", r.ID, r.SchemaVersion)
	}

	if a.PaymentStatus == "" {
		a.PaymentStatus = PaymentUnpaid
	}
	if len(r.RecurringPattern) > 0 && string(r.RecurringPattern) != "null" {
		var p RecurringPattern
		if err := json.Unmarshal(r.RecurringPattern, &p); err != nil {
			return nil, fmt.Errorf("appointment %s: recurring_pattern: %w", r.ID, err)
		}
		a.RecurringPattern = &p
	}
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstPositive(vals ...*int32) int {
	for _, v := range vals {
		if v != nil && *v > 0 {
			return int(*v)
		}
	}
	return 0
}
