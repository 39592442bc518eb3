// Package events carries appointment lifecycle events from the booking engine
// to the calendar push and notification workers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
)

type Action string

const (
	ActionCreated     Action = "created"
	ActionConfirmed   Action = "confirmed"
	ActionRescheduled Action = "rescheduled"
	ActionCompleted   Action = "completed"
	ActionNoShow      Action = "no_show"
	ActionCancelled   Action = "cancelled"
)

// AppointmentEvent is a trigger: consumers reload the appointment by id.
type AppointmentEvent struct {
	Action         Action     `json:"action"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PreviousStart  *time.Time `json:"previous_start,omitempty"`
	PreviousEnd    *time.Time `json:"previous_end,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewAppointmentEvent builds an event for a after the given action.
func NewAppointmentEvent(action Action, a *repo.Appointment) AppointmentEvent {
	return AppointmentEvent{
		Action:         action,
		AppointmentID:  a.ID,
		PractitionerID: a.PractitionerID,
		Reason:         a.CancellationReason,
		OccurredAt:     time.Now().UTC(),
	}
}

// Subject is simorq.appointment.<created|updated|cancelled>.<practitioner>.
func (e AppointmentEvent) Subject() string {
	var base string
	switch e.Action {
	case ActionCreated:
		base = constants.SubjectAppointmentCreated
	case ActionCancelled:
		base = constants.SubjectAppointmentCancelled
	default:
		base = constants.SubjectAppointmentUpdated
	}
	return base + "." + e.PractitionerID.String()
}

func (e AppointmentEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (AppointmentEvent, error) {
	var e AppointmentEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return AppointmentEvent{}, fmt.Errorf("decode appointment event: %w", err)
	}
	if e.AppointmentID == uuid.Nil || e.Action == "" {
		return AppointmentEvent{}, fmt.Errorf("decode appointment event: missing action or appointment id")
	}
	return e, nil
}

type Handler func(ctx context.Context, e AppointmentEvent) error

type Publisher interface {
	Publish(ctx context.Context, e AppointmentEvent) error
}

// Bus fans events out to named queues. Each queue receives every event once
// per process group.
type Bus interface {
	Publisher
	Subscribe(queue string, h Handler) (unsubscribe func() error, err error)
}
