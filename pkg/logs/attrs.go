package logs

import (
	"log/slog"

	"github.com/google/uuid"
)

// Attribute keys shared by every component.
const (
	KeyPractitionerID = "practitioner_id"
	KeyAppointmentID  = "appointment_id"
	KeyJob            = "job"
	KeyError          = "err"
)

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func Practitioner(id uuid.UUID) slog.Attr {
	return slog.String(KeyPractitionerID, id.String())
}

func Appointment(id uuid.UUID) slog.Attr {
	return slog.String(KeyAppointmentID, id.String())
}

func Job(name string) slog.Attr {
	return slog.String(KeyJob, name)
}
