package calendarsync

import (
	"fmt"
	"strings"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
)

const busyTitle = "Busy"

// Project renders an appointment as an external event at the given privacy
// level. The appointment id is always attached so pulls can recognise the
// event as ours.
func Project(a *repo.Appointment, privacy repo.PrivacyLevel) gcal.Event {
	e := gcal.Event{
		Start:         a.StartTime,
		End:           a.EndTime,
		Status:        gcal.StatusConfirmed,
		AppointmentID: a.ID.String(),
	}
	if a.HasExternalEvent() {
		e.ID = *a.ExternalEventID
	}
	if a.Status == repo.StatusPending {
		e.Status = gcal.StatusTentative
	}

	switch privacy {
	case repo.PrivacyDetailed:
		e.Summary = fmt.Sprintf("%s: %s", titleCase(a.ServiceType), a.ClientName)
		var b strings.Builder
		fmt.Fprintf(&b, "Client: %s\n", a.ClientName)
		fmt.Fprintf(&b, "Email: %s\n", a.ClientEmail)
		if a.ClientPhone != "" {
			fmt.Fprintf(&b, "Phone: %s\n", a.ClientPhone)
		}
		fmt.Fprintf(&b, "Status: %s\n", a.Status)
		fmt.Fprintf(&b, "Confirmation code: %s", a.ConfirmationCode)
		if a.Notes != "" {
			fmt.Fprintf(&b, "\n\n%s", a.Notes)
		}
		e.Description = b.String()
		e.Attendees = []gcal.Attendee{{Email: a.ClientEmail, DisplayName: a.ClientName}}
	case repo.PrivacyGeneric:
		e.Summary = titleCase(a.ServiceType)
		e.Description = a.Notes
		e.Private = true
	default:
		e.Summary = busyTitle
		e.Private = true
	}
	return e
}

func titleCase(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
	if s == "" {
		return "Appointment"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
