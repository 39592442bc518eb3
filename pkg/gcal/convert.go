package gcal

import (
	"time"

	"google.golang.org/api/calendar/v3"
)

const dateLayout = "2006-01-02"

func toAPIEvent(e Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Start:       &calendar.EventDateTime{DateTime: e.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: e.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		Status:      e.Status,
	}
	if e.Transparent {
		out.Transparency = "transparent"
	} else {
		out.Transparency = "opaque"
	}
	if e.Private {
		out.Visibility = "private"
	}
	for _, a := range e.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: a.Email, DisplayName: a.DisplayName})
	}
	if e.AppointmentID != "" {
		out.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{ExtendedPropertyAppointmentID: e.AppointmentID},
		}
	}
	return out
}

// fromAPIEvent converts a provider event. All-day dates are resolved in loc.
func fromAPIEvent(in *calendar.Event, loc *time.Location) Event {
	out := Event{
		ID:          in.Id,
		Summary:     in.Summary,
		Description: in.Description,
		Status:      in.Status,
		Transparent: in.Transparency == "transparent",
		Private:     in.Visibility == "private",
	}
	if out.Status == "" {
		out.Status = StatusConfirmed
	}

	out.Start, out.AllDay = parseEventTime(in.Start, loc)
	out.End, _ = parseEventTime(in.End, loc)

	for _, a := range in.Attendees {
		if a == nil {
			continue
		}
		out.Attendees = append(out.Attendees, Attendee{Email: a.Email, DisplayName: a.DisplayName})
	}
	if in.ExtendedProperties != nil {
		out.AppointmentID = in.ExtendedProperties.Private[ExtendedPropertyAppointmentID]
	}
	if in.Updated != "" {
		if t, err := time.Parse(time.RFC3339, in.Updated); err == nil {
			out.Updated = t.UTC()
		}
	}
	return out
}

func parseEventTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), false
	}
	if dt.Date != "" {
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		if err != nil {
			return time.Time{}, true
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}
