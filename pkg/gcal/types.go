package gcal

import (
	"context"
	"time"

	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
)

// ExtendedPropertyAppointmentID is the private extended property set on
// events this service creates.
const ExtendedPropertyAppointmentID = constants.ExtendedPropertyAppointmentID

const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
)

type Attendee struct {
	Email       string
	DisplayName string
}

// Event is the provider-neutral view of a calendar event.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Status      string
	// Transparent events do not block time.
	Transparent bool
	Private     bool
	Attendees   []Attendee
	// AppointmentID is non-empty on events created from an appointment.
	AppointmentID string
	Updated       time.Time
}

func (e Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// Busy reports whether the event occupies its interval.
func (e Event) Busy() bool {
	return !e.Cancelled() && !e.Transparent && e.End.After(e.Start)
}

type Calendar struct {
	ID       string
	Summary  string
	TimeZone string
}

type Period struct {
	Start time.Time
	End   time.Time
}

type WatchRequest struct {
	ChannelID string
	Address   string
	Token     string
	TTL       time.Duration
}

type Channel struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

// API is the subset of the calendar provider used for sync.
type API interface {
	PrimaryCalendar(ctx context.Context) (Calendar, error)
	InsertEvent(ctx context.Context, calendarID string, e Event) (Event, error)
	UpdateEvent(ctx context.Context, calendarID string, e Event) (Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	// ListEvents returns single (expanded) events in [from, to), including
	// cancelled ones.
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error)
	Watch(ctx context.Context, calendarID string, req WatchRequest) (Channel, error)
	StopChannel(ctx context.Context, channelID, resourceID string) error
	FreeBusy(ctx context.Context, calendarID string, from, to time.Time) ([]Period, error)
}
