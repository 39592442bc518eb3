// Package repo holds the persisted data model and the stores for the four
// practitioner-owned collections: weekly availability, blocked time,
// appointments and calendar sync state.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AvailabilityStore interface {
	Get(ctx context.Context, practitionerID uuid.UUID) (*WeeklyAvailability, error)
	Upsert(ctx context.Context, a *WeeklyAvailability) (*WeeklyAvailability, error)
}

type BlockedTimeStore interface {
	Create(ctx context.Context, b *BlockedTime) (*BlockedTime, error)
	Get(ctx context.Context, practitionerID, id uuid.UUID) (*BlockedTime, error)
	// ListRange returns entries that may have an occurrence in [from, to),
	// including recurring series that started before from.
	ListRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*BlockedTime, error)
	GetByExternalEventID(ctx context.Context, practitionerID uuid.UUID, eventID string) (*BlockedTime, error)
	ListImported(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*BlockedTime, error)
	UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time, notes string) error
	Delete(ctx context.Context, practitionerID, id uuid.UUID) error
	DeleteExpiredSeries(ctx context.Context, before time.Time) (int64, error)
	DeleteImported(ctx context.Context, practitionerID uuid.UUID) (int64, error)
}

type AppointmentFilter struct {
	PractitionerID uuid.UUID
	Status         *AppointmentStatus
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// StatusPatch describes a lifecycle transition.
type StatusPatch struct {
	Status             AppointmentStatus
	At                 time.Time
	CancellationReason string
	CancelledBy        string
	ClearReminder      bool
}

type AppointmentStore interface {
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByConfirmationCode(ctx context.Context, code string) (*Appointment, error)
	GetByExternalEventID(ctx context.Context, practitionerID uuid.UUID, eventID string) (*Appointment, error)
	// ListActiveRange returns pending/confirmed appointments overlapping [from, to).
	ListActiveRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
	// Transition applies patch only if the current status is one of from.
	// It returns ErrStaleState otherwise.
	Transition(ctx context.Context, id uuid.UUID, from []AppointmentStatus, patch StatusPatch) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error)
	// MarkSynced records a successful push. A nil eventID clears the link.
	MarkSynced(ctx context.Context, id uuid.UUID, eventID *string) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID, at time.Time) error
	ListUnsynced(ctx context.Context, since time.Time, maxAttempts, limit int) ([]*Appointment, error)
	ListUnsyncedForPractitioner(ctx context.Context, practitionerID uuid.UUID, since time.Time, maxAttempts int) ([]*Appointment, error)
	ApplyExternalChange(ctx context.Context, id uuid.UUID, start, end time.Time, notes string) error
}

type CalendarSyncStore interface {
	Get(ctx context.Context, practitionerID uuid.UUID) (*CalendarSync, error)
	GetByChannel(ctx context.Context, channelID string) (*CalendarSync, error)
	Upsert(ctx context.Context, s *CalendarSync) error
	Delete(ctx context.Context, practitionerID uuid.UUID) error
	ListEnabled(ctx context.Context) ([]*CalendarSync, error)
	ListWebhooksExpiringBefore(ctx context.Context, t time.Time) ([]*CalendarSync, error)
	UpdateCredentials(ctx context.Context, practitionerID uuid.UUID, access, refresh string, expiry time.Time) error
	UpdateSettings(ctx context.Context, practitionerID uuid.UUID, patch SettingsPatch) (*CalendarSync, error)
	SetWebhook(ctx context.Context, practitionerID uuid.UUID, w WebhookChannel) error
	DisableSync(ctx context.Context, practitionerID uuid.UUID, needsReauth bool) error
	// MarkSynced stamps last_synced_at and resolves outstanding errors.
	MarkSynced(ctx context.Context, practitionerID uuid.UUID, at time.Time) error
	// AppendError appends e and trims the log to the newest max entries in a
	// single atomic write.
	AppendError(ctx context.Context, practitionerID uuid.UUID, e SyncError, max int) error
	ClearErrors(ctx context.Context, practitionerID uuid.UUID) error
	PruneErrors(ctx context.Context, before time.Time) (int64, error)
}

// Client groups the stores the way callers reach them: db.Appointment.Get(...).
type Client struct {
	Availability AvailabilityStore
	BlockedTime  BlockedTimeStore
	Appointment  AppointmentStore
	CalendarSync CalendarSyncStore

	close func()
}

func (c *Client) Close() error {
	if c.close != nil {
		c.close()
	}
	return nil
}
