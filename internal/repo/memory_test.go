package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAppt(t *testing.T, practitioner uuid.UUID, start time.Time, minutes int, code string) *Appointment {
	t.Helper()
	a, err := NewAppointment(practitioner, "consultation", start, minutes)
	require.NoError(t, err)
	a.ConfirmationCode = code
	return a
}

func TestMemoryAppointments_ExclusionMirrorsSchema(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryClient()
	p := uuid.New()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	_, err := db.Appointment.Create(ctx, newAppt(t, p, start, 60, "AAAAAAAA"))
	require.NoError(t, err)

	_, err = db.Appointment.Create(ctx, newAppt(t, p, start.Add(30*time.Minute), 60, "BBBBBBBB"))
	assert.ErrorIs(t, err, ErrOverlap)

	_, err = db.Appointment.Create(ctx, newAppt(t, p, start.Add(time.Hour), 60, "CCCCCCCC"))
	assert.NoError(t, err, "back-to-back appointments do not overlap")

	_, err = db.Appointment.Create(ctx, newAppt(t, uuid.New(), start, 60, "DDDDDDDD"))
	assert.NoError(t, err, "other practitioners are independent")

	_, err = db.Appointment.Create(ctx, newAppt(t, p, start.Add(5*time.Hour), 60, "AAAAAAAA"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryAppointments_TransitionFreesInterval(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryClient()
	p := uuid.New()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	a, err := db.Appointment.Create(ctx, newAppt(t, p, start, 60, "AAAAAAAA"))
	require.NoError(t, err)

	_, err = db.Appointment.Transition(ctx, a.ID, []AppointmentStatus{StatusCompleted}, StatusPatch{Status: StatusCancelled})
	assert.ErrorIs(t, err, ErrStaleState)

	now := time.Now().UTC()
	got, err := db.Appointment.Transition(ctx, a.ID, ActiveStatuses, StatusPatch{
		Status:             StatusCancelled,
		At:                 now,
		CancellationReason: "sick",
		CancelledBy:        "client",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, "sick", got.CancellationReason)

	_, err = db.Appointment.Create(ctx, newAppt(t, p, start, 60, "BBBBBBBB"))
	assert.NoError(t, err, "cancelled appointments release their interval")
}

func TestMemoryAppointments_ListUnsynced(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryClient()
	p := uuid.New()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	a, err := db.Appointment.Create(ctx, newAppt(t, p, start, 60, "AAAAAAAA"))
	require.NoError(t, err)
	b, err := db.Appointment.Create(ctx, newAppt(t, p, start.Add(2*time.Hour), 60, "BBBBBBBB"))
	require.NoError(t, err)

	eventID := "evt-1"
	require.NoError(t, db.Appointment.MarkSynced(ctx, a.ID, &eventID))
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Appointment.MarkSyncFailed(ctx, b.ID, time.Now()))
	}

	got, err := db.Appointment.ListUnsynced(ctx, time.Now().Add(-24*time.Hour), 3, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "synced and exhausted appointments are skipped")

	got, err = db.Appointment.ListUnsynced(ctx, time.Now().Add(-24*time.Hour), 5, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	linked, err := db.Appointment.GetByExternalEventID(ctx, p, eventID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, linked.ID)
}

func TestMemoryCalendarSync_ErrorLogIsBounded(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryClient()
	p := uuid.New()

	require.NoError(t, db.CalendarSync.Upsert(ctx, &CalendarSync{
		PractitionerID:        p,
		EncryptedAccessToken:  "a",
		EncryptedRefreshToken: "r",
		SyncEnabled:           true,
		SyncDirection:         DirectionTwoWay,
		PrivacyLevel:          PrivacyBusyOnly,
	}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		require.NoError(t, db.CalendarSync.AppendError(ctx, p, SyncError{
			ID:         uuid.New(),
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
			Operation:  "push",
			Message:    "boom",
		}, 50))
	}

	s, err := db.CalendarSync.Get(ctx, p)
	require.NoError(t, err)
	require.Len(t, s.SyncErrors, 50)
	assert.Equal(t, base.Add(10*time.Hour), s.SyncErrors[0].OccurredAt, "oldest entries are dropped first")

	require.NoError(t, db.CalendarSync.MarkSynced(ctx, p, time.Now()))
	s, err = db.CalendarSync.Get(ctx, p)
	require.NoError(t, err)
	assert.Zero(t, s.UnresolvedErrors())

	n, err := db.CalendarSync.PruneErrors(ctx, base.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	s, err = db.CalendarSync.Get(ctx, p)
	require.NoError(t, err)
	assert.Len(t, s.SyncErrors, 30)
}

func TestMemoryCalendarSync_EnableRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryClient()
	p := uuid.New()

	err := db.CalendarSync.Upsert(ctx, &CalendarSync{
		PractitionerID: p,
		SyncEnabled:    true,
		SyncDirection:  DirectionTwoWay,
		PrivacyLevel:   PrivacyBusyOnly,
	})
	assert.ErrorIs(t, err, ErrCredentialsMissing)
}

func TestMemoryBlockedTime_ListRangeIncludesRecurringSeries(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryClient()
	p := uuid.New()

	_, err := db.BlockedTime.Create(ctx, &BlockedTime{
		ID:               uuid.New(),
		PractitionerID:   p,
		StartTime:        time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		EndTime:          time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC),
		Reason:           ReasonPersonal,
		Source:           SourceManual,
		IsRecurring:      true,
		RecurringPattern: &RecurringPattern{Frequency: FrequencyWeekly},
	})
	require.NoError(t, err)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	got, err := db.BlockedTime.ListRange(ctx, p, from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Occurrences(from, from.Add(24*time.Hour)), 1)
}
