package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/availability"
	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
)

var now = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

func at(day, h, m int) time.Time {
	return time.Date(2030, 6, day, h, m, 0, 0, time.UTC)
}

type stubWindows struct {
	tpl *repo.WeeklyAvailability
	err error
}

func (s *stubWindows) ValidateWindow(_ context.Context, pid uuid.UUID, _, _ time.Time) (*repo.WeeklyAvailability, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.tpl != nil {
		return s.tpl, nil
	}
	return repo.DefaultAvailability(pid), nil
}

func (s *stubWindows) CheckDailyLimit(context.Context, *repo.WeeklyAvailability, time.Time, uuid.UUID) error {
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.AppointmentEvent
}

func (r *recorder) Publish(_ context.Context, e events.AppointmentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) actions() []events.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc     *bookingService
	db      *repo.Client
	windows *stubWindows
	events  *recorder
	pid     uuid.UUID
}

func newFixture() *fixture {
	db := repo.NewMemoryClient()
	f := &fixture{db: db, windows: &stubWindows{}, events: &recorder{}, pid: uuid.New()}
	f.svc = New(Deps{
		DB:        db,
		Checker:   conflict.New(db),
		Windows:   f.windows,
		Locker:    redispkg.NewLocalLocker(),
		Publisher: f.events,
	}, config.BookingConfig{CancellationWindowHours: 24, DefaultRegion: "ir"}, config.CodesConfig{}).(*bookingService)
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) request(start time.Time, minutes int) CreateRequest {
	return CreateRequest{
		PractitionerID: f.pid,
		ServiceType:    "consultation",
		StartTime:      start,
		EndTime:        start.Add(time.Duration(minutes) * time.Minute),
		ClientName:     "  Sara Ahmadi ",
		ClientEmail:    "Sara@Example.com",
		ClientPhone:    "0912 345 6789",
	}
}

func TestCreate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	require.NoError(t, err)

	assert.Equal(t, repo.StatusPending, a.Status)
	assert.Equal(t, 60, a.Duration)
	assert.Equal(t, "Sara Ahmadi", a.ClientName)
	assert.Equal(t, "sara@example.com", a.ClientEmail)
	assert.Equal(t, "+989123456789", a.ClientPhone)
	assert.Len(t, a.ConfirmationCode, 8)
	assert.False(t, a.ExternalSynced)
	assert.Nil(t, a.ConfirmedAt)
	assert.Equal(t, []events.Action{events.ActionCreated}, f.events.actions())

	stored, err := f.db.Appointment.GetByConfirmationCode(ctx, a.ConfirmationCode)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)
}

func TestCreate_AutoConfirm(t *testing.T) {
	f := newFixture()
	tpl := repo.DefaultAvailability(f.pid)
	tpl.AutoConfirm = true
	f.windows.tpl = tpl

	a, err := f.svc.Create(context.Background(), f.request(at(3, 10, 0), 60))
	require.NoError(t, err)
	assert.Equal(t, repo.StatusConfirmed, a.Status)
	require.NotNil(t, a.ConfirmedAt)
	assert.True(t, a.ConfirmedAt.Equal(now))
}

func TestCreate_Conflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.request(at(3, 10, 30), 60))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrConflict)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, conflict.KindAppointment, ce.Conflicts[0].Kind)
	assert.Equal(t, first.ID, ce.Conflicts[0].ID)

	// Back to back is fine.
	_, err = f.svc.Create(ctx, f.request(at(3, 11, 0), 60))
	assert.NoError(t, err)

	_, err = f.db.BlockedTime.Create(ctx, &repo.BlockedTime{
		ID: uuid.New(), PractitionerID: f.pid,
		StartTime: at(3, 14, 0), EndTime: at(3, 15, 0),
		Reason: repo.ReasonPersonal, Source: repo.SourceManual,
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.request(at(3, 14, 30), 60))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, conflict.KindBlockedTime, ce.Conflicts[0].Kind)

	// A cancelled appointment frees its interval.
	_, err = f.svc.Cancel(ctx, f.pid, first.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	assert.NoError(t, err)
}

func TestCreate_ConcurrentRequestsForSameSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, conflicted := 0, 0
	for err := range errs {
		if err == nil {
			ok++
		} else if assert.ErrorIs(t, err, ErrConflict) {
			conflicted++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicted)
}

func TestCreate_BufferAfterExistingAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tpl := repo.DefaultAvailability(f.pid)
	tpl.BufferTime = 15
	f.windows.tpl = tpl

	first, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.request(at(3, 11, 0), 60))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, first.ID, ce.Conflicts[0].ID)

	// The slot engine offers 09:00 and 11:15 around a 10:00 booking.
	_, err = f.svc.Create(ctx, f.request(at(3, 11, 15), 60))
	assert.NoError(t, err)
	_, err = f.svc.Create(ctx, f.request(at(3, 9, 0), 60))
	assert.NoError(t, err)
}

func TestCreate_DailyLimitUnderConcurrency(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tpl := repo.DefaultAvailability(f.pid)
	tpl.MaxDailyAppointments = 2
	tpl.MinNoticeHours = 0
	tpl.AdvanceBookingDays = 3650
	_, err := f.db.Availability.Upsert(ctx, tpl)
	require.NoError(t, err)
	f.svc.Windows = availability.New(f.db, nil, config.BookingConfig{})

	hours := []int{9, 10, 11, 12, 13, 14}
	var wg sync.WaitGroup
	errs := make(chan error, len(hours))
	for _, h := range hours {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			_, err := f.svc.Create(ctx, f.request(at(3, h, 0), 60))
			errs <- err
		}(h)
	}
	wg.Wait()
	close(errs)

	ok, limited := 0, 0
	for err := range errs {
		if err == nil {
			ok++
		} else if assert.ErrorIs(t, err, availability.ErrDailyLimitReached) {
			limited++
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, len(hours)-2, limited)

	// Another day is unaffected.
	_, err = f.svc.Create(ctx, f.request(at(4, 9, 0), 60))
	assert.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		err    error
	}{
		{"missing name", func(r *CreateRequest) { r.ClientName = " " }, ErrMissingField},
		{"missing service", func(r *CreateRequest) { r.ServiceType = "" }, ErrMissingField},
		{"missing email", func(r *CreateRequest) { r.ClientEmail = "" }, ErrMissingField},
		{"bad email", func(r *CreateRequest) { r.ClientEmail = "not-an-email" }, ErrInvalidEmail},
		{"display name email", func(r *CreateRequest) { r.ClientEmail = "Sara <sara@example.com>" }, ErrInvalidEmail},
		{"bad phone", func(r *CreateRequest) { r.ClientPhone = "12" }, ErrInvalidPhone},
		{"inverted interval", func(r *CreateRequest) { r.EndTime = r.StartTime.Add(-time.Hour) }, repo.ErrInvalidInterval},
		{"seconds", func(r *CreateRequest) { r.EndTime = r.EndTime.Add(time.Second) }, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(at(3, 10, 0), 60)
			tt.mutate(&req)
			_, err := f.svc.Create(ctx, req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("empty phone allowed", func(t *testing.T) {
		req := f.request(at(4, 10, 0), 60)
		req.ClientPhone = ""
		a, err := f.svc.Create(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, a.ClientPhone)
	})

	t.Run("window errors pass through", func(t *testing.T) {
		f.windows.err = availability.ErrTooSoon
		defer func() { f.windows.err = nil }()
		_, err := f.svc.Create(ctx, f.request(at(5, 10, 0), 60))
		assert.ErrorIs(t, err, availability.ErrTooSoon)
	})

	assert.Len(t, f.events.actions(), 1)
}

func TestLookup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	require.NoError(t, err)

	got, err := f.svc.Lookup(ctx, a.ConfirmationCode[:4]+"-"+a.ConfirmationCode[4:], "SARA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.svc.Lookup(ctx, a.ConfirmationCode, "other@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Lookup(ctx, "ZZZZZZZZ", "sara@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Lookup(ctx, "", "sara@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelByClient(t *testing.T) {
	ctx := context.Background()

	t.Run("outside the window", func(t *testing.T) {
		f := newFixture()
		a, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
		require.NoError(t, err)

		out, err := f.svc.CancelByClient(ctx, a.ConfirmationCode, "sara@example.com", " plans changed ")
		require.NoError(t, err)
		assert.Equal(t, repo.StatusCancelled, out.Status)
		assert.Equal(t, "plans changed", out.CancellationReason)
		assert.Equal(t, "client", out.CancelledBy)
		assert.Equal(t, []events.Action{events.ActionCreated, events.ActionCancelled}, f.events.actions())

		_, err = f.svc.CancelByClient(ctx, a.ConfirmationCode, "sara@example.com", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("exactly at the window is allowed", func(t *testing.T) {
		f := newFixture()
		a, err := f.svc.Create(ctx, f.request(now.Add(24*time.Hour), 60))
		require.NoError(t, err)
		_, err = f.svc.CancelByClient(ctx, a.ConfirmationCode, "sara@example.com", "")
		assert.NoError(t, err)
	})

	t.Run("inside the window", func(t *testing.T) {
		f := newFixture()
		a, err := f.svc.Create(ctx, f.request(now.Add(23*time.Hour), 60))
		require.NoError(t, err)
		_, err = f.svc.CancelByClient(ctx, a.ConfirmationCode, "sara@example.com", "")
		assert.ErrorIs(t, err, ErrPolicyWindow)

		// The practitioner is not bound by it.
		out, err := f.svc.Cancel(ctx, f.pid, a.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "practitioner", out.CancelledBy)
	})
}

func TestRescheduleByClient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	require.NoError(t, err)
	other, err := f.svc.Create(ctx, f.request(at(3, 14, 0), 60))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, f.pid, a.ID)
	require.NoError(t, err)

	_, err = f.svc.RescheduleByClient(ctx, a.ConfirmationCode, "sara@example.com", at(3, 13, 30))
	assert.ErrorIs(t, err, ErrConflict)

	// Moving onto its own old interval does not conflict with itself.
	moved, err := f.svc.RescheduleByClient(ctx, a.ConfirmationCode, "sara@example.com", at(3, 10, 30))
	require.NoError(t, err)
	assert.Equal(t, at(3, 10, 30), moved.StartTime)
	assert.Equal(t, at(3, 11, 30), moved.EndTime)
	assert.Equal(t, repo.StatusConfirmed, moved.Status)
	assert.False(t, moved.ExternalSynced)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, events.ActionRescheduled, last.Action)
	require.NotNil(t, last.PreviousStart)
	assert.Equal(t, at(3, 10, 0), *last.PreviousStart)

	_, err = f.svc.Cancel(ctx, f.pid, other.ID, "")
	require.NoError(t, err)
	_, err = f.svc.RescheduleByClient(ctx, other.ConfirmationCode, "sara@example.com", at(4, 9, 0))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPractitionerTransitions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.request(at(3, 10, 0), 60))
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, f.pid, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.NoShow(ctx, f.pid, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	out, err := f.svc.Confirm(ctx, f.pid, a.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.StatusConfirmed, out.Status)

	// Confirming again is idempotent.
	_, err = f.svc.Confirm(ctx, f.pid, a.ID)
	require.NoError(t, err)

	out, err = f.svc.Complete(ctx, f.pid, a.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.StatusCompleted, out.Status)
	assert.NotNil(t, out.CompletedAt)

	_, err = f.svc.Cancel(ctx, f.pid, a.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Another practitioner cannot see it.
	_, err = f.svc.Confirm(ctx, uuid.New(), a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []events.Action{
		events.ActionCreated, events.ActionConfirmed, events.ActionConfirmed, events.ActionCompleted,
	}, f.events.actions())
}

func TestList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, h := range []int{9, 11, 13} {
		_, err := f.svc.Create(ctx, f.request(at(3, h, 0), 60))
		require.NoError(t, err)
	}

	all, err := f.svc.List(ctx, f.pid, ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := f.svc.List(ctx, f.pid, ListRequest{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, at(3, 13, 0), page[0].StartTime)

	confirmed := repo.StatusConfirmed
	none, err := f.svc.List(ctx, f.pid, ListRequest{Status: &confirmed})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(repo.StatusPending, repo.StatusConfirmed))
	assert.True(t, CanTransition(repo.StatusConfirmed, repo.StatusConfirmed))
	assert.True(t, CanTransition(repo.StatusPending, repo.StatusCancelled))
	assert.False(t, CanTransition(repo.StatusPending, repo.StatusCompleted))
	assert.False(t, CanTransition(repo.StatusCancelled, repo.StatusConfirmed))
	assert.False(t, CanTransition(repo.StatusCompleted, repo.StatusNoShow))
	assert.False(t, CanTransition(repo.StatusConfirmed, repo.StatusPending))
}
