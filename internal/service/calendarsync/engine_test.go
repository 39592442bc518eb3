package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/vault"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal/gcaltest"
)

// stubCredentials hands out the fake provider for any connected practitioner.
type stubCredentials struct {
	db  *repo.Client
	api gcal.API
}

func (c *stubCredentials) Client(ctx context.Context, pid uuid.UUID) (gcal.API, *repo.CalendarSync, error) {
	s, err := c.db.CalendarSync.Get(ctx, pid)
	if err != nil {
		return nil, nil, vault.ErrNotConnected
	}
	if s.NeedsReauth {
		return nil, s, vault.ErrReconnectRequired
	}
	return c.api, s, nil
}

type fixture struct {
	eng  *engine
	db   *repo.Client
	fake *gcaltest.Fake
	pid  uuid.UUID
	base time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repo.NewMemoryClient()
	f := &fixture{
		db:   db,
		fake: gcaltest.New(),
		pid:  uuid.New(),
		base: time.Now().UTC().Truncate(time.Hour).Add(48 * time.Hour),
	}
	f.eng = New(Deps{
		DB:          db,
		Credentials: &stubCredentials{db: db, api: f.fake},
	}, config.CalendarSyncConfig{
		PullWindowBackDays:    30,
		PullWindowForwardDays: 90,
		ErrorLogCap:           5,
		RetryMaxAttempts:      3,
		RetryWindowHours:      24,
		BusyCacheTTLSeconds:   60,
		WebhookTTLHours:       24,
	}, config.GoogleConfig{WebhookAddress: "https://api.example.com/api/v1/calendar/webhook"}).(*engine)
	f.eng.newToken = func() (string, error) { return "channel-secret", nil }
	f.connect(t, f.pid, repo.DirectionTwoWay)
	return f
}

func (f *fixture) connect(t *testing.T, pid uuid.UUID, dir repo.SyncDirection) {
	t.Helper()
	require.NoError(t, f.db.CalendarSync.Upsert(context.Background(), &repo.CalendarSync{
		PractitionerID:        pid,
		EncryptedAccessToken:  "ciphertext-a",
		EncryptedRefreshToken: "ciphertext-r",
		TokenExpiry:           time.Now().Add(time.Hour),
		ExternalCalendarID:    "practitioner@example.com",
		SyncEnabled:           true,
		SyncDirection:         dir,
		PrivacyLevel:          repo.PrivacyBusyOnly,
	}))
}

func (f *fixture) appointment(t *testing.T, pid uuid.UUID, start time.Time) *repo.Appointment {
	t.Helper()
	a, err := repo.NewAppointment(pid, "consultation", start, 60)
	require.NoError(t, err)
	a.Status = repo.StatusConfirmed
	a.ClientName = "Sara Ahmadi"
	a.ClientEmail = "sara@example.com"
	a.ConfirmationCode = uuid.NewString()[:8]
	out, err := f.db.Appointment.Create(context.Background(), a)
	require.NoError(t, err)
	return out
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *repo.Appointment {
	t.Helper()
	a, err := f.db.Appointment.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) syncState(t *testing.T) *repo.CalendarSync {
	t.Helper()
	s, err := f.db.CalendarSync.Get(context.Background(), f.pid)
	require.NoError(t, err)
	return s
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

func TestPushAppointment_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)

	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	got := f.get(t, a.ID)
	require.True(t, got.HasExternalEvent())
	assert.True(t, got.ExternalSynced)
	ev, ok := f.fake.Event(*got.ExternalEventID)
	require.True(t, ok)
	assert.Equal(t, a.ID.String(), ev.AppointmentID)
	assert.Equal(t, "Busy", ev.Summary)

	// Already synced: no provider traffic.
	calls := f.fake.TotalCalls()
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	assert.Equal(t, calls, f.fake.TotalCalls())

	// A change reuses the stored event id.
	_, err := f.db.Appointment.Reschedule(ctx, a.ID, f.base.Add(time.Hour), f.base.Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	assert.Equal(t, 1, f.fake.Calls(gcaltest.OpInsert))
	assert.Equal(t, 1, f.fake.Calls(gcaltest.OpUpdate))
	assert.Len(t, f.fake.Events(), 1)
	ev, _ = f.fake.Event(*got.ExternalEventID)
	assert.True(t, ev.Start.Equal(f.base.Add(time.Hour)))
}

func TestPushAppointment_RecreatesDeletedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	first := *f.get(t, a.ID).ExternalEventID

	require.NoError(t, f.fake.DeleteEvent(ctx, "", first))
	_, err := f.db.Appointment.Reschedule(ctx, a.ID, f.base.Add(time.Hour), f.base.Add(2*time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	got := f.get(t, a.ID)
	require.True(t, got.HasExternalEvent())
	assert.NotEqual(t, first, *got.ExternalEventID)
	assert.True(t, got.ExternalSynced)
	assert.Len(t, f.fake.Events(), 1)
}

func TestPushAppointment_CancelDeletesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))

	_, err := f.db.Appointment.Transition(ctx, a.ID, repo.ActiveStatuses, repo.StatusPatch{
		Status: repo.StatusCancelled, At: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))

	got := f.get(t, a.ID)
	assert.False(t, got.HasExternalEvent())
	assert.True(t, got.ExternalSynced)
	assert.Empty(t, f.fake.Events())
}

func TestPushAppointment_FailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)

	f.fake.FailNext(gcaltest.OpInsert, gcaltest.ServerError())
	err := f.eng.PushAppointment(ctx, a.ID)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "insert", pe.Op)
	assert.True(t, pe.Retryable())

	got := f.get(t, a.ID)
	assert.False(t, got.ExternalSynced)
	assert.Equal(t, 1, got.SyncAttempts)

	s := f.syncState(t)
	require.Len(t, s.SyncErrors, 1)
	assert.Equal(t, OpPush, s.SyncErrors[0].Operation)
	require.NotNil(t, s.SyncErrors[0].AppointmentID)
	assert.Equal(t, a.ID, *s.SyncErrors[0].AppointmentID)

	// The next attempt succeeds.
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	assert.True(t, f.get(t, a.ID).ExternalSynced)
}

func TestPushAppointment_ErrorLogIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)

	for i := 0; i < 8; i++ {
		f.fake.FailNext(gcaltest.OpInsert, gcaltest.ServerError())
		assert.Error(t, f.eng.PushAppointment(ctx, a.ID))
	}
	assert.Len(t, f.syncState(t).SyncErrors, 5)
}

func TestPushAppointment_NoProviderCallsWithoutSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Not connected at all.
	other := uuid.New()
	a := f.appointment(t, other, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))

	// Connected but disabled.
	off := false
	_, err := f.db.CalendarSync.UpdateSettings(ctx, f.pid, repo.SettingsPatch{SyncEnabled: &off})
	require.NoError(t, err)
	b := f.appointment(t, f.pid, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, b.ID))

	// Pull-only direction.
	pullOnly := uuid.New()
	f.connect(t, pullOnly, repo.DirectionFromExternal)
	c := f.appointment(t, pullOnly, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, c.ID))

	assert.Zero(t, f.fake.TotalCalls())
	assert.False(t, f.get(t, b.ID).ExternalSynced)
}

// ---------------------------------------------------------------------------
// Pull
// ---------------------------------------------------------------------------

func TestPull_ImportsForeignEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.Put(gcal.Event{ID: "ext-1", Summary: "Dentist", Start: f.base, End: f.base.Add(time.Hour)})
	f.fake.Put(gcal.Event{ID: "ext-2", Summary: "Lunch", Start: f.base, End: f.base.Add(time.Hour), Transparent: true})
	f.fake.Put(gcal.Event{ID: "ext-3", Summary: "Secret", Start: f.base.Add(3 * time.Hour), End: f.base.Add(4 * time.Hour), Private: true})

	res, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Created: 2}, res)

	b, err := f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, repo.SourceExternal, b.Source)
	assert.Equal(t, repo.ReasonExternal, b.Reason)
	assert.Equal(t, "Dentist", b.Notes)

	private, err := f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-3")
	require.NoError(t, err)
	assert.Empty(t, private.Notes)

	// Unchanged input: nothing new.
	res, err = f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{}, res)
}

func TestPull_UpdatesAndRemovesImports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.Put(gcal.Event{ID: "ext-1", Start: f.base, End: f.base.Add(time.Hour)})
	f.fake.Put(gcal.Event{ID: "ext-2", Start: f.base.Add(2 * time.Hour), End: f.base.Add(3 * time.Hour)})
	f.fake.Put(gcal.Event{ID: "ext-3", Start: f.base.Add(4 * time.Hour), End: f.base.Add(5 * time.Hour)})
	_, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)

	f.fake.Put(gcal.Event{ID: "ext-1", Start: f.base.Add(30 * time.Minute), End: f.base.Add(90 * time.Minute)})
	f.fake.Put(gcal.Event{ID: "ext-2", Start: f.base.Add(2 * time.Hour), End: f.base.Add(3 * time.Hour), Status: gcal.StatusCancelled})
	require.NoError(t, f.fake.DeleteEvent(ctx, "", "ext-3"))

	res, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Updated: 1, Deleted: 2}, res)

	b, err := f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-1")
	require.NoError(t, err)
	assert.True(t, b.StartTime.Equal(f.base.Add(30*time.Minute)))
	_, err = f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-2")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-3")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPull_OwnEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))
	eventID := *f.get(t, a.ID).ExternalEventID

	// Our own event is never imported as blocked time.
	res, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{}, res)
	imported, err := f.db.BlockedTime.ListImported(ctx, f.pid, f.base.Add(-time.Hour), f.base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, imported)

	// Moving it in the external calendar moves the appointment.
	ev, _ := f.fake.Event(eventID)
	ev.Start, ev.End = f.base.Add(2*time.Hour), f.base.Add(3*time.Hour)
	f.fake.Put(ev)

	res, err = f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Updated: 1}, res)
	got := f.get(t, a.ID)
	assert.True(t, got.StartTime.Equal(f.base.Add(2*time.Hour)))
	assert.True(t, got.ExternalSynced)
	assert.Equal(t, eventID, *got.ExternalEventID)
}

func TestPull_MatchesStoredEventIDWithoutProperty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)
	eventID := "evt-known"
	require.NoError(t, f.db.Appointment.MarkSynced(ctx, a.ID, &eventID))

	// Linked by id only, e.g. another client stripped the private property.
	f.fake.Put(gcal.Event{ID: eventID, Summary: "Busy", Start: f.base.Add(time.Hour), End: f.base.Add(2 * time.Hour)})

	res, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Updated: 1}, res)
	assert.True(t, f.get(t, a.ID).StartTime.Equal(f.base.Add(time.Hour)))

	imported, err := f.db.BlockedTime.ListImported(ctx, f.pid, f.base.Add(-24*time.Hour), f.base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, imported)
}

func TestPull_IgnoresTaggedEventWithoutAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.Put(gcal.Event{ID: "orphan", AppointmentID: uuid.NewString(), Start: f.base, End: f.base.Add(time.Hour)})

	res, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, PullResult{}, res)
	_, err = f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "orphan")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPull_LocalChangeWinsUntilPushed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)
	require.NoError(t, f.eng.PushAppointment(ctx, a.ID))

	_, err := f.db.Appointment.Reschedule(ctx, a.ID, f.base.Add(5*time.Hour), f.base.Add(6*time.Hour))
	require.NoError(t, err)

	res, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
	assert.True(t, f.get(t, a.ID).StartTime.Equal(f.base.Add(5*time.Hour)))
}

func TestPull_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.FailNext(gcaltest.OpList, gcaltest.ServerError())

	_, err := f.eng.Pull(context.Background(), f.pid)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Len(t, f.syncState(t).SyncErrors, 1)
	assert.Equal(t, OpPull, f.syncState(t).SyncErrors[0].Operation)
}

// ---------------------------------------------------------------------------
// Full sync
// ---------------------------------------------------------------------------

func TestSyncPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.appointment(t, f.pid, f.base)
	f.fake.Put(gcal.Event{ID: "ext-1", Start: f.base.Add(3 * time.Hour), End: f.base.Add(4 * time.Hour)})
	require.NoError(t, f.db.CalendarSync.AppendError(ctx, f.pid, repo.SyncError{
		ID: uuid.New(), OccurredAt: time.Now(), Operation: OpPush, Message: "old",
	}, 5))

	res, err := f.eng.SyncPractitioner(ctx, f.pid, "")
	require.NoError(t, err)
	assert.Equal(t, repo.DirectionTwoWay, res.Direction)
	assert.Equal(t, PushResult{Pushed: 1}, res.Push)
	assert.Equal(t, 1, res.Pull.Created)
	assert.True(t, f.get(t, a.ID).ExternalSynced)

	s := f.syncState(t)
	require.NotNil(t, s.LastSyncedAt)
	assert.Zero(t, s.UnresolvedErrors())

	// Second run is a no-op.
	res, err = f.eng.SyncPractitioner(ctx, f.pid, "")
	require.NoError(t, err)
	assert.Equal(t, PushResult{}, res.Push)
	assert.Equal(t, PullResult{}, res.Pull)
	assert.Equal(t, 1, f.fake.Calls(gcaltest.OpInsert))
}

func TestSyncPractitioner_Direction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.appointment(t, f.pid, f.base)

	res, err := f.eng.SyncPractitioner(ctx, f.pid, repo.DirectionToExternal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Push.Pushed)
	assert.Zero(t, f.fake.Calls(gcaltest.OpList))

	_, err = f.eng.SyncPractitioner(ctx, f.pid, "sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)

	// Stored settings cap the request.
	pullOnly := uuid.New()
	f.connect(t, pullOnly, repo.DirectionFromExternal)
	f.appointment(t, pullOnly, f.base)
	res, err = f.eng.SyncPractitioner(ctx, pullOnly, repo.DirectionTwoWay)
	require.NoError(t, err)
	assert.Zero(t, res.Push.Pushed)
	assert.Equal(t, 1, f.fake.Calls(gcaltest.OpInsert))
}

func TestSyncPractitioner_NotConnected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.SyncPractitioner(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, vault.ErrNotConnected)

	off := false
	_, err = f.db.CalendarSync.UpdateSettings(context.Background(), f.pid, repo.SettingsPatch{SyncEnabled: &off})
	require.NoError(t, err)
	_, err = f.eng.SyncPractitioner(context.Background(), f.pid, "")
	assert.ErrorIs(t, err, ErrSyncDisabled)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.RenewWebhook(ctx, f.pid))
	s := f.syncState(t)
	require.True(t, s.Webhook.Active())
	assert.NotEqual(t, "channel-secret", s.Webhook.Token, "token is stored hashed")
	require.NotNil(t, s.Webhook.Expiration)
	_, ok := f.fake.Channel(s.Webhook.ChannelID)
	assert.True(t, ok)

	n := Notification{
		ChannelID:     s.Webhook.ChannelID,
		ResourceID:    s.Webhook.ResourceID,
		ResourceState: "sync",
		Token:         "channel-secret",
	}

	// Handshake: acknowledged without a pull.
	require.NoError(t, f.eng.HandleWebhook(ctx, n))
	assert.Zero(t, f.fake.Calls(gcaltest.OpList))

	n.ResourceState = "exists"
	f.fake.Put(gcal.Event{ID: "ext-1", Start: f.base, End: f.base.Add(time.Hour)})
	require.NoError(t, f.eng.HandleWebhook(ctx, n))
	assert.Equal(t, 1, f.fake.Calls(gcaltest.OpList))
	_, err := f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-1")
	assert.NoError(t, err)

	// Duplicate delivery is harmless.
	require.NoError(t, f.eng.HandleWebhook(ctx, n))

	bad := n
	bad.Token = "guess"
	assert.ErrorIs(t, f.eng.HandleWebhook(ctx, bad), ErrInvalidToken)

	unknown := n
	unknown.ChannelID = "nope"
	assert.ErrorIs(t, f.eng.HandleWebhook(ctx, unknown), ErrUnknownChannel)
}

func TestRenewWebhook_ReplacesChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.RenewWebhook(ctx, f.pid))
	old := f.syncState(t).Webhook

	require.NoError(t, f.eng.RenewWebhook(ctx, f.pid))
	cur := f.syncState(t).Webhook
	assert.NotEqual(t, old.ChannelID, cur.ChannelID)
	_, ok := f.fake.Channel(old.ChannelID)
	assert.False(t, ok, "previous channel is stopped")

	// A failed renewal keeps sync enabled and the current channel.
	f.fake.FailNext(gcaltest.OpWatch, gcaltest.ServerError())
	assert.Error(t, f.eng.RenewWebhook(ctx, f.pid))
	s := f.syncState(t)
	assert.True(t, s.SyncEnabled)
	assert.Equal(t, cur.ChannelID, s.Webhook.ChannelID)
	assert.Equal(t, OpRenew, s.SyncErrors[len(s.SyncErrors)-1].Operation)
}

func TestRenewWebhook_NoAddress(t *testing.T) {
	f := newFixture(t)
	f.eng.webhookAddress = ""
	assert.ErrorIs(t, f.eng.RenewWebhook(context.Background(), f.pid), ErrWebhookDisabled)
	assert.Zero(t, f.fake.TotalCalls())
}

// ---------------------------------------------------------------------------
// Busy intervals, settings, disconnect
// ---------------------------------------------------------------------------

func TestBusyIntervals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from, to := f.base, f.base.Add(24*time.Hour)
	f.fake.SetBusy(gcal.Period{Start: f.base.Add(time.Hour), End: f.base.Add(2 * time.Hour)})

	busy, err := f.eng.BusyIntervals(ctx, f.pid, from, to)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.True(t, busy[0].Start.Equal(f.base.Add(time.Hour)))

	_, err = f.eng.BusyIntervals(ctx, f.pid, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, f.fake.Calls(gcaltest.OpFreeBusy), "second read is cached")

	// A pull invalidates the cache.
	_, err = f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)
	_, err = f.eng.BusyIntervals(ctx, f.pid, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, f.fake.Calls(gcaltest.OpFreeBusy))

	busy, err = f.eng.BusyIntervals(ctx, uuid.New(), from, to)
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestBusyIntervals_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.FailNext(gcaltest.OpFreeBusy, gcaltest.ServerError())
	_, err := f.eng.BusyIntervals(context.Background(), f.pid, f.base, f.base.Add(time.Hour))
	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, OpFreeBusy, f.syncState(t).SyncErrors[0].Operation)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	detailed := repo.PrivacyDetailed
	s, err := f.eng.UpdateSettings(ctx, f.pid, repo.SettingsPatch{PrivacyLevel: &detailed})
	require.NoError(t, err)
	assert.Equal(t, repo.PrivacyDetailed, s.PrivacyLevel)

	bogus := repo.PrivacyLevel("everything")
	_, err = f.eng.UpdateSettings(ctx, f.pid, repo.SettingsPatch{PrivacyLevel: &bogus})
	assert.ErrorIs(t, err, repo.ErrInvalidSetting)

	require.NoError(t, f.db.CalendarSync.DisableSync(ctx, f.pid, true))
	on := true
	_, err = f.eng.UpdateSettings(ctx, f.pid, repo.SettingsPatch{SyncEnabled: &on})
	assert.ErrorIs(t, err, vault.ErrReconnectRequired)

	_, err = f.eng.UpdateSettings(ctx, uuid.New(), repo.SettingsPatch{SyncEnabled: &on})
	assert.ErrorIs(t, err, vault.ErrNotConnected)
}

func TestStatusAndClearErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.eng.Status(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, st.Connected)

	f.fake.FailNext(gcaltest.OpList, gcaltest.ServerError())
	_, _ = f.eng.Pull(ctx, f.pid)

	st, err = f.eng.Status(ctx, f.pid)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.True(t, st.SyncEnabled)
	assert.Equal(t, 1, st.UnresolvedErrors)

	require.NoError(t, f.eng.ClearErrors(ctx, f.pid))
	st, err = f.eng.Status(ctx, f.pid)
	require.NoError(t, err)
	assert.Empty(t, st.Errors)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.RenewWebhook(ctx, f.pid))
	channel := f.syncState(t).Webhook.ChannelID
	f.fake.Put(gcal.Event{ID: "ext-1", Start: f.base, End: f.base.Add(time.Hour)})
	_, err := f.eng.Pull(ctx, f.pid)
	require.NoError(t, err)

	require.NoError(t, f.eng.Disconnect(ctx, f.pid))
	_, ok := f.fake.Channel(channel)
	assert.False(t, ok)
	_, err = f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, "ext-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = f.db.CalendarSync.Get(ctx, f.pid)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.ErrorIs(t, f.eng.Disconnect(ctx, f.pid), vault.ErrNotConnected)
}

func TestDisconnect_RemovesImportsOutsidePullWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()

	for i, start := range []time.Time{
		f.base.AddDate(0, 0, -200),
		f.base.AddDate(1, 0, 0),
	} {
		eventID := fmt.Sprintf("old-%d", i)
		_, err := f.db.BlockedTime.Create(ctx, &repo.BlockedTime{
			ID:              uuid.New(),
			PractitionerID:  f.pid,
			StartTime:       start,
			EndTime:         start.Add(time.Hour),
			Reason:          repo.ReasonExternal,
			Source:          repo.SourceExternal,
			ExternalEventID: &eventID,
		})
		require.NoError(t, err)
	}
	manual, err := f.db.BlockedTime.Create(ctx, &repo.BlockedTime{
		ID:             uuid.New(),
		PractitionerID: f.pid,
		StartTime:      f.base,
		EndTime:        f.base.Add(time.Hour),
		Reason:         repo.ReasonTraining,
		Source:         repo.SourceManual,
	})
	require.NoError(t, err)
	otherEvent := "other-1"
	_, err = f.db.BlockedTime.Create(ctx, &repo.BlockedTime{
		ID:              uuid.New(),
		PractitionerID:  other,
		StartTime:       f.base,
		EndTime:         f.base.Add(time.Hour),
		Reason:          repo.ReasonExternal,
		Source:          repo.SourceExternal,
		ExternalEventID: &otherEvent,
	})
	require.NoError(t, err)

	require.NoError(t, f.eng.Disconnect(ctx, f.pid))

	for _, id := range []string{"old-0", "old-1"} {
		_, err := f.db.BlockedTime.GetByExternalEventID(ctx, f.pid, id)
		assert.ErrorIs(t, err, repo.ErrNotFound, id)
	}
	_, err = f.db.BlockedTime.Get(ctx, f.pid, manual.ID)
	assert.NoError(t, err)
	_, err = f.db.BlockedTime.GetByExternalEventID(ctx, other, otherEvent)
	assert.NoError(t, err)
}

func TestDisconnect_StopFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.RenewWebhook(ctx, f.pid))
	f.fake.FailNext(gcaltest.OpStop, errors.New("network down"))
	assert.NoError(t, f.eng.Disconnect(ctx, f.pid))
}
