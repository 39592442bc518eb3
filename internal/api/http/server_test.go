package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/api/http/handler"
	"github.com/Alijeyrad/simorq_calendar/internal/api/http/router"
	"github.com/Alijeyrad/simorq_calendar/internal/events"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/availability"
	"github.com/Alijeyrad/simorq_calendar/internal/service/blockedtime"
	"github.com/Alijeyrad/simorq_calendar/internal/service/booking"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
	"github.com/Alijeyrad/simorq_calendar/internal/service/vault"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal/gcaltest"
	pasetotoken "github.com/Alijeyrad/simorq_calendar/pkg/paseto"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
)

// fakeCredentials hands out the fake provider for connected practitioners.
type fakeCredentials struct {
	db  *repo.Client
	api gcal.API
}

func (c *fakeCredentials) Client(ctx context.Context, pid uuid.UUID) (gcal.API, *repo.CalendarSync, error) {
	s, err := c.db.CalendarSync.Get(ctx, pid)
	if err != nil {
		return nil, nil, vault.ErrNotConnected
	}
	return c.api, s, nil
}

type testServer struct {
	app   *fiber.App
	db    *repo.Client
	fake  *gcaltest.Fake
	token string
	pid   uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Environment: "test", RateLimit: config.RateLimitConfig{RequestsPerMinute: 1000}},
		Booking: config.BookingConfig{
			CancellationWindowHours: 24,
			DefaultRegion:           "IR",
		},
		CalendarSync: config.CalendarSyncConfig{
			PullWindowBackDays:       30,
			PullWindowForwardDays:    90,
			ErrorLogCap:              10,
			RetryMaxAttempts:         3,
			ManualSyncTimeoutSeconds: 5,
		},
	}

	db := repo.NewMemoryClient()
	fake := gcaltest.New()
	locker := redispkg.NewLocalLocker()
	checker := conflict.New(db)

	engine := calendarsync.New(calendarsync.Deps{
		DB:          db,
		Credentials: &fakeCredentials{db: db, api: fake},
		Locker:      locker,
	}, cfg.CalendarSync, cfg.Google)
	avail := availability.New(db, engine, cfg.Booking)

	v := vault.New(vault.Deps{
		DB: db,
		OAuth: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "secret",
			RedirectURL:  "https://api.example.com/api/v1/calendar/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: "https://auth.example.com/o/oauth2/auth", TokenURL: "https://auth.example.com/token"},
		},
		States: vault.NewMemoryStateStore(),
		Key:    []byte(strings.Repeat("k", 32)),
	}, cfg.CalendarSync)

	mgr, err := pasetotoken.New(pasetotoken.Config{
		Mode:     pasetotoken.ModeLocal,
		Issuer:   "simorq-auth",
		Audience: "simorq-calendar",
	}, pasetotoken.NewLocalKeys())
	require.NoError(t, err)

	r := router.NewRouter(router.Params{
		Cfg:             cfg,
		AvailabilitySvc: avail,
		BlockedTimeSvc:  blockedtime.New(db, checker, locker),
		BookingSvc: booking.New(booking.Deps{
			DB:        db,
			Checker:   checker,
			Windows:   avail,
			Locker:    locker,
			Publisher: events.NewLocalBus(),
		}, cfg.Booking, cfg.Codes),
		Vault:      v,
		SyncEngine: engine,
		PasetoMgr:  mgr,
	})

	pid := uuid.New()
	token, err := mgr.IssueAccess(pid, nil, pasetotoken.RolePractitioner)
	require.NoError(t, err)

	return &testServer{app: NewApp(cfg, r, false), db: db, fake: fake, token: token, pid: pid}
}

type envelope struct {
	Data      json.RawMessage   `json:"data"`
	Error     string            `json:"error"`
	Conflicts []json.RawMessage `json:"conflicts"`
}

func (s *testServer) do(t *testing.T, method, path, body string, auth bool, headers ...string) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

// nextMonday returns 10:00 UTC on a Monday at least three days out, inside
// the default template and notice period.
func nextMonday() time.Time {
	d := time.Now().UTC().AddDate(0, 0, 3)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 10, 0, 0, 0, time.UTC)
}

func (s *testServer) book(t *testing.T, start time.Time) (int, envelope) {
	body := fmt.Sprintf(`{
		"practitioner_id": %q,
		"service_type": "consultation",
		"start_time": %q,
		"duration": 60,
		"client_name": "Sara",
		"client_email": "Sara@Example.com",
		"client_phone": "0912 345 6789"
	}`, s.pid, start.Format(time.RFC3339))
	return s.do(t, nethttp.MethodPost, "/api/v1/bookings", body, false)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(nethttp.MethodGet, "/livez", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSlots(t *testing.T) {
	s := newTestServer(t)
	day := nextMonday().Format(time.DateOnly)

	status, env := s.do(t, nethttp.MethodGet, "/api/v1/availability/slots?practitioner_id="+s.pid.String()+"&date="+day+"&duration=60", "", false)
	require.Equal(t, fiber.StatusOK, status, env.Error)

	var slots []availability.Slot
	require.NoError(t, json.Unmarshal(env.Data, &slots))
	require.NotEmpty(t, slots)
	assert.Equal(t, 9, slots[0].StartTime.UTC().Hour())

	status, _ = s.do(t, nethttp.MethodGet, "/api/v1/availability/slots?date="+day, "", false)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSlots_ExternalCalendarDown(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.CalendarSync.Upsert(context.Background(), &repo.CalendarSync{
		PractitionerID:        s.pid,
		EncryptedAccessToken:  "a",
		EncryptedRefreshToken: "r",
		ExternalCalendarID:    "primary",
		SyncEnabled:           true,
		SyncDirection:         repo.DirectionTwoWay,
		PrivacyLevel:          repo.PrivacyBusyOnly,
	}))
	s.fake.FailNext(gcaltest.OpFreeBusy, gcaltest.ServerError())

	day := nextMonday().Format(time.DateOnly)
	status, env := s.do(t, nethttp.MethodGet, "/api/v1/availability/slots?practitioner_id="+s.pid.String()+"&date="+day+"&duration=60", "", false)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.NotEmpty(t, env.Error)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	start := nextMonday()

	status, env := s.book(t, start)
	require.Equal(t, fiber.StatusCreated, status, env.Error)
	var created struct {
		AppointmentID    uuid.UUID `json:"appointment_id"`
		ConfirmationCode string    `json:"confirmation_code"`
		Status           string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEqual(t, uuid.Nil, created.AppointmentID)
	assert.Len(t, created.ConfirmationCode, 8)
	assert.Equal(t, "pending", created.Status)

	// Same slot again is a conflict that names the existing booking.
	status, env = s.book(t, start)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Len(t, env.Conflicts, 1)

	path := "/api/v1/bookings/" + created.ConfirmationCode
	status, _ = s.do(t, nethttp.MethodGet, path+"?email=someone@example.com", "", false)
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = s.do(t, nethttp.MethodGet, path+"?email=sara@example.com", "", false)
	assert.Equal(t, fiber.StatusOK, status)

	status, env = s.do(t, nethttp.MethodPost, path+"/cancel", `{"email":"sara@example.com","reason":"travel"}`, false)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"status":"cancelled"`)

	// The slot is free again.
	status, _ = s.book(t, start)
	assert.Equal(t, fiber.StatusCreated, status)
}

func TestBooking_Validation(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodPost, "/api/v1/bookings", `{"practitioner_id":"nope"}`, false)
	assert.Equal(t, fiber.StatusBadRequest, status)

	body := fmt.Sprintf(`{"practitioner_id":%q,"service_type":"x","start_time":%q,"duration":60,"client_name":"A","client_email":"not-an-email"}`,
		s.pid, nextMonday().Format(time.RFC3339))
	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/bookings", body, false)
	assert.Equal(t, fiber.StatusBadRequest, status)

	// Sunday is outside the default template.
	sunday := nextMonday().AddDate(0, 0, -1)
	status, _ = s.book(t, sunday)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
}

func TestAppointments_RequireAuth(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, nethttp.MethodGet, "/api/v1/appointments", "", false)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	req := httptest.NewRequest(nethttp.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAppointments_PractitionerLifecycle(t *testing.T) {
	s := newTestServer(t)
	status, env := s.book(t, nextMonday())
	require.Equal(t, fiber.StatusCreated, status, env.Error)
	var created struct {
		AppointmentID uuid.UUID `json:"appointment_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	status, env = s.do(t, nethttp.MethodGet, "/api/v1/appointments?status=pending", "", true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	var list []repo.Appointment
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "+989123456789", list[0].ClientPhone)
	assert.Equal(t, "sara@example.com", list[0].ClientEmail)

	id := created.AppointmentID.String()
	status, env = s.do(t, nethttp.MethodPatch, "/api/v1/appointments/"+id+"/confirm", "", true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"status":"confirmed"`)

	// confirmed -> confirmed is not a valid transition
	status, _ = s.do(t, nethttp.MethodPatch, "/api/v1/appointments/"+id+"/confirm", "", true)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = s.do(t, nethttp.MethodPatch, "/api/v1/appointments/"+id+"/no-show", "", true)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, nethttp.MethodPatch, "/api/v1/appointments/not-a-uuid/confirm", "", true)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAvailability_Update(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, nethttp.MethodGet, "/api/v1/availability", "", true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	var tpl repo.WeeklyAvailability
	require.NoError(t, json.Unmarshal(env.Data, &tpl))
	assert.Len(t, tpl.Days, 7)

	tpl.Timezone = "Mars/Olympus"
	raw, err := json.Marshal(tpl)
	require.NoError(t, err)
	status, _ = s.do(t, nethttp.MethodPut, "/api/v1/availability", string(raw), true)
	assert.Equal(t, fiber.StatusBadRequest, status)

	tpl.Timezone = "UTC"
	tpl.BufferTime = 15
	raw, err = json.Marshal(tpl)
	require.NoError(t, err)
	status, env = s.do(t, nethttp.MethodPut, "/api/v1/availability", string(raw), true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"buffer_time":15`)
}

func TestBlockedTimes(t *testing.T) {
	s := newTestServer(t)
	start := nextMonday()
	body := func(from, to time.Time) string {
		return fmt.Sprintf(`{"start_time":%q,"end_time":%q,"reason":"training"}`, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	status, env := s.do(t, nethttp.MethodPost, "/api/v1/blocked-times", body(start, start.Add(2*time.Hour)), true)
	require.Equal(t, fiber.StatusCreated, status, env.Error)
	var b repo.BlockedTime
	require.NoError(t, json.Unmarshal(env.Data, &b))

	status, env = s.do(t, nethttp.MethodPost, "/api/v1/blocked-times", body(start.Add(time.Hour), start.Add(3*time.Hour)), true)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Len(t, env.Conflicts, 1)

	// Booking inside the block is refused.
	status, _ = s.book(t, start)
	assert.Equal(t, fiber.StatusConflict, status)

	q := "?from=" + start.AddDate(0, 0, -1).Format(time.DateOnly) + "&to=" + start.AddDate(0, 0, 1).Format(time.DateOnly)
	status, env = s.do(t, nethttp.MethodGet, "/api/v1/blocked-times"+q, "", true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	var items []repo.BlockedTime
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 1)

	status, _ = s.do(t, nethttp.MethodDelete, "/api/v1/blocked-times/"+b.ID.String(), "", true)
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _ = s.do(t, nethttp.MethodDelete, "/api/v1/blocked-times/"+b.ID.String(), "", true)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestCalendar_Authorize(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, nethttp.MethodGet, "/api/v1/calendar/authorize", "", true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	var out struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, strings.HasPrefix(out.URL, "https://auth.example.com/o/oauth2/auth?"))
	assert.Contains(t, out.URL, "access_type=offline")
}

func TestCalendar_CallbackErrors(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodGet, "/api/v1/calendar/callback?error=access_denied", "", false)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	status, _ = s.do(t, nethttp.MethodGet, "/api/v1/calendar/callback?state=unknown&code=abc", "", false)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCalendar_StatusAndManualSync(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, nethttp.MethodGet, "/api/v1/calendar/sync-status", "", true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"connected":false`)

	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/calendar/sync", `{"direction":"two-way"}`, true)
	assert.Equal(t, fiber.StatusNotFound, status)

	require.NoError(t, s.db.CalendarSync.Upsert(context.Background(), &repo.CalendarSync{
		PractitionerID:        s.pid,
		EncryptedAccessToken:  "a",
		EncryptedRefreshToken: "r",
		ExternalCalendarID:    "primary",
		SyncEnabled:           true,
		SyncDirection:         repo.DirectionTwoWay,
		PrivacyLevel:          repo.PrivacyBusyOnly,
	}))
	start := nextMonday().Add(2 * time.Hour)
	s.fake.Put(gcal.Event{ID: "ext-1", Summary: "Dentist", Start: start, End: start.Add(time.Hour)})

	status, env = s.do(t, nethttp.MethodPost, "/api/v1/calendar/sync", `{"direction":"from-external"}`, true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	var out struct {
		Result  calendarsync.Result `json:"result"`
		Partial bool                `json:"partial"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.False(t, out.Partial)
	assert.Equal(t, 1, out.Result.Pull.Created)

	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/calendar/sync", `{"direction":"sideways"}`, true)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, env = s.do(t, nethttp.MethodPut, "/api/v1/calendar/settings", `{"privacy_level":"detailed"}`, true)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"privacy_level":"detailed"`)

	status, _ = s.do(t, nethttp.MethodPut, "/api/v1/calendar/settings", `{"privacy_level":"everything"}`, true)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = s.do(t, nethttp.MethodDelete, "/api/v1/calendar/sync-errors", "", true)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = s.do(t, nethttp.MethodDelete, "/api/v1/calendar", "", true)
	assert.Equal(t, fiber.StatusNoContent, status)
	status, env = s.do(t, nethttp.MethodGet, "/api/v1/calendar/sync-status", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(env.Data), `"connected":false`)
}

func TestCalendar_WebhookAlwaysAcknowledges(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodPost, "/api/v1/calendar/webhook", "", false,
		handler.HeaderChannelID, "unknown-channel",
		handler.HeaderResourceState, "exists",
		handler.HeaderChannelToken, "whatever",
	)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/calendar/webhook", "", false)
	assert.Equal(t, fiber.StatusOK, status)
}
