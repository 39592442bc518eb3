package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewMemoryClient returns a Client backed by process memory. It enforces the
// same constraints as the Postgres schema (active-appointment exclusion,
// unique external event ids and confirmation codes) and is used by tests and
// by `http start --store memory` for local development.
func NewMemoryClient() *Client {
	m := &memoryDB{
		availability: map[uuid.UUID]WeeklyAvailability{},
		blocked:      map[uuid.UUID]BlockedTime{},
		appointments: map[uuid.UUID]Appointment{},
		syncs:        map[uuid.UUID]CalendarSync{},
		now:          time.Now,
	}
	return &Client{
		Availability: memAvailability{m},
		BlockedTime:  memBlockedTime{m},
		Appointment:  memAppointments{m},
		CalendarSync: memCalendarSync{m},
	}
}

type memoryDB struct {
	mu           sync.Mutex
	availability map[uuid.UUID]WeeklyAvailability
	blocked      map[uuid.UUID]BlockedTime
	appointments map[uuid.UUID]Appointment
	syncs        map[uuid.UUID]CalendarSync
	now          func() time.Time
}

// ---------------------------------------------------------------------------
// Availability
// ---------------------------------------------------------------------------

type memAvailability struct{ db *memoryDB }

func (s memAvailability) Get(_ context.Context, practitionerID uuid.UUID) (*WeeklyAvailability, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.availability[practitionerID]
	if !ok {
		return nil, ErrNotFound
	}
	a.Days = cloneDays(a.Days)
	return &a, nil
}

func (s memAvailability) Upsert(_ context.Context, a *WeeklyAvailability) (*WeeklyAvailability, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored := *a
	stored.Days = cloneDays(a.Days)
	stored.UpdatedAt = s.db.now().UTC()
	s.db.availability[a.PractitionerID] = stored
	out := stored
	out.Days = cloneDays(stored.Days)
	return &out, nil
}

func cloneDays(in []DaySchedule) []DaySchedule {
	out := make([]DaySchedule, len(in))
	for i, d := range in {
		out[i] = d
		out[i].TimeSlots = append([]TimeRange{}, d.TimeSlots...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Blocked time
// ---------------------------------------------------------------------------

type memBlockedTime struct{ db *memoryDB }

func (s memBlockedTime) Create(_ context.Context, b *BlockedTime) (*BlockedTime, error) {
	if !b.StartTime.Before(b.EndTime) {
		return nil, ErrInvalidInterval
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if b.ExternalEventID != nil {
		for _, o := range s.db.blocked {
			if o.PractitionerID == b.PractitionerID && o.ExternalEventID != nil && *o.ExternalEventID == *b.ExternalEventID {
				return nil, ErrDuplicate
			}
		}
	}
	stored := *b
	now := s.db.now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.db.blocked[b.ID] = stored
	out := stored
	return &out, nil
}

func (s memBlockedTime) Get(_ context.Context, practitionerID, id uuid.UUID) (*BlockedTime, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b, ok := s.db.blocked[id]
	if !ok || b.PractitionerID != practitionerID {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s memBlockedTime) ListRange(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*BlockedTime, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*BlockedTime
	for _, b := range s.db.blocked {
		if b.PractitionerID != practitionerID || !b.StartTime.Before(to) {
			continue
		}
		if b.EndTime.After(from) || (b.IsRecurring && !b.SeriesEnded(from.Add(-b.EndTime.Sub(b.StartTime)))) {
			b := b
			out = append(out, &b)
		}
	}
	sortBlocked(out)
	return out, nil
}

func (s memBlockedTime) GetByExternalEventID(_ context.Context, practitionerID uuid.UUID, eventID string) (*BlockedTime, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, b := range s.db.blocked {
		if b.PractitionerID == practitionerID && b.ExternalEventID != nil && *b.ExternalEventID == eventID {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (s memBlockedTime) ListImported(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*BlockedTime, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*BlockedTime
	for _, b := range s.db.blocked {
		if b.PractitionerID == practitionerID && b.Imported() && b.StartTime.Before(to) && b.EndTime.After(from) {
			b := b
			out = append(out, &b)
		}
	}
	sortBlocked(out)
	return out, nil
}

func (s memBlockedTime) UpdateTimes(_ context.Context, id uuid.UUID, start, end time.Time, notes string) error {
	if !start.Before(end) {
		return ErrInvalidInterval
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b, ok := s.db.blocked[id]
	if !ok {
		return ErrNotFound
	}
	b.StartTime, b.EndTime, b.Notes = start.UTC(), end.UTC(), notes
	b.UpdatedAt = s.db.now().UTC()
	s.db.blocked[id] = b
	return nil
}

func (s memBlockedTime) Delete(_ context.Context, practitionerID, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b, ok := s.db.blocked[id]
	if !ok || b.PractitionerID != practitionerID {
		return ErrNotFound
	}
	delete(s.db.blocked, id)
	return nil
}

func (s memBlockedTime) DeleteExpiredSeries(_ context.Context, before time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, b := range s.db.blocked {
		if b.SeriesEnded(before) {
			delete(s.db.blocked, id)
			n++
		}
	}
	return n, nil
}

func (s memBlockedTime) DeleteImported(_ context.Context, practitionerID uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, b := range s.db.blocked {
		if b.PractitionerID == practitionerID && b.Imported() {
			delete(s.db.blocked, id)
			n++
		}
	}
	return n, nil
}

func sortBlocked(in []*BlockedTime) {
	sort.Slice(in, func(i, j int) bool { return in[i].StartTime.Before(in[j].StartTime) })
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

type memAppointments struct{ db *memoryDB }

// overlapsActive mirrors the appointments_no_overlap exclusion constraint.
// Callers hold the lock.
func (db *memoryDB) overlapsActive(a Appointment) bool {
	if !a.Status.Active() || a.DeletedAt != nil {
		return false
	}
	for _, o := range db.appointments {
		if o.ID == a.ID || o.PractitionerID != a.PractitionerID || !o.Status.Active() || o.DeletedAt != nil {
			continue
		}
		if o.Interval().Overlaps(a.Interval()) {
			return true
		}
	}
	return false
}

func (db *memoryDB) externalTaken(a Appointment) bool {
	if a.ExternalEventID == nil {
		return false
	}
	for _, o := range db.appointments {
		if o.ID != a.ID && o.DeletedAt == nil && o.ExternalEventID != nil && *o.ExternalEventID == *a.ExternalEventID {
			return true
		}
	}
	return false
}

func (s memAppointments) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	if !a.StartTime.Before(a.EndTime) {
		return nil, ErrInvalidInterval
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.appointments[a.ID]; ok {
		return nil, ErrDuplicate
	}
	for _, o := range s.db.appointments {
		if o.ConfirmationCode == a.ConfirmationCode {
			return nil, ErrDuplicate
		}
	}
	if s.db.externalTaken(*a) {
		return nil, ErrDuplicate
	}
	if s.db.overlapsActive(*a) {
		return nil, ErrOverlap
	}
	stored := *a
	now := s.db.now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.db.appointments[a.ID] = stored
	out := stored
	return &out, nil
}

func (s memAppointments) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.appointments[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s memAppointments) GetByConfirmationCode(_ context.Context, code string) (*Appointment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	code = strings.ToUpper(code)
	for _, a := range s.db.appointments {
		if a.ConfirmationCode == code && a.DeletedAt == nil {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s memAppointments) GetByExternalEventID(_ context.Context, practitionerID uuid.UUID, eventID string) (*Appointment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, a := range s.db.appointments {
		if a.PractitionerID == practitionerID && a.DeletedAt == nil && a.ExternalEventID != nil && *a.ExternalEventID == eventID {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s memAppointments) ListActiveRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	window := Interval{Start: from, End: to}
	return s.filter(func(a Appointment) bool {
		return a.PractitionerID == practitionerID && a.Status.Active() && a.Interval().Overlaps(window)
	}), nil
}

func (s memAppointments) List(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	all := s.filter(func(a Appointment) bool {
		if a.PractitionerID != f.PractitionerID {
			return false
		}
		if f.Status != nil && a.Status != *f.Status {
			return false
		}
		if f.From != nil && !a.EndTime.After(*f.From) {
			return false
		}
		if f.To != nil && !a.StartTime.Before(*f.To) {
			return false
		}
		return true
	})
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s memAppointments) filter(keep func(Appointment) bool) []*Appointment {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*Appointment
	for _, a := range s.db.appointments {
		if a.DeletedAt == nil && keep(a) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s memAppointments) Transition(_ context.Context, id uuid.UUID, from []AppointmentStatus, p StatusPatch) (*Appointment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.appointments[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if a.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStaleState
	}
	at := p.At
	a.Status = p.Status
	switch p.Status {
	case StatusConfirmed:
		a.ConfirmedAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
		a.CancellationReason = p.CancellationReason
		a.CancelledBy = p.CancelledBy
	}
	if p.ClearReminder {
		a.ReminderSentAt = nil
	}
	a.ExternalSynced = false
	a.SyncAttempts = 0
	a.UpdatedAt = s.db.now().UTC()
	s.db.appointments[id] = a
	return &a, nil
}

func (s memAppointments) Reschedule(_ context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	if !start.Before(end) {
		return nil, ErrInvalidInterval
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.appointments[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	if !a.Status.Active() {
		return nil, ErrStaleState
	}
	moved := a
	moved.StartTime, moved.EndTime = start.UTC(), end.UTC()
	moved.Duration = int(end.Sub(start) / time.Minute)
	if s.db.overlapsActive(moved) {
		return nil, ErrOverlap
	}
	moved.ReminderSentAt = nil
	moved.ExternalSynced = false
	moved.SyncAttempts = 0
	moved.UpdatedAt = s.db.now().UTC()
	s.db.appointments[id] = moved
	return &moved, nil
}

func (s memAppointments) MarkSynced(_ context.Context, id uuid.UUID, eventID *string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.ExternalEventID = eventID
	if s.db.externalTaken(a) {
		return ErrDuplicate
	}
	now := s.db.now().UTC()
	a.ExternalSynced = true
	a.LastSyncAttemptAt = &now
	a.UpdatedAt = now
	s.db.appointments[id] = a
	return nil
}

func (s memAppointments) MarkSyncFailed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.ExternalSynced = false
	a.SyncAttempts++
	a.LastSyncAttemptAt = &at
	s.db.appointments[id] = a
	return nil
}

func (s memAppointments) ListUnsynced(ctx context.Context, since time.Time, maxAttempts, limit int) ([]*Appointment, error) {
	out := s.filter(func(a Appointment) bool {
		return !a.ExternalSynced && !a.UpdatedAt.Before(since) && a.SyncAttempts < maxAttempts
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memAppointments) ListUnsyncedForPractitioner(ctx context.Context, practitionerID uuid.UUID, since time.Time, maxAttempts int) ([]*Appointment, error) {
	out := s.filter(func(a Appointment) bool {
		return a.PractitionerID == practitionerID && !a.ExternalSynced && !a.UpdatedAt.Before(since) && a.SyncAttempts < maxAttempts
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s memAppointments) ApplyExternalChange(_ context.Context, id uuid.UUID, start, end time.Time, notes string) error {
	if !start.Before(end) {
		return ErrInvalidInterval
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.appointments[id]
	if !ok || a.DeletedAt != nil {
		return ErrNotFound
	}
	moved := a
	moved.StartTime, moved.EndTime, moved.Notes = start.UTC(), end.UTC(), notes
	moved.Duration = int(end.Sub(start) / time.Minute)
	if s.db.overlapsActive(moved) {
		return ErrOverlap
	}
	moved.ExternalSynced = true
	moved.UpdatedAt = s.db.now().UTC()
	s.db.appointments[id] = moved
	return nil
}

// ---------------------------------------------------------------------------
// Calendar sync
// ---------------------------------------------------------------------------

type memCalendarSync struct{ db *memoryDB }

func (s memCalendarSync) copyOf(c CalendarSync) *CalendarSync {
	c.SyncErrors = append([]SyncError{}, c.SyncErrors...)
	return &c
}

func (s memCalendarSync) Get(_ context.Context, practitionerID uuid.UUID) (*CalendarSync, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.syncs[practitionerID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyOf(c), nil
}

func (s memCalendarSync) GetByChannel(_ context.Context, channelID string) (*CalendarSync, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if channelID == "" {
		return nil, ErrNotFound
	}
	for _, c := range s.db.syncs {
		if c.Webhook.ChannelID == channelID {
			return s.copyOf(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s memCalendarSync) Upsert(_ context.Context, c *CalendarSync) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := s.db.now().UTC()
	stored := *c
	if prev, ok := s.db.syncs[c.PractitionerID]; ok {
		stored.CreatedAt = prev.CreatedAt
		stored.SyncErrors = prev.SyncErrors
		stored.Webhook = prev.Webhook
		stored.LastSyncedAt = prev.LastSyncedAt
	} else {
		stored.CreatedAt = now
		stored.SyncErrors = []SyncError{}
		stored.Webhook = WebhookChannel{}
		stored.LastSyncedAt = nil
	}
	stored.UpdatedAt = now
	s.db.syncs[c.PractitionerID] = stored
	return nil
}

func (s memCalendarSync) Delete(_ context.Context, practitionerID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.syncs[practitionerID]; !ok {
		return ErrNotFound
	}
	delete(s.db.syncs, practitionerID)
	return nil
}

func (s memCalendarSync) list(keep func(CalendarSync) bool) []*CalendarSync {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []*CalendarSync
	for _, c := range s.db.syncs {
		if keep(c) {
			out = append(out, s.copyOf(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PractitionerID.String() < out[j].PractitionerID.String()
	})
	return out
}

func (s memCalendarSync) ListEnabled(context.Context) ([]*CalendarSync, error) {
	return s.list(func(c CalendarSync) bool { return c.SyncEnabled && !c.NeedsReauth }), nil
}

func (s memCalendarSync) ListWebhooksExpiringBefore(_ context.Context, t time.Time) ([]*CalendarSync, error) {
	return s.list(func(c CalendarSync) bool {
		if !c.SyncEnabled || c.NeedsReauth {
			return false
		}
		return !c.Webhook.Active() || c.Webhook.Expiration == nil || c.Webhook.Expiration.Before(t)
	}), nil
}

func (s memCalendarSync) update(practitionerID uuid.UUID, fn func(*CalendarSync) error) (*CalendarSync, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.syncs[practitionerID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.db.now().UTC()
	s.db.syncs[practitionerID] = c
	return s.copyOf(c), nil
}

func (s memCalendarSync) UpdateCredentials(_ context.Context, practitionerID uuid.UUID, access, refresh string, expiry time.Time) error {
	_, err := s.update(practitionerID, func(c *CalendarSync) error {
		c.EncryptedAccessToken, c.EncryptedRefreshToken, c.TokenExpiry = access, refresh, expiry
		c.NeedsReauth = false
		return nil
	})
	return err
}

func (s memCalendarSync) UpdateSettings(_ context.Context, practitionerID uuid.UUID, p SettingsPatch) (*CalendarSync, error) {
	return s.update(practitionerID, func(c *CalendarSync) error {
		next := *c
		if p.SyncEnabled != nil {
			next.SyncEnabled = *p.SyncEnabled
		}
		if p.SyncDirection != nil {
			next.SyncDirection = *p.SyncDirection
		}
		if p.PrivacyLevel != nil {
			next.PrivacyLevel = *p.PrivacyLevel
		}
		if err := next.Validate(); err != nil {
			return err
		}
		*c = next
		return nil
	})
}

func (s memCalendarSync) SetWebhook(_ context.Context, practitionerID uuid.UUID, w WebhookChannel) error {
	_, err := s.update(practitionerID, func(c *CalendarSync) error {
		c.Webhook = w
		return nil
	})
	return err
}

func (s memCalendarSync) DisableSync(_ context.Context, practitionerID uuid.UUID, needsReauth bool) error {
	_, err := s.update(practitionerID, func(c *CalendarSync) error {
		c.SyncEnabled = false
		c.NeedsReauth = needsReauth
		return nil
	})
	return err
}

func (s memCalendarSync) MarkSynced(_ context.Context, practitionerID uuid.UUID, at time.Time) error {
	_, err := s.update(practitionerID, func(c *CalendarSync) error {
		c.LastSyncedAt = &at
		for i := range c.SyncErrors {
			c.SyncErrors[i].Resolved = true
		}
		return nil
	})
	return err
}

func (s memCalendarSync) AppendError(_ context.Context, practitionerID uuid.UUID, e SyncError, max int) error {
	_, err := s.update(practitionerID, func(c *CalendarSync) error {
		log := append(append([]SyncError{}, c.SyncErrors...), e)
		if max > 0 && len(log) > max {
			log = log[len(log)-max:]
		}
		c.SyncErrors = log
		return nil
	})
	return err
}

func (s memCalendarSync) ClearErrors(_ context.Context, practitionerID uuid.UUID) error {
	_, err := s.update(practitionerID, func(c *CalendarSync) error {
		c.SyncErrors = []SyncError{}
		return nil
	})
	return err
}

func (s memCalendarSync) PruneErrors(_ context.Context, before time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, c := range s.db.syncs {
		kept := make([]SyncError, 0, len(c.SyncErrors))
		for _, e := range c.SyncErrors {
			if !e.OccurredAt.Before(before) {
				kept = append(kept, e)
			}
		}
		if len(kept) != len(c.SyncErrors) {
			c.SyncErrors = kept
			s.db.syncs[id] = c
			n++
		}
	}
	return n, nil
}
