// Package availability manages the weekly template and computes bookable
// slots from it.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
)

const (
	dateLayout  = "2006-01-02"
	maxDuration = 24 * 60
)

// BusySource supplies external calendar busy intervals. It returns no
// intervals and no error for practitioners without a usable connection; any
// error fails the slot computation instead of over-offering.
type BusySource interface {
	BusyIntervals(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]repo.Interval, error)
}

type Service interface {
	Get(ctx context.Context, practitionerID uuid.UUID) (*repo.WeeklyAvailability, error)
	Update(ctx context.Context, practitionerID uuid.UUID, tpl *repo.WeeklyAvailability) (*repo.WeeklyAvailability, error)
	Slots(ctx context.Context, practitionerID uuid.UUID, date string, durationMinutes int) ([]Slot, error)
	SlotsRange(ctx context.Context, practitionerID uuid.UUID, from, to string, durationMinutes int) ([]DaySlots, error)
	// ValidateWindow checks a booking request against the template and the
	// notice/horizon policy. It does not check conflicts.
	ValidateWindow(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (*repo.WeeklyAvailability, error)
	// CheckDailyLimit enforces maxDailyAppointments for the local day of
	// start, not counting exclude. Callers hold the practitioner lock.
	CheckDailyLimit(ctx context.Context, tpl *repo.WeeklyAvailability, start time.Time, exclude uuid.UUID) error
}

type availabilityService struct {
	db      *repo.Client
	busy    BusySource
	maxDays int
	now     func() time.Time
}

func New(db *repo.Client, busy BusySource, cfg config.BookingConfig) Service {
	maxDays := cfg.MaxSlotRangeDays
	if maxDays <= 0 {
		maxDays = 31
	}
	return &availabilityService{db: db, busy: busy, maxDays: maxDays, now: time.Now}
}

func (s *availabilityService) Get(ctx context.Context, practitionerID uuid.UUID) (*repo.WeeklyAvailability, error) {
	tpl, err := s.db.Availability.Get(ctx, practitionerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.DefaultAvailability(practitionerID), nil
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return tpl, nil
}

func (s *availabilityService) Update(ctx context.Context, practitionerID uuid.UUID, tpl *repo.WeeklyAvailability) (*repo.WeeklyAvailability, error) {
	tpl.PractitionerID = practitionerID
	tpl.Normalize()
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	out, err := s.db.Availability.Upsert(ctx, tpl)
	if err != nil {
		return nil, fmt.Errorf("save availability: %w", err)
	}
	return out, nil
}

func (s *availabilityService) Slots(ctx context.Context, practitionerID uuid.UUID, date string, durationMinutes int) ([]Slot, error) {
	days, err := s.SlotsRange(ctx, practitionerID, date, date, durationMinutes)
	if err != nil {
		return nil, err
	}
	return days[0].Slots, nil
}

func (s *availabilityService) SlotsRange(ctx context.Context, practitionerID uuid.UUID, from, to string, durationMinutes int) ([]DaySlots, error) {
	if durationMinutes <= 0 || durationMinutes > maxDuration {
		return nil, ErrInvalidDuration
	}
	tpl, err := s.Get(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	loc, err := tpl.Location()
	if err != nil {
		return nil, err
	}

	first, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	last, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if last.Before(first) {
		return nil, ErrInvalidDate
	}
	dayCount := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		dayCount++
	}
	if dayCount > s.maxDays {
		return nil, ErrRangeTooLong
	}

	rangeStart := first
	rangeEnd := last.AddDate(0, 0, 1)

	occupied, perDay, err := s.occupied(ctx, practitionerID, rangeStart, rangeEnd, loc)
	if err != nil {
		return nil, err
	}

	now := s.now()
	window := PolicyWindow(tpl, now)
	busy := Busy(occupied, tpl.Buffer())
	duration := time.Duration(durationMinutes) * time.Minute

	out := make([]DaySlots, 0, dayCount)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		if tpl.MaxDailyAppointments > 0 && perDay[key] >= tpl.MaxDailyAppointments {
			out = append(out, DaySlots{Date: key, Slots: []Slot{}})
			continue
		}
		slots, err := Compute(tpl, d, duration, busy, window)
		if err != nil {
			return nil, err
		}
		out = append(out, DaySlots{Date: key, Slots: slots})
	}
	return out, nil
}

// occupied collects every interval that blocks booking in [from, to) and
// counts active appointments per local day.
func (s *availabilityService) occupied(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, loc *time.Location) ([]repo.Interval, map[string]int, error) {
	appts, err := s.db.Appointment.ListActiveRange(ctx, practitionerID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("list appointments: %w", err)
	}
	blocks, err := s.db.BlockedTime.ListRange(ctx, practitionerID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("list blocked times: %w", err)
	}

	var out []repo.Interval
	perDay := make(map[string]int)
	for _, a := range appts {
		out = append(out, a.Interval())
		perDay[a.StartTime.In(loc).Format(dateLayout)]++
	}
	for _, b := range blocks {
		out = append(out, b.Occurrences(from, to)...)
	}

	if s.busy != nil {
		external, err := s.busy.BusyIntervals(ctx, practitionerID, from, to)
		if err != nil {
			slog.WarnContext(ctx, "external busy times unavailable, offering no slots",
				logs.Practitioner(practitionerID), logs.Err(err))
			return nil, nil, fmt.Errorf("%w: %w", ErrBusyUnavailable, err)
		}
		out = append(out, external...)
	}
	return out, perDay, nil
}

func (s *availabilityService) ValidateWindow(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (*repo.WeeklyAvailability, error) {
	if !start.Before(end) {
		return nil, repo.ErrInvalidInterval
	}
	tpl, err := s.Get(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	w := PolicyWindow(tpl, s.now())
	if start.Before(w.Earliest) {
		return nil, ErrTooSoon
	}
	if start.After(w.Latest) {
		return nil, ErrTooFar
	}

	ok, err := Fits(tpl, start, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOutsideAvailability
	}
	return tpl, nil
}

func (s *availabilityService) CheckDailyLimit(ctx context.Context, tpl *repo.WeeklyAvailability, start time.Time, exclude uuid.UUID) error {
	if tpl.MaxDailyAppointments <= 0 {
		return nil
	}
	loc, err := tpl.Location()
	if err != nil {
		return err
	}
	y, m, d := start.In(loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	appts, err := s.db.Appointment.ListActiveRange(ctx, tpl.PractitionerID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	day := dayStart.Format(dateLayout)
	n := 0
	for _, a := range appts {
		if a.ID != exclude && a.StartTime.In(loc).Format(dateLayout) == day {
			n++
		}
	}
	if n >= tpl.MaxDailyAppointments {
		return ErrDailyLimitReached
	}
	return nil
}

// IsValidation reports whether err is a caller error from this package or
// the template validator.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrRangeTooLong) ||
		errors.Is(err, repo.ErrInvalidTemplate) ||
		errors.Is(err, repo.ErrInvalidInterval)
}
