package repo

import (
	"fmt"
	"sort"
	"time"
)

// Clock parses an "HH:MM" wall-clock string into minutes after midnight.
func Clock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidTemplate, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Bounds resolves the range on the given calendar day in loc.
func (r TimeRange) Bounds(day time.Time, loc *time.Location) (time.Time, time.Time, error) {
	startMin, err := Clock(r.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endMin, err := Clock(r.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, startMin/60, startMin%60, 0, 0, loc)
	end := time.Date(y, m, d, endMin/60, endMin%60, 0, 0, loc)
	return start, end, nil
}

func (a *WeeklyAvailability) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidTemplate, a.Timezone)
	}
	return loc, nil
}

// Buffer is the recovery time kept free after every appointment or block.
func (a *WeeklyAvailability) Buffer() time.Duration {
	return time.Duration(a.BufferTime) * time.Minute
}

// Day returns the schedule entry for a weekday. Missing entries are unavailable.
func (a *WeeklyAvailability) Day(wd time.Weekday) DaySchedule {
	for _, d := range a.Days {
		if d.DayOfWeek == int(wd) {
			return d
		}
	}
	return DaySchedule{DayOfWeek: int(wd)}
}

// Validate checks the template. Same-day slots must be disjoint.
func (a *WeeklyAvailability) Validate() error {
	if len(a.Days) != 7 {
		return fmt.Errorf("%w: expected 7 days, got %d", ErrInvalidTemplate, len(a.Days))
	}
	if _, err := a.Location(); err != nil {
		return err
	}
	if a.BufferTime < 0 || a.MaxDailyAppointments < 0 || a.AdvanceBookingDays < 0 || a.MinNoticeHours < 0 {
		return fmt.Errorf("%w: policy values must not be negative", ErrInvalidTemplate)
	}

	seen := make(map[int]bool, 7)
	for _, d := range a.Days {
		if d.DayOfWeek < 0 || d.DayOfWeek > 6 {
			return fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidTemplate, d.DayOfWeek)
		}
		if seen[d.DayOfWeek] {
			return fmt.Errorf("%w: duplicate day_of_week %d", ErrInvalidTemplate, d.DayOfWeek)
		}
		seen[d.DayOfWeek] = true

		type span struct{ start, end int }
		spans := make([]span, 0, len(d.TimeSlots))
		for _, ts := range d.TimeSlots {
			s, err := Clock(ts.StartTime)
			if err != nil {
				return err
			}
			e, err := Clock(ts.EndTime)
			if err != nil {
				return err
			}
			if s >= e {
				return fmt.Errorf("%w: slot %s-%s ends before it starts", ErrInvalidTemplate, ts.StartTime, ts.EndTime)
			}
			spans = append(spans, span{s, e})
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		for i := 1; i < len(spans); i++ {
			if spans[i].start < spans[i-1].end {
				return fmt.Errorf("%w: overlapping slots on day %d", ErrInvalidTemplate, d.DayOfWeek)
			}
		}
	}
	return nil
}

// Normalize sorts days and slots so stored templates compare stably.
func (a *WeeklyAvailability) Normalize() {
	sort.Slice(a.Days, func(i, j int) bool { return a.Days[i].DayOfWeek < a.Days[j].DayOfWeek })
	for i := range a.Days {
		if a.Days[i].TimeSlots == nil {
			a.Days[i].TimeSlots = []TimeRange{}
		}
		slots := a.Days[i].TimeSlots
		sort.Slice(slots, func(x, y int) bool {
			sx, _ := Clock(slots[x].StartTime)
			sy, _ := Clock(slots[y].StartTime)
			return sx < sy
		})
	}
}
