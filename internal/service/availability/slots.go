package availability

import (
	"sort"
	"time"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
)

// Slot is a bookable window.
type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// DaySlots groups the slots of one calendar day in the practitioner's zone.
type DaySlots struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// Window bounds candidate starts: no earlier than Earliest, no later than
// Latest.
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// PolicyWindow applies minNoticeHours and advanceBookingDays to now.
func PolicyWindow(tpl *repo.WeeklyAvailability, now time.Time) Window {
	return Window{
		Earliest: now.Add(time.Duration(tpl.MinNoticeHours) * time.Hour),
		Latest:   now.Add(time.Duration(tpl.AdvanceBookingDays) * 24 * time.Hour),
	}
}

// Busy merges occupied intervals and adds buffer after each of them.
// Appointments and blocked occurrences must already be limited to the day.
func Busy(intervals []repo.Interval, buffer time.Duration) []repo.Interval {
	if len(intervals) == 0 {
		return nil
	}
	in := make([]repo.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start.Before(iv.End) {
			in = append(in, iv.Extend(buffer))
		}
	}
	repo.SortIntervals(in)

	out := []repo.Interval{}
	for _, iv := range in {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Compute walks each template slot of day and returns the bookable windows.
// busy must come from Busy (merged, buffer applied). day is any instant on
// the target date; it is resolved in the template's zone.
func Compute(tpl *repo.WeeklyAvailability, day time.Time, duration time.Duration, busy []repo.Interval, w Window) ([]Slot, error) {
	loc, err := tpl.Location()
	if err != nil {
		return nil, err
	}
	schedule := tpl.Day(day.In(loc).Weekday())
	if !schedule.IsAvailable || len(schedule.TimeSlots) == 0 {
		return []Slot{}, nil
	}

	buffer := tpl.Buffer()
	step := duration + buffer

	ranges := append([]repo.TimeRange(nil), schedule.TimeSlots...)
	sort.Slice(ranges, func(i, j int) bool {
		a, _ := repo.Clock(ranges[i].StartTime)
		b, _ := repo.Clock(ranges[j].StartTime)
		return a < b
	})

	out := []Slot{}
	for _, r := range ranges {
		start, end, err := r.Bounds(day, loc)
		if err != nil {
			return nil, err
		}
		cursor := start
		for !cursor.Add(duration).After(end) {
			if cursor.After(w.Latest) {
				break
			}
			cand := repo.Interval{Start: cursor, End: cursor.Add(duration)}
			if cursor.Before(w.Earliest) {
				cursor = cursor.Add(step)
				continue
			}
			if blocker, ok := firstOverlap(cand, busy); ok {
				cursor = blocker.End
				continue
			}
			out = append(out, Slot{StartTime: cand.Start.UTC(), EndTime: cand.End.UTC()})
			cursor = cursor.Add(step)
		}
	}
	return out, nil
}

func firstOverlap(cand repo.Interval, busy []repo.Interval) (repo.Interval, bool) {
	for _, b := range busy {
		if !b.Start.Before(cand.End) {
			break
		}
		if cand.Overlaps(b) {
			return b, true
		}
	}
	return repo.Interval{}, false
}

// Fits reports whether [start, end) lies inside one template slot of its day.
func Fits(tpl *repo.WeeklyAvailability, start, end time.Time) (bool, error) {
	loc, err := tpl.Location()
	if err != nil {
		return false, err
	}
	schedule := tpl.Day(start.In(loc).Weekday())
	if !schedule.IsAvailable {
		return false, nil
	}
	for _, r := range schedule.TimeSlots {
		s, e, err := r.Bounds(start, loc)
		if err != nil {
			return false, err
		}
		if !start.Before(s) && !end.After(e) {
			return true, nil
		}
	}
	return false, nil
}
