package repo

import "time"

const maxOccurrences = 5000

// Occurrences expands the blocked time into concrete intervals overlapping
// [from, to). Non-recurring entries yield at most one interval.
func (b *BlockedTime) Occurrences(from, to time.Time) []Interval {
	base := Interval{Start: b.StartTime, End: b.EndTime}
	window := Interval{Start: from, End: to}

	if !b.IsRecurring || b.RecurringPattern == nil || !b.RecurringPattern.Frequency.Valid() {
		if base.Overlaps(window) {
			return []Interval{base}
		}
		return nil
	}

	p := b.RecurringPattern
	length := base.Duration()

	// Skip whole periods that end before the window for fixed-length steps.
	k := 0
	if step := fixedStep(p.Frequency); step > 0 && from.After(b.EndTime) {
		k = int(from.Sub(b.EndTime)/step) - 1
		if k < 0 {
			k = 0
		}
	}

	var out []Interval
	for n := 0; n < maxOccurrences; n, k = n+1, k+1 {
		start := shift(b.StartTime, p.Frequency, k)
		if !start.Before(to) {
			break
		}
		if p.EndDate != nil && start.After(*p.EndDate) {
			break
		}
		occ := Interval{Start: start, End: start.Add(length)}
		if occ.Overlaps(window) {
			out = append(out, occ)
		}
	}
	return out
}

// SeriesEnded reports whether a recurring entry has no occurrence at or after t.
func (b *BlockedTime) SeriesEnded(t time.Time) bool {
	if !b.IsRecurring || b.RecurringPattern == nil || b.RecurringPattern.EndDate == nil {
		return false
	}
	return b.RecurringPattern.EndDate.Before(t)
}

func fixedStep(f RecurrenceFrequency) time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

func shift(t time.Time, f RecurrenceFrequency, k int) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, k)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*k)
	case FrequencyMonthly:
		return t.AddDate(0, k, 0)
	}
	return t
}
