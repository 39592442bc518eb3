package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestOccurrences_NonRecurring(t *testing.T) {
	b := &BlockedTime{
		StartTime: mustTime(t, "2026-03-02T12:00:00Z"),
		EndTime:   mustTime(t, "2026-03-02T13:00:00Z"),
	}

	got := b.Occurrences(mustTime(t, "2026-03-02T00:00:00Z"), mustTime(t, "2026-03-03T00:00:00Z"))
	require.Len(t, got, 1)
	assert.Equal(t, b.StartTime, got[0].Start)

	assert.Empty(t, b.Occurrences(mustTime(t, "2026-03-02T13:00:00Z"), mustTime(t, "2026-03-03T00:00:00Z")),
		"touching boundary must not count as an occurrence")
}

func TestOccurrences_Weekly(t *testing.T) {
	end := mustTime(t, "2026-03-23T00:00:00Z")
	b := &BlockedTime{
		StartTime:        mustTime(t, "2026-03-02T12:00:00Z"),
		EndTime:          mustTime(t, "2026-03-02T13:00:00Z"),
		IsRecurring:      true,
		RecurringPattern: &RecurringPattern{Frequency: FrequencyWeekly, EndDate: &end},
	}

	got := b.Occurrences(mustTime(t, "2026-03-01T00:00:00Z"), mustTime(t, "2026-04-30T00:00:00Z"))
	require.Len(t, got, 3)
	assert.Equal(t, mustTime(t, "2026-03-09T12:00:00Z"), got[1].Start)
	assert.Equal(t, mustTime(t, "2026-03-16T13:00:00Z"), got[2].End)
}

func TestOccurrences_WindowAfterSeriesStart(t *testing.T) {
	b := &BlockedTime{
		StartTime:        mustTime(t, "2026-01-01T08:00:00Z"),
		EndTime:          mustTime(t, "2026-01-01T09:00:00Z"),
		IsRecurring:      true,
		RecurringPattern: &RecurringPattern{Frequency: FrequencyDaily},
	}

	got := b.Occurrences(mustTime(t, "2026-06-10T00:00:00Z"), mustTime(t, "2026-06-11T00:00:00Z"))
	require.Len(t, got, 1)
	assert.Equal(t, mustTime(t, "2026-06-10T08:00:00Z"), got[0].Start)
}

func TestOccurrences_Monthly(t *testing.T) {
	b := &BlockedTime{
		StartTime:        mustTime(t, "2026-01-15T10:00:00Z"),
		EndTime:          mustTime(t, "2026-01-15T11:00:00Z"),
		IsRecurring:      true,
		RecurringPattern: &RecurringPattern{Frequency: FrequencyMonthly},
	}

	got := b.Occurrences(mustTime(t, "2026-03-01T00:00:00Z"), mustTime(t, "2026-05-01T00:00:00Z"))
	require.Len(t, got, 2)
	assert.Equal(t, time.March, got[0].Start.Month())
	assert.Equal(t, time.April, got[1].Start.Month())
}

func TestSeriesEnded(t *testing.T) {
	end := mustTime(t, "2026-02-01T00:00:00Z")
	b := &BlockedTime{
		IsRecurring:      true,
		RecurringPattern: &RecurringPattern{Frequency: FrequencyDaily, EndDate: &end},
	}
	assert.True(t, b.SeriesEnded(mustTime(t, "2026-02-02T00:00:00Z")))
	assert.False(t, b.SeriesEnded(mustTime(t, "2026-01-31T00:00:00Z")))
	assert.False(t, (&BlockedTime{}).SeriesEnded(end))
}
