// Package conflict detects overlaps between a candidate interval and the
// practitioner's active appointments and blocked time.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
)

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindBlockedTime Kind = "blocked_time"
)

// Conflict is one existing entity overlapping a candidate.
type Conflict struct {
	Kind      Kind      `json:"type"`
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

func (c Conflict) Interval() repo.Interval {
	return repo.Interval{Start: c.StartTime, End: c.EndTime}
}

type Query struct {
	PractitionerID uuid.UUID
	// Candidates are checked independently; a recurring entry passes all of
	// its occurrences.
	Candidates []repo.Interval

	// ExcludeAppointmentID skips the appointment being edited.
	ExcludeAppointmentID uuid.UUID
	// BlockedOnly limits the check to blocked time.
	BlockedOnly bool
	// SkipImported ignores blocked time imported from the external calendar.
	SkipImported bool
	// Buffer extends every existing entry at its end, matching the slot
	// engine's trailing buffer rule.
	Buffer time.Duration
}

type Checker interface {
	Check(ctx context.Context, q Query) ([]Conflict, error)
}

type checker struct {
	db *repo.Client
}

func New(db *repo.Client) Checker {
	return &checker{db: db}
}

func (c *checker) Check(ctx context.Context, q Query) ([]Conflict, error) {
	if len(q.Candidates) == 0 {
		return nil, nil
	}
	span, err := Span(q.Candidates)
	if err != nil {
		return nil, err
	}

	from := span.Start.Add(-q.Buffer)

	var appts []*repo.Appointment
	if !q.BlockedOnly {
		appts, err = c.db.Appointment.ListActiveRange(ctx, q.PractitionerID, from, span.End)
		if err != nil {
			return nil, fmt.Errorf("list appointments: %w", err)
		}
	}

	blocks, err := c.db.BlockedTime.ListRange(ctx, q.PractitionerID, from, span.End)
	if err != nil {
		return nil, fmt.Errorf("list blocked times: %w", err)
	}
	if q.SkipImported {
		blocks = manualOnly(blocks)
	}

	return Find(q.Candidates, q.ExcludeAppointmentID, q.Buffer, appts, blocks), nil
}

// Find reports every appointment or blocked occurrence overlapping one of
// the candidates once extended by buffer. Only active appointments
// participate. Touching boundaries do not conflict.
func Find(candidates []repo.Interval, exclude uuid.UUID, buffer time.Duration, appts []*repo.Appointment, blocks []*repo.BlockedTime) []Conflict {
	if len(candidates) == 0 {
		return nil
	}
	span, err := Span(candidates)
	if err != nil {
		return nil
	}

	var out []Conflict
	seen := make(map[string]bool)
	add := func(c Conflict) {
		key := fmt.Sprintf("%s/%s/%d", c.Kind, c.ID, c.StartTime.Unix())
		if !seen[key] {
			seen[key] = true
			out = append(out, c)
		}
	}

	for _, a := range appts {
		if a.ID == exclude || !a.Status.Active() {
			continue
		}
		for _, cand := range candidates {
			if cand.Overlaps(a.Interval().Extend(buffer)) {
				add(Conflict{
					Kind:      KindAppointment,
					ID:        a.ID,
					StartTime: a.StartTime,
					EndTime:   a.EndTime,
					Status:    string(a.Status),
				})
				break
			}
		}
	}

	for _, b := range blocks {
		for _, occ := range b.Occurrences(span.Start.Add(-buffer), span.End) {
			for _, cand := range candidates {
				if cand.Overlaps(occ.Extend(buffer)) {
					add(Conflict{
						Kind:      KindBlockedTime,
						ID:        b.ID,
						StartTime: occ.Start,
						EndTime:   occ.End,
						Reason:    string(b.Reason),
					})
					break
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Span returns the smallest interval covering all of in.
func Span(in []repo.Interval) (repo.Interval, error) {
	if len(in) == 0 {
		return repo.Interval{}, repo.ErrInvalidInterval
	}
	span := in[0]
	for _, iv := range in {
		if !iv.Start.Before(iv.End) {
			return repo.Interval{}, repo.ErrInvalidInterval
		}
		if iv.Start.Before(span.Start) {
			span.Start = iv.Start
		}
		if iv.End.After(span.End) {
			span.End = iv.End
		}
	}
	return span, nil
}

func manualOnly(in []*repo.BlockedTime) []*repo.BlockedTime {
	out := in[:0:0]
	for _, b := range in {
		if !b.Imported() {
			out = append(out, b)
		}
	}
	return out
}
