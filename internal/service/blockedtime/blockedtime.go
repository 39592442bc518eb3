package blockedtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
	redispkg "github.com/Alijeyrad/simorq_calendar/pkg/redis"
)

// Open-ended series are checked for overlaps this far ahead.
const recurrenceHorizon = 365 * 24 * time.Hour

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type CreateRequest struct {
	StartTime time.Time
	EndTime   time.Time
	Reason    repo.BlockReason
	Notes     string
	Frequency repo.RecurrenceFrequency // empty for a one-off entry
	EndDate   *time.Time
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	List(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*repo.BlockedTime, error)
	Create(ctx context.Context, practitionerID uuid.UUID, req CreateRequest) (*repo.BlockedTime, error)
	Delete(ctx context.Context, practitionerID, id uuid.UUID) error
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type blockedTimeService struct {
	db      *repo.Client
	checker conflict.Checker
	locker  redispkg.Locker
}

func New(db *repo.Client, checker conflict.Checker, locker redispkg.Locker) Service {
	return &blockedTimeService{db: db, checker: checker, locker: locker}
}

func (s *blockedTimeService) List(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*repo.BlockedTime, error) {
	if !from.Before(to) {
		return nil, repo.ErrInvalidInterval
	}
	out, err := s.db.BlockedTime.ListRange(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocked times: %w", err)
	}
	return out, nil
}

func (s *blockedTimeService) Create(ctx context.Context, practitionerID uuid.UUID, req CreateRequest) (*repo.BlockedTime, error) {
	b, err := build(practitionerID, req)
	if err != nil {
		return nil, err
	}

	candidates := candidatesOf(b)

	var created *repo.BlockedTime
	err = s.locker.WithLock(ctx, constants.RedisKeyBookingLock+practitionerID.String(), func(ctx context.Context) error {
		conflicts, err := s.checker.Check(ctx, conflict.Query{
			PractitionerID: practitionerID,
			Candidates:     candidates,
			BlockedOnly:    true,
			SkipImported:   true,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &OverlapError{Conflicts: conflicts}
		}

		created, err = s.db.BlockedTime.Create(ctx, b)
		if err != nil {
			return fmt.Errorf("create blocked time: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *blockedTimeService) Delete(ctx context.Context, practitionerID, id uuid.UUID) error {
	b, err := s.db.BlockedTime.Get(ctx, practitionerID, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get blocked time: %w", err)
	}
	if b.Imported() {
		return ErrImportedReadOnly
	}
	if err := s.db.BlockedTime.Delete(ctx, practitionerID, id); err != nil {
		if repo.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blocked time: %w", err)
	}
	return nil
}

func build(practitionerID uuid.UUID, req CreateRequest) (*repo.BlockedTime, error) {
	iv, err := repo.NewInterval(req.StartTime.UTC(), req.EndTime.UTC())
	if err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = repo.ReasonOther
	}
	if !reason.Valid() || reason == repo.ReasonExternal {
		return nil, ErrInvalidReason
	}

	b := &repo.BlockedTime{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		StartTime:      iv.Start,
		EndTime:        iv.End,
		Reason:         reason,
		Notes:          req.Notes,
		Source:         repo.SourceManual,
	}

	if req.Frequency != "" {
		if !req.Frequency.Valid() {
			return nil, ErrInvalidRecurrence
		}
		if req.EndDate != nil && !req.EndDate.After(iv.Start) {
			return nil, ErrInvalidRecurrence
		}
		var end *time.Time
		if req.EndDate != nil {
			e := req.EndDate.UTC()
			end = &e
		}
		b.IsRecurring = true
		b.RecurringPattern = &repo.RecurringPattern{Frequency: req.Frequency, EndDate: end}
	}
	return b, nil
}

// candidatesOf expands a new entry into the occurrences checked for overlap.
func candidatesOf(b *repo.BlockedTime) []repo.Interval {
	if !b.IsRecurring {
		return []repo.Interval{{Start: b.StartTime, End: b.EndTime}}
	}
	horizon := b.StartTime.Add(recurrenceHorizon)
	if end := b.RecurringPattern.EndDate; end != nil && end.Before(horizon) {
		horizon = end.Add(b.EndTime.Sub(b.StartTime))
	}
	return b.Occurrences(b.StartTime, horizon)
}
