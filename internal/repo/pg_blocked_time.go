package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const blockedTimeColumns = `id, practitioner_id, start_time, end_time, reason, notes,
	is_recurring, recurring_pattern, source, external_event_id, created_at, updated_at`

type pgBlockedTimeStore struct {
	pool *pgxpool.Pool
}

func scanBlockedTime(row pgx.Row) (*BlockedTime, error) {
	var (
		b       BlockedTime
		pattern []byte
	)
	err := row.Scan(
		&b.ID,
		&b.PractitionerID,
		&b.StartTime,
		&b.EndTime,
		&b.Reason,
		&b.Notes,
		&b.IsRecurring,
		&pattern,
		&b.Source,
		&b.ExternalEventID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	if len(pattern) > 0 && string(pattern) != "null" {
		b.RecurringPattern = &RecurringPattern{}
		if err := json.Unmarshal(pattern, b.RecurringPattern); err != nil {
			return nil, err
		}
	}
	b.StartTime = b.StartTime.UTC()
	b.EndTime = b.EndTime.UTC()
	return &b, nil
}

func collectBlockedTimes(rows pgx.Rows) ([]*BlockedTime, error) {
	defer rows.Close()
	var out []*BlockedTime
	for rows.Next() {
		b, err := scanBlockedTime(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *pgBlockedTimeStore) Create(ctx context.Context, b *BlockedTime) (*BlockedTime, error) {
	pattern, err := encodePattern(b.RecurringPattern)
	if err != nil {
		return nil, err
	}
	var recurrenceEnd *time.Time
	if b.RecurringPattern != nil {
		recurrenceEnd = b.RecurringPattern.EndDate
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO blocked_times (
			id, practitioner_id, start_time, end_time, reason, notes,
			is_recurring, recurring_pattern, recurrence_end, source, external_event_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING `+blockedTimeColumns,
		b.ID, b.PractitionerID, b.StartTime, b.EndTime, b.Reason, b.Notes,
		b.IsRecurring, pattern, recurrenceEnd, b.Source, b.ExternalEventID,
	)
	return scanBlockedTime(row)
}

func (s *pgBlockedTimeStore) Get(ctx context.Context, practitionerID, id uuid.UUID) (*BlockedTime, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+blockedTimeColumns+`
		FROM blocked_times
		WHERE practitioner_id = $1 AND id = $2
	`, practitionerID, id)
	return scanBlockedTime(row)
}

func (s *pgBlockedTimeStore) ListRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*BlockedTime, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blockedTimeColumns+`
		FROM blocked_times
		WHERE practitioner_id = $1
		  AND start_time < $3
		  AND (
		        end_time > $2
		     OR (is_recurring AND (recurrence_end IS NULL OR recurrence_end >= $2 - (end_time - start_time)))
		  )
		ORDER BY start_time
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectBlockedTimes(rows)
}

func (s *pgBlockedTimeStore) GetByExternalEventID(ctx context.Context, practitionerID uuid.UUID, eventID string) (*BlockedTime, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+blockedTimeColumns+`
		FROM blocked_times
		WHERE practitioner_id = $1 AND external_event_id = $2
	`, practitionerID, eventID)
	return scanBlockedTime(row)
}

func (s *pgBlockedTimeStore) ListImported(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*BlockedTime, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blockedTimeColumns+`
		FROM blocked_times
		WHERE practitioner_id = $1
		  AND source = 'external'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectBlockedTimes(rows)
}

func (s *pgBlockedTimeStore) UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time, notes string) error {
	return execOne(ctx, s.pool, `
		UPDATE blocked_times
		SET start_time = $2, end_time = $3, notes = $4, updated_at = now()
		WHERE id = $1
	`, id, start, end, notes)
}

func (s *pgBlockedTimeStore) Delete(ctx context.Context, practitionerID, id uuid.UUID) error {
	return execOne(ctx, s.pool, `
		DELETE FROM blocked_times WHERE practitioner_id = $1 AND id = $2
	`, practitionerID, id)
}

func (s *pgBlockedTimeStore) DeleteImported(ctx context.Context, practitionerID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM blocked_times WHERE practitioner_id = $1 AND source = 'external'
	`, practitionerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgBlockedTimeStore) DeleteExpiredSeries(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM blocked_times
		WHERE is_recurring
		  AND recurrence_end IS NOT NULL
		  AND recurrence_end < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
