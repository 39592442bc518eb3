package repo

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgAvailabilityStore struct {
	pool *pgxpool.Pool
}

func scanAvailability(row pgx.Row) (*WeeklyAvailability, error) {
	var (
		a    WeeklyAvailability
		days []byte
	)
	err := row.Scan(
		&a.PractitionerID,
		&days,
		&a.BufferTime,
		&a.MaxDailyAppointments,
		&a.AdvanceBookingDays,
		&a.MinNoticeHours,
		&a.Timezone,
		&a.AutoConfirm,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	if err := json.Unmarshal(days, &a.Days); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *pgAvailabilityStore) Get(ctx context.Context, practitionerID uuid.UUID) (*WeeklyAvailability, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT practitioner_id, days, buffer_time, max_daily_appointments,
		       advance_booking_days, min_notice_hours, timezone, auto_confirm, updated_at
		FROM weekly_availabilities
		WHERE practitioner_id = $1
	`, practitionerID)
	return scanAvailability(row)
}

func (s *pgAvailabilityStore) Upsert(ctx context.Context, a *WeeklyAvailability) (*WeeklyAvailability, error) {
	days, err := json.Marshal(a.Days)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO weekly_availabilities (
			practitioner_id, days, buffer_time, max_daily_appointments,
			advance_booking_days, min_notice_hours, timezone, auto_confirm, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (practitioner_id) DO UPDATE SET
			days = EXCLUDED.days,
			buffer_time = EXCLUDED.buffer_time,
			max_daily_appointments = EXCLUDED.max_daily_appointments,
			advance_booking_days = EXCLUDED.advance_booking_days,
			min_notice_hours = EXCLUDED.min_notice_hours,
			timezone = EXCLUDED.timezone,
			auto_confirm = EXCLUDED.auto_confirm,
			updated_at = now()
		RETURNING practitioner_id, days, buffer_time, max_daily_appointments,
		          advance_booking_days, min_notice_hours, timezone, auto_confirm, updated_at
	`, a.PractitionerID, days, a.BufferTime, a.MaxDailyAppointments,
		a.AdvanceBookingDays, a.MinNoticeHours, a.Timezone, a.AutoConfirm)
	return scanAvailability(row)
}
