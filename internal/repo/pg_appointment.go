package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `id, schema_version, practitioner_id, client_id,
	client_name, client_email, client_phone,
	service_type, session_type,
	start_time, end_time, duration, duration_minutes,
	status, notes, confirmation_code,
	external_event_id, external_synced, sync_attempts, last_sync_attempt_at,
	recurring_pattern, payment_status,
	confirmed_at, completed_at, cancelled_at,
	cancellation_reason, cancelled_by, reminder_sent_at, deleted_at,
	created_at, updated_at`

// effectiveEnd covers legacy rows that never stored end_time.
const effectiveEnd = `COALESCE(end_time, start_time + make_interval(mins => COALESCE(duration_minutes, duration, 0)))`

type pgAppointmentStore struct {
	pool *pgxpool.Pool
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var r appointmentRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	return upgradeAppointmentRow(r)
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodePattern(p *RecurringPattern) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (s *pgAppointmentStore) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	pattern, err := encodePattern(a.RecurringPattern)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, schema_version, practitioner_id, client_id,
			client_name, client_email, client_phone, service_type,
			start_time, end_time, duration, status, notes, confirmation_code,
			recurring_pattern, payment_status, confirmed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, currentSchemaVersion, a.PractitionerID, a.ClientID,
		a.ClientName, a.ClientEmail, a.ClientPhone, a.ServiceType,
		a.StartTime, a.EndTime, a.Duration, a.Status, a.Notes, a.ConfirmationCode,
		pattern, a.PaymentStatus, a.ConfirmedAt,
	)
	return scanAppointment(row)
}

func (s *pgAppointmentStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (s *pgAppointmentStore) GetByConfirmationCode(ctx context.Context, code string) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE confirmation_code = $1 AND deleted_at IS NULL
	`, strings.ToUpper(code))
	return scanAppointment(row)
}

func (s *pgAppointmentStore) GetByExternalEventID(ctx context.Context, practitionerID uuid.UUID, eventID string) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1 AND external_event_id = $2 AND deleted_at IS NULL
	`, practitionerID, eventID)
	return scanAppointment(row)
}

func (s *pgAppointmentStore) ListActiveRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND deleted_at IS NULL
		  AND status IN ('pending', 'confirmed')
		  AND start_time < $3
		  AND `+effectiveEnd+` > $2
		ORDER BY start_time
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *pgAppointmentStore) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	where := []string{"practitioner_id = $1", "deleted_at IS NULL"}
	args := []any{f.PractitionerID}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("%s > $%d", effectiveEnd, len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("start_time < $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		WHERE %s
		ORDER BY start_time
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, strings.Join(where, " AND "), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *pgAppointmentStore) Transition(ctx context.Context, id uuid.UUID, from []AppointmentStatus, p StatusPatch) (*Appointment, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN $3 ELSE confirmed_at END,
		    completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END,
		    cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancellation_reason END,
		    cancelled_by = CASE WHEN $2 = 'cancelled' THEN $5 ELSE cancelled_by END,
		    reminder_sent_at = CASE WHEN $6 THEN NULL ELSE reminder_sent_at END,
		    external_synced = false,
		    sync_attempts = 0,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND status = ANY($7)
		RETURNING `+appointmentColumns,
		id, p.Status, p.At, p.CancellationReason, p.CancelledBy, p.ClearReminder, allowed,
	)
	a, err := scanAppointment(row)
	if IsNotFound(err) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleState
	}
	return a, err
}

// Reschedule also upgrades legacy rows, since the new end_time is written.
func (s *pgAppointmentStore) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    duration = $4,
		    service_type = COALESCE(NULLIF(service_type, ''), session_type),
		    schema_version = $5,
		    reminder_sent_at = NULL,
		    external_synced = false,
		    sync_attempts = 0,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns,
		id, start, end, int(end.Sub(start)/time.Minute), currentSchemaVersion,
	)
	a, err := scanAppointment(row)
	if IsNotFound(err) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStaleState
	}
	return a, err
}

func (s *pgAppointmentStore) MarkSynced(ctx context.Context, id uuid.UUID, eventID *string) error {
	return execOne(ctx, s.pool, `
		UPDATE appointments
		SET external_event_id = $2,
		    external_synced = true,
		    last_sync_attempt_at = now(),
		    updated_at = now()
		WHERE id = $1
	`, id, eventID)
}

func (s *pgAppointmentStore) MarkSyncFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execOne(ctx, s.pool, `
		UPDATE appointments
		SET external_synced = false,
		    sync_attempts = sync_attempts + 1,
		    last_sync_attempt_at = $2
		WHERE id = $1
	`, id, at)
}

func (s *pgAppointmentStore) ListUnsynced(ctx context.Context, since time.Time, maxAttempts, limit int) ([]*Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE external_synced = false
		  AND deleted_at IS NULL
		  AND updated_at >= $1
		  AND sync_attempts < $2
		ORDER BY updated_at
		LIMIT $3
	`, since, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *pgAppointmentStore) ListUnsyncedForPractitioner(ctx context.Context, practitionerID uuid.UUID, since time.Time, maxAttempts int) ([]*Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND external_synced = false
		  AND deleted_at IS NULL
		  AND updated_at >= $2
		  AND sync_attempts < $3
		ORDER BY updated_at
	`, practitionerID, since, maxAttempts)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// ApplyExternalChange records an edit made in the external calendar. The
// row stays synced because the remote side already has these values.
func (s *pgAppointmentStore) ApplyExternalChange(ctx context.Context, id uuid.UUID, start, end time.Time, notes string) error {
	return execOne(ctx, s.pool, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    duration = $4,
		    notes = $5,
		    schema_version = $6,
		    external_synced = true,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, start, end, int(end.Sub(start)/time.Minute), notes, currentSchemaVersion)
}
