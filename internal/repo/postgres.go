package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/schema.sql
var schemaSQL string

// Postgres SQLSTATE codes the stores translate into sentinel errors.
const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
	pgCheckViolation     = "23514"
)

// NewPostgresClient wires every store to the same pool. Closing the client
// closes the pool.
func NewPostgresClient(pool *pgxpool.Pool) *Client {
	return &Client{
		Availability: &pgAvailabilityStore{pool: pool},
		BlockedTime:  &pgBlockedTimeStore{pool: pool},
		Appointment:  &pgAppointmentStore{pool: pool},
		CalendarSync: &pgCalendarSyncStore{pool: pool},
		close:        pool.Close,
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL, used by `system migrate --dry-run`.
func Schema() string {
	return schemaSQL
}

// mapError converts driver errors into the package sentinels.
func mapError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgExclusionViolation:
			return fmt.Errorf("%w: %s", ErrOverlap, pgErr.ConstraintName)
		case pgCheckViolation:
			if pgErr.ConstraintName == "calendar_syncs_credentials_chk" {
				return ErrCredentialsMissing
			}
			return fmt.Errorf("%w: %s", ErrInvalidInterval, pgErr.ConstraintName)
		}
	}
	return err
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) error {
	tag, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, ErrNotFound)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
