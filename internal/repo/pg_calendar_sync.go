package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const calendarSyncColumns = `practitioner_id, encrypted_access_token, encrypted_refresh_token, token_expiry,
	external_calendar_id, connected_email, sync_enabled, sync_direction, privacy_level,
	needs_reauth, last_synced_at, webhook_channel_id, webhook_resource_id, webhook_token,
	webhook_expiration, sync_errors, created_at, updated_at`

type pgCalendarSyncStore struct {
	pool *pgxpool.Pool
}

func scanCalendarSync(row pgx.Row) (*CalendarSync, error) {
	var (
		s      CalendarSync
		errLog []byte
	)
	err := row.Scan(
		&s.PractitionerID,
		&s.EncryptedAccessToken,
		&s.EncryptedRefreshToken,
		&s.TokenExpiry,
		&s.ExternalCalendarID,
		&s.ConnectedEmail,
		&s.SyncEnabled,
		&s.SyncDirection,
		&s.PrivacyLevel,
		&s.NeedsReauth,
		&s.LastSyncedAt,
		&s.Webhook.ChannelID,
		&s.Webhook.ResourceID,
		&s.Webhook.Token,
		&s.Webhook.Expiration,
		&errLog,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	s.SyncErrors = []SyncError{}
	if len(errLog) > 0 {
		if err := json.Unmarshal(errLog, &s.SyncErrors); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func collectCalendarSyncs(rows pgx.Rows) ([]*CalendarSync, error) {
	defer rows.Close()
	var out []*CalendarSync
	for rows.Next() {
		s, err := scanCalendarSync(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *pgCalendarSyncStore) Get(ctx context.Context, practitionerID uuid.UUID) (*CalendarSync, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT `+calendarSyncColumns+`
		FROM calendar_syncs
		WHERE practitioner_id = $1
	`, practitionerID)
	return scanCalendarSync(row)
}

func (st *pgCalendarSyncStore) GetByChannel(ctx context.Context, channelID string) (*CalendarSync, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT `+calendarSyncColumns+`
		FROM calendar_syncs
		WHERE webhook_channel_id = $1 AND webhook_channel_id <> ''
	`, channelID)
	return scanCalendarSync(row)
}

// Upsert stores a fresh connection. The error log survives reconnects.
func (st *pgCalendarSyncStore) Upsert(ctx context.Context, s *CalendarSync) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := st.pool.Exec(ctx, `
		INSERT INTO calendar_syncs (
			practitioner_id, encrypted_access_token, encrypted_refresh_token, token_expiry,
			external_calendar_id, connected_email, sync_enabled, sync_direction, privacy_level,
			needs_reauth, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (practitioner_id) DO UPDATE SET
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			external_calendar_id = EXCLUDED.external_calendar_id,
			connected_email = EXCLUDED.connected_email,
			sync_enabled = EXCLUDED.sync_enabled,
			sync_direction = EXCLUDED.sync_direction,
			privacy_level = EXCLUDED.privacy_level,
			needs_reauth = EXCLUDED.needs_reauth,
			updated_at = now()
	`, s.PractitionerID, s.EncryptedAccessToken, s.EncryptedRefreshToken, s.TokenExpiry,
		s.ExternalCalendarID, s.ConnectedEmail, s.SyncEnabled, s.SyncDirection, s.PrivacyLevel,
		s.NeedsReauth)
	return mapError(err, ErrNotFound)
}

func (st *pgCalendarSyncStore) Delete(ctx context.Context, practitionerID uuid.UUID) error {
	return execOne(ctx, st.pool, `DELETE FROM calendar_syncs WHERE practitioner_id = $1`, practitionerID)
}

func (st *pgCalendarSyncStore) ListEnabled(ctx context.Context) ([]*CalendarSync, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT `+calendarSyncColumns+`
		FROM calendar_syncs
		WHERE sync_enabled AND NOT needs_reauth
		ORDER BY practitioner_id
	`)
	if err != nil {
		return nil, err
	}
	return collectCalendarSyncs(rows)
}

func (st *pgCalendarSyncStore) ListWebhooksExpiringBefore(ctx context.Context, t time.Time) ([]*CalendarSync, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT `+calendarSyncColumns+`
		FROM calendar_syncs
		WHERE sync_enabled
		  AND NOT needs_reauth
		  AND (webhook_channel_id = '' OR webhook_expiration IS NULL OR webhook_expiration < $1)
		ORDER BY practitioner_id
	`, t)
	if err != nil {
		return nil, err
	}
	return collectCalendarSyncs(rows)
}

func (st *pgCalendarSyncStore) UpdateCredentials(ctx context.Context, practitionerID uuid.UUID, access, refresh string, expiry time.Time) error {
	return execOne(ctx, st.pool, `
		UPDATE calendar_syncs
		SET encrypted_access_token = $2,
		    encrypted_refresh_token = $3,
		    token_expiry = $4,
		    needs_reauth = false,
		    updated_at = now()
		WHERE practitioner_id = $1
	`, practitionerID, access, refresh, expiry)
}

func (st *pgCalendarSyncStore) UpdateSettings(ctx context.Context, practitionerID uuid.UUID, p SettingsPatch) (*CalendarSync, error) {
	row := st.pool.QueryRow(ctx, `
		UPDATE calendar_syncs
		SET sync_enabled = COALESCE($2, sync_enabled),
		    sync_direction = COALESCE($3, sync_direction),
		    privacy_level = COALESCE($4, privacy_level),
		    updated_at = now()
		WHERE practitioner_id = $1
		RETURNING `+calendarSyncColumns,
		practitionerID, p.SyncEnabled, nullableString(p.SyncDirection), nullableString(p.PrivacyLevel),
	)
	return scanCalendarSync(row)
}

func nullableString[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func (st *pgCalendarSyncStore) SetWebhook(ctx context.Context, practitionerID uuid.UUID, w WebhookChannel) error {
	return execOne(ctx, st.pool, `
		UPDATE calendar_syncs
		SET webhook_channel_id = $2,
		    webhook_resource_id = $3,
		    webhook_token = $4,
		    webhook_expiration = $5,
		    updated_at = now()
		WHERE practitioner_id = $1
	`, practitionerID, w.ChannelID, w.ResourceID, w.Token, w.Expiration)
}

func (st *pgCalendarSyncStore) DisableSync(ctx context.Context, practitionerID uuid.UUID, needsReauth bool) error {
	return execOne(ctx, st.pool, `
		UPDATE calendar_syncs
		SET sync_enabled = false,
		    needs_reauth = $2,
		    updated_at = now()
		WHERE practitioner_id = $1
	`, practitionerID, needsReauth)
}

func (st *pgCalendarSyncStore) MarkSynced(ctx context.Context, practitionerID uuid.UUID, at time.Time) error {
	return execOne(ctx, st.pool, `
		UPDATE calendar_syncs
		SET last_synced_at = $2,
		    sync_errors = COALESCE((
		        SELECT jsonb_agg(jsonb_set(e, '{resolved}', 'true'::jsonb) ORDER BY ord)
		        FROM jsonb_array_elements(sync_errors) WITH ORDINALITY AS t(e, ord)
		    ), '[]'::jsonb),
		    updated_at = now()
		WHERE practitioner_id = $1
	`, practitionerID, at)
}

// AppendError pushes e and keeps only the newest max entries, in one UPDATE
// so concurrent failures cannot lose each other's writes.
func (st *pgCalendarSyncStore) AppendError(ctx context.Context, practitionerID uuid.UUID, e SyncError, max int) error {
	entry, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return execOne(ctx, st.pool, `
		UPDATE calendar_syncs
		SET sync_errors = (
		        SELECT COALESCE(jsonb_agg(x.e ORDER BY x.ord), '[]'::jsonb)
		        FROM (
		            SELECT e, ord
		            FROM jsonb_array_elements(sync_errors || jsonb_build_array($2::jsonb)) WITH ORDINALITY AS t(e, ord)
		            ORDER BY ord DESC
		            LIMIT $3
		        ) AS x
		    ),
		    updated_at = now()
		WHERE practitioner_id = $1
	`, practitionerID, string(entry), max)
}

func (st *pgCalendarSyncStore) ClearErrors(ctx context.Context, practitionerID uuid.UUID) error {
	return execOne(ctx, st.pool, `
		UPDATE calendar_syncs
		SET sync_errors = '[]'::jsonb, updated_at = now()
		WHERE practitioner_id = $1
	`, practitionerID)
}

func (st *pgCalendarSyncStore) PruneErrors(ctx context.Context, before time.Time) (int64, error) {
	tag, err := st.pool.Exec(ctx, `
		UPDATE calendar_syncs
		SET sync_errors = COALESCE((
		        SELECT jsonb_agg(e ORDER BY ord)
		        FROM jsonb_array_elements(sync_errors) WITH ORDINALITY AS t(e, ord)
		        WHERE (e->>'occurred_at')::timestamptz >= $1
		    ), '[]'::jsonb)
		WHERE EXISTS (
		    SELECT 1 FROM jsonb_array_elements(sync_errors) AS t(e)
		    WHERE (e->>'occurred_at')::timestamptz < $1
		)
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
