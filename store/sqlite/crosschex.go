package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hamptons/attendance-engine/crosschex"
)

// =============================================================================
// CROSSCHEX SETTINGS (singleton row id = 1)
// =============================================================================

// GetSettings returns defaults when nothing has been saved yet.
func (s *Store) GetSettings(ctx context.Context) (crosschex.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getSettings(ctx)
}

func (s *Store) getSettings(ctx context.Context) (crosschex.Settings, error) {
	var (
		st                                   crosschex.Settings
		enabled                              int
		apiURL, apiKey, apiSecret, token     sql.NullString
		expires, status, generated, lastSync sql.NullString
		lastStatus                           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, api_url, api_key, api_secret, token, token_expires, connection_status,
		       last_token_generated, last_sync_time, last_sync_status, log_retention_days
		FROM crosschex_settings WHERE id = 1
	`).Scan(&enabled, &apiURL, &apiKey, &apiSecret, &token, &expires, &status,
		&generated, &lastSync, &lastStatus, &st.LogRetentionDays)
	if errors.Is(err, sql.ErrNoRows) {
		return crosschex.Settings{
			APIURL:           crosschex.DefaultAPIURL,
			ConnectionStatus: crosschex.StatusNotTested,
			LogRetentionDays: crosschex.DefaultLogRetentionDays,
		}, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load CrossChex settings: %w", err)
	}

	st.Enabled = enabled == 1
	st.APIURL = apiURL.String
	st.APIKey = apiKey.String
	st.APISecret = apiSecret.String
	st.Token = token.String
	st.TokenExpires = parseNullStamp(expires)
	st.ConnectionStatus = status.String
	st.LastTokenGenerated = parseNullStamp(generated)
	st.LastSyncTime = parseNullStamp(lastSync)
	st.LastSyncStatus = lastStatus.String
	return st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st crosschex.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crosschex_settings (id, enabled, api_url, api_key, api_secret, token,
			token_expires, connection_status, last_token_generated, last_sync_time,
			last_sync_status, log_retention_days)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			api_url = excluded.api_url,
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			token = excluded.token,
			token_expires = excluded.token_expires,
			connection_status = excluded.connection_status,
			last_token_generated = excluded.last_token_generated,
			last_sync_time = excluded.last_sync_time,
			last_sync_status = excluded.last_sync_status,
			log_retention_days = excluded.log_retention_days
	`, boolInt(st.Enabled), nullString(st.APIURL), nullString(st.APIKey), nullString(st.APISecret),
		nullString(st.Token), nullStamp(st.TokenExpires), nullString(st.ConnectionStatus),
		nullStamp(st.LastTokenGenerated), nullStamp(st.LastSyncTime), nullString(st.LastSyncStatus),
		st.LogRetentionDays)
	if err != nil {
		return fmt.Errorf("failed to save CrossChex settings: %w", err)
	}
	return nil
}

// =============================================================================
// CROSSCHEX LOGS
// =============================================================================

func (s *Store) CreateLog(ctx context.Context, l crosschex.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crosschex_logs (id, log_type, status, request_payload, records_processed,
			checkins_created, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.LogType, l.Status, nullString(l.RequestPayload), l.RecordsProcessed,
		l.CheckinsCreated, nullString(l.ErrorMessage), formatStamp(l.CreatedAt), formatStamp(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert CrossChex log: %w", err)
	}
	return nil
}

func (s *Store) UpdateLog(ctx context.Context, l crosschex.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE crosschex_logs
		SET status = ?, records_processed = ?, checkins_created = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, l.Status, l.RecordsProcessed, l.CheckinsCreated, nullString(l.ErrorMessage),
		formatStamp(l.UpdatedAt), l.ID)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

// ListLogs returns the most recent integration logs first.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]crosschex.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_type, status, request_payload, records_processed, checkins_created,
		       error_message, created_at, updated_at
		FROM crosschex_logs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []crosschex.Log
	for rows.Next() {
		var (
			l                    crosschex.Log
			payload, message     sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&l.ID, &l.LogType, &l.Status, &payload, &l.RecordsProcessed,
			&l.CheckinsCreated, &message, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.RequestPayload = payload.String
		l.ErrorMessage = message.String
		l.CreatedAt = parseStamp(createdAt)
		l.UpdatedAt = parseStamp(updatedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteLogsBefore removes integration logs created before cutoff.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteBatched(ctx, "crosschex_logs", cutoff)
}
