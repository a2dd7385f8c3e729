package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RETENTION CLEANUP
// =============================================================================

// cleanupBatchSize is the number of rows removed per DELETE.
const cleanupBatchSize = 500

// CleanupResult counts the rows removed by Cleanup.
type CleanupResult struct {
	ErrorLogs        int64 `json:"error_logs"`
	DeletedDocuments int64 `json:"deleted_documents"`
	CrossChexLogs    int64 `json:"crosschex_logs"`
}

// Cleanup deletes error logs and deleted-document snapshots older than
// retentionDays, and CrossChex logs older than the integration's own
// retention setting.
func (s *Store) Cleanup(ctx context.Context, now time.Time, retentionDays int) (CleanupResult, error) {
	var res CleanupResult

	st, err := s.GetSettings(ctx)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.AddDate(0, 0, -retentionDays)
	if res.ErrorLogs, err = s.deleteBatched(ctx, "error_logs", cutoff); err != nil {
		return res, err
	}
	if res.DeletedDocuments, err = s.deleteBatched(ctx, "deleted_documents", cutoff); err != nil {
		return res, err
	}
	if res.CrossChexLogs, err = s.deleteBatched(ctx, "crosschex_logs", now.Add(-st.Retention())); err != nil {
		return res, err
	}
	return res, nil
}

// deleteBatched removes rows of table created before cutoff. The caller
// holds s.mu. table is always a constant from this package.
func (s *Store) deleteBatched(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s WHERE created_at < ? LIMIT %d
		)`, table, table, cleanupBatchSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.db.ExecContext(ctx, query, formatStamp(cutoff))
		if err != nil {
			return total, fmt.Errorf("failed to clean %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < cleanupBatchSize {
			return total, nil
		}
	}
}

// =============================================================================
// JOB RUNS
// =============================================================================

const (
	JobRunning = "running"
	JobSuccess = "success"
	JobFailed  = "failed"
)

// JobRun records one execution of a scheduled or manual job.
type JobRun struct {
	ID         string          `json:"id"`
	Job        string          `json:"job"`
	Status     string          `json:"status"`
	Details    json.RawMessage `json:"details,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// StartJob writes a running JobRun and returns its id.
func (s *Store) StartJob(ctx context.Context, job string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, status, started_at) VALUES (?, ?, ?, ?)
	`, id, job, JobRunning, now())
	if err != nil {
		return "", fmt.Errorf("failed to start job %s: %w", job, err)
	}
	return id, nil
}

// FinishJob marks the run success or failed and stores details as JSON.
func (s *Store) FinishJob(ctx context.Context, id string, runErr error, details any) error {
	status := JobSuccess
	if runErr != nil {
		status = JobFailed
		details = map[string]any{"error": runErr.Error(), "result": details}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode job details: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, details = ?, finished_at = ? WHERE id = ?
	`, status, string(payload), now(), id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

// ListJobRuns returns the most recent runs, optionally for one job.
func (s *Store) ListJobRuns(ctx context.Context, job string, limit int) ([]JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, job, status, details, started_at, finished_at FROM job_runs`
	var args []any
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var (
			r                 JobRun
			details, finished sql.NullString
			started           string
		)
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &details, &started, &finished); err != nil {
			return nil, err
		}
		if details.Valid {
			r.Details = json.RawMessage(details.String)
		}
		r.StartedAt = parseStamp(started)
		r.FinishedAt = parseNullStamp(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
