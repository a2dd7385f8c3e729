package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hamptons/attendance-engine/attendance"
)

// =============================================================================
// ATTENDANCE
// =============================================================================

const attendanceColumns = `id, employee, employee_name, attendance_date, shift, status, leave_type,
	late_seconds, regularization_id, docstatus, created_at, updated_at`

// CreateAttendance fails with attendance.ErrAttendanceExists when a
// committed attendance already covers the employee/date.
func (s *Store) CreateAttendance(ctx context.Context, a attendance.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertAttendance(ctx, s.db, a)
}

func insertAttendance(ctx context.Context, db execer, a attendance.Attendance) error {
	stamp := now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO attendance (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EmployeeID, nullString(a.EmployeeName), formatDate(a.Date), nullString(a.Shift),
		string(a.Status), nullString(a.LeaveType), int64(a.Late/time.Second),
		nullString(a.RegularizationID), int(a.DocStatus), stamp, stamp)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s on %s", attendance.ErrAttendanceExists, a.EmployeeID, formatDate(a.Date))
		}
		return fmt.Errorf("failed to insert attendance: %w", err)
	}
	return nil
}

func (s *Store) GetAttendance(ctx context.Context, id string) (*attendance.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.firstAttendance(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, id)
}

// CommittedAttendance returns the attendance with docstatus < 2, if any.
func (s *Store) CommittedAttendance(ctx context.Context, employeeID string, date time.Time) (*attendance.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.firstAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE employee = ? AND attendance_date = ? AND docstatus < 2
		LIMIT 1
	`, employeeID, formatDate(date))
}

// AttendanceFilter narrows ListAttendance. Zero values are ignored.
type AttendanceFilter struct {
	EmployeeID string
	FromDate   *time.Time
	ToDate     *time.Time
	Status     string
	Limit      int
}

func (s *Store) ListAttendance(ctx context.Context, f AttendanceFilter) ([]attendance.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE 1=1`
	var args []any
	if f.EmployeeID != "" {
		query += ` AND employee = ?`
		args = append(args, f.EmployeeID)
	}
	if f.FromDate != nil {
		query += ` AND attendance_date >= ?`
		args = append(args, formatDate(*f.FromDate))
	}
	if f.ToDate != nil {
		query += ` AND attendance_date <= ?`
		args = append(args, formatDate(*f.ToDate))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY attendance_date DESC, employee`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryAttendance(ctx, query, args...)
}

// CancelAttendance sets docstatus 2.
func (s *Store) CancelAttendance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE attendance SET docstatus = 2, updated_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return err
	}
	if err := rowsAffected(res); err != nil {
		return fmt.Errorf("%w: %s", attendance.ErrAttendanceNotFound, id)
	}
	return nil
}

func (s *Store) firstAttendance(ctx context.Context, query string, args ...any) (*attendance.Attendance, error) {
	list, err := s.queryAttendance(ctx, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) queryAttendance(ctx context.Context, query string, args ...any) ([]attendance.Attendance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var out []attendance.Attendance
	for rows.Next() {
		var (
			a                         attendance.Attendance
			name, shift, leave, regID sql.NullString
			date, status              string
			createdAt, updatedAt      string
			late                      int64
			doc                       int
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &name, &date, &shift, &status, &leave,
			&late, &regID, &doc, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.EmployeeName = name.String
		a.Date = parseDate(date)
		a.Shift = shift.String
		a.Status = attendance.AttendanceStatus(status)
		a.LeaveType = leave.String
		a.Late = time.Duration(late) * time.Second
		a.RegularizationID = regID.String
		a.DocStatus = attendance.DocStatus(doc)
		a.CreatedAt = parseStamp(createdAt)
		a.UpdatedAt = parseStamp(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// REGULARIZATIONS
// =============================================================================

const regularizationColumns = `id, employee, employee_name, posting_date, log_type, shift,
	start_time, end_time, late_seconds, status, reports_to, attendance_id, decided_by,
	decided_at, docstatus, created_at, updated_at`

// CreateRegularization fails with attendance.ErrRegularizationExists when an
// active case already covers the employee/date. Item check-ins are linked.
func (s *Store) CreateRegularization(ctx context.Context, r attendance.Regularization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stamp := now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO regularizations (`+regularizationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.EmployeeID, nullString(r.EmployeeName), formatDate(r.PostingDate),
			nullString(string(r.LogType)), nullString(r.Shift), r.StartTime.String(), r.EndTime.String(),
			int64(r.Late/time.Second), string(r.Status), nullString(r.ReportsTo),
			nullString(r.AttendanceID), nullString(r.DecidedBy), nullStamp(r.DecidedAt),
			int(r.DocStatus), stamp, stamp)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s on %s", attendance.ErrRegularizationExists,
					r.EmployeeID, formatDate(r.PostingDate))
			}
			return fmt.Errorf("failed to insert regularization: %w", err)
		}
		for _, it := range r.Items {
			if err := insertItem(ctx, tx, r.ID, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddRegularizationItem appends item, links its check-in and raises the
// case's lateness to late when larger.
func (s *Store) AddRegularizationItem(ctx context.Context, regID string, item attendance.RegularizationItem, late time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE regularizations SET late_seconds = MAX(late_seconds, ?), updated_at = ?
			WHERE id = ?
		`, int64(late/time.Second), now(), regID)
		if err != nil {
			return err
		}
		if err := rowsAffected(res); err != nil {
			return fmt.Errorf("%w: %s", attendance.ErrRegularizationNotFound, regID)
		}
		return insertItem(ctx, tx, regID, item)
	})
}

func insertItem(ctx context.Context, tx *sql.Tx, regID string, it attendance.RegularizationItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO regularization_items (regularization_id, time, log_type, device_id, checkin_id)
		VALUES (?, ?, ?, ?, ?)
	`, regID, formatDateTime(it.Time), string(it.LogType), nullString(it.DeviceID), nullString(it.CheckInID))
	if err != nil {
		return fmt.Errorf("failed to insert regularization item: %w", err)
	}
	return linkCheckIn(ctx, tx, it.CheckInID, regID)
}

func (s *Store) GetRegularization(ctx context.Context, id string) (*attendance.Regularization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadRegularization(ctx, `SELECT `+regularizationColumns+` FROM regularizations WHERE id = ?`, id)
}

// ActiveRegularization returns the case with docstatus < 2, if any.
func (s *Store) ActiveRegularization(ctx context.Context, employeeID string, date time.Time) (*attendance.Regularization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadRegularization(ctx, `
		SELECT `+regularizationColumns+` FROM regularizations
		WHERE employee = ? AND posting_date = ? AND docstatus < 2
		LIMIT 1
	`, employeeID, formatDate(date))
}

// RegularizationFilter narrows ListRegularizations. Zero values are ignored.
type RegularizationFilter struct {
	EmployeeID string
	Status     string
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
}

// ListRegularizations returns cases with their items, newest first.
func (s *Store) ListRegularizations(ctx context.Context, f RegularizationFilter) ([]attendance.Regularization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + regularizationColumns + ` FROM regularizations WHERE 1=1`
	var args []any
	if f.EmployeeID != "" {
		query += ` AND employee = ?`
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.FromDate != nil {
		query += ` AND posting_date >= ?`
		args = append(args, formatDate(*f.FromDate))
	}
	if f.ToDate != nil {
		query += ` AND posting_date <= ?`
		args = append(args, formatDate(*f.ToDate))
	}
	query += ` ORDER BY posting_date DESC, created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	regs, err := s.queryRegularizations(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range regs {
		if regs[i].Items, err = s.regularizationItems(ctx, regs[i].ID); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

// DecideRegularization inserts att and records the decision on reg in one
// transaction.
func (s *Store) DecideRegularization(ctx context.Context, reg attendance.Regularization, att attendance.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertAttendance(ctx, tx, att); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE regularizations
			SET status = ?, docstatus = ?, attendance_id = ?, decided_by = ?, decided_at = ?, updated_at = ?
			WHERE id = ?
		`, string(reg.Status), int(reg.DocStatus), reg.AttendanceID, nullString(reg.DecidedBy),
			nullStamp(reg.DecidedAt), now(), reg.ID)
		if err != nil {
			return err
		}
		if err := rowsAffected(res); err != nil {
			return fmt.Errorf("%w: %s", attendance.ErrRegularizationNotFound, reg.ID)
		}
		return nil
	})
}

func (s *Store) SetRegularizationStatus(ctx context.Context, id string, status attendance.RegularizationStatus, doc attendance.DocStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE regularizations SET status = ?, docstatus = ?, updated_at = ? WHERE id = ?`,
		string(status), int(doc), now(), id)
	if err != nil {
		return err
	}
	if err := rowsAffected(res); err != nil {
		return fmt.Errorf("%w: %s", attendance.ErrRegularizationNotFound, id)
	}
	return nil
}

// DeleteRegularization removes the case and its items and unlinks its
// check-ins.
func (s *Store) DeleteRegularization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE checkins SET regularization_id = NULL WHERE regularization_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM regularization_items WHERE regularization_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM regularizations WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := rowsAffected(res); err != nil {
			return fmt.Errorf("%w: %s", attendance.ErrRegularizationNotFound, id)
		}
		return nil
	})
}

func (s *Store) loadRegularization(ctx context.Context, query string, args ...any) (*attendance.Regularization, error) {
	list, err := s.queryRegularizations(ctx, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	reg := list[0]
	if reg.Items, err = s.regularizationItems(ctx, reg.ID); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *Store) regularizationItems(ctx context.Context, regID string) ([]attendance.RegularizationItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, log_type, device_id, checkin_id FROM regularization_items
		WHERE regularization_id = ? ORDER BY time, id
	`, regID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []attendance.RegularizationItem
	for rows.Next() {
		var (
			it                attendance.RegularizationItem
			t, logType        string
			device, checkInID sql.NullString
		)
		if err := rows.Scan(&t, &logType, &device, &checkInID); err != nil {
			return nil, err
		}
		it.Time = parseDateTime(t)
		it.LogType = attendance.Direction(logType)
		it.DeviceID = device.String
		it.CheckInID = checkInID.String
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) queryRegularizations(ctx context.Context, query string, args ...any) ([]attendance.Regularization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query regularizations: %w", err)
	}
	defer rows.Close()

	var out []attendance.Regularization
	for rows.Next() {
		r, err := scanRegularization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRegularization(row scanner) (attendance.Regularization, error) {
	var (
		r                                attendance.Regularization
		name, logType, shift             sql.NullString
		start, end, reportsTo            sql.NullString
		attendanceID, decidedBy, decided sql.NullString
		posting, status                  string
		createdAt, updatedAt             string
		late                             int64
		doc                              int
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &name, &posting, &logType, &shift, &start, &end,
		&late, &status, &reportsTo, &attendanceID, &decidedBy, &decided, &doc, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.EmployeeName = name.String
	r.PostingDate = parseDate(posting)
	r.LogType = attendance.Direction(logType.String)
	r.Shift = shift.String
	if start.Valid {
		r.StartTime, _ = attendance.ParseClock(start.String)
	}
	if end.Valid {
		r.EndTime, _ = attendance.ParseClock(end.String)
	}
	r.Late = time.Duration(late) * time.Second
	r.Status = attendance.RegularizationStatus(status)
	r.ReportsTo = reportsTo.String
	r.AttendanceID = attendanceID.String
	r.DecidedBy = decidedBy.String
	r.DecidedAt = parseNullStamp(decided)
	r.DocStatus = attendance.DocStatus(doc)
	r.CreatedAt = parseStamp(createdAt)
	r.UpdatedAt = parseStamp(updatedAt)
	return r, nil
}

// =============================================================================
// ERROR LOG AND DELETED DOCUMENTS
// =============================================================================

// ErrorLog is one persisted per-unit failure.
type ErrorLog struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) RecordError(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_logs (id, title, message, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), title, message, now())
	return err
}

// ListErrors returns the most recent error log entries.
func (s *Store) ListErrors(ctx context.Context, limit int) ([]ErrorLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, message, created_at FROM error_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ErrorLog
	for rows.Next() {
		var (
			e         ErrorLog
			message   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Title, &message, &createdAt); err != nil {
			return nil, err
		}
		e.Message = message.String
		e.CreatedAt = parseStamp(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordDeletedDocument stores a JSON snapshot of a document about to be
// deleted.
func (s *Store) RecordDeletedDocument(ctx context.Context, doctype, documentID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", doctype, documentID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deleted_documents (id, doctype, document_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), doctype, documentID, string(payload), now())
	return err
}

// DeletedDocument returns the latest snapshot of a deleted document.
func (s *Store) DeletedDocument(ctx context.Context, doctype, documentID string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM deleted_documents WHERE doctype = ? AND document_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, doctype, documentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data.String), nil
}
