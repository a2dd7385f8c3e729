package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hamptons/attendance-engine/attendance"
)

// =============================================================================
// CHECK-INS
// =============================================================================
// Check-ins are never updated except for the regularization link.

const checkInColumns = `id, employee, employee_name, time, log_type, device_id, shift,
	crosschex_uuid, regularization_id, created_at`

// CreateCheckIn fails with attendance.ErrDuplicateCheckIn when the external
// UUID is already stored.
func (s *Store) CreateCheckIn(ctx context.Context, ci attendance.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ci.CreatedAt.IsZero() {
		ci.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins (`+checkInColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ci.ID, ci.EmployeeID, nullString(ci.EmployeeName), formatDateTime(ci.Time),
		string(ci.LogType), nullString(ci.DeviceID), nullString(ci.Shift),
		nullString(ci.ExternalUUID), nullString(ci.RegularizationID), formatStamp(ci.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", attendance.ErrDuplicateCheckIn, ci.ExternalUUID)
		}
		return fmt.Errorf("failed to insert check-in: %w", err)
	}
	return nil
}

func (s *Store) CheckInExists(ctx context.Context, externalUUID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkins WHERE crosschex_uuid = ?`, externalUUID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) GetCheckIn(ctx context.Context, id string) (*attendance.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryCheckIns(ctx, `SELECT `+checkInColumns+` FROM checkins WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListCheckInsOn returns all check-ins on date ordered by employee, time.
func (s *Store) ListCheckInsOn(ctx context.Context, date time.Time) ([]attendance.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCheckIns(ctx, `
		SELECT `+checkInColumns+` FROM checkins
		WHERE DATE(time) = ?
		ORDER BY employee, time
	`, formatDate(date))
}

// ListEmployeeCheckIns returns one employee's check-ins on date in time order.
func (s *Store) ListEmployeeCheckIns(ctx context.Context, employeeID string, date time.Time) ([]attendance.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCheckIns(ctx, `
		SELECT `+checkInColumns+` FROM checkins
		WHERE employee = ? AND DATE(time) = ?
		ORDER BY time
	`, employeeID, formatDate(date))
}

func (s *Store) queryCheckIns(ctx context.Context, query string, args ...any) ([]attendance.CheckIn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer rows.Close()

	var out []attendance.CheckIn
	for rows.Next() {
		var (
			ci                               attendance.CheckIn
			name, device, shift, uuid, regID sql.NullString
			t, logType, createdAt            string
		)
		if err := rows.Scan(&ci.ID, &ci.EmployeeID, &name, &t, &logType, &device, &shift,
			&uuid, &regID, &createdAt); err != nil {
			return nil, err
		}
		ci.EmployeeName = name.String
		ci.Time = parseDateTime(t)
		ci.LogType = attendance.Direction(logType)
		ci.DeviceID = device.String
		ci.Shift = shift.String
		ci.ExternalUUID = uuid.String
		ci.RegularizationID = regID.String
		ci.CreatedAt = parseStamp(createdAt)
		out = append(out, ci)
	}
	return out, rows.Err()
}

// linkCheckIn points a check-in at a regularization unless it already
// belongs to one.
func linkCheckIn(ctx context.Context, db execer, checkInID, regID string) error {
	if checkInID == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE checkins SET regularization_id = ?
		WHERE id = ? AND (regularization_id IS NULL OR regularization_id = '')
	`, regID, checkInID)
	return err
}
