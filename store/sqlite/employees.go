package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hamptons/attendance-engine/attendance"
)

// =============================================================================
// DEPARTMENTS
// =============================================================================

// SaveDepartment stores a department name exactly as given.
func (s *Store) SaveDepartment(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, now())
	return err
}

func (s *Store) ListDepartments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, employee_name, department, designation, gender, date_of_joining, status,
	attendance_device_id, reports_to, nationality, religion, hajj_leave_taken, hajj_leave_date,
	carryforward_enabled, max_carryforward_days, created_at`

// SaveEmployee creates or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e attendance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Status == "" {
		e.Status = attendance.EmployeeActive
	}
	var deviceID sql.NullInt64
	if e.AttendanceDeviceID != nil {
		deviceID = sql.NullInt64{Int64: int64(*e.AttendanceDeviceID), Valid: true}
	}

	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_name = excluded.employee_name,
			department = excluded.department,
			designation = excluded.designation,
			gender = excluded.gender,
			date_of_joining = excluded.date_of_joining,
			status = excluded.status,
			attendance_device_id = excluded.attendance_device_id,
			reports_to = excluded.reports_to,
			nationality = excluded.nationality,
			religion = excluded.religion,
			hajj_leave_taken = excluded.hajj_leave_taken,
			hajj_leave_date = excluded.hajj_leave_date,
			carryforward_enabled = excluded.carryforward_enabled,
			max_carryforward_days = excluded.max_carryforward_days
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Name, nullString(e.Department), nullString(e.Designation), nullString(e.Gender),
		nullDate(e.DateOfJoining), e.Status, deviceID, nullString(e.ReportsTo),
		nullString(e.Nationality), nullString(e.Religion), boolInt(e.HajjLeaveTaken),
		nullDate(e.HajjLeaveDate), boolInt(e.CarryForwardEnabled), e.MaxCarryForwardDays, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns nil when the employee does not exist.
func (s *Store) GetEmployee(ctx context.Context, id string) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getEmployee(ctx, s.db, id)
}

func (s *Store) getEmployee(ctx context.Context, q querier, id string) (*attendance.Employee, error) {
	row := q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmployees returns employees with the given status, or all when
// status is empty.
func (s *Store) ListEmployees(ctx context.Context, status string) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + employeeColumns + ` FROM employees`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EmployeeByDeviceID returns the Active employee enrolled under the device
// number, or nil.
func (s *Store) EmployeeByDeviceID(ctx context.Context, deviceID int) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees
		 WHERE attendance_device_id = ? AND status = ? ORDER BY id LIMIT 1`,
		deviceID, attendance.EmployeeActive)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkOnceInServiceTaken records that the employee has used their Hajj leave.
func (s *Store) MarkOnceInServiceTaken(ctx context.Context, employeeID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE employees SET hajj_leave_taken = 1, hajj_leave_date = ? WHERE id = ?`,
		formatDate(date), employeeID)
	if err != nil {
		return err
	}
	if err := rowsAffected(res); err != nil {
		return fmt.Errorf("%w: %s", attendance.ErrEmployeeNotFound, employeeID)
	}
	return nil
}

func scanEmployee(row scanner) (attendance.Employee, error) {
	var (
		e                                          attendance.Employee
		department, designation, gender, joined    sql.NullString
		reportsTo, nationality, religion, hajjDate sql.NullString
		deviceID                                   sql.NullInt64
		hajjTaken, carryForward                    int
		createdAt                                  string
	)
	err := row.Scan(
		&e.ID, &e.Name, &department, &designation, &gender, &joined, &e.Status,
		&deviceID, &reportsTo, &nationality, &religion, &hajjTaken, &hajjDate,
		&carryForward, &e.MaxCarryForwardDays, &createdAt,
	)
	if err != nil {
		return e, err
	}
	e.Department = department.String
	e.Designation = designation.String
	e.Gender = gender.String
	e.DateOfJoining = parseNullDate(joined)
	if deviceID.Valid {
		id := int(deviceID.Int64)
		e.AttendanceDeviceID = &id
	}
	e.ReportsTo = reportsTo.String
	e.Nationality = nationality.String
	e.Religion = religion.String
	e.HajjLeaveTaken = hajjTaken == 1
	e.HajjLeaveDate = parseNullDate(hajjDate)
	e.CarryForwardEnabled = carryForward == 1
	e.CreatedAt = parseStamp(createdAt)
	return e, nil
}

// =============================================================================
// SHIFT TYPES
// =============================================================================

// SaveShiftType creates or updates a shift type. The caller validates it.
func (s *Store) SaveShiftType(ctx context.Context, st attendance.ShiftType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shift_types (name, start_time, end_time, late_entry_grace_period,
			enable_late_entry_marking, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			late_entry_grace_period = excluded.late_entry_grace_period,
			enable_late_entry_marking = excluded.enable_late_entry_marking
	`, st.Name, st.StartTime.String(), st.EndTime.String(), st.GracePeriodMinutes,
		boolInt(st.EnableLateMarking), now())
	return err
}

func (s *Store) GetShiftType(ctx context.Context, name string) (*attendance.ShiftType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT name, start_time, end_time, late_entry_grace_period, enable_late_entry_marking
		FROM shift_types WHERE name = ?`, name)
	st, err := scanShiftType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListShiftTypes(ctx context.Context) ([]attendance.ShiftType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, start_time, end_time, late_entry_grace_period, enable_late_entry_marking
		FROM shift_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.ShiftType
	for rows.Next() {
		st, err := scanShiftType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanShiftType(row scanner) (attendance.ShiftType, error) {
	var (
		st         attendance.ShiftType
		start, end string
		marking    int
	)
	if err := row.Scan(&st.Name, &start, &end, &st.GracePeriodMinutes, &marking); err != nil {
		return st, err
	}
	var err error
	if st.StartTime, err = attendance.ParseClock(start); err != nil {
		return st, fmt.Errorf("shift %s: %w", st.Name, err)
	}
	if st.EndTime, err = attendance.ParseClock(end); err != nil {
		return st, fmt.Errorf("shift %s: %w", st.Name, err)
	}
	st.EnableLateMarking = marking == 1
	return st, nil
}

// =============================================================================
// SHIFT ASSIGNMENTS
// =============================================================================

const assignmentColumns = `id, employee, shift_type, start_date, end_date, docstatus, created_at`

func (s *Store) CreateShiftAssignment(ctx context.Context, a attendance.ShiftAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shift_assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EmployeeID, a.ShiftType, formatDate(a.StartDate), nullDate(a.EndDate),
		int(a.DocStatus), formatStamp(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create shift assignment: %w", err)
	}
	return nil
}

// ListShiftAssignments returns an employee's assignments, newest first, or
// all assignments when employeeID is empty.
func (s *Store) ListShiftAssignments(ctx context.Context, employeeID string) ([]attendance.ShiftAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + assignmentColumns + ` FROM shift_assignments`
	var args []any
	if employeeID != "" {
		query += ` WHERE employee = ?`
		args = append(args, employeeID)
	}
	query += ` ORDER BY employee, start_date DESC, created_at DESC`
	return s.queryAssignments(ctx, query, args...)
}

// ActiveShiftAssignments returns one submitted assignment per employee
// covering date. On overlap the latest start date wins.
func (s *Store) ActiveShiftAssignments(ctx context.Context, date time.Time) ([]attendance.ShiftAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := formatDate(date)
	all, err := s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM shift_assignments
		WHERE docstatus = 1 AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY employee, start_date DESC, created_at DESC
	`, d, d)
	if err != nil {
		return nil, err
	}

	out := make([]attendance.ShiftAssignment, 0, len(all))
	for i, a := range all {
		if i > 0 && all[i-1].EmployeeID == a.EmployeeID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ActiveShiftAssignment is ActiveShiftAssignments for one employee.
func (s *Store) ActiveShiftAssignment(ctx context.Context, employeeID string, date time.Time) (*attendance.ShiftAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := formatDate(date)
	return s.firstAssignment(ctx, `
		SELECT `+assignmentColumns+` FROM shift_assignments
		WHERE employee = ? AND docstatus = 1 AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date DESC, created_at DESC LIMIT 1
	`, employeeID, d, d)
}

// LatestShiftAssignment returns the submitted assignment with the latest
// start on or before date, ignoring its end date.
func (s *Store) LatestShiftAssignment(ctx context.Context, employeeID string, date time.Time) (*attendance.ShiftAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.firstAssignment(ctx, `
		SELECT `+assignmentColumns+` FROM shift_assignments
		WHERE employee = ? AND docstatus = 1 AND start_date <= ?
		ORDER BY start_date DESC, created_at DESC LIMIT 1
	`, employeeID, formatDate(date))
}

func (s *Store) firstAssignment(ctx context.Context, query string, args ...any) (*attendance.ShiftAssignment, error) {
	list, err := s.queryAssignments(ctx, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]attendance.ShiftAssignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shift assignments: %w", err)
	}
	defer rows.Close()

	var out []attendance.ShiftAssignment
	for rows.Next() {
		var (
			a                attendance.ShiftAssignment
			start, createdAt string
			end              sql.NullString
			doc              int
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.ShiftType, &start, &end, &doc, &createdAt); err != nil {
			return nil, err
		}
		a.StartDate = parseDate(start)
		a.EndDate = parseNullDate(end)
		a.DocStatus = attendance.DocStatus(doc)
		a.CreatedAt = parseStamp(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
