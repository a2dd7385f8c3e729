package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/report"
)

// =============================================================================
// REPORT QUERIES (report.Store interface)
// =============================================================================
// All date filters compare DATE(time) against calendar dates so a range
// ending on a day includes that whole day.

// activeShiftSQL resolves the shift type in force for checkin alias c.
const activeShiftSQL = `(
	SELECT sa.shift_type FROM shift_assignments sa
	WHERE sa.employee = c.employee AND sa.docstatus = 1
	  AND sa.start_date <= DATE(c.time)
	  AND (sa.end_date IS NULL OR sa.end_date >= DATE(c.time))
	ORDER BY sa.start_date DESC, sa.created_at DESC LIMIT 1
)`

// CheckInAggregates groups check-ins per date and employee.
func (s *Store) CheckInAggregates(ctx context.Context, f report.Filters) ([]report.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		inner []string
		outer []string
		args  []any
	)
	if f.FromDate != nil {
		inner = append(inner, `DATE(c.time) >= ?`)
		args = append(args, formatDate(*f.FromDate))
	}
	if f.ToDate != nil {
		inner = append(inner, `DATE(c.time) <= ?`)
		args = append(args, formatDate(*f.ToDate))
	}
	if f.Employee != "" {
		inner = append(inner, `c.employee = ?`)
		args = append(args, f.Employee)
	}
	if f.Department != "" {
		inner = append(inner, `e.department = ?`)
		args = append(args, f.Department)
	}
	if f.Designation != "" {
		inner = append(inner, `e.designation = ?`)
		args = append(args, f.Designation)
	}
	if f.LogType != "" {
		inner = append(inner, `c.log_type = ?`)
		args = append(args, string(f.LogType))
	}
	if f.DeviceID != "" {
		inner = append(inner, `c.device_id = ?`)
		args = append(args, f.DeviceID)
	}
	if f.Shift != "" {
		outer = append(outer, `g.shift = ?`)
		args = append(args, f.Shift)
	}
	if f.ShowOnlyWithRegularization {
		outer = append(outer, `r.id IS NOT NULL`)
	}

	query := `
		SELECT g.d, g.employee, g.employee_name, g.department, g.designation, g.shift,
		       st.start_time, st.end_time, g.first_in, g.last_out, g.total, g.devices,
		       r.id, r.status
		FROM (
			SELECT DATE(c.time) AS d, c.employee AS employee,
			       COALESCE(MAX(e.employee_name), MAX(c.employee_name), '') AS employee_name,
			       COALESCE(MAX(e.department), '') AS department,
			       COALESCE(MAX(e.designation), '') AS designation,
			       ` + activeShiftSQL + ` AS shift,
			       MIN(CASE WHEN c.log_type = 'IN' THEN c.time END) AS first_in,
			       MAX(CASE WHEN c.log_type = 'OUT' THEN c.time END) AS last_out,
			       COUNT(*) AS total,
			       GROUP_CONCAT(DISTINCT c.device_id) AS devices
			FROM checkins c
			LEFT JOIN employees e ON e.id = c.employee
			WHERE ` + where(inner) + `
			GROUP BY DATE(c.time), c.employee
		) g
		LEFT JOIN shift_types st ON st.name = g.shift
		LEFT JOIN regularizations r ON r.employee = g.employee AND r.posting_date = g.d AND r.docstatus < 2
		WHERE ` + where(outer) + `
		ORDER BY g.d DESC, g.employee_name
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query check-in report: %w", err)
	}
	defer rows.Close()

	var out []report.Aggregate
	for rows.Next() {
		var (
			a                         report.Aggregate
			d                         string
			shift, start, end         sql.NullString
			firstIn, lastOut, devices sql.NullString
			regID, regStatus          sql.NullString
		)
		if err := rows.Scan(&d, &a.Employee, &a.EmployeeName, &a.Department, &a.Designation,
			&shift, &start, &end, &firstIn, &lastOut, &a.TotalCheckIns, &devices,
			&regID, &regStatus); err != nil {
			return nil, err
		}
		a.Date = parseDate(d)
		a.Shift = shift.String
		a.ShiftStart = nullClock(start)
		a.ShiftEnd = nullClock(end)
		a.FirstIn = nullDateTime(firstIn)
		a.LastOut = nullDateTime(lastOut)
		a.Devices = strings.ReplaceAll(devices.String, ",", ", ")
		a.Regularization = regID.String
		a.RegularizationStatus = regStatus.String

		if f.ShowOnlyLate && !(a.FirstIn != nil && a.ShiftStart != nil && a.FirstIn.After(a.ShiftStart.On(a.Date))) {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// DASHBOARD
// =============================================================================

func (s *Store) DaySummary(ctx context.Context, date time.Time) (report.DaySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum report.DaySummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT employee), COUNT(*),
		       COALESCE(SUM(CASE WHEN log_type = 'IN' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN log_type = 'OUT' THEN 1 ELSE 0 END), 0)
		FROM checkins WHERE DATE(time) = ?
	`, formatDate(date)).Scan(&sum.TotalEmployees, &sum.TotalCheckIns, &sum.TotalIn, &sum.TotalOut)
	return sum, err
}

// DayCheckIns returns the latest check-ins of the day with their shift times.
func (s *Store) DayCheckIns(ctx context.Context, date time.Time, limit int) ([]report.DashboardCheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT x.id, x.employee, x.employee_name, x.department, x.time, x.log_type, x.device_id,
		       x.shift, x.shift_type, st.start_time, st.end_time
		FROM (
			SELECT c.id, c.employee,
			       COALESCE(e.employee_name, c.employee_name, '') AS employee_name,
			       COALESCE(e.department, '') AS department,
			       c.time, c.log_type, COALESCE(c.device_id, '') AS device_id,
			       COALESCE(c.shift, '') AS shift,
			       COALESCE(`+activeShiftSQL+`, c.shift, '') AS shift_type
			FROM checkins c
			LEFT JOIN employees e ON e.id = c.employee
			WHERE DATE(c.time) = ?
			ORDER BY c.time DESC
			LIMIT ?
		) x
		LEFT JOIN shift_types st ON st.name = x.shift_type
		ORDER BY x.time DESC
	`, formatDate(date), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dashboard check-ins: %w", err)
	}
	defer rows.Close()

	var out []report.DashboardCheckIn
	for rows.Next() {
		var (
			c          report.DashboardCheckIn
			t, logType string
			start, end sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Employee, &c.EmployeeName, &c.Department, &t, &logType,
			&c.DeviceID, &c.Shift, &c.ShiftType, &start, &end); err != nil {
			return nil, err
		}
		c.Time = parseDateTime(t)
		c.LogType = attendance.Direction(logType)
		c.StartTime = nullClock(start)
		c.EndTime = nullClock(end)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DepartmentBreakdown(ctx context.Context, date time.Time) ([]report.DepartmentCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.department, COUNT(DISTINCT c.employee), COUNT(*)
		FROM checkins c
		JOIN employees e ON e.id = c.employee
		WHERE DATE(c.time) = ? AND e.department IS NOT NULL AND e.department != ''
		GROUP BY e.department
		ORDER BY COUNT(*) DESC, e.department
	`, formatDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.DepartmentCount
	for rows.Next() {
		var d report.DepartmentCount
		if err := rows.Scan(&d.Department, &d.EmployeeCount, &d.CheckInCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PendingRegularizations returns undecided cases, newest first.
func (s *Store) PendingRegularizations(ctx context.Context, limit int) ([]report.PendingRegularization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee, COALESCE(employee_name, ''), posting_date, late_seconds, status,
		       COALESCE(shift, '')
		FROM regularizations
		WHERE status IN (?, ?) AND docstatus < 2
		ORDER BY posting_date DESC, created_at DESC
		LIMIT ?
	`, string(attendance.RegOpen), string(attendance.RegPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.PendingRegularization
	for rows.Next() {
		var (
			p    report.PendingRegularization
			late int64
		)
		if err := rows.Scan(&p.ID, &p.Employee, &p.EmployeeName, &p.PostingDate, &late, &p.Status, &p.Shift); err != nil {
			return nil, err
		}
		p.Late = report.FormatDuration(time.Duration(late) * time.Second)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LateArrivals returns each employee's first IN of the day when it falls
// after the scheduled start, the latest arrivals first.
func (s *Store) LateArrivals(ctx context.Context, date time.Time, limit int) ([]report.LateArrival, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT x.employee, x.employee_name, x.department, x.first_in, st.start_time
		FROM (
			SELECT c.employee,
			       COALESCE(MAX(e.employee_name), MAX(c.employee_name), '') AS employee_name,
			       COALESCE(MAX(e.department), '') AS department,
			       MIN(c.time) AS first_in,
			       `+activeShiftSQL+` AS shift_type
			FROM checkins c
			LEFT JOIN employees e ON e.id = c.employee
			WHERE DATE(c.time) = ? AND c.log_type = 'IN'
			GROUP BY c.employee
		) x
		JOIN shift_types st ON st.name = x.shift_type
		WHERE TIME(x.first_in) > st.start_time
	`, formatDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query late arrivals: %w", err)
	}
	defer rows.Close()

	var out []report.LateArrival
	for rows.Next() {
		var (
			la             report.LateArrival
			firstIn, start string
		)
		if err := rows.Scan(&la.Employee, &la.EmployeeName, &la.Department, &firstIn, &start); err != nil {
			return nil, err
		}
		la.Time = parseDateTime(firstIn)
		if la.StartTime, err = attendance.ParseClock(start); err != nil {
			return nil, err
		}
		out = append(out, la)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lateness(out[i]) > lateness(out[j])
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func lateness(la report.LateArrival) time.Duration {
	return la.Time.Sub(la.StartTime.On(la.Time))
}

// EmployeeCheckIns returns one employee's check-ins in [from, to], newest
// first, each with the day's active regularization.
func (s *Store) EmployeeCheckIns(ctx context.Context, employeeID string, from, to time.Time) ([]report.EmployeeCheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.time, c.log_type, COALESCE(c.device_id, ''), COALESCE(c.shift, ''),
		       COALESCE(r.id, ''), COALESCE(r.status, '')
		FROM checkins c
		LEFT JOIN regularizations r
		       ON r.employee = c.employee AND r.posting_date = DATE(c.time) AND r.docstatus < 2
		WHERE c.employee = ? AND DATE(c.time) BETWEEN ? AND ?
		ORDER BY c.time DESC
	`, employeeID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.EmployeeCheckIn
	for rows.Next() {
		var (
			c          report.EmployeeCheckIn
			t, logType string
		)
		if err := rows.Scan(&c.ID, &t, &logType, &c.DeviceID, &c.Shift,
			&c.Regularization, &c.RegularizationStatus); err != nil {
			return nil, err
		}
		c.Time = parseDateTime(t)
		c.Date = attendance.DateOf(c.Time)
		c.LogType = attendance.Direction(logType)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeviceUsage(ctx context.Context, from, to time.Time) ([]report.DeviceUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(device_id, ''), 'Unknown') AS device, COUNT(*), COUNT(DISTINCT employee),
		       COALESCE(SUM(CASE WHEN log_type = 'IN' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN log_type = 'OUT' THEN 1 ELSE 0 END), 0)
		FROM checkins
		WHERE DATE(time) BETWEEN ? AND ?
		GROUP BY device
		ORDER BY COUNT(*) DESC, device
	`, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.DeviceUsage
	for rows.Next() {
		var d report.DeviceUsage
		if err := rows.Scan(&d.DeviceID, &d.TotalCheckIns, &d.UniqueEmployees, &d.CheckIns, &d.CheckOuts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// ANALYTICS
// =============================================================================

// analyticsWhere builds the shared filter over checkins c joined to
// employees e.
func analyticsWhere(f report.AnalyticsFilters) (string, []any) {
	conds := []string{`DATE(c.time) BETWEEN ? AND ?`}
	args := []any{formatDate(f.FromDate), formatDate(f.ToDate)}
	if f.Employee != "" {
		conds = append(conds, `c.employee = ?`)
		args = append(args, f.Employee)
	}
	if f.Department != "" {
		conds = append(conds, `e.department = ?`)
		args = append(args, f.Department)
	}
	return strings.Join(conds, " AND "), args
}

const analyticsFrom = ` FROM checkins c LEFT JOIN employees e ON e.id = c.employee WHERE `

func (s *Store) CountCheckIns(ctx context.Context, f report.AnalyticsFilters) (report.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	var c report.Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT c.employee), COUNT(DISTINCT c.device_id)`+analyticsFrom+cond,
		args...).Scan(&c.TotalCheckIns, &c.UniqueEmployees, &c.TotalDevices)
	return c, err
}

func (s *Store) DailyTrend(ctx context.Context, f report.AnalyticsFilters) ([]report.DateCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DATE(c.time) AS d, COUNT(*)`+analyticsFrom+cond+` GROUP BY d ORDER BY d`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.DateCount
	for rows.Next() {
		var dc report.DateCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (s *Store) LogTypeDistribution(ctx context.Context, f report.AnalyticsFilters) ([]report.LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	return s.labelCounts(ctx,
		`SELECT c.log_type AS label, COUNT(*)`+analyticsFrom+cond+` GROUP BY label ORDER BY label`, args...)
}

func (s *Store) HourlyDistribution(ctx context.Context, f report.AnalyticsFilters) ([]report.HourCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(strftime('%H', c.time) AS INTEGER) AS h, COUNT(*)`+analyticsFrom+cond+
			` GROUP BY h ORDER BY h`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.HourCount
	for rows.Next() {
		var hc report.HourCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, err
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

func (s *Store) TopDepartments(ctx context.Context, f report.AnalyticsFilters, limit int) ([]report.LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	return s.labelCounts(ctx,
		`SELECT COALESCE(NULLIF(e.department, ''), 'Unknown') AS label, COUNT(*) AS n`+analyticsFrom+cond+
			` GROUP BY label ORDER BY n DESC, label LIMIT ?`, append(args, limit)...)
}

func (s *Store) TopDevices(ctx context.Context, f report.AnalyticsFilters, limit int) ([]report.LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	return s.labelCounts(ctx,
		`SELECT COALESCE(NULLIF(c.device_id, ''), 'Unknown') AS label, COUNT(*) AS n`+analyticsFrom+cond+
			` GROUP BY label ORDER BY n DESC, label LIMIT ?`, append(args, limit)...)
}

func (s *Store) TopEmployees(ctx context.Context, f report.AnalyticsFilters, limit int) ([]report.EmployeeCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.employee,
		       COALESCE(MAX(e.employee_name), MAX(c.employee_name), ''),
		       COALESCE(MAX(e.department), ''),
		       COALESCE(SUM(CASE WHEN c.log_type = 'IN' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN c.log_type = 'OUT' THEN 1 ELSE 0 END), 0),
		       COUNT(*) AS n`+analyticsFrom+cond+`
		GROUP BY c.employee ORDER BY n DESC, c.employee LIMIT ?
	`, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.EmployeeCount
	for rows.Next() {
		var ec report.EmployeeCount
		if err := rows.Scan(&ec.Employee, &ec.EmployeeName, &ec.Department,
			&ec.CheckIns, &ec.CheckOuts, &ec.Total); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

func (s *Store) RawCheckIns(ctx context.Context, f report.AnalyticsFilters) ([]report.RawCheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := analyticsWhere(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.time, c.employee, COALESCE(e.employee_name, c.employee_name, ''),
		       COALESCE(e.department, ''), COALESCE(e.designation, ''), c.log_type,
		       COALESCE(c.device_id, '')`+analyticsFrom+cond+`
		ORDER BY c.time
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.RawCheckIn
	for rows.Next() {
		var (
			rc         report.RawCheckIn
			t, logType string
		)
		if err := rows.Scan(&t, &rc.Employee, &rc.EmployeeName, &rc.Department, &rc.Designation,
			&logType, &rc.DeviceID); err != nil {
			return nil, err
		}
		rc.Time = parseDateTime(t)
		rc.LogType = attendance.Direction(logType)
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *Store) labelCounts(ctx context.Context, query string, args ...any) ([]report.LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.LabelCount
	for rows.Next() {
		var lc report.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

func where(conds []string) string {
	if len(conds) == 0 {
		return "1=1"
	}
	return strings.Join(conds, " AND ")
}

func nullClock(ns sql.NullString) *attendance.Clock {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	c, err := attendance.ParseClock(ns.String)
	if err != nil {
		return nil
	}
	return &c
}

func nullDateTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseDateTime(ns.String)
	return &t
}
