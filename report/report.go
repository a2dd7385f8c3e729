/*
Package report builds the read-only views over check-ins: the check-in
report, the daily dashboard, per-employee details, device usage and
analytics, plus their XLSX and PDF exports.

PURPOSE:
  The store does the grouping in SQL and returns flat aggregates. This
  package adds everything derived from them (working hours, late-by and
  early-exit strings, averages, grouping by date) so the rules are testable
  without a database.

SEE ALSO:
  - store/sqlite/report.go: The aggregate queries
  - xlsx.go, pdf.go: Exports
*/
package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hamptons/attendance-engine/attendance"
)

// OnTime is shown when there is no lateness or early exit.
const OnTime = "On Time"

// FormatDuration renders d as "Xh Ym", or "Ym" under an hour.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return OnTime
	}
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// WorkingHours is last OUT minus first IN in hours, rounded to two places.
func WorkingHours(firstIn, lastOut *time.Time) decimal.Decimal {
	if firstIn == nil || lastOut == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(lastOut.Sub(*firstIn).Hours()).Round(2)
}

// =============================================================================
// CHECK-IN REPORT
// =============================================================================

// Filters narrows the check-in report. Zero values are ignored.
type Filters struct {
	FromDate                   *time.Time
	ToDate                     *time.Time
	Employee                   string
	Department                 string
	Designation                string
	Shift                      string
	LogType                    attendance.Direction
	DeviceID                   string
	ShowOnlyLate               bool
	ShowOnlyWithRegularization bool
}

// Aggregate is one (date, employee) group as returned by the store.
type Aggregate struct {
	Date                 time.Time
	Employee             string
	EmployeeName         string
	Department           string
	Designation          string
	Shift                string
	ShiftStart           *attendance.Clock
	ShiftEnd             *attendance.Clock
	FirstIn              *time.Time
	LastOut              *time.Time
	TotalCheckIns        int
	Devices              string
	Regularization       string
	RegularizationStatus string
}

type Row struct {
	Date                 string          `json:"date"`
	Employee             string          `json:"employee"`
	EmployeeName         string          `json:"employee_name"`
	Department           string          `json:"department"`
	Designation          string          `json:"designation"`
	Shift                string          `json:"shift"`
	ShiftStart           string          `json:"shift_start"`
	ShiftEnd             string          `json:"shift_end"`
	FirstIn              string          `json:"first_in"`
	LastOut              string          `json:"last_out"`
	TotalCheckIns        int             `json:"total_checkins"`
	WorkingHours         decimal.Decimal `json:"working_hours"`
	LateBy               string          `json:"late_by"`
	EarlyExitBy          string          `json:"early_exit_by"`
	DeviceID             string          `json:"device_id"`
	Regularization       string          `json:"regularization"`
	RegularizationStatus string          `json:"regularization_status"`
}

// BuildRow derives the report columns from an aggregate. Late-by and
// early-exit-by compare against the scheduled times without grace, and are
// empty when the shift or the punch is unknown.
func BuildRow(a Aggregate) Row {
	r := Row{
		Date:                 a.Date.Format(attendance.DateLayout),
		Employee:             a.Employee,
		EmployeeName:         a.EmployeeName,
		Department:           a.Department,
		Designation:          a.Designation,
		Shift:                a.Shift,
		FirstIn:              formatTime(a.FirstIn),
		LastOut:              formatTime(a.LastOut),
		TotalCheckIns:        a.TotalCheckIns,
		WorkingHours:         WorkingHours(a.FirstIn, a.LastOut),
		DeviceID:             a.Devices,
		Regularization:       a.Regularization,
		RegularizationStatus: a.RegularizationStatus,
	}
	if a.ShiftStart != nil {
		r.ShiftStart = a.ShiftStart.String()
		if a.FirstIn != nil {
			r.LateBy = FormatDuration(a.FirstIn.Sub(a.ShiftStart.On(a.Date)))
		}
	}
	if a.ShiftEnd != nil {
		r.ShiftEnd = a.ShiftEnd.String()
		if a.LastOut != nil {
			r.EarlyExitBy = FormatDuration(a.ShiftEnd.On(a.Date).Sub(*a.LastOut))
		}
	}
	return r
}

func BuildRows(aggs []Aggregate) []Row {
	rows := make([]Row, 0, len(aggs))
	for _, a := range aggs {
		rows = append(rows, BuildRow(a))
	}
	return rows
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(attendance.DateTimeLayout)
}

// =============================================================================
// DASHBOARD
// =============================================================================

type DaySummary struct {
	TotalEmployees int `json:"total_employees"`
	TotalCheckIns  int `json:"total_checkins"`
	TotalIn        int `json:"total_in"`
	TotalOut       int `json:"total_out"`
}

type DashboardCheckIn struct {
	ID           string               `json:"name"`
	Employee     string               `json:"employee"`
	EmployeeName string               `json:"employee_name"`
	Department   string               `json:"department"`
	Time         time.Time            `json:"time"`
	LogType      attendance.Direction `json:"log_type"`
	DeviceID     string               `json:"device_id"`
	Shift        string               `json:"shift"`
	ShiftType    string               `json:"shift_type"`
	StartTime    *attendance.Clock    `json:"-"`
	EndTime      *attendance.Clock    `json:"-"`
	TimeOnly     string               `json:"time_only"`
	LateBy       string               `json:"late_by,omitempty"`
	IsLate       bool                 `json:"is_late"`
}

// Decorate fills the display fields of a dashboard check-in.
func (c *DashboardCheckIn) Decorate() {
	c.TimeOnly = c.Time.Format("15:04:05")
	if c.StartTime == nil || c.LogType != attendance.In {
		return
	}
	if late := c.Time.Sub(c.StartTime.On(c.Time)); late > 0 {
		c.LateBy = FormatDuration(late)
		c.IsLate = true
	}
}

type DepartmentCount struct {
	Department    string `json:"department"`
	EmployeeCount int    `json:"employee_count"`
	CheckInCount  int    `json:"checkin_count"`
}

type PendingRegularization struct {
	ID           string `json:"name"`
	Employee     string `json:"employee"`
	EmployeeName string `json:"employee_name"`
	PostingDate  string `json:"posting_date"`
	Late         string `json:"late"`
	Status       string `json:"status"`
	Shift        string `json:"shift"`
}

type LateArrival struct {
	Employee     string           `json:"employee"`
	EmployeeName string           `json:"employee_name"`
	Department   string           `json:"department"`
	Time         time.Time        `json:"time"`
	StartTime    attendance.Clock `json:"-"`
	LateBy       string           `json:"late_by"`
}

type Dashboard struct {
	Date                   string                  `json:"date"`
	DateFormatted          string                  `json:"date_formatted"`
	Summary                DaySummary              `json:"summary"`
	CheckInsToday          []DashboardCheckIn      `json:"checkins_today"`
	DeptBreakdown          []DepartmentCount       `json:"dept_breakdown"`
	PendingRegularizations []PendingRegularization `json:"pending_regularizations"`
	LateArrivals           []LateArrival           `json:"late_arrivals"`
}

// =============================================================================
// EMPLOYEE DETAILS AND DEVICES
// =============================================================================

type EmployeeCheckIn struct {
	ID                   string               `json:"name"`
	Date                 time.Time            `json:"-"`
	Time                 time.Time            `json:"time"`
	TimeFormatted        string               `json:"time_formatted"`
	LogType              attendance.Direction `json:"log_type"`
	DeviceID             string               `json:"device_id"`
	Shift                string               `json:"shift"`
	Regularization       string               `json:"regularization"`
	RegularizationStatus string               `json:"regularization_status"`
}

type CheckInDay struct {
	Date          string            `json:"date"`
	DateFormatted string            `json:"date_formatted"`
	CheckIns      []EmployeeCheckIn `json:"checkins"`
}

type EmployeeInfo struct {
	EmployeeName       string `json:"employee_name"`
	Department         string `json:"department"`
	Designation        string `json:"designation"`
	AttendanceDeviceID *int   `json:"attendance_device_id"`
}

type EmployeeDetails struct {
	Employee       string        `json:"employee"`
	EmployeeInfo   *EmployeeInfo `json:"employee_info"`
	FromDate       string        `json:"from_date"`
	ToDate         string        `json:"to_date"`
	CheckInsByDate []CheckInDay  `json:"checkins_by_date"`
}

// GroupByDate groups check-ins by calendar date, keeping input order both
// for the days and within each day.
func GroupByDate(checkIns []EmployeeCheckIn) []CheckInDay {
	var days []CheckInDay
	index := make(map[string]int)
	for _, c := range checkIns {
		c.TimeFormatted = c.Time.Format("15:04:05")
		key := attendance.DateOf(c.Time).Format(attendance.DateLayout)
		i, ok := index[key]
		if !ok {
			i = len(days)
			index[key] = i
			days = append(days, CheckInDay{
				Date:          key,
				DateFormatted: attendance.DateOf(c.Time).Format("02 Jan 2006"),
			})
		}
		days[i].CheckIns = append(days[i].CheckIns, c)
	}
	return days
}

type DeviceUsage struct {
	DeviceID        string `json:"device_id"`
	TotalCheckIns   int    `json:"total_checkins"`
	UniqueEmployees int    `json:"unique_employees"`
	CheckIns        int    `json:"check_ins"`
	CheckOuts       int    `json:"check_outs"`
}

// =============================================================================
// ANALYTICS
// =============================================================================

type AnalyticsFilters struct {
	FromDate   time.Time
	ToDate     time.Time
	Employee   string
	Department string
}

// Days is the inclusive length of the window.
func (f AnalyticsFilters) Days() int {
	return int(attendance.DateOf(f.ToDate).Sub(attendance.DateOf(f.FromDate)).Hours()/24) + 1
}

// Previous is the window of equal length that ends the day before FromDate.
func (f AnalyticsFilters) Previous() AnalyticsFilters {
	n := f.Days()
	p := f
	p.FromDate = attendance.DateOf(f.FromDate).AddDate(0, 0, -n)
	p.ToDate = attendance.DateOf(f.FromDate).AddDate(0, 0, -1)
	return p
}

type Counts struct {
	TotalCheckIns   int `json:"total_checkins"`
	UniqueEmployees int `json:"unique_employees"`
	TotalDevices    int `json:"total_devices"`
}

type AnalyticsSummary struct {
	Counts
	AvgDailyCheckIns decimal.Decimal `json:"avg_daily_checkins"`
	ChangePercentage decimal.Decimal `json:"change_percentage"`
}

// Summarize adds the daily average and the change against the previous
// window, both rounded to one place.
func Summarize(c Counts, previousTotal, days int) AnalyticsSummary {
	s := AnalyticsSummary{Counts: c, AvgDailyCheckIns: decimal.Zero, ChangePercentage: decimal.Zero}
	if days > 0 {
		s.AvgDailyCheckIns = decimal.NewFromInt(int64(c.TotalCheckIns)).
			Div(decimal.NewFromInt(int64(days))).Round(1)
	}
	if previousTotal > 0 {
		prev := decimal.NewFromInt(int64(previousTotal))
		s.ChangePercentage = decimal.NewFromInt(int64(c.TotalCheckIns)).Sub(prev).
			Div(prev).Mul(decimal.NewFromInt(100)).Round(1)
	}
	return s
}

type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type EmployeeCount struct {
	Employee     string `json:"employee"`
	EmployeeName string `json:"employee_name"`
	Department   string `json:"department"`
	CheckIns     int    `json:"check_ins"`
	CheckOuts    int    `json:"check_outs"`
	Total        int    `json:"total"`
}

type Analytics struct {
	Summary            AnalyticsSummary `json:"summary"`
	DailyTrend         []DateCount      `json:"daily_trend"`
	CheckInType        []LabelCount     `json:"checkin_type"`
	HourlyDistribution []HourCount      `json:"hourly_distribution"`
	DepartmentWise     []LabelCount     `json:"department_wise"`
	TopEmployees       []EmployeeCount  `json:"top_employees"`
	DeviceUsage        []LabelCount     `json:"device_usage"`
}

// RawCheckIn is one line of the analytics export.
type RawCheckIn struct {
	Time         time.Time
	Employee     string
	EmployeeName string
	Department   string
	Designation  string
	LogType      attendance.Direction
	DeviceID     string
}
