package report

import (
	"context"
	"fmt"
	"time"

	"github.com/hamptons/attendance-engine/attendance"
)

const (
	dashboardCheckInLimit = 50
	dashboardListLimit    = 10
	topLimit              = 10

	// DefaultDetailDays is the look-back of EmployeeDetails without a range.
	DefaultDetailDays = 7
)

// Store runs the aggregate queries.
type Store interface {
	CheckInAggregates(ctx context.Context, f Filters) ([]Aggregate, error)

	DaySummary(ctx context.Context, date time.Time) (DaySummary, error)
	DayCheckIns(ctx context.Context, date time.Time, limit int) ([]DashboardCheckIn, error)
	DepartmentBreakdown(ctx context.Context, date time.Time) ([]DepartmentCount, error)
	PendingRegularizations(ctx context.Context, limit int) ([]PendingRegularization, error)

	// LateArrivals returns IN check-ins after the scheduled start, latest
	// first by lateness.
	LateArrivals(ctx context.Context, date time.Time, limit int) ([]LateArrival, error)

	GetEmployee(ctx context.Context, id string) (*attendance.Employee, error)
	EmployeeCheckIns(ctx context.Context, employeeID string, from, to time.Time) ([]EmployeeCheckIn, error)
	DeviceUsage(ctx context.Context, from, to time.Time) ([]DeviceUsage, error)

	CountCheckIns(ctx context.Context, f AnalyticsFilters) (Counts, error)
	DailyTrend(ctx context.Context, f AnalyticsFilters) ([]DateCount, error)
	LogTypeDistribution(ctx context.Context, f AnalyticsFilters) ([]LabelCount, error)
	HourlyDistribution(ctx context.Context, f AnalyticsFilters) ([]HourCount, error)
	TopDepartments(ctx context.Context, f AnalyticsFilters, limit int) ([]LabelCount, error)
	TopEmployees(ctx context.Context, f AnalyticsFilters, limit int) ([]EmployeeCount, error)
	TopDevices(ctx context.Context, f AnalyticsFilters, limit int) ([]LabelCount, error)
	RawCheckIns(ctx context.Context, f AnalyticsFilters) ([]RawCheckIn, error)
}

type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

// CheckIns runs the check-in report.
func (s *Service) CheckIns(ctx context.Context, f Filters) ([]Row, error) {
	aggs, err := s.Store.CheckInAggregates(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("check-in report: %w", err)
	}
	return BuildRows(aggs), nil
}

// Dashboard collects the daily dashboard for date (today when zero).
func (s *Service) Dashboard(ctx context.Context, date time.Time) (*Dashboard, error) {
	if date.IsZero() {
		date = s.now()
	}
	date = attendance.DateOf(date)

	d := &Dashboard{
		Date:          date.Format(attendance.DateLayout),
		DateFormatted: date.Format("02 Jan 2006"),
	}
	var err error
	if d.Summary, err = s.Store.DaySummary(ctx, date); err != nil {
		return nil, err
	}
	if d.CheckInsToday, err = s.Store.DayCheckIns(ctx, date, dashboardCheckInLimit); err != nil {
		return nil, err
	}
	for i := range d.CheckInsToday {
		d.CheckInsToday[i].Decorate()
	}
	if d.DeptBreakdown, err = s.Store.DepartmentBreakdown(ctx, date); err != nil {
		return nil, err
	}
	if d.PendingRegularizations, err = s.Store.PendingRegularizations(ctx, dashboardListLimit); err != nil {
		return nil, err
	}
	if d.LateArrivals, err = s.Store.LateArrivals(ctx, date, dashboardListLimit); err != nil {
		return nil, err
	}
	for i := range d.LateArrivals {
		la := &d.LateArrivals[i]
		la.LateBy = FormatDuration(la.Time.Sub(la.StartTime.On(la.Time)))
	}
	return d, nil
}

// EmployeeDetails lists an employee's check-ins grouped by date. The range
// defaults to the last seven days.
func (s *Service) EmployeeDetails(ctx context.Context, employeeID string, from, to time.Time) (*EmployeeDetails, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = attendance.DateOf(s.now()).AddDate(0, 0, -DefaultDetailDays)
	}
	from, to = attendance.DateOf(from), attendance.DateOf(to)

	emp, err := s.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: %s", attendance.ErrEmployeeNotFound, employeeID)
	}
	checkIns, err := s.Store.EmployeeCheckIns(ctx, employeeID, from, to)
	if err != nil {
		return nil, err
	}

	return &EmployeeDetails{
		Employee: employeeID,
		EmployeeInfo: &EmployeeInfo{
			EmployeeName:       emp.Name,
			Department:         emp.Department,
			Designation:        emp.Designation,
			AttendanceDeviceID: emp.AttendanceDeviceID,
		},
		FromDate:       from.Format(attendance.DateLayout),
		ToDate:         to.Format(attendance.DateLayout),
		CheckInsByDate: GroupByDate(checkIns),
	}, nil
}

// DeviceUsage summarises devices over [from, to], today when zero.
func (s *Service) DeviceUsage(ctx context.Context, from, to time.Time) ([]DeviceUsage, error) {
	if from.IsZero() {
		from = s.now()
	}
	if to.IsZero() {
		to = s.now()
	}
	return s.Store.DeviceUsage(ctx, attendance.DateOf(from), attendance.DateOf(to))
}

// Analytics computes every analytics panel for the filters.
func (s *Service) Analytics(ctx context.Context, f AnalyticsFilters) (*Analytics, error) {
	if f.ToDate.Before(f.FromDate) {
		return nil, fmt.Errorf("from_date must not be after to_date")
	}

	counts, err := s.Store.CountCheckIns(ctx, f)
	if err != nil {
		return nil, err
	}
	prev, err := s.Store.CountCheckIns(ctx, f.Previous())
	if err != nil {
		return nil, err
	}

	a := &Analytics{Summary: Summarize(counts, prev.TotalCheckIns, f.Days())}
	if a.DailyTrend, err = s.Store.DailyTrend(ctx, f); err != nil {
		return nil, err
	}
	if a.CheckInType, err = s.Store.LogTypeDistribution(ctx, f); err != nil {
		return nil, err
	}
	if a.HourlyDistribution, err = s.Store.HourlyDistribution(ctx, f); err != nil {
		return nil, err
	}
	if a.DepartmentWise, err = s.Store.TopDepartments(ctx, f, topLimit); err != nil {
		return nil, err
	}
	if a.TopEmployees, err = s.Store.TopEmployees(ctx, f, topLimit); err != nil {
		return nil, err
	}
	if a.DeviceUsage, err = s.Store.TopDevices(ctx, f, topLimit); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
