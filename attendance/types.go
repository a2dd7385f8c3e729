/*
Package attendance turns raw check-in events into daily attendance.

PURPOSE:
  This package holds the domain model and the decision logic of the
  attendance engine. Storage, transport and the CrossChex integration all
  live elsewhere and talk to this package through the small interfaces in
  store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - CheckIn:          One device punch (IN or OUT) for an employee
  - ShiftType:        Scheduled start/end with a late-entry grace period
  - ShiftAssignment:  Links an employee to a shift type for a date range
  - Attendance:       The committed outcome for one employee on one date
  - Regularization:   A human review case for an attendance anomaly

DOCUMENT STATUS:
  Attendance and Regularization carry a DocStatus:
    0 (Draft)      editable, not yet committed
    1 (Submitted)  committed
    2 (Cancelled)  rolled back, ignored by every uniqueness check
  "Committed" throughout the engine means DocStatus < 2.

DATES AND TIMES:
  Device timestamps are wall-clock times in the site's local zone. They are
  kept in time.UTC purely as a container so that DATE(time) in SQL and
  time.Time arithmetic agree. Calendar dates are midnight values produced by
  DateOf.

SEE ALSO:
  - consolidate.go: Daily consolidation
  - regularization.go: Approve/reject workflow
  - store.go: Persistence contracts
*/
package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DATES AND CLOCK TIMES
// =============================================================================

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// Clock is a time of day, measured from midnight.
type Clock time.Duration

// ParseClock accepts HH:MM or HH:MM:SS.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = n
	}
	if vals[0] > 23 || vals[1] > 59 || vals[2] > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	d := time.Duration(vals[0])*time.Hour + time.Duration(vals[1])*time.Minute + time.Duration(vals[2])*time.Second
	return Clock(d), nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// On places the clock on a calendar date.
func (c Clock) On(date time.Time) time.Time {
	return DateOf(date).Add(time.Duration(c))
}

func (c Clock) String() string {
	d := time.Duration(c)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// =============================================================================
// EMPLOYEES AND SHIFTS
// =============================================================================

const (
	EmployeeActive   = "Active"
	EmployeeInactive = "Inactive"
	EmployeeLeft     = "Left"
)

type Employee struct {
	ID                  string
	Name                string
	Department          string
	Designation         string
	Gender              string
	DateOfJoining       *time.Time
	Status              string
	AttendanceDeviceID  *int
	ReportsTo           string
	Nationality         string
	Religion            string
	HajjLeaveTaken      bool
	HajjLeaveDate       *time.Time
	CarryForwardEnabled bool
	MaxCarryForwardDays int
	CreatedAt           time.Time
}

// JoinedBy reports whether the employee had joined on or before date.
// Employees without a joining date are treated as always employed.
func (e Employee) JoinedBy(date time.Time) bool {
	if e.DateOfJoining == nil {
		return true
	}
	return !DateOf(date).Before(DateOf(*e.DateOfJoining))
}

type ShiftType struct {
	Name string

	StartTime Clock
	EndTime   Clock

	// Minutes after StartTime before an IN counts as late.
	GracePeriodMinutes int

	// When enabled, lateness is recorded on the attendance instead of
	// forcing a regularization.
	EnableLateMarking bool
}

func (s ShiftType) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidShift)
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("%w: shift %s must end after it starts (%s-%s)",
			ErrInvalidShift, s.Name, s.StartTime, s.EndTime)
	}
	if s.GracePeriodMinutes < 0 {
		return fmt.Errorf("%w: shift %s has a negative grace period", ErrInvalidShift, s.Name)
	}
	return nil
}

// LateThreshold is the instant after which an IN on date is late.
func (s ShiftType) LateThreshold(date time.Time) time.Time {
	return s.StartTime.On(date).Add(time.Duration(s.GracePeriodMinutes) * time.Minute)
}

type ShiftAssignment struct {
	ID         string
	EmployeeID string
	ShiftType  string
	StartDate  time.Time
	EndDate    *time.Time
	DocStatus  DocStatus
	CreatedAt  time.Time
}

// Covers reports whether the assignment is in force on date.
func (a ShiftAssignment) Covers(date time.Time) bool {
	d := DateOf(date)
	if d.Before(DateOf(a.StartDate)) {
		return false
	}
	return a.EndDate == nil || !d.After(DateOf(*a.EndDate))
}

// =============================================================================
// CHECK-INS
// =============================================================================

type Direction string

const (
	In  Direction = "IN"
	Out Direction = "OUT"
)

func (d Direction) Valid() bool { return d == In || d == Out }

// CheckIn is immutable once recorded.
type CheckIn struct {
	ID               string
	EmployeeID       string
	EmployeeName     string
	Time             time.Time
	LogType          Direction
	DeviceID         string
	Shift            string
	ExternalUUID     string
	RegularizationID string
	CreatedAt        time.Time
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type DocStatus int

const (
	DocDraft     DocStatus = 0
	DocSubmitted DocStatus = 1
	DocCancelled DocStatus = 2
)

func (d DocStatus) Committed() bool { return d < DocCancelled }

type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "Present"
	StatusAbsent  AttendanceStatus = "Absent"
	StatusOnLeave AttendanceStatus = "On Leave"
	StatusHalfDay AttendanceStatus = "Half Day"
)

type Attendance struct {
	ID               string
	EmployeeID       string
	EmployeeName     string
	Date             time.Time
	Shift            string
	Status           AttendanceStatus
	LeaveType        string
	Late             time.Duration
	RegularizationID string
	DocStatus        DocStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// =============================================================================
// REGULARIZATION
// =============================================================================

type RegularizationStatus string

const (
	RegOpen      RegularizationStatus = "Open"
	RegPending   RegularizationStatus = "Pending"
	RegApproved  RegularizationStatus = "Approved"
	RegRejected  RegularizationStatus = "Rejected"
	RegCancelled RegularizationStatus = "Cancelled"
)

// Undecided cases can still be approved or rejected.
func (s RegularizationStatus) Undecided() bool { return s == RegOpen || s == RegPending }

// Decided cases have produced a committed attendance.
func (s RegularizationStatus) Decided() bool { return s == RegApproved || s == RegRejected }

type Regularization struct {
	ID           string
	EmployeeID   string
	EmployeeName string
	PostingDate  time.Time
	LogType      Direction
	Shift        string
	StartTime    Clock
	EndTime      Clock
	Late         time.Duration
	Status       RegularizationStatus
	ReportsTo    string
	AttendanceID string
	DecidedBy    string
	DecidedAt    *time.Time
	DocStatus    DocStatus
	Items        []RegularizationItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RegularizationItem struct {
	Time      time.Time
	LogType   Direction
	DeviceID  string
	CheckInID string
}

// HasCheckIn reports whether the check-in is already one of the items.
func (r Regularization) HasCheckIn(checkInID string) bool {
	for _, it := range r.Items {
		if it.CheckInID == checkInID {
			return true
		}
	}
	return false
}

// ApprovedLeave is what the leave source reports for an employee/date.
type ApprovedLeave struct {
	ApplicationID string
	LeaveType     string
	HalfDay       bool
}
