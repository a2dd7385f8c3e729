package attendance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE CONTRACTS
// =============================================================================
// Lookups return (nil, nil) when the row does not exist. store/sqlite
// implements every interface in this file.

// ConsolidationStore is what the daily consolidation reads and writes.
type ConsolidationStore interface {
	// ActiveShiftAssignments returns one submitted assignment per employee
	// covering date. On overlap the latest StartDate wins.
	ActiveShiftAssignments(ctx context.Context, date time.Time) ([]ShiftAssignment, error)

	GetShiftType(ctx context.Context, name string) (*ShiftType, error)
	GetEmployee(ctx context.Context, id string) (*Employee, error)

	// ListCheckInsOn returns all check-ins on date ordered by employee, time.
	ListCheckInsOn(ctx context.Context, date time.Time) ([]CheckIn, error)

	// CommittedAttendance returns the attendance with DocStatus < 2, if any.
	CommittedAttendance(ctx context.Context, employeeID string, date time.Time) (*Attendance, error)

	// ActiveRegularization returns the case with DocStatus < 2, if any.
	ActiveRegularization(ctx context.Context, employeeID string, date time.Time) (*Regularization, error)

	// CreateAttendance fails with ErrAttendanceExists when a committed
	// attendance already covers the employee/date.
	CreateAttendance(ctx context.Context, a Attendance) error

	// CreateRegularization fails with ErrRegularizationExists when an active
	// case already covers the employee/date. Item check-ins are linked.
	CreateRegularization(ctx context.Context, r Regularization) error

	ErrorRecorder
}

// RegularizationStore backs the approve/reject workflow.
type RegularizationStore interface {
	GetRegularization(ctx context.Context, id string) (*Regularization, error)
	GetAttendance(ctx context.Context, id string) (*Attendance, error)
	CommittedAttendance(ctx context.Context, employeeID string, date time.Time) (*Attendance, error)

	// DecideRegularization inserts att and updates reg in one transaction.
	DecideRegularization(ctx context.Context, reg Regularization, att Attendance) error

	SetRegularizationStatus(ctx context.Context, id string, status RegularizationStatus, doc DocStatus) error
	DeleteRegularization(ctx context.Context, id string) error
	CancelAttendance(ctx context.Context, id string) error
	RecordDeletedDocument(ctx context.Context, doctype, documentID string, data any) error
}

// RealtimeStore backs per-check-in evaluation.
type RealtimeStore interface {
	ActiveShiftAssignment(ctx context.Context, employeeID string, date time.Time) (*ShiftAssignment, error)
	GetShiftType(ctx context.Context, name string) (*ShiftType, error)
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ActiveRegularization(ctx context.Context, employeeID string, date time.Time) (*Regularization, error)
	CreateRegularization(ctx context.Context, r Regularization) error

	// AddRegularizationItem appends item, links its check-in and raises
	// the case's Late to late when larger.
	AddRegularizationItem(ctx context.Context, regID string, item RegularizationItem, late time.Duration) error

	ErrorRecorder
}

// ErrorRecorder persists per-unit failures for later inspection.
type ErrorRecorder interface {
	RecordError(ctx context.Context, title, message string) error
}

// LeaveSource answers "is there approved leave for this employee today".
type LeaveSource interface {
	ApprovedLeaveOn(ctx context.Context, employeeID string, date time.Time) (*ApprovedLeave, error)
}

// LeaveConsumer debits leave allocations for half-day approvals.
type LeaveConsumer interface {
	ConsumeLeave(ctx context.Context, employeeID, leaveType string, date time.Time, days decimal.Decimal, reference string) error
	ReverseLeave(ctx context.Context, reference string) error
}
