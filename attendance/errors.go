/*
errors.go - Error types for the attendance engine

PURPOSE:
  All attendance errors in one place. Sentinels are compared with errors.Is;
  structured errors carry the employee/date context and unwrap to their
  sentinel so callers never need a type switch.

ERROR CATEGORIES:
  1. Invariant violations - a committed outcome already exists
  2. Workflow violations  - illegal regularization transitions
  3. Lookup failures      - missing employee, shift, regularization

SEE ALSO:
  - api/handlers.go: maps categories to HTTP status codes
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrAttendanceExists is returned when an employee already has a
	// committed attendance on the date.
	ErrAttendanceExists = errors.New("attendance already exists")

	// ErrRegularizationExists is returned when an open or decided case
	// already covers the employee/date.
	ErrRegularizationExists = errors.New("regularization already exists")

	// ErrNotPending is returned when approving or rejecting a decided case.
	ErrNotPending = errors.New("only open or pending regularizations can be decided")

	// ErrShiftRequired is returned when a case has no shift to attach the
	// attendance to.
	ErrShiftRequired = errors.New("shift type is required")

	// ErrRegularizationLocked is returned when deleting a decided case.
	ErrRegularizationLocked = errors.New("decided regularization cannot be deleted")

	// ErrAttendanceNotCancelled is returned when cancelling a decided case
	// whose attendance is still committed.
	ErrAttendanceNotCancelled = errors.New("linked attendance must be cancelled first")

	ErrRegularizationNotFound = errors.New("regularization not found")
	ErrAttendanceNotFound     = errors.New("attendance not found")
	ErrEmployeeNotFound       = errors.New("employee not found")
	ErrShiftNotFound          = errors.New("shift type not found")
	ErrInvalidShift           = errors.New("invalid shift type")
	ErrInvalidCheckIn         = errors.New("invalid check-in")
	ErrDuplicateCheckIn       = errors.New("duplicate check-in")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AttendanceExistsError identifies the attendance that blocks a write.
type AttendanceExistsError struct {
	EmployeeID   string
	Date         time.Time
	AttendanceID string
}

func (e *AttendanceExistsError) Error() string {
	if e.AttendanceID == "" {
		return fmt.Sprintf("attendance already exists for %s on %s",
			e.EmployeeID, e.Date.Format(DateLayout))
	}
	return fmt.Sprintf("attendance already exists for %s on %s (%s)",
		e.EmployeeID, e.Date.Format(DateLayout), e.AttendanceID)
}

func (e *AttendanceExistsError) Unwrap() error { return ErrAttendanceExists }

// TransitionError describes a rejected regularization state change.
type TransitionError struct {
	RegularizationID string
	From             RegularizationStatus
	Action           string
	Err              error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s regularization %s in status %s: %v",
		e.Action, e.RegularizationID, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRegularizationNotFound) ||
		errors.Is(err, ErrAttendanceNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrShiftNotFound)
}

// IsConflict returns true if the error is a uniqueness or state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAttendanceExists) ||
		errors.Is(err, ErrRegularizationExists) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrRegularizationLocked) ||
		errors.Is(err, ErrAttendanceNotCancelled) ||
		errors.Is(err, ErrDuplicateCheckIn)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrShiftRequired) ||
		errors.Is(err, ErrInvalidShift) ||
		errors.Is(err, ErrInvalidCheckIn)
}
