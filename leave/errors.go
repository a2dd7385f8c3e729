package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Retries rely on it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrInsufficientBalance = errors.New("insufficient leave balance")
	ErrNoAllocation        = errors.New("no leave allocation covers the date")
	ErrNotEligible         = errors.New("employee is not eligible for leave type")

	ErrLeaveTypeNotFound   = errors.New("leave type not found")
	ErrPolicyNotFound      = errors.New("leave policy not found")
	ErrApplicationNotFound = errors.New("leave application not found")

	ErrApplicationNotOpen     = errors.New("only open leave applications can be decided")
	ErrOverlappingApplication = errors.New("leave application overlaps an existing one")
	ErrInvalidPeriod          = errors.New("invalid period: end before start")
)

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID string
	LeaveType  string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: available %s, requested %s, shortfall %s",
		e.LeaveType, e.EmployeeID, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// NotEligibleError names the restriction that blocked an employee.
type NotEligibleError struct {
	EmployeeID string
	LeaveType  string
	Reason     string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s is not eligible for %s: %s", e.EmployeeID, e.LeaveType, e.Reason)
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLeaveTypeNotFound) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrApplicationNotFound)
}

// IsConflict returns true if the error is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrApplicationNotOpen) ||
		errors.Is(err, ErrOverlappingApplication) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNoAllocation) ||
		errors.Is(err, ErrNotEligible) ||
		errors.Is(err, ErrInvalidPeriod)
}
