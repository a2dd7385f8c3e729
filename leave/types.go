/*
Package leave manages leave types, policies, allocations and applications.

PURPOSE:
  Leave balances are never stored as a number. Every allocation, consumption
  and reversal is an entry in an append-only ledger and a balance is the sum
  of the entries that belong to a submitted allocation covering the date.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType:        A kind of leave with its yearly entitlement and restrictions
  - Policy:           A named set of leave types with annual allocations
  - PolicyAssignment: Links an employee to a policy from a date
  - Allocation:       Days granted to one employee for one leave type and period
  - LedgerEntry:      One signed balance change against an allocation
  - Application:      An employee's request for days off

SEE ALSO:
  - ledger.go: Balance computation and consumption
  - oman.go: Master data for the Oman labour law policy
  - service.go: Setup, assignment and application workflow
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hamptons/attendance-engine/attendance"
)

// =============================================================================
// LEAVE TYPES AND POLICIES
// =============================================================================

// Restriction values used by GenderSpecific and ReligionSpecific.
const (
	RestrictAll       = "All"
	RestrictMuslim    = "All (Muslim)"
	RestrictNonMuslim = "Non-Muslim"
	ReligionMuslim    = "Muslim"
)

type LeaveType struct {
	Name                 string          `json:"name"`
	MaxLeavesAllowed     decimal.Decimal `json:"max_leaves_allowed"`
	IsCarryForward       bool            `json:"is_carry_forward"`
	MaxContinuousDays    int             `json:"max_continuous_days_allowed"`
	IsEarnedLeave        bool            `json:"is_earned_leave"`
	EarnedLeaveFrequency string          `json:"earned_leave_frequency,omitempty"`
	AllowEncashment      bool            `json:"allow_encashment"`
	ApplicableAfterDays  int             `json:"applicable_after"`
	GenderSpecific       string          `json:"gender_specific,omitempty"`
	ReligionSpecific     string          `json:"religion_specific,omitempty"`
	OnceInService        bool            `json:"once_in_service"`
	Description          string          `json:"description,omitempty"`
}

type PolicyDetail struct {
	LeaveType        string          `json:"leave_type"`
	AnnualAllocation decimal.Decimal `json:"annual_allocation"`
}

type Policy struct {
	Name    string         `json:"name"`
	Details []PolicyDetail `json:"details"`
}

type PolicyAssignment struct {
	ID            string               `json:"id"`
	EmployeeID    string               `json:"employee"`
	Policy        string               `json:"leave_policy"`
	EffectiveFrom time.Time            `json:"effective_from"`
	CarryForward  bool                 `json:"carry_forward"`
	DocStatus     attendance.DocStatus `json:"docstatus"`
	CreatedAt     time.Time            `json:"created_at"`
}

// =============================================================================
// ALLOCATIONS AND LEDGER
// =============================================================================

type Allocation struct {
	ID                 string               `json:"id"`
	EmployeeID         string               `json:"employee"`
	LeaveType          string               `json:"leave_type"`
	FromDate           time.Time            `json:"from_date"`
	ToDate             time.Time            `json:"to_date"`
	NewLeavesAllocated decimal.Decimal      `json:"new_leaves_allocated"`
	CarryForward       bool                 `json:"carry_forward"`
	Description        string               `json:"description,omitempty"`
	DocStatus          attendance.DocStatus `json:"docstatus"`
	CreatedAt          time.Time            `json:"created_at"`
}

// Covers reports whether date falls inside the allocation period.
func (a Allocation) Covers(date time.Time) bool {
	d := attendance.DateOf(date)
	return !d.Before(attendance.DateOf(a.FromDate)) && !d.After(attendance.DateOf(a.ToDate))
}

type EntryType string

const (
	EntryAllocation  EntryType = "allocation"
	EntryConsumption EntryType = "consumption"
	EntryReversal    EntryType = "reversal"
)

// LedgerEntry is append-only. Corrections are new reversal entries.
type LedgerEntry struct {
	ID             string          `json:"id"`
	EmployeeID     string          `json:"employee"`
	LeaveType      string          `json:"leave_type"`
	AllocationID   string          `json:"allocation_id"`
	EffectiveDate  time.Time       `json:"effective_date"`
	Delta          decimal.Decimal `json:"delta"`
	Type           EntryType       `json:"entry_type"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// =============================================================================
// APPLICATIONS
// =============================================================================

type ApplicationStatus string

const (
	ApplicationOpen      ApplicationStatus = "Open"
	ApplicationApproved  ApplicationStatus = "Approved"
	ApplicationRejected  ApplicationStatus = "Rejected"
	ApplicationCancelled ApplicationStatus = "Cancelled"
)

type Application struct {
	ID           string               `json:"id"`
	EmployeeID   string               `json:"employee"`
	EmployeeName string               `json:"employee_name"`
	LeaveType    string               `json:"leave_type"`
	FromDate     time.Time            `json:"from_date"`
	ToDate       time.Time            `json:"to_date"`
	HalfDay      bool                 `json:"half_day"`
	HalfDayDate  *time.Time           `json:"half_day_date,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Status       ApplicationStatus    `json:"status"`
	DecidedBy    string               `json:"decided_by,omitempty"`
	DocStatus    attendance.DocStatus `json:"docstatus"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Days is the number of calendar days requested. A half-day application
// counts half a day less.
func (a Application) Days() decimal.Decimal {
	from, to := attendance.DateOf(a.FromDate), attendance.DateOf(a.ToDate)
	if to.Before(from) {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(to.Sub(from).Hours()/24) + 1)
	if a.HalfDay {
		n = n.Sub(decimal.NewFromFloat(0.5))
	}
	return n
}

// IsHalfDayOn reports whether the application is a half day on date.
func (a Application) IsHalfDayOn(date time.Time) bool {
	if !a.HalfDay {
		return false
	}
	if a.HalfDayDate == nil {
		return attendance.DateOf(a.FromDate).Equal(attendance.DateOf(a.ToDate)) &&
			attendance.DateOf(a.FromDate).Equal(attendance.DateOf(date))
	}
	return attendance.DateOf(*a.HalfDayDate).Equal(attendance.DateOf(date))
}

// AllocateOptions configures AllocateWithOpeningBalances.
type AllocateOptions struct {
	Policy   string
	FromDate time.Time
	ToDate   time.Time

	// OpeningBalances overrides the Annual Leave allocation per employee id.
	OpeningBalances map[string]decimal.Decimal
	OpeningNote     string
}

type AllocationResult struct {
	TotalEmployees int `json:"total_employees"`
	Created        int `json:"allocations_created"`
	Failed         int `json:"allocations_failed"`
	Skipped        int `json:"allocations_skipped"`
}

type SetupResult struct {
	LeaveTypesCreated int    `json:"leave_types_created"`
	LeaveTypesFailed  int    `json:"leave_types_failed"`
	Policy            string `json:"policy_name,omitempty"`
}

type AssignResult struct {
	TotalEmployees int `json:"total_employees"`
	Success        int `json:"success_count"`
	Failed         int `json:"failed_count"`
}
