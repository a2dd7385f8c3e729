/*
service.go - Leave setup, allocation and application workflow

PURPOSE:
  One entry point for everything that changes leave data:

    SetupPolicy                  leave types + Oman policy (idempotent upserts)
    AssignPolicy / BulkAssign    policy assignments for employees
    AllocateWithOpeningBalances  one allocation per employee and eligible type
    Create/Approve/Reject/Cancel leave applications

  Service also implements attendance.LeaveConsumer so half-day approvals can
  debit a leave type.

FAILURES:
  Batch operations never stop on one employee. Failures are logged, written
  to the error log and counted in the result.
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hamptons/attendance-engine/attendance"
)

// Store is the persistence the leave service needs.
type Store interface {
	LedgerStore

	UpsertLeaveType(ctx context.Context, lt LeaveType) error
	GetLeaveType(ctx context.Context, name string) (*LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	SavePolicy(ctx context.Context, p Policy) error
	GetPolicy(ctx context.Context, name string) (*Policy, error)

	GetEmployee(ctx context.Context, id string) (*attendance.Employee, error)
	ListEmployees(ctx context.Context, status string) ([]attendance.Employee, error)
	MarkOnceInServiceTaken(ctx context.Context, employeeID string, date time.Time) error

	// SavePolicyAssignment upserts on (employee, policy, effective_from).
	SavePolicyAssignment(ctx context.Context, a PolicyAssignment) error

	// FindAllocation returns the non-cancelled allocation for exactly this
	// period, if any.
	FindAllocation(ctx context.Context, employeeID, leaveType string, from, to time.Time) (*Allocation, error)

	// CreateAllocation inserts a submitted allocation and its credit entry
	// in one transaction.
	CreateAllocation(ctx context.Context, a Allocation, credit LedgerEntry) error

	// CancelAllocation sets docstatus 2 and appends the reversal entry in
	// one transaction.
	CancelAllocation(ctx context.Context, id string, reversal LedgerEntry) error

	CreateApplication(ctx context.Context, a Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	UpdateApplication(ctx context.Context, a Application) error
	OverlappingApplications(ctx context.Context, employeeID string, from, to time.Time) ([]Application, error)

	attendance.ErrorRecorder
}

type Service struct {
	Store  Store
	Ledger *Ledger
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{Store: store, Ledger: NewLedger(store), Logger: logger}
}

// =============================================================================
// SETUP
// =============================================================================

// SetupPolicy upserts the Oman leave types and the policy that lists them.
func (s *Service) SetupPolicy(ctx context.Context) (SetupResult, error) {
	var res SetupResult
	var created []LeaveType

	for _, lt := range OmanLeaveTypes() {
		if err := s.Store.UpsertLeaveType(ctx, lt); err != nil {
			res.LeaveTypesFailed++
			s.fail(ctx, "Leave Type Creation Error", fmt.Sprintf("leave type %s: %v", lt.Name, err))
			continue
		}
		res.LeaveTypesCreated++
		created = append(created, lt)
	}

	policy := OmanPolicy(created)
	if err := s.Store.SavePolicy(ctx, policy); err != nil {
		s.fail(ctx, "Leave Policy Creation Error", err.Error())
		return res, fmt.Errorf("save policy: %w", err)
	}
	res.Policy = policy.Name

	s.logger().Info("leave policy setup complete",
		"policy", policy.Name, "created", res.LeaveTypesCreated, "failed", res.LeaveTypesFailed)
	return res, nil
}

// AssignPolicy assigns a policy to one employee, effective from the given
// date (today when zero).
func (s *Service) AssignPolicy(ctx context.Context, employeeID, policyName string, effectiveFrom time.Time, carryForward bool) (*PolicyAssignment, error) {
	if effectiveFrom.IsZero() {
		effectiveFrom = s.now()
	}
	emp, err := s.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: %s", attendance.ErrEmployeeNotFound, employeeID)
	}
	policy, err := s.Store.GetPolicy(ctx, policyName)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, policyName)
	}

	a := PolicyAssignment{
		ID:            uuid.NewString(),
		EmployeeID:    emp.ID,
		Policy:        policy.Name,
		EffectiveFrom: attendance.DateOf(effectiveFrom),
		CarryForward:  carryForward,
		DocStatus:     attendance.DocSubmitted,
	}
	if err := s.Store.SavePolicyAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("assign %s to %s: %w", policy.Name, emp.ID, err)
	}
	return &a, nil
}

// BulkAssign assigns the policy to every Active employee from today.
func (s *Service) BulkAssign(ctx context.Context, policyName string) (AssignResult, error) {
	emps, err := s.Store.ListEmployees(ctx, attendance.EmployeeActive)
	if err != nil {
		return AssignResult{}, err
	}
	res := AssignResult{TotalEmployees: len(emps)}
	for _, emp := range emps {
		if _, err := s.AssignPolicy(ctx, emp.ID, policyName, s.now(), true); err != nil {
			res.Failed++
			s.fail(ctx, "Leave Policy Assignment Error", fmt.Sprintf("employee %s: %v", emp.ID, err))
			continue
		}
		res.Success++
	}
	s.logger().Info("bulk leave policy assignment complete",
		"policy", policyName, "success", res.Success, "failed", res.Failed)
	return res, nil
}

// AllocateWithOpeningBalances creates one allocation per Active employee and
// eligible policy leave type. Annual Leave uses the opening balance when one
// is given. Existing allocations for the same period are replaced.
func (s *Service) AllocateWithOpeningBalances(ctx context.Context, opts AllocateOptions) (AllocationResult, error) {
	if opts.Policy == "" {
		opts.Policy = OmanPolicyName
	}
	if opts.FromDate.IsZero() {
		opts.FromDate = s.now()
	}
	opts.FromDate = attendance.DateOf(opts.FromDate)
	if opts.ToDate.IsZero() {
		opts.ToDate = opts.FromDate.AddDate(1, 0, 0)
	}
	opts.ToDate = attendance.DateOf(opts.ToDate)
	if opts.ToDate.Before(opts.FromDate) {
		return AllocationResult{}, ErrInvalidPeriod
	}

	policy, err := s.Store.GetPolicy(ctx, opts.Policy)
	if err != nil {
		return AllocationResult{}, err
	}
	if policy == nil || len(policy.Details) == 0 {
		return AllocationResult{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, opts.Policy)
	}

	types := make(map[string]*LeaveType, len(policy.Details))
	for _, d := range policy.Details {
		lt, err := s.Store.GetLeaveType(ctx, d.LeaveType)
		if err != nil {
			return AllocationResult{}, err
		}
		types[d.LeaveType] = lt
	}

	emps, err := s.Store.ListEmployees(ctx, attendance.EmployeeActive)
	if err != nil {
		return AllocationResult{}, err
	}

	res := AllocationResult{TotalEmployees: len(emps)}
	for _, emp := range emps {
		for _, d := range policy.Details {
			lt := types[d.LeaveType]
			if lt == nil {
				res.Failed++
				s.fail(ctx, "Leave Allocation Error", fmt.Sprintf("%s: leave type %s not found", emp.ID, d.LeaveType))
				continue
			}
			if ok, reason := Eligible(emp, *lt); !ok {
				s.logger().Debug("allocation skipped", "employee", emp.ID, "leave_type", lt.Name, "reason", reason)
				res.Skipped++
				continue
			}

			amount := d.AnnualAllocation
			description := "Annual allocation from " + policy.Name
			if bal, ok := opts.OpeningBalances[emp.ID]; ok && lt.Name == AnnualLeave {
				amount = bal
				description = fmt.Sprintf("Opening balance: %s days", bal)
				if opts.OpeningNote != "" {
					description = fmt.Sprintf("%s: %s days", opts.OpeningNote, bal)
				}
			}
			if !amount.IsPositive() {
				res.Skipped++
				continue
			}

			alloc := Allocation{
				ID:                 uuid.NewString(),
				EmployeeID:         emp.ID,
				LeaveType:          lt.Name,
				FromDate:           opts.FromDate,
				ToDate:             opts.ToDate,
				NewLeavesAllocated: amount,
				CarryForward:       lt.Name == AnnualLeave,
				Description:        description,
				DocStatus:          attendance.DocSubmitted,
			}
			if err := s.replaceAllocation(ctx, alloc); err != nil {
				res.Failed++
				s.fail(ctx, "Leave Allocation Error",
					fmt.Sprintf("Error creating leave allocation for %s - %s: %v", emp.ID, lt.Name, err))
				continue
			}
			res.Created++
		}
	}

	s.logger().Info("leave allocation complete",
		"employees", res.TotalEmployees, "created", res.Created, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

func (s *Service) replaceAllocation(ctx context.Context, alloc Allocation) error {
	existing, err := s.Store.FindAllocation(ctx, alloc.EmployeeID, alloc.LeaveType, alloc.FromDate, alloc.ToDate)
	if err != nil {
		return err
	}
	if existing != nil {
		bal, err := s.Store.AllocationBalance(ctx, existing.ID)
		if err != nil {
			return err
		}
		reversal := LedgerEntry{
			ID:             uuid.NewString(),
			EmployeeID:     existing.EmployeeID,
			LeaveType:      existing.LeaveType,
			AllocationID:   existing.ID,
			EffectiveDate:  attendance.DateOf(s.now()),
			Delta:          bal.Neg(),
			Type:           EntryReversal,
			ReferenceID:    existing.ID,
			IdempotencyKey: "cancel:" + existing.ID,
		}
		if err := s.Store.CancelAllocation(ctx, existing.ID, reversal); err != nil {
			return fmt.Errorf("cancel allocation %s: %w", existing.ID, err)
		}
	}
	return s.Store.CreateAllocation(ctx, alloc, allocationEntry(alloc))
}

// =============================================================================
// APPLICATIONS
// =============================================================================

// CreateApplication validates and stores an Open application.
func (s *Service) CreateApplication(ctx context.Context, a Application) (*Application, error) {
	a.FromDate, a.ToDate = attendance.DateOf(a.FromDate), attendance.DateOf(a.ToDate)
	if a.ToDate.Before(a.FromDate) {
		return nil, ErrInvalidPeriod
	}
	if a.HalfDay && a.HalfDayDate == nil {
		d := a.FromDate
		a.HalfDayDate = &d
	}

	emp, err := s.Store.GetEmployee(ctx, a.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: %s", attendance.ErrEmployeeNotFound, a.EmployeeID)
	}
	lt, err := s.Store.GetLeaveType(ctx, a.LeaveType)
	if err != nil {
		return nil, err
	}
	if lt == nil {
		return nil, fmt.Errorf("%w: %s", ErrLeaveTypeNotFound, a.LeaveType)
	}
	if ok, reason := Eligible(*emp, *lt); !ok {
		return nil, &NotEligibleError{EmployeeID: emp.ID, LeaveType: lt.Name, Reason: reason}
	}

	overlapping, err := s.Store.OverlappingApplications(ctx, emp.ID, a.FromDate, a.ToDate)
	if err != nil {
		return nil, err
	}
	if len(overlapping) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrOverlappingApplication, overlapping[0].ID)
	}

	a.ID = uuid.NewString()
	a.EmployeeName = emp.Name
	a.Status = ApplicationOpen
	a.DocStatus = attendance.DocDraft
	if err := s.Store.CreateApplication(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ApproveApplication debits the requested days and submits the application.
func (s *Service) ApproveApplication(ctx context.Context, id, approver string) (*Application, error) {
	a, err := s.openApplication(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.Ledger.Consume(ctx, a.EmployeeID, a.LeaveType, a.FromDate, a.Days(), a.ID); err != nil {
		return nil, err
	}

	a.Status = ApplicationApproved
	a.DocStatus = attendance.DocSubmitted
	a.DecidedBy = approver
	if err := s.Store.UpdateApplication(ctx, *a); err != nil {
		if rerr := s.Ledger.Reverse(ctx, a.ID); rerr != nil {
			s.logger().Error("leave reversal failed", "application", a.ID, "err", rerr)
		}
		return nil, err
	}

	if a.LeaveType == HajjLeave {
		if err := s.Store.MarkOnceInServiceTaken(ctx, a.EmployeeID, a.FromDate); err != nil {
			s.logger().Warn("hajj leave flag not updated", "employee", a.EmployeeID, "err", err)
		}
	}
	s.logger().Info("leave application approved",
		"application", a.ID, "employee", a.EmployeeID, "leave_type", a.LeaveType, "days", a.Days())
	return a, nil
}

func (s *Service) RejectApplication(ctx context.Context, id, approver string) (*Application, error) {
	a, err := s.openApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = ApplicationRejected
	a.DocStatus = attendance.DocSubmitted
	a.DecidedBy = approver
	if err := s.Store.UpdateApplication(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

// CancelApplication withdraws an application and returns any consumed days.
func (s *Service) CancelApplication(ctx context.Context, id string) (*Application, error) {
	a, err := s.Store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if a.Status == ApplicationCancelled {
		return a, nil
	}
	if a.Status == ApplicationApproved {
		if err := s.Ledger.Reverse(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("reverse application %s: %w", a.ID, err)
		}
	}
	a.Status = ApplicationCancelled
	a.DocStatus = attendance.DocCancelled
	if err := s.Store.UpdateApplication(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) openApplication(ctx context.Context, id string) (*Application, error) {
	a, err := s.Store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if a.Status != ApplicationOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrApplicationNotOpen, a.ID, a.Status)
	}
	return a, nil
}

// =============================================================================
// attendance.LeaveConsumer
// =============================================================================

func (s *Service) ConsumeLeave(ctx context.Context, employeeID, leaveType string, date time.Time, amount decimal.Decimal, reference string) error {
	return s.Ledger.Consume(ctx, employeeID, leaveType, date, amount, reference)
}

func (s *Service) ReverseLeave(ctx context.Context, reference string) error {
	err := s.Ledger.Reverse(ctx, reference)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return nil
	}
	return err
}

// Balance returns the remaining days of a leave type on asOf.
func (s *Service) Balance(ctx context.Context, employeeID, leaveType string, asOf time.Time) (decimal.Decimal, error) {
	return s.Ledger.Balance(ctx, employeeID, leaveType, asOf)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) fail(ctx context.Context, title, message string) {
	s.logger().Error(title, "detail", message)
	if err := s.Store.RecordError(ctx, title, message); err != nil {
		s.logger().Warn("error log insert failed", "title", title, "err", err)
	}
}
