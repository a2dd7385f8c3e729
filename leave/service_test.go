package leave_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/leave"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	yearStart = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	today     = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
)

// newTestService returns a service over an in-memory store holding the Oman
// policy, a Muslim man "M" and a non-Muslim woman "F".
func newTestService(t *testing.T) (*leave.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := leave.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.Now = func() time.Time { return today }

	ctx := context.Background()
	res, err := svc.SetupPolicy(ctx)
	require.NoError(t, err)
	require.Equal(t, len(leave.OmanLeaveTypes()), res.LeaveTypesCreated)

	require.NoError(t, store.SaveEmployee(ctx, attendance.Employee{ID: "M", Name: "Salim", Gender: "Male", Religion: "Muslim"}))
	require.NoError(t, store.SaveEmployee(ctx, attendance.Employee{ID: "F", Name: "Anna", Gender: "Female", Religion: "Christian"}))
	return svc, store
}

func allocate(t *testing.T, svc *leave.Service, opening map[string]decimal.Decimal) leave.AllocationResult {
	t.Helper()
	res, err := svc.AllocateWithOpeningBalances(context.Background(), leave.AllocateOptions{
		FromDate:        yearStart,
		OpeningBalances: opening,
	})
	require.NoError(t, err)
	return res
}

func balance(t *testing.T, svc *leave.Service, employee, leaveType string) string {
	t.Helper()
	b, err := svc.Balance(context.Background(), employee, leaveType, today)
	require.NoError(t, err)
	return b.String()
}

func apply(t *testing.T, svc *leave.Service, employee, leaveType string, from, to time.Time) *leave.Application {
	t.Helper()
	a, err := svc.CreateApplication(context.Background(), leave.Application{
		EmployeeID: employee, LeaveType: leaveType, FromDate: from, ToDate: to,
	})
	require.NoError(t, err)
	return a
}

// =============================================================================
// SETUP AND ALLOCATION
// =============================================================================

func TestSetupPolicy_IsRepeatable(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.SetupPolicy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, leave.OmanPolicyName, res.Policy)
	types, err := store.ListLeaveTypes(context.Background())
	require.NoError(t, err)
	assert.Len(t, types, len(leave.OmanLeaveTypes()))
}

func TestAllocate_AppliesRestrictionsAndOpeningBalances(t *testing.T) {
	// GIVEN an opening Annual Leave balance for M only
	svc, _ := newTestService(t)

	// WHEN the policy is allocated
	res := allocate(t, svc, map[string]decimal.Decimal{"M": decimal.RequireFromString("12.5")})

	// THEN each employee gets the types they are eligible for
	assert.Equal(t, 2, res.TotalEmployees)
	assert.Equal(t, 20, res.Created)
	assert.Equal(t, 6, res.Skipped)
	assert.Zero(t, res.Failed)

	assert.Equal(t, "12.5", balance(t, svc, "M", leave.AnnualLeave))
	assert.Equal(t, "30", balance(t, svc, "F", leave.AnnualLeave))
	assert.Equal(t, "15", balance(t, svc, "M", leave.HajjLeave))
	assert.Equal(t, "0", balance(t, svc, "F", leave.HajjLeave))
}

func TestAllocate_RerunReplacesInsteadOfDoubling(t *testing.T) {
	svc, store := newTestService(t)
	allocate(t, svc, nil)

	allocate(t, svc, map[string]decimal.Decimal{"F": decimal.NewFromInt(4)})

	assert.Equal(t, "4", balance(t, svc, "F", leave.AnnualLeave))
	allocs, err := store.ListAllocations(context.Background(), "F", today)
	require.NoError(t, err)
	annual := 0
	for _, a := range allocs {
		if a.LeaveType == leave.AnnualLeave {
			annual++
		}
	}
	assert.Equal(t, 1, annual, "the replaced allocation is cancelled")
}

func TestAllocate_UnknownPolicy(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AllocateWithOpeningBalances(context.Background(), leave.AllocateOptions{Policy: "Nope"})

	assert.True(t, leave.IsNotFound(err))
}

func TestAssignPolicy(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a, err := svc.AssignPolicy(ctx, "M", leave.OmanPolicyName, time.Time{}, true)
	require.NoError(t, err)
	assert.Equal(t, today, a.EffectiveFrom)

	_, err = svc.AssignPolicy(ctx, "ghost", leave.OmanPolicyName, today, true)
	assert.ErrorIs(t, err, attendance.ErrEmployeeNotFound)

	res, err := svc.BulkAssign(ctx, leave.OmanPolicyName)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)

	assignments, err := store.PolicyAssignments(ctx, "M")
	require.NoError(t, err)
	assert.Len(t, assignments, 1, "same employee, policy and date is an upsert")
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func TestApplication_ApproveAndCancelMoveTheBalance(t *testing.T) {
	// GIVEN M holds 12.5 days of Annual Leave
	svc, store := newTestService(t)
	allocate(t, svc, map[string]decimal.Decimal{"M": decimal.RequireFromString("12.5")})
	ctx := context.Background()
	a := apply(t, svc, "M", leave.AnnualLeave, today, today.AddDate(0, 0, 2))

	// WHEN the application is approved
	approved, err := svc.ApproveApplication(ctx, a.ID, "hr")

	// THEN three days are debited and attendance sees the leave
	require.NoError(t, err)
	assert.Equal(t, leave.ApplicationApproved, approved.Status)
	assert.Equal(t, "9.5", balance(t, svc, "M", leave.AnnualLeave))

	on, err := store.ApprovedLeaveOn(ctx, "M", today.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.NotNil(t, on)
	assert.Equal(t, leave.AnnualLeave, on.LeaveType)

	// AND deciding twice is refused
	_, err = svc.RejectApplication(ctx, a.ID, "hr")
	assert.ErrorIs(t, err, leave.ErrApplicationNotOpen)

	// WHEN it is cancelled, twice
	_, err = svc.CancelApplication(ctx, a.ID)
	require.NoError(t, err)
	_, err = svc.CancelApplication(ctx, a.ID)
	require.NoError(t, err)

	// THEN the days come back exactly once
	assert.Equal(t, "12.5", balance(t, svc, "M", leave.AnnualLeave))
	on, err = store.ApprovedLeaveOn(ctx, "M", today)
	require.NoError(t, err)
	assert.Nil(t, on)
}

func TestApplication_InsufficientBalanceStaysOpen(t *testing.T) {
	svc, store := newTestService(t)
	allocate(t, svc, map[string]decimal.Decimal{"M": decimal.NewFromInt(2)})
	a := apply(t, svc, "M", leave.AnnualLeave, today, today.AddDate(0, 0, 4))

	_, err := svc.ApproveApplication(context.Background(), a.ID, "hr")

	var short *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "3", short.Shortfall().String())
	got, err := store.GetApplication(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.ApplicationOpen, got.Status)
}

func TestApplication_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	allocate(t, svc, nil)
	ctx := context.Background()

	_, err := svc.CreateApplication(ctx, leave.Application{
		EmployeeID: "F", LeaveType: "Paternity Leave", FromDate: today, ToDate: today,
	})
	var notEligible *leave.NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	assert.Equal(t, "Gender restriction", notEligible.Reason)

	_, err = svc.CreateApplication(ctx, leave.Application{
		EmployeeID: "F", LeaveType: leave.AnnualLeave, FromDate: today, ToDate: today.AddDate(0, 0, -1),
	})
	assert.ErrorIs(t, err, leave.ErrInvalidPeriod)

	_, err = svc.CreateApplication(ctx, leave.Application{
		EmployeeID: "F", LeaveType: "Gardening Leave", FromDate: today, ToDate: today,
	})
	assert.ErrorIs(t, err, leave.ErrLeaveTypeNotFound)

	apply(t, svc, "F", leave.AnnualLeave, today, today.AddDate(0, 0, 3))
	_, err = svc.CreateApplication(ctx, leave.Application{
		EmployeeID: "F", LeaveType: "Sick Leave", FromDate: today.AddDate(0, 0, 3), ToDate: today.AddDate(0, 0, 5),
	})
	assert.ErrorIs(t, err, leave.ErrOverlappingApplication)
}

func TestApplication_HalfDayIsReportedOnItsDate(t *testing.T) {
	svc, store := newTestService(t)
	allocate(t, svc, nil)
	ctx := context.Background()

	a, err := svc.CreateApplication(ctx, leave.Application{
		EmployeeID: "F", LeaveType: leave.AnnualLeave, FromDate: today, ToDate: today, HalfDay: true,
	})
	require.NoError(t, err)
	_, err = svc.ApproveApplication(ctx, a.ID, "hr")
	require.NoError(t, err)

	assert.Equal(t, "29.5", balance(t, svc, "F", leave.AnnualLeave))
	on, err := store.ApprovedLeaveOn(ctx, "F", today)
	require.NoError(t, err)
	require.NotNil(t, on)
	assert.True(t, on.HalfDay)
}

func TestApplication_HajjIsOnceInService(t *testing.T) {
	// GIVEN M takes Hajj leave
	svc, store := newTestService(t)
	allocate(t, svc, nil)
	ctx := context.Background()
	a := apply(t, svc, "M", leave.HajjLeave, today, today.AddDate(0, 0, 9))
	_, err := svc.ApproveApplication(ctx, a.ID, "hr")
	require.NoError(t, err)

	// THEN the employee is flagged and cannot apply again
	emp, err := store.GetEmployee(ctx, "M")
	require.NoError(t, err)
	assert.True(t, emp.HajjLeaveTaken)

	_, err = svc.CreateApplication(ctx, leave.Application{
		EmployeeID: "M", LeaveType: leave.HajjLeave, FromDate: today.AddDate(0, 1, 0), ToDate: today.AddDate(0, 1, 1),
	})
	assert.ErrorIs(t, err, leave.ErrNotEligible)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_ConsumeAndReverseAreIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	allocate(t, svc, nil)
	ctx := context.Background()
	half := decimal.NewFromFloat(0.5)

	require.NoError(t, svc.ConsumeLeave(ctx, "F", leave.AnnualLeave, today, half, "att-1"))
	err := svc.ConsumeLeave(ctx, "F", leave.AnnualLeave, today, half, "att-1")
	assert.ErrorIs(t, err, leave.ErrDuplicateIdempotencyKey)
	assert.Equal(t, "29.5", balance(t, svc, "F", leave.AnnualLeave))

	require.NoError(t, svc.ReverseLeave(ctx, "att-1"))
	require.NoError(t, svc.ReverseLeave(ctx, "att-1"))
	assert.Equal(t, "30", balance(t, svc, "F", leave.AnnualLeave))

	entries, err := store.LedgerEntries(ctx, "F", leave.AnnualLeave)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, leave.EntryAllocation, entries[0].Type)
	assert.Equal(t, leave.EntryConsumption, entries[1].Type)
	assert.Equal(t, leave.EntryReversal, entries[2].Type)
}

func TestLedger_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.ConsumeLeave(ctx, "M", leave.AnnualLeave, today, decimal.NewFromInt(1), "x")
	assert.ErrorIs(t, err, leave.ErrNoAllocation)

	err = svc.ConsumeLeave(ctx, "M", leave.AnnualLeave, today, decimal.Zero, "x")
	assert.Error(t, err)
}
