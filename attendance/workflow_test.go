package attendance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	day     = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// fakeLeave answers leave lookups from a map and records consumption.
type fakeLeave struct {
	approved map[string]*attendance.ApprovedLeave
	consumed map[string]decimal.Decimal
	reversed []string
	short    bool
	// reverseErr fails ReverseLeave while set.
	reverseErr error
}

func newFakeLeave() *fakeLeave {
	return &fakeLeave{
		approved: make(map[string]*attendance.ApprovedLeave),
		consumed: make(map[string]decimal.Decimal),
	}
}

func (f *fakeLeave) ApprovedLeaveOn(_ context.Context, employeeID string, _ time.Time) (*attendance.ApprovedLeave, error) {
	return f.approved[employeeID], nil
}

func (f *fakeLeave) ConsumeLeave(_ context.Context, _, _ string, _ time.Time, days decimal.Decimal, reference string) error {
	if f.short {
		return errors.New("insufficient balance")
	}
	f.consumed[reference] = days
	return nil
}

func (f *fakeLeave) ReverseLeave(_ context.Context, reference string) error {
	if f.reverseErr != nil {
		return f.reverseErr
	}
	f.reversed = append(f.reversed, reference)
	delete(f.consumed, reference)
	return nil
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *sqlite.Store
	leave *fakeLeave
	cons  *attendance.Consolidator
	flow  *attendance.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	leave := newFakeLeave()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		leave: leave,
		cons:  attendance.NewConsolidator(store, leave, discard),
		flow:  attendance.NewWorkflow(store, leave, discard),
	}

	require.NoError(t, store.SaveShiftType(f.ctx, attendance.ShiftType{
		Name:               "Day",
		StartTime:          attendance.MustClock("08:00"),
		EndTime:            attendance.MustClock("17:00"),
		GracePeriodMinutes: 10,
	}))
	return f
}

// employee creates an Active employee assigned to the Day shift.
func (f *fixture) employee(id string) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveEmployee(f.ctx, attendance.Employee{ID: id, Name: "Employee " + id}))
	require.NoError(f.t, f.store.CreateShiftAssignment(f.ctx, attendance.ShiftAssignment{
		ID:         "sa-" + id,
		EmployeeID: id,
		ShiftType:  "Day",
		StartDate:  day.AddDate(0, -1, 0),
		DocStatus:  attendance.DocSubmitted,
	}))
}

func (f *fixture) punch(employee, clock string, dir attendance.Direction) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreateCheckIn(f.ctx, attendance.CheckIn{
		ID:         employee + "-" + clock,
		EmployeeID: employee,
		Time:       attendance.MustClock(clock).On(day),
		LogType:    dir,
	}))
}

func (f *fixture) pending(employee string) *attendance.Regularization {
	f.t.Helper()
	reg, err := f.store.ActiveRegularization(f.ctx, employee, day)
	require.NoError(f.t, err)
	require.NotNil(f.t, reg, "expected a regularization for %s", employee)
	return reg
}

// =============================================================================
// CONSOLIDATION
// =============================================================================

func TestConsolidateDate_Outcomes(t *testing.T) {
	// GIVEN four employees on the Day shift
	f := newFixture(t)
	for _, id := range []string{"ontime", "late", "absent", "leave"} {
		f.employee(id)
	}
	f.punch("ontime", "07:55:00", attendance.In)
	f.punch("ontime", "17:05:00", attendance.Out)
	f.punch("late", "08:45:00", attendance.In)
	f.punch("late", "17:00:00", attendance.Out)
	f.leave.approved["leave"] = &attendance.ApprovedLeave{LeaveType: "Annual Leave"}

	// WHEN the date is consolidated
	stats, err := f.cons.ConsolidateDate(f.ctx, day)

	// THEN each employee gets exactly one outcome
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 1, stats.Regularizations)
	assert.Equal(t, 1, stats.Absent)
	assert.Equal(t, 1, stats.Leave)
	assert.Zero(t, stats.Errors)

	att, err := f.store.CommittedAttendance(f.ctx, "leave", day)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, attendance.StatusOnLeave, att.Status)
	assert.Equal(t, "Annual Leave", att.LeaveType)

	reg := f.pending("late")
	assert.Equal(t, attendance.RegPending, reg.Status)
	assert.Equal(t, 35*time.Minute, reg.Late)
	assert.Len(t, reg.Items, 2)

	none, err := f.store.CommittedAttendance(f.ctx, "late", day)
	require.NoError(t, err)
	assert.Nil(t, none, "a regularized day has no attendance until decided")
}

func TestConsolidateDate_IsIdempotent(t *testing.T) {
	// GIVEN a consolidated date
	f := newFixture(t)
	f.employee("E1")
	f.employee("E2")
	f.punch("E2", "09:00:00", attendance.In)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)

	// WHEN it is consolidated again
	stats, err := f.cons.ConsolidateDate(f.ctx, day)

	// THEN nothing new is written
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	all, err := f.store.ListAttendance(f.ctx, sqlite.AttendanceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConsolidateDate_SkipsEmployeesNotYetJoined(t *testing.T) {
	f := newFixture(t)
	joined := day.AddDate(0, 0, 1)
	require.NoError(t, f.store.SaveEmployee(f.ctx, attendance.Employee{ID: "new", Name: "New", DateOfJoining: &joined}))
	require.NoError(t, f.store.CreateShiftAssignment(f.ctx, attendance.ShiftAssignment{
		ID: "sa-new", EmployeeID: "new", ShiftType: "Day", StartDate: day, DocStatus: attendance.DocSubmitted,
	}))

	stats, err := f.cons.ConsolidateDate(f.ctx, day)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Absent)
}

func TestConsolidateDate_MissingShiftIsCountedAndLogged(t *testing.T) {
	// GIVEN an assignment pointing at a shift type that does not exist
	f := newFixture(t)
	require.NoError(t, f.store.SaveEmployee(f.ctx, attendance.Employee{ID: "E1", Name: "One"}))
	require.NoError(t, f.store.CreateShiftAssignment(f.ctx, attendance.ShiftAssignment{
		ID: "sa-1", EmployeeID: "E1", ShiftType: "Night", StartDate: day, DocStatus: attendance.DocSubmitted,
	}))

	// WHEN consolidating
	stats, err := f.cons.ConsolidateDate(f.ctx, day)

	// THEN the run continues and the failure is recorded
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	logs, err := f.store.ListErrors(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "E1")
}

func TestConsolidateRange_Checkpoints(t *testing.T) {
	// GIVEN one employee with no punches
	f := newFixture(t)
	f.employee("E1")
	f.cons.CheckpointEvery = 2
	var checkpoints []int
	f.cons.OnCheckpoint = func(processed int, _ time.Time) {
		checkpoints = append(checkpoints, processed)
	}

	// WHEN five days are backfilled
	res, err := f.cons.ConsolidateRange(f.ctx, day, day.AddDate(0, 0, 4))

	// THEN every day is processed in order with checkpoints every two days
	require.NoError(t, err)
	assert.Equal(t, 5, res.ProcessedDays)
	assert.Equal(t, []int{2, 4}, checkpoints)
	require.Len(t, res.Days, 5)
	assert.Equal(t, day, res.Days[0].Date)
	assert.Equal(t, 1, res.Days[4].Absent)
}

func TestConsolidateRange_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.employee("E1")
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	res, err := f.cons.ConsolidateRange(ctx, day, day.AddDate(0, 0, 3))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.ProcessedDays)
}

// =============================================================================
// REGULARIZATION WORKFLOW
// =============================================================================

func TestWorkflow_ApproveThenCancel(t *testing.T) {
	// GIVEN a pending regularization for a late arrival
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "08:30:00", attendance.In)
	f.punch("E1", "17:00:00", attendance.Out)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)
	reg := f.pending("E1")

	// WHEN it is approved
	att, err := f.flow.Approve(f.ctx, reg.ID, "manager@hamptons")

	// THEN a Present attendance carries the lateness and the case is closed
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, att.Status)
	assert.Equal(t, 20*time.Minute, att.Late)
	assert.Equal(t, reg.ID, att.RegularizationID)

	got, err := f.store.GetRegularization(f.ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.RegApproved, got.Status)
	assert.Equal(t, att.ID, got.AttendanceID)
	assert.Equal(t, "manager@hamptons", got.DecidedBy)

	// AND a second decision is refused
	_, err = f.flow.Reject(f.ctx, reg.ID, "manager@hamptons")
	assert.ErrorIs(t, err, attendance.ErrNotPending)

	// AND the case cannot be cancelled while its attendance stands
	assert.ErrorIs(t, f.flow.Cancel(f.ctx, reg.ID), attendance.ErrAttendanceNotCancelled)
	assert.ErrorIs(t, f.flow.Delete(f.ctx, reg.ID), attendance.ErrRegularizationLocked)

	require.NoError(t, f.flow.CancelAttendance(f.ctx, att.ID))
	require.NoError(t, f.flow.Cancel(f.ctx, reg.ID))

	got, err = f.store.GetRegularization(f.ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.RegCancelled, got.Status)
}

func TestWorkflow_RejectMarksAbsent(t *testing.T) {
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "08:00:00", attendance.In)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)

	att, err := f.flow.Reject(f.ctx, f.pending("E1").ID, "hr")

	require.NoError(t, err)
	assert.Equal(t, attendance.StatusAbsent, att.Status)
}

func TestWorkflow_RefusesWhenAttendanceAlreadyExists(t *testing.T) {
	// GIVEN an open case and a committed attendance for the same day
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "08:00:00", attendance.In)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)
	reg := f.pending("E1")
	require.NoError(t, f.store.CreateAttendance(f.ctx, attendance.Attendance{
		ID: "manual", EmployeeID: "E1", Date: day, Shift: "Day",
		Status: attendance.StatusPresent, DocStatus: attendance.DocSubmitted,
	}))

	// WHEN approving
	_, err = f.flow.Approve(f.ctx, reg.ID, "hr")

	// THEN the existing attendance is reported
	var exists *attendance.AttendanceExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "manual", exists.AttendanceID)
}

func TestWorkflow_HalfDayConsumesAndReversesLeave(t *testing.T) {
	// GIVEN a case whose lateness exceeds the half-day threshold
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "11:00:00", attendance.In)
	f.punch("E1", "17:00:00", attendance.Out)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)
	f.flow.HalfDayThreshold = 2 * time.Hour
	f.flow.HalfDayLeaveType = "Annual Leave"

	// WHEN approved
	att, err := f.flow.Approve(f.ctx, f.pending("E1").ID, "hr")

	// THEN half a day is debited against the attendance
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusHalfDay, att.Status)
	assert.Equal(t, "Annual Leave", att.LeaveType)
	assert.True(t, decimal.NewFromFloat(0.5).Equal(f.leave.consumed[att.ID]))

	// AND cancelling the attendance gives it back
	require.NoError(t, f.flow.CancelAttendance(f.ctx, att.ID))
	assert.Equal(t, []string{att.ID}, f.leave.reversed)
}

func TestWorkflow_CancelAttendanceRetriesFailedReversal(t *testing.T) {
	// GIVEN an approved half day that debited leave
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "11:00:00", attendance.In)
	f.punch("E1", "17:00:00", attendance.Out)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)
	f.flow.HalfDayThreshold = 2 * time.Hour
	f.flow.HalfDayLeaveType = "Annual Leave"
	att, err := f.flow.Approve(f.ctx, f.pending("E1").ID, "hr")
	require.NoError(t, err)

	// WHEN the leave service is down during cancellation
	f.leave.reverseErr = errors.New("leave service unavailable")
	err = f.flow.CancelAttendance(f.ctx, att.ID)

	// THEN the call fails and the attendance stays committed
	require.Error(t, err)
	got, err := f.store.GetAttendance(f.ctx, att.ID)
	require.NoError(t, err)
	assert.True(t, got.DocStatus.Committed())
	assert.Empty(t, f.leave.reversed)

	// WHEN the service recovers and the call is retried
	f.leave.reverseErr = nil
	require.NoError(t, f.flow.CancelAttendance(f.ctx, att.ID))

	// THEN the leave is given back and the attendance is cancelled
	assert.Equal(t, []string{att.ID}, f.leave.reversed)
	assert.NotContains(t, f.leave.consumed, att.ID)
	got, err = f.store.GetAttendance(f.ctx, att.ID)
	require.NoError(t, err)
	assert.False(t, got.DocStatus.Committed())
}

func TestWorkflow_HalfDayWithShortBalanceKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "11:00:00", attendance.In)
	f.punch("E1", "17:00:00", attendance.Out)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)
	f.flow.HalfDayThreshold = 2 * time.Hour
	f.flow.HalfDayLeaveType = "Annual Leave"
	f.leave.short = true

	att, err := f.flow.Approve(f.ctx, f.pending("E1").ID, "hr")

	require.NoError(t, err)
	assert.Equal(t, attendance.StatusHalfDay, att.Status)
	assert.Empty(t, att.LeaveType)
}

func TestWorkflow_DeleteUndecidedKeepsSnapshot(t *testing.T) {
	// GIVEN a pending case
	f := newFixture(t)
	f.employee("E1")
	f.punch("E1", "08:00:00", attendance.In)
	_, err := f.cons.ConsolidateDate(f.ctx, day)
	require.NoError(t, err)
	reg := f.pending("E1")

	// WHEN it is deleted
	require.NoError(t, f.flow.Delete(f.ctx, reg.ID))

	// THEN it is gone, a snapshot remains and the check-in is free again
	got, err := f.store.GetRegularization(f.ctx, reg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap, err := f.store.DeletedDocument(f.ctx, "Attendance Regularization", reg.ID)
	require.NoError(t, err)
	assert.Contains(t, string(snap), reg.ID)

	ci, err := f.store.GetCheckIn(f.ctx, "E1-08:00:00")
	require.NoError(t, err)
	require.NotNil(t, ci)
	assert.Empty(t, ci.RegularizationID)

	assert.True(t, attendance.IsNotFound(f.flow.Delete(f.ctx, reg.ID)))
}

// =============================================================================
// REALTIME EVALUATION
// =============================================================================

func TestRealtime_LateInOpensThenExtendsCase(t *testing.T) {
	// GIVEN an evaluator running at midday
	f := newFixture(t)
	f.employee("E1")
	ev := &attendance.RealtimeEvaluator{
		Store:  f.store,
		Logger: discard,
		Now:    func() time.Time { return attendance.MustClock("12:00").On(day) },
	}

	// WHEN a late IN arrives
	f.punch("E1", "08:40:00", attendance.In)
	ci, err := f.store.GetCheckIn(f.ctx, "E1-08:40:00")
	require.NoError(t, err)
	v, err := ev.OnCheckIn(f.ctx, *ci)

	// THEN an Open case is created
	require.NoError(t, err)
	require.True(t, v.Flagged)
	reg := f.pending("E1")
	assert.Equal(t, v.RegularizationID, reg.ID)
	assert.Equal(t, attendance.RegOpen, reg.Status)
	assert.Equal(t, 30*time.Minute, reg.Late)

	// WHEN a later IN is also late
	f.punch("E1", "09:30:00", attendance.In)
	ci, err = f.store.GetCheckIn(f.ctx, "E1-09:30:00")
	require.NoError(t, err)
	v, err = ev.OnCheckIn(f.ctx, *ci)

	// THEN it joins the same case and raises its lateness
	require.NoError(t, err)
	assert.Equal(t, reg.ID, v.RegularizationID)
	reg = f.pending("E1")
	assert.Len(t, reg.Items, 2)
	assert.Equal(t, 80*time.Minute, reg.Late)
}

func TestRealtime_LateMarkingShiftLeavesDayToConsolidation(t *testing.T) {
	// GIVEN a shift that marks lateness on the attendance
	f := newFixture(t)
	require.NoError(t, f.store.SaveShiftType(f.ctx, attendance.ShiftType{
		Name:               "Marked",
		StartTime:          attendance.MustClock("08:00"),
		EndTime:            attendance.MustClock("17:00"),
		GracePeriodMinutes: 10,
		EnableLateMarking:  true,
	}))
	require.NoError(t, f.store.SaveEmployee(f.ctx, attendance.Employee{ID: "E1", Name: "One"}))
	require.NoError(t, f.store.CreateShiftAssignment(f.ctx, attendance.ShiftAssignment{
		ID: "sa-E1", EmployeeID: "E1", ShiftType: "Marked", StartDate: day.AddDate(0, -1, 0), DocStatus: attendance.DocSubmitted,
	}))
	ev := &attendance.RealtimeEvaluator{
		Store:  f.store,
		Logger: discard,
		Now:    func() time.Time { return attendance.MustClock("12:00").On(day) },
	}

	// WHEN a late IN arrives
	f.punch("E1", "08:45:00", attendance.In)
	ci, err := f.store.GetCheckIn(f.ctx, "E1-08:45:00")
	require.NoError(t, err)
	v, err := ev.OnCheckIn(f.ctx, *ci)

	// THEN no case is opened
	require.NoError(t, err)
	assert.False(t, v.Flagged)
	open, err := f.store.ActiveRegularization(f.ctx, "E1", day)
	require.NoError(t, err)
	assert.Nil(t, open)

	// WHEN the day is consolidated after a full shift
	f.punch("E1", "17:00:00", attendance.Out)
	stats, err := f.cons.ConsolidateDate(f.ctx, day)

	// THEN the employee is Present with the lateness recorded
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Present)
	assert.Zero(t, stats.Regularizations)
	att, err := f.store.CommittedAttendance(f.ctx, "E1", day)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, 35*time.Minute, att.Late)
	open, err = f.store.ActiveRegularization(f.ctx, "E1", day)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestRealtime_NoAssignmentIsNotFlagged(t *testing.T) {
	f := newFixture(t)
	ev := &attendance.RealtimeEvaluator{Store: f.store, Logger: discard}

	v, err := ev.OnCheckIn(f.ctx, attendance.CheckIn{
		ID: "x", EmployeeID: "nobody", Time: attendance.MustClock("10:00").On(day), LogType: attendance.In,
	})

	require.NoError(t, err)
	assert.False(t, v.Flagged)
	assert.Empty(t, v.RegularizationID)
}
