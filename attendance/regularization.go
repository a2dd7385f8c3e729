/*
regularization.go - Human review of attendance anomalies

PURPOSE:
  A Regularization is opened by consolidation (status Pending) or by the
  per-check-in evaluator (status Open). A reviewer closes it with exactly one
  committed attendance.

STATE MACHINE:

    Open/Pending ──approve──▶ Approved  (attendance Present or Half Day)
         │
         ├────────reject───▶ Rejected  (attendance Absent)
         │
         └────────cancel───▶ Cancelled (no attendance)

    Approved/Rejected ──cancel──▶ Cancelled, only after the attendance the
                                  decision produced has been cancelled

GUARDS:
  Approve and Reject both require a shift and refuse to run when a committed
  attendance already exists for the employee/date. Decided cases cannot be
  deleted.

HALF DAY:
  When HalfDayThreshold is set and the recorded lateness exceeds it, an
  approval produces Half Day. If HalfDayLeaveType is set, half a day is
  debited from that allocation. A short balance leaves the Half Day in place
  without a leave type and logs a warning.
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	actionApprove = "approve"
	actionReject  = "reject"
	actionCancel  = "cancel"
	actionDelete  = "delete"
)

var halfDay = decimal.NewFromFloat(0.5)

// Workflow drives regularization decisions.
type Workflow struct {
	Store  RegularizationStore
	Leave  LeaveConsumer
	Logger *slog.Logger

	HalfDayThreshold time.Duration
	HalfDayLeaveType string

	Now func() time.Time
}

func NewWorkflow(store RegularizationStore, leave LeaveConsumer, logger *slog.Logger) *Workflow {
	return &Workflow{Store: store, Leave: leave, Logger: logger}
}

// Approve closes the case with a Present (or Half Day) attendance.
func (w *Workflow) Approve(ctx context.Context, id, approver string) (*Attendance, error) {
	reg, err := w.decidable(ctx, id, actionApprove)
	if err != nil {
		return nil, err
	}

	att := w.newAttendance(*reg, StatusPresent)
	consumed := false
	if w.HalfDayThreshold > 0 && reg.Late > w.HalfDayThreshold {
		att.Status = StatusHalfDay
		consumed = w.consumeHalfDay(ctx, *reg, &att)
	}

	if err := w.decide(ctx, reg, att, RegApproved, approver); err != nil {
		if consumed {
			if rerr := w.Leave.ReverseLeave(ctx, att.ID); rerr != nil {
				w.logger().Error("leave reversal failed", "attendance", att.ID, "err", rerr)
			}
		}
		return nil, err
	}

	w.logger().Info("regularization approved",
		"regularization", reg.ID, "employee", reg.EmployeeID, "attendance", att.ID, "status", att.Status)
	return &att, nil
}

// Reject closes the case with an Absent attendance.
func (w *Workflow) Reject(ctx context.Context, id, approver string) (*Attendance, error) {
	reg, err := w.decidable(ctx, id, actionReject)
	if err != nil {
		return nil, err
	}

	att := w.newAttendance(*reg, StatusAbsent)
	if err := w.decide(ctx, reg, att, RegRejected, approver); err != nil {
		return nil, err
	}

	w.logger().Info("regularization rejected",
		"regularization", reg.ID, "employee", reg.EmployeeID, "attendance", att.ID)
	return &att, nil
}

// Cancel withdraws a case. A decided case can only be cancelled once the
// attendance it produced is no longer committed.
func (w *Workflow) Cancel(ctx context.Context, id string) error {
	reg, err := w.load(ctx, id)
	if err != nil {
		return err
	}
	if reg.Status == RegCancelled {
		return &TransitionError{RegularizationID: id, From: reg.Status, Action: actionCancel, Err: ErrNotPending}
	}

	if reg.Status.Decided() && reg.AttendanceID != "" {
		att, err := w.Store.GetAttendance(ctx, reg.AttendanceID)
		if err != nil {
			return err
		}
		if att != nil && att.DocStatus.Committed() {
			return &TransitionError{RegularizationID: id, From: reg.Status, Action: actionCancel, Err: ErrAttendanceNotCancelled}
		}
	}

	return w.Store.SetRegularizationStatus(ctx, id, RegCancelled, DocCancelled)
}

// Delete removes an undecided or cancelled case and keeps a snapshot of it.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	reg, err := w.load(ctx, id)
	if err != nil {
		return err
	}
	if reg.Status.Decided() {
		return &TransitionError{RegularizationID: id, From: reg.Status, Action: actionDelete, Err: ErrRegularizationLocked}
	}

	if err := w.Store.RecordDeletedDocument(ctx, "Attendance Regularization", reg.ID, reg); err != nil {
		return fmt.Errorf("snapshot regularization: %w", err)
	}
	return w.Store.DeleteRegularization(ctx, id)
}

// CancelAttendance rolls back a committed attendance and any leave it
// consumed. The employee/date becomes free for a new outcome.
func (w *Workflow) CancelAttendance(ctx context.Context, id string) error {
	att, err := w.Store.GetAttendance(ctx, id)
	if err != nil {
		return err
	}
	if att == nil {
		return fmt.Errorf("%w: %s", ErrAttendanceNotFound, id)
	}
	if !att.DocStatus.Committed() {
		return nil
	}
	// Leave goes back before the attendance is cancelled, so a failed
	// reversal leaves it committed and the call can be retried.
	if w.Leave != nil && att.LeaveType != "" {
		if err := w.Leave.ReverseLeave(ctx, att.ID); err != nil {
			return fmt.Errorf("reverse leave for attendance %s: %w", att.ID, err)
		}
	}
	return w.Store.CancelAttendance(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func (w *Workflow) load(ctx context.Context, id string) (*Regularization, error) {
	reg, err := w.Store.GetRegularization(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: %s", ErrRegularizationNotFound, id)
	}
	return reg, nil
}

func (w *Workflow) decidable(ctx context.Context, id, action string) (*Regularization, error) {
	reg, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reg.Status.Undecided() {
		return nil, &TransitionError{RegularizationID: id, From: reg.Status, Action: action, Err: ErrNotPending}
	}
	if reg.Shift == "" {
		return nil, &TransitionError{RegularizationID: id, From: reg.Status, Action: action, Err: ErrShiftRequired}
	}

	existing, err := w.Store.CommittedAttendance(ctx, reg.EmployeeID, reg.PostingDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &AttendanceExistsError{EmployeeID: reg.EmployeeID, Date: reg.PostingDate, AttendanceID: existing.ID}
	}
	return reg, nil
}

func (w *Workflow) newAttendance(reg Regularization, status AttendanceStatus) Attendance {
	return Attendance{
		ID:               uuid.NewString(),
		EmployeeID:       reg.EmployeeID,
		EmployeeName:     reg.EmployeeName,
		Date:             DateOf(reg.PostingDate),
		Shift:            reg.Shift,
		Status:           status,
		Late:             reg.Late,
		RegularizationID: reg.ID,
		DocStatus:        DocSubmitted,
	}
}

func (w *Workflow) decide(ctx context.Context, reg *Regularization, att Attendance, status RegularizationStatus, approver string) error {
	now := w.now()
	reg.Status = status
	reg.DocStatus = DocSubmitted
	reg.AttendanceID = att.ID
	reg.DecidedBy = approver
	reg.DecidedAt = &now

	if err := w.Store.DecideRegularization(ctx, *reg, att); err != nil {
		if errors.Is(err, ErrAttendanceExists) {
			return &AttendanceExistsError{EmployeeID: reg.EmployeeID, Date: reg.PostingDate}
		}
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (w *Workflow) consumeHalfDay(ctx context.Context, reg Regularization, att *Attendance) bool {
	if w.HalfDayLeaveType == "" || w.Leave == nil {
		return false
	}
	err := w.Leave.ConsumeLeave(ctx, reg.EmployeeID, w.HalfDayLeaveType, reg.PostingDate, halfDay, att.ID)
	if err != nil {
		w.logger().Warn("half day leave not consumed",
			"employee", reg.EmployeeID, "leave_type", w.HalfDayLeaveType, "err", err)
		return false
	}
	att.LeaveType = w.HalfDayLeaveType
	return true
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Workflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
