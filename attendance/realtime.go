package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RealtimeEvaluator opens regularizations as punches arrive instead of
// waiting for the nightly run. Late INs are flagged immediately; early OUTs
// only once the shift has ended, since a later OUT may still follow.
type RealtimeEvaluator struct {
	Store  RealtimeStore
	Logger *slog.Logger
	Now    func() time.Time
}

// Verdict explains what OnCheckIn did.
type Verdict struct {
	Flagged          bool          `json:"flagged"`
	Reason           string        `json:"reason"`
	Deviation        time.Duration `json:"-"`
	RegularizationID string        `json:"regularization_id,omitempty"`
}

// Assess checks a punch against the shift without writing anything.
// Shifts with late marking enabled mark lateness on the attendance instead
// of opening a case, so a late IN is not flagged for them.
func Assess(ci CheckIn, shift ShiftType, now time.Time) Verdict {
	date := DateOf(ci.Time)
	switch ci.LogType {
	case In:
		if late := ci.Time.Sub(shift.LateThreshold(date)); late > 0 {
			if shift.EnableLateMarking {
				return Verdict{Reason: "Late entry marked on attendance", Deviation: late}
			}
			return Verdict{Flagged: true, Reason: "Late entry", Deviation: late}
		}
	case Out:
		end := shift.EndTime.On(date)
		if now.Before(end) {
			return Verdict{Reason: "Shift end time has not passed yet"}
		}
		if early := end.Sub(ci.Time); early > 0 {
			return Verdict{Flagged: true, Reason: "Early exit", Deviation: early}
		}
	}
	return Verdict{Reason: "No regularization needed"}
}

// OnCheckIn evaluates a freshly stored check-in.
func (e *RealtimeEvaluator) OnCheckIn(ctx context.Context, ci CheckIn) (Verdict, error) {
	if ci.RegularizationID != "" {
		return Verdict{Reason: "Check-in already linked", RegularizationID: ci.RegularizationID}, nil
	}

	date := DateOf(ci.Time)
	assignment, err := e.Store.ActiveShiftAssignment(ctx, ci.EmployeeID, date)
	if err != nil {
		return Verdict{}, err
	}
	if assignment == nil {
		return Verdict{Reason: "No active shift assignment found"}, nil
	}
	shift, err := e.Store.GetShiftType(ctx, assignment.ShiftType)
	if err != nil {
		return Verdict{}, err
	}
	if shift == nil {
		return Verdict{}, fmt.Errorf("%w: %s", ErrShiftNotFound, assignment.ShiftType)
	}
	if err := shift.Validate(); err != nil {
		e.recordError(ctx, "Shift Type Validation Error", err.Error())
		return Verdict{Reason: err.Error()}, nil
	}

	v := Assess(ci, *shift, e.now())
	if !v.Flagged {
		return v, nil
	}

	var late time.Duration
	if ci.LogType == In {
		late = v.Deviation
	}
	item := RegularizationItem{Time: ci.Time, LogType: ci.LogType, DeviceID: ci.DeviceID, CheckInID: ci.ID}

	existing, err := e.Store.ActiveRegularization(ctx, ci.EmployeeID, date)
	if err != nil {
		return v, err
	}
	if existing != nil {
		if !existing.Status.Undecided() {
			e.recordError(ctx, "Cannot Add to Regularization",
				fmt.Sprintf("regularization %s for %s on %s is already %s",
					existing.ID, ci.EmployeeID, date.Format(DateLayout), existing.Status))
			return Verdict{Reason: "Regularization already decided", RegularizationID: existing.ID}, nil
		}
		if existing.HasCheckIn(ci.ID) {
			return Verdict{Reason: "Check-in already linked", RegularizationID: existing.ID}, nil
		}
		if err := e.Store.AddRegularizationItem(ctx, existing.ID, item, late); err != nil {
			return v, err
		}
		v.RegularizationID = existing.ID
		return v, nil
	}

	emp, err := e.Store.GetEmployee(ctx, ci.EmployeeID)
	if err != nil {
		return v, err
	}
	reg := Regularization{
		ID:           uuid.NewString(),
		EmployeeID:   ci.EmployeeID,
		EmployeeName: ci.EmployeeName,
		PostingDate:  date,
		LogType:      ci.LogType,
		Shift:        shift.Name,
		StartTime:    shift.StartTime,
		EndTime:      shift.EndTime,
		Late:         late,
		Status:       RegOpen,
		DocStatus:    DocDraft,
		Items:        []RegularizationItem{item},
	}
	if emp != nil {
		reg.ReportsTo = emp.ReportsTo
		if reg.EmployeeName == "" {
			reg.EmployeeName = emp.Name
		}
	}
	if err := e.Store.CreateRegularization(ctx, reg); err != nil {
		return v, err
	}

	e.logger().Info("regularization opened from check-in",
		"regularization", reg.ID, "employee", ci.EmployeeID, "reason", v.Reason)
	v.RegularizationID = reg.ID
	return v, nil
}

func (e *RealtimeEvaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *RealtimeEvaluator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *RealtimeEvaluator) recordError(ctx context.Context, title, message string) {
	if err := e.Store.RecordError(ctx, title, message); err != nil {
		e.logger().Warn("error log insert failed", "title", title, "err", err)
	}
}
