/*
consolidate.go - Daily consolidation of check-ins into attendance

PURPOSE:
  Runs once per date (nightly, or day by day for a backlog) and turns every
  employee's punches into exactly one outcome:

    no punches ──▶ approved leave?  ──yes──▶ On Leave / Half Day
                        │no
                        ▼
                      Absent

    punches ────▶ first IN, last OUT ──▶ Evaluate ──▶ Present
                                                 └──▶ Regularization (Pending)

RULES (Evaluate):
  lateness  = first IN  - (shift start + grace)
  earliness = shift end - last OUT
  A regularization is needed when a side is missing, when the employee left
  early, or when they were late and the shift does not use late marking.
  With late marking enabled the day is Present and the lateness is stored
  on the attendance.

IDEMPOTENCE:
  An employee with a committed attendance for the date is skipped before any
  work is done, and a new case is never opened while another one is active.
  The store's partial unique indexes back both checks, so a concurrent run
  loses with ErrAttendanceExists / ErrRegularizationExists and is counted as
  skipped.

FAILURES:
  One employee's failure is logged, written to the error log and counted.
  The loop always moves on to the next employee.

SEE ALSO:
  - regularization.go: What happens to the cases opened here
  - api/scheduler.go: Nightly trigger
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBackfillDays is the look-back used when a backfill is requested
// without an explicit range.
const DefaultBackfillDays = 365

// DefaultCheckpointEvery is how many processed days pass between backfill
// checkpoints.
const DefaultCheckpointEvery = 10

// =============================================================================
// OUTCOME - Pure per-employee decision
// =============================================================================

type DayStatus string

const (
	DayPresent             DayStatus = "Present"
	DayAbsent              DayStatus = "Absent"
	DayOnLeave             DayStatus = "On Leave"
	DayHalfDay             DayStatus = "Half Day"
	DayNeedsRegularization DayStatus = "Needs Regularization"
)

// Outcome is the derived result for one employee on one date.
type Outcome struct {
	Status    DayStatus
	FirstIn   *CheckIn
	LastOut   *CheckIn
	Lateness  time.Duration
	Earliness time.Duration
	Reason    string
}

// FirstInLastOut picks the earliest IN and the latest OUT.
func FirstInLastOut(checkIns []CheckIn) (first, last *CheckIn) {
	for i := range checkIns {
		c := &checkIns[i]
		switch c.LogType {
		case In:
			if first == nil || c.Time.Before(first.Time) {
				first = c
			}
		case Out:
			if last == nil || c.Time.After(last.Time) {
				last = c
			}
		}
	}
	return first, last
}

// Evaluate decides the outcome of a day that has at least one punch.
func Evaluate(date time.Time, shift ShiftType, checkIns []CheckIn) Outcome {
	first, last := FirstInLastOut(checkIns)
	out := Outcome{Status: DayPresent, FirstIn: first, LastOut: last}
	var reasons []string

	if first != nil {
		if late := first.Time.Sub(shift.LateThreshold(date)); late > 0 {
			out.Lateness = late
			if !shift.EnableLateMarking {
				reasons = append(reasons, "late entry")
			}
		}
	} else {
		reasons = append(reasons, "missing IN")
	}

	if last != nil {
		if early := shift.EndTime.On(date).Sub(last.Time); early > 0 {
			out.Earliness = early
			reasons = append(reasons, "early exit")
		}
	} else {
		reasons = append(reasons, "missing OUT")
	}

	if len(reasons) > 0 {
		out.Status = DayNeedsRegularization
		out.Reason = strings.Join(reasons, ", ")
	}
	return out
}

// LeaveOutcome decides the outcome of a day without punches.
func LeaveOutcome(leave *ApprovedLeave) Outcome {
	switch {
	case leave == nil:
		return Outcome{Status: DayAbsent, Reason: "no check-ins"}
	case leave.HalfDay:
		return Outcome{Status: DayHalfDay, Reason: leave.LeaveType}
	default:
		return Outcome{Status: DayOnLeave, Reason: leave.LeaveType}
	}
}

func (s DayStatus) attendanceStatus() AttendanceStatus {
	switch s {
	case DayAbsent:
		return StatusAbsent
	case DayOnLeave:
		return StatusOnLeave
	case DayHalfDay:
		return StatusHalfDay
	default:
		return StatusPresent
	}
}

// =============================================================================
// CONSOLIDATOR - Batch over all employees for a date
// =============================================================================

// Stats summarises one consolidated date.
type Stats struct {
	Date            time.Time `json:"-"`
	Present         int       `json:"present"`
	Regularizations int       `json:"regularizations"`
	Absent          int       `json:"absent"`
	Leave           int       `json:"leave"`
	Skipped         int       `json:"skipped"`
	Errors          int       `json:"errors"`
}

// BackfillResult summarises a multi-day run.
type BackfillResult struct {
	StartDate     time.Time `json:"-"`
	EndDate       time.Time `json:"-"`
	ProcessedDays int       `json:"processed_days"`
	Errors        int       `json:"errors"`
	Days          []Stats   `json:"-"`
}

type Consolidator struct {
	Store  ConsolidationStore
	Leave  LeaveSource
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// CheckpointEvery defaults to DefaultCheckpointEvery.
	CheckpointEvery int

	// OnCheckpoint, when set, is called after every CheckpointEvery days.
	OnCheckpoint func(processed int, date time.Time)
}

func NewConsolidator(store ConsolidationStore, leave LeaveSource, logger *slog.Logger) *Consolidator {
	return &Consolidator{
		Store:           store,
		Leave:           leave,
		Logger:          logger,
		CheckpointEvery: DefaultCheckpointEvery,
	}
}

type dayResult int

const (
	resultSkipped dayResult = iota
	resultPresent
	resultRegularization
	resultAbsent
	resultLeave
)

// ConsolidateDate processes every employee holding a shift on date.
// The returned error is only set when the date could not be loaded at all.
func (c *Consolidator) ConsolidateDate(ctx context.Context, date time.Time) (Stats, error) {
	date = DateOf(date)
	stats := Stats{Date: date}

	assignments, err := c.Store.ActiveShiftAssignments(ctx, date)
	if err != nil {
		return stats, fmt.Errorf("load shift assignments: %w", err)
	}
	checkIns, err := c.Store.ListCheckInsOn(ctx, date)
	if err != nil {
		return stats, fmt.Errorf("load check-ins: %w", err)
	}

	byEmployee := make(map[string][]CheckIn)
	for _, ci := range checkIns {
		byEmployee[ci.EmployeeID] = append(byEmployee[ci.EmployeeID], ci)
	}
	shifts := make(map[string]*ShiftType)

	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		res, err := c.consolidateEmployee(ctx, date, a, byEmployee[a.EmployeeID], shifts)
		if err != nil {
			stats.Errors++
			c.logger().Error("daily attendance failed",
				"employee", a.EmployeeID, "date", date.Format(DateLayout), "err", err)
			c.recordError(ctx, "Daily Attendance - Creation Error",
				fmt.Sprintf("employee %s on %s: %v", a.EmployeeID, date.Format(DateLayout), err))
			continue
		}

		switch res {
		case resultPresent:
			stats.Present++
		case resultRegularization:
			stats.Regularizations++
		case resultAbsent:
			stats.Absent++
		case resultLeave:
			stats.Leave++
		default:
			stats.Skipped++
		}
	}

	c.logger().Info("daily attendance summary",
		"date", date.Format(DateLayout),
		"present", stats.Present,
		"regularizations", stats.Regularizations,
		"absent", stats.Absent,
		"leave", stats.Leave,
		"skipped", stats.Skipped,
		"errors", stats.Errors)

	return stats, nil
}

func (c *Consolidator) consolidateEmployee(
	ctx context.Context,
	date time.Time,
	assignment ShiftAssignment,
	checks []CheckIn,
	shifts map[string]*ShiftType,
) (dayResult, error) {
	emp, err := c.Store.GetEmployee(ctx, assignment.EmployeeID)
	if err != nil {
		return resultSkipped, err
	}
	if emp == nil {
		return resultSkipped, fmt.Errorf("%w: %s", ErrEmployeeNotFound, assignment.EmployeeID)
	}
	if !emp.JoinedBy(date) {
		return resultSkipped, nil
	}

	existing, err := c.Store.CommittedAttendance(ctx, emp.ID, date)
	if err != nil {
		return resultSkipped, err
	}
	if existing != nil {
		return resultSkipped, nil
	}

	shift, err := c.shiftType(ctx, assignment.ShiftType, shifts)
	if err != nil {
		return resultSkipped, err
	}

	if len(checks) == 0 {
		return c.markWithoutCheckIns(ctx, date, *emp, *shift)
	}

	outcome := Evaluate(date, *shift, checks)
	if outcome.Status == DayPresent {
		err := c.Store.CreateAttendance(ctx, Attendance{
			ID:           uuid.NewString(),
			EmployeeID:   emp.ID,
			EmployeeName: emp.Name,
			Date:         date,
			Shift:        shift.Name,
			Status:       StatusPresent,
			Late:         outcome.Lateness,
			DocStatus:    DocSubmitted,
		})
		if errors.Is(err, ErrAttendanceExists) {
			return resultSkipped, nil
		}
		if err != nil {
			return resultSkipped, err
		}
		return resultPresent, nil
	}

	open, err := c.Store.ActiveRegularization(ctx, emp.ID, date)
	if err != nil {
		return resultSkipped, err
	}
	if open != nil {
		return resultSkipped, nil
	}

	reg := Regularization{
		ID:           uuid.NewString(),
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		PostingDate:  date,
		Shift:        shift.Name,
		StartTime:    shift.StartTime,
		EndTime:      shift.EndTime,
		Late:         outcome.Lateness,
		Status:       RegPending,
		ReportsTo:    emp.ReportsTo,
		DocStatus:    DocDraft,
	}
	for _, ci := range []*CheckIn{outcome.FirstIn, outcome.LastOut} {
		if ci == nil {
			continue
		}
		reg.Items = append(reg.Items, RegularizationItem{
			Time:      ci.Time,
			LogType:   ci.LogType,
			DeviceID:  ci.DeviceID,
			CheckInID: ci.ID,
		})
	}

	err = c.Store.CreateRegularization(ctx, reg)
	if errors.Is(err, ErrRegularizationExists) {
		return resultSkipped, nil
	}
	if err != nil {
		return resultSkipped, err
	}
	c.logger().Debug("regularization opened",
		"employee", emp.ID, "date", date.Format(DateLayout), "reason", outcome.Reason)
	return resultRegularization, nil
}

func (c *Consolidator) markWithoutCheckIns(ctx context.Context, date time.Time, emp Employee, shift ShiftType) (dayResult, error) {
	var leave *ApprovedLeave
	if c.Leave != nil {
		l, err := c.Leave.ApprovedLeaveOn(ctx, emp.ID, date)
		if err != nil {
			return resultSkipped, fmt.Errorf("leave lookup: %w", err)
		}
		leave = l
	}

	outcome := LeaveOutcome(leave)
	att := Attendance{
		ID:           uuid.NewString(),
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		Date:         date,
		Shift:        shift.Name,
		Status:       outcome.Status.attendanceStatus(),
		DocStatus:    DocSubmitted,
	}
	if leave != nil {
		att.LeaveType = leave.LeaveType
	}

	err := c.Store.CreateAttendance(ctx, att)
	if errors.Is(err, ErrAttendanceExists) {
		return resultSkipped, nil
	}
	if err != nil {
		return resultSkipped, err
	}
	if leave != nil {
		return resultLeave, nil
	}
	return resultAbsent, nil
}

func (c *Consolidator) shiftType(ctx context.Context, name string, cache map[string]*ShiftType) (*ShiftType, error) {
	if st, ok := cache[name]; ok {
		return st, nil
	}
	st, err := c.Store.GetShiftType(ctx, name)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrShiftNotFound, name)
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	cache[name] = st
	return st, nil
}

// =============================================================================
// BACKFILL - Day-by-day over a range
// =============================================================================

// BackfillRange returns the inclusive range a backfill of days covers.
func BackfillRange(now time.Time, days int, includeYesterday bool) (start, end time.Time) {
	if days <= 0 {
		days = DefaultBackfillDays
	}
	today := DateOf(now)
	end = today
	if includeYesterday {
		end = today.AddDate(0, 0, -1)
	}
	start = today.AddDate(0, 0, -days)
	return start, end
}

// Backfill consolidates the last days, ending yesterday or today.
func (c *Consolidator) Backfill(ctx context.Context, days int, includeYesterday bool) (BackfillResult, error) {
	start, end := BackfillRange(c.now(), days, includeYesterday)
	return c.ConsolidateRange(ctx, start, end)
}

// ConsolidateRange consolidates [start, end] in date order. A failing date
// is counted and skipped; only context cancellation stops the run.
func (c *Consolidator) ConsolidateRange(ctx context.Context, start, end time.Time) (BackfillResult, error) {
	start, end = DateOf(start), DateOf(end)
	res := BackfillResult{StartDate: start, EndDate: end}

	every := c.CheckpointEvery
	if every <= 0 {
		every = DefaultCheckpointEvery
	}

	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		stats, err := c.ConsolidateDate(ctx, cur)
		if err != nil {
			res.Errors++
			c.logger().Error("attendance sync day failed", "date", cur.Format(DateLayout), "err", err)
			c.recordError(ctx, "Manual Regularization Sync Error - "+cur.Format(DateLayout), err.Error())
			continue
		}
		res.ProcessedDays++
		res.Days = append(res.Days, stats)

		if res.ProcessedDays%every == 0 {
			c.logger().Info("attendance sync checkpoint", "processed_days", res.ProcessedDays, "date", cur.Format(DateLayout))
			if c.OnCheckpoint != nil {
				c.OnCheckpoint(res.ProcessedDays, cur)
			}
		}
	}

	c.logger().Info("attendance sync completed",
		"processed_days", res.ProcessedDays,
		"errors", res.Errors,
		"start", start.Format(DateLayout),
		"end", end.Format(DateLayout))
	return res, nil
}

func (c *Consolidator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Consolidator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Consolidator) recordError(ctx context.Context, title, message string) {
	if err := c.Store.RecordError(ctx, title, message); err != nil {
		c.logger().Warn("error log insert failed", "title", title, "err", err)
	}
}
