package crosschex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hamptons/attendance-engine/attendance"
)

// IngestStore is the persistence the Ingestor needs.
type IngestStore interface {
	// EmployeeByDeviceID returns the Active employee enrolled under the
	// device number, or nil.
	EmployeeByDeviceID(ctx context.Context, deviceID int) (*attendance.Employee, error)

	CheckInExists(ctx context.Context, externalUUID string) (bool, error)

	// LatestShiftAssignment returns the submitted assignment with the latest
	// start on or before date, or nil.
	LatestShiftAssignment(ctx context.Context, employeeID string, date time.Time) (*attendance.ShiftAssignment, error)

	// CreateCheckIn fails with attendance.ErrDuplicateCheckIn when the
	// external UUID is already stored.
	CreateCheckIn(ctx context.Context, ci attendance.CheckIn) error

	attendance.ErrorRecorder
}

// CheckInHook is told about every check-in the Ingestor creates.
type CheckInHook interface {
	OnCheckIn(ctx context.Context, ci attendance.CheckIn) (attendance.Verdict, error)
}

// Result counts what happened to a batch.
type Result struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

type Ingestor struct {
	Store  IngestStore
	Hook   CheckInHook
	Logger *slog.Logger
}

func NewIngestor(store IngestStore, hook CheckInHook, logger *slog.Logger) *Ingestor {
	return &Ingestor{Store: store, Hook: hook, Logger: logger}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeDuplicate
	outcomeError
)

// Process stores each record as a check-in. A bad record is counted and
// written to the error log; the batch always runs to the end.
func (in *Ingestor) Process(ctx context.Context, records []Record) Result {
	var res Result
	for _, rec := range records {
		res.Processed++
		switch in.processOne(ctx, rec) {
		case outcomeCreated:
			res.Created++
		case outcomeDuplicate:
			res.Duplicates++
		default:
			res.Errors++
		}
	}
	return res
}

// ProcessRaw decodes each element separately so one malformed record does
// not hide the others.
func (in *Ingestor) ProcessRaw(ctx context.Context, raws []json.RawMessage) Result {
	var res Result
	for _, raw := range raws {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.Processed++
			res.Errors++
			in.fail(ctx, "CrossChex Webhook - Invalid record", fmt.Sprintf("%v: %s", err, raw))
			continue
		}
		one := in.Process(ctx, []Record{rec})
		res.Processed += one.Processed
		res.Created += one.Created
		res.Duplicates += one.Duplicates
		res.Errors += one.Errors
	}
	return res
}

func (in *Ingestor) processOne(ctx context.Context, rec Record) outcome {
	payload := recordJSON(rec)

	if rec.Employee.Workno == "" {
		in.fail(ctx, "CrossChex Webhook - Missing workno", "No workno found in payload: "+payload)
		return outcomeError
	}
	deviceNo, err := strconv.Atoi(rec.Employee.Workno)
	if err != nil {
		in.fail(ctx, "CrossChex Webhook - Invalid workno",
			fmt.Sprintf("Invalid workno format '%s': %s", rec.Employee.Workno, payload))
		return outcomeError
	}

	emp, err := in.Store.EmployeeByDeviceID(ctx, deviceNo)
	if err != nil {
		in.fail(ctx, "CrossChex Webhook - Employee Lookup Error", fmt.Sprintf("%v. Data: %s", err, payload))
		return outcomeError
	}
	if emp == nil {
		in.fail(ctx, "CrossChex Webhook - Employee not found",
			fmt.Sprintf("Employee not found for attendance_device_id %d. Data: %s", deviceNo, payload))
		return outcomeError
	}

	at, err := ParseCheckTime(rec.CheckTime)
	if err != nil {
		in.fail(ctx, "CrossChex Webhook - Time Parse Error", fmt.Sprintf("%v. Data: %s", err, payload))
		return outcomeError
	}

	if rec.UUID != "" {
		exists, err := in.Store.CheckInExists(ctx, rec.UUID)
		if err != nil {
			in.fail(ctx, "CrossChex Webhook - Insert Error", err.Error())
			return outcomeError
		}
		if exists {
			in.logger().Debug("duplicate check-in skipped", "uuid", rec.UUID, "employee", emp.ID)
			return outcomeDuplicate
		}
	}

	shift := rec.Device.Shift
	if shift == "" {
		a, err := in.Store.LatestShiftAssignment(ctx, emp.ID, at)
		if err != nil {
			in.logger().Warn("shift lookup failed", "employee", emp.ID, "err", err)
		} else if a != nil {
			shift = a.ShiftType
		}
	}

	ci := attendance.CheckIn{
		ID:           uuid.NewString(),
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		Time:         at,
		LogType:      rec.Direction(),
		DeviceID:     rec.Device.Name,
		Shift:        shift,
		ExternalUUID: rec.UUID,
	}
	if err := in.Store.CreateCheckIn(ctx, ci); err != nil {
		if errors.Is(err, attendance.ErrDuplicateCheckIn) {
			return outcomeDuplicate
		}
		in.fail(ctx, "CrossChex Webhook - Insert Error",
			fmt.Sprintf("Error inserting checkin for employee %s: %v\nData: %s", emp.ID, err, payload))
		return outcomeError
	}

	if in.Hook != nil {
		if _, err := in.Hook.OnCheckIn(ctx, ci); err != nil {
			in.fail(ctx, "Real-time Regularization Error",
				fmt.Sprintf("check-in %s for %s: %v", ci.ID, emp.ID, err))
		}
	}
	return outcomeCreated
}

func (in *Ingestor) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

func (in *Ingestor) fail(ctx context.Context, title, message string) {
	in.logger().Warn(title, "detail", message)
	if err := in.Store.RecordError(ctx, title, message); err != nil {
		in.logger().Warn("error log insert failed", "title", title, "err", err)
	}
}

func recordJSON(rec Record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf("%+v", rec)
	}
	return string(b)
}
