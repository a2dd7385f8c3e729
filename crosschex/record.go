/*
Package crosschex integrates the CrossChex Cloud biometric service.

PURPOSE:
  CrossChex delivers punches two ways: a webhook pushes batches as they
  happen and a paginated API lets us pull history. Both end up as Records,
  and the Ingestor turns Records into attendance.CheckIns.

RECORD SHAPES:
  webhook  {"employee":{"workno":"1040"},"checktime":"...","checktype":0,
            "uuid":"...","device":{"name":"...","shift":"..."}}
  api      {"emp_pin":"1040","check_time":"...","check_type":0,"id":"...",
            "device":{...}}

  Record.UnmarshalJSON accepts both, so callers never see the API shape.

SEE ALSO:
  - client.go: Token exchange and record fetch
  - ingest.go: Record to CheckIn
  - service.go: Sync, token lifecycle, webhook logging
*/
package crosschex

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hamptons/attendance-engine/attendance"
)

// CheckTypeDirection maps a device check type to IN/OUT. Unknown codes are
// treated as IN.
func CheckTypeDirection(code int) attendance.Direction {
	switch code {
	case 1, 129:
		return attendance.Out
	default:
		return attendance.In
	}
}

var tzSuffix = regexp.MustCompile(`([+-]\d{2}:\d{2}|Z)$`)

// ParseCheckTime drops the zone suffix and returns the device's wall-clock
// time.
func ParseCheckTime(s string) (time.Time, error) {
	clean := tzSuffix.ReplaceAllString(strings.TrimSpace(s), "")
	if clean == "" {
		return time.Time{}, fmt.Errorf("%w: empty checktime", attendance.ErrInvalidCheckIn)
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", clean, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: checktime %q", attendance.ErrInvalidCheckIn, s)
	}
	return t, nil
}

type Employee struct {
	Workno    string `json:"workno"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type Device struct {
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number,omitempty"`
	Shift        string `json:"shift,omitempty"`
}

// Record is one punch in webhook shape.
type Record struct {
	Employee  Employee `json:"employee"`
	CheckTime string   `json:"checktime"`
	CheckType int      `json:"checktype"`
	UUID      string   `json:"uuid,omitempty"`
	Device    Device   `json:"device"`
}

// Direction returns the punch direction.
func (r Record) Direction() attendance.Direction { return CheckTypeDirection(r.CheckType) }

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Employee *struct {
			Workno    flexString `json:"workno"`
			FirstName string     `json:"first_name"`
			LastName  string     `json:"last_name"`
		} `json:"employee"`
		EmpPin       flexString      `json:"emp_pin"`
		EmployeeID   flexString      `json:"employee_id"`
		Workno       flexString      `json:"workno"`
		CheckTime    string          `json:"checktime"`
		CheckTimeAlt string          `json:"check_time"`
		CheckType    *flexInt        `json:"checktype"`
		CheckTypeAlt *flexInt        `json:"check_type"`
		UUID         flexString      `json:"uuid"`
		ID           flexString      `json:"id"`
		Device       json.RawMessage `json:"device"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Record{}
	if raw.Employee != nil {
		r.Employee = Employee{
			Workno:    string(raw.Employee.Workno),
			FirstName: raw.Employee.FirstName,
			LastName:  raw.Employee.LastName,
		}
	}
	r.Employee.Workno = firstNonEmpty(r.Employee.Workno, string(raw.EmpPin), string(raw.EmployeeID), string(raw.Workno))
	r.CheckTime = firstNonEmpty(raw.CheckTime, raw.CheckTimeAlt)
	switch {
	case raw.CheckType != nil:
		r.CheckType = int(*raw.CheckType)
	case raw.CheckTypeAlt != nil:
		r.CheckType = int(*raw.CheckTypeAlt)
	}
	r.UUID = firstNonEmpty(string(raw.UUID), string(raw.ID))

	// Devices without detail are sent as a bare name or null.
	if len(raw.Device) > 0 && raw.Device[0] == '{' {
		if err := json.Unmarshal(raw.Device, &r.Device); err != nil {
			return fmt.Errorf("device: %w", err)
		}
	} else if len(raw.Device) > 0 && raw.Device[0] == '"' {
		_ = json.Unmarshal(raw.Device, &r.Device.Name)
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return fmt.Errorf("check type %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
