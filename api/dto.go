/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Attendance domain types
  carry no JSON tags, so every one of them is converted here; leave,
  CrossChex and report types are already tagged and are returned as is.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Dates are YYYY-MM-DD, check-in times YYYY-MM-DD HH:MM:SS (device wall
  clock), clock times HH:MM:SS, audit stamps RFC 3339.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hamptons/attendance-engine/attendance"
)

// =============================================================================
// EMPLOYEES AND ORGANISATION
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID                  string `json:"id"`
	EmployeeName        string `json:"employee_name"`
	Department          string `json:"department,omitempty"`
	Designation         string `json:"designation,omitempty"`
	Gender              string `json:"gender,omitempty"`
	DateOfJoining       string `json:"date_of_joining,omitempty"`
	Status              string `json:"status"`
	AttendanceDeviceID  *int   `json:"attendance_device_id,omitempty"`
	ReportsTo           string `json:"reports_to,omitempty"`
	Nationality         string `json:"nationality,omitempty"`
	Religion            string `json:"religion,omitempty"`
	HajjLeaveTaken      bool   `json:"hajj_leave_taken"`
	HajjLeaveDate       string `json:"hajj_leave_date,omitempty"`
	CarryForwardEnabled bool   `json:"carryforward_enabled"`
	MaxCarryForwardDays int    `json:"max_carryforward_days"`
	CreatedAt           string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest creates or replaces an employee.
type CreateEmployeeRequest struct {
	ID                  string `json:"id"`
	EmployeeName        string `json:"employee_name"`
	Department          string `json:"department"`
	Designation         string `json:"designation"`
	Gender              string `json:"gender"`
	DateOfJoining       string `json:"date_of_joining"`
	Status              string `json:"status"`
	AttendanceDeviceID  *int   `json:"attendance_device_id"`
	ReportsTo           string `json:"reports_to"`
	Nationality         string `json:"nationality"`
	Religion            string `json:"religion"`
	CarryForwardEnabled bool   `json:"carryforward_enabled"`
	MaxCarryForwardDays *int   `json:"max_carryforward_days"`
}

type DepartmentRequest struct {
	Name string `json:"name"`
}

// ShiftTypeDTO is used for both requests and responses.
type ShiftTypeDTO struct {
	Name              string `json:"name"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	GracePeriod       int    `json:"late_entry_grace_period"`
	EnableLateMarking bool   `json:"enable_late_entry_marking"`
}

type ShiftAssignmentRequest struct {
	Employee  string `json:"employee"`
	ShiftType string `json:"shift_type"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

type ShiftAssignmentDTO struct {
	ID        string `json:"id"`
	Employee  string `json:"employee"`
	ShiftType string `json:"shift_type"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
	DocStatus int    `json:"docstatus"`
}

// =============================================================================
// CHECK-INS, ATTENDANCE, REGULARIZATION
// =============================================================================

// CheckInRequest records a manual punch.
type CheckInRequest struct {
	Employee string `json:"employee"`
	Time     string `json:"time"`
	LogType  string `json:"log_type"`
	DeviceID string `json:"device_id"`
	Shift    string `json:"shift"`
}

type CheckInDTO struct {
	ID               string `json:"id"`
	Employee         string `json:"employee"`
	EmployeeName     string `json:"employee_name,omitempty"`
	Time             string `json:"time"`
	LogType          string `json:"log_type"`
	DeviceID         string `json:"device_id,omitempty"`
	Shift            string `json:"shift,omitempty"`
	CrossChexUUID    string `json:"crosschex_uuid,omitempty"`
	RegularizationID string `json:"regularization_id,omitempty"`
}

// CheckInResponse reports the realtime verdict when realtime evaluation is on.
type CheckInResponse struct {
	CheckIn CheckInDTO          `json:"checkin"`
	Verdict *attendance.Verdict `json:"verdict,omitempty"`
}

type AttendanceDTO struct {
	ID               string `json:"id"`
	Employee         string `json:"employee"`
	EmployeeName     string `json:"employee_name,omitempty"`
	AttendanceDate   string `json:"attendance_date"`
	Shift            string `json:"shift,omitempty"`
	Status           string `json:"status"`
	LeaveType        string `json:"leave_type,omitempty"`
	Late             string `json:"late,omitempty"`
	RegularizationID string `json:"regularization_id,omitempty"`
	DocStatus        int    `json:"docstatus"`
}

type RegularizationItemDTO struct {
	Time      string `json:"time"`
	LogType   string `json:"log_type"`
	DeviceID  string `json:"device_id,omitempty"`
	CheckInID string `json:"checkin_id,omitempty"`
}

type RegularizationDTO struct {
	ID           string                  `json:"id"`
	Employee     string                  `json:"employee"`
	EmployeeName string                  `json:"employee_name,omitempty"`
	PostingDate  string                  `json:"posting_date"`
	LogType      string                  `json:"log_type,omitempty"`
	Shift        string                  `json:"shift,omitempty"`
	StartTime    string                  `json:"start_time,omitempty"`
	EndTime      string                  `json:"end_time,omitempty"`
	Late         string                  `json:"late,omitempty"`
	Status       string                  `json:"status"`
	ReportsTo    string                  `json:"reports_to,omitempty"`
	AttendanceID string                  `json:"attendance_id,omitempty"`
	DecidedBy    string                  `json:"decided_by,omitempty"`
	DecidedAt    string                  `json:"decided_at,omitempty"`
	DocStatus    int                     `json:"docstatus"`
	Items        []RegularizationItemDTO `json:"items,omitempty"`
}

// DecisionRequest names who approved or rejected.
type DecisionRequest struct {
	Approver string `json:"approver"`
}

type ConsolidateRequest struct {
	Date string `json:"date"`
}

type BackfillRequest struct {
	Days             int  `json:"days"`
	IncludeYesterday bool `json:"include_yesterday"`
}

// BackfillAccepted is returned with 202 while the backfill runs.
type BackfillAccepted struct {
	JobID     string `json:"job_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Message   string `json:"message"`
}

// =============================================================================
// LEAVE
// =============================================================================

// AssignPolicyRequest assigns one employee, or all Active employees when
// Employee is empty.
type AssignPolicyRequest struct {
	Employee      string `json:"employee"`
	Policy        string `json:"policy"`
	EffectiveFrom string `json:"effective_from"`
	CarryForward  bool   `json:"carry_forward"`
}

type LeaveApplicationRequest struct {
	Employee    string `json:"employee"`
	LeaveType   string `json:"leave_type"`
	FromDate    string `json:"from_date"`
	ToDate      string `json:"to_date"`
	HalfDay     bool   `json:"half_day"`
	HalfDayDate string `json:"half_day_date,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// LeaveBalanceDTO is one allocation and what is left of it.
type LeaveBalanceDTO struct {
	LeaveType    string          `json:"leave_type"`
	AllocationID string          `json:"allocation_id"`
	FromDate     string          `json:"from_date"`
	ToDate       string          `json:"to_date"`
	Allocated    decimal.Decimal `json:"allocated"`
	Balance      decimal.Decimal `json:"balance"`
}

// =============================================================================
// CROSSCHEX
// =============================================================================

// CrossChexSettingsRequest updates the integration. An empty api_secret
// keeps the stored one.
type CrossChexSettingsRequest struct {
	Enabled          bool   `json:"enabled"`
	APIURL           string `json:"api_url"`
	APIKey           string `json:"api_key"`
	APISecret        string `json:"api_secret"`
	LogRetentionDays int    `json:"log_retention_days"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
	Count   *int64 `json:"count,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(attendance.DateLayout)
}

func formatLate(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return attendance.Clock(d).String()
}

func toEmployeeDTO(e attendance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:                  e.ID,
		EmployeeName:        e.Name,
		Department:          e.Department,
		Designation:         e.Designation,
		Gender:              e.Gender,
		DateOfJoining:       formatDatePtr(e.DateOfJoining),
		Status:              e.Status,
		AttendanceDeviceID:  e.AttendanceDeviceID,
		ReportsTo:           e.ReportsTo,
		Nationality:         e.Nationality,
		Religion:            e.Religion,
		HajjLeaveTaken:      e.HajjLeaveTaken,
		HajjLeaveDate:       formatDatePtr(e.HajjLeaveDate),
		CarryForwardEnabled: e.CarryForwardEnabled,
		MaxCarryForwardDays: e.MaxCarryForwardDays,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toShiftTypeDTO(s attendance.ShiftType) ShiftTypeDTO {
	return ShiftTypeDTO{
		Name:              s.Name,
		StartTime:         s.StartTime.String(),
		EndTime:           s.EndTime.String(),
		GracePeriod:       s.GracePeriodMinutes,
		EnableLateMarking: s.EnableLateMarking,
	}
}

func toShiftAssignmentDTO(a attendance.ShiftAssignment) ShiftAssignmentDTO {
	return ShiftAssignmentDTO{
		ID:        a.ID,
		Employee:  a.EmployeeID,
		ShiftType: a.ShiftType,
		StartDate: a.StartDate.Format(attendance.DateLayout),
		EndDate:   formatDatePtr(a.EndDate),
		DocStatus: int(a.DocStatus),
	}
}

func toCheckInDTO(c attendance.CheckIn) CheckInDTO {
	return CheckInDTO{
		ID:               c.ID,
		Employee:         c.EmployeeID,
		EmployeeName:     c.EmployeeName,
		Time:             c.Time.Format(attendance.DateTimeLayout),
		LogType:          string(c.LogType),
		DeviceID:         c.DeviceID,
		Shift:            c.Shift,
		CrossChexUUID:    c.ExternalUUID,
		RegularizationID: c.RegularizationID,
	}
}

func toAttendanceDTO(a attendance.Attendance) AttendanceDTO {
	return AttendanceDTO{
		ID:               a.ID,
		Employee:         a.EmployeeID,
		EmployeeName:     a.EmployeeName,
		AttendanceDate:   a.Date.Format(attendance.DateLayout),
		Shift:            a.Shift,
		Status:           string(a.Status),
		LeaveType:        a.LeaveType,
		Late:             formatLate(a.Late),
		RegularizationID: a.RegularizationID,
		DocStatus:        int(a.DocStatus),
	}
}

func toRegularizationDTO(r attendance.Regularization) RegularizationDTO {
	dto := RegularizationDTO{
		ID:           r.ID,
		Employee:     r.EmployeeID,
		EmployeeName: r.EmployeeName,
		PostingDate:  r.PostingDate.Format(attendance.DateLayout),
		LogType:      string(r.LogType),
		Shift:        r.Shift,
		Late:         formatLate(r.Late),
		Status:       string(r.Status),
		ReportsTo:    r.ReportsTo,
		AttendanceID: r.AttendanceID,
		DecidedBy:    r.DecidedBy,
		DocStatus:    int(r.DocStatus),
	}
	if r.Shift != "" {
		dto.StartTime = r.StartTime.String()
		dto.EndTime = r.EndTime.String()
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	for _, it := range r.Items {
		dto.Items = append(dto.Items, RegularizationItemDTO{
			Time:      it.Time.Format(attendance.DateTimeLayout),
			LogType:   string(it.LogType),
			DeviceID:  it.DeviceID,
			CheckInID: it.CheckInID,
		})
	}
	return dto
}
