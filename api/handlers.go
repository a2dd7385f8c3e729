/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes consolidation, regularization, leave, CrossChex and reporting over
  REST. Handlers parse the request, call the domain service and serialize the
  result; no business rule lives here.

ENDPOINTS (this file):
  Employees:
    GET    /api/employees                    List employees (?status=)
    POST   /api/employees                    Create or update employee
    GET    /api/employees/{id}               Get employee
    GET    /api/employees/{id}/checkins      Check-ins grouped by day
    GET    /api/employees/{id}/leave-balance Balance per allocation

  Organisation:
    GET/POST /api/departments
    GET/POST /api/shift-types, GET /api/shift-types/{name}
    GET/POST /api/shift-assignments

  Check-ins:
    GET    /api/checkins?date=               Check-ins of one day
    POST   /api/checkins                     Manual check-in

  See handlers_attendance.go, handlers_leave.go, handlers_reports.go and
  handlers_crosschex.go for the rest.

ARCHITECTURE:
  Handler holds the store and one instance of each domain service. NewHandler
  is the single place where services are wired together; the CLI reuses it.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (existing attendance, decided case, duplicate key)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/crosschex"
	"github.com/hamptons/attendance-engine/leave"
	"github.com/hamptons/attendance-engine/report"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options carries the runtime settings the services need.
type Options struct {
	Logger *slog.Logger

	HalfDayThreshold       time.Duration
	HalfDayLeaveType       string
	RealtimeRegularization bool

	SyncLookback      time.Duration
	HTTPClientTimeout time.Duration

	LogRetentionDays int
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Consolidator *attendance.Consolidator
	Workflow     *attendance.Workflow
	Realtime     *attendance.RealtimeEvaluator
	Leave        *leave.Service
	CrossChex    *crosschex.Service
	Reports      *report.Service
	Logger       *slog.Logger

	LogRetentionDays int

	// Now defaults to time.Now.
	Now func() time.Time

	background sync.WaitGroup
}

// NewHandler wires every service against store.
func NewHandler(store *sqlite.Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	leaveSvc := leave.NewService(store, logger.With("component", "leave"))

	workflow := attendance.NewWorkflow(store, leaveSvc, logger.With("component", "regularization"))
	workflow.HalfDayThreshold = opts.HalfDayThreshold
	workflow.HalfDayLeaveType = opts.HalfDayLeaveType

	h := &Handler{
		Store:            store,
		Consolidator:     attendance.NewConsolidator(store, store, logger.With("component", "consolidation")),
		Workflow:         workflow,
		Leave:            leaveSvc,
		Reports:          report.NewService(store),
		Logger:           logger,
		LogRetentionDays: opts.LogRetentionDays,
	}
	if h.LogRetentionDays <= 0 {
		h.LogRetentionDays = 15
	}

	ingestor := crosschex.NewIngestor(store, nil, logger.With("component", "ingest"))
	if opts.RealtimeRegularization {
		h.Realtime = &attendance.RealtimeEvaluator{Store: store, Logger: logger.With("component", "realtime")}
		ingestor.Hook = h.Realtime
	}

	h.CrossChex = crosschex.NewService(store, crosschex.NewClient(opts.HTTPClientTimeout), ingestor,
		logger.With("component", "crosschex"))
	if opts.SyncLookback > 0 {
		h.CrossChex.Lookback = opts.SyncLookback
	}
	return h
}

// Wait blocks until background work started by handlers has finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees, optionally filtered by status.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.EmployeeName == "" {
		writeError(w, http.StatusBadRequest, "id and employee_name are required", nil)
		return
	}

	emp := attendance.Employee{
		ID:                  req.ID,
		Name:                req.EmployeeName,
		Department:          strings.TrimSpace(req.Department),
		Designation:         req.Designation,
		Gender:              req.Gender,
		Status:              req.Status,
		AttendanceDeviceID:  req.AttendanceDeviceID,
		ReportsTo:           req.ReportsTo,
		Nationality:         req.Nationality,
		Religion:            req.Religion,
		CarryForwardEnabled: req.CarryForwardEnabled,
		MaxCarryForwardDays: 10,
	}
	if req.MaxCarryForwardDays != nil {
		emp.MaxCarryForwardDays = *req.MaxCarryForwardDays
	}
	if req.DateOfJoining != "" {
		doj, err := attendance.ParseDate(req.DateOfJoining)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date_of_joining", err)
			return
		}
		emp.DateOfJoining = &doj
	}
	switch emp.Status {
	case "", attendance.EmployeeActive, attendance.EmployeeInactive, attendance.EmployeeLeft:
	default:
		writeError(w, http.StatusBadRequest, "status must be Active, Inactive or Left", nil)
		return
	}

	ctx := r.Context()
	if emp.Department != "" {
		if err := h.Store.SaveDepartment(ctx, emp.Department); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save department", err)
			return
		}
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}

	saved, err := h.Store.GetEmployee(ctx, emp.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*saved))
}

// GetEmployeeCheckIns returns the employee's punches grouped by day
// (?from_date=&to_date=, default the last 7 days).
func (h *Handler) GetEmployeeCheckIns(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r, h.now(), report.DefaultDetailDays-1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	details, err := h.Reports.EmployeeDetails(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeServiceError(w, "Failed to load check-ins", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetLeaveBalance returns every allocation covering ?date= (default today)
// with its remaining balance.
func (h *Handler) GetLeaveBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	asOf, err := dateParam(r, "date", h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	allocations, err := h.Store.ListAllocations(ctx, id, asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list allocations", err)
		return
	}

	balances := make([]LeaveBalanceDTO, 0, len(allocations))
	for _, a := range allocations {
		bal, err := h.Store.AllocationBalance(ctx, a.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
			return
		}
		balances = append(balances, LeaveBalanceDTO{
			LeaveType:    a.LeaveType,
			AllocationID: a.ID,
			FromDate:     a.FromDate.Format(attendance.DateLayout),
			ToDate:       a.ToDate.Format(attendance.DateLayout),
			Allocated:    a.NewLeavesAllocated,
			Balance:      bal,
		})
	}
	writeJSON(w, http.StatusOK, balances)
}

// =============================================================================
// ORGANISATION HANDLERS
// =============================================================================

func (h *Handler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	names, err := h.Store.ListDepartments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list departments", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// CreateDepartment stores the name exactly as entered.
func (h *Handler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req DepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if err := h.Store.SaveDepartment(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save department", err)
		return
	}
	writeJSON(w, http.StatusCreated, DepartmentRequest{Name: name})
}

func (h *Handler) ListShiftTypes(w http.ResponseWriter, r *http.Request) {
	shifts, err := h.Store.ListShiftTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list shift types", err)
		return
	}
	dtos := make([]ShiftTypeDTO, len(shifts))
	for i, s := range shifts {
		dtos[i] = toShiftTypeDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetShiftType(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.GetShiftType(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get shift type", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Shift type not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toShiftTypeDTO(*st))
}

// CreateShiftType creates or replaces a shift type.
func (h *Handler) CreateShiftType(w http.ResponseWriter, r *http.Request) {
	var req ShiftTypeDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := attendance.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time", err)
		return
	}
	end, err := attendance.ParseClock(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_time", err)
		return
	}
	st := attendance.ShiftType{
		Name:               strings.TrimSpace(req.Name),
		StartTime:          start,
		EndTime:            end,
		GracePeriodMinutes: req.GracePeriod,
		EnableLateMarking:  req.EnableLateMarking,
	}
	if err := st.Validate(); err != nil {
		writeServiceError(w, "Invalid shift type", err)
		return
	}
	if err := h.Store.SaveShiftType(r.Context(), st); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save shift type", err)
		return
	}
	writeJSON(w, http.StatusCreated, toShiftTypeDTO(st))
}

// ListShiftAssignments returns all assignments, or one employee's (?employee=).
func (h *Handler) ListShiftAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListShiftAssignments(r.Context(), r.URL.Query().Get("employee"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list shift assignments", err)
		return
	}
	dtos := make([]ShiftAssignmentDTO, len(list))
	for i, a := range list {
		dtos[i] = toShiftAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateShiftAssignment stores a submitted assignment.
func (h *Handler) CreateShiftAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ShiftAssignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := attendance.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	a := attendance.ShiftAssignment{
		ID:         uuid.NewString(),
		EmployeeID: req.Employee,
		ShiftType:  req.ShiftType,
		StartDate:  start,
		DocStatus:  attendance.DocSubmitted,
	}
	if req.EndDate != "" {
		end, err := attendance.ParseDate(req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date", err)
			return
		}
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, "end_date is before start_date", nil)
			return
		}
		a.EndDate = &end
	}

	emp, err := h.Store.GetEmployee(ctx, a.EmployeeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	st, err := h.Store.GetShiftType(ctx, a.ShiftType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get shift type", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Shift type not found", nil)
		return
	}

	if err := h.Store.CreateShiftAssignment(ctx, a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create shift assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toShiftAssignmentDTO(a))
}

// =============================================================================
// CHECK-IN HANDLERS
// =============================================================================

// ListCheckIns returns the check-ins of ?date= (default today).
func (h *Handler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date", h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	var list []attendance.CheckIn
	if emp := r.URL.Query().Get("employee"); emp != "" {
		list, err = h.Store.ListEmployeeCheckIns(r.Context(), emp, date)
	} else {
		list, err = h.Store.ListCheckInsOn(r.Context(), date)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list check-ins", err)
		return
	}

	dtos := make([]CheckInDTO, len(list))
	for i, c := range list {
		dtos[i] = toCheckInDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCheckIn records a manual punch and runs realtime evaluation when
// enabled.
func (h *Handler) CreateCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t, err := time.ParseInLocation(attendance.DateTimeLayout, strings.TrimSpace(req.Time), time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "time must be YYYY-MM-DD HH:MM:SS", err)
		return
	}
	dir := attendance.Direction(strings.ToUpper(req.LogType))
	if !dir.Valid() {
		writeError(w, http.StatusBadRequest, "log_type must be IN or OUT", nil)
		return
	}

	emp, err := h.Store.GetEmployee(ctx, req.Employee)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	ci := attendance.CheckIn{
		ID:           uuid.NewString(),
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		Time:         t,
		LogType:      dir,
		DeviceID:     req.DeviceID,
		Shift:        req.Shift,
		CreatedAt:    h.now(),
	}
	if err := h.Store.CreateCheckIn(ctx, ci); err != nil {
		writeServiceError(w, "Failed to create check-in", err)
		return
	}

	resp := CheckInResponse{CheckIn: toCheckInDTO(ci)}
	if h.Realtime != nil {
		verdict, err := h.Realtime.OnCheckIn(ctx, ci)
		if err != nil {
			h.Logger.Warn("realtime evaluation failed", "checkin", ci.ID, "err", err)
		} else {
			resp.Verdict = &verdict
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError picks the status from the error's class.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case attendance.IsNotFound(err), leave.IsNotFound(err):
		return http.StatusNotFound
	case attendance.IsConflict(err), leave.IsConflict(err):
		return http.StatusConflict
	case attendance.IsClientError(err), leave.IsClientError(err),
		errors.Is(err, crosschex.ErrInvalidSettings),
		errors.Is(err, crosschex.ErrSyncDisabled),
		errors.Is(err, crosschex.ErrMissingCredentials):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

const maxBodyBytes = 10 << 20

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// dateParam parses a YYYY-MM-DD query parameter, returning the date of
// fallback when it is absent.
func dateParam(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return attendance.DateOf(fallback), nil
	}
	d, err := attendance.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// optionalDate parses key when present.
func optionalDate(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := attendance.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &d, nil
}

// dateRange reads from_date/to_date. to_date defaults to today and
// from_date to spanDays before to_date.
func dateRange(r *http.Request, now time.Time, spanDays int) (from, to time.Time, err error) {
	if to, err = dateParam(r, "to_date", now); err != nil {
		return
	}
	if from, err = dateParam(r, "from_date", to.AddDate(0, 0, -spanDays)); err != nil {
		return
	}
	if to.Before(from) {
		err = errors.New("to_date is before from_date")
	}
	return
}

func intParam(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func boolParam(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
