/*
handlers_test.go - HTTP tests for the API

Tests run the full router against an in-memory store:
- Employees and health
- Consolidation, regularization decisions and job runs
- Manual check-ins with realtime evaluation
- CrossChex webhook ingestion
- Backfill queueing
- Bearer token guard
- Report formats
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/auth"
	"github.com/hamptons/attendance-engine/crosschex"
	"github.com/hamptons/attendance-engine/leave"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

var testNow = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
	token   string
}

func newTestServer(t *testing.T, opts Options, ropts RouterOptions) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, opts)
	h.Now = func() time.Time { return testNow }
	h.Consolidator.Now = h.Now
	h.Workflow.Now = h.Now
	if h.Realtime != nil {
		h.Realtime.Now = h.Now
	}

	return &testServer{t: t, store: store, handler: h, router: NewRouter(h, ropts)}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedDayShift creates the Day shift (08:00-17:00, 10 minutes grace) and
// assigns it to each employee from 2026-01-01.
func (s *testServer) seedDayShift(employees ...attendance.Employee) {
	s.t.Helper()
	ctx := context.Background()
	require.NoError(s.t, s.store.SaveShiftType(ctx, attendance.ShiftType{
		Name:               "Day",
		StartTime:          attendance.MustClock("08:00"),
		EndTime:            attendance.MustClock("17:00"),
		GracePeriodMinutes: 10,
	}))
	for i, e := range employees {
		require.NoError(s.t, s.store.SaveEmployee(ctx, e))
		require.NoError(s.t, s.store.CreateShiftAssignment(ctx, attendance.ShiftAssignment{
			ID:         fmt.Sprintf("sa-%d", i),
			EmployeeID: e.ID,
			ShiftType:  "Day",
			StartDate:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			DocStatus:  attendance.DocSubmitted,
		}))
	}
}

func (s *testServer) punch(id, employee, at string, dir attendance.Direction) {
	s.t.Helper()
	t, err := time.ParseInLocation(attendance.DateTimeLayout, at, time.UTC)
	require.NoError(s.t, err)
	require.NoError(s.t, s.store.CreateCheckIn(context.Background(), attendance.CheckIn{
		ID:         id,
		EmployeeID: employee,
		Time:       t,
		LogType:    dir,
		DeviceID:   "Main Gate",
	}))
}

func deviceID(n int) *int { return &n }

// =============================================================================
// EMPLOYEES AND HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	rec := s.do(http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestEmployees_CreateAndGet(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	// WHEN: An employee is created with a department
	rec := s.do(http.MethodPost, "/api/employees", CreateEmployeeRequest{
		ID:                  "HR-EMP-0001",
		EmployeeName:        "Amal Said",
		Department:          "Operations",
		DateOfJoining:       "2025-06-01",
		ReportsTo:           "HR-EMP-0009",
		CarryForwardEnabled: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[EmployeeDTO](t, rec)
	assert.Equal(t, attendance.EmployeeActive, created.Status)
	assert.Equal(t, 10, created.MaxCarryForwardDays)

	// THEN: The employee and the department can be read back
	rec = s.do(http.MethodGet, "/api/employees/HR-EMP-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[EmployeeDTO](t, rec)
	assert.Equal(t, "Amal Said", got.EmployeeName)
	assert.Equal(t, "2025-06-01", got.DateOfJoining)

	rec = s.do(http.MethodGet, "/api/departments", nil)
	assert.Contains(t, decode[[]string](t, rec), "Operations")

	rec = s.do(http.MethodGet, "/api/employees/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmployees_RejectsUnknownStatus(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/employees", CreateEmployeeRequest{
		ID: "E1", EmployeeName: "One", Status: "Retired",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShiftTypes_Validation(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/shift-types", ShiftTypeDTO{Name: "Night", StartTime: "22:00", EndTime: "06:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/shift-types", ShiftTypeDTO{Name: "Day", StartTime: "08:00", EndTime: "17:00", GracePeriod: 15})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "08:00:00", decode[ShiftTypeDTO](t, rec).StartTime)
}

// =============================================================================
// CONSOLIDATION AND REGULARIZATION
// =============================================================================

func TestConsolidation_RunAndDecide(t *testing.T) {
	// GIVEN: One punctual and one late employee on the Day shift
	s := newTestServer(t, Options{}, RouterOptions{})
	s.seedDayShift(
		attendance.Employee{ID: "E1", Name: "On Time"},
		attendance.Employee{ID: "E2", Name: "Late"},
	)
	s.punch("c1", "E1", "2026-03-02 07:55:00", attendance.In)
	s.punch("c2", "E1", "2026-03-02 17:05:00", attendance.Out)
	s.punch("c3", "E2", "2026-03-02 09:00:00", attendance.In)
	s.punch("c4", "E2", "2026-03-02 17:05:00", attendance.Out)

	// WHEN: The date is consolidated
	rec := s.do(http.MethodPost, "/api/consolidation/run", ConsolidateRequest{Date: "2026-03-02"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: One Present attendance and one pending case
	stats := decode[attendance.Stats](t, rec)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 1, stats.Regularizations)

	rec = s.do(http.MethodGet, "/api/regularizations?status=Pending", nil)
	regs := decode[[]RegularizationDTO](t, rec)
	require.Len(t, regs, 1)
	assert.Equal(t, "E2", regs[0].Employee)
	assert.Equal(t, "00:50:00", regs[0].Late)
	assert.Len(t, regs[0].Items, 2)

	// WHEN: The case is approved
	rec = s.do(http.MethodPost, "/api/regularizations/"+regs[0].ID+"/approve", DecisionRequest{Approver: "manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(attendance.StatusPresent), decode[AttendanceDTO](t, rec).Status)

	// THEN: A second decision conflicts and both employees have attendance
	rec = s.do(http.MethodPost, "/api/regularizations/"+regs[0].ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/attendance?from_date=2026-03-02&to_date=2026-03-02", nil)
	assert.Len(t, decode[[]AttendanceDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/regularizations/"+regs[0].ID, nil)
	got := decode[RegularizationDTO](t, rec)
	assert.Equal(t, string(attendance.RegApproved), got.Status)
	assert.Equal(t, "manager", got.DecidedBy)

	rec = s.do(http.MethodGet, "/api/jobs?job="+JobConsolidation, nil)
	runs := decode[[]sqlite.JobRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.JobSuccess, runs[0].Status)
}

func TestConsolidation_RerunSkipsDecidedEmployees(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One"}, attendance.Employee{ID: "E2", Name: "Two"})
	s.punch("c1", "E1", "2026-03-02 07:55:00", attendance.In)
	s.punch("c2", "E1", "2026-03-02 17:05:00", attendance.Out)

	first := decode[attendance.Stats](t, s.do(http.MethodPost, "/api/consolidation/run", ConsolidateRequest{Date: "2026-03-02"}))
	assert.Equal(t, 1, first.Present)
	assert.Equal(t, 1, first.Absent)

	second := decode[attendance.Stats](t, s.do(http.MethodPost, "/api/consolidation/run", ConsolidateRequest{Date: "2026-03-02"}))
	assert.Equal(t, 2, second.Skipped)
	assert.Zero(t, second.Present+second.Absent+second.Regularizations)
}

func TestRegularization_UnknownIDIsNotFound(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/regularizations/nope/approve", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/regularizations/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/regularizations/nope", nil).Code)
}

func TestStartBackfill_RecordsJob(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One"})

	rec := s.do(http.MethodPost, "/api/consolidation/backfill", BackfillRequest{Days: 2})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode[BackfillAccepted](t, rec)
	assert.Equal(t, "2026-03-01", accepted.StartDate)
	assert.Equal(t, "2026-03-03", accepted.EndDate)

	s.handler.Wait()

	runs, err := s.store.ListJobRuns(context.Background(), JobBackfill, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, accepted.JobID, runs[0].ID)
	assert.Equal(t, sqlite.JobSuccess, runs[0].Status)

	list, err := s.store.ListAttendance(context.Background(), sqlite.AttendanceFilter{EmployeeID: "E1"})
	require.NoError(t, err)
	assert.Len(t, list, 3, "one Absent per day in the range")

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/consolidation/backfill", BackfillRequest{Days: -1}).Code)
}

// =============================================================================
// CHECK-INS
// =============================================================================

func TestCreateCheckIn_RealtimeFlagsLateEntry(t *testing.T) {
	// GIVEN: Realtime evaluation is enabled
	s := newTestServer(t, Options{RealtimeRegularization: true}, RouterOptions{})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One"})

	// WHEN: A late IN is recorded
	rec := s.do(http.MethodPost, "/api/checkins", CheckInRequest{
		Employee: "E1", Time: "2026-03-03 09:00:00", LogType: "in", DeviceID: "Main Gate",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The verdict links it to a new open case
	resp := decode[CheckInResponse](t, rec)
	require.NotNil(t, resp.Verdict)
	assert.True(t, resp.Verdict.Flagged)
	assert.NotEmpty(t, resp.Verdict.RegularizationID)

	reg, err := s.store.GetRegularization(context.Background(), resp.Verdict.RegularizationID)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, attendance.RegOpen, reg.Status)
	assert.Equal(t, 50*time.Minute, reg.Late)
}

func TestCreateCheckIn_Validation(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One"})

	tests := []struct {
		name string
		req  CheckInRequest
		want int
	}{
		{"bad direction", CheckInRequest{Employee: "E1", Time: "2026-03-03 09:00:00", LogType: "SIDEWAYS"}, http.StatusBadRequest},
		{"bad time", CheckInRequest{Employee: "E1", Time: "09:00", LogType: "IN"}, http.StatusBadRequest},
		{"unknown employee", CheckInRequest{Employee: "E9", Time: "2026-03-03 09:00:00", LogType: "IN"}, http.StatusNotFound},
		{"no realtime verdict", CheckInRequest{Employee: "E1", Time: "2026-03-03 09:00:00", LogType: "IN"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/checkins", tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(http.MethodGet, "/api/checkins?date=2026-03-03", nil)
	assert.Len(t, decode[[]CheckInDTO](t, rec), 1)
}

// =============================================================================
// CROSSCHEX
// =============================================================================

func TestCrossChexWebhook_IngestsAndDeduplicates(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One", AttendanceDeviceID: deviceID(1040)})

	body := `{"records":[{"employee":{"workno":"1040"},"checktime":"2026-03-03T07:58:00+04:00",
		"checktype":0,"uuid":"evt-1","device":{"name":"Main Gate"}}]}`

	// WHEN: The same event is pushed twice
	first := decode[crosschex.WebhookResponse](t, s.do(http.MethodPost, "/api/crosschex/webhook", body))
	second := decode[crosschex.WebhookResponse](t, s.do(http.MethodPost, "/api/crosschex/webhook", body))

	// THEN: Only one check-in exists, on the device's wall clock
	assert.Equal(t, 1, first.Result.Created)
	assert.Equal(t, 1, second.Result.Duplicates)

	list, err := s.store.ListEmployeeCheckIns(context.Background(), "E1", testNow)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "07:58:00", list[0].Time.Format("15:04:05"))
	assert.Equal(t, "Day", list[0].Shift)
}

func TestCrossChexWebhook_AlwaysAnswers200(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/crosschex/webhook", `{"nothing":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[crosschex.WebhookResponse](t, rec).Warning)

	errs, err := s.store.ListErrors(context.Background(), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, errs)
}

func TestCrossChexSync_DisabledIsBadRequest(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/crosschex/sync", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrossChexSettings_EnabledNeedsCredentials(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	rec := s.do(http.MethodPut, "/api/crosschex/settings", CrossChexSettingsRequest{Enabled: true})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// LEAVE
// =============================================================================

func TestLeaveSetup_ListsOmanTypes(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/leave/setup", nil).Code)

	types := decode[[]leave.LeaveType](t, s.do(http.MethodGet, "/api/leave/types", nil))
	assert.NotEmpty(t, types)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_GuardsAPIButNotWebhook(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", "hamptons", time.Hour)
	s := newTestServer(t, Options{}, RouterOptions{Auth: issuer})

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/employees", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/crosschex/webhook", `[]`).Code)

	s.token = "not-a-token"
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/employees", nil).Code)

	token, err := issuer.Issue("hr-admin", "admin")
	require.NoError(t, err)
	s.token = token
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/employees", nil).Code)
}

func TestAuth_ApproverDefaultsToSubject(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", "hamptons", time.Hour)
	s := newTestServer(t, Options{}, RouterOptions{Auth: issuer})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One"})
	s.punch("c1", "E1", "2026-03-02 09:00:00", attendance.In)

	token, err := issuer.Issue("hr-admin", "admin")
	require.NoError(t, err)
	s.token = token

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/consolidation/run", ConsolidateRequest{Date: "2026-03-02"}).Code)
	regs := decode[[]RegularizationDTO](t, s.do(http.MethodGet, "/api/regularizations", nil))
	require.Len(t, regs, 1)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/regularizations/"+regs[0].ID+"/reject", nil).Code)

	reg, err := s.store.GetRegularization(context.Background(), regs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hr-admin", reg.DecidedBy)
	assert.Equal(t, attendance.RegRejected, reg.Status)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestCheckInReport_Formats(t *testing.T) {
	s := newTestServer(t, Options{}, RouterOptions{})
	s.seedDayShift(attendance.Employee{ID: "E1", Name: "One", Department: "Operations"})
	s.punch("c1", "E1", "2026-03-02 08:30:00", attendance.In)
	s.punch("c2", "E1", "2026-03-02 17:00:00", attendance.Out)

	rec := s.do(http.MethodGet, "/api/reports/checkins?from_date=2026-03-02&to_date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "E1")

	rec = s.do(http.MethodGet, "/api/reports/checkins?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "employee_checkin_report.xlsx")
	assert.NotZero(t, rec.Body.Len())

	rec = s.do(http.MethodGet, "/api/reports/checkins?format=pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/reports/checkins?format=csv", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/reports/checkins?log_type=UP", nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", attendance.ErrRegularizationNotFound), http.StatusNotFound},
		{&attendance.AttendanceExistsError{EmployeeID: "E1"}, http.StatusConflict},
		{attendance.ErrShiftRequired, http.StatusBadRequest},
		{crosschex.ErrSyncDisabled, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
