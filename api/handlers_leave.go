package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/leave"
)

// =============================================================================
// LEAVE TYPES AND POLICY
// =============================================================================

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListLeaveTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list leave types", err)
		return
	}
	if types == nil {
		types = []leave.LeaveType{}
	}
	writeJSON(w, http.StatusOK, types)
}

// SetupLeavePolicy seeds the Oman leave types and policy.
func (h *Handler) SetupLeavePolicy(w http.ResponseWriter, r *http.Request) {
	res, err := h.Leave.SetupPolicy(r.Context())
	if err != nil {
		writeServiceError(w, "Leave policy setup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AssignLeavePolicy assigns one employee, or every Active employee when no
// employee is named.
func (h *Handler) AssignLeavePolicy(w http.ResponseWriter, r *http.Request) {
	var req AssignPolicyRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Policy == "" {
		req.Policy = leave.OmanPolicyName
	}

	if req.Employee == "" {
		res, err := h.Leave.BulkAssign(r.Context(), req.Policy)
		if err != nil {
			writeServiceError(w, "Bulk assignment failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	var from time.Time
	if req.EffectiveFrom != "" {
		d, err := attendance.ParseDate(req.EffectiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_from", err)
			return
		}
		from = d
	}
	a, err := h.Leave.AssignPolicy(r.Context(), req.Employee, req.Policy, from, req.CarryForward)
	if err != nil {
		writeServiceError(w, "Policy assignment failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// UploadOpeningBalances takes a multipart "file" (.xlsx or .xls) and
// optional policy, from_date and to_date form fields, then allocates the
// policy to every Active employee.
func (h *Handler) UploadOpeningBalances(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}

	opts := leave.AllocateOptions{
		Policy:      r.FormValue("policy"),
		OpeningNote: r.FormValue("note"),
	}
	for key, dst := range map[string]*time.Time{"from_date": &opts.FromDate, "to_date": &opts.ToDate} {
		if v := r.FormValue(key); v != "" {
			d, err := attendance.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+key, err)
				return
			}
			*dst = d
		}
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == http.ErrMissingFile:
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid file", err)
		return
	default:
		defer file.Close()
		balances, err := leave.ReadOpeningBalances(file, header.Filename)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read opening balances", err)
			return
		}
		opts.OpeningBalances = balances
	}

	res, err := h.Leave.AllocateWithOpeningBalances(r.Context(), opts)
	if err != nil {
		writeServiceError(w, "Allocation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// LEAVE APPLICATIONS
// =============================================================================

// ListLeaveApplications supports ?employee=&status=.
func (h *Handler) ListLeaveApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	apps, err := h.Store.ListApplications(r.Context(), q.Get("employee"), q.Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list leave applications", err)
		return
	}
	if apps == nil {
		apps = []leave.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *Handler) CreateLeaveApplication(w http.ResponseWriter, r *http.Request) {
	var req LeaveApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from, err := attendance.ParseDate(req.FromDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from_date", err)
		return
	}
	to := from
	if req.ToDate != "" {
		if to, err = attendance.ParseDate(req.ToDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to_date", err)
			return
		}
	}
	app := leave.Application{
		EmployeeID: req.Employee,
		LeaveType:  req.LeaveType,
		FromDate:   from,
		ToDate:     to,
		HalfDay:    req.HalfDay,
		Reason:     req.Reason,
	}
	if req.HalfDayDate != "" {
		d, err := attendance.ParseDate(req.HalfDayDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid half_day_date", err)
			return
		}
		app.HalfDayDate = &d
	}

	created, err := h.Leave.CreateApplication(r.Context(), app)
	if err != nil {
		writeServiceError(w, "Failed to create leave application", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ApproveLeaveApplication(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	app, err := h.Leave.ApproveApplication(r.Context(), chi.URLParam(r, "id"), approver(r, req.Approver))
	if err != nil {
		writeServiceError(w, "Failed to approve leave application", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) RejectLeaveApplication(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	app, err := h.Leave.RejectApplication(r.Context(), chi.URLParam(r, "id"), approver(r, req.Approver))
	if err != nil {
		writeServiceError(w, "Failed to reject leave application", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// CancelLeaveApplication reverses any consumed days.
func (h *Handler) CancelLeaveApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Leave.CancelApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "Failed to cancel leave application", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}
