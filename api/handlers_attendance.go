package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

// Job names recorded in job_runs.
const (
	JobConsolidation = "consolidation"
	JobBackfill      = "backfill"
	JobSync          = "crosschex_sync"
	JobTokenRefresh  = "token_refresh"
	JobCleanup       = "cleanup"
)

// =============================================================================
// ATTENDANCE
// =============================================================================

// ListAttendance supports ?employee=&status=&from_date=&to_date=&limit=.
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	from, err := optionalDate(r, "from_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from_date", err)
		return
	}
	to, err := optionalDate(r, "to_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to_date", err)
		return
	}

	q := r.URL.Query()
	list, err := h.Store.ListAttendance(r.Context(), sqlite.AttendanceFilter{
		EmployeeID: q.Get("employee"),
		Status:     q.Get("status"),
		FromDate:   from,
		ToDate:     to,
		Limit:      intParam(r, "limit", 500),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attendance", err)
		return
	}

	dtos := make([]AttendanceDTO, len(list))
	for i, a := range list {
		dtos[i] = toAttendanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelAttendance cancels the record and reverses any leave it consumed.
func (h *Handler) CancelAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Workflow.CancelAttendance(r.Context(), id); err != nil {
		writeServiceError(w, "Failed to cancel attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Attendance cancelled"})
}

// =============================================================================
// REGULARIZATIONS
// =============================================================================

// ListRegularizations supports ?employee=&status=&from_date=&to_date=&limit=.
func (h *Handler) ListRegularizations(w http.ResponseWriter, r *http.Request) {
	from, err := optionalDate(r, "from_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from_date", err)
		return
	}
	to, err := optionalDate(r, "to_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to_date", err)
		return
	}

	q := r.URL.Query()
	list, err := h.Store.ListRegularizations(r.Context(), sqlite.RegularizationFilter{
		EmployeeID: q.Get("employee"),
		Status:     q.Get("status"),
		FromDate:   from,
		ToDate:     to,
		Limit:      intParam(r, "limit", 200),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list regularizations", err)
		return
	}

	dtos := make([]RegularizationDTO, len(list))
	for i, reg := range list {
		dtos[i] = toRegularizationDTO(reg)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetRegularization(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Store.GetRegularization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get regularization", err)
		return
	}
	if reg == nil {
		writeError(w, http.StatusNotFound, "Regularization not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRegularizationDTO(*reg))
}

// ApproveRegularization creates the Present (or Half Day) attendance.
func (h *Handler) ApproveRegularization(w http.ResponseWriter, r *http.Request) {
	h.decideRegularization(w, r, h.Workflow.Approve, "approve")
}

// RejectRegularization creates the Absent attendance.
func (h *Handler) RejectRegularization(w http.ResponseWriter, r *http.Request) {
	h.decideRegularization(w, r, h.Workflow.Reject, "reject")
}

type decideFunc func(ctx context.Context, id, approver string) (*attendance.Attendance, error)

func (h *Handler) decideRegularization(w http.ResponseWriter, r *http.Request, decide decideFunc, action string) {
	var req DecisionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	att, err := decide(r.Context(), chi.URLParam(r, "id"), approver(r, req.Approver))
	if err != nil {
		writeServiceError(w, fmt.Sprintf("Failed to %s regularization", action), err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(*att))
}

func (h *Handler) CancelRegularization(w http.ResponseWriter, r *http.Request) {
	if err := h.Workflow.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to cancel regularization", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Regularization cancelled"})
}

// DeleteRegularization removes an undecided case and unlinks its check-ins.
func (h *Handler) DeleteRegularization(w http.ResponseWriter, r *http.Request) {
	if err := h.Workflow.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete regularization", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CONSOLIDATION
// =============================================================================

// RunConsolidation consolidates one date (default today) synchronously.
func (h *Handler) RunConsolidation(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date := attendance.DateOf(h.now())
	if req.Date != "" {
		d, err := attendance.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		date = d
	}

	stats, err := h.RunJob(r.Context(), JobConsolidation, func(ctx context.Context) (any, error) {
		return h.Consolidator.ConsolidateDate(ctx, date)
	})
	if err != nil {
		writeServiceError(w, "Consolidation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StartBackfill queues a range consolidation and returns 202 at once.
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Days < 0 {
		writeError(w, http.StatusBadRequest, "days must not be negative", nil)
		return
	}

	start, end := attendance.BackfillRange(h.now(), req.Days, req.IncludeYesterday)
	jobID, err := h.Store.StartJob(r.Context(), JobBackfill)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to queue backfill", err)
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		ctx := context.Background()
		res, err := h.Consolidator.ConsolidateRange(ctx, start, end)
		h.finishJob(ctx, jobID, JobBackfill, res, err)
	}()

	writeJSON(w, http.StatusAccepted, BackfillAccepted{
		JobID:     jobID,
		StartDate: start.Format(attendance.DateLayout),
		EndDate:   end.Format(attendance.DateLayout),
		Message:   "Attendance sync queued",
	})
}

// =============================================================================
// JOBS AND ADMIN
// =============================================================================

// RunJob records fn as a job run.
func (h *Handler) RunJob(ctx context.Context, job string, fn func(context.Context) (any, error)) (any, error) {
	id, err := h.Store.StartJob(ctx, job)
	if err != nil {
		return nil, err
	}
	res, runErr := fn(ctx)
	h.finishJob(ctx, id, job, res, runErr)
	return res, runErr
}

func (h *Handler) finishJob(ctx context.Context, id, job string, res any, runErr error) {
	if runErr != nil {
		h.Logger.Error("job failed", "job", job, "id", id, "err", runErr)
	} else {
		h.Logger.Info("job finished", "job", job, "id", id)
	}
	if err := h.Store.FinishJob(ctx, id, runErr, res); err != nil {
		h.Logger.Warn("job run update failed", "job", job, "id", id, "err", err)
	}
}

// ListJobRuns supports ?job=&limit=.
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListJobRuns(r.Context(), r.URL.Query().Get("job"), intParam(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list job runs", err)
		return
	}
	if runs == nil {
		runs = []sqlite.JobRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListErrors returns the most recent persisted failures.
func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Store.ListErrors(r.Context(), intParam(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list errors", err)
		return
	}
	if logs == nil {
		logs = []sqlite.ErrorLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// RunCleanup applies the retention rules immediately.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.RunJob(r.Context(), JobCleanup, func(ctx context.Context) (any, error) {
		return h.Store.Cleanup(ctx, h.now(), h.LogRetentionDays)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// approver falls back to the token subject when the body names nobody.
func approver(r *http.Request, named string) string {
	if named != "" {
		return named
	}
	if claims, ok := ClaimsFrom(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := decodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
