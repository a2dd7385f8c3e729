package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/report"
)

// defaultAnalyticsDays is the span used when no from_date is given.
const defaultAnalyticsDays = 30

// =============================================================================
// DASHBOARD, DEVICES, ANALYTICS
// =============================================================================

// GetDashboard returns the day view for ?date= (default today).
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date", h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	d, err := h.Reports.Dashboard(r.Context(), date)
	if err != nil {
		writeServiceError(w, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) GetDeviceUsage(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r, h.now(), defaultAnalyticsDays-1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	usage, err := h.Reports.DeviceUsage(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, "Failed to load device usage", err)
		return
	}
	if usage == nil {
		usage = []report.DeviceUsage{}
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	f, err := h.analyticsFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	a, err := h.Reports.Analytics(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to build analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ExportAnalytics streams the raw check-ins behind the analytics as XLSX.
func (h *Handler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	f, err := h.analyticsFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	rows, err := h.Store.RawCheckIns(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load check-ins", err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteAnalyticsXLSX(&buf, rows); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build spreadsheet", err)
		return
	}
	name := fmt.Sprintf("checkin_analytics_%s_%s.xlsx",
		f.FromDate.Format(attendance.DateLayout), f.ToDate.Format(attendance.DateLayout))
	writeFile(w, report.XLSXContentType, name, &buf)
}

func (h *Handler) analyticsFilters(r *http.Request) (report.AnalyticsFilters, error) {
	from, to, err := dateRange(r, h.now(), defaultAnalyticsDays-1)
	if err != nil {
		return report.AnalyticsFilters{}, err
	}
	q := r.URL.Query()
	return report.AnalyticsFilters{
		FromDate:   from,
		ToDate:     to,
		Employee:   q.Get("employee"),
		Department: q.Get("department"),
	}, nil
}

// =============================================================================
// CHECK-IN REPORT
// =============================================================================

// GetCheckInReport renders the per-day check-in report as JSON (default),
// XLSX or PDF depending on ?format=.
func (h *Handler) GetCheckInReport(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filters", err)
		return
	}
	rows, err := h.Reports.CheckIns(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to build report", err)
		return
	}
	if rows == nil {
		rows = []report.Row{}
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	var buf bytes.Buffer
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, rows)
	case "xlsx":
		if err := report.WriteCheckInsXLSX(&buf, rows); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to build spreadsheet", err)
			return
		}
		writeFile(w, report.XLSXContentType, "employee_checkin_report.xlsx", &buf)
	case "pdf":
		if err := report.WriteCheckInsPDF(&buf, "Employee Check-in Report", rows); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to build PDF", err)
			return
		}
		writeFile(w, report.PDFContentType, "employee_checkin_report.pdf", &buf)
	default:
		writeError(w, http.StatusBadRequest, "format must be json, xlsx or pdf", nil)
	}
}

func reportFilters(r *http.Request) (report.Filters, error) {
	from, err := optionalDate(r, "from_date")
	if err != nil {
		return report.Filters{}, err
	}
	to, err := optionalDate(r, "to_date")
	if err != nil {
		return report.Filters{}, err
	}

	q := r.URL.Query()
	f := report.Filters{
		FromDate:                   from,
		ToDate:                     to,
		Employee:                   q.Get("employee"),
		Department:                 q.Get("department"),
		Designation:                q.Get("designation"),
		Shift:                      q.Get("shift"),
		DeviceID:                   q.Get("device_id"),
		ShowOnlyLate:               boolParam(r, "show_only_late"),
		ShowOnlyWithRegularization: boolParam(r, "show_only_with_regularization"),
	}
	if lt := q.Get("log_type"); lt != "" {
		f.LogType = attendance.Direction(strings.ToUpper(lt))
		if !f.LogType.Valid() {
			return f, fmt.Errorf("log_type must be IN or OUT")
		}
	}
	return f, nil
}

func writeFile(w http.ResponseWriter, contentType, filename string, body io.Reader) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}
