/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend
  5. Auth:       Bearer JWT on /api/* except the CrossChex webhook,
                 only when a secret is configured

ROUTE GROUPS:
  /api/crosschex/webhook  Device push (public)
  /api/employees/*        Employees, their check-ins and leave balance
  /api/departments        Departments
  /api/shift-types/*      Shift types
  /api/shift-assignments  Shift assignments
  /api/checkins           Check-ins
  /api/attendance/*       Attendance records
  /api/regularizations/*  Regularization workflow
  /api/leave/*            Leave setup, allocation and applications
  /api/consolidation/*    Nightly run and backfill
  /api/jobs, /api/errors  Job runs and persisted failures
  /api/dashboard, /api/devices, /api/analytics, /api/reports/*
  /api/crosschex/*        Integration settings and actions
  /api/admin/cleanup      Retention cleanup
  /healthz                Liveness and database ping

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/hamptons/main.go: Server startup
*/
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hamptons/attendance-engine/auth"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string

	// Auth, when set, guards every /api route except the webhook.
	Auth *auth.Issuer
}

type ctxKey int

const ctxKeyClaims ctxKey = iota

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// CrossChex pushes without credentials.
		r.Post("/crosschex/webhook", h.CrossChexWebhook)

		r.Group(func(r chi.Router) {
			if opts.Auth != nil {
				r.Use(RequireAuth(opts.Auth, h.Logger))
			}

			r.Route("/employees", func(r chi.Router) {
				r.Get("/", h.ListEmployees)
				r.Post("/", h.CreateEmployee)
				r.Get("/{id}", h.GetEmployee)
				r.Get("/{id}/checkins", h.GetEmployeeCheckIns)
				r.Get("/{id}/leave-balance", h.GetLeaveBalance)
			})

			r.Get("/departments", h.ListDepartments)
			r.Post("/departments", h.CreateDepartment)

			r.Route("/shift-types", func(r chi.Router) {
				r.Get("/", h.ListShiftTypes)
				r.Post("/", h.CreateShiftType)
				r.Get("/{name}", h.GetShiftType)
			})

			r.Get("/shift-assignments", h.ListShiftAssignments)
			r.Post("/shift-assignments", h.CreateShiftAssignment)

			r.Get("/checkins", h.ListCheckIns)
			r.Post("/checkins", h.CreateCheckIn)

			r.Route("/attendance", func(r chi.Router) {
				r.Get("/", h.ListAttendance)
				r.Post("/{id}/cancel", h.CancelAttendance)
			})

			r.Route("/regularizations", func(r chi.Router) {
				r.Get("/", h.ListRegularizations)
				r.Get("/{id}", h.GetRegularization)
				r.Post("/{id}/approve", h.ApproveRegularization)
				r.Post("/{id}/reject", h.RejectRegularization)
				r.Post("/{id}/cancel", h.CancelRegularization)
				r.Delete("/{id}", h.DeleteRegularization)
			})

			r.Route("/leave", func(r chi.Router) {
				r.Get("/types", h.ListLeaveTypes)
				r.Post("/setup", h.SetupLeavePolicy)
				r.Post("/assign", h.AssignLeavePolicy)
				r.Post("/opening-balances", h.UploadOpeningBalances)
				r.Get("/applications", h.ListLeaveApplications)
				r.Post("/applications", h.CreateLeaveApplication)
				r.Post("/applications/{id}/approve", h.ApproveLeaveApplication)
				r.Post("/applications/{id}/reject", h.RejectLeaveApplication)
				r.Post("/applications/{id}/cancel", h.CancelLeaveApplication)
			})

			r.Route("/consolidation", func(r chi.Router) {
				r.Post("/run", h.RunConsolidation)
				r.Post("/backfill", h.StartBackfill)
			})

			r.Get("/jobs", h.ListJobRuns)
			r.Get("/errors", h.ListErrors)

			r.Get("/dashboard", h.GetDashboard)
			r.Get("/devices", h.GetDeviceUsage)
			r.Get("/analytics", h.GetAnalytics)
			r.Get("/analytics/export", h.ExportAnalytics)
			r.Get("/reports/checkins", h.GetCheckInReport)

			r.Route("/crosschex", func(r chi.Router) {
				r.Get("/settings", h.GetCrossChexSettings)
				r.Put("/settings", h.UpdateCrossChexSettings)
				r.Post("/test-connection", h.TestCrossChexConnection)
				r.Post("/sync", h.SyncCrossChex)
				r.Post("/reset-token", h.ResetCrossChexToken)
				r.Post("/clear-logs", h.ClearCrossChexLogs)
				r.Get("/status", h.GetCrossChexStatus)
				r.Get("/logs", h.ListCrossChexLogs)
			})

			r.Post("/admin/cleanup", h.RunCleanup)
		})
	})

	return r
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(issuer *auth.Issuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			claims, err := issuer.Parse(token)
			if err != nil {
				logger.Debug("rejected token", "request_id", middleware.GetReqID(r.Context()), "err", err)
				writeError(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the verified token claims of an authenticated request.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok
}

// Health reports liveness and whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
