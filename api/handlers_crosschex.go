package api

import (
	"context"
	"io"
	"net/http"

	"github.com/hamptons/attendance-engine/crosschex"
)

// =============================================================================
// CROSSCHEX WEBHOOK (public)
// =============================================================================

// CrossChexWebhook ingests a push from the CrossChex cloud. It always
// answers 200 so the sender does not retry a batch that was partly stored.
func (h *Handler) CrossChexWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Warn("crosschex webhook body unreadable", "err", err)
		writeJSON(w, http.StatusOK, crosschex.WebhookResponse{
			Code: http.StatusOK, Msg: "Processed with warnings: " + err.Error(), Warning: true,
		})
		return
	}
	writeJSON(w, http.StatusOK, h.CrossChex.HandleWebhook(r.Context(), body))
}

// =============================================================================
// CROSSCHEX SETTINGS AND ACTIONS
// =============================================================================

func (h *Handler) GetCrossChexSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateCrossChexSettings saves the integration settings. Changing the key
// or secret drops the stored token.
func (h *Handler) UpdateCrossChexSettings(w http.ResponseWriter, r *http.Request) {
	var req CrossChexSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	st, err := h.CrossChex.UpdateSettings(r.Context(), crosschex.Settings{
		Enabled:          req.Enabled,
		APIURL:           req.APIURL,
		APIKey:           req.APIKey,
		APISecret:        req.APISecret,
		LogRetentionDays: req.LogRetentionDays,
	})
	if err != nil {
		writeServiceError(w, "Failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// TestCrossChexConnection requests a fresh token.
func (h *Handler) TestCrossChexConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.CrossChex.TestConnection(r.Context()); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeError(w, status, "Connection failed", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Connection successful"})
}

// SyncCrossChex pulls records from the cloud API now.
func (h *Handler) SyncCrossChex(w http.ResponseWriter, r *http.Request) {
	res, err := h.RunJob(r.Context(), JobSync, func(ctx context.Context) (any, error) {
		return h.CrossChex.Sync(ctx)
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeError(w, status, "Sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ResetCrossChexToken(w http.ResponseWriter, r *http.Request) {
	if err := h.CrossChex.ResetToken(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset token", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Token reset. A new token will be generated on next sync."})
}

// ClearCrossChexLogs removes logs older than the retention setting.
func (h *Handler) ClearCrossChexLogs(w http.ResponseWriter, r *http.Request) {
	n, err := h.CrossChex.ClearLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear logs", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Old logs cleared", Count: &n})
}

func (h *Handler) GetCrossChexStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := h.CrossChex.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load status", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) ListCrossChexLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Store.ListLogs(r.Context(), intParam(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list logs", err)
		return
	}
	if logs == nil {
		logs = []crosschex.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}
