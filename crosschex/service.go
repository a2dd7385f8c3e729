/*
service.go - CrossChex sync, token lifecycle and webhook handling

TOKEN LIFECYCLE:
  No token ──TestConnection/RefreshToken──▶ token + expiry, "Connected"
      ▲                                            │
      └──── ResetToken / key or secret changed ◀───┘

  A token is refreshed when it expires within 30 minutes. A failed refresh
  never clears the last token that worked.

CROSSCHEX LOG:
  Every webhook batch, sync and token refresh writes one Log row. Webhook
  rows start as Processing and end as Success, Partial Success or Failed.
*/
package crosschex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	LogWebhook = "Webhook"
	LogSync    = "Sync"
	LogToken   = "Token"

	LogProcessing     = "Processing"
	LogSuccess        = "Success"
	LogPartialSuccess = "Partial Success"
	LogFailed         = "Failed"
	LogErrored        = "Error"

	// DefaultLookback is how far back a sync fetches.
	DefaultLookback = 365 * 24 * time.Hour
)

var ErrMissingRecords = errors.New("payload has no records")

// Log is one CrossChex interaction.
type Log struct {
	ID               string    `json:"id"`
	LogType          string    `json:"log_type"`
	Status           string    `json:"status"`
	RequestPayload   string    `json:"request_payload,omitempty"`
	RecordsProcessed int       `json:"records_processed"`
	CheckinsCreated  int       `json:"checkins_created"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store is the persistence the service needs besides ingestion.
type Store interface {
	// GetSettings returns defaults when nothing has been saved yet.
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	CreateLog(ctx context.Context, l Log) error
	UpdateLog(ctx context.Context, l Log) error
	ListLogs(ctx context.Context, limit int) ([]Log, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncResult is returned by Sync.
type SyncResult struct {
	Result
	Fetched int    `json:"fetched"`
	Message string `json:"message"`
}

// StatusReport is the integration status shown to administrators.
type StatusReport struct {
	SyncEnabled      bool       `json:"sync_enabled"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	LastStatus       string     `json:"last_status"`
	ConnectionStatus string     `json:"connection_status"`
	APIConfigured    bool       `json:"api_configured"`
	HasToken         bool       `json:"has_token"`
	TokenExpires     *time.Time `json:"token_expires,omitempty"`
}

type Service struct {
	Store    Store
	Client   *Client
	Ingestor *Ingestor
	Logger   *slog.Logger
	Now      func() time.Time

	// Lookback defaults to DefaultLookback.
	Lookback time.Duration
}

func NewService(store Store, client *Client, ingestor *Ingestor, logger *slog.Logger) *Service {
	return &Service{Store: store, Client: client, Ingestor: ingestor, Logger: logger, Lookback: DefaultLookback}
}

// =============================================================================
// SETTINGS
// =============================================================================

// UpdateSettings validates and saves next. A changed key or secret drops the
// stored token. Token fields of next are ignored.
func (s *Service) UpdateSettings(ctx context.Context, next Settings) (Settings, error) {
	cur, err := s.Store.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if next.APISecret == "" {
		next.APISecret = cur.APISecret
	}
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	next.Token, next.TokenExpires = cur.Token, cur.TokenExpires
	next.ConnectionStatus = cur.ConnectionStatus
	next.LastTokenGenerated = cur.LastTokenGenerated
	next.LastSyncTime, next.LastSyncStatus = cur.LastSyncTime, cur.LastSyncStatus
	if cur.CredentialsChanged(next) {
		next.ResetToken()
	}
	if err := s.Store.SaveSettings(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// ResetToken clears the token.
func (s *Service) ResetToken(ctx context.Context) error {
	st, err := s.Store.GetSettings(ctx)
	if err != nil {
		return err
	}
	st.ResetToken()
	return s.Store.SaveSettings(ctx, st)
}

// =============================================================================
// TOKEN
// =============================================================================

// TestConnection generates a fresh token and records the connection status.
func (s *Service) TestConnection(ctx context.Context) error {
	st, err := s.Store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !st.HasCredentials() {
		return ErrMissingCredentials
	}

	if _, err := s.generateToken(ctx, &st); err != nil {
		st.ConnectionStatus = StatusFailed
		if serr := s.Store.SaveSettings(ctx, st); serr != nil {
			s.logger().Error("save connection status failed", "err", serr)
		}
		return fmt.Errorf("Connection failed: %w", err)
	}
	return nil
}

// RefreshToken replaces the token when it needs refreshing, or always when
// force is set. It reports whether a new token was generated.
func (s *Service) RefreshToken(ctx context.Context, force bool) (bool, error) {
	st, err := s.Store.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	if !st.HasCredentials() {
		return false, ErrMissingCredentials
	}
	if !force && !st.NeedsRefresh(s.now()) {
		return false, nil
	}

	log := s.newLog(LogToken, "")
	_, err = s.generateToken(ctx, &st)
	if err != nil {
		log.Status = LogFailed
		log.ErrorMessage = err.Error()
	} else {
		log.Status = LogSuccess
	}
	s.writeLog(ctx, log, true)
	if err != nil {
		s.logger().Warn("crosschex token refresh failed", "err", err)
		return false, err
	}
	s.logger().Info("crosschex token refreshed", "expires", st.TokenExpires)
	return true, nil
}

// validToken returns the stored token or a freshly generated one.
func (s *Service) validToken(ctx context.Context, st *Settings) (string, error) {
	if !st.NeedsRefresh(s.now()) {
		return st.Token, nil
	}
	return s.generateToken(ctx, st)
}

// generateToken calls the API and persists the result. On failure st is
// not modified.
func (s *Service) generateToken(ctx context.Context, st *Settings) (string, error) {
	tok, err := s.Client.Token(ctx, st.URL(), st.APIKey, st.APISecret)
	if err != nil {
		return "", err
	}
	now := s.now()
	st.Token = tok.Token
	st.TokenExpires = tok.Expires
	st.ConnectionStatus = StatusConnected
	st.LastTokenGenerated = &now
	if err := s.Store.SaveSettings(ctx, *st); err != nil {
		return "", fmt.Errorf("save token: %w", err)
	}
	return tok.Token, nil
}

// =============================================================================
// SYNC
// =============================================================================

// Sync pulls the lookback window from the API and ingests it.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	st, err := s.Store.GetSettings(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if !st.Enabled {
		return SyncResult{}, ErrSyncDisabled
	}
	if !st.HasCredentials() {
		return SyncResult{}, ErrMissingCredentials
	}

	log := s.newLog(LogSync, "")
	s.writeLog(ctx, log, true)

	res, err := s.sync(ctx, &st)
	if err != nil {
		log.Status = LogErrored
		log.ErrorMessage = err.Error()
		s.writeLog(ctx, log, false)

		// Re-read so a token generated before the failure is kept.
		if cur, gerr := s.Store.GetSettings(ctx); gerr == nil {
			st = cur
		}
		st.LastSyncStatus = "Error: " + err.Error()
		if serr := s.Store.SaveSettings(ctx, st); serr != nil {
			s.logger().Error("save sync status failed", "err", serr)
		}
		s.logger().Error("crosschex sync failed", "err", err)
		return res, err
	}

	log.RecordsProcessed = res.Processed
	log.CheckinsCreated = res.Created
	log.Status = batchStatus(res.Result)
	if res.Errors > 0 {
		log.ErrorMessage = fmt.Sprintf("%d records failed to process", res.Errors)
	}
	s.writeLog(ctx, log, false)

	now := s.now()
	st.LastSyncTime = &now
	st.LastSyncStatus = fmt.Sprintf("Success - %d records processed", res.Processed)
	if err := s.Store.SaveSettings(ctx, st); err != nil {
		return res, fmt.Errorf("save sync status: %w", err)
	}

	s.logger().Info("crosschex sync completed",
		"fetched", res.Fetched, "created", res.Created, "duplicates", res.Duplicates, "errors", res.Errors)
	return res, nil
}

func (s *Service) sync(ctx context.Context, st *Settings) (SyncResult, error) {
	token, err := s.validToken(ctx, st)
	if err != nil {
		return SyncResult{}, fmt.Errorf("Failed to generate token: %w", err)
	}

	lookback := s.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	end := s.now()
	records, err := s.Client.FetchRecords(ctx, st.URL(), token, end.Add(-lookback), end)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch records: %w", err)
	}

	res := SyncResult{Fetched: len(records)}
	if len(records) == 0 {
		res.Message = "No new attendance data found"
		return res, nil
	}
	res.Result = s.Ingestor.Process(ctx, records)
	res.Message = fmt.Sprintf("Successfully processed %d attendance records", res.Processed)
	return res, nil
}

// Status summarises the integration.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	st, err := s.Store.GetSettings(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	rep := StatusReport{
		SyncEnabled:      st.Enabled,
		LastSync:         st.LastSyncTime,
		LastStatus:       st.LastSyncStatus,
		ConnectionStatus: st.ConnectionStatus,
		APIConfigured:    st.APIKey != "",
		HasToken:         st.Token != "",
		TokenExpires:     st.TokenExpires,
	}
	if rep.LastStatus == "" {
		rep.LastStatus = "No status"
	}
	return rep, nil
}

// ClearLogs deletes CrossChex logs older than the retention period.
func (s *Service) ClearLogs(ctx context.Context) (int64, error) {
	st, err := s.Store.GetSettings(ctx)
	if err != nil {
		return 0, err
	}
	return s.Store.DeleteLogsBefore(ctx, s.now().Add(-st.Retention()))
}

// =============================================================================
// WEBHOOK
// =============================================================================

// WebhookResponse is always sent with HTTP 200 so CrossChex does not retry.
type WebhookResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Result  Result `json:"result"`
	Warning bool   `json:"warning,omitempty"`
}

// DecodeWebhook extracts the records array from a webhook body. The body may
// be the array itself or an object whose "records" holds the array or a
// JSON string encoding of it.
func DecodeWebhook(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrMissingRecords
	}

	if body[0] == '[' {
		var out []json.RawMessage
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var env struct {
		Records json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	recs := bytes.TrimSpace(env.Records)
	if len(recs) == 0 || string(recs) == "null" {
		return nil, ErrMissingRecords
	}
	if recs[0] == '"' {
		var s string
		if err := json.Unmarshal(recs, &s); err != nil {
			return nil, err
		}
		recs = []byte(s)
	}
	var out []json.RawMessage
	if err := json.Unmarshal(recs, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrMissingRecords
	}
	return out, nil
}

// HandleWebhook logs and ingests one webhook delivery.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) WebhookResponse {
	raws, err := DecodeWebhook(body)
	if err != nil {
		s.logger().Warn("crosschex webhook without records", "err", err)
		if rerr := s.Ingestor.Store.RecordError(ctx, "CrossChex Webhook", fmt.Sprintf("Payload not found: %v", err)); rerr != nil {
			s.logger().Warn("error log insert failed", "err", rerr)
		}
		return WebhookResponse{Code: 200, Msg: "Processed with warnings: " + err.Error(), Warning: true}
	}

	payload, _ := json.Marshal(raws)
	log := s.newLog(LogWebhook, string(payload))
	s.writeLog(ctx, log, true)

	res := s.Ingestor.ProcessRaw(ctx, raws)

	log.RecordsProcessed = res.Processed
	log.CheckinsCreated = res.Created
	log.Status = batchStatus(res)
	if res.Errors > 0 {
		log.ErrorMessage = fmt.Sprintf("%d records failed to process", res.Errors)
	}
	s.writeLog(ctx, log, false)

	return WebhookResponse{
		Code:   200,
		Msg:    fmt.Sprintf("Processed %d records, created %d check-ins", res.Processed, res.Created),
		Result: res,
	}
}

// batchStatus: Success when nothing failed, Partial Success when something
// was still created, otherwise Failed.
func batchStatus(r Result) string {
	switch {
	case r.Errors == 0:
		return LogSuccess
	case r.Created > 0:
		return LogPartialSuccess
	default:
		return LogFailed
	}
}

func (s *Service) newLog(logType, payload string) Log {
	now := s.now()
	return Log{
		ID:             uuid.NewString(),
		LogType:        logType,
		Status:         LogProcessing,
		RequestPayload: payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) writeLog(ctx context.Context, l Log, create bool) {
	var err error
	if create {
		err = s.Store.CreateLog(ctx, l)
	} else {
		l.UpdatedAt = s.now()
		err = s.Store.UpdateLog(ctx, l)
	}
	if err != nil {
		s.logger().Warn("crosschex log write failed", "log", l.ID, "err", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
