package crosschex_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/crosschex"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var syncNow = time.Date(2026, time.March, 2, 20, 0, 0, 0, time.UTC)

type harness struct {
	ctx   context.Context
	store *sqlite.Store
	svc   *crosschex.Service
	api   *fakeAPI
}

// newHarness wires the service to a fake API and an in-memory store with
// employee E1040 enrolled as device user 1040.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingestor := crosschex.NewIngestor(store, nil, logger)
	svc := crosschex.NewService(store, crosschex.NewClient(5*time.Second), ingestor, logger)
	svc.Now = func() time.Time { return syncNow }

	ctx := context.Background()
	pin := 1040
	require.NoError(t, store.SaveEmployee(ctx, attendance.Employee{ID: "E1040", Name: "Salim", AttendanceDeviceID: &pin}))
	require.NoError(t, store.SaveShiftType(ctx, attendance.ShiftType{
		Name: "Day", StartTime: attendance.MustClock("08:00"), EndTime: attendance.MustClock("17:00"),
	}))
	require.NoError(t, store.CreateShiftAssignment(ctx, attendance.ShiftAssignment{
		ID: "sa-1", EmployeeID: "E1040", ShiftType: "Day",
		StartDate: syncNow.AddDate(0, -1, 0), DocStatus: attendance.DocSubmitted,
	}))

	return &harness{ctx: ctx, store: store, svc: svc, api: newFakeAPI(t)}
}

func (h *harness) configure(t *testing.T, enabled bool) {
	t.Helper()
	_, err := h.svc.UpdateSettings(h.ctx, crosschex.Settings{
		Enabled:   enabled,
		APIURL:    h.api.URL,
		APIKey:    "key",
		APISecret: "secret",
	})
	require.NoError(t, err)
}

func (h *harness) checkIns(t *testing.T) []attendance.CheckIn {
	t.Helper()
	list, err := h.store.ListCheckInsOn(h.ctx, syncNow)
	require.NoError(t, err)
	return list
}

// =============================================================================
// SETTINGS AND TOKEN
// =============================================================================

func TestUpdateSettings_KeepsSecretAndResetsTokenOnNewKey(t *testing.T) {
	// GIVEN a connected integration
	h := newHarness(t)
	h.configure(t, true)
	require.NoError(t, h.svc.TestConnection(h.ctx))

	st, err := h.store.GetSettings(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, crosschex.StatusConnected, st.ConnectionStatus)
	assert.Equal(t, "tok-1", st.Token)

	// WHEN only the URL is edited, without resending the secret
	_, err = h.svc.UpdateSettings(h.ctx, crosschex.Settings{Enabled: true, APIURL: h.api.URL, APIKey: "key"})
	require.NoError(t, err)

	// THEN the secret and token survive
	st, err = h.store.GetSettings(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", st.APISecret)
	assert.Equal(t, "tok-1", st.Token)

	// WHEN the key changes
	_, err = h.svc.UpdateSettings(h.ctx, crosschex.Settings{Enabled: true, APIURL: h.api.URL, APIKey: "key-2"})
	require.NoError(t, err)

	// THEN the token is dropped
	st, err = h.store.GetSettings(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Token)
	assert.Equal(t, crosschex.StatusNotTested, st.ConnectionStatus)
}

func TestTestConnection_FailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.UpdateSettings(h.ctx, crosschex.Settings{APIURL: h.api.URL, APIKey: "key", APISecret: "nope"})
	require.NoError(t, err)

	err = h.svc.TestConnection(h.ctx)

	assert.ErrorContains(t, err, "Connection failed")
	st, gerr := h.store.GetSettings(h.ctx)
	require.NoError(t, gerr)
	assert.Equal(t, crosschex.StatusFailed, st.ConnectionStatus)
}

func TestRefreshToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.RefreshToken(h.ctx, false)
	assert.ErrorIs(t, err, crosschex.ErrMissingCredentials)

	h.configure(t, false)

	refreshed, err := h.svc.RefreshToken(h.ctx, false)
	require.NoError(t, err)
	assert.True(t, refreshed, "no token yet")

	refreshed, err = h.svc.RefreshToken(h.ctx, false)
	require.NoError(t, err)
	assert.False(t, refreshed, "token valid until tomorrow")

	refreshed, err = h.svc.RefreshToken(h.ctx, true)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, 2, h.api.tokenCalls)

	logs, err := h.store.ListLogs(h.ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, crosschex.LogToken, logs[0].LogType)
	assert.Equal(t, crosschex.LogSuccess, logs[0].Status)
}

func TestRefreshToken_FailureKeepsLastToken(t *testing.T) {
	h := newHarness(t)
	h.configure(t, false)
	_, err := h.svc.RefreshToken(h.ctx, false)
	require.NoError(t, err)

	h.api.secret = "rotated"
	_, err = h.svc.RefreshToken(h.ctx, true)

	assert.Error(t, err)
	st, gerr := h.store.GetSettings(h.ctx)
	require.NoError(t, gerr)
	assert.Equal(t, "tok-1", st.Token)
}

// =============================================================================
// SYNC
// =============================================================================

func TestSync_IngestsAndDeduplicates(t *testing.T) {
	// GIVEN the API holds two punches for 1040 and one for an unknown user
	h := newHarness(t)
	h.configure(t, true)
	h.api.records = []map[string]any{
		apiRecord("a", 1040, "2026-03-02T07:58:00+00:00", 0),
		apiRecord("b", 1040, "2026-03-02T17:03:00+00:00", 1),
		apiRecord("c", 9999, "2026-03-02T09:00:00+00:00", 0),
	}

	// WHEN syncing twice
	first, err := h.svc.Sync(h.ctx)
	require.NoError(t, err)
	second, err := h.svc.Sync(h.ctx)
	require.NoError(t, err)

	// THEN the punches are stored once with direction and shift
	assert.Equal(t, 3, first.Fetched)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 1, first.Errors)
	assert.Equal(t, 2, second.Duplicates)
	assert.Zero(t, second.Created)

	cis := h.checkIns(t)
	require.Len(t, cis, 2)
	assert.Equal(t, attendance.In, cis[0].LogType)
	assert.Equal(t, attendance.Out, cis[1].LogType)
	assert.Equal(t, "Day", cis[0].Shift)
	assert.Equal(t, "Lobby", cis[0].DeviceID)

	// AND the sync is logged as a partial success
	st, err := h.store.GetSettings(h.ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastSyncTime)
	assert.Contains(t, st.LastSyncStatus, "Success - 3 records processed")

	logs, err := h.store.ListLogs(h.ctx, 10)
	require.NoError(t, err)
	statuses := map[string]int{}
	for _, l := range logs {
		if l.LogType == crosschex.LogSync {
			statuses[l.Status]++
		}
	}
	assert.Equal(t, map[string]int{crosschex.LogPartialSuccess: 1, crosschex.LogFailed: 1}, statuses)
}

func TestSync_Guards(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Sync(h.ctx)
	assert.ErrorIs(t, err, crosschex.ErrSyncDisabled)

	h.configure(t, false)
	_, err = h.svc.Sync(h.ctx)
	assert.ErrorIs(t, err, crosschex.ErrSyncDisabled)
}

func TestSync_FetchFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.configure(t, true)
	h.api.failRecords = true

	_, err := h.svc.Sync(h.ctx)

	require.Error(t, err)
	st, gerr := h.store.GetSettings(h.ctx)
	require.NoError(t, gerr)
	assert.Contains(t, st.LastSyncStatus, "Error:")
	assert.Equal(t, "tok-1", st.Token, "token generated before the failure is kept")
}

// =============================================================================
// WEBHOOK
// =============================================================================

func TestHandleWebhook(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"records":[
		{"employee":{"workno":"1040"},"checktime":"2026-03-02T08:20:00+00:00","checktype":0,"uuid":"w1","device":{"name":"Gate","shift":"Day"}},
		{"employee":{"workno":"abc"},"checktime":"2026-03-02T08:21:00+00:00","checktype":0,"uuid":"w2"},
		{"employee":{"workno":"1040"},"checktime":"not a time","uuid":"w3"}
	]}`)

	resp := h.svc.HandleWebhook(h.ctx, body)

	assert.Equal(t, 200, resp.Code)
	assert.False(t, resp.Warning)
	assert.Equal(t, crosschex.Result{Processed: 3, Created: 1, Errors: 2}, resp.Result)
	require.Len(t, h.checkIns(t), 1)

	errs, err := h.store.ListErrors(h.ctx, 10)
	require.NoError(t, err)
	titles := map[string]bool{}
	for _, e := range errs {
		titles[e.Title] = true
	}
	assert.True(t, titles["CrossChex Webhook - Invalid workno"])
	assert.True(t, titles["CrossChex Webhook - Time Parse Error"])
}

func TestHandleWebhook_WithoutRecordsWarns(t *testing.T) {
	h := newHarness(t)

	resp := h.svc.HandleWebhook(h.ctx, []byte(`{"hello":"world"}`))

	assert.Equal(t, 200, resp.Code)
	assert.True(t, resp.Warning)
	assert.Zero(t, resp.Result.Processed)
}

// hookRecorder captures the check-ins handed to the realtime hook.
type hookRecorder struct{ seen []string }

func (r *hookRecorder) OnCheckIn(_ context.Context, ci attendance.CheckIn) (attendance.Verdict, error) {
	r.seen = append(r.seen, ci.ExternalUUID)
	return attendance.Verdict{}, nil
}

func TestIngestor_CallsHookForNewCheckInsOnly(t *testing.T) {
	h := newHarness(t)
	hook := &hookRecorder{}
	h.svc.Ingestor.Hook = hook
	rec := crosschex.Record{
		Employee:  crosschex.Employee{Workno: "1040"},
		CheckTime: "2026-03-02T08:00:00+00:00",
		UUID:      "x1",
	}

	res := h.svc.Ingestor.Process(h.ctx, []crosschex.Record{rec, rec})

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, []string{"x1"}, hook.seen)
}

func TestClearLogs(t *testing.T) {
	h := newHarness(t)
	h.configure(t, false)
	old := syncNow.AddDate(0, 0, -40)
	require.NoError(t, h.store.CreateLog(h.ctx, crosschex.Log{ID: "old", LogType: crosschex.LogSync, Status: crosschex.LogSuccess, CreatedAt: old}))
	require.NoError(t, h.store.CreateLog(h.ctx, crosschex.Log{ID: "new", LogType: crosschex.LogSync, Status: crosschex.LogSuccess, CreatedAt: syncNow}))

	n, err := h.svc.ClearLogs(h.ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	logs, err := h.store.ListLogs(h.ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "new", logs[0].ID)
}
