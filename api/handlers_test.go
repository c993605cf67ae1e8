/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Win/loss create, edit, get and the ledger views
- Status mapping of validation, not found and conflict errors
- Rebate runs, approvals, run history and report exports
- Manual reconciliation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/rebate"
	"github.com/warp/winloss-engine/reconcile"
	"github.com/warp/winloss-engine/store/sqlite"
)

var cal = generic.MustBusinessCalendar("Asia/Manila")

// fixedNow is 10:00 local on 2025-03-11, so the last closed day is 2025-03-10.
var fixedNow = time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)

type testAPI struct {
	t      *testing.T
	h      *Handler
	store  *sqlite.Store
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveCustomer(ctx, generic.Customer{ID: 1, Name: "alice", Enabled: true}))
	require.NoError(t, store.SaveCustomer(ctx, generic.Customer{ID: 3, Name: "bob", Enabled: true}))
	require.NoError(t, store.SaveGame(ctx, generic.Game{ID: 2, Name: "roulette", Enabled: true}))
	require.NoError(t, store.SaveGame(ctx, generic.Game{ID: 9, Name: "retired", Enabled: false}))

	h, err := NewHandler(store, cal, Options{
		Policy:     rebate.Policy{Rate: decimal.RequireFromString("0.05")},
		Precedence: reconcile.PrecedenceManual,
	})
	require.NoError(t, err)
	h.Now = func() time.Time { return fixedNow }

	return &testAPI{t: t, h: h, store: store, router: NewRouter(h, RouterOptions{})}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// lossAt records a loss for customer 1 / game 2 at 15:00 local on 2025-03-10.
func (a *testAPI) lossAt(loss string) RecordResultDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/winloss", WinLossRequest{
		CustomerID: 1, GameID: 2, LossAmount: loss, Moment: "2025-03-10T15:00:00+08:00", ActorID: "ops",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[RecordResultDTO](a.t, rec)
}

// =============================================================================
// WIN/LOSS + LEDGER
// =============================================================================

func TestWinLoss_CreateEditAndLedger(t *testing.T) {
	a := newTestAPI(t)

	// GIVEN: a loss of 100 on 2025-03-10
	created := a.lossAt("100")
	assert.Equal(t, "100.0000", created.Delta)
	assert.Equal(t, "2025-03-10", created.Event.Day)
	assert.NotEmpty(t, created.EntryID)

	rec := a.do(http.MethodGet, "/api/ledger/1/2?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[LedgerEntryDTO](t, rec)
	assert.Equal(t, "100.0000", entry.NetLoss)
	assert.Equal(t, "recorder", entry.Source)

	// WHEN: the event is corrected to win 50 / loss 100
	rec = a.do(http.MethodPut, "/api/winloss/"+created.Event.ID, WinLossRequest{
		CustomerID: 1, GameID: 2, WinAmount: "50", LossAmount: "100", Moment: "2025-03-10T15:00:00+08:00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[RecordResultDTO](t, rec)
	assert.Equal(t, "50.0000", edited.Delta)
	assert.Equal(t, "100.0000", edited.PreviousDelta)

	// THEN: the entry holds only the corrected contribution
	rec = a.do(http.MethodGet, "/api/ledger?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]LedgerEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "50.0000", entries[0].NetLoss)

	rec = a.do(http.MethodGet, "/api/winloss/"+created.Event.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	event := decodeBody[EventDTO](t, rec)
	assert.Equal(t, "50.0000", event.WinAmount)
	assert.Equal(t, "ops", event.CreatedBy)
}

func TestWinLoss_ErrorStatus(t *testing.T) {
	a := newTestAPI(t)
	moment := "2025-03-10T15:00:00+08:00"

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed json", http.MethodPost, "/api/winloss", "{", http.StatusBadRequest},
		{"non-decimal amount", http.MethodPost, "/api/winloss", WinLossRequest{CustomerID: 1, GameID: 2, LossAmount: "ten", Moment: moment}, http.StatusBadRequest},
		{"negative loss", http.MethodPost, "/api/winloss", WinLossRequest{CustomerID: 1, GameID: 2, LossAmount: "-1", Moment: moment}, http.StatusBadRequest},
		{"unknown customer", http.MethodPost, "/api/winloss", WinLossRequest{CustomerID: 77, GameID: 2, LossAmount: "1", Moment: moment}, http.StatusBadRequest},
		{"disabled game", http.MethodPost, "/api/winloss", WinLossRequest{CustomerID: 1, GameID: 9, LossAmount: "1", Moment: moment}, http.StatusBadRequest},
		{"bad moment", http.MethodPost, "/api/winloss", WinLossRequest{CustomerID: 1, GameID: 2, LossAmount: "1", Moment: "yesterday"}, http.StatusBadRequest},
		{"edit unknown event", http.MethodPut, "/api/winloss/nope", WinLossRequest{CustomerID: 1, GameID: 2, LossAmount: "1", Moment: moment}, http.StatusNotFound},
		{"get unknown event", http.MethodGet, "/api/winloss/nope", nil, http.StatusNotFound},
		{"bad day", http.MethodGet, "/api/ledger?day=2025-13-40", nil, http.StatusBadRequest},
		{"bad customer id", http.MethodGet, "/api/ledger/x/2", nil, http.StatusBadRequest},
		{"missing entry", http.MethodGet, "/api/ledger/1/2?day=2025-03-10", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// =============================================================================
// REBATES
// =============================================================================

func TestRebates_RunTwiceThenApproveAndReject(t *testing.T) {
	a := newTestAPI(t)
	a.lossAt("100")

	// WHEN: the day is run twice
	rec := a.do(http.MethodPost, "/api/rebates/run?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[RunResultDTO](t, rec)

	rec = a.do(http.MethodPost, "/api/rebates/run?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[RunResultDTO](t, rec)

	// THEN: one rebate of 5.0000, skipped the second time
	assert.Equal(t, 1, first.Created)
	require.Len(t, first.Rebates, 1)
	assert.Equal(t, "5.0000", first.Rebates[0].Amount)
	assert.Equal(t, "pending", first.Rebates[0].Status)
	assert.Equal(t, "REBATE-20250310-1-2", first.Rebates[0].Reference)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Skipped)

	id := first.Rebates[0].ID

	rec = a.do(http.MethodPost, "/api/rebates/"+id+"/approve", ApproveRequest{ActorID: "finance"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", decodeBody[RebateDTO](t, rec).Status)

	// approving again is a no-op, rejecting now conflicts
	rec = a.do(http.MethodPost, "/api/rebates/"+id+"/approve", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodPost, "/api/rebates/"+id+"/reject", RejectRequest{Reason: "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/rebates/missing/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/api/rebates?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]RebateDTO](t, rec), 1)

	rec = a.do(http.MethodGet, "/api/rebates/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]RunDTO](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, "manual", runs[0].Trigger)
	assert.Equal(t, "completed", runs[0].Status)

	rec = a.do(http.MethodGet, "/api/audit?entity_kind=rebate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AuditEntryDTO](t, rec), 2) // create + approve
}

func TestRebates_RejectNonRebateIsBadRequest(t *testing.T) {
	a := newTestAPI(t)
	ts := cal.AnchorDate(2025, 3, 10).Add(12 * time.Hour)
	require.NoError(t, a.store.InsertTransaction(context.Background(), generic.Transaction{
		ID: "dep-1", CustomerID: 1, GameID: generic.GamePtr(2),
		Type: generic.TxDeposit, Direction: generic.DirectionDebit, Status: generic.StatusPending,
		Amount: decimal.NewFromInt(10), Timestamp: ts, CreatedAt: ts, UpdatedAt: ts,
	}))

	rec := a.do(http.MethodPost, "/api/rebates/dep-1/reject", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRebates_DayDefaultsToLastClosedDay(t *testing.T) {
	a := newTestAPI(t)
	a.lossAt("40")

	rec := a.do(http.MethodGet, "/api/rebates/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decodeBody[[]PreviewLineDTO](t, rec)
	require.Len(t, lines, 1)
	assert.Equal(t, "2.0000", lines[0].Amount)
	assert.False(t, lines[0].Settled)

	rec = a.do(http.MethodPost, "/api/rebates/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[RunResultDTO](t, rec)
	assert.Equal(t, "2025-03-10", res.Day)
	assert.Equal(t, 1, res.Created)
}

func TestRebates_Exports(t *testing.T) {
	a := newTestAPI(t)
	a.lossAt("100")
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/rebates/run?day=2025-03-10", nil).Code)

	rec := a.do(http.MethodGet, "/api/rebates/export.xlsx?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "rebates-2025-03-10.xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = a.do(http.MethodGet, "/api/rebates/export.pdf?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = a.do(http.MethodGet, "/api/rebates/export.pdf?day=10-03-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECONCILE + HEALTH
// =============================================================================

func TestReconcile_OverwritesFromTransfers(t *testing.T) {
	a := newTestAPI(t)
	ts := cal.AnchorDate(2025, 3, 10).Add(12 * time.Hour)
	require.NoError(t, a.store.InsertTransaction(context.Background(), generic.Transaction{
		ID: "dep-1", CustomerID: 3, GameID: generic.GamePtr(2),
		Type: generic.TxDeposit, Direction: generic.DirectionDebit, Status: generic.StatusApproved,
		Amount: decimal.NewFromInt(200), Timestamp: ts, CreatedAt: ts, UpdatedAt: ts,
	}))

	rec := a.do(http.MethodPost, "/api/reconcile?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[ReconcileSummaryDTO](t, rec)
	assert.Equal(t, []string{"2025-03-10"}, summary.Days)
	assert.Equal(t, "manual", summary.Precedence)
	assert.Equal(t, 1, summary.Overwritten)

	rec = a.do(http.MethodGet, "/api/ledger/3/2?day=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[LedgerEntryDTO](t, rec)
	assert.Equal(t, "200.0000", entry.NetLoss)
	assert.Equal(t, "reconciler", entry.Source)

	// without ?day= it covers yesterday and today
	rec = a.do(http.MethodPost, "/api/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary = decodeBody[ReconcileSummaryDTO](t, rec)
	assert.Equal(t, []string{"2025-03-10", "2025-03-11"}, summary.Days)
	assert.Equal(t, 1, summary.Unchanged)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Asia/Manila", body["timezone"])
}
