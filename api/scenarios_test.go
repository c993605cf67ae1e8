package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/scheduler"
)

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	a := newTestAPI(t)
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = a.do(http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)
		})
	}

	rec := a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_SettledCorrection(t *testing.T) {
	a := newTestAPI(t)

	// GIVEN: loss 100 rebated, then corrected to win 50 / loss 100
	rec := a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "settled-correction"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the ledger shows 50, the original rebate of 5 stands
	rec = a.do(http.MethodGet, "/api/ledger/1001/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50.0000", decodeBody[LedgerEntryDTO](t, rec).NetLoss)

	rec = a.do(http.MethodGet, "/api/rebates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rebates := decodeBody[[]RebateDTO](t, rec)
	require.Len(t, rebates, 1)
	assert.Equal(t, "5.0000", rebates[0].Amount)

	// WHEN: the day is run again
	rec = a.do(http.MethodPost, "/api/rebates/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[RunResultDTO](t, rec)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

func TestScenario_DailyLosses(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "daily-losses"}).Code)

	rec := a.do(http.MethodGet, "/api/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]LedgerEntryDTO](t, rec)

	byKey := map[[2]int64]string{}
	for _, e := range entries {
		byKey[[2]int64{e.CustomerID, e.GameID}] = e.NetLoss
	}
	assert.Equal(t, "300.0000", byKey[[2]int64{1001, 1}])
	assert.Equal(t, "75.5000", byKey[[2]int64{1001, 2}])
	assert.Equal(t, "0.0000", byKey[[2]int64{1002, 1}])
	assert.Equal(t, "1000.0000", byKey[[2]int64{1002, 2}])
	assert.Equal(t, "0.1000", byKey[[2]int64{1003, 2}])

	rec = a.do(http.MethodPost, "/api/rebates/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[RunResultDTO](t, rec)
	assert.Equal(t, 4, res.Created)
}

func TestScenario_ResetClearsData(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "daily-losses"}).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/scenarios/reset", nil).Code)

	rec := a.do(http.MethodGet, "/api/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]LedgerEntryDTO](t, rec))

	rec = a.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

// =============================================================================
// SCHEDULER JOBS
// =============================================================================

func TestSchedulers_RebateJobRunsClosedDay(t *testing.T) {
	a := newTestAPI(t)
	a.lossAt("100")

	boundary := scheduler.DailyBoundary{Calendar: cal, Offset: 5 * time.Minute}
	firedAt := boundary.Next(cal.AnchorDate(2025, 3, 10).Add(15 * time.Hour))
	require.True(t, firedAt.Equal(cal.AnchorDate(2025, 3, 11).Add(5*time.Minute)))

	// WHEN: the job fires after the 2025-03-11 boundary
	require.NoError(t, RebateJob(a.h, boundary)(context.Background(), firedAt))

	// THEN: the closed day 2025-03-10 was rebated by a scheduled run
	runs, err := a.h.Rebates.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, generic.TriggerScheduled, runs[0].Trigger)
	assert.True(t, runs[0].Day.Equal(cal.AnchorDate(2025, 3, 10)))
	assert.Equal(t, 1, runs[0].Created)
}

func TestSchedulers_ReconcileJob(t *testing.T) {
	a := newTestAPI(t)
	require.NoError(t, ReconcileJob(a.h)(context.Background(), fixedNow))
}

func TestNewSchedulers_OnlyEnabledRunners(t *testing.T) {
	a := newTestAPI(t)

	s := NewSchedulers(a.h, SchedulerConfig{RebateEnabled: true, ReconcileEnabled: true, ReconcileInterval: time.Minute})
	assert.Equal(t, []string{"rebate", "reconcile"}, s.Names())

	s = NewSchedulers(a.h, SchedulerConfig{RebateEnabled: true})
	assert.Equal(t, []string{"rebate"}, s.Names())

	s = NewSchedulers(a.h, SchedulerConfig{})
	assert.Empty(t, s.Names())
	s.Start(context.Background())
	s.Stop()
}
