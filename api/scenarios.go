/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario seeds the customer and game
	directory, then records events or transfers that demonstrate one feature.

AVAILABLE SCENARIOS:

	daily-losses:       Several customers and games with losses and wins yesterday
	transfer-history:   Approved deposits/withdrawals reconciled into the ledger
	settled-correction: Loss 100, rebate run, then edited to win 50 (stays settled)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed customers and games
 3. Record win/loss events through the recorder, or insert transfers
 4. Optionally run the reconciler or the rebate engine

All activity lands on the last closed business day relative to now, so a
manual rebate run without ?day= picks it up.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "settled-correction"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: endpoints used after loading
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/winloss"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "daily-losses",
		Name:        "Daily Losses",
		Description: "Three customers, three games, mixed wins and losses on the last closed day",
	},
	{
		ID:          "transfer-history",
		Name:        "Transfer History",
		Description: "Approved deposits and withdrawals reconciled into ledger entries",
	},
	{
		ID:          "settled-correction",
		Name:        "Settled Correction",
		Description: "Loss 100 rebated at 5%, then corrected to win 50; the rebate stays settled",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "daily-losses":
		load = h.loadDailyLossesScenario
	case "transfer-history":
		load = h.loadTransferHistoryScenario
	case "settled-correction":
		load = h.loadSettledCorrectionScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := h.seedDirectory(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed directory", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var (
	demoCustomers = []generic.Customer{
		{ID: 1001, Name: "Alice Reyes", Enabled: true},
		{ID: 1002, Name: "Ben Santos", Enabled: true},
		{ID: 1003, Name: "Carla Cruz", Enabled: true},
	}
	demoGames = []generic.Game{
		{ID: 1, Name: "Baccarat", Enabled: true},
		{ID: 2, Name: "Roulette", Enabled: true},
		{ID: 3, Name: "Sic Bo (retired)", Enabled: false},
	}
)

func (h *Handler) seedDirectory(ctx context.Context) error {
	for _, c := range demoCustomers {
		if err := h.Store.SaveCustomer(ctx, c); err != nil {
			return err
		}
	}
	for _, g := range demoGames {
		if err := h.Store.SaveGame(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// closedDayAt returns hour (local) of the last closed business day.
func (h *Handler) closedDayAt(hour int) time.Time {
	return h.Calendar.Previous(h.Now()).Add(time.Duration(hour) * time.Hour)
}

func (h *Handler) record(ctx context.Context, customer generic.CustomerID, game generic.GameID, win, loss string, moment time.Time) (*winloss.Result, error) {
	return h.Recorder.Create(ctx, winloss.CreateInput{
		CustomerID: customer,
		GameID:     game,
		WinAmount:  decimal.RequireFromString(win),
		LossAmount: decimal.RequireFromString(loss),
		Moment:     moment,
		ActorID:    "scenario",
	})
}

func (h *Handler) loadDailyLossesScenario(ctx context.Context) error {
	events := []struct {
		customer  generic.CustomerID
		game      generic.GameID
		win, loss string
		hour      int
	}{
		{1001, 1, "0", "250.00", 9},
		{1001, 1, "40.00", "90.00", 14},
		{1001, 2, "0", "75.50", 20},
		{1002, 1, "300.00", "120.00", 11}, // net win, contributes nothing
		{1002, 2, "0", "1000.00", 23},
		{1003, 2, "0", "0.10", 1}, // rebate rounds to 0.0050
	}
	for _, e := range events {
		if _, err := h.record(ctx, e.customer, e.game, e.win, e.loss, h.closedDayAt(e.hour)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadTransferHistoryScenario(ctx context.Context) error {
	now := h.Now()
	transfers := []struct {
		customer generic.CustomerID
		game     generic.GameID
		typ      generic.TransactionType
		status   generic.TransactionStatus
		amount   string
		hour     int
	}{
		{1001, 1, generic.TxDeposit, generic.StatusApproved, "500.00", 8},
		{1001, 1, generic.TxWithdrawal, generic.StatusApproved, "120.00", 22},
		{1002, 2, generic.TxDeposit, generic.StatusApproved, "200.00", 12},
		{1002, 2, generic.TxWithdrawal, generic.StatusApproved, "350.00", 18}, // net win
		{1003, 1, generic.TxDeposit, generic.StatusPending, "900.00", 10},     // ignored until approved
	}
	for _, t := range transfers {
		direction := generic.DirectionDebit
		if t.typ == generic.TxWithdrawal {
			direction = generic.DirectionCredit
		}
		ts := h.closedDayAt(t.hour)
		if err := h.Store.InsertTransaction(ctx, generic.Transaction{
			ID:         generic.TransactionID(uuid.NewString()),
			CustomerID: t.customer,
			GameID:     generic.GamePtr(t.game),
			Type:       t.typ,
			Direction:  direction,
			Status:     t.status,
			Amount:     decimal.RequireFromString(t.amount),
			Notes:      "scenario transfer",
			Timestamp:  ts,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
	}

	_, err := h.Reconciler.RunDay(ctx, h.Calendar.Previous(now))
	return err
}

func (h *Handler) loadSettledCorrectionScenario(ctx context.Context) error {
	day := h.Calendar.Previous(h.Now())

	res, err := h.record(ctx, 1001, 1, "0", "100", h.closedDayAt(15))
	if err != nil {
		return err
	}
	if _, err := h.Rebates.RunForDay(ctx, day, generic.TriggerManual); err != nil {
		return err
	}

	_, err = h.Recorder.Edit(ctx, winloss.EditInput{
		EventID:    res.Event.ID,
		CustomerID: 1001,
		GameID:     1,
		WinAmount:  decimal.RequireFromString("50"),
		LossAmount: decimal.RequireFromString("100"),
		Moment:     res.Event.Moment,
		ActorID:    "scenario",
	})
	return err
}
