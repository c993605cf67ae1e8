/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract. Money crosses the wire
  as decimal strings with 4 places so clients never see float rounding.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Win/loss:
    WinLossRequest, EventDTO, RecordResultDTO

  Ledger:
    LedgerEntryDTO, ReconcileSummaryDTO

  Rebates:
    RebateDTO, RunResultDTO, RunDTO, PreviewLineDTO, RejectRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and components, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/rebate"
	"github.com/warp/winloss-engine/reconcile"
	"github.com/warp/winloss-engine/winloss"
)

// =============================================================================
// WIN/LOSS
// =============================================================================

// WinLossRequest is the body of POST /api/winloss and PUT /api/winloss/{id}.
// Amounts are decimal strings; Moment is RFC3339 and defaults to now.
type WinLossRequest struct {
	CustomerID int64  `json:"customer_id"`
	GameID     int64  `json:"game_id"`
	WinAmount  string `json:"win_amount"`
	LossAmount string `json:"loss_amount"`
	Moment     string `json:"moment,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
}

// EventDTO represents a win/loss event in API responses.
type EventDTO struct {
	ID         string    `json:"id"`
	CustomerID int64     `json:"customer_id"`
	GameID     int64     `json:"game_id"`
	WinAmount  string    `json:"win_amount"`
	LossAmount string    `json:"loss_amount"`
	NetLoss    string    `json:"net_loss"`
	Moment     time.Time `json:"moment"`
	Day        string    `json:"day"`
	CreatedBy  string    `json:"created_by,omitempty"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RecordResultDTO is returned by create and edit.
type RecordResultDTO struct {
	Event           EventDTO `json:"event"`
	Delta           string   `json:"delta"`
	EntryID         string   `json:"entry_id,omitempty"`
	PreviousDelta   string   `json:"previous_delta,omitempty"`
	PreviousEntryID string   `json:"previous_entry_id,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerEntryDTO struct {
	ID         string    `json:"id"`
	CustomerID int64     `json:"customer_id"`
	GameID     int64     `json:"game_id"`
	Day        string    `json:"day"`
	Total      string    `json:"total"`
	NetLoss    string    `json:"net_loss"`
	Source     string    `json:"source"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ReconcileSummaryDTO struct {
	Days        []string `json:"days"`
	Precedence  string   `json:"precedence"`
	Groups      int      `json:"groups"`
	Overwritten int      `json:"overwritten"`
	Preserved   int      `json:"preserved"`
	Unchanged   int      `json:"unchanged"`
}

// =============================================================================
// REBATES
// =============================================================================

type RebateDTO struct {
	ID         string    `json:"id"`
	CustomerID int64     `json:"customer_id"`
	GameID     *int64    `json:"game_id,omitempty"`
	Amount     string    `json:"amount"`
	Status     string    `json:"status"`
	Reference  string    `json:"reference"`
	Notes      string    `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type RunResultDTO struct {
	RunID      string      `json:"run_id"`
	Day        string      `json:"day"`
	Created    int         `json:"created"`
	Skipped    int         `json:"skipped"`
	Ineligible int         `json:"ineligible"`
	Rebates    []RebateDTO `json:"rebates"`
}

type RunDTO struct {
	ID          string     `json:"id"`
	Day         string     `json:"day"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	Created     int        `json:"created"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type PreviewLineDTO struct {
	CustomerID int64  `json:"customer_id"`
	GameID     int64  `json:"game_id"`
	NetLoss    string `json:"net_loss"`
	Amount     string `json:"amount"`
	Reference  string `json:"reference"`
	Settled    bool   `json:"settled"`
}

// RejectRequest is the optional body of POST /api/rebates/{id}/reject.
type RejectRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

// ApproveRequest is the optional body of POST /api/rebates/{id}/approve.
type ApproveRequest struct {
	ActorID string `json:"actor_id"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(generic.MoneyScale) }

func toEventDTO(cal *generic.BusinessCalendar, e generic.WinLossEvent) EventDTO {
	return EventDTO{
		ID:         string(e.ID),
		CustomerID: int64(e.CustomerID),
		GameID:     int64(e.GameID),
		WinAmount:  money(e.WinAmount),
		LossAmount: money(e.LossAmount),
		NetLoss:    money(e.Delta()),
		Moment:     e.Moment,
		Day:        cal.FormatDay(e.Day),
		CreatedBy:  e.CreatedBy,
		UpdatedBy:  e.UpdatedBy,
		UpdatedAt:  e.UpdatedAt,
	}
}

func toRecordResultDTO(cal *generic.BusinessCalendar, res *winloss.Result) RecordResultDTO {
	dto := RecordResultDTO{
		Event:   toEventDTO(cal, res.Event),
		Delta:   money(res.Delta),
		EntryID: string(res.EntryID),
	}
	if res.PreviousEntryID != "" {
		dto.PreviousDelta = money(res.PreviousDelta)
		dto.PreviousEntryID = string(res.PreviousEntryID)
	}
	return dto
}

func toLedgerEntryDTO(cal *generic.BusinessCalendar, e generic.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:         string(e.ID),
		CustomerID: int64(e.CustomerID),
		GameID:     int64(e.GameID),
		Day:        cal.FormatDay(e.Day),
		Total:      money(e.Total),
		NetLoss:    money(e.NetLoss),
		Source:     string(e.Source),
		UpdatedAt:  e.UpdatedAt,
	}
}

func toReconcileSummaryDTO(cal *generic.BusinessCalendar, p reconcile.Precedence, s *reconcile.Summary) ReconcileSummaryDTO {
	days := make([]string, 0, len(s.Days))
	for _, d := range s.Days {
		days = append(days, cal.FormatDay(d))
	}
	return ReconcileSummaryDTO{
		Days:        days,
		Precedence:  string(p),
		Groups:      s.Groups,
		Overwritten: s.Overwritten,
		Preserved:   s.Preserved,
		Unchanged:   s.Unchanged,
	}
}

func toRebateDTO(tx generic.Transaction) RebateDTO {
	dto := RebateDTO{
		ID:         string(tx.ID),
		CustomerID: int64(tx.CustomerID),
		Amount:     money(tx.Amount),
		Status:     string(tx.Status),
		Reference:  tx.Reference,
		Notes:      tx.Notes,
		Timestamp:  tx.Timestamp,
		UpdatedAt:  tx.UpdatedAt,
	}
	if tx.GameID != nil {
		g := int64(*tx.GameID)
		dto.GameID = &g
	}
	return dto
}

func toRebateDTOs(txs []generic.Transaction) []RebateDTO {
	out := make([]RebateDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toRebateDTO(tx))
	}
	return out
}

func toRunResultDTO(cal *generic.BusinessCalendar, r *rebate.RunResult) RunResultDTO {
	return RunResultDTO{
		RunID:      r.RunID,
		Day:        cal.FormatDay(r.Day),
		Created:    r.Created,
		Skipped:    r.Skipped,
		Ineligible: r.Ineligible,
		Rebates:    toRebateDTOs(r.Rebates),
	}
}

func toRunDTO(cal *generic.BusinessCalendar, r generic.RebateRun) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Day:         cal.FormatDay(r.Day),
		Trigger:     string(r.Trigger),
		Status:      r.Status,
		Created:     r.Created,
		Skipped:     r.Skipped,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func toPreviewLineDTO(l rebate.PreviewLine) PreviewLineDTO {
	return PreviewLineDTO{
		CustomerID: int64(l.CustomerID),
		GameID:     int64(l.GameID),
		NetLoss:    money(l.NetLoss),
		Amount:     money(l.Amount),
		Reference:  l.Reference,
		Settled:    l.Settled,
	}
}
