/*
handlers.go - HTTP API handlers for the win/loss ledger and rebate engine

PURPOSE:
  Exposes the recorder, reconciler and rebate engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Win/loss events:
    POST   /api/winloss                 Record an event
    PUT    /api/winloss/{id}            Edit an event (moves its contribution)
    GET    /api/winloss/{id}            Get an event

  Ledger:
    GET    /api/ledger?day=             Entries of a business day
    GET    /api/ledger/{customer}/{game}?day=  One entry
    POST   /api/reconcile[?day=]        Rebuild entries from approved transfers

  Rebates:
    POST   /api/rebates/run?day=        Create the missing rebates of a day
    GET    /api/rebates?day=            Rebates of a day
    GET    /api/rebates/preview?day=    Dry run
    POST   /api/rebates/{id}/approve    Pending -> approved
    POST   /api/rebates/{id}/reject     Pending -> rejected
    GET    /api/rebates/runs            Run history
    GET    /api/rebates/export.xlsx?day=  Daily report (excel)
    GET    /api/rebates/export.pdf?day=   Daily report (pdf)

  Other:
    GET    /api/audit                   Audit trail
    GET    /api/stream                  Server-sent ledger changes
    GET    /healthz                     Liveness + store ping

DAYS:
  Every ?day= is a YYYY-MM-DD business date in the business timezone.
  When omitted it defaults to the last closed business day (yesterday).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (approve a rejected rebate and vice versa)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - stream.go: SSE broker
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/logging"
	"github.com/warp/winloss-engine/metrics"
	"github.com/warp/winloss-engine/rebate"
	"github.com/warp/winloss-engine/reconcile"
	"github.com/warp/winloss-engine/report"
	"github.com/warp/winloss-engine/winloss"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence: the engine contract plus
// the seeding operations used by demo scenarios.
type Store interface {
	generic.TxStore
	SaveCustomer(ctx context.Context, c generic.Customer) error
	SaveGame(ctx context.Context, g generic.Game) error
	Reset(ctx context.Context) error
}

// Options configures the components built by NewHandler.
type Options struct {
	Policy     rebate.Policy
	Precedence reconcile.Precedence
	Logger     *zap.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Store      Store
	Calendar   *generic.BusinessCalendar
	Recorder   *winloss.Recorder
	Reconciler *reconcile.Reconciler
	Rebates    *rebate.Engine
	Broker     *Broker
	Logger     *zap.Logger
	Now        func() time.Time

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler wires the recorder, reconciler and rebate engine on store.
// Every component publishes its changes to the handler's SSE broker.
func NewHandler(store Store, cal *generic.BusinessCalendar, opts Options) (*Handler, error) {
	logger := logging.OrNop(opts.Logger)
	broker := NewBroker()

	recorder, err := winloss.NewRecorder(store, cal, broker, logger)
	if err != nil {
		return nil, err
	}
	reconciler, err := reconcile.NewReconciler(store, cal, opts.Precedence, broker, logger)
	if err != nil {
		return nil, err
	}
	engine, err := rebate.NewEngine(store, cal, opts.Policy, broker, logger)
	if err != nil {
		return nil, err
	}

	return &Handler{
		Store:      store,
		Calendar:   cal,
		Recorder:   recorder,
		Reconciler: reconciler,
		Rebates:    engine,
		Broker:     broker,
		Logger:     logger.Named("api"),
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// =============================================================================
// WIN/LOSS ENDPOINTS
// =============================================================================

// CreateWinLoss records a new event.
func (h *Handler) CreateWinLoss(w http.ResponseWriter, r *http.Request) {
	var req WinLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	win, loss, moment, err := h.parseWinLoss(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid win/loss event", err)
		return
	}

	res, err := h.Recorder.Create(r.Context(), winloss.CreateInput{
		CustomerID: generic.CustomerID(req.CustomerID),
		GameID:     generic.GameID(req.GameID),
		WinAmount:  win,
		LossAmount: loss,
		Moment:     moment,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.writeAppError(w, "Failed to record win/loss", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResultDTO(h.Calendar, res))
}

// EditWinLoss replaces an event's values and moves its ledger contribution.
func (h *Handler) EditWinLoss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req WinLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	win, loss, moment, err := h.parseWinLoss(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid win/loss event", err)
		return
	}

	res, err := h.Recorder.Edit(r.Context(), winloss.EditInput{
		EventID:    generic.EventID(id),
		CustomerID: generic.CustomerID(req.CustomerID),
		GameID:     generic.GameID(req.GameID),
		WinAmount:  win,
		LossAmount: loss,
		Moment:     moment,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.writeAppError(w, "Failed to edit win/loss", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResultDTO(h.Calendar, res))
}

// GetWinLoss returns one event.
func (h *Handler) GetWinLoss(w http.ResponseWriter, r *http.Request) {
	event, err := h.Recorder.Get(r.Context(), generic.EventID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeAppError(w, "Failed to get win/loss event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(h.Calendar, *event))
}

// parseWinLoss converts the wire amounts. A missing moment means now.
func (h *Handler) parseWinLoss(req WinLossRequest) (decimal.Decimal, decimal.Decimal, time.Time, error) {
	win, err := parseAmount("win_amount", req.WinAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, time.Time{}, err
	}
	loss, err := parseAmount("loss_amount", req.LossAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, time.Time{}, err
	}
	moment := h.Now()
	if req.Moment != "" {
		moment, err = time.Parse(time.RFC3339, req.Moment)
		if err != nil {
			return decimal.Zero, decimal.Zero, time.Time{}, &generic.ValidationError{Field: "moment", Reason: "expected RFC3339 timestamp"}
		}
	}
	return win, loss, moment.UTC(), nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &generic.ValidationError{Field: field, Reason: fmt.Sprintf("not a decimal: %q", s)}
	}
	return d, nil
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// ListLedger returns the entries of a business day.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	day, err := h.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}

	entries, err := generic.NewLedger(h.Store, h.Calendar).EntriesForDay(r.Context(), day)
	if err != nil {
		h.writeAppError(w, "Failed to list ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(h.Calendar, e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLedgerEntry returns the entry of one (customer, game, day).
func (h *Handler) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	customerID, err := int64Param(r, "customer")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return
	}
	gameID, err := int64Param(r, "game")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid game id", err)
		return
	}
	day, err := h.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}

	entry, err := generic.NewLedger(h.Store, h.Calendar).Entry(r.Context(), generic.LedgerKey{
		CustomerID: generic.CustomerID(customerID),
		GameID:     generic.GameID(gameID),
		Day:        day,
	})
	if err != nil {
		h.writeAppError(w, "Failed to get ledger entry", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Ledger entry not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTO(h.Calendar, *entry))
}

// Reconcile rebuilds ledger entries from approved transfers. With ?day= it
// reconciles that day only; otherwise yesterday and today.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var (
		summary *reconcile.Summary
		err     error
	)
	if r.URL.Query().Get("day") != "" {
		day, perr := h.dayParam(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid day", perr)
			return
		}
		summary, err = h.Reconciler.RunDay(r.Context(), day)
	} else {
		summary, err = h.Reconciler.Run(r.Context(), h.Now())
	}
	if err != nil {
		h.writeAppError(w, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileSummaryDTO(h.Calendar, h.Reconciler.Precedence(), summary))
}

// =============================================================================
// REBATE ENDPOINTS
// =============================================================================

// RunRebates creates the missing rebates of a day.
func (h *Handler) RunRebates(w http.ResponseWriter, r *http.Request) {
	day, err := h.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}

	result, err := h.Rebates.RunForDay(r.Context(), day, generic.TriggerManual)
	if err != nil {
		h.writeAppError(w, "Rebate run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(h.Calendar, result))
}

// ListRebates returns the rebates of a day.
func (h *Handler) ListRebates(w http.ResponseWriter, r *http.Request) {
	day, err := h.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}
	txs, err := h.Rebates.ListForDay(r.Context(), day)
	if err != nil {
		h.writeAppError(w, "Failed to list rebates", err)
		return
	}
	writeJSON(w, http.StatusOK, toRebateDTOs(txs))
}

// PreviewRebates computes the rebates of a day without writing.
func (h *Handler) PreviewRebates(w http.ResponseWriter, r *http.Request) {
	day, err := h.dayParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}
	lines, err := h.Rebates.Preview(r.Context(), day)
	if err != nil {
		h.writeAppError(w, "Failed to preview rebates", err)
		return
	}
	dtos := make([]PreviewLineDTO, 0, len(lines))
	for _, l := range lines {
		dtos = append(dtos, toPreviewLineDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveRebate moves a pending rebate to approved.
func (h *Handler) ApproveRebate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ApproveRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	tx, err := h.Rebates.Approve(r.Context(), generic.TransactionID(id), req.ActorID)
	if err != nil {
		h.writeAppError(w, "Failed to approve rebate", err)
		return
	}
	writeJSON(w, http.StatusOK, toRebateDTO(*tx))
}

// RejectRebate moves a pending rebate to rejected.
func (h *Handler) RejectRebate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RejectRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	tx, err := h.Rebates.Reject(r.Context(), generic.TransactionID(id), req.Reason, req.ActorID)
	if err != nil {
		h.writeAppError(w, "Failed to reject rebate", err)
		return
	}
	writeJSON(w, http.StatusOK, toRebateDTO(*tx))
}

// ListRuns returns the rebate run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
		limit = n
	}

	runs, err := h.Rebates.Runs(r.Context(), limit)
	if err != nil {
		h.writeAppError(w, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(h.Calendar, run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportXLSX streams the daily rebate report as an excel workbook.
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", xlsxContentType, report.BuildXLSX)
}

// ExportPDF streams the daily rebate report as a PDF.
func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", report.BuildPDF)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func(report.Daily) ([]byte, error)) {
	day, err := h.dayParam(r)
	if err != nil {
		metrics.IncExport(format, metrics.ResultError)
		writeError(w, http.StatusBadRequest, "Invalid day", err)
		return
	}

	txs, err := h.Rebates.ListForDay(r.Context(), day)
	if err != nil {
		metrics.IncExport(format, metrics.ResultError)
		h.writeAppError(w, "Failed to load rebates", err)
		return
	}

	data, err := build(report.NewDaily(h.Calendar, day, h.Rebates.Policy().Rate, txs, h.Now()))
	if err != nil {
		metrics.IncExport(format, metrics.ResultError)
		h.writeAppError(w, "Failed to build report", err)
		return
	}
	metrics.IncExport(format, metrics.ResultSuccess)

	filename := fmt.Sprintf("rebates-%s.%s", h.Calendar.FormatDay(day), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// =============================================================================
// AUDIT + HEALTH
// =============================================================================

// AuditEntryDTO represents an audit entry in API responses.
type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
}

// ListAudit returns audit entries, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AuditFilter{
		EntityKind: q.Get("entity_kind"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Limit:      100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeAppError(w, "Failed to query audit log", err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditEntryDTO{
			ID:         e.ID,
			Timestamp:  e.Timestamp,
			ActorID:    e.ActorID,
			Action:     string(e.Action),
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			Before:     e.Before,
			After:      e.After,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness. Stores that can ping are pinged.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"timezone": h.Calendar.Location().String(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// dayParam parses ?day=YYYY-MM-DD; the default is the last closed business day.
func (h *Handler) dayParam(r *http.Request) (time.Time, error) {
	s := strings.TrimSpace(r.URL.Query().Get("day"))
	if s == "" {
		return h.Calendar.Previous(h.Now()), nil
	}
	return h.Calendar.ParseDay(s)
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeAppError maps domain errors to HTTP status codes.
func (h *Handler) writeAppError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
