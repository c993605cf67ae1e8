/*
Package rebate turns daily net losses into cashback credit transactions.

PURPOSE:
  RunForDay reads the ledger entries of one business day and creates at
  most one rebate transaction per (day, customer, game). Approve and
  Reject move a pending rebate to a terminal state.

EXACTLY-ONCE:
  Each rebate carries Reference(day, customer, game). The existence check
  before insert only saves work; the store's unique reference index is
  what makes concurrent or repeated runs safe. A duplicate insert is
  counted as skipped, never reported as an error.

  Scheduled and manual runs share RunForDay. A rebate that was already
  created stays as it is when the ledger later changes (e.g. an edited
  event): the rerun skips it. Corrections are an operator decision.

STATE MACHINE:
  pending -> approved   (Approve)
  pending -> rejected   (Reject, reason appended to notes)
  Same-state requests are no-op successes; opposite terminal states
  return a TransitionError (409 at the API).

RUN HISTORY:
  Every RunForDay call stores a RebateRun (running -> completed|failed)
  so operators can see scheduled and manual runs side by side.

SEE ALSO:
  - policy.go: Policy, Reference
  - api/scheduler.go: daily boundary runner
*/
package rebate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/logging"
	"github.com/warp/winloss-engine/metrics"
)

// EntityKind is the audit entity kind of rebates.
const EntityKind = "rebate"

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunResult reports the outcome of RunForDay.
type RunResult struct {
	RunID      string
	Day        time.Time
	Created    int
	Skipped    int // already settled
	Ineligible int // entries whose rebate rounds to zero
	Rebates    []generic.Transaction
}

// PreviewLine is a rebate RunForDay would consider, without writing it.
type PreviewLine struct {
	CustomerID generic.CustomerID
	GameID     generic.GameID
	NetLoss    decimal.Decimal
	Amount     decimal.Decimal
	Reference  string
	Settled    bool // a transaction with Reference already exists
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    generic.TxStore
	calendar *generic.BusinessCalendar
	policy   Policy
	notifier generic.Notifier
	logger   *zap.Logger

	Now func() time.Time
}

func NewEngine(store generic.TxStore, calendar *generic.BusinessCalendar, policy Policy, notifier generic.Notifier, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("rebate: nil store")
	}
	if calendar == nil {
		return nil, errors.New("rebate: nil calendar")
	}
	if policy.Approval == "" {
		policy.Approval = ApprovalPending
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = generic.NopNotifier{}
	}
	return &Engine{
		store:    store,
		calendar: calendar,
		policy:   policy,
		notifier: notifier,
		logger:   logging.OrNop(logger).Named("rebate"),
		Now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// RunForDay creates the missing rebates of day.
// Failures on single entries do not stop the run; they are joined into the
// returned error and the run is recorded as failed.
func (e *Engine) RunForDay(ctx context.Context, day time.Time, trigger generic.RunTrigger) (*RunResult, error) {
	if !e.calendar.IsAnchor(day) {
		return nil, &generic.ValidationError{Field: "day", Reason: "not a business day anchor", Err: generic.ErrNotAnchor}
	}
	started := e.Now()
	run := generic.RebateRun{
		ID:        uuid.NewString(),
		Day:       day,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: started,
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save rebate run: %w", err)
	}

	result, runErr := e.runForDay(ctx, day)
	result.RunID = run.ID

	completed := e.Now()
	run.Created, run.Skipped = result.Created, result.Skipped
	run.CompletedAt = &completed
	run.Status = RunCompleted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		e.logger.Warn("failed to record rebate run", zap.String("run_id", run.ID), zap.Error(err))
	}

	metrics.AddRebates(result.Created, result.Skipped)
	metrics.ObserveRebateRun(string(trigger), metrics.Result(runErr), completed.Sub(started))
	e.logger.Info("rebate run finished",
		zap.String("run_id", run.ID),
		zap.String("day", e.calendar.FormatDay(day)),
		zap.String("trigger", string(trigger)),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("ineligible", result.Ineligible),
		zap.Error(runErr))

	if result.Created > 0 {
		ids := make([]string, 0, len(result.Rebates))
		for _, tx := range result.Rebates {
			ids = append(ids, string(tx.ID))
		}
		e.notifier.Notify(ctx, generic.LedgerChange{
			Kind:       "rebate.created",
			Day:        e.calendar.FormatDay(day),
			EntryIDs:   ids,
			OccurredAt: completed,
		})
	}
	return result, runErr
}

func (e *Engine) runForDay(ctx context.Context, day time.Time) (*RunResult, error) {
	result := &RunResult{Day: day}

	entries, err := e.store.ListEntriesByDay(ctx, day)
	if err != nil {
		return result, fmt.Errorf("load ledger entries: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if !entry.NetLoss.IsPositive() {
			continue
		}
		amount := e.policy.Amount(entry.NetLoss)
		if !amount.IsPositive() {
			result.Ineligible++
			continue
		}

		ref := Reference(e.calendar, day, entry.CustomerID, entry.GameID)
		existing, err := e.store.GetTransactionByReference(ctx, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup %s: %w", ref, err))
			continue
		}
		if existing != nil {
			result.Skipped++
			continue
		}

		tx, err := e.create(ctx, entry, amount, ref)
		if errors.Is(err, generic.ErrDuplicateReference) {
			// lost the race against a concurrent run
			result.Skipped++
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("create %s: %w", ref, err))
			continue
		}
		result.Created++
		result.Rebates = append(result.Rebates, *tx)
	}
	return result, errors.Join(errs...)
}

func (e *Engine) create(ctx context.Context, entry generic.LedgerEntry, amount decimal.Decimal, ref string) (*generic.Transaction, error) {
	now := e.Now()
	tx := generic.Transaction{
		ID:         generic.TransactionID(uuid.NewString()),
		CustomerID: entry.CustomerID,
		GameID:     generic.GamePtr(entry.GameID),
		Type:       generic.TxRebate,
		Direction:  generic.DirectionCredit,
		Status:     e.policy.Approval.status(),
		Amount:     amount,
		Reference:  ref,
		Notes: fmt.Sprintf("Rebate %s%% of net loss %s for %s",
			e.policy.Rate.Mul(decimal.NewFromInt(100)).String(),
			entry.NetLoss.StringFixed(generic.MoneyScale),
			e.calendar.FormatDay(entry.Day)),
		Timestamp: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := e.store.WithTx(ctx, func(s generic.Store) error {
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return s.AppendAudit(ctx, generic.AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    "system",
			Action:     generic.AuditCreate,
			EntityKind: EntityKind,
			EntityID:   string(tx.ID),
			After:      rebateSnapshot(tx, entry.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListForDay returns the rebates created for day, ordered by reference.
func (e *Engine) ListForDay(ctx context.Context, day time.Time) ([]generic.Transaction, error) {
	return e.store.ListRebates(ctx, ReferencePrefix(e.calendar, day))
}

// Runs returns the most recent runs, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]generic.RebateRun, error) {
	return e.store.ListRuns(ctx, limit)
}

// Preview computes the rebates of day without writing anything.
func (e *Engine) Preview(ctx context.Context, day time.Time) ([]PreviewLine, error) {
	if !e.calendar.IsAnchor(day) {
		return nil, &generic.ValidationError{Field: "day", Reason: "not a business day anchor", Err: generic.ErrNotAnchor}
	}
	entries, err := e.store.ListEntriesByDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}

	var lines []PreviewLine
	for _, entry := range entries {
		amount := e.policy.Amount(entry.NetLoss)
		if !entry.NetLoss.IsPositive() || !amount.IsPositive() {
			continue
		}
		ref := Reference(e.calendar, day, entry.CustomerID, entry.GameID)
		existing, err := e.store.GetTransactionByReference(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", ref, err)
		}
		lines = append(lines, PreviewLine{
			CustomerID: entry.CustomerID,
			GameID:     entry.GameID,
			NetLoss:    entry.NetLoss,
			Amount:     amount,
			Reference:  ref,
			Settled:    existing != nil,
		})
	}
	return lines, nil
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// Approve moves a pending rebate to approved. Approving an approved rebate is a no-op.
func (e *Engine) Approve(ctx context.Context, id generic.TransactionID, actorID string) (*generic.Transaction, error) {
	return e.transition(ctx, id, generic.StatusApproved, "", actorID)
}

// Reject moves a pending rebate to rejected and appends reason to its notes.
// Rejecting a rejected rebate is a no-op.
func (e *Engine) Reject(ctx context.Context, id generic.TransactionID, reason, actorID string) (*generic.Transaction, error) {
	return e.transition(ctx, id, generic.StatusRejected, reason, actorID)
}

func (e *Engine) transition(ctx context.Context, id generic.TransactionID, to generic.TransactionStatus, reason, actorID string) (*generic.Transaction, error) {
	if actorID == "" {
		actorID = "system"
	}
	var result *generic.Transaction
	changed := false

	err := e.store.WithTx(ctx, func(s generic.Store) error {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if tx == nil {
			return fmt.Errorf("%w: %s", generic.ErrTransactionNotFound, id)
		}
		if tx.Type != generic.TxRebate {
			return fmt.Errorf("%w: %s is a %s", generic.ErrNotRebate, id, tx.Type)
		}
		result = tx

		switch tx.Status {
		case to:
			return nil
		case generic.StatusPending:
		default:
			return &generic.TransitionError{ID: id, From: tx.Status, To: to}
		}

		before := rebateSnapshot(*tx, "")
		now := e.Now()
		notes := tx.Notes
		if to == generic.StatusRejected {
			note := "Rejected"
			if reason != "" {
				note += ": " + reason
			}
			notes = appendNote(notes, note)
		}
		if err := s.UpdateTransactionStatus(ctx, id, to, notes, now); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		tx.Status, tx.Notes, tx.UpdatedAt = to, notes, now

		action := generic.AuditApprove
		if to == generic.StatusRejected {
			action = generic.AuditReject
		}
		changed = true
		return s.AppendAudit(ctx, generic.AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    actorID,
			Action:     action,
			EntityKind: EntityKind,
			EntityID:   string(id),
			Before:     before,
			After:      rebateSnapshot(*tx, ""),
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.IncRebateTransition(string(to))
		e.logger.Info("rebate status changed",
			zap.String("transaction_id", string(id)),
			zap.String("status", string(to)),
			zap.String("actor", actorID))
		change := generic.LedgerChange{
			Kind:       "rebate.status",
			CustomerID: int64(result.CustomerID),
			EntryIDs:   []string{string(id)},
			OccurredAt: e.Now(),
		}
		if result.GameID != nil {
			change.GameID = int64(*result.GameID)
		}
		e.notifier.Notify(ctx, change)
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func rebateSnapshot(tx generic.Transaction, entryID generic.EntryID) map[string]any {
	snap := map[string]any{
		"customer_id": int64(tx.CustomerID),
		"status":      string(tx.Status),
		"amount":      tx.Amount.StringFixed(generic.MoneyScale),
		"reference":   tx.Reference,
		"notes":       tx.Notes,
	}
	if tx.GameID != nil {
		snap["game_id"] = int64(*tx.GameID)
	}
	if entryID != "" {
		snap["ledger_entry_id"] = string(entryID)
	}
	return snap
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
