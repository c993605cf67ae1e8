/*
Package winloss records win/loss events and keeps the ledger in step with them.

PURPOSE:
  The Recorder is the only writer of win/loss events. Every create or edit
  lands in the ledger through Accumulate/Reverse inside the same database
  transaction as the event row and its audit entry.

EVENT LIFECYCLE:
  Created -> Edited* (edits may recur; events are never deleted)

CREATE:
  1. Validate amounts, customer, game (exists and enabled)
  2. day   = Calendar.Anchor(moment)
  3. delta = NetLoss(win, loss)
  4. Save event, Accumulate(customer, game, day, delta), append audit
  Steps in 4 are one WithTx.

EDIT:
  1. Validate the new values; the event must exist
  2. Reverse the stored delta from the stored (customer, game, day)
  3. Overwrite the event, Accumulate the new delta at the new key
  4. Audit with before/after snapshots and both ledger entry ids
  Steps 2-4 are one WithTx. Reverse-then-accumulate is used even when
  the key does not change so a moved event never leaves residue behind.

NOTIFICATIONS:
  A LedgerChange is published after commit, never inside the transaction.
  Publishing is best effort.

SEE ALSO:
  - generic/ledger.go: Accumulate / Reverse
  - api/handlers.go: HTTP surface
*/
package winloss

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

// EntityKind is the audit entity kind of win/loss events.
const EntityKind = "winloss_event"

const systemActor = "system"

// =============================================================================
// INPUTS / RESULTS
// =============================================================================

type CreateInput struct {
	CustomerID generic.CustomerID
	GameID     generic.GameID
	WinAmount  decimal.Decimal
	LossAmount decimal.Decimal
	Moment     time.Time
	ActorID    string
}

type EditInput struct {
	EventID    generic.EventID
	CustomerID generic.CustomerID
	GameID     generic.GameID
	WinAmount  decimal.Decimal
	LossAmount decimal.Decimal
	Moment     time.Time
	ActorID    string
}

// Result describes a committed create or edit.
type Result struct {
	Event   generic.WinLossEvent
	Delta   decimal.Decimal
	EntryID generic.EntryID

	// Edit only. PreviousEntryID is empty when there was nothing to reverse.
	PreviousDelta   decimal.Decimal
	PreviousEntryID generic.EntryID
}

// =============================================================================
// RECORDER
// =============================================================================

type Recorder struct {
	store    generic.TxStore
	calendar *generic.BusinessCalendar
	notifier generic.Notifier
	logger   *zap.Logger

	Now func() time.Time
}

func NewRecorder(store generic.TxStore, calendar *generic.BusinessCalendar, notifier generic.Notifier, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("winloss: nil store")
	}
	if calendar == nil {
		return nil, errors.New("winloss: nil calendar")
	}
	if notifier == nil {
		notifier = generic.NopNotifier{}
	}
	return &Recorder{
		store:    store,
		calendar: calendar,
		notifier: notifier,
		logger:   logging.OrNop(logger).Named("winloss"),
		Now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns the event with id.
func (r *Recorder) Get(ctx context.Context, id generic.EventID) (*generic.WinLossEvent, error) {
	event, err := r.store.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if event == nil {
		return nil, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return event, nil
}

// Create records a new event and accumulates its delta.
func (r *Recorder) Create(ctx context.Context, in CreateInput) (*Result, error) {
	if err := validateAmounts(in.WinAmount, in.LossAmount, in.Moment); err != nil {
		r.fail("create", err)
		return nil, err
	}

	now := r.Now()
	event := generic.WinLossEvent{
		ID:         generic.EventID(uuid.NewString()),
		CustomerID: in.CustomerID,
		GameID:     in.GameID,
		WinAmount:  in.WinAmount,
		LossAmount: in.LossAmount,
		Moment:     in.Moment.UTC(),
		Day:        r.calendar.Anchor(in.Moment),
		CreatedAt:  now,
		CreatedBy:  actorOr(in.ActorID),
		UpdatedAt:  now,
		UpdatedBy:  actorOr(in.ActorID),
	}
	result := &Result{Event: event, Delta: event.Delta()}

	err := r.store.WithTx(ctx, func(tx generic.Store) error {
		if err := validateDirectory(ctx, tx, in.CustomerID, in.GameID); err != nil {
			return err
		}
		if err := tx.SaveEvent(ctx, event); err != nil {
			return fmt.Errorf("save event: %w", err)
		}

		entry, err := r.ledger(tx).Accumulate(ctx, keyOf(event), result.Delta)
		if err != nil {
			return err
		}
		result.EntryID = entry.ID

		after := snapshot(r.calendar, event)
		after["delta"] = result.Delta.StringFixed(generic.MoneyScale)
		after["ledger_entry_id"] = string(entry.ID)
		return tx.AppendAudit(ctx, generic.AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    event.CreatedBy,
			Action:     generic.AuditCreate,
			EntityKind: EntityKind,
			EntityID:   string(event.ID),
			After:      after,
		})
	})
	if err != nil {
		r.fail("create", err)
		return nil, err
	}

	metrics.IncEventRecorded("create")
	r.logger.Info("win/loss event recorded",
		zap.String("event_id", string(event.ID)),
		zap.Int64("customer_id", int64(event.CustomerID)),
		zap.Int64("game_id", int64(event.GameID)),
		zap.String("day", r.calendar.FormatDay(event.Day)),
		zap.String("delta", result.Delta.String()))
	r.notify(ctx, "winloss.created", event, result.EntryID)
	return result, nil
}

// Edit replaces an event's values and moves its ledger contribution.
func (r *Recorder) Edit(ctx context.Context, in EditInput) (*Result, error) {
	if err := validateAmounts(in.WinAmount, in.LossAmount, in.Moment); err != nil {
		r.fail("edit", err)
		return nil, err
	}

	now := r.Now()
	result := &Result{}

	err := r.store.WithTx(ctx, func(tx generic.Store) error {
		old, err := tx.GetEvent(ctx, in.EventID)
		if err != nil {
			return fmt.Errorf("load event: %w", err)
		}
		if old == nil {
			return fmt.Errorf("%w: %s", generic.ErrEventNotFound, in.EventID)
		}
		if err := validateDirectory(ctx, tx, in.CustomerID, in.GameID); err != nil {
			return err
		}

		ledger := r.ledger(tx)
		result.PreviousDelta = old.Delta()
		reversed, err := ledger.Reverse(ctx, keyOf(*old), result.PreviousDelta)
		if err != nil {
			return err
		}
		if reversed != nil {
			result.PreviousEntryID = reversed.ID
		}

		updated := *old
		updated.CustomerID = in.CustomerID
		updated.GameID = in.GameID
		updated.WinAmount = in.WinAmount
		updated.LossAmount = in.LossAmount
		updated.Moment = in.Moment.UTC()
		updated.Day = r.calendar.Anchor(in.Moment)
		updated.UpdatedAt = now
		updated.UpdatedBy = actorOr(in.ActorID)
		if err := tx.SaveEvent(ctx, updated); err != nil {
			return fmt.Errorf("save event: %w", err)
		}

		result.Event = updated
		result.Delta = updated.Delta()
		entry, err := ledger.Accumulate(ctx, keyOf(updated), result.Delta)
		if err != nil {
			return err
		}
		result.EntryID = entry.ID

		before := snapshot(r.calendar, *old)
		before["delta"] = result.PreviousDelta.StringFixed(generic.MoneyScale)
		before["ledger_entry_id"] = string(result.PreviousEntryID)
		after := snapshot(r.calendar, updated)
		after["delta"] = result.Delta.StringFixed(generic.MoneyScale)
		after["ledger_entry_id"] = string(entry.ID)
		return tx.AppendAudit(ctx, generic.AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    updated.UpdatedBy,
			Action:     generic.AuditEdit,
			EntityKind: EntityKind,
			EntityID:   string(updated.ID),
			Before:     before,
			After:      after,
		})
	})
	if err != nil {
		r.fail("edit", err)
		return nil, err
	}

	metrics.IncEventRecorded("edit")
	r.logger.Info("win/loss event edited",
		zap.String("event_id", string(result.Event.ID)),
		zap.String("previous_entry_id", string(result.PreviousEntryID)),
		zap.String("entry_id", string(result.EntryID)),
		zap.String("previous_delta", result.PreviousDelta.String()),
		zap.String("delta", result.Delta.String()))
	r.notify(ctx, "winloss.edited", result.Event, result.EntryID, result.PreviousEntryID)
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Recorder) ledger(tx generic.Store) *generic.Ledger {
	l := generic.NewLedger(tx, r.calendar)
	l.Now = r.Now
	return l
}

func (r *Recorder) notify(ctx context.Context, kind string, e generic.WinLossEvent, entryIDs ...generic.EntryID) {
	change := generic.LedgerChange{
		Kind:       kind,
		CustomerID: int64(e.CustomerID),
		GameID:     int64(e.GameID),
		Day:        r.calendar.FormatDay(e.Day),
		OccurredAt: r.Now(),
	}
	for _, id := range entryIDs {
		if id != "" {
			change.EntryIDs = append(change.EntryIDs, string(id))
		}
	}
	r.notifier.Notify(ctx, change)
}

func (r *Recorder) fail(op string, err error) {
	reason := "store"
	switch {
	case generic.IsClientError(err):
		reason = "validation"
	case generic.IsNotFound(err):
		reason = "not_found"
	}
	metrics.IncEventError(op, reason)
	if reason == "store" {
		r.logger.Error("win/loss write failed", zap.String("op", op), zap.Error(err))
	}
}

func validateAmounts(win, loss decimal.Decimal, moment time.Time) error {
	if win.IsNegative() {
		return &generic.ValidationError{Field: "win_amount", Reason: "must not be negative", Err: generic.ErrNegativeAmount}
	}
	if loss.IsNegative() {
		return &generic.ValidationError{Field: "loss_amount", Reason: "must not be negative", Err: generic.ErrNegativeAmount}
	}
	if moment.IsZero() {
		return &generic.ValidationError{Field: "moment", Reason: "is required"}
	}
	return nil
}

func validateDirectory(ctx context.Context, dir generic.Directory, customerID generic.CustomerID, gameID generic.GameID) error {
	customer, err := dir.GetCustomer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return &generic.ValidationError{Field: "customer_id", Reason: fmt.Sprintf("customer %d does not exist", customerID), Err: generic.ErrCustomerNotFound}
	}

	game, err := dir.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("load game: %w", err)
	}
	if game == nil {
		return &generic.ValidationError{Field: "game_id", Reason: fmt.Sprintf("game %d does not exist", gameID), Err: generic.ErrGameNotFound}
	}
	if !game.Enabled {
		return &generic.ValidationError{Field: "game_id", Reason: fmt.Sprintf("game %d is disabled", gameID), Err: generic.ErrGameDisabled}
	}
	return nil
}

func keyOf(e generic.WinLossEvent) generic.LedgerKey {
	return generic.LedgerKey{CustomerID: e.CustomerID, GameID: e.GameID, Day: e.Day}
}

func snapshot(cal *generic.BusinessCalendar, e generic.WinLossEvent) map[string]any {
	return map[string]any{
		"customer_id": int64(e.CustomerID),
		"game_id":     int64(e.GameID),
		"win_amount":  e.WinAmount.String(),
		"loss_amount": e.LossAmount.String(),
		"moment":      e.Moment.Format(time.RFC3339Nano),
		"day":         cal.FormatDay(e.Day),
	}
}

func actorOr(actor string) string {
	if actor == "" {
		return systemActor
	}
	return actor
}
