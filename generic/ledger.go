/*
ledger.go - Per-(customer, game, business day) win/loss accumulators

PURPOSE:
  The Ledger holds exactly one entry per customer, game and business day.
  Each entry carries the accumulated rebate-eligible net loss for that day.
  Rebates are computed from these entries, never from raw events.

WRITE MODES:
  Accumulate: add a (non-negative) delta; create the entry on first use.
  Reverse:    subtract a delta previously accumulated; floor at zero.
  Overwrite:  replace the values outright (reconciliation only).

  Accumulate and Reverse are the recorder's write mode; Overwrite is the
  reconciler's. The entry's Source remembers which mode wrote it last so
  the reconciler can apply its precedence rule (see reconcile package).

ATOMICITY:
  Every operation is a single-entry read-modify-write. Callers MUST run
  it on a Store handed out by TxStore.WithTx so the read and the write
  happen inside one database transaction.

CORRECTIONS:
  An edited event is never re-applied as a net difference. Its old delta
  is reversed from wherever it landed and its new delta is accumulated
  wherever it now belongs; the two entries may differ.

EXAMPLE FLOW:
  1. Loss 100 on day D:        Accumulate(+100)  -> net loss 100
  2. Edit to win 50, loss 100: Reverse(100)      -> 0
                               Accumulate(+50)   -> 50

SEE ALSO:
  - store.go: LedgerStore persistence interface
  - winloss/recorder.go: Accumulate / Reverse caller
  - reconcile/reconciler.go: Overwrite caller
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger applies write modes to ledger entries on a LedgerStore.
type Ledger struct {
	Store    LedgerStore
	Calendar *BusinessCalendar
	Now      func() time.Time
}

// NewLedger binds a ledger to store. Use the Store passed to WithTx.
func NewLedger(store LedgerStore, calendar *BusinessCalendar) *Ledger {
	return &Ledger{Store: store, Calendar: calendar, Now: func() time.Time { return time.Now().UTC() }}
}

// Entry returns the entry for key, or nil if none exists.
func (l *Ledger) Entry(ctx context.Context, key LedgerKey) (*LedgerEntry, error) {
	return l.Store.GetEntry(ctx, key)
}

// EntryByID returns the entry with id, or nil.
func (l *Ledger) EntryByID(ctx context.Context, id EntryID) (*LedgerEntry, error) {
	return l.Store.GetEntryByID(ctx, id)
}

// EntriesForDay returns every entry anchored at day.
func (l *Ledger) EntriesForDay(ctx context.Context, day time.Time) ([]LedgerEntry, error) {
	if err := l.checkAnchor(day); err != nil {
		return nil, err
	}
	return l.Store.ListEntriesByDay(ctx, day)
}

// Accumulate adds delta to both total and net loss, creating the entry if needed.
// delta must already be floored at zero by the caller.
func (l *Ledger) Accumulate(ctx context.Context, key LedgerKey, delta decimal.Decimal) (*LedgerEntry, error) {
	if err := l.checkAnchor(key.Day); err != nil {
		return nil, err
	}
	if delta.IsNegative() {
		return nil, &ValidationError{Field: "delta", Reason: "accumulate requires a non-negative delta", Err: ErrNegativeAmount}
	}

	entry, err := l.Store.GetEntry(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	now := l.Now()

	if entry == nil {
		created := LedgerEntry{
			ID:         EntryID(uuid.NewString()),
			CustomerID: key.CustomerID,
			GameID:     key.GameID,
			Day:        key.Day,
			Total:      RoundMoney(delta),
			NetLoss:    RoundMoney(delta),
			Source:     SourceRecorder,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := l.Store.InsertEntry(ctx, created); err != nil {
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
		return &created, nil
	}

	entry.Total = RoundMoney(entry.Total.Add(delta))
	entry.NetLoss = RoundMoney(entry.NetLoss.Add(delta))
	entry.Source = SourceRecorder
	entry.UpdatedAt = now
	if err := l.Store.UpdateEntry(ctx, *entry); err != nil {
		return nil, fmt.Errorf("update ledger entry: %w", err)
	}
	return entry, nil
}

// Reverse subtracts delta from an existing entry, flooring both fields at zero.
// Returns (nil, nil) when there is no entry to reverse.
func (l *Ledger) Reverse(ctx context.Context, key LedgerKey, delta decimal.Decimal) (*LedgerEntry, error) {
	if err := l.checkAnchor(key.Day); err != nil {
		return nil, err
	}

	entry, err := l.Store.GetEntry(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	entry.Total = FloorZero(RoundMoney(entry.Total.Sub(delta)))
	entry.NetLoss = FloorZero(RoundMoney(entry.NetLoss.Sub(delta)))
	entry.Source = SourceRecorder
	entry.UpdatedAt = l.Now()
	if err := l.Store.UpdateEntry(ctx, *entry); err != nil {
		return nil, fmt.Errorf("update ledger entry: %w", err)
	}
	return entry, nil
}

// Overwrite creates or replaces the entry's values.
func (l *Ledger) Overwrite(ctx context.Context, key LedgerKey, total, netLoss decimal.Decimal) (*LedgerEntry, error) {
	if err := l.checkAnchor(key.Day); err != nil {
		return nil, err
	}

	entry, err := l.Store.GetEntry(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	now := l.Now()

	if entry == nil {
		created := LedgerEntry{
			ID:         EntryID(uuid.NewString()),
			CustomerID: key.CustomerID,
			GameID:     key.GameID,
			Day:        key.Day,
			Total:      RoundMoney(total),
			NetLoss:    FloorZero(RoundMoney(netLoss)),
			Source:     SourceReconciler,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := l.Store.InsertEntry(ctx, created); err != nil {
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
		return &created, nil
	}

	entry.Total = RoundMoney(total)
	entry.NetLoss = FloorZero(RoundMoney(netLoss))
	entry.Source = SourceReconciler
	entry.UpdatedAt = now
	if err := l.Store.UpdateEntry(ctx, *entry); err != nil {
		return nil, fmt.Errorf("update ledger entry: %w", err)
	}
	return entry, nil
}

func (l *Ledger) checkAnchor(day time.Time) error {
	if l.Calendar != nil && !l.Calendar.IsAnchor(day) {
		return fmt.Errorf("%w: %s", ErrNotAnchor, day.Format(time.RFC3339))
	}
	return nil
}
