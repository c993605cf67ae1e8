/*
Package reconcile recomputes ledger entries from approved transfer history.

PURPOSE:
  The Reconciler is the second, independent writer of the ledger. For the
  two most recent business days it rebuilds each (customer, game) figure
  from approved deposits and withdrawals and overwrites the entry.

ALGORITHM (per day):
  1. [start, end) = Calendar.DayRange(day)
  2. Load approved deposits/withdrawals with a game id in [start, end)
  3. Group by (customer, game): loss = sum(deposits), win = sum(withdrawals)
  4. netLoss = NetLoss(win, loss); Overwrite(total = netLoss, netLoss)
  Each group is written in its own WithTx.

PRECEDENCE:
  Entries remember which writer touched them last (generic.Source).
    manual:       entries last written by the Recorder are preserved
                  and counted; the Reconciler only replaces its own
                  entries and creates missing ones
    transactions: the Reconciler always replaces the entry
  An entry whose values already match is left alone in both modes, so a
  rerun with no new transfers does not write.

SEE ALSO:
  - generic/ledger.go: Overwrite
  - api/scheduler.go: interval runner
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/logging"
	"github.com/warp/winloss-engine/metrics"
)

// Precedence decides who wins when both writers touched an entry.
type Precedence string

const (
	PrecedenceManual       Precedence = "manual"
	PrecedenceTransactions Precedence = "transactions"
)

// ParsePrecedence maps a configuration value to a Precedence.
func ParsePrecedence(s string) (Precedence, error) {
	switch p := Precedence(s); p {
	case PrecedenceManual, PrecedenceTransactions:
		return p, nil
	case "":
		return PrecedenceManual, nil
	}
	return "", fmt.Errorf("reconcile: unknown precedence %q", s)
}

// Summary reports what a run did.
type Summary struct {
	Days        []time.Time
	Groups      int // (customer, game, day) groups found in transfer history
	Overwritten int // entries created or replaced
	Preserved   int // recorder entries kept under PrecedenceManual
	Unchanged   int // entries already equal to the recomputed values
}

func (s *Summary) add(o Summary) {
	s.Days = append(s.Days, o.Days...)
	s.Groups += o.Groups
	s.Overwritten += o.Overwritten
	s.Preserved += o.Preserved
	s.Unchanged += o.Unchanged
}

type group struct {
	key  generic.LedgerKey
	loss decimal.Decimal
	win  decimal.Decimal
}

// Reconciler rebuilds ledger entries from approved transfers.
type Reconciler struct {
	store      generic.TxStore
	calendar   *generic.BusinessCalendar
	precedence Precedence
	notifier   generic.Notifier
	logger     *zap.Logger

	Now func() time.Time
}

func NewReconciler(store generic.TxStore, calendar *generic.BusinessCalendar, precedence Precedence, notifier generic.Notifier, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("reconcile: nil store")
	}
	if calendar == nil {
		return nil, errors.New("reconcile: nil calendar")
	}
	if precedence == "" {
		precedence = PrecedenceManual
	}
	if notifier == nil {
		notifier = generic.NopNotifier{}
	}
	return &Reconciler{
		store:      store,
		calendar:   calendar,
		precedence: precedence,
		notifier:   notifier,
		logger:     logging.OrNop(logger).Named("reconcile"),
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Precedence returns the configured rule.
func (r *Reconciler) Precedence() Precedence { return r.precedence }

// Run reconciles yesterday and today relative to now.
// A failing day does not stop the other; errors are joined.
func (r *Reconciler) Run(ctx context.Context, now time.Time) (*Summary, error) {
	start := time.Now()
	today := r.calendar.Today(now)
	days := []time.Time{r.calendar.Previous(today), today}

	total := &Summary{}
	var errs []error
	for _, day := range days {
		s, err := r.RunDay(ctx, day)
		if s != nil {
			total.add(*s)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", r.calendar.FormatDay(day), err))
		}
	}
	err := errors.Join(errs...)

	metrics.ObserveReconcileRun(metrics.Result(err), total.Overwritten, total.Preserved, time.Since(start))
	r.logger.Info("reconciliation run finished",
		zap.Int("groups", total.Groups),
		zap.Int("overwritten", total.Overwritten),
		zap.Int("preserved", total.Preserved),
		zap.Int("unchanged", total.Unchanged),
		zap.Error(err))
	return total, err
}

// RunDay reconciles a single business day.
func (r *Reconciler) RunDay(ctx context.Context, day time.Time) (*Summary, error) {
	if !r.calendar.IsAnchor(day) {
		return nil, fmt.Errorf("%w: %s", generic.ErrNotAnchor, day.Format(time.RFC3339))
	}
	summary := &Summary{Days: []time.Time{day}}

	from, to := r.calendar.DayRange(day)
	transfers, err := r.store.ListApprovedTransfers(ctx, from, to)
	if err != nil {
		return summary, fmt.Errorf("load transfers: %w", err)
	}

	groups := groupTransfers(day, transfers)
	summary.Groups = len(groups)

	var touched []string
	var errs []error
	for _, g := range groups {
		netLoss := generic.NetLoss(g.win, g.loss)
		var written *generic.LedgerEntry

		err := r.store.WithTx(ctx, func(tx generic.Store) error {
			ledger := generic.NewLedger(tx, r.calendar)
			ledger.Now = r.Now

			existing, err := ledger.Entry(ctx, g.key)
			if err != nil {
				return err
			}
			if existing != nil {
				if r.precedence == PrecedenceManual && existing.Source == generic.SourceRecorder {
					summary.Preserved++
					return nil
				}
				if existing.Total.Equal(netLoss) && existing.NetLoss.Equal(netLoss) {
					summary.Unchanged++
					return nil
				}
			}

			written, err = ledger.Overwrite(ctx, g.key, netLoss, netLoss)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("customer %d game %d: %w", g.key.CustomerID, g.key.GameID, err))
			continue
		}
		if written != nil {
			summary.Overwritten++
			touched = append(touched, string(written.ID))
		}
	}

	if len(touched) > 0 {
		r.notifier.Notify(ctx, generic.LedgerChange{
			Kind:       "ledger.reconciled",
			Day:        r.calendar.FormatDay(day),
			EntryIDs:   touched,
			OccurredAt: r.Now(),
		})
	}
	r.logger.Debug("reconciled day",
		zap.String("day", r.calendar.FormatDay(day)),
		zap.Int("transfers", len(transfers)),
		zap.Int("groups", summary.Groups),
		zap.Int("overwritten", summary.Overwritten))
	return summary, errors.Join(errs...)
}

// groupTransfers sums deposits and withdrawals per (customer, game), in key order.
func groupTransfers(day time.Time, transfers []generic.Transaction) []group {
	byKey := make(map[[2]int64]*group)
	for _, tx := range transfers {
		if tx.GameID == nil || tx.Status != generic.StatusApproved {
			continue
		}
		k := [2]int64{int64(tx.CustomerID), int64(*tx.GameID)}
		g, ok := byKey[k]
		if !ok {
			g = &group{
				key:  generic.LedgerKey{CustomerID: tx.CustomerID, GameID: *tx.GameID, Day: day},
				loss: decimal.Zero,
				win:  decimal.Zero,
			}
			byKey[k] = g
		}
		switch tx.Type {
		case generic.TxDeposit:
			g.loss = g.loss.Add(tx.Amount)
		case generic.TxWithdrawal:
			g.win = g.win.Add(tx.Amount)
		}
	}

	groups := make([]group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].key.CustomerID != groups[j].key.CustomerID {
			return groups[i].key.CustomerID < groups[j].key.CustomerID
		}
		return groups[i].key.GameID < groups[j].key.GameID
	})
	return groups
}
