package generic

import (
	"context"
	"time"
)

// LedgerChange is emitted after a committed ledger-affecting write.
// Delivery is best effort; consumers rebuild state by polling the store.
type LedgerChange struct {
	Kind       string    `json:"kind"` // winloss.created, winloss.edited, ledger.reconciled, rebate.created, rebate.status
	CustomerID int64     `json:"customer_id,omitempty"`
	GameID     int64     `json:"game_id,omitempty"`
	Day        string    `json:"day,omitempty"`
	EntryIDs   []string  `json:"entry_ids,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes ledger changes. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, change LedgerChange)
}

// NopNotifier drops every change.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, LedgerChange) {}

// MultiNotifier fans a change out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, change LedgerChange) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, change)
		}
	}
}
