/*
store.go - Persistence interfaces for events, ledger entries and transactions

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Directory:        Customer/game lookups for validation
  EventStore:       Win/loss events
  LedgerStore:      Ledger entry point lookups and upserts
  TransactionStore: Monetary transaction rows (read transfers, write rebates)
  AuditLog:         Audit write contract
  RunStore:         Rebate run history
  Store:            All of the above
  TxStore:          Store + WithTx for atomic multi-table writes

NOT-FOUND CONVENTION:
  Point lookups return (nil, nil) when the row does not exist. Services
  translate that into the matching sentinel error.

UNIQUENESS:
  Stores MUST enforce:
  - one ledger entry per (customer_id, game_id, day) -> ErrDuplicateLedgerEntry
  - one transaction per non-empty reference          -> ErrDuplicateReference
  These are the backstops for concurrent writers; application-level
  existence checks are only an optimization.

ATOMIC UNITS:
  WithTx() ensures all-or-nothing semantics. Recording a win/loss event
  writes the event, the ledger entry and the audit entry; either all three
  land or none do.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level ledger operations using LedgerStore
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type Directory interface {
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	GetGame(ctx context.Context, id GameID) (*Game, error)
}

// =============================================================================
// EVENTS
// =============================================================================

type EventStore interface {
	// SaveEvent inserts or replaces the event with the same ID.
	SaveEvent(ctx context.Context, event WinLossEvent) error
	GetEvent(ctx context.Context, id EventID) (*WinLossEvent, error)
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

type LedgerStore interface {
	GetEntry(ctx context.Context, key LedgerKey) (*LedgerEntry, error)
	GetEntryByID(ctx context.Context, id EntryID) (*LedgerEntry, error)

	// InsertEntry fails with ErrDuplicateLedgerEntry if the key exists.
	InsertEntry(ctx context.Context, entry LedgerEntry) error

	// UpdateEntry replaces total, net loss, source and updated_at by ID.
	UpdateEntry(ctx context.Context, entry LedgerEntry) error

	// ListEntriesByDay returns every entry anchored at day, ordered by customer then game.
	ListEntriesByDay(ctx context.Context, day time.Time) ([]LedgerEntry, error)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionStore interface {
	// InsertTransaction fails with ErrDuplicateReference if the reference exists.
	InsertTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)

	// UpdateTransactionStatus sets status, notes and updated_at.
	UpdateTransactionStatus(ctx context.Context, id TransactionID, status TransactionStatus, notes string, at time.Time) error

	// ListApprovedTransfers returns approved deposits and withdrawals with a
	// game id whose timestamp falls in [from, to).
	ListApprovedTransfers(ctx context.Context, from, to time.Time) ([]Transaction, error)

	// ListRebates returns rebate transactions whose reference starts with referencePrefix.
	ListRebates(ctx context.Context, referencePrefix string) ([]Transaction, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	ActorID    string
	Action     AuditAction
	EntityKind string // e.g. "winloss_event", "rebate"
	EntityID   string
	Before     map[string]any // nil on create
	After      map[string]any
}

type AuditAction string

const (
	AuditCreate  AuditAction = "CREATE"
	AuditEdit    AuditAction = "EDIT"
	AuditApprove AuditAction = "APPROVE"
	AuditReject  AuditAction = "REJECT"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityKind string
	EntityID   string
	ActorID    string
	Limit      int
}

// =============================================================================
// REBATE RUNS
// =============================================================================

type RunStore interface {
	SaveRun(ctx context.Context, run RebateRun) error
	ListRuns(ctx context.Context, limit int) ([]RebateRun, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

type Store interface {
	Directory
	EventStore
	LedgerStore
	TransactionStore
	AuditLog
	RunStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
