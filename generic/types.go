/*
Package generic provides the core win/loss ledger engine.

PURPOSE:
  This package contains the types and algorithms shared by every part of the
  system: money arithmetic, the business calendar, the per-day ledger, the
  store contracts and the error vocabulary. Domain packages (winloss,
  reconcile, rebate) are thin services on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: decimal arithmetic rounded to 4 places
  - LedgerEntry: accumulated net loss for (customer, game, business day)
  - WinLossEvent: one recorded win/loss observation
  - Transaction: a row of the external monetary transaction store
  - Customer/Game: the minimal directory needed for validation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Type Safety: Distinct ID types prevent mixing customers and games
  3. Determinism: Business days are always anchors from BusinessCalendar

USAGE:
  delta := generic.NetLoss(win, loss)
  entry, err := ledger.Accumulate(ctx, generic.LedgerKey{CustomerID: c, GameID: g, Day: day}, delta)

SEE ALSO:
  - calendar.go: Business day anchoring
  - ledger.go: Accumulate / reverse / overwrite
  - store.go: Persistence contracts
*/
package generic

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts rounded to 4 places
// =============================================================================

// MoneyScale is the number of decimal places every stored amount keeps.
const MoneyScale = 4

// RoundMoney rounds half away from zero to MoneyScale places.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyScale) }

// FloorZero returns d, or zero when d is negative.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// NetLoss is max(0, round(loss - win, 4)). Net wins contribute nothing.
func NetLoss(win, loss decimal.Decimal) decimal.Decimal {
	return FloorZero(RoundMoney(loss.Sub(win)))
}

// MustParseDecimal parses s or returns zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID int64
type GameID int64
type EventID string
type EntryID string
type TransactionID string

func (id CustomerID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id GameID) String() string     { return strconv.FormatInt(int64(id), 10) }

// =============================================================================
// DIRECTORY - customers and games (read-only here)
// =============================================================================

type Customer struct {
	ID      CustomerID
	Name    string
	Enabled bool
}

type Game struct {
	ID      GameID
	Name    string
	Enabled bool
}

// =============================================================================
// LEDGER ENTRY - one row per (customer, game, business day)
// =============================================================================

// Source records which writer last touched a ledger entry.
type Source string

const (
	SourceRecorder   Source = "recorder"   // WinLossRecorder accumulate/reverse
	SourceReconciler Source = "reconciler" // TransactionReconciler overwrite
)

// LedgerKey identifies a ledger entry.
type LedgerKey struct {
	CustomerID CustomerID
	GameID     GameID
	Day        time.Time
}

type LedgerEntry struct {
	ID         EntryID
	CustomerID CustomerID
	GameID     GameID
	Day        time.Time // business day anchor (UTC instant)
	Total      decimal.Decimal
	NetLoss    decimal.Decimal
	Source     Source
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e LedgerEntry) Key() LedgerKey {
	return LedgerKey{CustomerID: e.CustomerID, GameID: e.GameID, Day: e.Day}
}

// =============================================================================
// WIN/LOSS EVENT
// =============================================================================

type WinLossEvent struct {
	ID         EventID
	CustomerID CustomerID
	GameID     GameID
	WinAmount  decimal.Decimal
	LossAmount decimal.Decimal
	Moment     time.Time // instant the play happened (UTC)
	Day        time.Time // business day anchor of Moment
	CreatedAt  time.Time
	CreatedBy  string
	UpdatedAt  time.Time
	UpdatedBy  string
}

// Delta is the event's contribution to its ledger entry.
func (e WinLossEvent) Delta() decimal.Decimal { return NetLoss(e.WinAmount, e.LossAmount) }

// =============================================================================
// TRANSACTION - monetary transaction store rows
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxRebate     TransactionType = "rebate"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusApproved TransactionStatus = "approved"
	StatusRejected TransactionStatus = "rejected"
)

type Transaction struct {
	ID         TransactionID
	CustomerID CustomerID
	GameID     *GameID // nil for transfers not tied to a game
	Type       TransactionType
	Direction  Direction
	Status     TransactionStatus
	Amount     decimal.Decimal
	Reference  string // unique when non-empty
	Notes      string
	Timestamp  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GamePtr is a convenience for building transactions in tests and seeds.
func GamePtr(id GameID) *GameID { return &id }

// =============================================================================
// REBATE RUN - history of RunForDay invocations
// =============================================================================

type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerCLI       RunTrigger = "cli"
)

type RebateRun struct {
	ID          string
	Day         time.Time
	Trigger     RunTrigger
	Status      string // running, completed, failed
	Created     int
	Skipped     int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
