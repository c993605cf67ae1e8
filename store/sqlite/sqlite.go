/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore using SQLite through sqlx. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Directory:        customers, games
  generic.EventStore:       win/loss events
  generic.LedgerStore:      per-day ledger entries
  generic.TransactionStore: transfers read, rebates written
  generic.AuditLog:         audit trail (append-only)
  generic.RunStore:         rebate run history

KEY TABLES:
  customers, games:  Minimal directory for validation
  winloss_events:    Recorded wins/losses (mutable by edit)
  ledger_entries:    One row per (customer_id, game_id, day)
  transactions:      Monetary rows; reference unique when non-empty
  audit_log:         Before/after JSON snapshots
  rebate_runs:       RunForDay history

UNIQUENESS:
  - idx_ledger_entries_key:    (customer_id, game_id, day) -> ErrDuplicateLedgerEntry
  - idx_transactions_reference: reference                   -> ErrDuplicateReference
  Concurrent rebate runs that both pass the existence check are settled
  here: the second insert fails and is counted as skipped.

TIME ENCODING:
  Instants are stored as fixed-width UTC text (timeLayout) so that string
  comparison in range queries matches chronological order.

CONCURRENCY:
  Writers are serialized with sync.RWMutex. WAL mode lets readers proceed
  while a write transaction is open.

USAGE:
  store, err := sqlite.New("./data/winloss.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/winloss-engine/generic"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements generic.TxStore using SQLite.
// Reads go straight to the embedded query set; writes take the mutex.
type Store struct {
	*queries
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, queries: &queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection (health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS winloss_events (
		id TEXT PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		game_id INTEGER NOT NULL,
		win_amount TEXT NOT NULL,
		loss_amount TEXT NOT NULL,
		moment TEXT NOT NULL,
		day TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_winloss_events_key
		ON winloss_events(customer_id, game_id, day);

	-- CRITICAL: exactly one ledger entry per customer, game and business day
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		game_id INTEGER NOT NULL,
		day TEXT NOT NULL,
		total TEXT NOT NULL,
		net_loss TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_key
		ON ledger_entries(customer_id, game_id, day);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_day
		ON ledger_entries(day);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		game_id INTEGER,
		tx_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT,
		notes TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: rebate idempotency backstop
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference) WHERE reference IS NOT NULL AND reference <> '';

	-- Reconciliation hot path
	CREATE INDEX IF NOT EXISTS idx_transactions_status_ts
		ON transactions(status, ts);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_entity
		ON audit_log(entity_kind, entity_id);

	CREATE TABLE IF NOT EXISTS rebate_runs (
		id TEXT PRIMARY KEY,
		day TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rebate_runs_started
		ON rebate_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// LOCKED WRITES
// =============================================================================

func (s *Store) SaveEvent(ctx context.Context, e generic.WinLossEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveEvent(ctx, e)
}

func (s *Store) InsertEntry(ctx context.Context, e generic.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertEntry(ctx, e)
}

func (s *Store) UpdateEntry(ctx context.Context, e generic.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateEntry(ctx, e)
}

func (s *Store) InsertTransaction(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertTransaction(ctx, tx)
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id generic.TransactionID, status generic.TransactionStatus, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateTransactionStatus(ctx, id, status, notes, at)
}

func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AppendAudit(ctx, e)
}

func (s *Store) SaveRun(ctx context.Context, r generic.RebateRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveRun(ctx, r)
}

// =============================================================================
// DIRECTORY SEEDING (customer/game CRUD lives elsewhere)
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c generic.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, enabled) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, enabled = excluded.enabled
	`, int64(c.ID), c.Name, c.Enabled)
	return err
}

func (s *Store) SaveGame(ctx context.Context, g generic.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (id, name, enabled) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, enabled = excluded.enabled
	`, int64(g.ID), g.Name, g.Enabled)
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"rebate_runs", "audit_log", "transactions", "ledger_entries", "winloss_events", "games", "customers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store and the WithTx view
// =============================================================================

type queries struct {
	db sqlx.ExtContext
}

type customerRow struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Enabled bool   `db:"enabled"`
}

func (q *queries) GetCustomer(ctx context.Context, id generic.CustomerID) (*generic.Customer, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, q.db, &row, `SELECT id, name, enabled FROM customers WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &generic.Customer{ID: generic.CustomerID(row.ID), Name: row.Name, Enabled: row.Enabled}, nil
}

func (q *queries) GetGame(ctx context.Context, id generic.GameID) (*generic.Game, error) {
	var row customerRow
	err := sqlx.GetContext(ctx, q.db, &row, `SELECT id, name, enabled FROM games WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &generic.Game{ID: generic.GameID(row.ID), Name: row.Name, Enabled: row.Enabled}, nil
}

// =============================================================================
// EVENTS
// =============================================================================

type eventRow struct {
	ID         string          `db:"id"`
	CustomerID int64           `db:"customer_id"`
	GameID     int64           `db:"game_id"`
	WinAmount  decimal.Decimal `db:"win_amount"`
	LossAmount decimal.Decimal `db:"loss_amount"`
	Moment     string          `db:"moment"`
	Day        string          `db:"day"`
	CreatedAt  string          `db:"created_at"`
	CreatedBy  string          `db:"created_by"`
	UpdatedAt  string          `db:"updated_at"`
	UpdatedBy  string          `db:"updated_by"`
}

func (q *queries) SaveEvent(ctx context.Context, e generic.WinLossEvent) error {
	row := eventRow{
		ID:         string(e.ID),
		CustomerID: int64(e.CustomerID),
		GameID:     int64(e.GameID),
		WinAmount:  e.WinAmount,
		LossAmount: e.LossAmount,
		Moment:     formatTime(e.Moment),
		Day:        formatTime(e.Day),
		CreatedAt:  formatTime(e.CreatedAt),
		CreatedBy:  e.CreatedBy,
		UpdatedAt:  formatTime(e.UpdatedAt),
		UpdatedBy:  e.UpdatedBy,
	}
	_, err := sqlx.NamedExecContext(ctx, q.db, `
		INSERT INTO winloss_events (id, customer_id, game_id, win_amount, loss_amount, moment, day,
			created_at, created_by, updated_at, updated_by)
		VALUES (:id, :customer_id, :game_id, :win_amount, :loss_amount, :moment, :day,
			:created_at, :created_by, :updated_at, :updated_by)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			game_id = excluded.game_id,
			win_amount = excluded.win_amount,
			loss_amount = excluded.loss_amount,
			moment = excluded.moment,
			day = excluded.day,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by
	`, row)
	return err
}

func (q *queries) GetEvent(ctx context.Context, id generic.EventID) (*generic.WinLossEvent, error) {
	var row eventRow
	err := sqlx.GetContext(ctx, q.db, &row, `SELECT * FROM winloss_events WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &generic.WinLossEvent{
		ID:         generic.EventID(row.ID),
		CustomerID: generic.CustomerID(row.CustomerID),
		GameID:     generic.GameID(row.GameID),
		WinAmount:  row.WinAmount,
		LossAmount: row.LossAmount,
		Moment:     parseTime(row.Moment),
		Day:        parseTime(row.Day),
		CreatedAt:  parseTime(row.CreatedAt),
		CreatedBy:  row.CreatedBy,
		UpdatedAt:  parseTime(row.UpdatedAt),
		UpdatedBy:  row.UpdatedBy,
	}, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

type entryRow struct {
	ID         string          `db:"id"`
	CustomerID int64           `db:"customer_id"`
	GameID     int64           `db:"game_id"`
	Day        string          `db:"day"`
	Total      decimal.Decimal `db:"total"`
	NetLoss    decimal.Decimal `db:"net_loss"`
	Source     string          `db:"source"`
	CreatedAt  string          `db:"created_at"`
	UpdatedAt  string          `db:"updated_at"`
}

func (r entryRow) toEntry() generic.LedgerEntry {
	return generic.LedgerEntry{
		ID:         generic.EntryID(r.ID),
		CustomerID: generic.CustomerID(r.CustomerID),
		GameID:     generic.GameID(r.GameID),
		Day:        parseTime(r.Day),
		Total:      r.Total,
		NetLoss:    r.NetLoss,
		Source:     generic.Source(r.Source),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

func (q *queries) GetEntry(ctx context.Context, key generic.LedgerKey) (*generic.LedgerEntry, error) {
	return q.getEntry(ctx, `SELECT * FROM ledger_entries WHERE customer_id = ? AND game_id = ? AND day = ?`,
		int64(key.CustomerID), int64(key.GameID), formatTime(key.Day))
}

func (q *queries) GetEntryByID(ctx context.Context, id generic.EntryID) (*generic.LedgerEntry, error) {
	return q.getEntry(ctx, `SELECT * FROM ledger_entries WHERE id = ?`, string(id))
}

func (q *queries) getEntry(ctx context.Context, query string, args ...any) (*generic.LedgerEntry, error) {
	var row entryRow
	err := sqlx.GetContext(ctx, q.db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := row.toEntry()
	return &e, nil
}

func (q *queries) InsertEntry(ctx context.Context, e generic.LedgerEntry) error {
	_, err := sqlx.NamedExecContext(ctx, q.db, `
		INSERT INTO ledger_entries (id, customer_id, game_id, day, total, net_loss, source, created_at, updated_at)
		VALUES (:id, :customer_id, :game_id, :day, :total, :net_loss, :source, :created_at, :updated_at)
	`, entryRow{
		ID:         string(e.ID),
		CustomerID: int64(e.CustomerID),
		GameID:     int64(e.GameID),
		Day:        formatTime(e.Day),
		Total:      e.Total,
		NetLoss:    e.NetLoss,
		Source:     string(e.Source),
		CreatedAt:  formatTime(e.CreatedAt),
		UpdatedAt:  formatTime(e.UpdatedAt),
	})
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateLedgerEntry
	}
	return err
}

func (q *queries) UpdateEntry(ctx context.Context, e generic.LedgerEntry) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ledger_entries SET total = ?, net_loss = ?, source = ?, updated_at = ? WHERE id = ?
	`, e.Total, e.NetLoss, string(e.Source), formatTime(e.UpdatedAt), string(e.ID))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger entry %s not found", e.ID)
	}
	return nil
}

func (q *queries) ListEntriesByDay(ctx context.Context, day time.Time) ([]generic.LedgerEntry, error) {
	var rows []entryRow
	err := sqlx.SelectContext(ctx, q.db, &rows,
		`SELECT * FROM ledger_entries WHERE day = ? ORDER BY customer_id, game_id`, formatTime(day))
	if err != nil {
		return nil, err
	}
	entries := make([]generic.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}

// =============================================================================
// MONETARY TRANSACTIONS
// =============================================================================

type transactionRow struct {
	ID         string          `db:"id"`
	CustomerID int64           `db:"customer_id"`
	GameID     sql.NullInt64   `db:"game_id"`
	Type       string          `db:"tx_type"`
	Direction  string          `db:"direction"`
	Status     string          `db:"status"`
	Amount     decimal.Decimal `db:"amount"`
	Reference  sql.NullString  `db:"reference"`
	Notes      string          `db:"notes"`
	Timestamp  string          `db:"ts"`
	CreatedAt  string          `db:"created_at"`
	UpdatedAt  string          `db:"updated_at"`
}

func (r transactionRow) toTransaction() generic.Transaction {
	tx := generic.Transaction{
		ID:         generic.TransactionID(r.ID),
		CustomerID: generic.CustomerID(r.CustomerID),
		Type:       generic.TransactionType(r.Type),
		Direction:  generic.Direction(r.Direction),
		Status:     generic.TransactionStatus(r.Status),
		Amount:     r.Amount,
		Reference:  r.Reference.String,
		Notes:      r.Notes,
		Timestamp:  parseTime(r.Timestamp),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
	if r.GameID.Valid {
		tx.GameID = generic.GamePtr(generic.GameID(r.GameID.Int64))
	}
	return tx
}

func (q *queries) InsertTransaction(ctx context.Context, tx generic.Transaction) error {
	row := transactionRow{
		ID:         string(tx.ID),
		CustomerID: int64(tx.CustomerID),
		Type:       string(tx.Type),
		Direction:  string(tx.Direction),
		Status:     string(tx.Status),
		Amount:     tx.Amount,
		Reference:  nullString(tx.Reference),
		Notes:      tx.Notes,
		Timestamp:  formatTime(tx.Timestamp),
		CreatedAt:  formatTime(tx.CreatedAt),
		UpdatedAt:  formatTime(tx.UpdatedAt),
	}
	if tx.GameID != nil {
		row.GameID = sql.NullInt64{Int64: int64(*tx.GameID), Valid: true}
	}
	_, err := sqlx.NamedExecContext(ctx, q.db, `
		INSERT INTO transactions (id, customer_id, game_id, tx_type, direction, status, amount,
			reference, notes, ts, created_at, updated_at)
		VALUES (:id, :customer_id, :game_id, :tx_type, :direction, :status, :amount,
			:reference, :notes, :ts, :created_at, :updated_at)
	`, row)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", generic.ErrDuplicateReference, tx.Reference)
	}
	return err
}

func (q *queries) GetTransaction(ctx context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	return q.getTransaction(ctx, `SELECT * FROM transactions WHERE id = ?`, string(id))
}

func (q *queries) GetTransactionByReference(ctx context.Context, reference string) (*generic.Transaction, error) {
	return q.getTransaction(ctx, `SELECT * FROM transactions WHERE reference = ?`, reference)
}

func (q *queries) getTransaction(ctx context.Context, query string, args ...any) (*generic.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q.db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx := row.toTransaction()
	return &tx, nil
}

func (q *queries) UpdateTransactionStatus(ctx context.Context, id generic.TransactionID, status generic.TransactionStatus, notes string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET status = ?, notes = ?, updated_at = ? WHERE id = ?
	`, string(status), notes, formatTime(at), string(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return generic.ErrTransactionNotFound
	}
	return nil
}

func (q *queries) ListApprovedTransfers(ctx context.Context, from, to time.Time) ([]generic.Transaction, error) {
	return q.selectTransactions(ctx, `
		SELECT * FROM transactions
		WHERE status = ? AND tx_type IN (?, ?) AND game_id IS NOT NULL AND ts >= ? AND ts < ?
		ORDER BY ts
	`, string(generic.StatusApproved), string(generic.TxDeposit), string(generic.TxWithdrawal),
		formatTime(from), formatTime(to))
}

func (q *queries) ListRebates(ctx context.Context, referencePrefix string) ([]generic.Transaction, error) {
	return q.selectTransactions(ctx, `
		SELECT * FROM transactions WHERE tx_type = ? AND reference LIKE ? ESCAPE '\' ORDER BY reference
	`, string(generic.TxRebate), escapeLike(referencePrefix)+"%")
}

func (q *queries) selectTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q.db, &rows, query, args...); err != nil {
		return nil, err
	}
	txs := make([]generic.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, r.toTransaction())
	}
	return txs, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type auditRow struct {
	ID         string         `db:"id"`
	Timestamp  string         `db:"ts"`
	ActorID    string         `db:"actor_id"`
	Action     string         `db:"action"`
	EntityKind string         `db:"entity_kind"`
	EntityID   string         `db:"entity_id"`
	Before     sql.NullString `db:"before_json"`
	After      sql.NullString `db:"after_json"`
}

func (q *queries) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return fmt.Errorf("marshal audit before: %w", err)
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return fmt.Errorf("marshal audit after: %w", err)
	}
	_, err = sqlx.NamedExecContext(ctx, q.db, `
		INSERT INTO audit_log (id, ts, actor_id, action, entity_kind, entity_id, before_json, after_json)
		VALUES (:id, :ts, :actor_id, :action, :entity_kind, :entity_id, :before_json, :after_json)
	`, auditRow{
		ID:         e.ID,
		Timestamp:  formatTime(e.Timestamp),
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
	})
	return err
}

func (q *queries) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	query := `SELECT * FROM audit_log WHERE 1=1`
	var args []any
	if f.EntityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	query += ` ORDER BY ts DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, q.db, &rows, query, args...); err != nil {
		return nil, err
	}
	entries := make([]generic.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := generic.AuditEntry{
			ID:         r.ID,
			Timestamp:  parseTime(r.Timestamp),
			ActorID:    r.ActorID,
			Action:     generic.AuditAction(r.Action),
			EntityKind: r.EntityKind,
			EntityID:   r.EntityID,
		}
		if r.Before.Valid {
			json.Unmarshal([]byte(r.Before.String), &e.Before)
		}
		if r.After.Valid {
			json.Unmarshal([]byte(r.After.String), &e.After)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// =============================================================================
// REBATE RUNS
// =============================================================================

type runRow struct {
	ID          string         `db:"id"`
	Day         string         `db:"day"`
	Trigger     string         `db:"trigger_kind"`
	Status      string         `db:"status"`
	Created     int            `db:"created_count"`
	Skipped     int            `db:"skipped_count"`
	Error       string         `db:"error"`
	StartedAt   string         `db:"started_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

func (q *queries) SaveRun(ctx context.Context, r generic.RebateRun) error {
	row := runRow{
		ID:        r.ID,
		Day:       formatTime(r.Day),
		Trigger:   string(r.Trigger),
		Status:    r.Status,
		Created:   r.Created,
		Skipped:   r.Skipped,
		Error:     r.Error,
		StartedAt: formatTime(r.StartedAt),
	}
	if r.CompletedAt != nil {
		row.CompletedAt = sql.NullString{String: formatTime(*r.CompletedAt), Valid: true}
	}
	_, err := sqlx.NamedExecContext(ctx, q.db, `
		INSERT INTO rebate_runs (id, day, trigger_kind, status, created_count, skipped_count, error, started_at, completed_at)
		VALUES (:id, :day, :trigger_kind, :status, :created_count, :skipped_count, :error, :started_at, :completed_at)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created_count = excluded.created_count,
			skipped_count = excluded.skipped_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, row)
	return err
}

func (q *queries) ListRuns(ctx context.Context, limit int) ([]generic.RebateRun, error) {
	query := `SELECT * FROM rebate_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []runRow
	if err := sqlx.SelectContext(ctx, q.db, &rows, query, args...); err != nil {
		return nil, err
	}
	runs := make([]generic.RebateRun, 0, len(rows))
	for _, r := range rows {
		run := generic.RebateRun{
			ID:        r.ID,
			Day:       parseTime(r.Day),
			Trigger:   generic.RunTrigger(r.Trigger),
			Status:    r.Status,
			Created:   r.Created,
			Skipped:   r.Skipped,
			Error:     r.Error,
			StartedAt: parseTime(r.StartedAt),
		}
		if r.CompletedAt.Valid {
			t := parseTime(r.CompletedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalSnapshot(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
