// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/winloss-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore. Uniqueness of ledger keys and
// transaction references is enforced the same way the SQL schema does.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type entryKey struct {
	CustomerID generic.CustomerID
	GameID     generic.GameID
	Day        int64 // unix seconds of the anchor
}

func keyOf(k generic.LedgerKey) entryKey {
	return entryKey{CustomerID: k.CustomerID, GameID: k.GameID, Day: k.Day.Unix()}
}

type memState struct {
	customers    map[generic.CustomerID]generic.Customer
	games        map[generic.GameID]generic.Game
	events       map[generic.EventID]generic.WinLossEvent
	entries      map[generic.EntryID]generic.LedgerEntry
	entryKeys    map[entryKey]generic.EntryID
	transactions map[generic.TransactionID]generic.Transaction
	references   map[string]generic.TransactionID
	audits       []generic.AuditEntry
	runs         map[string]generic.RebateRun
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		customers:    make(map[generic.CustomerID]generic.Customer),
		games:        make(map[generic.GameID]generic.Game),
		events:       make(map[generic.EventID]generic.WinLossEvent),
		entries:      make(map[generic.EntryID]generic.LedgerEntry),
		entryKeys:    make(map[entryKey]generic.EntryID),
		transactions: make(map[generic.TransactionID]generic.Transaction),
		references:   make(map[string]generic.TransactionID),
		runs:         make(map[string]generic.RebateRun),
	}
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback on error
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.games {
		c.games[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.entryKeys {
		c.entryKeys[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	c.audits = append([]generic.AuditEntry{}, s.audits...)
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

// =============================================================================
// SEEDING (directory + raw transfers)
// =============================================================================

func (m *Memory) SaveCustomer(_ context.Context, c generic.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.customers[c.ID] = c
	return nil
}

func (m *Memory) SaveGame(_ context.Context, g generic.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.games[g.ID] = g
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemState()
	return nil
}

// AuditEntries returns every audit entry in insertion order.
func (m *Memory) AuditEntries() []generic.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.AuditEntry{}, m.state.audits...)
}

// =============================================================================
// LOCKED WRAPPERS (generic.Store)
// =============================================================================

func (m *Memory) GetCustomer(ctx context.Context, id generic.CustomerID) (*generic.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetCustomer(ctx, id)
}

func (m *Memory) GetGame(ctx context.Context, id generic.GameID) (*generic.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetGame(ctx, id)
}

func (m *Memory) SaveEvent(ctx context.Context, e generic.WinLossEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveEvent(ctx, e)
}

func (m *Memory) GetEvent(ctx context.Context, id generic.EventID) (*generic.WinLossEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEvent(ctx, id)
}

func (m *Memory) GetEntry(ctx context.Context, key generic.LedgerKey) (*generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEntry(ctx, key)
}

func (m *Memory) GetEntryByID(ctx context.Context, id generic.EntryID) (*generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEntryByID(ctx, id)
}

func (m *Memory) InsertEntry(ctx context.Context, e generic.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertEntry(ctx, e)
}

func (m *Memory) UpdateEntry(ctx context.Context, e generic.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateEntry(ctx, e)
}

func (m *Memory) ListEntriesByDay(ctx context.Context, day time.Time) ([]generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListEntriesByDay(ctx, day)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetTransaction(ctx, id)
}

func (m *Memory) GetTransactionByReference(ctx context.Context, ref string) (*generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetTransactionByReference(ctx, ref)
}

func (m *Memory) UpdateTransactionStatus(ctx context.Context, id generic.TransactionID, status generic.TransactionStatus, notes string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateTransactionStatus(ctx, id, status, notes, at)
}

func (m *Memory) ListApprovedTransfers(ctx context.Context, from, to time.Time) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListApprovedTransfers(ctx, from, to)
}

func (m *Memory) ListRebates(ctx context.Context, prefix string) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListRebates(ctx, prefix)
}

func (m *Memory) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendAudit(ctx, e)
}

func (m *Memory) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.QueryAudit(ctx, f)
}

func (m *Memory) SaveRun(ctx context.Context, r generic.RebateRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveRun(ctx, r)
}

func (m *Memory) ListRuns(ctx context.Context, limit int) ([]generic.RebateRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListRuns(ctx, limit)
}

// =============================================================================
// UNLOCKED STATE - also the view handed to WithTx callbacks
// =============================================================================

func (s *memState) GetCustomer(_ context.Context, id generic.CustomerID) (*generic.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memState) GetGame(_ context.Context, id generic.GameID) (*generic.Game, error) {
	g, ok := s.games[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *memState) SaveEvent(_ context.Context, e generic.WinLossEvent) error {
	s.events[e.ID] = e
	return nil
}

func (s *memState) GetEvent(_ context.Context, id generic.EventID) (*generic.WinLossEvent, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *memState) GetEntry(_ context.Context, key generic.LedgerKey) (*generic.LedgerEntry, error) {
	id, ok := s.entryKeys[keyOf(key)]
	if !ok {
		return nil, nil
	}
	e := s.entries[id]
	return &e, nil
}

func (s *memState) GetEntryByID(_ context.Context, id generic.EntryID) (*generic.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *memState) InsertEntry(_ context.Context, e generic.LedgerEntry) error {
	k := keyOf(e.Key())
	if _, exists := s.entryKeys[k]; exists {
		return generic.ErrDuplicateLedgerEntry
	}
	s.entries[e.ID] = e
	s.entryKeys[k] = e.ID
	return nil
}

func (s *memState) UpdateEntry(_ context.Context, e generic.LedgerEntry) error {
	cur, ok := s.entries[e.ID]
	if !ok {
		return fmt.Errorf("ledger entry %s not found", e.ID)
	}
	cur.Total = e.Total
	cur.NetLoss = e.NetLoss
	cur.Source = e.Source
	cur.UpdatedAt = e.UpdatedAt
	s.entries[e.ID] = cur
	return nil
}

func (s *memState) ListEntriesByDay(_ context.Context, day time.Time) ([]generic.LedgerEntry, error) {
	var result []generic.LedgerEntry
	for _, e := range s.entries {
		if e.Day.Equal(day) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CustomerID != result[j].CustomerID {
			return result[i].CustomerID < result[j].CustomerID
		}
		return result[i].GameID < result[j].GameID
	})
	return result, nil
}

func (s *memState) InsertTransaction(_ context.Context, tx generic.Transaction) error {
	if tx.Reference != "" {
		if _, exists := s.references[tx.Reference]; exists {
			return generic.ErrDuplicateReference
		}
		s.references[tx.Reference] = tx.ID
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *memState) GetTransaction(_ context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (s *memState) GetTransactionByReference(_ context.Context, ref string) (*generic.Transaction, error) {
	id, ok := s.references[ref]
	if !ok {
		return nil, nil
	}
	tx := s.transactions[id]
	return &tx, nil
}

func (s *memState) UpdateTransactionStatus(_ context.Context, id generic.TransactionID, status generic.TransactionStatus, notes string, at time.Time) error {
	tx, ok := s.transactions[id]
	if !ok {
		return generic.ErrTransactionNotFound
	}
	tx.Status = status
	tx.Notes = notes
	tx.UpdatedAt = at
	s.transactions[id] = tx
	return nil
}

func (s *memState) ListApprovedTransfers(_ context.Context, from, to time.Time) ([]generic.Transaction, error) {
	var result []generic.Transaction
	for _, tx := range s.transactions {
		if tx.Status != generic.StatusApproved || tx.GameID == nil {
			continue
		}
		if tx.Type != generic.TxDeposit && tx.Type != generic.TxWithdrawal {
			continue
		}
		if tx.Timestamp.Before(from) || !tx.Timestamp.Before(to) {
			continue
		}
		result = append(result, tx)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

func (s *memState) ListRebates(_ context.Context, prefix string) ([]generic.Transaction, error) {
	var result []generic.Transaction
	for _, tx := range s.transactions {
		if tx.Type == generic.TxRebate && strings.HasPrefix(tx.Reference, prefix) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Reference < result[j].Reference })
	return result, nil
}

func (s *memState) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	s.audits = append(s.audits, e)
	return nil
}

func (s *memState) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var result []generic.AuditEntry
	for i := len(s.audits) - 1; i >= 0; i-- {
		e := s.audits[i]
		if f.EntityKind != "" && e.EntityKind != f.EntityKind {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func (s *memState) SaveRun(_ context.Context, r generic.RebateRun) error {
	s.runs[r.ID] = r
	return nil
}

func (s *memState) ListRuns(_ context.Context, limit int) ([]generic.RebateRun, error) {
	result := make([]generic.RebateRun, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
