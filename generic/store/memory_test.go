package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/winloss-engine/generic"
)

var cal = generic.MustBusinessCalendar("Asia/Manila")

func transfer(id string, txType generic.TransactionType, status generic.TransactionStatus, at time.Time) generic.Transaction {
	return generic.Transaction{
		ID: generic.TransactionID(id), CustomerID: 1, GameID: generic.GamePtr(2),
		Type: txType, Direction: generic.DirectionCredit, Status: status,
		Amount: decimal.NewFromInt(10), Reference: "REF-" + id, Timestamp: at,
	}
}

func TestMemory_Uniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := cal.AnchorDate(2025, 3, 10)

	entry := generic.LedgerEntry{ID: "e1", CustomerID: 1, GameID: 2, Day: day, Source: generic.SourceRecorder}
	require.NoError(t, m.InsertEntry(ctx, entry))

	entry.ID = "e2"
	assert.ErrorIs(t, m.InsertEntry(ctx, entry), generic.ErrDuplicateLedgerEntry)

	require.NoError(t, m.InsertTransaction(ctx, transfer("t1", generic.TxRebate, generic.StatusPending, day)))
	dup := transfer("t2", generic.TxRebate, generic.StatusPending, day)
	dup.Reference = "REF-t1"
	assert.ErrorIs(t, m.InsertTransaction(ctx, dup), generic.ErrDuplicateReference)

	// empty references never collide
	a := transfer("t3", generic.TxDeposit, generic.StatusApproved, day)
	b := transfer("t4", generic.TxDeposit, generic.StatusApproved, day)
	a.Reference, b.Reference = "", ""
	require.NoError(t, m.InsertTransaction(ctx, a))
	require.NoError(t, m.InsertTransaction(ctx, b))
}

func TestMemory_UpdateMissingEntryFails(t *testing.T) {
	m := NewMemory()
	err := m.UpdateEntry(context.Background(), generic.LedgerEntry{ID: "missing"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, generic.ErrDuplicateLedgerEntry)

	err = m.UpdateTransactionStatus(context.Background(), "missing", generic.StatusApproved, "", time.Now())
	assert.ErrorIs(t, err, generic.ErrTransactionNotFound)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := cal.AnchorDate(2025, 3, 10)
	boom := errors.New("boom")

	// GIVEN: a transaction that writes and then fails
	err := m.WithTx(ctx, func(s generic.Store) error {
		require.NoError(t, s.InsertEntry(ctx, generic.LedgerEntry{ID: "e1", CustomerID: 1, GameID: 2, Day: day}))
		require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{ID: "a1", Action: generic.AuditCreate}))
		return boom
	})

	// THEN: nothing is visible afterwards
	assert.ErrorIs(t, err, boom)
	got, err := m.GetEntryByID(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, m.AuditEntries())

	// AND: a successful transaction commits
	require.NoError(t, m.WithTx(ctx, func(s generic.Store) error {
		return s.InsertEntry(ctx, generic.LedgerEntry{ID: "e1", CustomerID: 1, GameID: 2, Day: day})
	}))
	got, err = m.GetEntry(ctx, generic.LedgerKey{CustomerID: 1, GameID: 2, Day: day})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, generic.EntryID("e1"), got.ID)
}

func TestMemory_ApprovedTransfersHalfOpenRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start, end := cal.DayRange(cal.AnchorDate(2025, 3, 10))

	noGame := transfer("no-game", generic.TxDeposit, generic.StatusApproved, start)
	noGame.GameID = nil
	for _, tx := range []generic.Transaction{
		transfer("at-start", generic.TxDeposit, generic.StatusApproved, start),
		transfer("inside", generic.TxWithdrawal, generic.StatusApproved, end.Add(-time.Nanosecond)),
		transfer("at-end", generic.TxDeposit, generic.StatusApproved, end),
		transfer("before", generic.TxDeposit, generic.StatusApproved, start.Add(-time.Second)),
		transfer("pending", generic.TxDeposit, generic.StatusPending, start.Add(time.Hour)),
		transfer("rebate", generic.TxRebate, generic.StatusApproved, start.Add(time.Hour)),
		noGame,
	} {
		require.NoError(t, m.InsertTransaction(ctx, tx))
	}

	got, err := m.ListApprovedTransfers(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.TransactionID("at-start"), got[0].ID)
	assert.Equal(t, generic.TransactionID("inside"), got[1].ID)
}

func TestMemory_AuditAndRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, m.AppendAudit(ctx, generic.AuditEntry{
			ID: "a-" + id, ActorID: "ops", EntityKind: "rebate", EntityID: id,
			Action: generic.AuditApprove, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
		require.NoError(t, m.SaveRun(ctx, generic.RebateRun{
			ID: id, Trigger: generic.TriggerManual, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	audits, err := m.QueryAudit(ctx, generic.AuditFilter{EntityKind: "rebate", Limit: 2})
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "r3", audits[0].EntityID)
	assert.Equal(t, "r2", audits[1].EntityID)

	byEntity, err := m.QueryAudit(ctx, generic.AuditFilter{EntityID: "r1"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 1)

	runs, err := m.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveCustomer(ctx, generic.Customer{ID: 1, Name: "alice", Enabled: true}))
	require.NoError(t, m.InsertTransaction(ctx, transfer("t1", generic.TxRebate, generic.StatusPending, time.Now())))

	require.NoError(t, m.Reset(ctx))

	c, err := m.GetCustomer(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, c)
	tx, err := m.GetTransactionByReference(ctx, "REF-t1")
	require.NoError(t, err)
	assert.Nil(t, tx)
}
