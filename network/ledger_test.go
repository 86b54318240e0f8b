package network_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/network-engine/network"
	"github.com/orbit/network-engine/network/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) *network.Ledger {
	t.Helper()
	return network.NewLedger(store.NewMemory())
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func appendEntry(t *testing.T, l *network.Ledger, userID string, typ network.EntryType, value string, virtual bool) *network.LedgerEntry {
	t.Helper()
	e := &network.LedgerEntry{
		UserID:  userID,
		Type:    typ,
		Value:   dec(t, value),
		Virtual: virtual,
		Name:    "test",
	}
	require.NoError(t, l.Append(context.Background(), e))
	return e
}

// =============================================================================
// BALANCE COMPUTATION
// =============================================================================

func TestLedger_Balances_PartitionsRealAndVirtual(t *testing.T) {
	// GIVEN: A member with real credits/debits and a virtual credit
	// WHEN: Computing balances
	// THEN: real = in - out over real entries, virtual over virtual entries

	l := newTestLedger(t)
	ctx := context.Background()

	appendEntry(t, l, "u1", network.EntryIn, "100", false)
	appendEntry(t, l, "u1", network.EntryOut, "30", false)
	appendEntry(t, l, "u1", network.EntryIn, "20", true)

	b, err := l.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, b.Real.Equal(dec(t, "70")), "real balance: got %s", b.Real)
	assert.True(t, b.Virtual.Equal(dec(t, "20")), "virtual balance: got %s", b.Virtual)
}

func TestLedger_Balances_EmptyUser(t *testing.T) {
	// GIVEN: A member with no ledger history
	// WHEN: Computing balances
	// THEN: Both balances are zero

	l := newTestLedger(t)

	b, err := l.Balances(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, b.Real.IsZero())
	assert.True(t, b.Virtual.IsZero())
}

func TestLedger_Append_RejectsNonPositiveValue(t *testing.T) {
	// GIVEN: An entry with zero value
	// WHEN: Appending it
	// THEN: The ledger rejects it (sign lives in Type, not Value)

	l := newTestLedger(t)

	err := l.Append(context.Background(), &network.LedgerEntry{
		UserID: "u1",
		Type:   network.EntryIn,
		Value:  decimal.Zero,
	})
	assert.Error(t, err)
}

func TestLedger_Append_RejectsUnknownType(t *testing.T) {
	l := newTestLedger(t)

	err := l.Append(context.Background(), &network.LedgerEntry{
		UserID: "u1",
		Type:   network.EntryType("sideways"),
		Value:  dec(t, "10"),
	})
	assert.Error(t, err)
}

// =============================================================================
// SOFT DELETE AND COMPENSATION
// =============================================================================

func TestLedger_SoftDelete_ExcludesFromBalance(t *testing.T) {
	// GIVEN: A member with a 100 credit and a 40 credit
	// WHEN: Soft-deleting the 40 credit
	// THEN: The balance drops to 100 and the entry is still stored

	l := newTestLedger(t)
	ctx := context.Background()

	appendEntry(t, l, "u1", network.EntryIn, "100", false)
	e := appendEntry(t, l, "u1", network.EntryIn, "40", false)

	require.NoError(t, l.SoftDelete(ctx, e.ID))

	b, err := l.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, b.Real.Equal(dec(t, "100")))

	stored, err := l.Store.FindEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted, "entry must stay stored, flagged deleted")
}

func TestLedger_SoftDelete_Twice_InvalidState(t *testing.T) {
	// GIVEN: An already soft-deleted entry
	// WHEN: Deleting it again
	// THEN: InvalidState, no change

	l := newTestLedger(t)
	ctx := context.Background()

	e := appendEntry(t, l, "u1", network.EntryIn, "40", false)
	require.NoError(t, l.SoftDelete(ctx, e.ID))

	err := l.SoftDelete(ctx, e.ID)
	assert.ErrorIs(t, err, network.ErrInvalidState)
}

func TestLedger_Compensate_RestoresPreDeleteBalance(t *testing.T) {
	// GIVEN: A deleted 40 credit
	// WHEN: Compensating the deletion
	// THEN: The balance equals the pre-delete balance, via a linked
	//       compensating entry rather than un-deleting the original

	l := newTestLedger(t)
	ctx := context.Background()

	appendEntry(t, l, "u1", network.EntryIn, "100", false)
	e := appendEntry(t, l, "u1", network.EntryIn, "40", false)
	require.NoError(t, l.SoftDelete(ctx, e.ID))

	comp, err := l.Compensate(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, comp.IsReversal)
	assert.Equal(t, e.ID, comp.RelatedEntryID)
	assert.Equal(t, network.NameCompensation, comp.Name)

	b, err := l.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, b.Real.Equal(dec(t, "140")), "round-trip balance: got %s", b.Real)

	orig, err := l.Store.FindEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, orig.Deleted, "original stays deleted")
}

func TestLedger_Compensate_LiveEntry_InvalidState(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	e := appendEntry(t, l, "u1", network.EntryIn, "40", false)

	_, err := l.Compensate(ctx, e.ID)
	assert.ErrorIs(t, err, network.ErrInvalidState)
}

// =============================================================================
// VIRTUAL FUND MIGRATION
// =============================================================================

func TestLedger_MigrateVirtual_ConfirmsPendingFunds(t *testing.T) {
	// GIVEN: A member with virtual credits, one of them soft-deleted
	// WHEN: MigrateVirtual runs (the member activated)
	// THEN: Live virtual entries become real; deleted ones are untouched

	l := newTestLedger(t)
	ctx := context.Background()

	appendEntry(t, l, "u1", network.EntryIn, "25", true)
	appendEntry(t, l, "u1", network.EntryIn, "15", true)
	dead := appendEntry(t, l, "u1", network.EntryIn, "99", true)
	require.NoError(t, l.SoftDelete(ctx, dead.ID))

	require.NoError(t, l.MigrateVirtual(ctx, "u1"))

	b, err := l.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, b.Real.Equal(dec(t, "40")))
	assert.True(t, b.Virtual.IsZero())

	stored, err := l.Store.FindEntry(ctx, dead.ID)
	require.NoError(t, err)
	assert.True(t, stored.Virtual, "deleted entries keep their virtual flag")
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestLedger_Transfer_MovesRealFunds(t *testing.T) {
	// GIVEN: A sender with real 100
	// WHEN: Transferring 60 to another member
	// THEN: Sender holds 40, receiver holds 60, both legs traced

	l := newTestLedger(t)
	ctx := context.Background()

	appendEntry(t, l, "alice", network.EntryIn, "100", false)

	require.NoError(t, l.Transfer(ctx, "alice", "bob", dec(t, "60")))

	ba, err := l.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ba.Real.Equal(dec(t, "40")))

	bb, err := l.Balances(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bb.Real.Equal(dec(t, "60")))

	entries, err := l.Store.EntriesByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, network.NameWalletTransfer, entries[0].Name)
	assert.Equal(t, "alice", entries[0].OriginUserID)
}

func TestLedger_Transfer_InsufficientBalance(t *testing.T) {
	// GIVEN: A sender with real 10 and virtual 1000
	// WHEN: Transferring 50
	// THEN: Rejected; virtual funds never cover a transfer

	l := newTestLedger(t)
	ctx := context.Background()

	appendEntry(t, l, "alice", network.EntryIn, "10", false)
	appendEntry(t, l, "alice", network.EntryIn, "1000", true)

	err := l.Transfer(ctx, "alice", "bob", dec(t, "50"))
	assert.ErrorIs(t, err, network.ErrInsufficientBalance)

	bb, err := l.Balances(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bb.Real.IsZero(), "no partial transfer")
}

func TestLedger_Transfer_RejectsNonPositiveAmount(t *testing.T) {
	l := newTestLedger(t)

	err := l.Transfer(context.Background(), "alice", "bob", decimal.Zero)
	assert.Error(t, err)
}
