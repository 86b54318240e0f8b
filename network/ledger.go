/*
ledger.go - Signed value entries and balance computation

PURPOSE:
  The ledger is the source of truth for member funds. Every bonus,
  purchase payment and transfer is a signed entry partitioned into
  virtual (pending, awaiting the beneficiary's activation) and real
  (confirmed, withdrawable) funds.

INVARIANTS:
  1. Entries are never physically removed; Deleted is a soft flag
  2. A stored entry's value, type and beneficiary are immutable
  3. real balance    = sum(in, !virtual, !deleted) - sum(out, !virtual, !deleted)
     virtual balance = the same over virtual entries
  4. Corrections are compensating entries, linked by RelatedEntryID

SOFT DELETE AND COMPENSATION:
  Rejecting a purchase soft-deletes the entries it generated: the rows
  stay stored for audit, the balance no longer counts them. Undoing a
  deletion appends a compensating entry with the same direction and
  value, restoring the pre-delete balance (round-trip property).

VIRTUAL FUNDS:
  Bonuses paid to a not-yet-activated ancestor land as virtual entries.
  When the beneficiary crosses the activation threshold, MigrateVirtual
  flips their virtual entries to real in place.

SEE ALSO:
  - store.go: LedgerStore persistence contract
  - commission.go: The writer of bonus entries
  - approval.go: Reject/revert flows driving soft deletes
*/
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryType string

const (
	EntryIn  EntryType = "in"
	EntryOut EntryType = "out"
)

// Well-known entry names (semantic tags).
const (
	NameAffiliationBonus = "affiliation bonus"
	NameMigrationBonus   = "migration bonus"
	NameRemaining        = "remaining"
	NameActivation       = "activation"
	NameAffiliation      = "affiliation"
	NameWalletTransfer   = "wallet transfer"
	NameCompensation     = "compensation"
)

// LedgerEntry is one signed value entry. Value is always a positive
// magnitude; the sign is encoded by Type.
type LedgerEntry struct {
	ID           string
	UserID       string // beneficiary
	OriginUserID string // optional originating user, for trace
	Date         time.Time
	Type         EntryType
	Value        decimal.Decimal
	Virtual      bool
	Name         string
	Deleted      bool

	// Compensating-entry linkage.
	IsReversal     bool
	RelatedEntryID string
}

// NewEntryID mints a ledger entry id.
func NewEntryID() string { return uuid.NewString() }

// =============================================================================
// BALANCE - Computed, never stored
// =============================================================================

// Balance is a user's computed funds at read time.
type Balance struct {
	Real    decimal.Decimal // confirmed, withdrawable
	Virtual decimal.Decimal // pending the user's own activation
}

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger provides balance computation and the entry lifecycle over a
// LedgerStore.
type Ledger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store}
}

// Append validates and persists a new entry.
func (l *Ledger) Append(ctx context.Context, e *LedgerEntry) error {
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	if !e.Value.IsPositive() {
		return fmt.Errorf("ledger entry %s: value must be positive, got %s", e.ID, e.Value)
	}
	if e.Type != EntryIn && e.Type != EntryOut {
		return fmt.Errorf("ledger entry %s: unknown type %q", e.ID, e.Type)
	}
	return l.Store.AppendEntry(ctx, e)
}

// Balances computes the user's real and virtual balances from live entries.
func (l *Ledger) Balances(ctx context.Context, userID string) (Balance, error) {
	entries, err := l.Store.EntriesByUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}

	var b Balance
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		v := e.Value
		if e.Type == EntryOut {
			v = v.Neg()
		}
		if e.Virtual {
			b.Virtual = b.Virtual.Add(v)
		} else {
			b.Real = b.Real.Add(v)
		}
	}
	return b, nil
}

// SoftDelete flags an entry deleted. The row stays stored; the balance no
// longer counts it. Deleting twice is an InvalidState outcome.
func (l *Ledger) SoftDelete(ctx context.Context, id string) error {
	e, err := l.Store.FindEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.Deleted {
		return &InvalidStateError{Kind: "transaction", ID: id, Status: "deleted"}
	}
	e.Deleted = true
	return l.Store.UpdateEntry(ctx, e)
}

// Compensate undoes a soft delete by appending a compensating entry with
// the same direction, value and virtual flag, linked to the original.
// The post-compensation balance equals the pre-delete balance.
func (l *Ledger) Compensate(ctx context.Context, id string) (*LedgerEntry, error) {
	orig, err := l.Store.FindEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orig.Deleted {
		return nil, &InvalidStateError{Kind: "transaction", ID: id, Status: "live"}
	}

	comp := &LedgerEntry{
		ID:             NewEntryID(),
		UserID:         orig.UserID,
		OriginUserID:   orig.OriginUserID,
		Date:           time.Now(),
		Type:           orig.Type,
		Value:          orig.Value,
		Virtual:        orig.Virtual,
		Name:           NameCompensation,
		IsReversal:     true,
		RelatedEntryID: orig.ID,
	}
	if err := l.Store.AppendEntry(ctx, comp); err != nil {
		return nil, err
	}
	return comp, nil
}

// MigrateVirtual confirms all of the user's pending funds: every live
// virtual entry becomes real. Called when the beneficiary activates.
func (l *Ledger) MigrateVirtual(ctx context.Context, userID string) error {
	entries, err := l.Store.EntriesByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Virtual || e.Deleted {
			continue
		}
		e.Virtual = false
		if err := l.Store.UpdateEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Transfer moves confirmed funds between members. The sender's real
// balance must cover the amount.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	b, err := l.Balances(ctx, fromID)
	if err != nil {
		return err
	}
	if b.Real.LessThan(amount) {
		return &InsufficientBalanceError{UserID: fromID, Available: b.Real, Requested: amount}
	}

	now := time.Now()
	out := &LedgerEntry{
		ID:           NewEntryID(),
		UserID:       fromID,
		OriginUserID: toID,
		Date:         now,
		Type:         EntryOut,
		Value:        amount,
		Name:         NameWalletTransfer,
	}
	in := &LedgerEntry{
		ID:           NewEntryID(),
		UserID:       toID,
		OriginUserID: fromID,
		Date:         now,
		Type:         EntryIn,
		Value:        amount,
		Name:         NameWalletTransfer,
	}
	if err := l.Store.AppendEntry(ctx, out); err != nil {
		return err
	}
	return l.Store.AppendEntry(ctx, in)
}
