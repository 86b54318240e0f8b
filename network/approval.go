/*
approval.go - Purchase lifecycle: create, approve, reject, revert

PURPOSE:
  The Engine is the single entry point for every state-changing operation
  on the network. Purchases (affiliations and activations) are created
  pending, then approved or rejected by an administrator; approval is
  where money and points actually move: ledger disbursement, point
  credits, the upward cascade, activation latching and virtual-fund
  migration all happen here, inside one store transaction.

SEQUENCING:
  A single engine mutex serializes all mutations. Practical networks are
  small enough that one writer at a time is the correct trade; a
  mid-sequence fault inside WithTx rolls every write back, so an approval
  either fully lands or leaves no trace.

ROLLBACK MODEL:
  Every ledger entry generated by a purchase is recorded in the
  purchase's Transactions list. Reject and revert soft-delete those
  entries instead of removing them, keeping the audit trail intact.
  Activation flags are monotonic: reverting a purchase takes back points
  and money but never de-activates a member.

UPGRADE ACCUMULATOR:
  Activation spend accumulates in a two-slot array on the user. When the
  current plan's price plus the accumulated spend reaches a higher plan's
  price, the engine inserts an already-approved affiliation for the
  highest such plan and starts accumulating in the other slot.

SEE ALSO:
  - ledger.go: Append, soft delete, migration, transfer
  - commission.go: The disbursement walk invoked on approval
  - points.go: The cascade invoked after every point change
*/
package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine coordinates all mutations over a transactional store.
type Engine struct {
	Store TxStore
	Tree  *Tree
	Log   *zap.Logger

	// mu serializes mutations: approvals, moves, point edits.
	mu sync.Mutex
}

// NewEngine wires an Engine over a transactional store.
func NewEngine(store TxStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	agg := NewAggregator(store, store)
	return &Engine{
		Store: store,
		Tree:  NewTree(store, agg),
		Log:   log,
	}
}

// services bundles the per-transaction views of the engine's parts.
type services struct {
	store  Store
	ledger *Ledger
	points *Aggregator
	comm   *Commission
}

func newServices(s Store) *services {
	ledger := NewLedger(s)
	return &services{
		store:  s,
		ledger: ledger,
		points: NewAggregator(s, s),
		comm:   NewCommission(s, s, ledger),
	}
}

// snapshot builds a fresh tree view from the transaction's store, so
// subtree math inside an approval sees the writes made so far.
func (sv *services) snapshot(ctx context.Context) (*Snapshot, error) {
	nodes, err := sv.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	users, err := sv.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return BuildSnapshot(nodes, users), nil
}

// =============================================================================
// PURCHASE CREATION
// =============================================================================

// splitPayment divides price into [fromA, fromB, cash] where fromA and
// fromB are drawn greedily from the two available pools.
func splitPayment(price, poolA, poolB decimal.Decimal) [3]decimal.Decimal {
	a := decimal.Min(price, poolA)
	rest := price.Sub(a)
	b := decimal.Min(rest, poolB)
	cash := rest.Sub(b)
	return [3]decimal.Decimal{a, b, cash}
}

// CreateAffiliation submits a pending plan purchase for userID. With
// useBalance the price is split [virtual wallet, projected remaining
// pay, cash]: the virtual portion is debited immediately, the projected
// portion is settled against the remaining lump on approval.
func (e *Engine) CreateAffiliation(ctx context.Context, userID string, plan Plan, useBalance bool) (*Affiliation, error) {
	if !ValidPlan(plan) {
		return nil, &InvalidStateError{Kind: "plan", ID: string(plan), Status: "unknown"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var aff *Affiliation
	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)

		user, err := s.FindUser(ctx, userID)
		if err != nil {
			return err
		}

		price := Plans[plan].Amount
		aff = &Affiliation{
			ID:     uuid.NewString(),
			UserID: user.ID,
			Date:   time.Now(),
			Status: StatusPending,
			Plan:   plan,
			Price:  price,
		}

		if useBalance {
			bal, err := sv.ledger.Balances(ctx, user.ID)
			if err != nil {
				return err
			}
			snap, err := sv.snapshot(ctx)
			if err != nil {
				return err
			}
			projected := ProjectedRemaining(snap, user.ID)[plan]
			aff.Amounts = splitPayment(price, bal.Virtual, projected)

			// The virtual portion is spent now; the projected portion
			// only exists once the lump is paid, so it settles on
			// approval.
			if aff.Amounts[0].IsPositive() {
				entry := &LedgerEntry{
					UserID:  user.ID,
					Type:    EntryOut,
					Value:   aff.Amounts[0],
					Virtual: true,
					Name:    NameAffiliation,
				}
				if err := sv.ledger.Append(ctx, entry); err != nil {
					return err
				}
				aff.Transactions = append(aff.Transactions, entry.ID)
			}
		} else {
			aff.Amounts = [3]decimal.Decimal{decimal.Zero, decimal.Zero, price}
		}

		return s.InsertAffiliation(ctx, aff)
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("affiliation submitted",
		zap.String("affiliation", aff.ID),
		zap.String("user", aff.UserID),
		zap.String("plan", string(aff.Plan)))
	return aff, nil
}

// CreateActivation submits a pending product purchase. With useBalance
// the price is split [virtual wallet, real wallet, cash]; both wallet
// portions are debited immediately.
func (e *Engine) CreateActivation(ctx context.Context, userID string, products []ProductLine, useBalance bool) (*Activation, error) {
	if len(products) == 0 {
		return nil, &InvalidStateError{Kind: "activation", ID: userID, Status: "empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var act *Activation
	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)

		user, err := s.FindUser(ctx, userID)
		if err != nil {
			return err
		}

		price := decimal.Zero
		points := 0.0
		for _, p := range products {
			units := decimal.NewFromInt(int64(p.Units))
			price = price.Add(p.Price.Mul(units))
			points += p.Points * float64(p.Units)
		}

		act = &Activation{
			ID:       uuid.NewString(),
			UserID:   user.ID,
			Date:     time.Now(),
			Status:   StatusPending,
			Products: products,
			Price:    price,
			Points:   points,
		}

		if useBalance {
			bal, err := sv.ledger.Balances(ctx, user.ID)
			if err != nil {
				return err
			}
			act.Amounts = splitPayment(price, bal.Virtual, bal.Real)
			for i, virtual := range []bool{true, false} {
				if !act.Amounts[i].IsPositive() {
					continue
				}
				entry := &LedgerEntry{
					UserID:  user.ID,
					Type:    EntryOut,
					Value:   act.Amounts[i],
					Virtual: virtual,
					Name:    NameActivation,
				}
				if err := sv.ledger.Append(ctx, entry); err != nil {
					return err
				}
				act.Transactions = append(act.Transactions, entry.ID)
			}
		} else {
			act.Amounts = [3]decimal.Decimal{decimal.Zero, decimal.Zero, price}
		}

		return s.InsertActivation(ctx, act)
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("activation submitted",
		zap.String("activation", act.ID),
		zap.String("user", act.UserID),
		zap.Float64("points", act.Points))
	return act, nil
}

// =============================================================================
// AFFILIATION LIFECYCLE
// =============================================================================

// ApproveAffiliation confirms a pending plan purchase: the user takes
// the plan, commissions disburse upward, and for a first affiliation the
// subtree remaining lump is paid.
func (e *Engine) ApproveAffiliation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		aff, err := s.FindAffiliation(ctx, id)
		if err != nil {
			return err
		}
		if aff.Status != StatusPending {
			return &InvalidStateError{Kind: "affiliation", ID: aff.ID, Status: string(aff.Status)}
		}
		return e.approveAffiliationTx(ctx, newServices(s), aff)
	})
	if err != nil {
		return err
	}

	e.Tree.Invalidate()
	e.Log.Info("affiliation approved", zap.String("affiliation", id))
	return nil
}

// approveAffiliationTx applies an affiliation inside a transaction. It
// is shared by the admin approval path and the automatic upgrade.
func (e *Engine) approveAffiliationTx(ctx context.Context, sv *services, aff *Affiliation) error {
	user, err := sv.store.FindUser(ctx, aff.UserID)
	if err != nil {
		return err
	}
	prevPlan := user.Plan
	spec := Plans[aff.Plan]

	now := aff.Date
	user.Plan = aff.Plan
	user.Levels = spec.Levels
	user.AffiliationPoints = spec.AffiliationPoints
	user.Affiliated = true
	user.AffiliationDate = &now
	user.Activated = true
	user.SoftActivated = true
	if err := sv.store.UpdateUser(ctx, user); err != nil {
		return err
	}

	aff.Status = StatusApproved

	// Upgrades and re-affiliations pay the migration bonus; a first
	// affiliation pays the standard bonus plus the remaining lump.
	isMigration := prevPlan != PlanDefault
	txids, err := sv.comm.Disburse(ctx, user.ID, aff.Plan, aff.Price, isMigration)
	if err != nil {
		return err
	}
	aff.Transactions = append(aff.Transactions, txids...)

	if !isMigration {
		snap, err := sv.snapshot(ctx)
		if err != nil {
			return err
		}
		lump := RemainingLump(snap, user.ID, aff.Plan)
		if lump.IsPositive() {
			entry := &LedgerEntry{
				UserID: user.ID,
				Type:   EntryIn,
				Value:  lump,
				Name:   NameRemaining,
			}
			if err := sv.ledger.Append(ctx, entry); err != nil {
				return err
			}
			aff.Transactions = append(aff.Transactions, entry.ID)
		}

		// Settle the portion of the price pre-committed against the lump
		// at submission time.
		if aff.Amounts[1].IsPositive() {
			entry := &LedgerEntry{
				UserID: user.ID,
				Type:   EntryOut,
				Value:  aff.Amounts[1],
				Name:   NameRemaining,
			}
			if err := sv.ledger.Append(ctx, entry); err != nil {
				return err
			}
			aff.Transactions = append(aff.Transactions, entry.ID)
		}
	}

	if err := sv.ledger.MigrateVirtual(ctx, user.ID); err != nil {
		return err
	}
	if err := sv.store.UpdateAffiliation(ctx, aff); err != nil {
		return err
	}
	return sv.points.RecomputeCascade(ctx, user.ID)
}

// RejectAffiliation declines a pending purchase and takes back any
// wallet portion debited at submission.
func (e *Engine) RejectAffiliation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		aff, err := s.FindAffiliation(ctx, id)
		if err != nil {
			return err
		}
		if aff.Status != StatusPending {
			return &InvalidStateError{Kind: "affiliation", ID: aff.ID, Status: string(aff.Status)}
		}
		aff.Status = StatusRejected
		if err := softDeleteAll(ctx, sv.ledger, aff.Transactions); err != nil {
			return err
		}
		return s.UpdateAffiliation(ctx, aff)
	})
	if err != nil {
		return err
	}

	e.Log.Info("affiliation rejected", zap.String("affiliation", id))
	return nil
}

// RevertAffiliation undoes an approved plan purchase: its ledger entries
// are soft-deleted and the user falls back to the previous approved
// plan, or to default when none remains. Activation flags stay latched.
func (e *Engine) RevertAffiliation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		aff, err := s.FindAffiliation(ctx, id)
		if err != nil {
			return err
		}
		if aff.Status != StatusApproved {
			return &InvalidStateError{Kind: "affiliation", ID: aff.ID, Status: string(aff.Status)}
		}
		user, err := s.FindUser(ctx, aff.UserID)
		if err != nil {
			return err
		}

		if err := softDeleteAll(ctx, sv.ledger, aff.Transactions); err != nil {
			return err
		}
		if err := s.DeleteAffiliation(ctx, aff.ID); err != nil {
			return err
		}

		prev, err := latestApprovedAffiliation(ctx, s, user.ID)
		if err != nil {
			return err
		}
		if prev != nil {
			spec := Plans[prev.Plan]
			user.Plan = prev.Plan
			user.Levels = spec.Levels
			user.AffiliationPoints = spec.AffiliationPoints
			user.AffiliationDate = &prev.Date
		} else {
			user.Plan = PlanDefault
			user.Levels = 0
			user.AffiliationPoints = 0
			user.Affiliated = false
			user.AffiliationDate = nil
		}
		if err := s.UpdateUser(ctx, user); err != nil {
			return err
		}
		return sv.points.RecomputeCascade(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	e.Tree.Invalidate()
	e.Log.Info("affiliation reverted", zap.String("affiliation", id))
	return nil
}

func latestApprovedAffiliation(ctx context.Context, s Store, userID string) (*Affiliation, error) {
	approved, err := s.AffiliationsByUser(ctx, userID, StatusApproved)
	if err != nil {
		return nil, err
	}
	var latest *Affiliation
	for _, a := range approved {
		if latest == nil || a.Date.After(latest.Date) {
			latest = a
		}
	}
	return latest, nil
}

// =============================================================================
// ACTIVATION LIFECYCLE
// =============================================================================

// ApproveActivation confirms a pending product purchase: points are
// credited, activation flags latch at their thresholds, virtual funds
// migrate on full activation, and spend accumulates toward an automatic
// plan upgrade.
func (e *Engine) ApproveActivation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		act, err := s.FindActivation(ctx, id)
		if err != nil {
			return err
		}
		if act.Status != StatusPending {
			return &InvalidStateError{Kind: "activation", ID: act.ID, Status: string(act.Status)}
		}
		user, err := s.FindUser(ctx, act.UserID)
		if err != nil {
			return err
		}

		act.Status = StatusApproved
		if err := s.UpdateActivation(ctx, act); err != nil {
			return err
		}

		user.Points += act.Points
		if user.Points >= SoftActivationThreshold {
			user.SoftActivated = true
		}
		wasActivated := user.Activated
		if user.Points >= ActivationThreshold {
			user.Activated = true
		}
		if user.Activated && !wasActivated {
			if err := sv.ledger.MigrateVirtual(ctx, user.ID); err != nil {
				return err
			}
		}

		upgrade := e.accumulateUpgrade(user, act.Price)
		if err := s.UpdateUser(ctx, user); err != nil {
			return err
		}
		if err := sv.points.RecomputeCascade(ctx, user.ID); err != nil {
			return err
		}

		if upgrade != PlanDefault {
			aff := &Affiliation{
				ID:     uuid.NewString(),
				UserID: user.ID,
				Date:   time.Now(),
				Status: StatusPending,
				Plan:   upgrade,
				Price:  Plans[upgrade].Amount,
			}
			if err := s.InsertAffiliation(ctx, aff); err != nil {
				return err
			}
			if err := e.approveAffiliationTx(ctx, sv, aff); err != nil {
				return fmt.Errorf("auto upgrade to %s: %w", upgrade, err)
			}
			e.Log.Info("plan auto-upgraded",
				zap.String("user", user.ID),
				zap.String("plan", string(upgrade)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.Tree.Invalidate()
	e.Log.Info("activation approved", zap.String("activation", id))
	return nil
}

// accumulateUpgrade adds an activation's price to the user's upgrade
// accumulator. When the current plan's price plus the accumulated spend
// covers a higher plan, that plan is returned (highest reachable) and
// accumulation restarts in the other slot. Returns PlanDefault when no
// upgrade fires.
func (e *Engine) accumulateUpgrade(user *User, price decimal.Decimal) Plan {
	if user.Plan == PlanDefault {
		return PlanDefault
	}
	user.UpgradeArr[user.UpgradePos] = user.UpgradeArr[user.UpgradePos].Add(price)

	covered := Plans[user.Plan].Amount.Add(user.UpgradeArr[user.UpgradePos])
	target := PlanDefault
	for _, p := range planOrder {
		if Plans[p].Amount.GreaterThan(Plans[user.Plan].Amount) && covered.GreaterThanOrEqual(Plans[p].Amount) {
			target = p
		}
	}
	if target != PlanDefault {
		user.UpgradePos = (user.UpgradePos + 1) % len(user.UpgradeArr)
		user.UpgradeArr[user.UpgradePos] = decimal.Zero
	}
	return target
}

// RejectActivation declines a pending product purchase, refunding any
// wallet portion via soft delete.
func (e *Engine) RejectActivation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		act, err := s.FindActivation(ctx, id)
		if err != nil {
			return err
		}
		if act.Status != StatusPending {
			return &InvalidStateError{Kind: "activation", ID: act.ID, Status: string(act.Status)}
		}
		act.Status = StatusRejected
		if err := softDeleteAll(ctx, sv.ledger, act.Transactions); err != nil {
			return err
		}
		return s.UpdateActivation(ctx, act)
	})
	if err != nil {
		return err
	}

	e.Log.Info("activation rejected", zap.String("activation", id))
	return nil
}

// RevertActivation undoes an approved product purchase: points come
// back out and its entries are soft-deleted. Activation flags are
// monotonic and stay latched.
func (e *Engine) RevertActivation(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		act, err := s.FindActivation(ctx, id)
		if err != nil {
			return err
		}
		if act.Status != StatusApproved {
			return &InvalidStateError{Kind: "activation", ID: act.ID, Status: string(act.Status)}
		}
		user, err := s.FindUser(ctx, act.UserID)
		if err != nil {
			return err
		}

		act.Status = StatusRejected
		if err := s.UpdateActivation(ctx, act); err != nil {
			return err
		}
		if err := softDeleteAll(ctx, sv.ledger, act.Transactions); err != nil {
			return err
		}

		user.Points -= act.Points
		if user.Points < 0 {
			user.Points = 0
		}
		if err := s.UpdateUser(ctx, user); err != nil {
			return err
		}
		return sv.points.RecomputeCascade(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	e.Tree.Invalidate()
	e.Log.Info("activation reverted", zap.String("activation", id))
	return nil
}

func softDeleteAll(ctx context.Context, l *Ledger, ids []string) error {
	for _, id := range ids {
		if err := l.SoftDelete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// OTHER MUTATIONS
// =============================================================================

// Move relocates a member under a new sponsor. See Tree.Move for the
// validation rules.
func (e *Engine) Move(ctx context.Context, subjectID, newParentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Tree.Move(ctx, subjectID, newParentID)
}

// SetPoints is the manual point correction used by administrators. The
// activation flags latch exactly as they do for an approved purchase.
func (e *Engine) SetPoints(ctx context.Context, userID string, points float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		user, err := s.FindUser(ctx, userID)
		if err != nil {
			return err
		}
		user.Points = points
		if user.Points >= SoftActivationThreshold {
			user.SoftActivated = true
		}
		wasActivated := user.Activated
		if user.Points >= ActivationThreshold {
			user.Activated = true
		}
		if user.Activated && !wasActivated {
			if err := sv.ledger.MigrateVirtual(ctx, user.ID); err != nil {
				return err
			}
		}
		if err := s.UpdateUser(ctx, user); err != nil {
			return err
		}
		return sv.points.RecomputeCascade(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	e.Tree.Invalidate()
	e.Log.Info("points set", zap.String("user", userID), zap.Float64("points", points))
	return nil
}

// Transfer moves real funds between member wallets.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.Store.WithTx(ctx, func(s Store) error {
		for _, id := range []string{fromID, toID} {
			if _, err := s.FindUser(ctx, id); err != nil {
				return err
			}
		}
		return NewLedger(s).Transfer(ctx, fromID, toID, amount)
	})
}
