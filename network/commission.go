/*
commission.go - Multi-level bonus disbursement

PURPOSE:
  When an affiliation is approved, two independent payout paths run:

  1. THE LEVEL WALK: climb from the purchaser's sponsor upward, paying
     each qualifying ancestor a plan-indexed percentage of the purchase
     amount, one level at a time, for at most five levels (i = 0..4).

  2. THE REMAINING LUMP: scan the purchaser's ENTIRE subtree and pay the
     purchaser one lump sum for every direct-sponsor recruit, at the
     purchased plan's own rate over fixed per-plan base amounts.

LEVEL WALK RULES:
  - An ancestor qualifies when its plan is not default AND the level index
    is within the ancestor's payable levels (i <= n-1).
  - The rate is LevelRates[ancestor.plan][i], overridden to a flat 10%
    when the purchased plan is basic.
  - pre-basic purchases pay nothing at all.
  - The entry is virtual unless the ancestor is activated.
  - The walk stops at level 4, at a missing parent (dangling chains stop
    silently - historical data may have orphans), or after the single
    level a basic purchase pays.

EVERY generated entry id is returned so the purchase can record them for
compensating rollback on reject/revert.

SEE ALSO:
  - types.go: The fixed rate tables
  - ledger.go: Virtual vs real entries
  - approval.go: The approval flow invoking both paths
*/
package network

import (
	"context"

	"github.com/shopspring/decimal"
)

// remainingBase is the fixed per-plan base amount a direct recruit
// contributes to the sponsor's remaining lump.
var remainingBase = map[Plan]decimal.Decimal{
	PlanBasic:    d("50"),
	PlanStandard: d("150"),
	PlanBusiness: d("300"),
	PlanMaster:   d("500"),
}

// flatBasicRate pays level 0 of a basic purchase regardless of the
// ancestor's own table.
var flatBasicRate = d("0.1")

// =============================================================================
// COMMISSION ENGINE
// =============================================================================

type Commission struct {
	Users  UserStore
	Nodes  TreeStore
	Ledger *Ledger
}

func NewCommission(users UserStore, nodes TreeStore, ledger *Ledger) *Commission {
	return &Commission{Users: users, Nodes: nodes, Ledger: ledger}
}

// Disburse runs the level walk for a purchase of plan/amount by
// purchaserID. Returns the ids of every ledger entry it created.
// isMigration switches the entry tag from "affiliation bonus" to
// "migration bonus" (upgrades of already-affiliated members).
func (c *Commission) Disburse(ctx context.Context, purchaserID string, plan Plan, amount decimal.Decimal, isMigration bool) ([]string, error) {
	if plan == PlanPreBasic || !ValidPlan(plan) {
		return nil, nil
	}

	purchaser, err := c.Users.FindUser(ctx, purchaserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	name := NameAffiliationBonus
	if isMigration {
		name = NameMigrationBonus
	}

	var created []string
	ancestorID := purchaser.ParentID

	for i := 0; i <= MaxBonusDepth; i++ {
		if ancestorID == "" {
			break
		}
		ancestor, err := c.Users.FindUser(ctx, ancestorID)
		if err != nil {
			if IsNotFound(err) {
				break // dangling chain: stop silently
			}
			return nil, err
		}
		node, err := c.Nodes.FindNode(ctx, ancestorID)
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, err
		}

		if ancestor.Plan != PlanDefault && i <= ancestor.Levels-1 {
			rate := flatBasicRate
			if plan != PlanBasic {
				rates := Plans[ancestor.Plan].LevelRates
				if i < len(rates) {
					rate = rates[i]
				} else {
					rate = decimal.Zero
				}
			}

			if rate.IsPositive() {
				entry := &LedgerEntry{
					ID:           NewEntryID(),
					UserID:       ancestor.ID,
					OriginUserID: purchaserID,
					Type:         EntryIn,
					Value:        rate.Mul(amount),
					Virtual:      !ancestor.Activated,
					Name:         name,
				}
				if err := c.Ledger.Append(ctx, entry); err != nil {
					return nil, err
				}
				created = append(created, entry.ID)
			}
		}

		// Basic purchases pay a single level.
		if plan == PlanBasic {
			break
		}
		ancestorID = node.Parent
	}

	return created, nil
}

// =============================================================================
// REMAINING LUMP
// =============================================================================

// RemainingLump totals the purchaser's subtree contribution: every
// descendant directly sponsored by the purchaser (ParentID match) and not
// closed contributes its plan's base amount, scaled by the purchased
// plan's own rate. Pure over the snapshot.
func RemainingLump(s *Snapshot, purchaserID string, plan Plan) decimal.Decimal {
	rate := Plans[plan].Rate
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return remainingBaseSum(s, purchaserID).Mul(rate)
}

// ProjectedRemaining previews the remaining lump a user would collect for
// each purchasable plan. The purchase endpoint uses it to offer paying
// part of the price with expected earnings.
func ProjectedRemaining(s *Snapshot, userID string) map[Plan]decimal.Decimal {
	base := remainingBaseSum(s, userID)
	out := make(map[Plan]decimal.Decimal, len(planOrder))
	for _, p := range planOrder {
		out[p] = base.Mul(Plans[p].Rate)
	}
	return out
}

func remainingBaseSum(s *Snapshot, rootID string) decimal.Decimal {
	sum := decimal.Zero
	for _, id := range s.Descendants(rootID) {
		u := s.User(id)
		if u == nil || u.Closed || u.ParentID != rootID {
			continue
		}
		if base, ok := remainingBase[u.Plan]; ok {
			sum = sum.Add(base)
		}
	}
	return sum
}
