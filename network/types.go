/*
Package network provides the core compensation-network engine.

PURPOSE:
  This package contains the data structures and algorithms that keep a
  multi-level affiliate network consistent: a strictly-ordered sponsor
  tree, a cascading group-volume aggregate, multi-level commission
  disbursement on purchase approval, and rank computation from capped
  per-leg volume.

KEY CONCEPTS IN THIS FILE (types.go):
  - Plan: A purchasable commercial tier (basic..master) with fixed payout rates
  - Rank: An ordered achievement tier (none..DIAMANTE ESTRELLA)
  - User: Identity plus commercial state (plan, points, activation flags)
  - TreeNode: One node of the sponsor tree (ordered childs, parent link)
  - Affiliation/Activation: Purchase events moving through pending/approved/rejected

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money values, float64 only for
     rank volume math where the payout formulas are defined in floats
  2. One canonical id type: string, everywhere
  3. Derived state (total_points, rank) is recomputed, never incremented
  4. Payout rates and rank thresholds are fixed business constants

SEE ALSO:
  - ledger.go: Signed value entries and balance computation
  - tree.go: Tree snapshot, lookup and move validation
  - commission.go: The payout tables defined here in action
  - rank.go: The rank ladder defined here in action
*/
package network

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN - Purchasable commercial tier
// =============================================================================

type Plan string

const (
	PlanDefault  Plan = "default"
	PlanPreBasic Plan = "pre-basic"
	PlanBasic    Plan = "basic"
	PlanStandard Plan = "standard"
	PlanBusiness Plan = "business"
	PlanMaster   Plan = "master"
)

// planOrder is the upgrade ladder, cheapest first.
var planOrder = []Plan{PlanPreBasic, PlanBasic, PlanStandard, PlanBusiness, PlanMaster}

// PlanSpec carries the fixed commercial constants of a plan.
// These are business constants, not configuration.
type PlanSpec struct {
	ID Plan

	// Amount is the plan price; it is also the disbursement base for the
	// level-by-level bonus walk.
	Amount decimal.Decimal

	// Levels is how many downline levels a holder of this plan collects
	// bonuses from (the "n" of the compensation table).
	Levels int

	// AffiliationPoints is the bonus volume credited on approval.
	AffiliationPoints float64

	// Rate is the plan's own affiliation rate, used for the subtree
	// "remaining" lump (10/20/30/40%).
	Rate decimal.Decimal

	// LevelRates pays level i of the walk for ancestors holding this plan.
	LevelRates []decimal.Decimal
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Plans is the fixed plan catalog, keyed by plan id.
//
// The level rate table reproduces the compensation contract verbatim:
//   pre-basic pays nothing
//   basic     pays only level 0 at 10%
//   standard  pays 20% / 2% / 2%
//   business  pays 30% / 2% / 5% / 1%
//   master    pays 40% / 2% / 5% / 1% / 0.5%
var Plans = map[Plan]PlanSpec{
	PlanPreBasic: {
		ID:     PlanPreBasic,
		Amount: d("25"),
		Rate:   decimal.Zero,
	},
	PlanBasic: {
		ID:                PlanBasic,
		Amount:            d("50"),
		Levels:            1,
		AffiliationPoints: 50,
		Rate:              d("0.1"),
		LevelRates:        []decimal.Decimal{d("0.1")},
	},
	PlanStandard: {
		ID:                PlanStandard,
		Amount:            d("150"),
		Levels:            3,
		AffiliationPoints: 150,
		Rate:              d("0.2"),
		LevelRates:        []decimal.Decimal{d("0.2"), d("0.02"), d("0.02")},
	},
	PlanBusiness: {
		ID:                PlanBusiness,
		Amount:            d("300"),
		Levels:            4,
		AffiliationPoints: 300,
		Rate:              d("0.3"),
		LevelRates:        []decimal.Decimal{d("0.3"), d("0.02"), d("0.05"), d("0.01")},
	},
	PlanMaster: {
		ID:                PlanMaster,
		Amount:            d("500"),
		Levels:            5,
		AffiliationPoints: 500,
		Rate:              d("0.4"),
		LevelRates:        []decimal.Decimal{d("0.4"), d("0.02"), d("0.05"), d("0.01"), d("0.005")},
	},
}

// ValidPlan reports whether p names a purchasable tier (default is not one).
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}

// Activation thresholds (points). The lower gate latches _activated, the
// full gate latches activated and confirms virtual funds.
const (
	SoftActivationThreshold = 60
	ActivationThreshold     = 100
)

// MaxBonusDepth caps the upward commission walk: levels 0..4.
const MaxBonusDepth = 4

// =============================================================================
// RANK - Ordered achievement ladder
// =============================================================================

type Rank string

const (
	RankNone           Rank = "none"
	RankActive         Rank = "active"
	RankStar           Rank = "star"
	RankMaster         Rank = "master"
	RankSilver         Rank = "silver"
	RankGold           Rank = "gold"
	RankSapphire       Rank = "sapphire"
	RankRubi           Rank = "RUBI"
	RankDiamante       Rank = "DIAMANTE"
	RankDobleDiamante  Rank = "DOBLE DIAMANTE"
	RankTripleDiamante Rank = "TRIPLE DIAMANTE"
	RankEstrella       Rank = "DIAMANTE ESTRELLA"
)

// rankOrder positions each rank on the ladder. Unknown ranks sort below none.
var rankOrder = map[Rank]int{
	RankNone:           -1,
	RankActive:         0,
	RankStar:           1,
	RankMaster:         2,
	RankSilver:         3,
	RankGold:           4,
	RankSapphire:       5,
	RankRubi:           6,
	RankDiamante:       7,
	RankDobleDiamante:  8,
	RankTripleDiamante: 9,
	RankEstrella:       10,
}

// AtLeast reports whether r sits at or above other on the ladder.
func (r Rank) AtLeast(other Rank) bool {
	i, ok := rankOrder[r]
	if !ok {
		i = -2
	}
	j, ok := rankOrder[other]
	if !ok {
		j = -2
	}
	return i >= j
}

// =============================================================================
// USER - Identity plus commercial state
// =============================================================================

type User struct {
	ID       string
	DNI      string // secondary business key (national id)
	Name     string
	LastName string
	Email    string
	Phone    string
	Country  string

	// ParentID is the sponsor's id. Nullable only for the root.
	ParentID string

	Plan   Plan
	Levels int // payable levels for the current plan (Plans[Plan].Levels)

	// Points is own purchase volume; AffiliationPoints is bonus volume
	// credited by the affiliation plan. TotalPoints is the cached group
	// volume: own + affiliation + sum of descendants' TotalPoints.
	Points            float64
	AffiliationPoints float64
	TotalPoints       float64

	// Activated latches at 100 accumulated points and never reverts.
	// SoftActivated (the original's _activated) latches at 60.
	Activated     bool
	SoftActivated bool

	// Affiliated means at least one approved affiliation.
	Affiliated      bool
	AffiliationDate *time.Time

	Rank Rank

	// Closed users are excluded from team counts and remaining pay.
	Closed bool

	// UpgradeArr/UpgradePos accumulate activation spend toward an
	// automatic plan upgrade (two-slot accumulator).
	UpgradeArr [2]decimal.Decimal
	UpgradePos int

	CreatedAt time.Time
}

// =============================================================================
// TREE NODE - 1:1 with User by id
// =============================================================================

// TreeNode is one node of the sponsor tree. Childs is ordered: insertion
// order is enrollment order, and ORDER IS SIGNIFICANT (the first leg gets
// a higher capped rate in rank computation).
type TreeNode struct {
	ID     string
	Parent string // empty for the root
	Childs []string
}

// HasChild reports whether id is a direct child of n.
func (n *TreeNode) HasChild(id string) bool {
	for _, c := range n.Childs {
		if c == id {
			return true
		}
	}
	return false
}

// =============================================================================
// PURCHASE EVENTS - Affiliation and Activation
// =============================================================================

type PurchaseStatus string

const (
	StatusPending  PurchaseStatus = "pending"
	StatusApproved PurchaseStatus = "approved"
	StatusRejected PurchaseStatus = "rejected"
)

// ProductLine is one product row of an activation purchase.
type ProductLine struct {
	ProductID string
	Units     int
	Price     decimal.Decimal
	Points    float64
}

// Affiliation is the plan-purchase event that enrolls a user commercially.
type Affiliation struct {
	ID     string
	UserID string
	Date   time.Time
	Status PurchaseStatus
	Plan   Plan
	Price  decimal.Decimal

	// Amounts is the [virtual, expected-pay, cash] payment split computed
	// at submission time. Amounts[1] is settled as a "remaining" out entry
	// on approval.
	Amounts [3]decimal.Decimal

	// Transactions lists generated ledger entry ids, for rollback on
	// reject/revert.
	Transactions []string
}

// Activation is a product purchase accumulating points toward activation.
type Activation struct {
	ID       string
	UserID   string
	Date     time.Time
	Status   PurchaseStatus
	Products []ProductLine
	Price    decimal.Decimal
	Points   float64

	// Amounts is the [virtual, real, cash] payment split.
	Amounts [3]decimal.Decimal

	Transactions []string
}
