/*
rank.go - Rank computation from capped per-leg volume

PURPOSE:
  A member's rank derives from the group volume of their immediate legs
  (one leg = one direct child's subtree), with each leg's contribution
  CAPPED at a fixed fraction of the tier basis so no single leg can carry
  a rank alone. The first (largest) leg is allowed a higher fraction than
  the rest.

TWO LADDERS:
  1. VOLUME TIERS (star..RUBI): pass when the member has enough legs and
     the capped leg sum reaches the basis.
  2. TOP TIERS (DIAMANTE..DIAMANTE ESTRELLA): additionally require a
     minimum number of QUALIFYING legs - a leg qualifies when ANY node in
     that child's subtree holds at least a given sub-rank. A passing top
     tier overrides the volume tier.

THE CAP:
  cappedSum = sum over legs of min(leg[i], (i==0 ? r0 : r1) * basis)
  Tier passes when legs >= n and cappedSum >= basis.

  All thresholds and fractions below are fixed business constants,
  reproduced verbatim. Plain float64 arithmetic, no rounding.

PRECONDITION:
  Legs must be sorted DESCENDING before any tier test: the sort decides
  which leg is "first" and therefore which cap applies.

SEE ALSO:
  - points.go: SubtreeTotals producing the leg volumes
  - dashboard.go: The read model invoking this engine
*/
package network

import "sort"

// =============================================================================
// TIER TABLES - Fixed business constants
// =============================================================================

type volumeTier struct {
	Rank    Rank
	MinLegs int
	Basis   float64
	R0, R1  float64 // first-leg / other-leg cap fractions
}

// volumeTiers is ordered highest first; the first passing tier wins.
var volumeTiers = []volumeTier{
	{RankRubi, 4, 21000, 0.2619, 0.25},
	{RankSapphire, 4, 9000, 0.2768, 0.25},
	{RankGold, 3, 3300, 0.3637, 0.3334},
	{RankSilver, 3, 1800, 0.4167, 0.3334},
	{RankMaster, 2, 900, 0.5556, 0.50},
	{RankStar, 2, 300, 0.6667, 0.50},
}

type topTier struct {
	Rank    Rank
	M       float64 // capped-volume target
	M1, M2  float64 // first-leg / other-leg absolute caps
	MinLegs int
	MinQual int  // qualifying legs required
	SubRank Rank // rank the qualifying search looks for
}

// topTiers is ordered lowest first; the highest passing tier wins.
var topTiers = []topTier{
	{RankDiamante, 60000, 13000, 12000, 5, 4, RankSapphire},
	{RankDobleDiamante, 115000, 23000, 23000, 5, 4, RankRubi},
	{RankTripleDiamante, 225000, 37500, 37500, 6, 5, RankRubi},
	{RankEstrella, 520000, 87000, 86700, 6, 5, RankDiamante},
}

// nextTarget is the raw volume target separating each rank from the next.
var nextTarget = map[Rank]struct {
	Next   Rank
	Points float64
}{
	RankNone:           {RankActive, 90},
	RankActive:         {RankStar, 300},
	RankStar:           {RankMaster, 900},
	RankMaster:         {RankSilver, 1800},
	RankSilver:         {RankGold, 3300},
	RankGold:           {RankSapphire, 9000},
	RankSapphire:       {RankRubi, 21000},
	RankRubi:           {RankDiamante, 60000},
	RankDiamante:       {RankDobleDiamante, 115000},
	RankDobleDiamante:  {RankTripleDiamante, 225000},
	RankTripleDiamante: {RankEstrella, 520000},
}

// =============================================================================
// CAPPED SUMS
// =============================================================================

func cappedSum(legs []float64, basis, r0, r1 float64) float64 {
	total := 0.0
	for i, leg := range legs {
		cap := r1 * basis
		if i == 0 {
			cap = r0 * basis
		}
		if leg > cap {
			leg = cap
		}
		total += leg
	}
	return total
}

func topCappedSum(legs []float64, m1, m2 float64) float64 {
	total := 0.0
	for i, leg := range legs {
		cap := m2
		if i == 0 {
			cap = m1
		}
		if leg > cap {
			leg = cap
		}
		total += leg
	}
	return total
}

// =============================================================================
// RANK COMPUTATION
// =============================================================================

// Legs extracts a node's leg volumes from computed subtree totals,
// sorted descending.
func Legs(s *Snapshot, totals map[string]float64, userID string) []float64 {
	node := s.Node(userID)
	if node == nil {
		return nil
	}
	legs := make([]float64, 0, len(node.Childs))
	for _, child := range node.Childs {
		legs = append(legs, totals[child])
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(legs)))
	return legs
}

// VolumeRank applies the volume tiers to descending-sorted legs,
// returning the highest passing tier, or active when none pass.
// Callers must have established that the member is activated.
func VolumeRank(legs []float64) Rank {
	n := len(legs)
	for _, t := range volumeTiers {
		if n >= t.MinLegs && cappedSum(legs, t.Basis, t.R0, t.R1) >= t.Basis {
			return t.Rank
		}
	}
	return RankActive
}

// FindRank searches the subtree rooted at id (id included) for any node
// holding at least the required rank. Stored ranks are consulted; the
// walk carries a visited set so malformed data cannot loop it.
func FindRank(s *Snapshot, id string, required Rank) bool {
	visited := make(map[string]bool)

	var search func(nodeID string, depth int) bool
	search = func(nodeID string, depth int) bool {
		if depth > maxTreeDepth || visited[nodeID] {
			return false
		}
		visited[nodeID] = true

		node := s.Node(nodeID)
		if node == nil {
			return false
		}
		if u := s.User(nodeID); u != nil && u.Rank.AtLeast(required) {
			return true
		}
		for _, child := range node.Childs {
			if search(child, depth+1) {
				return true
			}
		}
		return false
	}
	return search(id, 0)
}

// qualifyingLegs counts immediate children whose subtree contains a node
// of at least the given rank.
func qualifyingLegs(s *Snapshot, userID string, required Rank) int {
	node := s.Node(userID)
	if node == nil {
		return 0
	}
	count := 0
	for _, child := range node.Childs {
		if FindRank(s, child, required) {
			count++
		}
	}
	return count
}

// ComputeRank derives userID's rank from the snapshot and the computed
// subtree totals: none while not activated, else the volume tier,
// overridden by the highest passing top tier.
func ComputeRank(s *Snapshot, totals map[string]float64, userID string) Rank {
	user := s.User(userID)
	if user == nil || !user.Activated {
		return RankNone
	}

	legs := Legs(s, totals, userID)
	rank := VolumeRank(legs)

	node := s.Node(userID)
	if node == nil {
		return rank
	}
	n := len(node.Childs)

	for _, t := range topTiers {
		if n < t.MinLegs {
			continue
		}
		if topCappedSum(legs, t.M1, t.M2) < t.M {
			continue
		}
		if qualifyingLegs(s, userID, t.SubRank) < t.MinQual {
			continue
		}
		rank = t.Rank
	}
	return rank
}

// =============================================================================
// NEXT RANK
// =============================================================================

// NextRank names the tier above current and the point deficit toward it,
// floored at zero. The deficit measures the member's CURRENT capped sum
// (at the current rank's cap parameters) against the next tier's target.
// The top of the ladder returns ok=false.
func NextRank(current Rank, legs []float64) (next Rank, deficit float64, ok bool) {
	target, found := nextTarget[current]
	if !found {
		return "", 0, false
	}

	capped := 0.0
	switch current {
	case RankNone:
		capped = 0
	case RankActive:
		for _, leg := range legs {
			capped += leg
		}
	case RankStar:
		capped = cappedSum(legs, 300, 0.6667, 0.50)
	case RankMaster:
		capped = cappedSum(legs, 900, 0.5556, 0.50)
	case RankSilver:
		capped = cappedSum(legs, 1800, 0.4167, 0.3334)
	case RankGold:
		capped = cappedSum(legs, 3300, 0.3637, 0.3334)
	case RankSapphire:
		capped = cappedSum(legs, 9000, 0.2768, 0.25)
	case RankRubi:
		capped = topCappedSum(legs, 5500, 5250)
	case RankDiamante:
		capped = topCappedSum(legs, 13000, 12000)
	case RankDobleDiamante:
		capped = topCappedSum(legs, 23000, 23000)
	case RankTripleDiamante:
		capped = topCappedSum(legs, 37500, 37500)
	}

	deficit = target.Points - capped
	if deficit < 0 {
		deficit = 0
	}
	return target.Next, deficit, true
}
