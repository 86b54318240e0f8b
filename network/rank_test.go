package network_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/network-engine/network"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// rankFixture builds a snapshot of one member with n legs, each leg a single
// child node carrying the given rank, plus a totals map assigning each leg
// its volume. Legs are created largest-first so the cap order is explicit.
func rankFixture(legVolumes []float64, legRanks []network.Rank, activated bool) (*network.Snapshot, map[string]float64) {
	users := []*network.User{{ID: "me", Activated: activated, Rank: network.RankNone}}
	root := &network.TreeNode{ID: "me"}
	nodes := []*network.TreeNode{root}
	totals := map[string]float64{}

	for i, vol := range legVolumes {
		id := string(rune('a' + i))
		rank := network.RankNone
		if legRanks != nil {
			rank = legRanks[i]
		}
		users = append(users, &network.User{ID: id, Activated: true, Rank: rank})
		nodes = append(nodes, &network.TreeNode{ID: id, Parent: "me"})
		root.Childs = append(root.Childs, id)
		totals[id] = vol
		totals["me"] += vol
	}
	return network.BuildSnapshot(nodes, users), totals
}

// =============================================================================
// VOLUME TIERS
// =============================================================================

func TestVolumeRank_TierLadder(t *testing.T) {
	// GIVEN: Descending leg volumes
	// WHEN: Applying the volume tiers
	// THEN: The highest tier whose capped sum reaches its basis wins

	cases := []struct {
		name string
		legs []float64
		want network.Rank
	}{
		{"no legs", nil, network.RankActive},
		{"below star", []float64{150, 100}, network.RankActive},
		{"star exactly", []float64{200, 150}, network.RankStar},
		{"one huge leg never ranks", []float64{100000}, network.RankActive},
		{"master", []float64{500, 450}, network.RankMaster},
		{"silver", []float64{750, 600, 600}, network.RankSilver},
		{"gold", []float64{1200, 1100, 1100}, network.RankGold},
		{"sapphire", []float64{2491, 2250, 2250, 2250}, network.RankSapphire},
		{"rubi", []float64{5500, 5250, 5250, 5250}, network.RankRubi},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, network.VolumeRank(tc.legs))
		})
	}
}

func TestVolumeRank_FirstLegCapIsHigher(t *testing.T) {
	// GIVEN: Two legs at the star basis, volume concentrated in the first
	// WHEN: The star cap applies (66.67% first, 50% rest)
	// THEN: 290 + 150 = overflow capped at 200.01 + 150, passing the 300
	//       basis; swapped caps would fail the same volumes

	assert.Equal(t, network.RankStar, network.VolumeRank([]float64{290, 150}))
	assert.Equal(t, network.RankActive, network.VolumeRank([]float64{150, 120}),
		"second leg cannot borrow the first leg's cap")
}

// =============================================================================
// QUALIFYING LEG SEARCH
// =============================================================================

func TestFindRank_SearchesEntireSubtree(t *testing.T) {
	// GIVEN: me -> a -> b, only b holding sapphire
	// WHEN: Searching a's subtree for sapphire
	// THEN: Found (the search is deep, not direct-children-only)

	users := []*network.User{
		{ID: "me"},
		{ID: "a", Rank: network.RankStar},
		{ID: "b", Rank: network.RankSapphire},
	}
	nodes := []*network.TreeNode{
		{ID: "me", Childs: []string{"a"}},
		{ID: "a", Parent: "me", Childs: []string{"b"}},
		{ID: "b", Parent: "a"},
	}
	s := network.BuildSnapshot(nodes, users)

	assert.True(t, network.FindRank(s, "a", network.RankSapphire))
	assert.True(t, network.FindRank(s, "a", network.RankStar), "higher ranks satisfy lower requirements")
	assert.False(t, network.FindRank(s, "a", network.RankRubi))
}

// =============================================================================
// FULL RANK COMPUTATION
// =============================================================================

func TestComputeRank_NotActivated_None(t *testing.T) {
	s, totals := rankFixture([]float64{5000, 5000}, nil, false)
	assert.Equal(t, network.RankNone, network.ComputeRank(s, totals, "me"))
}

func TestComputeRank_UnknownUser_None(t *testing.T) {
	s, totals := rankFixture(nil, nil, true)
	assert.Equal(t, network.RankNone, network.ComputeRank(s, totals, "ghost"))
}

func TestComputeRank_Diamante_RequiresQualifyingLegs(t *testing.T) {
	// GIVEN: Five legs summing past 60000 under the 13000/12000 caps
	// WHEN: Four legs hold sapphire somewhere in their subtree
	// THEN: DIAMANTE; with only three qualifying legs the volume tier
	//       stands instead

	volumes := []float64{13000, 12000, 12000, 12000, 12000}
	qualified := []network.Rank{
		network.RankSapphire, network.RankSapphire, network.RankSapphire,
		network.RankSapphire, network.RankNone,
	}
	s, totals := rankFixture(volumes, qualified, true)
	assert.Equal(t, network.RankDiamante, network.ComputeRank(s, totals, "me"))

	short := []network.Rank{
		network.RankSapphire, network.RankSapphire, network.RankSapphire,
		network.RankNone, network.RankNone,
	}
	s2, totals2 := rankFixture(volumes, short, true)
	got := network.ComputeRank(s2, totals2, "me")
	assert.Equal(t, network.RankRubi, got, "volume tier stands without qualifying legs")
}

func TestComputeRank_TopTier_HighestPassingWins(t *testing.T) {
	// GIVEN: Volumes and qualifying legs satisfying both DIAMANTE and
	//        DOBLE DIAMANTE
	// WHEN: Computing the rank
	// THEN: The higher tier wins

	volumes := []float64{23000, 23000, 23000, 23000, 23000}
	qualified := []network.Rank{
		network.RankRubi, network.RankRubi, network.RankRubi,
		network.RankRubi, network.RankNone,
	}
	s, totals := rankFixture(volumes, qualified, true)
	assert.Equal(t, network.RankDobleDiamante, network.ComputeRank(s, totals, "me"))
}

// =============================================================================
// NEXT RANK
// =============================================================================

func TestNextRank_DeficitFromCappedSum(t *testing.T) {
	// GIVEN: An active member with 70 raw points across two legs
	// WHEN: Asking for the next tier
	// THEN: star at a 230 deficit (300 target, plain sum for active)

	next, deficit, ok := network.NextRank(network.RankActive, []float64{50, 20})
	require.True(t, ok)
	assert.Equal(t, network.RankStar, next)
	assert.Equal(t, 230.0, deficit)
}

func TestNextRank_None_TargetsActivation(t *testing.T) {
	next, deficit, ok := network.NextRank(network.RankNone, []float64{500})
	require.True(t, ok)
	assert.Equal(t, network.RankActive, next)
	assert.Equal(t, 90.0, deficit, "legs do not count toward activation")
}

func TestNextRank_DeficitFlooredAtZero(t *testing.T) {
	// GIVEN: Legs already past the next target
	// WHEN: Asking for the deficit
	// THEN: Zero, never negative

	_, deficit, ok := network.NextRank(network.RankActive, []float64{400, 200})
	require.True(t, ok)
	assert.Equal(t, 0.0, deficit)
}

func TestNextRank_RubiUsesAbsoluteCaps(t *testing.T) {
	// GIVEN: A RUBI member with two heavy legs
	// WHEN: Measuring toward DIAMANTE (60000)
	// THEN: Each leg counts at most 5500/5250; deficit reflects the caps

	next, deficit, ok := network.NextRank(network.RankRubi, []float64{20000, 20000})
	require.True(t, ok)
	assert.Equal(t, network.RankDiamante, next)
	assert.Equal(t, 60000.0-5500.0-5250.0, deficit)
}

func TestNextRank_TopOfLadder(t *testing.T) {
	_, _, ok := network.NextRank(network.RankEstrella, []float64{1000000})
	assert.False(t, ok)
}
