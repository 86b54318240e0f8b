package network_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/network-engine/network"
	"github.com/orbit/network-engine/network/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestCommission(t *testing.T) (*network.Commission, *network.Ledger, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	ledger := network.NewLedger(st)
	return network.NewCommission(st, st, ledger), ledger, st
}

// sponsorChain seeds purchaser -> s1 -> s2 -> s3 with the given sponsor plan.
func sponsorChain(t *testing.T, st network.Store, plan network.Plan, activated bool) {
	t.Helper()
	seedMember(t, st, "s3", "3", "Third", "", plan, activated, 0)
	seedMember(t, st, "s2", "2", "Second", "s3", plan, activated, 0)
	seedMember(t, st, "s1", "1", "First", "s2", plan, activated, 0)
	seedMember(t, st, "buyer", "9", "Buyer", "s1", network.PlanDefault, false, 0)
}

// =============================================================================
// LEVEL WALK
// =============================================================================

func TestCommission_Disburse_BusinessPurchase_ThreeLevels(t *testing.T) {
	// GIVEN: buyer -> s1 -> s2 -> s3, all sponsors on business (4 levels)
	// WHEN: buyer's 300 business purchase disburses
	// THEN: s1 takes 30% (90), s2 takes 2% (6), s3 takes 5% (15),
	//       per the business level-rate table

	comm, ledger, st := newTestCommission(t)
	ctx := context.Background()
	sponsorChain(t, st, network.PlanBusiness, true)

	ids, err := comm.Disburse(ctx, "buyer", network.PlanBusiness, dec(t, "300"), false)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	for sponsor, want := range map[string]string{"s1": "90", "s2": "6", "s3": "15"} {
		b, err := ledger.Balances(ctx, sponsor)
		require.NoError(t, err)
		assert.True(t, b.Real.Equal(dec(t, want)), "%s bonus: got %s, want %s", sponsor, b.Real, want)
	}
}

func TestCommission_Disburse_BasicPurchase_FlatSingleLevel(t *testing.T) {
	// GIVEN: The same sponsor chain
	// WHEN: buyer purchases basic (50)
	// THEN: Only s1 is paid, at the flat 10% override (5), regardless of
	//       s1's own rate table

	comm, ledger, st := newTestCommission(t)
	ctx := context.Background()
	sponsorChain(t, st, network.PlanBusiness, true)

	ids, err := comm.Disburse(ctx, "buyer", network.PlanBasic, dec(t, "50"), false)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	b1, err := ledger.Balances(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, b1.Real.Equal(dec(t, "5")))

	b2, err := ledger.Balances(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, b2.Real.IsZero(), "basic pays one level only")
}

func TestCommission_Disburse_MasterPurchase_DepthCapAtFiveLevels(t *testing.T) {
	// GIVEN: buyer -> s1 -> ... -> s7, all sponsors on master (5 levels)
	// WHEN: buyer's 500 master purchase disburses
	// THEN: Exactly five ancestors are paid, 40%/2%/5%/1%/0.5% by level,
	//       and the walk stops before the sixth

	comm, ledger, st := newTestCommission(t)
	ctx := context.Background()

	seedMember(t, st, "s7", "7", "Seventh", "", network.PlanMaster, true, 0)
	for i := 6; i >= 1; i-- {
		id := fmt.Sprintf("s%d", i)
		parent := fmt.Sprintf("s%d", i+1)
		seedMember(t, st, id, id, "Sponsor "+id, parent, network.PlanMaster, true, 0)
	}
	seedMember(t, st, "buyer", "9", "Buyer", "s1", network.PlanDefault, false, 0)

	ids, err := comm.Disburse(ctx, "buyer", network.PlanMaster, dec(t, "500"), false)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	for sponsor, want := range map[string]string{
		"s1": "200", "s2": "10", "s3": "25", "s4": "5", "s5": "2.5",
	} {
		b, err := ledger.Balances(ctx, sponsor)
		require.NoError(t, err)
		assert.True(t, b.Real.Equal(dec(t, want)), "%s bonus: got %s, want %s", sponsor, b.Real, want)
	}

	b6, err := ledger.Balances(ctx, "s6")
	require.NoError(t, err)
	assert.True(t, b6.Real.IsZero(), "sixth ancestor is past the depth cap")
}

func TestCommission_Disburse_PreBasic_PaysNothing(t *testing.T) {
	comm, _, st := newTestCommission(t)
	sponsorChain(t, st, network.PlanBusiness, true)

	ids, err := comm.Disburse(context.Background(), "buyer", network.PlanPreBasic, dec(t, "25"), false)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCommission_Disburse_DefaultAncestorSkipped_WalkContinues(t *testing.T) {
	// GIVEN: s1 on the default plan, s2 on business
	// WHEN: buyer's 300 business purchase disburses
	// THEN: s1 collects nothing but still occupies level 0; s2 is paid at
	//       its level-1 rate (2% = 6)

	comm, ledger, st := newTestCommission(t)
	ctx := context.Background()

	seedMember(t, st, "s2", "2", "Second", "", network.PlanBusiness, true, 0)
	seedMember(t, st, "s1", "1", "First", "s2", network.PlanDefault, false, 0)
	seedMember(t, st, "buyer", "9", "Buyer", "s1", network.PlanDefault, false, 0)

	_, err := comm.Disburse(ctx, "buyer", network.PlanBusiness, dec(t, "300"), false)
	require.NoError(t, err)

	b1, err := ledger.Balances(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, b1.Real.IsZero())
	assert.True(t, b1.Virtual.IsZero())

	b2, err := ledger.Balances(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, b2.Real.Equal(dec(t, "6")))
}

func TestCommission_Disburse_LevelBeyondAncestorPlan_Unpaid(t *testing.T) {
	// GIVEN: s2 on basic (1 payable level)
	// WHEN: buyer's standard purchase reaches s2 at level 1
	// THEN: s2 collects nothing (level index exceeds its plan's depth)

	comm, ledger, st := newTestCommission(t)
	ctx := context.Background()

	seedMember(t, st, "s2", "2", "Second", "", network.PlanBasic, true, 0)
	seedMember(t, st, "s1", "1", "First", "s2", network.PlanStandard, true, 0)
	seedMember(t, st, "buyer", "9", "Buyer", "s1", network.PlanDefault, false, 0)

	_, err := comm.Disburse(ctx, "buyer", network.PlanStandard, dec(t, "150"), false)
	require.NoError(t, err)

	b1, err := ledger.Balances(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, b1.Real.Equal(dec(t, "30")), "s1 level 0 at 20%%: got %s", b1.Real)

	b2, err := ledger.Balances(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, b2.Real.IsZero())
}

func TestCommission_Disburse_UnactivatedAncestor_PaidVirtual(t *testing.T) {
	// GIVEN: s1 holds a plan but has not activated
	// WHEN: A purchase pays s1
	// THEN: The bonus lands as virtual, pending s1's own activation

	comm, ledger, st := newTestCommission(t)
	ctx := context.Background()
	sponsorChain(t, st, network.PlanBusiness, false)

	_, err := comm.Disburse(ctx, "buyer", network.PlanBusiness, dec(t, "300"), false)
	require.NoError(t, err)

	b, err := ledger.Balances(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, b.Real.IsZero())
	assert.True(t, b.Virtual.Equal(dec(t, "90")))
}

func TestCommission_Disburse_MigrationTag(t *testing.T) {
	// GIVEN: An upgrade purchase (isMigration)
	// WHEN: The walk pays s1
	// THEN: The entry carries the migration bonus name

	comm, _, st := newTestCommission(t)
	ctx := context.Background()
	sponsorChain(t, st, network.PlanBusiness, true)

	ids, err := comm.Disburse(ctx, "buyer", network.PlanBusiness, dec(t, "300"), true)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	e, err := st.FindEntry(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, network.NameMigrationBonus, e.Name)
	assert.Equal(t, "buyer", e.OriginUserID)
}

func TestCommission_Disburse_UnknownPurchaser_Noop(t *testing.T) {
	comm, _, _ := newTestCommission(t)

	ids, err := comm.Disburse(context.Background(), "ghost", network.PlanBasic, dec(t, "50"), false)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// =============================================================================
// REMAINING LUMP
// =============================================================================

func buildSnap(t *testing.T, st network.Store) *network.Snapshot {
	t.Helper()
	ctx := context.Background()
	nodes, err := st.ListNodes(ctx)
	require.NoError(t, err)
	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	return network.BuildSnapshot(nodes, users)
}

func TestRemainingLump_DirectRecruitsOnly(t *testing.T) {
	// GIVEN: buyer directly sponsors a basic (50) and a standard (150)
	//        recruit; a grandchild and a closed recruit also exist
	// WHEN: buyer purchases business (rate 30%)
	// THEN: lump = (50 + 150) * 0.3 = 60; grandchild and closed excluded

	st := store.NewMemory()
	ctx := context.Background()

	seedMember(t, st, "buyer", "1", "Buyer", "", network.PlanDefault, false, 0)
	seedMember(t, st, "r1", "2", "RecruitA", "buyer", network.PlanBasic, true, 0)
	seedMember(t, st, "r2", "3", "RecruitB", "buyer", network.PlanStandard, true, 0)
	seedMember(t, st, "r3", "4", "RecruitC", "buyer", network.PlanMaster, true, 0)
	seedMember(t, st, "g1", "5", "Grandchild", "r1", network.PlanMaster, true, 0)

	closed, err := st.FindUser(ctx, "r3")
	require.NoError(t, err)
	closed.Closed = true
	require.NoError(t, st.UpdateUser(ctx, closed))

	lump := network.RemainingLump(buildSnap(t, st), "buyer", network.PlanBusiness)
	assert.True(t, lump.Equal(dec(t, "60")), "got %s", lump)
}

func TestRemainingLump_PreBasic_Zero(t *testing.T) {
	st := store.NewMemory()
	seedMember(t, st, "buyer", "1", "Buyer", "", network.PlanDefault, false, 0)
	seedMember(t, st, "r1", "2", "Recruit", "buyer", network.PlanMaster, true, 0)

	lump := network.RemainingLump(buildSnap(t, st), "buyer", network.PlanPreBasic)
	assert.True(t, lump.IsZero())
}

func TestProjectedRemaining_PerPlanPreview(t *testing.T) {
	// GIVEN: buyer sponsors one master recruit (base 500)
	// WHEN: Projecting the lump for each purchasable plan
	// THEN: Each plan previews base * its own rate

	st := store.NewMemory()
	seedMember(t, st, "buyer", "1", "Buyer", "", network.PlanDefault, false, 0)
	seedMember(t, st, "r1", "2", "Recruit", "buyer", network.PlanMaster, true, 0)

	proj := network.ProjectedRemaining(buildSnap(t, st), "buyer")
	assert.True(t, proj[network.PlanPreBasic].IsZero())
	assert.True(t, proj[network.PlanBasic].Equal(dec(t, "50")))
	assert.True(t, proj[network.PlanStandard].Equal(dec(t, "100")))
	assert.True(t, proj[network.PlanBusiness].Equal(dec(t, "150")))
	assert.True(t, proj[network.PlanMaster].Equal(dec(t, "200")))
}
