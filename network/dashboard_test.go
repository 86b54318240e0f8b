package network_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/network-engine/network"
)

// =============================================================================
// DASHBOARD
// =============================================================================

func TestEngine_Dashboard_AssemblesMemberView(t *testing.T) {
	// GIVEN: An activated member with two legs (200 and 150 points) and
	//        80 in confirmed funds
	// WHEN: Loading the dashboard
	// THEN: Live totals, descending legs, the star rank (capped sum 350
	//       over the 300 basis) and the deficit toward master

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedMember(t, st, "me", "1", "Maria", "", network.PlanMaster, true, 0)
	seedMember(t, st, "a", "2", "Alpha", "me", network.PlanBasic, true, 200)
	seedMember(t, st, "b", "3", "Beta", "me", network.PlanBasic, true, 150)
	seedCredit(t, st, "me", "80", false)

	view, err := e.Dashboard(ctx, "me")
	require.NoError(t, err)

	assert.Equal(t, "me", view.UserID)
	assert.Equal(t, network.PlanMaster, view.Plan)
	assert.True(t, view.Balance.Real.Equal(dec(t, "80")))
	assert.Equal(t, 350.0, view.TotalPoints)
	assert.Equal(t, []float64{200, 150}, view.Legs)
	assert.Equal(t, network.RankStar, view.Rank)
	assert.Equal(t, network.RankMaster, view.NextRank)
	assert.Equal(t, 550.0, view.NextDeficit)
	assert.Equal(t, 2, view.TeamCount)
	assert.True(t, view.Activated)
}

func TestEngine_Dashboard_PersistsRankChange(t *testing.T) {
	// GIVEN: A member stored at active whose legs now reach star
	// WHEN: The dashboard is loaded
	// THEN: The stored rank moves to star, so qualifying-leg searches by
	//       ancestors see it

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedMember(t, st, "me", "1", "Maria", "", network.PlanMaster, true, 0)
	seedMember(t, st, "a", "2", "Alpha", "me", network.PlanBasic, true, 200)
	seedMember(t, st, "b", "3", "Beta", "me", network.PlanBasic, true, 150)

	_, err := e.Dashboard(ctx, "me")
	require.NoError(t, err)

	stored, err := st.FindUser(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, network.RankStar, stored.Rank)
}

func TestEngine_Dashboard_NotActivated_RankNone(t *testing.T) {
	// GIVEN: A member below the activation threshold
	// WHEN: Loading the dashboard
	// THEN: Rank none, next target is activation itself

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedMember(t, st, "me", "1", "Maria", "", network.PlanBasic, false, 30)

	view, err := e.Dashboard(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, network.RankNone, view.Rank)
	assert.Equal(t, network.RankActive, view.NextRank)
	assert.Equal(t, 90.0, view.NextDeficit)
}

func TestEngine_Dashboard_UnknownUser(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Dashboard(context.Background(), "ghost")
	assert.ErrorIs(t, err, network.ErrNotFound)
}

func TestEngine_Dashboard_TeamCount_DirectAffiliatedOnly(t *testing.T) {
	// GIVEN: Two direct recruits (one closed), one unaffiliated direct,
	//        one affiliated grandchild
	// WHEN: Counting the team
	// THEN: Only the open, affiliated, directly sponsored member counts

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedMember(t, st, "me", "1", "Maria", "", network.PlanMaster, true, 0)
	seedMember(t, st, "r1", "2", "Open", "me", network.PlanBasic, true, 0)
	seedMember(t, st, "r2", "3", "Closed", "me", network.PlanBasic, true, 0)
	seedMember(t, st, "r3", "4", "Prospect", "me", network.PlanDefault, false, 0)
	seedMember(t, st, "g1", "5", "Grand", "r1", network.PlanBasic, true, 0)

	closed, err := st.FindUser(ctx, "r2")
	require.NoError(t, err)
	closed.Closed = true
	require.NoError(t, st.UpdateUser(ctx, closed))

	view, err := e.Dashboard(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 1, view.TeamCount)
}

// =============================================================================
// TREE BROWSER
// =============================================================================

func TestEngine_GetNode_OneLevelLazyRead(t *testing.T) {
	// GIVEN: me -> a -> g, me -> b
	// WHEN: Reading me's node by full name
	// THEN: One level of children in enrollment order, flagging which
	//       ones can expand further

	e, st := newTestEngine(t)
	ctx := context.Background()

	seedMember(t, st, "me", "1", "Maria", "", network.PlanMaster, true, 0)
	seedMember(t, st, "a", "2", "Alpha", "me", network.PlanBasic, true, 0)
	seedMember(t, st, "b", "3", "Beta", "me", network.PlanStandard, true, 0)
	seedMember(t, st, "g", "4", "Grand", "a", network.PlanBasic, true, 0)

	view, err := e.GetNode(ctx, "Maria")
	require.NoError(t, err)
	assert.Equal(t, "me", view.ID)
	require.Len(t, view.Children, 2)
	assert.Equal(t, "a", view.Children[0].ID)
	assert.True(t, view.Children[0].HasChilds)
	assert.Equal(t, "b", view.Children[1].ID)
	assert.False(t, view.Children[1].HasChilds)
	assert.Equal(t, network.PlanStandard, view.Children[1].Plan)
}

func TestEngine_GetNode_Unknown(t *testing.T) {
	e, st := newTestEngine(t)
	seedMember(t, st, "me", "1", "Maria", "", network.PlanMaster, true, 0)

	_, err := e.GetNode(context.Background(), "ghost")
	assert.ErrorIs(t, err, network.ErrNotFound)
}
