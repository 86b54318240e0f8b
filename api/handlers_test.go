package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/network-engine/api"
	"github.com/orbit/network-engine/network"
	"github.com/orbit/network-engine/network/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	engine := network.NewEngine(st, nil)
	handler := api.NewHandler(engine, nil)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, st
}

// seedSponsor inserts an activated business-plan member at the tree root.
func seedSponsor(t *testing.T, st network.Store, id, dni, name string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InsertUser(ctx, &network.User{
		ID: id, DNI: dni, Name: name,
		Plan: network.PlanBusiness, Levels: 4,
		Affiliated: true, Activated: true, SoftActivated: true,
		Rank: network.RankActive,
	}))
	require.NoError(t, st.InsertNode(ctx, &network.TreeNode{ID: id}))
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func enrollMember(t *testing.T, srv *httptest.Server, sponsorID, dni, name string) api.UserDTO {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/users", api.EnrollRequest{
		SponsorID: sponsorID, DNI: dni, Name: name, LastName: "Test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", raw)

	var dto api.UserDTO
	require.NoError(t, json.Unmarshal(raw, &dto))
	return dto
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestAPI_Enroll_CreatesMember(t *testing.T) {
	// GIVEN: A sponsor at the root
	// WHEN: POSTing an enrollment against the sponsor's DNI
	// THEN: 201 with the new member on the default plan

	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")

	dto := enrollMember(t, srv, "10000001", "20000001", "Nadia")

	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "root", dto.ParentID)
	assert.Equal(t, string(network.PlanDefault), dto.Plan)
	assert.False(t, dto.Activated)
}

func TestAPI_Enroll_UnknownSponsor_404(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/users", api.EnrollRequest{
		SponsorID: "nobody", DNI: "20000001", Name: "Nadia",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Enroll_DuplicateDNI_409(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	enrollMember(t, srv, "root", "20000001", "Nadia")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/users", api.EnrollRequest{
		SponsorID: "root", DNI: "20000001", Name: "Clone",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_GetUser_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestAPI_SetPoints_RejectsNegative(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/users/root/points", api.SetPointsRequest{Points: -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/users/root/points", api.SetPointsRequest{Points: 120})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// =============================================================================
// PURCHASE WORKFLOW
// =============================================================================

func TestAPI_AffiliationWorkflow_SubmitApproveDashboard(t *testing.T) {
	// GIVEN: A sponsor and an enrolled member
	// WHEN: The member submits a business plan purchase and an admin
	//       approves it
	// THEN: The sponsor's wallet shows the 30% bonus and the member's
	//       dashboard shows the plan and its points

	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	member := enrollMember(t, srv, "root", "20000001", "Nadia")

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/users/"+member.ID+"/affiliations",
		api.CreateAffiliationRequest{Plan: "business"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", raw)

	var aff api.AffiliationDTO
	require.NoError(t, json.Unmarshal(raw, &aff))
	assert.Equal(t, "pending", aff.Status)
	assert.Equal(t, "300", aff.Price)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/affiliations/"+aff.ID+"/approve", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/users/root/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal api.BalanceDTO
	require.NoError(t, json.Unmarshal(raw, &bal))
	assert.Equal(t, "90", bal.Real)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/users/"+member.ID+"/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dash api.DashboardDTO
	require.NoError(t, json.Unmarshal(raw, &dash))
	assert.Equal(t, "business", dash.Plan)
	assert.Equal(t, 300.0, dash.TotalPoints)
	assert.True(t, dash.Activated)
}

func TestAPI_Dashboard_ZeroDeficitIsSerialized(t *testing.T) {
	// GIVEN: A RUBI member whose leg volume already clears the DIAMANTE
	//        target but whose legs hold no sapphire qualifiers
	// WHEN: The dashboard is fetched
	// THEN: next_rank is DIAMANTE and next_deficit is present as 0, not
	//       dropped from the payload

	srv, st := newTestServer(t)
	ctx := context.Background()

	childs := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("c%02d", i)
		require.NoError(t, st.InsertUser(ctx, &network.User{
			ID: id, DNI: id, Name: "Leg " + id, ParentID: "me",
			Points: 6000,
		}))
		require.NoError(t, st.InsertNode(ctx, &network.TreeNode{ID: id, Parent: "me"}))
		childs = append(childs, id)
	}
	require.NoError(t, st.InsertUser(ctx, &network.User{
		ID: "me", DNI: "70000001", Name: "Leader",
		Plan: network.PlanMaster, Levels: 5,
		Affiliated: true, Activated: true, SoftActivated: true,
		Rank: network.RankActive,
	}))
	require.NoError(t, st.InsertNode(ctx, &network.TreeNode{ID: "me", Childs: childs}))

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/users/me/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Contains(t, fields, "next_deficit")

	var dash api.DashboardDTO
	require.NoError(t, json.Unmarshal(raw, &dash))
	assert.Equal(t, string(network.RankRubi), dash.Rank)
	assert.Equal(t, string(network.RankDiamante), dash.NextRank)
	assert.Equal(t, 0.0, dash.NextDeficit)
}

func TestAPI_ApproveAffiliation_Twice_409(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	member := enrollMember(t, srv, "root", "20000001", "Nadia")

	_, raw := doJSON(t, http.MethodPost, srv.URL+"/api/users/"+member.ID+"/affiliations",
		api.CreateAffiliationRequest{Plan: "basic"})
	var aff api.AffiliationDTO
	require.NoError(t, json.Unmarshal(raw, &aff))

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/affiliations/"+aff.ID+"/approve", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/affiliations/"+aff.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_CreateAffiliation_UnknownPlan_409(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	member := enrollMember(t, srv, "root", "20000001", "Nadia")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/users/"+member.ID+"/affiliations",
		api.CreateAffiliationRequest{Plan: "platinum"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ActivationWorkflow(t *testing.T) {
	// GIVEN: An enrolled member
	// WHEN: Submitting a 100-point product purchase and approving it
	// THEN: The member activates

	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	member := enrollMember(t, srv, "root", "20000001", "Nadia")

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/users/"+member.ID+"/activations",
		api.CreateActivationRequest{Products: []api.ProductLineDTO{
			{ProductID: "p1", Units: 2, Price: "25", Points: 50},
		}})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", raw)

	var act api.ActivationDTO
	require.NoError(t, json.Unmarshal(raw, &act))
	assert.Equal(t, "50", act.Price)
	assert.Equal(t, 100.0, act.Points)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/activations/"+act.ID+"/approve", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/users/"+member.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dto api.UserDTO
	require.NoError(t, json.Unmarshal(raw, &dto))
	assert.Equal(t, 100.0, dto.Points)
	assert.True(t, dto.Activated)
}

func TestAPI_CreateActivation_BadProduct_400(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/users/root/activations",
		api.CreateActivationRequest{Products: []api.ProductLineDTO{
			{ProductID: "p1", Units: 0, Price: "25"},
		}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/users/root/activations",
		api.CreateActivationRequest{Products: []api.ProductLineDTO{
			{ProductID: "p1", Units: 1, Price: "not-a-number"},
		}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// TREE
// =============================================================================

func TestAPI_TreeReadAndMove(t *testing.T) {
	// GIVEN: root sponsoring a and b
	// WHEN: Reading root's node and moving b under a
	// THEN: The next read reflects the relocation

	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	a := enrollMember(t, srv, "root", "20000001", "Alpha")
	b := enrollMember(t, srv, "root", "20000002", "Beta")

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/tree/root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var node api.NodeDTO
	require.NoError(t, json.Unmarshal(raw, &node))
	require.Len(t, node.Children, 2)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/tree/move",
		api.MoveRequest{SubjectID: b.ID, NewParentID: a.ID})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/tree/"+a.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &node))
	require.Len(t, node.Children, 1)
	assert.Equal(t, b.ID, node.Children[0].ID)
}

func TestAPI_Move_Cycle_409(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	a := enrollMember(t, srv, "root", "20000001", "Alpha")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/tree/move",
		api.MoveRequest{SubjectID: "root", NewParentID: a.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// WALLET
// =============================================================================

func TestAPI_Transfer(t *testing.T) {
	srv, st := newTestServer(t)
	seedSponsor(t, st, "root", "10000001", "Root")
	seedSponsor(t, st, "other", "10000002", "Other")

	ctx := context.Background()
	require.NoError(t, st.AppendEntry(ctx, &network.LedgerEntry{
		ID: network.NewEntryID(), UserID: "root",
		Type: network.EntryIn, Value: decimalFromString(t, "100"),
	}))

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/transfers",
		api.TransferRequest{FromID: "root", ToID: "other", Amount: "60"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/users/other/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal api.BalanceDTO
	require.NoError(t, json.Unmarshal(raw, &bal))
	assert.Equal(t, "60", bal.Real)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/transfers",
		api.TransferRequest{FromID: "root", ToID: "other", Amount: "10000"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/transfers",
		api.TransferRequest{FromID: "root", ToID: "other", Amount: "sixty"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
