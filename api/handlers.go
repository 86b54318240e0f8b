/*
handlers.go - HTTP API handlers for the network engine

PURPOSE:
  Exposes the compensation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Members:
    POST   /api/users                      Enroll a member under a sponsor
    GET    /api/users/{id}                 Member record
    GET    /api/users/{id}/dashboard       Dashboard view
    GET    /api/users/{id}/balance         Wallet balances
    GET    /api/users/{id}/transactions    Ledger history
    GET    /api/users/{id}/remaining       Projected remaining pay per plan
    PUT    /api/users/{id}/points          Manual point correction

  Tree:
    GET    /api/tree/{identifier}          One-level lazy node read
    POST   /api/tree/move                  Relocate a member

  Purchases:
    POST   /api/users/{id}/affiliations    Submit plan purchase
    POST   /api/users/{id}/activations     Submit product purchase
    POST   /api/affiliations/{id}/approve  (admin) also reject, revert
    POST   /api/activations/{id}/approve   (admin) also reject, revert

  Wallet:
    POST   /api/transfers                  Member-to-member transfer

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Business conflict (invalid move, wrong status, insufficient funds)
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. Session handling is owned by the outer
  gateway; these endpoints trust the ids they are given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbit/network-engine/network"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *network.Engine
	Log    *zap.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *network.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Log: log}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// Enroll registers a new member.
// POST /api/users
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Engine.Enroll(r.Context(), network.EnrollInput{
		SponsorID: req.SponsorID,
		DNI:       req.DNI,
		Name:      req.Name,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Country:   req.Country,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to enroll member", err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetUser returns a member record.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Engine.Store.FindUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to load member", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// GetDashboard returns the member home view.
// GET /api/users/{id}/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.Dashboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to build dashboard", err)
		return
	}

	dto := DashboardDTO{
		UserID:         view.UserID,
		Name:           view.Name,
		Plan:           string(view.Plan),
		RealBalance:    view.Balance.Real.String(),
		VirtualBalance: view.Balance.Virtual.String(),
		TotalPoints:    view.TotalPoints,
		Legs:           view.Legs,
		Rank:           string(view.Rank),
		NextRank:       string(view.NextRank),
		NextDeficit:    view.NextDeficit,
		TeamCount:      view.TeamCount,
		Activated:      view.Activated,
		SoftActivated:  view.SoftActivated,
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetBalance returns wallet balances.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Engine.Store.FindUser(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to load member", err)
		return
	}

	bal, err := network.NewLedger(h.Engine.Store).Balances(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Real: bal.Real.String(), Virtual: bal.Virtual.String()})
}

// GetTransactions returns the member's ledger history.
// GET /api/users/{id}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Store.EntriesByUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to load transactions", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:           e.ID,
			UserID:       e.UserID,
			OriginUserID: e.OriginUserID,
			Date:         e.Date.Format(time.RFC3339),
			Type:         string(e.Type),
			Value:        e.Value.String(),
			Virtual:      e.Virtual,
			Name:         e.Name,
			Deleted:      e.Deleted,
			IsReversal:   e.IsReversal,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRemaining previews the remaining lump per purchasable plan.
// GET /api/users/{id}/remaining
func (h *Handler) GetRemaining(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.Engine.Tree.Snapshot(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to load tree", err)
		return
	}
	if snap.User(id) == nil {
		h.writeDomainError(w, "Failed to load member", network.ErrNotFound)
		return
	}

	dto := make(RemainingDTO)
	for plan, value := range network.ProjectedRemaining(snap, id) {
		dto[string(plan)] = value.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetPoints applies a manual point correction.
// PUT /api/users/{id}/points
func (h *Handler) SetPoints(w http.ResponseWriter, r *http.Request) {
	var req SetPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Points < 0 {
		writeError(w, http.StatusBadRequest, "Points must not be negative", nil)
		return
	}

	if err := h.Engine.SetPoints(r.Context(), chi.URLParam(r, "id"), req.Points); err != nil {
		h.writeDomainError(w, "Failed to set points", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TREE HANDLERS
// =============================================================================

// GetNode returns one expanded level of the network browser.
// GET /api/tree/{identifier}
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.GetNode(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.writeDomainError(w, "Failed to load node", err)
		return
	}

	dto := NodeDTO{
		ID:          view.ID,
		Parent:      view.Parent,
		Name:        view.Name,
		TotalPoints: view.TotalPoints,
		Children:    make([]NodeChildDTO, len(view.Children)),
	}
	for i, c := range view.Children {
		dto.Children[i] = NodeChildDTO{
			ID:          c.ID,
			Name:        c.Name,
			Plan:        string(c.Plan),
			Rank:        string(c.Rank),
			TotalPoints: c.TotalPoints,
			HasChilds:   c.HasChilds,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// Move relocates a member under a new sponsor.
// POST /api/tree/move
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.Move(r.Context(), req.SubjectID, req.NewParentID); err != nil {
		h.writeDomainError(w, "Failed to move member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// CreateAffiliation submits a plan purchase.
// POST /api/users/{id}/affiliations
func (h *Handler) CreateAffiliation(w http.ResponseWriter, r *http.Request) {
	var req CreateAffiliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	aff, err := h.Engine.CreateAffiliation(r.Context(), chi.URLParam(r, "id"),
		network.Plan(req.Plan), req.UseBalance)
	if err != nil {
		h.writeDomainError(w, "Failed to submit affiliation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAffiliationDTO(aff))
}

// CreateActivation submits a product purchase.
// POST /api/users/{id}/activations
func (h *Handler) CreateActivation(w http.ResponseWriter, r *http.Request) {
	var req CreateActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	products := make([]network.ProductLine, len(req.Products))
	for i, p := range req.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil || p.Units <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid product line", err)
			return
		}
		products[i] = network.ProductLine{
			ProductID: p.ProductID,
			Units:     p.Units,
			Price:     price,
			Points:    p.Points,
		}
	}

	act, err := h.Engine.CreateActivation(r.Context(), chi.URLParam(r, "id"), products, req.UseBalance)
	if err != nil {
		h.writeDomainError(w, "Failed to submit activation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivationDTO(act))
}

// Affiliation lifecycle (admin).
// POST /api/affiliations/{id}/approve | reject | revert

func (h *Handler) ApproveAffiliation(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "Failed to approve affiliation", h.Engine.ApproveAffiliation)
}

func (h *Handler) RejectAffiliation(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "Failed to reject affiliation", h.Engine.RejectAffiliation)
}

func (h *Handler) RevertAffiliation(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "Failed to revert affiliation", h.Engine.RevertAffiliation)
}

// Activation lifecycle (admin).
// POST /api/activations/{id}/approve | reject | revert

func (h *Handler) ApproveActivation(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "Failed to approve activation", h.Engine.ApproveActivation)
}

func (h *Handler) RejectActivation(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "Failed to reject activation", h.Engine.RejectActivation)
}

func (h *Handler) RevertActivation(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "Failed to revert activation", h.Engine.RevertActivation)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// Transfer moves real funds between member wallets.
// POST /api/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	if err := h.Engine.Transfer(r.Context(), req.FromID, req.ToID, amount); err != nil {
		h.writeDomainError(w, "Failed to transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, message string, fn func(ctx context.Context, id string) error) {
	if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, message, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toUserDTO(u *network.User) UserDTO {
	return UserDTO{
		ID:            u.ID,
		DNI:           u.DNI,
		Name:          u.Name,
		LastName:      u.LastName,
		Email:         u.Email,
		Country:       u.Country,
		ParentID:      u.ParentID,
		Plan:          string(u.Plan),
		Points:        u.Points,
		TotalPoints:   u.TotalPoints,
		Rank:          string(u.Rank),
		Activated:     u.Activated,
		SoftActivated: u.SoftActivated,
		Affiliated:    u.Affiliated,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}

func toAffiliationDTO(a *network.Affiliation) AffiliationDTO {
	return AffiliationDTO{
		ID:      a.ID,
		UserID:  a.UserID,
		Date:    a.Date.Format(time.RFC3339),
		Status:  string(a.Status),
		Plan:    string(a.Plan),
		Price:   a.Price.String(),
		Amounts: amountsDTO(a.Amounts),
	}
}

func toActivationDTO(a *network.Activation) ActivationDTO {
	return ActivationDTO{
		ID:      a.ID,
		UserID:  a.UserID,
		Date:    a.Date.Format(time.RFC3339),
		Status:  string(a.Status),
		Price:   a.Price.String(),
		Points:  a.Points,
		Amounts: amountsDTO(a.Amounts),
	}
}

// writeDomainError maps engine errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case network.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case network.IsClientError(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
