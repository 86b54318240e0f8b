/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Decimal values are serialized as JSON strings so clients never see
  float rounding on balances or prices.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route wiring
*/
package api

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMBERS
// =============================================================================

// UserDTO represents a member in API responses.
type UserDTO struct {
	ID            string  `json:"id"`
	DNI           string  `json:"dni"`
	Name          string  `json:"name"`
	LastName      string  `json:"last_name,omitempty"`
	Email         string  `json:"email,omitempty"`
	Country       string  `json:"country,omitempty"`
	ParentID      string  `json:"parent_id,omitempty"`
	Plan          string  `json:"plan"`
	Points        float64 `json:"points"`
	TotalPoints   float64 `json:"total_points"`
	Rank          string  `json:"rank"`
	Activated     bool    `json:"activated"`
	SoftActivated bool    `json:"soft_activated"`
	Affiliated    bool    `json:"affiliated"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// EnrollRequest is the registration form.
type EnrollRequest struct {
	SponsorID string `json:"sponsor_id"`
	DNI       string `json:"dni"`
	Name      string `json:"name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
}

// SetPointsRequest is the admin point correction body.
type SetPointsRequest struct {
	Points float64 `json:"points"`
}

// =============================================================================
// DASHBOARD AND TREE
// =============================================================================

// DashboardDTO is the member home screen payload.
type DashboardDTO struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	Plan           string    `json:"plan"`
	RealBalance    string    `json:"real_balance"`
	VirtualBalance string    `json:"virtual_balance"`
	TotalPoints    float64   `json:"total_points"`
	Legs           []float64 `json:"legs"`
	Rank           string    `json:"rank"`
	NextRank       string    `json:"next_rank,omitempty"`
	NextDeficit    float64   `json:"next_deficit"`
	TeamCount      int       `json:"team_count"`
	Activated      bool      `json:"activated"`
	SoftActivated  bool      `json:"soft_activated"`
}

// NodeDTO is one expanded level of the network browser.
type NodeDTO struct {
	ID          string         `json:"id"`
	Parent      string         `json:"parent,omitempty"`
	Name        string         `json:"name"`
	TotalPoints float64        `json:"total_points"`
	Children    []NodeChildDTO `json:"children"`
}

// NodeChildDTO is one child row of a node read.
type NodeChildDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Plan        string  `json:"plan"`
	Rank        string  `json:"rank"`
	TotalPoints float64 `json:"total_points"`
	HasChilds   bool    `json:"has_childs"`
}

// MoveRequest relocates a member under a new sponsor.
type MoveRequest struct {
	SubjectID   string `json:"subject_id"`
	NewParentID string `json:"new_parent_id"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	OriginUserID string `json:"origin_user_id,omitempty"`
	Date         string `json:"date"`
	Type         string `json:"type"`
	Value        string `json:"value"`
	Virtual      bool   `json:"virtual"`
	Name         string `json:"name,omitempty"`
	Deleted      bool   `json:"deleted"`
	IsReversal   bool   `json:"is_reversal,omitempty"`
}

// BalanceDTO is the computed wallet state.
type BalanceDTO struct {
	Real    string `json:"real"`
	Virtual string `json:"virtual"`
}

// TransferRequest moves real funds between wallets.
type TransferRequest struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Amount string `json:"amount"`
}

// =============================================================================
// PURCHASES
// =============================================================================

// CreateAffiliationRequest submits a plan purchase.
type CreateAffiliationRequest struct {
	Plan       string `json:"plan"`
	UseBalance bool   `json:"use_balance"`
}

// ProductLineDTO is one product row of an activation purchase.
type ProductLineDTO struct {
	ProductID string  `json:"product_id"`
	Units     int     `json:"units"`
	Price     string  `json:"price"`
	Points    float64 `json:"points"`
}

// CreateActivationRequest submits a product purchase.
type CreateActivationRequest struct {
	Products   []ProductLineDTO `json:"products"`
	UseBalance bool             `json:"use_balance"`
}

// AffiliationDTO represents a plan purchase in API responses.
type AffiliationDTO struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	Date    string    `json:"date"`
	Status  string    `json:"status"`
	Plan    string    `json:"plan"`
	Price   string    `json:"price"`
	Amounts [3]string `json:"amounts"`
}

// ActivationDTO represents a product purchase in API responses.
type ActivationDTO struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	Date    string    `json:"date"`
	Status  string    `json:"status"`
	Price   string    `json:"price"`
	Points  float64   `json:"points"`
	Amounts [3]string `json:"amounts"`
}

// RemainingDTO previews the remaining lump per purchasable plan.
type RemainingDTO map[string]string

// ErrorResponse is the error payload for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func amountsDTO(a [3]decimal.Decimal) [3]string {
	return [3]string{a[0].String(), a[1].String(), a[2].String()}
}
