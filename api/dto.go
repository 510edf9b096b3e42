/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

ENVELOPE:
  Every response carries "success". Failures add a short machine-readable
  "error" code and a human-readable "message"; successes add
  operation-specific data.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/reserve"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateReservationRequest is the body of POST /offers/{offerId}/reserves.
// Amount is a decimal string; a nil Amount reads as "not sent".
type CreateReservationRequest struct {
	Amount       *string `json:"amount"`
	ViaMobileApp bool    `json:"via_mobile_app"`
}

// UpdateReservationRequest is the body of PUT /reserves/{id}.
type UpdateReservationRequest struct {
	Amount *string `json:"amount"`
}

// SaveOfferRequest ingests offer facts from the offer subsystem.
type SaveOfferRequest struct {
	ID                  string `json:"id"`
	CompanyName         string `json:"company_name"`
	SharePrice          string `json:"share_price"`
	MinimumParcelShares int64  `json:"minimum_parcel_shares"`
	MaximumParcelShares int64  `json:"maximum_parcel_shares"`
	SharesOnOffer       int64  `json:"shares_on_offer"`
	OpenDate            string `json:"open_date"`
	CloseDate           string `json:"close_date"`
	AllowWhenExceeded   bool   `json:"allow_when_exceeded"`
	ApplicationID       string `json:"application_id"`
	AutoApprove         bool   `json:"auto_approve"`
}

// SaveMemberRequest creates or updates a member record.
type SaveMemberRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	InvestmentProfiles int    `json:"investment_profiles"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ReserveParamsDTO describes what a member may reserve on an offer.
// OfferLimit is null when no limit applies.
type ReserveParamsDTO struct {
	OfferID       string `json:"offer_id"`
	MinParcel     int64  `json:"min_parcel"`
	MaxParcel     int64  `json:"max_parcel"`
	PricePerShare string `json:"price_per_share"`
	OfferLimit    *int64 `json:"offer_limit"`
}

// CheckPossibilityResponse is the success body of the reserve check.
type CheckPossibilityResponse struct {
	Success       bool             `json:"success"`
	InstanceName  string           `json:"instance_name"`
	ReserveParams ReserveParamsDTO `json:"reserve_params"`
}

// CreateReservationData carries the new reserve id plus the limits
// before ("reserved") and after ("reserve_limits") creation.
type CreateReservationData struct {
	AllocationReserveID string `json:"allocation_reserve_id"`
	OfferID             string `json:"offer_id"`
	Reserved            *int64 `json:"reserved"`
	ReserveLimits       *int64 `json:"reserve_limits"`
}

// CreateReservationResponse is the success body of a create.
type CreateReservationResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Data    CreateReservationData `json:"data"`
}

// UpdateReservationResponse is the success body of an update.
type UpdateReservationResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	AllocationReserveID string `json:"allocation_reserve_id"`
}

// DeleteReservationResponse reports which cancellation action occurred.
type DeleteReservationResponse struct {
	Success   bool   `json:"success"`
	IsRemoved bool   `json:"isRemoved"`
	Message   string `json:"message"`
}

// ReservationViewDTO is the read projection of a reserve.
type ReservationViewDTO struct {
	OfferID               string `json:"offer_id"`
	SharePrice            string `json:"share_price"`
	MinParcel             int64  `json:"min_parcel"`
	MaxParcel             int64  `json:"max_parcel"`
	Amount                string `json:"amount"`
	Shares                int64  `json:"shares"`
	Status                string `json:"status"`
	CreatedByMobileApp    bool   `json:"created_by_mobile_app"`
	CreatedAt             string `json:"created_at"`
	IsApplicationPossible bool   `json:"is_application_possible"`
}

// GetReservationResponse is the success body of a get.
type GetReservationResponse struct {
	Success             bool               `json:"success"`
	AllocationReserveID string             `json:"allocation_reserve_id"`
	Data                ReservationViewDTO `json:"data"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// limitValue converts a Limit to its JSON shape: null when unbounded.
func limitValue(l reserve.Limit) *int64 {
	if !l.Bounded {
		return nil
	}
	v := l.Remaining
	return &v
}

func toReservationViewDTO(view *reserve.ReservationView) ReservationViewDTO {
	return ReservationViewDTO{
		OfferID:               string(view.OfferID),
		SharePrice:            view.SharePrice.String(),
		MinParcel:             view.MinParcel,
		MaxParcel:             view.MaxParcel,
		Amount:                view.Reserve.Amount.String(),
		Shares:                view.Reserve.Shares,
		Status:                string(view.Reserve.Status),
		CreatedByMobileApp:    view.Reserve.CreatedByMobileApp,
		CreatedAt:             view.Reserve.CreatedAt.Format(time.RFC3339),
		IsApplicationPossible: view.ApplicationPossible,
	}
}

// parseAmount decodes the request amount field. A nil pointer or an
// unparsable value decodes to zero, which the engine reads as "not sent".
func parseAmount(raw *string) decimal.Decimal {
	if raw == nil || *raw == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
