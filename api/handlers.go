/*
handlers.go - HTTP API handlers for the allocation reserve engine

PURPOSE:
  Exposes the reserve engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the engine.

ENDPOINTS:
  Reserves:
    GET    /api/offers/{offerId}/reserve-check  Check reserve possibility
    POST   /api/offers/{offerId}/reserves       Create reservation
    GET    /api/reserves/{id}                   Get reservation
    PUT    /api/reserves/{id}                   Update reservation (shrink only)
    DELETE /api/reserves/{id}                   Cancel reservation

  Admin (ingestion seams for the external offer/user subsystems):
    PUT    /api/admin/offers                    Upsert offer facts
    PUT    /api/admin/members                   Upsert member record

AUTHENTICATION:
  User authentication is an external concern. The acting member arrives
  as the X-Member-ID header, resolved against the member store; requests
  without a resolvable member get not_found.

ERROR HANDLING:
  Engine errors are *reserve.Error values carrying their own code,
  message, and HTTP status; anything else maps to 500 internal_error.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/reserve"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine       *reserve.Engine
	Store        *sqlite.Store
	InstanceName string
	Log          zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *reserve.Engine, store *sqlite.Store, instanceName string, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:       engine,
		Store:        store,
		InstanceName: instanceName,
		Log:          log,
	}
}

// currentMember resolves the acting member from the X-Member-ID header.
func (h *Handler) currentMember(w http.ResponseWriter, r *http.Request) *reserve.Member {
	id := reserve.MemberID(r.Header.Get("X-Member-ID"))
	if id == "" {
		writeFailure(w, http.StatusUnauthorized, "bad_request", "Member identity not provided")
		return nil
	}

	member, err := h.Store.GetMember(r.Context(), id)
	if err != nil {
		h.Log.Error().Err(err).Str("member_id", string(id)).Msg("member lookup failed")
		writeFailure(w, http.StatusInternalServerError, "internal_error", "internal error")
		return nil
	}
	if member == nil {
		writeFailure(w, http.StatusNotFound, "not_found", "Member not found")
		return nil
	}
	return member
}

// =============================================================================
// RESERVE HANDLERS
// =============================================================================

// CheckReservePossibility returns price, parcel bounds, and the current
// limit for the offer, or "exceeded" when no minimum parcel fits.
func (h *Handler) CheckReservePossibility(w http.ResponseWriter, r *http.Request) {
	member := h.currentMember(w, r)
	if member == nil {
		return
	}
	offerID := reserve.OfferID(chi.URLParam(r, "offerId"))

	result, err := h.Engine.CheckReservePossibility(r.Context(), member, offerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckPossibilityResponse{
		Success:      true,
		InstanceName: h.InstanceName,
		ReserveParams: ReserveParamsDTO{
			OfferID:       string(result.OfferID),
			MinParcel:     result.MinParcel,
			MaxParcel:     result.MaxParcel,
			PricePerShare: result.SharePrice.String(),
			OfferLimit:    limitValue(result.Limit),
		},
	})
}

// CreateReservation creates a reserve from a monetary amount.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	member := h.currentMember(w, r)
	if member == nil {
		return
	}
	offerID := reserve.OfferID(chi.URLParam(r, "offerId"))

	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	result, err := h.Engine.CreateReservation(r.Context(), member, offerID, parseAmount(req.Amount), req.ViaMobileApp)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateReservationResponse{
		Success: true,
		Message: result.Message,
		Data: CreateReservationData{
			AllocationReserveID: string(result.Reserve.ID),
			OfferID:             string(result.Reserve.OfferID),
			Reserved:            limitValue(result.LimitBefore),
			ReserveLimits:       limitValue(result.LimitAfter),
		},
	})
}

// UpdateReservation shrinks an existing reserve to a new amount.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	member := h.currentMember(w, r)
	if member == nil {
		return
	}
	id := reserve.ReserveID(chi.URLParam(r, "id"))

	var req UpdateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	updated, err := h.Engine.UpdateReservation(r.Context(), member, id, parseAmount(req.Amount))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateReservationResponse{
		Success:             true,
		Message:             "Allocation Reserve successfully updated",
		AllocationReserveID: string(updated.ID),
	})
}

// DeleteReservation cancels a reserve: soft-cancel for approved ones,
// hard delete otherwise.
func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	member := h.currentMember(w, r)
	if member == nil {
		return
	}
	id := reserve.ReserveID(chi.URLParam(r, "id"))

	result, err := h.Engine.DeleteReservation(r.Context(), member, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteReservationResponse{
		Success:   true,
		IsRemoved: result.Removed,
		Message:   result.Message,
	})
}

// GetReservation returns the read projection of a reserve.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	member := h.currentMember(w, r)
	if member == nil {
		return
	}
	id := reserve.ReserveID(chi.URLParam(r, "id"))

	view, err := h.Engine.GetReservation(r.Context(), member, id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GetReservationResponse{
		Success:             true,
		AllocationReserveID: string(view.Reserve.ID),
		Data:                toReservationViewDTO(view),
	})
}

// =============================================================================
// ADMIN HANDLERS - ingestion seams for external subsystems
// =============================================================================

// SaveOffer upserts offer facts from the offer-management subsystem.
func (h *Handler) SaveOffer(w http.ResponseWriter, r *http.Request) {
	var req SaveOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	price, err := decimal.NewFromString(req.SharePrice)
	if err != nil || !price.IsPositive() {
		writeFailure(w, http.StatusBadRequest, "bad_request", "share_price must be a positive decimal")
		return
	}
	openDate, err := time.Parse(time.RFC3339, req.OpenDate)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "bad_request", "open_date must be RFC3339")
		return
	}
	closeDate, err := time.Parse(time.RFC3339, req.CloseDate)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "bad_request", "close_date must be RFC3339")
		return
	}
	if closeDate.Before(openDate) {
		writeFailure(w, http.StatusBadRequest, "bad_request", "close_date before open_date")
		return
	}

	offer := &reserve.Offer{
		ID:                  reserve.OfferID(req.ID),
		CompanyName:         req.CompanyName,
		SharePrice:          price,
		MinimumParcelShares: req.MinimumParcelShares,
		MaximumParcelShares: req.MaximumParcelShares,
		SharesOnOffer:       req.SharesOnOffer,
		OpenDate:            openDate,
		CloseDate:           closeDate,
		AllowWhenExceeded:   req.AllowWhenExceeded,
		Application: reserve.Application{
			ID:          req.ApplicationID,
			AutoApprove: req.AutoApprove,
		},
	}

	if err := h.Store.SaveOffer(r.Context(), offer); err != nil {
		h.Log.Error().Err(err).Str("offer_id", req.ID).Msg("save offer failed")
		writeFailure(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "offer_id": req.ID})
}

// SaveMember upserts a member record.
func (h *Handler) SaveMember(w http.ResponseWriter, r *http.Request) {
	var req SaveMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if req.ID == "" {
		writeFailure(w, http.StatusBadRequest, "bad_request", "id is required")
		return
	}

	member := &reserve.Member{
		ID:                 reserve.MemberID(req.ID),
		Name:               req.Name,
		Email:              req.Email,
		InvestmentProfiles: req.InvestmentProfiles,
	}

	if err := h.Store.SaveMember(r.Context(), member); err != nil {
		h.Log.Error().Err(err).Str("member_id", req.ID).Msg("save member failed")
		writeFailure(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "member_id": req.ID})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   code,
		Message: message,
	})
}

// writeEngineError maps an engine error to the failure envelope.
// Internal errors carry their cause in the chain; log it here since the
// response body stays generic.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	if apiErr, ok := reserve.AsError(err); ok {
		if apiErr.Code == reserve.CodeInternal {
			h.Log.Error().Err(err).Msg("engine internal error")
		}
		writeFailure(w, apiErr.HTTPStatus, string(apiErr.Code), apiErr.Message)
		return
	}
	h.Log.Error().Err(err).Msg("unexpected engine error")
	writeFailure(w, http.StatusInternalServerError, "internal_error", "internal error")
}
