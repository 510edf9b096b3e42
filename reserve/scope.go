/*
scope.go - Offer eligibility gate

PURPOSE:
  Validates that an offer exists and is currently open before any
  mutating reserve operation runs. Every operation calls CheckOfferScope
  first and propagates its error verbatim - same code, same message -
  with no further processing.
*/
package reserve

import (
	"context"
	"net/http"
	"time"
)

// OfferScopeGuard gates reserve operations on offer eligibility.
type OfferScopeGuard struct {
	Offers OfferSource

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewOfferScopeGuard(offers OfferSource) *OfferScopeGuard {
	return &OfferScopeGuard{Offers: offers, Now: time.Now}
}

func (g *OfferScopeGuard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// CheckOfferScope returns the offer when it exists and its reservation
// window contains the current time. Failures are *Error values the
// caller must return unchanged.
func (g *OfferScopeGuard) CheckOfferScope(ctx context.Context, id OfferID) (*Offer, *Error) {
	offer, err := g.Offers.GetOffer(ctx, id)
	if err != nil {
		return nil, Internal(err)
	}
	if offer == nil {
		return nil, NewError(CodeNotFound, http.StatusNotFound, "Offer with id %s not found", id)
	}
	if !offer.WindowContains(g.now()) {
		return nil, NewError(CodeOutOfWindow, http.StatusBadRequest, "Offer %s is not open for reservations", id)
	}
	return offer, nil
}
