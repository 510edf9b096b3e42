/*
Package reserve provides the allocation reserve engine.

PURPOSE:
  This package contains the domain types and rules for provisional share
  reservations against financial offers. A member commits a monetary
  amount to an offer; the engine converts it to a share count, validates
  it against per-offer and per-member capacity, decides the resulting
  status, and keeps aggregate consumption consistent across creates,
  updates, and cancellations.

KEY CONCEPTS IN THIS FILE (types.go):
  - Offer: A financial instrument open for investment during a window,
    with a price-per-share, parcel bounds, and a total share capacity
  - Application: The offer's linked application, carrying the
    auto-approval policy
  - Member: The investing user (profile count drives notification routing)
  - AllocationReserve: A provisional commitment to purchase a parcel

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never floating-point
  2. Derivation: The share count is always derived from amount/price;
     it is stored for aggregate queries but re-derived on every write
  3. Non-ownership: A reserve holds lookup keys for its offer and member,
     never copies of their mutable fields

SEE ALSO:
  - status.go: Status state machine
  - calculator.go: amount <-> shares conversion
  - limiter.go: Remaining-capacity computation
  - engine.go: Orchestration of create/update/cancel/get
*/
package reserve

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OfferID string
type MemberID string
type ReserveID string

// =============================================================================
// OFFER & APPLICATION - Read-only facts from the offer-management subsystem
// =============================================================================

// Application is the offer's linked application. AutoApprove controls the
// initial status of reserves created while the offer window is open.
type Application struct {
	ID          string
	AutoApprove bool
}

// Offer describes a financial instrument open for reservation.
// The engine treats an Offer as immutable within a single operation;
// only the offer-management subsystem mutates it.
type Offer struct {
	ID          OfferID
	CompanyName string

	// SharePrice is the currency price of a single share.
	SharePrice decimal.Decimal

	// Parcel bounds, in shares. MaximumParcelShares doubles as the
	// per-member cap; zero means no personal cap.
	MinimumParcelShares int64
	MaximumParcelShares int64

	// SharesOnOffer is the offer-wide capacity in shares.
	// Zero means the offer is uncapped.
	SharesOnOffer int64

	OpenDate  time.Time
	CloseDate time.Time

	// AllowWhenExceeded permits reservations beyond the computed limit.
	// It never waives the minimum parcel when a limit applies below it.
	AllowWhenExceeded bool

	Application Application
}

// WindowContains reports whether t falls inside [OpenDate, CloseDate].
func (o *Offer) WindowContains(t time.Time) bool {
	return !t.Before(o.OpenDate) && !t.After(o.CloseDate)
}

// =============================================================================
// MEMBER
// =============================================================================

// Member is the investing user. InvestmentProfiles is the count of
// completed profiles; it selects the follow-up URL on approval.
type Member struct {
	ID                 MemberID
	Name               string
	Email              string
	InvestmentProfiles int
}

// =============================================================================
// ALLOCATION RESERVE
// =============================================================================

// AllocationReserve is a provisional, possibly-approved commitment by a
// member to purchase a parcel of an offer.
//
// INVARIANTS:
//   - Amount > 0 at creation and on every update
//   - Shares == floor(Amount / offer.SharePrice); re-derived on every
//     write, never mutated independently of Amount
//   - Status transitions follow status.go; terminal states never
//     re-enter Pending
type AllocationReserve struct {
	ID       ReserveID
	OfferID  OfferID
	MemberID MemberID

	// Amount is the member-entered monetary value. It is the source of
	// truth; Shares is derived from it.
	Amount decimal.Decimal

	// Shares is the maximum parcel requested, floor(Amount / SharePrice).
	Shares int64

	Status Status

	// CreatedByMobileApp records the creation channel.
	CreatedByMobileApp bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CountsTowardCapacity reports whether this reserve consumes offer
// capacity. Terminal reserves are kept for audit but release their shares.
func (r *AllocationReserve) CountsTowardCapacity() bool {
	return !r.Status.Terminal()
}
