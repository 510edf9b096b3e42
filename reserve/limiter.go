/*
limiter.go - Remaining-capacity computation

PURPOSE:
  Computes, for a given (offer, member) pair, the maximum additional
  shares the member may still reserve. The result intersects the
  offer-wide remaining capacity with the member's personal remaining cap,
  both derived from the sum of shares across non-terminal reserves.

FRESHNESS:
  A Limit is an ephemeral value. It is never persisted and never cached
  across requests: concurrent reservations by other members change
  offer-wide capacity between calls, so every decision recomputes it.
  For commit decisions the limiter runs against the transactional
  Repository view so the sums and the insert commit together.

UNBOUNDED LIMITS:
  An offer with no capacity configured yields an unbounded Limit.
  Bounded=false disables the ceiling check entirely - it never means
  "zero capacity".
*/
package reserve

import "context"

// =============================================================================
// LIMIT - Ephemeral remaining-capacity value
// =============================================================================

// Limit is the remaining share capacity for one (offer, member) pair at
// the instant of computation.
type Limit struct {
	// Remaining is meaningful only when Bounded is true.
	Remaining int64
	Bounded   bool
}

// Unbounded returns a Limit with no ceiling.
func Unbounded() Limit {
	return Limit{Bounded: false}
}

// Allows reports whether a parcel of the given size fits under the limit.
func (l Limit) Allows(shares int64) bool {
	if !l.Bounded {
		return true
	}
	return shares <= l.Remaining
}

// =============================================================================
// RESERVE LIMITER
// =============================================================================

// ReserveLimiter computes limits from reserve aggregates. It has no
// state of its own; construct one per repository view.
type ReserveLimiter struct {
	Repo Repository
}

// Limits computes the remaining shares available to member on offer.
// exclude names a reserve whose own consumption should not count against
// the limit (the reserve being updated or inspected); pass the empty id
// for creations.
func (rl *ReserveLimiter) Limits(ctx context.Context, offer *Offer, member MemberID, exclude ReserveID) (Limit, error) {
	offerCapped := offer.SharesOnOffer > 0
	memberCapped := offer.MaximumParcelShares > 0

	if !offerCapped && !memberCapped {
		return Unbounded(), nil
	}

	var remaining int64
	bounded := false

	if offerCapped {
		total, err := rl.Repo.SumReservedShares(ctx, offer.ID, exclude)
		if err != nil {
			return Limit{}, err
		}
		remaining = offer.SharesOnOffer - total
		bounded = true
	}

	if memberCapped {
		mine, err := rl.Repo.SumReservedSharesByMember(ctx, offer.ID, member, exclude)
		if err != nil {
			return Limit{}, err
		}
		personal := offer.MaximumParcelShares - mine
		if !bounded || personal < remaining {
			remaining = personal
		}
		bounded = true
	}

	if remaining < 0 {
		remaining = 0
	}
	return Limit{Remaining: remaining, Bounded: bounded}, nil
}
