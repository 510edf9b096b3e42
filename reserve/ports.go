/*
ports.go - Collaborator interfaces consumed by the engine

PURPOSE:
  The engine depends on abstractions, never on concrete transports or
  storage. Everything here is constructor-injected; there is no ambient
  lookup of collaborators.

INTERFACES:
  Repository:   Reserve lookup/persist plus the aggregate sums the
                limiter needs
  TxRepository: Repository with an atomic transaction wrapper; the
                validate-then-persist step of create/update runs inside it
  OfferSource:  Read access to offers (offer management is external)
  Notifier:     Fire-and-forget event publication
  Router:       Follow-up URL generation for notification payloads

IMPLEMENTATIONS:
  - store/sqlite: Repository + OfferSource over SQLite
  - reserve/store: In-memory versions for tests and dev
  - notify:       Dispatcher implementing Notifier

SEE ALSO:
  - engine.go: The only consumer of these ports
*/
package reserve

import "context"

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists allocation reserves.
//
// Lookup methods return (nil, nil) when the record is absent; callers
// translate that into a not_found decision.
type Repository interface {
	// FindByIDAndOwner returns the reserve only when it exists AND is
	// owned by the given member. Ownership filtering happens here, not
	// in the engine.
	FindByIDAndOwner(ctx context.Context, id ReserveID, owner MemberID) (*AllocationReserve, error)

	// Save inserts or overwrites a reserve.
	Save(ctx context.Context, r *AllocationReserve) error

	// Delete hard-removes a reserve.
	Delete(ctx context.Context, id ReserveID) error

	// SumReservedShares returns the total shares held by non-terminal
	// reserves for the offer, excluding the given reserve id (pass the
	// empty id to exclude nothing).
	SumReservedShares(ctx context.Context, offerID OfferID, exclude ReserveID) (int64, error)

	// SumReservedSharesByMember is SumReservedShares restricted to one
	// member's reserves.
	SumReservedSharesByMember(ctx context.Context, offerID OfferID, member MemberID, exclude ReserveID) (int64, error)

	// ListPendingByOffer returns all pending reserves for an offer.
	// Used by the auto-approval sweep.
	ListPendingByOffer(ctx context.Context, offerID OfferID) ([]*AllocationReserve, error)
}

// TxRepository wraps Repository with transaction support.
//
// WithTx executes fn against a transactional Repository view. If fn
// returns an error the transaction is rolled back; otherwise it is
// committed. Implementations must make validate-then-persist atomic with
// respect to concurrent callers: the aggregate sums read inside fn and
// the insert/update performed by fn commit together or not at all.
type TxRepository interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// OFFER SOURCE
// =============================================================================

// OfferSource reads offers from the offer-management subsystem.
// Returns (nil, nil) when the offer is absent.
type OfferSource interface {
	GetOffer(ctx context.Context, id OfferID) (*Offer, error)
}

// =============================================================================
// NOTIFICATION & ROUTING
// =============================================================================

// EventReserveApproved is published when a reserve reaches Approved.
const EventReserveApproved = "member_reserve_allocation_approved"

// Route names understood by Router implementations.
const (
	RouteApplicationCreate      = "member_application_create"
	RouteInvestmentProfileIndex = "investment_profile_index"
)

// Event is an outbound notification. Payload is transport-agnostic.
type Event struct {
	ID      string
	Name    string
	Member  MemberID
	Payload map[string]any
}

// Notifier publishes events. Publication must never block the reserve
// decision and delivery failures must never affect committed state, so
// Publish returns nothing.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// Router builds follow-up URLs for notification payloads.
type Router interface {
	URLFor(route string, params map[string]string) string
}
