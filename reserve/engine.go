/*
engine.go - Allocation reserve orchestration

PURPOSE:
  Orchestrates every reserve operation: validates offer scope, converts
  the amount to shares, computes the limit, applies the decision rules,
  persists the outcome, and emits a notification event on approval.

DECISION RULES (create):
  Accept iff (limit allows shares AND shares >= offer minimum parcel),
  or the offer's exceed-policy flag is set. Rejections pick the first
  applicable message: limit exceeded -> maximum parcel exceeded ->
  minimum parcel not met -> no-remaining-capacity fallback.

  Updates add one rule: the new share count may never grow past the
  previously reserved count. A reservation only shrinks.

CONCURRENCY:
  Capacity is contended by concurrent members. Create and update run
  their limit check and persist step inside a single repository
  transaction (recompute-then-commit): the sums are read from the same
  transactional view that performs the write, so two requests racing for
  the last shares cannot both succeed.

NOTIFICATION:
  Approval events are published after commit, fire-and-forget. Delivery
  latency and delivery failures never affect the committed reservation.

SEE ALSO:
  - limiter.go: Limit computation
  - scope.go: Offer eligibility
  - status.go: Status transitions
*/
package reserve

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine coordinates reserve operations. All collaborators are
// constructor-injected; there is no ambient lookup.
type Engine struct {
	Repo     TxRepository
	Offers   OfferSource
	Scope    *OfferScopeGuard
	Notifier Notifier
	Router   Router
	Log      zerolog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewEngine(repo TxRepository, offers OfferSource, notifier Notifier, router Router, log zerolog.Logger) *Engine {
	return &Engine{
		Repo:     repo,
		Offers:   offers,
		Scope:    NewOfferScopeGuard(offers),
		Notifier: notifier,
		Router:   router,
		Log:      log,
		Now:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// =============================================================================
// RESULTS
// =============================================================================

// CheckResult is the reserve-possibility projection for an offer.
type CheckResult struct {
	OfferID    OfferID
	SharePrice decimal.Decimal
	MinParcel  int64
	MaxParcel  int64
	Limit      Limit
}

// CreateResult carries the new reserve plus the limits before and after
// creation, so callers can show "you had X, now Y".
type CreateResult struct {
	Reserve     *AllocationReserve
	Message     string
	LimitBefore Limit
	LimitAfter  Limit
}

// CancelResult reports which cancellation action occurred.
type CancelResult struct {
	Removed bool
	Message string
}

// ReservationView is the read projection returned by GetReservation.
type ReservationView struct {
	Reserve    *AllocationReserve
	OfferID    OfferID
	SharePrice decimal.Decimal
	MinParcel  int64

	// MaxParcel mirrors the reserve's own share count: the most the
	// member can keep when shrinking the reservation.
	MaxParcel int64

	// ApplicationPossible reports whether a follow-up application is
	// still possible, i.e. the reserve does not exceed the offer's
	// current limit.
	ApplicationPossible bool
}

// =============================================================================
// VALIDATION
// =============================================================================

// validateAmount enforces amount presence and sign. A zero amount reads
// as "not sent" (the transport decodes absent fields to zero).
func validateAmount(amount decimal.Decimal) *Error {
	if amount.IsZero() {
		return NewError(CodeInvalidAmount, http.StatusBadRequest, "Required parameter amount not sent")
	}
	if amount.IsNegative() {
		return NewError(CodeBadRequest, http.StatusBadRequest, "Amount cannot be negative number")
	}
	return nil
}

func notFoundReserve(id ReserveID) *Error {
	return NewError(CodeNotFound, http.StatusNotFound, "Allocation Reserve with id %s not found", id)
}

// =============================================================================
// CHECK POSSIBILITY
// =============================================================================

// CheckReservePossibility returns the parameters a member needs before
// reserving: price, parcel bounds, and the current limit. Fails with
// exceeded when the remaining capacity cannot fit even a minimum parcel.
func (e *Engine) CheckReservePossibility(ctx context.Context, member *Member, offerID OfferID) (*CheckResult, error) {
	offer, serr := e.Scope.CheckOfferScope(ctx, offerID)
	if serr != nil {
		return nil, serr
	}

	limiter := &ReserveLimiter{Repo: e.Repo}
	limit, err := limiter.Limits(ctx, offer, member.ID, "")
	if err != nil {
		return nil, e.internal("calculate limits", err)
	}

	if limit.Bounded && limit.Remaining < offer.MinimumParcelShares && !offer.AllowWhenExceeded {
		return nil, NewError(CodeExceeded, http.StatusBadRequest, "Offer limit exceeded")
	}

	return &CheckResult{
		OfferID:    offer.ID,
		SharePrice: offer.SharePrice,
		MinParcel:  offer.MinimumParcelShares,
		MaxParcel:  offer.MaximumParcelShares,
		Limit:      limit,
	}, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateReservation converts the amount to shares, validates it against
// the limit inside a single transaction, persists the reserve with its
// initial status, and emits an approval notification when applicable.
func (e *Engine) CreateReservation(ctx context.Context, member *Member, offerID OfferID, amount decimal.Decimal, viaMobileApp bool) (*CreateResult, error) {
	offer, serr := e.Scope.CheckOfferScope(ctx, offerID)
	if serr != nil {
		return nil, serr
	}
	if verr := validateAmount(amount); verr != nil {
		return nil, verr
	}

	var (
		created       *AllocationReserve
		before, after Limit
	)

	err := e.Repo.WithTx(ctx, func(repo Repository) error {
		shares, err := AmountToShares(amount, offer.SharePrice)
		if err != nil {
			return fmt.Errorf("derive shares: %w", err)
		}

		limiter := &ReserveLimiter{Repo: repo}
		limit, err := limiter.Limits(ctx, offer, member.ID, "")
		if err != nil {
			return fmt.Errorf("calculate limits: %w", err)
		}
		before = limit

		accepted := (limit.Allows(shares) && shares >= offer.MinimumParcelShares) || offer.AllowWhenExceeded
		if !accepted {
			return rejection(CodeCalculationError, offer, shares, limit, -1)
		}

		now := e.now()
		r := &AllocationReserve{
			ID:                 ReserveID(uuid.NewString()),
			OfferID:            offer.ID,
			MemberID:           member.ID,
			Amount:             amount,
			Shares:             shares,
			Status:             initialStatus(offer, now),
			CreatedByMobileApp: viaMobileApp,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := repo.Save(ctx, r); err != nil {
			return fmt.Errorf("save reserve: %w", err)
		}
		created = r

		after, err = limiter.Limits(ctx, offer, member.ID, "")
		if err != nil {
			return fmt.Errorf("recalculate limits: %w", err)
		}
		return nil
	})
	if err != nil {
		if apiErr, ok := AsError(err); ok {
			return nil, apiErr
		}
		return nil, e.internal("create reservation", err)
	}

	e.Log.Info().
		Str("reserve_id", string(created.ID)).
		Str("offer_id", string(offer.ID)).
		Str("member_id", string(member.ID)).
		Str("status", string(created.Status)).
		Int64("shares", created.Shares).
		Msg("allocation reserve created")

	if created.Status == StatusApproved {
		e.publishApproved(ctx, created, member, offer)
	}

	return &CreateResult{
		Reserve:     created,
		Message:     thankYouMessage(offer),
		LimitBefore: before,
		LimitAfter:  after,
	}, nil
}

// initialStatus decides the status of a new reserve: Approved only when
// the offer's application auto-approves and the window is open now.
func initialStatus(offer *Offer, now time.Time) Status {
	if offer.Application.AutoApprove && offer.WindowContains(now) {
		return StatusApproved
	}
	return StatusPending
}

func thankYouMessage(offer *Offer) string {
	return fmt.Sprintf(
		"<p>Thank you for your interest in subscribing to invest in %s. "+
			"We will contact you via email once your application has been reviewed and approved.</p>"+
			"<p>You will then be required to complete an online application form and transfer the funds.</p>",
		offer.CompanyName,
	)
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateReservation replaces the reserve's amount. Updates may only
// shrink a reservation: the new share count must be <= the count derived
// from the current amount.
func (e *Engine) UpdateReservation(ctx context.Context, member *Member, id ReserveID, amount decimal.Decimal) (*AllocationReserve, error) {
	if verr := validateAmount(amount); verr != nil {
		return nil, verr
	}

	var updated *AllocationReserve

	err := e.Repo.WithTx(ctx, func(repo Repository) error {
		r, err := repo.FindByIDAndOwner(ctx, id, member.ID)
		if err != nil {
			return fmt.Errorf("find reserve: %w", err)
		}
		if r == nil {
			return notFoundReserve(id)
		}

		offer, serr := e.Scope.CheckOfferScope(ctx, r.OfferID)
		if serr != nil {
			return serr
		}

		shares, err := AmountToShares(amount, offer.SharePrice)
		if err != nil {
			return fmt.Errorf("derive shares: %w", err)
		}
		// Derived at the current share price, as is alreadyReserved
		// below. If prices could change mid-offer these two would be
		// computed at different prices than the original commitment.
		alreadyReserved, err := AmountToShares(r.Amount, offer.SharePrice)
		if err != nil {
			return fmt.Errorf("derive reserved shares: %w", err)
		}

		limiter := &ReserveLimiter{Repo: repo}
		limit, err := limiter.Limits(ctx, offer, member.ID, r.ID)
		if err != nil {
			return fmt.Errorf("calculate limits: %w", err)
		}

		if !limit.Allows(shares) || shares < offer.MinimumParcelShares || shares > alreadyReserved {
			return rejection(CodeAmountError, offer, shares, limit, alreadyReserved)
		}

		r.Amount = amount
		r.Shares = shares
		r.UpdatedAt = e.now()
		if err := repo.Save(ctx, r); err != nil {
			return fmt.Errorf("save reserve: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		if apiErr, ok := AsError(err); ok {
			return nil, apiErr
		}
		return nil, e.internal("update reservation", err)
	}

	e.Log.Info().
		Str("reserve_id", string(updated.ID)).
		Str("member_id", string(member.ID)).
		Int64("shares", updated.Shares).
		Msg("allocation reserve updated")

	return updated, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// DeleteReservation cancels a reserve. Approved reserves soft-cancel to
// FailedToComplete and stay on record for audit; anything else is
// hard-deleted.
func (e *Engine) DeleteReservation(ctx context.Context, member *Member, id ReserveID) (*CancelResult, error) {
	var result *CancelResult

	err := e.Repo.WithTx(ctx, func(repo Repository) error {
		r, err := repo.FindByIDAndOwner(ctx, id, member.ID)
		if err != nil {
			return fmt.Errorf("find reserve: %w", err)
		}
		if r == nil {
			return notFoundReserve(id)
		}

		if r.Status == StatusApproved {
			if terr := r.TransitionTo(StatusFailedToComplete); terr != nil {
				return terr
			}
			r.UpdatedAt = e.now()
			if err := repo.Save(ctx, r); err != nil {
				return fmt.Errorf("save reserve: %w", err)
			}
			result = &CancelResult{
				Removed: false,
				Message: "Allocation Reserve status was changed to Failed To Complete",
			}
			return nil
		}

		if err := repo.Delete(ctx, r.ID); err != nil {
			return fmt.Errorf("delete reserve: %w", err)
		}
		result = &CancelResult{
			Removed: true,
			Message: "Allocation Reserve was successfully deleted",
		}
		return nil
	})
	if err != nil {
		if apiErr, ok := AsError(err); ok {
			return nil, apiErr
		}
		return nil, e.internal("delete reservation", err)
	}

	e.Log.Info().
		Str("reserve_id", string(id)).
		Str("member_id", string(member.ID)).
		Bool("removed", result.Removed).
		Msg("allocation reserve cancelled")

	return result, nil
}

// =============================================================================
// GET
// =============================================================================

// GetReservation returns a read projection of the reserve, including
// whether a follow-up application is still possible under the offer's
// current limit. Reads do not require the offer window to be open.
func (e *Engine) GetReservation(ctx context.Context, member *Member, id ReserveID) (*ReservationView, error) {
	r, err := e.Repo.FindByIDAndOwner(ctx, id, member.ID)
	if err != nil {
		return nil, e.internal("find reserve", err)
	}
	if r == nil {
		return nil, notFoundReserve(id)
	}

	offer, err := e.Offers.GetOffer(ctx, r.OfferID)
	if err != nil {
		return nil, e.internal("load offer", err)
	}
	if offer == nil {
		return nil, NewError(CodeNotFound, http.StatusNotFound, "Offer with id %s not found", r.OfferID)
	}

	shares, err := AmountToShares(r.Amount, offer.SharePrice)
	if err != nil {
		return nil, e.internal("derive shares", err)
	}

	limiter := &ReserveLimiter{Repo: e.Repo}
	limit, err := limiter.Limits(ctx, offer, member.ID, r.ID)
	if err != nil {
		return nil, e.internal("calculate limits", err)
	}

	return &ReservationView{
		Reserve:             r,
		OfferID:             offer.ID,
		SharePrice:          offer.SharePrice,
		MinParcel:           offer.MinimumParcelShares,
		MaxParcel:           shares,
		ApplicationPossible: limit.Allows(shares),
	}, nil
}

// =============================================================================
// APPROVAL
// =============================================================================

// ApproveReservation transitions a pending reserve to Approved and emits
// the approval notification. Used by the auto-approval sweep when an
// offer's window opens.
//
// The reserve is re-read inside the transaction: the caller's copy may
// be stale (the sweep lists pending reserves, then approves each one
// later). A reserve deleted in between stays deleted; approving it is a
// silent no-op, never a re-insert.
func (e *Engine) ApproveReservation(ctx context.Context, r *AllocationReserve, member *Member, offer *Offer) error {
	approved := false
	err := e.Repo.WithTx(ctx, func(repo Repository) error {
		current, err := repo.FindByIDAndOwner(ctx, r.ID, member.ID)
		if err != nil {
			return fmt.Errorf("find reserve: %w", err)
		}
		if current == nil {
			return nil
		}
		if terr := current.TransitionTo(StatusApproved); terr != nil {
			return terr
		}
		current.UpdatedAt = e.now()
		if err := repo.Save(ctx, current); err != nil {
			return fmt.Errorf("save reserve: %w", err)
		}
		*r = *current
		approved = true
		return nil
	})
	if err != nil {
		return err
	}
	if !approved {
		return nil
	}

	e.Log.Info().
		Str("reserve_id", string(r.ID)).
		Str("offer_id", string(offer.ID)).
		Msg("allocation reserve approved")

	e.publishApproved(ctx, r, member, offer)
	return nil
}

// publishApproved emits the approval event. The follow-up URL depends on
// the member's profile state: members with an investment profile are sent
// to create the follow-up application, others to create a profile first.
func (e *Engine) publishApproved(ctx context.Context, r *AllocationReserve, member *Member, offer *Offer) {
	var path, title string
	if member.InvestmentProfiles > 0 {
		path = e.Router.URLFor(RouteApplicationCreate, map[string]string{"allocationId": string(r.ID)})
		title = "Allocation Reserve"
	} else {
		path = e.Router.URLFor(RouteInvestmentProfileIndex, nil)
		title = "Create Investment Profile"
	}

	e.Notifier.Publish(ctx, Event{
		ID:     uuid.NewString(),
		Name:   EventReserveApproved,
		Member: member.ID,
		Payload: map[string]any{
			"allocation_reserve_id": string(r.ID),
			"offer_id":              string(r.OfferID),
			"company_name":          offer.CompanyName,
			"application_id":        offer.Application.ID,
			"amount":                r.Amount.String(),
			"shares":                r.Shares,
			"url": map[string]string{
				"path":  path,
				"title": title,
			},
		},
	})
}

// =============================================================================
// REJECTION MESSAGES
// =============================================================================

// rejection picks the first applicable rejection, in the fixed tie-break
// order. Messages are amount-based (shares x price), not raw share
// counts, for member clarity. alreadyReserved < 0 disables the
// shrink-only rule (creations). A fully consumed limit skips the
// maximum-amount message ("$ 0" helps nobody) and falls through to the
// later cases.
func rejection(code Code, offer *Offer, shares int64, limit Limit, alreadyReserved int64) *Error {
	switch {
	case limit.Bounded && limit.Remaining > 0 && shares > limit.Remaining:
		return NewError(code, http.StatusBadRequest,
			"The Maximum Investment Amount is $ %s", SharesToAmount(limit.Remaining, offer.SharePrice))
	case offer.MaximumParcelShares > 0 && shares > offer.MaximumParcelShares:
		return NewError(code, http.StatusBadRequest,
			"The Maximum Investment Amount is $ %s", SharesToAmount(offer.MaximumParcelShares, offer.SharePrice))
	case shares < offer.MinimumParcelShares:
		return NewError(code, http.StatusBadRequest,
			"The Minimum Investment Amount is $ %s", SharesToAmount(offer.MinimumParcelShares, offer.SharePrice))
	case alreadyReserved >= 0 && shares > alreadyReserved:
		return NewError(code, http.StatusBadRequest,
			"Number of shares must be less or equals to %d", alreadyReserved)
	case code == CodeAmountError:
		return NewError(code, http.StatusBadRequest, "Allocation Reserve limit reached")
	default:
		return NewError(code, http.StatusBadRequest,
			"You cannot add another reservation as you have already subscribed to the maximum allowed for this Offer. "+
				"Please manage your investments / applications by navigating to the My Investments page.")
	}
}

func (e *Engine) internal(op string, err error) *Error {
	e.Log.Error().Err(err).Str("op", op).Msg("reserve engine failure")
	return Internal(err)
}
