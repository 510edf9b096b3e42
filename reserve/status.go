/*
status.go - Reserve status state machine

PURPOSE:
  Models the reserve lifecycle as a closed enum with explicit transition
  validation. Status is never assigned free-form; every change goes
  through TransitionTo, which rejects illegal moves such as resurrecting
  a terminal reserve.

STATE MACHINE:
  Pending  -> Approved           (auto-approval, or the approval sweep)
  Approved -> FailedToComplete   (cancellation of an approved reserve)
  Pending  -> (removed)          (hard delete; no status involved)

  FailedToComplete is terminal. Nothing re-enters Pending.

SEE ALSO:
  - engine.go: DeleteReservation and ApproveReservation drive transitions
*/
package reserve

// Status is the lifecycle state of an AllocationReserve.
type Status string

const (
	StatusPending          Status = "pending"
	StatusApproved         Status = "approved"
	StatusFailedToComplete Status = "failed_to_complete"
)

// transitions enumerates every legal status change.
var transitions = map[Status][]Status{
	StatusPending:          {StatusApproved},
	StatusApproved:         {StatusFailedToComplete},
	StatusFailedToComplete: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFailedToComplete
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the reserve to a new status, rejecting illegal
// transitions with ErrIllegalTransition.
func (r *AllocationReserve) TransitionTo(to Status) error {
	if !CanTransition(r.Status, to) {
		return &IllegalTransitionError{From: r.Status, To: to}
	}
	r.Status = to
	return nil
}
