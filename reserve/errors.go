/*
errors.go - Error taxonomy for the reserve engine

PURPOSE:
  All engine errors in one place. Every user-facing failure is an *Error
  carrying a short machine-readable code, a human-readable message, and
  the HTTP status the transport layer should use. None of these is a
  fatal process error.

ERROR CATEGORIES:
  1. Input errors      - invalid_amount, bad_request
  2. Decision errors   - calculation_error, amount_error, exceeded
  3. Lookup errors     - not_found
  4. Scope errors      - out_of_window (propagated verbatim from the guard)
  5. Infrastructure    - internal_error (persistence failures, no retry)

USAGE:
  Transport code unwraps with AsError:

    if apiErr, ok := reserve.AsError(err); ok {
        writeError(w, apiErr.HTTPStatus, apiErr)
    }

SEE ALSO:
  - engine.go: Produces decision errors
  - scope.go: Produces not_found / out_of_window
*/
package reserve

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSharePrice is returned by the share calculator when the
	// offer's share price is zero or negative.
	ErrInvalidSharePrice = errors.New("share price must be positive")

	// ErrIllegalTransition is returned when a status change violates the
	// state machine (e.g., resurrecting a terminal reserve).
	ErrIllegalTransition = errors.New("illegal status transition")
)

// IllegalTransitionError carries the rejected transition.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition: %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// =============================================================================
// USER-FACING ERRORS - Code + message + HTTP status
// =============================================================================

// Code is a short machine-readable error code, stable across transports.
type Code string

const (
	CodeInvalidAmount    Code = "invalid_amount"
	CodeBadRequest       Code = "bad_request"
	CodeExceeded         Code = "exceeded"
	CodeCalculationError Code = "calculation_error"
	CodeAmountError      Code = "amount_error"
	CodeNotFound         Code = "not_found"
	CodeOutOfWindow      Code = "out_of_window"
	CodeInternal         Code = "internal_error"
)

// Error is a user-facing engine error. All decision and validation
// failures surface as *Error; infrastructure failures are wrapped into
// one with CodeInternal, keeping the cause in the chain for logging.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds an *Error with a formatted message.
func NewError(code Code, status int, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: status,
	}
}

// Internal wraps an infrastructure failure. The user-facing message is
// deliberately generic; the cause stays in the chain so whoever logs the
// error sees it.
func Internal(err error) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		cause:      err,
	}
}

// AsError unwraps err into an *Error if it is one.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Code == CodeNotFound
}
