package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrStaleUpdate marks an order update whose version is not newer than the
// record's stored version. Discarded silently, never surfaced to the user.
var ErrStaleUpdate = errors.New("stale order update")

// ErrDuplicateOrder marks a submit reusing an idempotency key that already
// has a live OrderRecord. Rejected locally, no network call is made; callers
// receive it wrapped in a ValidationError.
var ErrDuplicateOrder = errors.New("duplicate client order id")

// ValidationError is a local rejection: bad parameters or a duplicate
// idempotency key, never sent to the venue.
type ValidationError struct {
	Reason string
	Err    error // optional sentinel cause, e.g. ErrDuplicateOrder
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// VenueError is a rejection by the venue after transport succeeded.
// Terminal for the affected order, not retried automatically.
type VenueError struct {
	StatusCode int
	Code       int    // venue reason code, 0 if absent
	Message    string
}

func (e *VenueError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("venue rejected (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("venue rejected (http %d): %s", e.StatusCode, e.Message)
}

// ThrottledError means the venue itself throttled the call. The RateLimiter
// pre-gates outbound calls, so this should be rare.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("venue throttled request, retry after %s", e.RetryAfter)
}

// TransportError is a network or timeout failure. Safe to retry idempotently
// using the same client order id.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the credentials were refused. Fatal for the session.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// IsRetryable reports whether an error is safe to retry with the same
// idempotency key.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var th *ThrottledError
	return errors.As(err, &th)
}

// IsFatal reports whether an error should terminate the session rather than
// be retried.
func IsFatal(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
