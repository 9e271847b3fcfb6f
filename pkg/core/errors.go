// Package core defines the shared error taxonomy for the settlement engine.
// Every operation surfaces exactly one of these sentinels (possibly wrapped
// with context via %w); nothing is retried or clamped internally.
package core

import "errors"

// Validation errors: rejected before any mutation, caller retries with
// corrected input.
var (
	ErrInvalidConfig    = errors.New("invalid market config")
	ErrInvalidAsset     = errors.New("asset not traded on this market")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidPrice     = errors.New("price must be a positive multiple of tick size")
	ErrBelowMinimumSize = errors.New("quantity below minimum order size")
)

// State errors: the operation conflicts with current record state.
var (
	ErrAlreadyExists    = errors.New("record already exists")
	ErrMarketNotFound   = errors.New("market not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("client order id already used")
	ErrNotCancellable   = errors.New("order already in a terminal state")
	ErrOrderExpired     = errors.New("order expired")
	ErrSelfTrade        = errors.New("self trade rejected")
)

// Authorization errors: identity-equality check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Conservation errors: applying the operation would violate value
// conservation; the whole operation is rejected with no partial effect.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientOrderSize = errors.New("order cannot cover trade quantity")
	ErrOverflow              = errors.New("arithmetic overflow")
)

// Class groups errors for callers that only care about the taxonomy bucket
// (the API layer maps classes to HTTP status codes).
type Class int8

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassState
	ClassAuthorization
	ClassConservation
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassState:
		return "state"
	case ClassAuthorization:
		return "authorization"
	case ClassConservation:
		return "conservation"
	default:
		return "internal"
	}
}

func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidAsset),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrBelowMinimumSize):
		return ClassValidation
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrMarketNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrDuplicateOrderID),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrOrderExpired),
		errors.Is(err, ErrSelfTrade):
		return ClassState
	case errors.Is(err, ErrUnauthorized):
		return ClassAuthorization
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientOrderSize),
		errors.Is(err, ErrOverflow):
		return ClassConservation
	default:
		return ClassUnknown
	}
}
