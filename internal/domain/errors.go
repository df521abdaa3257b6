package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Position errors
var (
	// ErrPositionNotFound is returned when no position matches the given id.
	ErrPositionNotFound = errors.New("position not found")

	// ErrPositionClosed is returned when an operation requires an open position.
	ErrPositionClosed = errors.New("position is already closed")

	// ErrInvalidDirection is returned when the direction is not long or short.
	ErrInvalidDirection = errors.New("invalid direction: must be long or short")

	// ErrInvalidSize is returned for a non-positive lot size.
	ErrInvalidSize = errors.New("position size must be positive")

	// ErrInvalidDuration is returned for a negative auto-close duration.
	ErrInvalidDuration = errors.New("duration must not be negative")

	// ErrInvalidCloseReason is returned when a close is requested with an
	// unknown reason.
	ErrInvalidCloseReason = errors.New("invalid close reason")

	// ErrInvalidSymbol is returned when a position is opened without a symbol.
	ErrInvalidSymbol = errors.New("symbol is required")

	// ErrNoPrice is returned when a position cannot be opened because the
	// price source has nothing for the symbol.
	ErrNoPrice = errors.New("no price available for symbol")
)

// Account errors
var (
	// ErrAccountNotFound is returned when no ledger row exists for the user.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount is returned for a zero balance adjustment.
	ErrInvalidAmount = errors.New("amount must be non-zero")
)

// Daily target errors
var (
	// ErrTargetNotFound is returned when no daily target matches the given id.
	ErrTargetNotFound = errors.New("daily target not found")

	// ErrTargetInactive is returned when a payout is attempted on a target that
	// has already been fully paid.
	ErrTargetInactive = errors.New("daily target is not active")

	// ErrInvalidTarget is returned when a target has a zero amount or a
	// non-positive duration.
	ErrInvalidTarget = errors.New("daily target needs a non-zero amount and a positive duration")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// Coordination errors
var (
	// ErrLockHeld is returned when another replica holds a scheduler lock.
	ErrLockHeld = errors.New("lock is held by another owner")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrPositionNotFound,
	ErrAccountNotFound,
	ErrTargetNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrPositionClosed,
		ErrTargetInactive,
		ErrLockHeld,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for input errors that map to 400.
func IsValidation(err error) bool {
	validationErrors := []error{
		ErrInvalidDirection,
		ErrInvalidSize,
		ErrInvalidDuration,
		ErrInvalidSymbol,
		ErrInvalidCloseReason,
		ErrInvalidTarget,
		ErrInvalidAmount,
		ErrNoPrice,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenInvalid,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
