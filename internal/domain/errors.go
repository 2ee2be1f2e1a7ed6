package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds occurs when a debit exceeds the current balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrItemNotAvailable indicates the item is not owned by the caller or is
	// not in the state the operation requires.
	ErrItemNotAvailable = errors.New("item not available")

	// ErrItemNotFound indicates no item exists with the given id.
	ErrItemNotFound = errors.New("item not found")

	// ErrOrderNotFound indicates the market order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOfferNotFound indicates the trade offer does not exist.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrNotOpen indicates the listing was already filled, canceled or expired.
	ErrNotOpen = errors.New("listing not open")

	// ErrCannotActOnOwn is returned when a user buys their own order or
	// accepts their own offer.
	ErrCannotActOnOwn = errors.New("cannot act on own listing")

	// ErrNotOwner is returned when a user tries to cancel a listing they did
	// not create, or accept an offer addressed to someone else.
	ErrNotOwner = errors.New("not owner of listing")

	// ErrCreateFailed indicates escrow could not be taken for every item of
	// a new listing. Nothing was persisted.
	ErrCreateFailed = errors.New("listing creation failed")

	// ErrLimitExceeded indicates the user already has the maximum number of
	// open listings.
	ErrLimitExceeded = errors.New("open listing limit exceeded")

	ErrBelowMinimum    = errors.New("price below minimum")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrCooldown indicates the action was attempted again before its
	// cooldown elapsed.
	ErrCooldown = errors.New("action on cooldown")

	// ErrUnavailable marks store connectivity failures. It is never produced
	// by domain validation and callers may retry on it.
	ErrUnavailable = errors.New("service unavailable")
)

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsRetryable reports whether err is an infrastructure failure rather than a
// domain outcome.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
