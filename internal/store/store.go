// Package store binds the ledger, the escrow vault and the listing
// repositories into one atomic unit of work.
package store

import (
	"context"
	"time"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/escrow"
	"github.com/minerush/economy/internal/ledger"
)

// Tx exposes every repository bound to the same transaction. It must not be
// used after the function passed to Runner.Do returns.
type Tx interface {
	Ledger() ledger.Ledger
	Vault() escrow.Vault
	Orders() OrderRepository
	Offers() OfferRepository
}

// Runner executes fn atomically: either every change made through the Tx is
// committed or none is. A non-nil error from fn rolls back and is returned
// unchanged; store failures are wrapped with domain.ErrUnavailable.
type Runner interface {
	Do(ctx context.Context, fn func(Tx) error) error
}

// OrderFilter narrows ListOpen. Orders whose expiry is at or before Now are
// left out before paging; a zero Now means the current time.
type OrderFilter struct {
	Currency string
	SellerID int64
	Now      time.Time
	Limit    int
	Offset   int
}

func (f OrderFilter) now() time.Time {
	if f.Now.IsZero() {
		return time.Now().UTC()
	}
	return f.Now
}

// OfferFilter narrows ListOpenPublic with the same expiry rule as
// OrderFilter.
type OfferFilter struct {
	Currency string
	MakerID  int64
	Now      time.Time
	Limit    int
	Offset   int
}

func (f OfferFilter) now() time.Time {
	if f.Now.IsZero() {
		return time.Now().UTC()
	}
	return f.Now
}

// OrderRepository persists market orders and their item join rows.
type OrderRepository interface {
	// Create stores an open order with its items and assigns ID and
	// CreatedAt.
	Create(ctx context.Context, o domain.Order) (domain.Order, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
	// GetForUpdate reads the order and holds it against concurrent writers
	// until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (domain.Order, error)
	// CountOpen counts the seller's open orders, serialized per seller.
	CountOpen(ctx context.Context, sellerID int64) (int, error)
	// Close moves an open order to a terminal status. It fails with
	// domain.ErrNotOpen if the order is no longer open.
	Close(ctx context.Context, id int64, status domain.Status, buyerID int64, at time.Time) error
	ListOpen(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// OfferRepository persists trade offers and their maker/taker item rows.
type OfferRepository interface {
	Create(ctx context.Context, o domain.Offer) (domain.Offer, error)
	Get(ctx context.Context, id int64) (domain.Offer, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Offer, error)
	CountOpen(ctx context.Context, makerID int64) (int, error)
	Close(ctx context.Context, id int64, status domain.Status, takerID int64, at time.Time) error
	// ListForUser returns offers made by or addressed to userID, newest
	// first.
	ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Offer, error)
	// ListOpenPublic returns open, unexpired offers with no addressed taker,
	// newest first.
	ListOpenPublic(ctx context.Context, f OfferFilter) ([]domain.Offer, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
