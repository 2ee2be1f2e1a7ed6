package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntryKind distinguishes credits from debits in the ledger.
type EntryKind string

const (
	KindCredit EntryKind = "credit"
	KindDebit  EntryKind = "debit"
)

// Entry is one immutable ledger row. Amount is signed: positive for credits,
// negative for debits.
type Entry struct {
	ID             int64
	UserID         int64
	Kind           EntryKind
	Currency       string
	Amount         int64
	RefType        string
	RefID          string
	IdempotencyKey string
	CreatedAt      time.Time
}

// ItemState is the custody state of an owned item.
type ItemState string

const (
	ItemFree     ItemState = "free"
	ItemListed   ItemState = "listed"
	ItemEquipped ItemState = "equipped"
)

// Item is one owned item instance.
type Item struct {
	ID           int64
	OwnerID      int64
	DefinitionID string
	Level        int
	Metadata     map[string]any
	State        ItemState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LockType names the kind of listing that holds an item in escrow.
type LockType string

const (
	LockMarketOrder LockType = "market_order"
	LockTradeOffer  LockType = "trade_offer"
)

// EscrowLock exists only while an item is listed.
type EscrowLock struct {
	ItemID   int64
	OwnerID  int64
	LockType LockType
	LockID   int64
	LockedAt time.Time
}

// Status is the lifecycle state shared by orders and offers.
type Status string

const (
	StatusOpen     Status = "open"
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
)

// Order is a one-sided fixed-price sell listing.
type Order struct {
	ID          int64
	SellerID    int64
	BuyerID     int64
	Status      Status
	ItemIDs     []int64
	PayCurrency string
	PayAmount   int64
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// Open reports whether the order can still be filled at now.
func (o Order) Open(now time.Time) bool {
	return o.Status == StatusOpen && !expired(o.ExpiresAt, now)
}

// Offer is a two-sided barter proposal. Only maker items are escrowed.
type Offer struct {
	ID           int64
	MakerID      int64
	TakerID      int64
	Status       Status
	MakerItemIDs []int64
	TakerItemIDs []int64
	WantCurrency string
	WantAmount   int64
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// Open reports whether the offer can still be accepted at now.
func (o Offer) Open(now time.Time) bool {
	return o.Status == StatusOpen && !expired(o.ExpiresAt, now)
}

func expired(at *time.Time, now time.Time) bool {
	return at != nil && !now.Before(*at)
}

// NormalizeCurrency upper-cases and validates a currency code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > 16 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return code, nil
}
