package ledger

import (
	"context"
	"fmt"

	"github.com/minerush/economy/internal/domain"
)

// Reference types recorded on ledger entries.
const (
	RefMarketOrder = "market_order"
	RefTradeOffer  = "trade_offer"
	RefMineDig     = "mine_dig"
	RefSeed        = "seed"
)

// Posting describes one balance mutation. Amount is always positive; the
// direction comes from the method called.
type Posting struct {
	UserID         int64
	Currency       string
	Amount         int64
	RefType        string
	RefID          string
	IdempotencyKey string
}

// Ledger defines the contract implemented by balance ledger backends.
//
// Credit and Debit are no-ops returning the stored entry when the posting's
// idempotency key was already consumed. Debit never takes a balance below
// zero.
type Ledger interface {
	Credit(ctx context.Context, p Posting) (domain.Entry, error)
	Debit(ctx context.Context, p Posting) (domain.Entry, error)
	Balance(ctx context.Context, userID int64, currency string) (int64, error)
	Balances(ctx context.Context, userID int64) (map[string]int64, error)
	Entries(ctx context.Context, userID int64, currency string, limit int) ([]domain.Entry, error)
	EntriesByKey(ctx context.Context, key string) ([]domain.Entry, error)
}

// DefaultHistoryLimit caps Entries when the caller passes no limit.
const DefaultHistoryLimit = 100

func normalize(p Posting) (Posting, error) {
	if p.Amount <= 0 {
		return Posting{}, domain.ErrInvalidAmount
	}
	if p.UserID <= 0 {
		return Posting{}, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	cur, err := domain.NormalizeCurrency(p.Currency)
	if err != nil {
		return Posting{}, err
	}
	p.Currency = cur
	if p.RefType == "" {
		return Posting{}, fmt.Errorf("%w: reference type required", domain.ErrInvalidInput)
	}
	return p, nil
}

func historyLimit(limit int) int {
	if limit <= 0 || limit > DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}
