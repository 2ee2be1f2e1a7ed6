package ledger

import (
	"context"
	"time"

	"github.com/minerush/economy/internal/domain"
)

type balanceKey struct {
	userID   int64
	currency string
}

// MemoryLedger keeps balances and entries in process memory. It does no
// locking of its own; store.MemoryRunner serializes access and rolls back
// through Clone.
type MemoryLedger struct {
	balances map[balanceKey]int64
	entries  []domain.Entry
	byKey    map[string]int
	nextID   int64
	now      func() time.Time
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[balanceKey]int64),
		byKey:    make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Clone returns an independent copy. Entries are append-only so the copy
// shares the existing backing array but never writes into it.
func (l *MemoryLedger) Clone() *MemoryLedger {
	c := &MemoryLedger{
		balances: make(map[balanceKey]int64, len(l.balances)),
		entries:  l.entries[:len(l.entries):len(l.entries)],
		byKey:    make(map[string]int, len(l.byKey)),
		nextID:   l.nextID,
		now:      l.now,
	}
	for k, v := range l.balances {
		c.balances[k] = v
	}
	for k, v := range l.byKey {
		c.byKey[k] = v
	}
	return c
}

func (l *MemoryLedger) Credit(_ context.Context, p Posting) (domain.Entry, error) {
	p, err := normalize(p)
	if err != nil {
		return domain.Entry{}, err
	}
	if e, ok := l.existing(p.IdempotencyKey); ok {
		return e, nil
	}
	l.balances[balanceKey{p.UserID, p.Currency}] += p.Amount
	return l.append(p, domain.KindCredit, p.Amount), nil
}

func (l *MemoryLedger) Debit(_ context.Context, p Posting) (domain.Entry, error) {
	p, err := normalize(p)
	if err != nil {
		return domain.Entry{}, err
	}
	if e, ok := l.existing(p.IdempotencyKey); ok {
		return e, nil
	}
	key := balanceKey{p.UserID, p.Currency}
	if l.balances[key] < p.Amount {
		return domain.Entry{}, domain.ErrInsufficientFunds
	}
	l.balances[key] -= p.Amount
	return l.append(p, domain.KindDebit, -p.Amount), nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID int64, currency string) (int64, error) {
	cur, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	return l.balances[balanceKey{userID, cur}], nil
}

func (l *MemoryLedger) Balances(_ context.Context, userID int64) (map[string]int64, error) {
	out := make(map[string]int64)
	for k, v := range l.balances {
		if k.userID == userID {
			out[k.currency] = v
		}
	}
	return out, nil
}

func (l *MemoryLedger) Entries(_ context.Context, userID int64, currency string, limit int) ([]domain.Entry, error) {
	limit = historyLimit(limit)
	if currency != "" {
		cur, err := domain.NormalizeCurrency(currency)
		if err != nil {
			return nil, err
		}
		currency = cur
	}
	var out []domain.Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		if e.UserID != userID || (currency != "" && e.Currency != currency) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *MemoryLedger) EntriesByKey(_ context.Context, key string) ([]domain.Entry, error) {
	if e, ok := l.existing(key); ok {
		return []domain.Entry{e}, nil
	}
	return nil, nil
}

func (l *MemoryLedger) existing(key string) (domain.Entry, bool) {
	if key == "" {
		return domain.Entry{}, false
	}
	idx, ok := l.byKey[key]
	if !ok {
		return domain.Entry{}, false
	}
	return l.entries[idx], true
}

func (l *MemoryLedger) append(p Posting, kind domain.EntryKind, signed int64) domain.Entry {
	l.nextID++
	e := domain.Entry{
		ID:             l.nextID,
		UserID:         p.UserID,
		Kind:           kind,
		Currency:       p.Currency,
		Amount:         signed,
		RefType:        p.RefType,
		RefID:          p.RefID,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      l.now(),
	}
	l.entries = append(l.entries, e)
	if p.IdempotencyKey != "" {
		l.byKey[p.IdempotencyKey] = len(l.entries) - 1
	}
	return e
}
