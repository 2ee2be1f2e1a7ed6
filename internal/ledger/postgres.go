package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/infra"
)

// PostgresLedger persists balances and ledger entries in PostgreSQL. It must
// be bound to a transaction: the entry insert and the balance update of one
// posting only commit together.
type PostgresLedger struct {
	db infra.Querier
}

// NewPostgresLedger constructs a ledger over the given transaction.
func NewPostgresLedger(tx pgx.Tx) *PostgresLedger {
	return &PostgresLedger{db: tx}
}

const entryColumns = `id, user_id, kind, currency, amount, ref_type, ref_id, COALESCE(idempotency_key, ''), created_at`

// Credit appends a credit row and increases the balance, creating the row on
// first reference.
func (l *PostgresLedger) Credit(ctx context.Context, p Posting) (domain.Entry, error) {
	p, err := normalize(p)
	if err != nil {
		return domain.Entry{}, err
	}
	entry, inserted, err := l.insertEntry(ctx, p, domain.KindCredit, p.Amount)
	if err != nil || !inserted {
		return entry, err
	}
	if _, err := l.db.Exec(ctx, `INSERT INTO balances (user_id, currency, amount) VALUES ($1, $2, $3)
        ON CONFLICT (user_id, currency) DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()`,
		p.UserID, p.Currency, p.Amount); err != nil {
		return domain.Entry{}, fmt.Errorf("credit balance: %w", err)
	}
	return entry, nil
}

// Debit decrements the balance only when it covers the amount; the check and
// the decrement are one conditional UPDATE.
func (l *PostgresLedger) Debit(ctx context.Context, p Posting) (domain.Entry, error) {
	p, err := normalize(p)
	if err != nil {
		return domain.Entry{}, err
	}
	entry, inserted, err := l.insertEntry(ctx, p, domain.KindDebit, -p.Amount)
	if err != nil || !inserted {
		return entry, err
	}
	cmd, err := l.db.Exec(ctx, `UPDATE balances SET amount = amount - $3, updated_at = now()
        WHERE user_id = $1 AND currency = $2 AND amount >= $3`, p.UserID, p.Currency, p.Amount)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("debit balance: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		// The entry row inserted above is discarded with the transaction.
		return domain.Entry{}, domain.ErrInsufficientFunds
	}
	return entry, nil
}

// Balance returns the balance for one currency; unknown pairs are zero.
func (l *PostgresLedger) Balance(ctx context.Context, userID int64, currency string) (int64, error) {
	cur, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	var amount int64
	err = l.db.QueryRow(ctx, `SELECT amount FROM balances WHERE user_id = $1 AND currency = $2`, userID, cur).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

// Balances returns every currency balance held by the user.
func (l *PostgresLedger) Balances(ctx context.Context, userID int64) (map[string]int64, error) {
	rows, err := l.db.Query(ctx, `SELECT currency, amount FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var cur string
		var amount int64
		if err := rows.Scan(&cur, &amount); err != nil {
			return nil, err
		}
		out[cur] = amount
	}
	return out, rows.Err()
}

// Entries lists the user's ledger rows newest first, optionally filtered by
// currency.
func (l *PostgresLedger) Entries(ctx context.Context, userID int64, currency string, limit int) ([]domain.Entry, error) {
	if currency != "" {
		cur, err := domain.NormalizeCurrency(currency)
		if err != nil {
			return nil, err
		}
		currency = cur
	}
	rows, err := l.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE user_id = $1 AND ($2::text = '' OR currency = $2::text)
        ORDER BY id DESC LIMIT $3`, userID, currency, historyLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// EntriesByKey returns the rows stored under an idempotency key (zero or one).
func (l *PostgresLedger) EntriesByKey(ctx context.Context, key string) ([]domain.Entry, error) {
	rows, err := l.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// insertEntry appends the row unless its idempotency key already exists, in
// which case the stored row is returned with inserted=false.
func (l *PostgresLedger) insertEntry(ctx context.Context, p Posting, kind domain.EntryKind, signed int64) (domain.Entry, bool, error) {
	e := domain.Entry{
		UserID:         p.UserID,
		Kind:           kind,
		Currency:       p.Currency,
		Amount:         signed,
		RefType:        p.RefType,
		RefID:          p.RefID,
		IdempotencyKey: p.IdempotencyKey,
	}
	err := l.db.QueryRow(ctx, `INSERT INTO ledger_entries (user_id, kind, currency, amount, ref_type, ref_id, idempotency_key)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING id, created_at`,
		e.UserID, string(e.Kind), e.Currency, e.Amount, e.RefType, e.RefID, e.IdempotencyKey).Scan(&e.ID, &e.CreatedAt)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, false, fmt.Errorf("insert ledger entry: %w", err)
	}
	existing, err := l.EntriesByKey(ctx, p.IdempotencyKey)
	if err != nil {
		return domain.Entry{}, false, err
	}
	if len(existing) == 0 {
		return domain.Entry{}, false, fmt.Errorf("idempotency key %q vanished", p.IdempotencyKey)
	}
	return existing[0], false, nil
}

func collectEntries(rows pgx.Rows) ([]domain.Entry, error) {
	defer rows.Close()
	var out []domain.Entry
	for rows.Next() {
		var e domain.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Currency, &e.Amount, &e.RefType, &e.RefID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
