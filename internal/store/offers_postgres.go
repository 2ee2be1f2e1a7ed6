package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/infra"
)

type postgresOffers struct {
	db infra.Querier
}

const offerColumns = `id, maker_id, taker_id, status, want_currency, want_amount, expires_at, created_at, closed_at`

const (
	sideMaker = "maker"
	sideTaker = "taker"
)

func (r *postgresOffers) Create(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO trade_offers (maker_id, taker_id, want_currency, want_amount, expires_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		o.MakerID, o.TakerID, o.WantCurrency, o.WantAmount, o.ExpiresAt).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	if err := r.insertItems(ctx, o.ID, sideMaker, o.MakerItemIDs); err != nil {
		return domain.Offer{}, err
	}
	if err := r.insertItems(ctx, o.ID, sideTaker, o.TakerItemIDs); err != nil {
		return domain.Offer{}, err
	}
	o.Status = domain.StatusOpen
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (r *postgresOffers) insertItems(ctx context.Context, offerID int64, side string, itemIDs []int64) error {
	for i, itemID := range itemIDs {
		if _, err := r.db.Exec(ctx, `INSERT INTO trade_offer_items (offer_id, item_id, side, position) VALUES ($1, $2, $3, $4)`,
			offerID, itemID, side, i); err != nil {
			return fmt.Errorf("insert offer item: %w", err)
		}
	}
	return nil
}

func (r *postgresOffers) Get(ctx context.Context, id int64) (domain.Offer, error) {
	return r.get(ctx, id, "")
}

func (r *postgresOffers) GetForUpdate(ctx context.Context, id int64) (domain.Offer, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *postgresOffers) get(ctx context.Context, id int64, suffix string) (domain.Offer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM trade_offers WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	if err != nil {
		return domain.Offer{}, err
	}
	out := []domain.Offer{o}
	if err := r.attachItems(ctx, out); err != nil {
		return domain.Offer{}, err
	}
	return out[0], nil
}

func (r *postgresOffers) CountOpen(ctx context.Context, makerID int64) (int, error) {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('trade_offer:' || $1::text))`, makerID); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM trade_offers WHERE maker_id = $1 AND status = 'open'`, makerID).Scan(&n)
	return n, err
}

func (r *postgresOffers) Close(ctx context.Context, id int64, status domain.Status, takerID int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE trade_offers
        SET status = $2, taker_id = CASE WHEN $3::bigint <> 0 THEN $3::bigint ELSE taker_id END, closed_at = $4
        WHERE id = $1 AND status = 'open'`, id, string(status), takerID, at)
	if err != nil {
		return fmt.Errorf("close offer %d: %w", id, err)
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trade_offers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrOfferNotFound
	}
	return domain.ErrNotOpen
}

func (r *postgresOffers) ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Offer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+offerColumns+` FROM trade_offers
        WHERE maker_id = $1 OR taker_id = $1
        ORDER BY id DESC LIMIT $2`, userID, listLimit(limit))
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *postgresOffers) ListOpenPublic(ctx context.Context, f OfferFilter) ([]domain.Offer, error) {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `SELECT `+offerColumns+` FROM trade_offers
        WHERE status = 'open' AND taker_id = 0
          AND (expires_at IS NULL OR expires_at > $5)
          AND ($1::text = '' OR want_currency = $1::text)
          AND ($2::bigint = 0 OR maker_id = $2::bigint)
        ORDER BY id DESC LIMIT $3 OFFSET $4`,
		f.Currency, f.MakerID, listLimit(f.Limit), offset, f.now())
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *postgresOffers) collect(ctx context.Context, rows pgx.Rows) ([]domain.Offer, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Offer, error) {
		return scanOffer(row)
	})
	if err != nil || len(out) == 0 {
		return out, err
	}
	if err := r.attachItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *postgresOffers) ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM trade_offers
        WHERE status = 'open' AND expires_at IS NOT NULL AND expires_at <= $1
        ORDER BY id LIMIT $2`, now, listLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// attachItems loads the maker and taker item lists of every offer in one
// query.
func (r *postgresOffers) attachItems(ctx context.Context, offers []domain.Offer) error {
	ids := make([]int64, len(offers))
	index := make(map[int64]int, len(offers))
	for i, o := range offers {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := r.db.Query(ctx, `SELECT offer_id, item_id, side FROM trade_offer_items
        WHERE offer_id = ANY($1) ORDER BY offer_id, side, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var offerID, itemID int64
		var side string
		if err := rows.Scan(&offerID, &itemID, &side); err != nil {
			return err
		}
		o := &offers[index[offerID]]
		if side == sideMaker {
			o.MakerItemIDs = append(o.MakerItemIDs, itemID)
		} else {
			o.TakerItemIDs = append(o.TakerItemIDs, itemID)
		}
	}
	return rows.Err()
}

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var o domain.Offer
	var status string
	if err := row.Scan(&o.ID, &o.MakerID, &o.TakerID, &status, &o.WantCurrency, &o.WantAmount, &o.ExpiresAt, &o.CreatedAt, &o.ClosedAt); err != nil {
		return domain.Offer{}, err
	}
	o.Status = domain.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}
