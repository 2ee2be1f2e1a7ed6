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

type postgresOrders struct {
	db infra.Querier
}

const orderColumns = `id, seller_id, buyer_id, status, pay_currency, pay_amount, expires_at, created_at, closed_at`

func (r *postgresOrders) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO market_orders (seller_id, pay_currency, pay_amount, expires_at)
        VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		o.SellerID, o.PayCurrency, o.PayAmount, o.ExpiresAt).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	for i, itemID := range o.ItemIDs {
		if _, err := r.db.Exec(ctx, `INSERT INTO market_order_items (order_id, item_id, position) VALUES ($1, $2, $3)`,
			o.ID, itemID, i); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}
	o.Status = domain.StatusOpen
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (r *postgresOrders) Get(ctx context.Context, id int64) (domain.Order, error) {
	return r.get(ctx, id, "")
}

func (r *postgresOrders) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *postgresOrders) get(ctx context.Context, id int64, suffix string) (domain.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM market_orders WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	items, err := r.items(ctx, []int64{id})
	if err != nil {
		return domain.Order{}, err
	}
	o.ItemIDs = items[id]
	return o, nil
}

func (r *postgresOrders) CountOpen(ctx context.Context, sellerID int64) (int, error) {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('market_order:' || $1::text))`, sellerID); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM market_orders WHERE seller_id = $1 AND status = 'open'`, sellerID).Scan(&n)
	return n, err
}

func (r *postgresOrders) Close(ctx context.Context, id int64, status domain.Status, buyerID int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE market_orders SET status = $2, buyer_id = $3, closed_at = $4
        WHERE id = $1 AND status = 'open'`, id, string(status), buyerID, at)
	if err != nil {
		return fmt.Errorf("close order %d: %w", id, err)
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM market_orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrNotOpen
}

func (r *postgresOrders) ListOpen(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM market_orders
        WHERE status = 'open' AND (expires_at IS NULL OR expires_at > $5)
          AND ($1::text = '' OR pay_currency = $1::text) AND ($2::bigint = 0 OR seller_id = $2::bigint)
        ORDER BY id DESC LIMIT $3 OFFSET $4`, f.Currency, f.SellerID, listLimit(f.Limit), offset, f.now())
	if err != nil {
		return nil, err
	}
	var out []domain.Order
	var ids []int64
	func() {
		defer rows.Close()
		for rows.Next() {
			o, scanErr := scanOrder(rows)
			if scanErr != nil {
				err = scanErr
				return
			}
			out = append(out, o)
			ids = append(ids, o.ID)
		}
		err = rows.Err()
	}()
	if err != nil || len(ids) == 0 {
		return out, err
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ItemIDs = items[out[i].ID]
	}
	return out, nil
}

func (r *postgresOrders) ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM market_orders
        WHERE status = 'open' AND expires_at IS NOT NULL AND expires_at <= $1
        ORDER BY id LIMIT $2`, now, listLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *postgresOrders) items(ctx context.Context, orderIDs []int64) (map[int64][]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT order_id, item_id FROM market_order_items
        WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]int64, len(orderIDs))
	for rows.Next() {
		var orderID, itemID int64
		if err := rows.Scan(&orderID, &itemID); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], itemID)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status string
	if err := row.Scan(&o.ID, &o.SellerID, &o.BuyerID, &status, &o.PayCurrency, &o.PayAmount, &o.ExpiresAt, &o.CreatedAt, &o.ClosedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}
