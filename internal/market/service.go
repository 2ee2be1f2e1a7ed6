// Package market implements the fixed-price sell order book. Every mutation
// runs in one store transaction: the escrow vault moves items, the ledger
// moves currency and the order row changes status together or not at all.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/minerush/economy/internal/catalog"
	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/escrow"
	"github.com/minerush/economy/internal/ledger"
	"github.com/minerush/economy/internal/metrics"
	"github.com/minerush/economy/internal/notification"
	"github.com/minerush/economy/internal/store"
)

const listing = "market_order"

// Config bounds market listings.
type Config struct {
	FeePercent    int64
	MinPrice      int64
	MaxOpenOrders int
	MaxItems      int
}

// DefaultConfig returns the stock market limits.
func DefaultConfig() Config {
	return Config{FeePercent: 5, MinPrice: 10, MaxOpenOrders: 20, MaxItems: 10}
}

// Service is the market order book.
type Service struct {
	runner   store.Runner
	catalog  catalog.Catalog
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewService constructs a market service. A nil catalog treats every item as
// tradable; a nil notifier drops notifications.
func NewService(runner store.Runner, cat catalog.Catalog, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:   runner,
		catalog:  cat,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput captures a new sell listing.
type CreateOrderInput struct {
	SellerID    int64
	ItemIDs     []int64
	PayCurrency string
	PayAmount   int64
	ExpiresAt   *time.Time
}

// FillResult describes a completed purchase.
type FillResult struct {
	Order          domain.Order
	Fee            int64
	SellerProceeds int64
}

// ListFilter narrows ListOpen.
type ListFilter struct {
	Currency string
	SellerID int64
	Limit    int
	Offset   int
}

// Fee returns the market cut of amount: floor(amount*pct/100), at least one
// unit when both are positive, never more than amount.
func Fee(amount, pct int64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	fee := amount * pct / 100
	if fee < 1 {
		fee = 1
	}
	if fee > amount {
		fee = amount
	}
	return fee
}

// CreateOrder escrows every item under a new open order. If any item cannot
// be locked nothing is persisted and domain.ErrCreateFailed is returned.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	order, err := s.validate(in)
	if err != nil {
		return domain.Order{}, err
	}

	err = s.runner.Do(ctx, func(tx store.Tx) error {
		open, err := tx.Orders().CountOpen(ctx, in.SellerID)
		if err != nil {
			return err
		}
		if open >= s.cfg.MaxOpenOrders {
			return domain.ErrLimitExceeded
		}
		for _, id := range in.ItemIDs {
			item, err := tx.Vault().Item(ctx, id)
			if err != nil {
				return fmt.Errorf("%w: item %d: %w", domain.ErrCreateFailed, id, err)
			}
			if !catalog.Tradable(s.catalog, item.DefinitionID) {
				return fmt.Errorf("%w: item %d is not tradable: %w", domain.ErrCreateFailed, id, domain.ErrItemNotAvailable)
			}
		}

		created, err := tx.Orders().Create(ctx, order)
		if err != nil {
			return err
		}
		if err := escrow.LockAll(ctx, tx.Vault(), in.SellerID, in.ItemIDs, domain.LockMarketOrder, created.ID); err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	metrics.Listing(listing, "created")
	s.logger.Info("market order created",
		slog.Int64("order_id", order.ID),
		slog.Int64("seller_id", order.SellerID),
		slog.Int("items", len(order.ItemIDs)),
		slog.String("currency", order.PayCurrency),
		slog.Int64("amount", order.PayAmount),
	)
	return order, nil
}

func (s *Service) validate(in CreateOrderInput) (domain.Order, error) {
	if in.SellerID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: seller required", domain.ErrInvalidInput)
	}
	cur, err := domain.NormalizeCurrency(in.PayCurrency)
	if err != nil {
		return domain.Order{}, err
	}
	if in.PayAmount <= 0 {
		return domain.Order{}, domain.ErrInvalidAmount
	}
	if in.PayAmount < s.cfg.MinPrice {
		return domain.Order{}, fmt.Errorf("%w: %d < %d", domain.ErrBelowMinimum, in.PayAmount, s.cfg.MinPrice)
	}
	if err := checkItems(in.ItemIDs, s.cfg.MaxItems); err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return domain.Order{}, fmt.Errorf("%w: expiry must be in the future", domain.ErrInvalidInput)
	}
	return domain.Order{
		SellerID:    in.SellerID,
		ItemIDs:     append([]int64(nil), in.ItemIDs...),
		PayCurrency: cur,
		PayAmount:   in.PayAmount,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   now,
	}, nil
}

func checkItems(ids []int64, max int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one item required", domain.ErrInvalidInput)
	}
	if max > 0 && len(ids) > max {
		return fmt.Errorf("%w: at most %d items per listing", domain.ErrInvalidInput, max)
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: item id %d", domain.ErrInvalidInput, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate item %d", domain.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// FillOrder buys an open order. The buyer is debited the full price, the
// seller credited the price minus the fee, and every escrowed item changes
// hands in the same transaction. The fee is burned.
func (s *Service) FillOrder(ctx context.Context, buyerID, orderID int64) (FillResult, error) {
	if buyerID <= 0 {
		return FillResult{}, fmt.Errorf("%w: buyer required", domain.ErrInvalidInput)
	}
	var res FillResult
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		now := s.now()
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Open(now) {
			return domain.ErrNotOpen
		}
		if o.SellerID == buyerID {
			return domain.ErrCannotActOnOwn
		}

		ref := strconv.FormatInt(o.ID, 10)
		if _, err := tx.Ledger().Debit(ctx, ledger.Posting{
			UserID:         buyerID,
			Currency:       o.PayCurrency,
			Amount:         o.PayAmount,
			RefType:        ledger.RefMarketOrder,
			RefID:          ref,
			IdempotencyKey: idempotencyKey(o.ID, "debit"),
		}); err != nil {
			return err
		}
		fee := Fee(o.PayAmount, s.cfg.FeePercent)
		proceeds := o.PayAmount - fee
		if proceeds > 0 {
			if _, err := tx.Ledger().Credit(ctx, ledger.Posting{
				UserID:         o.SellerID,
				Currency:       o.PayCurrency,
				Amount:         proceeds,
				RefType:        ledger.RefMarketOrder,
				RefID:          ref,
				IdempotencyKey: idempotencyKey(o.ID, "credit"),
			}); err != nil {
				return err
			}
		}
		for _, itemID := range o.ItemIDs {
			if err := tx.Vault().Transfer(ctx, itemID, buyerID); err != nil {
				return fmt.Errorf("transfer item %d: %w", itemID, err)
			}
		}
		if err := tx.Orders().Close(ctx, o.ID, domain.StatusFilled, buyerID, now); err != nil {
			return err
		}

		o.Status = domain.StatusFilled
		o.BuyerID = buyerID
		o.ClosedAt = &now
		res = FillResult{Order: o, Fee: fee, SellerProceeds: proceeds}
		return nil
	})
	if err != nil {
		return FillResult{}, err
	}

	metrics.Listing(listing, "filled")
	if res.Fee > 0 {
		metrics.FeesBurned.WithLabelValues(res.Order.PayCurrency).Add(float64(res.Fee))
	}
	s.logger.Info("market order filled",
		slog.Int64("order_id", res.Order.ID),
		slog.Int64("seller_id", res.Order.SellerID),
		slog.Int64("buyer_id", buyerID),
		slog.Int64("amount", res.Order.PayAmount),
		slog.Int64("fee", res.Fee),
	)
	s.notify(ctx, notification.Message{
		Kind:   notification.KindOrderFilled,
		UserID: res.Order.SellerID,
		Body:   fmt.Sprintf("Order %d sold for %d %s (fee %d)", res.Order.ID, res.Order.PayAmount, res.Order.PayCurrency, res.Fee),
	})
	return res, nil
}

func idempotencyKey(orderID int64, leg string) string {
	return fmt.Sprintf("%s:%d:%s", listing, orderID, leg)
}

// CancelOrder withdraws an open order and returns its items to the seller.
// An order past its expiry may still be canceled until the sweeper closes it.
func (s *Service) CancelOrder(ctx context.Context, sellerID, orderID int64) (domain.Order, error) {
	var out domain.Order
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SellerID != sellerID {
			return domain.ErrNotOwner
		}
		if o.Status != domain.StatusOpen {
			return domain.ErrNotOpen
		}
		var closeErr error
		out, closeErr = s.release(ctx, tx, o)
		return closeErr
	})
	if err != nil {
		return domain.Order{}, err
	}
	metrics.Listing(listing, "canceled")
	s.logger.Info("market order canceled", slog.Int64("order_id", out.ID), slog.Int64("seller_id", out.SellerID))
	return out, nil
}

// release unlocks the order's items and marks it canceled.
func (s *Service) release(ctx context.Context, tx store.Tx, o domain.Order) (domain.Order, error) {
	now := s.now()
	if _, err := tx.Vault().Unlock(ctx, domain.LockMarketOrder, o.ID); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Orders().Close(ctx, o.ID, domain.StatusCanceled, 0, now); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.StatusCanceled
	o.ClosedAt = &now
	return o, nil
}

// GetOrder returns an order in any status.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	var o domain.Order
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	return o, err
}

// ListOpen returns fillable orders newest first. Orders past their expiry
// are left out, before paging, even while the sweeper has not closed them.
func (s *Service) ListOpen(ctx context.Context, f ListFilter) ([]domain.Order, error) {
	if f.Currency != "" {
		cur, err := domain.NormalizeCurrency(f.Currency)
		if err != nil {
			return nil, err
		}
		f.Currency = cur
	}
	var rows []domain.Order
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.Orders().ListOpen(ctx, store.OrderFilter{
			Currency: f.Currency,
			SellerID: f.SellerID,
			Now:      s.now(),
			Limit:    f.Limit,
			Offset:   f.Offset,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExpireDue cancels open orders whose expiry is at or before now and returns
// their items to the sellers. Each order closes in its own transaction so
// one failure does not hold back the rest.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var ids []int64
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.Orders().ListExpired(ctx, now, 0)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		var closed domain.Order
		err := s.runner.Do(ctx, func(tx store.Tx) error {
			o, err := tx.Orders().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if o.Open(now) || o.Status != domain.StatusOpen {
				return domain.ErrNotOpen
			}
			closed, err = s.release(ctx, tx, o)
			return err
		})
		if errors.Is(err, domain.ErrNotOpen) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("expire order %d: %w", id, err))
			continue
		}
		expired++
		metrics.Listing(listing, "expired")
		s.notify(ctx, notification.Message{
			Kind:   notification.KindListingExpired,
			UserID: closed.SellerID,
			Body:   fmt.Sprintf("Order %d expired; items returned", closed.ID),
		})
	}
	if expired > 0 {
		s.logger.Info("market orders expired", slog.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("send notification", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
