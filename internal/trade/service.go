// Package trade implements bilateral barter offers. The maker's items are
// escrowed when the offer is made; the taker's side is only a wish list and
// is settled from whatever the accepter still holds.
package trade

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

const listing = "trade_offer"

// Config bounds trade offers.
type Config struct {
	MaxOpenOffers int
	MaxItems      int
}

func DefaultConfig() Config {
	return Config{MaxOpenOffers: 10, MaxItems: 10}
}

// Service is the trade offer exchange.
type Service struct {
	runner   store.Runner
	catalog  catalog.Catalog
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewService constructs a trade service.
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

// CreateOfferInput captures a new barter proposal. TakerID 0 leaves the
// offer open to anyone.
type CreateOfferInput struct {
	MakerID      int64
	TakerID      int64
	MakerItemIDs []int64
	TakerItemIDs []int64
	WantCurrency string
	WantAmount   int64
	ExpiresAt    *time.Time
}

// AcceptResult reports the settled exchange. Skipped lists requested taker
// items that were no longer owned by the taker or not free at acceptance.
type AcceptResult struct {
	Offer       domain.Offer
	Transferred []int64
	Skipped     []int64
}

// CreateOffer escrows the maker items under a new open offer.
func (s *Service) CreateOffer(ctx context.Context, in CreateOfferInput) (domain.Offer, error) {
	offer, err := s.validate(in)
	if err != nil {
		return domain.Offer{}, err
	}

	err = s.runner.Do(ctx, func(tx store.Tx) error {
		open, err := tx.Offers().CountOpen(ctx, in.MakerID)
		if err != nil {
			return err
		}
		if open >= s.cfg.MaxOpenOffers {
			return domain.ErrLimitExceeded
		}
		for _, id := range offer.MakerItemIDs {
			item, err := tx.Vault().Item(ctx, id)
			if err != nil {
				return fmt.Errorf("%w: item %d: %w", domain.ErrCreateFailed, id, err)
			}
			if !catalog.Tradable(s.catalog, item.DefinitionID) {
				return fmt.Errorf("%w: item %d is not tradable: %w", domain.ErrCreateFailed, id, domain.ErrItemNotAvailable)
			}
		}
		created, err := tx.Offers().Create(ctx, offer)
		if err != nil {
			return err
		}
		if err := escrow.LockAll(ctx, tx.Vault(), in.MakerID, offer.MakerItemIDs, domain.LockTradeOffer, created.ID); err != nil {
			return err
		}
		offer = created
		return nil
	})
	if err != nil {
		return domain.Offer{}, err
	}

	metrics.Listing(listing, "created")
	s.logger.Info("trade offer created",
		slog.Int64("offer_id", offer.ID),
		slog.Int64("maker_id", offer.MakerID),
		slog.Int64("taker_id", offer.TakerID),
		slog.Int("maker_items", len(offer.MakerItemIDs)),
		slog.Int("taker_items", len(offer.TakerItemIDs)),
	)
	return offer, nil
}

func (s *Service) validate(in CreateOfferInput) (domain.Offer, error) {
	if in.MakerID <= 0 || in.TakerID < 0 {
		return domain.Offer{}, fmt.Errorf("%w: maker required", domain.ErrInvalidInput)
	}
	if in.TakerID == in.MakerID {
		return domain.Offer{}, domain.ErrCannotActOnOwn
	}
	if len(in.MakerItemIDs) == 0 && len(in.TakerItemIDs) == 0 {
		return domain.Offer{}, fmt.Errorf("%w: offer must give or ask for at least one item", domain.ErrInvalidInput)
	}
	if err := checkItems(in.MakerItemIDs, s.cfg.MaxItems); err != nil {
		return domain.Offer{}, err
	}
	if err := checkItems(in.TakerItemIDs, s.cfg.MaxItems); err != nil {
		return domain.Offer{}, err
	}
	for _, m := range in.MakerItemIDs {
		for _, t := range in.TakerItemIDs {
			if m == t {
				return domain.Offer{}, fmt.Errorf("%w: item %d on both sides", domain.ErrInvalidInput, m)
			}
		}
	}
	if in.WantAmount < 0 {
		return domain.Offer{}, domain.ErrInvalidAmount
	}
	var cur string
	if in.WantAmount > 0 {
		var err error
		if cur, err = domain.NormalizeCurrency(in.WantCurrency); err != nil {
			return domain.Offer{}, err
		}
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return domain.Offer{}, fmt.Errorf("%w: expiry must be in the future", domain.ErrInvalidInput)
	}
	return domain.Offer{
		MakerID:      in.MakerID,
		TakerID:      in.TakerID,
		MakerItemIDs: append([]int64(nil), in.MakerItemIDs...),
		TakerItemIDs: append([]int64(nil), in.TakerItemIDs...),
		WantCurrency: cur,
		WantAmount:   in.WantAmount,
		ExpiresAt:    in.ExpiresAt,
		CreatedAt:    now,
	}, nil
}

func checkItems(ids []int64, max int) error {
	if max > 0 && len(ids) > max {
		return fmt.Errorf("%w: at most %d items per side", domain.ErrInvalidInput, max)
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

// AcceptOffer settles an open offer for taker in one transaction: the
// requested currency moves taker -> maker, maker items move to the taker,
// and each requested taker item the taker still holds free moves to the
// maker. Taker items that cannot be moved are skipped, not fatal.
func (s *Service) AcceptOffer(ctx context.Context, takerID, offerID int64) (AcceptResult, error) {
	if takerID <= 0 {
		return AcceptResult{}, fmt.Errorf("%w: taker required", domain.ErrInvalidInput)
	}
	var res AcceptResult
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		res = AcceptResult{}
		now := s.now()
		o, err := tx.Offers().GetForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if !o.Open(now) {
			return domain.ErrNotOpen
		}
		if o.MakerID == takerID {
			return domain.ErrCannotActOnOwn
		}
		if o.TakerID != 0 && o.TakerID != takerID {
			return domain.ErrNotOwner
		}

		if o.WantAmount > 0 {
			if err := s.pay(ctx, tx, o, takerID); err != nil {
				return err
			}
		}
		for _, itemID := range o.MakerItemIDs {
			if err := tx.Vault().Transfer(ctx, itemID, takerID); err != nil {
				return fmt.Errorf("transfer maker item %d: %w", itemID, err)
			}
		}
		for _, itemID := range o.TakerItemIDs {
			moved, err := s.takeFromTaker(ctx, tx, o, takerID, itemID)
			if err != nil {
				return err
			}
			if moved {
				res.Transferred = append(res.Transferred, itemID)
			} else {
				res.Skipped = append(res.Skipped, itemID)
			}
		}
		if err := tx.Offers().Close(ctx, o.ID, domain.StatusFilled, takerID, now); err != nil {
			return err
		}
		o.Status = domain.StatusFilled
		o.TakerID = takerID
		o.ClosedAt = &now
		res.Offer = o
		return nil
	})
	if err != nil {
		return AcceptResult{}, err
	}

	metrics.Listing(listing, "filled")
	attrs := []any{
		slog.Int64("offer_id", res.Offer.ID),
		slog.Int64("maker_id", res.Offer.MakerID),
		slog.Int64("taker_id", takerID),
		slog.Int("taker_items", len(res.Transferred)),
	}
	if len(res.Skipped) > 0 {
		attrs = append(attrs, slog.Any("skipped", res.Skipped))
	}
	s.logger.Info("trade offer accepted", attrs...)
	s.notify(ctx, notification.Message{
		Kind:   notification.KindOfferAccepted,
		UserID: res.Offer.MakerID,
		Body:   fmt.Sprintf("Offer %d accepted; %d of %d requested items received", res.Offer.ID, len(res.Transferred), len(res.Offer.TakerItemIDs)),
	})
	return res, nil
}

func (s *Service) pay(ctx context.Context, tx store.Tx, o domain.Offer, takerID int64) error {
	ref := strconv.FormatInt(o.ID, 10)
	if _, err := tx.Ledger().Debit(ctx, ledger.Posting{
		UserID:         takerID,
		Currency:       o.WantCurrency,
		Amount:         o.WantAmount,
		RefType:        ledger.RefTradeOffer,
		RefID:          ref,
		IdempotencyKey: idempotencyKey(o.ID, "debit"),
	}); err != nil {
		return err
	}
	_, err := tx.Ledger().Credit(ctx, ledger.Posting{
		UserID:         o.MakerID,
		Currency:       o.WantCurrency,
		Amount:         o.WantAmount,
		RefType:        ledger.RefTradeOffer,
		RefID:          ref,
		IdempotencyKey: idempotencyKey(o.ID, "credit"),
	})
	return err
}

// takeFromTaker moves one requested item to the maker. The item passes
// through the vault's conditional lock so a concurrent listing or equip by
// the taker wins cleanly and the item is skipped.
func (s *Service) takeFromTaker(ctx context.Context, tx store.Tx, o domain.Offer, takerID, itemID int64) (bool, error) {
	item, err := tx.Vault().Item(ctx, itemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !catalog.Tradable(s.catalog, item.DefinitionID) {
		return false, nil
	}
	err = tx.Vault().Lock(ctx, takerID, itemID, domain.LockTradeOffer, o.ID)
	if errors.Is(err, domain.ErrItemNotAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := tx.Vault().Transfer(ctx, itemID, o.MakerID); err != nil {
		return false, fmt.Errorf("transfer taker item %d: %w", itemID, err)
	}
	return true, nil
}

func idempotencyKey(offerID int64, leg string) string {
	return fmt.Sprintf("%s:%d:%s", listing, offerID, leg)
}

// CancelOffer withdraws an open offer and returns the maker items.
func (s *Service) CancelOffer(ctx context.Context, makerID, offerID int64) (domain.Offer, error) {
	var out domain.Offer
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		o, err := tx.Offers().GetForUpdate(ctx, offerID)
		if err != nil {
			return err
		}
		if o.MakerID != makerID {
			return domain.ErrNotOwner
		}
		if o.Status != domain.StatusOpen {
			return domain.ErrNotOpen
		}
		out, err = s.release(ctx, tx, o)
		return err
	})
	if err != nil {
		return domain.Offer{}, err
	}
	metrics.Listing(listing, "canceled")
	s.logger.Info("trade offer canceled", slog.Int64("offer_id", out.ID), slog.Int64("maker_id", out.MakerID))
	return out, nil
}

func (s *Service) release(ctx context.Context, tx store.Tx, o domain.Offer) (domain.Offer, error) {
	now := s.now()
	if _, err := tx.Vault().Unlock(ctx, domain.LockTradeOffer, o.ID); err != nil {
		return domain.Offer{}, err
	}
	if err := tx.Offers().Close(ctx, o.ID, domain.StatusCanceled, 0, now); err != nil {
		return domain.Offer{}, err
	}
	o.Status = domain.StatusCanceled
	o.ClosedAt = &now
	return o, nil
}

// GetOffer returns one offer. Only the maker and the addressed taker may see
// a directed offer; open offers are visible to everyone.
func (s *Service) GetOffer(ctx context.Context, viewerID, offerID int64) (domain.Offer, error) {
	var o domain.Offer
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Offers().Get(ctx, offerID)
		return err
	})
	if err != nil {
		return domain.Offer{}, err
	}
	if o.TakerID != 0 && viewerID != o.MakerID && viewerID != o.TakerID {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return o, nil
}

// ListForUser returns offers made by or addressed to userID, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Offer, error) {
	var out []domain.Offer
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Offers().ListForUser(ctx, userID, limit)
		return err
	})
	return out, err
}

// PublicFilter narrows ListPublic.
type PublicFilter struct {
	Currency string
	MakerID  int64
	Limit    int
	Offset   int
}

// ListPublic returns open offers anyone may accept, newest first. Expired
// offers are left out before paging.
func (s *Service) ListPublic(ctx context.Context, f PublicFilter) ([]domain.Offer, error) {
	if f.Currency != "" {
		cur, err := domain.NormalizeCurrency(f.Currency)
		if err != nil {
			return nil, err
		}
		f.Currency = cur
	}
	var out []domain.Offer
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Offers().ListOpenPublic(ctx, store.OfferFilter{
			Currency: f.Currency,
			MakerID:  f.MakerID,
			Now:      s.now(),
			Limit:    f.Limit,
			Offset:   f.Offset,
		})
		return err
	})
	return out, err
}

// ExpireDue cancels open offers past their expiry and returns maker items.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var ids []int64
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.Offers().ListExpired(ctx, now, 0)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		var closed domain.Offer
		err := s.runner.Do(ctx, func(tx store.Tx) error {
			o, err := tx.Offers().GetForUpdate(ctx, id)
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
			errs = append(errs, fmt.Errorf("expire offer %d: %w", id, err))
			continue
		}
		expired++
		metrics.Listing(listing, "expired")
		s.notify(ctx, notification.Message{
			Kind:   notification.KindListingExpired,
			UserID: closed.MakerID,
			Body:   fmt.Sprintf("Offer %d expired; items returned", closed.ID),
		})
	}
	if expired > 0 {
		s.logger.Info("trade offers expired", slog.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("send notification", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
