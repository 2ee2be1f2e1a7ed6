package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/store"
)

// Service is the read side of a player's holdings plus the equip toggle,
// which is the only item state change that involves no listing.
type Service struct {
	runner store.Runner
	logger *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(runner store.Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, logger: logger}
}

// Balances returns every currency balance of the user.
func (s *Service) Balances(ctx context.Context, userID int64) (Balances, error) {
	out := Balances{UserID: userID}
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		out.Amounts, err = tx.Ledger().Balances(ctx, userID)
		return err
	})
	if err != nil {
		return Balances{}, err
	}
	out.AsOf = time.Now().UTC()
	return out, nil
}

// History returns ledger entries newest first. An empty currency returns
// every currency.
func (s *Service) History(ctx context.Context, userID int64, currency string, limit int) ([]domain.Entry, error) {
	var out []domain.Entry
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Ledger().Entries(ctx, userID, currency, limit)
		return err
	})
	return out, err
}

// Inventory lists the user's items.
func (s *Service) Inventory(ctx context.Context, userID int64) (Inventory, error) {
	inv := Inventory{UserID: userID}
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		inv.Items, err = tx.Vault().Inventory(ctx, userID)
		return err
	})
	return inv, err
}

// Equip moves a free item into the equipped state.
func (s *Service) Equip(ctx context.Context, userID, itemID int64) (domain.Item, error) {
	return s.toggle(ctx, userID, itemID, true)
}

// Unequip returns an equipped item to the free state.
func (s *Service) Unequip(ctx context.Context, userID, itemID int64) (domain.Item, error) {
	return s.toggle(ctx, userID, itemID, false)
}

func (s *Service) toggle(ctx context.Context, userID, itemID int64, equip bool) (domain.Item, error) {
	var it domain.Item
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		if equip {
			err = tx.Vault().Equip(ctx, userID, itemID)
		} else {
			err = tx.Vault().Unequip(ctx, userID, itemID)
		}
		if err != nil {
			return err
		}
		it, err = tx.Vault().Item(ctx, itemID)
		return err
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("item %d: %w", itemID, err)
	}
	s.logger.Debug("item state changed", slog.Int64("user_id", userID), slog.Int64("item_id", itemID), slog.String("state", string(it.State)))
	return it, nil
}
