package escrow

import (
	"context"
	"fmt"

	"github.com/minerush/economy/internal/domain"
)

// Vault is the only writer of item owner and state.
//
// Lock moves an item free -> listed and records an EscrowLock; it fails with
// domain.ErrItemNotAvailable, changing nothing, unless the item belongs to
// owner and is free. Unlock releases every lock of a (type, id) pair and is a
// no-op returning 0 when nothing matches. Transfer hands an item to a new
// owner in the free state, dropping any lock. Equip and Unequip toggle
// free <-> equipped and never pass through listed.
type Vault interface {
	Grant(ctx context.Context, owner int64, definitionID string, level int, metadata map[string]any) (domain.Item, error)
	Item(ctx context.Context, id int64) (domain.Item, error)
	Inventory(ctx context.Context, owner int64) ([]domain.Item, error)
	LockOf(ctx context.Context, itemID int64) (domain.EscrowLock, bool, error)

	Lock(ctx context.Context, owner, itemID int64, lockType domain.LockType, lockID int64) error
	Unlock(ctx context.Context, lockType domain.LockType, lockID int64) (int, error)
	Transfer(ctx context.Context, itemID, newOwner int64) error
	Equip(ctx context.Context, owner, itemID int64) error
	Unequip(ctx context.Context, owner, itemID int64) error
}

// LockAll escrows every item under one lock pair. On the first failure it
// unlocks whatever it already took for the pair and returns
// domain.ErrCreateFailed wrapping the cause.
func LockAll(ctx context.Context, v Vault, owner int64, itemIDs []int64, lockType domain.LockType, lockID int64) error {
	for _, id := range itemIDs {
		err := v.Lock(ctx, owner, id, lockType, lockID)
		if err == nil {
			continue
		}
		if _, uerr := v.Unlock(ctx, lockType, lockID); uerr != nil {
			return fmt.Errorf("release partial escrow: %w", uerr)
		}
		return fmt.Errorf("%w: item %d: %w", domain.ErrCreateFailed, id, err)
	}
	return nil
}
