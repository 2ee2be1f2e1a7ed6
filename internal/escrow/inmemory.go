package escrow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/minerush/economy/internal/domain"
)

// MemoryVault keeps items and escrow locks in process memory. Like
// ledger.MemoryLedger it does no locking; store.MemoryRunner serializes it.
type MemoryVault struct {
	items  map[int64]domain.Item
	locks  map[int64]domain.EscrowLock
	nextID int64
	now    func() time.Time
}

// NewInMemory creates an empty vault.
func NewInMemory() *MemoryVault {
	return &MemoryVault{
		items: make(map[int64]domain.Item),
		locks: make(map[int64]domain.EscrowLock),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Clone returns an independent copy. Item metadata maps are never mutated
// after Grant, so they are shared.
func (v *MemoryVault) Clone() *MemoryVault {
	c := &MemoryVault{
		items:  make(map[int64]domain.Item, len(v.items)),
		locks:  make(map[int64]domain.EscrowLock, len(v.locks)),
		nextID: v.nextID,
		now:    v.now,
	}
	for k, it := range v.items {
		c.items[k] = it
	}
	for k, l := range v.locks {
		c.locks[k] = l
	}
	return c
}

func (v *MemoryVault) Grant(_ context.Context, owner int64, definitionID string, level int, metadata map[string]any) (domain.Item, error) {
	if owner <= 0 || definitionID == "" {
		return domain.Item{}, fmt.Errorf("%w: owner and definition required", domain.ErrInvalidInput)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	v.nextID++
	now := v.now()
	it := domain.Item{
		ID:           v.nextID,
		OwnerID:      owner,
		DefinitionID: definitionID,
		Level:        level,
		Metadata:     metadata,
		State:        domain.ItemFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	v.items[it.ID] = it
	return it, nil
}

func (v *MemoryVault) Item(_ context.Context, id int64) (domain.Item, error) {
	it, ok := v.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: %d", domain.ErrItemNotFound, id)
	}
	return it, nil
}

func (v *MemoryVault) Inventory(_ context.Context, owner int64) ([]domain.Item, error) {
	var out []domain.Item
	for _, it := range v.items {
		if it.OwnerID == owner {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *MemoryVault) LockOf(_ context.Context, itemID int64) (domain.EscrowLock, bool, error) {
	l, ok := v.locks[itemID]
	return l, ok, nil
}

func (v *MemoryVault) Lock(_ context.Context, owner, itemID int64, lockType domain.LockType, lockID int64) error {
	it, ok := v.items[itemID]
	if !ok || it.OwnerID != owner || it.State != domain.ItemFree {
		return fmt.Errorf("%w: %d", domain.ErrItemNotAvailable, itemID)
	}
	if _, held := v.locks[itemID]; held {
		return fmt.Errorf("%w: %d already escrowed", domain.ErrItemNotAvailable, itemID)
	}
	now := v.now()
	it.State = domain.ItemListed
	it.UpdatedAt = now
	v.items[itemID] = it
	v.locks[itemID] = domain.EscrowLock{ItemID: itemID, OwnerID: owner, LockType: lockType, LockID: lockID, LockedAt: now}
	return nil
}

func (v *MemoryVault) Unlock(_ context.Context, lockType domain.LockType, lockID int64) (int, error) {
	released := 0
	now := v.now()
	for itemID, l := range v.locks {
		if l.LockType != lockType || l.LockID != lockID {
			continue
		}
		delete(v.locks, itemID)
		if it, ok := v.items[itemID]; ok && it.State == domain.ItemListed {
			it.State = domain.ItemFree
			it.UpdatedAt = now
			v.items[itemID] = it
		}
		released++
	}
	return released, nil
}

func (v *MemoryVault) Transfer(_ context.Context, itemID, newOwner int64) error {
	it, ok := v.items[itemID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrItemNotFound, itemID)
	}
	delete(v.locks, itemID)
	it.OwnerID = newOwner
	it.State = domain.ItemFree
	it.UpdatedAt = v.now()
	v.items[itemID] = it
	return nil
}

func (v *MemoryVault) Equip(_ context.Context, owner, itemID int64) error {
	return v.toggle(owner, itemID, domain.ItemFree, domain.ItemEquipped)
}

func (v *MemoryVault) Unequip(_ context.Context, owner, itemID int64) error {
	return v.toggle(owner, itemID, domain.ItemEquipped, domain.ItemFree)
}

func (v *MemoryVault) toggle(owner, itemID int64, from, to domain.ItemState) error {
	it, ok := v.items[itemID]
	if !ok || it.OwnerID != owner || it.State != from {
		return fmt.Errorf("%w: %d", domain.ErrItemNotAvailable, itemID)
	}
	it.State = to
	it.UpdatedAt = v.now()
	v.items[itemID] = it
	return nil
}
