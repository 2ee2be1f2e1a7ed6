package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/infra"
)

// PostgresVault stores items and escrow locks in PostgreSQL. State changes
// are conditional UPDATEs so a concurrent writer can never take an item out
// of a state it is no longer in.
type PostgresVault struct {
	db infra.Querier
}

// NewPostgresVault binds a vault to a transaction.
func NewPostgresVault(tx pgx.Tx) *PostgresVault {
	return &PostgresVault{db: tx}
}

const itemColumns = `id, owner_id, definition_id, level, metadata, state, created_at, updated_at`

// Grant mints a new free item for owner.
func (v *PostgresVault) Grant(ctx context.Context, owner int64, definitionID string, level int, metadata map[string]any) (domain.Item, error) {
	if owner <= 0 || definitionID == "" {
		return domain.Item{}, fmt.Errorf("%w: owner and definition required", domain.ErrInvalidInput)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := v.db.QueryRow(ctx, `INSERT INTO items (owner_id, definition_id, level, metadata, state)
        VALUES ($1, $2, $3, $4, 'free') RETURNING `+itemColumns, owner, definitionID, level, metadata)
	return scanItem(row)
}

// Item fetches one item.
func (v *PostgresVault) Item(ctx context.Context, id int64) (domain.Item, error) {
	it, err := scanItem(v.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("%w: %d", domain.ErrItemNotFound, id)
	}
	return it, err
}

// Inventory lists every item owned by owner in id order.
func (v *PostgresVault) Inventory(ctx context.Context, owner int64) ([]domain.Item, error) {
	rows, err := v.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE owner_id = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// LockOf returns the escrow lock on an item, if any.
func (v *PostgresVault) LockOf(ctx context.Context, itemID int64) (domain.EscrowLock, bool, error) {
	var l domain.EscrowLock
	var lockType string
	err := v.db.QueryRow(ctx, `SELECT item_id, owner_id, lock_type, lock_id, locked_at FROM escrow_locks WHERE item_id = $1`, itemID).
		Scan(&l.ItemID, &l.OwnerID, &lockType, &l.LockID, &l.LockedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EscrowLock{}, false, nil
	}
	if err != nil {
		return domain.EscrowLock{}, false, err
	}
	l.LockType = domain.LockType(lockType)
	l.LockedAt = l.LockedAt.UTC()
	return l, true, nil
}

// Lock escrows a free item owned by owner.
func (v *PostgresVault) Lock(ctx context.Context, owner, itemID int64, lockType domain.LockType, lockID int64) error {
	cmd, err := v.db.Exec(ctx, `UPDATE items SET state = 'listed', updated_at = now()
        WHERE id = $1 AND owner_id = $2 AND state = 'free'`, itemID, owner)
	if err != nil {
		return fmt.Errorf("lock item %d: %w", itemID, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrItemNotAvailable, itemID)
	}
	if _, err := v.db.Exec(ctx, `INSERT INTO escrow_locks (item_id, owner_id, lock_type, lock_id) VALUES ($1, $2, $3, $4)`,
		itemID, owner, string(lockType), lockID); err != nil {
		return fmt.Errorf("record escrow lock %d: %w", itemID, err)
	}
	return nil
}

// Unlock releases every item escrowed under the pair.
func (v *PostgresVault) Unlock(ctx context.Context, lockType domain.LockType, lockID int64) (int, error) {
	cmd, err := v.db.Exec(ctx, `WITH released AS (
            DELETE FROM escrow_locks WHERE lock_type = $1 AND lock_id = $2 RETURNING item_id
        )
        UPDATE items SET state = 'free', updated_at = now()
        WHERE id IN (SELECT item_id FROM released) AND state = 'listed'`, string(lockType), lockID)
	if err != nil {
		return 0, fmt.Errorf("unlock %s %d: %w", lockType, lockID, err)
	}
	return int(cmd.RowsAffected()), nil
}

// Transfer moves an item to newOwner in the free state and drops its lock.
func (v *PostgresVault) Transfer(ctx context.Context, itemID, newOwner int64) error {
	cmd, err := v.db.Exec(ctx, `WITH dropped AS (
            DELETE FROM escrow_locks WHERE item_id = $1
        )
        UPDATE items SET owner_id = $2, state = 'free', updated_at = now() WHERE id = $1`, itemID, newOwner)
	if err != nil {
		return fmt.Errorf("transfer item %d: %w", itemID, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrItemNotFound, itemID)
	}
	return nil
}

// Equip marks a free item as equipped.
func (v *PostgresVault) Equip(ctx context.Context, owner, itemID int64) error {
	return v.toggle(ctx, owner, itemID, domain.ItemFree, domain.ItemEquipped)
}

// Unequip returns an equipped item to free.
func (v *PostgresVault) Unequip(ctx context.Context, owner, itemID int64) error {
	return v.toggle(ctx, owner, itemID, domain.ItemEquipped, domain.ItemFree)
}

func (v *PostgresVault) toggle(ctx context.Context, owner, itemID int64, from, to domain.ItemState) error {
	cmd, err := v.db.Exec(ctx, `UPDATE items SET state = $4, updated_at = now()
        WHERE id = $1 AND owner_id = $2 AND state = $3`, itemID, owner, string(from), string(to))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrItemNotAvailable, itemID)
	}
	return nil
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var it domain.Item
	var state string
	if err := row.Scan(&it.ID, &it.OwnerID, &it.DefinitionID, &it.Level, &it.Metadata, &state, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return domain.Item{}, err
	}
	it.State = domain.ItemState(state)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return it, nil
}
