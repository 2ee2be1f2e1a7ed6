package wallet

import (
	"time"

	"github.com/minerush/economy/internal/domain"
)

// Balances is a point-in-time view of every currency a user holds.
type Balances struct {
	UserID  int64
	Amounts map[string]int64
	AsOf    time.Time
}

// Inventory groups a user's items by custody state.
type Inventory struct {
	UserID int64
	Items  []domain.Item
}

// Count returns how many items are in state.
func (inv Inventory) Count(state domain.ItemState) int {
	n := 0
	for _, it := range inv.Items {
		if it.State == state {
			n++
		}
	}
	return n
}
