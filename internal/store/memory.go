package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/escrow"
	"github.com/minerush/economy/internal/ledger"
)

// MemoryRunner is a Runner over in-process state, used for tests and the
// development server. Transactions are serialized by one mutex and run
// against a copy that only replaces the live state when fn succeeds.
type MemoryRunner struct {
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryRunner creates an empty in-memory store.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{state: &memoryState{
		ledger: ledger.NewInMemory(),
		vault:  escrow.NewInMemory(),
		orders: &memoryOrders{rows: make(map[int64]domain.Order)},
		offers: &memoryOffers{rows: make(map[int64]domain.Offer)},
	}}
}

// Do runs fn on a private copy of the state and publishes it on success.
func (r *MemoryRunner) Do(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	r.state = work
	return nil
}

type memoryState struct {
	ledger *ledger.MemoryLedger
	vault  *escrow.MemoryVault
	orders *memoryOrders
	offers *memoryOffers
}

func (s *memoryState) Ledger() ledger.Ledger   { return s.ledger }
func (s *memoryState) Vault() escrow.Vault     { return s.vault }
func (s *memoryState) Orders() OrderRepository { return s.orders }
func (s *memoryState) Offers() OfferRepository { return s.offers }

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		ledger: s.ledger.Clone(),
		vault:  s.vault.Clone(),
		orders: s.orders.clone(),
		offers: s.offers.clone(),
	}
}

type memoryOrders struct {
	rows   map[int64]domain.Order
	nextID int64
}

func (m *memoryOrders) clone() *memoryOrders {
	c := &memoryOrders{rows: make(map[int64]domain.Order, len(m.rows)), nextID: m.nextID}
	for k, v := range m.rows {
		c.rows[k] = v
	}
	return c
}

func (m *memoryOrders) Create(_ context.Context, o domain.Order) (domain.Order, error) {
	m.nextID++
	o.ID = m.nextID
	o.Status = domain.StatusOpen
	o.ItemIDs = append([]int64(nil), o.ItemIDs...)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.rows[o.ID] = o
	return o, nil
}

func (m *memoryOrders) Get(_ context.Context, id int64) (domain.Order, error) {
	o, ok := m.rows[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *memoryOrders) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return m.Get(ctx, id)
}

func (m *memoryOrders) CountOpen(_ context.Context, sellerID int64) (int, error) {
	n := 0
	for _, o := range m.rows {
		if o.SellerID == sellerID && o.Status == domain.StatusOpen {
			n++
		}
	}
	return n, nil
}

func (m *memoryOrders) Close(_ context.Context, id int64, status domain.Status, buyerID int64, at time.Time) error {
	o, ok := m.rows[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != domain.StatusOpen {
		return domain.ErrNotOpen
	}
	o.Status = status
	o.BuyerID = buyerID
	o.ClosedAt = &at
	m.rows[id] = o
	return nil
}

func (m *memoryOrders) ListOpen(_ context.Context, f OrderFilter) ([]domain.Order, error) {
	now := f.now()
	var out []domain.Order
	for _, o := range m.rows {
		if !o.Open(now) {
			continue
		}
		if f.Currency != "" && o.PayCurrency != f.Currency {
			continue
		}
		if f.SellerID != 0 && o.SellerID != f.SellerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Offset, listLimit(f.Limit)), nil
}

func (m *memoryOrders) ListExpired(_ context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	for _, o := range m.rows {
		if o.Status == domain.StatusOpen && o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return page(ids, 0, listLimit(limit)), nil
}

type memoryOffers struct {
	rows   map[int64]domain.Offer
	nextID int64
}

func (m *memoryOffers) clone() *memoryOffers {
	c := &memoryOffers{rows: make(map[int64]domain.Offer, len(m.rows)), nextID: m.nextID}
	for k, v := range m.rows {
		c.rows[k] = v
	}
	return c
}

func (m *memoryOffers) Create(_ context.Context, o domain.Offer) (domain.Offer, error) {
	m.nextID++
	o.ID = m.nextID
	o.Status = domain.StatusOpen
	o.MakerItemIDs = append([]int64(nil), o.MakerItemIDs...)
	o.TakerItemIDs = append([]int64(nil), o.TakerItemIDs...)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.rows[o.ID] = o
	return o, nil
}

func (m *memoryOffers) Get(_ context.Context, id int64) (domain.Offer, error) {
	o, ok := m.rows[id]
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return o, nil
}

func (m *memoryOffers) GetForUpdate(ctx context.Context, id int64) (domain.Offer, error) {
	return m.Get(ctx, id)
}

func (m *memoryOffers) CountOpen(_ context.Context, makerID int64) (int, error) {
	n := 0
	for _, o := range m.rows {
		if o.MakerID == makerID && o.Status == domain.StatusOpen {
			n++
		}
	}
	return n, nil
}

func (m *memoryOffers) Close(_ context.Context, id int64, status domain.Status, takerID int64, at time.Time) error {
	o, ok := m.rows[id]
	if !ok {
		return domain.ErrOfferNotFound
	}
	if o.Status != domain.StatusOpen {
		return domain.ErrNotOpen
	}
	o.Status = status
	if takerID != 0 {
		o.TakerID = takerID
	}
	o.ClosedAt = &at
	m.rows[id] = o
	return nil
}

func (m *memoryOffers) ListForUser(_ context.Context, userID int64, limit int) ([]domain.Offer, error) {
	var out []domain.Offer
	for _, o := range m.rows {
		if o.MakerID == userID || o.TakerID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, 0, listLimit(limit)), nil
}

func (m *memoryOffers) ListOpenPublic(_ context.Context, f OfferFilter) ([]domain.Offer, error) {
	now := f.now()
	var out []domain.Offer
	for _, o := range m.rows {
		if o.TakerID != 0 || !o.Open(now) {
			continue
		}
		if f.Currency != "" && o.WantCurrency != f.Currency {
			continue
		}
		if f.MakerID != 0 && o.MakerID != f.MakerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Offset, listLimit(f.Limit)), nil
}

func (m *memoryOffers) ListExpired(_ context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	for _, o := range m.rows {
		if o.Status == domain.StatusOpen && o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return page(ids, 0, listLimit(limit)), nil
}

func page[T any](rows []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
