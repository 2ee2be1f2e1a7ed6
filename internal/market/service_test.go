package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/minerush/economy/internal/catalog"
	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/ledger"
	"github.com/minerush/economy/internal/logging"
	"github.com/minerush/economy/internal/notification"
	"github.com/minerush/economy/internal/store"
)

const (
	seller int64 = 1
	buyer  int64 = 2
	other  int64 = 3
)

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func newTestService(t *testing.T, cfg Config) (*Service, *store.MemoryRunner, *testNotifier) {
	t.Helper()
	runner := store.NewMemoryRunner()
	notifier := &testNotifier{}
	return NewService(runner, nil, notifier, logging.Discard(), cfg), runner, notifier
}

func grant(t *testing.T, r store.Runner, owner int64, n int) []int64 {
	t.Helper()
	var ids []int64
	err := r.Do(context.Background(), func(tx store.Tx) error {
		for i := 0; i < n; i++ {
			it, err := tx.Vault().Grant(context.Background(), owner, "pickaxe_wood", 1, nil)
			if err != nil {
				return err
			}
			ids = append(ids, it.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("grant items: %v", err)
	}
	return ids
}

func fund(t *testing.T, r store.Runner, user int64, currency string, amount int64) {
	t.Helper()
	err := r.Do(context.Background(), func(tx store.Tx) error {
		_, err := tx.Ledger().Credit(context.Background(), ledger.Posting{UserID: user, Currency: currency, Amount: amount, RefType: ledger.RefSeed})
		return err
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func balance(t *testing.T, r store.Runner, user int64, currency string) int64 {
	t.Helper()
	var bal int64
	_ = r.Do(context.Background(), func(tx store.Tx) error {
		var err error
		bal, err = tx.Ledger().Balance(context.Background(), user, currency)
		return err
	})
	return bal
}

func item(t *testing.T, r store.Runner, id int64) (domain.Item, bool) {
	t.Helper()
	var it domain.Item
	var locked bool
	_ = r.Do(context.Background(), func(tx store.Tx) error {
		var err error
		if it, err = tx.Vault().Item(context.Background(), id); err != nil {
			return err
		}
		_, locked, err = tx.Vault().LockOf(context.Background(), id)
		return err
	})
	return it, locked
}

func TestFee(t *testing.T) {
	cases := []struct{ amount, pct, want int64 }{
		{100, 5, 5},
		{19, 5, 1},
		{10, 5, 1},
		{1, 5, 1},
		{1000, 5, 50},
		{100, 0, 0},
		{0, 5, 0},
		{3, 100, 3},
	}
	for _, c := range cases {
		if got := Fee(c.amount, c.pct); got != c.want {
			t.Fatalf("Fee(%d, %d) = %d, want %d", c.amount, c.pct, got, c.want)
		}
	}
}

func TestFillOrderMovesFundsAndItems(t *testing.T) {
	for _, tc := range []struct{ price, proceeds int64 }{{100, 95}, {19, 18}} {
		svc, r, notifier := newTestService(t, DefaultConfig())
		ctx := context.Background()
		items := grant(t, r, seller, 2)
		fund(t, r, buyer, "COINS", 500)

		o, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items, PayCurrency: "coins", PayAmount: tc.price})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if o.PayCurrency != "COINS" {
			t.Fatalf("expected normalized currency, got %q", o.PayCurrency)
		}
		res, err := svc.FillOrder(ctx, buyer, o.ID)
		if err != nil {
			t.Fatalf("fill order: %v", err)
		}
		if res.SellerProceeds != tc.proceeds || res.Fee != tc.price-tc.proceeds {
			t.Fatalf("price %d: unexpected result %+v", tc.price, res)
		}
		if got := balance(t, r, buyer, "COINS"); got != 500-tc.price {
			t.Fatalf("price %d: buyer balance %d", tc.price, got)
		}
		if got := balance(t, r, seller, "COINS"); got != tc.proceeds {
			t.Fatalf("price %d: seller balance %d, want %d", tc.price, got, tc.proceeds)
		}
		for _, id := range items {
			it, locked := item(t, r, id)
			if it.OwnerID != buyer || it.State != domain.ItemFree || locked {
				t.Fatalf("item %d not handed to buyer: %+v locked=%v", id, it, locked)
			}
		}
		got, _ := svc.GetOrder(ctx, o.ID)
		if got.Status != domain.StatusFilled || got.BuyerID != buyer {
			t.Fatalf("unexpected order state %+v", got)
		}
		if len(notifier.sent) != 1 || notifier.sent[0].Kind != notification.KindOrderFilled || notifier.sent[0].UserID != seller {
			t.Fatalf("expected seller notification, got %+v", notifier.sent)
		}
		_ = r.Do(ctx, func(tx store.Tx) error {
			rows, _ := tx.Ledger().EntriesByKey(ctx, idempotencyKey(o.ID, "debit"))
			if len(rows) != 1 || rows[0].Amount != -tc.price {
				t.Fatalf("expected one debit row, got %+v", rows)
			}
			return nil
		})
	}
}

func TestConcurrentFillHasOneWinner(t *testing.T) {
	svc, r, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 1)
	fund(t, r, buyer, "COINS", 100)
	fund(t, r, other, "COINS", 100)

	o, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items, PayCurrency: "COINS", PayAmount: 50})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	buyers := []int64{buyer, other}
	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b int64) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.FillOrder(ctx, b, o.ID)
		}(i, b)
	}
	close(start)
	wg.Wait()

	winner := int64(0)
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != 0 {
				t.Fatalf("two fills succeeded")
			}
			winner = buyers[i]
		case errors.Is(err, domain.ErrNotOpen):
		default:
			t.Fatalf("unexpected fill error: %v", err)
		}
	}
	if winner == 0 {
		t.Fatalf("no fill succeeded: %v", errs)
	}
	it, _ := item(t, r, items[0])
	if it.OwnerID != winner {
		t.Fatalf("item owner %d, want winner %d", it.OwnerID, winner)
	}
	if balance(t, r, buyer, "COINS")+balance(t, r, other, "COINS") != 150 {
		t.Fatalf("exactly one buyer must be debited")
	}
}

func TestCreateOrderRollsBackPartialEscrow(t *testing.T) {
	svc, r, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 3)

	first, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items[2:], PayCurrency: "COINS", PayAmount: 10})
	if err != nil {
		t.Fatalf("list third item: %v", err)
	}

	_, err = svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items, PayCurrency: "COINS", PayAmount: 30})
	if !errors.Is(err, domain.ErrCreateFailed) || !errors.Is(err, domain.ErrItemNotAvailable) {
		t.Fatalf("expected ErrCreateFailed wrapping ErrItemNotAvailable, got %v", err)
	}
	for _, id := range items[:2] {
		it, locked := item(t, r, id)
		if it.State != domain.ItemFree || locked || it.OwnerID != seller {
			t.Fatalf("item %d left in escrow: %+v locked=%v", id, it, locked)
		}
	}
	if it, locked := item(t, r, items[2]); it.State != domain.ItemListed || !locked {
		t.Fatalf("foreign listing must keep its lock: %+v", it)
	}
	open, _ := svc.ListOpen(ctx, ListFilter{SellerID: seller})
	if len(open) != 1 || open[0].ID != first.ID {
		t.Fatalf("failed create must not persist an order, got %+v", open)
	}
}

func TestCreateThenCancelRestoresItems(t *testing.T) {
	svc, r, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 2)

	o, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items, PayCurrency: "COINS", PayAmount: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CancelOrder(ctx, buyer, o.ID); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	canceled, err := svc.CancelOrder(ctx, seller, o.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.StatusCanceled {
		t.Fatalf("unexpected status %s", canceled.Status)
	}
	for _, id := range items {
		it, locked := item(t, r, id)
		if it.State != domain.ItemFree || it.OwnerID != seller || locked {
			t.Fatalf("item %d not restored: %+v", id, it)
		}
	}
	if balance(t, r, seller, "COINS") != 0 || balance(t, r, buyer, "COINS") != 0 {
		t.Fatalf("cancel must not move currency")
	}
	if _, err := svc.CancelOrder(ctx, seller, o.ID); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on second cancel, got %v", err)
	}
	if _, err := svc.FillOrder(ctx, buyer, o.ID); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen filling canceled order, got %v", err)
	}
}

func TestFillOrderRejections(t *testing.T) {
	svc, r, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 1)
	fund(t, r, buyer, "COINS", 20)
	fund(t, r, seller, "COINS", 1000)

	o, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items, PayCurrency: "COINS", PayAmount: 50})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.FillOrder(ctx, seller, o.ID); !errors.Is(err, domain.ErrCannotActOnOwn) {
		t.Fatalf("expected ErrCannotActOnOwn, got %v", err)
	}
	if _, err := svc.FillOrder(ctx, buyer, o.ID); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balance(t, r, buyer, "COINS"); got != 20 {
		t.Fatalf("failed fill changed buyer balance to %d", got)
	}
	if it, locked := item(t, r, items[0]); it.OwnerID != seller || !locked {
		t.Fatalf("failed fill moved the item: %+v", it)
	}
	if _, err := svc.FillOrder(ctx, buyer, 999); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenOrders = 1
	cfg.MaxItems = 2
	cat, err := catalog.Parse([]byte(`
definitions:
  - {id: pickaxe_wood, tradable: true}
  - {id: badge_founder, tradable: false}
`))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	runner := store.NewMemoryRunner()
	svc := NewService(runner, cat, nil, logging.Discard(), cfg)
	ctx := context.Background()
	items := grant(t, runner, seller, 4)

	var badge int64
	_ = runner.Do(ctx, func(tx store.Tx) error {
		it, err := tx.Vault().Grant(ctx, seller, "badge_founder", 1, nil)
		badge = it.ID
		return err
	})

	past := time.Now().Add(-time.Hour)
	cases := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{"below minimum", CreateOrderInput{SellerID: seller, ItemIDs: items[:1], PayCurrency: "COINS", PayAmount: 9}, domain.ErrBelowMinimum},
		{"zero amount", CreateOrderInput{SellerID: seller, ItemIDs: items[:1], PayCurrency: "COINS"}, domain.ErrInvalidAmount},
		{"bad currency", CreateOrderInput{SellerID: seller, ItemIDs: items[:1], PayCurrency: "no way", PayAmount: 10}, domain.ErrInvalidCurrency},
		{"no items", CreateOrderInput{SellerID: seller, PayCurrency: "COINS", PayAmount: 10}, domain.ErrInvalidInput},
		{"too many items", CreateOrderInput{SellerID: seller, ItemIDs: items[:3], PayCurrency: "COINS", PayAmount: 10}, domain.ErrInvalidInput},
		{"duplicate items", CreateOrderInput{SellerID: seller, ItemIDs: []int64{items[0], items[0]}, PayCurrency: "COINS", PayAmount: 10}, domain.ErrInvalidInput},
		{"past expiry", CreateOrderInput{SellerID: seller, ItemIDs: items[:1], PayCurrency: "COINS", PayAmount: 10, ExpiresAt: &past}, domain.ErrInvalidInput},
		{"not tradable", CreateOrderInput{SellerID: seller, ItemIDs: []int64{badge}, PayCurrency: "COINS", PayAmount: 10}, domain.ErrCreateFailed},
		{"missing item", CreateOrderInput{SellerID: seller, ItemIDs: []int64{404}, PayCurrency: "COINS", PayAmount: 10}, domain.ErrItemNotFound},
		{"not owned", CreateOrderInput{SellerID: buyer, ItemIDs: items[:1], PayCurrency: "COINS", PayAmount: 10}, domain.ErrItemNotAvailable},
	}
	for _, c := range cases {
		if _, err := svc.CreateOrder(ctx, c.in); !errors.Is(err, c.want) {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}

	if _, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items[:1], PayCurrency: "COINS", PayAmount: 10}); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items[1:2], PayCurrency: "COINS", PayAmount: 10}); !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestExpiredOrdersAreSweptAndUnfillable(t *testing.T) {
	svc, r, notifier := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 1)
	fund(t, r, buyer, "COINS", 100)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	expires := base.Add(time.Hour)
	o, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items, PayCurrency: "COINS", PayAmount: 10, ExpiresAt: &expires})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if n, err := svc.ExpireDue(ctx, base); err != nil || n != 0 {
		t.Fatalf("nothing is due yet: n=%d err=%v", n, err)
	}

	later := base.Add(2 * time.Hour)
	svc.now = func() time.Time { return later }
	if _, err := svc.FillOrder(ctx, buyer, o.ID); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen for expired order, got %v", err)
	}
	if open, _ := svc.ListOpen(ctx, ListFilter{}); len(open) != 0 {
		t.Fatalf("expired orders must not be listed, got %+v", open)
	}

	n, err := svc.ExpireDue(ctx, later)
	if err != nil || n != 1 {
		t.Fatalf("expected one expired order, n=%d err=%v", n, err)
	}
	if it, locked := item(t, r, items[0]); it.State != domain.ItemFree || locked || it.OwnerID != seller {
		t.Fatalf("expired order must release its item: %+v", it)
	}
	got, _ := svc.GetOrder(ctx, o.ID)
	if got.Status != domain.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Kind != notification.KindListingExpired {
		t.Fatalf("expected expiry notification, got %+v", notifier.sent)
	}
	if n, _ := svc.ExpireDue(ctx, later); n != 0 {
		t.Fatalf("second sweep must be a no-op, got %d", n)
	}
}

func TestListOpenPagesPastExpiredOrders(t *testing.T) {
	svc, r, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 3)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	expires := base.Add(time.Minute)
	durable, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: items[:1], PayCurrency: "COINS", PayAmount: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range items[1:] {
		if _, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: []int64{id}, PayCurrency: "COINS", PayAmount: 10, ExpiresAt: &expires}); err != nil {
			t.Fatalf("create expiring: %v", err)
		}
	}

	svc.now = func() time.Time { return base.Add(time.Hour) }
	open, err := svc.ListOpen(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != durable.ID {
		t.Fatalf("expected the unexpired order on the first page, got %+v", open)
	}
}

func TestBuyerCannotOverspendAcrossOrders(t *testing.T) {
	svc, r, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	items := grant(t, r, seller, 2)
	fund(t, r, buyer, "COINS", 100)

	var orders []int64
	for _, id := range items {
		o, err := svc.CreateOrder(ctx, CreateOrderInput{SellerID: seller, ItemIDs: []int64{id}, PayCurrency: "COINS", PayAmount: 60})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		orders = append(orders, o.ID)
	}

	errs := make([]error, len(orders))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, id := range orders {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.FillOrder(ctx, buyer, id)
		}(i, id)
	}
	close(start)
	wg.Wait()

	filled := 0
	for _, err := range errs {
		switch {
		case err == nil:
			filled++
		case errors.Is(err, domain.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected fill error: %v", err)
		}
	}
	if filled != 1 {
		t.Fatalf("expected exactly one fill, got %d (%v)", filled, errs)
	}
	if got := balance(t, r, buyer, "COINS"); got != 40 {
		t.Fatalf("expected buyer balance 40, got %d", got)
	}
	owned := 0
	for _, id := range items {
		if it, _ := item(t, r, id); it.OwnerID == buyer {
			owned++
		}
	}
	if owned != 1 {
		t.Fatalf("expected buyer to own one item, got %d", owned)
	}
}
