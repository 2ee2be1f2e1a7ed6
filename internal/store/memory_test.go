package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/ledger"
)

func TestMemoryRunnerRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRunner()

	boom := errors.New("boom")
	err := r.Do(ctx, func(tx Tx) error {
		if _, err := tx.Ledger().Credit(ctx, ledger.Posting{UserID: 1, Currency: "COINS", Amount: 50, RefType: ledger.RefSeed}); err != nil {
			return err
		}
		if _, err := tx.Vault().Grant(ctx, 1, "pickaxe", 1, nil); err != nil {
			return err
		}
		if _, err := tx.Orders().Create(ctx, domain.Order{SellerID: 1, PayCurrency: "COINS", PayAmount: 10}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to be returned unchanged, got %v", err)
	}

	_ = r.Do(ctx, func(tx Tx) error {
		bal, _ := tx.Ledger().Balance(ctx, 1, "COINS")
		if bal != 0 {
			t.Fatalf("expected rolled back balance 0, got %d", bal)
		}
		items, _ := tx.Vault().Inventory(ctx, 1)
		if len(items) != 0 {
			t.Fatalf("expected no items after rollback, got %d", len(items))
		}
		if _, err := tx.Orders().Get(ctx, 1); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected order to be rolled back, got %v", err)
		}
		return nil
	})
}

func TestMemoryRunnerSerializesConcurrentWork(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRunner()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Do(ctx, func(tx Tx) error {
				_, err := tx.Ledger().Credit(ctx, ledger.Posting{UserID: 7, Currency: "GEMS", Amount: 2, RefType: ledger.RefSeed})
				return err
			})
			if err != nil {
				t.Errorf("credit: %v", err)
			}
		}()
	}
	wg.Wait()

	_ = r.Do(ctx, func(tx Tx) error {
		bal, _ := tx.Ledger().Balance(ctx, 7, "GEMS")
		if bal != 2*workers {
			t.Fatalf("expected balance %d, got %d", 2*workers, bal)
		}
		return nil
	})
}

func TestMemoryRunnerHonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewMemoryRunner().Do(ctx, func(Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled context to short-circuit, err=%v called=%v", err, called)
	}
}

func TestMemoryOrdersCloseOnlyOnce(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRunner()
	now := time.Now().UTC()

	_ = r.Do(ctx, func(tx Tx) error {
		o, _ := tx.Orders().Create(ctx, domain.Order{SellerID: 1, ItemIDs: []int64{3}, PayCurrency: "COINS", PayAmount: 10})
		if err := tx.Orders().Close(ctx, o.ID, domain.StatusFilled, 2, now); err != nil {
			t.Fatalf("first close: %v", err)
		}
		if err := tx.Orders().Close(ctx, o.ID, domain.StatusCanceled, 0, now); !errors.Is(err, domain.ErrNotOpen) {
			t.Fatalf("expected ErrNotOpen on second close, got %v", err)
		}
		if err := tx.Orders().Close(ctx, 99, domain.StatusCanceled, 0, now); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
		got, _ := tx.Orders().Get(ctx, o.ID)
		if got.BuyerID != 2 || got.ClosedAt == nil {
			t.Fatalf("unexpected closed order: %+v", got)
		}
		return nil
	})
}

func TestMemoryListingsPageAndExpire(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRunner()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	_ = r.Do(ctx, func(tx Tx) error {
		for i := 0; i < 5; i++ {
			o := domain.Order{SellerID: int64(1 + i%2), PayCurrency: "COINS", PayAmount: 10}
			if i == 0 {
				o.ExpiresAt = &past
			}
			if _, err := tx.Orders().Create(ctx, o); err != nil {
				return err
			}
		}
		if _, err := tx.Offers().Create(ctx, domain.Offer{MakerID: 1, TakerID: 2, ExpiresAt: &past}); err != nil {
			return err
		}
		return nil
	})

	_ = r.Do(ctx, func(tx Tx) error {
		open, _ := tx.Orders().ListOpen(ctx, OrderFilter{SellerID: 1, Now: now})
		if len(open) != 2 || open[0].ID != 5 || open[1].ID != 3 {
			t.Fatalf("expected unexpired seller 1 orders newest first, got %+v", open)
		}
		paged, _ := tx.Orders().ListOpen(ctx, OrderFilter{Limit: 2, Offset: 2, Now: now})
		if len(paged) != 2 || paged[0].ID != 3 || paged[1].ID != 2 {
			t.Fatalf("unexpected page: %+v", paged)
		}
		before, _ := tx.Orders().ListOpen(ctx, OrderFilter{Now: past.Add(-time.Second)})
		if len(before) != 5 {
			t.Fatalf("expected every order open before the expiry, got %d", len(before))
		}
		expired, _ := tx.Orders().ListExpired(ctx, now, 0)
		if len(expired) != 1 || expired[0] != 1 {
			t.Fatalf("expected order 1 expired, got %v", expired)
		}
		offers, _ := tx.Offers().ListForUser(ctx, 2, 0)
		if len(offers) != 1 {
			t.Fatalf("expected offer addressed to taker 2, got %d", len(offers))
		}
		ids, _ := tx.Offers().ListExpired(ctx, now, 0)
		if len(ids) != 1 {
			t.Fatalf("expected one expired offer, got %v", ids)
		}
		return nil
	})
}

func TestMemoryPublicOffers(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRunner()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	_ = r.Do(ctx, func(tx Tx) error {
		offers := []domain.Offer{
			{MakerID: 1, WantCurrency: "COINS", WantAmount: 5},
			{MakerID: 1, TakerID: 2},
			{MakerID: 3, WantCurrency: "GEMS", WantAmount: 1},
			{MakerID: 1, ExpiresAt: &past},
			{MakerID: 3},
		}
		for _, o := range offers {
			if _, err := tx.Offers().Create(ctx, o); err != nil {
				return err
			}
		}
		return tx.Offers().Close(ctx, 5, domain.StatusCanceled, 0, now)
	})

	_ = r.Do(ctx, func(tx Tx) error {
		all, _ := tx.Offers().ListOpenPublic(ctx, OfferFilter{Now: now})
		if len(all) != 2 || all[0].ID != 3 || all[1].ID != 1 {
			t.Fatalf("expected open public offers 3 and 1, got %+v", all)
		}
		gems, _ := tx.Offers().ListOpenPublic(ctx, OfferFilter{Currency: "GEMS", Now: now})
		if len(gems) != 1 || gems[0].ID != 3 {
			t.Fatalf("unexpected currency filter result: %+v", gems)
		}
		mine, _ := tx.Offers().ListOpenPublic(ctx, OfferFilter{MakerID: 1, Now: past.Add(-time.Second)})
		if len(mine) != 2 || mine[0].ID != 4 || mine[1].ID != 1 {
			t.Fatalf("expected maker 1 offers before expiry, got %+v", mine)
		}
		paged, _ := tx.Offers().ListOpenPublic(ctx, OfferFilter{Limit: 1, Offset: 1, Now: now})
		if len(paged) != 1 || paged[0].ID != 1 {
			t.Fatalf("unexpected page: %+v", paged)
		}
		return nil
	})
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRunner()
	if err := r.Do(ctx, func(tx Tx) error {
		_, err := tx.Ledger().Credit(ctx, ledger.Posting{UserID: 9, Currency: "COINS", Amount: 100, RefType: ledger.RefSeed})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = r.Do(ctx, func(tx Tx) error {
				_, err := tx.Ledger().Debit(ctx, ledger.Posting{UserID: 9, Currency: "COINS", Amount: 60, RefType: ledger.RefMarketOrder})
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one debit to succeed, got %d", ok)
	}

	_ = r.Do(ctx, func(tx Tx) error {
		bal, _ := tx.Ledger().Balance(ctx, 9, "COINS")
		if bal != 40 {
			t.Fatalf("expected balance 40, got %d", bal)
		}
		entries, _ := tx.Ledger().Entries(ctx, 9, "COINS", 0)
		var sum int64
		for _, e := range entries {
			sum += e.Amount
		}
		if sum != bal || len(entries) != 2 {
			t.Fatalf("entries must sum to the balance: sum=%d bal=%d entries=%d", sum, bal, len(entries))
		}
		return nil
	})
}
