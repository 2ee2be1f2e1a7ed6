package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/minerush/economy/internal/domain"
)

func TestResolveProvisionsOncePerPrincipal(t *testing.T) {
	svc := NewService(NewMemoryRepository(), true)
	ctx := context.Background()

	ids := make([]int64, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.Resolve(ctx, "player-7")
			if err != nil {
				t.Errorf("resolve: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] || id == 0 {
			t.Fatalf("expected one stable id, got %v", ids)
		}
	}

	other, err := svc.Resolve(ctx, "player-8")
	if err != nil || other == ids[0] {
		t.Fatalf("distinct principals need distinct ids: %d %v", other, err)
	}
}

func TestResolveWithoutProvisioning(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, false)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	u, _ := repo.Ensure(ctx, "known")
	id, err := svc.Resolve(ctx, " known ")
	if err != nil || id != u.ID {
		t.Fatalf("expected %d, got %d (%v)", u.ID, id, err)
	}
	if _, err := svc.Resolve(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty principal, got %v", err)
	}
}
