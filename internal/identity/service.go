package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minerush/economy/internal/domain"
)

const maxPrincipalLen = 128

// Resolver maps an authenticated external principal to an internal user id.
type Resolver interface {
	Resolve(ctx context.Context, principal string) (int64, error)
}

// Service resolves principals against the repository. With autoProvision
// unknown principals get a user on first request; otherwise they are
// rejected with ErrUserNotFound.
type Service struct {
	repo          Repository
	autoProvision bool
}

// NewService creates a new identity service.
func NewService(repo Repository, autoProvision bool) *Service {
	return &Service{repo: repo, autoProvision: autoProvision}
}

// Resolve implements Resolver.
func (s *Service) Resolve(ctx context.Context, principal string) (int64, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" || len(principal) > maxPrincipalLen {
		return 0, fmt.Errorf("%w: principal", domain.ErrInvalidInput)
	}
	var (
		u   User
		err error
	)
	if s.autoProvision {
		u, err = s.repo.Ensure(ctx, principal)
	} else {
		u, err = s.repo.FindByExternalID(ctx, principal)
	}
	if errors.Is(err, ErrUserNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, domain.Unavailable(fmt.Errorf("resolve principal: %w", err))
	}
	return u.ID, nil
}
