package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu     sync.RWMutex
	users  map[string]User
	nextID int64
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Ensure(_ context.Context, externalID string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[externalID]; ok {
		return u, nil
	}
	r.nextID++
	u := User{ID: r.nextID, ExternalID: externalID, CreatedAt: time.Now().UTC()}
	r.users[externalID] = u
	return u, nil
}

func (r *memoryRepository) FindByExternalID(_ context.Context, externalID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[externalID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
