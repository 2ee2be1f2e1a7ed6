// Package cooldown rate-limits repeated player actions with a shared keyed
// store, so the limit holds across every instance of the service.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minerush/economy/internal/domain"
)

// Store starts a cooldown window for key unless one is already running.
// When it is, ok is false and remaining is the time left. Release ends a
// window early, for actions that failed after acquiring it.
type Store interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ok bool, remaining time.Duration, err error)
	Release(ctx context.Context, key string) error
}

// Key builds the cooldown key for one user action.
func Key(action string, userID int64) string {
	return fmt.Sprintf("%s:%d", action, userID)
}

const redisPrefix = "cooldown:v1:"

// RedisStore keeps cooldown windows as expiring Redis keys.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire sets the key with NX and the window as TTL; an existing key means
// the window is still open.
func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	k := redisPrefix + key
	ok, err := s.client.SetNX(ctx, k, 1, ttl).Result()
	if err != nil {
		return false, 0, domain.Unavailable(fmt.Errorf("cooldown set: %w", err))
	}
	if ok {
		return true, 0, nil
	}
	left, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, domain.Unavailable(fmt.Errorf("cooldown ttl: %w", err))
	}
	if left < 0 {
		left = 0
	}
	return false, left, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisPrefix+key).Err(); err != nil {
		return domain.Unavailable(fmt.Errorf("cooldown release: %w", err))
	}
	return nil
}

// MemoryStore is a single-process Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{until: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.until[key]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}
	s.until[key] = now.Add(ttl)
	return true, 0, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.until, key)
	return nil
}
