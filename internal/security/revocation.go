package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	revocationKeyPrefix = "blacklist:"
)

// RevocationStore remembers revoked token identifiers until their natural
// expiry. Contains errors are surfaced to the caller, which applies the
// configured FailurePolicy.
type RevocationStore interface {
	Add(ctx context.Context, key string, ttl time.Duration) error
	Contains(ctx context.Context, key string) (bool, error)
	Backend() string
}

type RedisRevocationStore struct {
	client redis.UniversalClient
}

func NewRedisRevocationStore(client redis.UniversalClient) *RedisRevocationStore {
	return &RedisRevocationStore{client: client}
}

func (s *RedisRevocationStore) Add(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, revocationKeyPrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return nil
}

func (s *RedisRevocationStore) Contains(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, revocationKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return n > 0, nil
}

func (s *RedisRevocationStore) Backend() string {
	return BackendRedis
}

// MemoryRevocationStore is the in-process fallback. Entries keep their
// expiry so lookups ignore stale ones and Sweep can drop them. State is
// local to the process.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return newMemoryRevocationStore(time.Now)
}

func newMemoryRevocationStore(now func() time.Time) *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

func (s *MemoryRevocationStore) Add(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[key]; !ok || expiresAt.After(current) {
		s.entries[key] = expiresAt
	}

	return nil
}

func (s *MemoryRevocationStore) Contains(_ context.Context, key string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[key]
	return ok && now.Before(expiresAt), nil
}

func (s *MemoryRevocationStore) Backend() string {
	return BackendMemory
}

// Sweep removes entries that expired at or before now and returns how many
// were dropped.
func (s *MemoryRevocationStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}

	return removed
}

func (s *MemoryRevocationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
