package storage

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grant-reconciler/internal/errors"
)

// InFlightStore guards logical actions so that only one submission per key
// runs at a time. Acquire returns false when the key is already held.
type InFlightStore interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// MemoryInFlightStore is a process-local InFlightStore
type MemoryInFlightStore struct {
	mu      sync.Mutex
	entries map[string]inFlightEntry
	now     func() time.Time
}

type inFlightEntry struct {
	token   string
	expires time.Time
}

// NewMemoryInFlightStore creates an empty process-local store
func NewMemoryInFlightStore() *MemoryInFlightStore {
	return &MemoryInFlightStore{
		entries: make(map[string]inFlightEntry),
		now:     time.Now,
	}
}

// Acquire takes key for token unless another live holder has it
func (s *MemoryInFlightStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	s.entries[key] = inFlightEntry{token: token, expires: now.Add(ttl)}
	return true, nil
}

// Release drops key if token still holds it
func (s *MemoryInFlightStore) Release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.token == token {
		delete(s.entries, key)
	}
	return nil
}

// releaseScript deletes the key only when it still carries the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisInFlightStore shares the in-flight guard between server instances
type RedisInFlightStore struct {
	redis  *RedisCache
	prefix string
}

// NewRedisInFlightStore creates a Redis-backed store
func NewRedisInFlightStore(cache *RedisCache) *RedisInFlightStore {
	return &RedisInFlightStore{redis: cache, prefix: "inflight:"}
}

// Acquire takes key with SET NX and a TTL so a crashed holder cannot wedge it
func (s *RedisInFlightStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.prefix+key, token, ttl)
	if err != nil {
		return false, errors.NewCacheError("acquire in-flight key", err)
	}
	return ok, nil
}

// Release drops key if token still holds it
func (s *RedisInFlightStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.redis.Client(), []string{s.prefix + key}, token).Err(); err != nil && err != redis.Nil {
		return errors.NewCacheError("release in-flight key", err)
	}
	return nil
}
