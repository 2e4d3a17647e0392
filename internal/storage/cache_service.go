package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyMetrics is for repository metrics
	CacheKeyMetrics CacheKeyType = "metrics"
	// CacheKeyScore is for computed score results
	CacheKeyScore CacheKeyType = "score"
)

// CacheService provides JSON caching with a default TTL
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, param := range params {
		parts = append(parts, strings.ToLower(param))
	}
	return strings.Join(parts, ":")
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it. A miss is (false, nil).
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// TTL returns the configured TTL for this cache service
func (c *CacheService) TTL() time.Duration {
	return c.ttl
}

// MetricsCache stores repository metrics so repeated scoring within the TTL
// does not spend the code-host rate limit. Cache errors are logged and
// treated as misses.
type MetricsCache struct {
	cache  *CacheService
	logger *logging.Logger
}

// NewMetricsCache creates a metrics cache on top of a cache service
func NewMetricsCache(cache *CacheService, logger *logging.Logger) *MetricsCache {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &MetricsCache{cache: cache, logger: logger}
}

// GetMetrics returns cached metrics for owner/repo
func (m *MetricsCache) GetMetrics(ctx context.Context, repo string) (*types.RepoMetrics, bool) {
	var metrics types.RepoMetrics
	found, err := m.cache.Get(ctx, m.cache.GenerateCacheKey(CacheKeyMetrics, repo), &metrics)
	if err != nil {
		m.logger.WithError(err).WithField("repo", repo).Warn("metrics cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &metrics, true
}

// SetMetrics caches metrics for owner/repo
func (m *MetricsCache) SetMetrics(ctx context.Context, repo string, metrics *types.RepoMetrics) {
	if err := m.cache.Set(ctx, m.cache.GenerateCacheKey(CacheKeyMetrics, repo), metrics); err != nil {
		m.logger.WithError(err).WithField("repo", repo).Warn("metrics cache write failed")
	}
}
