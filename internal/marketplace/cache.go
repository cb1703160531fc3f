package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/peerly/internal/models"
)

// Cache stores JSON-encodable values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// RedisCache keeps values in Redis under prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache returns a cache over client. Keys are "<prefix>:cache:<key>".
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string { return c.prefix + ":cache:" + k }

func (c *RedisCache) Get(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("marketplace: cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("marketplace: cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marketplace: cache encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("marketplace: cache set %s: %w", key, err)
	}
	return nil
}

// MemCache is an in-process Cache.
type MemCache struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	data    []byte
	expires time.Time
}

// NewMemCache returns an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{items: make(map[string]memItem), now: time.Now}
}

func (c *MemCache) Get(_ context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	it, ok := c.items[key]
	if ok && !c.now().Before(it.expires) {
		delete(c.items, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(it.data, v)
}

func (c *MemCache) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[key] = memItem{data: data, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// cached serves key from the cache, filling it with load on a miss. Cache
// failures are logged and fall through to load.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	var v T
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, key, &v)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		if hit && err == nil {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, v, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return v, nil
}

// Categories lists every category by name.
func (s *Service) Categories(ctx context.Context) ([]models.Category, error) {
	return cached(ctx, s, "categories", func() ([]models.Category, error) {
		var cats []models.Category
		if err := s.db.WithContext(ctx).Order("name").Find(&cats).Error; err != nil {
			return nil, fmt.Errorf("marketplace: categories: %w", err)
		}
		return cats, nil
	})
}

// Colleges lists active colleges by name.
func (s *Service) Colleges(ctx context.Context) ([]models.College, error) {
	return cached(ctx, s, "colleges", func() ([]models.College, error) {
		var cols []models.College
		if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&cols).Error; err != nil {
			return nil, fmt.Errorf("marketplace: colleges: %w", err)
		}
		return cols, nil
	})
}
