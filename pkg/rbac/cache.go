package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// DefaultCacheTTL bounds how stale a cached permission set may get
const DefaultCacheTTL = 300 * time.Second

// RedisKeyPrefix namespaces permission entries in a shared Redis
const RedisKeyPrefix = "hrcore:perms:"

// Cache memoizes permission sets per user id. Implementations must be safe
// for concurrent use. Get reports a miss on any backend failure.
type Cache interface {
	Get(ctx context.Context, userID int64) (PermissionSet, bool)
	Set(ctx context.Context, userID int64, perms PermissionSet, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
	Clear(ctx context.Context) error
}

// CacheStats holds cache statistics
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

type memoryEntry struct {
	perms     PermissionSet
	expiresAt time.Time
}

// MemoryCache is an in-process LRU with per-entry expiry
type MemoryCache struct {
	cache  *lru.LRU[int64, memoryEntry]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a cache holding at most maxEntries users.
// maxTTL caps the lifetime of any entry regardless of the ttl passed to Set.
func NewMemoryCache(maxEntries int, maxTTL time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if maxTTL <= 0 {
		maxTTL = DefaultCacheTTL
	}
	return &MemoryCache{
		cache: lru.NewLRU[int64, memoryEntry](maxEntries, nil, maxTTL),
	}
}

// Get implements Cache
func (c *MemoryCache) Get(ctx context.Context, userID int64) (PermissionSet, bool) {
	entry, ok := c.cache.Get(userID)
	if ok && time.Now().After(entry.expiresAt) {
		c.cache.Remove(userID)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.perms.Clone(), true
}

// Set implements Cache
func (c *MemoryCache) Set(ctx context.Context, userID int64, perms PermissionSet, ttl time.Duration) error {
	if perms == nil {
		return fmt.Errorf("permission set cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.cache.Add(userID, memoryEntry{perms: perms.Clone(), expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete implements Cache
func (c *MemoryCache) Delete(ctx context.Context, userID int64) error {
	c.cache.Remove(userID)
	return nil
}

// Clear implements Cache
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.cache.Purge()
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.Len(),
	}
}

// RedisCache shares permission sets between processes. Values are JSON arrays of codenames.
type RedisCache struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, log logrus.FieldLogger) *RedisCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisCache{
		client: client,
		prefix: RedisKeyPrefix,
		log:    log,
	}
}

// NewRedisClient parses a redis:// URL and checks connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func (c *RedisCache) key(userID int64) string {
	return c.prefix + strconv.FormatInt(userID, 10)
}

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, userID int64) (PermissionSet, bool) {
	key := c.key(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("permission cache read failed")
		return nil, false
	}

	var codenames []string
	if err := json.Unmarshal(data, &codenames); err != nil {
		// corrupt entry, drop it and refill from the store
		c.client.Del(ctx, key)
		c.log.WithError(err).WithField("user_id", userID).Warn("discarding corrupt permission cache entry")
		return nil, false
	}

	return NewPermissionSet(codenames...), true
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, userID int64, perms PermissionSet, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	data, err := json.Marshal(perms.Slice())
	if err != nil {
		return fmt.Errorf("failed to marshal permission set: %w", err)
	}

	if err := c.client.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete implements Cache
func (c *RedisCache) Delete(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Clear removes every key under the prefix
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for prefix %s: %w", c.prefix, err)
	}
	return nil
}
