package client

import (
	"context"
	"sync"
	"time"

	"licensekit/internal/license"
)

const (
	cacheKeyPrefix       = "licensekit:entitlement:"
	defaultCacheMaxSize  = 128
	cacheCleanupInterval = 5 * time.Minute
)

// CachedEntitlement is the last authoritative answer for a license
type CachedEntitlement struct {
	Status    string     `json:"status"`
	CheckedAt time.Time  `json:"checked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CacheStore holds entitlement answers for a bounded time.
// Get reports false when the key is absent or its TTL has passed.
type CacheStore interface {
	Get(ctx context.Context, key string) (*CachedEntitlement, bool, error)
	Set(ctx context.Context, key string, entry CachedEntitlement, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CacheKey builds the cache key of a license and product. The raw license key
// never appears in the cache.
func CacheKey(licenseKey, productSlug string) string {
	return cacheKeyPrefix + license.KeyFingerprint(licenseKey) + ":" + productSlug
}

type memoryEntry struct {
	value     CachedEntitlement
	cachedAt  time.Time
	expiresAt time.Time
	hitCount  int
}

// MemoryCache is an in-process CacheStore with TTL and size-bounded eviction
type MemoryCache struct {
	entries   map[string]memoryEntry
	mutex     sync.RWMutex
	maxSize   int
	hitCount  int64
	missCount int64
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewMemoryCache creates a cache holding at most maxSize entries
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = defaultCacheMaxSize
	}
	cache := &MemoryCache{
		entries:  make(map[string]memoryEntry),
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get retrieves an entry from cache
func (c *MemoryCache) Get(_ context.Context, key string) (*CachedEntitlement, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists || c.now().After(entry.expiresAt) {
		c.missCount++
		return nil, false, nil
	}

	entry.hitCount++
	c.entries[key] = entry
	c.hitCount++

	value := entry.value
	return &value, true, nil
}

// Set stores an entry for ttl
func (c *MemoryCache) Set(_ context.Context, key string, entry CachedEntitlement, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = memoryEntry{
		value:     entry,
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Delete removes an entry from cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	totalRequests := c.hitCount + c.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(c.hitCount) / float64(totalRequests)
	}

	return map[string]interface{}{
		"entries":    len(c.entries),
		"max_size":   c.maxSize,
		"hit_count":  c.hitCount,
		"miss_count": c.missCount,
		"hit_ratio":  hitRatio,
	}
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stop stops the cleanup goroutine
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MemoryCache) purgeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
