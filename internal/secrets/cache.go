// Package secrets fetches credentials from a backing source and caches them
// for a fixed TTL.
package secrets

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"reminder-service/internal/apperrors"
)

// Source resolves a secret by key.
type Source interface {
	Fetch(ctx context.Context, key string) (string, error)
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache wraps a Source. Expiry is checked on every Get.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	fetches singleflight.Group
}

func NewCache(source Source, ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		source:  source,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key, fetching it when absent or expired.
// Concurrent misses on one key share a single fetch, and the source is never
// called with the mutex held.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	v, err, _ := c.fetches.Do(key, func() (any, error) {
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		value, err := c.source.Fetch(ctx, key)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindUpstream, "secrets.get", map[string]any{"key": key})
	}
	return v.(string), nil
}

func (c *Cache) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// Invalidate drops key so the next Get refetches it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
