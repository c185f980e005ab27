package dedupe

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache remembers feed ids already known to be ingested so repeated runs in
// one process skip them without asking the sink again.
type Cache struct {
	items *ttlcache.Cache[string, struct{}]
}

// NewCache creates a cache with the provided capacity and ttl. The least
// recently marked key is evicted once capacity is reached.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	items := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithCapacity[string, struct{}](uint64(capacity)),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	return &Cache{items: items}
}

// IsSeen returns true when the key has already been observed inside the ttl window.
// It does not mark the key as seen; use MarkSeen() to record a key.
func (c *Cache) IsSeen(key string) bool {
	return c.items.Has(key)
}

// MarkSeen records that a key has been processed.
func (c *Cache) MarkSeen(key string) {
	c.items.Set(key, struct{}{}, ttlcache.DefaultTTL)
}

// MarkAll records every key in keys.
func (c *Cache) MarkAll(keys map[string]struct{}) {
	for k := range keys {
		c.MarkSeen(k)
	}
}

// Len is the number of keys currently held, expired ones included until
// they are evicted.
func (c *Cache) Len() int {
	return c.items.Len()
}
