package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL-based in-memory cache for authenticated device
// contexts. Uses sync.Map for lock-free reads on the hot path.
//
// Stale-while-revalidate: when an entry expires, Get still returns the
// stale value immediately and signals that a background refresh is
// needed, so no telemetry submission ever blocks on DB + bcrypt after
// the first cold start.
type Cache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	device     *DeviceContext
	expiresAt  time.Time
	refreshing atomic.Bool // prevents duplicate background refreshes
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Device       *DeviceContext
	Hit          bool // a value was found (fresh or stale)
	NeedsRefresh bool // the entry is expired and should be refreshed in the background
}

// Get looks up the device key in the cache.
//
// Returns:
//   - Fresh hit:  {Device, Hit=true,  NeedsRefresh=false}
//   - Stale hit:  {Device, Hit=true,  NeedsRefresh=true}  (serve stale, refresh in background)
//   - Miss:       {nil,    Hit=false, NeedsRefresh=false}
//
// When NeedsRefresh is true the caller should refresh in a background
// goroutine. The refreshing flag is set atomically so only one
// goroutine refreshes per key.
func (c *Cache) Get(key string) GetResult {
	val, ok := c.store.Load(key)
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Device: entry.device, Hit: true}
	}

	// Stale hit — return the value but signal refresh needed.
	// CompareAndSwap ensures only one goroutine triggers the refresh.
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return GetResult{
		Device:       entry.device,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a device context in the cache with the configured TTL.
func (c *Cache) Set(key string, device *DeviceContext) {
	c.store.Store(key, &cacheEntry{
		device:    device,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}
