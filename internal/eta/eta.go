package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ridehail-demo/internal/geo"
	"github.com/example/ridehail-demo/internal/models"
)

// Client is the interface the backend uses to estimate waypoint ETAs.
type Client interface {
	EstimateSeconds(from, to models.LatLng) (float64, error)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.LatLng) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.LatLng) string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(a, b models.LatLng) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.LatLng, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// EstimateSeconds is the naive fallback: distance / speed_mps.
// In prod use a routing engine.
func EstimateSeconds(from, to models.LatLng, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return geo.Haversine(from, to) / speedMps
}
