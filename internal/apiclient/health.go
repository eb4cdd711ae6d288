package apiclient

import (
	"sync"
	"time"
)

// HealthEntry records the last probe outcome for one normalized base.
type HealthEntry struct {
	OK bool
	At time.Time
}

// HealthCache caches liveness per base with a freshness TTL. All mutation
// goes through the mutex; readers tolerate entries up to TTL old.
type HealthCache struct {
	mu      sync.Mutex
	entries map[string]HealthEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewHealthCache builds a cache with the given TTL. A zero ttl uses the
// default of one minute.
func NewHealthCache(ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &HealthCache{
		entries: make(map[string]HealthEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Set records the probe outcome for base at the current time.
func (c *HealthCache) Set(base string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[base] = HealthEntry{OK: ok, At: c.now()}
}

// Fresh returns the entry for base if it is younger than the TTL.
func (c *HealthCache) Fresh(base string) (HealthEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[base]
	if !ok || c.now().Sub(e.At) >= c.ttl {
		return HealthEntry{}, false
	}
	return e, true
}

// Lookup returns the raw entry regardless of age.
func (c *HealthCache) Lookup(base string) (HealthEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[base]
	return e, ok
}
