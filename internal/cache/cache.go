// Package cache implements the engine's reuse layer: one generic
// TTL-bounded, capacity-bounded cache with least-frequently-used eviction,
// and a Manager that specializes it for pages, extraction results, domain
// navigation knowledge and query memoization.
package cache

import (
	"sync"
	"time"
)

// Stats is a point-in-time counter snapshot for one cache.
type Stats struct {
	Name      string  `json:"name"`
	Entries   int     `json:"entries"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Entry is the exported form of one cache slot, used by Export/Import.
type Entry[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int       `json:"version"`
	Hits      uint64    `json:"hits"`
}

// Snapshot is a serializable dump of one cache.
type Snapshot[V any] struct {
	Name     string        `json:"name"`
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
	Entries  []Entry[V]    `json:"entries"`
}

type slot[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
	version   int
	hits      uint64
}

// Cache is a TTL+capacity cache. When full it evicts the entry with the
// lowest hit count; ties go to the oldest entry. Recency never factors into
// eviction. Safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	name     string
	capacity int
	ttl      time.Duration
	slots    map[string]*slot[V]

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

// New builds a cache holding at most capacity entries, each live for ttl
// after its last write.
func New[V any](name string, capacity int, ttl time.Duration) *Cache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[V]{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		slots:    make(map[string]*slot[V], capacity),
		now:      time.Now,
	}
}

// Get returns the live value for key. Expired entries are removed and
// reported as misses. A hit bumps the entry's hit count.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	s, ok := c.slots[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().After(s.expiresAt) {
		delete(c.slots, key)
		c.misses++
		return zero, false
	}
	s.hits++
	c.hits++
	return s.value, true
}

// Put stores value under key, refreshing the TTL. Overwriting a live entry
// bumps its version and keeps its hit count so popular entries keep their
// eviction protection across refreshes.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if s, ok := c.slots[key]; ok {
		s.value = value
		s.createdAt = now
		s.expiresAt = now.Add(c.ttl)
		s.version++
		return
	}

	if len(c.slots) >= c.capacity {
		c.sweepExpiredLocked(now)
	}
	if len(c.slots) >= c.capacity {
		c.evictLeastHitLocked()
	}
	c.slots[key] = &slot[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
		version:   1,
	}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, key)
}

// Len reports the number of stored entries, expired ones included until
// they are touched or swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Clear drops every entry but keeps the counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[string]*slot[V], c.capacity)
}

// Stats snapshots the cache's counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Name:      c.name,
		Entries:   len(c.slots),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   rate,
	}
}

// Export dumps all live entries for persistence.
func (c *Cache[V]) Export() Snapshot[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	snap := Snapshot[V]{Name: c.name, Capacity: c.capacity, TTL: c.ttl}
	for key, s := range c.slots {
		if now.After(s.expiresAt) {
			continue
		}
		snap.Entries = append(snap.Entries, Entry[V]{
			Key:       key,
			Value:     s.value,
			CreatedAt: s.createdAt,
			ExpiresAt: s.expiresAt,
			Version:   s.version,
			Hits:      s.hits,
		})
	}
	return snap
}

// Import restores entries from a snapshot, silently dropping any that have
// already expired. It returns the number of entries restored.
func (c *Cache[V]) Import(snap Snapshot[V]) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	restored := 0
	for _, e := range snap.Entries {
		if now.After(e.ExpiresAt) {
			continue
		}
		if _, exists := c.slots[e.Key]; !exists && len(c.slots) >= c.capacity {
			c.sweepExpiredLocked(now)
			if len(c.slots) >= c.capacity {
				c.evictLeastHitLocked()
			}
		}
		c.slots[e.Key] = &slot[V]{
			value:     e.Value,
			createdAt: e.CreatedAt,
			expiresAt: e.ExpiresAt,
			version:   e.Version,
			hits:      e.Hits,
		}
		restored++
	}
	return restored
}

func (c *Cache[V]) sweepExpiredLocked(now time.Time) {
	for key, s := range c.slots {
		if now.After(s.expiresAt) {
			delete(c.slots, key)
		}
	}
}

// evictLeastHitLocked removes the entry with the fewest hits. Among equals
// the oldest goes first so eviction stays deterministic.
func (c *Cache[V]) evictLeastHitLocked() {
	var victim string
	var victimSlot *slot[V]
	for key, s := range c.slots {
		if victimSlot == nil ||
			s.hits < victimSlot.hits ||
			(s.hits == victimSlot.hits && s.createdAt.Before(victimSlot.createdAt)) {
			victim = key
			victimSlot = s
		}
	}
	if victimSlot != nil {
		delete(c.slots, victim)
		c.evictions++
	}
}
