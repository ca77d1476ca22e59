package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheGetPut(t *testing.T) {
	t.Parallel()
	c := New[string]("test", 10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for absent key")
	}
	c.Put("a", "alpha")
	got, ok := c.Get("a")
	if !ok || got != "alpha" {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestCacheEvictsLeastHitNotOldest(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	clock := base
	c := New[int]("test", 3, time.Hour)
	c.now = func() time.Time { return clock }

	// Oldest entry first, then touch it often so age cannot save the
	// newer but colder entries.
	c.Put("oldest", 1)
	clock = clock.Add(time.Second)
	c.Put("middle", 2)
	clock = clock.Add(time.Second)
	c.Put("newest", 3)

	for i := 0; i < 5; i++ {
		c.Get("oldest")
	}
	c.Get("middle")
	// "newest" never gets read: zero hits.

	clock = clock.Add(time.Second)
	c.Put("incoming", 4)

	if _, ok := c.Get("newest"); ok {
		t.Fatalf("expected the least-hit entry to be evicted")
	}
	if _, ok := c.Get("oldest"); !ok {
		t.Fatalf("most-hit entry must survive even though it is oldest")
	}
	if _, ok := c.Get("incoming"); !ok {
		t.Fatalf("incoming entry must be stored")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("evictions = %d, want 1", got)
	}
}

func TestCacheEvictionTieBreaksOldest(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	clock := base
	c := New[int]("test", 2, time.Hour)
	c.now = func() time.Time { return clock }

	c.Put("first", 1)
	clock = clock.Add(time.Second)
	c.Put("second", 2)
	clock = clock.Add(time.Second)
	c.Put("third", 3)

	if _, ok := c.Get("first"); ok {
		t.Fatalf("expected oldest zero-hit entry to break the tie")
	}
	if _, ok := c.Get("second"); !ok {
		t.Fatalf("newer zero-hit entry should survive the tie")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	clock := base
	c := New[string]("test", 10, 30*time.Minute)
	c.now = func() time.Time { return clock }

	c.Put("page", "content")
	clock = clock.Add(29 * time.Minute)
	if _, ok := c.Get("page"); !ok {
		t.Fatalf("entry expired before its TTL")
	}
	clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get("page"); ok {
		t.Fatalf("entry should have expired")
	}
	if got := c.Stats().Misses; got != 1 {
		t.Fatalf("expired read should count as a miss, got %d", got)
	}
}

func TestCacheOverwriteKeepsHitsAndBumpsVersion(t *testing.T) {
	t.Parallel()
	c := New[string]("test", 10, time.Hour)
	c.Put("k", "v1")
	c.Get("k")
	c.Get("k")
	c.Put("k", "v2")

	snap := c.Export()
	if len(snap.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(snap.Entries))
	}
	e := snap.Entries[0]
	if e.Version != 2 {
		t.Fatalf("version = %d, want 2", e.Version)
	}
	if e.Hits != 2 {
		t.Fatalf("hits = %d, want 2 preserved across overwrite", e.Hits)
	}
	if e.Value != "v2" {
		t.Fatalf("value = %q, want v2", e.Value)
	}
}

func TestCacheExportImportDropsExpired(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	clock := base
	src := New[string]("test", 10, time.Hour)
	src.now = func() time.Time { return clock }

	src.Put("fresh", "a")
	src.Put("stale", "b")
	snap := src.Export()

	// Age the "stale" entry artificially, as if it expired while persisted.
	for i := range snap.Entries {
		if snap.Entries[i].Key == "stale" {
			snap.Entries[i].ExpiresAt = base.Add(-time.Minute)
		}
	}

	dst := New[string]("test", 10, time.Hour)
	dst.now = func() time.Time { return clock }
	if restored := dst.Import(snap); restored != 1 {
		t.Fatalf("restored = %d, want 1", restored)
	}
	if _, ok := dst.Get("fresh"); !ok {
		t.Fatalf("fresh entry must survive import")
	}
	if _, ok := dst.Get("stale"); ok {
		t.Fatalf("expired entry must be dropped on import")
	}
}

func TestCacheCapacityFloor(t *testing.T) {
	t.Parallel()
	c := New[int]("test", 0, time.Minute)
	c.Put("a", 1)
	if got := c.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := New[int]("test", 64, time.Minute)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		w := w
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w*200+i)%32)
				c.Put(key, i)
				c.Get(key)
			}
		}()
	}
	for w := 0; w < 4; w++ {
		<-done
	}
	if c.Len() > 64 {
		t.Fatalf("len = %d exceeds capacity", c.Len())
	}
}
