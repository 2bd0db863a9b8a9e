package update

import (
	"sync"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
)

// cacheEntry is one cached candidate. A nil candidate is a valid cached
// answer: the source has no releases.
type cacheEntry struct {
	candidate *ReleaseCandidate
	storedAt  time.Time
	expiresAt time.Time
}

// releaseCache holds candidates by key for a fixed TTL. Expired entries are
// kept so they can be served when a refresh fails.
type releaseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]cacheEntry
}

func newReleaseCache(ttl time.Duration, clk clock.Clock) *releaseCache {
	return &releaseCache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]cacheEntry),
	}
}

// fresh returns the entry for key if it has not expired
func (c *releaseCache) fresh(key string) (*ReleaseCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return nil, false
	}
	return e.candidate, true
}

// last returns the entry for key regardless of age
func (c *releaseCache) last(key string) (*ReleaseCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return e.candidate, ok
}

func (c *releaseCache) store(key string, candidate *ReleaseCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.entries[key] = cacheEntry{
		candidate: candidate,
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// expire marks the entry stale without discarding it
func (c *releaseCache) expire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.expiresAt = c.clock.Now()
		c.entries[key] = e
	}
}
