package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HostStore is the authoritative backing store for hostname ids
type HostStore interface {
	// ResolveMany maps hostnames to ids, creating missing rows
	// conflict-tolerantly. One round trip per call.
	ResolveMany(ctx context.Context, hostnames []string) (map[string]int64, error)

	// Recent returns the n most recently seen hostnames with ids
	Recent(ctx context.Context, n int) (map[string]int64, error)
}

// HostCache is a worker-local map over the authoritative host store.
// Entries expire in bulk on a fixed TTL to bound memory and admit
// external renames; cross-worker staleness is expected and harmless
// because the store stays authoritative.
type HostCache struct {
	store HostStore
	ttl   time.Duration

	mu        sync.Mutex
	entries   map[string]int64
	expiresAt time.Time
}

// NewHostCache creates a host cache over the given store
func NewHostCache(store HostStore, ttl time.Duration) *HostCache {
	return &HostCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]int64),
	}
}

// Prewarm loads the n most recently active hostnames so a process
// restart does not stampede the store with single-name misses.
func (c *HostCache) Prewarm(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	recent, err := c.store.Recent(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to prewarm host cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiresAt.IsZero() {
		c.expiresAt = time.Now().Add(c.ttl)
	}
	for hostname, id := range recent {
		c.entries[hostname] = id
	}

	log.Info().
		Int("hosts", len(recent)).
		Msg("Host cache prewarmed")
	return nil
}

// ResolveMany maps hostnames to ids. Cache hits are served locally;
// all misses of the call go to the store in a single round trip.
func (c *HostCache) ResolveMany(ctx context.Context, hostnames []string) (map[string]int64, error) {
	result := make(map[string]int64, len(hostnames))
	if len(hostnames) == 0 {
		return result, nil
	}

	now := time.Now()

	c.mu.Lock()
	if c.expiresAt.IsZero() {
		c.expiresAt = now.Add(c.ttl)
	} else if now.After(c.expiresAt) {
		// Bulk expiry: drop everything at once
		c.entries = make(map[string]int64)
		c.expiresAt = now.Add(c.ttl)
		log.Debug().Msg("Host cache expired")
	}

	var misses []string
	for _, name := range hostnames {
		if id, ok := c.entries[name]; ok {
			result[name] = id
		} else {
			misses = append(misses, name)
		}
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return result, nil
	}

	resolved, err := c.store.ResolveMany(ctx, misses)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for hostname, id := range resolved {
		c.entries[hostname] = id
		result[hostname] = id
	}
	c.mu.Unlock()

	return result, nil
}

// Len returns the number of cached entries
func (c *HostCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
