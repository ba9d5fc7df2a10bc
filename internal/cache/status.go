package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/weblog-relay/internal/domain"
)

// StatusStore is the authoritative backing store for status code ids
type StatusStore interface {
	// LoadAll returns every known status code keyed by label
	LoadAll(ctx context.Context) (map[string]int, error)

	// Register inserts a status code if not already present
	Register(ctx context.Context, id int, label string) error
}

// StatusCache maps HTTP status text to small numeric ids. Read-mostly:
// fully preloaded with the well-known codes at startup, grown lazily
// for codes outside the seed, never evicted.
type StatusCache struct {
	store StatusStore

	mu      sync.RWMutex
	byLabel map[string]int
}

// NewStatusCache creates a status cache over the given store
func NewStatusCache(store StatusStore) *StatusCache {
	return &StatusCache{
		store:   store,
		byLabel: make(map[string]int),
	}
}

// Preload seeds the store with the well-known codes and loads the full
// table into the cache.
func (c *StatusCache) Preload(ctx context.Context, seed map[int]string) error {
	for id, label := range seed {
		if err := c.store.Register(ctx, id, label); err != nil {
			return err
		}
	}

	all, err := c.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.byLabel = all
	c.mu.Unlock()

	log.Info().
		Int("codes", len(all)).
		Msg("Status code cache preloaded")
	return nil
}

// Resolve maps a status text to its id. Absent or unusable codes map to
// the reserved "not applicable" id 0. Unknown in-range codes are
// registered lazily with the numeric value as id; registration races
// and failures are never surfaced to the caller.
func (c *StatusCache) Resolve(ctx context.Context, label string) int {
	label = strings.TrimSpace(label)
	if label == "" {
		return domain.StatusNA
	}

	c.mu.RLock()
	id, ok := c.byLabel[label]
	c.mu.RUnlock()
	if ok {
		return id
	}

	numeric, err := strconv.Atoi(label)
	if err != nil || numeric < 100 || numeric > 599 {
		return domain.StatusNA
	}

	// Lazy registration: numeric value doubles as the id. The insert is
	// a no-op when another worker registered the code first.
	if err := c.store.Register(ctx, numeric, label); err != nil {
		log.Warn().
			Err(err).
			Str("label", label).
			Msg("Failed to register status code")
	}

	c.mu.Lock()
	c.byLabel[label] = numeric
	c.mu.Unlock()

	return numeric
}
