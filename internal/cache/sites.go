package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SiteStore is the authoritative backing store for site ids
type SiteStore interface {
	// GetOrCreate returns the id for a domain, creating on first sight
	GetOrCreate(ctx context.Context, siteDomain string) (int64, error)

	// TouchActivity bumps the activity timestamp of the given sites
	TouchActivity(ctx context.Context, siteIDs []int64) error
}

// SiteResolver maps domains to site ids with a worker-local map in
// front of the store. Sites are append-only reference data, so entries
// never expire.
type SiteResolver struct {
	store SiteStore

	mu  sync.RWMutex
	ids map[string]int64
}

// NewSiteResolver creates a site resolver over the given store
func NewSiteResolver(store SiteStore) *SiteResolver {
	return &SiteResolver{
		store: store,
		ids:   make(map[string]int64),
	}
}

// Resolve returns the site id for a domain, creating the row on first sight
func (r *SiteResolver) Resolve(ctx context.Context, siteDomain string) (int64, error) {
	r.mu.RLock()
	id, ok := r.ids[siteDomain]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.store.GetOrCreate(ctx, siteDomain)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.ids[siteDomain] = id
	r.mu.Unlock()

	return id, nil
}

// TouchAsync bumps the activity timestamp of the given sites in the
// background. Best-effort: failures are logged and otherwise ignored.
func (r *SiteResolver) TouchAsync(siteIDs []int64) {
	if len(siteIDs) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := r.store.TouchActivity(ctx, siteIDs); err != nil {
			log.Warn().
				Err(err).
				Int("sites", len(siteIDs)).
				Msg("Failed to touch site activity")
		}
	}()
}
