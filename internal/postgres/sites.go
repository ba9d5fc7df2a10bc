package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SiteRepo persists sites. Rows are created implicitly by the ingestion
// pipeline; concurrent first sight of the same domain converges via a
// conflict-tolerant insert plus read-back.
type SiteRepo struct {
	client *Client
}

// NewSiteRepo creates a new site repository
func NewSiteRepo(client *Client) *SiteRepo {
	return &SiteRepo{client: client}
}

// GetOrCreate returns the id for a domain, creating the row on first sight
func (r *SiteRepo) GetOrCreate(ctx context.Context, siteDomain string) (int64, error) {
	var id int64

	// Common case: the site already exists
	err := r.client.pool.QueryRow(ctx,
		`SELECT id FROM sites WHERE domain = $1`, siteDomain).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up site %q: %w", siteDomain, err)
	}

	// First sight: insert-or-ignore, then read back. A concurrent worker
	// may win the insert race; either way exactly one row survives.
	err = r.client.pool.QueryRow(ctx,
		`INSERT INTO sites (domain, last_activity_at)
		 VALUES ($1, now())
		 ON CONFLICT (domain) DO NOTHING
		 RETURNING id`, siteDomain).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to create site %q: %w", siteDomain, err)
	}

	// Lost the race: the row exists now
	err = r.client.pool.QueryRow(ctx,
		`SELECT id FROM sites WHERE domain = $1`, siteDomain).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read back site %q: %w", siteDomain, err)
	}
	return id, nil
}

// TouchActivity bumps the activity timestamp of the given sites
func (r *SiteRepo) TouchActivity(ctx context.Context, siteIDs []int64) error {
	if len(siteIDs) == 0 {
		return nil
	}

	_, err := r.client.pool.Exec(ctx,
		`UPDATE sites SET last_activity_at = now() WHERE id = ANY($1)`, siteIDs)
	if err != nil {
		return fmt.Errorf("failed to touch site activity: %w", err)
	}
	return nil
}
