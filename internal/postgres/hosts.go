package postgres

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// HostRepo persists hosts. The shared-mutation hotspot of the cluster:
// many workers race on first sight of the same hostname, so creation is
// a conflict-tolerant multi-row insert followed by a read-back, never a
// lock.
type HostRepo struct {
	client *Client
}

// NewHostRepo creates a new host repository
func NewHostRepo(client *Client) *HostRepo {
	return &HostRepo{client: client}
}

// ResolveMany maps hostnames to ids, creating missing rows. One call
// per ingested batch regardless of batch size.
func (r *HostRepo) ResolveMany(ctx context.Context, hostnames []string) (map[string]int64, error) {
	result := make(map[string]int64, len(hostnames))
	if len(hostnames) == 0 {
		return result, nil
	}

	lookup := func(names []string) error {
		rows, err := r.client.pool.Query(ctx,
			`SELECT hostname, id FROM hosts WHERE hostname = ANY($1)`, names)
		if err != nil {
			return fmt.Errorf("failed to select hosts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var hostname string
			var id int64
			if err := rows.Scan(&hostname, &id); err != nil {
				return fmt.Errorf("failed to scan host row: %w", err)
			}
			result[hostname] = id
		}
		return rows.Err()
	}

	if err := lookup(hostnames); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range hostnames {
		if _, ok := result[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		// Insert the misses in one statement. DO NOTHING keeps a
		// concurrent creation of the same hostname from failing the
		// batch; whichever worker wins, the read-back below sees the
		// surviving row.
		_, err := r.client.pool.Exec(ctx,
			`INSERT INTO hosts (hostname, first_seen_at, last_seen_at)
			 SELECT unnest($1::text[]), now(), now()
			 ON CONFLICT (hostname) DO NOTHING`, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to insert hosts: %w", err)
		}

		if err := lookup(missing); err != nil {
			return nil, err
		}

		for _, name := range missing {
			if _, ok := result[name]; !ok {
				return nil, fmt.Errorf("host %q missing after insert and read-back", name)
			}
		}
	}

	// Bump activity so Recent keeps returning the hosts actually seen
	// lately. Best-effort, and rate-bounded by the in-process cache TTL.
	ids := make([]int64, 0, len(result))
	for _, id := range result {
		ids = append(ids, id)
	}
	if _, err := r.client.pool.Exec(ctx,
		`UPDATE hosts SET last_seen_at = now() WHERE id = ANY($1)`, ids); err != nil {
		log.Warn().
			Err(err).
			Int("hosts", len(ids)).
			Msg("Failed to bump host activity")
	}

	return result, nil
}

// Recent returns the n most recently seen hostnames with their ids,
// used to prewarm the in-process cache at startup.
func (r *HostRepo) Recent(ctx context.Context, n int) (map[string]int64, error) {
	rows, err := r.client.pool.Query(ctx,
		`SELECT hostname, id FROM hosts ORDER BY last_seen_at DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to select recent hosts: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64, n)
	for rows.Next() {
		var hostname string
		var id int64
		if err := rows.Scan(&hostname, &id); err != nil {
			return nil, fmt.Errorf("failed to scan host row: %w", err)
		}
		result[hostname] = id
	}
	return result, rows.Err()
}
