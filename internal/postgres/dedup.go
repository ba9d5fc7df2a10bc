package postgres

import (
	"context"
	"fmt"
)

// DedupRepo is the receive-side ledger of forwarded batches. The entry
// is written before the records it names are accepted, so a repeated
// delivery of the same (token, origin) is recognized and skipped.
type DedupRepo struct {
	client *Client
}

// NewDedupRepo creates a new dedup ledger repository
func NewDedupRepo(client *Client) *DedupRepo {
	return &DedupRepo{client: client}
}

// Record writes a (token, origin) entry. Returns seen=true if the pair
// was already in the ledger, in which case nothing was written.
func (r *DedupRepo) Record(ctx context.Context, token, origin string, recordCount int) (bool, error) {
	tag, err := r.client.pool.Exec(ctx,
		`INSERT INTO batch_dedup (token, origin, received_at, record_count)
		 VALUES ($1, $2, now(), $3)
		 ON CONFLICT (token, origin) DO NOTHING`, token, origin, recordCount)
	if err != nil {
		return false, fmt.Errorf("failed to record dedup entry: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}
