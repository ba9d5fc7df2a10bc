package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/weblog-relay/internal/domain"
)

// BatchRepo persists forwarding batches, one row per attempt. Written
// only by whichever worker currently holds the scheduler role.
type BatchRepo struct {
	client *Client
}

// NewBatchRepo creates a new forwarding batch repository
func NewBatchRepo(client *Client) *BatchRepo {
	return &BatchRepo{client: client}
}

// Create records a new pending attempt and returns its id
func (r *BatchRepo) Create(ctx context.Context, token string, recordCount int) (int64, error) {
	var id int64
	err := r.client.pool.QueryRow(ctx,
		`INSERT INTO forwarding_batches (token, record_count, status, retry_count, created_at, updated_at)
		 VALUES ($1, $2, 'pending', 0, now(), now())
		 RETURNING id`, token, recordCount).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, domain.ErrTokenTaken
		}
		return 0, fmt.Errorf("failed to create forwarding batch: %w", err)
	}
	return id, nil
}

// MarkInProgress flips a pending batch to in_progress
func (r *BatchRepo) MarkInProgress(ctx context.Context, batchID int64) error {
	_, err := r.client.pool.Exec(ctx,
		`UPDATE forwarding_batches SET status = 'in_progress', updated_at = now()
		 WHERE id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("failed to mark batch %d in progress: %w", batchID, err)
	}
	return nil
}

// MarkCompleted records a successful delivery
func (r *BatchRepo) MarkCompleted(ctx context.Context, batchID int64) error {
	_, err := r.client.pool.Exec(ctx,
		`UPDATE forwarding_batches SET status = 'completed', updated_at = now()
		 WHERE id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("failed to mark batch %d completed: %w", batchID, err)
	}
	return nil
}

// MarkAbandoned fails every batch stuck in a non-terminal status whose
// last update is older than before. Such batches belong to attempts
// that crashed or lost their bookkeeping mid-flight; their records are
// released separately via ReleaseOrphaned.
func (r *BatchRepo) MarkAbandoned(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.client.pool.Exec(ctx,
		`UPDATE forwarding_batches
		 SET status = 'failed', last_error = 'abandoned without a terminal status', updated_at = now()
		 WHERE status IN ('pending', 'in_progress') AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned batches: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkFailed records a failed delivery with its error text
func (r *BatchRepo) MarkFailed(ctx context.Context, batchID int64, errText string) error {
	_, err := r.client.pool.Exec(ctx,
		`UPDATE forwarding_batches
		 SET status = 'failed', last_error = $2, retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1`, batchID, errText)
	if err != nil {
		return fmt.Errorf("failed to mark batch %d failed: %w", batchID, err)
	}
	return nil
}
