package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/weblog-relay/internal/domain"
)

// RecordRepo persists log records. Inserts are bulk and atomic; the
// only mutations after insert are the forwarding tag and the archival
// marker, both owned by the upstream sync client.
type RecordRepo struct {
	client *Client
}

// NewRecordRepo creates a new log record repository
func NewRecordRepo(client *Client) *RecordRepo {
	return &RecordRepo{client: client}
}

// InsertBatch persists a whole batch in one multi-row insert. The
// statement either lands completely or not at all, so readers never see
// a partially ingested batch.
func (r *RecordRepo) InsertBatch(ctx context.Context, records []domain.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 7
	var sb strings.Builder
	sb.WriteString(`INSERT INTO log_records
		(site_id, kind, event_at, host_id, status_id, remote_addr, payload)
		VALUES `)

	args := make([]interface{}, 0, len(records)*cols)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args,
			rec.SiteID, rec.Kind, rec.EventAt, rec.HostID,
			rec.StatusID, rec.RemoteAddr, rec.Payload)
	}

	if _, err := r.client.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk insert %d records: %w", len(records), err)
	}
	return nil
}

// SelectUnarchived returns up to limit records not yet delivered
// upstream and not owned by a forwarding attempt, oldest-created first.
func (r *RecordRepo) SelectUnarchived(ctx context.Context, limit int) ([]domain.LogRecord, error) {
	rows, err := r.client.pool.Query(ctx,
		`SELECT id, site_id, kind, event_at, host_id, status_id, remote_addr, payload, created_at
		 FROM log_records
		 WHERE archived_at IS NULL AND forwarding_batch_id IS NULL
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select unarchived records: %w", err)
	}
	defer rows.Close()

	var records []domain.LogRecord
	for rows.Next() {
		var rec domain.LogRecord
		if err := rows.Scan(&rec.ID, &rec.SiteID, &rec.Kind, &rec.EventAt,
			&rec.HostID, &rec.StatusID, &rec.RemoteAddr, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TagRecords marks the given records as owned by one forwarding attempt
func (r *RecordRepo) TagRecords(ctx context.Context, ids []int64, batchID int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.client.pool.Exec(ctx,
		`UPDATE log_records SET forwarding_batch_id = $1
		 WHERE id = ANY($2) AND archived_at IS NULL`, batchID, ids)
	if err != nil {
		return fmt.Errorf("failed to tag records for batch %d: %w", batchID, err)
	}
	return nil
}

// MarkArchived sets the archival marker on every record of a delivered
// batch. archived_at is monotonic: never touched once set.
func (r *RecordRepo) MarkArchived(ctx context.Context, batchID int64) error {
	_, err := r.client.pool.Exec(ctx,
		`UPDATE log_records SET archived_at = now()
		 WHERE forwarding_batch_id = $1 AND archived_at IS NULL`, batchID)
	if err != nil {
		return fmt.Errorf("failed to archive records of batch %d: %w", batchID, err)
	}
	return nil
}

// ReleaseOrphaned clears the forwarding tag of every unarchived record
// whose batch ended up failed. Covers crashed attempts swept by
// MarkAbandoned as well as failed attempts whose own tag release did
// not land; without it those records would never re-enter the eligible
// pool.
func (r *RecordRepo) ReleaseOrphaned(ctx context.Context) (int64, error) {
	tag, err := r.client.pool.Exec(ctx,
		`UPDATE log_records SET forwarding_batch_id = NULL
		 WHERE archived_at IS NULL
		   AND forwarding_batch_id IN
		       (SELECT id FROM forwarding_batches WHERE status = 'failed')`)
	if err != nil {
		return 0, fmt.Errorf("failed to release orphaned records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearBatchTag releases the records of a failed attempt back into the
// eligible pool. Records already archived keep their marker.
func (r *RecordRepo) ClearBatchTag(ctx context.Context, batchID int64) error {
	_, err := r.client.pool.Exec(ctx,
		`UPDATE log_records SET forwarding_batch_id = NULL
		 WHERE forwarding_batch_id = $1 AND archived_at IS NULL`, batchID)
	if err != nil {
		return fmt.Errorf("failed to release records of batch %d: %w", batchID, err)
	}
	return nil
}
