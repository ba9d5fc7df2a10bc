package postgres

import (
	"context"
	"fmt"

	"github.com/weblog-relay/internal/domain"
)

// StatusRepo persists the HTTP status code lookup table. Append-only
// reference data: rows are seeded at startup and registered lazily for
// codes outside the seed.
type StatusRepo struct {
	client *Client
}

// NewStatusRepo creates a new status code repository
func NewStatusRepo(client *Client) *StatusRepo {
	return &StatusRepo{client: client}
}

// LoadAll returns every known status code keyed by label
func (r *StatusRepo) LoadAll(ctx context.Context) (map[string]int, error) {
	rows, err := r.client.pool.Query(ctx, `SELECT id, label FROM status_codes`)
	if err != nil {
		return nil, fmt.Errorf("failed to load status codes: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var code domain.StatusCode
		if err := rows.Scan(&code.ID, &code.Label); err != nil {
			return nil, fmt.Errorf("failed to scan status code: %w", err)
		}
		result[code.Label] = code.ID
	}
	return result, rows.Err()
}

// Register inserts a status code if it is not already present
func (r *StatusRepo) Register(ctx context.Context, id int, label string) error {
	_, err := r.client.pool.Exec(ctx,
		`INSERT INTO status_codes (id, label)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`, id, label)
	if err != nil {
		return fmt.Errorf("failed to register status code %d: %w", id, err)
	}
	return nil
}
