package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
)

// DedupStore is the cross-worker ledger of forwarded batches
type DedupStore interface {
	// Record writes a (token, origin) entry; seen=true means the pair
	// was already present and nothing was written.
	Record(ctx context.Context, token, origin string, recordCount int) (bool, error)
}

// Gate guards the ingestion entry point against replayed forwarding
// attempts. The ledger entry is written before the records are
// processed: a crash in between leaves a batch marked seen but not
// ingested, the accepted at-least-once tradeoff.
type Gate struct {
	store DedupStore
}

// NewGate creates a batch dedup gate over the given ledger
func NewGate(store DedupStore) *Gate {
	return &Gate{store: store}
}

// Admit records the inbound (token, origin) pair. seen=true means the
// batch was delivered before and must be skipped; the caller responds
// success with zero newly processed records.
func (g *Gate) Admit(ctx context.Context, token, origin string, recordCount int) (bool, error) {
	seen, err := g.store.Record(ctx, token, origin, recordCount)
	if err != nil {
		return false, err
	}

	if seen {
		log.Info().
			Str("token", token).
			Str("origin", origin).
			Int("records", recordCount).
			Msg("Duplicate forwarded batch skipped")
	}
	return seen, nil
}
