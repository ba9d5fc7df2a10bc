package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/weblog-relay/internal/domain"
	"github.com/weblog-relay/internal/retry"
)

const (
	tracerName    = "weblog-relay/forward"
	schemaVersion = 1

	// Attempts at generating a non-colliding batch token
	tokenAttempts = 5
)

// RecordStore is the record-side storage contract of one forwarding
// attempt: select eligible records, own them, then archive or release.
type RecordStore interface {
	SelectUnarchived(ctx context.Context, limit int) ([]domain.LogRecord, error)
	TagRecords(ctx context.Context, ids []int64, batchID int64) error
	MarkArchived(ctx context.Context, batchID int64) error
	ClearBatchTag(ctx context.Context, batchID int64) error

	// ReleaseOrphaned clears tags of unarchived records whose batch is
	// failed, returning how many were released.
	ReleaseOrphaned(ctx context.Context) (int64, error)
}

// BatchStore persists the attempt bookkeeping rows
type BatchStore interface {
	Create(ctx context.Context, token string, recordCount int) (int64, error)
	MarkInProgress(ctx context.Context, batchID int64) error
	MarkCompleted(ctx context.Context, batchID int64) error
	MarkFailed(ctx context.Context, batchID int64, errText string) error

	// MarkAbandoned fails non-terminal batches not updated since before
	MarkAbandoned(ctx context.Context, before time.Time) (int64, error)
}

// MultiplierStore persists the adaptive multiplier across restarts
type MultiplierStore interface {
	SetMultiplier(m float64) error
}

// Config holds upstream delivery settings
type Config struct {
	URL        string        // peer ingestion endpoint
	Token      string        // bearer credential, optional
	Origin     string        // this instance's origin label
	Timeout    time.Duration // bound on one delivery POST
	Compress   bool          // gzip the outbound body
	StaleAfter time.Duration // age at which a non-terminal batch counts as abandoned; 0 disables the sweep
}

// Syncer owns one instance's upstream forwarding: batch selection,
// sizing, delivery and archival marking. A failed delivery is fully
// contained here; the records re-enter the eligible pool and the next
// scheduled tick is the retry mechanism.
type Syncer struct {
	cfg      Config
	records  RecordStore
	batches  BatchStore
	sizer    SizeController
	state    MultiplierStore // optional
	client   *http.Client
	retryCfg retry.Config
}

// NewSyncer creates an upstream sync client. state may be nil when the
// multiplier should not be persisted.
func NewSyncer(cfg Config, records RecordStore, batches BatchStore, sizer SizeController, state MultiplierStore) *Syncer {
	return &Syncer{
		cfg:      cfg,
		records:  records,
		batches:  batches,
		sizer:    sizer,
		state:    state,
		client:   &http.Client{Timeout: cfg.Timeout},
		retryCfg: retry.DefaultConfig(),
	}
}

// forwardEnvelope is the wire shape of one forwarded batch. Records
// travel as the raw original payloads, untouched.
type forwardEnvelope struct {
	BatchToken    string            `json:"batchToken"`
	OriginLabel   string            `json:"originLabel"`
	SchemaVersion int               `json:"schemaVersion"`
	Records       []json.RawMessage `json:"records"`
}

// RunOnce performs one forwarding attempt end to end
func (s *Syncer) RunOnce(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "forward.attempt")
	defer span.End()

	s.reclaimStale(ctx)

	limit := s.sizer.Next()
	records, err := s.records.SelectUnarchived(ctx, limit)
	if err != nil {
		span.SetStatus(codes.Error, "select failed")
		return fmt.Errorf("failed to select records for forwarding: %w", err)
	}
	if len(records) == 0 {
		log.Debug().Msg("No records eligible for forwarding")
		return nil
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	// Unique batch token; regenerate on the rare collision
	var token string
	var batchID int64
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token = uuid.NewString()
		batchID, err = s.batches.Create(ctx, token, len(records))
		if errors.Is(err, domain.ErrTokenTaken) {
			continue
		}
		break
	}
	if err != nil {
		span.SetStatus(codes.Error, "batch create failed")
		return fmt.Errorf("failed to create forwarding batch: %w", err)
	}

	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := s.records.TagRecords(ctx, ids, batchID); err != nil {
		s.failAttempt(ctx, batchID, err)
		return fmt.Errorf("failed to tag records: %w", err)
	}
	if err := s.batches.MarkInProgress(ctx, batchID); err != nil {
		s.failAttempt(ctx, batchID, err)
		return fmt.Errorf("failed to mark batch in progress: %w", err)
	}

	if err := s.deliver(ctx, token, records); err != nil {
		log.Warn().
			Err(err).
			Str("token", token).
			Int("records", len(records)).
			Msg("Forwarding attempt failed, records released for retry")
		s.failAttempt(ctx, batchID, err)
		span.SetStatus(codes.Error, "delivery failed")
		// Contained: the next scheduled tick retries with a new batch
		return nil
	}

	// The POST succeeded: the peer owns the records now. Archival
	// marking must land, so retry it against transient database errors.
	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.records.MarkArchived(ctx, batchID)
	}); err != nil {
		span.SetStatus(codes.Error, "archival marking failed")
		return fmt.Errorf("delivered batch %s but failed to mark records archived: %w", token, err)
	}
	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.batches.MarkCompleted(ctx, batchID)
	}); err != nil {
		return fmt.Errorf("delivered batch %s but failed to mark batch completed: %w", token, err)
	}

	s.sizer.Success()
	s.persistMultiplier()

	log.Info().
		Str("token", token).
		Int("records", len(records)).
		Msg("Batch forwarded upstream")
	span.SetStatus(codes.Ok, "delivered")
	return nil
}

// reclaimStale sweeps attempts that never reached a terminal outcome: a
// crash mid-attempt leaves a pending or in_progress batch whose tagged
// records SelectUnarchived would otherwise skip forever. The batch is
// failed and its records re-enter the eligible pool; re-delivery of an
// already-received batch is absorbed downstream as a duplicate. Sweep
// failures are logged only, the next tick tries again.
func (s *Syncer) reclaimStale(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	abandoned, err := s.batches.MarkAbandoned(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sweep abandoned batches")
	} else if abandoned > 0 {
		log.Warn().
			Int64("batches", abandoned).
			Msg("Abandoned forwarding batches marked failed")
	}

	released, err := s.records.ReleaseOrphaned(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to release orphaned records")
	} else if released > 0 {
		log.Warn().
			Int64("records", released).
			Msg("Released records of failed batches back into the eligible pool")
	}
}

// deliver POSTs one batch to the peer's ingestion endpoint under the
// configured timeout. Any non-2xx response is a failure.
func (s *Syncer) deliver(ctx context.Context, token string, records []domain.LogRecord) error {
	envelope := forwardEnvelope{
		BatchToken:    token,
		OriginLabel:   s.cfg.Origin,
		SchemaVersion: schemaVersion,
		Records:       make([]json.RawMessage, len(records)),
	}
	for i, rec := range records {
		envelope.Records[i] = json.RawMessage(rec.Payload)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	var buf bytes.Buffer
	if s.cfg.Compress {
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return fmt.Errorf("failed to compress batch: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to compress batch: %w", err)
		}
	} else {
		buf.Write(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, snippet)
	}

	// Drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)
	return nil
}

// failAttempt records a failed delivery and releases its records back
// into the eligible pool. Bookkeeping failures are logged only; the
// worst outcome is a retry next cycle.
func (s *Syncer) failAttempt(ctx context.Context, batchID int64, cause error) {
	if err := s.batches.MarkFailed(ctx, batchID, cause.Error()); err != nil {
		log.Error().
			Err(err).
			Int64("batch_id", batchID).
			Msg("Failed to mark batch failed")
	}
	if err := s.records.ClearBatchTag(ctx, batchID); err != nil {
		log.Error().
			Err(err).
			Int64("batch_id", batchID).
			Msg("Failed to release records of failed batch")
	}

	s.sizer.Failure()
	s.persistMultiplier()
}

// persistMultiplier stores the current multiplier when both the policy
// exposes one and a state store is configured.
func (s *Syncer) persistMultiplier() {
	if s.state == nil {
		return
	}
	snap, ok := s.sizer.(interface{ Multiplier() float64 })
	if !ok {
		return
	}
	if err := s.state.SetMultiplier(snap.Multiplier()); err != nil {
		log.Warn().Err(err).Msg("Failed to persist batch multiplier")
	}
}
