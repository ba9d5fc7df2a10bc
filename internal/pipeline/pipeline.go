package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weblog-relay/internal/domain"
	"github.com/weblog-relay/internal/weblog"
)

// RecordStore persists ingested batches
type RecordStore interface {
	// InsertBatch persists a whole batch atomically in one statement
	InsertBatch(ctx context.Context, records []domain.LogRecord) error
}

// HostResolver maps the distinct hostnames of one batch to ids in a
// single backing-store round trip.
type HostResolver interface {
	ResolveMany(ctx context.Context, hostnames []string) (map[string]int64, error)
}

// StatusResolver maps HTTP status text to small numeric ids
type StatusResolver interface {
	Resolve(ctx context.Context, label string) int
}

// SiteResolver maps domains to site ids and bumps site activity
type SiteResolver interface {
	Resolve(ctx context.Context, siteDomain string) (int64, error)
	TouchAsync(siteIDs []int64)
}

// Pipeline validates, resolves and bulk-persists one batch of raw
// records. Malformed records are dropped and logged, never failing the
// batch; a failing bulk insert is the only hard error.
type Pipeline struct {
	records RecordStore
	hosts   HostResolver
	status  StatusResolver
	sites   SiteResolver
}

// New creates an ingestion pipeline
func New(records RecordStore, hosts HostResolver, status StatusResolver, sites SiteResolver) *Pipeline {
	return &Pipeline{
		records: records,
		hosts:   hosts,
		status:  status,
		sites:   sites,
	}
}

// resolved is one raw record that survived validation
type resolved struct {
	raw        domain.RawRecord
	siteDomain string
	kind       string
	host       string
}

// Ingest processes one batch and returns the number of persisted
// records, which is at most len(raws).
func (p *Pipeline) Ingest(ctx context.Context, raws []domain.RawRecord) (int, error) {
	arrival := time.Now().UTC()

	// Validate and extract; drops never fail the batch
	surviving := make([]resolved, 0, len(raws))
	hostSet := make(map[string]struct{})
	for i, raw := range raws {
		host := weblog.NormalizeHost(raw.Host)
		if host == "" {
			log.Warn().
				Int("index", i).
				Msg("Dropping record without a usable host")
			continue
		}
		if raw.SourceFile == "" {
			log.Warn().
				Int("index", i).
				Str("host", host).
				Msg("Dropping record without a source file path")
			continue
		}

		siteDomain, kind, err := weblog.ExtractSiteFromPath(raw.SourceFile)
		if err != nil {
			log.Warn().
				Err(err).
				Int("index", i).
				Str("host", host).
				Msg("Dropping record with unrecognized source file path")
			continue
		}

		surviving = append(surviving, resolved{
			raw:        raw,
			siteDomain: siteDomain,
			kind:       kind,
			host:       host,
		})
		hostSet[host] = struct{}{}
	}

	if len(surviving) == 0 {
		return 0, nil
	}

	// One host resolution round trip for the whole batch
	hostnames := make([]string, 0, len(hostSet))
	for host := range hostSet {
		hostnames = append(hostnames, host)
	}
	hostIDs, err := p.hosts.ResolveMany(ctx, hostnames)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve hosts: %w", err)
	}

	records := make([]domain.LogRecord, 0, len(surviving))
	touched := make(map[int64]struct{})
	for _, r := range surviving {
		siteID, err := p.sites.Resolve(ctx, r.siteDomain)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve site %q: %w", r.siteDomain, err)
		}
		touched[siteID] = struct{}{}

		statusID := domain.StatusNA
		if r.kind == domain.KindAccess {
			statusID = p.status.Resolve(ctx, r.raw.Status)
		}

		eventAt := r.raw.EventAt
		if eventAt.IsZero() {
			eventAt = arrival
		}

		records = append(records, domain.LogRecord{
			SiteID:     siteID,
			Kind:       r.kind,
			EventAt:    eventAt,
			HostID:     hostIDs[r.host],
			StatusID:   statusID,
			RemoteAddr: r.raw.RemoteAddr,
			Payload:    r.raw.Payload,
		})
	}

	// The only hard error this component raises
	if err := p.records.InsertBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to persist batch: %w", err)
	}

	// Best-effort activity bump, off the request path
	siteIDs := make([]int64, 0, len(touched))
	for id := range touched {
		siteIDs = append(siteIDs, id)
	}
	p.sites.TouchAsync(siteIDs)

	if dropped := len(raws) - len(records); dropped > 0 {
		log.Info().
			Int("received", len(raws)).
			Int("persisted", len(records)).
			Int("dropped", dropped).
			Msg("Batch ingested with drops")
	}

	return len(records), nil
}
