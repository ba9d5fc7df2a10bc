package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weblog-relay/internal/domain"
)

type fakeRecordStore struct {
	mu       sync.Mutex
	inserted []domain.LogRecord
	failWith error
}

func (f *fakeRecordStore) InsertBatch(ctx context.Context, records []domain.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.inserted = append(f.inserted, records...)
	return nil
}

type fakeHostResolver struct {
	mu    sync.Mutex
	ids   map[string]int64
	next  int64
	calls int
}

func newFakeHostResolver() *fakeHostResolver {
	return &fakeHostResolver{ids: make(map[string]int64)}
}

func (f *fakeHostResolver) ResolveMany(ctx context.Context, hostnames []string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	result := make(map[string]int64, len(hostnames))
	for _, name := range hostnames {
		if _, ok := f.ids[name]; !ok {
			f.next++
			f.ids[name] = f.next
		}
		result[name] = f.ids[name]
	}
	return result, nil
}

type fakeStatusResolver struct{}

func (fakeStatusResolver) Resolve(ctx context.Context, label string) int {
	switch label {
	case "200":
		return 200
	case "404":
		return 404
	case "":
		return domain.StatusNA
	default:
		return domain.StatusNA
	}
}

type fakeSiteResolver struct {
	mu      sync.Mutex
	ids     map[string]int64
	next    int64
	touched [][]int64
}

func newFakeSiteResolver() *fakeSiteResolver {
	return &fakeSiteResolver{ids: make(map[string]int64)}
}

func (f *fakeSiteResolver) Resolve(ctx context.Context, siteDomain string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[siteDomain]; !ok {
		f.next++
		f.ids[siteDomain] = f.next
	}
	return f.ids[siteDomain], nil
}

func (f *fakeSiteResolver) TouchAsync(siteIDs []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, siteIDs)
}

func (f *fakeSiteResolver) touchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.touched)
}

func newTestPipeline() (*Pipeline, *fakeRecordStore, *fakeHostResolver, *fakeSiteResolver) {
	records := &fakeRecordStore{}
	hosts := newFakeHostResolver()
	sites := newFakeSiteResolver()
	return New(records, hosts, fakeStatusResolver{}, sites), records, hosts, sites
}

func TestIngestPersistsValidRecords(t *testing.T) {
	pipe, records, _, sites := newTestPipeline()

	raws := []domain.RawRecord{
		{
			SourceFile: "/var/www/example.com/log/access.log",
			Host:       "web-01",
			Status:     "200",
			RemoteAddr: "1.2.3.4",
			Payload:    []byte(`{"host":"web-01"}`),
		},
	}

	processed, err := pipe.Ingest(context.Background(), raws)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("Ingest() processed = %d, want 1", processed)
	}

	rec := records.inserted[0]
	if rec.Kind != domain.KindAccess {
		t.Errorf("kind = %q, want %q", rec.Kind, domain.KindAccess)
	}
	if rec.StatusID != 200 {
		t.Errorf("status id = %d, want 200", rec.StatusID)
	}
	if rec.RemoteAddr != "1.2.3.4" {
		t.Errorf("remote addr = %q, want 1.2.3.4", rec.RemoteAddr)
	}
	if rec.SiteID == 0 || rec.HostID == 0 {
		t.Errorf("site id %d / host id %d not resolved", rec.SiteID, rec.HostID)
	}
	if rec.EventAt.IsZero() {
		t.Errorf("event time not defaulted to arrival time")
	}

	if sites.touchCount() != 1 {
		t.Errorf("site activity touches = %d, want 1", sites.touchCount())
	}
}

func TestIngestDropsMalformedRecords(t *testing.T) {
	tests := []struct {
		name          string
		raws          []domain.RawRecord
		wantProcessed int
	}{
		{
			name: "Convention-violating path dropped, batch continues",
			raws: []domain.RawRecord{
				{SourceFile: "/var/www/example.com/log/access.log", Host: "web-01"},
				{SourceFile: "/var/www/example.com/access.log", Host: "web-01"},
			},
			wantProcessed: 1,
		},
		{
			name: "Missing host dropped",
			raws: []domain.RawRecord{
				{SourceFile: "/var/www/example.com/log/access.log", Host: ""},
				{SourceFile: "/var/www/example.com/log/error.log", Host: "web-02"},
			},
			wantProcessed: 1,
		},
		{
			name: "Missing path dropped",
			raws: []domain.RawRecord{
				{SourceFile: "", Host: "web-01"},
			},
			wantProcessed: 0,
		},
		{
			name:          "Empty batch",
			raws:          nil,
			wantProcessed: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe, _, _, _ := newTestPipeline()
			processed, err := pipe.Ingest(context.Background(), tt.raws)
			if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if processed != tt.wantProcessed {
				t.Errorf("Ingest() processed = %d, want %d", processed, tt.wantProcessed)
			}
		})
	}
}

func TestIngestSingleHostRoundTrip(t *testing.T) {
	pipe, _, hosts, _ := newTestPipeline()

	// Many records over few hosts: exactly one resolver round trip
	var raws []domain.RawRecord
	for i := 0; i < 50; i++ {
		host := "web-01"
		if i%2 == 0 {
			host = "web-02"
		}
		raws = append(raws, domain.RawRecord{
			SourceFile: "/var/www/example.com/log/access.log",
			Host:       host,
			EventAt:    time.Now(),
		})
	}

	processed, err := pipe.Ingest(context.Background(), raws)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if processed != 50 {
		t.Fatalf("Ingest() processed = %d, want 50", processed)
	}
	if hosts.calls != 1 {
		t.Errorf("host resolver calls = %d, want 1", hosts.calls)
	}
}

func TestIngestErrorKindIgnoresStatus(t *testing.T) {
	pipe, records, _, _ := newTestPipeline()

	raws := []domain.RawRecord{
		{
			SourceFile: "/var/www/example.com/log/error.log",
			Host:       "web-01",
			Status:     "200", // present but not applicable for error-kind
		},
	}

	if _, err := pipe.Ingest(context.Background(), raws); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := records.inserted[0].StatusID; got != domain.StatusNA {
		t.Errorf("status id for error-kind record = %d, want %d", got, domain.StatusNA)
	}
}

func TestIngestInsertFailureIsHardError(t *testing.T) {
	records := &fakeRecordStore{failWith: errors.New("connection lost")}
	pipe := New(records, newFakeHostResolver(), fakeStatusResolver{}, newFakeSiteResolver())

	raws := []domain.RawRecord{
		{SourceFile: "/var/www/example.com/log/access.log", Host: "web-01"},
	}

	if _, err := pipe.Ingest(context.Background(), raws); err == nil {
		t.Fatalf("Ingest() expected error on bulk insert failure, got nil")
	}
}
