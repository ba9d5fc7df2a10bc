package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/weblog-relay/internal/domain"
)

type fakeIngester struct {
	calls     int
	lastRaws  []domain.RawRecord
	processed int
	err       error
}

func (f *fakeIngester) Ingest(ctx context.Context, raws []domain.RawRecord) (int, error) {
	f.calls++
	f.lastRaws = raws
	if f.err != nil {
		return 0, f.err
	}
	if f.processed > 0 {
		return f.processed, nil
	}
	return len(raws), nil
}

type fakeGate struct {
	calls int
	seen  bool
	err   error
}

func (f *fakeGate) Admit(ctx context.Context, token, origin string, recordCount int) (bool, error) {
	f.calls++
	return f.seen, f.err
}

func newTestServer(pipe *fakeIngester, gate *fakeGate, token string) *Server {
	return New(pipe, gate, nil, token)
}

func postIngest(t *testing.T, srv *Server, body []byte, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ingestResponse {
	t.Helper()
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

const sampleRecord = `{"source_file":"/var/log/sites/shop.example.com/log/access.log","host":"web-01","timestamp":"2026-08-30T10:00:00Z","remote":"10.0.0.1","code":"200"}`

func TestIngestDirectBatch(t *testing.T) {
	pipe := &fakeIngester{}
	srv := newTestServer(pipe, &fakeGate{}, "")

	body := []byte("[" + sampleRecord + "," + sampleRecord + "]")
	rec := postIngest(t, srv, body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "ok" || resp.Received != 2 || resp.Processed != 2 {
		t.Errorf("response = %+v, want ok/2/2", resp)
	}
	if pipe.calls != 1 {
		t.Errorf("ingester calls = %d, want 1", pipe.calls)
	}
	if len(pipe.lastRaws) != 2 {
		t.Fatalf("records passed to pipeline = %d, want 2", len(pipe.lastRaws))
	}
	got := pipe.lastRaws[0]
	if got.Host != "web-01" || got.Status != "200" || got.RemoteAddr != "10.0.0.1" {
		t.Errorf("extracted fields = %+v", got)
	}
	if !strings.Contains(string(got.Payload), `"source_file"`) {
		t.Errorf("payload not preserved: %s", got.Payload)
	}
}

func TestIngestNumericStatusCode(t *testing.T) {
	pipe := &fakeIngester{}
	srv := newTestServer(pipe, &fakeGate{}, "")

	body := []byte(`[{"source_file":"/var/www/example.com/log/access.log","host":"web-01","code":200}]`)
	rec := postIngest(t, srv, body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(pipe.lastRaws) != 1 {
		t.Fatalf("records passed to pipeline = %d, want 1", len(pipe.lastRaws))
	}
	if got := pipe.lastRaws[0].Status; got != "200" {
		t.Errorf("status from numeric code = %q, want \"200\"", got)
	}
}

func TestIngestRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"empty array", `[]`},
		{"scalar body", `42`},
		{"forwarded batch missing token", `{"originLabel":"edge-a","records":[` + sampleRecord + `]}`},
		{"forwarded batch missing origin", `{"batchToken":"tok-1","records":[` + sampleRecord + `]}`},
		{"forwarded batch missing records", `{"batchToken":"tok-1","originLabel":"edge-a"}`},
		{"forwarded batch empty records", `{"batchToken":"tok-1","originLabel":"edge-a","records":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := &fakeIngester{}
			srv := newTestServer(pipe, &fakeGate{}, "")

			rec := postIngest(t, srv, []byte(tt.body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if pipe.calls != 0 {
				t.Errorf("ingester calls = %d, want 0", pipe.calls)
			}
		})
	}
}

func TestIngestForwardedBatch(t *testing.T) {
	pipe := &fakeIngester{}
	gate := &fakeGate{}
	srv := newTestServer(pipe, gate, "")

	body := []byte(`{"batchToken":"tok-1","originLabel":"edge-a","schemaVersion":1,"records":[` + sampleRecord + `]}`)
	rec := postIngest(t, srv, body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Processed != 1 || resp.Deduplicated {
		t.Errorf("response = %+v, want processed 1 and not deduplicated", resp)
	}
	if gate.calls != 1 || pipe.calls != 1 {
		t.Errorf("gate calls = %d, ingester calls = %d, want 1 and 1", gate.calls, pipe.calls)
	}
}

func TestIngestForwardedReplayIsSuppressed(t *testing.T) {
	pipe := &fakeIngester{}
	gate := &fakeGate{seen: true}
	srv := newTestServer(pipe, gate, "")

	body := []byte(`{"batchToken":"tok-1","originLabel":"edge-a","records":[` + sampleRecord + `]}`)
	rec := postIngest(t, srv, body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Deduplicated || resp.Processed != 0 || resp.Received != 1 {
		t.Errorf("response = %+v, want deduplicated with processed 0", resp)
	}
	if pipe.calls != 0 {
		t.Errorf("ingester calls = %d, want 0 on replay", pipe.calls)
	}
}

func TestIngestGzipBody(t *testing.T) {
	pipe := &fakeIngester{}
	srv := newTestServer(pipe, &fakeGate{}, "")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("[" + sampleRecord + "]"))
	gz.Close()

	rec := postIngest(t, srv, buf.Bytes(), func(r *http.Request) {
		r.Header.Set("Content-Encoding", "gzip")
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if pipe.calls != 1 {
		t.Errorf("ingester calls = %d, want 1", pipe.calls)
	}
}

func TestIngestUnsupportedEncoding(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeGate{}, "")
	rec := postIngest(t, srv, []byte("["+sampleRecord+"]"), func(r *http.Request) {
		r.Header.Set("Content-Encoding", "br")
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestAuth(t *testing.T) {
	tests := []struct {
		name     string
		auth     string
		wantCode int
	}{
		{"valid token", "Bearer secret", http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeIngester{}, &fakeGate{}, "secret")
			rec := postIngest(t, srv, []byte("["+sampleRecord+"]"), func(r *http.Request) {
				if tt.auth != "" {
					r.Header.Set("Authorization", tt.auth)
				}
			})
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeIngester{}, &fakeGate{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/ingest", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestIngestStorageFailure(t *testing.T) {
	pipe := &fakeIngester{err: errors.New("connection refused")}
	srv := newTestServer(pipe, &fakeGate{}, "")

	rec := postIngest(t, srv, []byte("["+sampleRecord+"]"), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "error" {
		t.Errorf("response status = %q, want error", resp.Status)
	}
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
	}{
		{"healthy", nil, http.StatusOK},
		{"database down", errors.New("dial tcp: refused"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&fakeIngester{}, &fakeGate{}, &fakePinger{err: tt.pingErr}, "")
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
