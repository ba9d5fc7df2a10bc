package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weblog-relay/internal/domain"
)

// Ingester persists one batch of raw records
type Ingester interface {
	Ingest(ctx context.Context, raws []domain.RawRecord) (int, error)
}

// Gate suppresses replayed forwarded batches
type Gate interface {
	Admit(ctx context.Context, token, origin string, recordCount int) (bool, error)
}

// Pinger checks backing store reachability for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP ingestion front of one worker process
type Server struct {
	pipeline Ingester
	gate     Gate
	db       Pinger
	token    string // bearer token; empty disables the check
	srv      *http.Server
	parsers  fastjson.ParserPool
}

// New creates an ingestion server
func New(pipeline Ingester, gate Gate, db Pinger, token string) *Server {
	return &Server{
		pipeline: pipeline,
		gate:     gate,
		db:       db,
		token:    token,
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/ingest", s.authMiddleware(http.HandlerFunc(s.handleIngest)))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Msg("HTTP server listening")

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// authMiddleware checks the bearer token when one is configured. The
// full credential gate (API keys, sessions) is an external collaborator
// running in front of this process; this check is the minimal stand-in
// that peer-to-peer forwarding needs.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token != s.token {
			w.Header().Set("WWW-Authenticate", `Bearer realm="weblog-relay"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ingestResponse is the wire shape of an ingestion reply
type ingestResponse struct {
	Status       string `json:"status"`
	Received     int    `json:"received"`
	Processed    int    `json:"processed"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := startSpan(r.Context(), "ingest.request")

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Error: "unreadable body"})
		endSpanWithError(span, err, "read body")
		return
	}

	p := s.parsers.Get()
	defer s.parsers.Put(p)

	root, err := p.ParseBytes(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Error: "invalid json"})
		endSpanWithError(span, err, "parse body")
		return
	}

	switch root.Type() {
	case fastjson.TypeArray:
		s.ingestDirect(ctx, w, span, root)
	case fastjson.TypeObject:
		s.ingestForwarded(ctx, w, span, root)
	default:
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Error: "body must be an array of records or a forwarded batch object"})
		endSpanWithError(span, fmt.Errorf("unexpected body type %s", root.Type()), "body shape")
	}
}

// ingestDirect handles a plain array of raw records
func (s *Server) ingestDirect(ctx context.Context, w http.ResponseWriter, span trace.Span, root *fastjson.Value) {
	items := root.GetArray()
	if len(items) == 0 {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Error: "empty batch"})
		endSpanWithError(span, fmt.Errorf("empty batch"), "validate")
		return
	}
	span.SetAttributes(attribute.Int("records", len(items)))

	raws := parseRecords(items)
	processed, err := s.pipeline.Ingest(ctx, raws)
	if err != nil {
		log.Error().Err(err).Msg("Batch ingestion failed")
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Status: "error", Error: "storage failure"})
		endSpanWithError(span, err, "ingest")
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "ok",
		Received:  len(items),
		Processed: processed,
	})
	endSpanWithError(span, nil, "ingested")
}

// ingestForwarded handles a replay-safe forwarded batch envelope
func (s *Server) ingestForwarded(ctx context.Context, w http.ResponseWriter, span trace.Span, root *fastjson.Value) {
	token := string(root.GetStringBytes("batchToken"))
	origin := string(root.GetStringBytes("originLabel"))
	items := root.GetArray("records")

	if token == "" || origin == "" || items == nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Error: "forwarded batch requires batchToken, originLabel and records"})
		endSpanWithError(span, fmt.Errorf("incomplete forwarded batch"), "validate")
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Status: "error", Error: "empty batch"})
		endSpanWithError(span, fmt.Errorf("empty batch"), "validate")
		return
	}
	span.SetAttributes(
		attribute.String("batch_token", token),
		attribute.String("origin", origin),
		attribute.Int("records", len(items)),
	)

	// Record intent before processing: a replayed delivery of the same
	// (token, origin) answers success without touching the pipeline.
	seen, err := s.gate.Admit(ctx, token, origin, len(items))
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("Dedup ledger write failed")
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Status: "error", Error: "storage failure"})
		endSpanWithError(span, err, "dedup gate")
		return
	}
	if seen {
		writeJSON(w, http.StatusOK, ingestResponse{
			Status:       "ok",
			Received:     len(items),
			Processed:    0,
			Deduplicated: true,
		})
		endSpanWithError(span, nil, "deduplicated")
		return
	}

	raws := parseRecords(items)
	processed, err := s.pipeline.Ingest(ctx, raws)
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("Forwarded batch ingestion failed")
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Status: "error", Error: "storage failure"})
		endSpanWithError(span, err, "ingest")
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "ok",
		Received:  len(items),
		Processed: processed,
	})
	endSpanWithError(span, nil, "ingested")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
