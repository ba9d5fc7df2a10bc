package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fastjson"

	"github.com/weblog-relay/internal/domain"
)

// Largest accepted request body after decompression
const maxBodyBytes = 64 << 20

// readBody returns the request body, transparently decompressed per
// Content-Encoding (gzip or deflate; deflate accepts both zlib-wrapped
// and raw streams).
func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	switch strings.ToLower(r.Header.Get("Content-Encoding")) {
	case "", "identity":
		return raw, nil

	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gz.Close()
		body, err := io.ReadAll(io.LimitReader(gz, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip body: %w", err)
		}
		return body, nil

	case "deflate":
		// RFC-correct deflate is zlib-wrapped, but some senders ship
		// raw flate streams
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			defer zr.Close()
			body, err := io.ReadAll(io.LimitReader(zr, maxBodyBytes))
			if err != nil {
				return nil, fmt.Errorf("failed to decompress deflate body: %w", err)
			}
			return body, nil
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		body, err := io.ReadAll(io.LimitReader(fr, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress deflate body: %w", err)
		}
		return body, nil

	default:
		return nil, fmt.Errorf("unsupported content encoding %q", r.Header.Get("Content-Encoding"))
	}
}

// parseRecords extracts the consumed fields from each array element and
// keeps the original object verbatim as the stored payload. Elements
// that are not objects are passed through with empty fields; the
// pipeline drops and logs them like any other malformed record.
func parseRecords(items []*fastjson.Value) []domain.RawRecord {
	raws := make([]domain.RawRecord, 0, len(items))
	for i, item := range items {
		if item.Type() != fastjson.TypeObject {
			log.Warn().
				Int("index", i).
				Str("type", item.Type().String()).
				Msg("Record is not a JSON object")
			raws = append(raws, domain.RawRecord{Payload: item.MarshalTo(nil)})
			continue
		}

		raws = append(raws, domain.RawRecord{
			SourceFile: string(item.GetStringBytes("source_file")),
			Host:       string(item.GetStringBytes("host")),
			EventAt:    parseTimestamp(item.Get("timestamp")),
			RemoteAddr: string(item.GetStringBytes("remote")),
			Status:     parseStatus(item.Get("code")),
			Payload:    item.MarshalTo(nil),
		})
	}
	return raws
}

// parseStatus accepts the status code as a string or a bare number;
// many shippers emit `"code": 200` rather than a string.
func parseStatus(v *fastjson.Value) string {
	if v == nil {
		return ""
	}

	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return strconv.Itoa(v.GetInt())
	}
	return ""
}

// parseTimestamp accepts an RFC 3339 string or unix seconds; anything
// else means "use arrival time".
func parseTimestamp(v *fastjson.Value) time.Time {
	if v == nil {
		return time.Time{}
	}

	switch v.Type() {
	case fastjson.TypeString:
		if t, err := time.Parse(time.RFC3339, string(v.GetStringBytes())); err == nil {
			return t
		}
	case fastjson.TypeNumber:
		secs := v.GetFloat64()
		if secs > 0 {
			sec := int64(secs)
			nsec := int64((secs - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC()
		}
	}
	return time.Time{}
}
