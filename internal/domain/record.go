package domain

import (
	"time"
)

// Record kinds, derived from the log file name inside a site directory.
const (
	KindAccess = "access"
	KindError  = "error"
)

// StatusNA is the reserved status id for records that carry no usable
// HTTP status (error-kind records, missing or unparseable codes).
const StatusNA = 0

// RawRecord is one inbound log record as submitted to the ingestion
// endpoint, with the consumed fields extracted and the original JSON
// object preserved verbatim in Payload.
type RawRecord struct {
	SourceFile string    // path of the log file the record came from (required)
	Host       string    // host label of the machine that produced it (required)
	EventAt    time.Time // event timestamp; zero means "use arrival time"
	RemoteAddr string    // client address, optional
	Status     string    // HTTP status text, optional, access-kind only
	Payload    []byte    // the original JSON object, stored and forwarded as-is
}

// LogRecord is one persisted log record with all string fields
// normalized into relational keys.
type LogRecord struct {
	ID                int64
	SiteID            int64
	Kind              string
	EventAt           time.Time
	HostID            int64
	StatusID          int
	RemoteAddr        string
	Payload           []byte
	CreatedAt         time.Time
	ArchivedAt        *time.Time // nil until delivered upstream; never cleared once set
	ForwardingBatchID *int64     // set only while one forwarding attempt owns the record
}

// Archived reports whether the record has been delivered to the
// configured upstream peer.
func (r *LogRecord) Archived() bool {
	return r.ArchivedAt != nil
}

// Site is one served domain. Rows are created implicitly by the
// ingestion pipeline on first sight of a domain.
type Site struct {
	ID             int64
	Domain         string
	LastActivityAt time.Time
}

// Host is one machine that produced log records. Rows are created
// implicitly and must converge to a single row per hostname even when
// several workers first see the same hostname concurrently.
type Host struct {
	ID          int64
	Hostname    string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// StatusCode maps an HTTP status text to a small numeric id.
// Id 0 is reserved for "not applicable".
type StatusCode struct {
	ID    int
	Label string
}

// Forwarding batch lifecycle.
const (
	BatchPending    = "pending"
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// ForwardingBatch is one forwarding attempt. A failed attempt's records
// become eligible for a different, later batch.
type ForwardingBatch struct {
	ID          int64
	Token       string
	RecordCount int
	Status      string
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BatchDedupEntry records one (token, origin) pair seen by the receive
// side, written before the records it names are accepted.
type BatchDedupEntry struct {
	Token       string
	Origin      string
	ReceivedAt  time.Time
	RecordCount int
}
