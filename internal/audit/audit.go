// Package audit implements the durable, append-only audit trail.
// Every accepted business mutation and every inbound HTTP request is
// written as one self-contained JSON record per line (JSONL), flushed
// through to stable storage before the triggering operation returns.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchemaVersion is stamped on every record so downstream consumers can
// evolve parsing without guessing.
const SchemaVersion = 1

// ─── Event Types ────────────────────────────────────────────────────────────

const (
	EventInvoiceCreated   = "invoice_created"
	EventPaymentReceived  = "payment_received"
	EventPaymentFailed    = "payment_failed"
	EventDuplicateIgnored = "duplicate_ignored"
	EventRefundIssued     = "refund_issued"
	EventRefundFailed     = "refund_failed"
	EventHTTPRequest      = "http_request"
)

// Event is a single audit record. Type is required. If Timestamp is the
// zero value, the logger assigns capture time (not business time) on
// append. Fields carry the event-specific payload and are flattened into
// the top level of the written record.
type Event struct {
	Type      string
	Timestamp time.Time
	Fields    map[string]interface{}
}

var eventsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledgerd_audit_events_written_total",
	Help: "Audit records durably written, by event type.",
}, []string{"event_type"})

// ─── Logger ─────────────────────────────────────────────────────────────────

// Logger appends events to a single JSONL file. Writes are serialized by
// a mutex and each record is written with one write call on a handle
// opened O_APPEND, so concurrent appenders (threads or processes sharing
// the file) never interleave inside a record. Append blocks on the mutex
// without timeout; a stuck holder stalls all writers, it never corrupts.
type Logger struct {
	mu      sync.Mutex
	f       *os.File
	service string
}

// NewLogger opens (creating if needed) the audit file at path. The
// service tag is stamped on every record.
func NewLogger(path, service string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{f: f, service: service}, nil
}

// Append durably writes one event. When it returns nil the record has
// been flushed through to stable storage, not merely buffered. Any error
// means the record may not survive a crash and the caller must treat the
// triggering operation as failed.
func (l *Logger) Append(ev Event) error {
	if ev.Type == "" {
		return fmt.Errorf("audit: event type required")
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	record := make(map[string]interface{}, len(ev.Fields)+4)
	for k, v := range ev.Fields {
		record[k] = v
	}
	// Envelope fields win over any same-named payload field.
	record["event_type"] = ev.Type
	record["schema_version"] = SchemaVersion
	record["service"] = l.service
	record["timestamp"] = ts.UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: marshal %s event: %w", ev.Type, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("audit: write %s event: %w", ev.Type, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: sync %s event: %w", ev.Type, err)
	}
	eventsWritten.WithLabelValues(ev.Type).Inc()
	return nil
}

// Path returns the file the logger is writing to.
func (l *Logger) Path() string { return l.f.Name() }

// Close closes the underlying file. Appends after Close fail.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
