package analyze

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ─── Event Store ────────────────────────────────────────────────────────────
// Ingested audit events land in SQLite so summaries come from SQL
// aggregates and the database stays behind for ad-hoc querying.

// DB wraps the analyzer's SQLite handle.
type DB struct {
	db *sql.DB
}

// Migrations returns the analyzer schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type  TEXT,
			status_code INTEGER,
			latency_ms  REAL,
			timestamp   TEXT,
			raw         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status_code)`,
	}
}

// Open opens (creating if needed) the analyzer database at path and
// applies migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open analyzer db: %w", err)
	}
	for _, stmt := range Migrations() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate analyzer db: %w", err)
		}
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Reset clears previously ingested events so re-running the analyzer
// over the same logs stays idempotent.
func (d *DB) Reset() error {
	_, err := d.db.Exec(`DELETE FROM events`)
	return err
}

// InsertEvents bulk-inserts parsed events inside one transaction.
func (d *DB) InsertEvents(events []ParsedEvent) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO events (event_type, status_code, latency_ms, timestamp, raw) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(ev.EventType, ev.StatusCode, ev.LatencyMs, ev.Timestamp, ev.Raw); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Latencies returns all recorded latencies in ascending order.
func (d *DB) Latencies() ([]float64, error) {
	rows, err := d.db.Query(`SELECT latency_ms FROM events WHERE latency_ms IS NOT NULL ORDER BY latency_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// StatusCounts returns request counts grouped by status code.
func (d *DB) StatusCounts() (map[int]int, error) {
	rows, err := d.db.Query(`SELECT status_code, COUNT(*) FROM events WHERE status_code IS NOT NULL GROUP BY status_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var code, n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}

// EventCounts returns record counts grouped by event type.
func (d *DB) EventCounts() (map[string]int, error) {
	rows, err := d.db.Query(`SELECT event_type, COUNT(*) FROM events WHERE event_type IS NOT NULL GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}
