// Package analyze implements offline analysis of the audit trail: it
// ingests JSONL log files into SQLite and produces a latency/status
// summary report.
package analyze

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ParsedEvent is one JSONL record reduced to the columns the analyzer
// cares about. Nil pointer fields become SQL NULLs.
type ParsedEvent struct {
	EventType  *string
	StatusCode *int
	LatencyMs  *float64
	Timestamp  *string
	Raw        string
}

// Summary is the aggregate over every ingested event. Percentiles are
// nil when no latencies were recorded.
type Summary struct {
	TotalRequests int
	StatusCounts  map[int]int
	EventCounts   map[string]int
	P50           *float64
	P95           *float64
	P99           *float64
}

// Run ingests every *.jsonl file under logsDir into the SQLite database
// at dbPath, computes the summary, and writes latency_summary.txt under
// reportsDir. Malformed lines are skipped, not fatal.
func Run(logsDir, reportsDir, dbPath string) (*Summary, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports directory: %w", err)
	}

	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Reset(); err != nil {
		return nil, fmt.Errorf("reset analyzer db: %w", err)
	}

	events, err := parseLogDir(logsDir)
	if err != nil {
		return nil, err
	}
	if err := db.InsertEvents(events); err != nil {
		return nil, fmt.Errorf("ingest events: %w", err)
	}

	summary, err := summarize(db)
	if err != nil {
		return nil, err
	}

	reportPath := filepath.Join(reportsDir, "latency_summary.txt")
	if err := os.WriteFile(reportPath, []byte(summary.Render()), 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return summary, nil
}

// parseLogDir reads every .jsonl file directly under dir. A missing
// directory yields no events rather than an error.
func parseLogDir(dir string) ([]ParsedEvent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	var events []ParsedEvent
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if ev, ok := parseLine(line); ok {
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

// parseLine extracts the analyzer columns from one JSONL record.
// Unparseable lines are dropped.
func parseLine(line string) (ParsedEvent, bool) {
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return ParsedEvent{}, false
	}

	ev := ParsedEvent{Raw: line}
	if v, ok := record["event_type"].(string); ok {
		ev.EventType = &v
	}
	if v, ok := record["status_code"].(float64); ok {
		code := int(v)
		ev.StatusCode = &code
	}
	if v, ok := record["latency_ms"].(float64); ok {
		ev.LatencyMs = &v
	}
	if v, ok := record["timestamp"].(string); ok {
		ev.Timestamp = &v
	}
	return ev, true
}

func summarize(db *DB) (*Summary, error) {
	latencies, err := db.Latencies()
	if err != nil {
		return nil, err
	}
	statusCounts, err := db.StatusCounts()
	if err != nil {
		return nil, err
	}
	eventCounts, err := db.EventCounts()
	if err != nil {
		return nil, err
	}

	return &Summary{
		TotalRequests: len(latencies),
		StatusCounts:  statusCounts,
		EventCounts:   eventCounts,
		P50:           percentile(latencies, 50),
		P95:           percentile(latencies, 95),
		P99:           percentile(latencies, 99),
	}, nil
}

// percentile picks the floor-rank element: k = (n-1)*p/100, truncated.
// values must be sorted ascending.
func percentile(values []float64, p int) *float64 {
	if len(values) == 0 {
		return nil
	}
	k := (len(values) - 1) * p / 100
	return &values[k]
}

// Render formats the summary in the latency_summary.txt layout.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total requests: %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "Status counts: %s\n", formatIntCounts(s.StatusCounts))
	fmt.Fprintf(&b, "p50 latency: %s\n", formatLatency(s.P50))
	fmt.Fprintf(&b, "p95 latency: %s\n", formatLatency(s.P95))
	fmt.Fprintf(&b, "p99 latency: %s\n", formatLatency(s.P99))
	fmt.Fprintf(&b, "Event counts: %s\n", formatStringCounts(s.EventCounts))
	return b.String()
}

func formatLatency(v *float64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatIntCounts(counts map[int]int) string {
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d: %d", k, counts[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatStringCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
