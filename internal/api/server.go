// Package api provides the HTTP boundary for the ledger daemon.
// It validates request shape, calls into the ledger store, and translates
// results and errors into JSON responses. Every inbound request, success
// or failure, is recorded as one http_request audit event by the
// request-logging middleware.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ledgerline/ledgerd/internal/audit"
	"github.com/ledgerline/ledgerd/internal/ledger"
)

// Server is the ledgerd HTTP API server.
type Server struct {
	store          *ledger.Store
	auditor        *audit.Logger
	log            zerolog.Logger
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(store *ledger.Store, auditor *audit.Logger, log zerolog.Logger) *Server {
	return &Server{store: store, auditor: auditor, log: log}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware. requestLogger includes panic recovery so the audit
	// record carries the error before the 500 goes out.
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// Ledger operations
	r.Post("/invoices", s.handleCreateInvoice)
	r.Post("/payments", s.handleRecordPayment)
	r.Post("/refunds", s.handleIssueRefund)
	r.Get("/invoices/{invoice_id}/ledger", s.handleGetLedger)

	// Diagnostic endpoints used by the traffic generator.
	r.Get("/work", s.handleWork)
	r.Get("/error", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "forced",
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// handleWork sleeps for the requested number of milliseconds.
// GET /work?ms=50
func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	ms := 50
	if raw := r.URL.Query().Get("ms"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_ms")
			return
		}
		ms = parsed
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"slept_ms": ms,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine-readable reason.
func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// writeLedgerError maps ledger errors to status codes: validation → 400,
// not found → 404, anything else → 500.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
