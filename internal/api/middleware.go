package api

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ledgerline/ledgerd/internal/audit"
)

// requestLogger emits one http_request audit event for every inbound
// request, success or failure. It also recovers panics: the audit record
// carries the error and status 500 before the response goes out. A
// failure to write the audit record is swallowed at this boundary only,
// so telemetry loss never turns a served response into an error.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var errMsg string
		defer func() {
			if rec := recover(); rec != nil {
				errMsg = fmt.Sprintf("panic: %v", rec)
				s.log.Error().Str("request_id", requestID).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Msg("unhandled panic in request handler")
				writeJSON(ww, http.StatusInternalServerError, map[string]string{
					"error": "unhandled_exception",
				})
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			latencyMs := math.Round(float64(elapsed.Nanoseconds())/1e6*100) / 100

			fields := map[string]interface{}{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"query":       r.URL.RawQuery,
				"status_code": status,
				"latency_ms":  latencyMs,
			}
			if errMsg != "" {
				fields["error"] = errMsg
			}
			if err := s.auditor.Append(audit.Event{Type: audit.EventHTTPRequest, Fields: fields}); err != nil {
				s.log.Warn().Err(err).Str("request_id", requestID).
					Msg("dropping http_request audit event")
			}

			httpRequestsTotal.WithLabelValues(r.URL.Path, fmt.Sprintf("%d", status)).Inc()
			httpLatency.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}
