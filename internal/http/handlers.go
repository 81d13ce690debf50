package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"ledger/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.ready == nil {
		checks["database"] = "not_configured"
	} else if err := s.ready.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
		checks["database"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if s.rateLimiter != nil {
		checks["rate_limiter"] = map[string]any{
			"active_clients": s.rateLimiter.GetMetrics().ClientCount,
			"status":         "ok",
		}
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	var rateLimitHits, activeClients int64
	if s.rateLimiter != nil {
		m := s.rateLimiter.GetMetrics()
		rateLimitHits, activeClients = m.TotalHits, m.ClientCount
	}

	w.WriteHeader(http.StatusOK)

	counter := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %.0f\n\n", name, help, name, name, v)
	}

	counter("http_requests_total", "Total number of HTTP requests", traceMetrics.TotalRequests)
	counter("http_server_errors_total", "Total number of 5xx responses", traceMetrics.ServerErrors)
	counter("ledger_transactions_posted_total", "Transactions posted over HTTP", atomic.LoadInt64(&s.appMetrics.transactionsPosted))
	counter("ledger_reversals_total", "Transactions reversed over HTTP", atomic.LoadInt64(&s.appMetrics.reversals))
	counter("ledger_amendments_total", "Transactions amended over HTTP", atomic.LoadInt64(&s.appMetrics.amendments))
	counter("ledger_rollovers_total", "Rollover runs requested over HTTP", atomic.LoadInt64(&s.appMetrics.rollovers))
	counter("ledger_imported_records_total", "Import records posted over HTTP", atomic.LoadInt64(&s.appMetrics.importedRecords))
	counter("rate_limit_hits_total", "Total rate limit hits", rateLimitHits)
	counter("suspicious_requests_total", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	gauge("active_rate_limit_clients", "Currently tracked rate limit clients", float64(activeClients))
	gauge("uptime_seconds", "Application uptime in seconds", time.Since(s.appMetrics.uptime).Seconds())
}
