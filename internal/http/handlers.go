package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	applog "fieldservice/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.ready == nil {
		checks["store"] = "ok"
	} else if err := s.ready(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	checks["overview_cache"] = s.ledger.CacheStats()

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	traceMetrics := s.trace.GetMetrics()
	limitMetrics := s.limiter.GetMetrics()
	cacheStats := s.ledger.CacheStats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "counter", "HTTP responses with a 5xx status", traceMetrics.ServerErrors)
	metric("overview_cache_entries", "gauge", "Cached overviews of closed months", cacheStats.Size)
	metric("overview_cache_hits_total", "counter", "Overview cache hits", cacheStats.Hits)
	metric("overview_cache_misses_total", "counter", "Overview cache misses", cacheStats.Misses)
	metric("rate_limit_rejected_total", "counter", "Write requests rejected by the rate limiter", limitMetrics.Rejected)
	metric("rate_limit_clients", "gauge", "Clients tracked by the rate limiter", limitMetrics.ClientCount)
	metric("uptime_seconds", "gauge", "Process uptime in seconds", int64(time.Since(s.started).Seconds()))
}

func (s *Server) handleListPublishers(w http.ResponseWriter, r *http.Request) {
	publishers, err := s.ledger.ListPublishers(r.Context())
	if err != nil {
		s.writeError(w, r, "list_publishers", err)
		return
	}
	writeJSON(w, http.StatusOK, publishers)
}

func (s *Server) handleRegisterPublisher(w http.ResponseWriter, r *http.Request) {
	var req publisherRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, "register_publisher", err)
		return
	}
	p, err := s.ledger.RegisterPublisher(r.Context(), req.toCore())
	if err != nil {
		s.writeError(w, r, "register_publisher", err)
		return
	}
	s.logger.InfoContext(r.Context(), "Publisher registered",
		applog.FieldPublisherID, p.ID,
		"status", p.Status)
	writeJSON(w, http.StatusCreated, p)
}
