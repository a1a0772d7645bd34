// Package api provides the HTTP server for IndiCompute.
// Identity is resolved upstream: the gateway authenticates the user and
// forwards the numeric caller id in the X-User-ID header.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indicompute/indicompute/internal/app/earnings"
	"github.com/indicompute/indicompute/internal/app/jobs"
	"github.com/indicompute/indicompute/internal/app/registry"
	"github.com/indicompute/indicompute/internal/app/wallet"
	"github.com/indicompute/indicompute/internal/health"
	"github.com/indicompute/indicompute/internal/infra/metrics"
)

// Services bundles the application services behind the API.
type Services struct {
	Registry *registry.Service
	Wallet   *wallet.Ledger
	Jobs     *jobs.Lifecycle
	Earnings *earnings.Aggregator
}

// Server is the IndiCompute HTTP API server.
type Server struct {
	svc            Services
	checker        *health.Checker
	metricsEnabled bool
	logger         *slog.Logger
}

// NewServer creates a new API server.
func NewServer(svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Server{svc: svc, logger: logger}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealthChecker makes /health report the checker's latest results.
func (s *Server) SetHealthChecker(c *health.Checker) { s.checker = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(observe)

	r.Get("/health", s.handleHealth)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/marketplace/nodes", s.handleMarketplace)

	r.Route("/nodes", func(r chi.Router) {
		// Node side: authenticated by node key, no caller id.
		r.Post("/{id}/heartbeat", s.handleHeartbeat)

		r.Group(func(r chi.Router) {
			r.Use(requireCaller)
			r.Post("/", s.handleRegisterNode)
			r.Get("/", s.handleListNodes)
			r.Patch("/{id}", s.handleUpdateNode)
			r.Delete("/{id}", s.handleDeleteNode)
			r.Get("/{id}/status", s.handleNodeStatus)
			r.Get("/{id}/activity", s.handleNodeActivity)
			r.Put("/{id}/pricing", s.handleSetPricing)
			r.Get("/{id}/pricing", s.handleGetPricing)
			r.Get("/{id}/earnings", s.handleListEarnings)
			r.Get("/{id}/earnings/dashboard", s.handleDashboard)
		})
	})

	r.Route("/wallet", func(r chi.Router) {
		r.Use(requireCaller)
		r.Post("/topup", s.handleTopUp)
		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleTransactions)
	})

	r.Route("/jobs", func(r chi.Router) {
		// Node side: log lines reported by the executing node.
		r.Post("/{id}/logs", s.handleAppendLog)

		r.Group(func(r chi.Router) {
			r.Use(requireCaller)
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/complete", s.handleCompleteJob)
			r.Get("/{id}/logs", s.handleJobLogs)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.checker.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}

// observe records request latency by route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		metrics.HTTPLatency.WithLabelValues(route, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errType,
		},
	})
}
