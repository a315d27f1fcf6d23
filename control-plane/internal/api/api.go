// Package api provides HTTP handlers for the control plane.
//
// Every /api/v1 route except health is tenant-scoped: the tenant comes from
// the X-Tenant-ID header and the acting operator from X-Actor-ID.
//
// # Endpoints
//
// Telemetry:
//   - POST /api/v1/telemetry - Evaluate one reading or a batch
//
// Alerts:
//   - GET  /api/v1/alerts - List alerts (status, alert_kind, drone_id, limit, offset)
//   - GET  /api/v1/alerts/{id} - Get alert
//   - POST /api/v1/alerts/{id}/ack - Acknowledge
//   - POST /api/v1/alerts/{id}/close - Close
//   - POST /api/v1/alerts/{id}/notes - Record a VERIFY, REVIEW or NOTE action
//   - GET  /api/v1/alerts/{id}/routes - Route log
//   - GET  /api/v1/alerts/{id}/actions - Handling actions
//   - GET  /api/v1/alerts/{id}/escalations - Escalation executions
//   - POST /api/v1/route-logs/{id}/receipt - Attach a delivery receipt
//
// Escalation and SLA:
//   - POST /api/v1/escalations/sweep - Run a sweep (limit, dry_run)
//   - GET  /api/v1/sla - SLA overview (from, to as RFC3339)
//
// Rules:
//   - GET|POST /api/v1/{routing-rules,silence-rules,aggregation-rules,oncall-shifts}
//   - GET|PUT|DELETE /api/v1/{routing-rules,silence-rules,aggregation-rules,oncall-shifts}/{id}
//   - GET /api/v1/oncall/current - Active on-call target
//   - GET /api/v1/escalation-policies
//   - GET|PUT|DELETE /api/v1/escalation-policies/{priority}
//
// Health:
//   - GET /api/v1/health - Health check
//   - GET /api/v1/infrastructure/health - Process, database and buffer health
//   - GET /metrics - Prometheus metrics
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/cache"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/metrics"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/service"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// TelemetryQueue accepts readings for asynchronous evaluation.
type TelemetryQueue interface {
	Push(ctx context.Context, readings ...types.Telemetry) error
}

// Server is the HTTP API server.
type Server struct {
	svc              *service.Service
	metricsCollector *metrics.Collector
	cache            *cache.Cache
	queue            TelemetryQueue
	logger           *slog.Logger
	mux              *http.ServeMux

	operatorKeyHash string
	limiter         *tenantLimiter
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithCollector enables the infrastructure health endpoint.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.metricsCollector = c }
}

// WithCache enables response caching for the SLA overview. Handlers that
// change alerts drop the tenant's cached overviews; background writers
// (the buffer flusher and the escalation worker) must be given
// Cache.InvalidateSLA as their change hook, or the overview lags by up to
// config.CacheTTLSLAOverview.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithTelemetryQueue makes telemetry ingest asynchronous.
func WithTelemetryQueue(q TelemetryQueue) Option {
	return func(s *Server) { s.queue = q }
}

// WithOperatorKeyHash requires a bearer API key matching the bcrypt hash.
func WithOperatorKeyHash(hash string) Option {
	return func(s *Server) { s.operatorKeyHash = hash }
}

// WithIngestLimit sets the per-tenant telemetry rate limit.
func WithIngestLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = newTenantLimiter(perSecond, burst) }
}

// NewServer creates a new API server.
func NewServer(svc *service.Service, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		logger:  logger.With("component", "api"),
		mux:     http.NewServeMux(),
		limiter: newTenantLimiter(config.DefaultIngestRatePerSecond, config.DefaultIngestBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.operatorKeyHash == "" {
		s.logger.Warn("operator API key not configured, API authentication disabled")
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, Authorization, X-Tenant-ID, X-Actor-ID")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Log request
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"tenant_id", r.Header.Get(headerTenantID),
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	auth := s.OperatorAuthMiddleware()
	api := func(h http.HandlerFunc) http.HandlerFunc {
		return wrapHandler(wrapHandler(h, requireTenant), auth)
	}
	ingest := func(h http.HandlerFunc) http.HandlerFunc {
		return api(wrapHandler(h, s.RateLimitMiddleware))
	}

	// Health
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/infrastructure/health", s.handleInfrastructureHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Telemetry
	s.mux.HandleFunc("POST /api/v1/telemetry", ingest(s.handleIngestTelemetry))

	// Alerts
	s.mux.HandleFunc("GET /api/v1/alerts", api(s.handleListAlerts))
	s.mux.HandleFunc("GET /api/v1/alerts/{id}", api(s.handleGetAlert))
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/ack", api(s.handleAcknowledgeAlert))
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/close", api(s.handleCloseAlert))
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/notes", api(s.handleAddNote))
	s.mux.HandleFunc("GET /api/v1/alerts/{id}/routes", api(s.handleListRouteLogs))
	s.mux.HandleFunc("GET /api/v1/alerts/{id}/actions", api(s.handleListActions))
	s.mux.HandleFunc("GET /api/v1/alerts/{id}/escalations", api(s.handleListEscalations))
	s.mux.HandleFunc("POST /api/v1/route-logs/{id}/receipt", api(s.handleRouteReceipt))

	// Escalation and SLA
	s.mux.HandleFunc("POST /api/v1/escalations/sweep", api(s.handleEscalationSweep))
	s.mux.HandleFunc("GET /api/v1/sla", api(s.handleSLAOverview))

	// Routing rules
	s.mux.HandleFunc("GET /api/v1/routing-rules", api(s.handleListRoutingRules))
	s.mux.HandleFunc("POST /api/v1/routing-rules", api(s.handleCreateRoutingRule))
	s.mux.HandleFunc("GET /api/v1/routing-rules/{id}", api(s.handleGetRoutingRule))
	s.mux.HandleFunc("PUT /api/v1/routing-rules/{id}", api(s.handleUpdateRoutingRule))
	s.mux.HandleFunc("DELETE /api/v1/routing-rules/{id}", api(s.handleDeleteRoutingRule))

	// Silence rules
	s.mux.HandleFunc("GET /api/v1/silence-rules", api(s.handleListSilenceRules))
	s.mux.HandleFunc("POST /api/v1/silence-rules", api(s.handleCreateSilenceRule))
	s.mux.HandleFunc("GET /api/v1/silence-rules/{id}", api(s.handleGetSilenceRule))
	s.mux.HandleFunc("PUT /api/v1/silence-rules/{id}", api(s.handleUpdateSilenceRule))
	s.mux.HandleFunc("DELETE /api/v1/silence-rules/{id}", api(s.handleDeleteSilenceRule))

	// Aggregation rules
	s.mux.HandleFunc("GET /api/v1/aggregation-rules", api(s.handleListAggregationRules))
	s.mux.HandleFunc("POST /api/v1/aggregation-rules", api(s.handleCreateAggregationRule))
	s.mux.HandleFunc("GET /api/v1/aggregation-rules/{id}", api(s.handleGetAggregationRule))
	s.mux.HandleFunc("PUT /api/v1/aggregation-rules/{id}", api(s.handleUpdateAggregationRule))
	s.mux.HandleFunc("DELETE /api/v1/aggregation-rules/{id}", api(s.handleDeleteAggregationRule))

	// On-call
	s.mux.HandleFunc("GET /api/v1/oncall/current", api(s.handleCurrentOncall))
	s.mux.HandleFunc("GET /api/v1/oncall-shifts", api(s.handleListOncallShifts))
	s.mux.HandleFunc("POST /api/v1/oncall-shifts", api(s.handleCreateOncallShift))
	s.mux.HandleFunc("GET /api/v1/oncall-shifts/{id}", api(s.handleGetOncallShift))
	s.mux.HandleFunc("PUT /api/v1/oncall-shifts/{id}", api(s.handleUpdateOncallShift))
	s.mux.HandleFunc("DELETE /api/v1/oncall-shifts/{id}", api(s.handleDeleteOncallShift))

	// Escalation policies
	s.mux.HandleFunc("GET /api/v1/escalation-policies", api(s.handleListEscalationPolicies))
	s.mux.HandleFunc("GET /api/v1/escalation-policies/{priority}", api(s.handleGetEscalationPolicy))
	s.mux.HandleFunc("PUT /api/v1/escalation-policies/{priority}", api(s.handleUpsertEscalationPolicy))
	s.mux.HandleFunc("DELETE /api/v1/escalation-policies/{priority}", api(s.handleDeleteEscalationPolicy))
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInfrastructureHealth(w http.ResponseWriter, r *http.Request) {
	if s.metricsCollector == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics collector not initialized")
		return
	}

	health, err := s.metricsCollector.GetInfrastructureHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get infrastructure health: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, health)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps service errors to HTTP status codes. Unexpected
// errors are logged and hidden from the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := s.serviceErrorStatus(r, op, err)
	s.writeError(w, status, msg)
}

func (s *Server) serviceErrorStatus(r *http.Request, op string, err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, types.ErrConflict), errors.Is(err, types.ErrDuplicate):
		return http.StatusConflict, err.Error()
	default:
		s.logger.Error(op+" failed",
			"tenant_id", tenantID(r),
			"path", r.URL.Path,
			"error", err)
		return http.StatusInternalServerError, op + " failed"
	}
}
