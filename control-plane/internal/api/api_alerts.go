package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/buffer"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/cache"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/metrics"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// maxTelemetryBody bounds one decoded ingest request.
const maxTelemetryBody = 4 << 20

// =============================================================================
// TELEMETRY INGEST
// =============================================================================

// handleIngestTelemetry evaluates one reading or a batch.
//
// Every reading is checked before any is evaluated, so a malformed batch is
// rejected whole with the offending indexes. Evaluation then commits one
// reading at a time in order. If reading i fails, readings before i stay
// committed and the error response carries "applied": i so the sender can
// resubmit from there without repeating them.
func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)

	// Handle gzip compression
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid gzip")
			return
		}
		defer gz.Close()
		reader = gz
	}

	readings, err := decodeTelemetry(io.LimitReader(reader, maxTelemetryBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rejected := checkReadings(readings, tenant); len(rejected) > 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    rejected[0].Error,
			"rejected": rejected,
		})
		return
	}

	if s.queue != nil {
		if err := s.queue.Push(r.Context(), readings...); err != nil {
			if errors.Is(err, buffer.ErrBufferFull) {
				s.writeError(w, http.StatusServiceUnavailable, "telemetry buffer full")
				return
			}
			s.logger.Error("telemetry buffering failed", "tenant_id", tenant, "count", len(readings), "error", err)
			s.writeError(w, http.StatusInternalServerError, "ingestion failed")
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": len(readings),
		})
		return
	}

	alerts := []types.Alert{}
	applied := 0
	for _, tel := range readings {
		out, err := s.svc.Evaluate(r.Context(), tel)
		if err != nil {
			if applied > 0 {
				s.invalidateSLA(r.Context(), tenant)
			}
			metrics.TelemetryIngestedTotal.WithLabelValues("sync").Add(float64(applied))
			status, msg := s.serviceErrorStatus(r, "evaluate telemetry", err)
			s.writeJSON(w, status, map[string]any{
				"error":   msg,
				"applied": applied,
			})
			return
		}
		alerts = append(alerts, out...)
		applied++
	}
	metrics.TelemetryIngestedTotal.WithLabelValues("sync").Add(float64(applied))
	if len(alerts) > 0 {
		s.invalidateSLA(r.Context(), tenant)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// rejectedReading names a reading that failed the pre-evaluation check.
type rejectedReading struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// checkReadings pins each reading to the request tenant and reports the ones
// that can never be evaluated.
func checkReadings(readings []types.Telemetry, tenant string) []rejectedReading {
	var rejected []rejectedReading
	for i := range readings {
		switch readings[i].TenantID {
		case "":
			readings[i].TenantID = tenant
		case tenant:
		default:
			rejected = append(rejected, rejectedReading{Index: i, Error: "tenant_id does not match X-Tenant-ID"})
			continue
		}
		if readings[i].DroneID == "" {
			rejected = append(rejected, rejectedReading{Index: i, Error: "drone_id is required"})
		}
	}
	return rejected
}

// decodeTelemetry accepts either one reading or a JSON array of readings.
func decodeTelemetry(r io.Reader) ([]types.Telemetry, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	if body[0] == '[' {
		var readings []types.Telemetry
		if err := json.Unmarshal(body, &readings); err != nil {
			return nil, err
		}
		return readings, nil
	}

	var tel types.Telemetry
	if err := json.Unmarshal(body, &tel); err != nil {
		return nil, err
	}
	return []types.Telemetry{tel}, nil
}

// =============================================================================
// ALERT ENDPOINTS
// =============================================================================

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.AlertFilter{}

	if status := q.Get("status"); status != "" {
		st := types.AlertStatus(status)
		filter.Status = &st
	}
	if kind := q.Get("alert_kind"); kind != "" {
		k := types.AlertKind(kind)
		filter.Kind = &k
	}
	if droneID := q.Get("drone_id"); droneID != "" {
		filter.DroneID = &droneID
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	alerts, err := s.svc.ListAlerts(r.Context(), tenantID(r), filter)
	if err != nil {
		s.writeServiceError(w, r, "list alerts", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.svc.GetAlert(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get alert", err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

type transitionRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := readOptionalJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := s.svc.Acknowledge(r.Context(), tenantID(r), r.PathValue("id"), actorID(r), req.Comment)
	if err != nil {
		s.writeServiceError(w, r, "acknowledge alert", err)
		return
	}
	s.invalidateSLA(r.Context(), tenantID(r))
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleCloseAlert(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := readOptionalJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := s.svc.Close(r.Context(), tenantID(r), r.PathValue("id"), actorID(r), req.Comment)
	if err != nil {
		s.writeServiceError(w, r, "close alert", err)
		return
	}
	s.invalidateSLA(r.Context(), tenantID(r))
	s.writeJSON(w, http.StatusOK, alert)
}

type noteRequest struct {
	ActionType types.ActionType `json:"action_type"`
	Note       string           `json:"note"`
	Detail     map[string]any   `json:"detail,omitempty"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActionType == "" {
		req.ActionType = types.ActionNote
	}

	action, err := s.svc.AddHandlingNote(r.Context(), tenantID(r), r.PathValue("id"), actorID(r), req.ActionType, req.Note, req.Detail)
	if err != nil {
		s.writeServiceError(w, r, "add handling note", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleListRouteLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.svc.ListRouteLogs(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "list route logs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"route_logs": logs, "count": len(logs)})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.svc.ListHandlingActions(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "list handling actions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	execs, err := s.svc.ListEscalations(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "list escalations", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"escalations": execs, "count": len(execs)})
}

func (s *Server) handleRouteReceipt(w http.ResponseWriter, r *http.Request) {
	var req types.RouteReceipt
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	actor := actorID(r)
	if actor == "" {
		actor = req.ActorID
	}

	entry, err := s.svc.RecordRouteReceipt(r.Context(), tenantID(r), r.PathValue("id"), actor, req.Status, req.ReceiptID, req.Detail)
	if err != nil {
		s.writeServiceError(w, r, "record route receipt", err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// =============================================================================
// ESCALATION AND SLA
// =============================================================================

func (s *Server) handleEscalationSweep(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	dryRun := false
	if v := q.Get("dry_run"); v != "" {
		if dryRun, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid dry_run")
			return
		}
	}

	result, err := s.svc.RunEscalationSweep(r.Context(), tenantID(r), limit, dryRun)
	if err != nil {
		s.writeServiceError(w, r, "escalation sweep", err)
		return
	}
	if !dryRun && result.Escalated > 0 {
		s.invalidateSLA(r.Context(), tenantID(r))
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSLAOverview(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	from, err := timeParam(r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid from: expected RFC3339")
		return
	}
	to, err := timeParam(r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid to: expected RFC3339")
		return
	}

	cacheKey := cache.SLAKey(tenant, from, to)

	// Try cache first
	if s.cache != nil {
		if data, err := s.cache.Get(r.Context(), cacheKey); err == nil && data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	sla, err := s.svc.GetSLAOverview(r.Context(), tenant, from, to)
	if err != nil {
		s.writeServiceError(w, r, "sla overview", err)
		return
	}

	// Cache the result
	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), cacheKey, sla, config.CacheTTLSLAOverview); err != nil {
			s.logger.Warn("failed to cache sla overview", "tenant_id", tenant, "error", err)
		}
	}

	s.writeJSON(w, http.StatusOK, sla)
}

func (s *Server) invalidateSLA(ctx context.Context, tenant string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSLA(ctx, tenant); err != nil {
		s.logger.Warn("failed to invalidate sla cache", "tenant_id", tenant, "error", err)
	}
}

// =============================================================================
// PARAMETER HELPERS
// =============================================================================

// readOptionalJSON decodes the body if there is one.
func readOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
