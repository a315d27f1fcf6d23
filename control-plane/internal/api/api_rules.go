package api

import (
	"net/http"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// =============================================================================
// ROUTING RULES
// =============================================================================

func (s *Server) handleListRoutingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.ListRoutingRules(r.Context(), tenantID(r))
	if err != nil {
		s.writeServiceError(w, r, "list routing rules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleCreateRoutingRule(w http.ResponseWriter, r *http.Request) {
	var rule types.RoutingRule
	if err := s.readJSON(r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.svc.CreateRoutingRule(r.Context(), tenantID(r), &rule)
	if err != nil {
		s.writeServiceError(w, r, "create routing rule", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRoutingRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.GetRoutingRule(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get routing rule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRoutingRule(w http.ResponseWriter, r *http.Request) {
	var rule types.RoutingRule
	if err := s.readJSON(r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.svc.UpdateRoutingRule(r.Context(), tenantID(r), r.PathValue("id"), &rule)
	if err != nil {
		s.writeServiceError(w, r, "update routing rule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRoutingRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteRoutingRule(r.Context(), tenantID(r), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, "delete routing rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SILENCE RULES
// =============================================================================

func (s *Server) handleListSilenceRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.ListSilenceRules(r.Context(), tenantID(r))
	if err != nil {
		s.writeServiceError(w, r, "list silence rules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleCreateSilenceRule(w http.ResponseWriter, r *http.Request) {
	var rule types.SilenceRule
	if err := s.readJSON(r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.svc.CreateSilenceRule(r.Context(), tenantID(r), &rule)
	if err != nil {
		s.writeServiceError(w, r, "create silence rule", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSilenceRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.GetSilenceRule(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get silence rule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateSilenceRule(w http.ResponseWriter, r *http.Request) {
	var rule types.SilenceRule
	if err := s.readJSON(r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.svc.UpdateSilenceRule(r.Context(), tenantID(r), r.PathValue("id"), &rule)
	if err != nil {
		s.writeServiceError(w, r, "update silence rule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSilenceRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSilenceRule(r.Context(), tenantID(r), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, "delete silence rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AGGREGATION RULES
// =============================================================================

func (s *Server) handleListAggregationRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.ListAggregationRules(r.Context(), tenantID(r))
	if err != nil {
		s.writeServiceError(w, r, "list aggregation rules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleCreateAggregationRule(w http.ResponseWriter, r *http.Request) {
	var rule types.AggregationRule
	if err := s.readJSON(r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.svc.CreateAggregationRule(r.Context(), tenantID(r), &rule)
	if err != nil {
		s.writeServiceError(w, r, "create aggregation rule", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAggregationRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.GetAggregationRule(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get aggregation rule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateAggregationRule(w http.ResponseWriter, r *http.Request) {
	var rule types.AggregationRule
	if err := s.readJSON(r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.svc.UpdateAggregationRule(r.Context(), tenantID(r), r.PathValue("id"), &rule)
	if err != nil {
		s.writeServiceError(w, r, "update aggregation rule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAggregationRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteAggregationRule(r.Context(), tenantID(r), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, "delete aggregation rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ONCALL
// =============================================================================

func (s *Server) handleCurrentOncall(w http.ResponseWriter, r *http.Request) {
	target, err := s.svc.CurrentOncall(r.Context(), tenantID(r))
	if err != nil {
		s.writeServiceError(w, r, "current oncall", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"oncall_target": target})
}

func (s *Server) handleListOncallShifts(w http.ResponseWriter, r *http.Request) {
	shifts, err := s.svc.ListOncallShifts(r.Context(), tenantID(r))
	if err != nil {
		s.writeServiceError(w, r, "list oncall shifts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"shifts": shifts, "count": len(shifts)})
}

func (s *Server) handleCreateOncallShift(w http.ResponseWriter, r *http.Request) {
	var shift types.OncallShift
	if err := s.readJSON(r, &shift); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.svc.CreateOncallShift(r.Context(), tenantID(r), &shift)
	if err != nil {
		s.writeServiceError(w, r, "create oncall shift", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOncallShift(w http.ResponseWriter, r *http.Request) {
	shift, err := s.svc.GetOncallShift(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get oncall shift", err)
		return
	}
	s.writeJSON(w, http.StatusOK, shift)
}

func (s *Server) handleUpdateOncallShift(w http.ResponseWriter, r *http.Request) {
	var shift types.OncallShift
	if err := s.readJSON(r, &shift); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.svc.UpdateOncallShift(r.Context(), tenantID(r), r.PathValue("id"), &shift)
	if err != nil {
		s.writeServiceError(w, r, "update oncall shift", err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOncallShift(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteOncallShift(r.Context(), tenantID(r), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, "delete oncall shift", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ESCALATION POLICIES
// =============================================================================

func (s *Server) handleListEscalationPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.svc.ListEscalationPolicies(r.Context(), tenantID(r))
	if err != nil {
		s.writeServiceError(w, r, "list escalation policies", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"policies": policies, "count": len(policies)})
}

func (s *Server) handleGetEscalationPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.svc.GetEscalationPolicy(r.Context(), tenantID(r), types.Priority(r.PathValue("priority")))
	if err != nil {
		s.writeServiceError(w, r, "get escalation policy", err)
		return
	}
	s.writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleUpsertEscalationPolicy(w http.ResponseWriter, r *http.Request) {
	var policy types.EscalationPolicy
	if err := s.readJSON(r, &policy); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	priority := types.Priority(r.PathValue("priority"))
	if policy.Priority != "" && policy.Priority != priority {
		s.writeError(w, http.StatusBadRequest, "priority in body does not match path")
		return
	}
	policy.Priority = priority

	saved, err := s.svc.UpsertEscalationPolicy(r.Context(), tenantID(r), &policy)
	if err != nil {
		s.writeServiceError(w, r, "upsert escalation policy", err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteEscalationPolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEscalationPolicy(r.Context(), tenantID(r), types.Priority(r.PathValue("priority"))); err != nil {
		s.writeServiceError(w, r, "delete escalation policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
