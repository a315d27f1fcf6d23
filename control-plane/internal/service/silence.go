package service

import (
	"context"
	"sort"
	"time"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// matchSilence returns the first rule that silences (drone, kind) at the
// given instant, or nil. Rules are checked in creation order.
func matchSilence(rules []types.SilenceRule, droneID string, kind types.AlertKind, at time.Time) *types.SilenceRule {
	sort.SliceStable(rules, func(i, j int) bool {
		return createdBefore(rules[i].CreatedAt, rules[i].ID, rules[j].CreatedAt, rules[j].ID)
	})
	for i := range rules {
		if rules[i].Matches(droneID, kind, at) {
			return &rules[i]
		}
	}
	return nil
}

// silenced drops a candidate if a silence rule matches and records the
// suppression event. Nothing else is written for a silenced candidate.
func (s *Service) silenced(ctx context.Context, sc *txScope, rules []types.SilenceRule, tel types.Telemetry, c types.Candidate) bool {
	rule := matchSilence(rules, tel.DroneID, c.Kind, sc.now)
	if rule == nil {
		return false
	}

	s.emit(sc, types.EventAlertSuppressed, tel.TenantID, "", map[string]any{
		"drone_id":          tel.DroneID,
		"alert_kind":        string(c.Kind),
		"severity":          string(c.Severity),
		"silence_rule_id":   rule.ID,
		"silence_rule_name": rule.Name,
		"reason":            rule.Reason,
	})
	s.logger.Debug("candidate silenced",
		"tenant_id", tel.TenantID,
		"drone_id", tel.DroneID,
		"alert_kind", c.Kind,
		"silence_rule_id", rule.ID,
	)
	return true
}

// createdBefore orders rows by creation time, then ID.
func createdBefore(ta time.Time, ida string, tb time.Time, idb string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return ida < idb
}
