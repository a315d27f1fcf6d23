package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/evaluator"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate runs one telemetry reading through evaluation, silencing and
// dedup in a single transaction and returns the alerts it created.
// Updates to existing alerts are not returned.
//
// If a concurrent writer created the same active alert first, the insert hits
// the active-alert unique index and the whole reading is replayed once so it
// merges into the winner's alert.
func (s *Service) Evaluate(ctx context.Context, tel types.Telemetry) ([]types.Alert, error) {
	if err := requireTenant(tel.TenantID); err != nil {
		return nil, err
	}
	if tel.DroneID == "" {
		return nil, fmt.Errorf("%w: drone_id is required", types.ErrInvalid)
	}

	candidates := evaluator.Evaluate(tel)
	if len(candidates) == 0 {
		return nil, nil
	}

	created, err := s.evaluateOnce(ctx, tel, candidates)
	if errors.Is(err, types.ErrDuplicate) {
		s.logger.Info("concurrent alert creation, retrying evaluation",
			"tenant_id", tel.TenantID,
			"drone_id", tel.DroneID,
		)
		created, err = s.evaluateOnce(ctx, tel, candidates)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) evaluateOnce(ctx context.Context, tel types.Telemetry, candidates []types.Candidate) ([]types.Alert, error) {
	var created []types.Alert
	err := s.withTx(ctx, func(sc *txScope) error {
		created = nil

		silences, err := sc.tx.ListSilenceRules(ctx, tel.TenantID, true)
		if err != nil {
			return fmt.Errorf("list silence rules: %w", err)
		}
		aggregations, err := sc.tx.ListAggregationRules(ctx, tel.TenantID, true)
		if err != nil {
			return fmt.Errorf("list aggregation rules: %w", err)
		}

		for _, c := range candidates {
			if s.silenced(ctx, sc, silences, tel, c) {
				continue
			}

			existing, err := sc.tx.FindActiveAlert(ctx, tel.TenantID, tel.DroneID, c.Kind)
			if err != nil {
				return fmt.Errorf("find active alert: %w", err)
			}

			rule := selectAggregationRule(aggregations, c.Kind)
			if existing == nil {
				alert, err := s.createAlert(ctx, sc, tel, c, rule)
				if err != nil {
					return err
				}
				created = append(created, *alert.Clone())
				continue
			}

			if err := s.mergeAlert(ctx, sc, existing, tel, c, rule); err != nil {
				return err
			}
		}
		return nil
	})
	return created, err
}

// createAlert inserts a new OPEN alert for the candidate and routes it.
func (s *Service) createAlert(ctx context.Context, sc *txScope, tel types.Telemetry, c types.Candidate, rule *types.AggregationRule) (*types.Alert, error) {
	now := sc.now
	alert := &types.Alert{
		ID:          s.newID(),
		TenantID:    tel.TenantID,
		DroneID:     tel.DroneID,
		Kind:        c.Kind,
		Severity:    c.Severity,
		Priority:    types.ComputePriority(c.Kind, c.Severity),
		Status:      types.AlertStatusOpen,
		RouteStatus: types.RouteStatusUnrouted,
		Message:     c.Message,
		Detail: types.AlertDetail{
			RepeatCount: 1,
			Trigger:     triggerDetail(tel, c),
		},
		FirstSeenAt: now,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rule != nil {
		alert.Detail.Aggregation = newAggregation(rule, now)
	}

	if err := sc.tx.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	s.emit(sc, types.EventAlertCreated, alert.TenantID, alert.ID, map[string]any{
		"drone_id":      alert.DroneID,
		"alert_kind":    string(alert.Kind),
		"severity":      string(alert.Severity),
		"priority":      string(alert.Priority),
		"message":       alert.Message,
		"repeat_count":  alert.Detail.RepeatCount,
		"first_seen_at": alert.FirstSeenAt,
	})

	if err := s.route(ctx, sc, alert); err != nil {
		return nil, err
	}
	if err := sc.tx.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}

	s.logger.Info("alert created",
		"tenant_id", alert.TenantID,
		"alert_id", alert.ID,
		"drone_id", alert.DroneID,
		"alert_kind", alert.Kind,
		"priority", alert.Priority,
	)
	return alert, nil
}

// mergeAlert folds a repeated trigger into the existing active alert.
func (s *Service) mergeAlert(ctx context.Context, sc *txScope, alert *types.Alert, tel types.Telemetry, c types.Candidate, rule *types.AggregationRule) error {
	now := sc.now
	prevLastSeen := alert.LastSeenAt
	prevPriority := alert.Priority

	alert.LastSeenAt = now
	alert.UpdatedAt = now
	alert.Message = c.Message
	alert.Detail.RepeatCount++
	alert.Detail.Trigger = triggerDetail(tel, c)

	if rule != nil && s.aggregate(sc, alert, rule, prevLastSeen) {
		s.emit(sc, types.EventAlertNoiseSuppressed, alert.TenantID, alert.ID, map[string]any{
			"drone_id":         alert.DroneID,
			"alert_kind":       string(alert.Kind),
			"aggregation_rule": rule.ID,
			"aggregated_count": alert.Detail.Aggregation.AggregatedCount,
			"noise_threshold":  rule.NoiseThreshold,
			"repeat_count":     alert.Detail.RepeatCount,
		})
	}

	// Severity only ever moves up.
	if c.Severity.Level() > alert.Severity.Level() {
		alert.Severity = c.Severity
	}
	alert.Priority = types.ComputePriority(alert.Kind, alert.Severity)

	if alert.Priority != prevPriority {
		s.logger.Info("alert priority changed, re-routing",
			"alert_id", alert.ID,
			"from", prevPriority,
			"to", alert.Priority,
		)
		if err := s.route(ctx, sc, alert); err != nil {
			return err
		}
	}

	if err := sc.tx.UpdateAlert(ctx, alert); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

// =============================================================================
// AGGREGATION
// =============================================================================

// selectAggregationRule picks the active rule for a kind. An exact kind match
// beats a wildcard; ties go to the earliest created rule.
func selectAggregationRule(rules []types.AggregationRule, kind types.AlertKind) *types.AggregationRule {
	var best *types.AggregationRule
	bestExact := false
	for i := range rules {
		r := &rules[i]
		if !r.IsActive {
			continue
		}
		exact := r.Kind != nil && *r.Kind == kind
		if r.Kind != nil && !exact {
			continue
		}
		switch {
		case best == nil:
		case exact && !bestExact:
		case exact == bestExact && createdBefore(r.CreatedAt, r.ID, best.CreatedAt, best.ID):
		default:
			continue
		}
		best, bestExact = r, exact
	}
	return best
}

func newAggregation(rule *types.AggregationRule, start time.Time) *types.AggregationDetail {
	return &types.AggregationDetail{
		RuleID:          rule.ID,
		WindowSeconds:   rule.WindowSeconds,
		NoiseThreshold:  rule.NoiseThreshold,
		AggregatedCount: 1,
		WindowStartedAt: start,
	}
}

// aggregate updates the windowed repeat count. It reports true when the
// noise threshold is crossed for the first time in the current window.
func (s *Service) aggregate(sc *txScope, alert *types.Alert, rule *types.AggregationRule, prevLastSeen time.Time) bool {
	agg := alert.Detail.Aggregation
	if agg == nil || agg.RuleID != rule.ID {
		agg = newAggregation(rule, prevLastSeen)
	}
	agg.WindowSeconds = rule.WindowSeconds
	agg.NoiseThreshold = rule.NoiseThreshold
	alert.Detail.Aggregation = agg

	if sc.now.Sub(prevLastSeen) > rule.Window() {
		// Outside the window: start a new one and lift any suppression.
		agg.AggregatedCount = 1
		agg.WindowStartedAt = sc.now
		if alert.Detail.NoiseControl != nil {
			alert.Detail.NoiseControl = &types.NoiseControl{Suppressed: false}
		}
		return false
	}

	agg.AggregatedCount++
	if rule.NoiseThreshold < 2 || agg.AggregatedCount < rule.NoiseThreshold {
		return false
	}
	if alert.Detail.NoiseControl != nil && alert.Detail.NoiseControl.Suppressed {
		return false
	}

	at := sc.now
	alert.Detail.NoiseControl = &types.NoiseControl{
		Suppressed:   true,
		SuppressedAt: &at,
		Threshold:    rule.NoiseThreshold,
	}
	return true
}

func triggerDetail(tel types.Telemetry, c types.Candidate) map[string]any {
	detail := make(map[string]any, len(c.Detail)+1)
	for k, v := range c.Detail {
		detail[k] = v
	}
	if !tel.Timestamp.IsZero() {
		detail["telemetry_at"] = tel.Timestamp.UTC()
	}
	return detail
}
