package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/store"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// errEscalationTaken aborts an apply transaction whose execution row was
// inserted concurrently by another sweep.
var errEscalationTaken = errors.New("escalation already applied")

// escalationDecision is the outcome of evaluating one alert against its policy.
type escalationDecision struct {
	reason     types.EscalationReason
	level      int
	fromTarget string
	toTarget   string
	oncall     bool // toTarget came from the on-call resolver
}

// RunEscalationSweep scans the tenant's OPEN alerts (oldest first) and
// escalates those whose policy says so. With dryRun nothing is written and
// the returned items describe what would have been applied.
func (s *Service) RunEscalationSweep(ctx context.Context, tenantID string, limit int, dryRun bool) (*types.SweepResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	limit = clampScanLimit(limit)

	result := &types.SweepResult{Items: []types.EscalationItem{}}

	if dryRun {
		err := s.withTx(ctx, func(sc *txScope) error {
			alerts, err := sc.tx.ListOpenAlerts(ctx, tenantID, limit)
			if err != nil {
				return fmt.Errorf("list open alerts: %w", err)
			}
			result.Scanned = len(alerts)
			for i := range alerts {
				item, err := s.planEscalation(ctx, sc.tx, &alerts[i], sc.now)
				if err != nil {
					return err
				}
				if item != nil {
					item.DryRun = true
					result.Items = append(result.Items, *item)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		result.Escalated = len(result.Items)
		return result, nil
	}

	var ids []string
	err := s.withTx(ctx, func(sc *txScope) error {
		alerts, err := sc.tx.ListOpenAlerts(ctx, tenantID, limit)
		if err != nil {
			return fmt.Errorf("list open alerts: %w", err)
		}
		for _, a := range alerts {
			ids = append(ids, a.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Scanned = len(ids)

	// Each alert escalates in its own transaction.
	for _, id := range ids {
		item, err := s.escalateAlert(ctx, tenantID, id)
		if errors.Is(err, errEscalationTaken) {
			s.logger.Debug("escalation applied concurrently, skipping", "alert_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("escalate alert %s: %w", id, err)
		}
		if item != nil {
			result.Items = append(result.Items, *item)
		}
	}
	result.Escalated = len(result.Items)

	if result.Escalated > 0 {
		s.logger.Info("escalation sweep applied",
			"tenant_id", tenantID,
			"scanned", result.Scanned,
			"escalated", result.Escalated,
		)
	}
	return result, nil
}

// escalateAlert re-reads one alert under lock and applies its escalation, if any.
func (s *Service) escalateAlert(ctx context.Context, tenantID, alertID string) (*types.EscalationItem, error) {
	var item *types.EscalationItem
	err := s.withTx(ctx, func(sc *txScope) error {
		item = nil
		alert, err := sc.tx.GetAlert(ctx, tenantID, alertID, true)
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		if alert == nil || alert.Status != types.AlertStatusOpen {
			return nil
		}

		policy, decision, err := s.decide(ctx, sc.tx, alert, sc.now)
		if err != nil || decision == nil {
			return err
		}

		fromLevel := alert.EscalationLevel()
		if err := s.applyEscalation(ctx, sc, alert, policy, decision); err != nil {
			return err
		}
		item = newEscalationItem(alert, decision, policy, fromLevel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// planEscalation computes the item a sweep would apply, without writing.
func (s *Service) planEscalation(ctx context.Context, tx store.Tx, alert *types.Alert, now time.Time) (*types.EscalationItem, error) {
	policy, decision, err := s.decide(ctx, tx, alert, now)
	if err != nil || decision == nil {
		return nil, err
	}
	return newEscalationItem(alert, decision, policy, alert.EscalationLevel()), nil
}

// decide loads the alert's policy and current on-call, picks the escalation
// and drops it if an execution already exists at the chosen level.
func (s *Service) decide(ctx context.Context, tx store.Tx, alert *types.Alert, now time.Time) (*types.EscalationPolicy, *escalationDecision, error) {
	policy, err := tx.GetEscalationPolicy(ctx, alert.TenantID, alert.Priority)
	if err != nil {
		return nil, nil, fmt.Errorf("get escalation policy: %w", err)
	}
	if policy == nil || !policy.IsActive {
		return nil, nil, nil
	}

	oncallNow, err := resolveOncall(ctx, tx, alert.TenantID, now)
	if err != nil {
		return nil, nil, err
	}
	policyTarget, policyOncall, err := resolveTarget(ctx, tx, alert.TenantID, policy.Target, now)
	if err != nil {
		return nil, nil, err
	}

	decision := decideEscalation(alert, policy, oncallNow, policyTarget, policyOncall, now)
	if decision == nil {
		return nil, nil, nil
	}

	exists, err := tx.EscalationExists(ctx, alert.TenantID, alert.ID, decision.level)
	if err != nil {
		return nil, nil, fmt.Errorf("check escalation execution: %w", err)
	}
	if exists {
		return nil, nil, nil
	}
	return policy, decision, nil
}

// decideEscalation applies the decision order: SHIFT_HANDOVER, then
// ACK_TIMEOUT, then REPEAT_TRIGGER. The first that fires wins.
func decideEscalation(alert *types.Alert, policy *types.EscalationPolicy, oncallNow, policyTarget string, policyOncall bool, now time.Time) *escalationDecision {
	level := alert.EscalationLevel()
	from := currentTarget(alert)

	if recorded := recordedOncall(alert); recorded != "" && recorded != oncallNow {
		return &escalationDecision{
			reason:     types.ReasonShiftHandover,
			level:      max(level, 1),
			fromTarget: from,
			toTarget:   oncallNow,
			oncall:     true,
		}
	}

	next := level + 1
	if next > policy.MaxEscalationLevel {
		return nil
	}

	since := alert.FirstSeenAt
	if alert.RoutedAt != nil {
		since = *alert.RoutedAt
	}
	if now.Sub(since) >= policy.AckTimeout() {
		return &escalationDecision{
			reason:     types.ReasonAckTimeout,
			level:      next,
			fromTarget: from,
			toTarget:   policyTarget,
			oncall:     policyOncall,
		}
	}

	if policy.RepeatThreshold > 0 && alert.Detail.RepeatCount >= policy.RepeatThreshold {
		return &escalationDecision{
			reason:     types.ReasonRepeatTrigger,
			level:      next,
			fromTarget: from,
			toTarget:   policyTarget,
			oncall:     policyOncall,
		}
	}

	return nil
}

// applyEscalation dispatches, writes the execution and action, and updates the alert.
func (s *Service) applyEscalation(ctx context.Context, sc *txScope, alert *types.Alert, policy *types.EscalationPolicy, d *escalationDecision) error {
	now := sc.now
	fromLevel := alert.EscalationLevel()

	res, err := s.dispatch(ctx, sc, alert, policy.Channel, d.toTarget)
	if err != nil {
		return err
	}

	exec := &types.EscalationExecution{
		ID:         s.newID(),
		TenantID:   alert.TenantID,
		AlertID:    alert.ID,
		Level:      d.level,
		Reason:     d.reason,
		Channel:    policy.Channel,
		FromTarget: d.fromTarget,
		ToTarget:   d.toTarget,
		Detail: map[string]any{
			"delivery_status": string(res.Status),
			"dispatch":        res.Detail,
			"policy_id":       policy.ID,
			"from_level":      fromLevel,
		},
		CreatedAt: now,
	}
	if err := sc.tx.InsertEscalationExecution(ctx, exec); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			return errEscalationTaken
		}
		return fmt.Errorf("insert escalation execution: %w", err)
	}

	if err := s.recordAction(ctx, sc, alert, types.ActionEscalate, types.ActorSystem, "", map[string]any{
		"reason":      string(d.reason),
		"level":       d.level,
		"from_target": d.fromTarget,
		"to_target":   d.toTarget,
		"channel":     string(policy.Channel),
	}); err != nil {
		return err
	}

	count := 1
	if alert.Detail.Escalation != nil {
		count = alert.Detail.Escalation.Count + 1
	}
	alert.Detail.Escalation = &types.EscalationDetail{
		Level:       d.level,
		Reason:      d.reason,
		Target:      d.toTarget,
		Channel:     policy.Channel,
		EscalatedAt: now,
		Count:       count,
	}
	if d.oncall {
		if alert.Detail.Routing == nil {
			alert.Detail.Routing = &types.RoutingDetail{Targets: []string{}, RoutedAt: now}
		}
		alert.Detail.Routing.OncallTarget = d.toTarget
	}
	alert.RouteStatus = types.RouteStatusRouted
	alert.RoutedAt = &now
	alert.LastSeenAt = now
	alert.UpdatedAt = now

	if err := sc.tx.UpdateAlert(ctx, alert); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}

	s.emit(sc, types.EventAlertEscalated, alert.TenantID, alert.ID, map[string]any{
		"drone_id":        alert.DroneID,
		"alert_kind":      string(alert.Kind),
		"priority":        string(alert.Priority),
		"reason":          string(d.reason),
		"from_level":      fromLevel,
		"level":           d.level,
		"channel":         string(policy.Channel),
		"from_target":     d.fromTarget,
		"to_target":       d.toTarget,
		"delivery_status": string(res.Status),
		"escalated_at":    now,
	})
	return nil
}

func newEscalationItem(alert *types.Alert, d *escalationDecision, policy *types.EscalationPolicy, fromLevel int) *types.EscalationItem {
	return &types.EscalationItem{
		AlertID:    alert.ID,
		DroneID:    alert.DroneID,
		Priority:   alert.Priority,
		Reason:     d.reason,
		FromLevel:  fromLevel,
		Level:      d.level,
		Channel:    policy.Channel,
		FromTarget: d.fromTarget,
		ToTarget:   d.toTarget,
	}
}

// recordedOncall is the on-call identity the alert was last handed to, if any.
func recordedOncall(alert *types.Alert) string {
	if alert.Detail.Routing == nil {
		return ""
	}
	return alert.Detail.Routing.OncallTarget
}

// currentTarget is where the alert currently points: the latest escalation
// target, else the recorded on-call, else the first routed target.
func currentTarget(alert *types.Alert) string {
	if alert.Detail.Escalation != nil && alert.Detail.Escalation.Target != "" {
		return alert.Detail.Escalation.Target
	}
	if r := alert.Detail.Routing; r != nil {
		if r.OncallTarget != "" {
			return r.OncallTarget
		}
		if len(r.Targets) > 0 {
			return r.Targets[0]
		}
	}
	return ""
}

func clampScanLimit(limit int) int {
	if limit <= 0 {
		return config.DefaultEscalationScanLimit
	}
	if limit > config.MaxEscalationScanLimit {
		return config.MaxEscalationScanLimit
	}
	return limit
}
