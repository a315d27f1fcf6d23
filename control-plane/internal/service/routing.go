package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/channel"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// route dispatches an alert to every matching routing rule, or to the
// on-call fallback when nothing matches. It writes route logs and the
// DISPATCH action and updates the alert in memory; the caller persists it.
func (s *Service) route(ctx context.Context, sc *txScope, alert *types.Alert) error {
	rules, err := sc.tx.ListRoutingRules(ctx, alert.TenantID, true)
	if err != nil {
		return fmt.Errorf("list routing rules: %w", err)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return createdBefore(rules[i].CreatedAt, rules[i].ID, rules[j].CreatedAt, rules[j].ID)
	})

	routing := &types.RoutingDetail{
		Targets:  []string{},
		RoutedAt: sc.now,
	}

	matched := 0
	for i := range rules {
		rule := &rules[i]
		if !rule.Matches(alert) {
			continue
		}
		matched++

		target, oncall, err := resolveTarget(ctx, sc.tx, alert.TenantID, rule.Target, sc.now)
		if err != nil {
			return err
		}
		ruleID := rule.ID
		if err := s.dispatchAndLog(ctx, sc, alert, &ruleID, rule.Channel, target); err != nil {
			return err
		}
		routing.Targets = append(routing.Targets, target)
		routing.RuleIDs = append(routing.RuleIDs, rule.ID)
		if oncall {
			routing.OncallTarget = target
		}
	}

	if matched == 0 {
		target, err := resolveOncall(ctx, sc.tx, alert.TenantID, sc.now)
		if err != nil {
			return err
		}
		if err := s.dispatchAndLog(ctx, sc, alert, nil, types.ChannelInApp, target); err != nil {
			return err
		}
		routing.Targets = append(routing.Targets, target)
		routing.Fallback = true
		routing.OncallTarget = target
	}

	now := sc.now
	alert.RouteStatus = types.RouteStatusRouted
	alert.RoutedAt = &now
	alert.UpdatedAt = now
	alert.Detail.Routing = routing

	if err := s.recordAction(ctx, sc, alert, types.ActionDispatch, types.ActorSystem, "", map[string]any{
		"priority": string(alert.Priority),
		"targets":  routing.Targets,
		"rule_ids": routing.RuleIDs,
		"fallback": routing.Fallback,
	}); err != nil {
		return err
	}

	s.emit(sc, types.EventAlertRouted, alert.TenantID, alert.ID, map[string]any{
		"drone_id":   alert.DroneID,
		"alert_kind": string(alert.Kind),
		"priority":   string(alert.Priority),
		"targets":    routing.Targets,
		"rule_ids":   routing.RuleIDs,
		"fallback":   routing.Fallback,
		"routed_at":  now,
	})
	return nil
}

// dispatchAndLog sends one dispatch and appends its route log entry.
func (s *Service) dispatchAndLog(ctx context.Context, sc *txScope, alert *types.Alert, ruleID *string, ch types.Channel, target string) error {
	res, err := s.dispatch(ctx, sc, alert, ch, target)
	if err != nil {
		return err
	}

	entry := &types.RouteLogEntry{
		ID:             s.newID(),
		TenantID:       alert.TenantID,
		AlertID:        alert.ID,
		RuleID:         ruleID,
		Priority:       alert.Priority,
		Channel:        ch,
		Target:         target,
		DeliveryStatus: res.Status,
		Detail:         res.Detail,
		CreatedAt:      sc.now,
	}
	if err := sc.tx.InsertRouteLog(ctx, entry); err != nil {
		return fmt.Errorf("insert route log: %w", err)
	}
	return nil
}

// dispatch sends the alert on one channel. A dispatcher error fails the
// enclosing transaction.
func (s *Service) dispatch(ctx context.Context, sc *txScope, alert *types.Alert, ch types.Channel, target string) (channel.Result, error) {
	res, err := s.channels.Dispatch(ctx, ch, channel.Message{
		TenantID: alert.TenantID,
		AlertID:  alert.ID,
		DroneID:  alert.DroneID,
		Kind:     alert.Kind,
		Priority: alert.Priority,
		Target:   target,
		Summary:  alert.Message,
	})
	if err != nil {
		return res, fmt.Errorf("dispatch %s to %s: %w", ch, target, err)
	}
	sc.dispatches = append(sc.dispatches, dispatchOutcome{channel: ch, status: res.Status})
	return res, nil
}
