package service

import (
	"context"
	"fmt"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// =============================================================================
// ALERT QUERIES
// =============================================================================

// GetAlert retrieves an alert by ID.
func (s *Service) GetAlert(ctx context.Context, tenantID, alertID string) (*types.Alert, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var alert *types.Alert
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		alert, err = s.findAlert(ctx, sc, tenantID, alertID)
		return err
	})
	return alert, err
}

// ListAlerts returns alerts matching the given filter, most recently seen first.
func (s *Service) ListAlerts(ctx context.Context, tenantID string, filter types.AlertFilter) ([]types.Alert, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = config.DefaultPaginationLimit
	}
	if filter.Limit > config.MaxPaginationLimit {
		filter.Limit = config.MaxPaginationLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var alerts []types.Alert
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		alerts, err = sc.tx.ListAlerts(ctx, tenantID, filter)
		return err
	})
	return alerts, err
}

// ListRouteLogs returns the dispatch history of an alert.
func (s *Service) ListRouteLogs(ctx context.Context, tenantID, alertID string) ([]types.RouteLogEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var entries []types.RouteLogEntry
	err := s.withTx(ctx, func(sc *txScope) error {
		if _, err := s.findAlert(ctx, sc, tenantID, alertID); err != nil {
			return err
		}
		var err error
		entries, err = sc.tx.ListRouteLogs(ctx, tenantID, alertID)
		return err
	})
	return entries, err
}

// ListHandlingActions returns the audit trail of an alert.
func (s *Service) ListHandlingActions(ctx context.Context, tenantID, alertID string) ([]types.HandlingAction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var actions []types.HandlingAction
	err := s.withTx(ctx, func(sc *txScope) error {
		if _, err := s.findAlert(ctx, sc, tenantID, alertID); err != nil {
			return err
		}
		var err error
		actions, err = sc.tx.ListHandlingActions(ctx, tenantID, alertID)
		return err
	})
	return actions, err
}

// ListEscalations returns the applied escalations of an alert.
func (s *Service) ListEscalations(ctx context.Context, tenantID, alertID string) ([]types.EscalationExecution, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var execs []types.EscalationExecution
	err := s.withTx(ctx, func(sc *txScope) error {
		if _, err := s.findAlert(ctx, sc, tenantID, alertID); err != nil {
			return err
		}
		var err error
		execs, err = sc.tx.ListEscalationExecutions(ctx, tenantID, alertID)
		return err
	})
	return execs, err
}

func (s *Service) findAlert(ctx context.Context, sc *txScope, tenantID, alertID string) (*types.Alert, error) {
	if err := checkID("alert", alertID); err != nil {
		return nil, err
	}
	alert, err := sc.tx.GetAlert(ctx, tenantID, alertID, false)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if alert == nil {
		return nil, fmt.Errorf("%w: alert %s", types.ErrNotFound, alertID)
	}
	return alert, nil
}

// =============================================================================
// HANDLING NOTES
// =============================================================================

// AddHandlingNote appends a manual VERIFY, REVIEW or NOTE action to an alert.
// It does not change the alert.
func (s *Service) AddHandlingNote(ctx context.Context, tenantID, alertID, actorID string, actionType types.ActionType, note string, detail map[string]any) (*types.HandlingAction, error) {
	if err := requireActor(tenantID, actorID); err != nil {
		return nil, err
	}
	if !actionType.ManualAction() {
		return nil, fmt.Errorf("%w: action type %q cannot be recorded manually", types.ErrConflict, actionType)
	}

	var action *types.HandlingAction
	err := s.withTx(ctx, func(sc *txScope) error {
		alert, err := s.findAlert(ctx, sc, tenantID, alertID)
		if err != nil {
			return err
		}
		action = &types.HandlingAction{
			ID:         s.newID(),
			TenantID:   tenantID,
			AlertID:    alert.ID,
			ActionType: actionType,
			ActorID:    actorID,
			Note:       note,
			Detail:     detail,
			CreatedAt:  sc.now,
		}
		if err := sc.tx.InsertHandlingAction(ctx, action); err != nil {
			return fmt.Errorf("insert %s action: %w", actionType, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// =============================================================================
// ROUTE RECEIPTS
// =============================================================================

// RecordRouteReceipt attaches a delivery receipt to a route log entry.
// A later receipt replaces an earlier one.
func (s *Service) RecordRouteReceipt(ctx context.Context, tenantID, routeLogID, actorID, status, receiptID string, detail map[string]any) (*types.RouteLogEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", types.ErrInvalid)
	}

	var entry *types.RouteLogEntry
	if err := checkID("route log", routeLogID); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		entry, err = sc.tx.GetRouteLog(ctx, tenantID, routeLogID, true)
		if err != nil {
			return fmt.Errorf("get route log: %w", err)
		}
		if entry == nil {
			return fmt.Errorf("%w: route log %s", types.ErrNotFound, routeLogID)
		}

		receipt := map[string]any{
			"status":      status,
			"receipt_id":  receiptID,
			"actor_id":    actorID,
			"received_at": sc.now,
		}
		if len(detail) > 0 {
			receipt["detail"] = detail
		}

		merged := make(map[string]any, len(entry.Detail)+1)
		for k, v := range entry.Detail {
			merged[k] = v
		}
		merged["receipt"] = receipt
		entry.Detail = merged

		if err := sc.tx.UpdateRouteLogDetail(ctx, tenantID, entry.ID, entry.Detail); err != nil {
			return fmt.Errorf("update route log: %w", err)
		}

		s.emit(sc, types.EventRouteReceipt, tenantID, entry.AlertID, map[string]any{
			"route_log_id": entry.ID,
			"channel":      string(entry.Channel),
			"target":       entry.Target,
			"status":       status,
			"receipt_id":   receiptID,
			"actor_id":     actorID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
