package service

import (
	"context"
	"fmt"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Alert lifecycle:
//
//	OPEN ──ack──▶ ACKED ──close──▶ CLOSED
//	  └──────────close──────────────▲
//
// Re-acking an ACKED alert and re-closing a CLOSED alert are no-ops.
// Acking a CLOSED alert is a conflict. CLOSED is terminal: a new trigger for
// the same key creates a new alert.

// canAck reports whether an ack changes the alert.
func canAck(a *types.Alert) (bool, error) {
	switch a.Status {
	case types.AlertStatusOpen:
		return true, nil
	case types.AlertStatusAcked:
		return false, nil
	case types.AlertStatusClosed:
		return false, fmt.Errorf("%w: alert %s is closed", types.ErrConflict, a.ID)
	default:
		return false, fmt.Errorf("%w: alert %s has unknown status %q", types.ErrConflict, a.ID, a.Status)
	}
}

// canClose reports whether a close changes the alert.
func canClose(a *types.Alert) bool {
	return a.Status != types.AlertStatusClosed
}

// Acknowledge moves an OPEN alert to ACKED.
func (s *Service) Acknowledge(ctx context.Context, tenantID, alertID, actorID, comment string) (*types.Alert, error) {
	if err := requireActor(tenantID, actorID); err != nil {
		return nil, err
	}

	var result *types.Alert
	err := s.withTx(ctx, func(sc *txScope) error {
		alert, err := s.lockAlert(ctx, sc, tenantID, alertID)
		if err != nil {
			return err
		}

		apply, err := canAck(alert)
		if err != nil {
			return err
		}
		result = alert
		if !apply {
			return nil
		}

		now := sc.now
		prev := alert.Status
		alert.Status = types.AlertStatusAcked
		alert.AckedAt = &now
		alert.AckedBy = actorID
		alert.UpdatedAt = now
		if comment != "" {
			alert.Detail.AckComment = comment
		}

		if err := sc.tx.UpdateAlert(ctx, alert); err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		if err := s.recordAction(ctx, sc, alert, types.ActionAck, actorID, comment, nil); err != nil {
			return err
		}

		s.emit(sc, types.EventAlertAcked, alert.TenantID, alert.ID, map[string]any{
			"drone_id":        alert.DroneID,
			"alert_kind":      string(alert.Kind),
			"priority":        string(alert.Priority),
			"previous_status": string(prev),
			"status":          string(alert.Status),
			"acked_by":        actorID,
			"acked_at":        now,
			"comment":         comment,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close moves an OPEN or ACKED alert to CLOSED.
func (s *Service) Close(ctx context.Context, tenantID, alertID, actorID, comment string) (*types.Alert, error) {
	if err := requireActor(tenantID, actorID); err != nil {
		return nil, err
	}

	var result *types.Alert
	err := s.withTx(ctx, func(sc *txScope) error {
		alert, err := s.lockAlert(ctx, sc, tenantID, alertID)
		if err != nil {
			return err
		}
		result = alert
		if !canClose(alert) {
			return nil
		}

		now := sc.now
		prev := alert.Status
		alert.Status = types.AlertStatusClosed
		alert.ClosedAt = &now
		alert.ClosedBy = actorID
		alert.UpdatedAt = now
		if comment != "" {
			alert.Detail.CloseComment = comment
		}

		if err := sc.tx.UpdateAlert(ctx, alert); err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		if err := s.recordAction(ctx, sc, alert, types.ActionClose, actorID, comment, nil); err != nil {
			return err
		}

		s.emit(sc, types.EventAlertClosed, alert.TenantID, alert.ID, map[string]any{
			"drone_id":        alert.DroneID,
			"alert_kind":      string(alert.Kind),
			"priority":        string(alert.Priority),
			"previous_status": string(prev),
			"status":          string(alert.Status),
			"closed_by":       actorID,
			"closed_at":       now,
			"comment":         comment,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockAlert loads an alert for update or fails with ErrNotFound.
func (s *Service) lockAlert(ctx context.Context, sc *txScope, tenantID, alertID string) (*types.Alert, error) {
	if err := checkID("alert", alertID); err != nil {
		return nil, err
	}
	alert, err := sc.tx.GetAlert(ctx, tenantID, alertID, true)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if alert == nil {
		return nil, fmt.Errorf("%w: alert %s", types.ErrNotFound, alertID)
	}
	return alert, nil
}

func (s *Service) recordAction(ctx context.Context, sc *txScope, alert *types.Alert, action types.ActionType, actorID, note string, detail map[string]any) error {
	err := sc.tx.InsertHandlingAction(ctx, &types.HandlingAction{
		ID:         s.newID(),
		TenantID:   alert.TenantID,
		AlertID:    alert.ID,
		ActionType: action,
		ActorID:    actorID,
		Note:       note,
		Detail:     detail,
		CreatedAt:  sc.now,
	})
	if err != nil {
		return fmt.Errorf("insert %s action: %w", action, err)
	}
	return nil
}

func requireActor(tenantID, actorID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if actorID == "" {
		return fmt.Errorf("%w: actor_id is required", types.ErrInvalid)
	}
	return nil
}
