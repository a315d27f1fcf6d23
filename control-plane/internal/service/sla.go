package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// GetSLAOverview aggregates handling performance for alerts first seen in
// [from, to). Either bound may be nil.
func (s *Service) GetSLAOverview(ctx context.Context, tenantID string, from, to *time.Time) (*types.SLASummary, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if from != nil && to != nil && !to.After(*from) {
		return nil, fmt.Errorf("%w: to must be after from", types.ErrInvalid)
	}

	var summary *types.SLASummary
	err := s.withTx(ctx, func(sc *txScope) error {
		alerts, err := sc.tx.ListAlertsFirstSeen(ctx, tenantID, from, to)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}
		timedOut, err := sc.tx.ListEscalatedAlertIDs(ctx, tenantID, types.ReasonAckTimeout, from, to)
		if err != nil {
			return fmt.Errorf("list escalated alerts: %w", err)
		}
		summary = summarizeSLA(alerts, timedOut)
		summary.From, summary.To = from, to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// summarizeSLA computes the overview from the windowed alerts and the IDs of
// alerts in the window that had at least one ACK_TIMEOUT escalation.
func summarizeSLA(alerts []types.Alert, timedOutIDs []string) *types.SLASummary {
	summary := &types.SLASummary{TotalAlerts: len(alerts)}
	if len(alerts) == 0 {
		return summary
	}

	inWindow := make(map[string]bool, len(alerts))
	var ackTotal, resolveTotal time.Duration
	for _, a := range alerts {
		inWindow[a.ID] = true
		if a.AckedAt != nil {
			summary.AckedAlerts++
			ackTotal += a.AckedAt.Sub(a.FirstSeenAt)
		}
		if a.ClosedAt != nil {
			summary.ClosedAlerts++
			resolveTotal += a.ClosedAt.Sub(a.FirstSeenAt)
		}
	}

	if summary.AckedAlerts > 0 {
		summary.MTTASeconds = ackTotal.Seconds() / float64(summary.AckedAlerts)
	}
	if summary.ClosedAlerts > 0 {
		summary.MTTRSeconds = resolveTotal.Seconds() / float64(summary.ClosedAlerts)
	}

	timedOut := make(map[string]bool, len(timedOutIDs))
	for _, id := range timedOutIDs {
		if inWindow[id] {
			timedOut[id] = true
		}
	}
	summary.TimeoutEscalationRate = float64(len(timedOut)) / float64(summary.TotalAlerts)

	return summary
}
