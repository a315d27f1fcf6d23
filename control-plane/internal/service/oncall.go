package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/store"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// pickOncall returns the target of the covering shift with the latest
// starts_at, or the default identity if no shift covers the instant.
// Equal starts_at resolves to the lowest ID.
func pickOncall(shifts []types.OncallShift, at time.Time) string {
	var best *types.OncallShift
	for i := range shifts {
		sh := &shifts[i]
		if !sh.Covers(at) {
			continue
		}
		if best == nil ||
			sh.StartsAt.After(best.StartsAt) ||
			(sh.StartsAt.Equal(best.StartsAt) && sh.ID < best.ID) {
			best = sh
		}
	}
	if best == nil {
		return types.DefaultOncallTarget
	}
	return best.OncallTarget
}

// resolveOncall resolves the active on-call identity for a tenant at an
// instant. It always reads the shifts fresh.
func resolveOncall(ctx context.Context, tx store.Tx, tenantID string, at time.Time) (string, error) {
	shifts, err := tx.ListOncallShifts(ctx, tenantID, true)
	if err != nil {
		return "", fmt.Errorf("list oncall shifts: %w", err)
	}
	return pickOncall(shifts, at), nil
}

// resolveTarget expands the symbolic on-call target. oncall reports whether
// the returned target came from the resolver.
func resolveTarget(ctx context.Context, tx store.Tx, tenantID, target string, at time.Time) (resolved string, oncall bool, err error) {
	if target != types.TargetActiveOncall {
		return target, false, nil
	}
	resolved, err = resolveOncall(ctx, tx, tenantID, at)
	if err != nil {
		return "", false, err
	}
	return resolved, true, nil
}

// CurrentOncall returns who is on call for the tenant right now.
func (s *Service) CurrentOncall(ctx context.Context, tenantID string) (string, error) {
	if err := requireTenant(tenantID); err != nil {
		return "", err
	}
	var target string
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		target, err = resolveOncall(ctx, sc.tx, tenantID, sc.now)
		return err
	})
	return target, err
}
