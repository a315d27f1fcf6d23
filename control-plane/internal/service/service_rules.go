package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// ruleWriteErr maps store uniqueness violations to conflicts.
func ruleWriteErr(op string, err error) error {
	if errors.Is(err, types.ErrDuplicate) {
		return fmt.Errorf("%w: %s: %v", types.ErrConflict, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, id)
}

// checkID rejects ids that cannot name a stored row. Every id the service
// hands out is a UUID, and Postgres fails the query outright on anything else.
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound(kind, id)
	}
	return nil
}

// =============================================================================
// ROUTING RULES
// =============================================================================

// CreateRoutingRule validates and stores a new routing rule.
func (s *Service) CreateRoutingRule(ctx context.Context, tenantID string, rule *types.RoutingRule) (*types.RoutingRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		rule.ID = s.newID()
		rule.TenantID = tenantID
		rule.CreatedAt, rule.UpdatedAt = sc.now, sc.now
		if err := sc.tx.CreateRoutingRule(ctx, rule); err != nil {
			return ruleWriteErr("create routing rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRoutingRule retrieves a routing rule.
func (s *Service) GetRoutingRule(ctx context.Context, tenantID, id string) (*types.RoutingRule, error) {
	var rule *types.RoutingRule
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		if err := checkID("routing rule", id); err != nil {
			return err
		}
		if rule, err = sc.tx.GetRoutingRule(ctx, tenantID, id); err != nil {
			return err
		}
		if rule == nil {
			return notFound("routing rule", id)
		}
		return nil
	})
	return rule, err
}

// ListRoutingRules returns the tenant's routing rules in creation order.
func (s *Service) ListRoutingRules(ctx context.Context, tenantID string) ([]types.RoutingRule, error) {
	var rules []types.RoutingRule
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		rules, err = sc.tx.ListRoutingRules(ctx, tenantID, false)
		return err
	})
	return rules, err
}

// UpdateRoutingRule replaces the mutable fields of a routing rule.
func (s *Service) UpdateRoutingRule(ctx context.Context, tenantID, id string, rule *types.RoutingRule) (*types.RoutingRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("routing rule", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetRoutingRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("routing rule", id)
		}
		rule.ID, rule.TenantID, rule.CreatedAt = existing.ID, tenantID, existing.CreatedAt
		rule.UpdatedAt = sc.now
		if err := sc.tx.UpdateRoutingRule(ctx, rule); err != nil {
			return ruleWriteErr("update routing rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRoutingRule removes a routing rule.
func (s *Service) DeleteRoutingRule(ctx context.Context, tenantID, id string) error {
	return s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("routing rule", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetRoutingRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("routing rule", id)
		}
		return sc.tx.DeleteRoutingRule(ctx, tenantID, id)
	})
}

// =============================================================================
// SILENCE RULES
// =============================================================================

// CreateSilenceRule validates and stores a new silence rule.
func (s *Service) CreateSilenceRule(ctx context.Context, tenantID string, rule *types.SilenceRule) (*types.SilenceRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		rule.ID = s.newID()
		rule.TenantID = tenantID
		rule.CreatedAt, rule.UpdatedAt = sc.now, sc.now
		if err := sc.tx.CreateSilenceRule(ctx, rule); err != nil {
			return ruleWriteErr("create silence rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetSilenceRule retrieves a silence rule.
func (s *Service) GetSilenceRule(ctx context.Context, tenantID, id string) (*types.SilenceRule, error) {
	var rule *types.SilenceRule
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		if err := checkID("silence rule", id); err != nil {
			return err
		}
		if rule, err = sc.tx.GetSilenceRule(ctx, tenantID, id); err != nil {
			return err
		}
		if rule == nil {
			return notFound("silence rule", id)
		}
		return nil
	})
	return rule, err
}

// ListSilenceRules returns the tenant's silence rules in creation order.
func (s *Service) ListSilenceRules(ctx context.Context, tenantID string) ([]types.SilenceRule, error) {
	var rules []types.SilenceRule
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		rules, err = sc.tx.ListSilenceRules(ctx, tenantID, false)
		return err
	})
	return rules, err
}

// UpdateSilenceRule replaces the mutable fields of a silence rule.
func (s *Service) UpdateSilenceRule(ctx context.Context, tenantID, id string, rule *types.SilenceRule) (*types.SilenceRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("silence rule", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetSilenceRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("silence rule", id)
		}
		rule.ID, rule.TenantID, rule.CreatedAt = existing.ID, tenantID, existing.CreatedAt
		rule.UpdatedAt = sc.now
		if err := sc.tx.UpdateSilenceRule(ctx, rule); err != nil {
			return ruleWriteErr("update silence rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteSilenceRule removes a silence rule.
func (s *Service) DeleteSilenceRule(ctx context.Context, tenantID, id string) error {
	return s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("silence rule", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetSilenceRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("silence rule", id)
		}
		return sc.tx.DeleteSilenceRule(ctx, tenantID, id)
	})
}

// =============================================================================
// AGGREGATION RULES
// =============================================================================

// CreateAggregationRule validates and stores a new aggregation rule.
func (s *Service) CreateAggregationRule(ctx context.Context, tenantID string, rule *types.AggregationRule) (*types.AggregationRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		rule.ID = s.newID()
		rule.TenantID = tenantID
		rule.CreatedAt, rule.UpdatedAt = sc.now, sc.now
		if err := sc.tx.CreateAggregationRule(ctx, rule); err != nil {
			return ruleWriteErr("create aggregation rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetAggregationRule retrieves an aggregation rule.
func (s *Service) GetAggregationRule(ctx context.Context, tenantID, id string) (*types.AggregationRule, error) {
	var rule *types.AggregationRule
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		if err := checkID("aggregation rule", id); err != nil {
			return err
		}
		if rule, err = sc.tx.GetAggregationRule(ctx, tenantID, id); err != nil {
			return err
		}
		if rule == nil {
			return notFound("aggregation rule", id)
		}
		return nil
	})
	return rule, err
}

// ListAggregationRules returns the tenant's aggregation rules in creation order.
func (s *Service) ListAggregationRules(ctx context.Context, tenantID string) ([]types.AggregationRule, error) {
	var rules []types.AggregationRule
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		rules, err = sc.tx.ListAggregationRules(ctx, tenantID, false)
		return err
	})
	return rules, err
}

// UpdateAggregationRule replaces the mutable fields of an aggregation rule.
func (s *Service) UpdateAggregationRule(ctx context.Context, tenantID, id string, rule *types.AggregationRule) (*types.AggregationRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("aggregation rule", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetAggregationRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("aggregation rule", id)
		}
		rule.ID, rule.TenantID, rule.CreatedAt = existing.ID, tenantID, existing.CreatedAt
		rule.UpdatedAt = sc.now
		if err := sc.tx.UpdateAggregationRule(ctx, rule); err != nil {
			return ruleWriteErr("update aggregation rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteAggregationRule removes an aggregation rule.
func (s *Service) DeleteAggregationRule(ctx context.Context, tenantID, id string) error {
	return s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("aggregation rule", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetAggregationRule(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("aggregation rule", id)
		}
		return sc.tx.DeleteAggregationRule(ctx, tenantID, id)
	})
}

// =============================================================================
// ONCALL SHIFTS
// =============================================================================

// CreateOncallShift validates and stores a new shift.
func (s *Service) CreateOncallShift(ctx context.Context, tenantID string, shift *types.OncallShift) (*types.OncallShift, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := shift.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		shift.ID = s.newID()
		shift.TenantID = tenantID
		shift.CreatedAt, shift.UpdatedAt = sc.now, sc.now
		if err := sc.tx.CreateOncallShift(ctx, shift); err != nil {
			return ruleWriteErr("create oncall shift", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shift, nil
}

// GetOncallShift retrieves a shift.
func (s *Service) GetOncallShift(ctx context.Context, tenantID, id string) (*types.OncallShift, error) {
	var shift *types.OncallShift
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		if err := checkID("oncall shift", id); err != nil {
			return err
		}
		if shift, err = sc.tx.GetOncallShift(ctx, tenantID, id); err != nil {
			return err
		}
		if shift == nil {
			return notFound("oncall shift", id)
		}
		return nil
	})
	return shift, err
}

// ListOncallShifts returns the tenant's shifts ordered by start.
func (s *Service) ListOncallShifts(ctx context.Context, tenantID string) ([]types.OncallShift, error) {
	var shifts []types.OncallShift
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		shifts, err = sc.tx.ListOncallShifts(ctx, tenantID, false)
		return err
	})
	return shifts, err
}

// UpdateOncallShift replaces the mutable fields of a shift.
func (s *Service) UpdateOncallShift(ctx context.Context, tenantID, id string, shift *types.OncallShift) (*types.OncallShift, error) {
	if err := shift.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("oncall shift", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetOncallShift(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("oncall shift", id)
		}
		shift.ID, shift.TenantID, shift.CreatedAt = existing.ID, tenantID, existing.CreatedAt
		shift.UpdatedAt = sc.now
		if err := sc.tx.UpdateOncallShift(ctx, shift); err != nil {
			return ruleWriteErr("update oncall shift", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shift, nil
}

// DeleteOncallShift removes a shift.
func (s *Service) DeleteOncallShift(ctx context.Context, tenantID, id string) error {
	return s.withTx(ctx, func(sc *txScope) error {
		if err := checkID("oncall shift", id); err != nil {
			return err
		}
		existing, err := sc.tx.GetOncallShift(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("oncall shift", id)
		}
		return sc.tx.DeleteOncallShift(ctx, tenantID, id)
	})
}

// =============================================================================
// ESCALATION POLICIES
// =============================================================================

// UpsertEscalationPolicy creates or replaces the tenant's policy for the
// policy's priority.
func (s *Service) UpsertEscalationPolicy(ctx context.Context, tenantID string, policy *types.EscalationPolicy) (*types.EscalationPolicy, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, func(sc *txScope) error {
		existing, err := sc.tx.GetEscalationPolicy(ctx, tenantID, policy.Priority)
		if err != nil {
			return err
		}
		policy.TenantID = tenantID
		policy.UpdatedAt = sc.now
		if existing != nil {
			policy.ID, policy.CreatedAt = existing.ID, existing.CreatedAt
		} else {
			policy.ID, policy.CreatedAt = s.newID(), sc.now
		}
		if err := sc.tx.UpsertEscalationPolicy(ctx, policy); err != nil {
			return ruleWriteErr("upsert escalation policy", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// GetEscalationPolicy retrieves the policy for a priority.
func (s *Service) GetEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) (*types.EscalationPolicy, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: invalid priority %q", types.ErrInvalid, priority)
	}
	var policy *types.EscalationPolicy
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		if policy, err = sc.tx.GetEscalationPolicy(ctx, tenantID, priority); err != nil {
			return err
		}
		if policy == nil {
			return notFound("escalation policy", string(priority))
		}
		return nil
	})
	return policy, err
}

// ListEscalationPolicies returns the tenant's policies ordered by priority.
func (s *Service) ListEscalationPolicies(ctx context.Context, tenantID string) ([]types.EscalationPolicy, error) {
	var policies []types.EscalationPolicy
	err := s.withTx(ctx, func(sc *txScope) error {
		var err error
		policies, err = sc.tx.ListEscalationPolicies(ctx, tenantID)
		return err
	})
	return policies, err
}

// DeleteEscalationPolicy removes the policy for a priority.
func (s *Service) DeleteEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) error {
	return s.withTx(ctx, func(sc *txScope) error {
		existing, err := sc.tx.GetEscalationPolicy(ctx, tenantID, priority)
		if err != nil {
			return err
		}
		if existing == nil {
			return notFound("escalation policy", string(priority))
		}
		return sc.tx.DeleteEscalationPolicy(ctx, tenantID, priority)
	})
}
