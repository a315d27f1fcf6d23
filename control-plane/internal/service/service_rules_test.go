package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/testutil"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

func TestRoutingRuleCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rule, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
		r.Name = "p1-ops"
	}))
	if err != nil {
		t.Fatalf("CreateRoutingRule: %v", err)
	}
	if rule.ID == "" || rule.TenantID != tenant || !rule.CreatedAt.Equal(t0) {
		t.Errorf("created: %+v", rule)
	}

	t.Run("duplicate name conflicts", func(t *testing.T) {
		_, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
			r.Name = "p1-ops"
		}))
		if !errors.Is(err, types.ErrConflict) {
			t.Errorf("got %v, want ErrConflict", err)
		}
	})

	t.Run("invalid rule", func(t *testing.T) {
		_, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
			r.Priority = "P9"
		}))
		if !errors.Is(err, types.ErrInvalid) {
			t.Errorf("got %v, want ErrInvalid", err)
		}
	})

	t.Run("update keeps identity", func(t *testing.T) {
		h.clock.Advance(time.Minute)
		updated, err := h.svc.UpdateRoutingRule(ctx, tenant, rule.ID, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
			r.Name = "p1-ops"
			r.Target = "https://hooks.example.test/night"
		}))
		if err != nil {
			t.Fatalf("UpdateRoutingRule: %v", err)
		}
		if updated.ID != rule.ID || !updated.CreatedAt.Equal(t0) || !updated.UpdatedAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("updated: %+v", updated)
		}
		got, _ := h.svc.GetRoutingRule(ctx, tenant, rule.ID)
		if got.Target != "https://hooks.example.test/night" {
			t.Errorf("target not stored: %s", got.Target)
		}
	})

	t.Run("tenant isolation", func(t *testing.T) {
		if _, err := h.svc.GetRoutingRule(ctx, "tenant-other", rule.ID); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := h.svc.UpdateRoutingRule(ctx, tenant, "missing", testutil.FixtureRoutingRule()); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("update: %v", err)
		}
		if err := h.svc.DeleteRoutingRule(ctx, tenant, "missing"); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("delete: %v", err)
		}
	})

	if err := h.svc.DeleteRoutingRule(ctx, tenant, rule.ID); err != nil {
		t.Fatalf("DeleteRoutingRule: %v", err)
	}
	rules, _ := h.svc.ListRoutingRules(ctx, tenant)
	if len(rules) != 0 {
		t.Errorf("expected no rules after delete, got %d", len(rules))
	}
}

func TestSilenceRule_MalformedWindowConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateSilenceRule(ctx, tenant, testutil.FixtureSilenceRule(func(r *types.SilenceRule) {
		r.StartsAt = testutil.Ptr(t0)
		r.EndsAt = testutil.Ptr(t0)
	}))
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}

	rule, err := h.svc.CreateSilenceRule(ctx, tenant, testutil.FixtureSilenceRule())
	if err != nil {
		t.Fatalf("CreateSilenceRule: %v", err)
	}
	rule.IsActive = false
	if _, err := h.svc.UpdateSilenceRule(ctx, tenant, rule.ID, rule); err != nil {
		t.Fatalf("UpdateSilenceRule: %v", err)
	}

	// An inactive silence no longer applies.
	if created := h.evaluate(t, testutil.FixtureLowBattery(5)); len(created) != 1 {
		t.Errorf("expected an alert once the silence is inactive, got %d", len(created))
	}
}

func TestAggregationRuleCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateAggregationRule(ctx, tenant, testutil.FixtureAggregationRule(func(r *types.AggregationRule) {
		r.WindowSeconds = 0
	}))
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("zero window: got %v, want ErrInvalid", err)
	}

	rule, err := h.svc.CreateAggregationRule(ctx, tenant, testutil.FixtureAggregationRule())
	if err != nil {
		t.Fatalf("CreateAggregationRule: %v", err)
	}
	if got, err := h.svc.GetAggregationRule(ctx, tenant, rule.ID); err != nil || got.WindowSeconds != 300 {
		t.Errorf("get: %+v %v", got, err)
	}
	if err := h.svc.DeleteAggregationRule(ctx, tenant, rule.ID); err != nil {
		t.Fatalf("DeleteAggregationRule: %v", err)
	}
	if _, err := h.svc.GetAggregationRule(ctx, tenant, rule.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
}

func TestOncallShiftValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateOncallShift(ctx, tenant, testutil.FixtureOncallShift("alice", t0, func(s *types.OncallShift) {
		s.EndsAt = t0.Add(-time.Hour)
	}))
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("inverted window: got %v, want ErrConflict", err)
	}

	_, err = h.svc.CreateOncallShift(ctx, tenant, testutil.FixtureOncallShift(types.TargetActiveOncall, t0))
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("symbolic target: got %v, want ErrInvalid", err)
	}

	shift, err := h.svc.CreateOncallShift(ctx, tenant, testutil.FixtureOncallShift("alice", t0))
	if err != nil {
		t.Fatalf("CreateOncallShift: %v", err)
	}
	shifts, _ := h.svc.ListOncallShifts(ctx, tenant)
	if len(shifts) != 1 || shifts[0].ID != shift.ID {
		t.Errorf("list: %+v", shifts)
	}
}

func TestEscalationPolicyUpsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.policy(t, func(p *types.EscalationPolicy) { p.AckTimeoutSeconds = 30 })

	h.clock.Advance(time.Hour)
	second := h.policy(t, func(p *types.EscalationPolicy) {
		p.AckTimeoutSeconds = 90
		p.Channel = types.ChannelEmail
	})

	if second.ID != first.ID || !second.CreatedAt.Equal(t0) || !second.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("upsert should replace in place: first=%+v second=%+v", first, second)
	}

	got, err := h.svc.GetEscalationPolicy(ctx, tenant, types.PriorityP3)
	if err != nil {
		t.Fatalf("GetEscalationPolicy: %v", err)
	}
	if got.AckTimeoutSeconds != 90 || got.Channel != types.ChannelEmail {
		t.Errorf("policy: %+v", got)
	}

	policies, _ := h.svc.ListEscalationPolicies(ctx, tenant)
	if len(policies) != 1 {
		t.Errorf("expected one policy per priority, got %d", len(policies))
	}

	if _, err := h.svc.GetEscalationPolicy(ctx, tenant, types.PriorityP1); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing priority: %v", err)
	}
	if _, err := h.svc.GetEscalationPolicy(ctx, tenant, "P0"); !errors.Is(err, types.ErrInvalid) {
		t.Errorf("invalid priority: %v", err)
	}

	if err := h.svc.DeleteEscalationPolicy(ctx, tenant, types.PriorityP3); err != nil {
		t.Fatalf("DeleteEscalationPolicy: %v", err)
	}
	if err := h.svc.DeleteEscalationPolicy(ctx, tenant, types.PriorityP3); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}

	_, err = h.svc.UpsertEscalationPolicy(ctx, tenant, testutil.FixtureEscalationPolicy(func(p *types.EscalationPolicy) {
		p.MaxEscalationLevel = 0
	}))
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("invalid policy: %v", err)
	}
}
