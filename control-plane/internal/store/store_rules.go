package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// activeClause filters to active rows when activeOnly is set.
func activeClause(activeOnly bool) string {
	if activeOnly {
		return " AND is_active"
	}
	return ""
}

// =============================================================================
// ROUTING RULES
// =============================================================================

const routingRuleColumns = `id, tenant_id, name, priority, alert_kind, channel, target, is_active, created_at, updated_at`

func scanRoutingRule(row rowScanner) (*types.RoutingRule, error) {
	var r types.RoutingRule
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority, &r.Kind, &r.Channel, &r.Target, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (t *pgTx) ListRoutingRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.RoutingRule, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+routingRuleColumns+` FROM routing_rules
		WHERE tenant_id = $1`+activeClause(activeOnly)+`
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []types.RoutingRule
	for rows.Next() {
		r, err := scanRoutingRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (t *pgTx) GetRoutingRule(ctx context.Context, tenantID, id string) (*types.RoutingRule, error) {
	r, err := scanRoutingRule(t.tx.QueryRow(ctx, `
		SELECT `+routingRuleColumns+` FROM routing_rules WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *pgTx) CreateRoutingRule(ctx context.Context, r *types.RoutingRule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO routing_rules (id, tenant_id, name, priority, alert_kind, channel, target, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.TenantID, r.Name, r.Priority, r.Kind, r.Channel, r.Target, r.IsActive, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateRoutingRule(ctx context.Context, r *types.RoutingRule) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE routing_rules SET
			name = $3, priority = $4, alert_kind = $5, channel = $6, target = $7,
			is_active = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2
	`, r.TenantID, r.ID, r.Name, r.Priority, r.Kind, r.Channel, r.Target, r.IsActive, r.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) DeleteRoutingRule(ctx context.Context, tenantID, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM routing_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return err
}

// =============================================================================
// SILENCE RULES
// =============================================================================

const silenceRuleColumns = `id, tenant_id, name, alert_kind, drone_id, starts_at, ends_at, reason, is_active, created_at, updated_at`

func scanSilenceRule(row rowScanner) (*types.SilenceRule, error) {
	var r types.SilenceRule
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Kind, &r.DroneID, &r.StartsAt, &r.EndsAt, &r.Reason, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (t *pgTx) ListSilenceRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.SilenceRule, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+silenceRuleColumns+` FROM silence_rules
		WHERE tenant_id = $1`+activeClause(activeOnly)+`
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []types.SilenceRule
	for rows.Next() {
		r, err := scanSilenceRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (t *pgTx) GetSilenceRule(ctx context.Context, tenantID, id string) (*types.SilenceRule, error) {
	r, err := scanSilenceRule(t.tx.QueryRow(ctx, `
		SELECT `+silenceRuleColumns+` FROM silence_rules WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *pgTx) CreateSilenceRule(ctx context.Context, r *types.SilenceRule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO silence_rules (id, tenant_id, name, alert_kind, drone_id, starts_at, ends_at, reason, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.TenantID, r.Name, r.Kind, r.DroneID, r.StartsAt, r.EndsAt, r.Reason, r.IsActive, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateSilenceRule(ctx context.Context, r *types.SilenceRule) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE silence_rules SET
			name = $3, alert_kind = $4, drone_id = $5, starts_at = $6, ends_at = $7,
			reason = $8, is_active = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2
	`, r.TenantID, r.ID, r.Name, r.Kind, r.DroneID, r.StartsAt, r.EndsAt, r.Reason, r.IsActive, r.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) DeleteSilenceRule(ctx context.Context, tenantID, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM silence_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return err
}

// =============================================================================
// AGGREGATION RULES
// =============================================================================

const aggregationRuleColumns = `id, tenant_id, name, alert_kind, window_seconds, noise_threshold, is_active, created_at, updated_at`

func scanAggregationRule(row rowScanner) (*types.AggregationRule, error) {
	var r types.AggregationRule
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Kind, &r.WindowSeconds, &r.NoiseThreshold, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (t *pgTx) ListAggregationRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.AggregationRule, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+aggregationRuleColumns+` FROM aggregation_rules
		WHERE tenant_id = $1`+activeClause(activeOnly)+`
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []types.AggregationRule
	for rows.Next() {
		r, err := scanAggregationRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (t *pgTx) GetAggregationRule(ctx context.Context, tenantID, id string) (*types.AggregationRule, error) {
	r, err := scanAggregationRule(t.tx.QueryRow(ctx, `
		SELECT `+aggregationRuleColumns+` FROM aggregation_rules WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *pgTx) CreateAggregationRule(ctx context.Context, r *types.AggregationRule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO aggregation_rules (id, tenant_id, name, alert_kind, window_seconds, noise_threshold, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.TenantID, r.Name, r.Kind, r.WindowSeconds, r.NoiseThreshold, r.IsActive, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateAggregationRule(ctx context.Context, r *types.AggregationRule) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE aggregation_rules SET
			name = $3, alert_kind = $4, window_seconds = $5, noise_threshold = $6,
			is_active = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
	`, r.TenantID, r.ID, r.Name, r.Kind, r.WindowSeconds, r.NoiseThreshold, r.IsActive, r.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) DeleteAggregationRule(ctx context.Context, tenantID, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM aggregation_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return err
}

// =============================================================================
// ONCALL SHIFTS
// =============================================================================

const oncallShiftColumns = `id, tenant_id, name, oncall_target, starts_at, ends_at, is_active, created_at, updated_at`

func scanOncallShift(row rowScanner) (*types.OncallShift, error) {
	var s types.OncallShift
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.OncallTarget, &s.StartsAt, &s.EndsAt, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (t *pgTx) ListOncallShifts(ctx context.Context, tenantID string, activeOnly bool) ([]types.OncallShift, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+oncallShiftColumns+` FROM oncall_shifts
		WHERE tenant_id = $1`+activeClause(activeOnly)+`
		ORDER BY starts_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []types.OncallShift
	for rows.Next() {
		s, err := scanOncallShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *s)
	}
	return shifts, rows.Err()
}

func (t *pgTx) GetOncallShift(ctx context.Context, tenantID, id string) (*types.OncallShift, error) {
	s, err := scanOncallShift(t.tx.QueryRow(ctx, `
		SELECT `+oncallShiftColumns+` FROM oncall_shifts WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *pgTx) CreateOncallShift(ctx context.Context, s *types.OncallShift) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO oncall_shifts (id, tenant_id, name, oncall_target, starts_at, ends_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.TenantID, s.Name, s.OncallTarget, s.StartsAt, s.EndsAt, s.IsActive, s.CreatedAt, s.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateOncallShift(ctx context.Context, s *types.OncallShift) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE oncall_shifts SET
			name = $3, oncall_target = $4, starts_at = $5, ends_at = $6,
			is_active = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
	`, s.TenantID, s.ID, s.Name, s.OncallTarget, s.StartsAt, s.EndsAt, s.IsActive, s.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) DeleteOncallShift(ctx context.Context, tenantID, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM oncall_shifts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return err
}

// =============================================================================
// ESCALATION POLICIES
// =============================================================================

const escalationPolicyColumns = `
	id, tenant_id, priority, ack_timeout_seconds, repeat_threshold, max_escalation_level,
	escalation_channel, escalation_target, is_active, created_at, updated_at
`

func scanEscalationPolicy(row rowScanner) (*types.EscalationPolicy, error) {
	var p types.EscalationPolicy
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Priority, &p.AckTimeoutSeconds, &p.RepeatThreshold, &p.MaxEscalationLevel,
		&p.Channel, &p.Target, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	return &p, err
}

func (t *pgTx) GetEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) (*types.EscalationPolicy, error) {
	p, err := scanEscalationPolicy(t.tx.QueryRow(ctx, `
		SELECT `+escalationPolicyColumns+` FROM escalation_policies WHERE tenant_id = $1 AND priority = $2
	`, tenantID, priority))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (t *pgTx) ListEscalationPolicies(ctx context.Context, tenantID string) ([]types.EscalationPolicy, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+escalationPolicyColumns+` FROM escalation_policies
		WHERE tenant_id = $1
		ORDER BY priority
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []types.EscalationPolicy
	for rows.Next() {
		p, err := scanEscalationPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// UpsertEscalationPolicy inserts or replaces the policy for (tenant, priority).
// The stored ID and created_at are written back to p.
func (t *pgTx) UpsertEscalationPolicy(ctx context.Context, p *types.EscalationPolicy) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO escalation_policies (
			id, tenant_id, priority, ack_timeout_seconds, repeat_threshold, max_escalation_level,
			escalation_channel, escalation_target, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, priority) DO UPDATE SET
			ack_timeout_seconds = EXCLUDED.ack_timeout_seconds,
			repeat_threshold = EXCLUDED.repeat_threshold,
			max_escalation_level = EXCLUDED.max_escalation_level,
			escalation_channel = EXCLUDED.escalation_channel,
			escalation_target = EXCLUDED.escalation_target,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		p.ID, p.TenantID, p.Priority, p.AckTimeoutSeconds, p.RepeatThreshold, p.MaxEscalationLevel,
		p.Channel, p.Target, p.IsActive, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert escalation policy %s: %w", p.Priority, mapErr(err))
	}
	return nil
}

func (t *pgTx) DeleteEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM escalation_policies WHERE tenant_id = $1 AND priority = $2`, tenantID, priority)
	return err
}
