package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// =============================================================================
// ROUTE LOG
// =============================================================================

const routeLogColumns = `
	id, tenant_id, alert_id, rule_id, priority, channel, target,
	delivery_status, detail, created_at
`

func scanRouteLog(row rowScanner) (*types.RouteLogEntry, error) {
	var e types.RouteLogEntry
	var detailJSON []byte
	if err := row.Scan(
		&e.ID, &e.TenantID, &e.AlertID, &e.RuleID, &e.Priority, &e.Channel, &e.Target,
		&e.DeliveryStatus, &detailJSON, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := decodeDetail(detailJSON, &e.Detail, "route log"); err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertRouteLog appends a route log entry.
func (t *pgTx) InsertRouteLog(ctx context.Context, e *types.RouteLogEntry) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		detailJSON = []byte("{}")
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO route_logs (
			id, tenant_id, alert_id, rule_id, priority, channel, target,
			delivery_status, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		e.ID, e.TenantID, e.AlertID, nullable(e.RuleID), e.Priority, e.Channel, e.Target,
		e.DeliveryStatus, detailJSON, e.CreatedAt,
	)
	return mapErr(err)
}

// GetRouteLog retrieves a route log entry, optionally row-locked.
func (t *pgTx) GetRouteLog(ctx context.Context, tenantID, id string, forUpdate bool) (*types.RouteLogEntry, error) {
	query := `SELECT ` + routeLogColumns + ` FROM route_logs WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanRouteLog(t.tx.QueryRow(ctx, query, tenantID, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UpdateRouteLogDetail replaces the detail document of an entry. It is the
// only mutation route logs allow.
func (t *pgTx) UpdateRouteLogDetail(ctx context.Context, tenantID, id string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode route log detail: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE route_logs SET detail = $3 WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, detailJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("route log %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// ListRouteLogs returns an alert's route log in dispatch order.
func (t *pgTx) ListRouteLogs(ctx context.Context, tenantID, alertID string) ([]types.RouteLogEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+routeLogColumns+` FROM route_logs
		WHERE tenant_id = $1 AND alert_id = $2
		ORDER BY created_at, seq
	`, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.RouteLogEntry
	for rows.Next() {
		e, err := scanRouteLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HANDLING ACTIONS
// =============================================================================

// InsertHandlingAction appends an audit entry.
func (t *pgTx) InsertHandlingAction(ctx context.Context, a *types.HandlingAction) error {
	detailJSON, err := json.Marshal(a.Detail)
	if err != nil {
		detailJSON = []byte("{}")
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO handling_actions (
			id, tenant_id, alert_id, action_type, actor_id, note, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		a.ID, a.TenantID, a.AlertID, a.ActionType, a.ActorID, a.Note, detailJSON, a.CreatedAt,
	)
	return mapErr(err)
}

// ListHandlingActions returns an alert's audit trail in insertion order.
func (t *pgTx) ListHandlingActions(ctx context.Context, tenantID, alertID string) ([]types.HandlingAction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, tenant_id, alert_id, action_type, actor_id, note, detail, created_at
		FROM handling_actions
		WHERE tenant_id = $1 AND alert_id = $2
		ORDER BY created_at, seq
	`, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []types.HandlingAction
	for rows.Next() {
		var a types.HandlingAction
		var detailJSON []byte
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.AlertID, &a.ActionType, &a.ActorID, &a.Note, &detailJSON, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := decodeDetail(detailJSON, &a.Detail, "handling action"); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
