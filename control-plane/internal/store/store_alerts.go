package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// =============================================================================
// ALERTS
// =============================================================================

const alertColumns = `
	id, tenant_id, drone_id, alert_kind, severity, priority,
	status, route_status, message, detail,
	first_seen_at, last_seen_at, routed_at,
	acked_at, acked_by, closed_at, closed_by,
	created_at, updated_at
`

func scanAlert(row rowScanner) (*types.Alert, error) {
	var a types.Alert
	var detailJSON []byte
	err := row.Scan(
		&a.ID, &a.TenantID, &a.DroneID, &a.Kind, &a.Severity, &a.Priority,
		&a.Status, &a.RouteStatus, &a.Message, &detailJSON,
		&a.FirstSeenAt, &a.LastSeenAt, &a.RoutedAt,
		&a.AckedAt, &a.AckedBy, &a.ClosedAt, &a.ClosedBy,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeDetail(detailJSON, &a.Detail, "alert"); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAlertRow(row pgx.Row) (*types.Alert, error) {
	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func collectAlerts(rows pgx.Rows) ([]types.Alert, error) {
	defer rows.Close()
	var alerts []types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// FindActiveAlert returns the OPEN or ACKED alert for the key, row-locked.
func (t *pgTx) FindActiveAlert(ctx context.Context, tenantID, droneID string, kind types.AlertKind) (*types.Alert, error) {
	return scanAlertRow(t.tx.QueryRow(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE tenant_id = $1 AND drone_id = $2 AND alert_kind = $3
		  AND status IN ('OPEN', 'ACKED')
		FOR UPDATE
	`, tenantID, droneID, kind))
}

// GetAlert retrieves an alert by ID, optionally row-locked.
func (t *pgTx) GetAlert(ctx context.Context, tenantID, id string, forUpdate bool) (*types.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanAlertRow(t.tx.QueryRow(ctx, query, tenantID, id))
}

// CreateAlert inserts a new alert. A second active alert for the same key
// violates alerts_active_key.
func (t *pgTx) CreateAlert(ctx context.Context, a *types.Alert) error {
	detailJSON, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("encode alert detail: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO alerts (
			id, tenant_id, drone_id, alert_kind, severity, priority,
			status, route_status, message, detail,
			first_seen_at, last_seen_at, routed_at,
			acked_at, acked_by, closed_at, closed_by,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19
		)
	`,
		a.ID, a.TenantID, a.DroneID, a.Kind, a.Severity, a.Priority,
		a.Status, a.RouteStatus, a.Message, detailJSON,
		a.FirstSeenAt, a.LastSeenAt, a.RoutedAt,
		a.AckedAt, a.AckedBy, a.ClosedAt, a.ClosedBy,
		a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

// UpdateAlert writes every mutable column of an alert.
func (t *pgTx) UpdateAlert(ctx context.Context, a *types.Alert) error {
	detailJSON, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("encode alert detail: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE alerts SET
			severity = $3, priority = $4,
			status = $5, route_status = $6, message = $7, detail = $8,
			last_seen_at = $9, routed_at = $10,
			acked_at = $11, acked_by = $12, closed_at = $13, closed_by = $14,
			updated_at = $15
		WHERE tenant_id = $1 AND id = $2
	`,
		a.TenantID, a.ID,
		a.Severity, a.Priority,
		a.Status, a.RouteStatus, a.Message, detailJSON,
		a.LastSeenAt, a.RoutedAt,
		a.AckedAt, a.AckedBy, a.ClosedAt, a.ClosedBy,
		a.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, types.ErrNotFound)
	}
	return nil
}

// ListAlerts returns alerts matching the filter, most recently seen first.
func (t *pgTx) ListAlerts(ctx context.Context, tenantID string, filter types.AlertFilter) ([]types.Alert, error) {
	where := "tenant_id = $1"
	args := []interface{}{tenantID}
	argNum := 2

	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Kind != nil {
		where += fmt.Sprintf(" AND alert_kind = $%d", argNum)
		args = append(args, *filter.Kind)
		argNum++
	}
	if filter.DroneID != nil {
		where += fmt.Sprintf(" AND drone_id = $%d", argNum)
		args = append(args, *filter.DroneID)
		argNum++
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE %s
		ORDER BY last_seen_at DESC, id
		LIMIT $%d OFFSET $%d
	`, alertColumns, where, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// ListOpenAlerts returns OPEN alerts, oldest first_seen_at first.
func (t *pgTx) ListOpenAlerts(ctx context.Context, tenantID string, limit int) ([]types.Alert, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE tenant_id = $1 AND status = 'OPEN'
		ORDER BY first_seen_at, id
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// ListAlertsFirstSeen returns alerts with first_seen_at in [from, to).
func (t *pgTx) ListAlertsFirstSeen(ctx context.Context, tenantID string, from, to *time.Time) ([]types.Alert, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE tenant_id = $1
		  AND ($2::timestamptz IS NULL OR first_seen_at >= $2)
		  AND ($3::timestamptz IS NULL OR first_seen_at < $3)
		ORDER BY first_seen_at
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// =============================================================================
// ESCALATION EXECUTIONS
// =============================================================================

// EscalationExists reports whether an execution exists at (alert, level).
func (t *pgTx) EscalationExists(ctx context.Context, tenantID, alertID string, level int) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM escalation_executions
			WHERE tenant_id = $1 AND alert_id = $2 AND escalation_level = $3
		)
	`, tenantID, alertID, level).Scan(&exists)
	return exists, err
}

// InsertEscalationExecution records an applied escalation. A second row at
// the same (alert, level) violates escalation_executions_alert_level_key.
func (t *pgTx) InsertEscalationExecution(ctx context.Context, e *types.EscalationExecution) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode escalation detail: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO escalation_executions (
			id, tenant_id, alert_id, escalation_level, reason, channel,
			from_target, to_target, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		e.ID, e.TenantID, e.AlertID, e.Level, e.Reason, e.Channel,
		e.FromTarget, e.ToTarget, detailJSON, e.CreatedAt,
	)
	return mapErr(err)
}

// ListEscalationExecutions returns an alert's escalations in level order.
func (t *pgTx) ListEscalationExecutions(ctx context.Context, tenantID, alertID string) ([]types.EscalationExecution, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, tenant_id, alert_id, escalation_level, reason, channel,
			from_target, to_target, detail, created_at
		FROM escalation_executions
		WHERE tenant_id = $1 AND alert_id = $2
		ORDER BY escalation_level, created_at
	`, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []types.EscalationExecution
	for rows.Next() {
		var e types.EscalationExecution
		var detailJSON []byte
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.AlertID, &e.Level, &e.Reason, &e.Channel,
			&e.FromTarget, &e.ToTarget, &detailJSON, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := decodeDetail(detailJSON, &e.Detail, "escalation execution"); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// ListEscalatedAlertIDs returns distinct alerts first seen in [from, to)
// that have at least one execution with the given reason.
func (t *pgTx) ListEscalatedAlertIDs(ctx context.Context, tenantID string, reason types.EscalationReason, from, to *time.Time) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT e.alert_id::text
		FROM escalation_executions e
		JOIN alerts a ON a.id = e.alert_id AND a.tenant_id = e.tenant_id
		WHERE e.tenant_id = $1 AND e.reason = $2
		  AND ($3::timestamptz IS NULL OR a.first_seen_at >= $3)
		  AND ($4::timestamptz IS NULL OR a.first_seen_at < $4)
	`, tenantID, reason, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
