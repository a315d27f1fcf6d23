package store

import (
	"context"
	"time"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Tx is the set of operations available inside one store transaction.
//
// Lookups return (nil, nil) when the row does not exist. Inserts that hit a
// uniqueness constraint return an error wrapping types.ErrDuplicate. Every
// query is scoped to a tenant.
type Tx interface {
	// Alerts
	FindActiveAlert(ctx context.Context, tenantID, droneID string, kind types.AlertKind) (*types.Alert, error)
	GetAlert(ctx context.Context, tenantID, id string, forUpdate bool) (*types.Alert, error)
	CreateAlert(ctx context.Context, alert *types.Alert) error
	UpdateAlert(ctx context.Context, alert *types.Alert) error
	ListAlerts(ctx context.Context, tenantID string, filter types.AlertFilter) ([]types.Alert, error)
	ListOpenAlerts(ctx context.Context, tenantID string, limit int) ([]types.Alert, error)
	ListAlertsFirstSeen(ctx context.Context, tenantID string, from, to *time.Time) ([]types.Alert, error)

	// Route logs
	InsertRouteLog(ctx context.Context, entry *types.RouteLogEntry) error
	GetRouteLog(ctx context.Context, tenantID, id string, forUpdate bool) (*types.RouteLogEntry, error)
	UpdateRouteLogDetail(ctx context.Context, tenantID, id string, detail map[string]any) error
	ListRouteLogs(ctx context.Context, tenantID, alertID string) ([]types.RouteLogEntry, error)

	// Handling actions
	InsertHandlingAction(ctx context.Context, action *types.HandlingAction) error
	ListHandlingActions(ctx context.Context, tenantID, alertID string) ([]types.HandlingAction, error)

	// Escalation executions
	EscalationExists(ctx context.Context, tenantID, alertID string, level int) (bool, error)
	InsertEscalationExecution(ctx context.Context, exec *types.EscalationExecution) error
	ListEscalationExecutions(ctx context.Context, tenantID, alertID string) ([]types.EscalationExecution, error)
	ListEscalatedAlertIDs(ctx context.Context, tenantID string, reason types.EscalationReason, from, to *time.Time) ([]string, error)

	// Routing rules
	ListRoutingRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.RoutingRule, error)
	GetRoutingRule(ctx context.Context, tenantID, id string) (*types.RoutingRule, error)
	CreateRoutingRule(ctx context.Context, rule *types.RoutingRule) error
	UpdateRoutingRule(ctx context.Context, rule *types.RoutingRule) error
	DeleteRoutingRule(ctx context.Context, tenantID, id string) error

	// Silence rules
	ListSilenceRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.SilenceRule, error)
	GetSilenceRule(ctx context.Context, tenantID, id string) (*types.SilenceRule, error)
	CreateSilenceRule(ctx context.Context, rule *types.SilenceRule) error
	UpdateSilenceRule(ctx context.Context, rule *types.SilenceRule) error
	DeleteSilenceRule(ctx context.Context, tenantID, id string) error

	// Aggregation rules
	ListAggregationRules(ctx context.Context, tenantID string, activeOnly bool) ([]types.AggregationRule, error)
	GetAggregationRule(ctx context.Context, tenantID, id string) (*types.AggregationRule, error)
	CreateAggregationRule(ctx context.Context, rule *types.AggregationRule) error
	UpdateAggregationRule(ctx context.Context, rule *types.AggregationRule) error
	DeleteAggregationRule(ctx context.Context, tenantID, id string) error

	// Oncall shifts
	ListOncallShifts(ctx context.Context, tenantID string, activeOnly bool) ([]types.OncallShift, error)
	GetOncallShift(ctx context.Context, tenantID, id string) (*types.OncallShift, error)
	CreateOncallShift(ctx context.Context, shift *types.OncallShift) error
	UpdateOncallShift(ctx context.Context, shift *types.OncallShift) error
	DeleteOncallShift(ctx context.Context, tenantID, id string) error

	// Escalation policies
	GetEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) (*types.EscalationPolicy, error)
	ListEscalationPolicies(ctx context.Context, tenantID string) ([]types.EscalationPolicy, error)
	UpsertEscalationPolicy(ctx context.Context, policy *types.EscalationPolicy) error
	DeleteEscalationPolicy(ctx context.Context, tenantID string, priority types.Priority) error
}
