package types

import (
	"time"
)

// =============================================================================
// ROUTE LOG
// =============================================================================

// RouteLogEntry is an append-only record of one dispatch attempt.
// RuleID is nil when the dispatch was the on-call fallback. The only
// mutation ever applied is attaching Detail["receipt"].
type RouteLogEntry struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	AlertID        string         `json:"alert_id"`
	RuleID         *string        `json:"rule_id,omitempty"`
	Priority       Priority       `json:"priority"`
	Channel        Channel        `json:"channel"`
	Target         string         `json:"target"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Detail         map[string]any `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DeliveryStatus is the outcome of a dispatch.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
	DeliverySkipped DeliveryStatus = "SKIPPED"
)

// RouteReceipt is a delivery receipt reported back by a downstream consumer.
type RouteReceipt struct {
	Status     string         `json:"status"`
	ReceiptID  string         `json:"receipt_id"`
	ActorID    string         `json:"actor_id"`
	Detail     map[string]any `json:"detail,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// =============================================================================
// HANDLING ACTIONS
// =============================================================================

// HandlingAction is an immutable audit entry on an alert.
type HandlingAction struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	AlertID    string         `json:"alert_id"`
	ActionType ActionType     `json:"action_type"`
	ActorID    string         `json:"actor_id"`
	Note       string         `json:"note,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ActionType classifies handling actions.
type ActionType string

const (
	ActionDispatch ActionType = "DISPATCH"
	ActionAck      ActionType = "ACK"
	ActionClose    ActionType = "CLOSE"
	ActionEscalate ActionType = "ESCALATE"
	ActionVerify   ActionType = "VERIFY"
	ActionReview   ActionType = "REVIEW"
	ActionNote     ActionType = "NOTE"
)

// ManualAction reports whether operators may record this action type directly.
func (a ActionType) ManualAction() bool {
	return a == ActionVerify || a == ActionReview || a == ActionNote
}

// ActorSystem is the actor recorded for engine-initiated actions.
const ActorSystem = "system"

// =============================================================================
// ESCALATION
// =============================================================================

// EscalationExecution records one applied escalation. (AlertID, Level) is unique.
type EscalationExecution struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenant_id"`
	AlertID    string           `json:"alert_id"`
	Level      int              `json:"escalation_level"`
	Reason     EscalationReason `json:"reason"`
	Channel    Channel          `json:"channel"`
	FromTarget string           `json:"from_target"`
	ToTarget   string           `json:"to_target"`
	Detail     map[string]any   `json:"detail,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// EscalationReason explains why an escalation fired.
type EscalationReason string

const (
	ReasonAckTimeout    EscalationReason = "ACK_TIMEOUT"
	ReasonRepeatTrigger EscalationReason = "REPEAT_TRIGGER"
	ReasonShiftHandover EscalationReason = "SHIFT_HANDOVER"
)

// EscalationItem is one decision produced by a sweep.
type EscalationItem struct {
	AlertID    string           `json:"alert_id"`
	DroneID    string           `json:"drone_id"`
	Priority   Priority         `json:"priority"`
	Reason     EscalationReason `json:"reason"`
	FromLevel  int              `json:"from_level"`
	Level      int              `json:"level"`
	Channel    Channel          `json:"channel"`
	FromTarget string           `json:"from_target"`
	ToTarget   string           `json:"to_target"`
	DryRun     bool             `json:"dry_run"`
}

// SweepResult summarizes one escalation sweep.
type SweepResult struct {
	Scanned   int              `json:"scanned"`
	Escalated int              `json:"escalated"`
	Items     []EscalationItem `json:"items"`
}

// =============================================================================
// SLA
// =============================================================================

// SLASummary aggregates handling performance over a first_seen_at window.
type SLASummary struct {
	From                  *time.Time `json:"from,omitempty"`
	To                    *time.Time `json:"to,omitempty"`
	TotalAlerts           int        `json:"total_alerts"`
	AckedAlerts           int        `json:"acked_alerts"`
	ClosedAlerts          int        `json:"closed_alerts"`
	MTTASeconds           float64    `json:"mtta_seconds"`
	MTTRSeconds           float64    `json:"mttr_seconds"`
	TimeoutEscalationRate float64    `json:"timeout_escalation_rate"`
}

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

// Event is a domain event published after the owning transaction commits.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	TenantID   string         `json:"tenant_id"`
	AlertID    string         `json:"alert_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// Event names.
const (
	EventAlertCreated         = "alert.created"
	EventAlertRouted          = "alert.routed"
	EventAlertSuppressed      = "alert.suppressed"
	EventAlertNoiseSuppressed = "alert.noise_suppressed"
	EventAlertEscalated       = "alert.escalated"
	EventAlertAcked           = "alert.acked"
	EventAlertClosed          = "alert.closed"
	EventRouteReceipt         = "alert.route.receipt"
)
