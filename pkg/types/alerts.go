package types

import (
	"time"
)

// =============================================================================
// ALERT
// =============================================================================

// Alert is one incident per (tenant, drone, kind) while it is active.
// Closed alerts are history and never take part in deduplication.
type Alert struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	DroneID  string `json:"drone_id"`

	// Classification
	Kind     AlertKind     `json:"alert_kind"`
	Severity AlertSeverity `json:"severity"`
	Priority Priority      `json:"priority"`

	// Lifecycle
	Status      AlertStatus `json:"status"`
	RouteStatus RouteStatus `json:"route_status"`

	Message string      `json:"message"`
	Detail  AlertDetail `json:"detail"`

	// Timeline
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	RoutedAt    *time.Time `json:"routed_at,omitempty"`
	AckedAt     *time.Time `json:"acked_at,omitempty"`
	AckedBy     string     `json:"acked_by,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ClosedBy    string     `json:"closed_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the alert still participates in dedup.
func (a *Alert) IsActive() bool {
	return a.Status == AlertStatusOpen || a.Status == AlertStatusAcked
}

// EscalationLevel returns the current escalation level (0 if never escalated).
func (a *Alert) EscalationLevel() int {
	if a.Detail.Escalation == nil {
		return 0
	}
	return a.Detail.Escalation.Level
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (a *Alert) Clone() *Alert {
	c := *a
	c.RoutedAt = cloneTime(a.RoutedAt)
	c.AckedAt = cloneTime(a.AckedAt)
	c.ClosedAt = cloneTime(a.ClosedAt)
	c.Detail = a.Detail.Clone()
	return &c
}

// AlertDetail is the structured detail document of an alert (stored as JSONB).
// Each sub-section is owned by one component and survives merges untouched
// by the others.
type AlertDetail struct {
	RepeatCount  int                `json:"repeat_count"`
	Trigger      map[string]any     `json:"trigger,omitempty"`
	Routing      *RoutingDetail     `json:"routing,omitempty"`
	Escalation   *EscalationDetail  `json:"escalation,omitempty"`
	Aggregation  *AggregationDetail `json:"aggregation,omitempty"`
	NoiseControl *NoiseControl      `json:"noise_control,omitempty"`
	AckComment   string             `json:"ack_comment,omitempty"`
	CloseComment string             `json:"close_comment,omitempty"`
}

// Clone deep-copies the detail document.
func (d AlertDetail) Clone() AlertDetail {
	c := d
	c.Trigger = cloneMap(d.Trigger)
	if d.Routing != nil {
		r := *d.Routing
		r.Targets = append([]string(nil), d.Routing.Targets...)
		r.RuleIDs = append([]string(nil), d.Routing.RuleIDs...)
		c.Routing = &r
	}
	if d.Escalation != nil {
		e := *d.Escalation
		c.Escalation = &e
	}
	if d.Aggregation != nil {
		a := *d.Aggregation
		c.Aggregation = &a
	}
	if d.NoiseControl != nil {
		n := *d.NoiseControl
		n.SuppressedAt = cloneTime(d.NoiseControl.SuppressedAt)
		c.NoiseControl = &n
	}
	return c
}

// RoutingDetail records the outcome of the latest routing pass.
type RoutingDetail struct {
	Targets  []string  `json:"targets"`
	RuleIDs  []string  `json:"rule_ids,omitempty"`
	Fallback bool      `json:"fallback"`
	RoutedAt time.Time `json:"routed_at"`

	// OncallTarget is the on-call identity the alert was last handed to.
	// Empty when no dispatch went to the active on-call.
	OncallTarget string `json:"oncall_target,omitempty"`
}

// EscalationDetail records the latest applied escalation.
type EscalationDetail struct {
	Level       int              `json:"level"`
	Reason      EscalationReason `json:"reason"`
	Target      string           `json:"target"`
	Channel     Channel          `json:"channel"`
	EscalatedAt time.Time        `json:"escalated_at"`
	Count       int              `json:"count"`
}

// AggregationDetail is the windowed repeat bookkeeping for an alert.
type AggregationDetail struct {
	RuleID          string    `json:"rule_id"`
	WindowSeconds   int       `json:"window_seconds"`
	NoiseThreshold  int       `json:"noise_threshold"`
	AggregatedCount int       `json:"aggregated_count"`
	WindowStartedAt time.Time `json:"window_started_at"`
}

// NoiseControl marks an alert whose repeats crossed the noise threshold.
type NoiseControl struct {
	Suppressed   bool       `json:"suppressed"`
	SuppressedAt *time.Time `json:"suppressed_at,omitempty"`
	Threshold    int        `json:"threshold,omitempty"`
}

// Candidate is a triggered-alert descriptor produced by the rule evaluator.
type Candidate struct {
	Kind     AlertKind      `json:"kind"`
	Severity AlertSeverity  `json:"severity"`
	Message  string         `json:"message"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// AlertFilter for listing alerts.
type AlertFilter struct {
	Status  *AlertStatus `json:"status,omitempty"`
	Kind    *AlertKind   `json:"alert_kind,omitempty"`
	DroneID *string      `json:"drone_id,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Offset  int          `json:"offset,omitempty"`
}

// =============================================================================
// ENUMS
// =============================================================================

// AlertKind is the class of condition an alert tracks.
type AlertKind string

const (
	AlertKindLowBattery     AlertKind = "LOW_BATTERY"
	AlertKindLinkLoss       AlertKind = "LINK_LOSS"
	AlertKindGeofenceBreach AlertKind = "GEOFENCE_BREACH"
)

// Valid reports whether k is a known alert kind.
func (k AlertKind) Valid() bool {
	switch k {
	case AlertKindLowBattery, AlertKindLinkLoss, AlertKindGeofenceBreach:
		return true
	}
	return false
}

// AlertSeverity indicates urgency level.
type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Level returns numeric level for comparison (higher = more severe).
func (s AlertSeverity) Level() int {
	switch s {
	case AlertSeverityCritical:
		return 2
	case AlertSeverityWarning:
		return 1
	default:
		return 0
	}
}

// Priority is the handling priority, P1 highest.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	return p == PriorityP1 || p == PriorityP2 || p == PriorityP3
}

// ComputePriority derives the priority from kind and severity.
// Priority is never stored independently of this pair.
func ComputePriority(kind AlertKind, severity AlertSeverity) Priority {
	critical := severity == AlertSeverityCritical
	switch kind {
	case AlertKindLinkLoss, AlertKindGeofenceBreach:
		if critical {
			return PriorityP1
		}
		return PriorityP2
	default:
		if critical {
			return PriorityP2
		}
		return PriorityP3
	}
}

// AlertStatus tracks the alert lifecycle.
type AlertStatus string

const (
	AlertStatusOpen   AlertStatus = "OPEN"
	AlertStatusAcked  AlertStatus = "ACKED"
	AlertStatusClosed AlertStatus = "CLOSED"
)

// RouteStatus tracks whether an alert has been dispatched.
type RouteStatus string

const (
	RouteStatusUnrouted RouteStatus = "UNROUTED"
	RouteStatusRouted   RouteStatus = "ROUTED"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
