package types

import (
	"fmt"
	"time"
)

// TargetActiveOncall is the symbolic target that resolves to whoever is on
// call at dispatch time.
const TargetActiveOncall = "ACTIVE_ONCALL"

// DefaultOncallTarget is used when no shift covers the dispatch instant.
const DefaultOncallTarget = "duty-default"

// Channel is a dispatch channel.
type Channel string

const (
	ChannelInApp   Channel = "IN_APP"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelEmail   Channel = "EMAIL"
	ChannelSMS     Channel = "SMS"
)

// =============================================================================
// ROUTING RULES
// =============================================================================

// RoutingRule sends alerts of one priority (and optionally one kind) to a channel.
type RoutingRule struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Priority  Priority   `json:"priority"`
	Kind      *AlertKind `json:"alert_kind,omitempty"`
	Channel   Channel    `json:"channel"`
	Target    string     `json:"target"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the rule's fields.
func (r *RoutingRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalid, r.Priority)
	}
	if r.Kind != nil && !r.Kind.Valid() {
		return fmt.Errorf("%w: invalid alert_kind %q", ErrInvalid, *r.Kind)
	}
	if r.Channel == "" {
		return fmt.Errorf("%w: channel is required", ErrInvalid)
	}
	if r.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalid)
	}
	return nil
}

// Matches reports whether the rule applies to the alert.
func (r *RoutingRule) Matches(a *Alert) bool {
	if !r.IsActive || r.Priority != a.Priority {
		return false
	}
	return r.Kind == nil || *r.Kind == a.Kind
}

// =============================================================================
// SILENCE RULES
// =============================================================================

// SilenceRule drops candidates before they become alerts.
// Unset fields match everything; an unset bound is unbounded on that side.
type SilenceRule struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Kind      *AlertKind `json:"alert_kind,omitempty"`
	DroneID   *string    `json:"drone_id,omitempty"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the rule's fields. A window whose end is not after its
// start is malformed.
func (r *SilenceRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if r.Kind != nil && !r.Kind.Valid() {
		return fmt.Errorf("%w: invalid alert_kind %q", ErrInvalid, *r.Kind)
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.EndsAt.After(*r.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrConflict)
	}
	return nil
}

// Matches reports whether the rule silences (drone, kind) at instant t.
func (r *SilenceRule) Matches(droneID string, kind AlertKind, t time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.Kind != nil && *r.Kind != kind {
		return false
	}
	if r.DroneID != nil && *r.DroneID != droneID {
		return false
	}
	if r.StartsAt != nil && t.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && !t.Before(*r.EndsAt) {
		return false
	}
	return true
}

// =============================================================================
// AGGREGATION RULES
// =============================================================================

// AggregationRule configures windowed repeat counting and noise suppression.
type AggregationRule struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Name           string     `json:"name"`
	Kind           *AlertKind `json:"alert_kind,omitempty"`
	WindowSeconds  int        `json:"window_seconds"`
	NoiseThreshold int        `json:"noise_threshold"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the rule's fields.
func (r *AggregationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if r.Kind != nil && !r.Kind.Valid() {
		return fmt.Errorf("%w: invalid alert_kind %q", ErrInvalid, *r.Kind)
	}
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("%w: window_seconds must be positive", ErrInvalid)
	}
	if r.NoiseThreshold < 0 {
		return fmt.Errorf("%w: noise_threshold must not be negative", ErrInvalid)
	}
	return nil
}

// Window returns the aggregation window as a duration.
func (r *AggregationRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// =============================================================================
// ESCALATION POLICY
// =============================================================================

// EscalationPolicy governs escalation of open alerts of one priority.
// At most one policy exists per (tenant, priority).
type EscalationPolicy struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Priority           Priority  `json:"priority"`
	AckTimeoutSeconds  int       `json:"ack_timeout_seconds"`
	RepeatThreshold    int       `json:"repeat_threshold"`
	MaxEscalationLevel int       `json:"max_escalation_level"`
	Channel            Channel   `json:"escalation_channel"`
	Target             string    `json:"escalation_target"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Validate checks the policy's fields.
func (p *EscalationPolicy) Validate() error {
	if !p.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalid, p.Priority)
	}
	if p.AckTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: ack_timeout_seconds must be positive", ErrInvalid)
	}
	if p.MaxEscalationLevel <= 0 {
		return fmt.Errorf("%w: max_escalation_level must be positive", ErrInvalid)
	}
	if p.Channel == "" {
		return fmt.Errorf("%w: escalation_channel is required", ErrInvalid)
	}
	if p.Target == "" {
		return fmt.Errorf("%w: escalation_target is required", ErrInvalid)
	}
	return nil
}

// AckTimeout returns the acknowledgement timeout as a duration.
func (p *EscalationPolicy) AckTimeout() time.Duration {
	return time.Duration(p.AckTimeoutSeconds) * time.Second
}

// =============================================================================
// ONCALL SHIFTS
// =============================================================================

// OncallShift assigns an on-call identity for [StartsAt, EndsAt).
type OncallShift struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	OncallTarget string    `json:"oncall_target"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the shift's fields.
func (s *OncallShift) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if s.OncallTarget == "" {
		return fmt.Errorf("%w: oncall_target is required", ErrInvalid)
	}
	if s.OncallTarget == TargetActiveOncall {
		return fmt.Errorf("%w: oncall_target cannot be the symbolic on-call target", ErrInvalid)
	}
	if s.StartsAt.IsZero() || s.EndsAt.IsZero() {
		return fmt.Errorf("%w: starts_at and ends_at are required", ErrInvalid)
	}
	if !s.EndsAt.After(s.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrConflict)
	}
	return nil
}

// Covers reports whether the shift is on duty at t.
func (s *OncallShift) Covers(t time.Time) bool {
	return s.IsActive && !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}
