// Package types defines the core domain types shared by the control plane components.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport and JSONB storage
// 3. Tenancy: Every persisted entity carries its TenantID; nothing references another tenant
// 4. Validation: Configuration types include Validate() methods for business rule enforcement
package types

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors surfaced by the service layer. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrNotFound means the alert, route log entry or rule does not exist in the caller's tenant.
	ErrNotFound = errors.New("not found")

	// ErrConflict means an invariant of the requested transition or configuration was violated.
	ErrConflict = errors.New("conflict")

	// ErrDuplicate is returned by stores when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalid means the request itself is malformed (missing tenant, bad enum).
	ErrInvalid = errors.New("invalid input")
)

// =============================================================================
// TELEMETRY
// =============================================================================

// Telemetry is one normalized reading emitted by a device-protocol adapter.
type Telemetry struct {
	TenantID    string         `json:"tenant_id"`
	DroneID     string         `json:"drone_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Position    Position       `json:"position"`
	Battery     *Battery       `json:"battery,omitempty"`
	Link        *Link          `json:"link,omitempty"`
	Mode        string         `json:"mode"`
	HealthFlags map[string]any `json:"health_flags,omitempty"`
}

// Position is a WGS84 fix.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Battery carries the optional battery block of a reading.
type Battery struct {
	Percent *float64 `json:"percent,omitempty"`
}

// Link carries the optional radio link block of a reading.
type Link struct {
	RSSI      *float64 `json:"rssi,omitempty"`
	LatencyMs *float64 `json:"latency_ms,omitempty"`
}

// Mode reported by the flight controller when the control link is gone.
const ModeLinkLost = "LINK_LOST"

// Health flag keys understood by the rule evaluator.
const (
	FlagLowBattery     = "low_battery"
	FlagLinkLost       = "link_lost"
	FlagGeofenceBreach = "geofence_breach"
)

// BatteryPercent returns the battery percent if present and finite.
func (t Telemetry) BatteryPercent() (float64, bool) {
	if t.Battery == nil || t.Battery.Percent == nil {
		return 0, false
	}
	p := *t.Battery.Percent
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	return p, true
}

// HasRSSI reports whether the reading carries a usable RSSI value.
func (t Telemetry) HasRSSI() bool {
	if t.Link == nil || t.Link.RSSI == nil {
		return false
	}
	return !math.IsNaN(*t.Link.RSSI)
}

// LatencyMs returns the link latency if present and finite.
func (t Telemetry) LatencyMs() (float64, bool) {
	if t.Link == nil || t.Link.LatencyMs == nil {
		return 0, false
	}
	l := *t.Link.LatencyMs
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, false
	}
	return l, true
}

// Flag reports whether a health flag is set to a truthy value.
// Adapters are inconsistent: bools, "true"/"1"/"yes" strings and non-zero
// numbers all count. Anything else is treated as unset.
func (t Telemetry) Flag(key string) bool {
	v, ok := t.HealthFlags[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		if s == "yes" || s == "on" {
			return true
		}
		b, err := strconv.ParseBool(s)
		return err == nil && b
	case float64:
		return val != 0 && !math.IsNaN(val)
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return false
	}
}
