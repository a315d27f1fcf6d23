// Package testutil provides testing utilities and fixtures for the control plane.
//
// This package contains:
//   - Test helper functions (loggers, clocks, pointers)
//   - Fixture factories for domain types (telemetry, alerts, rules, shifts, policies)
//
// # Usage
//
// Fixtures use functional options for customization:
//
//	tel := testutil.FixtureTelemetry()
//	tel := testutil.FixtureTelemetry(func(t *types.Telemetry) {
//		t.DroneID = "drone-7"
//		t.Battery = &types.Battery{Percent: testutil.Ptr(12.0)}
//	})
package testutil

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// TestTenant is the tenant used by fixtures unless overridden.
const TestTenant = "tenant-test"

// NewTestLogger returns a logger that discards all output.
// Use for tests where logging output is not needed.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewVerboseTestLogger returns a logger that discards output at debug level.
// Swap io.Discard for os.Stderr when debugging a failure.
func NewVerboseTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock is a manually advanced clock for time-dependent tests.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// =============================================================================
// TELEMETRY FIXTURES
// =============================================================================

// FixtureTelemetry creates a healthy telemetry reading that triggers nothing.
func FixtureTelemetry(overrides ...func(*types.Telemetry)) types.Telemetry {
	tel := types.Telemetry{
		TenantID:  TestTenant,
		DroneID:   "drone-1",
		Timestamp: time.Now().UTC(),
		Position:  types.Position{Lat: 37.7749, Lon: -122.4194, Alt: 120},
		Battery:   &types.Battery{Percent: Ptr(80.0)},
		Link:      &types.Link{RSSI: Ptr(-60.0), LatencyMs: Ptr(40.0)},
		Mode:      "AUTO",
	}

	for _, override := range overrides {
		override(&tel)
	}

	return tel
}

// FixtureLowBattery creates a reading at the given battery percent.
func FixtureLowBattery(percent float64, overrides ...func(*types.Telemetry)) types.Telemetry {
	return FixtureTelemetry(append([]func(*types.Telemetry){
		func(t *types.Telemetry) {
			t.Battery = &types.Battery{Percent: Ptr(percent)}
		},
	}, overrides...)...)
}

// FixtureLinkLoss creates a reading whose flight mode reports a lost link.
func FixtureLinkLoss(overrides ...func(*types.Telemetry)) types.Telemetry {
	return FixtureTelemetry(append([]func(*types.Telemetry){
		func(t *types.Telemetry) {
			t.Mode = types.ModeLinkLost
		},
	}, overrides...)...)
}

// FixtureGeofenceBreach creates a reading with the geofence flag set.
func FixtureGeofenceBreach(overrides ...func(*types.Telemetry)) types.Telemetry {
	return FixtureTelemetry(append([]func(*types.Telemetry){
		func(t *types.Telemetry) {
			t.HealthFlags = map[string]any{types.FlagGeofenceBreach: true}
		},
	}, overrides...)...)
}

// =============================================================================
// ALERT FIXTURES
// =============================================================================

// FixtureAlert creates an OPEN, routed low battery alert.
func FixtureAlert(overrides ...func(*types.Alert)) *types.Alert {
	now := time.Now().UTC()
	alert := &types.Alert{
		ID:          uuid.New().String(),
		TenantID:    TestTenant,
		DroneID:     "drone-1",
		Kind:        types.AlertKindLowBattery,
		Severity:    types.AlertSeverityWarning,
		Priority:    types.PriorityP3,
		Status:      types.AlertStatusOpen,
		RouteStatus: types.RouteStatusRouted,
		Message:     "Drone drone-1 battery at 12.0%",
		Detail:      types.AlertDetail{RepeatCount: 1},
		FirstSeenAt: now,
		LastSeenAt:  now,
		RoutedAt:    &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(alert)
	}

	return alert
}

// =============================================================================
// RULE FIXTURES
// =============================================================================

// FixtureRoutingRule creates an active P1 rule sending to a webhook.
func FixtureRoutingRule(overrides ...func(*types.RoutingRule)) *types.RoutingRule {
	rule := &types.RoutingRule{
		Name:     "route-" + uuid.New().String()[:8],
		Priority: types.PriorityP1,
		Channel:  types.ChannelWebhook,
		Target:   "https://hooks.example.test/ops",
		IsActive: true,
	}

	for _, override := range overrides {
		override(rule)
	}

	return rule
}

// FixtureSilenceRule creates an active, unbounded silence for all kinds and drones.
func FixtureSilenceRule(overrides ...func(*types.SilenceRule)) *types.SilenceRule {
	rule := &types.SilenceRule{
		Name:     "silence-" + uuid.New().String()[:8],
		Reason:   "maintenance",
		IsActive: true,
	}

	for _, override := range overrides {
		override(rule)
	}

	return rule
}

// FixtureAggregationRule creates an active rule with a 5 minute window.
func FixtureAggregationRule(overrides ...func(*types.AggregationRule)) *types.AggregationRule {
	rule := &types.AggregationRule{
		Name:           "aggregate-" + uuid.New().String()[:8],
		WindowSeconds:  300,
		NoiseThreshold: 0,
		IsActive:       true,
	}

	for _, override := range overrides {
		override(rule)
	}

	return rule
}

// FixtureOncallShift creates an active shift covering [start, start+8h).
func FixtureOncallShift(target string, start time.Time, overrides ...func(*types.OncallShift)) *types.OncallShift {
	shift := &types.OncallShift{
		Name:         "shift-" + uuid.New().String()[:8],
		OncallTarget: target,
		StartsAt:     start,
		EndsAt:       start.Add(8 * time.Hour),
		IsActive:     true,
	}

	for _, override := range overrides {
		override(shift)
	}

	return shift
}

// FixtureEscalationPolicy creates an active P3 policy escalating by SMS to the active on-call.
func FixtureEscalationPolicy(overrides ...func(*types.EscalationPolicy)) *types.EscalationPolicy {
	policy := &types.EscalationPolicy{
		Priority:           types.PriorityP3,
		AckTimeoutSeconds:  300,
		RepeatThreshold:    0,
		MaxEscalationLevel: 3,
		Channel:            types.ChannelSMS,
		Target:             types.TargetActiveOncall,
		IsActive:           true,
	}

	for _, override := range overrides {
		override(policy)
	}

	return policy
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value.
// Useful for setting optional fields in fixtures.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns a time in the past by the given duration.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}

// TimeAgoPtr returns a pointer to a time in the past.
func TimeAgoPtr(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}
