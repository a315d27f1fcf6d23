package evaluator

import (
	"math"
	"testing"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

func ptr(v float64) *float64 { return &v }

func kinds(cs []types.Candidate) []types.AlertKind {
	out := make([]types.AlertKind, len(cs))
	for i, c := range cs {
		out[i] = c.Kind
	}
	return out
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		in   types.Telemetry
		want []types.AlertKind
	}{
		{
			name: "healthy reading",
			in: types.Telemetry{
				DroneID: "d1",
				Battery: &types.Battery{Percent: ptr(80)},
				Link:    &types.Link{RSSI: ptr(-60), LatencyMs: ptr(40)},
				Mode:    "AUTO",
			},
			want: nil,
		},
		{
			name: "battery at threshold",
			in:   types.Telemetry{DroneID: "d1", Battery: &types.Battery{Percent: ptr(20.0)}},
			want: []types.AlertKind{types.AlertKindLowBattery},
		},
		{
			name: "battery just above threshold",
			in:   types.Telemetry{DroneID: "d1", Battery: &types.Battery{Percent: ptr(20.1)}},
			want: nil,
		},
		{
			name: "low battery flag without percent",
			in:   types.Telemetry{DroneID: "d1", HealthFlags: map[string]any{"low_battery": true}},
			want: []types.AlertKind{types.AlertKindLowBattery},
		},
		{
			name: "NaN battery is absent",
			in:   types.Telemetry{DroneID: "d1", Battery: &types.Battery{Percent: ptr(math.NaN())}},
			want: nil,
		},
		{
			name: "link lost mode",
			in:   types.Telemetry{DroneID: "d1", Mode: "LINK_LOST"},
			want: []types.AlertKind{types.AlertKindLinkLoss},
		},
		{
			name: "latency without rssi",
			in:   types.Telemetry{DroneID: "d1", Link: &types.Link{LatencyMs: ptr(2000)}},
			want: []types.AlertKind{types.AlertKindLinkLoss},
		},
		{
			name: "high latency with rssi is not link loss",
			in:   types.Telemetry{DroneID: "d1", Link: &types.Link{RSSI: ptr(-90), LatencyMs: ptr(5000)}},
			want: nil,
		},
		{
			name: "latency below threshold",
			in:   types.Telemetry{DroneID: "d1", Link: &types.Link{LatencyMs: ptr(1999)}},
			want: nil,
		},
		{
			name: "string flags",
			in: types.Telemetry{DroneID: "d1", HealthFlags: map[string]any{
				"link_lost":       "true",
				"geofence_breach": "yes",
			}},
			want: []types.AlertKind{types.AlertKindLinkLoss, types.AlertKindGeofenceBreach},
		},
		{
			name: "false and malformed flags ignored",
			in: types.Telemetry{DroneID: "d1", HealthFlags: map[string]any{
				"low_battery":     false,
				"link_lost":       "maybe",
				"geofence_breach": []int{1},
			}},
			want: nil,
		},
		{
			name: "all three",
			in: types.Telemetry{
				DroneID:     "d1",
				Battery:     &types.Battery{Percent: ptr(5)},
				Mode:        "LINK_LOST",
				HealthFlags: map[string]any{"geofence_breach": 1.0},
			},
			want: []types.AlertKind{types.AlertKindLowBattery, types.AlertKindLinkLoss, types.AlertKindGeofenceBreach},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kinds(Evaluate(tt.in))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("candidate %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestEvaluate_Severities(t *testing.T) {
	cs := Evaluate(types.Telemetry{
		DroneID:     "d1",
		Battery:     &types.Battery{Percent: ptr(12)},
		Mode:        "LINK_LOST",
		HealthFlags: map[string]any{"geofence_breach": true},
	})
	want := map[types.AlertKind]types.AlertSeverity{
		types.AlertKindLowBattery:     types.AlertSeverityWarning,
		types.AlertKindLinkLoss:       types.AlertSeverityCritical,
		types.AlertKindGeofenceBreach: types.AlertSeverityCritical,
	}
	for _, c := range cs {
		if c.Severity != want[c.Kind] {
			t.Errorf("%s: expected severity %s, got %s", c.Kind, want[c.Kind], c.Severity)
		}
		if c.Message == "" {
			t.Errorf("%s: expected a message", c.Kind)
		}
	}
}

func TestEvaluate_BatteryDetail(t *testing.T) {
	cs := Evaluate(types.Telemetry{DroneID: "d1", Battery: &types.Battery{Percent: ptr(12)}})
	if len(cs) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cs))
	}
	if cs[0].Detail["battery_percent"] != 12.0 {
		t.Errorf("expected battery_percent 12, got %v", cs[0].Detail["battery_percent"])
	}
	if cs[0].Detail["source"] != "battery" {
		t.Errorf("expected source battery, got %v", cs[0].Detail["source"])
	}
}
