// Package evaluator maps one telemetry reading to candidate alert triggers.
//
// Evaluation is pure: no I/O, no clock, no errors. Rules are independent, so a
// single reading can trigger several kinds at once. Candidates are always
// returned in the order LOW_BATTERY, LINK_LOSS, GEOFENCE_BREACH.
package evaluator

import (
	"fmt"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

const (
	// LowBatteryPercent is the inclusive battery threshold for LOW_BATTERY.
	LowBatteryPercent = 20.0

	// LinkLatencyLostMs is the inclusive latency at which a link without RSSI
	// counts as lost.
	LinkLatencyLostMs = 2000.0
)

// Evaluate returns the candidate triggers for a reading.
func Evaluate(t types.Telemetry) []types.Candidate {
	var out []types.Candidate
	if c, ok := lowBattery(t); ok {
		out = append(out, c)
	}
	if c, ok := linkLoss(t); ok {
		out = append(out, c)
	}
	if c, ok := geofenceBreach(t); ok {
		out = append(out, c)
	}
	return out
}

func lowBattery(t types.Telemetry) (types.Candidate, bool) {
	percent, hasPercent := t.BatteryPercent()
	flagged := t.Flag(types.FlagLowBattery)
	if !flagged && !(hasPercent && percent <= LowBatteryPercent) {
		return types.Candidate{}, false
	}

	detail := baseDetail(t)
	msg := fmt.Sprintf("Drone %s battery low", t.DroneID)
	if hasPercent {
		detail["battery_percent"] = percent
		msg = fmt.Sprintf("Drone %s battery at %.1f%%", t.DroneID, percent)
	}
	if flagged {
		detail["source"] = "flag"
	} else {
		detail["source"] = "battery"
	}

	return types.Candidate{
		Kind:     types.AlertKindLowBattery,
		Severity: types.AlertSeverityWarning,
		Message:  msg,
		Detail:   detail,
	}, true
}

func linkLoss(t types.Telemetry) (types.Candidate, bool) {
	detail := baseDetail(t)
	latency, hasLatency := t.LatencyMs()

	switch {
	case t.Flag(types.FlagLinkLost):
		detail["source"] = "flag"
	case t.Mode == types.ModeLinkLost:
		detail["source"] = "mode"
	case !t.HasRSSI() && hasLatency && latency >= LinkLatencyLostMs:
		detail["source"] = "latency"
	default:
		return types.Candidate{}, false
	}
	if hasLatency {
		detail["latency_ms"] = latency
	}

	return types.Candidate{
		Kind:     types.AlertKindLinkLoss,
		Severity: types.AlertSeverityCritical,
		Message:  fmt.Sprintf("Drone %s lost control link", t.DroneID),
		Detail:   detail,
	}, true
}

func geofenceBreach(t types.Telemetry) (types.Candidate, bool) {
	if !t.Flag(types.FlagGeofenceBreach) {
		return types.Candidate{}, false
	}
	detail := baseDetail(t)
	detail["source"] = "flag"

	return types.Candidate{
		Kind:     types.AlertKindGeofenceBreach,
		Severity: types.AlertSeverityCritical,
		Message: fmt.Sprintf("Drone %s breached geofence at %.5f,%.5f",
			t.DroneID, t.Position.Lat, t.Position.Lon),
		Detail: detail,
	}, true
}

func baseDetail(t types.Telemetry) map[string]any {
	return map[string]any{
		"mode": t.Mode,
		"position": map[string]any{
			"lat": t.Position.Lat,
			"lon": t.Position.Lon,
			"alt": t.Position.Alt,
		},
	}
}
