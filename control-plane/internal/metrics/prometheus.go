package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

var AlertsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_alerts_created_total",
		Help: "Total number of alerts created",
	},
	[]string{"alert_kind", "priority"},
)

var AlertsSuppressedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_alerts_suppressed_total",
		Help: "Candidates dropped by silence rules or alerts marked noisy",
	},
	[]string{"reason"},
)

var AlertTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_alert_transitions_total",
		Help: "Alert lifecycle transitions (acked, closed, routed)",
	},
	[]string{"transition"},
)

var EscalationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_alert_escalations_total",
		Help: "Applied escalations by reason",
	},
	[]string{"reason"},
)

var DispatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_alert_dispatches_total",
		Help: "Dispatch attempts by channel and delivery status",
	},
	[]string{"channel", "status"},
)

var EventPublishFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fleet_alert_event_publish_failures_total",
		Help: "Domain event batches that failed to publish",
	},
)

var TelemetryIngestedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_telemetry_ingested_total",
		Help: "Telemetry readings accepted for evaluation",
	},
	[]string{"path"},
)

var HTTPRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fleet_http_rate_limit_rejections_total",
		Help: "Ingest requests rejected due to per-tenant rate limiting",
	},
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(AlertsCreatedTotal)
	prometheus.MustRegister(AlertsSuppressedTotal)
	prometheus.MustRegister(AlertTransitionsTotal)
	prometheus.MustRegister(EscalationsTotal)
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(EventPublishFailuresTotal)
	prometheus.MustRegister(TelemetryIngestedTotal)
	prometheus.MustRegister(HTTPRateLimitRejectionsTotal)
}

// ObserveEvents updates counters from committed domain events.
func ObserveEvents(events []types.Event) {
	for _, e := range events {
		switch e.Name {
		case types.EventAlertCreated:
			kind, _ := e.Payload["alert_kind"].(string)
			priority, _ := e.Payload["priority"].(string)
			AlertsCreatedTotal.WithLabelValues(kind, priority).Inc()
		case types.EventAlertSuppressed:
			AlertsSuppressedTotal.WithLabelValues("silence").Inc()
		case types.EventAlertNoiseSuppressed:
			AlertsSuppressedTotal.WithLabelValues("noise").Inc()
		case types.EventAlertEscalated:
			reason, _ := e.Payload["reason"].(string)
			EscalationsTotal.WithLabelValues(reason).Inc()
		case types.EventAlertAcked:
			AlertTransitionsTotal.WithLabelValues("acked").Inc()
		case types.EventAlertClosed:
			AlertTransitionsTotal.WithLabelValues("closed").Inc()
		case types.EventAlertRouted:
			AlertTransitionsTotal.WithLabelValues("routed").Inc()
		}
	}
}

// ObserveDispatch counts one dispatch outcome.
func ObserveDispatch(channel types.Channel, status types.DeliveryStatus) {
	DispatchesTotal.WithLabelValues(string(channel), string(status)).Inc()
}
