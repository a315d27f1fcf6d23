package types

import "time"

// InfrastructureHealth contains control plane health metrics.
type InfrastructureHealth struct {
	Timestamp    time.Time          `json:"timestamp"`
	ControlPlane ControlPlaneHealth `json:"control_plane"`
	Database     DatabaseHealth     `json:"database"`
	Buffer       BufferHealth       `json:"buffer"`
	Alerts       AlertLoad          `json:"alerts"`
}

// ControlPlaneHealth contains control plane runtime metrics.
type ControlPlaneHealth struct {
	Status        string  `json:"status"` // healthy, degraded, down
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// DatabaseHealth reports store reachability.
type DatabaseHealth struct {
	Status string        `json:"status"`
	Schema *SchemaStatus `json:"schema,omitempty"`
}

// SchemaStatus is the migration state of the alert store.
type SchemaStatus struct {
	Version int      `json:"version"`
	Pending []string `json:"pending,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// BufferHealth contains Redis telemetry buffer metrics.
type BufferHealth struct {
	Enabled    bool  `json:"enabled"`
	Connected  bool  `json:"connected"`
	QueueDepth int64 `json:"queue_depth"`
}

// AlertLoad reports how many tenants currently carry open alerts.
type AlertLoad struct {
	TenantsWithOpenAlerts int `json:"tenants_with_open_alerts"`
}

// BufferStats represents buffer statistics for health reporting.
type BufferStats struct {
	QueueDepth int64
	Connected  bool
}
