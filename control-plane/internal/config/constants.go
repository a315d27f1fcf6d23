// Package config provides configuration constants and the file-based
// configuration for the control plane.
//
// Constants centralize limits, intervals and TTLs so they are easy to find
// and test. Config holds values operators set per deployment.
package config

import "time"

// Escalation sweep bounds.
const (
	// DefaultEscalationScanLimit is the number of OPEN alerts a sweep scans
	// when the caller does not supply a limit.
	DefaultEscalationScanLimit = 100

	// MaxEscalationScanLimit caps the caller-supplied scan limit.
	MaxEscalationScanLimit = 1000

	// DefaultEscalationSchedule is the cron spec (with seconds) for the
	// periodic escalation sweep.
	DefaultEscalationSchedule = "*/30 * * * * *"
)

// Telemetry buffering.
const (
	// BufferFlushBatchSize is the number of readings to pop from the Redis
	// buffer in one flush.
	BufferFlushBatchSize = 500

	// BufferFlushInterval is how often the Redis buffer is drained.
	BufferFlushInterval = 1 * time.Second

	// BufferMaxQueueDepth rejects ingest when the buffer is this deep.
	BufferMaxQueueDepth = 100000
)

// Ingest rate limiting, per tenant.
const (
	// DefaultIngestRatePerSecond is the sustained telemetry request rate.
	DefaultIngestRatePerSecond = 200

	// DefaultIngestBurst is the token bucket size.
	DefaultIngestBurst = 400
)

// Pagination defaults for API list endpoints.
const (
	// DefaultPaginationLimit is the default number of items returned
	// when no limit is specified.
	DefaultPaginationLimit = 50

	// MaxPaginationLimit is the maximum number of items that can be
	// requested in a single API call.
	MaxPaginationLimit = 500
)

// Cache TTLs for API response caching.
const (
	// CacheTTLSLAOverview is the TTL for SLA overview responses.
	CacheTTLSLAOverview = 30 * time.Second

	// CacheTTLInfraHealth is the TTL for infrastructure health data.
	CacheTTLInfraHealth = 30 * time.Second
)

// Connection configuration.
const (
	// DatabasePingTimeout is the timeout for database connectivity checks.
	DatabasePingTimeout = 5 * time.Second

	// RedisConnectionTimeout is the timeout for Redis connectivity checks.
	RedisConnectionTimeout = 5 * time.Second

	// EventPublishTimeout bounds one publish call to the event sink.
	EventPublishTimeout = 5 * time.Second
)

// HTTP server timeouts.
const (
	ServerReadTimeout     = 30 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)
