// Package metrics provides Prometheus counters and process health collection
// for the control plane.
package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// BufferStatsProvider is an interface for getting buffer statistics.
type BufferStatsProvider interface {
	GetStats(ctx context.Context) (types.BufferStats, error)
}

// StoreHealth is the slice of the store the collector needs.
type StoreHealth interface {
	Ping(ctx context.Context) error
	ListTenantsWithOpenAlerts(ctx context.Context) ([]string, error)
}

// SchemaReporter reports migration state; only the Postgres store has one.
type SchemaReporter interface {
	SchemaStatus(ctx context.Context) (types.SchemaStatus, error)
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithSchemaReporter adds migration state to the database section.
func WithSchemaReporter(r SchemaReporter) CollectorOption {
	return func(c *Collector) {
		c.schema = r
	}
}

// Collector gathers infrastructure metrics with caching.
type Collector struct {
	store  StoreHealth
	buffer BufferStatsProvider // may be nil if buffer is disabled
	schema SchemaReporter

	startTime time.Time

	mu            sync.RWMutex
	cachedHealth  *types.InfrastructureHealth
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a new metrics collector.
func NewCollector(store StoreHealth, buffer BufferStatsProvider, cacheDuration time.Duration, opts ...CollectorOption) *Collector {
	c := &Collector{
		store:         store,
		buffer:        buffer,
		startTime:     time.Now(),
		cacheDuration: cacheDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetInfrastructureHealth returns the current infrastructure health metrics.
// Results are cached for the collector's cache duration.
func (c *Collector) GetInfrastructureHealth(ctx context.Context) (*types.InfrastructureHealth, error) {
	c.mu.RLock()
	if c.cachedHealth != nil && time.Now().Before(c.cacheExpiry) {
		health := *c.cachedHealth
		c.mu.RUnlock()
		return &health, nil
	}
	c.mu.RUnlock()

	health := c.collectHealth(ctx)

	c.mu.Lock()
	c.cachedHealth = health
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return health, nil
}

func (c *Collector) collectHealth(ctx context.Context) *types.InfrastructureHealth {
	health := &types.InfrastructureHealth{
		Timestamp:    time.Now(),
		ControlPlane: c.collectControlPlaneHealth(),
		Database:     types.DatabaseHealth{Status: "healthy"},
		Buffer:       c.collectBufferHealth(ctx),
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DatabasePingTimeout)
	defer cancel()
	if err := c.store.Ping(pingCtx); err != nil {
		health.Database.Status = "error"
		return health
	}

	if c.schema != nil {
		schema, err := c.schema.SchemaStatus(ctx)
		if err != nil {
			schema = types.SchemaStatus{Error: err.Error()}
		}
		health.Database.Schema = &schema
		if schema.Error != "" || len(schema.Pending) > 0 {
			health.Database.Status = "degraded"
		}
	}

	if tenants, err := c.store.ListTenantsWithOpenAlerts(ctx); err == nil {
		health.Alerts.TenantsWithOpenAlerts = len(tenants)
	}

	return health
}

func (c *Collector) collectControlPlaneHealth() types.ControlPlaneHealth {
	health := types.ControlPlaneHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if memPct, err := proc.MemoryPercent(); err == nil {
			health.MemoryPercent = float64(memPct)
		}
	}

	if health.MemoryPercent > 90 || health.CPUPercent > 90 {
		health.Status = "degraded"
	}

	return health
}

func (c *Collector) collectBufferHealth(ctx context.Context) types.BufferHealth {
	if c.buffer == nil {
		return types.BufferHealth{}
	}

	stats, err := c.buffer.GetStats(ctx)
	if err != nil {
		return types.BufferHealth{Enabled: true}
	}

	return types.BufferHealth{
		Enabled:    true,
		Connected:  stats.Connected,
		QueueDepth: stats.QueueDepth,
	}
}
