// Package worker provides background workers for the control plane.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Sweeper is the slice of the alert service the escalation worker drives.
type Sweeper interface {
	ListTenantsWithOpenAlerts(ctx context.Context) ([]string, error)
	RunEscalationSweep(ctx context.Context, tenantID string, limit int, dryRun bool) (*types.SweepResult, error)
}

// EscalationWorkerConfig holds configuration for the escalation worker.
type EscalationWorkerConfig struct {
	// Schedule is a cron spec with a leading seconds field.
	Schedule string

	// ScanLimit bounds each tenant's sweep. Zero uses the service default.
	ScanLimit int

	// SweepTimeout bounds one full pass over all tenants.
	SweepTimeout time.Duration

	// OnEscalated, if set, is called for each tenant whose sweep escalated
	// at least one alert.
	OnEscalated func(ctx context.Context, tenantID string)
}

// DefaultEscalationWorkerConfig returns sensible defaults.
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{
		Schedule:     config.DefaultEscalationSchedule,
		ScanLimit:    config.DefaultEscalationScanLimit,
		SweepTimeout: 2 * time.Minute,
	}
}

// SweepStats summarizes one pass over all tenants.
type SweepStats struct {
	Tenants   int
	Scanned   int
	Escalated int
	Failed    int
}

// EscalationWorker runs the escalation sweep for every tenant with open
// alerts on a cron schedule. Overlapping runs are skipped; the store's
// (alert, level) uniqueness covers sweeps from other replicas.
type EscalationWorker struct {
	sweeper Sweeper
	config  EscalationWorkerConfig
	logger  *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	lastRun SweepStats
}

// NewEscalationWorker creates a new escalation worker.
func NewEscalationWorker(sweeper Sweeper, cfg EscalationWorkerConfig, logger *slog.Logger) (*EscalationWorker, error) {
	w := &EscalationWorker{
		sweeper: sweeper,
		config:  cfg,
		logger:  logger.With("component", "escalation_worker"),
	}

	cl := cronLogger{w.logger}
	w.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := w.cron.AddFunc(cfg.Schedule, func() { w.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid escalation schedule %q: %w", cfg.Schedule, err)
	}
	return w, nil
}

// Start begins the cron scheduler.
func (w *EscalationWorker) Start() {
	w.logger.Info("escalation worker started", "schedule", w.config.Schedule, "scan_limit", w.config.ScanLimit)
	w.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish.
func (w *EscalationWorker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("escalation worker stopped")
}

// LastRun returns the stats of the most recent pass.
func (w *EscalationWorker) LastRun() SweepStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun
}

// RunOnce sweeps every tenant with open alerts. A failing tenant is logged
// and does not stop the pass.
func (w *EscalationWorker) RunOnce(ctx context.Context) SweepStats {
	if w.config.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.SweepTimeout)
		defer cancel()
	}

	start := time.Now()
	var stats SweepStats

	tenants, err := w.sweeper.ListTenantsWithOpenAlerts(ctx)
	if err != nil {
		w.logger.Error("failed to list tenants with open alerts", "error", err)
		return stats
	}
	stats.Tenants = len(tenants)

	for _, tenantID := range tenants {
		res, err := w.sweeper.RunEscalationSweep(ctx, tenantID, w.config.ScanLimit, false)
		if err != nil {
			stats.Failed++
			w.logger.Error("escalation sweep failed", "tenant_id", tenantID, "error", err)
			continue
		}
		stats.Scanned += res.Scanned
		stats.Escalated += res.Escalated
		if res.Escalated > 0 && w.config.OnEscalated != nil {
			w.config.OnEscalated(ctx, tenantID)
		}
	}

	w.mu.Lock()
	w.lastRun = stats
	w.mu.Unlock()

	if stats.Escalated > 0 || stats.Failed > 0 {
		w.logger.Info("escalation worker cycle complete",
			"duration", time.Since(start),
			"tenants", stats.Tenants,
			"scanned", stats.Scanned,
			"escalated", stats.Escalated,
			"failed", stats.Failed,
		)
	}
	return stats
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
