package buffer

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/metrics"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Evaluator is the slice of the alert service the flusher drives.
type Evaluator interface {
	Evaluate(ctx context.Context, tel types.Telemetry) ([]types.Alert, error)
}

// FlusherOption configures a Flusher.
type FlusherOption func(*Flusher)

// WithAlertHook calls fn once per tenant after a flush that created alerts
// for it.
func WithAlertHook(fn func(ctx context.Context, tenantID string)) FlusherOption {
	return func(f *Flusher) { f.onAlerts = fn }
}

// Flusher drains the telemetry buffer into the alert engine.
type Flusher struct {
	buffer    *TelemetryBuffer
	evaluator Evaluator
	logger    *slog.Logger
	interval  time.Duration
	batch     int
	onAlerts  func(ctx context.Context, tenantID string)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFlusher creates a new buffer flusher.
func NewFlusher(buffer *TelemetryBuffer, evaluator Evaluator, logger *slog.Logger, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		buffer:    buffer,
		evaluator: evaluator,
		logger:    logger.With("component", "buffer_flusher"),
		interval:  config.BufferFlushInterval,
		batch:     config.BufferFlushBatchSize,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start begins the background flushing loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info("buffer flusher started", "interval", f.interval, "batch_size", f.batch)
}

// Stop stops the flusher and waits for completion.
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.logger.Info("buffer flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			// Final flush before stopping
			f.flush(context.Background())
			return
		case <-ticker.C:
			f.flush(context.Background())
		}
	}
}

// flush evaluates one batch in queue order and returns how many readings
// were processed.
func (f *Flusher) flush(ctx context.Context) int {
	size, err := f.buffer.Len(ctx)
	if err != nil {
		f.logger.Error("failed to get buffer size", "error", err)
		return 0
	}
	if size == 0 {
		return 0
	}

	readings, err := f.buffer.Pop(ctx, f.batch)
	if err != nil {
		f.logger.Error("failed to pop from buffer", "error", err)
		return 0
	}
	if len(readings) == 0 {
		return 0
	}

	start := time.Now()
	var created, failed int
	var touched []string

	// Sequential so readings from one drone are applied in arrival order.
	for _, r := range readings {
		alerts, err := f.evaluator.Evaluate(ctx, r)
		if err == nil {
			created += len(alerts)
			if len(alerts) > 0 && !slices.Contains(touched, r.TenantID) {
				touched = append(touched, r.TenantID)
			}
			continue
		}
		failed++
		if errors.Is(err, types.ErrInvalid) {
			f.logger.Warn("dropping invalid telemetry", "tenant_id", r.TenantID, "drone_id", r.DroneID, "error", err)
			continue
		}
		f.logger.Error("failed to evaluate telemetry", "tenant_id", r.TenantID, "drone_id", r.DroneID, "error", err)
		if dlErr := f.buffer.DeadLetter(ctx, r, err); dlErr != nil {
			f.logger.Error("failed to dead-letter telemetry", "error", dlErr)
		}
	}

	metrics.TelemetryIngestedTotal.WithLabelValues("buffered").Add(float64(len(readings) - failed))
	if f.onAlerts != nil {
		for _, tenantID := range touched {
			f.onAlerts(ctx, tenantID)
		}
	}

	f.logger.Info("flushed telemetry",
		"count", len(readings),
		"alerts", created,
		"failed", failed,
		"remaining", size-int64(len(readings)),
		"duration", time.Since(start),
	)
	return len(readings)
}
