// Package shipper batches telemetry and ships it to the control plane.
//
// # Design
//
// Readings are buffered in memory and shipped when:
// 1. Batch size is reached (e.g., 500 readings)
// 2. Batch timeout expires (e.g., 2 seconds)
// 3. Shutdown is requested (flush remaining)
//
// # Resilience
//
// Readings from a failed batch go back to the front of the buffer, up to
// MaxRetained readings; the oldest are dropped beyond that. A 4xx other than
// 429 means the batch itself is bad, so it is dropped instead of retried.
// When the control plane reports that the first N readings were applied
// before the failure, only the remainder is retained or dropped.
package shipper

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// errRejected marks a batch the control plane will never accept.
var errRejected = errors.New("batch rejected")

// partialError reports a batch the control plane committed only a prefix of.
type partialError struct {
	applied int
	err     error
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%v (first %d applied)", e.err, e.applied)
}

func (e *partialError) Unwrap() error { return e.err }

// Shipper batches and ships readings to the control plane.
type Shipper struct {
	client   *http.Client
	endpoint string
	tenantID string
	apiKey   string
	logger   *slog.Logger

	// Batching config
	batchSize    int
	batchTimeout time.Duration
	maxRetained  int

	// Buffer
	buffer   []types.Telemetry
	bufferMu sync.Mutex

	// Metrics
	shipped   int64
	failed    int64
	dropped   int64
	metricsMu sync.Mutex

	// Control
	flushCh chan struct{}
}

// Config for the shipper.
type Config struct {
	Endpoint     string        // URL to POST telemetry
	TenantID     string        // Sent as X-Tenant-ID
	APIKey       string        // Operator API key (optional)
	BatchSize    int           // Max readings per batch
	BatchTimeout time.Duration // Max time before sending batch
	MaxRetained  int           // Readings kept across failed batches
	Client       *http.Client  // HTTP client (optional)
	Logger       *slog.Logger  // Logger (optional)
}

// NewShipper creates a new telemetry shipper.
func NewShipper(cfg Config) *Shipper {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 2 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 10 * cfg.BatchSize
	}

	return &Shipper{
		client:       cfg.Client,
		endpoint:     cfg.Endpoint,
		tenantID:     cfg.TenantID,
		apiKey:       cfg.APIKey,
		logger:       cfg.Logger.With("component", "shipper"),
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		maxRetained:  cfg.MaxRetained,
		buffer:       make([]types.Telemetry, 0, cfg.BatchSize),
		flushCh:      make(chan struct{}, 1),
	}
}

// Add adds readings to the buffer.
// May trigger immediate flush if batch size is reached.
func (s *Shipper) Add(readings ...types.Telemetry) {
	s.bufferMu.Lock()
	s.buffer = append(s.buffer, readings...)
	shouldFlush := len(s.buffer) >= s.batchSize
	s.bufferMu.Unlock()

	if shouldFlush {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run starts the shipper loop. Blocks until context is cancelled.
func (s *Shipper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush on shutdown
			s.Flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			s.flush(ctx)
		case <-s.flushCh:
			s.flush(ctx)
		}
	}
}

// flush sends one batch to the control plane.
func (s *Shipper) flush(ctx context.Context) error {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return nil
	}

	n := min(len(s.buffer), s.batchSize)
	batch := make([]types.Telemetry, n)
	copy(batch, s.buffer[:n])
	s.buffer = append(s.buffer[:0], s.buffer[n:]...)
	s.bufferMu.Unlock()

	err := s.ship(ctx, batch)
	var partial *partialError
	if errors.As(err, &partial) && partial.applied > 0 && partial.applied <= len(batch) {
		s.metricsMu.Lock()
		s.shipped += int64(partial.applied)
		s.metricsMu.Unlock()
		batch = batch[partial.applied:]
	}
	if err == nil {
		s.metricsMu.Lock()
		s.shipped += int64(len(batch))
		s.metricsMu.Unlock()
		s.logger.Debug("shipped telemetry", "count", len(batch))
		return nil
	}

	s.metricsMu.Lock()
	s.failed += int64(len(batch))
	s.metricsMu.Unlock()

	if errors.Is(err, errRejected) {
		s.logger.Error("control plane rejected batch, dropping",
			"count", len(batch),
			"error", err)
		s.addDropped(len(batch))
		return err
	}

	s.logger.Warn("failed to ship telemetry, retaining",
		"count", len(batch),
		"error", err)
	s.retain(batch)
	return err
}

// retain puts a failed batch back ahead of newer readings.
func (s *Shipper) retain(batch []types.Telemetry) {
	s.bufferMu.Lock()
	merged := make([]types.Telemetry, 0, len(batch)+len(s.buffer))
	merged = append(merged, batch...)
	merged = append(merged, s.buffer...)
	over := len(merged) - s.maxRetained
	if over > 0 {
		merged = merged[over:]
	}
	s.buffer = merged
	s.bufferMu.Unlock()

	if over > 0 {
		s.logger.Warn("retention limit reached, dropping oldest readings", "dropped", over)
		s.addDropped(over)
	}
}

func (s *Shipper) addDropped(n int) {
	s.metricsMu.Lock()
	s.dropped += int64(n)
	s.metricsMu.Unlock()
}

// ship sends a batch of readings to the control plane.
func (s *Shipper) ship(ctx context.Context, batch []types.Telemetry) error {
	// Marshal to JSON
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("%w: marshaling batch: %v", errRejected, err)
	}

	// Compress with gzip
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("compressing batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Tenant-ID", s.tenantID)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	// Send request
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Check response
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited by control plane")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("%w: status %d: %s", errRejected, resp.StatusCode, string(body))
		return withApplied(err, body)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		return withApplied(err, body)
	}
}

// withApplied wraps err in a partialError when the control plane reports
// that a prefix of the batch was committed before it failed.
func withApplied(err error, body []byte) error {
	var out struct {
		Applied int `json:"applied"`
	}
	if json.Unmarshal(body, &out) != nil || out.Applied <= 0 {
		return err
	}
	return &partialError{applied: out.Applied, err: err}
}

// Stats returns shipper statistics.
type Stats struct {
	Queued  int   `json:"queued"`
	Shipped int64 `json:"shipped"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

func (s *Shipper) Stats() Stats {
	s.bufferMu.Lock()
	queued := len(s.buffer)
	s.bufferMu.Unlock()

	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	return Stats{
		Queued:  queued,
		Shipped: s.shipped,
		Failed:  s.failed,
		Dropped: s.dropped,
	}
}

// Flush ships everything buffered, stopping at the first failure.
func (s *Shipper) Flush(ctx context.Context) error {
	for {
		s.bufferMu.Lock()
		empty := len(s.buffer) == 0
		s.bufferMu.Unlock()
		if empty {
			return nil
		}
		if err := s.flush(ctx); err != nil && !errors.Is(err, errRejected) {
			return err
		}
	}
}
