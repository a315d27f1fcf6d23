// Package events publishes domain events to fire-and-forget sinks.
//
// Events are handed to a Publisher only after the transaction that produced
// them has committed. Publishers make no delivery promise beyond
// at-least-once on their transport; errors are returned for logging only.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Publisher sends domain events to a sink.
type Publisher interface {
	Publish(ctx context.Context, events ...types.Event) error
}

// =============================================================================
// LOG
// =============================================================================

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "events")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, events ...types.Event) error {
	for _, e := range events {
		p.logger.Info("domain event",
			"event", e.Name,
			"event_id", e.ID,
			"tenant_id", e.TenantID,
			"alert_id", e.AlertID,
		)
	}
	return nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, events ...types.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps published events in memory. Useful in tests and for the
// in-memory development mode.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(ctx context.Context, events ...types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
