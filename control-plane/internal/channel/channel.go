// Package channel implements alert dispatch channels.
//
// Each channel is one Dispatcher. Real transports are not wired: IN_APP is
// recorded as delivered, WEBHOOK is simulated with a generated dispatch ID,
// and every other channel is skipped with a placeholder detail. Adding a real
// transport means registering another Dispatcher.
package channel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Message is what gets dispatched for an alert.
type Message struct {
	TenantID string
	AlertID  string
	DroneID  string
	Kind     types.AlertKind
	Priority types.Priority
	Target   string
	Summary  string
}

// Result is the outcome of one dispatch.
type Result struct {
	Status types.DeliveryStatus
	Detail map[string]any
}

// Dispatcher delivers a message on one channel.
type Dispatcher interface {
	Channel() types.Channel
	Dispatch(ctx context.Context, msg Message) (Result, error)
}

// Registry maps channels to dispatchers. Channels without a dispatcher fall
// back to a placeholder that skips delivery.
type Registry struct {
	dispatchers map[types.Channel]Dispatcher
}

// NewRegistry creates a registry with the given dispatchers.
func NewRegistry(dispatchers ...Dispatcher) *Registry {
	r := &Registry{dispatchers: make(map[types.Channel]Dispatcher)}
	for _, d := range dispatchers {
		r.Register(d)
	}
	return r
}

// DefaultRegistry returns the registry with the built-in IN_APP and WEBHOOK dispatchers.
func DefaultRegistry() *Registry {
	return NewRegistry(InApp{}, NewWebhook())
}

// Register adds or replaces the dispatcher for its channel.
func (r *Registry) Register(d Dispatcher) {
	r.dispatchers[d.Channel()] = d
}

// Dispatch sends msg on ch.
func (r *Registry) Dispatch(ctx context.Context, ch types.Channel, msg Message) (Result, error) {
	if d, ok := r.dispatchers[ch]; ok {
		return d.Dispatch(ctx, msg)
	}
	return Placeholder{Name: ch}.Dispatch(ctx, msg)
}

// =============================================================================
// IN_APP
// =============================================================================

// InApp delivers into the operator console. Always SENT.
type InApp struct{}

// Channel implements Dispatcher.
func (InApp) Channel() types.Channel { return types.ChannelInApp }

// Dispatch implements Dispatcher.
func (InApp) Dispatch(ctx context.Context, msg Message) (Result, error) {
	return Result{
		Status: types.DeliverySent,
		Detail: map[string]any{"inbox": msg.Target},
	}, nil
}

// =============================================================================
// WEBHOOK
// =============================================================================

// Webhook simulates webhook delivery: it records a dispatch ID but performs
// no network call.
type Webhook struct {
	newID func() string
	now   func() time.Time
}

// NewWebhook creates the simulated webhook dispatcher.
func NewWebhook() *Webhook {
	return &Webhook{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

// Channel implements Dispatcher.
func (w *Webhook) Channel() types.Channel { return types.ChannelWebhook }

// Dispatch implements Dispatcher.
func (w *Webhook) Dispatch(ctx context.Context, msg Message) (Result, error) {
	return Result{
		Status: types.DeliverySent,
		Detail: map[string]any{
			"dispatch_id": w.newID(),
			"endpoint":    msg.Target,
			"simulated":   true,
			"queued_at":   w.now().UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

// =============================================================================
// PLACEHOLDER
// =============================================================================

// Placeholder stands in for channels with no transport (EMAIL, SMS, ...).
type Placeholder struct {
	Name types.Channel
}

// Channel implements Dispatcher.
func (p Placeholder) Channel() types.Channel { return p.Name }

// Dispatch implements Dispatcher.
func (p Placeholder) Dispatch(ctx context.Context, msg Message) (Result, error) {
	return Result{
		Status: types.DeliverySkipped,
		Detail: map[string]any{
			"placeholder": true,
			"reason":      "no transport configured for channel " + string(p.Name),
		},
	}, nil
}
