// Package service contains the alert lifecycle and escalation engine.
//
// Every mutating operation runs inside exactly one store transaction. Domain
// events produced during the transaction are buffered and published only
// after commit; publish failures are logged and never change the outcome of
// the operation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/channel"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/events"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/metrics"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/store"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Store is the transactional store the engine runs against.
type Store interface {
	InTx(ctx context.Context, fn func(tx store.Tx) error) error
	ListTenantsWithOpenAlerts(ctx context.Context) ([]string, error)
}

// Service provides the engine operations.
type Service struct {
	store     Store
	channels  *channel.Registry
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithChannels overrides the dispatch channel registry.
func WithChannels(r *channel.Registry) Option {
	return func(s *Service) { s.channels = r }
}

// WithPublisher sets the domain event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a new service.
func NewService(st Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		channels: channel.DefaultRegistry(),
		logger:   logger.With("component", "service"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(logger)
	}
	return s
}

// ListTenantsWithOpenAlerts returns tenants that currently have OPEN alerts.
func (s *Service) ListTenantsWithOpenAlerts(ctx context.Context) ([]string, error) {
	return s.store.ListTenantsWithOpenAlerts(ctx)
}

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// txScope carries the transaction, the instant it runs at, and everything that
// must only become visible once it commits.
type txScope struct {
	tx         store.Tx
	now        time.Time
	events     []types.Event
	dispatches []dispatchOutcome
}

type dispatchOutcome struct {
	channel types.Channel
	status  types.DeliveryStatus
}

func (s *Service) emit(sc *txScope, name, tenantID, alertID string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if alertID != "" {
		payload["alert_id"] = alertID
	}
	sc.events = append(sc.events, types.Event{
		ID:         s.newID(),
		Name:       name,
		TenantID:   tenantID,
		AlertID:    alertID,
		OccurredAt: sc.now,
		Payload:    payload,
	})
}

// withTx runs fn in one store transaction and publishes its events after commit.
func (s *Service) withTx(ctx context.Context, fn func(sc *txScope) error) error {
	var sc *txScope
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		// A fresh scope per attempt drops events buffered by a rolled-back run.
		sc = &txScope{tx: tx, now: s.now().UTC()}
		return fn(sc)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, sc)
	return nil
}

func (s *Service) afterCommit(ctx context.Context, sc *txScope) {
	for _, d := range sc.dispatches {
		metrics.ObserveDispatch(d.channel, d.status)
	}
	if len(sc.events) == 0 {
		return
	}
	metrics.ObserveEvents(sc.events)

	// The transaction has committed, so a cancelled caller must not stop the publish.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.EventPublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, sc.events...); err != nil {
		metrics.EventPublishFailuresTotal.Inc()
		s.logger.Warn("failed to publish events", "count", len(sc.events), "error", err)
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", types.ErrInvalid)
	}
	return nil
}
