package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/channel"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/events"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/store"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/testutil"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

const tenant = testutil.TestTenant

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	store  *store.MemoryStore
	events *events.Recorder
	clock  *testutil.Clock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		events: &events.Recorder{},
		clock:  testutil.NewClock(t0),
	}
	opts = append([]Option{WithClock(h.clock.Now), WithPublisher(h.events)}, opts...)
	h.svc = NewService(h.store, testutil.NewTestLogger(), opts...)
	return h
}

// txWrapStore hands every transaction through wrap before the service sees it.
type txWrapStore struct {
	*store.MemoryStore
	wrap func(store.Tx) store.Tx
}

func (s *txWrapStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(tx store.Tx) error { return fn(s.wrap(tx)) })
}

// newWrappedHarness is newHarness with a Tx decorator between service and store.
func newWrappedHarness(t *testing.T, wrap func(store.Tx) store.Tx, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		events: &events.Recorder{},
		clock:  testutil.NewClock(t0),
	}
	opts = append([]Option{WithClock(h.clock.Now), WithPublisher(h.events)}, opts...)
	h.svc = NewService(&txWrapStore{MemoryStore: h.store, wrap: wrap}, testutil.NewTestLogger(), opts...)
	return h
}

func (h *harness) evaluate(t *testing.T, tel types.Telemetry) []types.Alert {
	t.Helper()
	created, err := h.svc.Evaluate(context.Background(), tel)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return created
}

func (h *harness) onlyAlert(t *testing.T) types.Alert {
	t.Helper()
	alerts, err := h.svc.ListAlerts(context.Background(), tenant, types.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	return alerts[0]
}

func eventNames(evs []types.Event) []string {
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.Name
	}
	return names
}

// =============================================================================
// EVALUATION
// =============================================================================

func TestEvaluate_LowBatteryCreatesRoutedAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.evaluate(t, testutil.FixtureLowBattery(12))
	if len(created) != 1 {
		t.Fatalf("expected 1 created alert, got %d", len(created))
	}
	a := created[0]

	if a.Kind != types.AlertKindLowBattery {
		t.Errorf("kind: got %s", a.Kind)
	}
	if a.Severity != types.AlertSeverityWarning || a.Priority != types.PriorityP3 {
		t.Errorf("severity/priority: got %s/%s, want WARNING/P3", a.Severity, a.Priority)
	}
	if a.Status != types.AlertStatusOpen || a.RouteStatus != types.RouteStatusRouted {
		t.Errorf("status: got %s/%s", a.Status, a.RouteStatus)
	}
	if a.Detail.RepeatCount != 1 {
		t.Errorf("repeat_count: got %d, want 1", a.Detail.RepeatCount)
	}
	if !a.FirstSeenAt.Equal(t0) || a.RoutedAt == nil || !a.RoutedAt.Equal(t0) {
		t.Errorf("timestamps: first_seen=%v routed_at=%v", a.FirstSeenAt, a.RoutedAt)
	}

	// No routing rules: fall back to IN_APP for the default on-call.
	if a.Detail.Routing == nil || !a.Detail.Routing.Fallback {
		t.Fatalf("expected fallback routing, got %+v", a.Detail.Routing)
	}
	if a.Detail.Routing.OncallTarget != types.DefaultOncallTarget {
		t.Errorf("oncall target: got %q", a.Detail.Routing.OncallTarget)
	}

	logs, err := h.svc.ListRouteLogs(ctx, tenant, a.ID)
	if err != nil {
		t.Fatalf("ListRouteLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Channel != types.ChannelInApp || logs[0].DeliveryStatus != types.DeliverySent {
		t.Errorf("route logs: got %+v", logs)
	}
	if logs[0].RuleID != nil {
		t.Error("fallback route log should have no rule id")
	}

	actions, _ := h.svc.ListHandlingActions(ctx, tenant, a.ID)
	if len(actions) != 1 || actions[0].ActionType != types.ActionDispatch || actions[0].ActorID != types.ActorSystem {
		t.Errorf("actions: got %+v", actions)
	}

	got := eventNames(h.events.Events())
	if len(got) != 2 || got[0] != types.EventAlertCreated || got[1] != types.EventAlertRouted {
		t.Errorf("events: got %v, want [created routed]", got)
	}
}

func TestEvaluate_HealthyReadingDoesNothing(t *testing.T) {
	h := newHarness(t)

	if created := h.evaluate(t, testutil.FixtureTelemetry()); len(created) != 0 {
		t.Errorf("expected nothing, got %d alerts", len(created))
	}
	if n := len(h.events.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestEvaluate_RequiresTenantAndDrone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Evaluate(ctx, testutil.FixtureLowBattery(5, func(tel *types.Telemetry) { tel.TenantID = "" }))
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("missing tenant: got %v", err)
	}
	_, err = h.svc.Evaluate(ctx, testutil.FixtureLowBattery(5, func(tel *types.Telemetry) { tel.DroneID = "" }))
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("missing drone: got %v", err)
	}
}

func TestEvaluate_MultipleCandidatesInOneReading(t *testing.T) {
	h := newHarness(t)

	tel := testutil.FixtureLowBattery(10, func(tel *types.Telemetry) {
		tel.Mode = types.ModeLinkLost
		tel.HealthFlags = map[string]any{types.FlagGeofenceBreach: "yes"}
	})
	created := h.evaluate(t, tel)
	if len(created) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(created))
	}
	priorities := map[types.AlertKind]types.Priority{}
	for _, a := range created {
		priorities[a.Kind] = a.Priority
	}
	if priorities[types.AlertKindLinkLoss] != types.PriorityP1 || priorities[types.AlertKindGeofenceBreach] != types.PriorityP1 {
		t.Errorf("critical kinds should be P1: %v", priorities)
	}
}

func TestEvaluate_RepeatMergesIntoActiveAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.evaluate(t, testutil.FixtureLowBattery(12))[0]
	h.clock.Advance(30 * time.Second)
	h.events.Reset()

	if created := h.evaluate(t, testutil.FixtureLowBattery(11)); len(created) != 0 {
		t.Fatalf("repeat should not create an alert, got %d", len(created))
	}

	a := h.onlyAlert(t)
	if a.ID != first.ID {
		t.Fatalf("merged into a different alert")
	}
	if a.Detail.RepeatCount != 2 {
		t.Errorf("repeat_count: got %d, want 2", a.Detail.RepeatCount)
	}
	if !a.LastSeenAt.Equal(t0.Add(30*time.Second)) || !a.FirstSeenAt.Equal(t0) {
		t.Errorf("timeline: first=%v last=%v", a.FirstSeenAt, a.LastSeenAt)
	}
	if a.Detail.Trigger["battery_percent"] != 11.0 {
		t.Errorf("trigger detail not refreshed: %v", a.Detail.Trigger)
	}

	// Same priority: no re-route and no events.
	logs, _ := h.svc.ListRouteLogs(ctx, tenant, a.ID)
	if len(logs) != 1 {
		t.Errorf("expected 1 route log, got %d", len(logs))
	}
	if n := len(h.events.Events()); n != 0 {
		t.Errorf("expected no events on a plain merge, got %v", eventNames(h.events.Events()))
	}
}

func TestEvaluate_SeverityIsMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing := testutil.FixtureAlert(func(a *types.Alert) {
		a.TenantID = tenant
		a.Severity = types.AlertSeverityCritical
		a.Priority = types.PriorityP2
		a.FirstSeenAt, a.LastSeenAt = t0, t0
	})
	if err := h.store.InTx(ctx, func(tx store.Tx) error { return tx.CreateAlert(ctx, existing) }); err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	h.clock.Advance(time.Minute)
	h.evaluate(t, testutil.FixtureLowBattery(15))

	a := h.onlyAlert(t)
	if a.Severity != types.AlertSeverityCritical || a.Priority != types.PriorityP2 {
		t.Errorf("severity downgraded: got %s/%s", a.Severity, a.Priority)
	}
}

func TestEvaluate_SeverityUpgradeReroutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing := testutil.FixtureAlert(func(a *types.Alert) {
		a.TenantID = tenant
		a.Kind = types.AlertKindLinkLoss
		a.Severity = types.AlertSeverityWarning
		a.Priority = types.PriorityP2
	})
	if err := h.store.InTx(ctx, func(tx store.Tx) error { return tx.CreateAlert(ctx, existing) }); err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	h.evaluate(t, testutil.FixtureLinkLoss())

	a := h.onlyAlert(t)
	if a.Severity != types.AlertSeverityCritical || a.Priority != types.PriorityP1 {
		t.Fatalf("expected upgrade to CRITICAL/P1, got %s/%s", a.Severity, a.Priority)
	}
	logs, _ := h.svc.ListRouteLogs(ctx, tenant, a.ID)
	if len(logs) != 1 || logs[0].Priority != types.PriorityP1 {
		t.Errorf("expected one P1 route log, got %+v", logs)
	}
	if len(h.events.Named(types.EventAlertRouted)) != 1 {
		t.Errorf("expected alert.routed on priority change")
	}
}

func TestEvaluate_ClosedAlertIsNotResurrected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.evaluate(t, testutil.FixtureLowBattery(12))[0]
	if _, err := h.svc.Close(ctx, tenant, first.ID, "op-1", "swapped battery"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h.clock.Advance(time.Minute)
	created := h.evaluate(t, testutil.FixtureLowBattery(12))
	if len(created) != 1 {
		t.Fatalf("expected a new alert, got %d", len(created))
	}
	if created[0].ID == first.ID {
		t.Fatal("closed alert was reopened")
	}

	old, err := h.svc.GetAlert(ctx, tenant, first.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if old.Status != types.AlertStatusClosed {
		t.Errorf("old alert status: got %s", old.Status)
	}
}

func TestEvaluate_AckedAlertStillDeduplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.evaluate(t, testutil.FixtureLowBattery(12))[0]
	if _, err := h.svc.Acknowledge(ctx, tenant, first.ID, "op-1", ""); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	if created := h.evaluate(t, testutil.FixtureLowBattery(12)); len(created) != 0 {
		t.Fatalf("ACKED alert should absorb repeats, got %d new", len(created))
	}
	a := h.onlyAlert(t)
	if a.Status != types.AlertStatusAcked || a.Detail.RepeatCount != 2 {
		t.Errorf("got status=%s repeat=%d", a.Status, a.Detail.RepeatCount)
	}
}

// =============================================================================
// SILENCE
// =============================================================================

func TestEvaluate_SilencedCandidateLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rule, err := h.svc.CreateSilenceRule(ctx, tenant, testutil.FixtureSilenceRule(func(r *types.SilenceRule) {
		r.Kind = testutil.Ptr(types.AlertKindLowBattery)
		r.DroneID = testutil.Ptr("drone-1")
	}))
	if err != nil {
		t.Fatalf("CreateSilenceRule: %v", err)
	}

	if created := h.evaluate(t, testutil.FixtureLowBattery(5)); len(created) != 0 {
		t.Fatalf("silenced reading created %d alerts", len(created))
	}
	alerts, _ := h.svc.ListAlerts(ctx, tenant, types.AlertFilter{})
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}

	got := h.events.Events()
	if len(got) != 1 || got[0].Name != types.EventAlertSuppressed {
		t.Fatalf("events: got %v", eventNames(got))
	}
	if got[0].Payload["silence_rule_id"] != rule.ID {
		t.Errorf("payload: %v", got[0].Payload)
	}

	// A different drone is not covered.
	created := h.evaluate(t, testutil.FixtureLowBattery(5, func(tel *types.Telemetry) { tel.DroneID = "drone-2" }))
	if len(created) != 1 {
		t.Errorf("unsilenced drone: got %d alerts", len(created))
	}
}

func TestEvaluate_SilenceWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateSilenceRule(ctx, tenant, testutil.FixtureSilenceRule(func(r *types.SilenceRule) {
		r.StartsAt = testutil.Ptr(t0.Add(time.Hour))
		r.EndsAt = testutil.Ptr(t0.Add(2 * time.Hour))
	}))
	if err != nil {
		t.Fatalf("CreateSilenceRule: %v", err)
	}

	if created := h.evaluate(t, testutil.FixtureLowBattery(5)); len(created) != 1 {
		t.Fatalf("before the window: expected an alert, got %d", len(created))
	}

	h.clock.Advance(90 * time.Minute)
	h.events.Reset()
	h.evaluate(t, testutil.FixtureLinkLoss())
	if len(h.events.Named(types.EventAlertSuppressed)) != 1 {
		t.Errorf("inside the window: expected suppression, got %v", eventNames(h.events.Events()))
	}

	// ends_at is exclusive.
	h.clock.Set(t0.Add(2 * time.Hour))
	h.events.Reset()
	h.evaluate(t, testutil.FixtureLinkLoss())
	if len(h.events.Named(types.EventAlertCreated)) != 1 {
		t.Errorf("at ends_at: expected a new alert, got %v", eventNames(h.events.Events()))
	}
}

// =============================================================================
// AGGREGATION
// =============================================================================

func TestEvaluate_NoiseSuppressionFiresOncePerWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateAggregationRule(ctx, tenant, testutil.FixtureAggregationRule(func(r *types.AggregationRule) {
		r.WindowSeconds = 300
		r.NoiseThreshold = 2
	}))
	if err != nil {
		t.Fatalf("CreateAggregationRule: %v", err)
	}

	h.evaluate(t, testutil.FixtureLowBattery(12))
	for i := 0; i < 3; i++ {
		h.clock.Advance(10 * time.Second)
		h.evaluate(t, testutil.FixtureLowBattery(12))
	}

	noise := h.events.Named(types.EventAlertNoiseSuppressed)
	if len(noise) != 1 {
		t.Fatalf("expected exactly one noise event, got %d", len(noise))
	}

	a := h.onlyAlert(t)
	if a.Detail.NoiseControl == nil || !a.Detail.NoiseControl.Suppressed {
		t.Fatalf("expected noise suppression, got %+v", a.Detail.NoiseControl)
	}
	if a.Detail.Aggregation.AggregatedCount != 4 || a.Detail.RepeatCount != 4 {
		t.Errorf("counts: aggregated=%d repeat=%d", a.Detail.Aggregation.AggregatedCount, a.Detail.RepeatCount)
	}
	if a.Status != types.AlertStatusOpen {
		t.Errorf("noise suppression must not change status, got %s", a.Status)
	}

	// A gap longer than the window starts over and lifts suppression.
	h.clock.Advance(10 * time.Minute)
	h.evaluate(t, testutil.FixtureLowBattery(12))

	a = h.onlyAlert(t)
	if a.Detail.Aggregation.AggregatedCount != 1 {
		t.Errorf("window reset: aggregated=%d", a.Detail.Aggregation.AggregatedCount)
	}
	if !a.Detail.Aggregation.WindowStartedAt.Equal(h.clock.Now()) {
		t.Errorf("window start: got %v", a.Detail.Aggregation.WindowStartedAt)
	}
	if a.Detail.NoiseControl == nil || a.Detail.NoiseControl.Suppressed {
		t.Errorf("suppression should be lifted, got %+v", a.Detail.NoiseControl)
	}
	if a.Detail.RepeatCount != 5 {
		t.Errorf("repeat_count keeps counting across windows, got %d", a.Detail.RepeatCount)
	}
}

func TestSelectAggregationRule(t *testing.T) {
	battery := types.AlertKindLowBattery
	link := types.AlertKindLinkLoss
	rules := []types.AggregationRule{
		{ID: "wild-late", CreatedAt: t0.Add(time.Minute), IsActive: true},
		{ID: "wild-early", CreatedAt: t0, IsActive: true},
		{ID: "link", Kind: &link, CreatedAt: t0, IsActive: true},
		{ID: "battery-inactive", Kind: &battery, CreatedAt: t0, IsActive: false},
		{ID: "battery", Kind: &battery, CreatedAt: t0.Add(time.Hour), IsActive: true},
	}

	if got := selectAggregationRule(rules, battery); got == nil || got.ID != "battery" {
		t.Errorf("exact match should win, got %+v", got)
	}
	if got := selectAggregationRule(rules, types.AlertKindGeofenceBreach); got == nil || got.ID != "wild-early" {
		t.Errorf("earliest wildcard should win, got %+v", got)
	}
	if got := selectAggregationRule(nil, battery); got != nil {
		t.Errorf("no rules: got %+v", got)
	}
}

// =============================================================================
// ROUTING
// =============================================================================

func TestRoute_MatchingRulesResolveActiveOncall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.CreateOncallShift(ctx, tenant, testutil.FixtureOncallShift("alice", t0.Add(-time.Hour))); err != nil {
		t.Fatalf("CreateOncallShift: %v", err)
	}
	r1, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
		r.Name = "p1-webhook"
	}))
	if err != nil {
		t.Fatalf("CreateRoutingRule: %v", err)
	}
	h.clock.Advance(time.Second)
	r2, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
		r.Name = "p1-oncall"
		r.Kind = testutil.Ptr(types.AlertKindLinkLoss)
		r.Channel = types.ChannelSMS
		r.Target = types.TargetActiveOncall
	}))
	if err != nil {
		t.Fatalf("CreateRoutingRule: %v", err)
	}
	// Matches priority but not kind.
	if _, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
		r.Name = "p1-geofence"
		r.Kind = testutil.Ptr(types.AlertKindGeofenceBreach)
	})); err != nil {
		t.Fatalf("CreateRoutingRule: %v", err)
	}

	a := h.evaluate(t, testutil.FixtureLinkLoss())[0]

	if a.Detail.Routing.Fallback {
		t.Error("matched rules should not fall back")
	}
	if got := a.Detail.Routing.RuleIDs; len(got) != 2 || got[0] != r1.ID || got[1] != r2.ID {
		t.Errorf("rule ids: got %v", got)
	}
	if a.Detail.Routing.OncallTarget != "alice" {
		t.Errorf("oncall target: got %q", a.Detail.Routing.OncallTarget)
	}

	logs, _ := h.svc.ListRouteLogs(ctx, tenant, a.ID)
	if len(logs) != 2 {
		t.Fatalf("expected 2 route logs, got %d", len(logs))
	}
	if logs[1].Target != "alice" || logs[1].DeliveryStatus != types.DeliverySkipped {
		t.Errorf("SMS log: got %+v", logs[1])
	}
	if logs[0].Detail["simulated"] != true {
		t.Errorf("webhook log detail: %v", logs[0].Detail)
	}
}

type failingDispatcher struct{}

func (failingDispatcher) Channel() types.Channel { return types.ChannelWebhook }

func (failingDispatcher) Dispatch(ctx context.Context, msg channel.Message) (channel.Result, error) {
	return channel.Result{}, errors.New("endpoint unreachable")
}

func TestRoute_DispatchErrorFailsTransaction(t *testing.T) {
	h := newHarness(t, WithChannels(channel.NewRegistry(channel.InApp{}, failingDispatcher{})))
	ctx := context.Background()

	if _, err := h.svc.CreateRoutingRule(ctx, tenant, testutil.FixtureRoutingRule(func(r *types.RoutingRule) {
		r.Priority = types.PriorityP3
	})); err != nil {
		t.Fatalf("CreateRoutingRule: %v", err)
	}

	if _, err := h.svc.Evaluate(ctx, testutil.FixtureLowBattery(12)); err == nil {
		t.Fatal("expected dispatch failure to surface")
	}

	alerts, _ := h.svc.ListAlerts(ctx, tenant, types.AlertFilter{})
	if len(alerts) != 0 {
		t.Errorf("failed transaction left %d alerts", len(alerts))
	}
	if n := len(h.events.Events()); n != 0 {
		t.Errorf("failed transaction published %d events", n)
	}
}

// =============================================================================
// ON-CALL
// =============================================================================

func TestPickOncall(t *testing.T) {
	shifts := []types.OncallShift{
		{ID: "a", OncallTarget: "alice", StartsAt: t0, EndsAt: t0.Add(8 * time.Hour), IsActive: true},
		{ID: "b", OncallTarget: "bob", StartsAt: t0.Add(10 * time.Minute), EndsAt: t0.Add(time.Hour), IsActive: true},
		{ID: "c", OncallTarget: "carol", StartsAt: t0.Add(20 * time.Minute), EndsAt: t0.Add(time.Hour), IsActive: false},
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"only first covers", t0.Add(5 * time.Minute), "alice"},
		{"latest start wins overlap", t0.Add(30 * time.Minute), "bob"},
		{"inactive ignored", t0.Add(25 * time.Minute), "bob"},
		{"end is exclusive", t0.Add(time.Hour), "alice"},
		{"nobody covers", t0.Add(-time.Minute), types.DefaultOncallTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickOncall(shifts, tt.at); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	tie := []types.OncallShift{
		{ID: "z", OncallTarget: "zed", StartsAt: t0, EndsAt: t0.Add(time.Hour), IsActive: true},
		{ID: "m", OncallTarget: "mia", StartsAt: t0, EndsAt: t0.Add(time.Hour), IsActive: true},
	}
	if got := pickOncall(tie, t0); got != "mia" {
		t.Errorf("tie: got %q, want lowest id", got)
	}
}

func TestCurrentOncall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.CreateOncallShift(ctx, tenant, testutil.FixtureOncallShift("alice", t0))
	h.svc.CreateOncallShift(ctx, tenant, testutil.FixtureOncallShift("bob", t0.Add(10*time.Minute)))

	h.clock.Set(t0.Add(20 * time.Minute))
	got, err := h.svc.CurrentOncall(ctx, tenant)
	if err != nil {
		t.Fatalf("CurrentOncall: %v", err)
	}
	if got != "bob" {
		t.Errorf("got %q, want bob", got)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAcknowledge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.evaluate(t, testutil.FixtureLowBattery(12))[0]
	h.clock.Advance(time.Minute)
	h.events.Reset()

	acked, err := h.svc.Acknowledge(ctx, tenant, a.ID, "op-1", "on it")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if acked.Status != types.AlertStatusAcked || acked.AckedBy != "op-1" {
		t.Errorf("got status=%s by=%s", acked.Status, acked.AckedBy)
	}
	if acked.AckedAt == nil || !acked.AckedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("acked_at: %v", acked.AckedAt)
	}
	if acked.Detail.AckComment != "on it" {
		t.Errorf("ack comment: %q", acked.Detail.AckComment)
	}

	evs := h.events.Named(types.EventAlertAcked)
	if len(evs) != 1 || evs[0].Payload["previous_status"] != string(types.AlertStatusOpen) {
		t.Fatalf("acked events: %+v", evs)
	}

	t.Run("re-ack is a no-op", func(t *testing.T) {
		h.clock.Advance(time.Minute)
		again, err := h.svc.Acknowledge(ctx, tenant, a.ID, "op-2", "")
		if err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if again.AckedBy != "op-1" || !again.AckedAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("re-ack changed the alert: %+v", again)
		}
		if n := len(h.events.Named(types.EventAlertAcked)); n != 1 {
			t.Errorf("re-ack emitted events: %d", n)
		}
		actions, _ := h.svc.ListHandlingActions(ctx, tenant, a.ID)
		acks := 0
		for _, act := range actions {
			if act.ActionType == types.ActionAck {
				acks++
			}
		}
		if acks != 1 {
			t.Errorf("expected 1 ACK action, got %d", acks)
		}
	})

	t.Run("ack after close conflicts", func(t *testing.T) {
		if _, err := h.svc.Close(ctx, tenant, a.ID, "op-1", ""); err != nil {
			t.Fatalf("Close: %v", err)
		}
		_, err := h.svc.Acknowledge(ctx, tenant, a.ID, "op-1", "")
		if !errors.Is(err, types.ErrConflict) {
			t.Errorf("got %v, want ErrConflict", err)
		}
	})

	t.Run("unknown alert", func(t *testing.T) {
		_, err := h.svc.Acknowledge(ctx, tenant, "missing", "op-1", "")
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("other tenant", func(t *testing.T) {
		_, err := h.svc.Acknowledge(ctx, "tenant-other", a.ID, "op-1", "")
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("actor required", func(t *testing.T) {
		_, err := h.svc.Acknowledge(ctx, tenant, a.ID, "", "")
		if !errors.Is(err, types.ErrInvalid) {
			t.Errorf("got %v, want ErrInvalid", err)
		}
	})
}

func TestClose_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.evaluate(t, testutil.FixtureLowBattery(12))[0]
	h.clock.Advance(5 * time.Minute)

	if _, err := h.svc.Close(ctx, tenant, a.ID, "op-1", "landed"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := h.svc.GetAlert(ctx, tenant, a.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.Status != types.AlertStatusClosed || got.ClosedBy != "op-1" {
		t.Errorf("got status=%s by=%s", got.Status, got.ClosedBy)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(t0.Add(5*time.Minute)) {
		t.Errorf("closed_at: %v", got.ClosedAt)
	}
	if got.AckedAt != nil {
		t.Error("closing from OPEN must not set acked_at")
	}

	h.clock.Advance(time.Minute)
	again, err := h.svc.Close(ctx, tenant, a.ID, "op-2", "")
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if again.ClosedBy != "op-1" {
		t.Errorf("re-close changed closed_by to %s", again.ClosedBy)
	}
	if n := len(h.events.Named(types.EventAlertClosed)); n != 1 {
		t.Errorf("expected one alert.closed event, got %d", n)
	}
}

// =============================================================================
// EVENTS
// =============================================================================

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, evs ...types.Event) error {
	return errors.New("broker down")
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t, WithPublisher(failingPublisher{}))

	created, err := h.svc.Evaluate(context.Background(), testutil.FixtureLowBattery(12))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(created) != 1 {
		t.Errorf("expected the alert to be committed, got %d", len(created))
	}
}
