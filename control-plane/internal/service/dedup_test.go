package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/store"
	"github.com/pilot-net/fleet-alerts/control-plane/internal/testutil"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// staleLookupTx misses the active alert of one kind for the first n lookups,
// the way a reader racing a concurrent insert would.
type staleLookupTx struct {
	store.Tx
	kind types.AlertKind
	n    *int
}

func (tx staleLookupTx) FindActiveAlert(ctx context.Context, tenantID, droneID string, kind types.AlertKind) (*types.Alert, error) {
	if kind == tx.kind && *tx.n > 0 {
		*tx.n--
		return nil, nil
	}
	return tx.Tx.FindActiveAlert(ctx, tenantID, droneID, kind)
}

func staleLookups(kind types.AlertKind, n int) func(store.Tx) store.Tx {
	return func(tx store.Tx) store.Tx {
		return staleLookupTx{Tx: tx, kind: kind, n: &n}
	}
}

func TestEvaluate_DuplicateInsertRetriesAsMerge(t *testing.T) {
	misses := 0
	h := newWrappedHarness(t, func(tx store.Tx) store.Tx {
		return staleLookupTx{Tx: tx, kind: types.AlertKindLowBattery, n: &misses}
	})
	ctx := context.Background()

	battery := h.evaluate(t, testutil.FixtureLowBattery(12))[0]
	h.events.Reset()

	// One reading carrying both a low battery and a lost link. The battery
	// lookup misses once, so the first attempt dies on the unique index after
	// possibly creating the link loss alert.
	misses = 1
	created := h.evaluate(t, testutil.FixtureLowBattery(12, func(tel *types.Telemetry) {
		tel.Mode = types.ModeLinkLost
	}))
	if misses != 0 {
		t.Fatal("stale lookup was never hit")
	}

	if len(created) != 1 || created[0].Kind != types.AlertKindLinkLoss {
		t.Fatalf("expected only the link loss alert to be created, got %+v", created)
	}
	merged, err := h.svc.GetAlert(ctx, tenant, battery.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if merged.Detail.RepeatCount != 2 {
		t.Errorf("repeat_count: got %d, want 2", merged.Detail.RepeatCount)
	}

	alerts, err := h.svc.ListAlerts(ctx, tenant, types.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Errorf("expected battery and link loss alerts, got %d", len(alerts))
	}

	createdEvents := h.events.Named(types.EventAlertCreated)
	if len(createdEvents) != 1 || createdEvents[0].AlertID != created[0].ID {
		t.Errorf("expected one alert.created for %s, got %+v", created[0].ID, createdEvents)
	}
	for _, e := range h.events.Events() {
		if _, err := h.svc.GetAlert(ctx, tenant, e.AlertID); err != nil {
			t.Errorf("%s published for alert %s from the rolled back attempt: %v", e.Name, e.AlertID, err)
		}
	}
}

func TestEvaluate_DuplicateInsertRetriesOnce(t *testing.T) {
	h := newWrappedHarness(t, staleLookups(types.AlertKindLowBattery, 1))
	ctx := context.Background()

	// Each transaction gets a fresh budget, so every attempt misses.
	first := h.evaluate(t, testutil.FixtureLowBattery(12))
	if len(first) != 1 {
		t.Fatalf("expected the first reading to create an alert, got %d", len(first))
	}
	h.events.Reset()

	_, err := h.svc.Evaluate(ctx, testutil.FixtureLowBattery(12))
	if !errors.Is(err, types.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate after the single retry, got %v", err)
	}

	a, err := h.svc.GetAlert(ctx, tenant, first[0].ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if a.Detail.RepeatCount != 1 {
		t.Errorf("failed reading must not be applied, repeat_count=%d", a.Detail.RepeatCount)
	}
	if n := len(h.events.Events()); n != 0 {
		t.Errorf("expected no events from failed attempts, got %v", eventNames(h.events.Events()))
	}
}
