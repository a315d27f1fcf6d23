package buffer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/testutil"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

func newTestBuffer(t *testing.T) *TelemetryBuffer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTelemetryBufferWithClient(client, testutil.NewTestLogger())
}

func TestTelemetryBuffer_FIFO(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		drone := fmt.Sprintf("drone-%d", i)
		if err := buf.Push(ctx, testutil.FixtureTelemetry(func(tel *types.Telemetry) { tel.DroneID = drone })); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	got, err := buf.Pop(ctx, 2)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if len(got) != 2 || got[0].DroneID != "drone-1" || got[1].DroneID != "drone-2" {
		t.Fatalf("expected drone-1, drone-2 in order, got %+v", got)
	}

	rest, _ := buf.Pop(ctx, 10)
	if len(rest) != 1 || rest[0].DroneID != "drone-3" {
		t.Errorf("expected the remaining reading, got %+v", rest)
	}

	empty, err := buf.Pop(ctx, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty pop, got %d (%v)", len(empty), err)
	}
}

func TestTelemetryBuffer_RoundTripKeepsFields(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()

	in := testutil.FixtureLowBattery(7)
	if err := buf.Push(ctx, in); err != nil {
		t.Fatalf("Push: %v", err)
	}
	out, _ := buf.Pop(ctx, 1)
	if len(out) != 1 {
		t.Fatalf("expected one reading, got %d", len(out))
	}
	if p, ok := out[0].BatteryPercent(); !ok || p != 7 {
		t.Errorf("battery lost in transit: %v %v", p, ok)
	}
	if !out[0].Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", out[0].Timestamp, in.Timestamp)
	}
}

func TestTelemetryBuffer_Full(t *testing.T) {
	buf := newTestBuffer(t)
	buf.maxDepth = 2
	ctx := context.Background()

	if err := buf.Push(ctx, testutil.FixtureTelemetry(), testutil.FixtureTelemetry()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := buf.Push(ctx, testutil.FixtureTelemetry()); !errors.Is(err, ErrBufferFull) {
		t.Errorf("got %v, want ErrBufferFull", err)
	}

	stats, err := buf.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if !stats.Connected || stats.QueueDepth != 2 {
		t.Errorf("stats: %+v", stats)
	}
}

type fakeEvaluator struct {
	seen []string
	errs map[string]error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, tel types.Telemetry) ([]types.Alert, error) {
	f.seen = append(f.seen, tel.DroneID)
	if err := f.errs[tel.DroneID]; err != nil {
		return nil, err
	}
	return []types.Alert{{DroneID: tel.DroneID}}, nil
}

func TestFlusher_Flush(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()

	for _, drone := range []string{"ok-1", "bad-input", "db-down", "ok-2"} {
		d := drone
		if err := buf.Push(ctx, testutil.FixtureTelemetry(func(tel *types.Telemetry) { tel.DroneID = d })); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	ev := &fakeEvaluator{errs: map[string]error{
		"bad-input": fmt.Errorf("%w: drone_id is required", types.ErrInvalid),
		"db-down":   errors.New("connection refused"),
	}}
	f := NewFlusher(buf, ev, testutil.NewTestLogger())

	if n := f.flush(ctx); n != 4 {
		t.Fatalf("expected 4 readings flushed, got %d", n)
	}
	want := []string{"ok-1", "bad-input", "db-down", "ok-2"}
	for i, d := range want {
		if ev.seen[i] != d {
			t.Errorf("order[%d]: got %s, want %s", i, ev.seen[i], d)
		}
	}

	// Only the infrastructure failure is parked; invalid input is dropped.
	if n, _ := buf.DeadLetterLen(ctx); n != 1 {
		t.Errorf("expected 1 dead-lettered reading, got %d", n)
	}
	if n := f.flush(ctx); n != 0 {
		t.Errorf("expected empty second flush, got %d", n)
	}
}

func TestFlusher_StartStopDrains(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()
	if err := buf.Push(ctx, testutil.FixtureLowBattery(10)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ev := &fakeEvaluator{}
	f := NewFlusher(buf, ev, testutil.NewTestLogger())
	f.Start()
	f.Stop()

	if len(ev.seen) != 1 {
		t.Errorf("expected final flush on stop, evaluated %d", len(ev.seen))
	}
}

func TestFlusher_AlertHookOncePerTenant(t *testing.T) {
	buf := newTestBuffer(t)
	ctx := context.Background()

	pushes := []struct{ tenant, drone string }{
		{"t1", "d1"}, {"t1", "d2"}, {"t2", "db-down"}, {"t3", "d3"},
	}
	for _, p := range pushes {
		p := p
		if err := buf.Push(ctx, testutil.FixtureTelemetry(func(tel *types.Telemetry) {
			tel.TenantID, tel.DroneID = p.tenant, p.drone
		})); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	ev := &fakeEvaluator{errs: map[string]error{"db-down": errors.New("connection refused")}}
	var changed []string
	f := NewFlusher(buf, ev, testutil.NewTestLogger(), WithAlertHook(func(ctx context.Context, tenantID string) {
		changed = append(changed, tenantID)
	}))

	f.flush(ctx)
	if len(changed) != 2 || changed[0] != "t1" || changed[1] != "t3" {
		t.Errorf("expected hook for t1 and t3, got %v", changed)
	}
}
