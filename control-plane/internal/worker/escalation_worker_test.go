package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/testutil"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

type mockSweeper struct {
	mu        sync.Mutex
	tenants   []string
	listErr   error
	failures  map[string]error
	results   map[string]*types.SweepResult
	swept     []string
	limits    []int
	dryRunSet bool
}

func (m *mockSweeper) ListTenantsWithOpenAlerts(ctx context.Context) ([]string, error) {
	return m.tenants, m.listErr
}

func (m *mockSweeper) RunEscalationSweep(ctx context.Context, tenantID string, limit int, dryRun bool) (*types.SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept = append(m.swept, tenantID)
	m.limits = append(m.limits, limit)
	if dryRun {
		m.dryRunSet = true
	}
	if err := m.failures[tenantID]; err != nil {
		return nil, err
	}
	if res := m.results[tenantID]; res != nil {
		return res, nil
	}
	return &types.SweepResult{}, nil
}

func TestEscalationWorker_RunOnce(t *testing.T) {
	sweeper := &mockSweeper{
		tenants:  []string{"t1", "t2", "t3"},
		failures: map[string]error{"t2": errors.New("db down")},
		results: map[string]*types.SweepResult{
			"t1": {Scanned: 4, Escalated: 2},
			"t3": {Scanned: 1, Escalated: 0},
		},
	}

	cfg := DefaultEscalationWorkerConfig()
	cfg.ScanLimit = 25
	w, err := NewEscalationWorker(sweeper, cfg, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("NewEscalationWorker: %v", err)
	}

	stats := w.RunOnce(context.Background())

	if len(sweeper.swept) != 3 {
		t.Fatalf("expected every tenant swept despite a failure, got %v", sweeper.swept)
	}
	for _, l := range sweeper.limits {
		if l != 25 {
			t.Errorf("expected scan limit 25, got %d", l)
		}
	}
	if sweeper.dryRunSet {
		t.Error("worker sweeps must apply, not dry-run")
	}
	want := SweepStats{Tenants: 3, Scanned: 5, Escalated: 2, Failed: 1}
	if stats != want {
		t.Errorf("got %+v, want %+v", stats, want)
	}
	if w.LastRun() != want {
		t.Errorf("LastRun not recorded: %+v", w.LastRun())
	}
}

func TestEscalationWorker_OnEscalated(t *testing.T) {
	sweeper := &mockSweeper{
		tenants:  []string{"t1", "t2", "t3"},
		failures: map[string]error{"t3": errors.New("db down")},
		results: map[string]*types.SweepResult{
			"t1": {Scanned: 3, Escalated: 1},
			"t2": {Scanned: 2},
		},
	}

	var changed []string
	cfg := DefaultEscalationWorkerConfig()
	cfg.OnEscalated = func(ctx context.Context, tenantID string) {
		changed = append(changed, tenantID)
	}
	w, err := NewEscalationWorker(sweeper, cfg, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("NewEscalationWorker: %v", err)
	}

	w.RunOnce(context.Background())
	if len(changed) != 1 || changed[0] != "t1" {
		t.Errorf("expected the hook only for t1, got %v", changed)
	}
}

func TestEscalationWorker_ListFailure(t *testing.T) {
	sweeper := &mockSweeper{listErr: errors.New("timeout")}
	w, err := NewEscalationWorker(sweeper, DefaultEscalationWorkerConfig(), testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("NewEscalationWorker: %v", err)
	}

	if stats := w.RunOnce(context.Background()); stats != (SweepStats{}) {
		t.Errorf("expected empty stats, got %+v", stats)
	}
	if len(sweeper.swept) != 0 {
		t.Errorf("no tenant should be swept, got %v", sweeper.swept)
	}
}

func TestEscalationWorker_InvalidSchedule(t *testing.T) {
	cfg := DefaultEscalationWorkerConfig()
	cfg.Schedule = "every now and then"
	if _, err := NewEscalationWorker(&mockSweeper{}, cfg, testutil.NewTestLogger()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestEscalationWorker_StartStop(t *testing.T) {
	w, err := NewEscalationWorker(&mockSweeper{}, DefaultEscalationWorkerConfig(), testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("NewEscalationWorker: %v", err)
	}
	w.Start()
	w.Stop()
}
