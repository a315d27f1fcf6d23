package gateway

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pilot-net/fleet-alerts/gateway/internal/config"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

func TestGateway_Run(t *testing.T) {
	var (
		mu  sync.Mutex
		got []types.Telemetry
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/telemetry" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var batch []types.Telemetry
		body, _ := io.ReadAll(gz)
		json.Unmarshal(body, &batch)
		mu.Lock()
		got = append(got, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.ControlPlane.URL = srv.URL + "/"
	cfg.Gateway.TenantID = "tenant-a"
	cfg.Gateway.Name = "gs-test"

	input := strings.Join([]string{
		`{"drone_id":"d1","mode":"AUTO","battery":{"percent":12}}`,
		`{"tenant_id":"tenant-a","drone_id":"d2","mode":"LINK_LOST"}`,
		`{not json`,
		`{"mode":"AUTO"}`,
		`{"tenant_id":"tenant-b","drone_id":"d3"}`,
		``,
	}, "\n")

	g := newGateway(cfg, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := g.Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Read != 2 || stats.Skipped != 3 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.Shipper.Shipped != 2 || stats.Shipper.Queued != 0 {
		t.Errorf("shipper stats: %+v", stats.Shipper)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("control plane received %d readings", len(got))
	}
	for _, tel := range got {
		if tel.TenantID != "tenant-a" {
			t.Errorf("reading not pinned to tenant: %+v", tel)
		}
	}
}

func TestGateway_Cancelled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ControlPlane.URL = "http://127.0.0.1:1"
	cfg.Gateway.TenantID = "tenant-a"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newGateway(cfg, http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := g.Run(ctx, strings.NewReader(`{"drone_id":"d1"}`+"\n"))
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
