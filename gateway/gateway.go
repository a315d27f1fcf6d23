// Package gateway relays drone telemetry from a ground station to the
// control plane.
//
// # Gateway Lifecycle
//
//  1. Load configuration
//  2. Start the batching shipper
//  3. Read newline-delimited JSON telemetry from the source
//  4. Flush what is left when the source ends or shutdown is requested
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/pilot-net/fleet-alerts/gateway/internal/config"
	"github.com/pilot-net/fleet-alerts/gateway/internal/shipper"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// maxLineBytes bounds one telemetry line.
const maxLineBytes = 1 << 20

// Gateway reads telemetry and hands it to the shipper.
type Gateway struct {
	cfg     *config.Config
	shipper *shipper.Shipper
	logger  *slog.Logger

	read    int
	skipped int
}

// Stats summarizes one Run.
type Stats struct {
	Read    int           `json:"read"`
	Skipped int           `json:"skipped"`
	Shipper shipper.Stats `json:"shipper"`
}

// New creates a gateway with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return newGateway(cfg, &http.Client{Timeout: cfg.ControlPlane.RequestTimeout}, logger)
}

func newGateway(cfg *config.Config, client *http.Client, logger *slog.Logger) *Gateway {
	logger = logger.With("component", "gateway", "gateway", cfg.Gateway.Name)
	return &Gateway{
		cfg: cfg,
		shipper: shipper.NewShipper(shipper.Config{
			Endpoint:     strings.TrimRight(cfg.ControlPlane.URL, "/") + "/api/v1/telemetry",
			TenantID:     cfg.Gateway.TenantID,
			APIKey:       cfg.ControlPlane.APIKey,
			BatchSize:    cfg.Shipping.BatchSize,
			BatchTimeout: cfg.Shipping.BatchTimeout,
			MaxRetained:  cfg.Shipping.MaxRetained,
			Client:       client,
			Logger:       logger,
		}),
		logger: logger,
	}
}

// Run relays telemetry from src until it is exhausted or ctx is cancelled.
// Buffered readings are flushed before it returns.
func (g *Gateway) Run(ctx context.Context, src io.Reader) (Stats, error) {
	g.logger.Info("starting gateway",
		"version", Version,
		"tenant_id", g.cfg.Gateway.TenantID,
		"control_plane", g.cfg.ControlPlane.URL)

	shipCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.shipper.Run(shipCtx)
	}()

	err := g.readLoop(ctx, src)

	// Stopping the loop triggers its final flush.
	cancel()
	<-done

	stats := Stats{Read: g.read, Skipped: g.skipped, Shipper: g.shipper.Stats()}
	g.logger.Info("gateway stopped",
		"read", stats.Read,
		"skipped", stats.Skipped,
		"shipped", stats.Shipper.Shipped,
		"queued", stats.Shipper.Queued,
		"dropped", stats.Shipper.Dropped)
	return stats, err
}

func (g *Gateway) readLoop(ctx context.Context, src io.Reader) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		tel, err := g.parse(raw)
		if err != nil {
			g.skipped++
			g.logger.Warn("skipping telemetry line", "line", line, "error", err)
			continue
		}
		g.read++
		g.shipper.Add(tel)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading telemetry: %w", err)
	}
	return nil
}

// parse decodes one reading and pins it to the gateway's tenant.
func (g *Gateway) parse(raw string) (types.Telemetry, error) {
	var tel types.Telemetry
	if err := json.Unmarshal([]byte(raw), &tel); err != nil {
		return tel, fmt.Errorf("invalid json: %w", err)
	}
	if tel.DroneID == "" {
		return tel, errors.New("drone_id is required")
	}
	switch tel.TenantID {
	case "":
		tel.TenantID = g.cfg.Gateway.TenantID
	case g.cfg.Gateway.TenantID:
	default:
		return tel, fmt.Errorf("tenant %q does not belong to this gateway", tel.TenantID)
	}
	return tel, nil
}
