// Command gateway relays drone telemetry to the fleet alerts control plane.
//
// # Usage
//
//	gateway --control-plane http://alerts:8080 --tenant tenant-acme < telemetry.ndjson
//	gateway --config /etc/fleetalerts/gateway.yaml --source /var/spool/telemetry.ndjson
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (FLEETALERTS_GATEWAY_*)
// - Config file (--config)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilot-net/fleet-alerts/gateway"
	"github.com/pilot-net/fleet-alerts/gateway/internal/config"
)

func main() {
	// Parse flags
	var (
		configFile   = flag.String("config", "", "Path to config file")
		controlPlane = flag.String("control-plane", "", "Control plane URL")
		apiKey       = flag.String("api-key", "", "Operator API key")
		tenant       = flag.String("tenant", "", "Tenant ID")
		name         = flag.String("name", "", "Gateway name")
		source       = flag.String("source", "-", "Telemetry source file, - for stdin")
		debug        = flag.Bool("debug", false, "Enable debug logging")
		version      = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	// Print version
	if *version {
		fmt.Printf("fleetalerts-gateway %s\n", gateway.Version)
		os.Exit(0)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Load configuration
	cfg := config.DefaultConfig()
	if *configFile != "" {
		fileCfg, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}
	cfg.ApplyEnvOverrides()

	// Apply flag overrides
	if *controlPlane != "" {
		cfg.ControlPlane.URL = *controlPlane
	}
	if *apiKey != "" {
		cfg.ControlPlane.APIKey = *apiKey
	}
	if *tenant != "" {
		cfg.Gateway.TenantID = *tenant
	}
	if *name != "" {
		cfg.Gateway.Name = *name
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var src io.Reader = os.Stdin
	if *source != "-" {
		f, err := os.Open(*source)
		if err != nil {
			logger.Error("failed to open source", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		src = f
	}

	// Set up signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := gateway.New(cfg, logger).Run(ctx, src)
	if err != nil && err != context.Canceled {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	if stats.Shipper.Queued > 0 {
		logger.Warn("telemetry left unshipped", "queued", stats.Shipper.Queued)
		os.Exit(2)
	}
}
