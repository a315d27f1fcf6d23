// Package config handles gateway configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (FLEETALERTS_GATEWAY_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	control_plane:
//	  url: https://alerts.fleet.example
//	  api_key: fa_xxx
//
//	gateway:
//	  name: ground-station-sfo
//	  tenant_id: tenant-acme
//
//	shipping:
//	  batch_size: 500
//	  batch_timeout: 2s
//	  max_retained: 5000
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Shipping     ShippingConfig     `yaml:"shipping"`
}

// ControlPlaneConfig defines how to connect to the control plane.
type ControlPlaneConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`

	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// GatewayConfig defines gateway identity.
type GatewayConfig struct {
	Name     string `yaml:"name"`
	TenantID string `yaml:"tenant_id"`
}

// ShippingConfig defines batching behavior.
type ShippingConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetained  int           `yaml:"max_retained"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ControlPlane: ControlPlaneConfig{
			RequestTimeout: 30 * time.Second,
		},
		Shipping: ShippingConfig{
			BatchSize:    500,
			BatchTimeout: 2 * time.Second,
			MaxRetained:  5000,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.ControlPlane.URL == "" {
		return fmt.Errorf("control_plane.url is required")
	}
	if c.Gateway.TenantID == "" {
		return fmt.Errorf("gateway.tenant_id is required")
	}
	if c.Shipping.BatchSize <= 0 {
		return fmt.Errorf("shipping.batch_size must be positive")
	}
	if c.Shipping.MaxRetained < c.Shipping.BatchSize {
		return fmt.Errorf("shipping.max_retained (%d) must be at least batch_size (%d)",
			c.Shipping.MaxRetained, c.Shipping.BatchSize)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the FLEETALERTS_GATEWAY_ prefix:
// - FLEETALERTS_GATEWAY_CONTROL_PLANE_URL
// - FLEETALERTS_GATEWAY_API_KEY
// - FLEETALERTS_GATEWAY_NAME
// - FLEETALERTS_GATEWAY_TENANT_ID
// - FLEETALERTS_GATEWAY_BATCH_SIZE
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FLEETALERTS_GATEWAY_CONTROL_PLANE_URL"); v != "" {
		c.ControlPlane.URL = v
	}
	if v := os.Getenv("FLEETALERTS_GATEWAY_API_KEY"); v != "" {
		c.ControlPlane.APIKey = v
	}
	if v := os.Getenv("FLEETALERTS_GATEWAY_NAME"); v != "" {
		c.Gateway.Name = v
	}
	if v := os.Getenv("FLEETALERTS_GATEWAY_TENANT_ID"); v != "" {
		c.Gateway.TenantID = v
	}
	if v := os.Getenv("FLEETALERTS_GATEWAY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Shipping.BatchSize = n
		}
	}
}
