package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
redis:
  url: redis://localhost:6379/0
  buffer_enabled: true
events:
  sinks: [redis, kafka]
  kafka_brokers: [k1:9092]
escalation:
  scan_limit: 250
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Redis.BufferEnabled || cfg.Escalation.ScanLimit != 250 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.Events.Sinks) != 2 || cfg.Events.KafkaBrokers[0] != "k1:9092" {
		t.Errorf("events: %+v", cfg.Events)
	}
	// Unset keys keep their defaults.
	if cfg.Escalation.Schedule != DefaultEscalationSchedule || !cfg.Escalation.Enabled {
		t.Errorf("escalation defaults lost: %+v", cfg.Escalation)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [unclosed"), 0600)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"buffer without redis", func(c *Config) { c.Redis.BufferEnabled = true }},
		{"redis sink without redis", func(c *Config) { c.Events.Sinks = []string{SinkRedis} }},
		{"kafka sink without brokers", func(c *Config) { c.Events.Sinks = []string{SinkKafka} }},
		{"unknown sink", func(c *Config) { c.Events.Sinks = []string{"nats"} }},
		{"scan limit too high", func(c *Config) { c.Escalation.ScanLimit = MaxEscalationScanLimit + 1 }},
		{"empty schedule", func(c *Config) { c.Escalation.Schedule = "" }},
		{"zero rate", func(c *Config) { c.Ingest.RatePerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FLEETALERTS_PORT", "7070")
	t.Setenv("FLEETALERTS_REDIS_URL", "redis://env:6379")
	t.Setenv("FLEETALERTS_EVENT_SINKS", "log, kafka")
	t.Setenv("FLEETALERTS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("FLEETALERTS_ESCALATION_ENABLED", "false")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Port != 7070 || cfg.Redis.URL != "redis://env:6379" {
		t.Errorf("server/redis: %+v %+v", cfg.Server, cfg.Redis)
	}
	if len(cfg.Events.Sinks) != 2 || cfg.Events.Sinks[1] != SinkKafka {
		t.Errorf("sinks: %v", cfg.Events.Sinks)
	}
	if len(cfg.Events.KafkaBrokers) != 2 {
		t.Errorf("brokers: %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Escalation.Enabled {
		t.Error("escalation should be disabled")
	}

	t.Setenv("FLEETALERTS_PORT", "not-a-number")
	cfg = DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Server.Port != 8080 {
		t.Errorf("invalid port override should be ignored, got %d", cfg.Server.Port)
	}
}
