package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Event sink names.
const (
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Config is the complete control plane configuration.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (FLEETALERTS_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	server:
//	  port: 8080
//	database:
//	  url: postgres://localhost:5432/fleetalerts?sslmode=disable
//	redis:
//	  url: redis://localhost:6379/0
//	  buffer_enabled: true
//	  cache_enabled: true
//	events:
//	  sinks: [redis, kafka]
//	  kafka_brokers: [kafka-1:9092, kafka-2:9092]
//	escalation:
//	  schedule: "*/30 * * * * *"
//	  scan_limit: 200
//	ingest:
//	  rate_per_second: 100
//	  burst: 200
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Events     EventsConfig     `yaml:"events"`
	Escalation EscalationConfig `yaml:"escalation"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`

	// Memory runs against the in-process store instead of PostgreSQL.
	Memory bool `yaml:"memory"`
}

// DatabaseConfig defines how to reach PostgreSQL. The URL is normally
// supplied by the secrets provider instead.
type DatabaseConfig struct {
	URL string `yaml:"url,omitempty"`
}

// RedisConfig enables the Redis-backed telemetry buffer and response cache.
type RedisConfig struct {
	URL           string `yaml:"url,omitempty"`
	BufferEnabled bool   `yaml:"buffer_enabled"`
	CacheEnabled  bool   `yaml:"cache_enabled"`
}

// EventsConfig selects where domain events are published.
type EventsConfig struct {
	Sinks        []string `yaml:"sinks"`
	RedisStream  string   `yaml:"redis_stream,omitempty"`
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `yaml:"kafka_topic,omitempty"`
}

// EscalationConfig controls the periodic sweep.
type EscalationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	ScanLimit int    `yaml:"scan_limit"`
}

// IngestConfig is the per-tenant telemetry rate limit.
type IngestConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Events: EventsConfig{Sinks: []string{SinkLog}},
		Escalation: EscalationConfig{
			Enabled:   true,
			Schedule:  DefaultEscalationSchedule,
			ScanLimit: DefaultEscalationScanLimit,
		},
		Ingest: IngestConfig{
			RatePerSecond: DefaultIngestRatePerSecond,
			Burst:         DefaultIngestBurst,
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
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

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if (c.Redis.BufferEnabled || c.Redis.CacheEnabled) && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when the buffer or cache is enabled")
	}
	for _, s := range c.Events.Sinks {
		switch s {
		case SinkLog:
		case SinkRedis:
			if c.Redis.URL == "" {
				return fmt.Errorf("redis.url is required for the redis event sink")
			}
		case SinkKafka:
			if len(c.Events.KafkaBrokers) == 0 {
				return fmt.Errorf("events.kafka_brokers is required for the kafka event sink")
			}
		default:
			return fmt.Errorf("unknown event sink %q", s)
		}
	}
	if c.Escalation.ScanLimit < 0 || c.Escalation.ScanLimit > MaxEscalationScanLimit {
		return fmt.Errorf("escalation.scan_limit must be between 0 and %d", MaxEscalationScanLimit)
	}
	if c.Escalation.Enabled && c.Escalation.Schedule == "" {
		return fmt.Errorf("escalation.schedule is required when escalation is enabled")
	}
	if c.Ingest.RatePerSecond <= 0 || c.Ingest.Burst <= 0 {
		return fmt.Errorf("ingest.rate_per_second and ingest.burst must be positive")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use FLEETALERTS_ prefix:
// - FLEETALERTS_PORT
// - FLEETALERTS_DATABASE_URL
// - FLEETALERTS_REDIS_URL
// - FLEETALERTS_EVENT_SINKS (comma-separated, e.g. "redis,kafka")
// - FLEETALERTS_KAFKA_BROKERS (comma-separated)
// - FLEETALERTS_ESCALATION_SCHEDULE
// - FLEETALERTS_ESCALATION_ENABLED
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FLEETALERTS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("FLEETALERTS_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("FLEETALERTS_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("FLEETALERTS_EVENT_SINKS"); v != "" {
		c.Events.Sinks = splitList(v)
	}
	if v := os.Getenv("FLEETALERTS_KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("FLEETALERTS_ESCALATION_SCHEDULE"); v != "" {
		c.Escalation.Schedule = v
	}
	if v := os.Getenv("FLEETALERTS_ESCALATION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Escalation.Enabled = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
