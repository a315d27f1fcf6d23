package config

import (
	"testing"

	"github.com/robfig/cron/v3"
)

func TestEscalationScanLimits(t *testing.T) {
	if DefaultEscalationScanLimit <= 0 {
		t.Errorf("DefaultEscalationScanLimit must be positive, got %d", DefaultEscalationScanLimit)
	}
	if DefaultEscalationScanLimit > MaxEscalationScanLimit {
		t.Errorf("DefaultEscalationScanLimit (%d) should not exceed MaxEscalationScanLimit (%d)",
			DefaultEscalationScanLimit, MaxEscalationScanLimit)
	}
}

func TestDefaultEscalationScheduleParses(t *testing.T) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(DefaultEscalationSchedule); err != nil {
		t.Fatalf("DefaultEscalationSchedule %q does not parse: %v", DefaultEscalationSchedule, err)
	}
}

func TestPaginationLimits(t *testing.T) {
	if DefaultPaginationLimit > MaxPaginationLimit {
		t.Errorf("DefaultPaginationLimit (%d) should not exceed MaxPaginationLimit (%d)",
			DefaultPaginationLimit, MaxPaginationLimit)
	}
}

func TestIngestRateLimits(t *testing.T) {
	if DefaultIngestBurst < DefaultIngestRatePerSecond {
		t.Errorf("DefaultIngestBurst (%d) should be at least DefaultIngestRatePerSecond (%d)",
			DefaultIngestBurst, DefaultIngestRatePerSecond)
	}
}

func TestCacheTTLs(t *testing.T) {
	if CacheTTLSLAOverview <= 0 || CacheTTLInfraHealth <= 0 {
		t.Error("cache TTLs must be positive")
	}
}
