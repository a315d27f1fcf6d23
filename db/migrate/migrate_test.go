package migrate

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"001_alerts.sql", 1, "alerts", false},
		{"002_rules.sql", 2, "rules", false},
		{"001_name_with_underscores.sql", 1, "name_with_underscores", false},
		{"invalid.sql", 0, "", true},
		{"abc_name.sql", 0, "", true},
		{"000_zero.sql", 0, "", true},
		{"001_.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.filename)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("got %d %q, want %d %q", version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}

func TestLoadEmbedded(t *testing.T) {
	migrations, err := load(migrationsFS)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected the alerts and rules migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if m.SQL == "" || len(m.Checksum) != 64 {
			t.Errorf("%s: sql=%d bytes checksum=%q", m.Label(), len(m.SQL), m.Checksum)
		}
	}
}

func TestLoadRejectsGaps(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/003_c.sql": {Data: []byte("SELECT 3;")},
		"migrations/README":    {Data: []byte("ignored")},
	}
	if _, err := load(fsys); err == nil || !strings.Contains(err.Error(), "expected version 002") {
		t.Errorf("expected gap error, got %v", err)
	}

	fsys["migrations/002_b.sql"] = &fstest.MapFile{Data: []byte("SELECT 2;")}
	migrations, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 3 || migrations[2].Label() != "003_c" {
		t.Errorf("unexpected migrations: %+v", migrations)
	}
}

func TestPlan(t *testing.T) {
	available := []Migration{
		{Version: 1, Name: "alerts", Checksum: "aaa"},
		{Version: 2, Name: "rules", Checksum: "bbb"},
		{Version: 3, Name: "extra", Checksum: "ccc"},
	}

	tests := []struct {
		name        string
		applied     []Record
		wantPending []string
		wantErr     error
	}{
		{"fresh database", nil, []string{"001_alerts", "002_rules", "003_extra"}, nil},
		{"partly applied", []Record{{Version: 1, Checksum: "aaa"}}, []string{"002_rules", "003_extra"}, nil},
		{"current", []Record{{Version: 1, Checksum: "aaa"}, {Version: 2, Checksum: "bbb"}, {Version: 3, Checksum: "ccc"}}, nil, nil},
		{"legacy record without checksum", []Record{{Version: 1}}, []string{"002_rules", "003_extra"}, nil},
		{"edited after apply", []Record{{Version: 1, Checksum: "zzz"}}, nil, ErrChecksumMismatch},
		{"database ahead", []Record{{Version: 4, Name: "future"}}, nil, ErrSchemaAhead},
		{"hole below applied", []Record{{Version: 1, Checksum: "aaa"}, {Version: 3, Checksum: "ccc"}}, nil, ErrOutOfOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, err := Plan(tt.applied, available)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var labels []string
			for _, m := range pending {
				labels = append(labels, m.Label())
			}
			if strings.Join(labels, ",") != strings.Join(tt.wantPending, ",") {
				t.Errorf("pending: got %v, want %v", labels, tt.wantPending)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	available := []Migration{
		{Version: 1, Name: "alerts", Checksum: "aaa"},
		{Version: 2, Name: "rules", Checksum: "bbb"},
	}

	status := Summarize([]Record{{Version: 1, Checksum: "aaa"}}, available)
	if status.Version != 1 || len(status.Pending) != 1 || status.Pending[0] != "002_rules" || status.Error != "" {
		t.Errorf("unexpected status: %+v", status)
	}

	status = Summarize([]Record{{Version: 1, Checksum: "changed"}}, available)
	if status.Error == "" || status.Version != 1 {
		t.Errorf("expected drift to be reported: %+v", status)
	}
}

func TestAlertingSchemaConstraints(t *testing.T) {
	migrations, err := load(migrationsFS)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	schema := all.String()

	required := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS alerts_active_key",
		"WHERE status IN ('OPEN', 'ACKED')",
		"CONSTRAINT escalation_executions_alert_level_key UNIQUE (alert_id, escalation_level)",
		"CONSTRAINT escalation_policies_tenant_priority_key UNIQUE (tenant_id, priority)",
		"CREATE TABLE IF NOT EXISTS route_logs",
		"CREATE TABLE IF NOT EXISTS handling_actions",
		"CREATE TABLE IF NOT EXISTS oncall_shifts",
	}
	for _, want := range required {
		if !strings.Contains(schema, want) {
			t.Errorf("schema is missing %q", want)
		}
	}
}
