// Package migrate applies the embedded alerting schema and reports its state.
//
// Migrations live in the migrations directory as NNN_name.sql files. Versions
// must start at 001 and be contiguous; the set is embedded in the binary so a
// control plane always carries the schema it was built against.
//
// Run is safe to call from several replicas at once: it holds a session
// advisory lock while it plans and applies. Each applied file is recorded in
// schema_migrations together with a SHA-256 of its SQL, and Run refuses to
// start when a recorded file has since been edited or when the database knows
// a version this binary does not.
//
// The alerting schema relies on two constraints that the engine treats as
// load-bearing: the partial unique index alerts_active_key and the unique
// (alert_id, escalation_level) constraint on escalation_executions.
package migrate

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockID keys the session advisory lock held while migrating.
const lockID int64 = 0x666c656574 // "fleet"

var (
	// ErrSchemaAhead means the database has a version this binary does not ship.
	ErrSchemaAhead = errors.New("database schema is newer than this binary")
	// ErrChecksumMismatch means an applied migration file was edited afterwards.
	ErrChecksumMismatch = errors.New("applied migration was modified")
	// ErrOutOfOrder means a pending migration sorts below one already applied.
	ErrOutOfOrder = errors.New("pending migration is older than the applied schema")
)

// Migration is one embedded schema file.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Label is the file name without its extension, e.g. "001_alerts".
func (m Migration) Label() string {
	return fmt.Sprintf("%03d_%s", m.Version, m.Name)
}

// Record is a row of schema_migrations.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

// conn is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Run applies every pending migration, each in its own transaction.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	logger = logger.With("component", "migrate")

	available, err := load(migrationsFS)
	if err != nil {
		return err
	}

	c, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer c.Release()

	if _, err := c.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return fmt.Errorf("taking migration lock: %w", err)
	}
	defer func() {
		if _, err := c.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
			logger.Warn("releasing migration lock", "error", err)
		}
	}()

	if _, err := c.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := appliedRecords(ctx, c)
	if err != nil {
		return err
	}

	pending, err := Plan(applied, available)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Info("database schema is up to date", "version", latest(applied))
		return nil
	}

	for _, m := range pending {
		start := time.Now()
		if err := apply(ctx, c, m); err != nil {
			return fmt.Errorf("applying %s: %w", m.Label(), err)
		}
		logger.Info("migration applied", "migration", m.Label(), "duration", time.Since(start))
	}
	logger.Info("migrations complete", "applied", len(pending), "version", pending[len(pending)-1].Version)
	return nil
}

// Plan returns the migrations still to apply, in order. It fails when the
// recorded history does not agree with the embedded files.
func Plan(applied []Record, available []Migration) ([]Migration, error) {
	byVersion := make(map[int]Migration, len(available))
	for _, m := range available {
		byVersion[m.Version] = m
	}

	done := make(map[int]bool, len(applied))
	for _, r := range applied {
		m, ok := byVersion[r.Version]
		if !ok {
			return nil, fmt.Errorf("%w: version %d (%s) is not embedded", ErrSchemaAhead, r.Version, r.Name)
		}
		if r.Checksum != "" && r.Checksum != m.Checksum {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, m.Label())
		}
		done[r.Version] = true
	}

	top := latest(applied)
	var pending []Migration
	for _, m := range available {
		if done[m.Version] {
			continue
		}
		if m.Version < top {
			return nil, fmt.Errorf("%w: %s is below version %d", ErrOutOfOrder, m.Label(), top)
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// Reporter reads migration state for the infrastructure health endpoint.
type Reporter struct {
	pool *pgxpool.Pool
}

// NewReporter returns a Reporter over pool.
func NewReporter(pool *pgxpool.Pool) *Reporter {
	return &Reporter{pool: pool}
}

// SchemaStatus reports the applied version and anything still pending.
func (r *Reporter) SchemaStatus(ctx context.Context) (types.SchemaStatus, error) {
	available, err := load(migrationsFS)
	if err != nil {
		return types.SchemaStatus{}, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return types.SchemaStatus{}, fmt.Errorf("checking schema_migrations: %w", err)
	}
	var applied []Record
	if exists {
		if applied, err = appliedRecords(ctx, r.pool); err != nil {
			return types.SchemaStatus{}, err
		}
	}
	return Summarize(applied, available), nil
}

// Summarize folds recorded history and the embedded set into a status.
func Summarize(applied []Record, available []Migration) types.SchemaStatus {
	status := types.SchemaStatus{Version: latest(applied)}
	pending, err := Plan(applied, available)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	for _, m := range pending {
		status.Pending = append(status.Pending, m.Label())
	}
	return status
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

func appliedRecords(ctx context.Context, c conn) ([]Record, error) {
	rows, err := c.Query(ctx, `SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.Version, &r.Name, &r.Checksum, &r.AppliedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	return records, nil
}

func apply(ctx context.Context, c conn, m Migration) error {
	return pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
		// No arguments: simple protocol, so a file may hold several statements.
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			m.Version, m.Name, m.Checksum)
		return err
	})
}

// load reads NNN_name.sql files from fsys/migrations and checks the versions
// run 1..n without gaps or repeats.
func load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, name, err := parseFilename(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i, m := range out {
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration %s: expected version %03d", m.Label(), i+1)
		}
	}
	return out, nil
}

func parseFilename(filename string) (int, string, error) {
	num, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want NNN_name.sql", filename)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: bad version %q", filename, num)
	}
	return version, name, nil
}

func latest(applied []Record) int {
	top := 0
	for _, r := range applied {
		if r.Version > top {
			top = r.Version
		}
	}
	return top
}
