// Package runlog keeps end-of-run reports in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tamzrod/crate-readout/internal/status"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  crate       TEXT NOT NULL,
  run_number  INTEGER NOT NULL,
  block_level INTEGER NOT NULL,
  triggers    INTEGER NOT NULL,
  started_at  INTEGER NOT NULL,
  ended_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_modules (
  run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  slot            INTEGER NOT NULL,
  family          TEXT NOT NULL,
  health          INTEGER NOT NULL,
  timeouts        INTEGER NOT NULL,
  not_ready       INTEGER NOT NULL,
  block_errors    INTEGER NOT NULL,
  drain_residuals INTEGER NOT NULL,
  soft_errors     INTEGER NOT NULL,
  PRIMARY KEY (run_id, slot)
);
CREATE INDEX IF NOT EXISTS runs_ended_at ON runs(ended_at);
`

// ModuleReport is the end-of-run state of one module.
type ModuleReport struct {
	Slot           int
	Family         string
	Health         uint16
	Timeouts       uint64
	NotReady       uint64
	BlockErrors    uint64
	DrainResiduals uint64
	SoftErrors     uint64
}

// Report summarizes one run.
type Report struct {
	ID         string
	Crate      string
	RunNumber  int
	BlockLevel int
	Triggers   int
	StartedAt  time.Time
	EndedAt    time.Time
	Modules    []ModuleReport
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// ModulesFrom converts counters into module reports.
func ModulesFrom(mods []status.ModuleCounters) []ModuleReport {
	out := make([]ModuleReport, len(mods))
	for i, m := range mods {
		out[i] = ModuleReport{
			Slot:           m.Slot,
			Family:         m.Family,
			Health:         m.Health,
			Timeouts:       m.Timeouts,
			NotReady:       m.NotReady,
			BlockErrors:    m.BlockErrors,
			DrainResiduals: m.DrainResiduals,
			SoftErrors:     m.SoftErrors,
		}
	}
	return out
}

// Store persists run reports in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite run store and creates its tables.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("runlog: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("runlog: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("runlog: create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record inserts one run and its modules in a single transaction.
// An empty ID is replaced with a fresh one; the ID used is returned.
func (s *Store) Record(ctx context.Context, r Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", errors.New("runlog: storage is not configured")
	}
	if strings.TrimSpace(r.Crate) == "" {
		return "", errors.New("runlog: crate is required")
	}
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.EndedAt
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("runlog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, crate, run_number, block_level, triggers, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Crate, r.RunNumber, r.BlockLevel, r.Triggers, toMillis(r.StartedAt), toMillis(r.EndedAt),
	)
	if err != nil {
		return "", fmt.Errorf("runlog: insert run: %w", err)
	}

	for _, m := range r.Modules {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_modules (
			   run_id, slot, family, health,
			   timeouts, not_ready, block_errors, drain_residuals, soft_errors
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, m.Slot, m.Family, m.Health,
			int64(m.Timeouts), int64(m.NotReady), int64(m.BlockErrors), int64(m.DrainResiduals), int64(m.SoftErrors),
		)
		if err != nil {
			return "", fmt.Errorf("runlog: insert module slot %d: %w", m.Slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("runlog: commit: %w", err)
	}
	return r.ID, nil
}

// Recent returns up to limit reports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Report, error) {
	if s == nil || s.sqlDB == nil {
		return nil, errors.New("runlog: storage is not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, crate, run_number, block_level, triggers, started_at, ended_at
		   FROM runs
		  ORDER BY ended_at DESC, rowid DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: query runs: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r              Report
			started, ended int64
		)
		if err := rows.Scan(&r.ID, &r.Crate, &r.RunNumber, &r.BlockLevel, &r.Triggers, &started, &ended); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		r.EndedAt = fromMillis(ended)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate runs: %w", err)
	}

	for i := range out {
		mods, err := s.modules(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Modules = mods
	}
	return out, nil
}

func (s *Store) modules(ctx context.Context, runID string) ([]ModuleReport, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT slot, family, health, timeouts, not_ready, block_errors, drain_residuals, soft_errors
		   FROM run_modules
		  WHERE run_id = ?
		  ORDER BY slot`, runID)
	if err != nil {
		return nil, fmt.Errorf("runlog: query modules: %w", err)
	}
	defer rows.Close()

	var out []ModuleReport
	for rows.Next() {
		var (
			m                                             ModuleReport
			timeouts, notReady, blockErrs, drain, softErr int64
		)
		if err := rows.Scan(&m.Slot, &m.Family, &m.Health, &timeouts, &notReady, &blockErrs, &drain, &softErr); err != nil {
			return nil, fmt.Errorf("runlog: scan module: %w", err)
		}
		m.Timeouts = uint64(timeouts)
		m.NotReady = uint64(notReady)
		m.BlockErrors = uint64(blockErrs)
		m.DrainResiduals = uint64(drain)
		m.SoftErrors = uint64(softErr)
		out = append(out, m)
	}
	return out, rows.Err()
}
