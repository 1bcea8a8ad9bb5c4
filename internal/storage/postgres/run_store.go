// Package postgres provides Postgres-backed persistence for runs and payload
// records.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunStoreConfig controls the Postgres connection pool.
type RunStoreConfig struct {
	DSN             string
	PayloadTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore persists run lifecycle rows and payload records.
type RunStore struct {
	pool         pgxPool
	payloadTable string
	clock        scrape.Clock
}

// NewRunStore connects a pool from the config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig, clock scrape.Clock) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRunStoreWithPool(pool, cfg.PayloadTable, clock)
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewRunStoreWithPool(pool pgxPool, payloadTable string, clock scrape.Clock) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if payloadTable == "" {
		payloadTable = "payloads"
	}
	if !validTableName.MatchString(payloadTable) {
		return nil, fmt.Errorf("invalid table name %q", payloadTable)
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &RunStore{pool: pool, payloadTable: payloadTable, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts the run in its initial state.
func (s *RunStore) CreateRun(ctx context.Context, run scrape.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO runs (
	id, status, state, county, start_date, end_date, record_type, submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID,
		string(run.Status),
		run.Request.State,
		run.Request.County,
		run.Request.StartDate,
		run.Request.EndDate,
		run.Request.RecordType,
		run.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus moves the run through its lifecycle. The started timestamp
// is stamped when the run begins; the finished timestamp when it reaches a
// terminal status.
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID string, status scrape.RunStatus, errText string, counters scrape.RunCounters) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	now := s.clock.Now().UTC()

	var tag pgconn.CommandTag
	var err error
	switch status {
	case scrape.RunStatusRunning:
		tag, err = s.pool.Exec(ctx, `
UPDATE runs SET status=$2, started_at=$3 WHERE id=$1`,
			runID, string(status), now)
	case scrape.RunStatusSucceeded, scrape.RunStatusFailed, scrape.RunStatusCanceled:
		tag, err = s.pool.Exec(ctx, `
UPDATE runs SET status=$2, error_text=$3, finished_at=$4,
	solve_attempts=$5, pages_fetched=$6, payload_bytes=$7
WHERE id=$1`,
			runID, string(status), errText, now,
			counters.SolveAttempts, counters.PagesFetched, counters.PayloadBytes)
	default:
		tag, err = s.pool.Exec(ctx, `
UPDATE runs SET status=$2 WHERE id=$1`, runID, string(status))
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run status: %w", ErrRunNotFound)
	}
	return nil
}

// RecordPayload inserts one payload record.
func (s *RunStore) RecordPayload(ctx context.Context, rec scrape.PayloadRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, state, county, start_date, end_date,
	fetched_at, content_hash, blob_uri, size_bytes
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, s.payloadTable)

	_, err := s.pool.Exec(ctx, query,
		rec.RunID,
		rec.Request.State,
		rec.Request.County,
		rec.Request.StartDate,
		rec.Request.EndDate,
		rec.FetchedAt,
		rec.ContentHash,
		rec.BlobURI,
		rec.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("insert payload record: %w", err)
	}
	return nil
}

// GetRun loads one run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (scrape.Run, error) {
	if runID == "" {
		return scrape.Run{}, fmt.Errorf("run id is required")
	}

	var (
		run      scrape.Run
		status   string
		started  *time.Time
		finished *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, status, state, county, start_date, end_date, record_type,
	submitted_at, started_at, finished_at, error_text,
	solve_attempts, pages_fetched, payload_bytes
FROM runs WHERE id=$1`, runID).Scan(
		&run.ID,
		&status,
		&run.Request.State,
		&run.Request.County,
		&run.Request.StartDate,
		&run.Request.EndDate,
		&run.Request.RecordType,
		&run.Submitted,
		&started,
		&finished,
		&run.ErrorText,
		&run.Counters.SolveAttempts,
		&run.Counters.PagesFetched,
		&run.Counters.PayloadBytes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Run{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return scrape.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Status = scrape.RunStatus(status)
	run.Started = started
	run.Finished = finished
	return run, nil
}
