package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"fxrange/internal/domain"
	"fxrange/internal/strategy"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Compile-time interface check.
var _ ResultStore = (*SQLStore)(nil)

// SQLStore implements ResultStore on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// RunRecord is one row of backtest_runs.
type RunRecord struct {
	ID         string    `db:"id"`
	Strategy   string    `db:"strategy"`
	Window     int       `db:"window_size"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Series     int       `db:"series"`
	Failures   int       `db:"failures"`
}

// ResultRecord is one row of backtest_results. Sharpe is NULL when the
// ratio is undefined.
type ResultRecord struct {
	RunID            string          `db:"run_id"`
	SeriesKey        string          `db:"series_key"`
	Instrument       string          `db:"instrument"`
	Timeframe        string          `db:"timeframe"`
	Bars             int             `db:"bars"`
	TradeCount       int             `db:"trade_count"`
	TotalReturn      float64         `db:"total_return"`
	AnnualizedReturn float64         `db:"annualized_return"`
	Sharpe           sql.NullFloat64 `db:"sharpe"`
	SharpeDefined    bool            `db:"sharpe_defined"`
	MaxDrawdown      float64         `db:"max_drawdown"`
	Error            string          `db:"error_message"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id          TEXT PRIMARY KEY,
		strategy    TEXT NOT NULL,
		window_size INTEGER NOT NULL,
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		series      INTEGER NOT NULL,
		failures    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_results (
		run_id            TEXT NOT NULL REFERENCES backtest_runs(id),
		series_key        TEXT NOT NULL,
		instrument        TEXT NOT NULL,
		timeframe         TEXT NOT NULL,
		bars              INTEGER NOT NULL,
		trade_count       INTEGER NOT NULL,
		total_return      DOUBLE PRECISION NOT NULL,
		annualized_return DOUBLE PRECISION NOT NULL,
		sharpe            DOUBLE PRECISION,
		sharpe_defined    BOOLEAN NOT NULL,
		max_drawdown      DOUBLE PRECISION NOT NULL,
		error_message     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, series_key)
	)`,
	`CREATE INDEX IF NOT EXISTS backtest_runs_started_at ON backtest_runs (started_at)`,
}

// OpenSQLStore opens driver ("sqlite" or "postgres") at dsn and creates the
// tables if needed.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported sql driver %q: %w", driver, domain.ErrConfiguration)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite: one writer at a time.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// SaveRun stores the run header and every result in one transaction.
func (s *SQLStore) SaveRun(ctx context.Context, run *strategy.Run) error {
	results := run.Results.All()
	rec := RunRecord{
		ID:         run.ID,
		Strategy:   run.Strategy,
		Window:     run.Window,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Series:     len(results),
		Failures:   len(run.Results.Failures()),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO backtest_runs (id, strategy, window_size, started_at, finished_at, series, failures)
		VALUES (:id, :strategy, :window_size, :started_at, :finished_at, :series, :failures)`, rec); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for _, r := range results {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO backtest_results (run_id, series_key, instrument, timeframe, bars, trade_count,
				total_return, annualized_return, sharpe, sharpe_defined, max_drawdown, error_message)
			VALUES (:run_id, :series_key, :instrument, :timeframe, :bars, :trade_count,
				:total_return, :annualized_return, :sharpe, :sharpe_defined, :max_drawdown, :error_message)`,
			resultRecord(run.ID, r)); err != nil {
			return fmt.Errorf("inserting result %s: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

// LatestRun returns the most recently started run, or nil when none exist.
func (s *SQLStore) LatestRun(ctx context.Context) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM backtest_runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunRecord
	err := s.db.SelectContext(ctx, &runs,
		s.db.Rebind(`SELECT * FROM backtest_runs ORDER BY started_at DESC LIMIT ?`), limit)
	return runs, err
}

// ListResults returns the results of one run ordered by series key.
func (s *SQLStore) ListResults(ctx context.Context, runID string) ([]ResultRecord, error) {
	var results []ResultRecord
	err := s.db.SelectContext(ctx, &results,
		s.db.Rebind(`SELECT * FROM backtest_results WHERE run_id = ? ORDER BY series_key`), runID)
	return results, err
}

func resultRecord(runID string, r strategy.Result) ResultRecord {
	rec := ResultRecord{RunID: runID, SeriesKey: r.Key}
	rec.Instrument, rec.Timeframe = splitKey(r.Key)
	if r.Err != nil {
		rec.Error = r.Err.Error()
		return rec
	}
	m := r.Metrics
	rec.Timeframe = m.Timeframe
	rec.Bars = m.Bars
	rec.TradeCount = m.TradeCount
	rec.TotalReturn = m.TotalReturn
	rec.AnnualizedReturn = m.AnnualizedReturn
	rec.MaxDrawdown = m.MaxDrawdown
	rec.SharpeDefined = m.Sharpe.Defined
	if m.Sharpe.Defined {
		rec.Sharpe = sql.NullFloat64{Float64: m.Sharpe.Value, Valid: true}
	}
	return rec
}

func splitKey(key string) (instrument, tf string) {
	idx := strings.LastIndex(key, "_")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
