package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists batch results to PostgreSQL and serves the run history.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and returns a ready store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
        id              TEXT PRIMARY KEY,
        started_at      TIMESTAMPTZ NOT NULL,
        finished_at     TIMESTAMPTZ NOT NULL,
        vcs_commit      TEXT,
        vcs_branch      TEXT,
        vcs_dirty       BOOLEAN,
        total_scenarios INTEGER NOT NULL,
        passed          INTEGER NOT NULL,
        failed          INTEGER NOT NULL,
        violations      INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS scenario_reports (
        run_id      TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
        ordinal     INTEGER NOT NULL,
        scenario    TEXT NOT NULL,
        url         TEXT NOT NULL,
        started_at  TIMESTAMPTZ NOT NULL,
        duration_ms DOUBLE PRECISION NOT NULL,
        error       TEXT,
        report      JSONB NOT NULL,
        PRIMARY KEY (run_id, ordinal)
    );`,
	`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);`,
}

// EnsureSchema creates the history tables when they do not exist yet.
// Statements are idempotent, so running it on every start is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i+1, err)
		}
	}
	s.log.Debug("History schema ensured.")
	return nil
}

const insertRunSQL = `
        INSERT INTO runs (id, started_at, finished_at, vcs_commit, vcs_branch, vcs_dirty, total_scenarios, passed, failed, violations)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `

var scenarioColumns = []string{"run_id", "ordinal", "scenario", "url", "started_at", "duration_ms", "error", "report"}

// SaveRun writes the batch result and its scenario reports in one transaction.
func (s *Store) SaveRun(ctx context.Context, result *schemas.BatchResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed, which is fine.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Transaction rollback failed.", zap.Error(rollbackErr))
		}
	}()

	var commit, branch *string
	var dirty *bool
	if result.VCS != nil {
		commit = &result.VCS.Commit
		dirty = &result.VCS.Dirty
		if result.VCS.Branch != "" {
			branch = &result.VCS.Branch
		}
	}

	_, err = tx.Exec(ctx, insertRunSQL,
		result.RunID,
		result.StartedAt.UTC(),
		result.FinishedAt.UTC(),
		commit, branch, dirty,
		result.Summary.TotalScenarios,
		result.Summary.Passed,
		result.Summary.Failed,
		len(result.Summary.BudgetViolations),
	)
	if err != nil {
		return fmt.Errorf("inserting run row: %w", err)
	}

	rows, err := scenarioRows(result)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"scenario_reports"}, scenarioColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying scenario rows: %w", err)
		}
		if int(copied) != len(rows) {
			return fmt.Errorf("scenario row count mismatch: expected %d, copied %d", len(rows), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.log.Info("Run persisted.",
		zap.String("run_id", result.RunID),
		zap.Int("scenarios", len(rows)))
	return nil
}

// scenarioRows flattens completed reports and failures into copy rows.
// Ordinals run across both so (run_id, ordinal) stays unique; failures keep
// the error column set and carry the failure record as their payload.
func scenarioRows(result *schemas.BatchResult) ([][]any, error) {
	rows := make([][]any, 0, len(result.Reports)+len(result.Failures))
	for _, rep := range result.Reports {
		payload, err := json.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("encoding scenario report %q: %w", rep.Scenario, err)
		}
		rows = append(rows, []any{
			result.RunID, len(rows),
			rep.Scenario, rep.URL,
			rep.Timestamp.UTC(), rep.DurationMs,
			(*string)(nil),
			payload,
		})
	}
	for _, f := range result.Failures {
		payload, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encoding scenario failure %q: %w", f.Scenario, err)
		}
		rows = append(rows, []any{
			result.RunID, len(rows),
			f.Scenario, f.URL,
			f.Timestamp.UTC(), f.DurationMs,
			nullableText(f.Error),
			payload,
		})
	}
	return rows, nil
}

// RunRow is one line of run history.
type RunRow struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Commit         string
	Branch         string
	Dirty          bool
	TotalScenarios int
	Passed         int
	Failed         int
	Violations     int
}

const recentRunsSQL = `
        SELECT id, started_at, finished_at, vcs_commit, vcs_branch, vcs_dirty, total_scenarios, passed, failed, violations
        FROM runs
        ORDER BY started_at DESC
        LIMIT $1;
    `

// RecentRuns returns the newest runs first. A non-positive limit defaults to 20.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		var commit, branch *string
		var dirty *bool

		err := rows.Scan(
			&r.ID, &r.StartedAt, &r.FinishedAt,
			&commit, &branch, &dirty,
			&r.TotalScenarios, &r.Passed, &r.Failed, &r.Violations,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}

		if commit != nil {
			r.Commit = *commit
		}
		if branch != nil {
			r.Branch = *branch
		}
		if dirty != nil {
			r.Dirty = *dirty
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run history: %w", err)
	}

	return runs, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
