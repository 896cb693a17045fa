// Package db provides database connectivity and migration logic for ngmend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ngmend/ngmend/internal/model"
)

// Store persists upgrade runs, their build attempts and every fix applied.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID, projectDir, targetVersion string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, project_dir, target_version, status)
		VALUES(?, ?, ?, ?, ?)`,
		runID, now(), projectDir, targetVersion, "running"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := insertEvent(ctx, tx, runID, "run_started", "upgrade run started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// AttemptRecord is one committed build attempt.
type AttemptRecord struct {
	RunID        string
	Attempt      int
	StartedAt    string
	EndedAt      string
	ErrorCount   int
	BuildSuccess bool
}

// FixRecord is one fix attempt tied to the error it addressed.
type FixRecord struct {
	Attempt        int
	Category       string
	File           string
	Line           int
	Message        string
	FixedBy        string
	Success        bool
	Confidence     float64
	RequiresManual bool
	Suggestion     string
}

// Event is one timeline entry for a run.
type Event struct {
	Type     string
	Message  string
	DataJSON string
}

// CommitAttempt stores the attempt, its fixes and any events in one
// transaction, and bumps the run's attempt counter.
func (s *Store) CommitAttempt(ctx context.Context, rec AttemptRecord, fixes []FixRecord, events []Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit attempt: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO attempts(run_id, attempt, started_at, ended_at, error_count, build_success)
		VALUES(?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Attempt, rec.StartedAt, rec.EndedAt, rec.ErrorCount, rec.BuildSuccess); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert attempt: %w", err)
	}
	for _, fix := range fixes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO fixes(run_id, attempt, category, file, line, message, fixed_by, success, confidence, requires_manual, suggestion)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, fix.Attempt, fix.Category, fix.File, fix.Line, fix.Message, fix.FixedBy, fix.Success, fix.Confidence, fix.RequiresManual, fix.Suggestion); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert fix: %w", err)
		}
	}
	for _, ev := range events {
		if err := insertEvent(ctx, tx, rec.RunID, ev.Type, ev.Message, ev.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET attempts=? WHERE run_id=?`, rec.Attempt, rec.RunID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

// FinishRun records the final status, rollback flag and cache counters.
func (s *Store) FinishRun(ctx context.Context, runID, status string, rolledBack bool, cache model.CacheStats) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, rolled_back=?, cache_hits=?, cache_misses=? WHERE run_id=?`,
		status, rolledBack, cache.Hits, cache.Misses, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("finish run: %w", err)
	}
	if err := insertEvent(ctx, tx, runID, "run_finished", "upgrade run "+status, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	var data any
	if dataJSON != "" {
		data = dataJSON
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq+1, now(), typ, message, data); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RunSummary is one row of the runs listing.
type RunSummary struct {
	RunID         string
	CreatedAt     string
	TargetVersion string
	Status        string
	Attempts      int
	RolledBack    bool
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, created_at, target_version, status, attempts, rolled_back
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.CreatedAt, &r.TargetVersion, &r.Status, &r.Attempts, &r.RolledBack); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run's summary row.
func (s *Store) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, created_at, target_version, status, attempts, rolled_back
		FROM runs WHERE run_id=?`, runID)
	var r RunSummary
	if err := row.Scan(&r.RunID, &r.CreatedAt, &r.TargetVersion, &r.Status, &r.Attempts, &r.RolledBack); err != nil {
		if err == sql.ErrNoRows {
			return RunSummary{}, fmt.Errorf("run %s not found", runID)
		}
		return RunSummary{}, fmt.Errorf("read run: %w", err)
	}
	return r, nil
}

// LatestRun returns the newest run, if any.
func (s *Store) LatestRun(ctx context.Context) (RunSummary, bool, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return RunSummary{}, false, err
	}
	if len(runs) == 0 {
		return RunSummary{}, false, nil
	}
	return runs[0], true, nil
}

// GetRunStatus returns the status for a run id, or empty if missing.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

// RunFixes returns every fix recorded for a run, in application order.
func (s *Store) RunFixes(ctx context.Context, runID string) ([]FixRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt, category, file, line, message, fixed_by, success, confidence, requires_manual, suggestion
		FROM fixes WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list fixes: %w", err)
	}
	defer rows.Close()

	var out []FixRecord
	for rows.Next() {
		var f FixRecord
		if err := rows.Scan(&f.Attempt, &f.Category, &f.File, &f.Line, &f.Message, &f.FixedBy, &f.Success, &f.Confidence, &f.RequiresManual, &f.Suggestion); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PruneRuns deletes the oldest runs past the retention count. Attempts,
// fixes and events cascade.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id NOT IN (
		SELECT run_id FROM runs ORDER BY created_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneRunsOlderThan deletes runs created before the cutoff.
func (s *Store) PruneRunsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune runs by age: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
